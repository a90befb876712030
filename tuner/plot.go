package tuner

import (
	"errors"
	"fmt"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoHistory is returned when plotting a run with no evaluations
var ErrNoHistory = errors.New("no evaluations to plot")

// PlotFilename is the convergence plot name for a profile
func PlotFilename(dir, profile string) string {
	return filepath.Join(dir, fmt.Sprintf("convergence_%s.png", profile))
}

// PlotConvergence renders the best score so far against the call number
// and every individual score as points, and saves it as a PNG
func PlotConvergence(path string, p Profile, history []float64) error {
	if len(history) == 0 {
		return ErrNoHistory
	}
	best := BestSoFar(history)
	bestXY := make(plotter.XYs, len(best))
	allXY := make(plotter.XYs, len(history))
	for i := range history {
		bestXY[i].X = float64(i + 1)
		bestXY[i].Y = best[i]
		allXY[i].X = float64(i + 1)
		allXY[i].Y = history[i]
	}

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Convergence for %s (Target=%g°C)", p.Name, p.Target)
	pl.X.Label.Text = "Number of calls"
	pl.Y.Label.Text = "Best Score (Avg. Error)"
	pl.Add(plotter.NewGrid())

	line, err := plotter.NewLine(bestXY)
	if err != nil {
		return err
	}
	pts, err := plotter.NewScatter(allXY)
	if err != nil {
		return err
	}
	pts.GlyphStyle.Radius = vg.Points(2)
	pl.Add(line, pts)
	pl.Legend.Add("best so far", line)
	pl.Legend.Add("score", pts)
	return pl.Save(6*vg.Inch, 4*vg.Inch, path)
}
