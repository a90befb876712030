package tuner

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultBudget is the number of evaluations per profile
const DefaultBudget = 50

// Driver runs the optimization for each profile in turn
type Driver struct {
	Dev       Device
	Store     *Store
	Optimizer Optimizer
	Resetter  *Resetter
	Progress  Progress

	// Budget is the number of evaluations per profile
	Budget int
	// EvalDuration is the eval_ptc window
	EvalDuration time.Duration
	// PlotDir receives the convergence plots; empty disables plotting
	PlotDir string
	// Out receives the final C table
	Out io.Writer

	Log logrus.FieldLogger
}

// Run optimizes every profile not already in the store, checkpointing after
// each, then prints the C table and saves the store.  A cancelled ctx stops
// the run between or during profiles; completed profiles stay saved.
func (d *Driver) Run(ctx context.Context, profiles []Profile) error {
	for _, p := range profiles {
		l := d.Log.WithField("profile", p.Name)
		if d.Store.Has(p.Name) {
			l.WithField("file", d.Store.Path).Info("skipping, already in results")
			continue
		}
		res, history, err := d.optimize(ctx, p, l)
		if err != nil {
			return fmt.Errorf("profile %s: %w", p.Name, err)
		}
		d.Store.Put(p.Name, res)
		if err := d.Store.Save(); err != nil {
			return fmt.Errorf("checkpoint %s: %w", p.Name, err)
		}
		l.WithField("best", res.BestParams).WithField("score", res.BestScore).Info("checkpoint saved")

		if d.PlotDir != "" {
			path := PlotFilename(d.PlotDir, p.Name)
			if err := PlotConvergence(path, p, history); err != nil {
				l.WithError(err).Warn("convergence plot failed")
			} else {
				l.WithField("file", path).Info("convergence plot saved")
			}
		}
	}

	if d.Out != nil {
		fmt.Fprintln(d.Out, "Final Gain Scheduling Parameters (C-Code):")
		fmt.Fprintln(d.Out)
		fmt.Fprintln(d.Out, CTable(d.Store.Results))
	}
	if err := d.Store.Save(); err != nil {
		return err
	}
	d.Log.WithField("file", d.Store.Path).Info("final results saved")
	return nil
}

func (d *Driver) optimize(ctx context.Context, p Profile, l logrus.FieldLogger) (Result, []float64, error) {
	budget := d.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	progress := d.Progress
	if progress == nil {
		progress = NopProgress{}
	}
	obj := &Objective{
		Dev:      d.Dev,
		Reset:    d.Resetter,
		Target:   p.Target,
		Duration: d.EvalDuration,
		Grace:    Grace,
		Log:      l,
	}

	call := 0
	best := math.Inf(1)
	f := func(x []float64) float64 {
		g := FromVector(x)
		v := obj.Evaluate(ctx, g)
		call++
		best = math.Min(best, v)
		progress.Step(call, fmt.Sprintf("Kp=%.6f, Ki=%.6f, Kd=%.6f", g.Kp, g.Ki, g.Kd), v, best)
		return v
	}

	l.WithField("target", p.Target).WithField("budget", budget).Info("optimizing")
	progress.Start(p.Name, budget)
	sol, err := d.Optimizer.Minimize(ctx, f, p.Lower(), p.Upper(), Vector(p.Seed), budget)
	progress.Stop(err == nil)
	if err != nil {
		return Result{}, sol.History, err
	}
	if len(sol.X) == 0 {
		return Result{}, nil, ErrNoHistory
	}
	return Result{
		TargetTemp: p.Target,
		BestScore:  sol.F,
		BestParams: FromVector(sol.X),
	}, sol.History, nil
}
