package tuner

import (
	"context"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/ptcchamber/chamberlab/util"
)

// Solution is the outcome of a search
type Solution struct {
	// X is the best point, inside the bounds
	X []float64
	// F is f(X)
	F float64
	// History holds every evaluated value in call order
	History []float64
}

// Optimizer minimizes f over the box [lower, upper] starting from x0 using
// at most budget evaluations
type Optimizer interface {
	Minimize(ctx context.Context, f func([]float64) float64, lower, upper, x0 []float64, budget int) (Solution, error)
}

// NelderMead searches with a downhill simplex in the box scaled to the unit
// cube.  Points the simplex proposes outside the cube are projected onto it.
type NelderMead struct {
	// SimplexSize is the initial simplex edge in unit-cube coordinates
	SimplexSize float64
}

// Minimize implements Optimizer
func (nm NelderMead) Minimize(ctx context.Context, f func([]float64) float64, lower, upper, x0 []float64, budget int) (Solution, error) {
	n := len(lower)
	toBox := func(z []float64) []float64 {
		x := make([]float64, n)
		for i := range z {
			x[i] = lower[i] + util.Clamp(z[i], 0, 1)*(upper[i]-lower[i])
		}
		return x
	}
	z0 := make([]float64, n)
	for i := range x0 {
		if span := upper[i] - lower[i]; span > 0 {
			z0[i] = util.Clamp((x0[i]-lower[i])/span, 0, 1)
		}
	}

	sol := Solution{F: math.Inf(1)}
	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			if len(sol.History) >= budget || ctx.Err() != nil {
				return math.Inf(1)
			}
			x := toBox(z)
			v := f(x)
			sol.History = append(sol.History, v)
			if v < sol.F {
				sol.F = v
				sol.X = x
			}
			return v
		},
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: budget,
		Converger:       optimize.NeverTerminate{},
	}
	size := nm.SimplexSize
	if size == 0 {
		size = 0.2
	}
	_, err := optimize.Minimize(problem, z0, settings, &optimize.NelderMead{SimplexSize: size})
	if ctx.Err() != nil {
		return sol, ctx.Err()
	}
	if err != nil && len(sol.History) == 0 {
		return sol, err
	}
	return sol, nil
}

// BestSoFar returns the running minimum of history
func BestSoFar(history []float64) []float64 {
	out := make([]float64, len(history))
	best := math.Inf(1)
	for i, v := range history {
		best = math.Min(best, v)
		out[i] = best
	}
	return out
}
