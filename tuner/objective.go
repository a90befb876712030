package tuner

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ptcchamber/chamberlab/chamber"
)

const (
	// Penalty is the score of a failed evaluation
	Penalty = 1e6

	// DefaultEvalDuration is the eval_ptc window
	DefaultEvalDuration = 180 * time.Second

	// Grace is added to the eval window when waiting for EVAL_RESULT
	Grace = 10 * time.Second
)

// Objective scores one set of gains on the device at Target
type Objective struct {
	Dev      Device
	Reset    *Resetter
	Target   float64
	Duration time.Duration
	Grace    time.Duration
	Log      logrus.FieldLogger
}

// Evaluate returns the mean absolute error reported by the device, or
// Penalty when anything goes wrong.  It never returns an error; the search
// carries on past a bad evaluation.
func (o *Objective) Evaluate(ctx context.Context, g chamber.Gains) float64 {
	l := o.Log.WithField("gains", g)
	if err := o.Reset.Reset(ctx); err != nil {
		l.WithError(err).Warn("reset failed")
		return Penalty
	}
	if err := o.Dev.SetGains(ctx, g); err != nil {
		l.WithError(err).Warn("setting gains failed")
		return Penalty
	}
	if err := o.Dev.StartEval(ctx, o.Target, o.Duration); err != nil {
		l.WithError(err).Warn("starting evaluation failed")
		return Penalty
	}
	v, err := o.Dev.AwaitResult(ctx, o.Duration+o.Grace)
	if err != nil {
		l.WithError(err).Warn("evaluation failed")
		return Penalty
	}
	if v <= 0 {
		l.WithField("score", v).Warn("non-positive score")
		return Penalty
	}
	l.WithField("score", v).Info("evaluated")
	return v
}
