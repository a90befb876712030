package tuner

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/ptcchamber/chamberlab/chamber"
)

// Device is the controller console as the tuner needs it.  *ptc.Client
// satisfies it.
type Device interface {
	SetGains(ctx context.Context, g chamber.Gains) error
	SetTarget(ctx context.Context, v float64) error
	ForceState(ctx context.Context, state string) error
	ReadTemps(ctx context.Context) (ptc, box float64, err error)
	StartEval(ctx context.Context, target float64, d time.Duration) error
	AwaitResult(ctx context.Context, within time.Duration) (float64, error)
}

// Resetter brings the element back to the box temperature between
// evaluations
type Resetter struct {
	Dev Device

	// Baseline is the target set while cooling
	Baseline float64
	// Threshold is the |ptc - box| at which the element counts as cool
	Threshold float64
	// Poll is the get_status period
	Poll time.Duration
	// Timeout bounds the wait; reaching it is not an error
	Timeout time.Duration

	Log logrus.FieldLogger

	// logEvery limits the progress messages while cooling
	logEvery time.Duration
}

// NewResetter returns a Resetter with the bench defaults
func NewResetter(dev Device, log logrus.FieldLogger) *Resetter {
	return &Resetter{
		Dev:       dev,
		Baseline:  20,
		Threshold: 5,
		Poll:      time.Second,
		Timeout:   180 * time.Second,
		Log:       log,
		logEvery:  3 * time.Second,
	}
}

type notCool struct {
	ptc, box float64
}

func (e notCool) Error() string {
	return fmt.Sprintf("PTC=%.2fC Box=%.2fC |d|=%.2fC", e.ptc, e.box, math.Abs(e.ptc-e.box))
}

// Reset zeroes the heating gains, drops the target to Baseline and forces
// COOLING, then polls until the element is within Threshold of the box or
// Timeout elapses.  force_state warming is always sent on the way out, even
// when ctx was cancelled.  The returned error is non-nil only for a
// cancelled ctx or a failure to send the setup commands.
func (r *Resetter) Reset(ctx context.Context) (err error) {
	r.Log.Debug("resetting: forcing COOLING until PTC is near box temperature")
	defer func() {
		if werr := r.Dev.ForceState(context.WithoutCancel(ctx), "warming"); werr != nil && err == nil {
			err = werr
		}
	}()

	if err := r.Dev.SetGains(ctx, chamber.Gains{}); err != nil {
		return err
	}
	if err := r.Dev.SetTarget(ctx, r.Baseline); err != nil {
		return err
	}
	if err := r.Dev.ForceState(ctx, "cooling"); err != nil {
		return err
	}

	var lastLog time.Time
	op := func() error {
		ptc, box, err := r.Dev.ReadTemps(ctx)
		if err != nil {
			return err
		}
		if math.Abs(ptc-box) <= r.Threshold {
			return nil
		}
		return notCool{ptc, box}
	}
	notify := func(err error, _ time.Duration) {
		if time.Since(lastLog) < r.logEvery {
			return
		}
		lastLog = time.Now()
		r.Log.WithError(err).Info("cooling")
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     r.Poll,
		RandomizationFactor: 0,
		Multiplier:          1,
		MaxInterval:         r.Poll,
		MaxElapsedTime:      r.Timeout,
		Clock:               backoff.SystemClock,
	}
	perr := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if perr != nil {
		r.Log.WithError(perr).WithField("timeout", r.Timeout).Warn("cooling timeout, continuing anyway")
		return nil
	}
	r.Log.Debug("PTC cooled close to box temperature")
	return nil
}
