package simsrv

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptcchamber/chamberlab/chamber"
)

// recorder is a Sender that keeps every frame as decoded JSON
type recorder struct {
	mu     sync.Mutex
	frames []map[string]interface{}
	fail   error
}

func (r *recorder) WriteJSON(v interface{}) error {
	if r.fail != nil {
		return r.fail
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
	return nil
}

func (r *recorder) snapshot() []map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]interface{}, len(r.frames))
	copy(out, r.frames)
	return out
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func TestSessionTicks(t *testing.T) {
	rec := &recorder{}
	s := NewSession("t", rec, 5*time.Millisecond, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- s.Run(ctx, make(chan string)) }()

	assert.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	for _, f := range rec.snapshot() {
		assert.Contains(t, f, "current_temperature")
		assert.Contains(t, f, "btm_ptc_state")
	}
}

func TestSessionCommandResponseOrder(t *testing.T) {
	rec := &recorder{}
	// an hour-long interval keeps ticks out of the way
	s := NewSession("t", rec, time.Hour, quietLogger())
	inbound := make(chan string)
	done := make(chan error)
	go func() { done <- s.Run(context.Background(), inbound) }()

	inbound <- "pid_tune -t 50"
	inbound <- ""
	close(inbound)
	require.NoError(t, <-done)

	frames := rec.snapshot()
	require.Len(t, frames, 4)
	assert.Contains(t, frames[0], "current_temperature", "status on connect")
	assert.Equal(t, []interface{}{"Target temperature changed. Re-scheduling PID gains..."}, frames[1]["console"])
	assert.Contains(t, frames[1], "timestamp")
	assert.Equal(t, []interface{}{"Parameters updated. Current status:"}, frames[2]["console"])
	assert.Equal(t, 0.08, frames[3]["pid_kp"])
	assert.Equal(t, 50.0, frames[3]["target_temperature"])
}

func TestSessionSendsStatusOnConnect(t *testing.T) {
	rec := &recorder{}
	s := NewSession("t", rec, time.Hour, quietLogger())
	inbound := make(chan string)
	close(inbound)
	require.NoError(t, s.Run(context.Background(), inbound))

	frames := rec.snapshot()
	require.Len(t, frames, 1)
	assert.Contains(t, frames[0], "fan_speed")
	assert.Equal(t, 37.0, frames[0]["target_temperature"])
}

type statusMirror struct {
	mu  sync.Mutex
	got []chamber.Status
}

func (m *statusMirror) Publish(_ string, st chamber.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, st)
}

func (m *statusMirror) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.got)
}

func TestSessionMirrorsTicks(t *testing.T) {
	m := &statusMirror{}
	s := NewSession("t", &recorder{}, 5*time.Millisecond, quietLogger())
	s.mirror = m
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx, nil)
	assert.Eventually(t, func() bool { return m.count() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSessionEndsOnSendFailure(t *testing.T) {
	broken := errors.New("broken pipe")
	s := NewSession("t", &recorder{fail: broken}, 5*time.Millisecond, quietLogger())
	err := s.Run(context.Background(), nil)
	assert.True(t, errors.Is(err, broken))
}
