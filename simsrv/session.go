package simsrv

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ptcchamber/chamberlab/chamber"
)

// Sender writes one JSON message to the client.
// *websocket.Conn satisfies it through WriteJSON.
type Sender interface {
	WriteJSON(v interface{}) error
}

// Session is one client's private simulation.  Run owns the simulator and
// the sender; nothing else may touch either while it runs.
type Session struct {
	ID string

	sim      *chamber.Simulator
	interp   *chamber.Interpreter
	out      Sender
	interval time.Duration
	start    time.Time

	metrics *Metrics
	mirror  Mirror
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewSession creates a session with a fresh simulator
func NewSession(id string, out Sender, interval time.Duration, log logrus.FieldLogger, opts ...chamber.Option) *Session {
	start := time.Now()
	sim := chamber.New(start, opts...)
	return &Session{
		ID:       id,
		sim:      sim,
		interp:   chamber.NewInterpreter(sim),
		out:      out,
		interval: interval,
		start:    start,
		metrics:  NewMetrics(),
		mirror:   nopMirror{},
		log:      log.WithField("session", id),
		now:      time.Now,
	}
}

// Run sends a status at once, then ticks the simulator every interval and
// executes commands from inbound until ctx is done, inbound is closed, or a
// send fails.  A send failure is returned; the other two return nil.
func (s *Session) Run(ctx context.Context, inbound <-chan string) error {
	if err := s.tick(); err != nil {
		return err
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-inbound:
			if !ok {
				return nil
			}
			if err := s.handle(line); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.tick(); err != nil {
				return err
			}
		}
	}
}

func (s *Session) tick() error {
	s.sim.Step(s.now())
	st := s.sim.Status()
	if err := s.out.WriteJSON(st); err != nil {
		return fmt.Errorf("send status: %w", err)
	}
	s.metrics.Broadcasts.Inc()
	s.mirror.Publish(s.ID, st)
	return nil
}

func (s *Session) handle(line string) error {
	resp := s.interp.Execute(line)
	if resp.Verb == "" {
		return nil
	}
	s.metrics.Commands.WithLabelValues(resp.Verb).Inc()
	s.log.WithField("cmd", resp.Verb).Debug("command")
	for _, msg := range resp.Messages {
		var v interface{}
		if msg.Status != nil {
			v = msg.Status
		} else {
			v = chamber.NewConsole(msg.Console, s.now().Sub(s.start).Seconds())
		}
		if err := s.out.WriteJSON(v); err != nil {
			return fmt.Errorf("send response to %s: %w", resp.Verb, err)
		}
	}
	return nil
}
