package ptc

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptcchamber/chamberlab/chamber"
	"github.com/ptcchamber/chamberlab/comm"
	"github.com/ptcchamber/chamberlab/devshell"
)

// scripted is a Conn whose replies are canned per command
type scripted struct {
	mu      sync.Mutex
	sent    []string
	replies map[string][]string
	lines   chan string
	sendErr error
}

func newScripted(replies map[string][]string) *scripted {
	return &scripted{replies: replies, lines: make(chan string, 256)}
}

func (s *scripted) Send(b []byte) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	s.sent = append(s.sent, string(b))
	s.mu.Unlock()
	for _, l := range s.replies[string(b)] {
		s.lines <- l
	}
	return nil
}

func (s *scripted) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case l := <-s.lines:
		return l, nil
	case <-time.After(timeout):
		return "", comm.ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *scripted) Flush() int {
	n := 0
	for {
		select {
		case <-s.lines:
			n++
		default:
			return n
		}
	}
}

func (s *scripted) Close() error { return nil }

func (s *scripted) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func newClient(conn Conn) *Client {
	log, _ := test.NewNullLogger()
	c := New(conn, 0, log)
	c.ReplyTimeout = 100 * time.Millisecond
	return c
}

func TestParseTemps(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		ptc, box float64
	}{
		{"firmware", []string{"State:  WARMING", "Box Temp:             24.50 C", "PTC Temp:             31.25 C"}, 31.25, 24.5},
		{"compact", []string{"PTC Temp: 40", "Box Temp: -2.5"}, 40, -2.5},
		{"kelvin", []string{"PTC Temp: 300.15 K", "Box Temp: 298.15K"}, 27, 25},
		{"unitless then next line", []string{"PTC Temp: 30.00", "Fan: 2", "Box Temp: 20.00"}, 30, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ptc, box, err := ParseTemps(tt.lines)
			require.NoError(t, err)
			assert.InDelta(t, tt.ptc, ptc, 1e-9)
			assert.InDelta(t, tt.box, box, 1e-9)
		})
	}
}

func TestParseTempsMissing(t *testing.T) {
	_, _, err := ParseTemps([]string{"PTC Temp: 30.00 C"})
	assert.True(t, errors.Is(err, ErrNoReading))
	_, _, err = ParseTemps(nil)
	assert.True(t, errors.Is(err, ErrNoReading))
}

func TestReadTempsStopsAtPrompt(t *testing.T) {
	conn := newScripted(map[string][]string{
		"get_status": {"", "PTC Temp: 33.00 C", "Box Temp: 22.00 C", Prompt, "PTC Temp: 99 C"},
	})
	ptc, box, err := newClient(conn).ReadTemps(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 33.0, ptc)
	assert.Equal(t, 22.0, box)
}

func TestQueryTimesOutWithoutPrompt(t *testing.T) {
	conn := newScripted(map[string][]string{"get_status": {"PTC Temp: 33.00 C"}})
	lines, err := newClient(conn).Query(context.Background(), "get_status")
	assert.True(t, errors.Is(err, ErrNoPrompt))
	assert.Equal(t, []string{"PTC Temp: 33.00 C"}, lines)
}

func TestCommandFormatting(t *testing.T) {
	conn := newScripted(nil)
	c := newClient(conn)
	ctx := context.Background()
	require.NoError(t, c.SetGains(ctx, chamber.Gains{Kp: 0.25, Ki: 0.03, Kd: 0.1}))
	require.NoError(t, c.SetTarget(ctx, 20))
	require.NoError(t, c.ForceState(ctx, "cooling"))
	require.NoError(t, c.StartEval(ctx, 48.5, 180*time.Second))
	assert.Equal(t, []string{
		"tune heat kp 0.250000",
		"tune heat ki 0.030000",
		"tune heat kd 0.100000",
		"tune target 20",
		"force_state cooling",
		"eval_ptc 48.5 180000",
	}, conn.commands())
}

func TestCommandFlushesStaleInput(t *testing.T) {
	conn := newScripted(nil)
	conn.lines <- "stale"
	require.NoError(t, newClient(conn).Command(context.Background(), "get_status"))
	assert.Empty(t, conn.lines)
}

func TestSendErrorIsWrapped(t *testing.T) {
	conn := newScripted(nil)
	conn.sendErr = comm.ErrNotConnected
	err := newClient(conn).SetTarget(context.Background(), 20)
	assert.True(t, errors.Is(err, comm.ErrNotConnected))
}

func TestAwaitResult(t *testing.T) {
	conn := newScripted(map[string][]string{
		"eval_ptc 48 1000": {"Starting PTC evaluation: Target=48.00 C, Duration=1000 ms", "EVAL_RESULT:3.2500"},
	})
	c := newClient(conn)
	ctx := context.Background()
	require.NoError(t, c.StartEval(ctx, 48, time.Second))
	v, err := c.AwaitResult(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3.25, v)
}

func TestAwaitResultErrors(t *testing.T) {
	c := newClient(newScripted(nil))
	_, err := c.AwaitResult(context.Background(), 20*time.Millisecond)
	assert.True(t, errors.Is(err, ErrNoResult))

	conn := newScripted(nil)
	conn.lines <- "EVAL_RESULT:nan-ish"
	_, err = newClient(conn).AwaitResult(context.Background(), time.Second)
	assert.True(t, errors.Is(err, ErrBadResult))
}

func TestAgainstDeviceShell(t *testing.T) {
	log, _ := test.NewNullLogger()
	sh := devshell.New(log, chamber.WithRand(rand.New(rand.NewSource(3))))
	sh.Tick = 5 * time.Millisecond
	sh.Speedup = 100
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go sh.Run(ctx)
	go sh.Serve(ctx, ln)

	rd := comm.NewRemoteDevice(ln.Addr().String(), false)
	rd.Prompt = Prompt
	require.NoError(t, rd.Open())
	c := New(rd, 0, log)
	defer c.Close()

	// the connect banner prompt may race the first flush
	assert.Eventually(t, func() bool {
		_, _, err := c.ReadTemps(ctx)
		return err == nil
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, c.ForceState(ctx, "cooling"))
	assert.Eventually(t, func() bool { return sh.State() == devshell.Cooling }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.StartEval(ctx, 48, time.Second))
	v, err := c.AwaitResult(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Greater(t, v, 0.0)

	assert.Eventually(t, func() bool {
		lines, err := c.Query(ctx, "bogus")
		return err == nil && len(lines) > 0 && strings.HasSuffix(lines[len(lines)-1], "command not found.")
	}, 3*time.Second, 50*time.Millisecond)
}
