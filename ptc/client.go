/*Package ptc talks to the chamber controller's msh console from the tuning
harness side.

The console is line oriented and has no framing beyond the "msh >" prompt
printed when a command finishes.  Commands that only set something are sent
without reading a reply (the input buffer is flushed before each command, as
the harness never needs their echo); queries read until the prompt.
*/
package ptc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ptcchamber/chamberlab/chamber"
	"github.com/ptcchamber/chamberlab/comm"
	"github.com/ptcchamber/chamberlab/temperature"
)

const (
	// Prompt ends every response burst of the console
	Prompt = "msh >"

	// ResultPrefix starts the line carrying an evaluation score
	ResultPrefix = "EVAL_RESULT:"

	// DefaultReplyTimeout bounds a query such as get_status
	DefaultReplyTimeout = time.Second

	// DefaultPacing is the minimum spacing between commands
	DefaultPacing = 50 * time.Millisecond
)

var (
	// ErrNoReading is returned when a status reply lacks a temperature
	ErrNoReading = errors.New("no temperature reading in status")

	// ErrNoPrompt is returned when the prompt did not arrive before the timeout
	ErrNoPrompt = errors.New("prompt not seen before timeout")

	// ErrNoResult is returned when no EVAL_RESULT arrived in time
	ErrNoResult = errors.New("no EVAL_RESULT received")

	// ErrBadResult is returned when an EVAL_RESULT line cannot be parsed
	ErrBadResult = errors.New("malformed EVAL_RESULT")

	ptcRe = regexp.MustCompile(`PTC\s*Temp:[ \t]*([-+]?[\d.]+[ \t]*°?[ \t]*[CFK]?)`)
	boxRe = regexp.MustCompile(`Box\s*Temp:[ \t]*([-+]?[\d.]+[ \t]*°?[ \t]*[CFK]?)`)
)

// Conn is a line-oriented connection to the console.  *comm.RemoteDevice
// satisfies it.
type Conn interface {
	Send([]byte) error
	ReadLine(ctx context.Context, timeout time.Duration) (string, error)
	Flush() int
	Close() error
}

// Client issues console commands
type Client struct {
	conn    Conn
	limiter *rate.Limiter
	log     logrus.FieldLogger

	// ReplyTimeout bounds Query
	ReplyTimeout time.Duration
}

// New wraps conn.  pacing <= 0 disables pacing.
func New(conn Conn, pacing time.Duration, log logrus.FieldLogger) *Client {
	lim := rate.NewLimiter(rate.Inf, 1)
	if pacing > 0 {
		lim = rate.NewLimiter(rate.Every(pacing), 1)
	}
	return &Client{
		conn:         conn,
		limiter:      lim,
		log:          log,
		ReplyTimeout: DefaultReplyTimeout,
	}
}

// Close closes the underlying connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Command discards pending input and sends cmd without reading a reply
func (c *Client) Command(ctx context.Context, cmd string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if n := c.conn.Flush(); n > 0 {
		c.log.WithField("lines", n).Trace("flushed input")
	}
	c.log.WithField("cmd", cmd).Debug("send")
	if err := c.conn.Send([]byte(cmd)); err != nil {
		return fmt.Errorf("send %q: %w", cmd, err)
	}
	return nil
}

// Query sends cmd and collects non-empty reply lines until the prompt.
// If the prompt does not arrive within ReplyTimeout the lines read so far
// are returned with ErrNoPrompt.
func (c *Client) Query(ctx context.Context, cmd string) ([]string, error) {
	return c.QueryWithin(ctx, cmd, c.ReplyTimeout)
}

// QueryWithin is Query with an explicit timeout
func (c *Client) QueryWithin(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	if err := c.Command(ctx, cmd); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	var lines []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lines, ErrNoPrompt
		}
		line, err := c.conn.ReadLine(ctx, remaining)
		if errors.Is(err, comm.ErrTimeout) {
			return lines, ErrNoPrompt
		}
		if err != nil {
			return lines, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.Contains(line, Prompt) {
			return lines, nil
		}
		lines = append(lines, line)
	}
}

// SetGain sends "tune heat <name> <v>", name is kp, ki or kd
func (c *Client) SetGain(ctx context.Context, name string, v float64) error {
	return c.Command(ctx, fmt.Sprintf("tune heat %s %.6f", name, v))
}

// SetGains sets all three heating gains
func (c *Client) SetGains(ctx context.Context, g chamber.Gains) error {
	for _, kv := range []struct {
		name string
		v    float64
	}{{"kp", g.Kp}, {"ki", g.Ki}, {"kd", g.Kd}} {
		if err := c.SetGain(ctx, kv.name, kv.v); err != nil {
			return err
		}
	}
	return nil
}

// SetTarget sends "tune target <v>"
func (c *Client) SetTarget(ctx context.Context, v float64) error {
	return c.Command(ctx, "tune target "+formatFloat(v))
}

// ForceState sends "force_state <state>", state is cooling, warming or heating
func (c *Client) ForceState(ctx context.Context, state string) error {
	return c.Command(ctx, "force_state "+state)
}

// ReadTemps queries get_status and returns the PTC element and box
// temperatures in C
func (c *Client) ReadTemps(ctx context.Context) (ptc, box float64, err error) {
	lines, err := c.Query(ctx, "get_status")
	if err != nil && !errors.Is(err, ErrNoPrompt) {
		return 0, 0, err
	}
	return ParseTemps(lines)
}

// ParseTemps extracts "PTC Temp:" and "Box Temp:" readings from status lines
func ParseTemps(lines []string) (ptc, box float64, err error) {
	text := strings.Join(lines, "\n")
	p, err := match(ptcRe, text)
	if err != nil {
		return 0, 0, err
	}
	b, err := match(boxRe, text)
	if err != nil {
		return 0, 0, err
	}
	return p, b, nil
}

func match(re *regexp.Regexp, text string) (float64, error) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, ErrNoReading
	}
	c, err := temperature.ParseCelsius(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoReading, err)
	}
	return float64(c), nil
}

// StartEval sends "eval_ptc <target> <duration_ms>"
func (c *Client) StartEval(ctx context.Context, target float64, d time.Duration) error {
	return c.Command(ctx, fmt.Sprintf("eval_ptc %s %d", formatFloat(target), d.Milliseconds()))
}

// AwaitResult reads lines until an EVAL_RESULT line or until within elapses
func (c *Client) AwaitResult(ctx context.Context, within time.Duration) (float64, error) {
	deadline := time.Now().Add(within)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, ErrNoResult
		}
		line, err := c.conn.ReadLine(ctx, remaining)
		if errors.Is(err, comm.ErrTimeout) {
			return 0, ErrNoResult
		}
		if err != nil {
			return 0, err
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, ResultPrefix) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(line, ResultPrefix)), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadResult, line)
		}
		return v, nil
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
