package devshell

import (
	"bufio"
	"context"
	"math"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptcchamber/chamberlab/chamber"
	"github.com/ptcchamber/chamberlab/generichttp/thermal"
)

var _ thermal.Controller = (*Shell)(nil)
var _ thermal.CoolingForcer = (*Shell)(nil)

func newShell() *Shell {
	log, _ := test.NewNullLogger()
	return New(log, chamber.WithRand(rand.New(rand.NewSource(7))))
}

func find(lines []string, prefix string) (string, bool) {
	for _, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return l, true
		}
	}
	return "", false
}

func TestGetStatusReportsBothTemperatures(t *testing.T) {
	lines, eval := newShell().Exec("get_status")
	assert.Nil(t, eval)
	ptc, ok := find(lines, "PTC Temp:")
	require.True(t, ok)
	assert.True(t, strings.HasSuffix(ptc, " C"))
	_, ok = find(lines, "Box Temp:")
	assert.True(t, ok)
	st, _ := find(lines, "State:")
	assert.Contains(t, st, "WARMING")
}

func TestTuneHeat(t *testing.T) {
	sh := newShell()
	lines, _ := sh.Exec("tune heat kp 0.5")
	assert.Equal(t, "Heat PID 'kp' set to 0.500000", lines[0])
	assert.Contains(t, lines, "Parameters updated. Current status:")
	assert.Equal(t, 0.5, sh.ptc.gains.Kp)

	lines, _ = sh.Exec("tune heat kx 0.5")
	assert.Equal(t, []string{"Error: Unknown heat param 'kx'. Use kp, ki, or kd."}, lines)
	lines, _ = sh.Exec("tune heat kp")
	assert.Equal(t, []string{"Usage: tune heat <kp|ki|kd> <value>"}, lines)
	lines, _ = sh.Exec("tune heat kd lots")
	assert.Equal(t, []string{"Error: Invalid value 'lots'"}, lines)
}

func TestTuneTarget(t *testing.T) {
	sh := newShell()
	lines, _ := sh.Exec("tune target 20")
	assert.Equal(t, "Target temperature set to 20.00 C", lines[0])
	v, err := sh.GetTemperatureSetpoint()
	require.NoError(t, err)
	assert.Equal(t, 20.0, v)

	lines, _ = sh.Exec("tune")
	assert.Contains(t, lines, "----- Usage -----")
	lines, _ = sh.Exec("tune hys 2")
	assert.Equal(t, []string{"Error: Unknown command 'hys'"}, lines)
}

func TestForceState(t *testing.T) {
	sh := newShell()
	lines, _ := sh.Exec("force_state cooling")
	assert.Equal(t, []string{"State forced from WARMING to COOLING"}, lines)
	assert.Equal(t, Cooling, sh.State())
	assert.True(t, sh.sim.Forced())

	lines, _ = sh.Exec("force_state cooling")
	assert.Equal(t, []string{"State is already cooling. No change made."}, lines)

	lines, _ = sh.Exec("force_state freezing")
	assert.Equal(t, []string{"Error: Unknown state 'freezing'. Use warming, heating, or cooling."}, lines)

	sh.Exec("force_state warming")
	assert.False(t, sh.sim.Forced())
}

func TestUnknownCommand(t *testing.T) {
	lines, _ := newShell().Exec("reboot")
	assert.Equal(t, []string{"reboot: command not found."}, lines)
	lines, _ = newShell().Exec("   ")
	assert.Empty(t, lines)
}

func TestCoolingBringsElementToBox(t *testing.T) {
	sh := newShell()
	for i := 0; i < 600; i++ {
		sh.Advance(0.5)
	}
	ptc, box := sh.Temperatures()
	require.Greater(t, ptc-box, 5.0, "element should run hot while warming")

	require.NoError(t, sh.SetForcedCooling(true))
	for i := 0; i < 1200; i++ {
		sh.Advance(0.5)
	}
	ptc, box = sh.Temperatures()
	assert.Less(t, math.Abs(ptc-box), 5.0)
	assert.Equal(t, 0.0, sh.ptc.duty)
}

func TestEvalReportsMeanAbsoluteError(t *testing.T) {
	sh := newShell()
	lines, eval := sh.Exec("eval_ptc 48 1000")
	require.NotNil(t, eval)
	assert.Equal(t, []string{"Starting PTC evaluation: Target=48.00 C, Duration=1000 ms"}, lines)
	assert.Equal(t, Warming, sh.State())

	ptc, _ := sh.Temperatures()
	sh.Advance(0.5)
	select {
	case <-eval:
		t.Fatal("evaluation finished early")
	default:
	}
	sh.Advance(0.5)
	score := <-eval
	// the element starts near room temperature, so the error is about 48-25
	assert.InDelta(t, 48-ptc, score, 5)
	assert.Empty(t, sh.evals)
}

func TestEvalRejectsDuration(t *testing.T) {
	for _, line := range []string{"eval_ptc 48 100", "eval_ptc 48 400000", "eval_ptc 48 soon"} {
		lines, eval := newShell().Exec(line)
		assert.Nil(t, eval, line)
		assert.Equal(t, []string{"Error: Duration must be between 500 and 300000 ms."}, lines, line)
	}
	lines, eval := newShell().Exec("eval_ptc 48")
	assert.Nil(t, eval)
	assert.Equal(t, []string{"Usage: eval_ptc <target_temp> <duration_ms>"}, lines)
}

// readUntil reads lines (and the unterminated prompt) until one has prefix
func readUntil(t *testing.T, r *bufio.Reader, prefix string) []string {
	t.Helper()
	var lines []string
	var acc []byte
	for {
		b, err := r.ReadByte()
		require.NoError(t, err)
		if b == '\n' {
			lines = append(lines, string(acc))
			if strings.HasPrefix(string(acc), prefix) {
				return lines
			}
			acc = acc[:0]
			continue
		}
		acc = append(acc, b)
		if string(acc) == Prompt && prefix == Prompt {
			return append(lines, Prompt)
		}
	}
}

func TestConsoleOverTCP(t *testing.T) {
	sh := newShell()
	sh.Tick = 5 * time.Millisecond
	sh.Speedup = 100
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go sh.Run(ctx)
	served := make(chan error)
	go func() { served <- sh.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	r := bufio.NewReader(conn)

	readUntil(t, r, Prompt)
	_, err = conn.Write([]byte("get_status\n"))
	require.NoError(t, err)
	lines := readUntil(t, r, Prompt)
	_, ok := find(lines, "PTC Temp:")
	assert.True(t, ok)

	_, err = conn.Write([]byte("eval_ptc 48 2000\n"))
	require.NoError(t, err)
	lines = readUntil(t, r, "EVAL_RESULT:")
	last := lines[len(lines)-1]
	score, err := strconv.ParseFloat(strings.TrimPrefix(last, "EVAL_RESULT:"), 64)
	require.NoError(t, err)
	assert.Greater(t, score, 0.0)

	cancel()
	assert.NoError(t, <-served)
}
