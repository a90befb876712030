package chamber

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/shlex"
)

const (
	verbStatus  = "get_status"
	verbPIDTune = "pid_tune"

	// VerbUnknown is reported for anything that is not a known command
	VerbUnknown = "unknown"
)

var usage = []string{
	"--- Usage ---",
	"pid_tune -t <val>",
	"pid_tune -p <val> -i <val> -d <val>",
	"pid_tune -ff",
	"pid_tune -ff_set <idx> <temp> <spd>",
}

// Message is one outbound frame, either a status snapshot or console text.
// Exactly one of the fields is set.
type Message struct {
	Status  *Status
	Console []string
}

// Response is the result of interpreting one inbound line
type Response struct {
	// Verb is the recognized command, VerbUnknown, or "" for blank input
	Verb     string
	Messages []Message
}

type handler func(s *Simulator, args []string) []Message

// Interpreter parses console commands and applies them to a Simulator
type Interpreter struct {
	sim      *Simulator
	handlers map[string]handler
}

// NewInterpreter returns an interpreter bound to sim
func NewInterpreter(sim *Simulator) *Interpreter {
	return &Interpreter{
		sim: sim,
		handlers: map[string]handler{
			verbStatus:  getStatus,
			verbPIDTune: pidTune,
		},
	}
}

// Execute interprets a single line.  State is only mutated by a fully valid
// command; every error is reported as console text.
func (in *Interpreter) Execute(line string) Response {
	line = strings.TrimSpace(line)
	if line == "" {
		return Response{}
	}
	// the front-end sometimes appends junk to get_status
	if strings.HasPrefix(strings.ToLower(line), verbStatus) {
		return Response{Verb: verbStatus, Messages: getStatus(in.sim, nil)}
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		return Response{Verb: VerbUnknown, Messages: console(fmt.Sprintf("Error: %v", err))}
	}
	if len(tokens) == 0 {
		return Response{}
	}
	h, ok := in.handlers[tokens[0]]
	if !ok {
		return Response{Verb: VerbUnknown, Messages: console(fmt.Sprintf("Error: Unknown command '%s'", tokens[0]))}
	}
	return Response{Verb: tokens[0], Messages: h(in.sim, tokens[1:])}
}

func console(lines ...string) []Message {
	return []Message{{Console: lines}}
}

func status(s *Simulator) Message {
	st := s.Status()
	return Message{Status: &st}
}

func getStatus(s *Simulator, _ []string) []Message {
	return []Message{status(s)}
}

func pidTune(s *Simulator, args []string) []Message {
	if len(args) == 0 {
		return []Message{{Console: usage}, status(s)}
	}
	switch args[0] {
	case "-ff":
		return console(s.ff.Format()...)
	case "-ff_set":
		return feedforwardSet(s, args[1:])
	}
	return tuneGains(s, args)
}

func feedforwardSet(s *Simulator, args []string) []Message {
	if len(args) != 3 {
		return console("Error: Usage pid_tune -ff_set <idx> <temp> <spd>")
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil {
		return console("Error: Invalid numeric value in -ff_set")
	}
	temp, err := parseFinite(args[1])
	if err != nil {
		return console("Error: Invalid numeric value in -ff_set")
	}
	speed, err := parseFinite(args[2])
	if err != nil {
		return console("Error: Invalid numeric value in -ff_set")
	}
	if idx < 0 || idx >= len(s.ff) {
		return console(fmt.Sprintf("Error: Index %d out of bounds (0-%d).", idx, len(s.ff)-1))
	}
	if err := s.SetFeedforward(idx, temp, speed); err != nil {
		return console(fmt.Sprintf("Error: %v", err))
	}
	return console(fmt.Sprintf("FF table entry %d updated: Temp=%.1fC, Speed=%.4f", idx, temp, speed))
}

var errNotFinite = errors.New("not a finite number")

// parseFinite parses a float, refusing nan and +/-inf
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotFinite
	}
	return v, nil
}

// tuneRequest is a fully parsed -p/-i/-d/-t command, applied only once
// every pair has been validated
type tuneRequest struct {
	kp, ki, kd, target *float64
}

func parseTune(args []string) (tuneRequest, string) {
	var req tuneRequest
	if len(args)%2 != 0 {
		return req, "Error: Expected option/value pairs."
	}
	for i := 0; i < len(args); i += 2 {
		flag, value := args[i], args[i+1]
		var dst **float64
		switch flag {
		case "-p":
			dst = &req.kp
		case "-i":
			dst = &req.ki
		case "-d":
			dst = &req.kd
		case "-t":
			dst = &req.target
		default:
			return req, fmt.Sprintf("Error: Unknown option %s", flag)
		}
		v, err := parseFinite(value)
		if err != nil {
			return req, fmt.Sprintf("Error: Invalid value for %s: %s", flag, value)
		}
		*dst = &v
	}
	return req, ""
}

func tuneGains(s *Simulator, args []string) []Message {
	req, errMsg := parseTune(args)
	if errMsg != "" {
		return console(errMsg)
	}
	var out []Message

	manual := req.kp != nil || req.ki != nil || req.kd != nil
	if manual {
		g := s.Gains()
		if req.kp != nil {
			g.Kp = *req.kp
		}
		if req.ki != nil {
			g.Ki = *req.ki
		}
		if req.kd != nil {
			g.Kd = *req.kd
		}
		s.SetGains(g)
	}
	if req.target != nil {
		s.SetTarget(*req.target, true)
		out = append(out, console("Target temperature changed. Re-scheduling PID gains...")...)
	} else if manual {
		out = append(out, console("PID gains updated via manual override.")...)
	}

	s.RefreshFeedforward()
	out = append(out, console("Parameters updated. Current status:")...)
	return append(out, status(s))
}
