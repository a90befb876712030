package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial/enumerator"

	"github.com/ptcchamber/chamberlab/comm"
	"github.com/ptcchamber/chamberlab/ptc"
	"github.com/ptcchamber/chamberlab/tuner"
	"github.com/ptcchamber/chamberlab/util"
)

// ResetConfig configures the cool-down between evaluations
type ResetConfig struct {
	// Baseline is the target temperature set while cooling, C
	Baseline float64 `yaml:"baseline" koanf:"baseline"`

	// Threshold is the |PTC - box| below which the element is cool, C
	Threshold float64 `yaml:"threshold" koanf:"threshold"`

	// Poll is the status period, seconds
	Poll float64 `yaml:"poll" koanf:"poll"`

	// Timeout bounds the cool-down, seconds
	Timeout float64 `yaml:"timeout" koanf:"timeout"`
}

// Config is a struct that holds the parameters of a tuning run.  It is
// populated from defaults, ptctune.yml, and PTCTUNE_* environment variables.
type Config struct {
	// Addr is the controller's address, a serial device such as /dev/ttyUSB0
	// or COM3 if Serial, else host:port (e.g. a chambersim device shell)
	Addr string `yaml:"addr" koanf:"addr"`

	// Serial determines if the connection is serial (True) or TCP (False)
	Serial bool `yaml:"serial" koanf:"serial"`

	Baud int `yaml:"baud" koanf:"baud"`

	// PacingMS is the minimum spacing between commands, ms
	PacingMS int `yaml:"pacingms" koanf:"pacingms"`

	// Results is the checkpoint file
	Results string `yaml:"results" koanf:"results"`

	// Plots is the directory convergence plots are written to, empty disables them
	Plots string `yaml:"plots" koanf:"plots"`

	// Budget is the number of evaluations per profile
	Budget int `yaml:"budget" koanf:"budget"`

	// EvalMS is the eval_ptc window, ms
	EvalMS int `yaml:"evalms" koanf:"evalms"`

	Reset ResetConfig `yaml:"reset" koanf:"reset"`

	Profiles []tuner.Profile `yaml:"profiles" koanf:"profiles"`

	LogLevel string `yaml:"loglevel" koanf:"loglevel"`

	// Spinner shows a terminal progress spinner
	Spinner bool `yaml:"spinner" koanf:"spinner"`
}

func defaultConfig() Config {
	return Config{
		Addr:     "/dev/ttyUSB0",
		Serial:   true,
		Baud:     comm.DefaultBaud,
		PacingMS: 50,
		Results:  tuner.DefaultResultsFile,
		Plots:    ".",
		Budget:   tuner.DefaultBudget,
		EvalMS:   int(tuner.DefaultEvalDuration / time.Millisecond),
		Reset: ResetConfig{
			Baseline:  20,
			Threshold: 5,
			Poll:      1,
			Timeout:   180,
		},
		Profiles: tuner.DefaultProfiles(),
		LogLevel: "info",
		Spinner:  true,
	}
}

func newLogger(level string) (*logrus.Logger, error) {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return l, err
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l, nil
}

// openClient opens the device and wraps it in a console client
func openClient(c Config, log logrus.FieldLogger) (*ptc.Client, error) {
	rd := comm.NewRemoteDevice(c.Addr, c.Serial)
	rd.Baud = c.Baud
	rd.Prompt = ptc.Prompt
	if err := rd.Open(); err != nil {
		return nil, err
	}
	return ptc.New(rd, time.Duration(c.PacingMS)*time.Millisecond, log), nil
}

// BuildDriver assembles the tuning driver for c around dev
func BuildDriver(c Config, dev tuner.Device, store *tuner.Store, out io.Writer, log logrus.FieldLogger) *tuner.Driver {
	rst := tuner.NewResetter(dev, log)
	rst.Baseline = c.Reset.Baseline
	rst.Threshold = c.Reset.Threshold
	rst.Poll = util.SecsToDuration(c.Reset.Poll)
	rst.Timeout = util.SecsToDuration(c.Reset.Timeout)
	return &tuner.Driver{
		Dev:          dev,
		Store:        store,
		Optimizer:    tuner.NelderMead{},
		Resetter:     rst,
		Progress:     tuner.NopProgress{},
		Budget:       c.Budget,
		EvalDuration: time.Duration(c.EvalMS) * time.Millisecond,
		PlotDir:      c.Plots,
		Out:          out,
		Log:          log,
	}
}

// consoleTimeout is how long the console waits for the prompt after line.
// eval_ptc holds the prompt for its whole window.
func consoleTimeout(line string, base time.Duration) time.Duration {
	fields := strings.Fields(line)
	if len(fields) == 3 && fields[0] == "eval_ptc" {
		if ms, err := strconv.Atoi(fields[2]); err == nil && ms > 0 {
			return time.Duration(ms)*time.Millisecond + tuner.Grace
		}
	}
	return base
}

// converse sends one console line and writes the reply burst to w
func converse(ctx context.Context, cl *ptc.Client, line string, w io.Writer) error {
	lines, err := cl.QueryWithin(ctx, line, consoleTimeout(line, cl.ReplyTimeout))
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	return err
}

// listPorts writes the serial ports on the system to w
func listPorts(w io.Writer) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	for _, p := range ports {
		if p.IsUSB {
			fmt.Fprintf(w, "%s\tUSB %s:%s %s %s\n", p.Name, p.VID, p.PID, p.SerialNumber, p.Product)
			continue
		}
		fmt.Fprintln(w, p.Name)
	}
	return nil
}
