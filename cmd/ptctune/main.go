package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/ptcchamber/chamberlab/ptc"
	"github.com/ptcchamber/chamberlab/tuner"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ptctune.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	godotenv.Load() // .env is optional
	k.Load(structs.Provider(defaultConfig(), "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
	k.Load(env.Provider("PTCTUNE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "PTCTUNE_")), "_", ".")
	}), nil)
}

func loadconf() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	return c
}

func root() {
	str := `ptctune searches for PID gains for the chamber's PTC heater by running
evaluations on the controller over its serial console

Usage:
	ptctune <command>

Commands:
	run
	help
	mkconf
	conf
	ports
	console
	version`
	fmt.Println(str)
}

func help() {
	str := `ptctune is amenable to configuration via its .yml file, ptctune.yml, and
environment variables prefixed PTCTUNE_ (PTCTUNE_ADDR, PTCTUNE_RESET_TIMEOUT, ...).
A .env file in the working directory is loaded first.  Run "ptctune mkconf"
to write the defaults to ptctune.yml.

Addr is a serial device (/dev/ttyUSB0, COM3) when Serial is true, else
host:port.  Point it at "chambersim --shell-port 2323" for a dry run.

Each profile is a target temperature and a box of allowed gains.  Profiles
already present in the results file are skipped, so an interrupted run
resumes where it stopped.  A profile whose previous best lies inside its box
starts from that point.

After every profile the results file is rewritten and a convergence plot
convergence_<name>.png is saved.  When all profiles are done the gain table
is printed as C source for the firmware.

Each evaluation takes roughly the cool-down plus the eval window, so the
default 50 evaluations of 180 s take a few hours per profile.`
	fmt.Println(str)
}

func mkconf() {
	c := loadconf()
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := loadconf()
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ptctune version %v\n", Version)
}

func ports() {
	if err := listPorts(os.Stdout); err != nil {
		log.Fatal(err)
	}
}

func run() {
	c := loadconf()
	logger, err := newLogger(c.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cl, err := openClient(c, logger)
	if err != nil {
		logger.Fatalf("Fatal Error: could not open %s: %v", c.Addr, err)
	}
	defer cl.Close()
	logger.WithField("addr", c.Addr).Info("connected")

	store, err := tuner.LoadStore(c.Results)
	if err != nil {
		logger.WithError(err).Warn("could not read previous results, starting fresh")
	} else if n := len(store.Results); n > 0 {
		logger.WithField("file", c.Results).Infof("loaded %d existing results", n)
	}
	profiles := tuner.SeedFromResults(c.Profiles, store.Results, logger)

	d := BuildDriver(c, cl, store, os.Stdout, logger)
	if c.Spinner {
		if sp, err := tuner.NewSpinner(); err == nil {
			d.Progress = sp
		} else {
			logger.WithError(err).Debug("no spinner")
		}
	}
	err = d.Run(ctx, profiles)
	if errors.Is(err, context.Canceled) {
		logger.Warn("interrupted, completed profiles are saved")
		return
	}
	if err != nil {
		logger.Fatal(err)
	}
}

func console() {
	c := loadconf()
	logger, err := newLogger(c.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	cl, err := openClient(c, logger)
	if err != nil {
		logger.Fatalf("Fatal Error: could not open %s: %v", c.Addr, err)
	}
	defer cl.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ptc.Prompt + " ",
		HistoryFile:     ".ptctune_history",
		InterruptPrompt: "^C",
	})
	if err != nil {
		log.Fatal(err)
	}
	defer rl.Close()
	logger.SetOutput(rl.Stderr())

	ctx := context.Background()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Fatal(err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return
		}
		if err := converse(ctx, cl, line, rl.Stdout()); err != nil {
			fmt.Fprintf(rl.Stderr(), "(%v)\n", err)
		}
	}
}

func main() {
	var cmd string
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd = args[1]
	cmd = strings.ToLower(cmd)
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "ports":
		ports()
		return
	case "console":
		console()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
