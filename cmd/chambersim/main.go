/*Command chambersim serves a simulated PTC temperature chamber over a websocket.

Each websocket connection gets its own simulator that broadcasts a status
message every --interval and accepts the board's console commands (get_status,
pid_tune).  Optionally a device shell speaking the firmware's msh console is
served over TCP, so the tuning harness can be dry-run against it, and its
temperature controller is exposed over HTTP under /bench.

Configuration comes from, in increasing precedence, built-in defaults, a YAML
file (--config), CHAMBERSIM_* environment variables (a .env file is loaded
first if present), and command-line flags.  A gain schedule can be given in the file:

	schedule:
	  - {temperature: 20, kp: 0.05, ki: 0.01, kd: 0.005}
	  - {temperature: 60, kp: 0.09, ki: 0.02, kd: 0.009}
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/ptcchamber/chamberlab/chamber"
	"github.com/ptcchamber/chamberlab/devshell"
	"github.com/ptcchamber/chamberlab/simsrv"
	"github.com/ptcchamber/chamberlab/util"
)

// Version is the version number.  Typically injected via ldflags with git build
var Version = "1"

// Config is the simulator's configuration
type Config struct {
	Host     string  `koanf:"host"`
	Port     int     `koanf:"port"`
	Interval float64 `koanf:"interval"`

	// ShellPort serves the device shell when non-zero
	ShellPort int     `koanf:"shell-port"`
	Speedup   float64 `koanf:"speedup"`

	WWW string `koanf:"www"`

	MQTTBroker string `koanf:"mqtt-broker"`
	MQTTTopic  string `koanf:"mqtt-topic"`

	// Schedule replaces the board's gain schedule when set.  File only.
	Schedule []SchedulePoint `koanf:"schedule,omitempty"`

	LogLevel string `koanf:"log-level"`
}

// SchedulePoint is one row of a gain schedule
type SchedulePoint struct {
	Temperature float64 `koanf:"temperature"`
	Kp          float64 `koanf:"kp"`
	Ki          float64 `koanf:"ki"`
	Kd          float64 `koanf:"kd"`
}

// simOptions converts the configured schedule to simulator options
func (c Config) simOptions() ([]chamber.Option, error) {
	if len(c.Schedule) == 0 {
		return nil, nil
	}
	gs := make(chamber.GainSchedule, len(c.Schedule))
	for i, p := range c.Schedule {
		if i > 0 && p.Temperature <= c.Schedule[i-1].Temperature {
			return nil, fmt.Errorf("schedule temperatures must ascend, %v follows %v", p.Temperature, c.Schedule[i-1].Temperature)
		}
		gs[i] = chamber.GainPoint{Temperature: p.Temperature, Gains: chamber.Gains{Kp: p.Kp, Ki: p.Ki, Kd: p.Kd}}
	}
	return []chamber.Option{chamber.WithSchedule(gs)}, nil
}

func defaults() Config {
	return Config{
		Host:      "0.0.0.0",
		Port:      8765,
		Interval:  0.5,
		Speedup:   1,
		MQTTTopic: simsrv.DefaultTopic,
		LogLevel:  "info",
	}
}

func flags() *flag.FlagSet {
	d := defaults()
	f := flag.NewFlagSet("chambersim", flag.ExitOnError)
	f.Usage = func() {
		fmt.Fprintln(os.Stderr, "chambersim serves a simulated PTC chamber over a websocket\n\nUsage:")
		f.PrintDefaults()
	}
	f.String("config", "", "YAML configuration file")
	f.String("host", d.Host, "address to listen on")
	f.Int("port", d.Port, "port to listen on")
	f.Float64("interval", d.Interval, "status broadcast interval in seconds")
	f.Int("shell-port", d.ShellPort, "serve the device shell on this TCP port, 0 disables it")
	f.Float64("speedup", d.Speedup, "device shell simulated seconds per wall-clock second")
	f.String("www", d.WWW, "directory of a front-end to serve under /ui/")
	f.String("mqtt-broker", d.MQTTBroker, "mirror status to this MQTT broker, e.g. tcp://localhost:1883")
	f.String("mqtt-topic", d.MQTTTopic, "MQTT topic pattern; {session} is replaced by the session id")
	f.String("log-level", d.LogLevel, "trace, debug, info, warn, or error")
	f.Bool("version", false, "print the version and exit")
	return f
}

func loadConfig(args []string) (Config, *flag.FlagSet, error) {
	f := flags()
	if err := f.Parse(args); err != nil {
		return Config{}, f, err
	}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return Config{}, f, err
	}
	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, f, fmt.Errorf("error loading config: %w", err)
		}
	}
	err := k.Load(env.Provider("CHAMBERSIM_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CHAMBERSIM_")), "_", "-")
	}), nil)
	if err != nil {
		return Config{}, f, err
	}
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return Config{}, f, err
	}
	c := Config{}
	err = k.Unmarshal("", &c)
	return c, f, err
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

func run(ctx context.Context, c Config, log *logrus.Logger) error {
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	interval := util.SecsToDuration(c.Interval)
	simOpts, err := c.simOptions()
	if err != nil {
		return err
	}
	var opts []simsrv.Option
	if c.WWW != "" {
		opts = append(opts, simsrv.WithStatic(c.WWW))
	}

	if c.MQTTBroker != "" {
		client, err := simsrv.ConnectMQTT(c.MQTTBroker, "chambersim-"+uuid.NewString())
		if err != nil {
			return fmt.Errorf("mqtt %s: %w", c.MQTTBroker, err)
		}
		defer client.Disconnect(250)
		mirror := simsrv.NewMQTTMirror(client, c.MQTTTopic, log)
		go mirror.Run(ctx)
		opts = append(opts, simsrv.WithMirror(mirror))
		log.WithField("broker", c.MQTTBroker).Info("mirroring status to MQTT")
	}

	errs := make(chan error, 1)
	if c.ShellPort != 0 {
		sh := devshell.New(log, simOpts...)
		sh.Speedup = c.Speedup
		go sh.Run(ctx)
		addr := net.JoinHostPort(c.Host, strconv.Itoa(c.ShellPort))
		go func() { errs <- sh.ListenAndServe(ctx, addr) }()
		opts = append(opts, simsrv.WithBench(sh))
	}

	srv := simsrv.New(interval, log, opts...)
	srv.SimOptions = simOpts
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(ctx, addr) }()

	select {
	case err := <-served:
		return err
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("device shell: %w", err)
		}
		return <-served
	case <-ctx.Done():
		// let Shutdown finish
		return <-served
	}
}

func main() {
	godotenv.Load() // .env is optional
	c, f, err := loadConfig(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}
	if v, _ := f.GetBool("version"); v {
		fmt.Printf("chambersim version %v\n", Version)
		return
	}
	logger, err := newLogger(c.LogLevel)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, c, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(err)
	}
	logger.Info("shut down")
}
