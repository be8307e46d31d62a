// Command scanbridge-worker serves scan operations over stdio.
//
// The broker spawns one worker per execution profile and speaks the
// framed CBOR channel on the worker's stdin/stdout. Operational logs go
// to stderr; stdout belongs to the channel.
//
// Usage:
//
//	scanbridge-worker [flags]
//
// Flags:
//
//	-driver string        Driver binding: sim (default "sim")
//	-kind string          Driver kind: imaging, acquisition (default "imaging")
//	-capabilities string  Comma-separated probe capabilities (default: the kind name)
//	-conn-id string       Channel identifier assigned by the broker
//	-trace string         Protocol trace file (CBOR event stream)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-sim-devices int      Simulated device count (default 1)
//	-sim-feeder-pages int Sheets loaded in each simulated feeder (default 3)
//	-sim-only-v1 bool     Simulate a driver that rejects the newer protocol version
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/sim"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/transport"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/worker"
)

type config struct {
	Driver       string
	Kind         string
	Capabilities string
	ConnID       string
	Trace        string
	LogLevel     string

	SimDevices     int
	SimFeederPages int
	SimOnlyV1      bool
}

var cfg config

func init() {
	flag.StringVar(&cfg.Driver, "driver", "sim", "Driver binding: sim")
	flag.StringVar(&cfg.Kind, "kind", "imaging", "Driver kind: imaging, acquisition")
	flag.StringVar(&cfg.Capabilities, "capabilities", "", "Comma-separated probe capabilities")
	flag.StringVar(&cfg.ConnID, "conn-id", "", "Channel identifier assigned by the broker")
	flag.StringVar(&cfg.Trace, "trace", "", "Protocol trace file")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.IntVar(&cfg.SimDevices, "sim-devices", 1, "Simulated device count")
	flag.IntVar(&cfg.SimFeederPages, "sim-feeder-pages", 3, "Sheets loaded in each simulated feeder")
	flag.BoolVar(&cfg.SimOnlyV1, "sim-only-v1", false, "Simulate a driver that rejects the newer protocol version")
}

func main() {
	flag.Parse()

	// stdout carries the channel; everything human-readable goes to
	// stderr.
	appLog := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))

	if err := run(appLog); err != nil {
		appLog.Error("worker failed", "err", err)
		os.Exit(1)
	}
}

func run(appLog *slog.Logger) error {
	kind, err := parseKind(cfg.Kind)
	if err != nil {
		return err
	}

	var logger log.Logger = log.NoopLogger{}
	if cfg.Trace != "" {
		fileLogger, err := log.NewFileLogger(cfg.Trace)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		defer fileLogger.Close()
		logger = fileLogger
	}

	drv, err := buildDriver(kind)
	if err != nil {
		return err
	}

	machine := scan.NewMachine(native.NewManager(drv, logger), scan.Config{
		Logger: logger,
		AppLog: appLog,
	})

	caps := []string{kind.String()}
	if cfg.Capabilities != "" {
		caps = strings.Split(cfg.Capabilities, ",")
	}

	framer := transport.NewPipeFramer(os.Stdin, os.Stdout)
	server := worker.NewServer(machine, framer, worker.ServerConfig{
		Logger:       logger,
		AppLog:       appLog,
		Capabilities: caps,
		ConnID:       cfg.ConnID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog.Info("worker serving",
		"driver", cfg.Driver,
		"kind", kind.String(),
		"bitness", worker.HostBitness().String())

	return server.Serve(ctx)
}

// buildDriver constructs the configured driver binding. Real bindings
// are platform builds; the simulation is always available.
func buildDriver(kind native.DriverKind) (native.Driver, error) {
	switch cfg.Driver {
	case "sim":
		return sim.New(simConfig(kind)), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

func simConfig(kind native.DriverKind) sim.Config {
	devices := make([]*sim.DeviceConfig, 0, cfg.SimDevices)
	for i := 0; i < cfg.SimDevices; i++ {
		devices = append(devices, &sim.DeviceConfig{
			ID:                 fmt.Sprintf("sim-%s-%03d", kind, i+1),
			Name:               fmt.Sprintf("Simulated Scanner %d", i+1),
			HasFlatbed:         true,
			HasFeeder:          true,
			HasDuplex:          i == 0,
			DetectsFeederPaper: true,
			FeederPages:        cfg.SimFeederPages,
		})
	}
	return sim.Config{
		Kind:         kind,
		OnlyVersion1: cfg.SimOnlyV1,
		Devices:      devices,
	}
}

func parseKind(s string) (native.DriverKind, error) {
	switch strings.ToLower(s) {
	case "imaging":
		return native.KindImaging, nil
	case "acquisition":
		return native.KindAcquisition, nil
	default:
		return 0, fmt.Errorf("unknown driver kind: %s (use: imaging, acquisition)", s)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
