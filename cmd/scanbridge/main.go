// Command scanbridge is a reference scanner orchestration CLI.
//
// It drives the scan protocol against an in-process driver binding and
// brokers out to bitness-matched worker processes for bindings the host
// process cannot load.
//
// Usage:
//
//	scanbridge [flags]
//
// Flags:
//
//	-driver string     Driver binding: sim (default "sim")
//	-worker string     Worker executable for the acquisition driver
//	-out string        Directory for scanned pages (default ".")
//	-profiles string   Scan preset database path ("" disables presets)
//	-trace string      Protocol trace file (CBOR event stream)
//	-log-level string  Log level: debug, info, warn, error (default "info")
//	-list              List devices and exit
//	-scan string       Scan one device by ID and exit
//	-source string     Paper source: auto, flatbed, feeder, duplex (default "auto")
//	-dpi int           Resolution in DPI (default 300)
//	-color string      Color mode: color, gray, bw (default "color")
//
// Examples:
//
//	# List devices across all backends
//	scanbridge -list
//
//	# Scan a feeder batch to ./pages
//	scanbridge -scan sim-imaging-001 -source feeder -out pages
//
//	# Interactive session with an acquisition worker process
//	scanbridge -worker ./scanbridge-worker
//
// Interactive Commands:
//
//	devices                - List devices
//	caps <device>          - Show device capabilities
//	scan <device>          - Start a scan
//	cancel                 - Cancel the running scan
//	set <option> <value>   - Change a scan option
//	options                - Show current scan options
//	profiles               - List saved presets
//	save <name>            - Save current options as a preset
//	load <name>            - Load a preset
//	delete <name>          - Delete a preset
//	quit                   - Exit
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/profile"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/sim"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/worker"
)

type config struct {
	Driver   string
	Worker   string
	Out      string
	Profiles string
	Trace    string
	LogLevel string

	List       bool
	ScanDevice string

	Source string
	DPI    int
	Color  string
}

var cfg config

func init() {
	flag.StringVar(&cfg.Driver, "driver", "sim", "Driver binding: sim")
	flag.StringVar(&cfg.Worker, "worker", "", "Worker executable for the acquisition driver")
	flag.StringVar(&cfg.Out, "out", ".", "Directory for scanned pages")
	flag.StringVar(&cfg.Profiles, "profiles", "", "Scan preset database path")
	flag.StringVar(&cfg.Trace, "trace", "", "Protocol trace file")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.List, "list", false, "List devices and exit")
	flag.StringVar(&cfg.ScanDevice, "scan", "", "Scan one device by ID and exit")
	flag.StringVar(&cfg.Source, "source", "auto", "Paper source: auto, flatbed, feeder, duplex")
	flag.IntVar(&cfg.DPI, "dpi", 300, "Resolution in DPI")
	flag.StringVar(&cfg.Color, "color", "color", "Color mode: color, gray, bw")
}

func main() {
	flag.Parse()

	appLog := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(appLog)

	if err := run(appLog); err != nil {
		appLog.Error("scanbridge failed", "err", err)
		os.Exit(1)
	}
}

func run(appLog *slog.Logger) error {
	var logger log.Logger = log.NoopLogger{}
	if cfg.Trace != "" {
		fileLogger, err := log.NewFileLogger(cfg.Trace)
		if err != nil {
			return fmt.Errorf("failed to open trace file: %w", err)
		}
		defer fileLogger.Close()
		logger = fileLogger
	}

	broker, err := buildBroker(logger, appLog)
	if err != nil {
		return err
	}
	defer broker.Close()

	var store profile.Store
	if cfg.Profiles != "" {
		store, err = profile.Open(cfg.Profiles)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := parseOptions()
	if err != nil {
		return err
	}

	switch {
	case cfg.List:
		return listDevices(ctx, broker)
	case cfg.ScanDevice != "":
		return scanOnce(ctx, broker, cfg.ScanDevice, opts)
	default:
		session, err := newSession(broker, store, opts)
		if err != nil {
			return err
		}
		return session.Run(ctx, stop)
	}
}

// buildBroker wires the local machine and the worker profiles.
func buildBroker(logger log.Logger, appLog *slog.Logger) (*worker.Broker, error) {
	if cfg.Driver != "sim" {
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}

	drv := sim.New(sim.Config{
		Kind: native.KindImaging,
		Devices: []*sim.DeviceConfig{
			{
				ID:                 "sim-imaging-001",
				Name:               "Simulated Scanner 1",
				HasFlatbed:         true,
				HasFeeder:          true,
				HasDuplex:          true,
				DetectsFeederPaper: true,
				FeederPages:        3,
			},
		},
	})
	local := scan.NewMachine(native.NewManager(drv, logger), scan.Config{
		Logger: logger,
		AppLog: appLog,
	})

	var profiles []worker.ExecutionProfile
	if cfg.Worker != "" {
		profiles = append(profiles, worker.ExecutionProfile{
			Name:       "acquisition",
			Kind:       native.KindAcquisition,
			Bitness:    worker.HostBitness(),
			Command:    cfg.Worker,
			Args:       []string{"-driver", "sim", "-kind", "acquisition"},
			Capability: "acquisition",
		})
	}

	return worker.NewBroker(worker.BrokerConfig{
		Local:    []*scan.Machine{local},
		Profiles: profiles,
		Logger:   logger,
		AppLog:   appLog,
	}), nil
}

func listDevices(ctx context.Context, broker *worker.Broker) error {
	devices, err := broker.EnumerateDevices(ctx, native.VersionDefault)
	if err != nil {
		return err
	}
	for _, d := range devices {
		fmt.Printf("%-30s %-12s %s\n", d.ID, d.Kind, d.DisplayName)
	}
	return nil
}

// scanOnce runs one scan and writes the pages as numbered PNG files.
func scanOnce(ctx context.Context, broker *worker.Broker, deviceID string, opts scan.Options) error {
	devices, err := broker.EnumerateDevices(ctx, native.VersionDefault)
	if err != nil {
		return err
	}
	var device scan.DeviceDescriptor
	found := false
	for _, d := range devices {
		if d.ID == deviceID {
			device, found = d, true
			break
		}
	}
	if !found {
		return fmt.Errorf("device %q not found", deviceID)
	}

	if err := os.MkdirAll(cfg.Out, 0755); err != nil {
		return err
	}

	pages := 0
	if err := broker.Scan(ctx, device, opts, pageWriter(cfg.Out, &pages)); err != nil {
		return err
	}
	fmt.Printf("scan complete: %d page(s) written to %s\n", pages, cfg.Out)
	return nil
}

// pageWriter returns a sink that writes each page as page-NNN.png.
func pageWriter(dir string, pages *int) scan.Sink {
	return scan.SinkFuncs{
		Page: func(img image.Image) {
			*pages++
			path := filepath.Join(dir, fmt.Sprintf("page-%03d.png", *pages))
			f, err := os.Create(path)
			if err != nil {
				slog.Warn("failed to create page file", "path", path, "err", err)
				return
			}
			defer f.Close()
			if err := png.Encode(f, img); err != nil {
				slog.Warn("failed to write page file", "path", path, "err", err)
			}
		},
	}
}

func parseOptions() (scan.Options, error) {
	source, err := parseSource(cfg.Source)
	if err != nil {
		return scan.Options{}, err
	}
	color, err := parseColor(cfg.Color)
	if err != nil {
		return scan.Options{}, err
	}
	return scan.Options{
		Source:     source,
		Resolution: cfg.DPI,
		ColorMode:  color,
		PageSize:   scan.PageSizeLetter,
	}, nil
}

func parseSource(s string) (scan.PaperSource, error) {
	switch strings.ToLower(s) {
	case "auto":
		return scan.SourceAuto, nil
	case "flatbed":
		return scan.SourceFlatbed, nil
	case "feeder":
		return scan.SourceFeeder, nil
	case "duplex":
		return scan.SourceDuplex, nil
	default:
		return 0, fmt.Errorf("unknown source: %s (use: auto, flatbed, feeder, duplex)", s)
	}
}

func parseColor(s string) (scan.ColorMode, error) {
	switch strings.ToLower(s) {
	case "color":
		return scan.ColorModeColor, nil
	case "gray", "grayscale":
		return scan.ColorModeGrayscale, nil
	case "bw", "blackandwhite":
		return scan.ColorModeBlackAndWhite, nil
	default:
		return 0, fmt.Errorf("unknown color mode: %s (use: color, gray, bw)", s)
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
