package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/profile"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/worker"
)

// session is the interactive command loop.
type session struct {
	broker *worker.Broker
	store  profile.Store
	rl     *readline.Instance

	opts    scan.Options
	devices []scan.DeviceDescriptor

	// Running scan, nil when idle.
	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanDone   chan struct{}
}

// newSession creates the interactive session handler.
func newSession(broker *worker.Broker, store profile.Store, opts scan.Options) (*session, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "scan> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &session{
		broker: broker,
		store:  store,
		rl:     rl,
		opts:   opts,
	}, nil
}

// Run starts the interactive command loop.
func (s *session) Run(ctx context.Context, cancel context.CancelFunc) error {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return nil
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()

		case "devices", "list", "ls":
			s.cmdDevices(ctx)

		case "caps", "c":
			s.cmdCaps(ctx, args)

		case "scan":
			s.cmdScan(ctx, args)

		case "cancel":
			s.cmdCancel()

		case "set":
			s.cmdSet(args)

		case "options", "opts":
			s.cmdOptions()

		case "profiles":
			s.cmdProfiles()

		case "save":
			s.cmdSave(args)

		case "load":
			s.cmdLoad(args)

		case "default":
			s.cmdDefault(args)

		case "delete":
			s.cmdDelete(args)

		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			s.cmdCancel()
			cancel()
			return nil

		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *session) printHelp() {
	fmt.Fprintln(s.rl.Stdout(), `
Scanbridge Commands:
  Devices:
    devices                - List devices across all backends
    caps <device>          - Show device capabilities

  Scanning:
    scan <device>          - Start a scan with current options
    cancel                 - Cancel the running scan
    set <option> <value>   - source|dpi|color|align|brightness|contrast
    options                - Show current scan options

  Presets:
    profiles               - List saved presets (* marks the default)
    save <name>            - Save current options as a preset
    load [name]            - Load a preset (no name: the default)
    default <name>         - Mark a preset as the default
    delete <name>          - Delete a preset

  General:
    help                   - Show this help
    quit                   - Exit

  <device> is a device ID or a number from the last 'devices' listing.`)
}

func (s *session) cmdDevices(ctx context.Context) {
	devices, err := s.broker.EnumerateDevices(ctx, native.VersionDefault)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Enumeration failed: %v\n", err)
		return
	}
	s.devices = devices
	for i, d := range devices {
		fmt.Fprintf(s.rl.Stdout(), "%3d  %-30s %-12s %s\n", i+1, d.ID, d.Kind, d.DisplayName)
	}
}

// resolveDevice resolves a device argument: listing index or device ID.
func (s *session) resolveDevice(ctx context.Context, arg string) (scan.DeviceDescriptor, bool) {
	if len(s.devices) == 0 {
		devices, err := s.broker.EnumerateDevices(ctx, native.VersionDefault)
		if err != nil {
			fmt.Fprintf(s.rl.Stdout(), "Enumeration failed: %v\n", err)
			return scan.DeviceDescriptor{}, false
		}
		s.devices = devices
	}

	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(s.devices) {
		return s.devices[n-1], true
	}
	for _, d := range s.devices {
		if d.ID == arg {
			return d, true
		}
	}
	fmt.Fprintf(s.rl.Stdout(), "Device %q not found (try 'devices')\n", arg)
	return scan.DeviceDescriptor{}, false
}

func (s *session) cmdCaps(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: caps <device>")
		return
	}
	device, ok := s.resolveDevice(ctx, args[0])
	if !ok {
		return
	}

	caps, err := s.broker.Capabilities(ctx, device, s.opts)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Capability query failed: %v\n", err)
		return
	}

	out := s.rl.Stdout()
	fmt.Fprintf(out, "Device: %s (%s)\n", device.DisplayName, device.ID)
	printSource(out, "Flatbed", caps.Flatbed)
	printSource(out, "Feeder", caps.Feeder)
	fmt.Fprintf(out, "  Duplex:             %v\n", caps.SupportsDuplex)
	fmt.Fprintf(out, "  Feeder paper check: %v\n", caps.CanCheckFeederHasPaper)
}

func printSource(out io.Writer, name string, caps *scan.SourceCaps) {
	if caps == nil {
		fmt.Fprintf(out, "  %-8s not supported\n", name+":")
		return
	}
	res := caps.Resolutions
	if res.IsRange() {
		fmt.Fprintf(out, "  %-8s %d-%d dpi (step %d)", name+":", res.Min, res.Max, res.Step)
	} else if len(res.Values) > 0 {
		fmt.Fprintf(out, "  %-8s %v dpi", name+":", res.Values)
	} else {
		fmt.Fprintf(out, "  %-8s resolution unconstrained", name+":")
	}
	var modes []string
	if caps.SupportsColor {
		modes = append(modes, "color")
	}
	if caps.SupportsGrayscale {
		modes = append(modes, "gray")
	}
	if caps.SupportsBlackAndWhite {
		modes = append(modes, "bw")
	}
	fmt.Fprintf(out, ", modes: %s\n", strings.Join(modes, "/"))
}

func (s *session) cmdScan(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: scan <device>")
		return
	}
	device, ok := s.resolveDevice(ctx, args[0])
	if !ok {
		return
	}

	s.scanMu.Lock()
	if s.scanCancel != nil {
		s.scanMu.Unlock()
		fmt.Fprintln(s.rl.Stdout(), "A scan is already running (use 'cancel')")
		return
	}
	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.scanCancel = cancel
	s.scanDone = done
	s.scanMu.Unlock()

	opts := s.opts
	out := s.rl.Stdout()
	pages := 0

	go func() {
		defer close(done)
		defer func() {
			s.scanMu.Lock()
			s.scanCancel = nil
			s.scanDone = nil
			s.scanMu.Unlock()
			cancel()
		}()

		err := s.broker.Scan(scanCtx, device, opts, pageWriter(cfg.Out, &pages))
		if err != nil {
			fmt.Fprintf(out, "\nScan failed: %v\n", err)
			return
		}
		fmt.Fprintf(out, "\nScan finished: %d page(s) written to %s\n", pages, cfg.Out)
	}()

	fmt.Fprintf(out, "Scanning %s from %s at %d dpi...\n", device.DisplayName, opts.Source, opts.Resolution)
}

func (s *session) cmdCancel() {
	s.scanMu.Lock()
	cancel := s.scanCancel
	done := s.scanDone
	s.scanMu.Unlock()

	if cancel == nil {
		fmt.Fprintln(s.rl.Stdout(), "No scan running")
		return
	}
	cancel()
	<-done
}

func (s *session) cmdSet(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: set <source|dpi|color|align|brightness|contrast> <value>")
		return
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "source":
		s.opts.Source, err = parseSource(args[1])
	case "dpi", "resolution":
		s.opts.Resolution, err = strconv.Atoi(args[1])
	case "color":
		s.opts.ColorMode, err = parseColor(args[1])
	case "align":
		switch strings.ToLower(args[1]) {
		case "left":
			s.opts.Alignment = scan.AlignLeft
		case "center":
			s.opts.Alignment = scan.AlignCenter
		case "right":
			s.opts.Alignment = scan.AlignRight
		default:
			err = fmt.Errorf("unknown alignment: %s", args[1])
		}
	case "brightness":
		s.opts.Brightness, err = strconv.Atoi(args[1])
	case "contrast":
		s.opts.Contrast, err = strconv.Atoi(args[1])
	default:
		err = fmt.Errorf("unknown option: %s", args[0])
	}
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	s.cmdOptions()
}

func (s *session) cmdOptions() {
	o := s.opts
	fmt.Fprintf(s.rl.Stdout(),
		"source=%s dpi=%d color=%s page=%dx%d brightness=%d contrast=%d\n",
		o.Source, o.Resolution, o.ColorMode, o.PageSize.Width, o.PageSize.Height,
		o.Brightness, o.Contrast)
}

func (s *session) cmdProfiles() {
	if s.store == nil {
		fmt.Fprintln(s.rl.Stdout(), "Presets disabled (run with -profiles <path>)")
		return
	}
	profiles, err := s.store.List()
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if len(profiles) == 0 {
		fmt.Fprintln(s.rl.Stdout(), "No presets saved")
		return
	}
	defaultName := ""
	if def, err := s.store.GetDefault(); err == nil {
		defaultName = def.Name
	}
	for _, p := range profiles {
		marker := " "
		if p.Name == defaultName {
			marker = "*"
		}
		fmt.Fprintf(s.rl.Stdout(), "%s %-20s source=%s dpi=%d color=%s (saved %s)\n",
			marker, p.Name, p.Options.Source, p.Options.Resolution, p.Options.ColorMode,
			p.UpdatedAt.Format("2006-01-02 15:04"))
	}
}

func (s *session) cmdSave(args []string) {
	if s.store == nil {
		fmt.Fprintln(s.rl.Stdout(), "Presets disabled (run with -profiles <path>)")
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: save <name>")
		return
	}
	if err := s.store.Save(&profile.Profile{Name: args[0], Options: s.opts}); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Saved preset %q\n", args[0])
}

func (s *session) cmdLoad(args []string) {
	if s.store == nil {
		fmt.Fprintln(s.rl.Stdout(), "Presets disabled (run with -profiles <path>)")
		return
	}
	if len(args) > 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: load [name]")
		return
	}

	var p *profile.Profile
	var err error
	if len(args) == 0 {
		p, err = s.store.GetDefault()
	} else {
		p, err = s.store.Get(args[0])
	}
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	s.opts = p.Options
	s.cmdOptions()
}

func (s *session) cmdDefault(args []string) {
	if s.store == nil {
		fmt.Fprintln(s.rl.Stdout(), "Presets disabled (run with -profiles <path>)")
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: default <name>")
		return
	}
	if err := s.store.SetDefault(args[0]); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Default preset is now %q\n", args[0])
}

func (s *session) cmdDelete(args []string) {
	if s.store == nil {
		fmt.Fprintln(s.rl.Stdout(), "Presets disabled (run with -profiles <path>)")
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "Usage: delete <name>")
		return
	}
	if err := s.store.Delete(args[0]); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Deleted preset %q\n", args[0])
}
