package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
)

// ErrNoCompatibleWorker indicates no execution profile could serve the
// requested device: every candidate either failed to start, failed its
// capability probe, or cannot run on this host.
var ErrNoCompatibleWorker = errors.New("no compatible worker for device")

// Scanner is the device-facing surface shared by the in-process state
// machine and a worker channel. The broker hides which one serves a
// request.
type Scanner interface {
	EnumerateDevices(ctx context.Context, version native.APIVersion) ([]scan.DeviceDescriptor, error)
	Capabilities(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options) (*scan.Capabilities, error)
	Scan(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options, sink scan.Sink) error
	QueryUI(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options) (*native.UIResult, error)
}

// Interface checks.
var (
	_ Scanner = (*scan.Machine)(nil)
	_ Scanner = (*Channel)(nil)
)

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	// Local holds in-process state machines, at most one per driver
	// kind. A kind served locally is never routed to a worker.
	Local []*scan.Machine

	// Profiles are the worker execution profiles to consider, in
	// preference order.
	Profiles []ExecutionProfile

	// Logger receives protocol events. Nil disables protocol logging.
	Logger log.Logger

	// AppLog receives operational log lines. Nil uses slog.Default.
	AppLog *slog.Logger
}

// Broker routes scan operations to the in-process machine or to a
// bitness-matched worker process. Worker processes start lazily on
// first use, are reused while alive, and respawn with backoff after an
// unexpected exit.
type Broker struct {
	local    map[native.DriverKind]*scan.Machine
	profiles []ExecutionProfile
	logger   log.Logger
	appLog   *slog.Logger

	mu           sync.Mutex
	procs        map[string]*Process
	backoffs     map[string]*Backoff
	notBefore    map[string]time.Time
	incompatible map[string]bool

	closed bool
}

// NewBroker creates a broker over the given local machines and worker
// profiles.
func NewBroker(cfg BrokerConfig) *Broker {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	appLog := cfg.AppLog
	if appLog == nil {
		appLog = slog.Default()
	}

	local := make(map[native.DriverKind]*scan.Machine, len(cfg.Local))
	for _, m := range cfg.Local {
		local[m.Kind()] = m
	}

	return &Broker{
		local:        local,
		profiles:     cfg.Profiles,
		logger:       logger,
		appLog:       appLog,
		procs:        make(map[string]*Process),
		backoffs:     make(map[string]*Backoff),
		notBefore:    make(map[string]time.Time),
		incompatible: make(map[string]bool),
	}
}

// Close stops all worker processes.
func (b *Broker) Close() error {
	b.mu.Lock()
	procs := b.procs
	b.procs = make(map[string]*Process)
	b.closed = true
	b.mu.Unlock()

	var firstErr error
	for _, p := range procs {
		if err := p.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// scanners returns every reachable backend, local machines first.
// Unreachable profiles are skipped, not fatal.
func (b *Broker) scanners(ctx context.Context) []Scanner {
	var out []Scanner
	for _, m := range b.local {
		out = append(out, m)
	}
	for _, p := range b.profiles {
		if _, served := b.local[p.Kind]; served {
			continue
		}
		ch, err := b.channelFor(ctx, p)
		if err != nil {
			b.appLog.Debug("skipping worker profile", "profile", p.Name, "err", err)
			continue
		}
		out = append(out, ch)
	}
	return out
}

// scannerFor picks the backend serving one device's driver kind.
func (b *Broker) scannerFor(ctx context.Context, kind native.DriverKind) (Scanner, error) {
	if m, ok := b.local[kind]; ok {
		return m, nil
	}
	_, ch, err := b.SelectProfile(ctx, kind)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// candidates returns the profiles able to serve a driver kind, host
// bitness first so a matching binding wins over a foreign-bitness
// fallback. Configuration order is kept within each bitness group.
func (b *Broker) candidates(kind native.DriverKind) []ExecutionProfile {
	host := HostBitness()
	var out []ExecutionProfile
	for _, p := range b.profiles {
		if p.Kind == kind && p.Bitness == host {
			out = append(out, p)
		}
	}
	for _, p := range b.profiles {
		if p.Kind == kind && p.Bitness != host {
			out = append(out, p)
		}
	}
	return out
}

// SelectProfile picks the first profile that can serve the driver kind
// right now. Each candidate must start (or already be running) and pass
// its capability probe; candidates that fail are stopped before the
// next one is tried. When every candidate fails the error wraps
// ErrNoCompatibleWorker and no process or channel is left behind.
func (b *Broker) SelectProfile(ctx context.Context, kind native.DriverKind) (ExecutionProfile, *Channel, error) {
	var lastErr error
	for _, p := range b.candidates(kind) {
		ch, err := b.channelFor(ctx, p)
		if err != nil {
			lastErr = err
			continue
		}
		return p, ch, nil
	}

	if lastErr != nil {
		return ExecutionProfile{}, nil, fmt.Errorf("%w: %v", ErrNoCompatibleWorker, lastErr)
	}
	return ExecutionProfile{}, nil, ErrNoCompatibleWorker
}

// WithWorker runs body against a dedicated worker for the profile and
// stops that worker when body returns. The process is never pooled; use
// this for one-off jobs that must not pin a shared worker.
func (b *Broker) WithWorker(ctx context.Context, profile ExecutionProfile, body func(*Channel) error) error {
	proc, err := StartProcess(ctx, profile, b.logger, b.appLog)
	if err != nil {
		return err
	}
	defer func() { _ = proc.Stop() }()

	if profile.Capability != "" {
		ok, err := proc.Channel().Probe(ctx, profile.Capability)
		if err != nil {
			return fmt.Errorf("probe of profile %q failed: %w", profile.Name, err)
		}
		if !ok {
			return fmt.Errorf("profile %q lacks capability %q", profile.Name, profile.Capability)
		}
	}
	return body(proc.Channel())
}

// channelFor returns a live channel for the profile, starting or
// restarting its worker process as needed.
func (b *Broker) channelFor(ctx context.Context, profile ExecutionProfile) (*Channel, error) {
	if !profile.Compatible() {
		return nil, fmt.Errorf("profile %q needs a %s host", profile.Name, profile.Bitness)
	}
	if profile.InProcess() {
		return nil, fmt.Errorf("profile %q is in-process but has no local machine", profile.Name)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if b.incompatible[profile.Name] {
		b.mu.Unlock()
		return nil, fmt.Errorf("profile %q failed its capability probe", profile.Name)
	}
	if p, ok := b.procs[profile.Name]; ok && p.Alive() {
		b.mu.Unlock()
		return p.Channel(), nil
	}
	if until, ok := b.notBefore[profile.Name]; ok && time.Now().Before(until) {
		b.mu.Unlock()
		return nil, fmt.Errorf("profile %q backing off until %s", profile.Name, until.Format(time.RFC3339))
	}
	backoff, ok := b.backoffs[profile.Name]
	if !ok {
		backoff = NewBackoff()
		b.backoffs[profile.Name] = backoff
	}
	b.mu.Unlock()

	proc, err := StartProcess(ctx, profile, b.logger, b.appLog)
	if err != nil {
		b.deferProfile(profile.Name, backoff)
		return nil, err
	}

	if profile.Capability != "" {
		ok, err := proc.Channel().Probe(ctx, profile.Capability)
		if err != nil {
			_ = proc.Stop()
			b.deferProfile(profile.Name, backoff)
			return nil, fmt.Errorf("probe of profile %q failed: %w", profile.Name, err)
		}
		if !ok {
			_ = proc.Stop()
			b.mu.Lock()
			b.incompatible[profile.Name] = true
			b.mu.Unlock()
			return nil, fmt.Errorf("profile %q lacks capability %q", profile.Name, profile.Capability)
		}
	}

	backoff.Reset()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = proc.Stop()
		return nil, ErrChannelClosed
	}
	b.procs[profile.Name] = proc
	b.mu.Unlock()

	return proc.Channel(), nil
}

// deferProfile gates the next start attempt behind the backoff delay.
func (b *Broker) deferProfile(name string, backoff *Backoff) {
	delay := backoff.Next()
	b.mu.Lock()
	b.notBefore[name] = time.Now().Add(delay)
	b.mu.Unlock()
}

// EnumerateDevices lists devices across every reachable backend,
// deduplicated by (kind, id). Backends that fail to enumerate are
// skipped; the union of the rest is returned.
func (b *Broker) EnumerateDevices(ctx context.Context, version native.APIVersion) ([]scan.DeviceDescriptor, error) {
	backends := b.scanners(ctx)
	if len(backends) == 0 {
		return nil, ErrNoCompatibleWorker
	}

	var (
		devices []scan.DeviceDescriptor
		lastErr error
		failed  int
	)
	for _, s := range backends {
		found, err := s.EnumerateDevices(ctx, version)
		if err != nil {
			if errors.Is(err, scan.ErrNoDevices) {
				continue
			}
			failed++
			lastErr = err
			b.appLog.Warn("device enumeration failed on backend", "err", err)
			continue
		}
	next:
		for _, d := range found {
			for _, have := range devices {
				if have.Equal(d) {
					continue next
				}
			}
			devices = append(devices, d)
		}
	}

	if len(devices) == 0 {
		if failed == len(backends) && lastErr != nil {
			return nil, lastErr
		}
		return nil, scan.ErrNoDevices
	}
	return devices, nil
}

// Capabilities reads the capabilities of one device.
func (b *Broker) Capabilities(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options) (*scan.Capabilities, error) {
	s, err := b.scannerFor(ctx, device.Kind)
	if err != nil {
		return nil, err
	}
	return s.Capabilities(ctx, device, opts)
}

// QueryUI shows the driver's native dialog, in whichever process hosts
// the driver.
func (b *Broker) QueryUI(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options) (*native.UIResult, error) {
	s, err := b.scannerFor(ctx, device.Kind)
	if err != nil {
		return nil, err
	}
	return s.QueryUI(ctx, device, opts)
}

// Scan runs a scan on whichever backend hosts the device's driver.
//
// When the native dialog is requested and the driver lives in a worker
// process, the dialog runs there first; the user's changes come back as
// a settings delta and the scan proceeds with the dialog already
// resolved. A dismissed dialog returns nil with no pages, same as a
// cancelled scan.
func (b *Broker) Scan(ctx context.Context, device scan.DeviceDescriptor, opts scan.Options, sink scan.Sink) error {
	s, err := b.scannerFor(ctx, device.Kind)
	if err != nil {
		return err
	}

	if ch, remote := s.(*Channel); remote && opts.UseNativeUI && opts.AppliedUI == nil {
		result, err := ch.QueryUI(ctx, device, opts)
		if err != nil {
			return err
		}
		if !result.Accepted {
			return nil
		}
		opts.AppliedUI = result
		opts.UseNativeUI = false
	}

	return s.Scan(ctx, device, opts, sink)
}

// Interface check: the broker itself presents the Scanner surface.
var _ Scanner = (*Broker)(nil)
