package scan

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// Placeholder names some drivers report instead of a real device name.
// Substituted with a generic display name; a driver-quality workaround,
// not a correctness requirement.
var placeholderNames = []string{
	"",
	"no friendly name",
}

// genericDisplayName is used when the driver reports a placeholder name.
const genericDisplayName = "Scanner"

// Machine drives scan protocol operations against one native driver
// binding. A Machine is safe for concurrent use; calls into the native
// library serialize on the handle manager's guard.
type Machine struct {
	handles  *native.Manager
	logger   log.Logger
	appLog   *slog.Logger
	statuses StatusTable
}

// Config configures a Machine.
type Config struct {
	// Logger receives protocol events. Nil disables protocol logging.
	Logger log.Logger

	// AppLog receives operational log lines. Nil uses slog.Default.
	AppLog *slog.Logger

	// Statuses overrides the terminal-status table. Nil uses defaults.
	Statuses StatusTable
}

// NewMachine creates a scan state machine over the given handle manager.
func NewMachine(handles *native.Manager, cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NoopLogger{}
	}
	appLog := cfg.AppLog
	if appLog == nil {
		appLog = slog.Default()
	}
	statuses := cfg.Statuses
	if statuses == nil {
		statuses = DefaultStatusTable()
	}
	return &Machine{
		handles:  handles,
		logger:   logger,
		appLog:   appLog,
		statuses: statuses,
	}
}

// Kind reports the driver kind this machine orchestrates.
func (m *Machine) Kind() native.DriverKind {
	return m.handles.Driver().Kind()
}

// resolveVersion maps VersionDefault onto the concrete version the stack
// negotiates first.
func resolveVersion(v native.APIVersion) native.APIVersion {
	if v == native.VersionDefault {
		return native.Version2
	}
	return v
}

// withVersionFallback runs op against the resolved protocol version. If
// the newer version fails with an invalid-argument class error while the
// native UI is off and the caller did not pin a version, the operation is
// retried exactly once against the older version. One-shot, not a retry
// loop.
func (m *Machine) withVersionFallback(opts Options, op func(version native.APIVersion) error) error {
	version := resolveVersion(opts.Version)

	err := op(version)
	if err == nil {
		return nil
	}

	if opts.Version == native.VersionDefault && !opts.UseNativeUI &&
		version == native.Version2 && isInvalidArgument(err) {
		m.appLog.Debug("version negotiation failed, retrying with older version",
			"error", err)
		return op(native.Version1)
	}
	return err
}

// EnumerateDevices walks the native device list and returns a descriptor
// for each device. A single device's property read may fail without
// aborting the full list; failed devices are logged and skipped.
func (m *Machine) EnumerateDevices(ctx context.Context, version native.APIVersion) ([]DeviceDescriptor, error) {
	state := m.transition("", StateIdle, StateEnumerating, "")
	defer func() { m.transition("", state, StateIdle, "") }()

	var devices []DeviceDescriptor
	err := m.handles.With(func(tok *native.Token) error {
		mgr, err := m.handles.Acquire(tok, "manager", func(tok *native.Token) uintptr {
			return m.handles.Driver().OpenManager(tok, resolveVersion(version))
		})
		if err != nil {
			return err
		}
		defer mgr.CloseWith(tok)

		mgrRaw, err := mgr.Raw(tok)
		if err != nil {
			return err
		}

		for index := 0; ; index++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			info, err := m.handles.Acquire(tok, "device-info", func(tok *native.Token) uintptr {
				return m.handles.Driver().EnumDeviceInfo(tok, mgrRaw, index)
			})
			if err != nil {
				if isNoMoreItems(err) {
					return nil
				}
				return err
			}

			desc, ok := m.readDescriptor(tok, info)
			// Release the info handle immediately after copying out the
			// descriptor; only the copied strings survive.
			info.CloseWith(tok)
			if ok {
				devices = append(devices, desc)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// readDescriptor copies id and name out of a device-info handle.
// Returns ok=false when the device's properties cannot be read; the
// device is skipped rather than failing the whole enumeration.
func (m *Machine) readDescriptor(tok *native.Token, info *native.Handle) (DeviceDescriptor, bool) {
	raw, err := info.Raw(tok)
	if err != nil {
		return DeviceDescriptor{}, false
	}

	drv := m.handles.Driver()
	id, status := drv.GetPropertyString(tok, raw, native.PropDeviceID)
	if !status.IsOK() || id == "" {
		m.appLog.Warn("skipping device with unreadable ID", "status", status.String())
		return DeviceDescriptor{}, false
	}

	name, status := drv.GetPropertyString(tok, raw, native.PropDeviceName)
	if !status.IsOK() {
		name = ""
	}
	if isPlaceholderName(name) {
		name = genericDisplayName
	}

	return DeviceDescriptor{Kind: drv.Kind(), ID: id, DisplayName: name}, true
}

// isPlaceholderName reports whether a driver-reported name is a known
// placeholder rather than a real friendly name.
func isPlaceholderName(name string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	for _, p := range placeholderNames {
		if trimmed == p {
			return true
		}
	}
	return false
}

// isNoMoreItems reports whether err is the enumeration terminator.
func isNoMoreItems(err error) bool {
	var he *native.HandleError
	if errors.As(err, &he) {
		return he.Code == native.StatusNoMoreItems
	}
	return false
}

// openDevice opens a device handle for the given descriptor under an open
// manager handle.
func (m *Machine) openDevice(tok *native.Token, mgrRaw uintptr, device DeviceDescriptor) (*native.Handle, error) {
	return m.handles.Acquire(tok, "device", func(tok *native.Token) uintptr {
		return m.handles.Driver().OpenDevice(tok, mgrRaw, device.ID)
	})
}
