package worker

import (
	"math/bits"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// Bitness is the pointer width of a driver binding or process.
type Bitness uint8

const (
	// Bitness32 marks a 32-bit driver or worker executable.
	Bitness32 Bitness = 32

	// Bitness64 marks a 64-bit driver or worker executable.
	Bitness64 Bitness = 64
)

// String returns the bitness name.
func (b Bitness) String() string {
	switch b {
	case Bitness32:
		return "32-bit"
	case Bitness64:
		return "64-bit"
	default:
		return "unknown"
	}
}

// HostBitness returns the bitness of the running process.
func HostBitness() Bitness {
	if bits.UintSize == 32 {
		return Bitness32
	}
	return Bitness64
}

// ExecutionProfile describes one way to reach a native driver binding:
// either in this process or through a worker executable of a specific
// bitness.
type ExecutionProfile struct {
	// Name labels the profile in logs and errors, e.g. "imaging-32".
	Name string

	// Kind is the driver binding the profile serves.
	Kind native.DriverKind

	// Bitness of the binding. A profile whose bitness differs from the
	// host's always needs a worker process.
	Bitness Bitness

	// Command is the worker executable path. Empty means the binding
	// loads in-process; such a profile must match the host bitness.
	Command string

	// Args are extra arguments for the worker executable.
	Args []string

	// Capability is probed on the worker before first use. Empty skips
	// the probe; the profile is assumed usable once the process starts.
	Capability string
}

// InProcess reports whether the profile loads the binding directly.
func (p ExecutionProfile) InProcess() bool {
	return p.Command == ""
}

// Compatible reports whether the profile can run on this host at all.
// An in-process profile of foreign bitness can never load.
func (p ExecutionProfile) Compatible() bool {
	if p.InProcess() {
		return p.Bitness == HostBitness()
	}
	return true
}
