package scan

import (
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
)

// State is a scan state machine state.
type State uint8

const (
	// StateIdle means no operation is in progress.
	StateIdle State = 0

	// StateEnumerating means the device list is being walked.
	StateEnumerating State = 1

	// StateNegotiating means capabilities are being queried.
	StateNegotiating State = 2

	// StateConfiguring means transfer properties are being applied.
	StateConfiguring State = 3

	// StateTransferring means the download loop is running.
	StateTransferring State = 4

	// StateCompleted is the successful terminal state.
	StateCompleted State = 5

	// StateCancelled is the cancelled terminal state.
	StateCancelled State = 6

	// StateFailed is the error terminal state.
	StateFailed State = 7
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateEnumerating:
		return "ENUMERATING"
	case StateNegotiating:
		return "NEGOTIATING_CAPABILITIES"
	case StateConfiguring:
		return "CONFIGURING"
	case StateTransferring:
		return "TRANSFERRING"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// transition emits a state-change event and returns the new state.
func (m *Machine) transition(deviceID string, from, to State, reason string) State {
	m.logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerScan,
		Category:  log.CategoryState,
		DeviceID:  deviceID,
		StateChange: &log.StateChangeEvent{
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
	return to
}
