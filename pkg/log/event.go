package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the worker channel (UUID).
	// Empty for in-process events.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow for channel events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// DeviceID is the native device identifier, when known.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// WorkerProfile names the execution profile of the worker process
	// involved in the event, when one is.
	WorkerProfile string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Worker RPC layer
	NativeCall  *NativeCallEvent  `cbor:"12,keyasint,omitempty"` // Native library calls
	StateChange *StateChangeEvent `cbor:"13,keyasint,omitempty"` // Scan state machine
	Property    *PropertyEvent    `cbor:"14,keyasint,omitempty"` // Best-effort configuration
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerNative is the native scanning library boundary.
	LayerNative Layer = 0
	// LayerScan is the protocol state machine.
	LayerScan Layer = 1
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 2
	// LayerWorker is the worker RPC layer (decoded CBOR).
	LayerWorker Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerNative:
		return "NATIVE"
	case LayerScan:
		return "SCAN"
	case LayerTransport:
		return "TRANSPORT"
	case LayerWorker:
		return "WORKER"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (request/response/page).
	CategoryMessage Category = 0
	// CategoryNative indicates a native library call.
	CategoryNative Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryProperty indicates a property configuration attempt.
	CategoryProperty Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryNative:
		return "NATIVE"
	case CategoryState:
		return "STATE"
	case CategoryProperty:
		return "PROPERTY"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded RPC message at the worker layer.
type MessageEvent struct {
	// Type distinguishes request/response/page event.
	Type MessageType `cbor:"1,keyasint"`

	// MessageID correlates request/response pairs (0 for page events).
	MessageID uint32 `cbor:"2,keyasint"`

	// Operation is the request operation name, for requests.
	Operation string `cbor:"3,keyasint,omitempty"`

	// Status is the response status name, for responses.
	Status string `cbor:"4,keyasint,omitempty"`

	// PageSeq is the page sequence number, for page events.
	PageSeq uint32 `cbor:"5,keyasint,omitempty"`

	// PayloadSize is the encoded payload size in bytes.
	PayloadSize int `cbor:"6,keyasint,omitempty"`
}

// MessageType distinguishes RPC message kinds.
type MessageType uint8

const (
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 1
	// MessageTypePage indicates a streamed page event.
	MessageTypePage MessageType = 2
	// MessageTypeControl indicates a control message.
	MessageTypeControl MessageType = 3
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	case MessageTypePage:
		return "PAGE"
	case MessageTypeControl:
		return "CONTROL"
	default:
		return "UNKNOWN"
	}
}

// NativeCallEvent captures one call into the native scanning library.
type NativeCallEvent struct {
	// Call is the native entry point name (e.g. "Download", "OpenDevice").
	Call string `cbor:"1,keyasint"`

	// Status is the native status code returned, 0 on success.
	Status int `cbor:"2,keyasint,omitempty"`

	// Duration is how long the call blocked the native lock.
	Duration time.Duration `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures scan state machine transitions.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// PropertyEvent captures one best-effort property configuration attempt.
// Failed or adjusted property sets are recorded here for diagnostics
// instead of aborting configuration.
type PropertyEvent struct {
	// Property is the native property ID.
	Property uint32 `cbor:"1,keyasint"`

	// Requested is the value the caller asked for.
	Requested int `cbor:"2,keyasint"`

	// Applied is the value actually set (closest supported).
	Applied int `cbor:"3,keyasint"`

	// Failed indicates the driver rejected the property entirely.
	Failed bool `cbor:"4,keyasint,omitempty"`

	// Message carries the driver error text when Failed is set.
	Message string `cbor:"5,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the native error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
