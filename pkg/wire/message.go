package wire

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
)

// MessageID 0 is reserved for stream events and control messages.
const StreamMessageID uint32 = 0

// Request is one operation sent from the broker to a worker.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32, > 0
//	  2: operation,   // uint8, see Operation
//	  3: payload      // operation-specific, CBOR-encoded
//	}
type Request struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Operation Operation       `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Response terminates one request.
//
// CBOR encoding:
//
//	{
//	  1: messageId,   // uint32: matches request
//	  2: status,      // uint8: 0=success, or error code
//	  3: payload      // operation-specific response data, or ErrorPayload
//	}
type Response struct {
	MessageID uint32          `cbor:"1,keyasint"`
	Status    Status          `cbor:"2,keyasint"`
	Payload   cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}

// StreamKind distinguishes the stream event kinds. Values start above the
// control message range so messageId-0 frames stay distinguishable.
type StreamKind uint8

const (
	// StreamPage carries one page payload.
	StreamPage StreamKind = 10

	// StreamProgress carries a progress fraction.
	StreamProgress StreamKind = 11
)

// String returns the stream kind name.
func (k StreamKind) String() string {
	switch k {
	case StreamPage:
		return "page"
	case StreamProgress:
		return "progress"
	default:
		return "unknown"
	}
}

// StreamEvent is a page or progress event for an active scan request.
// Events for one request carry strictly increasing sequence numbers; the
// receiving side delivers them to the caller in sequence order.
//
// CBOR encoding:
//
//	{
//	  1: 0,           // messageId 0 = stream event
//	  2: kind,        // uint8: 10=page, 11=progress
//	  3: requestId,   // uint32: the scan request this belongs to
//	  4: seq,         // uint32: per-request ordering
//	  5: progress,    // float: fraction for progress events
//	  6: payload      // bytes: PNG page data for page events
//	}
type StreamEvent struct {
	MessageID uint32     `cbor:"1,keyasint"`
	Kind      StreamKind `cbor:"2,keyasint"`
	RequestID uint32     `cbor:"3,keyasint"`
	Seq       uint32     `cbor:"4,keyasint,omitempty"`
	Progress  float64    `cbor:"5,keyasint,omitempty"`
	Payload   []byte     `cbor:"6,keyasint,omitempty"`
}

// ControlMessage is a channel-level control message.
type ControlMessage struct {
	MessageID uint32             `cbor:"1,keyasint"` // always 0
	Type      ControlMessageType `cbor:"2,keyasint"`

	// RequestID targets cancel at a specific in-flight request.
	RequestID uint32 `cbor:"3,keyasint,omitempty"`
}

// ControlMessageType represents the type of control message.
type ControlMessageType uint8

const (
	// ControlPing is sent to check channel liveness.
	ControlPing ControlMessageType = 1

	// ControlPong is the response to a ping.
	ControlPong ControlMessageType = 2

	// ControlClose initiates graceful channel close.
	ControlClose ControlMessageType = 3

	// ControlCancel requests cancellation of an in-flight transfer. The
	// worker acknowledges by terminating its download loop and sending a
	// final response with StatusCancelled.
	ControlCancel ControlMessageType = 4
)

// String returns the control message type name.
func (t ControlMessageType) String() string {
	switch t {
	case ControlPing:
		return "ping"
	case ControlPong:
		return "pong"
	case ControlClose:
		return "close"
	case ControlCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// EnumeratePayload is the payload for an Enumerate request.
type EnumeratePayload struct {
	Version native.APIVersion `cbor:"1,keyasint,omitempty"`
}

// EnumerateResponsePayload is the payload for an Enumerate response.
type EnumerateResponsePayload struct {
	Devices []scan.DeviceDescriptor `cbor:"1,keyasint,omitempty"`
}

// CapabilitiesPayload is the payload for a Capabilities request.
type CapabilitiesPayload struct {
	Device  scan.DeviceDescriptor `cbor:"1,keyasint"`
	Options scan.Options          `cbor:"2,keyasint"`
}

// CapabilitiesResponsePayload is the payload for a Capabilities response.
type CapabilitiesResponsePayload struct {
	Caps scan.Capabilities `cbor:"1,keyasint"`
}

// ScanPayload is the payload for a Scan request.
type ScanPayload struct {
	Device  scan.DeviceDescriptor `cbor:"1,keyasint"`
	Options scan.Options          `cbor:"2,keyasint"`
}

// ScanResponsePayload is the payload for a Scan response.
type ScanResponsePayload struct {
	// Pages is the number of pages streamed before completion.
	Pages uint32 `cbor:"1,keyasint"`

	// Cancelled reports the scan stopped on a cancellation request.
	Cancelled bool `cbor:"2,keyasint,omitempty"`
}

// QueryUIPayload is the payload for a QueryUI request.
type QueryUIPayload struct {
	Device  scan.DeviceDescriptor `cbor:"1,keyasint"`
	Options scan.Options          `cbor:"2,keyasint"`
}

// QueryUIResponsePayload is the payload for a QueryUI response.
type QueryUIResponsePayload struct {
	Result native.UIResult `cbor:"1,keyasint"`
}

// ProbePayload is the payload for a Probe request.
type ProbePayload struct {
	// Capability names the native capability to probe, e.g. a driver
	// module that only loads in a matching process.
	Capability string `cbor:"1,keyasint"`
}

// ProbeResponsePayload is the payload for a Probe response.
type ProbeResponsePayload struct {
	OK bool `cbor:"1,keyasint"`
}

// ErrorPayload carries error details in a failed response.
type ErrorPayload struct {
	// Message is the human-readable error message.
	Message string `cbor:"1,keyasint,omitempty"`

	// Code is the native status code, when the failure preserves one.
	Code int `cbor:"2,keyasint,omitempty"`

	// Op names the native operation that failed, for DeviceError.
	Op string `cbor:"3,keyasint,omitempty"`
}
