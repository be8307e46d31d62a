package wire

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for channel messages.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for channel messages.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient decoding for forward compatibility between broker and
	// worker binaries of slightly different builds.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder creates a CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodeRequest encodes a request message with a typed payload.
func EncodeRequest(id uint32, op Operation, payload any) ([]byte, error) {
	if id == StreamMessageID {
		return nil, fmt.Errorf("messageId 0 is reserved for stream and control messages")
	}
	if !op.IsValid() {
		return nil, fmt.Errorf("invalid operation: %d", op)
	}

	raw, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request payload: %w", err)
	}
	return Marshal(&Request{MessageID: id, Operation: op, Payload: raw})
}

// DecodeRequest decodes CBOR bytes into a request message.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	if req.MessageID == StreamMessageID {
		return nil, fmt.Errorf("invalid request: messageId 0")
	}
	if !req.Operation.IsValid() {
		return nil, fmt.Errorf("invalid request operation: %d", req.Operation)
	}
	return &req, nil
}

// EncodeResponse encodes a response message with a typed payload.
// A nil payload encodes as an empty payload.
func EncodeResponse(id uint32, status Status, payload any) ([]byte, error) {
	resp := &Response{MessageID: id, Status: status}
	if payload != nil {
		raw, err := Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode response payload: %w", err)
		}
		resp.Payload = raw
	}
	return Marshal(resp)
}

// DecodeResponse decodes CBOR bytes into a response message.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// EncodeStreamEvent encodes a page or progress event.
func EncodeStreamEvent(ev *StreamEvent) ([]byte, error) {
	ev.MessageID = StreamMessageID
	return Marshal(ev)
}

// DecodeStreamEvent decodes CBOR bytes into a stream event.
func DecodeStreamEvent(data []byte) (*StreamEvent, error) {
	var ev StreamEvent
	if err := Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode stream event: %w", err)
	}
	return &ev, nil
}

// EncodeControlMessage encodes a control message (ping/pong/close/cancel).
func EncodeControlMessage(msg *ControlMessage) ([]byte, error) {
	return Marshal(msg)
}

// DecodeControlMessage decodes CBOR bytes into a control message.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode control message: %w", err)
	}
	return &msg, nil
}

// MessageType represents the type of a decoded message.
type MessageType int

const (
	MessageTypeUnknown MessageType = iota
	MessageTypeRequest
	MessageTypeResponse
	MessageTypeStream
	MessageTypeControl
)

// PeekMessageType examines CBOR data to determine the message type
// without fully decoding it.
//
// Detection logic:
//   - messageId (key 1) > 0: a request or response; fromWorker picks which
//     side of the channel produced the frame
//   - messageId 0 with key 2 in the control range: control message
//   - messageId 0 otherwise: stream event
func PeekMessageType(data []byte, fromWorker bool) (MessageType, error) {
	var peek struct {
		MessageID uint32 `cbor:"1,keyasint"`
		Sub       uint8  `cbor:"2,keyasint"`
	}
	if err := Unmarshal(data, &peek); err != nil {
		return MessageTypeUnknown, fmt.Errorf("failed to peek message: %w", err)
	}

	if peek.MessageID != StreamMessageID {
		if fromWorker {
			return MessageTypeResponse, nil
		}
		return MessageTypeRequest, nil
	}

	if peek.Sub >= uint8(ControlPing) && peek.Sub <= uint8(ControlCancel) {
		return MessageTypeControl, nil
	}
	return MessageTypeStream, nil
}

// DecodePayload decodes a request or response payload into a typed value.
func DecodePayload(raw []byte, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
