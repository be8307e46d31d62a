package wire

import (
	"context"
	"errors"
	"fmt"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
)

// Status is the response status code on the worker channel. It carries
// the error class across the process boundary so the broker side can
// rebuild the matching typed error.
type Status uint8

const (
	// StatusSuccess indicates the operation completed.
	StatusSuccess Status = 0

	// StatusFailure is a generic failure without a finer class.
	StatusFailure Status = 1

	// StatusDeviceError is a native call failure; the payload preserves
	// the operation name and native code.
	StatusDeviceError Status = 2

	// StatusDeviceComm indicates a page payload did not survive transit
	// from the driver.
	StatusDeviceComm Status = 3

	// StatusNoFeeder indicates a feeder source was requested on a device
	// without one.
	StatusNoFeeder Status = 4

	// StatusNoDuplex indicates duplex was requested on a device that
	// cannot feed both sides.
	StatusNoDuplex Status = 5

	// StatusFeederEmpty indicates a feeder transfer produced zero pages.
	StatusFeederEmpty Status = 6

	// StatusNoDevices indicates enumeration found no devices.
	StatusNoDevices Status = 7

	// StatusCancelled indicates the operation stopped on a cancel request.
	StatusCancelled Status = 8

	// StatusUnsupported indicates the worker cannot serve the operation,
	// e.g. a probe for a capability it lacks.
	StatusUnsupported Status = 9
)

// IsSuccess returns true for the success status.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusDeviceError:
		return "deviceError"
	case StatusDeviceComm:
		return "deviceComm"
	case StatusNoFeeder:
		return "noFeeder"
	case StatusNoDuplex:
		return "noDuplex"
	case StatusFeederEmpty:
		return "feederEmpty"
	case StatusNoDevices:
		return "noDevices"
	case StatusCancelled:
		return "cancelled"
	case StatusUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// StatusOf classifies an error into a channel status with its payload.
// The worker side uses it to build the response for a failed operation.
func StatusOf(err error) (Status, *ErrorPayload) {
	if err == nil {
		return StatusSuccess, nil
	}

	payload := &ErrorPayload{Message: err.Error()}

	var de *scan.DeviceError
	if errors.As(err, &de) {
		payload.Code = int(de.Code)
		payload.Op = de.Op
		return StatusDeviceError, payload
	}
	var ce *scan.DeviceCommError
	if errors.As(err, &ce) {
		payload.Code = ce.Page
		return StatusDeviceComm, payload
	}

	switch {
	case errors.Is(err, scan.ErrNoFeederSupport):
		return StatusNoFeeder, payload
	case errors.Is(err, scan.ErrNoDuplexSupport):
		return StatusNoDuplex, payload
	case errors.Is(err, scan.ErrFeederEmpty):
		return StatusFeederEmpty, payload
	case errors.Is(err, scan.ErrNoDevices):
		return StatusNoDevices, payload
	case errors.Is(err, context.Canceled):
		return StatusCancelled, payload
	}

	var he *native.HandleError
	if errors.As(err, &he) {
		payload.Code = int(he.Code)
		return StatusDeviceError, payload
	}

	return StatusFailure, payload
}

// ErrorOf rebuilds the typed error for a failed response. The sentinel
// classes come back as the matching package sentinel so errors.Is works
// identically on both sides of the process boundary.
func ErrorOf(status Status, payload *ErrorPayload) error {
	if status.IsSuccess() {
		return nil
	}

	msg := ""
	if payload != nil {
		msg = payload.Message
	}

	switch status {
	case StatusDeviceError:
		if payload != nil {
			return &scan.DeviceError{Op: payload.Op, Code: native.Status(payload.Code)}
		}
		return &scan.DeviceError{Op: "remote", Code: native.StatusGeneralError}
	case StatusDeviceComm:
		page := 0
		if payload != nil {
			page = payload.Code
		}
		return &scan.DeviceCommError{Page: page, Err: errors.New(msg)}
	case StatusNoFeeder:
		return scan.ErrNoFeederSupport
	case StatusNoDuplex:
		return scan.ErrNoDuplexSupport
	case StatusFeederEmpty:
		return scan.ErrFeederEmpty
	case StatusNoDevices:
		return scan.ErrNoDevices
	case StatusCancelled:
		return context.Canceled
	case StatusUnsupported:
		if msg == "" {
			msg = "operation not supported by worker"
		}
		return errors.New(msg)
	}

	if msg == "" {
		return fmt.Errorf("remote operation failed with status %s", status)
	}
	return errors.New(msg)
}
