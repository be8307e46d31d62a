package scan

import (
	"errors"
	"fmt"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

// Scan errors.
var (
	// ErrNoFeederSupport indicates a feeder source was requested on a
	// device without a document feeder. Checked before any transfer call.
	ErrNoFeederSupport = errors.New("device has no feeder support")

	// ErrNoDuplexSupport indicates duplex was requested on a device that
	// cannot feed both sides. Checked before any transfer call.
	ErrNoDuplexSupport = errors.New("device has no duplex support")

	// ErrFeederEmpty indicates a feeder transfer completed with zero pages
	// and was not cancelled.
	ErrFeederEmpty = errors.New("feeder is empty")

	// ErrNoDevices indicates enumeration found no devices.
	ErrNoDevices = errors.New("no scanning devices found")
)

// DeviceError is a generic native failure with the code preserved for
// diagnostics.
type DeviceError struct {
	// Op names the operation that failed.
	Op string

	// Code is the native status code.
	Code native.Status
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error during %s: %s (code %d)", e.Op, e.Code, int(e.Code))
}

// DeviceCommError indicates a page payload could not be decoded. The
// payload is assumed truncated or corrupted by a transport problem, not a
// bad image.
type DeviceCommError struct {
	// Page is the 1-based page number being decoded.
	Page int

	// Err is the underlying decode error.
	Err error
}

// Error implements the error interface.
func (e *DeviceCommError) Error() string {
	return fmt.Sprintf("device communication error on page %d: %v", e.Page, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *DeviceCommError) Unwrap() error {
	return e.Err
}

// deviceErr builds a DeviceError for a failed native call.
func deviceErr(op string, code native.Status) error {
	return &DeviceError{Op: op, Code: code}
}

// isInvalidArgument reports whether err is a native invalid-argument class
// failure, the trigger for the one-shot version fallback.
func isInvalidArgument(err error) bool {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code == native.StatusInvalidArgument
	}
	var he *native.HandleError
	if errors.As(err, &he) {
		return he.Code == native.StatusInvalidArgument
	}
	return false
}
