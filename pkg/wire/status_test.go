package wire

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/scan"
)

func TestStatusOfClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"nil", nil, StatusSuccess},
		{"no feeder", scan.ErrNoFeederSupport, StatusNoFeeder},
		{"no duplex", scan.ErrNoDuplexSupport, StatusNoDuplex},
		{"feeder empty", scan.ErrFeederEmpty, StatusFeederEmpty},
		{"no devices", scan.ErrNoDevices, StatusNoDevices},
		{"wrapped sentinel", fmt.Errorf("scan failed: %w", scan.ErrFeederEmpty), StatusFeederEmpty},
		{"context cancelled", context.Canceled, StatusCancelled},
		{"generic", errors.New("boom"), StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := StatusOf(tt.err)
			if got != tt.want {
				t.Errorf("StatusOf(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusOfDeviceError(t *testing.T) {
	err := &scan.DeviceError{Op: "download", Code: native.StatusDeviceBusy}

	status, payload := StatusOf(err)
	if status != StatusDeviceError {
		t.Fatalf("status = %v, want StatusDeviceError", status)
	}
	if payload.Op != "download" || payload.Code != int(native.StatusDeviceBusy) {
		t.Errorf("payload = %+v, want op/code preserved", payload)
	}
}

func TestStatusOfHandleError(t *testing.T) {
	err := &native.HandleError{Kind: "device", Code: native.StatusOffline}

	status, payload := StatusOf(err)
	if status != StatusDeviceError {
		t.Fatalf("status = %v, want StatusDeviceError", status)
	}
	if payload.Code != int(native.StatusOffline) {
		t.Errorf("code = %d, want %d", payload.Code, int(native.StatusOffline))
	}
}

// TestErrorRoundTrip verifies errors.Is/As behave identically on both
// sides of the process boundary.
func TestErrorRoundTrip(t *testing.T) {
	sentinels := []error{
		scan.ErrNoFeederSupport,
		scan.ErrNoDuplexSupport,
		scan.ErrFeederEmpty,
		scan.ErrNoDevices,
		context.Canceled,
	}
	for _, sentinel := range sentinels {
		status, payload := StatusOf(sentinel)
		rebuilt := ErrorOf(status, payload)
		if !errors.Is(rebuilt, sentinel) {
			t.Errorf("round trip of %v lost identity: got %v", sentinel, rebuilt)
		}
	}
}

func TestErrorRoundTripDeviceError(t *testing.T) {
	orig := &scan.DeviceError{Op: "native dialog", Code: native.StatusDeviceComm}

	status, payload := StatusOf(orig)
	rebuilt := ErrorOf(status, payload)

	var de *scan.DeviceError
	if !errors.As(rebuilt, &de) {
		t.Fatalf("rebuilt error is %T, want *scan.DeviceError", rebuilt)
	}
	if de.Op != orig.Op || de.Code != orig.Code {
		t.Errorf("got op=%q code=%v, want op=%q code=%v", de.Op, de.Code, orig.Op, orig.Code)
	}
}

func TestErrorRoundTripDeviceCommError(t *testing.T) {
	orig := &scan.DeviceCommError{Page: 4, Err: errors.New("short payload")}

	status, payload := StatusOf(orig)
	rebuilt := ErrorOf(status, payload)

	var ce *scan.DeviceCommError
	if !errors.As(rebuilt, &ce) {
		t.Fatalf("rebuilt error is %T, want *scan.DeviceCommError", rebuilt)
	}
	if ce.Page != 4 {
		t.Errorf("page = %d, want 4", ce.Page)
	}
}

func TestErrorOfSuccess(t *testing.T) {
	if err := ErrorOf(StatusSuccess, nil); err != nil {
		t.Errorf("ErrorOf(success) = %v, want nil", err)
	}
}

func TestErrorOfMissingPayload(t *testing.T) {
	if err := ErrorOf(StatusFailure, nil); err == nil {
		t.Error("ErrorOf(failure, nil) must still produce an error")
	}
	if err := ErrorOf(StatusDeviceError, nil); err == nil {
		t.Error("ErrorOf(deviceError, nil) must still produce an error")
	}
}
