package scan

import (
	"context"
	"testing"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/sim"
)

func TestCapabilitiesFullFeatured(t *testing.T) {
	m, drv := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{feederDevice(3)}})

	caps, err := m.Capabilities(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{})
	if err != nil {
		t.Fatalf("capabilities failed: %v", err)
	}

	if !caps.SupportsFlatbed() {
		t.Error("flatbed not reported")
	}
	if !caps.SupportsFeeder() {
		t.Error("feeder not reported")
	}
	if !caps.SupportsDuplex {
		t.Error("duplex not reported")
	}
	if !caps.CanCheckFeederHasPaper {
		t.Error("paper detection not reported")
	}

	if got := drv.OpenHandles(); got != 0 {
		t.Errorf("%d handles still open after capability query", got)
	}
	if got := drv.TokenFaults(); got != 0 {
		t.Errorf("%d native calls arrived without the guard held", got)
	}
}

func TestCapabilitiesFeederOnly(t *testing.T) {
	device := &sim.DeviceConfig{
		ID: "dev-1", Name: "Sheetfed", HasFeeder: true, FeederPages: 1,
	}
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	caps, err := m.Capabilities(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{})
	if err != nil {
		t.Fatalf("capabilities failed: %v", err)
	}

	if caps.SupportsFlatbed() {
		t.Error("flatbed reported on a sheetfed device")
	}
	if !caps.SupportsFeeder() {
		t.Error("feeder not reported")
	}
	if caps.SupportsDuplex {
		t.Error("duplex reported on a simplex device")
	}
}

func TestCapabilitiesResolutionRange(t *testing.T) {
	device := flatbedDevice()
	device.Resolutions = native.PropertyAttributes{
		Shape: native.AttrRange, Min: 100, Max: 600, Step: 50,
	}
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	caps, err := m.Capabilities(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{})
	if err != nil {
		t.Fatalf("capabilities failed: %v", err)
	}

	res := caps.Flatbed.Resolutions
	if !res.IsRange() {
		t.Fatalf("expected a range, got %+v", res)
	}
	if res.Min != 100 || res.Max != 600 || res.Step != 50 {
		t.Errorf("range = %+v, want 100..600 step 50", res)
	}
}

func TestCapabilitiesResolutionList(t *testing.T) {
	device := flatbedDevice()
	device.Resolutions = native.PropertyAttributes{
		Shape: native.AttrList, Values: []int{100, 200, 300, 600},
	}
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	caps, err := m.Capabilities(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{})
	if err != nil {
		t.Fatalf("capabilities failed: %v", err)
	}

	res := caps.Flatbed.Resolutions
	if res.IsRange() {
		t.Fatalf("expected a value set, got %+v", res)
	}
	if len(res.Values) != 4 {
		t.Errorf("values = %v, want 4 entries", res.Values)
	}
}

func TestCapabilitiesColorModes(t *testing.T) {
	device := flatbedDevice()
	device.DataTypes = []int{native.DataGrayscale}
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	caps, err := m.Capabilities(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{})
	if err != nil {
		t.Fatalf("capabilities failed: %v", err)
	}

	fb := caps.Flatbed
	if fb.SupportsColor || fb.SupportsBlackAndWhite {
		t.Errorf("unsupported modes reported: %+v", fb)
	}
	if !fb.SupportsGrayscale {
		t.Error("grayscale not reported")
	}
}

func TestCapabilitiesBedGeometry(t *testing.T) {
	device := flatbedDevice()
	device.BedWidth = 11700
	device.BedHeight = 17000
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	caps, err := m.Capabilities(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{})
	if err != nil {
		t.Fatalf("capabilities failed: %v", err)
	}

	if caps.Flatbed.MaxWidth != 11700 || caps.Flatbed.MaxHeight != 17000 {
		t.Errorf("bed geometry = %dx%d, want 11700x17000",
			caps.Flatbed.MaxWidth, caps.Flatbed.MaxHeight)
	}
}

func TestCapabilitiesUnknownDevice(t *testing.T) {
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{flatbedDevice()}})

	if _, err := m.Capabilities(context.Background(), DeviceDescriptor{ID: "ghost"}, Options{}); err == nil {
		t.Error("expected error for unknown device")
	}
}
