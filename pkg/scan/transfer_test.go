package scan

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/sim"
)

// collectingSink records delivered pages and progress fractions.
type collectingSink struct {
	pages    []image.Image
	progress []float64
}

func (s *collectingSink) OnPage(img image.Image) { s.pages = append(s.pages, img) }

func (s *collectingSink) OnProgress(fraction float64) { s.progress = append(s.progress, fraction) }

func flatbedDevice() *sim.DeviceConfig {
	return &sim.DeviceConfig{
		ID:         "dev-1",
		Name:       "Flatbed Only",
		HasFlatbed: true,
	}
}

func feederDevice(pages int) *sim.DeviceConfig {
	return &sim.DeviceConfig{
		ID:                 "dev-1",
		Name:               "Department MFP",
		HasFlatbed:         true,
		HasFeeder:          true,
		HasDuplex:          true,
		DetectsFeederPaper: true,
		FeederPages:        pages,
	}
}

func TestScanFlatbedSinglePage(t *testing.T) {
	m, drv := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{flatbedDevice()}})

	sink := &collectingSink{}
	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		Source:     SourceFlatbed,
		Resolution: 300,
	}, sink)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(sink.pages) != 1 {
		t.Errorf("flatbed scan delivered %d pages, want exactly 1", len(sink.pages))
	}
	// One download per flatbed scan; there is no batch-done probe.
	if got := drv.DownloadCalls(); got != 1 {
		t.Errorf("flatbed scan made %d download calls, want exactly 1", got)
	}
	if got := drv.OpenHandles(); got != 0 {
		t.Errorf("%d handles still open after scan", got)
	}
	if got := drv.TokenFaults(); got != 0 {
		t.Errorf("%d native calls arrived without the guard held", got)
	}
}

func TestScanFeederBatch(t *testing.T) {
	const loaded = 4
	m, drv := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{feederDevice(loaded)}})

	sink := &collectingSink{}
	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		Source: SourceFeeder,
	}, sink)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(sink.pages) != loaded {
		t.Errorf("feeder scan delivered %d pages, want %d", len(sink.pages), loaded)
	}
	// N pages plus the final call that reports the batch done.
	if got := drv.DownloadCalls(); got != loaded+1 {
		t.Errorf("feeder scan made %d download calls, want %d", got, loaded+1)
	}
	if got := drv.OpenHandles(); got != 0 {
		t.Errorf("%d handles still open after scan", got)
	}
}

func TestScanDuplexDoublesPages(t *testing.T) {
	const sheets = 3
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{feederDevice(sheets)}})

	sink := &collectingSink{}
	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		Source: SourceDuplex,
	}, sink)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(sink.pages) != sheets*2 {
		t.Errorf("duplex scan delivered %d pages, want %d", len(sink.pages), sheets*2)
	}
}

func TestScanAutoResolvesToFlatbed(t *testing.T) {
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{feederDevice(5)}})

	sink := &collectingSink{}
	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		Source: SourceAuto,
	}, sink)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	// Auto on a device with a flatbed scans the bed, not the feeder batch.
	if len(sink.pages) != 1 {
		t.Errorf("auto scan delivered %d pages, want 1 (flatbed)", len(sink.pages))
	}
}

func TestScanFeederPreconditions(t *testing.T) {
	tests := []struct {
		name    string
		device  *sim.DeviceConfig
		source  PaperSource
		wantErr error
	}{
		{
			name:    "feeder on flatbed-only device",
			device:  flatbedDevice(),
			source:  SourceFeeder,
			wantErr: ErrNoFeederSupport,
		},
		{
			name: "duplex without duplex support",
			device: &sim.DeviceConfig{
				ID: "dev-1", Name: "Simplex", HasFeeder: true, FeederPages: 2,
			},
			source:  SourceDuplex,
			wantErr: ErrNoDuplexSupport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, drv := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{tt.device}})

			err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
				Source: tt.source,
			}, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
			if got := drv.OpenHandles(); got != 0 {
				t.Errorf("%d handles leaked on the precondition failure path", got)
			}
		})
	}
}

func TestScanFeederEmptyDetectedEarly(t *testing.T) {
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{feederDevice(0)}})

	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		Source: SourceFeeder,
	}, nil)
	if !errors.Is(err, ErrFeederEmpty) {
		t.Errorf("got %v, want ErrFeederEmpty", err)
	}
}

func TestScanFeederEmptyDetectedByTransfer(t *testing.T) {
	// Without paper detection the empty feeder only shows up when the
	// first download terminates immediately.
	device := &sim.DeviceConfig{
		ID: "dev-1", Name: "No Sensor", HasFeeder: true, FeederPages: 0,
	}
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		Source: SourceFeeder,
	}, nil)
	if !errors.Is(err, ErrFeederEmpty) {
		t.Errorf("got %v, want ErrFeederEmpty", err)
	}
}

func TestScanCancelledMidBatch(t *testing.T) {
	device := feederDevice(50)
	device.PageDelay = 50 * time.Millisecond
	m, drv := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pages := 0
	sink := SinkFuncs{
		Page: func(img image.Image) {
			pages++
			if pages == 2 {
				cancel()
			}
		},
	}

	err := m.Scan(ctx, DeviceDescriptor{ID: "dev-1"}, Options{Source: SourceFeeder}, sink)
	if err != nil {
		t.Fatalf("cancelled scan must not fail, got %v", err)
	}

	if pages >= 50 {
		t.Errorf("scan ran the whole batch despite cancellation")
	}
	if pages < 2 {
		t.Errorf("pages delivered before cancel were lost: %d", pages)
	}
	if got := drv.OpenHandles(); got != 0 {
		t.Errorf("%d handles still open after cancelled scan", got)
	}
}

func TestScanNativeUIDismissed(t *testing.T) {
	device := flatbedDevice()
	device.UI = &native.UIResult{Accepted: false}
	m, drv := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	sink := &collectingSink{}
	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		UseNativeUI: true,
	}, sink)
	if err != nil {
		t.Fatalf("dismissed dialog must not fail the scan, got %v", err)
	}

	if len(sink.pages) != 0 {
		t.Errorf("dismissed dialog still delivered %d pages", len(sink.pages))
	}
	if got := drv.OpenHandles(); got != 0 {
		t.Errorf("%d handles still open after dismissed dialog", got)
	}
}

func TestScanNativeUIFailure(t *testing.T) {
	device := flatbedDevice()
	device.UIStatus = native.StatusGeneralError
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		UseNativeUI: true,
	}, nil)

	var de *DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want DeviceError", err)
	}
	if de.Code != native.StatusGeneralError {
		t.Errorf("code = %v, want StatusGeneralError", de.Code)
	}
}

func TestScanAppliedUIDelta(t *testing.T) {
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{feederDevice(2)}})

	sink := &collectingSink{}
	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		AppliedUI: &native.UIResult{
			Accepted: true,
			ItemName: "Flatbed",
			Changed: map[native.PropertyID]int{
				native.PropHorizontalResolution: 150,
			},
		},
	}, sink)
	if err != nil {
		t.Fatalf("scan with applied UI delta failed: %v", err)
	}
	if len(sink.pages) == 0 {
		t.Error("scan with applied UI delta delivered no pages")
	}
}

func TestScanDownloadFailure(t *testing.T) {
	device := flatbedDevice()
	device.DownloadStatus = native.StatusDeviceComm
	m, drv := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		Source: SourceFlatbed,
	}, nil)

	var de *DeviceError
	if !errors.As(err, &de) {
		t.Fatalf("got %v, want DeviceError", err)
	}
	if de.Code != native.StatusDeviceComm {
		t.Errorf("code = %v, want StatusDeviceComm", de.Code)
	}
	if got := drv.OpenHandles(); got != 0 {
		t.Errorf("%d handles still open after failed scan", got)
	}
}

func TestScanUnknownDevice(t *testing.T) {
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{flatbedDevice()}})

	err := m.Scan(context.Background(), DeviceDescriptor{ID: "nope"}, Options{}, nil)

	var he *native.HandleError
	if !errors.As(err, &he) {
		t.Fatalf("got %v, want HandleError", err)
	}
	if he.Code != native.StatusOffline {
		t.Errorf("code = %v, want StatusOffline", he.Code)
	}
}

func TestQueryUIReturnsDelta(t *testing.T) {
	device := flatbedDevice()
	device.UI = &native.UIResult{
		Accepted: true,
		ItemName: "Flatbed",
		Changed:  map[native.PropertyID]int{native.PropBrightness: 20},
	}
	m, drv := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{device}})

	result, err := m.QueryUI(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	if !result.Accepted || result.ItemName != "Flatbed" {
		t.Errorf("result = %+v", result)
	}
	if result.Changed[native.PropBrightness] != 20 {
		t.Errorf("changed delta lost: %+v", result.Changed)
	}
	if got := drv.OpenHandles(); got != 0 {
		t.Errorf("%d handles still open after UI query", got)
	}
}

func TestScanProgressForwarded(t *testing.T) {
	m, _ := newTestMachine(sim.Config{Devices: []*sim.DeviceConfig{flatbedDevice()}})

	sink := &collectingSink{}
	err := m.Scan(context.Background(), DeviceDescriptor{ID: "dev-1"}, Options{
		Source: SourceFlatbed,
	}, sink)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}

	if len(sink.progress) == 0 {
		t.Fatal("no progress callbacks delivered")
	}
	for _, f := range sink.progress {
		if f < 0 || f > 1 {
			t.Errorf("progress fraction %v out of [0,1]", f)
		}
	}
}
