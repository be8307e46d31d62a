package sim

import (
	"testing"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/imaging"
	"github.com/scanbridge-protocol/scanbridge-go/pkg/native"
)

func lockedToken(t *testing.T) (*native.Token, func()) {
	t.Helper()
	var g native.Guard
	tok := g.Lock()
	return tok, tok.Unlock
}

func TestTokenFaultRecorded(t *testing.T) {
	d := New(Config{Devices: []*DeviceConfig{{ID: "dev-1"}}})

	var g native.Guard
	tok := g.Lock()
	tok.Unlock()

	if h := d.OpenManager(tok, native.Version2); h != 0 {
		t.Error("open succeeded with a dead token")
	}
	if got := d.TokenFaults(); got != 1 {
		t.Errorf("token faults = %d, want 1", got)
	}
}

func TestEnumerationTerminates(t *testing.T) {
	d := New(Config{Devices: []*DeviceConfig{{ID: "dev-1"}, {ID: "dev-2"}}})
	tok, unlock := lockedToken(t)
	defer unlock()

	mgr := d.OpenManager(tok, native.Version2)
	if mgr == 0 {
		t.Fatal("manager open failed")
	}

	if h := d.EnumDeviceInfo(tok, mgr, 0); h == 0 {
		t.Error("index 0 not found")
	}
	if h := d.EnumDeviceInfo(tok, mgr, 1); h == 0 {
		t.Error("index 1 not found")
	}
	if h := d.EnumDeviceInfo(tok, mgr, 2); h != 0 {
		t.Error("index past the end returned a handle")
	}
	if got := d.LastError(tok); got != native.StatusNoMoreItems {
		t.Errorf("last error = %v, want StatusNoMoreItems", got)
	}
}

func TestOnlyVersion1RejectsV2(t *testing.T) {
	d := New(Config{
		OnlyVersion1: true,
		Devices:      []*DeviceConfig{{ID: "dev-1"}},
	})
	tok, unlock := lockedToken(t)
	defer unlock()

	if h := d.OpenManager(tok, native.Version2); h != 0 {
		t.Error("v2 open succeeded on a v1-only stack")
	}
	if got := d.LastError(tok); got != native.StatusInvalidArgument {
		t.Errorf("last error = %v, want StatusInvalidArgument", got)
	}
	if h := d.OpenManager(tok, native.Version1); h == 0 {
		t.Error("v1 open failed on a v1-only stack")
	}
}

func TestDownloadDeliversDecodablePages(t *testing.T) {
	d := New(Config{Devices: []*DeviceConfig{{
		ID: "dev-1", HasFeeder: true, FeederPages: 2,
	}}})
	tok, unlock := lockedToken(t)
	defer unlock()

	mgr := d.OpenManager(tok, native.Version2)
	dev := d.OpenDevice(tok, mgr, "dev-1")
	items, status := d.EnumItems(tok, dev)
	if !status.IsOK() || len(items) != 1 {
		t.Fatalf("items = %v status = %v", items, status)
	}

	xfer := d.StartTransfer(tok, items[0])
	if xfer == 0 {
		t.Fatal("transfer open failed")
	}

	for page := 1; page <= 2; page++ {
		payload, status := d.Download(tok, xfer, nil)
		if !status.IsOK() {
			t.Fatalf("download %d failed: %v", page, status)
		}
		if _, err := imaging.DecodePage(payload); err != nil {
			t.Errorf("page %d payload does not decode: %v", page, err)
		}
	}

	// Batch exhausted.
	if _, status := d.Download(tok, xfer, nil); status != native.StatusPaperEmpty {
		t.Errorf("post-batch download = %v, want StatusPaperEmpty", status)
	}
}

func TestCancelWithoutGuard(t *testing.T) {
	d := New(Config{Devices: []*DeviceConfig{{
		ID: "dev-1", HasFlatbed: true,
	}}})
	tok, unlock := lockedToken(t)

	mgr := d.OpenManager(tok, native.Version2)
	dev := d.OpenDevice(tok, mgr, "dev-1")
	items, _ := d.EnumItems(tok, dev)
	xfer := d.StartTransfer(tok, items[0])
	unlock()

	// Cancel takes no token: it is the one guard-free entry point.
	if status := d.Cancel(xfer); !status.IsOK() {
		t.Fatalf("cancel failed: %v", status)
	}

	tok2, unlock2 := lockedToken(t)
	defer unlock2()
	if _, status := d.Download(tok2, xfer, nil); status != native.StatusCancelled {
		t.Errorf("download after cancel = %v, want StatusCancelled", status)
	}
}

func TestCloseHandleUnknown(t *testing.T) {
	d := New(Config{})
	tok, unlock := lockedToken(t)
	defer unlock()

	if status := d.CloseHandle(tok, 999); status != native.StatusInvalidArgument {
		t.Errorf("closing unknown handle = %v, want StatusInvalidArgument", status)
	}
}
