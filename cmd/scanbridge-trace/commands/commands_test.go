package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
)

// writeTraceFile builds a small trace covering every event kind.
func writeTraceFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "session.trace")
	logger, err := log.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create trace file: %v", err)
	}
	defer logger.Close()

	base := time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC)

	logger.Log(log.Event{
		Timestamp:    base,
		ConnectionID: "11112222-3333-4444-5555-666677778888",
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame:        &log.FrameEvent{Size: 64, Data: []byte{0xa3, 0x01}, Truncated: false},
	})
	logger.Log(log.Event{
		Timestamp:    base.Add(10 * time.Millisecond),
		ConnectionID: "11112222-3333-4444-5555-666677778888",
		Direction:    log.DirectionIn,
		Layer:        log.LayerWorker,
		Category:     log.CategoryMessage,
		DeviceID:     "sim-1",
		Message: &log.MessageEvent{
			Type: log.MessageTypePage, MessageID: 0, PageSeq: 1, PayloadSize: 2048,
		},
	})
	logger.Log(log.Event{
		Timestamp: base.Add(20 * time.Millisecond),
		Layer:     log.LayerNative,
		Category:  log.CategoryNative,
		DeviceID:  "sim-1",
		NativeCall: &log.NativeCallEvent{
			Call: "Download", Status: 0, Duration: 3 * time.Millisecond,
		},
	})
	logger.Log(log.Event{
		Timestamp: base.Add(30 * time.Millisecond),
		Layer:     log.LayerScan,
		Category:  log.CategoryProperty,
		DeviceID:  "sim-1",
		Property:  &log.PropertyEvent{Property: 6147, Requested: 310, Applied: 300},
	})
	logger.Log(log.Event{
		Timestamp: base.Add(40 * time.Millisecond),
		Layer:     log.LayerScan,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: log.LayerScan, Message: "feeder empty"},
	})

	return path
}

func TestRunView(t *testing.T) {
	path := writeTraceFile(t)

	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{}, &buf); err != nil {
		t.Fatalf("view failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"[conn:11112222]",
		"Download",
		"PageSeq: 1",
		"Requested: 310  Applied: 300",
		"feeder empty",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("view output missing %q:\n%s", want, out)
		}
	}
}

func TestRunViewLayerFilter(t *testing.T) {
	path := writeTraceFile(t)

	layer := log.LayerNative
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Layer: &layer}, &buf); err != nil {
		t.Fatalf("view failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "Download") {
		t.Errorf("native call missing from filtered view:\n%s", out)
	}
	if strings.Contains(out, "PageSeq") {
		t.Errorf("worker-layer event leaked through native filter:\n%s", out)
	}
}

func TestRunExportJSONL(t *testing.T) {
	path := writeTraceFile(t)
	out := filepath.Join(t.TempDir(), "events.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("got %d JSONL lines, want 5", len(lines))
	}
	for i, line := range lines {
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}

func TestRunExportCSV(t *testing.T) {
	path := writeTraceFile(t)
	out := filepath.Join(t.TempDir(), "events.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read export: %v", err)
	}
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	// Header plus five events.
	if len(records) != 6 {
		t.Fatalf("got %d CSV rows, want 6", len(records))
	}
	if records[0][0] != "timestamp" {
		t.Errorf("header = %v", records[0])
	}
}

func TestRunExportUnknownFormat(t *testing.T) {
	path := writeTraceFile(t)
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestRunFilter(t *testing.T) {
	path := writeTraceFile(t)
	out := filepath.Join(t.TempDir(), "filtered.trace")

	var buf bytes.Buffer
	err := RunFilter(path, FilterOptions{
		Output:   out,
		DeviceID: "sim-1",
	}, &buf)
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Filtered 3 events") {
		t.Errorf("unexpected summary: %s", buf.String())
	}

	events, err := log.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read filtered file: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("filtered file has %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.DeviceID != "sim-1" {
			t.Errorf("event with device %q passed a sim-1 filter", e.DeviceID)
		}
	}
}

func TestRunFilterTimeWindow(t *testing.T) {
	path := writeTraceFile(t)
	out := filepath.Join(t.TempDir(), "window.trace")

	var buf bytes.Buffer
	err := RunFilter(path, FilterOptions{
		Output:    out,
		TimeStart: "2026-08-27T10:00:00Z",
		TimeEnd:   "2026-08-27T10:00:00Z",
	}, &buf)
	if err != nil {
		t.Fatalf("filter failed: %v", err)
	}

	events, err := log.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read filtered file: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events in the window, want 1", len(events))
	}
}

func TestRunFilterBadTime(t *testing.T) {
	path := writeTraceFile(t)
	err := RunFilter(path, FilterOptions{
		Output:    filepath.Join(t.TempDir(), "out.trace"),
		TimeStart: "yesterday",
	}, &bytes.Buffer{})
	if err == nil {
		t.Error("expected error for malformed time")
	}
}

func TestRunStats(t *testing.T) {
	path := writeTraceFile(t)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Total Events: 5",
		"Download:",
		"Pages Streamed: 1",
		"Worker Channels: 1",
		"Errors: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestParseFlags(t *testing.T) {
	if _, err := ParseLayerFlag("NATIVE"); err != nil {
		t.Errorf("case-insensitive layer parse failed: %v", err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if _, err := ParseDirectionFlag("out"); err != nil {
		t.Errorf("direction parse failed: %v", err)
	}
	if _, err := ParseDirectionFlag("sideways"); err == nil {
		t.Error("expected error for unknown direction")
	}
	if _, err := ParseCategoryFlag("property"); err != nil {
		t.Errorf("category parse failed: %v", err)
	}
	if _, err := ParseCategoryFlag("snapshot"); err == nil {
		t.Error("expected error for unknown category")
	}
}
