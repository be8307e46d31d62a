// Package commands implements the scanbridge-trace CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	var typeLabel string
	switch {
	case event.Frame != nil:
		typeLabel = "Frame"
	case event.Message != nil:
		typeLabel = event.Message.Type.String()
	case event.NativeCall != nil:
		typeLabel = event.NativeCall.Call
	case event.StateChange != nil:
		typeLabel = "State"
	case event.Property != nil:
		typeLabel = "Property"
	case event.Error != nil:
		typeLabel = "Error"
	default:
		typeLabel = "Unknown"
	}

	if connID != "" {
		fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, connID, dir, event.Layer.String(), typeLabel)
	} else {
		fmt.Fprintf(w, "%s %s %s\n", ts, event.Layer.String(), typeLabel)
	}

	if event.DeviceID != "" {
		fmt.Fprintf(w, "  Device: %s\n", event.DeviceID)
	}
	if event.WorkerProfile != "" {
		fmt.Fprintf(w, "  Profile: %s\n", event.WorkerProfile)
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.NativeCall != nil:
		formatNativeCallDetails(w, event.NativeCall)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Property != nil:
		formatPropertyDetails(w, event.Property)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the channel ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  MessageID: %d\n", msg.MessageID)

	switch msg.Type {
	case log.MessageTypeRequest:
		if msg.Operation != "" {
			fmt.Fprintf(w, "  Operation: %s\n", msg.Operation)
		}
	case log.MessageTypeResponse:
		if msg.Status != "" {
			fmt.Fprintf(w, "  Status: %s\n", msg.Status)
		}
	case log.MessageTypePage:
		fmt.Fprintf(w, "  PageSeq: %d\n", msg.PageSeq)
	}

	if msg.PayloadSize > 0 {
		fmt.Fprintf(w, "  PayloadSize: %d bytes\n", msg.PayloadSize)
	}
}

func formatNativeCallDetails(w io.Writer, call *log.NativeCallEvent) {
	if call.Status != 0 {
		fmt.Fprintf(w, "  Status: %d\n", call.Status)
	}
	if call.Duration > 0 {
		fmt.Fprintf(w, "  Duration: %s\n", formatDuration(call.Duration))
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatPropertyDetails(w io.Writer, p *log.PropertyEvent) {
	fmt.Fprintf(w, "  Property: 0x%04X\n", p.Property)
	if p.Failed {
		fmt.Fprintf(w, "  Requested: %d (rejected)\n", p.Requested)
		if p.Message != "" {
			fmt.Fprintf(w, "  Message: %s\n", p.Message)
		}
		return
	}
	if p.Requested != p.Applied {
		fmt.Fprintf(w, "  Requested: %d  Applied: %d\n", p.Requested, p.Applied)
	} else {
		fmt.Fprintf(w, "  Applied: %d\n", p.Applied)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	return parseLayer(s)
}

func parseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "native":
		return log.LayerNative, nil
	case "scan":
		return log.LayerScan, nil
	case "transport":
		return log.LayerTransport, nil
	case "worker":
		return log.LayerWorker, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be native, scan, transport, or worker)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	return parseDirection(s)
}

func parseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	return parseCategory(s)
}

func parseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "native":
		return log.CategoryNative, nil
	case "state":
		return log.CategoryState, nil
	case "property":
		return log.CategoryProperty, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, native, state, property, or error)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	events, err := log.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read trace file: %w", err)
	}

	for _, event := range events {
		if filter.Layer != nil && event.Layer != *filter.Layer {
			continue
		}
		if filter.Direction != nil && event.Direction != *filter.Direction {
			continue
		}
		if filter.Category != nil && event.Category != *filter.Category {
			continue
		}
		formatEvent(output, event)
	}

	return nil
}
