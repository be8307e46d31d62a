package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/scanbridge-protocol/scanbridge-go/pkg/log"
)

// RunExport exports the trace file to the specified format.
func RunExport(path, format, output string) error {
	events, err := log.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read trace file: %w", err)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "jsonl":
		return exportJSONL(events, w)
	case "csv":
		return exportCSV(events, w)
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}
}

func exportJSONL(events []log.Event, w io.Writer) error {
	encoder := json.NewEncoder(w)
	for _, event := range events {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
	}
	return nil
}

func exportCSV(events []log.Event, w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{"timestamp", "connection_id", "direction", "layer", "category", "device_id", "worker_profile", "type", "message_id"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, event := range events {
		eventType := "unknown"
		msgID := ""
		switch {
		case event.Frame != nil:
			eventType = "frame"
		case event.Message != nil:
			eventType = event.Message.Type.String()
			msgID = fmt.Sprintf("%d", event.Message.MessageID)
		case event.NativeCall != nil:
			eventType = event.NativeCall.Call
		case event.StateChange != nil:
			eventType = "state"
		case event.Property != nil:
			eventType = "property"
		case event.Error != nil:
			eventType = "error"
		}

		row := []string{
			event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.DeviceID,
			event.WorkerProfile,
			eventType,
			msgID,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	return nil
}
