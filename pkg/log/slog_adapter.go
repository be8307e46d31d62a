package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.ConnectionID != "" {
		attrs = append(attrs,
			slog.String("conn_id", event.ConnectionID),
			slog.String("direction", event.Direction.String()),
		)
	}
	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.WorkerProfile != "" {
		attrs = append(attrs, slog.String("worker_profile", event.WorkerProfile))
	}

	// Add type-specific attributes
	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.Uint64("msg_id", uint64(event.Message.MessageID)),
			slog.String("msg_type", event.Message.Type.String()),
		)
		if event.Message.Operation != "" {
			attrs = append(attrs, slog.String("operation", event.Message.Operation))
		}
		if event.Message.Status != "" {
			attrs = append(attrs, slog.String("status", event.Message.Status))
		}
		if event.Message.PageSeq != 0 {
			attrs = append(attrs, slog.Uint64("page_seq", uint64(event.Message.PageSeq)))
		}
	case event.NativeCall != nil:
		attrs = append(attrs,
			slog.String("call", event.NativeCall.Call),
			slog.Int("native_status", event.NativeCall.Status),
			slog.Duration("duration", event.NativeCall.Duration),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Property != nil:
		attrs = append(attrs,
			slog.Uint64("property", uint64(event.Property.Property)),
			slog.Int("requested", event.Property.Requested),
			slog.Int("applied", event.Property.Applied),
			slog.Bool("failed", event.Property.Failed),
		)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
		if event.Error.Code != nil {
			attrs = append(attrs, slog.Int("error_code", *event.Error.Code))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol event", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
