// Package log provides structured protocol logging for scanbridge.
//
// This package defines the Logger interface and Event types for capturing
// driver-orchestration events at multiple layers (native, scan, transport,
// worker). It is separate from operational logging (slog) - protocol capture
// provides a complete machine-readable event trace for debugging driver
// problems after the fact.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	logger, _ := log.NewFileLogger("/var/log/scanbridge/session.trace")
//
//	// Both: use MultiLogger
//	logger := log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Native: calls into the native scanning library (NativeCallEvent)
//   - Scan: state-machine transitions and property configuration
//   - Transport: raw frames on the worker channel (FrameEvent)
//   - Worker: RPC messages crossing the process boundary (MessageEvent)
//
// # File Format
//
// Trace files use CBOR encoding with .trace extension, one event per
// record. The scanbridge-trace command reads, filters and exports them.
package log
