// Package log provides structured event tracing for scooked.
//
// This package defines the Logger interface and Event types for capturing
// session lifecycle events across all components (session manager, store
// gateway, transport, discovery). It is separate from operational logging
// (slog) - the trace provides a complete machine-readable record of session
// activity for debugging and analysis.
//
// # Basic Usage
//
// Applications configure tracing by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.Logger, _ = log.NewFileLogger("/var/log/scooked/client.slog")
//
//	// Both: use MultiLogger
//	cfg.Logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    log.NewFileLogger("/var/log/scooked/client.slog"),
//	)
//
// # Event Types
//
// Events carry a severity, the emitting component, and a message. A
// type-specific payload is attached where structure helps:
//   - StateChangeEvent: session and connection lifecycle transitions
//   - CountdownEvent: timer ticks with the remaining seconds
//   - ErrorEventData: failures at any component
//   - FrameEvent: wire frames crossing the transport layer
//
// # File Format
//
// Trace files use CBOR encoding with .slog extension. The scooked-log CLI
// tool provides viewing and filtering.
package log
