// Package log provides the structured operational event stream for the sync
// engine.
//
// This package defines the Logger interface and Event types for capturing
// state transitions, sync attempt outcomes, heartbeat results and emergency
// activity. It is separate from human-oriented logging (slog) - the event
// stream is a machine-readable record for the observability collaborator.
//
// Events carry aggregate, non-sensitive fields only (states, outcomes,
// durations, counts). Raw manipulated timestamp values never appear in the
// stream.
//
// # Basic Usage
//
// Components are handed a Logger implementation:
//
//	// For development: log to console via slog
//	logger := log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	logger, _ := log.NewFileLogger("/var/log/zk-timesyncd/events.zlog")
//
//	// Both: use MultiLogger
//	logger := log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # File Format
//
// Log files use CBOR encoding with integer keys. The Reader type streams
// them back with optional filtering.
package log
