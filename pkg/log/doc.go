// Package log provides structured protocol logging for AKES revocation
// exchanges.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at three layers: raw UDP datagrams, decoded CoAP
// messages and the revocation state machine. It is separate from operational
// logging (slog). Protocol capture provides a complete machine-readable trace
// of every exchange.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/akes/node.alog")
//
//	// Both
//	cfg.ProtocolLogger = log.Tee(console, file)
//
// Keys never appear in events. Frame data holds sealed bytes only.
//
// # File Format
//
// Log files are a stream of CBOR-encoded events. The akes-log tool views and
// summarizes them.
package log
