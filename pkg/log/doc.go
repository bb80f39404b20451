// Package log provides the protocol trace for the gateway.
//
// It is separate from operational logging (slog). Every inbound frame, the
// command decoded from it, the status changes it causes and the reason it
// was dropped are captured as Events that share one trace id, so a single
// device message can be followed through all layers.
//
// # Basic Usage
//
//	// For development: trace to console via slog
//	cfg.Trace = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to a binary file
//	cfg.Trace, _ = log.NewFileLogger("/var/log/uhost/gateway.ulog")
//
//	// Both
//	cfg.Trace = log.NewMultiLogger(console, file)
//
// # Layers
//
//   - Transport: raw frames as published or received (FrameEvent)
//   - Envelope: signature and encryption outcome
//   - Dispatch: decoded commands (CommandEvent)
//   - Lifecycle: device status changes (StateChangeEvent)
//
// # File Format
//
// Trace files are a stream of CBOR-encoded events with the .ulog extension.
// The uhost-log tool views and summarizes them.
package log
