// Package log defines the explicit Logger capability scopinator
// components accept instead of any ambient/global logging state: an
// Event stream describing transport, correlator,
// event-bus, and status-store activity, plus CBOR file persistence, an
// slog adapter, and fan-out to multiple sinks.
//
// # Basic usage
//
//	logger := log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger, // log.NewFileLogger("/var/log/scopinator/session.clog")
//	)
//	cfg.ProtocolLogger = logger
//	client := control.New(cfg)
//
// # File format
//
// Log files are CBOR-encoded with integer keys for compactness, one
// Event per record, readable back with Reader.
package log
