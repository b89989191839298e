// Package logging provides structured logging for the MQTT client.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - Text output by default (human-readable, timestamped)
//   - JSON output for log shippers (machine-parsable)
//   - Diagnostics always go to stderr; stdout carries data
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "warn"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stderr"   # stderr, discard
//
// The --verbose flag forces debug level.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connected", "endpoint", endpoint)
//	logger.Error("failed to connect", "error", err)
//
// # Security
//
// Never log broker passwords, InfluxDB tokens, or key material.
package logging
