// Package logging provides structured logging for Linkkeeper.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the supervisor and its sinks.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development
//   - Console output with coloured levels for interactive sessions
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text, console
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("link connected", "ssid", cfg.WiFi.SSID)
//
// Never log Wi-Fi passphrases or broker passwords.
package logging
