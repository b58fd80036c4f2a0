// Package logging provides structured logging for the UART bridge.
//
// This package wraps go.uber.org/zap to provide consistent, structured
// logging across the application with a key-value call style:
//
//	logger.Info("frame routed", "topic", topic)
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Console output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - Thread-safe for concurrent use
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Never log broker passwords or tokens.
package logging
