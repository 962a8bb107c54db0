// Package logx is the structured logging layer.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Loggers hand events to a Service that owns the sinks, so every
// derived logger shares one configuration and one file handle.
package logx
