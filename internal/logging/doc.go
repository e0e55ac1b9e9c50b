// Package logging provides file-based logging with rotation.
// The --mcp server sets it up at startup and writes its logs to
// ~/.codesearch/logs/ (file only, not stderr).
//
// A CLI search does not set it up; its logs go through the default slog
// logger to stderr.
// In --mcp mode stdout is never written to by this package; JSON-RPC owns it.
package logging
