// Package errkind defines the sentinel error kinds that cross the core's
// component boundaries, and the propagation rules that go with them.
package errkind

import "errors"

var (
	// ErrInvalidQuery marks an empty/whitespace query or a negative limit.
	// Reported to the caller; never retried.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrScan marks a per-file scan failure (unreadable file, bad UTF-8,
	// parser failure). Callers log and skip; it must not abort a scan.
	ErrScan = errors.New("scan error")

	// ErrEmbedding marks a tokenization or inference failure. Fatal to the
	// current request.
	ErrEmbedding = errors.New("embedding error")

	// ErrStore marks a schema mismatch, corrupt table, or store I/O
	// failure. Fatal to the current request.
	ErrStore = errors.New("store error")

	// ErrModelLoad marks a missing or corrupt model file. Fatal at the
	// startup of the first request in a process.
	ErrModelLoad = errors.New("model load error")
)

// Is reports whether err (or any error it wraps) matches kind.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
