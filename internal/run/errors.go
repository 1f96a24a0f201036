package run

import "errors"

// Failure taxonomy surfaced synchronously by StartRun and StopRun. Anything
// that happens after the engine process launched is reported only through
// the terminal ResultRow, never returned to the original caller.
var (
	// ErrConflict: a run with the same id is already active.
	ErrConflict = errors.New("run already active")
	// ErrInputNotFound: the input artifact path is not accessible.
	ErrInputNotFound = errors.New("input file not found")
	// ErrResourceUnavailable: the output directory or the process itself
	// could not be set up; no engine process is running.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrNotRunning: stop requested for an id absent from the registry.
	ErrNotRunning = errors.New("run not active")
)
