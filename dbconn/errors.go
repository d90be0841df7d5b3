package dbconn

import "errors"

// Sentinel errors for the connection-pool and caching-session layers.
// See objpool for the underlying pool's own ErrReleased/ErrForeignItem.
var (
	// ErrSessionClosed is returned by any statement-vending or
	// execution call made on a CachingSession after it has been
	// returned to the pool (its Close called).
	ErrSessionClosed = errors.New("dbconn: session already closed")

	// ErrStatementClosed is returned by a statement wrapper method
	// called after Close.
	ErrStatementClosed = errors.New("dbconn: statement already closed")

	// ErrPoolExhausted is returned by Get when the pool is at its hard
	// cap with no idle session. GetTimeout does not return it: it
	// reports a timeout as (nil, nil).
	ErrPoolExhausted = errors.New("dbconn: pool exhausted")
)

// ValidationFailedError describes a pooled session that failed
// validation during check-out. The pool discards such a session and
// retries, and reports the rejection to listeners as a
// ConnectionPoolEvent of kind objpool.ValidationError; nothing in this
// package constructs a ValidationFailedError or returns one from Get.
type ValidationFailedError struct {
	Pool string
}

func (e *ValidationFailedError) Error() string {
	return "dbconn: session from pool " + e.Pool + " failed validation"
}

// ReleaseFailedError aggregates the independent failures encountered
// while tearing down a CachingSession (closing cached statements,
// in-use statements, or the raw connection). All causes remain
// reachable via Unwrap/errors.Is thanks to the underlying multierror.
type ReleaseFailedError struct {
	Pool  string
	Cause error
}

func (e *ReleaseFailedError) Error() string {
	return "dbconn: failed to release session resources for pool " + e.Pool + ": " + e.Cause.Error()
}

func (e *ReleaseFailedError) Unwrap() error { return e.Cause }
