package kvvfs

import (
	"errors"
	"fmt"
)

// Sentinel errors per taxonomy kind (spec.md §7). Wrapped with %w by
// callers so context survives while errors.Is still matches the kind.
var (
	// ErrCannotOpen: block 0 absent and CREATE not set; schema mismatch;
	// KVS connect failure.
	ErrCannotOpen = errors.New("kvvfs: cannot open")
	// ErrShortRead: read past fileSize. The tail of the caller's buffer is
	// always zero-filled regardless of this error being returned.
	ErrShortRead = errors.New("kvvfs: short read")
	// ErrBusy: lock escalation denied without blocking other progress.
	ErrBusy = errors.New("kvvfs: busy")
	// ErrIO: unexpected KVS failure during a transaction.
	ErrIO = errors.New("kvvfs: i/o error")
)

// InvariantError is panicked for programmer errors (spec.md §7's
// "invariant breach... must never be masked") — e.g. an operation against
// a fileId the façade never opened. It is never converted to a Result.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "kvvfs: invariant violated: " + e.Msg }

func invariantf(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}

// resultFor converts an error from the store/journal/lock layers into the
// engine-facing Result the façade returns, matching spec.md §7's
// propagation rule. A nil error yields ResultOK.
func resultFor(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrShortRead):
		return ResultIOErrShortRead
	case errors.Is(err, ErrBusy):
		return ResultBusy
	case errors.Is(err, ErrCannotOpen):
		return ResultCantOpen
	default:
		return ResultIOErr
	}
}
