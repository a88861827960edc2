package purge

import "time"

// StandInIdleScheduler is the zero-delay deferred-task fallback spec.md
// §4.7 describes for a host with no cooperative idle hook: AfterIdle
// arranges for fn to run on its own goroutine shortly after the current
// call stack unwinds, via time.AfterFunc(0, fn), rather than blocking the
// caller.
type StandInIdleScheduler struct{}

// AfterIdle implements IdleScheduler.
func (StandInIdleScheduler) AfterIdle(fn func()) {
	time.AfterFunc(0, fn)
}

// SyncIdleScheduler runs fn immediately, synchronously, on the calling
// goroutine. Useful in tests that want a purge's effects observable
// without waiting on a timer.
type SyncIdleScheduler struct{}

// AfterIdle implements IdleScheduler.
func (SyncIdleScheduler) AfterIdle(fn func()) {
	fn()
}
