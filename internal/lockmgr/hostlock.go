package lockmgr

import (
	"context"
	"sync"
)

// HostMode is the scope requested from a HostLock.
type HostMode int

const (
	// Shared permits any number of concurrent Shared holders, but no
	// Exclusive holder while any Shared grant is outstanding.
	Shared HostMode = iota
	// Exclusive permits exactly one holder, Shared or Exclusive.
	Exclusive
)

func (m HostMode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// HostLock is the cross-tab (or cross-process) mutual-exclusion service the
// lock manager builds the 5-state protocol on top of, matching spec.md
// §6's "acquire(name, {mode, ifAvailable})" contract. A real deployment
// backs this with the browser's navigator.locks API; LocalHostLock stands
// in for tests and single-process deployments.
type HostLock interface {
	// Acquire attempts to grant mode on name. If ifAvailable is true and
	// the grant cannot be made immediately, Acquire returns ok=false rather
	// than blocking. The release func releases the grant and may be called
	// exactly once.
	Acquire(ctx context.Context, name string, mode HostMode, ifAvailable bool) (release func(), ok bool, err error)

	// ForceRelease unconditionally clears any outstanding grant on name,
	// regardless of holder, for recovery from an abandoned connection.
	ForceRelease(name string)
}

// LocalHostLock is an in-process HostLock reference implementation: each
// named resource is a reader/writer lock with non-blocking try-acquire.
// Safe for concurrent use.
type LocalHostLock struct {
	mu        sync.Mutex
	resources map[string]*resourceState
}

type resourceState struct {
	sharedCount int
	exclusive   bool
}

// NewLocalHostLock returns an empty LocalHostLock.
func NewLocalHostLock() *LocalHostLock {
	return &LocalHostLock{resources: make(map[string]*resourceState)}
}

func (l *LocalHostLock) state(name string) *resourceState {
	rs, ok := l.resources[name]
	if !ok {
		rs = &resourceState{}
		l.resources[name] = rs
	}
	return rs
}

func (l *LocalHostLock) Acquire(ctx context.Context, name string, mode HostMode, ifAvailable bool) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rs := l.state(name)
	switch mode {
	case Shared:
		if rs.exclusive {
			return nil, false, nil
		}
		rs.sharedCount++
		released := false
		return func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if released {
				return
			}
			released = true
			rs.sharedCount--
		}, true, nil

	case Exclusive:
		if rs.exclusive || rs.sharedCount > 0 {
			return nil, false, nil
		}
		rs.exclusive = true
		released := false
		return func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if released {
				return
			}
			released = true
			rs.exclusive = false
		}, true, nil

	default:
		return nil, false, nil
	}
}

func (l *LocalHostLock) ForceRelease(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.resources, name)
}
