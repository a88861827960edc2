// Package lockmgr implements the 5-state lock escalation protocol
// (SPEC_FULL.md §4.5) on top of a host-provided cross-tab lock primitive.
//
// Reference: the embedding engine's own file-locking state machine —
// NONE -> SHARED -> RESERVED -> PENDING -> EXCLUSIVE — realized here the
// way the engine itself realizes it atop POSIX advisory locks: SHARED
// holds a shared grant on the file's main resource; RESERVED and PENDING
// are each a single exclusive grant on their own named sub-resource;
// EXCLUSIVE upgrades the main resource's grant from shared to exclusive.
package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rhashimoto/preview/internal/logging"
)

// Level is a position in the 5-state lock escalation ladder. The integer
// values match spec.md §6 (NONE=0 .. EXCLUSIVE=4) so a VFS façade can pass
// engine-supplied integers straight through.
type Level int

const (
	LevelNone Level = iota
	LevelShared
	LevelReserved
	LevelPending
	LevelExclusive
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelShared:
		return "shared"
	case LevelReserved:
		return "reserved"
	case LevelPending:
		return "pending"
	case LevelExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("lockmgr.Level(%d)", int(l))
	}
}

// ErrBusy is returned when an escalation cannot proceed without blocking
// another connection's progress.
var ErrBusy = errors.New("lockmgr: busy")

const (
	reservedSuffix = "#reserved"
	pendingSuffix  = "#pending"
)

// Handle is a single connection's lock state for one path. The VFS façade
// owns one Handle per opened database file.
type Handle struct {
	path    string
	level   Level
	grants  map[Level]func() // release funcs for grants acquired at this level's step
}

// Path returns the path the handle locks.
func (h *Handle) Path() string { return h.path }

// Level returns the handle's current lock level.
func (h *Handle) Level() Level { return h.level }

// Manager tracks every open Handle per path so ForceClearLock can recover
// from an abandoned connection, and delegates the actual grant/deny
// decisions to a HostLock.
type Manager struct {
	host   HostLock
	logger logging.Logger

	mu      sync.Mutex
	handles map[string]map[*Handle]struct{}
}

// NewManager creates a Manager delegating to host. A nil logger is replaced
// by logging.OrDefault's WARN-level logger writing to stderr.
func NewManager(host HostLock, logger logging.Logger) *Manager {
	return &Manager{
		host:    host,
		logger:  logging.OrDefault(logger),
		handles: make(map[string]map[*Handle]struct{}),
	}
}

// NewHandle returns a fresh Handle at LevelNone for path, registered with
// the manager so ForceClearLock can find it later.
func (m *Manager) NewHandle(path string) *Handle {
	h := &Handle{path: path, grants: make(map[Level]func())}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.handles[path]
	if !ok {
		set = make(map[*Handle]struct{})
		m.handles[path] = set
	}
	set[h] = struct{}{}
	return h
}

// Release forgets h, releasing any grants it still holds (equivalent to
// Unlock(h, LevelNone)). Call on file close.
func (m *Manager) Release(h *Handle) {
	_ = m.Unlock(h, LevelNone)
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.handles[h.path]; ok {
		delete(set, h)
		if len(set) == 0 {
			delete(m.handles, h.path)
		}
	}
}

// Lock escalates h to at least target, stepping through every intermediate
// level. It is a no-op if h.level already satisfies target. On ErrBusy, h
// is left at the highest level it successfully reached.
func (m *Manager) Lock(ctx context.Context, h *Handle, target Level) error {
	for h.level < target {
		next := h.level + 1
		if err := m.step(ctx, h, next); err != nil {
			return err
		}
		h.level = next
	}
	return nil
}

// step attempts to acquire exactly the grant needed to advance h from
// h.level to next, recording the release func in h.grants[next] on success.
func (m *Manager) step(ctx context.Context, h *Handle, next Level) error {
	switch next {
	case LevelShared:
		// A momentary shared probe of the pending sub-resource blocks new
		// readers while another connection holds PENDING, so a writer
		// waiting on readers to drain is never starved by new arrivals.
		probe, ok, err := m.host.Acquire(ctx, h.path+pendingSuffix, Shared, true)
		if err != nil {
			return fmt.Errorf("lockmgr: probe pending on %s: %w", h.path, err)
		}
		if !ok {
			return ErrBusy
		}
		probe()

		release, ok, err := m.host.Acquire(ctx, h.path, Shared, true)
		if err != nil {
			return fmt.Errorf("lockmgr: acquire shared on %s: %w", h.path, err)
		}
		if !ok {
			return ErrBusy
		}
		h.grants[LevelShared] = release
		return nil

	case LevelReserved:
		release, ok, err := m.host.Acquire(ctx, h.path+reservedSuffix, Exclusive, true)
		if err != nil {
			return fmt.Errorf("lockmgr: acquire reserved on %s: %w", h.path, err)
		}
		if !ok {
			return ErrBusy
		}
		h.grants[LevelReserved] = release
		return nil

	case LevelPending:
		release, ok, err := m.host.Acquire(ctx, h.path+pendingSuffix, Exclusive, true)
		if err != nil {
			return fmt.Errorf("lockmgr: acquire pending on %s: %w", h.path, err)
		}
		if !ok {
			return ErrBusy
		}
		h.grants[LevelPending] = release
		return nil

	case LevelExclusive:
		// Upgrade the main resource from shared to exclusive: no other
		// connection may hold even a shared grant on it, which can only be
		// tested by releasing our own shared grant and trying exclusive.
		releaseShared := h.grants[LevelShared]
		delete(h.grants, LevelShared)
		if releaseShared != nil {
			releaseShared()
		}

		release, ok, err := m.host.Acquire(ctx, h.path, Exclusive, true)
		if err == nil && ok {
			h.grants[LevelExclusive] = release
			return nil
		}

		// Restore the shared grant we gave up; best-effort, should always
		// succeed since we only just released it ourselves.
		if r2, ok2, _ := m.host.Acquire(ctx, h.path, Shared, true); ok2 {
			h.grants[LevelShared] = r2
		} else {
			m.logger.Warnf(logging.NSLock+"could not restore shared grant on %s after failed exclusive upgrade", h.path)
		}
		if err != nil {
			return fmt.Errorf("lockmgr: acquire exclusive on %s: %w", h.path, err)
		}
		return ErrBusy

	default:
		return fmt.Errorf("lockmgr: invalid lock level %v", next)
	}
}

// Unlock downgrades h to at most target. It never returns ErrBusy: release
// never blocks.
func (m *Manager) Unlock(h *Handle, target Level) error {
	for h.level > target {
		cur := h.level
		if release := h.grants[cur]; release != nil {
			release()
			delete(h.grants, cur)
		}
		h.level = cur - 1

		// Downgrading out of EXCLUSIVE must restore the SHARED grant on the
		// main resource, since EXCLUSIVE released it entirely.
		if cur == LevelExclusive && h.level >= LevelShared {
			if _, already := h.grants[LevelShared]; !already {
				release, ok, err := m.host.Acquire(context.Background(), h.path, Shared, true)
				if err == nil && ok {
					h.grants[LevelShared] = release
				} else {
					m.logger.Warnf(logging.NSLock+"could not reacquire shared grant on %s while downgrading from exclusive", h.path)
				}
			}
		}
	}
	return nil
}

// ForceClearLock unconditionally releases every grant any handle holds on
// path and resets those handles to LevelNone, used for connection-recovery
// scenarios (spec.md §8's "Forced unlock recovery").
func (m *Manager) ForceClearLock(path string) {
	m.mu.Lock()
	handles := m.handles[path]
	hs := make([]*Handle, 0, len(handles))
	for h := range handles {
		hs = append(hs, h)
	}
	m.mu.Unlock()

	for _, h := range hs {
		for lvl, release := range h.grants {
			release()
			delete(h.grants, lvl)
		}
		h.level = LevelNone
	}
	m.host.ForceRelease(path)
	m.host.ForceRelease(path + reservedSuffix)
	m.host.ForceRelease(path + pendingSuffix)
}
