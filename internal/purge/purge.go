// Package purge implements the opportunistic purge scheduler (SPEC_FULL.md
// §4.7): after a database file's sync has accumulated at least purgeAtLeast
// obsolete-version entries, a sweep is scheduled for idle time rather than
// run inline on the caller's goroutine.
package purge

import (
	"context"
	"sync"

	"github.com/rhashimoto/preview/internal/logging"
	"github.com/rhashimoto/preview/internal/store"
)

// Policy selects when accumulated purge records are actually swept.
type Policy int

const (
	// PolicyDeferred schedules a sweep via IdleScheduler once purgeAtLeast
	// is reached. This is the default.
	PolicyDeferred Policy = iota
	// PolicyManual suppresses automatic scheduling entirely; only an
	// explicit call to Scheduler.Purge sweeps a file.
	PolicyManual
)

func (p Policy) String() string {
	switch p {
	case PolicyManual:
		return "manual"
	default:
		return "deferred"
	}
}

// defaultPurgeAtLeast is the default number of accumulated purge-record
// entries (spec.md §4.7) that triggers scheduling a sweep.
const defaultPurgeAtLeast = 16

// IdleScheduler models "idle time" as a single cooperative hook: AfterIdle
// arranges for fn to run once the host is idle. A real host wires a
// browser-style idle callback; StandInIdleScheduler is the zero-delay
// deferred-task fallback spec.md §4.7 describes using when no cooperative
// idle hook is available.
type IdleScheduler interface {
	AfterIdle(fn func())
}

// Scheduler tracks, per path, whether a purge sweep is already pending so
// that reaching purgeAtLeast repeatedly before the pending sweep runs does
// not queue redundant work.
type Scheduler struct {
	store        *store.Store
	idle         IdleScheduler
	policy       Policy
	purgeAtLeast int
	logger       logging.Logger

	mu      sync.Mutex
	pending map[string]bool
}

// Options configures a Scheduler.
type Options struct {
	Policy       Policy
	PurgeAtLeast int // 0 means defaultPurgeAtLeast
	Logger       logging.Logger
}

// New returns a Scheduler that sweeps st's files via idle.
func New(st *store.Store, idle IdleScheduler, opts Options) *Scheduler {
	purgeAtLeast := opts.PurgeAtLeast
	if purgeAtLeast <= 0 {
		purgeAtLeast = defaultPurgeAtLeast
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard
	}
	return &Scheduler{
		store:        st,
		idle:         idle,
		policy:       opts.Policy,
		purgeAtLeast: purgeAtLeast,
		logger:       logger,
		pending:      make(map[string]bool),
	}
}

// NotifySynced is called after a successful Sync on path (spec.md §4.7's
// "when a sync completes"). Under PolicyDeferred, if the accumulated purge
// record has reached purgeAtLeast entries and no sweep is already pending
// for path, one is scheduled via the IdleScheduler. Under PolicyManual this
// is a no-op; the caller must invoke Purge explicitly.
func (s *Scheduler) NotifySynced(ctx context.Context, path string) {
	if s.policy == PolicyManual {
		return
	}
	s.mu.Lock()
	if s.pending[path] {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	n, err := s.store.PurgeRecordLen(ctx, path)
	if err != nil {
		s.logger.Warnf(logging.NSPurge+"purge record len %s: %v", path, err)
		return
	}
	if n < s.purgeAtLeast {
		return
	}

	s.mu.Lock()
	if s.pending[path] {
		s.mu.Unlock()
		return
	}
	s.pending[path] = true
	s.mu.Unlock()

	s.idle.AfterIdle(func() {
		if err := s.store.Purge(ctx, path); err != nil {
			s.logger.Warnf(logging.NSPurge+"idle purge %s: %v", path, err)
		}
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
	})
}

// Purge sweeps path immediately, regardless of policy or purgeAtLeast. Used
// both by an explicit manual-mode caller and by tests that don't want to
// wait on the IdleScheduler.
func (s *Scheduler) Purge(ctx context.Context, path string) error {
	return s.store.Purge(ctx, path)
}
