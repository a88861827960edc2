package kvstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/rhashimoto/preview/internal/logging"
)

// Adaptor wraps a Store into the coalesced-transaction model SPEC_FULL.md
// §4.1 requires: Run invocations scheduled before the current transaction
// has completed are folded into it, because the embedding engine emits many
// tiny writes per page and a transaction per write would be prohibitive.
//
// Adaptor holds at most one active transaction at a time. A Run call in a
// stronger mode than the active transaction flushes (commits) the active
// transaction first and starts a new one; a Run call in the same or a
// weaker mode reuses the active transaction, so a read issued while a
// read-write transaction is open observes that transaction's own
// not-yet-committed writes.
type Adaptor struct {
	mu         sync.Mutex
	store      Store
	durability Durability
	logger     logging.Logger

	active     Tx
	activeMode Mode
}

// NewAdaptor wraps store with the given durability hint. A nil logger is
// replaced by logging.OrDefault's WARN-level logger writing to stderr.
func NewAdaptor(store Store, durability Durability, logger logging.Logger) *Adaptor {
	return &Adaptor{
		store:      store,
		durability: durability,
		logger:     logging.OrDefault(logger),
	}
}

// stronger reports whether a is at least as capable as b (ReadWrite is
// stronger than ReadOnly).
func stronger(a, b Mode) bool {
	return a == ReadWrite || b == ReadOnly
}

// Run executes fn against a transaction in at least the requested mode,
// coalescing with any compatible in-flight transaction. fn's writes are not
// guaranteed durable until Sync is called (or a later Run forces a flush).
//
// If fn returns an error, the active transaction is aborted immediately so a
// failed operation never gets silently folded into a later commit — the KVS
// adaptor never retries.
func (a *Adaptor) Run(ctx context.Context, mode Mode, fn func(Tx) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil && !stronger(a.activeMode, mode) {
		// Active transaction (read-only) is too weak for this read-write
		// request: flush it before starting a stronger one.
		if err := a.flushLocked(ctx); err != nil {
			return err
		}
	}

	if a.active == nil {
		tx, err := a.store.Begin(ctx, mode)
		if err != nil {
			return fmt.Errorf("kvstore: begin %s transaction: %w", mode, err)
		}
		a.active = tx
		a.activeMode = mode
	}

	if err := fn(a.active); err != nil {
		a.logger.Errorf(logging.NSKVStore+"operation failed, aborting transaction: %v", err)
		a.store.Abort(a.active)
		a.active = nil
		return err
	}

	return nil
}

// Sync commits the active transaction, if any, and — unless the adaptor's
// durability is Relaxed — waits for the backend to acknowledge the commit
// is durable.
func (a *Adaptor) Sync(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

func (a *Adaptor) flushLocked(ctx context.Context) error {
	if a.active == nil {
		return nil
	}
	tx := a.active
	a.active = nil

	if err := a.store.Commit(ctx, tx); err != nil {
		return fmt.Errorf("kvstore: commit transaction: %w", err)
	}
	if a.durability == DurabilityRelaxed {
		return nil
	}
	if err := a.store.Sync(ctx); err != nil {
		return fmt.Errorf("kvstore: sync: %w", err)
	}
	return nil
}

// Durability returns the adaptor's configured durability hint.
func (a *Adaptor) Durability() Durability {
	return a.durability
}
