package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrSchemaMismatch is returned when a Memory store is opened against an
// unsupported schema version.
var ErrSchemaMismatch = errors.New("kvstore: unsupported schema version")

// Memory is a reference Store implementation backed by an in-process sorted
// index. It exists to develop and test the versioned store, journal
// emulator, and purge scheduler against a real transactional contract
// without a browser's indexed store available; a production deployment
// supplies its own Store.
//
// Memory is safe for concurrent use.
type Memory struct {
	mu            sync.Mutex
	schemaVersion int
	// byName holds, for each path, a map from block index to that block's
	// versions sorted ascending (newest first, since smaller version is
	// newer) — the secondary index on (name, version) required for the
	// reserved-lock cleanup sweep is realized by scanning every index's
	// slice for a name.
	byName map[string]map[uint32][]Record
}

// NewMemory creates an empty Memory store at CurrentSchemaVersion.
func NewMemory() *Memory {
	return &Memory{
		schemaVersion: CurrentSchemaVersion,
		byName:        make(map[string]map[uint32][]Record),
	}
}

// OpenMemory opens a Memory store, validating schemaVersion. A schema
// version other than CurrentSchemaVersion fails open with ErrSchemaMismatch,
// per SPEC_FULL.md §6.
func OpenMemory(schemaVersion int) (*Memory, error) {
	if schemaVersion != CurrentSchemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchemaMismatch, schemaVersion, CurrentSchemaVersion)
	}
	return NewMemory(), nil
}

func (m *Memory) SchemaVersion() int { return m.schemaVersion }

// memTx is the Tx implementation bound to a Memory store. Writes are
// applied directly to the backing store's maps under the store's mutex;
// Memory does not buffer writes separately because its "commit" has no
// failure mode to roll back from — a real backend would stage writes and
// apply them atomically in Commit.
type memTx struct {
	store *Memory
	mode  Mode
	done  bool
}

func (m *Memory) Begin(ctx context.Context, mode Mode) (Tx, error) {
	return &memTx{store: m, mode: mode}, nil
}

func (m *Memory) Commit(ctx context.Context, tx Tx) error {
	t := tx.(*memTx)
	t.done = true
	return nil
}

func (m *Memory) Abort(tx Tx) {
	tx.(*memTx).done = true
}

func (m *Memory) Sync(ctx context.Context) error {
	return nil
}

func (t *memTx) requireWritable() error {
	if t.done {
		return errors.New("kvstore: transaction already closed")
	}
	if t.mode != ReadWrite {
		return errors.New("kvstore: write on a read-only transaction")
	}
	return nil
}

// versionsOf returns the sorted-ascending version slice for (name, index),
// or nil if none exists. Caller must hold store.mu.
func (m *Memory) versionsOf(name string, index uint32) []Record {
	idx, ok := m.byName[name]
	if !ok {
		return nil
	}
	return idx[index]
}

func (t *memTx) Get(name string, index uint32, minVersion int64) (Record, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	versions := t.store.versionsOf(name, index)
	// versions is sorted ascending by Version; find the smallest entry with
	// Version >= minVersion.
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Version >= minVersion })
	if i >= len(versions) {
		return Record{}, false, nil
	}
	return versions[i], true, nil
}

func (t *memTx) GetOlderThan(name string, index uint32, threshold int64) (Record, bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	versions := t.store.versionsOf(name, index)
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Version > threshold })
	if i >= len(versions) {
		return Record{}, false, nil
	}
	return versions[i], true, nil
}

func (t *memTx) Put(rec Record) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	idx, ok := t.store.byName[rec.Name]
	if !ok {
		idx = make(map[uint32][]Record)
		t.store.byName[rec.Name] = idx
	}
	versions := idx[rec.Index]
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Version >= rec.Version })
	if i < len(versions) && versions[i].Version == rec.Version {
		versions[i] = rec
	} else {
		versions = append(versions, Record{})
		copy(versions[i+1:], versions[i:])
		versions[i] = rec
	}
	idx[rec.Index] = versions
	return nil
}

func (t *memTx) DeleteFromIndex(name string, fromIndex uint32) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	idx, ok := t.store.byName[name]
	if !ok {
		return nil
	}
	for index := range idx {
		if index >= fromIndex {
			delete(idx, index)
		}
	}
	return nil
}

func (t *memTx) DeleteOlderThan(name string, index uint32, threshold int64) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	idx, ok := t.store.byName[name]
	if !ok {
		return nil
	}
	versions := idx[index]
	kept := versions[:0]
	for _, r := range versions {
		if r.Version <= threshold { // <= threshold is "not older" (older == strictly greater version value)
			kept = append(kept, r)
		}
	}
	idx[index] = kept
	return nil
}

func (t *memTx) DeleteNewerThan(name string, threshold int64) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	idx, ok := t.store.byName[name]
	if !ok {
		return nil
	}
	for index, versions := range idx {
		kept := versions[:0]
		for _, r := range versions {
			if r.Version >= threshold { // keep anything not strictly newer
				kept = append(kept, r)
			}
		}
		idx[index] = kept
	}
	return nil
}

func (t *memTx) DeleteAll(name string) error {
	if err := t.requireWritable(); err != nil {
		return err
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	delete(t.store.byName, name)
	return nil
}

func (t *memTx) Exists(name string, index uint32) (bool, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return len(t.store.versionsOf(name, index)) > 0, nil
}
