package kvstore

import "context"

// Mode selects the isolation/durability posture of a transaction.
type Mode int

const (
	// ReadOnly transactions never mutate the store.
	ReadOnly Mode = iota
	// ReadWrite transactions may mutate the store.
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// Durability hints how aggressively the backend should flush a committed
// transaction to stable storage. The Adaptor keeps it and does not pass it
// to the Store (Begin takes no durability argument); only Relaxed changes
// behaviour, by suppressing the adaptor's Store.Sync call after a commit.
type Durability int

const (
	// DurabilityStrict requests the strongest durability the backend offers.
	DurabilityStrict Durability = iota
	// DurabilityDefault requests the backend's normal durability posture.
	DurabilityDefault
	// DurabilityRelaxed allows the adaptor to skip waiting for the backend's
	// own sync acknowledgement after a commit.
	DurabilityRelaxed
)

// Tx is the set of operations available to code running inside a KVS
// transaction. All methods observe and mutate only the transaction's own
// in-flight writes until the transaction commits.
type Tx interface {
	// Get returns the record for (name, index) with the smallest Version
	// that is >= minVersion — i.e. the newest version visible to a reader
	// anchored at minVersion. Returns ok=false if no such record exists.
	Get(name string, index uint32, minVersion int64) (rec Record, ok bool, err error)

	// GetOlderThan returns the record for (name, index) with the smallest
	// Version that is strictly greater than threshold — i.e. the newest
	// version that is still strictly older than threshold. Used to
	// reconstruct a pre-transaction page for the journal emulator, where
	// threshold is the transaction's in-memory (already-decremented)
	// version.
	GetOlderThan(name string, index uint32, threshold int64) (rec Record, ok bool, err error)

	// Put inserts or replaces the record at (rec.Name, rec.Index, rec.Version).
	Put(rec Record) error

	// DeleteFromIndex deletes every record for name at index >= fromIndex,
	// at any version.
	DeleteFromIndex(name string, fromIndex uint32) error

	// DeleteOlderThan deletes every record at (name, index) whose version is
	// strictly older than threshold (i.e. version > threshold, since smaller
	// is newer).
	DeleteOlderThan(name string, index uint32, threshold int64) error

	// DeleteNewerThan deletes every record for name, at any index, whose
	// version is strictly newer than threshold (i.e. version < threshold).
	// Used for reserved-lock cleanup of an abandoned transaction's leftovers.
	DeleteNewerThan(name string, threshold int64) error

	// DeleteAll deletes every record for name, at any index and version.
	DeleteAll(name string) error

	// Exists reports whether any record exists for (name, index).
	Exists(name string, index uint32) (bool, error)
}

// Store is the pluggable KVS backend contract. Begin/Commit/Abort model an
// asynchronous multi-key transaction; Sync waits for a prior commit to be
// durable.
type Store interface {
	// Begin starts a new transaction in the given mode.
	Begin(ctx context.Context, mode Mode) (Tx, error)

	// Commit commits tx. After Commit returns (with or without error), tx
	// must not be used again.
	Commit(ctx context.Context, tx Tx) error

	// Abort discards tx without committing its writes.
	Abort(tx Tx)

	// Sync blocks until all previously committed transactions are durable.
	Sync(ctx context.Context) error

	// SchemaVersion reports the schema version the backend was opened with.
	SchemaVersion() int
}

// CurrentSchemaVersion is the schema version this module writes and reads.
// OpenMemory accepts only this version: any other, older or newer, fails
// with ErrSchemaMismatch. No upgrade step from an older version exists.
const CurrentSchemaVersion = 1
