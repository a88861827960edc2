// Package kvstore adapts an asynchronous, transactional, block-granular
// key/value substrate ("the KVS") into the coalesced-transaction model the
// versioned store, journal emulator, and purge scheduler build on.
//
// The KVS itself is an external collaborator (SPEC_FULL.md §1, §6): this
// package defines the Store/Tx contract it must satisfy and ships one
// reference implementation, Memory, good enough to develop and test
// against. A production deployment supplies its own Store backed by the
// host's indexed store.
package kvstore

import "math"

// Record is the on-disk shape of one versioned block: {name, index,
// version, data, [fileSize]}. Version is monotonically decreasing: smaller
// (more negative) means newer. FileSize is only meaningful on the record at
// index 0 of a database file.
type Record struct {
	Name     string
	Index    uint32
	Version  int64
	Data     []byte
	FileSize int64
}

// PurgeIndex is the synthetic block index under which a path's purge record
// is stored: (path, PurgeIndex, 0).
const PurgeIndex uint32 = math.MaxUint32

// VersionZero is the version assigned to a freshly created file's block 0
// before any transaction has published a newer version.
const VersionZero int64 = 0
