package store

import "github.com/rhashimoto/preview/internal/kvstore"

// FileState is the versioned-store's view of one open database file: the
// cached block 0 plus the file's logical size and current in-memory
// version. SPEC_FULL.md assigns ownership of this state to the VFS
// façade's opened-file entry (so the journal emulator can borrow the same
// cached block 0 read-only) — Store's methods all take a *FileState
// supplied by the caller rather than holding one themselves, so this
// package never needs to know about kvvfs's File type.
type FileState struct {
	Path string

	// Block0 is the cached block 0 record: Index is always 0, Data is the
	// first BlockSize bytes of the file, FileSize and Version are the
	// file's logical size and current version.
	Block0 kvstore.Record
}

// NewFileState returns a FileState seeded with block0 as loaded from the
// KVS (or freshly constructed, for a newly-created file).
func NewFileState(path string, block0 kvstore.Record) *FileState {
	return &FileState{Path: path, Block0: block0}
}

// FileSize is the file's current logical size.
func (fs *FileState) FileSize() int64 { return fs.Block0.FileSize }

// Version is the file's current in-memory version — the version new writes
// within the active transaction (if any) are stamped with.
func (fs *FileState) Version() int64 { return fs.Block0.Version }

// BeginTransaction decrements the in-memory block-0 version so that writes
// made during the upcoming journalled transaction land at a version newer
// than anything currently published, per SPEC_FULL.md §3 invariant 3. Called
// by the journal emulator when it observes a fresh-transaction journal
// header write at offset 0.
func (fs *FileState) BeginTransaction() {
	fs.Block0.Version--
}
