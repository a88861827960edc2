package kvvfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/rhashimoto/preview/internal/journal"
	"github.com/rhashimoto/preview/internal/lockmgr"
	"github.com/rhashimoto/preview/internal/logging"
	"github.com/rhashimoto/preview/internal/store"
)

// File is one opened-file entry (spec.md §3's "opened-file entry"): a
// database file's cached block 0 and transaction-scoped page tracking, or
// a journal file's synthesized header-only state. A File is created by
// VFS.Open and must not be used from more than one goroutine at a time
// (spec.md §5's same-connection-ordering contract).
type File struct {
	vfs   *VFS
	path  string
	flags OpenFlags

	// Database-file state. Nil for a journal file.
	db            *store.FileState
	journalPages  []uint32
	changedPages  map[uint32]struct{}
	inTransaction bool
	lockHandle    *lockmgr.Handle

	// Journal-file state. Nil for a database file.
	journal *journal.State
	sibling *File // the database File this journal file is synthesized for

	closed bool
}

// IsJournal reports whether f was opened with a journal flag.
func (f *File) IsJournal() bool { return f.journal != nil }

func (f *File) requireOpen() {
	if f.closed {
		invariantf("operation on closed file %q", f.path)
	}
}

// sibling bundle for the journal package, reconstructed on every call since
// f.sibling's tracked slices/maps may have been replaced by a fresh-
// transaction reset.
func (f *File) journalSibling() journal.Sibling {
	return journal.Sibling{
		DB:            f.sibling.db,
		JournalPages:  &f.sibling.journalPages,
		ChangedPages:  f.sibling.changedPages,
		InTransaction: &f.sibling.inTransaction,
	}
}

// Read implements spec.md §4.6's read dispatch: §4.3 for database files,
// §4.4 for journal files. A read straddling or past FileSize returns
// ResultIOErrShortRead with buf's tail zero-filled; callers MUST still use
// the (possibly partial) data already copied in.
func (f *File) Read(ctx context.Context, buf []byte, offset int64) Result {
	f.requireOpen()
	if len(buf) == 0 {
		return ResultOK
	}

	if f.IsJournal() {
		if err := f.journal.Read(ctx, f.vfs.store, offset, buf, f.journalSibling()); err != nil {
			f.vfs.logger.Errorf(logging.NSVFS+"read journal %s: %v", f.path, err)
			return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
		}
		if size := f.journal.FileSize(); offset+int64(len(buf)) > size {
			zeroFrom := int64(0)
			if offset < size {
				zeroFrom = size - offset
			}
			for i := zeroFrom; i < int64(len(buf)); i++ {
				buf[i] = 0
			}
			return ResultIOErrShortRead
		}
		return ResultOK
	}

	if err := f.vfs.store.Read(ctx, f.db, offset, buf); err != nil {
		f.vfs.logger.Errorf(logging.NSVFS+"read %s: %v", f.path, err)
		return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
	}

	fileSize := f.db.FileSize()
	switch {
	case offset >= fileSize:
		for i := range buf {
			buf[i] = 0
		}
		return ResultIOErrShortRead
	case offset+int64(len(buf)) > fileSize:
		zeroFrom := int(fileSize - offset)
		for i := zeroFrom; i < len(buf); i++ {
			buf[i] = 0
		}
		return ResultIOErrShortRead
	}
	return ResultOK
}

// Write implements spec.md §4.6's write dispatch.
func (f *File) Write(ctx context.Context, data []byte, offset int64) Result {
	f.requireOpen()
	if len(data) == 0 {
		return ResultOK
	}

	if f.IsJournal() {
		if err := f.journal.Write(offset, data, f.journalSibling()); err != nil {
			return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
		}
		return ResultOK
	}

	wo := store.WriteOptions{InTransaction: f.inTransaction, ChangedPages: f.changedPages}
	if err := f.vfs.store.Write(ctx, f.db, offset, data, wo); err != nil {
		f.vfs.logger.Errorf(logging.NSVFS+"write %s: %v", f.path, err)
		return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
	}
	return ResultOK
}

// Truncate implements spec.md §4.6's truncate: for a database file, a no-op
// if size >= the current FileSize. A journal file's size is always set to
// size.
func (f *File) Truncate(ctx context.Context, size int64) Result {
	f.requireOpen()
	if f.IsJournal() {
		f.journal.Truncate(size)
		return ResultOK
	}
	if size >= f.db.FileSize() {
		return ResultOK
	}
	if err := f.vfs.store.Truncate(ctx, f.db, size); err != nil {
		return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
	}
	return ResultOK
}

// Sync implements spec.md §4.6's sync: §4.3's xSync for database files,
// a no-op for journal files. A successful sync ends the active
// transaction's page tracking and hands the file to the purge scheduler.
func (f *File) Sync(ctx context.Context) Result {
	f.requireOpen()
	if f.IsJournal() {
		return ResultOK
	}

	so := store.SyncOptions{
		InTransaction: f.inTransaction,
		JournalPages:  f.journalPages,
		ChangedPages:  f.changedPages,
	}
	if err := f.vfs.store.Sync(ctx, f.db, so); err != nil {
		f.vfs.logger.Errorf(logging.NSVFS+"sync %s: %v", f.path, err)
		return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
	}

	f.inTransaction = false
	f.journalPages = f.journalPages[:0]
	for k := range f.changedPages {
		delete(f.changedPages, k)
	}
	f.vfs.purgeSched.NotifySynced(ctx, f.path)
	return ResultOK
}

// FileSize implements spec.md §4.6's fileSize op.
func (f *File) FileSize() int64 {
	f.requireOpen()
	if f.IsJournal() {
		return f.journal.FileSize()
	}
	return f.db.FileSize()
}

// SectorSize implements spec.md §4.6: every file reports the store's block
// size, the unit the versioned store actually persists at.
func (f *File) SectorSize() int {
	return f.vfs.store.BlockSize()
}

// DeviceCharacteristics implements spec.md §4.6.
func (f *File) DeviceCharacteristics() DeviceCharacteristic {
	return deviceCharacteristics
}

// Lock implements spec.md §4.5's escalation contract. Journal files never
// lock: the engine locks only the database connection. If opts.
// ForceClearStale is set and the first escalation attempt is denied, every
// grant on f's path is forced clear and the attempt is retried once —
// recovery for a connection that vanished without releasing its locks
// (spec.md §8's "Forced unlock recovery").
func (f *File) Lock(ctx context.Context, level LockLevel, opts LockOptions) Result {
	f.requireOpen()
	if f.IsJournal() {
		return ResultOK
	}

	wasBelowReserved := f.lockHandle.Level() < lockmgr.LevelReserved
	err := f.vfs.locks.Lock(ctx, f.lockHandle, lockmgr.Level(level))
	if err != nil && errors.Is(err, lockmgr.ErrBusy) && opts.ForceClearStale {
		f.vfs.ForceClearLock(f.path)
		err = f.vfs.locks.Lock(ctx, f.lockHandle, lockmgr.Level(level))
	}
	if err != nil {
		if errors.Is(err, lockmgr.ErrBusy) {
			return ResultBusy
		}
		return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
	}

	// spec.md §4.5: reaching RESERVED purges any block version newer than
	// the published block 0 — leftovers from an abandoned transaction.
	if wasBelowReserved && f.lockHandle.Level() >= lockmgr.LevelReserved {
		if err := f.vfs.store.CleanupAbandoned(ctx, f.path, f.db.Version()); err != nil {
			f.vfs.logger.Warnf(logging.NSVFS+"reserved-lock cleanup %s: %v", f.path, err)
		}
	}
	return ResultOK
}

// Unlock implements spec.md §4.5's downgrade-only contract.
func (f *File) Unlock(ctx context.Context, level LockLevel) Result {
	f.requireOpen()
	if f.IsJournal() {
		return ResultOK
	}
	if err := f.vfs.locks.Unlock(f.lockHandle, lockmgr.Level(level)); err != nil {
		return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
	}
	return ResultOK
}

// Close drops f's in-memory state; if OpenDeleteOnClose was set, every
// record for the path is deleted.
func (f *File) Close(ctx context.Context) Result {
	f.requireOpen()
	f.closed = true

	if !f.IsJournal() {
		f.vfs.locks.Release(f.lockHandle)
		f.vfs.forgetOpenFile(f.path)
	}
	if f.flags.Has(OpenDeleteOnClose) {
		if err := f.vfs.store.DeleteFile(ctx, f.path); err != nil {
			return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
		}
	}
	return ResultOK
}
