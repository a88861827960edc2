package kvvfs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rhashimoto/preview/internal/blockcodec"
	"github.com/rhashimoto/preview/internal/journal"
	"github.com/rhashimoto/preview/internal/kvstore"
	"github.com/rhashimoto/preview/internal/lockmgr"
	"github.com/rhashimoto/preview/internal/logging"
	"github.com/rhashimoto/preview/internal/purge"
	"github.com/rhashimoto/preview/internal/store"
)

// journalSuffix is appended to a database path to name its rollback
// journal, per spec.md §6's path conventions.
const journalSuffix = "-journal"

// VFS is the dispatch table mapping engine-facing operations (spec.md
// §4.6) onto the versioned store, the journal emulator, and the lock
// manager. One VFS instance is shared by every opened file, matching
// spec.md §5's "the KVS connection is process-wide".
type VFS struct {
	store      *store.Store
	locks      *lockmgr.Manager
	purgeSched *purge.Scheduler
	logger     logging.Logger

	mu        sync.Mutex
	openFiles map[string]*File // database files only, keyed by path
}

// New builds a VFS over kv, the KVS backend (a real deployment's indexed
// store, or internal/kvstore.Memory for development/testing).
func New(kv kvstore.Store, opts Options) *VFS {
	if opts.BlockSize <= 0 {
		opts.BlockSize = blockcodec.DefaultBlockSize
	}
	logger := logging.OrDefault(opts.Logger)

	adaptor := kvstore.NewAdaptor(kv, opts.Durability, logger)
	st := store.New(adaptor, store.Options{
		BlockSize:   opts.BlockSize,
		CacheBytes:  opts.CacheBytes,
		Compression: opts.Compression,
		Logger:      logger,
	})

	host := opts.Host
	if host == nil {
		host = lockmgr.NewLocalHostLock()
	}
	idle := opts.Idle
	if idle == nil {
		idle = purge.StandInIdleScheduler{}
	}

	return &VFS{
		store: st,
		locks: lockmgr.NewManager(host, logger),
		purgeSched: purge.New(st, idle, purge.Options{
			Policy:       opts.PurgePolicy,
			PurgeAtLeast: opts.PurgeAtLeast,
			Logger:       logger,
		}),
		logger:    logger,
		openFiles: make(map[string]*File),
	}
}

// Open implements spec.md §4.6's open: dispatch to the versioned store for
// a database file or synthesize journal state for a journal file. name is
// used unchanged as the path; it is not parsed or canonicalized, so
// "db" and "/db" name different files.
func (v *VFS) Open(ctx context.Context, name string, flags OpenFlags) (*File, Result) {
	if flags.IsJournal() {
		return v.openJournal(name, flags)
	}
	return v.openDatabase(ctx, name, flags)
}

func (v *VFS) openDatabase(ctx context.Context, name string, flags OpenFlags) (*File, Result) {
	fs, err := v.store.Open(ctx, name, flags.Has(OpenCreate))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ResultCantOpen
		}
		v.logger.Errorf(logging.NSVFS+"open %s: %v", name, err)
		return nil, ResultCantOpen
	}

	f := &File{
		vfs:          v,
		path:         name,
		flags:        flags,
		db:           fs,
		changedPages: make(map[uint32]struct{}),
		lockHandle:   v.locks.NewHandle(name),
	}

	v.mu.Lock()
	v.openFiles[name] = f
	v.mu.Unlock()
	return f, ResultOK
}

func (v *VFS) openJournal(name string, flags OpenFlags) (*File, Result) {
	dbPath := strings.TrimSuffix(name, journalSuffix)

	v.mu.Lock()
	sibling, ok := v.openFiles[dbPath]
	v.mu.Unlock()
	if !ok {
		invariantf("journal %q opened before its database file %q", name, dbPath)
	}

	f := &File{
		vfs:     v,
		path:    name,
		flags:   flags,
		journal: journal.NewState(v.store.BlockSize()),
		sibling: sibling,
	}
	return f, ResultOK
}

func (v *VFS) forgetOpenFile(path string) {
	v.mu.Lock()
	delete(v.openFiles, path)
	v.mu.Unlock()
}

// Access implements spec.md §4.6's access: probe for the presence of any
// block-0 record under name. AccessReadWrite is treated identically to
// AccessExists, since this VFS never reports a path as read-only.
func (v *VFS) Access(ctx context.Context, name string, _ AccessFlag) (bool, Result) {
	exists, err := v.store.Exists(ctx, name)
	if err != nil {
		v.logger.Errorf(logging.NSVFS+"access %s: %v", name, err)
		return false, resultFor(fmt.Errorf("%w: %v", ErrIO, err))
	}
	return exists, ResultOK
}

// Delete implements spec.md §4.6's delete: ranged-delete all records under
// name, awaiting the KVS transaction iff syncDir is true.
func (v *VFS) Delete(ctx context.Context, name string, syncDir bool) Result {
	if err := v.store.DeleteFile(ctx, name); err != nil {
		v.logger.Errorf(logging.NSVFS+"delete %s: %v", name, err)
		return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
	}
	if syncDir {
		if err := v.store.KVSync(ctx); err != nil {
			return resultFor(fmt.Errorf("%w: %v", ErrIO, err))
		}
	}
	return ResultOK
}

// ForceClearLock unconditionally releases every lock grant held on path,
// used for connection-recovery (spec.md §8's "Forced unlock recovery").
func (v *VFS) ForceClearLock(path string) {
	v.locks.ForceClearLock(path)
}

// Purge sweeps path's accumulated purge record immediately, regardless of
// the configured purge policy.
func (v *VFS) Purge(ctx context.Context, path string) error {
	return v.purgeSched.Purge(ctx, path)
}
