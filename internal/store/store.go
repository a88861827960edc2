// Package store implements the versioned-block storage engine
// (SPEC_FULL.md §4.3): multi-version block records per database file,
// resolving reads to the latest visible version and enforcing the
// "commit == block 0 sync" invariant.
package store

import (
	"context"
	"fmt"

	"github.com/rhashimoto/preview/internal/blockcodec"
	"github.com/rhashimoto/preview/internal/kvstore"
	"github.com/rhashimoto/preview/internal/logging"
)

// Options configures a Store.
type Options struct {
	// BlockSize is the fixed payload size of every block. Defaults to
	// blockcodec.DefaultBlockSize.
	BlockSize int
	// CacheBytes bounds the block cache's total byte usage. Zero disables
	// caching.
	CacheBytes uint64
	// Compression, if not NoCompression, is applied to every non-zero-index
	// block's payload before it is written to the KVS (SPEC_FULL.md §2's
	// domain stack). Block 0 is exempt: it is read directly from the cached
	// in-memory copy on every access, so compressing it would only add CPU
	// cost without reducing KVS traffic.
	Compression blockcodec.CompressionType
	Logger      logging.Logger
}

// DefaultOptions returns the Store defaults: a 4096-byte block, a 4MiB
// block cache, and no compression.
func DefaultOptions() Options {
	return Options{
		BlockSize:  blockcodec.DefaultBlockSize,
		CacheBytes: 4 << 20,
	}
}

// Store is the versioned-block engine bound to one kvstore.Adaptor. A
// single Store instance is shared by every opened database file, matching
// spec.md §5's "the KVS connection is process-wide".
type Store struct {
	kv          *kvstore.Adaptor
	blockSize   int
	compression blockcodec.CompressionType
	cache       *blockCache
	logger      logging.Logger
}

// New creates a Store over kv.
func New(kv *kvstore.Adaptor, opts Options) *Store {
	if opts.BlockSize <= 0 {
		opts.BlockSize = blockcodec.DefaultBlockSize
	}
	return &Store{
		kv:          kv,
		blockSize:   opts.BlockSize,
		compression: opts.Compression,
		cache:       newBlockCache(opts.CacheBytes),
		logger:      logging.OrDefault(opts.Logger),
	}
}

// encodeBlock prepends a 1-byte compression-type tag to data, compressing
// with the store's configured algorithm. Only a block that Compress reports
// as incompressible (a nil result, as LZ4 gives) is stored raw; the output
// size is not otherwise compared with the input.
func (s *Store) encodeBlock(data []byte) ([]byte, error) {
	if s.compression == blockcodec.NoCompression {
		return append([]byte{byte(blockcodec.NoCompression)}, data...), nil
	}
	compressed, err := blockcodec.Compress(s.compression, data)
	if err != nil {
		return nil, err
	}
	if compressed == nil {
		return append([]byte{byte(blockcodec.NoCompression)}, data...), nil
	}
	return append([]byte{byte(s.compression)}, compressed...), nil
}

// decodeBlock reverses encodeBlock, using the tag byte to select the
// decompressor regardless of the store's current configured algorithm (so
// changing Options.Compression across opens never breaks previously
// written blocks).
func (s *Store) decodeBlock(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return stored, nil
	}
	tag := blockcodec.CompressionType(stored[0])
	payload := stored[1:]
	if tag == blockcodec.NoCompression {
		return payload, nil
	}
	return blockcodec.Decompress(tag, payload, s.blockSize)
}

// BlockSize returns the store's fixed block size.
func (s *Store) BlockSize() int { return s.blockSize }

// Open loads path's block 0. If no block 0 exists and create is true, a
// fresh zero-filled block 0 is constructed and, since Open is only ever
// called for non-journal files (the journal emulator never touches the
// store), persisted immediately — matching spec.md §4.6's open contract. If
// no block 0 exists and create is false, ErrNotFound is returned.
func (s *Store) Open(ctx context.Context, path string, create bool) (*FileState, error) {
	var rec kvstore.Record
	var found bool
	err := s.kv.Run(ctx, kvstore.ReadOnly, func(tx kvstore.Tx) error {
		r, ok, err := tx.Get(path, 0, minInt64)
		if err != nil {
			return err
		}
		rec, found = r, ok
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if !found {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		rec = kvstore.Record{
			Name:     path,
			Index:    0,
			Version:  0,
			Data:     make([]byte, s.blockSize),
			FileSize: 0,
		}
		if err := s.kv.Run(ctx, kvstore.ReadWrite, func(tx kvstore.Tx) error {
			return tx.Put(rec)
		}); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", path, err)
		}
	}

	fs := NewFileState(path, rec)
	s.cache.put(path, 0, rec.Version, rec.Data)
	return fs, nil
}

// KVSync waits for every previously committed KVS transaction to become
// durable, without touching any particular file's state. Used by xDelete's
// syncDir option (spec.md §4.6).
func (s *Store) KVSync(ctx context.Context) error {
	return s.kv.Sync(ctx)
}

// Exists reports whether path has a block 0 record.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := s.kv.Run(ctx, kvstore.ReadOnly, func(tx kvstore.Tx) error {
		var err error
		exists, err = tx.Exists(path, 0)
		return err
	})
	return exists, err
}

// DeleteFile removes every record for path, used by xDelete and by
// DELETEONCLOSE handling.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	s.cache.invalidatePath(path)
	// DeleteAll removes every (index, version) for path, which also covers
	// the synthetic purge record since it shares path as its Name.
	return s.kv.Run(ctx, kvstore.ReadWrite, func(tx kvstore.Tx) error {
		return tx.DeleteAll(path)
	})
}

const minInt64 = -1 << 63

// Read serves a byte range [iOffset, iOffset+len(buf)) of path into buf.
// Bytes belonging to a block that has never been written (a sparse hole,
// or a read past any committed data) are zero-filled; it is the caller's
// responsibility (kvvfs) to compare against FileState.FileSize and report
// a short read where appropriate — Store's job is only to resolve bytes
// that exist.
func (s *Store) Read(ctx context.Context, fs *FileState, iOffset int64, buf []byte) error {
	spans := blockcodec.Spans(iOffset, len(buf), s.blockSize)
	for _, span := range spans {
		if span.BlockIndex == 0 {
			if err := s.ReloadBlock0(ctx, fs); err != nil {
				return err
			}
			break
		}
	}
	for _, span := range spans {
		var block []byte
		var err error
		if span.BlockIndex == 0 {
			block = fs.Block0.Data
		} else {
			block, err = s.readBlock(ctx, fs, span.BlockIndex)
			if err != nil {
				return err
			}
		}
		dst := buf[span.BufOffset : span.BufOffset+span.Length]
		if block == nil {
			for i := range dst {
				dst[i] = 0
			}
			continue
		}
		end := span.BlockOffset + span.Length
		if end > len(block) {
			end = len(block)
		}
		n := copy(dst, block[span.BlockOffset:end])
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
	}
	return nil
}

// readBlock returns the newest version of (fs.Path, index) visible at
// fs.Version(), consulting the cache first.
func (s *Store) readBlock(ctx context.Context, fs *FileState, index uint32) ([]byte, error) {
	minVersion := fs.Version()
	if data, _, ok := s.cache.get(fs.Path, index, minVersion); ok {
		return data, nil
	}

	var data []byte
	var found bool
	err := s.kv.Run(ctx, kvstore.ReadOnly, func(tx kvstore.Tx) error {
		rec, ok, err := tx.Get(fs.Path, index, minVersion)
		if err != nil {
			return err
		}
		if ok {
			decoded, err := s.decodeBlock(rec.Data)
			if err != nil {
				return err
			}
			data, found = decoded, true
			s.cache.put(fs.Path, index, rec.Version, decoded)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return data, nil
}

// WriteOptions carries the transaction-scoped bookkeeping a write
// participates in, owned by the caller's opened-file entry.
type WriteOptions struct {
	// InTransaction is true while a journalled transaction is active; when
	// true, written non-zero block indices are added to ChangedPages.
	InTransaction bool
	ChangedPages  map[uint32]struct{}
}

// Write applies a byte-range write to path. A write that is exactly one
// full block-aligned block takes the fast path (direct put, or — for block
// 0 — an in-memory update deferred to Sync); any other shape falls back to
// read-modify-write per touched block.
func (s *Store) Write(ctx context.Context, fs *FileState, iOffset int64, data []byte, wo WriteOptions) error {
	if len(data) == 0 {
		return nil
	}
	if blockcodec.IsSingleAlignedBlock(iOffset, len(data), s.blockSize) {
		index := uint32(iOffset / int64(s.blockSize))
		if err := s.writeFullBlock(ctx, fs, index, data, wo); err != nil {
			return err
		}
	} else {
		for _, span := range blockcodec.Spans(iOffset, len(data), s.blockSize) {
			if err := s.writePartialBlock(ctx, fs, span, data[span.BufOffset:span.BufOffset+span.Length], wo); err != nil {
				return err
			}
		}
	}

	// Growing the file is a block-0 metadata change only; like the rest of
	// block 0, it stays in memory until Sync publishes it.
	if end := iOffset + int64(len(data)); end > fs.Block0.FileSize {
		fs.Block0.FileSize = end
	}
	return nil
}

// writeFullBlock is the fast path: the block is replaced wholesale.
func (s *Store) writeFullBlock(ctx context.Context, fs *FileState, index uint32, data []byte, wo WriteOptions) error {
	owned := append([]byte(nil), data...)
	if index == 0 {
		fs.Block0.Data = owned
		// Block 0 is only mutated in memory until Sync publishes it.
		return nil
	}

	encoded, err := s.encodeBlock(owned)
	if err != nil {
		return fmt.Errorf("store: encode %s block %d: %w", fs.Path, index, err)
	}
	rec := kvstore.Record{Name: fs.Path, Index: index, Version: fs.Version(), Data: encoded}
	if err := s.kv.Run(ctx, kvstore.ReadWrite, func(tx kvstore.Tx) error {
		return tx.Put(rec)
	}); err != nil {
		return fmt.Errorf("store: write %s block %d: %w", fs.Path, index, err)
	}
	s.cache.put(fs.Path, index, fs.Version(), owned)
	if wo.InTransaction && wo.ChangedPages != nil {
		wo.ChangedPages[index] = struct{}{}
	}
	return nil
}

// writePartialBlock implements the slow path for one span: read the
// existing block, splice in the new bytes, write the full block back.
func (s *Store) writePartialBlock(ctx context.Context, fs *FileState, span blockcodec.Span, chunk []byte, wo WriteOptions) error {
	var existing []byte
	if span.BlockIndex == 0 {
		existing = fs.Block0.Data
	} else {
		b, err := s.readBlock(ctx, fs, span.BlockIndex)
		if err != nil {
			return err
		}
		existing = b
	}

	full := make([]byte, s.blockSize)
	copy(full, existing)
	copy(full[span.BlockOffset:], chunk)
	return s.writeFullBlock(ctx, fs, span.BlockIndex, full, wo)
}

// Truncate sets path's logical size to size: block 0's FileSize is updated
// in memory, and every block at index > floor(size/blockSize) is deleted
// from the KVS. Truncating to a size within the current last block does
// not delete that block (it stays, with stale tail bytes the façade must
// never expose past FileSize).
func (s *Store) Truncate(ctx context.Context, fs *FileState, size int64) error {
	fs.Block0.FileSize = size
	lastIndex := uint32(size / int64(s.blockSize))
	fromIndex := lastIndex + 1
	if err := s.kv.Run(ctx, kvstore.ReadWrite, func(tx kvstore.Tx) error {
		return tx.DeleteFromIndex(fs.Path, fromIndex)
	}); err != nil {
		return fmt.Errorf("store: truncate %s: %w", fs.Path, err)
	}
	s.cache.invalidatePath(fs.Path)
	return nil
}

// SyncOptions carries the transaction-scoped state Sync needs to run the
// purge-record bookkeeping step.
type SyncOptions struct {
	// InTransaction is true when a journalled transaction is ending.
	InTransaction bool
	JournalPages  []uint32
	ChangedPages  map[uint32]struct{}
}

// Sync performs xSync (spec.md §4.3): publish the cached block 0 (the
// atomic commit point), update the purge record for pages that were both
// journalled and changed in this transaction, and flush the KVS adaptor.
// Durability (whether Sync blocks for backend acknowledgement) is the
// adaptor's own configured concern.
func (s *Store) Sync(ctx context.Context, fs *FileState, so SyncOptions) error {
	rec := fs.Block0
	err := s.kv.Run(ctx, kvstore.ReadWrite, func(tx kvstore.Tx) error {
		if err := tx.Put(rec); err != nil {
			return err
		}
		if so.InTransaction {
			obsolete := intersectIndices(so.JournalPages, so.ChangedPages)
			if err := mergePurgeObsolete(tx, fs.Path, obsolete, rec.Version); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: sync %s: %w", fs.Path, err)
	}
	if err := s.kv.Sync(ctx); err != nil {
		return fmt.Errorf("store: sync %s: %w", fs.Path, err)
	}
	s.cache.put(fs.Path, 0, rec.Version, rec.Data)
	return nil
}

func intersectIndices(journalPages []uint32, changedPages map[uint32]struct{}) []uint32 {
	if len(journalPages) == 0 || len(changedPages) == 0 {
		return nil
	}
	seen := make(map[uint32]struct{}, len(journalPages))
	var out []uint32
	for _, idx := range journalPages {
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		if _, changed := changedPages[idx]; changed {
			out = append(out, idx)
		}
	}
	return out
}

// CleanupAbandoned purges every version of path strictly newer than
// publishedVersion — leftovers from a transaction that never reached
// Sync. Called by the VFS façade (kvvfs File.Lock) when a connection
// reaches RESERVED, per spec.md §4.5.
func (s *Store) CleanupAbandoned(ctx context.Context, path string, publishedVersion int64) error {
	if err := s.kv.Run(ctx, kvstore.ReadWrite, func(tx kvstore.Tx) error {
		return tx.DeleteNewerThan(path, publishedVersion)
	}); err != nil {
		return fmt.Errorf("store: cleanup abandoned %s: %w", path, err)
	}
	s.cache.invalidatePath(path)
	return nil
}

// ReadPreTransactionBlock returns the newest version of (path, index) that
// is strictly older than fs's current in-memory version — the content the
// block had before the active journalled transaction began. Used by the
// journal emulator to reconstruct rollback-journal page entries on demand,
// since journal bytes are never actually stored.
func (s *Store) ReadPreTransactionBlock(ctx context.Context, path string, index uint32, fs *FileState) ([]byte, bool, error) {
	var data []byte
	var found bool
	err := s.kv.Run(ctx, kvstore.ReadOnly, func(tx kvstore.Tx) error {
		rec, ok, err := tx.GetOlderThan(path, index, fs.Version())
		if err != nil {
			return err
		}
		if ok {
			decoded, err := s.decodeBlock(rec.Data)
			if err != nil {
				return err
			}
			data, found = decoded, true
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("store: read pre-transaction block %s/%d: %w", path, index, err)
	}
	return data, found, nil
}

// PurgeRecordLen returns the number of (pageIndex, threshold) entries
// currently accumulated in path's purge record, so a purge scheduler can
// decide whether purgeAtLeast has been reached. A missing purge record
// reports 0.
func (s *Store) PurgeRecordLen(ctx context.Context, path string) (int, error) {
	var n int
	err := s.kv.Run(ctx, kvstore.ReadOnly, func(tx kvstore.Tx) error {
		rec, ok, err := tx.Get(path, kvstore.PurgeIndex, kvstore.VersionZero)
		if err != nil {
			return err
		}
		if ok {
			n = len(decodePurgeRecord(rec.Data))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: purge record len %s: %w", path, err)
	}
	return n, nil
}

// Purge sweeps path's accumulated purge record (spec.md §4.7): for every
// (pageIndex, threshold) entry it issues a ranged delete for versions
// strictly older than threshold, then deletes the purge record itself.
// A missing purge record is a no-op.
func (s *Store) Purge(ctx context.Context, path string) error {
	err := s.kv.Run(ctx, kvstore.ReadWrite, func(tx kvstore.Tx) error {
		rec, ok, err := tx.Get(path, kvstore.PurgeIndex, kvstore.VersionZero)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		for index, threshold := range decodePurgeRecord(rec.Data) {
			if err := tx.DeleteOlderThan(path, index, threshold); err != nil {
				return err
			}
		}
		return tx.DeleteOlderThan(path, kvstore.PurgeIndex, kvstore.VersionZero-1)
	})
	if err != nil {
		return fmt.Errorf("store: purge %s: %w", path, err)
	}
	s.cache.invalidatePath(path)
	return nil
}

// ReloadBlock0 reconciles fs's cached block 0 against the KVS's committed
// copy, keeping whichever is newer (smaller version) — spec.md §4.3's read
// rule for block 0. It is called before serving a read so a writer's own
// in-memory version always wins, but a reader opening after another
// connection committed observes the new data.
func (s *Store) ReloadBlock0(ctx context.Context, fs *FileState) error {
	var stored kvstore.Record
	var found bool
	err := s.kv.Run(ctx, kvstore.ReadOnly, func(tx kvstore.Tx) error {
		r, ok, err := tx.Get(fs.Path, 0, minInt64)
		if err != nil {
			return err
		}
		stored, found = r, ok
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: reload block0 %s: %w", fs.Path, err)
	}
	if found && stored.Version < fs.Block0.Version {
		fs.Block0 = stored
	}
	return nil
}
