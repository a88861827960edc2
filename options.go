package kvvfs

import (
	"github.com/rhashimoto/preview/internal/blockcodec"
	"github.com/rhashimoto/preview/internal/kvstore"
	"github.com/rhashimoto/preview/internal/lockmgr"
	"github.com/rhashimoto/preview/internal/logging"
	"github.com/rhashimoto/preview/internal/purge"
)

// Options configures a VFS instance, following the teacher's
// Options/ReadOptions/WriteOptions split: one root struct covering
// construction-time concerns, with LockOptions covering the one per-call
// knob the façade exposes.
type Options struct {
	// BlockSize is the fixed block payload size. Defaults to
	// blockcodec.DefaultBlockSize (4096).
	BlockSize int
	// CacheBytes bounds the versioned store's block cache.
	CacheBytes uint64
	// Compression selects the block-payload compression algorithm.
	Compression blockcodec.CompressionType
	// Durability hints how aggressively the KVS adaptor flushes.
	Durability kvstore.Durability
	// PurgePolicy selects automatic-vs-manual purge scheduling.
	PurgePolicy purge.Policy
	// PurgeAtLeast overrides the default purge-trigger threshold (16).
	PurgeAtLeast int
	// Idle is consulted to schedule deferred purges. Defaults to
	// purge.StandInIdleScheduler{}.
	Idle purge.IdleScheduler
	// Host is the cross-tab lock primitive. Defaults to a fresh
	// lockmgr.LocalHostLock.
	Host lockmgr.HostLock
	// Logger receives diagnostic output from every layer. A nil Logger is
	// replaced by logging.OrDefault's WARN-level logger writing to stderr.
	Logger logging.Logger
}

// DefaultOptions returns sensible defaults: 4096-byte blocks, a 4MiB block
// cache, no compression, default durability, deferred purge policy, the
// zero-delay stand-in idle scheduler, a fresh in-process host lock, and a
// WARN-level stderr logger.
func DefaultOptions() Options {
	return Options{
		BlockSize:    blockcodec.DefaultBlockSize,
		CacheBytes:   4 << 20,
		Durability:   kvstore.DurabilityDefault,
		PurgeAtLeast: 0,
	}
}

// LockOptions carries the one per-call lock knob the façade exposes:
// whether an escalation that is denied should force-clear the path's locks
// and try once more, to recover from a holder that vanished without
// releasing them. Most callers pass the zero value.
type LockOptions struct {
	// ForceClearStale, when true, calls ForceClearLock and retries the
	// escalation once if the first attempt returns busy.
	ForceClearStale bool
}
