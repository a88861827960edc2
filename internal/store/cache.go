package store

import (
	"container/list"
	"sync"

	"github.com/zeebo/xxh3"
)

// blockKey identifies one cached (path, index) pair; the version is kept in
// the entry, not the key. Rather than keep the path string alive in every
// cache entry's key, it is folded into a 64-bit fingerprint the way a
// block-cache key is normally kept small. Two paths whose fingerprints
// collide share one slot: get checks only the version, not the path.
type blockKey struct {
	fingerprint uint64
	index       uint32
}

func fingerprintOf(path string) uint64 {
	return xxh3.HashString(path)
}

// cacheEntry is what blockCache stores per key: the newest version known
// for (path, index) at insertion time, and its bytes.
type cacheEntry struct {
	key     blockKey
	version int64
	data    []byte
}

// blockCache is a fixed-capacity (by byte usage) LRU cache mapping
// (path, index) to the newest block bytes observed for it, used by Store to
// avoid round-tripping to the KVS adaptor for repeatedly-read blocks.
//
// Grounded on the teacher's internal/cache.LRUCache (container/list +
// map[key]*list.Element, evict from the back on overflow), simplified: no
// pinned-handle ref-counting, since callers here always copy bytes out
// immediately rather than holding a live reference into the cache.
type blockCache struct {
	mu       sync.Mutex
	capacity uint64
	usage    uint64
	table    map[blockKey]*list.Element
	order    *list.List // front = most recently used
}

func newBlockCache(capacityBytes uint64) *blockCache {
	return &blockCache{
		capacity: capacityBytes,
		table:    make(map[blockKey]*list.Element),
		order:    list.New(),
	}
}

// get returns the cached bytes for (path, index) if the cache holds a
// version >= minVersion (i.e. one visible to a reader anchored at
// minVersion) — the caller must still treat a miss as "consult the KVS",
// since the cache may simply be stale or empty.
func (c *blockCache) get(path string, index uint32, minVersion int64) ([]byte, int64, bool) {
	if c == nil {
		return nil, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := blockKey{fingerprintOf(path), index}
	elem, ok := c.table[key]
	if !ok {
		return nil, 0, false
	}
	entry := elem.Value.(*cacheEntry)
	if entry.version < minVersion {
		// Cached version is newer than the reader's anchor, so not visible
		// to it; not useful, but also not wrong to evict lazily here.
		return nil, 0, false
	}
	c.order.MoveToFront(elem)
	return entry.data, entry.version, true
}

// put records (path, index) -> (version, data) as the newest known bytes,
// evicting least-recently-used entries until usage fits capacity.
func (c *blockCache) put(path string, index uint32, version int64, data []byte) {
	if c == nil || c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := blockKey{fingerprintOf(path), index}
	if elem, ok := c.table[key]; ok {
		old := elem.Value.(*cacheEntry)
		if old.version < version {
			// Don't let a stale read clobber a newer cached entry
			// (version comparisons are "smaller is newer").
			c.order.MoveToFront(elem)
			return
		}
		c.usage -= uint64(len(old.data))
		old.version = version
		old.data = data
		c.usage += uint64(len(data))
		c.order.MoveToFront(elem)
	} else {
		entry := &cacheEntry{key: key, version: version, data: data}
		elem := c.order.PushFront(entry)
		c.table[key] = elem
		c.usage += uint64(len(data))
	}

	for c.usage > c.capacity && c.order.Len() > 0 {
		back := c.order.Back()
		entry := back.Value.(*cacheEntry)
		c.usage -= uint64(len(entry.data))
		delete(c.table, entry.key)
		c.order.Remove(back)
	}
}

// invalidate drops the cached entry for (path, index), if any.
func (c *blockCache) invalidate(path string, index uint32) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	key := blockKey{fingerprintOf(path), index}
	if elem, ok := c.table[key]; ok {
		entry := elem.Value.(*cacheEntry)
		c.usage -= uint64(len(entry.data))
		delete(c.table, key)
		c.order.Remove(elem)
	}
}

// invalidatePath drops every cached entry for path, used on delete and on
// RESERVED-lock cleanup (the set of affected indices isn't known up front).
func (c *blockCache) invalidatePath(path string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fp := fingerprintOf(path)
	for key, elem := range c.table {
		if key.fingerprint != fp {
			continue
		}
		entry := elem.Value.(*cacheEntry)
		c.usage -= uint64(len(entry.data))
		delete(c.table, key)
		c.order.Remove(elem)
	}
}
