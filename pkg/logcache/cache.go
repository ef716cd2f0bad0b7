package logcache

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/coldforge/streamwal/pkg/types"
)

// Config carries the block-sealing tunables from the config surface.
type Config struct {
	BlockSizeLimit    int64
	MaxStreamsPerWal  int
}

// ApplyDefaults fills zero-valued fields with the spec's documented
// defaults.
func (c *Config) ApplyDefaults() {
	if c.BlockSizeLimit <= 0 {
		c.BlockSizeLimit = DefaultBlockSizeLimit
	}
	if c.MaxStreamsPerWal <= 0 {
		c.MaxStreamsPerWal = DefaultMaxStreamsBlock
	}
}

// Cache is the Log Cache (C6): an in-memory, stream-partitioned buffer of
// records acknowledged by the WAL but not yet uploaded.
type Cache struct {
	cfg Config

	mu        sync.Mutex
	closed    bool
	current   *block
	archived  map[int64]*block // sealed or uploading, keyed by block id; insertion order tracked separately
	order     []int64          // archived block ids, oldest first
	nextID    atomic.Int64
	totalSize atomic.Int64
}

// New constructs an empty Cache with its first open block.
func New(cfg Config) *Cache {
	cfg.ApplyDefaults()
	c := &Cache{cfg: cfg, archived: make(map[int64]*block)}
	c.current = newBlock(c.nextID.Add(1))
	return c
}

// Put appends one record to the current open block, returning true if the
// block became full (by size or stream-count limit) and the caller must
// seal it via ArchiveCurrentBlock. When rec belongs to a stream not yet in
// the block and the block already holds MaxStreamsPerWal streams, Put
// returns true without storing rec. Records within a stream must already
// be ascending-by-base-offset and de-duplicated by the caller (the
// committer, per the spec's ownership rule) before reaching the cache.
func (c *Cache) Put(rec types.StreamRecordBatch) (full bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrCacheClosed
	}

	b := c.current
	if _, existing := b.streams[rec.StreamID]; !existing && b.streamCount()+1 > c.cfg.MaxStreamsPerWal {
		return true, nil
	}

	b.streams[rec.StreamID] = append(b.streams[rec.StreamID], rec)
	b.size += rec.EncodedSize
	c.totalSize.Add(rec.EncodedSize)

	full = b.size >= c.cfg.BlockSizeLimit || b.streamCount() >= c.cfg.MaxStreamsPerWal
	return full, nil
}

// Get returns the contiguous head of [start, end) for stream from
// whichever cache blocks (open or archived) hold it, up to maxBytes. The
// first returned record's BaseOffset <= start implies the cache alone can
// satisfy the read.
func (c *Cache) Get(streamID, start, end, maxBytes int64) []types.StreamRecordBatch {
	c.mu.Lock()
	defer c.mu.Unlock()

	var all []types.StreamRecordBatch
	for _, id := range c.order {
		b := c.archived[id]
		all = append(all, b.streams[streamID]...)
	}
	all = append(all, c.current.streams[streamID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].BaseOffset < all[j].BaseOffset })

	var out []types.StreamRecordBatch
	var bytes int64
	expect := start
	for _, rec := range all {
		if rec.LastOffset <= start {
			continue
		}
		if rec.BaseOffset > expect {
			break // gap: cache cannot satisfy beyond here
		}
		if rec.BaseOffset >= end {
			break
		}
		out = append(out, rec)
		bytes += rec.EncodedSize
		expect = rec.LastOffset
		if bytes >= maxBytes {
			break
		}
	}
	return out
}

// ArchiveCurrentBlock seals the current open block unconditionally and
// starts a fresh one. Returns the sealed block's id, or ok=false if the
// current block held no records.
func (c *Cache) ArchiveCurrentBlock() (blockID int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.archiveCurrentLocked()
}

// ArchiveCurrentBlockIfContains seals the current block only if it
// contains any record for streamID, or unconditionally if streamID is
// types.AllStreams.
func (c *Cache) ArchiveCurrentBlockIfContains(streamID int64) (blockID int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if streamID != types.AllStreams {
		if _, has := c.current.streams[streamID]; !has {
			return 0, false
		}
	}
	return c.archiveCurrentLocked()
}

func (c *Cache) archiveCurrentLocked() (int64, bool) {
	b := c.current
	if b.size == 0 {
		return 0, false
	}
	b.state = BlockStateSealed
	c.archived[b.id] = b
	c.order = append(c.order, b.id)
	c.current = newBlock(c.nextID.Add(1))
	return b.id, true
}

// SetConfirmOffset records the WAL confirm offset a sealed block's
// contents are covered up to, used by the upload pipeline to trim the
// WAL past committed records.
func (c *Cache) SetConfirmOffset(blockID, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.archived[blockID]; ok {
		b.confirmOffset = offset
	}
}

// MarkUploading transitions a sealed block to uploading, making it
// ineligible for ForceFree eviction.
func (c *Cache) MarkUploading(blockID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.archived[blockID]; ok {
		b.state = BlockStateUploading
	}
}

// MarkFree releases a committed block's bytes and removes it from the
// cache entirely.
func (c *Cache) MarkFree(blockID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.archived[blockID]
	if !ok {
		return
	}
	atomicSubtract(&c.totalSize, b.size)
	delete(c.archived, blockID)
	for i, id := range c.order {
		if id == blockID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// ForceFree evicts whole archived-but-uncommitted (sealed, not
// uploading) blocks in oldest-first order until at least n bytes are
// released, and returns the bytes actually released. It never evicts an
// in-flight upload.
func (c *Cache) ForceFree(n int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var released int64
	var remaining []int64
	for _, id := range c.order {
		b := c.archived[id]
		if released < n && b.state == BlockStateSealed {
			released += b.size
			atomicSubtract(&c.totalSize, b.size)
			delete(c.archived, id)
			continue
		}
		remaining = append(remaining, id)
	}
	c.order = remaining
	return released
}

// Size returns the cache's total buffered byte size across the current
// and all archived blocks.
func (c *Cache) Size() int64 {
	return c.totalSize.Load()
}

// Stats reports cache-wide counters for metrics/status.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	uploading := 0
	sealed := 0
	for _, id := range c.order {
		if c.archived[id].state == BlockStateUploading {
			uploading++
		} else {
			sealed++
		}
	}
	return Stats{
		TotalBytes:   c.totalSize.Load(),
		StreamCount:  c.current.streamCount(),
		OpenBlockID:  c.current.id,
		SealedBlocks: sealed,
		UploadBlocks: uploading,
	}
}

// Close marks the cache closed; further Put calls fail.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Block is the exported, read-only view of a sealed block handed to the
// upload pipeline.
type Block struct {
	ID            int64
	Streams       map[int64][]types.StreamRecordBatch
	Size          int64
	ConfirmOffset int64
}

// PeekBlock returns a read-only snapshot of an archived block, used by
// the upload pipeline's prepare stage without taking cache ownership.
func (c *Cache) PeekBlock(blockID int64) (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.archived[blockID]
	if !ok {
		return Block{}, false
	}
	return Block{ID: b.id, Streams: b.streams, Size: b.size, ConfirmOffset: b.confirmOffset}, true
}
