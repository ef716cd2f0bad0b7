// Package logcache implements the in-memory, stream-partitioned cache of
// records that have been acknowledged by the WAL but not yet uploaded to
// the object store.
package logcache

import (
	"errors"
	"sync/atomic"

	"github.com/coldforge/streamwal/pkg/types"
)

// Defaults for block sealing, overridable via Config.
const (
	DefaultBlockSizeLimit  = 8 << 20 // 8 MiB
	DefaultMaxStreamsBlock = 4096
)

var (
	// ErrCacheClosed is returned when operations are attempted on a
	// closed cache.
	ErrCacheClosed = errors.New("log cache is closed")

	// ErrBlockNotFound is returned when a requested sealed block id
	// doesn't exist.
	ErrBlockNotFound = errors.New("log cache: block not found")

	// ErrCacheFull describes the state where every archived block is in
	// flight and nothing can be evicted. ForceFree does not return it; it
	// reports the number of bytes it released instead.
	ErrCacheFull = errors.New("log cache: nothing evictable, all archived blocks in flight")
)

// atomicSubtract subtracts n from a, using two's-complement addition
// since atomic.Uint64/Int64 only expose Add.
func atomicSubtract(a *atomic.Int64, n int64) {
	a.Add(-n)
}

// BlockState is the lifecycle stage of one cache block.
type BlockState int

const (
	// BlockStateOpen accepts new records from the committer.
	BlockStateOpen BlockState = iota
	// BlockStateSealed is full or force-archived; frozen and visible to
	// the upload pipeline's prepare stage.
	BlockStateSealed
	// BlockStateUploading is owned by an in-flight upload task; must
	// never be evicted by force_free.
	BlockStateUploading
	// BlockStateFreed names a committed and released block. The cache
	// never stores a block in this state: MarkFree and ForceFree remove
	// the block instead.
	BlockStateFreed
)

func (s BlockState) String() string {
	switch s {
	case BlockStateOpen:
		return "open"
	case BlockStateSealed:
		return "sealed"
	case BlockStateUploading:
		return "uploading"
	case BlockStateFreed:
		return "freed"
	default:
		return "unknown"
	}
}

// block is a mutable group of records from many streams, sealed by size
// or stream-count limit, or by a force-upload request.
type block struct {
	id            int64
	state         BlockState
	streams       map[int64][]types.StreamRecordBatch
	size          int64
	confirmOffset int64 // wal offset this block's contents are confirmed up to; set via SetConfirmOffset when archived, 0 until then
}

func newBlock(id int64) *block {
	return &block{id: id, state: BlockStateOpen, streams: make(map[int64][]types.StreamRecordBatch)}
}

func (b *block) bytes() int64 { return b.size }

func (b *block) streamCount() int { return len(b.streams) }

// Stats reports cache-wide observability counters.
type Stats struct {
	TotalBytes    int64
	StreamCount   int
	OpenBlockID   int64
	SealedBlocks  int
	UploadBlocks  int
}
