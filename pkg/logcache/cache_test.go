package logcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldforge/streamwal/pkg/types"
)

func rec(streamID, base, last int64, n int) types.StreamRecordBatch {
	return types.StreamRecordBatch{
		StreamID:    streamID,
		BaseOffset:  base,
		LastOffset:  last,
		Payload:     make([]byte, n),
		EncodedSize: int64(n),
	}
}

// ============================================================================
// Put / seal thresholds
// ============================================================================

func TestCache_PutSealsOnSizeLimit(t *testing.T) {
	c := New(Config{BlockSizeLimit: 100, MaxStreamsPerWal: 10})

	full, err := c.Put(rec(1, 0, 1, 40))
	require.NoError(t, err)
	assert.False(t, full)

	full, err = c.Put(rec(1, 1, 2, 40))
	require.NoError(t, err)
	assert.False(t, full)

	full, err = c.Put(rec(1, 2, 3, 40))
	require.NoError(t, err)
	assert.True(t, full, "block should seal once accumulated size crosses the limit")
}

func TestCache_PutSealsOnStreamCountLimit(t *testing.T) {
	c := New(Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 2})

	full, err := c.Put(rec(1, 0, 1, 10))
	require.NoError(t, err)
	assert.False(t, full)

	full, err = c.Put(rec(2, 0, 1, 10))
	require.NoError(t, err)
	assert.True(t, full, "block should seal once it holds the max number of distinct streams")
}

func TestCache_PutRejectsNewStreamPastStreamLimitWithoutGrowingBlock(t *testing.T) {
	c := New(Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 1})

	full, err := c.Put(rec(1, 0, 1, 10))
	require.NoError(t, err)
	require.True(t, full)

	// The block is already full; a brand-new stream must not be folded in.
	full, err = c.Put(rec(2, 0, 1, 10))
	require.NoError(t, err)
	assert.True(t, full)

	_, ok := c.PeekBlock(1)
	assert.False(t, ok, "block 1 was never archived by the caller, so it shouldn't be visible yet")
}

func TestCache_PutOnClosedCacheFails(t *testing.T) {
	c := New(Config{})
	c.Close()

	_, err := c.Put(rec(1, 0, 1, 10))
	require.ErrorIs(t, err, ErrCacheClosed)
}

// ============================================================================
// Archive / Get
// ============================================================================

func TestCache_ArchiveCurrentBlockOnEmptyBlockIsNoop(t *testing.T) {
	c := New(Config{})
	_, ok := c.ArchiveCurrentBlock()
	assert.False(t, ok)
}

func TestCache_GetMergesAcrossArchivedAndOpenBlocks(t *testing.T) {
	c := New(Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 10})

	_, err := c.Put(rec(1, 0, 10, 10))
	require.NoError(t, err)
	blockID, ok := c.ArchiveCurrentBlock()
	require.True(t, ok)

	_, err = c.Put(rec(1, 10, 20, 10))
	require.NoError(t, err)

	got := c.Get(1, 0, 20, 1<<20)
	require.Len(t, got, 2)
	assert.Equal(t, int64(0), got[0].BaseOffset)
	assert.Equal(t, int64(10), got[1].BaseOffset)

	c.SetConfirmOffset(blockID, 10)
	blk, ok := c.PeekBlock(blockID)
	require.True(t, ok)
	assert.Equal(t, int64(10), blk.ConfirmOffset)
}

func TestCache_GetStopsAtGap(t *testing.T) {
	c := New(Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 10})

	_, err := c.Put(rec(1, 0, 10, 10))
	require.NoError(t, err)
	// A gap: next record starts at 20, not 10.
	_, err = c.Put(rec(1, 20, 30, 10))
	require.NoError(t, err)

	got := c.Get(1, 0, 30, 1<<20)
	require.Len(t, got, 1, "P3: the cache must not report a contiguous read past a gap")
	assert.Equal(t, int64(0), got[0].BaseOffset)
}

// ============================================================================
// Lifecycle: MarkUploading / MarkFree / ForceFree
// ============================================================================

func TestCache_ForceFreeNeverEvictsUploadingBlock(t *testing.T) {
	c := New(Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 10})

	_, err := c.Put(rec(1, 0, 10, 1000))
	require.NoError(t, err)
	blockID, ok := c.ArchiveCurrentBlock()
	require.True(t, ok)
	c.MarkUploading(blockID)

	released := c.ForceFree(1000)
	assert.Zero(t, released, "an in-flight upload must never be evicted by force_free")
	assert.Equal(t, int64(1000), c.Size())
}

func TestCache_ForceFreeEvictsSealedBlocksOldestFirst(t *testing.T) {
	c := New(Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 1})

	_, err := c.Put(rec(1, 0, 10, 500))
	require.NoError(t, err)
	first, ok := c.ArchiveCurrentBlock()
	require.True(t, ok)

	_, err = c.Put(rec(2, 0, 10, 500))
	require.NoError(t, err)
	second, ok := c.ArchiveCurrentBlock()
	require.True(t, ok)

	released := c.ForceFree(500)
	assert.Equal(t, int64(500), released)

	_, stillThere := c.PeekBlock(first)
	assert.False(t, stillThere, "the oldest sealed block should be freed first")
	_, ok = c.PeekBlock(second)
	assert.True(t, ok)
}

func TestCache_MarkFreeRemovesBlockAndReclaimsSize(t *testing.T) {
	c := New(Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 10})

	_, err := c.Put(rec(1, 0, 10, 250))
	require.NoError(t, err)
	blockID, ok := c.ArchiveCurrentBlock()
	require.True(t, ok)

	c.MarkFree(blockID)
	assert.Zero(t, c.Size())
	_, ok = c.PeekBlock(blockID)
	assert.False(t, ok)
}

func TestCache_StatsReportsSealedAndUploadingCounts(t *testing.T) {
	c := New(Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 1})

	_, err := c.Put(rec(1, 0, 10, 100))
	require.NoError(t, err)
	sealed, ok := c.ArchiveCurrentBlock()
	require.True(t, ok)

	_, err = c.Put(rec(2, 0, 10, 100))
	require.NoError(t, err)
	uploading, ok := c.ArchiveCurrentBlock()
	require.True(t, ok)
	c.MarkUploading(uploading)

	stats := c.Stats()
	assert.Equal(t, 1, stats.SealedBlocks)
	assert.Equal(t, 1, stats.UploadBlocks)
	_ = sealed
}
