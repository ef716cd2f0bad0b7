package upload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldforge/streamwal/pkg/logcache"
	"github.com/coldforge/streamwal/pkg/metadata"
	"github.com/coldforge/streamwal/pkg/types"
	"github.com/coldforge/streamwal/pkg/wal"
)

// fakeStore is an in-memory ObjectStore double: every part upload and
// multipart completion succeeds (or fails deterministically, per
// failCompletes), recording the order parts were received in.
type fakeStore struct {
	mu            sync.Mutex
	failCompletes int // number of CompleteMultipart calls to fail before succeeding
	parts         map[string][]int // key -> part numbers, in receive order
	completed     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{parts: make(map[string][]int)}
}

func (f *fakeStore) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	return "upload-" + key, nil
}

func (f *fakeStore) PutPart(ctx context.Context, uploadID, key string, partNumber int, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[key] = append(f.parts[key], partNumber)
	return fmt.Sprintf("etag-%s-%d", key, partNumber), nil
}

func (f *fakeStore) CompleteMultipart(ctx context.Context, uploadID, key string, parts []types.CompletedPart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCompletes > 0 {
		f.failCompletes--
		return errors.New("simulated network failure")
	}
	f.completed = append(f.completed, key)
	return nil
}

func (f *fakeStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	return nil, ErrObjectNotFound
}

func (f *fakeStore) DeleteObjects(ctx context.Context, keys []string) error {
	return nil
}

func newTestWalService(t *testing.T) *wal.Service {
	t.Helper()
	cfg := wal.ServiceConfig{
		Path:                 filepath.Join(t.TempDir(), "device.img"),
		Capacity:             4 << 20,
		DeviceBlockSize:      4096,
		HeaderFlushInterval:  time.Hour,
		IOThreads:            2,
		WindowInitial:        1 << 20,
		WindowUpperLimit:     4 << 20,
		WindowScaleUnit:      1 << 20,
		BlockSoftLimit:       64 << 10,
		ShutdownDrainTimeout: 5 * time.Second,
	}
	svc, err := wal.NewService(cfg)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	require.NoError(t, svc.Reset())
	t.Cleanup(func() { svc.Close() })
	return svc
}

// ============================================================================
// Happy path: parts uploaded per stream, object committed to metadata
// ============================================================================

func TestPipeline_SubmitUploadsPartsPerStreamAndCommits(t *testing.T) {
	cache := logcache.New(logcache.Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 10})
	_, err := cache.Put(types.StreamRecordBatch{StreamID: 2, BaseOffset: 0, LastOffset: 10, Payload: []byte("stream-two"), EncodedSize: 10})
	require.NoError(t, err)
	_, err = cache.Put(types.StreamRecordBatch{StreamID: 1, BaseOffset: 0, LastOffset: 10, Payload: []byte("stream-one"), EncodedSize: 10})
	require.NoError(t, err)
	blockID, ok := cache.ArchiveCurrentBlock()
	require.True(t, ok)
	cache.MarkUploading(blockID)

	store := newFakeStore()
	meta := metadata.NewMemoryClient()
	walSvc := newTestWalService(t)

	p := New(Config{Bucket: "bkt", KeyPrefix: "wal", RetryBackoff: time.Millisecond}, store, meta, cache, walSvc, nil)
	defer p.Shutdown()

	ch, err := p.Submit(blockID)
	require.NoError(t, err)
	require.NoError(t, <-ch)

	objects, err := meta.GetServerObjects(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Len(t, objects[0].StreamRanges, 2, "both streams in the block must be committed")

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.completed, 1)
}

// ============================================================================
// Object ordering: objects commit in the order prepared, since prepare
// and commit each run on a single serial queue (invariant (a)/(b)).
// ============================================================================

func TestPipeline_CommitOrderMatchesPrepareOrder(t *testing.T) {
	cache := logcache.New(logcache.Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 1})
	store := newFakeStore()
	meta := metadata.NewMemoryClient()
	walSvc := newTestWalService(t)
	p := New(Config{Bucket: "bkt", KeyPrefix: "wal", RetryBackoff: time.Millisecond}, store, meta, cache, walSvc, nil)
	defer p.Shutdown()

	var blockIDs []int64
	for i := 0; i < 3; i++ {
		_, err := cache.Put(types.StreamRecordBatch{StreamID: int64(i), BaseOffset: 0, LastOffset: 1, Payload: []byte("x"), EncodedSize: 1})
		require.NoError(t, err)
		id, ok := cache.ArchiveCurrentBlock()
		require.True(t, ok)
		cache.MarkUploading(id)
		blockIDs = append(blockIDs, id)
	}

	var chans []<-chan error
	for _, id := range blockIDs {
		ch, err := p.Submit(id)
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	for _, ch := range chans {
		require.NoError(t, <-ch)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.completed, 3)
	for i := 0; i < len(store.completed)-1; i++ {
		assert.Less(t, store.completed[i], store.completed[i+1], "object keys embed a monotone object id, so commit order must be ascending")
	}
}

// ============================================================================
// Fatal path: commit failure exhausting retries surfaces to onFatal
// ============================================================================

func TestPipeline_CommitFailureAfterRetriesIsFatal(t *testing.T) {
	cache := logcache.New(logcache.Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 10})
	_, err := cache.Put(types.StreamRecordBatch{StreamID: 1, BaseOffset: 0, LastOffset: 1, Payload: []byte("x"), EncodedSize: 1})
	require.NoError(t, err)
	blockID, ok := cache.ArchiveCurrentBlock()
	require.True(t, ok)
	cache.MarkUploading(blockID)

	store := newFakeStore()
	store.failCompletes = 100 // exceed the pipeline's retry budget
	meta := metadata.NewMemoryClient()
	walSvc := newTestWalService(t)

	var fatalErr error
	var mu sync.Mutex
	onFatal := func(err error) {
		mu.Lock()
		fatalErr = err
		mu.Unlock()
	}

	p := New(Config{Bucket: "bkt", KeyPrefix: "wal", MaxNetworkRetry: 1, RetryBackoff: time.Millisecond}, store, meta, cache, walSvc, onFatal)
	defer p.Shutdown()

	ch, err := p.Submit(blockID)
	require.NoError(t, err)
	err = <-ch
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Error(t, fatalErr)
}
