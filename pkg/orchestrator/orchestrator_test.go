package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coldforge/streamwal/pkg/logcache"
	"github.com/coldforge/streamwal/pkg/metadata"
	"github.com/coldforge/streamwal/pkg/metrics"
	"github.com/coldforge/streamwal/pkg/sequencer"
	"github.com/coldforge/streamwal/pkg/types"
	"github.com/coldforge/streamwal/pkg/upload"
	"github.com/coldforge/streamwal/pkg/wal"
)

// fakeStore is a no-op ObjectStore double: every call succeeds
// immediately, so tests exercise orchestrator/pipeline wiring without a
// real network dependency.
type fakeStore struct {
	mu    sync.Mutex
	parts int
}

func (f *fakeStore) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	return "upload-" + key, nil
}

func (f *fakeStore) PutPart(ctx context.Context, uploadID, key string, partNumber int, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts++
	return "etag", nil
}

func (f *fakeStore) CompleteMultipart(ctx context.Context, uploadID, key string, parts []types.CompletedPart) error {
	return nil
}

func (f *fakeStore) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	return nil, upload.ErrObjectNotFound
}

func (f *fakeStore) DeleteObjects(ctx context.Context, keys []string) error { return nil }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *logcache.Cache, *wal.Service) {
	t.Helper()
	walCfg := wal.ServiceConfig{
		Path:                 filepath.Join(t.TempDir(), "device.img"),
		Capacity:             8 << 20,
		DeviceBlockSize:      4096,
		HeaderFlushInterval:  time.Hour,
		IOThreads:            2,
		WindowInitial:        1 << 20,
		WindowUpperLimit:     8 << 20,
		WindowScaleUnit:      1 << 20,
		BlockSoftLimit:       64 << 10,
		ShutdownDrainTimeout: 5 * time.Second,
	}
	walSvc, err := wal.NewService(walCfg)
	require.NoError(t, err)
	require.NoError(t, walSvc.Start())
	require.NoError(t, walSvc.Reset())
	t.Cleanup(func() { walSvc.Close() })

	cache := logcache.New(logcache.Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 10})
	seq := sequencer.New()
	meta := metadata.NewMemoryClient()
	store := &fakeStore{}
	pipeline := upload.New(upload.Config{Bucket: "bkt", KeyPrefix: "wal", RetryBackoff: time.Millisecond}, store, meta, cache, walSvc, nil)
	t.Cleanup(pipeline.Shutdown)

	orch := New(Config{MaxWalCacheSize: 1 << 20, BackoffInterval: 10 * time.Millisecond}, walSvc, cache, seq, pipeline)
	t.Cleanup(func() { orch.Shutdown(context.Background()) })
	return orch, cache, walSvc
}

func awaitDone(t *testing.T, ch <-chan error, timeout time.Duration) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		t.Fatal("timed out waiting for append to complete")
		return nil
	}
}

// ============================================================================
// Append dispatches through WAL/sequencer into the cache
// ============================================================================

func TestOrchestrator_AppendDeliversToCache(t *testing.T) {
	orch, cache, _ := newTestOrchestrator(t)

	done := orch.Append(types.StreamRecordBatch{StreamID: 1, BaseOffset: 0, LastOffset: 10, Payload: make([]byte, 10), EncodedSize: 10})
	require.NoError(t, awaitDone(t, done, 2*time.Second))

	got := cache.Get(1, 0, 10, 1<<20)
	require.Len(t, got, 1)
	assert.Equal(t, int64(0), got[0].BaseOffset)
}

// ============================================================================
// Out-of-order WAL completion is still delivered to the cache in order
// ============================================================================

func TestOrchestrator_PreservesPerStreamOrderAcrossConcurrentAppends(t *testing.T) {
	orch, cache, _ := newTestOrchestrator(t)

	var dones []<-chan error
	for i := 0; i < 50; i++ {
		rec := types.StreamRecordBatch{
			StreamID:    1,
			BaseOffset:  int64(i),
			LastOffset:  int64(i + 1),
			Payload:     []byte{byte(i)},
			EncodedSize: 1,
		}
		dones = append(dones, orch.Append(rec))
	}
	for _, d := range dones {
		require.NoError(t, awaitDone(t, d, 5*time.Second))
	}

	got := cache.Get(1, 0, 50, 1<<20)
	require.Len(t, got, 50, "P2: every record for the stream must land, contiguous and in order")
	for i, r := range got {
		assert.Equal(t, int64(i), r.BaseOffset)
	}
}

// ============================================================================
// Backoff: cache at capacity defers new appends, FIFO drain once freed
// ============================================================================

func TestOrchestrator_BackoffDefersWhenCacheFull(t *testing.T) {
	walCfg := wal.ServiceConfig{
		Path:                 filepath.Join(t.TempDir(), "device.img"),
		Capacity:             8 << 20,
		DeviceBlockSize:      4096,
		HeaderFlushInterval:  time.Hour,
		IOThreads:            2,
		WindowInitial:        1 << 20,
		WindowUpperLimit:     8 << 20,
		WindowScaleUnit:      1 << 20,
		BlockSoftLimit:       64 << 10,
		ShutdownDrainTimeout: 5 * time.Second,
	}
	walSvc, err := wal.NewService(walCfg)
	require.NoError(t, err)
	require.NoError(t, walSvc.Start())
	require.NoError(t, walSvc.Reset())
	t.Cleanup(func() { walSvc.Close() })

	// BlockSizeLimit deliberately larger than the test payload, so the
	// record sits in the still-open block instead of being auto-sealed
	// and uploaded away before the assertions below run.
	cache := logcache.New(logcache.Config{BlockSizeLimit: 4 << 20, MaxStreamsPerWal: 10})
	seq := sequencer.New()
	meta := metadata.NewMemoryClient()
	store := &fakeStore{}
	pipeline := upload.New(upload.Config{Bucket: "bkt", KeyPrefix: "wal", RetryBackoff: time.Millisecond}, store, meta, cache, walSvc, nil)
	t.Cleanup(pipeline.Shutdown)

	orch := New(Config{MaxWalCacheSize: 1 << 20, BackoffInterval: 10 * time.Millisecond}, walSvc, cache, seq, pipeline)
	t.Cleanup(func() { orch.Shutdown(context.Background()) })

	// Fill the cache past its configured 1MiB ceiling.
	big := make([]byte, 1<<20)
	done := orch.Append(types.StreamRecordBatch{StreamID: 1, BaseOffset: 0, LastOffset: 1, Payload: big, EncodedSize: int64(len(big))})
	require.NoError(t, awaitDone(t, done, 2*time.Second))
	require.GreaterOrEqual(t, cache.Size(), int64(1<<20))

	// This append should be deferred to the backoff queue rather than
	// dispatched immediately, since the cache is already at capacity.
	deferred := orch.Append(types.StreamRecordBatch{StreamID: 2, BaseOffset: 0, LastOffset: 1, Payload: []byte("x"), EncodedSize: 1})

	select {
	case <-deferred:
		t.Fatal("expected the append to be held in the backoff queue, not resolved immediately")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, orch.ForceUpload(types.AllStreams), "force-uploading the open block frees its cache bytes")

	require.NoError(t, awaitDone(t, deferred, 2*time.Second), "the backoff-drain loop must deliver the deferred append once cache capacity frees up")
}

// ============================================================================
// Metrics: nil-safe when unset, recorded when wired
// ============================================================================

func TestOrchestrator_DispatchRecordsMetricsWhenWired(t *testing.T) {
	walCfg := wal.ServiceConfig{
		Path:                 filepath.Join(t.TempDir(), "device.img"),
		Capacity:             8 << 20,
		DeviceBlockSize:      4096,
		HeaderFlushInterval:  time.Hour,
		IOThreads:            2,
		WindowInitial:        1 << 20,
		WindowUpperLimit:     8 << 20,
		WindowScaleUnit:      1 << 20,
		BlockSoftLimit:       64 << 10,
		ShutdownDrainTimeout: 5 * time.Second,
	}
	walSvc, err := wal.NewService(walCfg)
	require.NoError(t, err)
	require.NoError(t, walSvc.Start())
	require.NoError(t, walSvc.Reset())
	t.Cleanup(func() { walSvc.Close() })

	cache := logcache.New(logcache.Config{BlockSizeLimit: 1 << 20, MaxStreamsPerWal: 10})
	seq := sequencer.New()
	meta := metadata.NewMemoryClient()
	store := &fakeStore{}
	pipeline := upload.New(upload.Config{Bucket: "bkt", KeyPrefix: "wal", RetryBackoff: time.Millisecond}, store, meta, cache, walSvc, nil)
	t.Cleanup(pipeline.Shutdown)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	orch := New(Config{MaxWalCacheSize: 1 << 20, BackoffInterval: 10 * time.Millisecond, Metrics: m}, walSvc, cache, seq, pipeline)
	t.Cleanup(func() { orch.Shutdown(context.Background()) })

	done := orch.Append(types.StreamRecordBatch{StreamID: 1, BaseOffset: 0, LastOffset: 10, Payload: make([]byte, 10), EncodedSize: 10})
	require.NoError(t, awaitDone(t, done, 2*time.Second))

	assert.Equal(t, 1, testutil.CollectAndCount(m.WalAppendLatency, "streamwal_wal_append_latency_seconds"))
	assert.Greater(t, testutil.ToFloat64(m.CacheBytes), float64(0))
}
