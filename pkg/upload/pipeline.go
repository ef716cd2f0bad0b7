package upload

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/coldforge/streamwal/pkg/logcache"
	"github.com/coldforge/streamwal/pkg/metadata"
	"github.com/coldforge/streamwal/pkg/metrics"
	"github.com/coldforge/streamwal/pkg/types"
	"github.com/coldforge/streamwal/pkg/wal"
)

// Config carries upload-pipeline tunables.
type Config struct {
	Bucket          string
	KeyPrefix       string
	MaxNetworkRetry int
	RetryBackoff    time.Duration

	// Metrics is optional; when nil, the pipeline runs unmetered.
	Metrics *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.MaxNetworkRetry <= 0 {
		c.MaxNetworkRetry = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
}

// task carries one archived cache block through prepare -> upload ->
// commit. Invariant (a): object ids are assigned in prepare order, so
// commit order equals id order — enforced by running exactly one
// prepare and one commit at a time (invariant (b)).
type task struct {
	blockID  int64
	block    logcache.Block
	objectID int64
	key      string
	uploadID string
	parts    []types.CompletedPart
	ranges   []types.StreamRange

	done chan error
}

// FatalHandler is invoked when a commit fails after retries exhaust —
// per the spec, this is terminal: the caller should log, fail all
// pending futures, and exit the process rather than risk re-uploading a
// partially committed object under the same id.
type FatalHandler func(err error)

// Pipeline is the Upload Pipeline (C9): two serial queues (prepare,
// commit) run on a single background goroutine each, so that at most one
// prepare and one commit are active at a time, preserving the invariant
// that object-id order equals upload-commit order.
type Pipeline struct {
	cfg   Config
	store ObjectStore
	meta  metadata.Client
	cache *logcache.Cache
	wal   *wal.Service
	onFatal FatalHandler

	prepareQueue chan *task
	commitQueue  chan *task

	mu       sync.Mutex
	closed   bool
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Pipeline wired to the given cache, WAL, metadata
// client, and object store.
func New(cfg Config, store ObjectStore, meta metadata.Client, cache *logcache.Cache, walSvc *wal.Service, onFatal FatalHandler) *Pipeline {
	cfg.applyDefaults()
	p := &Pipeline{
		cfg:          cfg,
		store:        store,
		meta:         meta,
		cache:        cache,
		wal:          walSvc,
		onFatal:      onFatal,
		prepareQueue: make(chan *task, 256),
		commitQueue:  make(chan *task, 256),
		stopCh:       make(chan struct{}),
	}
	p.wg.Add(2)
	go p.prepareLoop()
	go p.commitLoop()
	return p
}

// Submit enqueues a sealed cache block for upload and returns a channel
// that resolves when the block's object has been committed (or failed).
func (p *Pipeline) Submit(blockID int64) (<-chan error, error) {
	blk, ok := p.cache.PeekBlock(blockID)
	if !ok {
		return nil, fmt.Errorf("upload: block %d not found in cache", blockID)
	}
	p.cache.MarkUploading(blockID)

	t := &task{blockID: blockID, block: blk, done: make(chan error, 1)}
	select {
	case p.prepareQueue <- t:
	case <-p.stopCh:
		return nil, fmt.Errorf("upload: pipeline stopped")
	}
	return t.done, nil
}

func (p *Pipeline) prepareLoop() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.prepareQueue:
			p.prepare(t)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pipeline) commitLoop() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.commitQueue:
			p.commit(t)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pipeline) prepare(t *task) {
	ctx := context.Background()
	start := time.Now()
	defer func() { p.observeStage("prepare", time.Since(start)) }()

	firstObjectID, err := p.meta.PrepareObject(ctx, 1, 0)
	if err != nil {
		t.done <- fmt.Errorf("upload: prepare_object: %w", err)
		return
	}
	t.objectID = firstObjectID
	t.key = fmt.Sprintf("%s/wal-%020d.obj", p.cfg.KeyPrefix, t.objectID)

	uploadID, err := p.withRetry(ctx, func() (string, error) {
		return p.store.CreateMultipartUpload(ctx, t.key)
	})
	if err != nil {
		t.done <- fmt.Errorf("upload: create multipart upload: %w", err)
		return
	}
	t.uploadID = uploadID

	if err := p.upload(ctx, t); err != nil {
		t.done <- err
		return
	}

	select {
	case p.commitQueue <- t:
	case <-p.stopCh:
	}
}

// upload streams the block's records, grouped per stream and sorted by
// base offset, to the object store as parts.
func (p *Pipeline) upload(ctx context.Context, t *task) error {
	streamIDs := make([]int64, 0, len(t.block.Streams))
	for id := range t.block.Streams {
		streamIDs = append(streamIDs, id)
	}
	sort.Slice(streamIDs, func(i, j int) bool { return streamIDs[i] < streamIDs[j] })

	partNumber := 1
	for _, streamID := range streamIDs {
		recs := t.block.Streams[streamID]
		sort.Slice(recs, func(i, j int) bool { return recs[i].BaseOffset < recs[j].BaseOffset })

		var buf []byte
		for _, r := range recs {
			buf = append(buf, r.Payload...)
		}
		if len(buf) == 0 {
			continue
		}

		etag, err := p.withRetry(ctx, func() (string, error) {
			return p.store.PutPart(ctx, t.uploadID, t.key, partNumber, buf)
		})
		if err != nil {
			return fmt.Errorf("upload: put part for stream %d: %w", streamID, err)
		}
		t.parts = append(t.parts, types.CompletedPart{PartNumber: partNumber, ETag: etag})
		t.ranges = append(t.ranges, types.StreamRange{
			StreamID:    streamID,
			StartOffset: recs[0].BaseOffset,
			EndOffset:   recs[len(recs)-1].LastOffset,
		})
		partNumber++
	}
	return nil
}

func (p *Pipeline) commit(t *task) {
	ctx := context.Background()
	start := time.Now()
	defer func() { p.observeStage("commit", time.Since(start)) }()

	_, err := p.withRetry(ctx, func() (string, error) {
		return "", p.store.CompleteMultipart(ctx, t.uploadID, t.key, t.parts)
	})
	if err != nil {
		fatal := wal.Error{Kind: wal.KindUploadCommitFailed, Op: "upload.commit", Err: err}
		if p.onFatal != nil {
			p.onFatal(&fatal)
		}
		t.done <- &fatal
		return
	}

	if err := p.meta.CommitWalObject(ctx, types.CommitRequest{
		ObjectID:     t.objectID,
		Bucket:       p.cfg.Bucket,
		Key:          t.key,
		StreamRanges: t.ranges,
		Size:         int64(t.block.Size),
		CommittedAt:  time.Now(),
	}); err != nil {
		fatal := wal.Error{Kind: wal.KindUploadCommitFailed, Op: "upload.commit_wal_object", Err: err}
		if p.onFatal != nil {
			p.onFatal(&fatal)
		}
		t.done <- &fatal
		return
	}

	if p.cfg.Metrics != nil {
		p.cfg.Metrics.UploadObjectsTotal.Inc()
	}

	// Best-effort async trim; never block the commit path on it.
	go p.wal.Trim(t.block.ConfirmOffset)
	p.cache.MarkFree(t.blockID)
	t.done <- nil
}

func (p *Pipeline) observeStage(stage string, d time.Duration) {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.UploadLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// withRetry retries a network call up to cfg.MaxNetworkRetry times with
// a fixed backoff before surfacing the final error as NetworkError.
func (p *Pipeline) withRetry(ctx context.Context, fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxNetworkRetry; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err
		select {
		case <-time.After(p.cfg.RetryBackoff):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", &wal.Error{Kind: wal.KindNetwork, Op: "upload.retry", Err: lastErr}
}

// Shutdown stops the prepare/commit loops and waits for them to exit.
// Each loop finishes the task it is running; tasks still queued are not
// processed.
func (p *Pipeline) Shutdown() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
