// Package orchestrator implements the Storage Orchestrator (C8): it ties
// WAL append, the log cache, the upload pipeline, and WAL trim together,
// with a backoff queue for when the WAL or cache is at capacity and a
// force-upload path for shutdown and per-stream draining.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/coldforge/streamwal/internal/logger"
	"github.com/coldforge/streamwal/pkg/logcache"
	"github.com/coldforge/streamwal/pkg/metrics"
	"github.com/coldforge/streamwal/pkg/sequencer"
	"github.com/coldforge/streamwal/pkg/types"
	"github.com/coldforge/streamwal/pkg/upload"
	"github.com/coldforge/streamwal/pkg/wal"
)

// Config carries orchestrator-level tunables.
type Config struct {
	MaxWalCacheSize int64
	BackoffInterval time.Duration

	// Metrics is optional; when nil, the orchestrator runs unmetered.
	Metrics *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.MaxWalCacheSize <= 0 {
		c.MaxWalCacheSize = 512 << 20 // 512 MiB
	}
	if c.BackoffInterval <= 0 {
		c.BackoffInterval = 100 * time.Millisecond
	}
}

// backoffItem is a record that could not be appended immediately and is
// waiting for WAL or cache capacity to free up. Items are retried in
// FIFO order so that a record enqueued earlier is always dispatched
// before one enqueued later, once capacity frees (P7).
type backoffItem struct {
	rec  types.StreamRecordBatch
	done chan error
}

// Orchestrator is the Storage Orchestrator (C8).
type Orchestrator struct {
	cfg       Config
	wal       *wal.Service
	cache     *logcache.Cache
	sequencer *sequencer.Sequencer
	pipeline  *upload.Pipeline

	mu      sync.Mutex
	backoff []*backoffItem

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New wires an Orchestrator and starts its 100ms backoff-drain
// background task.
func New(cfg Config, walSvc *wal.Service, cache *logcache.Cache, seq *sequencer.Sequencer, pipeline *upload.Pipeline) *Orchestrator {
	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:       cfg,
		wal:       walSvc,
		cache:     cache,
		sequencer: seq,
		pipeline:  pipeline,
		stopCh:    make(chan struct{}),
	}
	o.wg.Add(1)
	go o.backoffDrainLoop()
	return o
}

// Append submits rec for durability. It never blocks: it either
// dispatches to the WAL immediately or enqueues into the backoff queue
// and returns. The returned channel resolves once the record has been
// durably delivered to the cache (or failed).
func (o *Orchestrator) Append(rec types.StreamRecordBatch) <-chan error {
	done := make(chan error, 1)

	o.mu.Lock()
	backoffNonEmpty := len(o.backoff) > 0
	o.mu.Unlock()

	if backoffNonEmpty {
		o.enqueueBackoff(rec, done)
		return done
	}

	if o.cache.Size() >= o.cfg.MaxWalCacheSize {
		logger.Warn("orchestrator: cache at capacity, enqueuing to backoff",
			logger.StreamID(rec.StreamID), logger.CacheBytes(uint64(o.cache.Size())))
		o.enqueueBackoff(rec, done)
		return done
	}

	o.dispatch(rec, done)
	return done
}

func (o *Orchestrator) enqueueBackoff(rec types.StreamRecordBatch, done chan error) {
	o.mu.Lock()
	o.backoff = append(o.backoff, &backoffItem{rec: rec, done: done})
	depth := len(o.backoff)
	o.mu.Unlock()
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.BackoffQueueDepth.Set(float64(depth))
	}
}

// dispatch calls WAL append, registers the request with the sequencer,
// and arranges for cache.Put to run once the WAL signals durable.
func (o *Orchestrator) dispatch(rec types.StreamRecordBatch, done chan error) {
	start := time.Now()
	result, err := o.wal.Append(types.EncodeWALEntry(rec))
	if err != nil {
		if wErr, ok := err.(*wal.Error); ok && wErr.Kind == wal.KindOverCapacity {
			go o.ForceUpload(types.AllStreams)
			o.enqueueBackoff(rec, done)
			return
		}
		done <- err
		return
	}

	rec.WalOffset = result.RecordOffset
	req := &sequencer.Request{StreamID: rec.StreamID, Offset: result.RecordOffset, Record: rec, Done: done}
	o.sequencer.Before(req)

	// done is resolved below, once each request's own record has actually
	// reached the cache (or definitively failed), not merely once its
	// physical WAL write returns. A request that completes its WAL write
	// out of order sits persisted-but-unreleased until the sequencer
	// delivers it as part of some other request's ready batch, and that
	// releasing goroutine is the one that signals its Done channel.
	go func() {
		req.Err = <-result.Done
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.WalAppendLatency.Observe(time.Since(start).Seconds())
		}
		ready := o.sequencer.After(req)
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.WalConfirmOffset.Set(float64(o.sequencer.ConfirmOffset()))
		}
		for _, r := range ready {
			if r.Err != nil {
				r.Done <- r.Err
				continue
			}
			full, putErr := o.cache.Put(r.Record)
			if putErr != nil {
				logger.Error("orchestrator: cache put failed", logger.Err(putErr), logger.StreamID(r.StreamID))
				r.Done <- putErr
				continue
			}
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.CacheBytes.Set(float64(o.cache.Size()))
			}
			if full {
				if blockID, ok := o.cache.ArchiveCurrentBlock(); ok {
					o.cache.SetConfirmOffset(blockID, o.sequencer.ConfirmOffset())
					o.submitUpload(blockID)
				}
			}
			r.Done <- nil
		}
	}()
}

func (o *Orchestrator) submitUpload(blockID int64) {
	ch, err := o.pipeline.Submit(blockID)
	if err != nil {
		logger.Error("orchestrator: upload submit failed", logger.Err(err))
		return
	}
	go func() {
		if err := <-ch; err != nil {
			logger.Error("orchestrator: upload failed", logger.Err(err))
		}
	}()
}

// backoffDrainLoop re-attempts each backoff item in FIFO order every
// BackoffInterval, stopping at the first that still backoffs.
func (o *Orchestrator) backoffDrainLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.BackoffInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.drainOnce()
		case <-o.stopCh:
			return
		}
	}
}

func (o *Orchestrator) drainOnce() {
	o.mu.Lock()
	items := o.backoff
	o.backoff = nil
	o.mu.Unlock()

	for i, item := range items {
		if o.cache.Size() >= o.cfg.MaxWalCacheSize {
			o.mu.Lock()
			o.backoff = append(o.backoff, items[i:]...)
			depth := len(o.backoff)
			o.mu.Unlock()
			if o.cfg.Metrics != nil {
				o.cfg.Metrics.BackoffQueueDepth.Set(float64(depth))
			}
			return
		}
		o.dispatch(item.rec, item.done)
	}

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.BackoffQueueDepth.Set(0)
	}
}

// ForceUpload archives the current block if it contains any record for
// streamID (or unconditionally if streamID is types.AllStreams), sets that
// block's confirm offset to the sequencer's current WAL confirm offset,
// submits it, and returns once its upload finishes. It does not wait for
// uploads submitted earlier before archiving, and when there is nothing
// to archive it returns nil at once.
func (o *Orchestrator) ForceUpload(streamID int64) error {
	confirm := o.sequencer.ConfirmOffset()

	blockID, ok := o.cache.ArchiveCurrentBlockIfContains(streamID)
	if !ok {
		return nil
	}
	o.cache.SetConfirmOffset(blockID, confirm)

	ch, err := o.pipeline.Submit(blockID)
	if err != nil {
		return err
	}
	return <-ch
}

// Shutdown stops the backoff-drain task and waits for it to exit. It does
// not force-upload any stream or shut down the WAL or the pipeline.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	close(o.stopCh)
	o.wg.Wait()
}
