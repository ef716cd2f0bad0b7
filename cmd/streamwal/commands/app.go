package commands

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coldforge/streamwal/internal/logger"
	"github.com/coldforge/streamwal/pkg/config"
	"github.com/coldforge/streamwal/pkg/logcache"
	"github.com/coldforge/streamwal/pkg/metadata"
	"github.com/coldforge/streamwal/pkg/metrics"
	"github.com/coldforge/streamwal/pkg/orchestrator"
	"github.com/coldforge/streamwal/pkg/sequencer"
	"github.com/coldforge/streamwal/pkg/types"
	"github.com/coldforge/streamwal/pkg/upload"
	"github.com/coldforge/streamwal/pkg/wal"
)

// app bundles the components wired together for "start": the WAL, the
// log cache, the callback sequencer, the upload pipeline, and the
// storage orchestrator sitting on top of all of them.
type app struct {
	cfg          *config.Config
	wal          *wal.Service
	cache        *logcache.Cache
	sequencer    *sequencer.Sequencer
	pipeline     *upload.Pipeline
	orchestrator *orchestrator.Orchestrator
	metrics      *metrics.Metrics
	metricsSrv   *http.Server
}

// startMetricsServer registers the durability core's collectors against a
// dedicated registry and serves them on cfg.MetricsListenAddr from a
// background promhttp goroutine that logs and gives up on bind failure
// rather than taking the process down.
func startMetricsServer(addr string) (*metrics.Metrics, *http.Server) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", logger.Err(err))
		}
	}()

	return m, srv
}

// loadConfig resolves the config file path and loads it, applying
// defaults for anything unset.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, nil
}

// buildObjectStore constructs the object store backing the upload
// pipeline, from the loaded config's S3 section.
func buildObjectStore(ctx context.Context, cfg *config.Config) (upload.ObjectStore, error) {
	client, err := upload.NewS3ClientFromConfig(ctx, cfg.S3.Endpoint, cfg.S3.Region, cfg.S3.UsePathStyle)
	if err != nil {
		return nil, fmt.Errorf("build s3 client: %w", err)
	}
	store, err := upload.NewS3ObjectStore(upload.S3Config{
		Client:       client,
		Bucket:       cfg.S3.Bucket,
		KeyPrefix:    cfg.S3.KeyPrefix,
		UsePathStyle: cfg.S3.UsePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("build s3 object store: %w", err)
	}
	return store, nil
}

// newApp opens the WAL, starts recovery, and wires the cache, sequencer,
// upload pipeline, and orchestrator on top of it. Callers own shutting
// it down via shutdown.
func newApp(ctx context.Context, cfg *config.Config, meta metadata.Client, store upload.ObjectStore) (*app, error) {
	walSvc, err := wal.NewService(cfg.WalServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	if err := walSvc.Start(); err != nil {
		return nil, fmt.Errorf("start wal: %w", err)
	}

	m, metricsSrv := startMetricsServer(cfg.MetricsListenAddr)

	cache := logcache.New(cfg.LogCacheConfig())
	seq := sequencer.New()

	onFatal := func(err error) {
		logger.Error("upload pipeline fatal error, halting ingestion", logger.Err(err))
	}
	uploadCfg := cfg.UploadConfig()
	uploadCfg.Metrics = m
	pipeline := upload.New(uploadCfg, store, meta, cache, walSvc, onFatal)

	if err := replayIntoCache(walSvc, cache, pipeline, m); err != nil {
		return nil, fmt.Errorf("replay wal into cache: %w", err)
	}

	if err := walSvc.Reset(); err != nil {
		return nil, fmt.Errorf("reset wal after recovery: %w", err)
	}

	orchCfg := cfg.OrchestratorConfig()
	orchCfg.Metrics = m
	orch := orchestrator.New(orchCfg, walSvc, cache, seq, pipeline)

	return &app{
		cfg:          cfg,
		wal:          walSvc,
		cache:        cache,
		sequencer:    seq,
		pipeline:     pipeline,
		orchestrator: orch,
		metrics:      m,
		metricsSrv:   metricsSrv,
	}, nil
}

// replayIntoCache walks every valid record left in the WAL from the last
// trim point forward and re-ingests it into the log cache, submitting
// any block that fills along the way. WAL records are already in
// increasing-offset order by construction, so replay needs no sequencer:
// out-of-order delivery can only happen on the live append path, where
// concurrent in-flight appends can complete their fsync out of order.
func replayIntoCache(walSvc *wal.Service, cache *logcache.Cache, pipeline *upload.Pipeline, m *metrics.Metrics) error {
	it, err := walSvc.Recover()
	if err != nil {
		return err
	}

	replayed, skipped := 0, 0
	for it.HasNext() {
		res := it.Next()
		if !res.Ok {
			skipped++
			if m != nil {
				m.RecoveryRecords.WithLabelValues("rejected").Inc()
			}
			continue
		}
		rec, err := types.DecodeWALEntry(res.Body)
		if err != nil {
			logger.Warn("skipping undecodable wal entry during replay", logger.Err(err))
			skipped++
			if m != nil {
				m.RecoveryRecords.WithLabelValues("undecodable").Inc()
			}
			continue
		}
		rec.WalOffset = res.Offset

		full, err := cache.Put(rec)
		if err != nil {
			logger.Warn("cache put failed during replay", logger.Err(err), logger.StreamID(rec.StreamID))
			continue
		}
		replayed++
		if m != nil {
			m.RecoveryRecords.WithLabelValues("accepted").Inc()
		}
		if full {
			if blockID, ok := cache.ArchiveCurrentBlock(); ok {
				if ch, err := pipeline.Submit(blockID); err == nil {
					go func() { <-ch }()
				}
			}
		}
	}

	logger.Info("wal replay complete", "records_replayed", replayed, "runs_skipped", skipped)
	return nil
}

// shutdown stops the orchestrator's backoff-drain task, force-uploads
// every stream's open block, stops the upload pipeline, and closes the
// WAL gracefully. Records still waiting in the backoff queue are not
// dispatched.
func (a *app) shutdown(ctx context.Context) {
	a.orchestrator.Shutdown(ctx)
	if err := a.orchestrator.ForceUpload(types.AllStreams); err != nil {
		logger.Error("force upload during shutdown failed", logger.Err(err))
	}
	a.pipeline.Shutdown()
	clean := a.wal.ShutdownGracefully(ctx)
	if !clean {
		logger.Warn("wal did not drain cleanly within the shutdown timeout")
	}
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown failed", logger.Err(err))
		}
	}
}
