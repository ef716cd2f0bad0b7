package config

import (
	"time"

	"github.com/coldforge/streamwal/pkg/logcache"
	"github.com/coldforge/streamwal/pkg/orchestrator"
	"github.com/coldforge/streamwal/pkg/upload"
	"github.com/coldforge/streamwal/pkg/wal"
)

// WalServiceConfig translates Config into the wal package's ServiceConfig.
func (c *Config) WalServiceConfig() wal.ServiceConfig {
	return wal.ServiceConfig{
		Path:                 c.BlockDevicePath,
		Capacity:             c.Capacity.Int64(),
		HeaderFlushInterval:  time.Duration(c.HeaderFlushIntervalS) * time.Second,
		IOThreads:            c.IOThreads,
		WindowInitial:        c.WindowInitial.Int64(),
		WindowUpperLimit:     c.WindowUpperLimit.Int64(),
		WindowScaleUnit:      c.WindowScaleUnit.Int64(),
		BlockSoftLimit:       c.BlockSoftLimit.Int64(),
		CommitInterval:       c.CommitInterval,
		ShutdownDrainTimeout: c.ShutdownDrainTimeout,
	}
}

// LogCacheConfig translates Config into the logcache package's Config.
func (c *Config) LogCacheConfig() logcache.Config {
	return logcache.Config{
		BlockSizeLimit:   c.WalObjectSize.Int64(),
		MaxStreamsPerWal: c.MaxStreamsPerWalObject,
	}
}

// OrchestratorConfig translates Config into the orchestrator package's
// Config.
func (c *Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		MaxWalCacheSize: c.WalCacheSize.Int64(),
	}
}

// UploadConfig translates Config into the upload package's Config.
func (c *Config) UploadConfig() upload.Config {
	return upload.Config{
		Bucket:    c.S3.Bucket,
		KeyPrefix: c.S3.KeyPrefix,
	}
}
