package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coldforge/streamwal/internal/logger"
	"github.com/coldforge/streamwal/pkg/metadata"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Open the WAL and serve the durability core until signaled",
	Long: `start opens the WAL (recovering from any prior crash), wires the
log cache, callback sequencer, upload pipeline, and storage orchestrator
against the configured metadata client and object store, and serves
until SIGINT/SIGTERM triggers a graceful shutdown.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := buildObjectStore(ctx, cfg)
	if err != nil {
		return err
	}
	meta := metadata.NewMemoryClient()

	a, err := newApp(ctx, cfg, meta, store)
	if err != nil {
		return err
	}

	logger.Info("streamwal started",
		logger.StreamID(0),
		"block_device", cfg.BlockDevicePath,
		"capacity", cfg.Capacity.String(),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownDrainTimeout)
	defer cancel()
	a.shutdown(shutdownCtx)

	logger.Info("streamwal stopped")
	return nil
}
