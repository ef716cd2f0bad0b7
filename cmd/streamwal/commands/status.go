package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coldforge/streamwal/pkg/config"
	"github.com/coldforge/streamwal/pkg/wal"
)

var dumpConfigPath string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the WAL's superblock fields without mutating state",
	Long: `status opens the WAL read-only: it recovers the superblock (picking
the surviving copy with the greatest last-write timestamp) and prints its
fields, without starting the sliding window or touching on-disk state.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&dumpConfigPath, "dump-config", "", "write the effective (defaults-applied) config as YAML to this path")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if dumpConfigPath != "" {
		if err := config.Save(cfg, dumpConfigPath); err != nil {
			return fmt.Errorf("dump effective config: %w", err)
		}
	}

	walSvc, err := wal.NewService(cfg.WalServiceConfig())
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer walSvc.Close()

	h, err := walSvc.Peek()
	if err != nil {
		return fmt.Errorf("read superblock: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "block_device_path:       %s\n", cfg.BlockDevicePath)
	fmt.Fprintf(out, "capacity:                %d\n", h.Capacity)
	fmt.Fprintf(out, "trim_offset:             %d\n", h.TrimOffset)
	fmt.Fprintf(out, "window_start_offset:     %d\n", h.WindowStartOffset)
	fmt.Fprintf(out, "window_next_write_offset:%d\n", h.WindowNextWriteOffset)
	fmt.Fprintf(out, "window_max_length:       %d\n", h.WindowMaxLength)
	fmt.Fprintf(out, "last_write_ts:           %d\n", h.LastWriteTS)
	fmt.Fprintf(out, "shutdown_type:           %s\n", shutdownTypeString(h.ShutdownType))
	return nil
}

func shutdownTypeString(t wal.ShutdownType) string {
	if t == wal.ShutdownGraceful {
		return "graceful"
	}
	return "ungraceful"
}
