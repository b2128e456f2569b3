package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skobkin/nvsmi-sender/internal/app"
	"github.com/skobkin/nvsmi-sender/internal/config"
)

var (
	flagHost       string
	flagSampleMS   int
	flagBatchSize  int
	flagStatusAddr string
	flagSMIPath    string
)

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Run the sampling and export pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		// Flags override the environment when set explicitly.
		if cmd.Flags().Changed("host") {
			cfg.Host = flagHost
		}
		if cmd.Flags().Changed("ms") {
			cfg.SampleMS = flagSampleMS
		}
		if cmd.Flags().Changed("batch-size") {
			cfg.BatchSize = flagBatchSize
		}
		if cmd.Flags().Changed("status-addr") {
			cfg.StatusAddr = flagStatusAddr
		}
		if cmd.Flags().Changed("nvidia-smi") {
			cfg.NvidiaSMIPath = flagSMIPath
		}

		if cfg.Host == "" {
			return fmt.Errorf("--host must not be empty")
		}
		if cfg.SampleMS <= 0 {
			return fmt.Errorf("--ms must be > 0")
		}
		if cfg.BatchSize <= 0 {
			return fmt.Errorf("--batch-size must be > 0")
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return app.Run(ctx, logger, cfg)
	},
}

func init() {
	streamCmd.Flags().StringVar(&flagHost, "host", "http://localhost:8428", "VictoriaMetrics base URL")
	streamCmd.Flags().IntVar(&flagSampleMS, "ms", 10, "Sampling interval in milliseconds")
	streamCmd.Flags().IntVar(&flagBatchSize, "batch-size", 1000, "Samples per export batch")
	streamCmd.Flags().StringVar(&flagStatusAddr, "status-addr", "", "Status endpoint listen address (empty disables it)")
	streamCmd.Flags().StringVar(&flagSMIPath, "nvidia-smi", "nvidia-smi", "Path to the nvidia-smi binary")
}
