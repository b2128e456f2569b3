package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/skobkin/nvsmi-sender/internal/config"
	"github.com/skobkin/nvsmi-sender/internal/gpu"
	"github.com/skobkin/nvsmi-sender/internal/nvsmi"
)

const checkTimeout = 10 * time.Second

type checkReport struct {
	Device  *gpu.Info           `json:"device,omitempty"`
	Metrics map[string]*float64 `json:"metrics"`
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Query one sample and print the parsed result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

		var device *gpu.Info
		infos, err := gpu.Discover(cfg.SysfsRoot, logger.With("component", "gpu_discovery"))
		if err != nil {
			logger.Warn("gpu discovery failed", "err", err)
		} else {
			device = gpu.FindNVIDIA(infos)
		}

		schema := nvsmi.Default()

		ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
		defer cancel()

		out, err := exec.CommandContext(ctx, cfg.NvidiaSMIPath, schema.QueryOnceArgs()...).Output()
		if err != nil {
			return fmt.Errorf("query %s: %w", cfg.NvidiaSMIPath, err)
		}

		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		if len(lines) < 2 {
			return fmt.Errorf("expected header and data row, got %d lines", len(lines))
		}

		record, err := nvsmi.NewRowParser(schema).Parse(lines[1])
		if err != nil {
			return fmt.Errorf("parse sample: %w", err)
		}

		report := checkReport{Device: device, Metrics: make(map[string]*float64, schema.Len())}
		for i, field := range schema.Fields() {
			report.Metrics[field.Name] = record.Values[i]
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}
