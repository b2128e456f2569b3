// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skobkin/nvsmi-sender/internal/batcher"
	"github.com/skobkin/nvsmi-sender/internal/config"
	"github.com/skobkin/nvsmi-sender/internal/exporter"
	"github.com/skobkin/nvsmi-sender/internal/gpu"
	"github.com/skobkin/nvsmi-sender/internal/httpserver"
	"github.com/skobkin/nvsmi-sender/internal/nvsmi"
	"github.com/skobkin/nvsmi-sender/internal/procs"
	"github.com/skobkin/nvsmi-sender/internal/sampler"
	"github.com/skobkin/nvsmi-sender/internal/stats"
)

const (
	shutdownTimeout = 10 * time.Second
	flushTimeout    = 5 * time.Second
)

// Run bootstraps the application lifecycle: it spawns the monitoring
// process, wires the sampling pipeline to the exporter and blocks until the
// context is cancelled or a component fails.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	counters := &stats.Counters{}
	schema := nvsmi.Default()

	gpuLabel := cfg.GPULabel
	if gpuLabel == "" {
		gpuLabel = discoverGPULabel(cfg.SysfsRoot, baseLogger.With("component", "gpu_discovery"))
	}

	interval := time.Duration(cfg.SampleMS) * time.Millisecond
	appLogger.Info("sending remote metrics",
		"host", cfg.Host,
		"read_interval", interval,
		"batch_size", cfg.BatchSize,
		"send_every", interval*time.Duration(cfg.BatchSize),
	)

	batch, err := batcher.New(batcher.Config{
		Size:       cfg.BatchSize,
		QueueDepth: cfg.QueueDepth,
		IdleFlush:  cfg.IdleFlush,
	})
	if err != nil {
		return fmt.Errorf("init batcher: %w", err)
	}

	exp, err := exporter.New(exporter.Config{
		Host:         cfg.Host,
		Job:          cfg.Job,
		Instance:     cfg.Instance,
		GPU:          gpuLabel,
		Timeout:      cfg.SendTimeout,
		SendAttempts: cfg.SendAttempts,
		BackoffMin:   cfg.BackoffMin,
		BackoffMax:   cfg.BackoffMax,
	}, schema, counters, baseLogger)
	if err != nil {
		return fmt.Errorf("init exporter: %w", err)
	}

	var procManager *procs.Manager
	if cfg.Procs.Enable {
		procManager, err = procs.NewManager(cfg.Procs, cfg.NvidiaSMIPath, baseLogger)
		if err != nil {
			return fmt.Errorf("init process scanner: %w", err)
		}
	}

	samplerCtx, samplerCancel := context.WithCancel(ctx)
	defer samplerCancel()

	src, err := sampler.StartCommand(samplerCtx, cfg.NvidiaSMIPath, schema.StreamArgs(cfg.SampleMS), baseLogger.With("component", "source"))
	if err != nil {
		return fmt.Errorf("start monitoring process: %w", err)
	}

	smp, err := sampler.New(src, nvsmi.NewRowParser(schema), interval, counters, baseLogger)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("init sampler: %w", err)
	}

	// The export loop runs on its own context so batches queued before
	// shutdown still drain after ctx is cancelled.
	exportCtx, exportCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer exportCancel()

	pipeErrCh := make(chan error, 1)
	go func() {
		runErr := smp.Run(samplerCtx, batch)
		if err := src.Close(); err != nil {
			appLogger.Warn("close monitoring process", "err", err)
		}
		flushCtx, cancel := context.WithTimeout(exportCtx, flushTimeout)
		if err := batch.Flush(flushCtx); err != nil {
			appLogger.Warn("failed to flush partial batch", "err", err)
		}
		cancel()
		batch.Close()
		pipeErrCh <- runErr
	}()

	exportErrCh := make(chan error, 1)
	go func() {
		exportErrCh <- exp.Run(exportCtx, batch.Batches())
	}()

	var (
		procCancel context.CancelFunc
		procErrCh  chan error
	)
	if procManager != nil {
		var procCtx context.Context
		procCtx, procCancel = context.WithCancel(ctx)
		defer procCancel()
		procErrCh = make(chan error, 1)
		go func() {
			procErrCh <- procManager.Run(procCtx)
		}()
	}

	var (
		srv      *httpserver.Server
		srvErrCh chan error
	)
	if cfg.StatusAddr != "" {
		srv = httpserver.New(cfg.StatusAddr, baseLogger, counters, batch.Pending, procManager)
		appLogger.Info("starting status server", "listen_addr", cfg.StatusAddr)
		srvErrCh = make(chan error, 1)
		go func() {
			srvErrCh <- srv.Start()
		}()
	}

	var runErr error

	select {
	case <-ctx.Done():
		appLogger.Info("shutdown initiated", "reason", ctx.Err())
	case err := <-pipeErrCh:
		pipeErrCh = nil
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("pipeline stopped", "err", err)
			runErr = err
		}
	case err := <-exportErrCh:
		exportErrCh = nil
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("exporter stopped", "err", err)
			runErr = err
		}
	case err := <-procErrCh:
		procErrCh = nil
		if err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("process scanner stopped", "err", err)
			runErr = err
		}
	case err := <-srvErrCh:
		srvErrCh = nil
		if err != nil {
			appLogger.Error("status server stopped", "err", err)
			runErr = err
		}
	}

	samplerCancel()
	if procCancel != nil {
		procCancel()
	}

	if pipeErrCh != nil {
		if err := <-pipeErrCh; err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("pipeline stopped", "err", err)
			if runErr == nil {
				runErr = err
			}
		}
	}

	if exportErrCh != nil {
		select {
		case err := <-exportErrCh:
			if err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
				runErr = err
			}
		case <-time.After(shutdownTimeout):
			appLogger.Warn("export drain timed out, aborting in-flight delivery")
			exportCancel()
			<-exportErrCh
		}
	}

	if procErrCh != nil {
		if err := <-procErrCh; err != nil && !errors.Is(err, context.Canceled) && runErr == nil {
			runErr = err
		}
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("http shutdown", "err", err)
		}
		cancel()
		if srvErrCh != nil {
			if err := <-srvErrCh; err != nil && runErr == nil {
				runErr = err
			}
		}
	}

	snapshot := counters.Snapshot()
	appLogger.Info("shutdown complete",
		"rows_read", snapshot.RowsRead,
		"rows_rejected", snapshot.RowsRejected,
		"batches_sent", snapshot.BatchesSent,
		"batches_dropped", snapshot.BatchesDropped,
		"samples_sent", snapshot.SamplesSent,
		"samples_dropped", snapshot.SamplesDropped,
	)
	return runErr
}

// discoverGPULabel resolves a human readable device name for the gpu metric
// label. Discovery failures are not fatal: the label is optional.
func discoverGPULabel(sysfsRoot string, logger *slog.Logger) string {
	infos, err := gpu.Discover(sysfsRoot, logger)
	if err != nil {
		logger.Warn("gpu discovery failed", "err", err)
		return ""
	}

	info := gpu.FindNVIDIA(infos)
	if info == nil {
		logger.Warn("no NVIDIA device found", "cards", len(infos))
		return ""
	}

	logger.Info("resolved gpu label", "card", info.ID, "pci_id", info.PCIID, "name", info.Name)
	return info.Name
}
