// Package procs periodically queries the monitoring utility for compute
// processes active on the GPU and caches the latest snapshot.
package procs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/skobkin/nvsmi-sender/internal/config"
)

// Manager runs compute process scans on a fixed interval.
type Manager struct {
	cfg    config.ProcsConfig
	query  func(ctx context.Context) ([]byte, error)
	logger *slog.Logger

	mu      sync.RWMutex
	latest  Snapshot
	hasScan bool
}

// NewManager constructs a scanner that shells out to the monitoring utility
// at smiPath.
func NewManager(cfg config.ProcsConfig, smiPath string, logger *slog.Logger) (*Manager, error) {
	if cfg.ScanInterval <= 0 {
		return nil, fmt.Errorf("scan interval must be > 0")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{
		cfg: cfg,
		query: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, smiPath,
				"--query-compute-apps=pid,process_name,used_memory",
				"--format=csv,nounits").Output()
		},
		logger: logger.With("component", "procscan"),
	}, nil
}

// Run scans until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("process scanner started", "interval", m.cfg.ScanInterval)
	m.performScan(ctx, time.Now())

	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("process scanner stopping", "reason", ctx.Err())
			return nil
		case now := <-ticker.C:
			m.performScan(ctx, now)
		}
	}
}

// Latest returns the most recent snapshot.
func (m *Manager) Latest() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasScan
}

// Ready reports whether at least one scan has completed.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasScan
}

func (m *Manager) performScan(ctx context.Context, now time.Time) {
	out, err := m.query(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Warn("process scan failed", "err", err)
		return
	}

	processes := m.parseComputeApps(string(out))

	sort.Slice(processes, func(i, j int) bool {
		var mi, mj float64
		if processes[i].UsedMemoryMiB != nil {
			mi = *processes[i].UsedMemoryMiB
		}
		if processes[j].UsedMemoryMiB != nil {
			mj = *processes[j].UsedMemoryMiB
		}
		if mi == mj {
			return processes[i].PID < processes[j].PID
		}
		return mi > mj
	})

	m.mu.Lock()
	m.latest = Snapshot{Timestamp: now.UTC(), Processes: processes}
	m.hasScan = true
	m.mu.Unlock()
}

func (m *Manager) parseComputeApps(out string) []Process {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) <= 1 {
		return nil
	}

	rows := lines[1:]
	if m.cfg.MaxProcs > 0 && len(rows) > m.cfg.MaxProcs {
		rows = rows[:m.cfg.MaxProcs]
	}

	processes := make([]Process, 0, len(rows))
	for _, line := range rows {
		proc, err := parseComputeRow(line)
		if err != nil {
			m.logger.Debug("skipping process row", "err", err, "line", line)
			continue
		}
		processes = append(processes, proc)
	}
	return processes
}

// parseComputeRow splits "pid, process_name, used_memory". Process names may
// contain commas, so only the first and last separators are structural.
func parseComputeRow(line string) (Process, error) {
	first := strings.Index(line, ",")
	last := strings.LastIndex(line, ",")
	if first < 0 || last <= first {
		return Process{}, fmt.Errorf("expected 3 fields")
	}

	pid, err := strconv.Atoi(strings.TrimSpace(line[:first]))
	if err != nil {
		return Process{}, fmt.Errorf("parse pid: %w", err)
	}

	proc := Process{
		PID:  pid,
		Name: strings.TrimSpace(line[first+1 : last]),
	}

	mem := strings.TrimSpace(line[last+1:])
	if !strings.EqualFold(mem, "N/A") && !strings.HasPrefix(mem, "[") {
		head, _, _ := strings.Cut(mem, " ")
		if value, err := strconv.ParseFloat(head, 64); err == nil {
			proc.UsedMemoryMiB = &value
		}
	}
	return proc, nil
}
