package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Host != "http://localhost:8428" {
		t.Fatalf("unexpected Host %q", cfg.Host)
	}
	if cfg.SampleMS != 10 {
		t.Fatalf("unexpected SampleMS %d", cfg.SampleMS)
	}
	if cfg.BatchSize != 1000 {
		t.Fatalf("unexpected BatchSize %d", cfg.BatchSize)
	}
	if cfg.QueueDepth != 2 {
		t.Fatalf("unexpected QueueDepth %d", cfg.QueueDepth)
	}
	if cfg.IdleFlush != 0 {
		t.Fatalf("unexpected IdleFlush %s", cfg.IdleFlush)
	}
	if cfg.SendAttempts != 5 {
		t.Fatalf("unexpected SendAttempts %d", cfg.SendAttempts)
	}
	if cfg.SendTimeout != 10*time.Second {
		t.Fatalf("unexpected SendTimeout %s", cfg.SendTimeout)
	}
	if cfg.BackoffMin != time.Second || cfg.BackoffMax != 30*time.Second {
		t.Fatalf("unexpected backoff bounds %s / %s", cfg.BackoffMin, cfg.BackoffMax)
	}
	if cfg.Job != "nvidia-smi" {
		t.Fatalf("unexpected Job %q", cfg.Job)
	}
	if hostname, err := os.Hostname(); err == nil && cfg.Instance != hostname {
		t.Fatalf("expected Instance %q, got %q", hostname, cfg.Instance)
	}
	if cfg.NvidiaSMIPath != "nvidia-smi" {
		t.Fatalf("unexpected NvidiaSMIPath %q", cfg.NvidiaSMIPath)
	}
	if cfg.SysfsRoot != "/sys" {
		t.Fatalf("unexpected SysfsRoot %q", cfg.SysfsRoot)
	}
	if cfg.StatusAddr != "" {
		t.Fatalf("status server should be off by default, got %q", cfg.StatusAddr)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected LogLevel %v", cfg.LogLevel)
	}
	if cfg.Procs.Enable {
		t.Fatalf("expected process scanner disabled by default")
	}
	if cfg.Procs.ScanInterval != 5*time.Second {
		t.Fatalf("unexpected Procs.ScanInterval %s", cfg.Procs.ScanInterval)
	}
	if cfg.Procs.MaxProcs != 64 {
		t.Fatalf("unexpected Procs.MaxProcs %d", cfg.Procs.MaxProcs)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_HOST", "http://metrics.internal:8428/")
	t.Setenv("APP_SAMPLE_MS", "250")
	t.Setenv("APP_BATCH_SIZE", "50")
	t.Setenv("APP_QUEUE_DEPTH", "4")
	t.Setenv("APP_IDLE_FLUSH", "30s")
	t.Setenv("APP_SEND_ATTEMPTS", "8")
	t.Setenv("APP_SEND_TIMEOUT", "5s")
	t.Setenv("APP_BACKOFF_MIN", "500ms")
	t.Setenv("APP_BACKOFF_MAX", "10s")
	t.Setenv("APP_JOB", "gpu-telemetry")
	t.Setenv("APP_INSTANCE", "rig-7")
	t.Setenv("APP_GPU_LABEL", "RTX 4090")
	t.Setenv("APP_NVIDIA_SMI_PATH", "/usr/local/bin/nvidia-smi")
	t.Setenv("APP_SYSFS_ROOT", "/tmp/sys")
	t.Setenv("APP_STATUS_ADDR", "127.0.0.1:9090")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_PROCS_ENABLE", "true")
	t.Setenv("APP_PROCS_SCAN_INTERVAL", "2s")
	t.Setenv("APP_PROCS_MAX", "128")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Host != "http://metrics.internal:8428/" {
		t.Fatalf("Host override failed, got %q", cfg.Host)
	}
	if cfg.SampleMS != 250 {
		t.Fatalf("SampleMS override failed, got %d", cfg.SampleMS)
	}
	if cfg.BatchSize != 50 {
		t.Fatalf("BatchSize override failed, got %d", cfg.BatchSize)
	}
	if cfg.QueueDepth != 4 {
		t.Fatalf("QueueDepth override failed, got %d", cfg.QueueDepth)
	}
	if cfg.IdleFlush != 30*time.Second {
		t.Fatalf("IdleFlush override failed, got %s", cfg.IdleFlush)
	}
	if cfg.SendAttempts != 8 {
		t.Fatalf("SendAttempts override failed, got %d", cfg.SendAttempts)
	}
	if cfg.SendTimeout != 5*time.Second {
		t.Fatalf("SendTimeout override failed, got %s", cfg.SendTimeout)
	}
	if cfg.BackoffMin != 500*time.Millisecond {
		t.Fatalf("BackoffMin override failed, got %s", cfg.BackoffMin)
	}
	if cfg.BackoffMax != 10*time.Second {
		t.Fatalf("BackoffMax override failed, got %s", cfg.BackoffMax)
	}
	if cfg.Job != "gpu-telemetry" {
		t.Fatalf("Job override failed, got %q", cfg.Job)
	}
	if cfg.Instance != "rig-7" {
		t.Fatalf("Instance override failed, got %q", cfg.Instance)
	}
	if cfg.GPULabel != "RTX 4090" {
		t.Fatalf("GPULabel override failed, got %q", cfg.GPULabel)
	}
	if cfg.NvidiaSMIPath != "/usr/local/bin/nvidia-smi" {
		t.Fatalf("NvidiaSMIPath override failed, got %q", cfg.NvidiaSMIPath)
	}
	if cfg.SysfsRoot != "/tmp/sys" {
		t.Fatalf("SysfsRoot override failed, got %q", cfg.SysfsRoot)
	}
	if cfg.StatusAddr != "127.0.0.1:9090" {
		t.Fatalf("StatusAddr override failed, got %q", cfg.StatusAddr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel override failed, got %v", cfg.LogLevel)
	}
	if !cfg.Procs.Enable {
		t.Fatalf("Procs.Enable override failed")
	}
	if cfg.Procs.ScanInterval != 2*time.Second {
		t.Fatalf("Procs.ScanInterval override failed, got %s", cfg.Procs.ScanInterval)
	}
	if cfg.Procs.MaxProcs != 128 {
		t.Fatalf("Procs.MaxProcs override failed, got %d", cfg.Procs.MaxProcs)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"InvalidSampleMS", "APP_SAMPLE_MS", "fast"},
		{"NonPositiveSampleMS", "APP_SAMPLE_MS", "0"},
		{"InvalidBatchSize", "APP_BATCH_SIZE", "many"},
		{"NonPositiveBatchSize", "APP_BATCH_SIZE", "-5"},
		{"NonPositiveQueueDepth", "APP_QUEUE_DEPTH", "0"},
		{"InvalidIdleFlush", "APP_IDLE_FLUSH", "soon"},
		{"NegativeIdleFlush", "APP_IDLE_FLUSH", "-1s"},
		{"NonPositiveSendAttempts", "APP_SEND_ATTEMPTS", "0"},
		{"InvalidSendTimeout", "APP_SEND_TIMEOUT", "whenever"},
		{"NonPositiveSendTimeout", "APP_SEND_TIMEOUT", "0"},
		{"NegativeBackoffMin", "APP_BACKOFF_MIN", "-1s"},
		{"InvalidBackoffMax", "APP_BACKOFF_MAX", "huge"},
		{"InvalidLogLevel", "APP_LOG_LEVEL", "loud"},
		{"InvalidProcsEnable", "APP_PROCS_ENABLE", "maybe"},
		{"InvalidProcsInterval", "APP_PROCS_SCAN_INTERVAL", "fast"},
		{"NonPositiveProcsInterval", "APP_PROCS_SCAN_INTERVAL", "0"},
		{"InvalidProcsMax", "APP_PROCS_MAX", "many"},
		{"NonPositiveProcsMax", "APP_PROCS_MAX", "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

func TestLoadBackoffBoundsCrossCheck(t *testing.T) {
	t.Setenv("APP_BACKOFF_MIN", "10s")
	t.Setenv("APP_BACKOFF_MAX", "1s")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when max backoff is below min")
	}
}
