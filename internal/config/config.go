package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	Host          string
	SampleMS      int
	BatchSize     int
	QueueDepth    int
	IdleFlush     time.Duration
	SendAttempts  int
	SendTimeout   time.Duration
	BackoffMin    time.Duration
	BackoffMax    time.Duration
	Job           string
	Instance      string
	GPULabel      string
	NvidiaSMIPath string
	SysfsRoot     string
	StatusAddr    string
	LogLevel      slog.Level
	Procs         ProcsConfig
}

// ProcsConfig contains settings for the compute process scanner feature.
type ProcsConfig struct {
	Enable       bool
	ScanInterval time.Duration
	MaxProcs     int
}

// Load parses configuration from environment variables, applying defaults.
// A .env file in the working directory is read first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Host:          "http://localhost:8428",
		SampleMS:      10,
		BatchSize:     1000,
		QueueDepth:    2,
		IdleFlush:     0,
		SendAttempts:  5,
		SendTimeout:   10 * time.Second,
		BackoffMin:    time.Second,
		BackoffMax:    30 * time.Second,
		Job:           "nvidia-smi",
		NvidiaSMIPath: "nvidia-smi",
		SysfsRoot:     "/sys",
		StatusAddr:    "",
		LogLevel:      slog.LevelInfo,
		Procs: ProcsConfig{
			Enable:       false,
			ScanInterval: 5 * time.Second,
			MaxProcs:     64,
		},
	}

	if hostname, err := os.Hostname(); err == nil {
		cfg.Instance = hostname
	}

	if value := strings.TrimSpace(os.Getenv("APP_HOST")); value != "" {
		cfg.Host = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_SAMPLE_MS")); value != "" {
		ms, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SAMPLE_MS: %w", err)
		}
		if ms <= 0 {
			return Config{}, fmt.Errorf("APP_SAMPLE_MS must be > 0")
		}
		cfg.SampleMS = ms
	}

	if value := strings.TrimSpace(os.Getenv("APP_BATCH_SIZE")); value != "" {
		size, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_BATCH_SIZE: %w", err)
		}
		if size <= 0 {
			return Config{}, fmt.Errorf("APP_BATCH_SIZE must be > 0")
		}
		cfg.BatchSize = size
	}

	if value := strings.TrimSpace(os.Getenv("APP_QUEUE_DEPTH")); value != "" {
		depth, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_QUEUE_DEPTH: %w", err)
		}
		if depth <= 0 {
			return Config{}, fmt.Errorf("APP_QUEUE_DEPTH must be > 0")
		}
		cfg.QueueDepth = depth
	}

	if value := strings.TrimSpace(os.Getenv("APP_IDLE_FLUSH")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_IDLE_FLUSH: %w", err)
		}
		if duration < 0 {
			return Config{}, fmt.Errorf("APP_IDLE_FLUSH must be >= 0")
		}
		cfg.IdleFlush = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_SEND_ATTEMPTS")); value != "" {
		attempts, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SEND_ATTEMPTS: %w", err)
		}
		if attempts <= 0 {
			return Config{}, fmt.Errorf("APP_SEND_ATTEMPTS must be > 0")
		}
		cfg.SendAttempts = attempts
	}

	if value := strings.TrimSpace(os.Getenv("APP_SEND_TIMEOUT")); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SEND_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_SEND_TIMEOUT must be > 0")
		}
		cfg.SendTimeout = timeout
	}

	if value := strings.TrimSpace(os.Getenv("APP_BACKOFF_MIN")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_BACKOFF_MIN: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_BACKOFF_MIN must be > 0")
		}
		cfg.BackoffMin = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_BACKOFF_MAX")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_BACKOFF_MAX: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_BACKOFF_MAX must be > 0")
		}
		cfg.BackoffMax = duration
	}

	if cfg.BackoffMax < cfg.BackoffMin {
		return Config{}, fmt.Errorf("APP_BACKOFF_MAX must be >= APP_BACKOFF_MIN")
	}

	if value := strings.TrimSpace(os.Getenv("APP_JOB")); value != "" {
		cfg.Job = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_INSTANCE")); value != "" {
		cfg.Instance = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_GPU_LABEL")); value != "" {
		cfg.GPULabel = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_NVIDIA_SMI_PATH")); value != "" {
		cfg.NvidiaSMIPath = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_SYSFS_ROOT")); value != "" {
		cfg.SysfsRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_STATUS_ADDR")); value != "" {
		cfg.StatusAddr = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("APP_PROCS_ENABLE")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_PROCS_ENABLE: %w", err)
		}
		cfg.Procs.Enable = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_PROCS_SCAN_INTERVAL")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_PROCS_SCAN_INTERVAL: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_PROCS_SCAN_INTERVAL must be > 0")
		}
		cfg.Procs.ScanInterval = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_PROCS_MAX")); value != "" {
		maxProcs, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_PROCS_MAX: %w", err)
		}
		if maxProcs <= 0 {
			return Config{}, fmt.Errorf("APP_PROCS_MAX must be > 0")
		}
		cfg.Procs.MaxProcs = maxProcs
	}

	return cfg, nil
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
