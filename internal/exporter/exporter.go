// Package exporter delivers metric batches to a VictoriaMetrics-compatible
// JSON line import endpoint.
package exporter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/skobkin/nvsmi-sender/internal/batcher"
	"github.com/skobkin/nvsmi-sender/internal/nvsmi"
	"github.com/skobkin/nvsmi-sender/internal/stats"
	"github.com/skobkin/nvsmi-sender/internal/version"
)

const (
	importPath   = "/api/v1/import"
	maxErrorBody = 512
)

// Config controls batch delivery.
type Config struct {
	// Host is the backend base URL, e.g. "http://localhost:8428".
	Host string
	// Job and Instance become the job/instance labels on every series.
	Job      string
	Instance string
	// GPU is attached as a gpu label when non-empty.
	GPU string
	// Timeout bounds a single delivery request. Zero means no limit beyond
	// the caller's context.
	Timeout time.Duration
	// SendAttempts is the total number of tries per batch before it is
	// dropped.
	SendAttempts int
	// BackoffMin and BackoffMax bound the delay between retries.
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// SendError describes a failed delivery attempt.
type SendError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("send to %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("send to %s: status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("send to %s: %v", e.URL, e.Err)
	}
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Exporter POSTs batches to the import endpoint, retrying failed deliveries
// with exponential backoff and dropping the batch once attempts run out so
// the pipeline never wedges on a dead backend.
type Exporter struct {
	url       string
	job       string
	instance  string
	gpu       string
	fields    []nvsmi.Field
	client    *http.Client
	timeout   time.Duration
	attempts  int
	backoff   backoffConfig
	counters  *stats.Counters
	logger    *slog.Logger
	rng       func() float64
	userAgent string
}

// New validates the configuration and builds an Exporter for the given
// schema.
func New(cfg Config, schema nvsmi.Schema, counters *stats.Counters, logger *slog.Logger) (*Exporter, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("host must not be empty")
	}
	if cfg.SendAttempts <= 0 {
		return nil, fmt.Errorf("send attempts must be > 0")
	}
	if counters == nil {
		counters = &stats.Counters{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		url:      host + importPath,
		job:      cfg.Job,
		instance: cfg.Instance,
		gpu:      cfg.GPU,
		fields:   schema.Fields(),
		client:   &http.Client{},
		timeout:  cfg.Timeout,
		attempts: cfg.SendAttempts,
		backoff: backoffConfig{
			Initial:    cfg.BackoffMin,
			Multiplier: 2,
			Jitter:     0.2,
			Max:        cfg.BackoffMax,
		},
		counters:  counters,
		logger:    logger.With("component", "exporter"),
		rng:       rand.Float64,
		userAgent: version.UserAgent(),
	}, nil
}

// Run exports batches from the queue until it is closed or the context is
// cancelled. A drained close returns nil.
func (e *Exporter) Run(ctx context.Context, batches <-chan batcher.Batch) error {
	for {
		select {
		case batch, ok := <-batches:
			if !ok {
				return nil
			}
			if err := e.Export(ctx, batch); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Export delivers one batch. Delivery failures are retried up to the
// configured attempt count and then the batch is dropped with a single error
// log; only a serialization failure is returned, since it means the pipeline
// produces data the backend can never accept.
func (e *Exporter) Export(ctx context.Context, batch batcher.Batch) error {
	if len(batch) == 0 {
		return nil
	}

	body, err := e.encode(batch)
	if err != nil {
		return fmt.Errorf("serialize batch: %w", err)
	}
	if len(body) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if attempt > 1 {
			delay := e.backoff.nextDelay(attempt-2, e.rng())
			e.counters.SendRetries.Add(1)
			e.logger.Debug("retrying batch send", "attempt", attempt, "delay", delay, "err", lastErr)
			if err := sleepCtx(ctx, delay); err != nil {
				break
			}
		}

		lastErr = e.send(ctx, body)
		if lastErr == nil {
			e.counters.BatchesSent.Add(1)
			e.counters.SamplesSent.Add(uint64(len(batch)))
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	e.counters.BatchesDropped.Add(1)
	e.counters.SamplesDropped.Add(uint64(len(batch)))
	e.logger.Error("dropping batch after failed delivery", "samples", len(batch), "attempts", e.attempts, "err", lastErr)
	return nil
}

func (e *Exporter) send(ctx context.Context, body []byte) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return &SendError{URL: e.url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return &SendError{URL: e.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sendErr := &SendError{URL: e.url, StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			sendErr.Err = errors.New(msg)
		}
		return sendErr
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
