package sampler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skobkin/nvsmi-sender/internal/nvsmi"
	"github.com/skobkin/nvsmi-sender/internal/stats"
)

// Sink consumes parsed samples. Add blocks until the sample is accepted or
// the context is cancelled.
type Sink interface {
	Add(ctx context.Context, sample Sample) error
}

// Sampler drains a line source, parses each row and forwards the result to a
// sink with a reconstructed timestamp.
type Sampler struct {
	src      LineSource
	parser   *nvsmi.RowParser
	interval time.Duration
	counters *stats.Counters
	logger   *slog.Logger
}

// New builds a Sampler over an already started source.
func New(src LineSource, parser *nvsmi.RowParser, interval time.Duration, counters *stats.Counters, logger *slog.Logger) (*Sampler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if counters == nil {
		counters = &stats.Counters{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		src:      src,
		parser:   parser,
		interval: interval,
		counters: counters,
		logger:   logger.With("component", "sampler"),
	}, nil
}

// Run reads lines until the source is exhausted or the context is cancelled.
// The first line is the CSV header and is discarded; every line after it
// consumes one clock tick, so a malformed row leaves a gap in the series
// instead of shifting later samples. Returns *ExitError when the monitoring
// process terminates.
func (s *Sampler) Run(ctx context.Context, sink Sink) error {
	if _, err := s.src.NextLine(); err != nil {
		return s.streamErr(ctx, err)
	}

	clock := NewClock(time.Now().UTC(), s.interval)
	s.logger.Info("streaming started", "interval", s.interval)

	for {
		line, err := s.src.NextLine()
		if err != nil {
			return s.streamErr(ctx, err)
		}

		ts := clock.Next()
		s.counters.RowsRead.Add(1)

		record, err := s.parser.Parse(line)
		if err != nil {
			s.counters.RowsRejected.Add(1)
			s.logger.Warn("dropping malformed row", "err", err, "line", line)
			continue
		}

		if err := sink.Add(ctx, Sample{Timestamp: ts, Record: record}); err != nil {
			return err
		}
		s.counters.Samples.Add(1)
	}
}

// streamErr normalizes end-of-stream conditions. Cancellation wins over the
// process exit it caused; fake sources that end with io.EOF are mapped to a
// clean exit.
func (s *Sampler) streamErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	if errors.Is(err, io.EOF) {
		return &ExitError{ExitCode: 0}
	}
	return fmt.Errorf("read stream: %w", err)
}
