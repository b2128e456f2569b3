// Package batcher accumulates samples into fixed-size batches and hands them
// to the export side over a bounded queue.
package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skobkin/nvsmi-sender/internal/sampler"
)

// Batch is an ordered group of samples delivered in one export request.
type Batch []sampler.Sample

// Config controls batch accumulation.
type Config struct {
	// Size is the number of samples per batch.
	Size int
	// QueueDepth bounds how many full batches may wait for export before
	// Add blocks.
	QueueDepth int
	// IdleFlush emits a partial batch once it has been open this long.
	// Zero disables idle flushing.
	IdleFlush time.Duration
}

// Batcher collects samples into batches. Add, Flush and Close must be called
// from a single producer goroutine; Batches is read by a single consumer.
// When the queue is full Add blocks rather than dropping samples, which
// stalls the producer until the consumer catches up.
type Batcher struct {
	size      int
	idleFlush time.Duration
	out       chan Batch

	cur     Batch
	started time.Time

	closeOnce sync.Once
}

// New validates the configuration and prepares an empty batcher.
func New(cfg Config) (*Batcher, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("batch size must be > 0")
	}
	if cfg.QueueDepth <= 0 {
		return nil, fmt.Errorf("queue depth must be > 0")
	}
	if cfg.IdleFlush < 0 {
		return nil, fmt.Errorf("idle flush must be >= 0")
	}
	return &Batcher{
		size:      cfg.Size,
		idleFlush: cfg.IdleFlush,
		out:       make(chan Batch, cfg.QueueDepth),
	}, nil
}

// Add appends one sample to the open batch, emitting it when full. A batch
// left open past the idle flush window is emitted before the new sample
// starts the next one. Blocks while the queue is full; returns the context
// error on cancellation with the open batch retained.
func (b *Batcher) Add(ctx context.Context, sample sampler.Sample) error {
	if b.idleFlush > 0 && len(b.cur) > 0 && time.Since(b.started) >= b.idleFlush {
		if err := b.emit(ctx); err != nil {
			return err
		}
	}

	if len(b.cur) == 0 {
		b.started = time.Now()
		b.cur = make(Batch, 0, b.size)
	}
	b.cur = append(b.cur, sample)

	if len(b.cur) >= b.size {
		return b.emit(ctx)
	}
	return nil
}

// Flush emits the open partial batch, if any.
func (b *Batcher) Flush(ctx context.Context) error {
	if len(b.cur) == 0 {
		return nil
	}
	return b.emit(ctx)
}

// Close closes the output channel so the consumer can drain and stop. Safe
// for repeated use.
func (b *Batcher) Close() {
	b.closeOnce.Do(func() {
		close(b.out)
	})
}

// Batches returns the queue of completed batches.
func (b *Batcher) Batches() <-chan Batch {
	return b.out
}

// Pending returns the number of batches waiting for export.
func (b *Batcher) Pending() int {
	return len(b.out)
}

func (b *Batcher) emit(ctx context.Context) error {
	select {
	case b.out <- b.cur:
		b.cur = nil
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
