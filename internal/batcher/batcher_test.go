package batcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/skobkin/nvsmi-sender/internal/sampler"
)

func sampleAt(i int) sampler.Sample {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return sampler.Sample{Timestamp: base.Add(time.Duration(i) * time.Second)}
}

func newTestBatcher(t *testing.T, cfg Config) *Batcher {
	t.Helper()
	b, err := New(cfg)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return b
}

func receiveBatch(t *testing.T, b *Batcher) Batch {
	t.Helper()
	select {
	case batch := <-b.Batches():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for batch")
		return nil
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		cfg  Config
	}{
		{"ZeroSize", Config{Size: 0, QueueDepth: 2}},
		{"ZeroQueueDepth", Config{Size: 10, QueueDepth: 0}},
		{"NegativeIdleFlush", Config{Size: 10, QueueDepth: 2, IdleFlush: -time.Second}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); err == nil {
				t.Fatalf("expected error for config %+v", tc.cfg)
			}
		})
	}
}

func TestBatcherEmitsFullBatches(t *testing.T) {
	t.Parallel()

	b := newTestBatcher(t, Config{Size: 3, QueueDepth: 2})
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if err := b.Add(ctx, sampleAt(i)); err != nil {
			t.Fatalf("Add %d returned error: %v", i, err)
		}
	}

	first := receiveBatch(t, b)
	second := receiveBatch(t, b)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("expected two batches of 3, got %d and %d", len(first), len(second))
	}
	if !first[0].Timestamp.Equal(sampleAt(0).Timestamp) {
		t.Fatalf("first batch starts at %v, want %v", first[0].Timestamp, sampleAt(0).Timestamp)
	}
	if !second[0].Timestamp.Equal(sampleAt(3).Timestamp) {
		t.Fatalf("second batch starts at %v, want %v", second[0].Timestamp, sampleAt(3).Timestamp)
	}

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	rest := receiveBatch(t, b)
	if len(rest) != 1 {
		t.Fatalf("expected flushed batch of 1, got %d", len(rest))
	}
	if !rest[0].Timestamp.Equal(sampleAt(6).Timestamp) {
		t.Fatalf("flushed batch holds %v, want %v", rest[0].Timestamp, sampleAt(6).Timestamp)
	}
}

func TestBatcherBackpressure(t *testing.T) {
	t.Parallel()

	b := newTestBatcher(t, Config{Size: 1, QueueDepth: 1})
	ctx := context.Background()

	if err := b.Add(ctx, sampleAt(0)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- b.Add(ctx, sampleAt(1))
	}()

	select {
	case err := <-blocked:
		t.Fatalf("Add should block on a full queue, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if got := receiveBatch(t, b); len(got) != 1 {
		t.Fatalf("expected batch of 1, got %d", len(got))
	}

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("Add returned error after drain: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Add did not unblock after drain")
	}
}

func TestBatcherAddCancelledRetainsBatch(t *testing.T) {
	t.Parallel()

	b := newTestBatcher(t, Config{Size: 1, QueueDepth: 1})

	if err := b.Add(context.Background(), sampleAt(0)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.Add(ctx, sampleAt(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// Drain the queued batch, then the retained one must still flush.
	if got := receiveBatch(t, b); !got[0].Timestamp.Equal(sampleAt(0).Timestamp) {
		t.Fatalf("unexpected queued batch %v", got[0].Timestamp)
	}
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if got := receiveBatch(t, b); !got[0].Timestamp.Equal(sampleAt(1).Timestamp) {
		t.Fatalf("expected retained sample, got %v", got[0].Timestamp)
	}
}

func TestBatcherIdleFlush(t *testing.T) {
	t.Parallel()

	b := newTestBatcher(t, Config{Size: 100, QueueDepth: 2, IdleFlush: 20 * time.Millisecond})
	ctx := context.Background()

	if err := b.Add(ctx, sampleAt(0)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := b.Add(ctx, sampleAt(1)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	if err := b.Add(ctx, sampleAt(2)); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	idle := receiveBatch(t, b)
	if len(idle) != 2 {
		t.Fatalf("expected idle batch of 2, got %d", len(idle))
	}

	if err := b.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	rest := receiveBatch(t, b)
	if len(rest) != 1 {
		t.Fatalf("expected final batch of 1, got %d", len(rest))
	}
	if !rest[0].Timestamp.Equal(sampleAt(2).Timestamp) {
		t.Fatalf("final batch holds %v, want %v", rest[0].Timestamp, sampleAt(2).Timestamp)
	}
}

func TestBatcherFlushEmptyNoop(t *testing.T) {
	t.Parallel()

	b := newTestBatcher(t, Config{Size: 3, QueueDepth: 1})
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush of empty batcher returned error: %v", err)
	}
	if b.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d pending", b.Pending())
	}
}

func TestBatcherClose(t *testing.T) {
	t.Parallel()

	b := newTestBatcher(t, Config{Size: 3, QueueDepth: 1})
	b.Close()
	b.Close()

	select {
	case _, ok := <-b.Batches():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
}
