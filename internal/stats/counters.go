// Package stats tracks pipeline activity counters shared between components.
package stats

import "sync/atomic"

// Counters aggregates pipeline activity. Safe for concurrent use.
type Counters struct {
	RowsRead       atomic.Uint64
	RowsRejected   atomic.Uint64
	Samples        atomic.Uint64
	BatchesSent    atomic.Uint64
	BatchesDropped atomic.Uint64
	SamplesSent    atomic.Uint64
	SamplesDropped atomic.Uint64
	SendRetries    atomic.Uint64
}

// Snapshot is a point-in-time copy of the counter values.
type Snapshot struct {
	RowsRead       uint64
	RowsRejected   uint64
	Samples        uint64
	BatchesSent    uint64
	BatchesDropped uint64
	SamplesSent    uint64
	SamplesDropped uint64
	SendRetries    uint64
}

// Snapshot copies the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RowsRead:       c.RowsRead.Load(),
		RowsRejected:   c.RowsRejected.Load(),
		Samples:        c.Samples.Load(),
		BatchesSent:    c.BatchesSent.Load(),
		BatchesDropped: c.BatchesDropped.Load(),
		SamplesSent:    c.SamplesSent.Load(),
		SamplesDropped: c.SamplesDropped.Load(),
		SendRetries:    c.SendRetries.Load(),
	}
}
