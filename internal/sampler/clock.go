package sampler

import "time"

// Clock reconstructs sample timestamps for a stream that carries none. The
// monitoring utility emits rows at a fixed cadence, so the n-th row read is
// stamped start + n*interval. The clock advances once per call regardless of
// what happens to the row afterwards; if the producing process stalls, the
// reconstructed times drift from wall time until reads resume.
type Clock struct {
	start    time.Time
	interval time.Duration
	n        int64
}

// NewClock returns a clock that stamps the first tick with start.
func NewClock(start time.Time, interval time.Duration) *Clock {
	return &Clock{start: start, interval: interval}
}

// Next returns the timestamp for the next row. Not safe for concurrent use;
// the sampler loop is its only caller.
func (c *Clock) Next() time.Time {
	ts := c.start.Add(time.Duration(c.n) * c.interval)
	c.n++
	return ts
}
