package procs

import "time"

// Snapshot is the result of one compute process scan.
type Snapshot struct {
	Timestamp time.Time `json:"ts"`
	Processes []Process `json:"processes"`
}

// Process summarises one compute process reported by the monitoring utility.
type Process struct {
	PID  int    `json:"pid"`
	Name string `json:"name"`
	// UsedMemoryMiB is nil when the driver cannot attribute memory, e.g.
	// on windowed WDDM systems.
	UsedMemoryMiB *float64 `json:"used_memory_mib"`
}
