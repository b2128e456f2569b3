// Package nvsmi defines the metric schema queried from the NVIDIA monitoring
// utility and parses its CSV output into typed records.
package nvsmi

import (
	"strconv"
	"strings"
)

// Kind selects the conversion applied to a raw CSV token.
type Kind int

const (
	// KindNumeric parses as a floating point reading.
	KindNumeric Kind = iota
	// KindPState parses a performance state code such as "P0".
	KindPState
	// KindOnOff maps Enabled/Disabled to 1/0.
	KindOnOff
	// KindThrottle maps throttle reason tokens to 1/0.
	KindThrottle
)

// Field describes one column of the query output.
type Field struct {
	// Name is the exported series name.
	Name string
	// Query is the utility's --query-gpu field name.
	Query string
	// Kind selects how the raw token is converted.
	Kind Kind
}

// Schema is the ordered set of queried fields. Row columns follow field order.
type Schema struct {
	fields []Field
}

// Default returns the field set collected by the agent.
func Default() Schema {
	return Schema{fields: []Field{
		{Name: "pstate", Query: "pstate", Kind: KindPState},
		{Name: "power_management", Query: "power.management", Kind: KindOnOff},
		{Name: "power_draw", Query: "power.draw"},
		{Name: "power_draw_average", Query: "power.draw.average"},
		{Name: "power_draw_instant", Query: "power.draw.instant"},
		{Name: "power_limit", Query: "power.limit"},
		{Name: "power_default_limit", Query: "power.default_limit"},
		{Name: "power_min_limit", Query: "power.min_limit"},
		{Name: "power_max_limit", Query: "power.max_limit"},
		{Name: "temperature_gpu", Query: "temperature.gpu"},
		{Name: "temperature_memory", Query: "temperature.memory"},
		{Name: "memory_used", Query: "memory.used"},
		{Name: "memory_total", Query: "memory.total"},
		{Name: "memory_free", Query: "memory.free"},
		{Name: "current_clocks", Query: "clocks.current.sm"},
		{Name: "current_memory_clocks", Query: "clocks.current.memory"},
		{Name: "throttle_reasons_supported", Query: "clocks_throttle_reasons.supported", Kind: KindThrottle},
		{Name: "throttle_reasons_active", Query: "clocks_throttle_reasons.active", Kind: KindThrottle},
		{Name: "throttle_reasons_gpu_idle", Query: "clocks_throttle_reasons.gpu_idle", Kind: KindThrottle},
		{Name: "throttle_reasons_applications_clocks_setting", Query: "clocks_throttle_reasons.applications_clocks_setting", Kind: KindThrottle},
		{Name: "throttle_reasons_sw_power_cap", Query: "clocks_throttle_reasons.sw_power_cap", Kind: KindThrottle},
		{Name: "throttle_reasons_hw_slowdown", Query: "clocks_throttle_reasons.hw_slowdown", Kind: KindThrottle},
		{Name: "throttle_reasons_hw_thermal_slowdown", Query: "clocks_throttle_reasons.hw_thermal_slowdown", Kind: KindThrottle},
		{Name: "throttle_reasons_hw_power_brake_slowdown", Query: "clocks_throttle_reasons.hw_power_brake_slowdown", Kind: KindThrottle},
		{Name: "throttle_reasons_sw_thermal_slowdown", Query: "clocks_throttle_reasons.sw_thermal_slowdown", Kind: KindThrottle},
		{Name: "throttle_reasons_sync_boost", Query: "clocks_throttle_reasons.sync_boost", Kind: KindThrottle},
	}}
}

// Fields returns the schema columns in query order.
func (s Schema) Fields() []Field {
	fields := make([]Field, len(s.fields))
	copy(fields, s.fields)
	return fields
}

// Len returns the column count.
func (s Schema) Len() int {
	return len(s.fields)
}

// QueryArg returns the comma-joined --query-gpu field list.
func (s Schema) QueryArg() string {
	queries := make([]string, len(s.fields))
	for i, field := range s.fields {
		queries[i] = field.Query
	}
	return strings.Join(queries, ",")
}

// StreamArgs returns the utility argument vector for continuous sampling at
// the supplied millisecond interval.
func (s Schema) StreamArgs(intervalMS int) []string {
	return []string{
		"-lms", strconv.Itoa(intervalMS),
		"--query-gpu=" + s.QueryArg(),
		"--format=csv,nounits",
	}
}

// QueryOnceArgs returns the utility argument vector for a single snapshot.
func (s Schema) QueryOnceArgs() []string {
	return []string{
		"--query-gpu=" + s.QueryArg(),
		"--format=csv,nounits",
	}
}
