package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/skobkin/nvsmi-sender/internal/batcher"
)

// seriesLine is one line of the JSON line import format: a label set plus
// parallel value/timestamp arrays.
type seriesLine struct {
	Metric     map[string]string `json:"metric"`
	Values     []float64         `json:"values"`
	Timestamps []int64           `json:"timestamps"`
}

// encode renders a batch as one import line per schema field. Samples where
// the device did not report a field are omitted from that field's series
// together with their timestamps, keeping the two arrays aligned. Fields
// with no reported values in the whole batch produce no line.
func (e *Exporter) encode(batch batcher.Batch) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	for i, field := range e.fields {
		values := make([]float64, 0, len(batch))
		timestamps := make([]int64, 0, len(batch))
		for _, sample := range batch {
			if i >= len(sample.Record.Values) {
				return nil, fmt.Errorf("record has %d values, schema expects %d", len(sample.Record.Values), len(e.fields))
			}
			value := sample.Record.Values[i]
			if value == nil {
				continue
			}
			values = append(values, *value)
			timestamps = append(timestamps, sample.Timestamp.UnixMilli())
		}
		if len(values) == 0 {
			continue
		}

		metric := map[string]string{
			"__name__": field.Name,
			"job":      e.job,
			"instance": e.instance,
		}
		if e.gpu != "" {
			metric["gpu"] = e.gpu
		}

		if err := enc.Encode(seriesLine{Metric: metric, Values: values, Timestamps: timestamps}); err != nil {
			return nil, fmt.Errorf("encode series %s: %w", field.Name, err)
		}
	}

	return buf.Bytes(), nil
}
