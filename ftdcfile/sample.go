// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// sample.go

package ftdcfile

import "time"

// MetricValue is one metric's typed value within a Sample, in the
// flattener's depth-first order.
type MetricValue struct {
	Path  string
	Value interface{}
}

// Sample is one observation across every metric a chunk carries, per
// spec §3's data model.
type Sample struct {
	Timestamp time.Time
	Metrics   []MetricValue
}

// Value looks up a metric by dotted path within the sample. Linear in
// the number of metrics; callers iterating every path should range
// over Metrics directly instead of calling this per path.
func (s *Sample) Value(path string) (interface{}, bool) {
	for _, m := range s.Metrics {
		if m.Path == path {
			return m.Value, true
		}
	}
	return nil, false
}

// materialize builds the Sample at index s of the current chunk,
// deriving its timestamp from the "start" metric when the schema
// carries one (the ordinary case for real serverStatus-derived
// chunks) and falling back to the chunk's own framing timestamp
// offset by sample index otherwise, per spec §3.
func (r *Reader) materialize(s int) *Sample {
	chunk := r.currentChunk
	ts := r.currentChunkTS.Add(time.Duration(s) * time.Second)
	if r.startMetricIdx >= 0 {
		if ms, ok := chunk.TypedValue(r.startMetricIdx, s).(int64); ok {
			ts = time.UnixMilli(ms).UTC()
		}
	}

	metrics := make([]MetricValue, 0, len(chunk.Metrics))
	for m, metric := range chunk.Metrics {
		if r.metricFilter != nil && !r.metricFilter(metric.Path) {
			continue
		}
		metrics = append(metrics, MetricValue{Path: metric.Path, Value: chunk.TypedValue(m, s)})
	}

	return &Sample{Timestamp: ts, Metrics: metrics}
}
