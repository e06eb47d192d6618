// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// lineprotocol.go

package output

import (
	"io"

	"github.com/influxdata/line-protocol/v2/lineprotocol"

	"github.com/simagix/ftdc-decoder/ftdcfile"
)

// LineProtocolWriter renders samples as InfluxDB line protocol, one
// line per sample, every metric as a field under a fixed measurement
// name. FTDC carries no natural tag set (no host/replset identity
// lives in the metric schema itself), so lines carry fields only.
type LineProtocolWriter struct {
	w           io.Writer
	measurement string
	enc         lineprotocol.Encoder
}

// NewLineProtocolWriter writes every sample under the given
// measurement name.
func NewLineProtocolWriter(w io.Writer, measurement string) *LineProtocolWriter {
	lw := &LineProtocolWriter{w: w, measurement: measurement}
	lw.enc.SetPrecision(lineprotocol.Nanosecond)
	return lw
}

// WriteSample encodes one sample as one line and flushes it to the
// underlying writer.
func (lw *LineProtocolWriter) WriteSample(s *ftdcfile.Sample) error {
	lw.enc.StartLine(lw.measurement)
	for _, m := range s.Metrics {
		v, ok := fieldValue(m.Value)
		if !ok {
			continue
		}
		lw.enc.AddField(m.Path, v)
	}
	lw.enc.EndLine(s.Timestamp)
	if err := lw.enc.Err(); err != nil {
		lw.enc.Reset()
		return err
	}
	_, err := lw.w.Write(lw.enc.Bytes())
	lw.enc.Reset()
	return err
}

// fieldValue maps a decoder.Chunk.TypedValue result onto the line
// protocol value union. Every origin type decoder.Chunk can produce
// has a home here; ok is false for a NaN or infinite float64, which
// line protocol cannot represent, and for a value of a type no FTDC
// metric origin ever actually yields.
func fieldValue(v interface{}) (lineprotocol.Value, bool) {
	switch x := v.(type) {
	case float64:
		return lineprotocol.FloatValue(x)
	case int32:
		return lineprotocol.IntValue(int64(x)), true
	case int64:
		return lineprotocol.IntValue(x), true
	case uint32:
		return lineprotocol.UintValue(uint64(x)), true
	case bool:
		return lineprotocol.BoolValue(x), true
	default:
		return lineprotocol.Value{}, false
	}
}

