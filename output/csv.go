// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// csv.go

// Package output implements the three sink formats spec §6 names for
// a decoded sample stream: CSV, JSON, and InfluxDB line protocol. The
// CSV writer takes an ordered metric-name header up front; every
// writer takes one ftdcfile.Sample at a time, so none of them need to
// buffer the stream.
package output

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/simagix/ftdc-decoder/ftdcfile"
)

// CSVWriter writes samples as comma-separated values: one "timestamp"
// column followed by one column per metric name, in the order
// supplied to NewCSVWriter.
type CSVWriter struct {
	w       *csv.Writer
	columns []string
}

// NewCSVWriter writes a header row of columns immediately.
func NewCSVWriter(w io.Writer, columns []string) (*CSVWriter, error) {
	cw := &CSVWriter{w: csv.NewWriter(w), columns: columns}
	header := append([]string{"timestamp"}, columns...)
	if err := cw.w.Write(header); err != nil {
		return nil, err
	}
	return cw, nil
}

// WriteSample appends one row. Metrics the sample omits (because a
// metric filter excluded them) render as empty fields.
func (cw *CSVWriter) WriteSample(s *ftdcfile.Sample) error {
	row := make([]string, 0, len(cw.columns)+1)
	row = append(row, s.Timestamp.Format("2006-01-02T15:04:05.000Z"))
	for _, col := range cw.columns {
		v, ok := s.Value(col)
		if !ok {
			row = append(row, "")
			continue
		}
		row = append(row, fmt.Sprintf("%v", v))
	}
	return cw.w.Write(row)
}

// Flush flushes the underlying csv.Writer and returns any error it
// accumulated.
func (cw *CSVWriter) Flush() error {
	cw.w.Flush()
	return cw.w.Error()
}
