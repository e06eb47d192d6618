// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// json.go

package output

import (
	"encoding/json"
	"io"

	"github.com/simagix/ftdc-decoder/ftdcfile"
)

// jsonSample is the wire shape one Sample renders to: a flat object
// keyed by dotted metric path, plus "timestamp".
type jsonSample map[string]interface{}

// JSONWriter writes one JSON object per line (newline-delimited JSON),
// so a large sample stream can be consumed line-at-a-time without
// buffering the whole output.
type JSONWriter struct {
	enc *json.Encoder
}

// NewJSONWriter wraps w with a streaming encoder.
func NewJSONWriter(w io.Writer) *JSONWriter {
	return &JSONWriter{enc: json.NewEncoder(w)}
}

// WriteSample encodes one sample as a single JSON line.
func (jw *JSONWriter) WriteSample(s *ftdcfile.Sample) error {
	obj := make(jsonSample, len(s.Metrics)+1)
	obj["timestamp"] = s.Timestamp
	for _, m := range s.Metrics {
		obj[m.Path] = m.Value
	}
	return jw.enc.Encode(obj)
}
