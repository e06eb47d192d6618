// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// decode_test.go

package decoder

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/simagix/ftdc-decoder/ftdcerr"
	"github.com/simagix/ftdc-decoder/internal/flatten"
	"github.com/simagix/ftdc-decoder/varint"
)

// fixtureDoc builds a minimal BSON document by hand: this package only
// needs Int32 and Double fields to exercise the end-to-end scenarios
// in spec §8.
type fixtureDoc struct {
	buf bytes.Buffer
}

func (d *fixtureDoc) int32(key string, v int32) *fixtureDoc {
	d.buf.WriteByte(0x10)
	d.buf.WriteString(key)
	d.buf.WriteByte(0)
	binary.Write(&d.buf, binary.LittleEndian, v)
	return d
}

func (d *fixtureDoc) double(key string, v float64) *fixtureDoc {
	d.buf.WriteByte(0x01)
	d.buf.WriteString(key)
	d.buf.WriteByte(0)
	binary.Write(&d.buf, binary.LittleEndian, math.Float64bits(v))
	return d
}

func (d *fixtureDoc) bytes() []byte {
	body := d.buf.Bytes()
	total := 4 + len(body) + 1
	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, int32(total))
	out.Write(body)
	out.WriteByte(0)
	return out.Bytes()
}

// buildChunkPayload assembles the binary payload of a MetricChunk
// framing document: the uncompressed-size prefix, then a zlib stream
// of (reference document, metrics_count, deltas_count, delta stream).
func buildChunkPayload(t *testing.T, refDoc []byte, metricsCount, deltasCount uint32, deltaStream []byte) []byte {
	t.Helper()
	var inner bytes.Buffer
	inner.Write(refDoc)
	binary.Write(&inner, binary.LittleEndian, metricsCount)
	binary.Write(&inner, binary.LittleEndian, deltasCount)
	inner.Write(deltaStream)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(inner.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, uint32(inner.Len()))
	payload.Write(compressed.Bytes())
	return payload.Bytes()
}

func varints(vs ...uint64) []byte {
	var buf []byte
	for _, v := range vs {
		buf = varint.WriteUvarint(buf, v)
	}
	return buf
}

// Scenario 1: single-metric, single-sample.
func TestDecodeChunkSingleMetricSingleSample(t *testing.T) {
	ref := (&fixtureDoc{}).int32("x", 5).bytes()
	payload := buildChunkPayload(t, ref, 1, 0, nil)

	chunk, err := DecodeChunk(payload)
	if err != nil {
		t.Fatal(err)
	}
	if chunk.SampleCount() != 1 {
		t.Fatalf("expected 1 sample, got %d", chunk.SampleCount())
	}
	if got := chunk.TypedValue(0, 0).(int32); got != 5 {
		t.Fatalf("expected x=5, got %d", got)
	}
}

// Scenario 2: single-metric RLE run.
func TestDecodeChunkSingleMetricRLERun(t *testing.T) {
	ref := (&fixtureDoc{}).int32("x", 10).bytes()
	deltaStream := varints(0, 4) // one zero delta, run-length 4 more
	payload := buildChunkPayload(t, ref, 1, 5, deltaStream)

	chunk, err := DecodeChunk(payload)
	if err != nil {
		t.Fatal(err)
	}
	if chunk.SampleCount() != 6 {
		t.Fatalf("expected 6 samples, got %d", chunk.SampleCount())
	}
	for s := 0; s < 6; s++ {
		if got := chunk.TypedValue(0, s).(int32); got != 10 {
			t.Fatalf("sample %d: expected 10, got %d", s, got)
		}
	}
}

// Scenario 3: RLE run crossing a metric boundary.
func TestDecodeChunkRLECrossesMetricBoundary(t *testing.T) {
	ref := (&fixtureDoc{}).int32("a", 0).int32("b", 100).bytes()
	// 2 metrics * 3 deltas each = 6 delta slots total; one run of
	// 1 + 5 = 6 zeros covers all of a's deltas and all of b's,
	// crossing the metric boundary in between.
	deltaStream := varints(0, 5)
	payload := buildChunkPayload(t, ref, 2, 3, deltaStream)

	chunk, err := DecodeChunk(payload)
	if err != nil {
		t.Fatal(err)
	}
	for s := 0; s < 4; s++ {
		if got := chunk.TypedValue(0, s).(int32); got != 0 {
			t.Fatalf("a[%d]: expected 0, got %d", s, got)
		}
		if got := chunk.TypedValue(1, s).(int32); got != 100 {
			t.Fatalf("b[%d]: expected 100, got %d", s, got)
		}
	}
}

// Scenario 4: double with wrapping delta.
func TestDecodeChunkDoubleWrappingDelta(t *testing.T) {
	ref := (&fixtureDoc{}).double("d", 1.0).bytes()
	bitsDiff := int64(math.Float64bits(2.0) - math.Float64bits(1.0))
	deltaStream := varints(uint64(bitsDiff))
	payload := buildChunkPayload(t, ref, 1, 1, deltaStream)

	chunk, err := DecodeChunk(payload)
	if err != nil {
		t.Fatal(err)
	}
	if got := chunk.TypedValue(0, 1).(float64); got != 2.0 {
		t.Fatalf("expected 2.0, got %v", got)
	}
}

// Scenario 6: duplicate key preserved; header count must be 2.
func TestDecodeChunkDuplicateKeyPreserved(t *testing.T) {
	ref := (&fixtureDoc{}).int32("mount", 3).int32("mount", 4).bytes()
	payload := buildChunkPayload(t, ref, 2, 0, nil)

	chunk, err := DecodeChunk(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunk.Metrics) != 2 {
		t.Fatalf("expected 2 metrics, got %d", len(chunk.Metrics))
	}
	if chunk.TypedValue(0, 0).(int32) != 3 || chunk.TypedValue(1, 0).(int32) != 4 {
		t.Fatalf("expected distinct values 3 and 4, got %v and %v",
			chunk.TypedValue(0, 0), chunk.TypedValue(1, 0))
	}
}

func TestDecodeChunkSchemaMismatch(t *testing.T) {
	ref := (&fixtureDoc{}).int32("x", 5).bytes()
	// header claims 2 metrics but the reference document only has 1
	payload := buildChunkPayload(t, ref, 2, 0, nil)

	_, err := DecodeChunk(payload)
	if !errors.Is(err, ftdcerr.SchemaMismatch) {
		t.Fatalf("expected SchemaMismatch, got %v", err)
	}
}

func TestDecodeChunkTrailingBytes(t *testing.T) {
	ref := (&fixtureDoc{}).int32("x", 5).bytes()
	deltaStream := append(varints(1), 0xFF) // extra unconsumed byte
	payload := buildChunkPayload(t, ref, 1, 1, deltaStream)

	_, err := DecodeChunk(payload)
	if !errors.Is(err, ftdcerr.TrailingBytes) {
		t.Fatalf("expected TrailingBytes, got %v", err)
	}
}

func TestDecodeChunkZeroMetricsEmptySamples(t *testing.T) {
	ref := (&fixtureDoc{}).bytes() // empty document, zero metrics
	payload := buildChunkPayload(t, ref, 0, 4, nil)

	chunk, err := DecodeChunk(payload)
	if err != nil {
		t.Fatal(err)
	}
	if chunk.SampleCount() != 5 {
		t.Fatalf("expected 5 samples (deltas_count+1), got %d", chunk.SampleCount())
	}
	if len(chunk.Metrics) != 0 {
		t.Fatalf("expected 0 metrics, got %d", len(chunk.Metrics))
	}
}

func TestDecodeChunkWrapsThroughInt64Bounds(t *testing.T) {
	ref := (&fixtureDoc{}).int32("x", 0).bytes()
	// delta that pushes the accumulator just past int64 max, wrapping
	// into negative territory under two's complement.
	delta := int64(math.MaxInt64)
	deltaStream := varints(uint64(delta), uint64(delta))
	payload := buildChunkPayload(t, ref, 1, 2, deltaStream)

	chunk, err := DecodeChunk(payload)
	if err != nil {
		t.Fatal(err)
	}
	want := uint64(delta) + uint64(delta)
	if chunk.V[0][2] != want {
		t.Fatalf("expected wrapped accumulator %d, got %d", want, chunk.V[0][2])
	}
}

func TestDecodeAllParallelDecodesIndependentChunks(t *testing.T) {
	a := buildChunkPayload(t, (&fixtureDoc{}).int32("a", 1).bytes(), 1, 1, varints(1))
	b := buildChunkPayload(t, (&fixtureDoc{}).int32("b", 100).bytes(), 1, 2, varints(0, 1))

	chunks, err := DecodeAllParallel([][]byte{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if got := chunks[0].TypedValue(0, 1).(int32); got != 2 {
		t.Fatalf("chunk 0: expected a[1]=2, got %d", got)
	}
	if got := chunks[1].TypedValue(0, 2).(int32); got != 100 {
		t.Fatalf("chunk 1: expected b[2]=100, got %d", got)
	}
}

func TestDecodeAllParallelReportsChunkIndexOnError(t *testing.T) {
	good := buildChunkPayload(t, (&fixtureDoc{}).int32("a", 1).bytes(), 1, 0, nil)
	bad := buildChunkPayload(t, (&fixtureDoc{}).int32("b", 1).bytes(), 2, 0, nil) // schema mismatch

	_, err := DecodeAllParallel([][]byte{good, bad})
	if !errors.Is(err, ftdcerr.SchemaMismatch) {
		t.Fatalf("expected SchemaMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), "chunk 1") {
		t.Fatalf("expected error to name chunk 1, got %v", err)
	}
}

func TestDecodeAllParallelEmptyInput(t *testing.T) {
	chunks, err := DecodeAllParallel(nil)
	if err != nil {
		t.Fatal(err)
	}
	if chunks != nil {
		t.Fatalf("expected nil chunks for empty input, got %v", chunks)
	}
}

func TestOriginConstantsAreDistinct(t *testing.T) {
	// sanity check that the origin constants TypedValue switches on differ
	if flatten.OriginDouble == flatten.OriginInt32 {
		t.Fatal("origin constants must be distinct")
	}
}
