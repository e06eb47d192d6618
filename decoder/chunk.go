// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// chunk.go

// Package decoder implements the FTDC chunk decoder (spec §4.4): the
// four-layer pipeline that turns the binary payload of one
// MetricChunk framing document into a dense matrix of metric samples.
// Layers, outside in: framed deflate unwrap, BSON reference-document
// parse (bsonstream), schema flattening (internal/flatten), then
// RLE+varint delta-stream decode with wrapping accumulation.
package decoder

import (
	"math"

	"github.com/simagix/ftdc-decoder/internal/flatten"
)

// Chunk is a decoded metric chunk: the reference document's flattened
// schema plus the reconstructed value matrix. V has one row per
// Metrics entry and one column per sample; V[m][0] is always the
// metric's initial value and V[m][s] for s>0 is the wrapping
// accumulation of V[m][s-1] plus the decoded delta.
//
// V is stored as unsigned 64-bit words regardless of a metric's
// origin type. This is deliberate: Double metrics carry arithmetic
// differences of IEEE-754 bit patterns, which routinely exceed
// math.MaxInt64 as unsigned magnitudes and must accumulate under
// modulo-2^64 wraparound. Keeping the storage type unsigned and the
// accumulation a plain uint64 add sidesteps any question of whether a
// signed-integer reinterpretation on a given platform is bit-
// preserving; it always is for unsigned types.
type Chunk struct {
	Metrics []flatten.Metric
	V       [][]uint64
	// samples is the header's deltas_count+1, kept alongside V so
	// SampleCount is correct even when metrics_count == 0 and V has no
	// rows to measure the sample count from (§8: "metrics_count == 0
	// chunks produce deltas_count + 1 empty samples").
	samples int
}

// SampleCount returns the number of samples this chunk carries
// (deltas_count + 1). A chunk with zero metrics still reports the
// sample count implied by its header.
func (c *Chunk) SampleCount() int {
	return c.samples
}

// TypedValue restores V[m][s] to the shape its origin type implies,
// per spec §4.4's "Type restoration" rules:
//   - Double: reinterpret the unsigned 64-bit word as IEEE-754 (the
//     unsigned cast is mandatory; a naive path through a signed
//     integer is only bit-preserving if the platform's representation
//     happens to be two's complement *and* the cast itself never
//     traps, which is exactly the failure mode spec §9 describes).
//   - Int32: truncate to the low 32 bits, then sign-extend.
//   - Int64 / DateMillis: as-is.
//   - Bool: nonzero is true.
//   - TimestampSeconds / TimestampIncrement: unsigned 32-bit.
func (c *Chunk) TypedValue(m, s int) interface{} {
	metric := c.Metrics[m]
	word := c.V[m][s]
	switch metric.Origin {
	case flatten.OriginDouble:
		return math.Float64frombits(word)
	case flatten.OriginInt32:
		return int32(uint32(word))
	case flatten.OriginInt64, flatten.OriginDateMillis:
		return int64(word)
	case flatten.OriginBool:
		return word != 0
	case flatten.OriginTimestampSeconds, flatten.OriginTimestampIncrement:
		return uint32(word)
	default:
		return int64(word)
	}
}
