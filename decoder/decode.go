// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// decode.go

package decoder

import (
	"bytes"
	"io"
	"runtime"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"github.com/simagix/ftdc-decoder/bsonstream"
	"github.com/simagix/ftdc-decoder/ftdcerr"
	"github.com/simagix/ftdc-decoder/internal/flatten"
	"github.com/simagix/ftdc-decoder/varint"
)

// DecodeChunk decodes the binary payload of a MetricChunk framing
// document (spec §4.4): unwraps the framed deflate stream, parses the
// reference document, flattens it to a metric schema, and decodes the
// RLE+varint delta stream into a dense matrix.
func DecodeChunk(payload []byte) (*Chunk, error) {
	inflated, err := inflate(payload)
	if err != nil {
		return nil, err
	}

	refDocSize, err := readUint32(inflated, 0)
	if err != nil {
		return nil, err
	}
	if int(refDocSize) > len(inflated) {
		return nil, errors.Wrap(ftdcerr.Truncated, "decoder: reference document runs past inflated buffer")
	}
	refDoc, err := bsonstream.ParseDocument(inflated[:refDocSize])
	if err != nil {
		return nil, errors.Wrap(err, "decoder: parsing reference document")
	}

	headerPos := int(refDocSize)
	metricsCount, err := readUint32(inflated, headerPos)
	if err != nil {
		return nil, errors.Wrap(err, "decoder: reading metrics_count")
	}
	deltasCount, err := readUint32(inflated, headerPos+4)
	if err != nil {
		return nil, errors.Wrap(err, "decoder: reading deltas_count")
	}
	deltaStream := inflated[headerPos+8:]

	metrics := flatten.Flatten(refDoc)
	if len(metrics) != int(metricsCount) {
		return nil, errors.Wrapf(ftdcerr.SchemaMismatch,
			"flattened %d metrics, header declares %d", len(metrics), metricsCount)
	}

	samples := int(deltasCount) + 1
	v := make([][]uint64, len(metrics))
	for m, metric := range metrics {
		col := make([]uint64, samples)
		col[0] = uint64(metric.Value)
		v[m] = col
	}

	if err := decodeDeltas(deltaStream, v, int(deltasCount)); err != nil {
		return nil, err
	}

	return &Chunk{Metrics: metrics, V: v, samples: samples}, nil
}

func inflate(payload []byte) ([]byte, error) {
	declaredSize, err := readUint32(payload, 0)
	if err != nil {
		return nil, errors.Wrap(err, "decoder: reading frame size")
	}
	zr, err := zlib.NewReader(bytes.NewReader(payload[4:]))
	if err != nil {
		return nil, errors.Wrap(ftdcerr.DecompressionFailure, err.Error())
	}
	defer zr.Close()
	inflated, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(ftdcerr.DecompressionFailure, err.Error())
	}
	if uint32(len(inflated)) != declaredSize {
		return nil, errors.Wrapf(ftdcerr.FrameSizeMismatch,
			"declared %d, inflated %d", declaredSize, len(inflated))
	}
	return inflated, nil
}

func readUint32(buf []byte, pos int) (uint32, error) {
	if pos < 0 || pos+4 > len(buf) {
		return 0, ftdcerr.Truncated
	}
	b := buf[pos : pos+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// byteCursor is the minimal forward-only cursor the delta decode loop
// needs: read one byte at a time (to satisfy varint.Reader) while
// tracking how many bytes remain, so end-of-stream bookkeeping (§4.4's
// "the varint cursor ends exactly at the end of the inflated buffer")
// can be checked without a second pass.
type byteCursor struct {
	buf []byte
	pos int
}

func (c *byteCursor) ReadByte() (byte, error) {
	if c.pos >= len(c.buf) {
		return 0, io.EOF
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *byteCursor) remaining() int {
	return len(c.buf) - c.pos
}

// decodeDeltas is the critical inner loop of §4.4: a single zero-run
// counter, nzeros, persists across the boundary between one metric's
// column and the next. The reference implementation's most common
// defect class is resetting this counter per metric; keeping it as a
// variable of the OUTER loop's enclosing scope (declared once, before
// the `for m` loop starts) is what makes that impossible here.
func decodeDeltas(deltaStream []byte, v [][]uint64, deltasCount int) error {
	c := &byteCursor{buf: deltaStream}
	var nzeros uint64

	for m := range v {
		col := v[m]
		for s := 1; s <= deltasCount; s++ {
			var delta int64
			if nzeros > 0 {
				delta = 0
				nzeros--
			} else {
				d, err := varint.ReadVarint(c)
				if err != nil {
					return errors.Wrapf(err, "decoder: delta stream, metric %d sample %d", m, s)
				}
				delta = d
				if delta == 0 {
					run, err := varint.ReadUvarint(c)
					if err != nil {
						return errors.Wrapf(err, "decoder: delta stream run length, metric %d sample %d", m, s)
					}
					nzeros = run
				}
			}
			col[s] = col[s-1] + uint64(delta)
		}
	}

	if c.remaining() > 0 && nzeros == 0 {
		return errors.Wrapf(ftdcerr.TrailingBytes, "%d unconsumed byte(s) in delta stream", c.remaining())
	}
	return nil
}

// DecodeAllParallel decodes a batch of independent chunk payloads
// concurrently, one goroutine per payload with at most one decode per
// available core running at a time (bounded by a semaphore). Chunks are independent — each carries its own reference
// document, spec §5 — so this is safe; it is NOT used by the streaming
// file reader, which keeps at most one decoded chunk resident at a
// time (§5) and decodes lazily on pull. This is for callers that
// already have every chunk's raw payload in hand and want to fan the
// work out across a semaphore-bounded worker pool.
func DecodeAllParallel(payloads [][]byte) ([]*Chunk, error) {
	if len(payloads) == 0 {
		return nil, nil
	}
	numWorkers := runtime.NumCPU()
	if numWorkers > len(payloads) {
		numWorkers = len(payloads)
	}

	chunks := make([]*Chunk, len(payloads))
	sem := make(chan struct{}, numWorkers)
	var wg sync.WaitGroup
	var once sync.Once
	var firstErr error

	for i, payload := range payloads {
		wg.Add(1)
		go func(idx int, data []byte) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			chunk, err := DecodeChunk(data)
			if err != nil {
				once.Do(func() { firstErr = errors.Wrapf(err, "chunk %d", idx) })
				return
			}
			chunks[idx] = chunk
		}(i, payload)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return chunks, nil
}
