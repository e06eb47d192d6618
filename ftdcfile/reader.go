// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// reader.go

// Package ftdcfile implements the pull-based file reader (spec §4.5 and
// §6): the layer consumers actually drive, sitting on top of decoder
// and holding at most one decoded Chunk resident at a time. Framing
// documents are MongoDB BSON (Metadata=0, MetricChunk=1,
// PeriodicMetadata=2) and are unmarshalled with the kept mongo-driver
// dependency — that parser is only ever pointed at the outer framing
// document, never at a chunk's inner reference document, which is the
// one place duplicate keys occur and bsonstream exists to preserve.
package ftdcfile

import (
	"bufio"
	"io"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/simagix/ftdc-decoder/decoder"
	"github.com/simagix/ftdc-decoder/ftdcerr"
)

// Kind is the framing document's declared type.
type Kind int32

// The three framing document kinds spec §3 names.
const (
	KindMetadata         Kind = 0
	KindMetricChunk      Kind = 1
	KindPeriodicMetadata Kind = 2
)

// SchemaChangePolicy governs what happens when a new chunk's reference
// document schema disagrees with the previous chunk's (spec §4.5).
type SchemaChangePolicy int

const (
	// SchemaChangeNewChunk accepts the new schema silently; this is
	// the default, since a schema change is an ordinary occurrence
	// across chunk boundaries (a driver upgrade, a replset topology
	// change) and not by itself an error condition.
	SchemaChangeNewChunk SchemaChangePolicy = iota
	// SchemaChangeError rejects a schema change with ftdcerr.SchemaChanged.
	SchemaChangeError
)

// MetadataCallback is invoked once per Metadata or PeriodicMetadata
// framing document encountered while reading, in document order.
type MetadataCallback func(kind Kind, timestamp time.Time, payload bson.M)

// frame is the outer framing document every FTDC record is wrapped in.
type frame struct {
	ID   primitive.DateTime `bson:"_id"`
	Type int32              `bson:"type"`
	Doc  bson.Raw           `bson:"doc"`
	Data primitive.Binary   `bson:"data"`
}

// Reader pulls samples out of an FTDC byte stream one at a time,
// decoding at most one chunk's worth of data at any given moment.
type Reader struct {
	br *bufio.Reader

	onMetadata   MetadataCallback
	metricFilter func(path string) bool
	schemaPolicy SchemaChangePolicy
	start, end   *time.Time

	cancelled atomic.Bool

	currentChunk   *decoder.Chunk
	currentChunkTS time.Time
	startMetricIdx int // index of the "start" metric within currentChunk, or -1
	sampleIdx      int

	lastMetricNames []string
}

// NewReader wraps r. r is consumed forward-only; Reader never seeks.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		br:             bufio.NewReaderSize(r, 64*1024),
		startMetricIdx: -1,
	}
}

// SetTimeRange restricts Next to the half-open interval [start, end)
// in UTC. Either bound may be the zero time.Time to leave it unset.
func (r *Reader) SetTimeRange(start, end time.Time) {
	if !start.IsZero() {
		s := start.UTC()
		r.start = &s
	}
	if !end.IsZero() {
		e := end.UTC()
		r.end = &e
	}
}

// SetMetricFilter installs a predicate over dotted metric paths. A
// metric for which the predicate returns false is still decoded (it
// still consumes its column in the chunk matrix) but is omitted from
// every Sample's Metrics.
func (r *Reader) SetMetricFilter(pred func(path string) bool) {
	r.metricFilter = pred
}

// SetSchemaChangePolicy governs the response to a schema change
// between consecutive chunks. Default is SchemaChangeNewChunk.
func (r *Reader) SetSchemaChangePolicy(p SchemaChangePolicy) {
	r.schemaPolicy = p
}

// SetMetadataCallback installs the callback invoked for every
// Metadata/PeriodicMetadata framing document Next encounters.
func (r *Reader) SetMetadataCallback(cb MetadataCallback) {
	r.onMetadata = cb
}

// Cancel requests that Next stop at the next framing-document or
// chunk-sample boundary and return ftdcerr.Cancelled.
func (r *Reader) Cancel() {
	r.cancelled.Store(true)
}

// MetricNames returns the ordered dotted paths of the most recently
// decoded chunk's metric schema. It returns nil until at least one
// chunk has been decoded.
func (r *Reader) MetricNames() []string {
	return r.lastMetricNames
}

// Next returns the next Sample in range, or io.EOF once the stream (or
// the configured end bound) is exhausted.
func (r *Reader) Next() (*Sample, error) {
	for {
		if r.cancelled.Load() {
			return nil, ftdcerr.Cancelled
		}

		if r.currentChunk != nil {
			for r.sampleIdx < r.currentChunk.SampleCount() {
				s := r.materialize(r.sampleIdx)
				r.sampleIdx++

				if r.end != nil && !s.Timestamp.Before(*r.end) {
					r.currentChunk = nil
					return nil, io.EOF
				}
				if r.start != nil && s.Timestamp.Before(*r.start) {
					continue
				}
				return s, nil
			}
			r.currentChunk = nil
		}

		if err := r.advance(); err != nil {
			if errors.Is(err, ftdcerr.TruncatedInterim) {
				// Clean document boundary mid-file (spec §4.5/§7):
				// non-fatal, samples decoded so far stand.
				r.currentChunk = nil
				return nil, io.EOF
			}
			return nil, err
		}
	}
}

// SampleCount drains the remainder of the stream to count the samples
// it still holds, decoding every remaining chunk in full to do so.
// This is the expensive, full-scan count spec §4.5 flags as a
// consumer's choice to make, not a cheap header peek: calling it
// leaves the Reader exhausted exactly as if Next had been called in a
// loop to io.EOF. Call it instead of iterating, never in addition to.
func (r *Reader) SampleCount() (int, error) {
	total := 0
	if r.currentChunk != nil {
		total += r.currentChunk.SampleCount() - r.sampleIdx
		r.currentChunk = nil
	}
	for {
		if err := r.advance(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ftdcerr.TruncatedInterim) {
				return total, nil
			}
			return total, err
		}
		if r.currentChunk != nil {
			total += r.currentChunk.SampleCount()
			r.currentChunk = nil
		}
	}
}

// Each calls fn once per Sample in range until the stream is exhausted
// or fn returns an error, which is returned unwrapped. Cancel takes
// effect between calls the same way it does inside Next.
func (r *Reader) Each(fn func(*Sample) error) error {
	for {
		s, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
}

// advance consumes framing documents from the byte source until it
// either leaves a decoded chunk in r.currentChunk, ready for Next to
// materialize samples from, or runs out of input. Metadata and
// PeriodicMetadata documents are handled transparently here and never
// surface as anything Next has to special-case.
func (r *Reader) advance() error {
	for {
		if r.cancelled.Load() {
			return ftdcerr.Cancelled
		}
		f, err := r.readFrame()
		if err != nil {
			return err
		}

		switch Kind(f.Type) {
		case KindMetadata, KindPeriodicMetadata:
			if r.onMetadata != nil {
				var payload bson.M
				if len(f.Doc) > 0 {
					if uerr := bson.Unmarshal(f.Doc, &payload); uerr != nil {
						return errors.Wrap(uerr, "ftdcfile: unmarshalling metadata payload")
					}
				}
				r.onMetadata(Kind(f.Type), f.ID.Time().UTC(), payload)
			}
			continue

		case KindMetricChunk:
			chunkTS := f.ID.Time().UTC()
			if r.end != nil && chunkTS.After(*r.end) {
				// The chunk timestamp lower-bounds every sample inside
				// it (spec §4.5): if it already falls strictly past the
				// end bound, every sample does too, so the chunk can
				// be skipped without paying for inflate or delta
				// decode. A chunk straddling `start` from below still
				// has to be decoded in full; only its first samples
				// get filtered out afterward in Next.
				continue
			}

			chunk, derr := decoder.DecodeChunk(f.Data.Data)
			if derr != nil {
				return errors.Wrap(derr, "ftdcfile: decoding chunk")
			}

			if r.schemaPolicy == SchemaChangeError && r.lastMetricNames != nil {
				if !sameSchema(r.lastMetricNames, chunk) {
					return ftdcerr.SchemaChanged
				}
			}

			r.currentChunk = chunk
			r.currentChunkTS = chunkTS
			r.sampleIdx = 0
			r.startMetricIdx = -1
			names := make([]string, len(chunk.Metrics))
			for i, m := range chunk.Metrics {
				names[i] = m.Path
				if m.Path == "start" {
					r.startMetricIdx = i
				}
			}
			r.lastMetricNames = names
			return nil

		default:
			return errors.Wrapf(ftdcerr.UnknownDocumentType, "type %d", f.Type)
		}
	}
}

func sameSchema(prev []string, chunk *decoder.Chunk) bool {
	if len(prev) != len(chunk.Metrics) {
		return false
	}
	for i, name := range prev {
		if chunk.Metrics[i].Path != name {
			return false
		}
	}
	return true
}

// readFrame reads the next length-prefixed BSON framing document off
// the byte source. It distinguishes a clean end of file (io.EOF, no
// error condition) from two flavors of truncation spec §4.5/§9 treat
// differently: losing the 4-byte length prefix itself means the
// boundary between documents is gone and there is no way to know how
// much more to read (ftdcerr.UnexpectedEof, fatal); having the length
// prefix but not enough bytes left to fill it means the writer was cut
// off mid-document at an otherwise clean boundary (ftdcerr.TruncatedInterim,
// non-fatal — whatever was decoded before this point stands).
func (r *Reader) readFrame() (*frame, error) {
	lenBuf, err := r.br.Peek(4)
	if err != nil {
		if len(lenBuf) == 0 && err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(ftdcerr.UnexpectedEof, "ftdcfile: reading framing document length")
	}

	docLen := int(uint32(lenBuf[0]) | uint32(lenBuf[1])<<8 | uint32(lenBuf[2])<<16 | uint32(lenBuf[3])<<24)
	if docLen < 4 {
		return nil, errors.Wrap(ftdcerr.MalformedBson, "ftdcfile: framing document length under 4 bytes")
	}

	buf := make([]byte, docLen)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, errors.Wrap(ftdcerr.TruncatedInterim, "ftdcfile: framing document cut short")
	}

	var f frame
	if err := bson.Unmarshal(buf, &f); err != nil {
		return nil, errors.Wrap(ftdcerr.MalformedBson, "ftdcfile: unmarshalling framing document")
	}
	return &f, nil
}
