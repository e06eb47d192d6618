// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// ftdcerr.go

// Package ftdcerr defines the sentinel error taxonomy shared by every
// layer of the FTDC decoder. Callers use errors.Is to test for a
// specific kind through whatever wrapping was added along the way.
package ftdcerr

import "errors"

// Truncated means the byte source ended mid-structure.
var Truncated = errors.New("ftdc: truncated input")

// TruncatedInterim means the byte source ended at a framing-document
// boundary mid-file. Non-fatal: samples decoded so far are valid.
var TruncatedInterim = errors.New("ftdc: truncated interim file at document boundary")

// MalformedBson means a BSON length or structural invariant was violated.
var MalformedBson = errors.New("ftdc: malformed bson")

// UnknownDocumentType means the framing document's type field was not
// one of Metadata, MetricChunk, PeriodicMetadata.
var UnknownDocumentType = errors.New("ftdc: unknown document type")

// FrameSizeMismatch means the declared uncompressed size did not match
// the inflated size.
var FrameSizeMismatch = errors.New("ftdc: frame size mismatch")

// DecompressionFailure means inflate reported an error.
var DecompressionFailure = errors.New("ftdc: decompression failure")

// VarintOverflow means a varint exceeded the 10-byte maximum encoding
// of a 64-bit value.
var VarintOverflow = errors.New("ftdc: varint overflow")

// SchemaMismatch means the flattened reference document's length did
// not equal the chunk header's metrics_count.
var SchemaMismatch = errors.New("ftdc: schema mismatch")

// TrailingBytes means the delta stream had bytes left after decoding
// all expected deltas.
var TrailingBytes = errors.New("ftdc: trailing bytes in delta stream")

// Cancelled means an externally requested stop was observed.
var Cancelled = errors.New("ftdc: cancelled")

// UnexpectedEof is Truncated's alias at the file-reader boundary
// (§4.5): the byte source ended mid-structure with the chunk boundary
// itself lost, as opposed to TruncatedInterim's clean document
// boundary. It is not a distinct taxonomy member in §7's ten kinds —
// same sentinel, different call site — kept as a named alias purely
// so error messages read the way §4.5 talks about them.
var UnexpectedEof = Truncated

// SchemaChanged means a new chunk's reference document disagreed with
// the previous chunk's, under the "error" on_schema_change policy.
var SchemaChanged = errors.New("ftdc: schema changed between chunks")
