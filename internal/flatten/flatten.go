// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// flatten.go

// Package flatten implements the FTDC metric flattener: the
// depth-first traversal that projects a BSON reference document onto
// an ordered sequence of numeric Metrics. It is an implementation
// detail of the chunk decoder (the flattened sequence is never part
// of the public API by itself, only as the schema backing a decoded
// Chunk), hence it lives under internal/.
//
// A metric's identity is its position in the returned slice, not its
// path: two elements sharing a key (the producer is known to emit
// duplicated mount-path subtrees) become two independent Metrics with
// independent delta columns. This only works because the document was
// parsed with bsonstream, which never collapses duplicate keys into a
// map.
package flatten

import (
	"math"

	"github.com/simagix/ftdc-decoder/bsonstream"
)

// Origin identifies the BSON type a Metric's value was decoded from,
// needed at read-out time to restore it to its original shape.
type Origin int

// The numeric origin types a Metric may carry. Every Metric's Origin
// is one of these; non-numeric BSON types never reach a Metric.
const (
	OriginDouble Origin = iota
	OriginInt32
	OriginInt64
	OriginBool
	OriginDateMillis
	OriginTimestampSeconds
	OriginTimestampIncrement
)

// Metric is one leaf of the reference document's flattened view.
type Metric struct {
	Path   string
	Origin Origin
	// Value is the encoded initial value, a signed 64-bit
	// reinterpretation of whatever bit pattern the origin type
	// carried (see decoder.DecodeChunk for how this seeds V[m][0]).
	Value int64
}

const pathSeparator = "."

// Flatten performs the depth-first traversal described in spec §4.3
// and returns one Metric per numeric-or-numeric-like leaf, in the
// exact order encountered.
func Flatten(doc bsonstream.Document) []Metric {
	var metrics []Metric
	walk(doc, "", &metrics)
	return metrics
}

func walk(doc bsonstream.Document, parentPath string, out *[]Metric) {
	for _, elem := range doc {
		path := elem.Key
		if parentPath != "" {
			path = parentPath + pathSeparator + elem.Key
		}
		switch elem.Type {
		case bsonstream.TypeEmbeddedDocument, bsonstream.TypeArray:
			walk(elem.Value.(bsonstream.Document), path, out)
		case bsonstream.TypeDouble:
			bits := math.Float64bits(elem.Value.(float64))
			*out = append(*out, Metric{Path: path, Origin: OriginDouble, Value: int64(bits)})
		case bsonstream.TypeInt32:
			*out = append(*out, Metric{Path: path, Origin: OriginInt32, Value: int64(elem.Value.(int32))})
		case bsonstream.TypeInt64:
			*out = append(*out, Metric{Path: path, Origin: OriginInt64, Value: elem.Value.(int64)})
		case bsonstream.TypeDateTime:
			*out = append(*out, Metric{Path: path, Origin: OriginDateMillis, Value: elem.Value.(int64)})
		case bsonstream.TypeBoolean:
			v := int64(0)
			if elem.Value.(bool) {
				v = 1
			}
			*out = append(*out, Metric{Path: path, Origin: OriginBool, Value: v})
		case bsonstream.TypeTimestamp:
			ts := elem.Value.(bsonstream.Timestamp)
			*out = append(*out, Metric{Path: path, Origin: OriginTimestampSeconds, Value: int64(ts.Seconds)})
			*out = append(*out, Metric{Path: path + ".inc", Origin: OriginTimestampIncrement, Value: int64(ts.Increment)})
		default:
			// String, Binary, ObjectID, Null, Regex, Decimal128,
			// MinKey, MaxKey, JavaScript: not numeric, skipped per
			// §4.3 (neither emitted nor recursed into).
		}
	}
}

