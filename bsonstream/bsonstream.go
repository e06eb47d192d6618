// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// bsonstream.go

// Package bsonstream is a from-scratch BSON document reader that
// preserves both element order and duplicate keys. Standard BSON
// libraries collapse documents into map-like containers and silently
// drop duplicate keys; FTDC's delta stream is encoded against the
// exact ordered key multiset the producer's own flattener observed,
// so a reader that loses either property desynchronises decoding for
// the remainder of the file. This package never builds a map: a
// Document is an ordered slice of Elements, nothing more.
package bsonstream

import (
	"math"

	"github.com/pkg/errors"

	"github.com/simagix/ftdc-decoder/ftdcerr"
)

// BSON element type tags, as they appear on the wire.
const (
	TypeDouble           byte = 0x01
	TypeString           byte = 0x02
	TypeEmbeddedDocument  byte = 0x03
	TypeArray            byte = 0x04
	TypeBinary           byte = 0x05
	TypeObjectID         byte = 0x07
	TypeBoolean          byte = 0x08
	TypeDateTime         byte = 0x09
	TypeNull             byte = 0x0A
	TypeRegex            byte = 0x0B
	TypeJavaScript       byte = 0x0D
	TypeInt32            byte = 0x10
	TypeTimestamp        byte = 0x11
	TypeInt64            byte = 0x12
	TypeDecimal128       byte = 0x13
	TypeMinKey           byte = 0xFF
	TypeMaxKey           byte = 0x7F
)

// Element is one (key, typed value) pair in file order. Duplicate keys
// appear as distinct Elements; callers must never index a Document by
// key through a map, or the duplicate-preservation guarantee is lost
// again one layer up.
type Element struct {
	Key   string
	Type  byte
	Value interface{}
}

// Document is an ordered sequence of Elements. It is deliberately a
// slice, not a map, for the same reason Element is a struct and not a
// map entry.
type Document []Element

// Binary is the decoded form of a BSON Binary element: a subtype tag
// plus the raw bytes.
type Binary struct {
	Subtype byte
	Data    []byte
}

// ObjectID is the 12 opaque bytes of a BSON ObjectId. It is never a
// metric; the flattener skips it.
type ObjectID [12]byte

// Regex is the decoded form of a BSON Regex element.
type Regex struct {
	Pattern string
	Options string
}

// Timestamp is the decoded form of a BSON Timestamp element: a
// replication op-time, distinct from DateTime. The wire encodes
// increment before seconds; the flattener (§4.3) emits them in the
// opposite order (seconds under the unchanged path, increment under
// "<path>.inc").
type Timestamp struct {
	Increment uint32
	Seconds   uint32
}

// Decimal128 is carried as opaque bytes; it is never a metric.
type Decimal128 [16]byte

// ParseDocument decodes one length-prefixed BSON document. buf must
// contain exactly one document: the first four bytes are a
// little-endian int32 total size (including the size prefix and the
// trailing NUL), and that size must equal len(buf).
func ParseDocument(buf []byte) (Document, error) {
	c := &cursor{buf: buf}
	doc, size, err := c.parseDocumentAt(0)
	if err != nil {
		return nil, err
	}
	if size != len(buf) {
		return nil, errors.Wrapf(ftdcerr.MalformedBson,
			"document length %d disagrees with buffer length %d", size, len(buf))
	}
	return doc, nil
}

type cursor struct {
	buf []byte
}

func (c *cursor) require(pos, n int) error {
	if pos < 0 || n < 0 || pos+n > len(c.buf) {
		return errors.Wrap(ftdcerr.Truncated, "bson: read past end of buffer")
	}
	return nil
}

func (c *cursor) u8(pos int) (byte, error) {
	if err := c.require(pos, 1); err != nil {
		return 0, err
	}
	return c.buf[pos], nil
}

func (c *cursor) int32(pos int) (int32, error) {
	if err := c.require(pos, 4); err != nil {
		return 0, err
	}
	b := c.buf[pos : pos+4]
	return int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24), nil
}

func (c *cursor) uint32(pos int) (uint32, error) {
	v, err := c.int32(pos)
	return uint32(v), err
}

func (c *cursor) int64(pos int) (int64, error) {
	if err := c.require(pos, 8); err != nil {
		return 0, err
	}
	b := c.buf[pos : pos+8]
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return int64(v), nil
}

func (c *cursor) float64(pos int) (float64, error) {
	bits, err := c.int64(pos)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(bits)), nil
}

// cstring reads a NUL-terminated string starting at pos and returns
// the string plus the position just past the NUL.
func (c *cursor) cstring(pos int) (string, int, error) {
	start := pos
	for {
		if err := c.require(pos, 1); err != nil {
			return "", 0, errors.Wrap(ftdcerr.MalformedBson, "bson: unterminated cstring")
		}
		if c.buf[pos] == 0 {
			return string(c.buf[start:pos]), pos + 1, nil
		}
		pos++
	}
}

// bsonString reads a length-prefixed UTF-8 string: int32 byte length
// (including the trailing NUL), then that many bytes, the last of
// which must be NUL.
func (c *cursor) bsonString(pos int) (string, int, error) {
	n, err := c.int32(pos)
	if err != nil {
		return "", 0, err
	}
	if n < 1 {
		return "", 0, errors.Wrap(ftdcerr.MalformedBson, "bson: negative or zero string length")
	}
	start := pos + 4
	if err := c.require(start, int(n)); err != nil {
		return "", 0, err
	}
	if c.buf[start+int(n)-1] != 0 {
		return "", 0, errors.Wrap(ftdcerr.MalformedBson, "bson: string missing trailing NUL")
	}
	return string(c.buf[start : start+int(n)-1]), start + int(n), nil
}

// parseDocumentAt decodes one embedded document (or the top-level
// document) starting at pos and returns it plus the number of bytes
// it occupies (the declared size, including the prefix and trailing
// NUL).
func (c *cursor) parseDocumentAt(pos int) (Document, int, error) {
	size, err := c.int32(pos)
	if err != nil {
		return nil, 0, err
	}
	if size < 5 {
		return nil, 0, errors.Wrapf(ftdcerr.MalformedBson, "bson: implausible document size %d", size)
	}
	end := pos + int(size)
	if err := c.require(pos, int(size)); err != nil {
		return nil, 0, err
	}
	if c.buf[end-1] != 0 {
		return nil, 0, errors.Wrap(ftdcerr.MalformedBson, "bson: document not NUL-terminated")
	}

	var doc Document
	p := pos + 4
	for p < end-1 {
		elemType, err := c.u8(p)
		if err != nil {
			return nil, 0, err
		}
		p++
		key, next, err := c.cstring(p)
		if err != nil {
			return nil, 0, err
		}
		p = next
		val, consumed, err := c.parseValue(elemType, p, end)
		if err != nil {
			return nil, 0, err
		}
		doc = append(doc, Element{Key: key, Type: elemType, Value: val})
		p = consumed
	}
	if p != end-1 {
		return nil, 0, errors.Wrap(ftdcerr.MalformedBson, "bson: element overran document bound")
	}
	return doc, int(size), nil
}

// parseValue decodes the value of the given type starting at pos. It
// returns the value and the position immediately after it. limit is
// the exclusive end of the enclosing document; a nested document or
// array whose declared size would run past limit is MalformedBson.
func (c *cursor) parseValue(elemType byte, pos, limit int) (interface{}, int, error) {
	switch elemType {
	case TypeDouble:
		v, err := c.float64(pos)
		return v, pos + 8, err
	case TypeString, TypeJavaScript:
		s, next, err := c.bsonString(pos)
		return s, next, err
	case TypeEmbeddedDocument, TypeArray:
		declared, err := c.int32(pos)
		if err != nil {
			return nil, 0, err
		}
		if pos+int(declared) > limit {
			return nil, 0, errors.Wrap(ftdcerr.MalformedBson, "bson: nested document runs past parent")
		}
		doc, size, err := c.parseDocumentAt(pos)
		if err != nil {
			return nil, 0, err
		}
		return doc, pos + size, nil
	case TypeBinary:
		n, err := c.int32(pos)
		if err != nil {
			return nil, 0, err
		}
		if n < 0 {
			return nil, 0, errors.Wrap(ftdcerr.MalformedBson, "bson: negative binary length")
		}
		subtype, err := c.u8(pos + 4)
		if err != nil {
			return nil, 0, err
		}
		start := pos + 5
		if err := c.require(start, int(n)); err != nil {
			return nil, 0, err
		}
		data := make([]byte, n)
		copy(data, c.buf[start:start+int(n)])
		return Binary{Subtype: subtype, Data: data}, start + int(n), nil
	case TypeObjectID:
		if err := c.require(pos, 12); err != nil {
			return nil, 0, err
		}
		var oid ObjectID
		copy(oid[:], c.buf[pos:pos+12])
		return oid, pos + 12, nil
	case TypeBoolean:
		b, err := c.u8(pos)
		if err != nil {
			return nil, 0, err
		}
		return b != 0, pos + 1, nil
	case TypeDateTime:
		v, err := c.int64(pos)
		return v, pos + 8, err
	case TypeNull, TypeMinKey, TypeMaxKey:
		return nil, pos, nil
	case TypeRegex:
		pattern, next, err := c.cstring(pos)
		if err != nil {
			return nil, 0, err
		}
		options, next2, err := c.cstring(next)
		if err != nil {
			return nil, 0, err
		}
		return Regex{Pattern: pattern, Options: options}, next2, nil
	case TypeInt32:
		v, err := c.int32(pos)
		return v, pos + 4, err
	case TypeTimestamp:
		inc, err := c.uint32(pos)
		if err != nil {
			return nil, 0, err
		}
		sec, err := c.uint32(pos + 4)
		if err != nil {
			return nil, 0, err
		}
		return Timestamp{Increment: inc, Seconds: sec}, pos + 8, nil
	case TypeInt64:
		v, err := c.int64(pos)
		return v, pos + 8, err
	case TypeDecimal128:
		if err := c.require(pos, 16); err != nil {
			return nil, 0, err
		}
		var d Decimal128
		copy(d[:], c.buf[pos:pos+16])
		return d, pos + 16, nil
	default:
		return nil, 0, errors.Wrapf(ftdcerr.MalformedBson, "bson: unrecognized element type 0x%02x", elemType)
	}
}
