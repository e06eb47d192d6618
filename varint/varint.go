// Copyright 2018-present Kuei-chun Chen. All rights reserved.
// varint.go

// Package varint implements the unsigned LEB128 codec used by FTDC's
// delta stream: low 7 bits per byte, high bit set means "more bytes
// follow". Signed values are carried by bit-reinterpreting the
// resulting uint64 as int64, never by zig-zag encoding.
package varint

import (
	"io"

	"github.com/pkg/errors"

	"github.com/simagix/ftdc-decoder/ftdcerr"
)

// maxVarintBytes is the longest encoding of a full 64-bit value: 10
// groups of 7 bits cover 70 bits, more than enough for 64.
const maxVarintBytes = 10

// Reader is the minimal cursor ReadUvarint needs: one byte at a time,
// with io.EOF on exhaustion. *bytes.Reader and *bufio.Reader both
// satisfy it.
type Reader interface {
	ReadByte() (byte, error)
}

// ReadUvarint reads one LEB128-encoded unsigned 64-bit value from r.
// It returns ftdcerr.Truncated if r runs out before a terminating byte
// (high bit clear), and ftdcerr.VarintOverflow if more than 10 bytes
// are consumed.
func ReadUvarint(r Reader) (uint64, error) {
	var result uint64
	var shift uint

	for i := 0; i < maxVarintBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, errors.Wrap(ftdcerr.Truncated, "varint: unexpected end of input")
			}
			return 0, errors.Wrap(err, "varint: read byte")
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, errors.Wrapf(ftdcerr.VarintOverflow, "varint: exceeded %d bytes", maxVarintBytes)
}

// ReadVarint reads an unsigned LEB128 value and reinterprets its bit
// pattern as a signed two's-complement int64. This is the form the
// FTDC delta stream actually carries: deltas of double bit patterns
// routinely exceed math.MaxInt64 as unsigned magnitudes and must wrap.
func ReadVarint(r Reader) (int64, error) {
	u, err := ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return int64(u), nil
}

// WriteUvarint appends the LEB128 encoding of v to buf and returns the
// extended slice. It is provided for tests that need to construct
// delta streams; the decoder itself never writes FTDC data.
func WriteUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}
