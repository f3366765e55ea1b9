// Copyright 2026 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package encoding implements the order-preserving encodings used for the
// keys and values of the meta table. Every Encode function appends to the
// supplied buffer and returns it; every Decode function returns the remainder
// of its input along with the decoded value.
package encoding

import (
	"bytes"
	"math"

	"github.com/cockroachdb/errors"
)

const (
	bytesMarker byte = 0x12

	// IntMin is chosen such that the range of int tags does not overlap the
	// ascii character set that is frequently used in testing.
	IntMin      = 0x80
	intMaxWidth = 8
	intZero     = IntMin + intMaxWidth
	intSmall    = IntMax - intZero - intMaxWidth // 109
	// IntMax is the maximum int tag value.
	IntMax = 0xfd
)

// EncodeUint64Ascending encodes v using a big-endian 8 byte representation.
func EncodeUint64Ascending(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// DecodeUint64Ascending decodes a value encoded by EncodeUint64Ascending.
func DecodeUint64Ascending(b []byte) ([]byte, uint64, error) {
	if len(b) < 8 {
		return nil, 0, errors.Errorf("insufficient bytes to decode uint64 int value")
	}
	var v uint64
	for _, t := range b[:8] {
		v = (v << 8) | uint64(t)
	}
	return b[8:], v, nil
}

// EncodeUvarintAscending encodes v using a variable length (length-prefixed)
// representation. Values up to 109 are encoded in the tag byte itself;
// larger values use a tag byte holding the number of big-endian bytes that
// follow.
func EncodeUvarintAscending(b []byte, v uint64) []byte {
	if v <= intSmall {
		return append(b, intZero+byte(v))
	}
	n := 0
	for x := v; x > 0; x >>= 8 {
		n++
	}
	b = append(b, byte(IntMax-intMaxWidth+n))
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

// DecodeUvarintAscending decodes a value encoded by EncodeUvarintAscending.
func DecodeUvarintAscending(b []byte) ([]byte, uint64, error) {
	if len(b) == 0 {
		return nil, 0, errors.Errorf("insufficient bytes to decode uvarint value")
	}
	length := int(b[0]) - intZero
	b = b[1:] // skip length byte
	if length >= 0 && length <= intSmall {
		return b, uint64(length), nil
	}
	length -= intSmall
	if length <= 0 || length > intMaxWidth {
		return nil, 0, errors.Errorf("invalid uvarint length of %d", length)
	} else if len(b) < length {
		return nil, 0, errors.Errorf("insufficient bytes to decode uvarint value: %x", b)
	}
	var v uint64
	for _, t := range b[:length] {
		v = (v << 8) | uint64(t)
	}
	return b[length:], v, nil
}

// EncodeVarintAscending encodes v so that the encodings of negative values
// sort before those of non-negative ones. Negative values use a tag of
// IntMin+8-n followed by n bytes; non-negative values are encoded as by
// EncodeUvarintAscending.
func EncodeVarintAscending(b []byte, v int64) []byte {
	if v >= 0 {
		return EncodeUvarintAscending(b, uint64(v))
	}
	n := 0
	for x := ^v; x > 0; x >>= 8 {
		n++
	}
	if n == 0 {
		n = 1
	}
	b = append(b, byte(intZero-n))
	for i := n - 1; i >= 0; i-- {
		b = append(b, byte(v>>(8*uint(i))))
	}
	return b
}

// DecodeVarintAscending decodes a value encoded by EncodeVarintAscending.
func DecodeVarintAscending(b []byte) ([]byte, int64, error) {
	if len(b) == 0 {
		return nil, 0, errors.Errorf("insufficient bytes to decode varint value")
	}
	length := int(b[0]) - intZero
	if length < 0 {
		length = -length
		remB := b[1:]
		if length > intMaxWidth {
			return nil, 0, errors.Errorf("invalid varint length of %d", length)
		} else if len(remB) < length {
			return nil, 0, errors.Errorf("insufficient bytes to decode varint value: %x", remB)
		}
		// Build up the ones-complement of the value as a positive number,
		// then complement it again.
		var v int64
		for _, t := range remB[:length] {
			v = (v << 8) | int64(^t)
		}
		return remB[length:], ^v, nil
	}

	remB, v, err := DecodeUvarintAscending(b)
	if err != nil {
		return remB, 0, err
	}
	if v > math.MaxInt64 {
		return nil, 0, errors.Errorf("varint %d overflows int64", v)
	}
	return remB, int64(v), nil
}

const (
	// <term>     -> \x00\x01
	// \x00       -> \x00\xff
	escape      byte = 0x00
	escapedTerm byte = 0x01
	escaped00   byte = 0xff
)

// EncodeBytesAscending encodes data using an escape-based encoding. The
// encoded value is terminated with the sequence "\x00\x01" which is
// guaranteed to not occur elsewhere in the encoded value, so that the
// encoding of a prefix sorts before the encoding of any of its extensions.
func EncodeBytesAscending(b []byte, data []byte) []byte {
	b = append(b, bytesMarker)
	for {
		i := bytes.IndexByte(data, escape)
		if i == -1 {
			break
		}
		b = append(b, data[:i]...)
		b = append(b, escape, escaped00)
		data = data[i+1:]
	}
	b = append(b, data...)
	return append(b, escape, escapedTerm)
}

// DecodeBytesAscending decodes a value encoded by EncodeBytesAscending. The
// decoded bytes are appended to r. If r is nil the returned slice may alias
// b.
func DecodeBytesAscending(b []byte, r []byte) ([]byte, []byte, error) {
	if len(b) == 0 || b[0] != bytesMarker {
		return nil, nil, errors.Errorf("did not find marker %#x in buffer %#x", bytesMarker, b)
	}
	b = b[1:]

	for {
		i := bytes.IndexByte(b, escape)
		if i == -1 {
			return nil, nil, errors.Errorf("did not find terminator %#x in buffer %#x", escape, b)
		}
		if i+1 >= len(b) {
			return nil, nil, errors.Errorf("malformed escape in buffer %#x", b)
		}

		switch v := b[i+1]; v {
		case escapedTerm:
			if r == nil {
				r = b[:i]
			} else {
				r = append(r, b[:i]...)
			}
			return b[i+2:], r, nil
		case escaped00:
			r = append(r, b[:i]...)
			r = append(r, 0)
		default:
			return nil, nil, errors.Errorf("unknown escape sequence: %#x %#x", escape, v)
		}
		b = b[i+2:]
	}
}

// EncodeStringAscending encodes s as by EncodeBytesAscending.
func EncodeStringAscending(b []byte, s string) []byte {
	return EncodeBytesAscending(b, []byte(s))
}

// DecodeStringAscending decodes a value encoded by EncodeStringAscending.
func DecodeStringAscending(b []byte) ([]byte, string, error) {
	b, r, err := DecodeBytesAscending(b, nil)
	return b, string(r), err
}
