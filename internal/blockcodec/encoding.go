package blockcodec

import (
	"encoding/binary"
	"errors"
)

// MaxVarint64Length is the maximum number of bytes a varint64 can occupy.
const MaxVarint64Length = 10

// ErrVarintTermination is returned when a varint does not terminate within
// the supplied buffer.
var ErrVarintTermination = errors.New("blockcodec: varint not terminated")

// ErrVarintOverflow is returned when a varint exceeds 64 bits.
var ErrVarintOverflow = errors.New("blockcodec: varint overflow")

// AppendFixed32 appends a little-endian uint32 to dst.
func AppendFixed32(dst []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(dst, v)
}

// DecodeFixed32 decodes a little-endian uint32. REQUIRES len(src) >= 4.
func DecodeFixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// AppendFixed64 appends a little-endian uint64 to dst.
func AppendFixed64(dst []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(dst, v)
}

// DecodeFixed64 decodes a little-endian uint64. REQUIRES len(src) >= 8.
func DecodeFixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// BigEndianUint32 decodes a big-endian uint32, used for the journal header's
// page-size field (the engine writes this field big-endian).
func BigEndianUint32(src []byte) uint32 {
	return binary.BigEndian.Uint32(src)
}

// AppendBigEndian32 appends a big-endian uint32 to dst, matching the
// journal format's multi-byte field layout (header fields and per-entry
// page indices are all big-endian).
func AppendBigEndian32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

// i64ToZigzag converts a signed int64 to zigzag-encoded uint64.
func i64ToZigzag(v int64) uint64 {
	return (uint64(v) << 1) ^ uint64(v>>63)
}

// zigzagToI64 converts a zigzag-encoded uint64 back to int64.
func zigzagToI64(n uint64) int64 {
	return int64(n>>1) ^ -int64(n&1)
}

// AppendVarint64 appends a uint64 as a varint to dst.
func AppendVarint64(dst []byte, value uint64) []byte {
	var buf [MaxVarint64Length]byte
	i := 0
	for value >= 128 {
		buf[i] = byte(value&0x7f) | 0x80
		value >>= 7
		i++
	}
	buf[i] = byte(value)
	return append(dst, buf[:i+1]...)
}

// DecodeVarint64 decodes a varint64 from src, returning the value and the
// number of bytes consumed.
func DecodeVarint64(src []byte) (value uint64, n int, err error) {
	for shift := uint(0); shift < 64; shift += 7 {
		if n >= len(src) {
			return 0, 0, ErrVarintTermination
		}
		b := src[n]
		n++
		if b < 128 {
			value |= uint64(b) << shift
			return value, n, nil
		}
		value |= uint64(b&0x7f) << shift
	}
	return 0, 0, ErrVarintOverflow
}

// AppendVarsignedint64 appends a signed int64 using zigzag + varint encoding.
func AppendVarsignedint64(dst []byte, v int64) []byte {
	return AppendVarint64(dst, i64ToZigzag(v))
}

// DecodeVarsignedint64 decodes a zigzag + varint encoded signed int64.
func DecodeVarsignedint64(src []byte) (int64, int, error) {
	u, n, err := DecodeVarint64(src)
	if err != nil {
		return 0, 0, err
	}
	return zigzagToI64(u), n, nil
}
