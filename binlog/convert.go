package binlog

import (
	"fmt"
	"strconv"
	"strings"
)

// The conversions below are pure functions over a byte range
// [offset, offset+length). They hold no state and are safe to call from
// any number of decode goroutines. Calling them with an invalid length or a
// range outside the buffer is a programming error and panics; the record
// reader checks bounds before it calls them.

const digitChunkBytes = 4

// UnsignedInt accumulates length bytes in big-endian order. length must be in [1,4].
func UnsignedInt(buf []byte, offset, length int) uint32 {
	if length < 1 || length > 4 {
		panic(fmt.Sprintf("binlog: unsigned int length %d out of range [1,4]", length))
	}
	checkRange(buf, offset, length)

	var v uint32
	for i := 0; i < length; i++ {
		v = v<<8 | uint32(buf[offset+i])
	}
	return v
}

// DigitString renders a fixed-point digit encoding: the range is consumed in
// 4-byte big-endian chunks, each rendered zero-padded to 9 decimal digits,
// with a trailing partial chunk rendered as a plain decimal integer.
func DigitString(buf []byte, offset, length int) string {
	checkRange(buf, offset, length)

	var sb strings.Builder
	end := offset + length
	for off := offset; off < end; off += digitChunkBytes {
		n := end - off
		if n >= digitChunkBytes {
			fmt.Fprintf(&sb, "%09d", UnsignedInt(buf, off, digitChunkBytes))
			continue
		}
		sb.WriteString(strconv.FormatUint(uint64(UnsignedInt(buf, off, n)), 10))
	}
	return sb.String()
}

// SignedShort reads a 2-byte big-endian two's-complement integer.
func SignedShort(buf []byte, offset int) int16 {
	checkRange(buf, offset, 2)
	return int16(uint16(buf[offset])<<8 | uint16(buf[offset+1]))
}

// Signed2 is SignedShort widened to int32, sign-extended.
func Signed2(buf []byte, offset int) int32 {
	return int32(SignedShort(buf, offset))
}

// Signed3 reads a 3-byte big-endian integer, sign-extended from the top bit
// of the first byte.
func Signed3(buf []byte, offset int) int32 {
	checkRange(buf, offset, 3)
	v := int32(buf[offset])<<16 | int32(buf[offset+1])<<8 | int32(buf[offset+2])
	if buf[offset]&0x80 != 0 {
		v |= -1 << 24
	}
	return v
}

func checkRange(buf []byte, offset, length int) {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		panic(fmt.Sprintf("binlog: range [%d,%d) outside buffer of %d bytes", offset, offset+length, len(buf)))
	}
}
