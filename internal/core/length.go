// Package core defines core types with zero external dependencies.
package core

import "strconv"

// Length is a bit-precise length or offset. Most protocols are byte aligned,
// but nothing in the content model assumes so.
type Length int64

// Unspecified asks the callee to choose the length itself.
const Unspecified Length = -1

// Bits returns a Length of n bits.
func Bits(n int64) Length { return Length(n) }

// Bytes returns a Length of n bytes.
func Bytes(n int) Length { return Length(n) * 8 }

// Bits returns the length in bits.
func (l Length) Bits() int64 { return int64(l) }

// Bytes returns the length in whole bytes, truncating a partial byte.
func (l Length) Bytes() int { return int(l / 8) }

// IsByteAligned reports whether the length is a whole number of bytes.
func (l Length) IsByteAligned() bool { return l%8 == 0 }

// IsSpecified reports whether l is a concrete, non-negative length.
func (l Length) IsSpecified() bool { return l >= 0 }

func (l Length) String() string {
	if l < 0 {
		return "unspecified"
	}
	if l.IsByteAligned() {
		return strconv.FormatInt(int64(l/8), 10) + "B"
	}
	return strconv.FormatInt(int64(l), 10) + "b"
}
