// Package half converts between IEEE 754 binary32 and binary16.
//
// The render pipeline stores distortion lookup tables as half floats: the
// GPU texture formats that are guaranteed filterable on every supported
// backend are 16-bit, while the tables are produced in float32. Conversion
// is pure bit manipulation; no allocation happens beyond the caller's
// output buffer.
package half

import "math"

const (
	signMask     = 0x8000
	exponentMask = 0x7C00
	mantissaMask = 0x03FF

	// +0x1000 is half of the 13-bit tail that gets shifted away when a
	// 23-bit mantissa becomes a 10-bit one; adding it first rounds to
	// nearest instead of truncating.
	roundBias = 0x1000
)

// FromFloat32 converts a float32 to its binary16 representation.
// Values beyond the half range collapse to infinity at the exponent
// boundary; values below the smallest subnormal collapse to signed zero.
func FromFloat32(f float32) uint16 {
	bits := math.Float32bits(f)
	sign := uint16(bits>>16) & signMask
	exp := int32((bits>>23)&0xFF) - 127 + 15
	mant := bits & 0x007FFFFF

	// Inf and NaN come in with an all-ones float32 exponent.
	if exp == 0xFF-127+15 {
		if mant != 0 {
			return sign | exponentMask | uint16(mant>>13) | 0x0200
		}
		return sign | exponentMask
	}

	if exp >= 31 {
		return sign | exponentMask
	}

	if exp <= 0 {
		if exp < -10 {
			return sign
		}
		// Subnormal half: restore the implicit bit, shift into place with
		// the rounding bias scaled to the shift amount.
		mant |= 0x00800000
		shift := uint32(14 - exp)
		mant += 1 << (shift - 1)
		// A carry out of the mantissa lands on the exponent bit, which is
		// exactly the smallest normal value.
		return sign | uint16(mant>>shift)
	}

	mant += roundBias
	if mant&0x00800000 != 0 {
		// Rounding carried into the exponent.
		mant = 0
		exp++
		if exp >= 31 {
			return sign | exponentMask
		}
	}
	return sign | uint16(exp)<<10 | uint16(mant>>13)
}

// ToFloat32 converts a binary16 value back to float32. The conversion is
// exact for every representable half.
func ToFloat32(h uint16) float32 {
	sign := uint32(h&signMask) << 16
	exp := int32((h >> 10) & 0x1F)
	mant := uint32(h & mantissaMask)

	switch {
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// Normalize the subnormal.
		for mant&0x0400 == 0 {
			mant <<= 1
			exp--
		}
		exp++
		mant &= mantissaMask
		return math.Float32frombits(sign | uint32(exp-15+127)<<23 | mant<<13)

	case exp == 31:
		if mant == 0 {
			return math.Float32frombits(sign | 0x7F800000)
		}
		return math.Float32frombits(sign | 0x7F800000 | mant<<13 | 0x00400000)

	default:
		return math.Float32frombits(sign | uint32(exp-15+127)<<23 | mant<<13)
	}
}

// EncodeSlice converts src element-wise into dst. Both slices must have the
// same length.
func EncodeSlice(dst []uint16, src []float32) {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = FromFloat32(src[i])
	}
}

// DecodeSlice converts src element-wise into dst. Both slices must have the
// same length.
func DecodeSlice(dst []float32, src []uint16) {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = ToFloat32(src[i])
	}
}

// Encode allocates and fills a new half slice from src.
func Encode(src []float32) []uint16 {
	dst := make([]uint16, len(src))
	EncodeSlice(dst, src)
	return dst
}

// Decode allocates and fills a new float32 slice from src.
func Decode(src []uint16) []float32 {
	dst := make([]float32, len(src))
	DecodeSlice(dst, src)
	return dst
}
