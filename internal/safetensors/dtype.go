package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DTypeSize returns the byte width of a safetensors dtype, or 0 if unknown.
func DTypeSize(dtype string) int {
	switch dtype {
	case "F32":
		return 4
	case "F16", "BF16":
		return 2
	default:
		return 0
	}
}

// DecodeF32 converts n little-endian scalars of dtype to float32.
func DecodeF32(dtype string, raw []byte, n int) ([]float32, error) {
	width := DTypeSize(dtype)
	if width == 0 {
		return nil, fmt.Errorf("unsupported dtype %s", dtype)
	}
	if len(raw) != n*width {
		return nil, fmt.Errorf("%s payload is %d bytes, want %d", dtype, len(raw), n*width)
	}
	out := make([]float32, n)
	switch dtype {
	case "F32":
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
	case "BF16":
		for i := range out {
			out[i] = BF16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	case "F16":
		for i := range out {
			out[i] = F16ToF32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
	}
	return out, nil
}

func BF16ToF32(u uint16) float32 {
	return math.Float32frombits(uint32(u) << 16)
}

// F32ToBF16 truncates with round-to-nearest-even.
func F32ToBF16(f float32) uint16 {
	b := math.Float32bits(f)
	if b&0x7fffffff > 0x7f800000 {
		return uint16(b>>16) | 0x40
	}
	b += 0x7fff + (b>>16)&1
	return uint16(b >> 16)
}

func F16ToF32(h uint16) float32 {
	sign := uint32(h>>15) & 0x1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x3ff)
	var bits uint32
	switch {
	case exp == 0 && frac == 0:
		bits = sign << 31
	case exp == 0:
		e := uint32(127 - 15 + 1)
		for frac&0x400 == 0 {
			frac <<= 1
			e--
		}
		frac &= 0x3ff
		bits = sign<<31 | e<<23 | frac<<13
	case exp == 0x1f:
		bits = sign<<31 | 0x7f800000 | frac<<13
	default:
		bits = sign<<31 | (exp+127-15)<<23 | frac<<13
	}
	return math.Float32frombits(bits)
}
