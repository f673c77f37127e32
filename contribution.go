package diffusevol

import (
	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/x448/float16"
)

// Contribution is a weighted irradiance sample: RGB is premultiplied by W.
type Contribution struct {
	RGB ms3.Vec
	W   float32
}

// Add returns the sum of two contributions.
func (c Contribution) Add(b Contribution) Contribution {
	return Contribution{RGB: ms3.Add(c.RGB, b.RGB), W: c.W + b.W}
}

// Resolve returns the weight normalized irradiance. The weight is floored
// at a small epsilon so an empty accumulation resolves to black.
func (c Contribution) Resolve() ms3.Vec {
	return ms3.Scale(1/math32.Max(c.W, weightEpsilon), c.RGB)
}

// DecodeFallback unpacks a fallback contribution. Each word holds two half
// precision floats with the first component in the low 16 bits:
// packed[0] holds R and G, packed[1] holds B and the weight.
func DecodeFallback(packed [2]uint32) Contribution {
	r, g := unpackHalf2x16(packed[0])
	b, w := unpackHalf2x16(packed[1])
	return Contribution{RGB: ms3.Vec{X: r, Y: g, Z: b}, W: w}
}

// PackFallback encodes rgb and weight w for Parameters.FallbackFP16.
// Like a Contribution's, rgb must already be premultiplied by w.
// Values are rounded to half precision.
func PackFallback(rgb ms3.Vec, w float32) [2]uint32 {
	return [2]uint32{packHalf2x16(rgb.X, rgb.Y), packHalf2x16(rgb.Z, w)}
}

func unpackHalf2x16(v uint32) (lo, hi float32) {
	return float16.Frombits(uint16(v)).Float32(), float16.Frombits(uint16(v >> 16)).Float32()
}

func packHalf2x16(lo, hi float32) uint32 {
	return uint32(float16.Fromfloat32(lo).Bits()) | uint32(float16.Fromfloat32(hi).Bits())<<16
}
