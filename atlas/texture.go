package atlas

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/x448/float16"
)

// Format is the storage precision of a Texture.
type Format uint8

const (
	// RGB32F stores texels at full float32 precision.
	RGB32F Format = iota
	// RGB16F stores texels at IEEE half precision, as mediump GPU textures do.
	RGB16F
)

func (f Format) String() string {
	switch f {
	case RGB32F:
		return "RGB32F"
	case RGB16F:
		return "RGB16F"
	}
	return fmt.Sprintf("Format(%d)", uint8(f))
}

var errTextureSize = errors.New("texture dimensions must be positive")

// Texture is a 3D RGB field sampled with a linear clamp sampler.
// Texel (i,j,k) is centered at ((i+0.5)/w, (j+0.5)/h, (k+0.5)/d).
type Texture struct {
	w, h, d int
	format  Format
	texels  []ms3.Vec
}

var _ Field = (*Texture)(nil)

// NewTexture allocates a zeroed w×h×d texture.
func NewTexture(w, h, d int, format Format) (*Texture, error) {
	if w <= 0 || h <= 0 || d <= 0 {
		return nil, errTextureSize
	} else if format != RGB32F && format != RGB16F {
		return nil, fmt.Errorf("unsupported texture format %s", format)
	}
	return &Texture{
		w:      w,
		h:      h,
		d:      d,
		format: format,
		texels: make([]ms3.Vec, w*h*d),
	}, nil
}

// Size returns the texture dimensions in texels.
func (t *Texture) Size() (w, h, d int) { return t.w, t.h, t.d }

// Format returns the storage format of the texture.
func (t *Texture) Format() Format { return t.format }

func (t *Texture) offset(x, y, z int) int {
	return x + t.w*(y+t.h*z)
}

// Set stores rgb at texel (x,y,z), rounding to the storage precision.
func (t *Texture) Set(x, y, z int, rgb ms3.Vec) {
	if t.format == RGB16F {
		rgb = ms3.Vec{X: toHalf(rgb.X), Y: toHalf(rgb.Y), Z: toHalf(rgb.Z)}
	}
	t.texels[t.offset(x, y, z)] = rgb
}

// At returns the stored texel at (x,y,z).
func (t *Texture) At(x, y, z int) ms3.Vec {
	return t.texels[t.offset(x, y, z)]
}

// Sample implements [Field] with trilinear filtering and clamp-to-edge addressing.
func (t *Texture) Sample(uvw ms3.Vec) ms3.Vec {
	x0, x1, fx := texelPair(uvw.X, t.w)
	y0, y1, fy := texelPair(uvw.Y, t.h)
	z0, z1, fz := texelPair(uvw.Z, t.d)

	c00 := lerp(t.At(x0, y0, z0), t.At(x1, y0, z0), fx)
	c10 := lerp(t.At(x0, y1, z0), t.At(x1, y1, z0), fx)
	c01 := lerp(t.At(x0, y0, z1), t.At(x1, y0, z1), fx)
	c11 := lerp(t.At(x0, y1, z1), t.At(x1, y1, z1), fx)
	return lerp(lerp(c00, c10, fy), lerp(c01, c11, fy), fz)
}

// texelPair returns the two clamped texel indices straddling normalized
// coordinate u along an axis of n texels and the blend factor between them.
func texelPair(u float32, n int) (i0, i1 int, frac float32) {
	f := u*float32(n) - 0.5
	fl := math32.Floor(f)
	frac = f - fl
	i0 = int(fl)
	i1 = clampi(i0+1, 0, n-1)
	i0 = clampi(i0, 0, n-1)
	return i0, i1, frac
}

func lerp(a, b ms3.Vec, t float32) ms3.Vec {
	return ms3.Add(a, ms3.Scale(t, ms3.Sub(b, a)))
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	} else if v > hi {
		return hi
	}
	return v
}

func toHalf(f float32) float32 {
	return float16.Fromfloat32(f).Float32()
}

// DirectionalFunc returns the irradiance arriving at slab position uvw for
// surfaces facing along axis (0,1,2 for x,y,z), negative selecting the -axis half.
// uvw is normalized within the half slab.
type DirectionalFunc func(axis int, negative bool, uvw ms3.Vec) ms3.Vec

// NewDirectional bakes a triplanar packed texture whose half slabs each have
// resolution res texels. The resulting texture is 6*res[0] texels wide.
func NewDirectional(res [3]int, format Format, fn DirectionalFunc) (*Texture, error) {
	if fn == nil {
		return nil, errors.New("nil directional bake function")
	}
	tex, err := NewTexture(6*res[0], res[1], res[2], format)
	if err != nil {
		return nil, err
	}
	for z := 0; z < res[2]; z++ {
		w := (float32(z) + 0.5) / float32(res[2])
		for y := 0; y < res[1]; y++ {
			v := (float32(y) + 0.5) / float32(res[1])
			for x := 0; x < tex.w; x++ {
				slot := x / res[0]
				u := (float32(x%res[0]) + 0.5) / float32(res[0])
				tex.Set(x, y, z, fn(slot/2, slot%2 == 1, ms3.Vec{X: u, Y: v, Z: w}))
			}
		}
	}
	return tex, nil
}
