// Package diffusevol evaluates indirect diffuse lighting from a set of
// precomputed irradiance volumes.
//
// Each volume maps world space to a unit texture space cube and stores a
// triplanar packed directional atlas (see package atlas). A shading point's
// irradiance is the weight normalized sum of every volume's contribution plus
// an always present fallback value.
package diffusevol

import (
	"errors"
	"fmt"

	"github.com/soypat/glgl/math/ms3"
)

// MaxVolumes is the capacity of the volume parameter block.
const MaxVolumes = 128

// weightEpsilon floors the accumulated weight before normalizing.
const weightEpsilon = 1e-4

var (
	ErrTooManyVolumes = errors.New("volume count exceeds MaxVolumes")
	ErrBadIndexOffset = errors.New("negative bindless index offset")
)

// Volume holds the parameters of a single diffuse volume.
type Volume struct {
	// WorldToTexture holds three affine rows. The texture space position of
	// world point p is (dot(row0,(p,1)), dot(row1,(p,1)), dot(row2,(p,1))).
	WorldToTexture [3][4]float32
	// WorldLo and WorldHi bound the volume in world space. They are only
	// used for coarse culling and must enclose every point where the
	// guard band weight is positive.
	WorldLo, WorldHi ms3.Vec
	// LoTexCoordX and HiTexCoordX clamp the texture space x coordinate before
	// addressing the atlas. Streamed atlases covering a sub-range of the
	// volume use a narrower range.
	LoTexCoordX, HiTexCoordX float32
	// GuardBandFactor controls the width of the boundary falloff and
	// GuardBandSharpen its steepness. A zero sharpen disables the volume.
	GuardBandFactor, GuardBandSharpen float32
}

// Local returns the texture space position of world point p.
func (v *Volume) Local(p ms3.Vec) ms3.Vec {
	return ms3.Vec{
		X: dot4(v.WorldToTexture[0], p),
		Y: dot4(v.WorldToTexture[1], p),
		Z: dot4(v.WorldToTexture[2], p),
	}
}

func dot4(row [4]float32, p ms3.Vec) float32 {
	return row[0]*p.X + row[1]*p.Y + row[2]*p.Z + row[3]
}

// Weight returns the texture space position of world point p and the guard
// band weight of the volume there.
func (v *Volume) Weight(p ms3.Vec) (local ms3.Vec, w float32) {
	local = v.Local(p)
	return local, GuardBandWeight(local, v.GuardBandFactor, v.GuardBandSharpen)
}

// Bounds returns the world space bounding box of the volume.
func (v *Volume) Bounds() ms3.Box {
	return ms3.Box{Min: v.WorldLo, Max: v.WorldHi}
}

// Intersects reports whether the box [lo,hi] overlaps the volume's world
// bounds. Touching boxes do not intersect.
func (v *Volume) Intersects(lo, hi ms3.Vec) bool {
	return hi.X > v.WorldLo.X && hi.Y > v.WorldLo.Y && hi.Z > v.WorldLo.Z &&
		lo.X < v.WorldHi.X && lo.Y < v.WorldHi.Y && lo.Z < v.WorldHi.Z
}

// Parameters is the per frame volume parameter set. It is produced by the
// host and must not be modified while an evaluation reads it.
type Parameters struct {
	// BindlessIndexOffset is the handle of volume 0's atlas in the atlas table.
	BindlessIndexOffset int
	// Volumes in evaluation order. len(Volumes) is the active volume count.
	Volumes []Volume
	// FallbackFP16 packs the fallback RGB and weight as two pairs of half
	// precision floats, see PackFallback.
	FallbackFP16 [2]uint32
	// Sky colors are carried for the lighting composition stage and are not
	// read by the evaluator.
	SkyColorLo, SkyColorHi ms3.Vec
}

// NumVolumes returns the active volume count.
func (p *Parameters) NumVolumes() int { return len(p.Volumes) }

// Validate checks the parameter set is within the evaluator's capacity.
func (p *Parameters) Validate() error {
	if len(p.Volumes) > MaxVolumes {
		return fmt.Errorf("%w: %d > %d", ErrTooManyVolumes, len(p.Volumes), MaxVolumes)
	} else if p.BindlessIndexOffset < 0 {
		return ErrBadIndexOffset
	}
	return nil
}

// TextureIndex returns the atlas table handle of volume i. Previous frame
// atlases are stored after the current frame's, NumVolumes handles later.
func (p *Parameters) TextureIndex(i int, prevFrame bool) int {
	idx := i + p.BindlessIndexOffset
	if prevFrame {
		idx += p.NumVolumes()
	}
	return idx
}

// Fallback returns the decoded fallback contribution.
func (p *Parameters) Fallback() Contribution {
	return DecodeFallback(p.FallbackFP16)
}
