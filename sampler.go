package diffusevol

import (
	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/diffusevol/atlas"
)

// GuardBandWeight returns the blend weight of a volume at texture space
// position local. It is 1 deep inside the volume and falls to 0 near the
// boundary. factor scales the band width and sharpen the transition slope.
func GuardBandWeight(local ms3.Vec, factor, sharpen float32) float32 {
	d := maxElem(ms3.AbsElem(ms3.Sub(local, ms3.Vec{X: 0.5, Y: 0.5, Z: 0.5})))
	return clampf((0.5-factor*d)*sharpen, 0, 1)
}

// maxElem returns the largest component of v.
func maxElem(v ms3.Vec) float32 {
	return math32.Max(math32.Max(v.X, v.Y), v.Z)
}

// SampleVolume returns the weighted contribution of volume v at world point
// pos for a surface with unit normal. field is the volume's atlas and is not
// sampled when the guard band weight is zero.
func SampleVolume(field atlas.Field, v *Volume, pos, normal ms3.Vec) Contribution {
	local, w := v.Weight(pos)
	if w <= 0 {
		return Contribution{}
	}
	return sampleTriplanar(field, v, local, normal, w)
}

// sampleTriplanar reconstructs directional irradiance from the three slabs
// of the atlas weighted by the squared normal components.
func sampleTriplanar(field atlas.Field, v *Volume, local, normal ms3.Vec, w float32) Contribution {
	base := clampf(local.X, v.LoTexCoordX, v.HiTexCoordX) / 6
	n2 := ms3.MulElem(normal, normal)

	var rgb ms3.Vec
	if n2.X > 0 {
		s := field.Sample(ms3.Vec{X: base + 0*atlas.SlabWidth + halfOffset(normal.X), Y: local.Y, Z: local.Z})
		rgb = ms3.Add(rgb, ms3.Scale(n2.X, s))
	}
	if n2.Y > 0 {
		s := field.Sample(ms3.Vec{X: base + 1*atlas.SlabWidth + halfOffset(normal.Y), Y: local.Y, Z: local.Z})
		rgb = ms3.Add(rgb, ms3.Scale(n2.Y, s))
	}
	if n2.Z > 0 {
		s := field.Sample(ms3.Vec{X: base + 2*atlas.SlabWidth + halfOffset(normal.Z), Y: local.Y, Z: local.Z})
		rgb = ms3.Add(rgb, ms3.Scale(n2.Z, s))
	}
	return Contribution{RGB: ms3.Scale(w, rgb), W: w}
}

// halfOffset selects the negative half of a slab.
func halfOffset(n float32) float32 {
	if n < 0 {
		return atlas.HalfSlabWidth
	}
	return 0
}

func clampf(v, Min, Max float32) float32 {
	return math32.Min(math32.Max(v, Min), Max)
}
