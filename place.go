package diffusevol

import (
	"errors"

	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/diffusevol/internal/d3"
	"gonum.org/v1/gonum/spatial/r3"
)

// GuardBand configures the boundary falloff and streamed x range of a placed volume.
type GuardBand struct {
	Factor, Sharpen          float32
	LoTexCoordX, HiTexCoordX float32
}

// DefaultGuardBand returns a band that fades over the outer tenth of the
// volume and addresses the whole atlas.
func DefaultGuardBand() GuardBand {
	return GuardBand{
		Factor:      1,
		Sharpen:     5,
		LoTexCoordX: 0,
		HiTexCoordX: 1,
	}
}

var errGuardBandFactor = errors.New("guard band factor must be positive")

// PlaceVolume returns a Volume covering the box of dimensions size centered
// at center and rotated by rot. The world bounds enclose every point where
// the volume's guard band weight can be positive.
func PlaceVolume(center, size r3.Vec, rot r3.Rotation, band GuardBand) (Volume, error) {
	if band.Factor <= 0 {
		return Volume{}, errGuardBandFactor
	} else if size.X <= 0 || size.Y <= 0 || size.Z <= 0 {
		return Volume{}, errors.New("volume size must be positive")
	}
	// texture [0,1]³ -> world.
	toWorld := d3.ComposeTransform(center, size, rot).Mul(d3.Translation(r3.Vec{X: -0.5, Y: -0.5, Z: -0.5}))
	toTexture := toWorld.Inv()

	// Weight is positive while max|local-0.5| < 0.5/factor which may
	// extend past the unit cube for factors below 1.
	extent := 0.5 / float64(band.Factor)
	extent = max(extent, 0.5)
	local := d3.Box{
		Min: r3.Vec{X: 0.5 - extent, Y: 0.5 - extent, Z: 0.5 - extent},
		Max: r3.Vec{X: 0.5 + extent, Y: 0.5 + extent, Z: 0.5 + extent},
	}
	bounds := d3.TransformBox(toWorld, local)

	v := Volume{
		WorldLo:          vecFrom64(bounds.Min),
		WorldHi:          vecFrom64(bounds.Max),
		LoTexCoordX:      band.LoTexCoordX,
		HiTexCoordX:      band.HiTexCoordX,
		GuardBandFactor:  band.Factor,
		GuardBandSharpen: band.Sharpen,
	}
	rows := toTexture.Rows()
	for i := range rows {
		for j := range rows[i] {
			v.WorldToTexture[i][j] = float32(rows[i][j])
		}
	}
	return v, nil
}

func vecFrom64(v r3.Vec) ms3.Vec {
	return ms3.Vec{X: float32(v.X), Y: float32(v.Y), Z: float32(v.Z)}
}
