package main

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"sort"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/soypat/diffusevol"
	"github.com/soypat/diffusevol/atlas"
	"github.com/soypat/glgl/math/ms3"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

type sceneConfig struct {
	// volumes along x and z.
	nx, nz int
	// atlas half slab resolution.
	res    [3]int
	format atlas.Format
	band   diffusevol.GuardBand
	seed   int64
}

type scene struct {
	params *diffusevol.Parameters
	table  *atlas.Counting
	lo, hi ms3.Vec
}

// newScene lays out a grid of overlapping, slightly rotated unit volumes
// lit by a sky gradient and a colored key light per volume.
func newScene(cfg sceneConfig) (*scene, error) {
	if cfg.nx <= 0 || cfg.nz <= 0 {
		return nil, errors.New("scene needs at least one volume along each axis")
	}
	rng := rand.New(rand.NewSource(cfg.seed))
	params := &diffusevol.Parameters{
		BindlessIndexOffset: 1,
		SkyColorLo:          ms3.Vec{X: 0.05, Y: 0.05, Z: 0.08},
		SkyColorHi:          ms3.Vec{X: 0.4, Y: 0.6, Z: 1},
	}
	const fallbackWeight = 0.05
	sky := ms3.Scale(0.5, ms3.Add(params.SkyColorLo, params.SkyColorHi))
	params.FallbackFP16 = diffusevol.PackFallback(ms3.Scale(fallbackWeight, sky), fallbackWeight)
	// Handle 0 is reserved, as a renderer's default texture would be.
	arr := atlas.Array{atlas.FieldFunc(func(ms3.Vec) ms3.Vec { return ms3.Vec{} })}
	const spacing = 0.8
	for iz := 0; iz < cfg.nz; iz++ {
		for ix := 0; ix < cfg.nx; ix++ {
			center := r3.Vec{X: spacing * float64(ix), Y: 0.5, Z: spacing * float64(iz)}
			rot := r3.NewRotation(0.3*(rng.Float64()-0.5), r3.Vec{Y: 1})
			v, err := diffusevol.PlaceVolume(center, r3.Vec{X: 1, Y: 1, Z: 1}, rot, cfg.band)
			if err != nil {
				return nil, err
			}
			key := ms3.Vec{X: rng.Float32(), Y: rng.Float32(), Z: rng.Float32()}
			tex, err := atlas.NewDirectional(cfg.res, cfg.format, skyBake(params.SkyColorLo, params.SkyColorHi, key))
			if err != nil {
				return nil, err
			}
			params.Volumes = append(params.Volumes, v)
			arr = append(arr, tex)
		}
	}
	s := &scene{
		params: params,
		table:  atlas.NewCounting(arr),
		lo:     ms3.Vec{X: math32.Inf(1), Y: math32.Inf(1), Z: math32.Inf(1)},
		hi:     ms3.Vec{X: math32.Inf(-1), Y: math32.Inf(-1), Z: math32.Inf(-1)},
	}
	for i := range params.Volumes {
		b := params.Volumes[i].Bounds()
		s.lo = ms3.MinElem(s.lo, b.Min)
		s.hi = ms3.MaxElem(s.hi, b.Max)
	}
	return s, params.Validate()
}

// skyBake returns irradiance that fades from hi for upward facing surfaces
// to lo for downward facing ones, with key added to sides facing +x.
func skyBake(lo, hi, key ms3.Vec) atlas.DirectionalFunc {
	mid := ms3.Scale(0.5, ms3.Add(lo, hi))
	return func(axis int, negative bool, uvw ms3.Vec) ms3.Vec {
		switch {
		case axis == 1 && !negative:
			return ms3.Scale(0.5+0.5*uvw.Y, hi)
		case axis == 1:
			return lo
		case axis == 0 && !negative:
			return ms3.Add(mid, ms3.Scale(1-uvw.X, key))
		}
		return mid
	}
}

// slice holds the positions and normals of a horizontal grid of shading
// points at height y.
type slice struct {
	w, h       int
	pos, norms []ms3.Vec
}

func (s *scene) slice(w, h int, y float32, normal ms3.Vec) slice {
	sl := slice{w: w, h: h, pos: make([]ms3.Vec, w*h), norms: make([]ms3.Vec, w*h)}
	size := ms3.Sub(s.hi, s.lo)
	for j := 0; j < h; j++ {
		for i := 0; i < w; i++ {
			k := j*w + i
			sl.pos[k] = ms3.Vec{
				X: s.lo.X + size.X*(float32(i)+0.5)/float32(w),
				Y: y,
				Z: s.lo.Z + size.Z*(float32(j)+0.5)/float32(h),
			}
			sl.norms[k] = normal
		}
	}
	return sl
}

// evaluate computes the irradiance at every point of sl and returns it with
// the number of atlas lookups it took.
func (s *scene) evaluate(sl slice, cfg diffusevol.Config) ([]ms3.Vec, int64, error) {
	e, err := diffusevol.NewEvaluator(s.params, s.table, cfg)
	if err != nil {
		return nil, 0, err
	}
	s.table.Reset()
	dst := make([]ms3.Vec, len(sl.pos))
	err = e.Evaluate(sl.pos, sl.norms, dst, nil)
	return dst, s.table.Lookups(), err
}

// maxDiff returns the largest absolute component difference between a and b.
func maxDiff(a, b []ms3.Vec) float32 {
	var d float32
	for i := range a {
		diff := ms3.AbsElem(ms3.Sub(a[i], b[i]))
		d = math32.Max(d, math32.Max(math32.Max(diff.X, diff.Y), diff.Z))
	}
	return d
}

// toImage tonemaps irradiance values into an 8 bit image.
func toImage(sl slice, irr []ms3.Vec) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, sl.w, sl.h))
	for j := 0; j < sl.h; j++ {
		for i := 0; i < sl.w; i++ {
			c := irr[j*sl.w+i]
			img.SetRGBA(i, j, color.RGBA{R: tonemap(c.X), G: tonemap(c.Y), B: tonemap(c.Z), A: 255})
		}
	}
	return img
}

func tonemap(v float32) uint8 {
	v = v / (1 + v)
	v = math32.Sqrt(math32.Max(v, 0))
	return uint8(math32.Min(255, 255*v+0.5))
}

// writePNG downsamples img to the given width, keeping the aspect ratio.
func writePNG(w io.Writer, img image.Image, width int) error {
	var out image.Image = img
	if width > 0 && width != img.Bounds().Dx() {
		out = resize.Resize(uint(width), 0, img, resize.Lanczos3)
	}
	return png.Encode(w, out)
}

// guardBandProfile returns the weight of a unit volume sampled along the
// line from its center towards +x, with the distance from the center.
func guardBandProfile(band diffusevol.GuardBand, n int) plotter.XYs {
	xys := make(plotter.XYs, n)
	for i := range xys {
		d := float32(i) / float32(n-1)
		local := ms3.Vec{X: 0.5 + d, Y: 0.5, Z: 0.5}
		xys[i].X = float64(d)
		xys[i].Y = float64(diffusevol.GuardBandWeight(local, band.Factor, band.Sharpen))
	}
	return xys
}

// plotGuardBand saves the guard band profile of each band to filename.
// The format is picked from the file extension.
func plotGuardBand(filename string, bands map[string]diffusevol.GuardBand) error {
	p := plot.New()
	p.Title.Text = "Guard band weight"
	p.X.Label.Text = "distance from volume center"
	p.Y.Label.Text = "weight"
	p.Add(plotter.NewGrid())
	names := make([]string, 0, len(bands))
	for name := range bands {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		line, err := plotter.NewLine(guardBandProfile(bands[name], 201))
		if err != nil {
			return err
		}
		line.Color = plotColor(i)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	return p.Save(5*vg.Inch, 3*vg.Inch, filename)
}

func plotColor(i int) color.Color {
	palette := []color.RGBA{
		{R: 0x46, G: 0x89, B: 0x66, A: 255},
		{R: 0xb6, G: 0x40, B: 0x26, A: 255},
		{R: 0x23, G: 0x57, B: 0x8f, A: 255},
		{R: 0xe0, G: 0x9e, B: 0x1f, A: 255},
	}
	return palette[i%len(palette)]
}
