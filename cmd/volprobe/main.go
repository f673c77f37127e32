// Command volprobe renders a horizontal slice of irradiance through a grid
// of diffuse volumes, compares the per point and lane batched evaluation
// strategies and plots the guard band weight profile.
package main

import (
	"flag"
	"log"
	"os"
	"time"

	"github.com/soypat/diffusevol"
	"github.com/soypat/diffusevol/atlas"
	"github.com/soypat/glgl/math/ms3"
)

func main() {
	var (
		nx       = flag.Int("nx", 6, "volumes along x")
		nz       = flag.Int("nz", 4, "volumes along z")
		res      = flag.Int("res", 8, "atlas half slab resolution")
		half     = flag.Bool("half", true, "store atlases in half precision")
		factor   = flag.Float64("factor", 1, "guard band factor")
		sharpen  = flag.Float64("sharpen", 5, "guard band sharpen")
		lanes    = flag.Int("lanes", 32, "lane group size")
		workers  = flag.Int("workers", 4, "concurrent lane group workers")
		width    = flag.Int("w", 512, "output image width")
		super    = flag.Int("ss", 2, "supersampling factor")
		height   = flag.Float64("y", 0.5, "slice height")
		seed     = flag.Int64("seed", 1, "scene random seed")
		output   = flag.String("o", "irradiance.png", "output image")
		plotfile = flag.String("plot", "guardband.png", "guard band plot output, empty to skip")
	)
	flag.Parse()
	format := atlas.RGB32F
	if *half {
		format = atlas.RGB16F
	}
	band := diffusevol.DefaultGuardBand()
	band.Factor = float32(*factor)
	band.Sharpen = float32(*sharpen)
	s, err := newScene(sceneConfig{
		nx:     *nx,
		nz:     *nz,
		res:    [3]int{*res, *res, *res},
		format: format,
		band:   band,
		seed:   *seed,
	})
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("scene: %d volumes, %s atlases, bounds %v..%v", s.params.NumVolumes(), format, s.lo, s.hi)

	size := ms3.Sub(s.hi, s.lo)
	w := *width * *super
	h := max(1, int(float32(w)*size.Z/size.X))
	sl := s.slice(w, h, float32(*height), ms3.Vec{Y: 1})

	start := time.Now()
	naive, naiveLookups, err := s.evaluate(sl, diffusevol.Config{LaneCount: 1, Workers: *workers})
	if err != nil {
		log.Fatal(err)
	}
	naiveElapsed := time.Since(start)

	start = time.Now()
	wave, waveLookups, err := s.evaluate(sl, diffusevol.Config{WaveUniform: true, LaneCount: *lanes, Workers: *workers})
	if err != nil {
		log.Fatal(err)
	}
	waveElapsed := time.Since(start)

	log.Printf("per point: %d points in %s, %d atlas lookups", len(sl.pos), naiveElapsed, naiveLookups)
	log.Printf("lane batched (%d lanes): %d points in %s, %d atlas lookups", *lanes, len(sl.pos), waveElapsed, waveLookups)
	log.Printf("max difference between strategies: %g", maxDiff(naive, wave))

	fp, err := os.Create(*output)
	if err != nil {
		log.Fatal(err)
	}
	defer fp.Close()
	err = writePNG(fp, toImage(sl, wave), *width)
	if err != nil {
		log.Fatal(err)
	}
	log.Println("wrote", *output)

	if *plotfile == "" {
		return
	}
	soft := band
	soft.Sharpen = 1
	wide := band
	wide.Factor = 0.75
	err = plotGuardBand(*plotfile, map[string]diffusevol.GuardBand{
		"configured":  band,
		"sharpen 1":   soft,
		"factor 0.75": wide,
	})
	if err != nil {
		log.Fatal(err)
	}
	log.Println("wrote", *plotfile)
}
