package diffusevol

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/diffusevol/atlas"
	"github.com/soypat/diffusevol/wave"
	"gonum.org/v1/gonum/spatial/r3"
)

var laneCounts = []int{1, 2, 4, 8, 16, 32, 64}

// randomScene places nvol randomly rotated, overlapping volumes inside a
// 10x4x10 region and fills each atlas with random texels.
func randomScene(t testing.TB, rng *rand.Rand, nvol int) (*Parameters, atlas.Array) {
	t.Helper()
	params := &Parameters{
		BindlessIndexOffset: 3,
		FallbackFP16:        PackFallback(ms3.Vec{X: 0.01, Y: 0.02, Z: 0.03}, 0.125),
		SkyColorLo:          ms3.Vec{X: 0.1, Y: 0.1, Z: 0.2},
		SkyColorHi:          ms3.Vec{X: 0.3, Y: 0.5, Z: 0.9},
	}
	table := make(atlas.Array, params.BindlessIndexOffset+nvol)
	for i := 0; i < params.BindlessIndexOffset; i++ {
		table[i] = atlas.FieldFunc(func(ms3.Vec) ms3.Vec { panic("sampled handle below bindless offset") })
	}
	for i := 0; i < nvol; i++ {
		center := r3.Vec{X: 10 * rng.Float64(), Y: 4 * rng.Float64(), Z: 10 * rng.Float64()}
		size := r3.Vec{X: 1 + 3*rng.Float64(), Y: 1 + 2*rng.Float64(), Z: 1 + 3*rng.Float64()}
		axis := r3.Unit(r3.Vec{X: rng.Float64() - 0.5, Y: rng.Float64() + 0.1, Z: rng.Float64() - 0.5})
		band := GuardBand{
			Factor:      0.8 + rng.Float32(),
			Sharpen:     1 + 8*rng.Float32(),
			LoTexCoordX: 0.2 * rng.Float32(),
			HiTexCoordX: 1 - 0.2*rng.Float32(),
		}
		v, err := PlaceVolume(center, size, r3.NewRotation(rng.Float64()*6, axis), band)
		if err != nil {
			t.Fatal(err)
		}
		params.Volumes = append(params.Volumes, v)
		tex, err := atlas.NewTexture(6*3, 3, 3, atlas.RGB16F)
		if err != nil {
			t.Fatal(err)
		}
		for z := 0; z < 3; z++ {
			for y := 0; y < 3; y++ {
				for x := 0; x < 6*3; x++ {
					tex.Set(x, y, z, ms3.Vec{X: rng.Float32(), Y: rng.Float32(), Z: rng.Float32()})
				}
			}
		}
		table[params.TextureIndex(i, false)] = tex
	}
	return params, table
}

func randomPoints(rng *rand.Rand, n int) (pos, normals []ms3.Vec) {
	pos = make([]ms3.Vec, n)
	normals = make([]ms3.Vec, n)
	for i := range pos {
		// Coherent walk so lane groups cover small regions like screen tiles do.
		if i%16 == 0 {
			pos[i] = ms3.Vec{X: 12*rng.Float32() - 1, Y: 5*rng.Float32() - 0.5, Z: 12*rng.Float32() - 1}
		} else {
			pos[i] = ms3.Add(pos[i-1], ms3.Vec{X: 0.1 * rng.Float32(), Y: 0.05 * (rng.Float32() - 0.5), Z: 0.1 * rng.Float32()})
		}
		normals[i] = ms3.Unit(ms3.Vec{X: float32(rng.NormFloat64()), Y: float32(rng.NormFloat64()), Z: float32(rng.NormFloat64())})
	}
	// Axis aligned normals exercise single slab sampling.
	normals[0] = ms3.Vec{Y: 1}
	normals[1] = ms3.Vec{X: -1}
	return pos, normals
}

func mustEvaluator(t testing.TB, params *Parameters, table atlas.Table, cfg Config) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(params, table, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func evaluateAll(t testing.TB, e *Evaluator, pos, normals []ms3.Vec) []ms3.Vec {
	t.Helper()
	dst := make([]ms3.Vec, len(pos))
	err := e.Evaluate(pos, normals, dst, nil)
	if err != nil {
		t.Fatal(err)
	}
	return dst
}

func TestWaveMatchesNaive(t *testing.T) {
	const tol = 1e-4
	rng := rand.New(rand.NewSource(1))
	params, table := randomScene(t, rng, 40)
	pos, normals := randomPoints(rng, 517)

	ref := mustEvaluator(t, params, table, Config{LaneCount: 1})
	naive := evaluateAll(t, ref, pos, normals)
	refFallback := params.Fallback()
	var lit int
	for i := range pos {
		c, err := ref.accumulateNaive(refFallback, pos[i], normals[i])
		if err != nil {
			t.Fatal(err)
		}
		if c.W > refFallback.W {
			lit++
		}
	}
	if lit < len(pos)/5 {
		t.Fatalf("scene too sparse for a meaningful comparison: %d/%d points lit", lit, len(pos))
	}
	for _, lanes := range laneCounts {
		cfg := Config{WaveUniform: true, LaneCount: lanes}
		wavey := evaluateAll(t, mustEvaluator(t, params, table, cfg), pos, normals)
		for i := range naive {
			if !vecEqual(naive[i], wavey[i], tol) {
				t.Errorf("lanes=%d pos=%v normal=%v: naive=%v wave=%v", lanes, pos[i], normals[i], naive[i], wavey[i])
			}
		}
	}
}

func TestAccumulateGroupPartialMasks(t *testing.T) {
	const tol = 1e-4
	rng := rand.New(rand.NewSource(2))
	params, table := randomScene(t, rng, 25)
	e := mustEvaluator(t, params, table, Config{WaveUniform: true, LaneCount: 64})
	fallback := params.Fallback()
	for _, lanes := range laneCounts[1:] {
		g, err := wave.NewGroup(lanes)
		if err != nil {
			t.Fatal(err)
		}
		for trial := 0; trial < 20; trial++ {
			pos, normals := randomPoints(rng, lanes)
			mask := wave.Mask(rng.Uint64())
			if trial == 0 {
				mask = wave.FirstN(1) << (lanes - 1) // Only the highest lane.
			}
			g.SetActive(mask)
			acc := make([]Contribution, lanes)
			sentinel := Contribution{W: -1}
			for lane := range acc {
				acc[lane] = sentinel
				if g.Active().Has(lane) {
					acc[lane] = fallback
				}
			}
			err = e.AccumulateGroup(g, pos, normals, acc, nil)
			if err != nil {
				t.Fatal(err)
			}
			for lane := 0; lane < lanes; lane++ {
				if !g.Active().Has(lane) {
					if acc[lane] != sentinel {
						t.Fatalf("lanes=%d: inactive lane %d was written", lanes, lane)
					}
					continue
				}
				want, err := e.accumulateNaive(fallback, pos[lane], normals[lane])
				if err != nil {
					t.Fatal(err)
				}
				if !vecEqual(want.RGB, acc[lane].RGB, tol) || math32.Abs(want.W-acc[lane].W) > tol {
					t.Errorf("lanes=%d mask=%b lane %d: naive=%+v wave=%+v", lanes, g.Active(), lane, want, acc[lane])
				}
			}
		}
	}
	if err := e.VecPool().AssertAllReleased(); err != nil {
		t.Error(err)
	}
}

func TestNaivePermutationInvariant(t *testing.T) {
	const tol = 1e-4
	rng := rand.New(rand.NewSource(3))
	params, table := randomScene(t, rng, 30)
	pos, normals := randomPoints(rng, 200)
	want := evaluateAll(t, mustEvaluator(t, params, table, Config{LaneCount: 1}), pos, normals)

	perm := rng.Perm(params.NumVolumes())
	shuffled := *params
	shuffled.Volumes = make([]Volume, len(params.Volumes))
	shuffledTable := make(atlas.Array, len(table))
	copy(shuffledTable, table)
	for dst, src := range perm {
		shuffled.Volumes[dst] = params.Volumes[src]
		shuffledTable[shuffled.TextureIndex(dst, false)] = table[params.TextureIndex(src, false)]
	}
	got := evaluateAll(t, mustEvaluator(t, &shuffled, shuffledTable, Config{LaneCount: 1}), pos, normals)
	for i := range want {
		if !vecEqual(want[i], got[i], tol) {
			t.Errorf("point %d: ordered=%v permuted=%v", i, want[i], got[i])
		}
	}
}

func TestEvaluateNoVolumes(t *testing.T) {
	rgb := ms3.Vec{X: 0.25, Y: 0.5, Z: 2}
	params := &Parameters{FallbackFP16: PackFallback(rgb, 1)}
	pos, normals := randomPoints(rand.New(rand.NewSource(4)), 70)
	for _, cfg := range []Config{{LaneCount: 1}, {WaveUniform: true, LaneCount: 32}} {
		got := evaluateAll(t, mustEvaluator(t, params, atlas.Array{}, cfg), pos, normals)
		for i := range got {
			if got[i] != rgb {
				t.Fatalf("cfg %+v point %d: want fallback %v, got %v", cfg, i, rgb, got[i])
			}
		}
	}
	// Zero fallback weight resolves to black through the epsilon guard.
	params.FallbackFP16 = [2]uint32{}
	e := mustEvaluator(t, params, atlas.Array{}, DefaultConfig())
	c, err := e.Irradiance(ms3.Vec{}, ms3.Vec{Y: 1})
	if err != nil {
		t.Fatal(err)
	}
	if c != (ms3.Vec{}) {
		t.Errorf("want black, got %v", c)
	}
}

func TestEvaluateFallbackUpdate(t *testing.T) {
	params := &Parameters{FallbackFP16: PackFallback(ms3.Vec{X: 1, Y: 1, Z: 1}, 1)}
	pos, normals := randomPoints(rand.New(rand.NewSource(8)), 40)
	for _, cfg := range []Config{{LaneCount: 1}, {WaveUniform: true, LaneCount: 8, Workers: 2}} {
		e := mustEvaluator(t, params, atlas.Array{}, cfg)
		for _, frame := range []float32{1, 2, 0.5} {
			want := ms3.Vec{X: frame, Y: frame, Z: frame}
			params.FallbackFP16 = PackFallback(want, 1)
			got, err := e.Irradiance(ms3.Vec{}, ms3.Vec{Y: 1})
			if err != nil {
				t.Fatal(err)
			}
			if got != want {
				t.Errorf("cfg %+v: Irradiance want %v, got %v", cfg, want, got)
			}
			for i, c := range evaluateAll(t, e, pos, normals) {
				if c != want {
					t.Fatalf("cfg %+v point %d: want %v, got %v", cfg, i, want, c)
				}
			}
		}
	}
}

func TestPrevFrameTextures(t *testing.T) {
	current := ms3.Vec{X: 1}
	previous := ms3.Vec{Z: 1}
	params := &Parameters{BindlessIndexOffset: 2}
	var table atlas.Array
	table = append(table, nil, nil)
	const nvol = 3
	for i := 0; i < nvol; i++ {
		v := unitVolume(1, 10)
		params.Volumes = append(params.Volumes, v)
	}
	for i := 0; i < 2*nvol; i++ {
		c := current
		if i >= nvol {
			c = previous
		}
		table = append(table, atlas.FieldFunc(func(ms3.Vec) ms3.Vec { return c }))
	}
	if d := params.TextureIndex(0, true) - params.TextureIndex(0, false); d != nvol {
		t.Errorf("previous frame handle offset: want %d, got %d", nvol, d)
	}
	if params.TextureIndex(0, false) != params.BindlessIndexOffset {
		t.Error("volume 0 should resolve to the bindless offset")
	}
	for _, prev := range []bool{false, true} {
		want := current
		if prev {
			want = previous
		}
		for _, waveUniform := range []bool{false, true} {
			cfg := Config{WaveUniform: waveUniform, PrevFrameTextures: prev, LaneCount: 4}
			e := mustEvaluator(t, params, table, cfg)
			got := evaluateAll(t, e, []ms3.Vec{{}, {X: 0.1}}, []ms3.Vec{{Y: 1}, {X: -1}})
			for i := range got {
				if !vecEqual(got[i], want, 1e-6) {
					t.Errorf("prev=%v wave=%v: want %v, got %v", prev, waveUniform, want, got[i])
				}
			}
		}
	}
	// Table lacking the previous frame half.
	_, err := NewEvaluator(params, table[:2+nvol], Config{PrevFrameTextures: true, LaneCount: 1})
	if !errors.Is(err, atlas.ErrHandleOutOfRange) {
		t.Errorf("want ErrHandleOutOfRange, got %v", err)
	}
}

func TestWaveUniformLookups(t *testing.T) {
	// Every point lies inside every volume so each lane of the naive path
	// resolves every handle while a group resolves each handle once.
	const nvol, npoints, lanes = 8, 256, 32
	params := &Parameters{FallbackFP16: PackFallback(ms3.Vec{}, 0)}
	var arr atlas.Array
	for i := 0; i < nvol; i++ {
		v, err := PlaceVolume(r3.Vec{}, r3.Vec{X: 4, Y: 4, Z: 4}, r3.Rotation{}, DefaultGuardBand())
		if err != nil {
			t.Fatal(err)
		}
		params.Volumes = append(params.Volumes, v)
		arr = append(arr, atlas.FieldFunc(func(uvw ms3.Vec) ms3.Vec { return uvw }))
	}
	rng := rand.New(rand.NewSource(5))
	pos := make([]ms3.Vec, npoints)
	normals := make([]ms3.Vec, npoints)
	for i := range pos {
		pos[i] = ms3.Vec{X: rng.Float32() - 0.5, Y: rng.Float32() - 0.5, Z: rng.Float32() - 0.5}
		normals[i] = ms3.Vec{Y: 1}
	}
	table := atlas.NewCounting(arr)
	naive := evaluateAll(t, mustEvaluator(t, params, table, Config{LaneCount: 1}), pos, normals)
	if got := table.Lookups(); got != nvol*npoints {
		t.Errorf("naive lookups: want %d, got %d", nvol*npoints, got)
	}
	table.Reset()
	wavey := evaluateAll(t, mustEvaluator(t, params, table, Config{WaveUniform: true, LaneCount: lanes}), pos, normals)
	if got := table.Lookups(); got != nvol*npoints/lanes {
		t.Errorf("wave lookups: want %d, got %d", nvol*npoints/lanes, got)
	}
	for i := range naive {
		if !vecEqual(naive[i], wavey[i], 1e-5) {
			t.Fatalf("point %d: naive=%v wave=%v", i, naive[i], wavey[i])
		}
	}
}

func TestEvaluateConcurrent(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	params, table := randomScene(t, rng, 20)
	pos, normals := randomPoints(rng, 3000)
	for _, waveUniform := range []bool{false, true} {
		cfg := Config{WaveUniform: waveUniform, LaneCount: 16, Workers: 1}
		want := evaluateAll(t, mustEvaluator(t, params, table, cfg), pos, normals)
		cfg.Workers = 4
		got := evaluateAll(t, mustEvaluator(t, params, table, cfg), pos, normals)
		for i := range want {
			// Same groups in the same order, results must be identical.
			if want[i] != got[i] {
				t.Fatalf("wave=%v point %d: sequential=%v concurrent=%v", waveUniform, i, want[i], got[i])
			}
		}
	}
}

func TestNewEvaluatorErrors(t *testing.T) {
	params := &Parameters{Volumes: make([]Volume, MaxVolumes+1)}
	table := make(atlas.Array, MaxVolumes+1)
	_, err := NewEvaluator(params, table, DefaultConfig())
	if !errors.Is(err, ErrTooManyVolumes) {
		t.Errorf("want ErrTooManyVolumes, got %v", err)
	}
	params.Volumes = params.Volumes[:MaxVolumes]
	_, err = NewEvaluator(params, table, DefaultConfig())
	if err != nil {
		t.Errorf("capacity volume count should be accepted: %v", err)
	}
	for _, cfg := range []Config{{LaneCount: 0}, {LaneCount: 65}, {LaneCount: 8, Workers: -1}} {
		_, err = NewEvaluator(params, table, cfg)
		if err == nil {
			t.Errorf("cfg %+v: expected error", cfg)
		}
	}
	params.BindlessIndexOffset = 1
	_, err = NewEvaluator(params, table[:MaxVolumes], DefaultConfig())
	if !errors.Is(err, atlas.ErrHandleOutOfRange) {
		t.Errorf("want ErrHandleOutOfRange, got %v", err)
	}
	params.BindlessIndexOffset = -1
	_, err = NewEvaluator(params, table, DefaultConfig())
	if !errors.Is(err, ErrBadIndexOffset) {
		t.Errorf("want ErrBadIndexOffset, got %v", err)
	}
	_, err = NewEvaluator(nil, table, DefaultConfig())
	if err == nil {
		t.Error("expected error for nil parameters")
	}

	e := mustEvaluator(t, &Parameters{}, atlas.Array{}, DefaultConfig())
	err = e.Evaluate(make([]ms3.Vec, 3), make([]ms3.Vec, 2), make([]ms3.Vec, 3), nil)
	if err == nil {
		t.Error("expected error for mismatched lengths")
	}
	err = e.Evaluate(nil, nil, nil, "not a pool")
	if err == nil {
		t.Error("expected error for bad userData")
	}
}

func BenchmarkEvaluate(b *testing.B) {
	rng := rand.New(rand.NewSource(7))
	params, table := randomScene(b, rng, 64)
	pos, normals := randomPoints(rng, 4096)
	dst := make([]ms3.Vec, len(pos))
	for _, bench := range []struct {
		name string
		cfg  Config
	}{
		{name: "naive", cfg: Config{LaneCount: 1}},
		{name: "wave32", cfg: Config{WaveUniform: true, LaneCount: 32}},
		{name: "wave32x4", cfg: Config{WaveUniform: true, LaneCount: 32, Workers: 4}},
	} {
		e := mustEvaluator(b, params, table, bench.cfg)
		b.Run(bench.name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				err := e.Evaluate(pos, normals, dst, nil)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
