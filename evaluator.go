package diffusevol

import (
	"errors"
	"fmt"

	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/diffusevol/atlas"
	"github.com/soypat/diffusevol/wave"
	"golang.org/x/sync/errgroup"
)

// Config selects the evaluation strategy. It is fixed for the lifetime of
// an Evaluator.
type Config struct {
	// WaveUniform enables lane batched accumulation: points are evaluated
	// in groups of LaneCount lanes that share culling work and issue every
	// atlas lookup with a group uniform handle. When false every point
	// visits every volume independently.
	WaveUniform bool
	// PrevFrameTextures samples the previous frame's atlases, which are
	// stored NumVolumes handles after the current frame's.
	PrevFrameTextures bool
	// LaneCount is the lane group size, in 1..64.
	LaneCount int
	// Workers is the number of lane groups evaluated concurrently.
	// Values below 2 evaluate sequentially.
	Workers int
}

// DefaultConfig returns a wave uniform configuration with 32 lane groups.
func DefaultConfig() Config {
	return Config{
		WaveUniform: true,
		LaneCount:   32,
		Workers:     1,
	}
}

// Validate checks the configuration values are in range.
func (c Config) Validate() error {
	if c.LaneCount < 1 || c.LaneCount > wave.MaxLanes {
		return fmt.Errorf("lane count %d not in 1..%d", c.LaneCount, wave.MaxLanes)
	} else if c.Workers < 0 {
		return errors.New("negative worker count")
	}
	return nil
}

// Evaluator computes indirect diffuse irradiance at shading points.
type Evaluator struct {
	params *Parameters
	table  atlas.Table
	cfg    Config
	vp     VecPool
}

// NewEvaluator validates params, table and cfg and returns an Evaluator
// reading from them. params and table must not be modified during an
// evaluation. They are read afresh on every call so a host may update them
// between frames; the handle range is only checked here, later out of range
// handles are reported by the table.
func NewEvaluator(params *Parameters, table atlas.Table, cfg Config) (*Evaluator, error) {
	if params == nil || table == nil {
		return nil, errors.New("nil parameters or atlas table")
	}
	err := params.Validate()
	if err != nil {
		return nil, err
	}
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}
	if n := params.NumVolumes(); n > 0 {
		last := params.TextureIndex(n-1, cfg.PrevFrameTextures)
		if last >= table.Len() {
			return nil, fmt.Errorf("%w: volume %d needs handle %d, table has %d fields", atlas.ErrHandleOutOfRange, n-1, last, table.Len())
		}
	}
	return &Evaluator{
		params: params,
		table:  table,
		cfg:    cfg,
	}, nil
}

// Config returns the configuration the Evaluator was created with.
func (e *Evaluator) Config() Config { return e.cfg }

// VecPool method exposes the Evaluator's VecPool in case user wishes to use their own userData in evaluations.
func (e *Evaluator) VecPool() *VecPool { return &e.vp }

// Evaluate computes the irradiance for each position and normal pair and
// stores it in dst. pos, normals and dst must be of same length. Normals
// must be unit length.
//
// userData may be a *VecPool or a type with a VecPool method. When nil
// the Evaluator's own pool is used, in which case Evaluate must not be
// called concurrently on the same Evaluator. userData is ignored when
// Config.Workers is above 1 since every worker allocates its own pool.
func (e *Evaluator) Evaluate(pos, normals, dst []ms3.Vec, userData any) error {
	if len(pos) != len(normals) || len(pos) != len(dst) {
		return fmt.Errorf("mismatched lengths: %d positions, %d normals, %d results", len(pos), len(normals), len(dst))
	}
	fallback := e.params.Fallback()
	if e.cfg.Workers > 1 {
		return e.evaluateConcurrent(pos, normals, dst, fallback)
	}
	if userData == nil {
		userData = &e.vp
	}
	vp, err := GetVecPool(userData)
	if err != nil {
		return err
	}
	err = e.evaluate(pos, normals, dst, fallback, vp)
	err2 := vp.AssertAllReleased()
	if err != nil {
		if err2 != nil {
			return fmt.Errorf("VecPool leak:(%s) evaluation error:(%s)", err2, err)
		}
		return err
	}
	return err2
}

// evaluateConcurrent splits the points into chunks of whole lane groups and
// evaluates them on Workers goroutines, each with its own VecPool.
func (e *Evaluator) evaluateConcurrent(pos, normals, dst []ms3.Vec, fallback Contribution) error {
	const groupsPerChunk = 16
	chunk := e.cfg.LaneCount * groupsPerChunk
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for start := 0; start < len(pos); start += chunk {
		start := start // per-iteration copy (go1.21 loop semantics)
		end := min(start+chunk, len(pos))
		g.Go(func() error {
			var vp VecPool
			return e.evaluate(pos[start:end], normals[start:end], dst[start:end], fallback, &vp)
		})
	}
	return g.Wait()
}

func (e *Evaluator) evaluate(pos, normals, dst []ms3.Vec, fallback Contribution, vp *VecPool) error {
	if !e.cfg.WaveUniform {
		for i := range pos {
			c, err := e.accumulateNaive(fallback, pos[i], normals[i])
			if err != nil {
				return err
			}
			dst[i] = c.Resolve()
		}
		return nil
	}

	g, err := wave.NewGroup(e.cfg.LaneCount)
	if err != nil {
		return err
	}
	lanes := g.Size()
	gpos := vp.V3.Acquire(lanes)
	defer vp.V3.Release(gpos)
	gnorm := vp.V3.Acquire(lanes)
	defer vp.V3.Release(gnorm)
	acc := vp.Contrib.Acquire(lanes)
	defer vp.Contrib.Release(acc)

	for start := 0; start < len(pos); start += lanes {
		n := copy(gpos, pos[start:])
		copy(gnorm, normals[start:start+n])
		for lane := range acc {
			acc[lane] = fallback
		}
		// Trailing group runs with its upper lanes disabled.
		g.SetActive(wave.FirstN(n))
		err = e.AccumulateGroup(g, gpos, gnorm, acc, vp)
		if err != nil {
			return err
		}
		for lane := 0; lane < n; lane++ {
			dst[start+lane] = acc[lane].Resolve()
		}
	}
	return nil
}

// Irradiance returns the irradiance at a single point by visiting every
// volume in order.
func (e *Evaluator) Irradiance(pos, normal ms3.Vec) (ms3.Vec, error) {
	c, err := e.accumulateNaive(e.params.Fallback(), pos, normal)
	return c.Resolve(), err
}

// accumulateNaive adds every volume's contribution at pos to acc. The atlas
// handle of a volume is resolved only when its weight at pos is positive.
func (e *Evaluator) accumulateNaive(acc Contribution, pos, normal ms3.Vec) (Contribution, error) {
	for i := range e.params.Volumes {
		v := &e.params.Volumes[i]
		local, w := v.Weight(pos)
		if w <= 0 {
			continue
		}
		field, err := e.table.Field(e.params.TextureIndex(i, e.cfg.PrevFrameTextures))
		if err != nil {
			return acc, err
		}
		acc = acc.Add(sampleTriplanar(field, v, local, normal, w))
	}
	return acc, nil
}

// AccumulateGroup adds every volume's contribution to acc for each
// participating lane of g. pos, normals and acc are indexed by lane and must
// hold at least g.Size() elements; values of non-participating lanes are
// neither read nor written. userData follows the same rules as in Evaluate.
//
// Lanes cooperate as a hardware subgroup would: volumes are distributed
// across lanes and culled against the union bounds of all lane positions,
// then each surviving volume is broadcast from its owning lane so the whole
// group samples the same atlas handle together.
func (e *Evaluator) AccumulateGroup(g *wave.Group, pos, normals []ms3.Vec, acc []Contribution, userData any) error {
	lanes := g.Size()
	if len(pos) < lanes || len(normals) < lanes || len(acc) < lanes {
		return fmt.Errorf("lane buffers shorter than group size %d", lanes)
	}
	if userData == nil {
		userData = &e.vp
	}
	vp, err := GetVecPool(userData)
	if err != nil {
		return err
	}
	participating := g.Active()
	if participating == 0 {
		return nil
	}
	lo := g.ReduceMin(pos)
	hi := g.ReduceMax(pos)
	activeLanes := participating.Count()

	current := vp.Int.Acquire(lanes)
	defer vp.Int.Release(current)
	vols := vp.Volume.Acquire(lanes)
	defer vp.Volume.Release(vols)
	vote := vp.Bool.Acquire(lanes)
	defer vp.Bool.Release(vote)

	numVolumes := e.params.NumVolumes()
	for i := 0; i < numVolumes; i += activeLanes {
		// Each lane claims one volume of this round and tests it against the group bounds.
		for lane := 0; lane < lanes; lane++ {
			vote[lane] = false
			if !participating.Has(lane) {
				continue
			}
			current[lane] = i + participating.ExclusiveCount(lane)
			if current[lane] < numVolumes {
				vols[lane] = e.params.Volumes[current[lane]]
				vote[lane] = vols[lane].Intersects(lo, hi)
			}
		}
		pending := g.Ballot(vote)
		for pending != 0 {
			leader := pending.FindLSB()
			pending = pending.Clear(leader)

			// Group uniform volume and handle.
			vol := wave.Shuffle(g, vols, leader)
			index := wave.Shuffle(g, current, leader)
			field, err := e.table.Field(e.params.TextureIndex(index, e.cfg.PrevFrameTextures))
			if err != nil {
				return err
			}
			for lane := 0; lane < lanes; lane++ {
				if participating.Has(lane) {
					acc[lane] = acc[lane].Add(SampleVolume(field, &vol, pos[lane], normals[lane]))
				}
			}
		}
	}
	return nil
}
