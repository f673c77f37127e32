// Package wave simulates a synchronous group of SIMT lanes on the CPU.
//
// A Group stands in for a GPU subgroup (wave, warp): per-lane values are
// stored in slices indexed by lane and every group operation reads all
// participating lanes at once, the way subgroup intrinsics do in hardware.
// Lanes never run concurrently with each other, so the lock-step
// guarantee holds trivially.
package wave

import (
	"errors"
	"math/bits"

	"github.com/chewxy/math32"
	"github.com/soypat/glgl/math/ms3"
)

// MaxLanes is the largest group size a Mask can represent.
const MaxLanes = 64

// ErrGroupSize is returned by NewGroup for sizes outside 1..MaxLanes.
var ErrGroupSize = errors.New("wave group size must be in 1..64")

// Mask is the result of a ballot. Bit i is set when lane i voted true.
type Mask uint64

// FirstN returns a Mask with the n lowest lanes set.
func FirstN(n int) Mask {
	if n <= 0 {
		return 0
	} else if n >= MaxLanes {
		return ^Mask(0)
	}
	return Mask(1)<<n - 1
}

// Count returns the number of lanes set in the mask.
func (m Mask) Count() int { return bits.OnesCount64(uint64(m)) }

// ExclusiveCount returns the number of set lanes ranked strictly below lane.
func (m Mask) ExclusiveCount(lane int) int {
	return bits.OnesCount64(uint64(m & FirstN(lane)))
}

// FindLSB returns the lowest set lane or -1 for an empty mask.
func (m Mask) FindLSB() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros64(uint64(m))
}

// Has reports whether lane is set.
func (m Mask) Has(lane int) bool {
	return lane >= 0 && lane < MaxLanes && m&(1<<lane) != 0
}

// Clear returns the mask with lane unset.
func (m Mask) Clear(lane int) Mask { return m &^ (1 << lane) }

// Group is a fixed size lane group with a participation mask. Lanes outside
// the participation mask do not vote in ballots and are ignored by reductions.
type Group struct {
	size   int
	active Mask
}

// NewGroup returns a group of size lanes with all lanes participating.
func NewGroup(size int) (*Group, error) {
	if size < 1 || size > MaxLanes {
		return nil, ErrGroupSize
	}
	return &Group{size: size, active: FirstN(size)}, nil
}

// Size returns the number of lanes in the group, participating or not.
func (g *Group) Size() int { return g.size }

// Active returns the participation mask. It is the result of a ballot
// where every participating lane votes true.
func (g *Group) Active() Mask { return g.active }

// SetActive sets the participating lanes. Bits above the group size are discarded.
func (g *Group) SetActive(m Mask) { g.active = m & FirstN(g.size) }

// Ballot returns the mask of participating lanes for which pred is true.
// pred is indexed by lane and must have at least Size elements.
func (g *Group) Ballot(pred []bool) Mask {
	_ = pred[g.size-1]
	var m Mask
	for lane := 0; lane < g.size; lane++ {
		if pred[lane] && g.active.Has(lane) {
			m |= 1 << lane
		}
	}
	return m
}

// ReduceMin returns the element-wise minimum of v over participating lanes.
func (g *Group) ReduceMin(v []ms3.Vec) ms3.Vec {
	_ = v[g.size-1]
	inf := math32.Inf(1)
	result := ms3.Vec{X: inf, Y: inf, Z: inf}
	for lane := 0; lane < g.size; lane++ {
		if g.active.Has(lane) {
			result = ms3.MinElem(result, v[lane])
		}
	}
	return result
}

// ReduceMax returns the element-wise maximum of v over participating lanes.
func (g *Group) ReduceMax(v []ms3.Vec) ms3.Vec {
	_ = v[g.size-1]
	inf := math32.Inf(-1)
	result := ms3.Vec{X: inf, Y: inf, Z: inf}
	for lane := 0; lane < g.size; lane++ {
		if g.active.Has(lane) {
			result = ms3.MaxElem(result, v[lane])
		}
	}
	return result
}

// Shuffle broadcasts lane's value of v to the whole group.
func Shuffle[T any](g *Group, v []T, lane int) T {
	if lane < 0 || lane >= g.size {
		panic("wave: shuffle from lane outside group")
	}
	return v[lane]
}
