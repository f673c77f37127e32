package diffusevol

import (
	"errors"
	"fmt"

	"github.com/soypat/glgl/math/ms3"
)

// VecPool serves as a pool of per lane scratch slices for evaluating
// lane groups on the CPU while reducing garbage generation.
// A VecPool must not be shared between concurrent evaluations.
type VecPool struct {
	V3      bufPool[ms3.Vec]
	Contrib bufPool[Contribution]
	Volume  bufPool[Volume]
	Int     bufPool[int]
	Bool    bufPool[bool]
}

// AssertAllReleased checks all buffers are not in use. Should be called
// after ending a run to find memory leaks.
func (vp *VecPool) AssertAllReleased() error {
	for _, err := range []error{
		vp.V3.assertAllReleased(),
		vp.Contrib.assertAllReleased(),
		vp.Volume.assertAllReleased(),
		vp.Int.assertAllReleased(),
		vp.Bool.assertAllReleased(),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// GetVecPool asserts the userData as a VecPool. If assert fails then
// an error is returned with information on what went wrong.
func GetVecPool(userData any) (*VecPool, error) {
	vp, ok := userData.(*VecPool)
	if !ok {
		vper, ok := userData.(interface{ VecPool() *VecPool })
		if !ok {
			return nil, fmt.Errorf("want userData type diffusevol.VecPool for CPU evaluations, got %T", userData)
		}
		vp = vper.VecPool()
		if vp == nil {
			return nil, fmt.Errorf("nil return value from VecPool method of %T", userData)
		}
	}
	return vp, nil
}

type bufPool[T any] struct {
	_ins      [][]T
	_acquired []bool
}

// Acquire returns a slice of exactly length n. Its contents are undefined.
func (bp *bufPool[T]) Acquire(n int) []T {
	for i, locked := range bp._acquired {
		if !locked && len(bp._ins[i]) >= n {
			bp._acquired[i] = true
			return bp._ins[i][:n]
		}
	}
	newSlice := make([]T, max(n, 1))
	bp._ins = append(bp._ins, newSlice)
	bp._acquired = append(bp._acquired, true)
	return newSlice[:n]
}

// Release returns a slice obtained with Acquire to the pool.
func (bp *bufPool[T]) Release(buf []T) error {
	if cap(buf) == 0 {
		return errors.New("release of empty buffer")
	}
	for i, instance := range bp._ins {
		if &instance[:1][0] == &buf[:1][0] {
			if !bp._acquired[i] {
				return errors.New("release of unacquired resource")
			}
			bp._acquired[i] = false
			return nil
		}
	}
	return errors.New("release of nonexistent resource")
}

func (bp *bufPool[T]) assertAllReleased() error {
	for _, locked := range bp._acquired {
		if locked {
			return fmt.Errorf("locked %T resource found in diffusevol.bufPool.assertAllReleased, memory leak?", *new(T))
		}
	}
	return nil
}
