// Package atlas implements the read-only table of directional irradiance
// fields sampled by diffuse volumes.
//
// Each field packs three directional slabs side by side along its x axis,
// one per world axis, and each slab is split in two halves selected by the
// sign of the normal component on that axis:
//
//	x: [ +X | -X | +Y | -Y | +Z | -Z ]
//	    0   1/6  1/3  1/2  2/3  5/6   1
package atlas

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/soypat/glgl/math/ms3"
)

const (
	// SlabWidth is the texture space width of one axis slab.
	SlabWidth = 1.0 / 3
	// HalfSlabWidth is the width of one signed half of a slab.
	HalfSlabWidth = 1.0 / 6
)

// ErrHandleOutOfRange is returned when a table is indexed outside its bounds.
var ErrHandleOutOfRange = errors.New("atlas handle out of range")

// Field is a 3D field of RGB values sampled in normalized texture space.
type Field interface {
	// Sample returns the filtered RGB value at uvw using linear filtering
	// and clamp-to-edge addressing.
	Sample(uvw ms3.Vec) ms3.Vec
}

// FieldFunc adapts an analytic function to the Field interface.
type FieldFunc func(uvw ms3.Vec) ms3.Vec

func (f FieldFunc) Sample(uvw ms3.Vec) ms3.Vec { return f(uvw) }

// Table is an indexable collection of fields addressed by integer handle.
// Implementations must be safe for concurrent reads.
type Table interface {
	Len() int
	Field(handle int) (Field, error)
}

// Array is a slice backed Table.
type Array []Field

func (a Array) Len() int { return len(a) }

func (a Array) Field(handle int) (Field, error) {
	if handle < 0 || handle >= len(a) {
		return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrHandleOutOfRange, handle, len(a))
	}
	f := a[handle]
	if f == nil {
		return nil, fmt.Errorf("atlas handle %d: nil field", handle)
	}
	return f, nil
}

// Counting wraps a Table and counts how many handles were resolved through it.
type Counting struct {
	Table
	n atomic.Int64
}

// NewCounting returns a Counting table that forwards lookups to t.
func NewCounting(t Table) *Counting {
	return &Counting{Table: t}
}

func (c *Counting) Field(handle int) (Field, error) {
	c.n.Add(1)
	return c.Table.Field(handle)
}

// Lookups returns the number of Field calls since creation or last Reset.
func (c *Counting) Lookups() int64 { return c.n.Load() }

// Reset zeroes the lookup counter.
func (c *Counting) Reset() { c.n.Store(0) }
