package d3

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Transform represents an affine 3D transformation. Only the top three rows
// of the 4x4 matrix are stored since the bottom row is always (0,0,0,1).
// The zero value of Transform is the identity transform.
type Transform struct {
	// in order to make the zero value of Transform represent the identity
	// transform we store it with the identity matrix subtracted.
	// These diagonal elements are subtracted such that
	//  d00 = x00-1, d11 = x11-1, d22 = x22-1
	d00, x01, x02, x03 float64
	x10, d11, x12, x13 float64
	x20, x21, d22, x23 float64
}

// zeroTransform maps every point to the origin. It is returned when inverting singular transforms.
var zeroTransform = Transform{d00: -1, d11: -1, d22: -1}

// Transform applies the Transform to the argument point and returns the result.
func (t Transform) Transform(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: (t.d00+1)*v.X + t.x01*v.Y + t.x02*v.Z + t.x03,
		Y: t.x10*v.X + (t.d11+1)*v.Y + t.x12*v.Z + t.x13,
		Z: t.x20*v.X + t.x21*v.Y + (t.d22+1)*v.Z + t.x23,
	}
}

// Translation returns a Transform that adds v to points.
func Translation(v r3.Vec) Transform {
	return Transform{x03: v.X, x13: v.Y, x23: v.Z}
}

// ComposeTransform creates a new transform for a given translation to
// positon, scaling vector scale and quaternion rotation. Points are scaled,
// then rotated, then translated. The identity Transform is constructed with
//
//	ComposeTransform(Vec{}, Vec{1,1,1}, Rotation{})
func ComposeTransform(position, scale r3.Vec, q r3.Rotation) Transform {
	x2 := q.Imag + q.Imag
	y2 := q.Jmag + q.Jmag
	z2 := q.Kmag + q.Kmag
	xx := q.Imag * x2
	yy := q.Jmag * y2
	zz := q.Kmag * z2
	xy := q.Imag * y2
	xz := q.Imag * z2
	yz := q.Jmag * z2
	wx := q.Real * x2
	wy := q.Real * y2
	wz := q.Real * z2

	var t Transform
	t.d00 = (1-(yy+zz))*scale.X - 1
	t.x10 = (xy + wz) * scale.X
	t.x20 = (xz - wy) * scale.X

	t.x01 = (xy - wz) * scale.Y
	t.d11 = (1-(xx+zz))*scale.Y - 1
	t.x21 = (yz + wx) * scale.Y

	t.x02 = (xz + wy) * scale.Z
	t.x12 = (yz - wx) * scale.Z
	t.d22 = (1-(xx+yy))*scale.Z - 1

	t.x03 = position.X
	t.x13 = position.Y
	t.x23 = position.Z
	return t
}

// Mul multiplies the Transforms t and b and returns the result.
// The result applies b first, then t.
func (t Transform) Mul(b Transform) Transform {
	if t == (Transform{}) {
		return b
	}
	if b == (Transform{}) {
		return t
	}
	x00, x11, x22 := t.d00+1, t.d11+1, t.d22+1
	y00, y11, y22 := b.d00+1, b.d11+1, b.d22+1
	var m Transform
	m.d00 = x00*y00 + t.x01*b.x10 + t.x02*b.x20 - 1
	m.x01 = x00*b.x01 + t.x01*y11 + t.x02*b.x21
	m.x02 = x00*b.x02 + t.x01*b.x12 + t.x02*y22
	m.x03 = x00*b.x03 + t.x01*b.x13 + t.x02*b.x23 + t.x03

	m.x10 = t.x10*y00 + x11*b.x10 + t.x12*b.x20
	m.d11 = t.x10*b.x01 + x11*y11 + t.x12*b.x21 - 1
	m.x12 = t.x10*b.x02 + x11*b.x12 + t.x12*y22
	m.x13 = t.x10*b.x03 + x11*b.x13 + t.x12*b.x23 + t.x13

	m.x20 = t.x20*y00 + t.x21*b.x10 + x22*b.x20
	m.x21 = t.x20*b.x01 + t.x21*y11 + x22*b.x21
	m.d22 = t.x20*b.x02 + t.x21*b.x12 + x22*y22 - 1
	m.x23 = t.x20*b.x03 + t.x21*b.x13 + x22*b.x23 + t.x23
	return m
}

// Det returns the determinant of the linear part of the Transform.
func (t Transform) Det() float64 {
	x00, x11, x22 := t.d00+1, t.d11+1, t.d22+1
	return x00*(x11*x22-t.x12*t.x21) -
		t.x01*(t.x10*x22-t.x12*t.x20) +
		t.x02*(t.x10*t.x21-x11*t.x20)
}

// Inv returns the inverse of the transform such that
// t.Inv() * t is the identity Transform.
// If the transform is singular then Inv returns the zero transform.
func (t Transform) Inv() Transform {
	if t == (Transform{}) {
		return t
	}
	det := t.Det()
	if math.Abs(det) < 1e-16 {
		return zeroTransform
	}
	d := 1 / det
	x00, x11, x22 := t.d00+1, t.d11+1, t.d22+1
	// Inverse of the linear part by cofactors.
	i00 := (x11*x22 - t.x12*t.x21) * d
	i01 := (t.x02*t.x21 - t.x01*x22) * d
	i02 := (t.x01*t.x12 - t.x02*x11) * d
	i10 := (t.x12*t.x20 - t.x10*x22) * d
	i11 := (x00*x22 - t.x02*t.x20) * d
	i12 := (t.x02*t.x10 - x00*t.x12) * d
	i20 := (t.x10*t.x21 - x11*t.x20) * d
	i21 := (t.x01*t.x20 - x00*t.x21) * d
	i22 := (x00*x11 - t.x01*t.x10) * d
	return Transform{
		d00: i00 - 1, x01: i01, x02: i02, x03: -(i00*t.x03 + i01*t.x13 + i02*t.x23),
		x10: i10, d11: i11 - 1, x12: i12, x13: -(i10*t.x03 + i11*t.x13 + i12*t.x23),
		x20: i20, x21: i21, d22: i22 - 1, x23: -(i20*t.x03 + i21*t.x13 + i22*t.x23),
	}
}

// Rows returns the three stored rows of the transform in row major order.
func (t Transform) Rows() [3][4]float64 {
	return [3][4]float64{
		{t.d00 + 1, t.x01, t.x02, t.x03},
		{t.x10, t.d11 + 1, t.x12, t.x13},
		{t.x20, t.x21, t.d22 + 1, t.x23},
	}
}

// equals tests the equality of the Transforms to within a tolerance.
func (t Transform) equals(b Transform, tolerance float64) bool {
	ra, rb := t.Rows(), b.Rows()
	for i := range ra {
		for j := range ra[i] {
			if math.Abs(ra[i][j]-rb[i][j]) >= tolerance {
				return false
			}
		}
	}
	return true
}
