// Package d3f implements element-wise helpers for float32 3D vectors.
package d3f

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Elem returns a vector with all elements set to v.
func Elem(v float32) mgl32.Vec3 {
	return mgl32.Vec3{v, v, v}
}

// MinElem returns a vector with the minimum elements of a and b.
func MinElem(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		math32.Min(a[0], b[0]),
		math32.Min(a[1], b[1]),
		math32.Min(a[2], b[2]),
	}
}

// MaxElem returns a vector with the maximum elements of a and b.
func MaxElem(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		math32.Max(a[0], b[0]),
		math32.Max(a[1], b[1]),
		math32.Max(a[2], b[2]),
	}
}

// AbsElem returns the vector with all elements positive.
func AbsElem(a mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{
		math32.Abs(a[0]),
		math32.Abs(a[1]),
		math32.Abs(a[2]),
	}
}

// MulElem returns the Hadamard product of a and b.
func MulElem(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] * b[0], a[1] * b[1], a[2] * b[2]}
}

// DivElem returns the element-wise quotient a / b.
func DivElem(a, b mgl32.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{a[0] / b[0], a[1] / b[1], a[2] / b[2]}
}

// EqualWithin tests approximate element-wise equality.
func EqualWithin(a, b mgl32.Vec3, tol float32) bool {
	return math32.Abs(a[0]-b[0]) <= tol &&
		math32.Abs(a[1]-b[1]) <= tol &&
		math32.Abs(a[2]-b[2]) <= tol
}

// Clamp limits v to the range [lo, hi].
func Clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampElem limits each element of v to [lo, hi].
func ClampElem(v, lo, hi mgl32.Vec3) mgl32.Vec3 {
	return MinElem(MaxElem(v, lo), hi)
}
