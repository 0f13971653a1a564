// Package sdfcompat bridges float64 signed distance fields in the
// gonum spatial/r3 shape, as used by CAD-oriented SDF libraries, to
// the float32 oracle the acceleration structures consume.
package sdfcompat

import (
	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/soypat/sdfaccel"
)

// Field64 is the structural interface of a float64 distance field over
// gonum vectors. Any type with these two methods satisfies it without
// importing this package.
type Field64 interface {
	Evaluate(p r3.Vec) float64
	Bounds() r3.Box
}

// FromField64 wraps a float64 field as an sdfaccel.SDF3. Precision is
// reduced to float32 at the boundary; bounds are converted once per
// call.
func FromField64(s Field64) sdfaccel.SDF3 {
	return field64Adapter{s: s}
}

type field64Adapter struct {
	s Field64
}

func (a field64Adapter) Evaluate(p mgl32.Vec3) float32 {
	return float32(a.s.Evaluate(r3.Vec{
		X: float64(p[0]),
		Y: float64(p[1]),
		Z: float64(p[2]),
	}))
}

func (a field64Adapter) Bounds() sdfaccel.AABB {
	bb := a.s.Bounds()
	return sdfaccel.AABB{
		Min: mgl32.Vec3{float32(bb.Min.X), float32(bb.Min.Y), float32(bb.Min.Z)},
		Max: mgl32.Vec3{float32(bb.Max.X), float32(bb.Max.Y), float32(bb.Max.Z)},
	}
}

// ToField64 exposes a float32 oracle as a float64 field, for feeding
// accelerated models back into r3-based tooling.
func ToField64(s sdfaccel.SDF3) Field64 {
	return field32Adapter{s: s}
}

type field32Adapter struct {
	s sdfaccel.SDF3
}

func (a field32Adapter) Evaluate(p r3.Vec) float64 {
	return float64(a.s.Evaluate(mgl32.Vec3{float32(p.X), float32(p.Y), float32(p.Z)}))
}

func (a field32Adapter) Bounds() r3.Box {
	bb := a.s.Bounds()
	return r3.Box{
		Min: r3.Vec{X: float64(bb.Min[0]), Y: float64(bb.Min[1]), Z: float64(bb.Min[2])},
		Max: r3.Vec{X: float64(bb.Max[0]), Y: float64(bb.Max[1]), Z: float64(bb.Max[2])},
	}
}
