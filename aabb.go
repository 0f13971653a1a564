package sdfaccel

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel/internal/d3f"
)

// AABB is an axis aligned bounding box defined by its extreme corners.
type AABB struct {
	Min, Max mgl32.Vec3
}

// EmptyAABB returns the additive identity for Union and Include: a box
// with inverted infinite corners. It reports Empty() == true.
func EmptyAABB() AABB {
	return AABB{
		Min: d3f.Elem(math32.Inf(1)),
		Max: d3f.Elem(math32.Inf(-1)),
	}
}

// NewAABB returns the box spanning the two points in any corner order.
func NewAABB(a, b mgl32.Vec3) AABB {
	return AABB{Min: d3f.MinElem(a, b), Max: d3f.MaxElem(a, b)}
}

// Empty returns true if the box contains no points.
func (a AABB) Empty() bool {
	return a.Min[0] > a.Max[0] || a.Min[1] > a.Max[1] || a.Min[2] > a.Max[2]
}

// Size returns the box dimensions.
func (a AABB) Size() mgl32.Vec3 { return a.Max.Sub(a.Min) }

// Center returns the box centroid.
func (a AABB) Center() mgl32.Vec3 { return a.Min.Add(a.Max).Mul(0.5) }

// SurfaceArea returns the total area of the six faces.
func (a AABB) SurfaceArea() float32 {
	if a.Empty() {
		return 0
	}
	s := a.Size()
	return 2 * (s[0]*s[1] + s[1]*s[2] + s[2]*s[0])
}

// Volume returns the enclosed volume.
func (a AABB) Volume() float32 {
	if a.Empty() {
		return 0
	}
	s := a.Size()
	return s[0] * s[1] * s[2]
}

// Union returns the smallest box containing both a and b.
func (a AABB) Union(b AABB) AABB {
	return AABB{
		Min: d3f.MinElem(a.Min, b.Min),
		Max: d3f.MaxElem(a.Max, b.Max),
	}
}

// Include grows the box to contain point p.
func (a AABB) Include(p mgl32.Vec3) AABB {
	return AABB{
		Min: d3f.MinElem(a.Min, p),
		Max: d3f.MaxElem(a.Max, p),
	}
}

// Contains returns true if p lies inside or on the box.
func (a AABB) Contains(p mgl32.Vec3) bool {
	return p[0] >= a.Min[0] && p[0] <= a.Max[0] &&
		p[1] >= a.Min[1] && p[1] <= a.Max[1] &&
		p[2] >= a.Min[2] && p[2] <= a.Max[2]
}

// Intersects returns true if the boxes overlap, boundary touch included.
func (a AABB) Intersects(b AABB) bool {
	return a.Min[0] <= b.Max[0] && a.Max[0] >= b.Min[0] &&
		a.Min[1] <= b.Max[1] && a.Max[1] >= b.Min[1] &&
		a.Min[2] <= b.Max[2] && a.Max[2] >= b.Min[2]
}

// Equals tests approximate equality of both corners.
func (a AABB) Equals(b AABB, tol float32) bool {
	return d3f.EqualWithin(a.Min, b.Min, tol) && d3f.EqualWithin(a.Max, b.Max, tol)
}

// LongestAxis returns 0, 1 or 2 for the largest box dimension.
func (a AABB) LongestAxis() int {
	s := a.Size()
	axis := 0
	if s[1] > s[axis] {
		axis = 1
	}
	if s[2] > s[axis] {
		axis = 2
	}
	return axis
}

// Corner returns the i-th of the 8 box corners, i in [0,8).
func (a AABB) Corner(i int) mgl32.Vec3 {
	v := a.Min
	if i&1 != 0 {
		v[0] = a.Max[0]
	}
	if i&2 != 0 {
		v[1] = a.Max[1]
	}
	if i&4 != 0 {
		v[2] = a.Max[2]
	}
	return v
}

// Transform returns the axis aligned box of the 8 transformed corners.
// The result is conservative for rotated content.
func (a AABB) Transform(m mgl32.Mat4) AABB {
	out := EmptyAABB()
	for i := 0; i < 8; i++ {
		out = out.Include(mgl32.TransformCoordinate(a.Corner(i), m))
	}
	return out
}

// SqDistToPoint returns the squared distance from p to the box, zero
// when p is inside.
func (a AABB) SqDistToPoint(p mgl32.Vec3) float32 {
	var d2 float32
	for i := 0; i < 3; i++ {
		if v := a.Min[i] - p[i]; v > 0 {
			d2 += v * v
		} else if v := p[i] - a.Max[i]; v > 0 {
			d2 += v * v
		}
	}
	return d2
}

// IntersectRay performs the slab test and returns the parametric entry
// and exit distances. hit is false if the ray misses or the box lies
// entirely behind the origin.
func (a AABB) IntersectRay(r Ray) (tNear, tFar float32, hit bool) {
	tNear = math32.Inf(-1)
	tFar = math32.Inf(1)
	for i := 0; i < 3; i++ {
		t0 := (a.Min[i] - r.Origin[i]) * r.InvDirection[i]
		t1 := (a.Max[i] - r.Origin[i]) * r.InvDirection[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tNear {
			tNear = t0
		}
		if t1 < tFar {
			tFar = t1
		}
		if tNear > tFar {
			return 0, 0, false
		}
	}
	if tFar < 0 {
		return 0, 0, false
	}
	return tNear, tFar, true
}
