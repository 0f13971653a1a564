package sdfaccel

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Frustum is six inward facing planes (left, right, bottom, top, near,
// far) stored as (nx, ny, nz, d) with the normal part normalized. A
// point p is inside a plane when dot(n, p) + d >= 0.
type Frustum struct {
	Planes [6]mgl32.Vec4
}

// NewFrustum extracts the planes from a combined projection * view
// matrix using the Gribb-Hartmann row method.
func NewFrustum(projView mgl32.Mat4) Frustum {
	r0 := projView.Row(0)
	r1 := projView.Row(1)
	r2 := projView.Row(2)
	r3 := projView.Row(3)
	var f Frustum
	f.Planes[0] = normalizePlane(r3.Add(r0)) // left
	f.Planes[1] = normalizePlane(r3.Sub(r0)) // right
	f.Planes[2] = normalizePlane(r3.Add(r1)) // bottom
	f.Planes[3] = normalizePlane(r3.Sub(r1)) // top
	f.Planes[4] = normalizePlane(r3.Add(r2)) // near
	f.Planes[5] = normalizePlane(r3.Sub(r2)) // far
	return f
}

func normalizePlane(p mgl32.Vec4) mgl32.Vec4 {
	n := p.Vec3().Len()
	if n == 0 {
		return p
	}
	return p.Mul(1 / n)
}

// ContainsPoint returns true if p is inside or on all six planes.
func (f Frustum) ContainsPoint(p mgl32.Vec3) bool {
	for _, plane := range f.Planes {
		if plane.Vec3().Dot(p)+plane.W() < 0 {
			return false
		}
	}
	return true
}

// IntersectsSphere returns true unless the sphere is fully outside one
// of the planes.
func (f Frustum) IntersectsSphere(center mgl32.Vec3, radius float32) bool {
	for _, plane := range f.Planes {
		if plane.Vec3().Dot(center)+plane.W() < -radius {
			return false
		}
	}
	return true
}

// IntersectsAABB is the p-vertex test: for each plane only the box
// corner furthest along the plane normal is checked. Conservative, may
// report true for boxes slightly outside near frustum edges.
func (f Frustum) IntersectsAABB(box AABB) bool {
	for _, plane := range f.Planes {
		p := box.Min
		if plane.X() >= 0 {
			p[0] = box.Max[0]
		}
		if plane.Y() >= 0 {
			p[1] = box.Max[1]
		}
		if plane.Z() >= 0 {
			p[2] = box.Max[2]
		}
		if plane.Vec3().Dot(p)+plane.W() < 0 {
			return false
		}
	}
	return true
}
