package sdfaccel

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// Ray is a half line with precomputed reciprocal direction for slab
// intersection tests.
type Ray struct {
	Origin       mgl32.Vec3
	Direction    mgl32.Vec3
	InvDirection mgl32.Vec3
}

// rayEps guards against division blowup on axis aligned rays.
const rayEps = 1e-20

// NewRay normalizes direction and caches its reciprocal. A zero
// direction yields +Z.
func NewRay(origin, direction mgl32.Vec3) Ray {
	if direction.Len() == 0 {
		direction = mgl32.Vec3{0, 0, 1}
	}
	d := direction.Normalize()
	var inv mgl32.Vec3
	for i := 0; i < 3; i++ {
		c := d[i]
		if math32.Abs(c) < rayEps {
			c = math32.Copysign(rayEps, c)
		}
		inv[i] = 1 / c
	}
	return Ray{Origin: origin, Direction: d, InvDirection: inv}
}

// Point returns the position at parametric distance t along the ray.
func (r Ray) Point(t float32) mgl32.Vec3 {
	return r.Origin.Add(r.Direction.Mul(t))
}

// Transformed returns the ray carried through m. Useful for moving a
// world-space ray into an instance's model space.
func (r Ray) Transformed(m mgl32.Mat4) Ray {
	o := mgl32.TransformCoordinate(r.Origin, m)
	d := mgl32.TransformNormal(r.Direction, m)
	return NewRay(o, d)
}
