package render

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
)

// Camera holds the view and projection transforms of one rendered
// frame.
type Camera struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Position   mgl32.Vec3
}

// NewPerspectiveCamera builds a camera at eye looking at center. fovY
// is the vertical field of view in radians.
func NewPerspectiveCamera(eye, center, up mgl32.Vec3, fovY, aspect, near, far float32) Camera {
	return Camera{
		View:       mgl32.LookAtV(eye, center, up),
		Projection: mgl32.Perspective(fovY, aspect, near, far),
		Position:   eye,
	}
}

// ViewProjection returns the combined projection * view matrix.
func (c Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection.Mul4(c.View)
}

// Frustum extracts the camera's view frustum for culling.
func (c Camera) Frustum() sdfaccel.Frustum {
	return sdfaccel.NewFrustum(c.ViewProjection())
}
