// Package render orchestrates acceleration structures around a frame
// renderer. It decides per frame whether the scene bounding volume
// hierarchy is rebuilt or refit, culls instances against the camera
// frustum and uploads structures to the GPU before delegating the
// actual draw to a base Renderer.
package render

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/brick"
	"github.com/soypat/sdfaccel/bvh"
	"github.com/soypat/sdfaccel/octree"
)

// Renderer draws one model under a camera. Implementations range from
// a raymarching shader pipeline to a software rasterizer.
type Renderer interface {
	Render(model sdfaccel.SDF3, cam Camera, transform mgl32.Mat4) error
}

// AccelerationSettings configures the per-frame acceleration policy of
// an Accelerated renderer.
type AccelerationSettings struct {
	// UseBVH enables the scene hierarchy. When false instances are
	// rendered brute force.
	UseBVH bool
	// EnableFrustumCulling skips instances outside the camera frustum.
	EnableFrustumCulling bool
	// RebuildEachFrame forces a full hierarchy rebuild every frame
	// instead of refitting on transform changes.
	RebuildEachFrame bool
	// MaxInstancesBeforeAcceleration is the instance count below which
	// the hierarchy is not worth building and brute force is used.
	MaxInstancesBeforeAcceleration int
	// BVH holds build parameters for the scene hierarchy.
	BVH bvh.BuildSettings
	// Octree holds voxelization parameters for RenderWithOctree.
	Octree octree.Settings
	// Bricks holds brick map parameters for RenderWithBrickMap.
	Bricks brick.Settings
}

// DefaultAccelerationSettings returns the policy used when none is
// supplied: BVH with frustum culling, refit over rebuild, and
// acceleration from 8 instances up.
func DefaultAccelerationSettings() AccelerationSettings {
	return AccelerationSettings{
		UseBVH:                         true,
		EnableFrustumCulling:           true,
		RebuildEachFrame:               false,
		MaxInstancesBeforeAcceleration: 8,
		BVH:                            bvh.DefaultBuildSettings(),
		Octree:                         octree.DefaultSettings(),
		Bricks:                         brick.DefaultSettings(),
	}
}
