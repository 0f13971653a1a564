package render

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/brick"
	"github.com/soypat/sdfaccel/bvh"
	"github.com/soypat/sdfaccel/gpu"
	"github.com/soypat/sdfaccel/octree"
)

// FrameStats records what the orchestrator did for the last frame.
type FrameStats struct {
	// Instances is how many valid instances entered the frame.
	Instances int
	// Rendered is how many instances were handed to the base renderer.
	Rendered int
	// Culled is how many instances the frustum test discarded.
	Culled int
	// BVHRebuilt is set when the hierarchy was built from scratch.
	BVHRebuilt bool
	// BVHRefit is set when only bounds were refit after transform
	// changes.
	BVHRefit bool
	// Uploaded is set when GPU buffers were (re)uploaded this frame.
	Uploaded bool
	// Degraded is set when acceleration was unavailable and the frame
	// fell back to brute force.
	Degraded bool
}

// Accelerated wraps a base Renderer with scene and field acceleration
// structures. It is not safe for concurrent use; a frame is a single
// goroutine's work.
type Accelerated struct {
	base     Renderer
	dev      gpu.Device
	settings AccelerationSettings

	tree   bvh.Tree
	oct    octree.Tree
	bricks brick.Map

	lastTransforms []mgl32.Mat4
	frame          FrameStats
}

// NewAccelerated wraps base. dev may be nil, in which case structures
// are built and queried on the CPU but never uploaded. Panics if base
// is nil since there is nothing to delegate frames to.
func NewAccelerated(base Renderer, dev gpu.Device, settings AccelerationSettings) *Accelerated {
	if base == nil {
		panic("render: nil base renderer")
	}
	return &Accelerated{base: base, dev: dev, settings: settings}
}

// LastFrame returns statistics for the most recent RenderBatch call.
func (r *Accelerated) LastFrame() FrameStats { return r.frame }

// BVH exposes the scene hierarchy for inspection.
func (r *Accelerated) BVH() *bvh.Tree { return &r.tree }

// Octree exposes the field octree built by RenderWithOctree.
func (r *Accelerated) Octree() *octree.Tree { return &r.oct }

// BrickMap exposes the brick map built by RenderWithBrickMap.
func (r *Accelerated) BrickMap() *brick.Map { return &r.bricks }

// InvalidateAcceleration discards all built structures so the next
// frame rebuilds them. Call it when the model set changes without the
// instance count changing, or after editing a field in place.
func (r *Accelerated) InvalidateAcceleration() {
	r.tree.Clear()
	r.oct.Clear()
	r.bricks.Clear()
	r.lastTransforms = nil
}

// ReleaseGPU frees all GPU resources held by the acceleration
// structures. CPU-side data survives and can be re-uploaded.
func (r *Accelerated) ReleaseGPU() {
	if r.dev == nil {
		return
	}
	r.tree.ReleaseGPU(r.dev)
	r.oct.ReleaseGPU(r.dev)
	r.bricks.ReleaseGPU(r.dev)
}

// AccelerationStats aggregates the memory footprint of all built
// structures in bytes.
func (r *Accelerated) AccelerationStats() (memoryBytes int) {
	return r.tree.MemoryUsage() + r.oct.MemoryUsage() + r.bricks.MemoryUsage()
}

// RenderBatch renders one frame of instanced models. Hierarchy policy:
// a full rebuild happens when forced by settings, when the instance
// count changes or when the hierarchy is unbuilt; transform-only
// changes are handled by a refit. Instances outside the camera frustum
// are skipped when culling is enabled. A hierarchy that fails to build
// or upload degrades the frame rather than failing it.
func (r *Accelerated) RenderBatch(models []sdfaccel.SDF3, transforms []mgl32.Mat4, cam Camera) error {
	r.frame = FrameStats{}
	instances, err := sdfaccel.NewInstances(models, transforms)
	if err != nil {
		return err
	}
	// Drop instances with empty world bounds up front. The hierarchy
	// skips them during Build, so keeping them here would make the
	// count comparison in prepareBVH rebuild every frame and the cull
	// count report them as frustum-culled.
	n := 0
	for _, inst := range instances {
		if !inst.WorldBounds.Empty() {
			instances[n] = inst
			n++
		}
	}
	instances = instances[:n]
	r.frame.Instances = len(instances)
	if len(instances) == 0 {
		return nil
	}

	useBVH := r.settings.UseBVH && len(instances) >= r.settings.MaxInstancesBeforeAcceleration
	if useBVH {
		if err := r.prepareBVH(instances); err != nil {
			return err
		}
		if !r.tree.IsBuilt() {
			r.frame.Degraded = true
			useBVH = false
		}
	}

	if useBVH && r.dev != nil {
		if !r.tree.IsGPUValid() {
			if err := r.tree.UploadToGPU(r.dev); err != nil {
				// A lost GPU copy degrades the frame, it does not fail
				// it. Culling still runs on the CPU hierarchy.
				r.frame.Degraded = true
			} else {
				r.frame.Uploaded = true
			}
		}
		if r.tree.IsGPUValid() {
			r.tree.BindGPU(r.dev)
		}
	}

	var visible []sdfaccel.Instance
	switch {
	case useBVH && r.settings.EnableFrustumCulling:
		kept := r.tree.Instances()
		for _, i := range r.tree.QueryFrustum(cam.Frustum()) {
			visible = append(visible, kept[i])
		}
	case useBVH:
		visible = r.tree.Instances()
	case r.settings.EnableFrustumCulling:
		f := cam.Frustum()
		for _, inst := range instances {
			if f.IntersectsAABB(inst.WorldBounds) {
				visible = append(visible, inst)
			}
		}
	default:
		visible = instances
	}
	r.frame.Culled = len(instances) - len(visible)

	for _, inst := range visible {
		if err := r.base.Render(inst.Model, cam, inst.Transform); err != nil {
			return err
		}
		r.frame.Rendered++
	}
	return nil
}

// prepareBVH brings the scene hierarchy up to date with instances,
// rebuilding or refitting as the policy dictates.
func (r *Accelerated) prepareBVH(instances []sdfaccel.Instance) error {
	rebuild := r.settings.RebuildEachFrame ||
		!r.tree.IsBuilt() ||
		len(instances) != len(r.tree.Instances())
	if rebuild {
		if err := r.tree.Build(instances, r.settings.BVH); err != nil {
			return err
		}
		r.frame.BVHRebuilt = true
	} else if changed := r.changedTransforms(instances); len(changed) > 0 {
		xf := make([]mgl32.Mat4, len(changed))
		for i, idx := range changed {
			xf[i] = instances[idx].Transform
		}
		if err := r.tree.UpdateDynamic(changed, xf); err != nil {
			return err
		}
		r.tree.Refit()
		r.frame.BVHRefit = true
	}
	r.lastTransforms = r.lastTransforms[:0]
	for _, inst := range instances {
		r.lastTransforms = append(r.lastTransforms, inst.Transform)
	}
	return nil
}

// changedTransforms compares this frame's transforms against the last
// frame's. Indexing matches the hierarchy's kept instance order, which
// is stable when the instance count has not changed.
func (r *Accelerated) changedTransforms(instances []sdfaccel.Instance) []int {
	if len(r.lastTransforms) != len(instances) {
		return nil
	}
	var changed []int
	for i, inst := range instances {
		if inst.Transform != r.lastTransforms[i] {
			changed = append(changed, i)
		}
	}
	return changed
}

// RenderWithOctree renders model with an empty-space skipping octree
// bound for the shader. The octree is voxelized lazily on first use
// and reused until InvalidateAcceleration. A degenerate model renders
// unaccelerated.
func (r *Accelerated) RenderWithOctree(model sdfaccel.SDF3, cam Camera, transform mgl32.Mat4) error {
	if model == nil {
		return errors.New("render: nil model")
	}
	if !r.oct.IsBuilt() {
		r.oct.Voxelize(model, model.Bounds(), r.settings.Octree)
	}
	if r.oct.IsBuilt() && r.dev != nil {
		if !r.oct.IsGPUValid() {
			if err := r.oct.UploadToGPU(r.dev); err != nil {
				return r.base.Render(model, cam, transform)
			}
		}
		r.oct.BindGPU(r.dev)
	}
	return r.base.Render(model, cam, transform)
}

// RenderWithBrickMap renders model with a cached brick map bound for
// the shader. The map is built lazily on first use; pending dirty
// bricks are refreshed each frame before upload.
func (r *Accelerated) RenderWithBrickMap(model sdfaccel.SDF3, cam Camera, transform mgl32.Mat4) error {
	if model == nil {
		return errors.New("render: nil model")
	}
	if !r.bricks.IsBuilt() {
		bb := model.Bounds()
		if err := r.bricks.Build(model, bb.Min, bb.Max, r.settings.Bricks); err != nil {
			return err
		}
	} else if err := r.bricks.UpdateDirtyBricks(model); err != nil {
		return err
	}
	if r.bricks.IsBuilt() && r.dev != nil {
		if !r.bricks.IsGPUValid() {
			if err := r.bricks.UploadToGPU(r.dev); err != nil {
				return r.base.Render(model, cam, transform)
			}
		}
		r.bricks.BindGPU(r.dev)
	}
	return r.base.Render(model, cam, transform)
}
