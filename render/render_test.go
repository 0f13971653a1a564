package render

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/bvh"
	"github.com/soypat/sdfaccel/gpu"
)

type testSphere struct {
	radius float32
}

func (s testSphere) Evaluate(p mgl32.Vec3) float32 {
	return math32.Sqrt(p[0]*p[0]+p[1]*p[1]+p[2]*p[2]) - s.radius
}

func (s testSphere) Bounds() sdfaccel.AABB {
	r := mgl32.Vec3{s.radius, s.radius, s.radius}
	return sdfaccel.AABB{Min: r.Mul(-1), Max: r}
}

// recorder is a base renderer that remembers every delegated draw.
type recorder struct {
	transforms []mgl32.Mat4
	err        error
}

func (r *recorder) Render(model sdfaccel.SDF3, cam Camera, transform mgl32.Mat4) error {
	if r.err != nil {
		return r.err
	}
	r.transforms = append(r.transforms, transform)
	return nil
}

func (r *recorder) reset() { r.transforms = r.transforms[:0] }

// lineScene places n unit spheres along +X starting at the origin,
// spaced 4 apart.
func lineScene(n int) ([]sdfaccel.SDF3, []mgl32.Mat4) {
	models := make([]sdfaccel.SDF3, n)
	transforms := make([]mgl32.Mat4, n)
	for i := 0; i < n; i++ {
		models[i] = testSphere{radius: 1}
		transforms[i] = mgl32.Translate3D(float32(i)*4, 0, 0)
	}
	return models, transforms
}

// lookingAtOrigin frames the origin from +Z. Spheres far along +X fall
// outside the frustum.
func lookingAtOrigin() Camera {
	return NewPerspectiveCamera(
		mgl32.Vec3{0, 0, 10}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0},
		mgl32.DegToRad(45), 1, 0.1, 100,
	)
}

func TestNewAcceleratedPanicsOnNilBase(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil base renderer")
		}
	}()
	NewAccelerated(nil, nil, DefaultAccelerationSettings())
}

func TestRenderBatchEmpty(t *testing.T) {
	base := &recorder{}
	r := NewAccelerated(base, gpu.NewNullDevice(), DefaultAccelerationSettings())
	if err := r.RenderBatch(nil, nil, lookingAtOrigin()); err != nil {
		t.Fatal(err)
	}
	if len(base.transforms) != 0 {
		t.Errorf("rendered %d instances from empty batch", len(base.transforms))
	}
}

func TestRenderBatchLengthMismatch(t *testing.T) {
	base := &recorder{}
	r := NewAccelerated(base, nil, DefaultAccelerationSettings())
	models, transforms := lineScene(3)
	if err := r.RenderBatch(models, transforms[:2], lookingAtOrigin()); err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestRenderBatchBruteForceBelowThreshold(t *testing.T) {
	base := &recorder{}
	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 100
	settings.EnableFrustumCulling = false
	r := NewAccelerated(base, gpu.NewNullDevice(), settings)

	models, transforms := lineScene(5)
	if err := r.RenderBatch(models, transforms, lookingAtOrigin()); err != nil {
		t.Fatal(err)
	}
	if len(base.transforms) != 5 {
		t.Errorf("rendered %d instances, want all 5", len(base.transforms))
	}
	if r.BVH().IsBuilt() {
		t.Error("hierarchy built below acceleration threshold")
	}
	fs := r.LastFrame()
	if fs.BVHRebuilt || fs.Uploaded {
		t.Errorf("frame stats %+v, want no build or upload", fs)
	}
}

func TestRenderBatchCullingMatchesBruteForce(t *testing.T) {
	cam := lookingAtOrigin()
	models, transforms := lineScene(16)

	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 1
	base := &recorder{}
	r := NewAccelerated(base, gpu.NewNullDevice(), settings)
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}

	instances, err := sdfaccel.NewInstances(models, transforms)
	if err != nil {
		t.Fatal(err)
	}
	f := cam.Frustum()
	want := make(map[mgl32.Mat4]bool)
	for _, inst := range instances {
		if f.IntersectsAABB(inst.WorldBounds) {
			want[inst.Transform] = true
		}
	}
	if len(want) == 0 || len(want) == len(instances) {
		t.Fatalf("degenerate culling scene: %d of %d visible", len(want), len(instances))
	}
	if len(base.transforms) != len(want) {
		t.Fatalf("rendered %d instances, brute force frustum keeps %d", len(base.transforms), len(want))
	}
	for _, xf := range base.transforms {
		if !want[xf] {
			t.Errorf("rendered culled instance with transform %v", xf)
		}
	}
	fs := r.LastFrame()
	if fs.Culled != len(instances)-len(want) {
		t.Errorf("Culled = %d, want %d", fs.Culled, len(instances)-len(want))
	}
	if !fs.BVHRebuilt {
		t.Error("first frame did not build the hierarchy")
	}
}

func TestRenderBatchRefitNotRebuild(t *testing.T) {
	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 1
	settings.EnableFrustumCulling = false
	base := &recorder{}
	r := NewAccelerated(base, gpu.NewNullDevice(), settings)
	cam := lookingAtOrigin()

	models, transforms := lineScene(8)
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	if !r.LastFrame().BVHRebuilt {
		t.Fatal("first frame must build")
	}

	// Second frame, identical transforms: neither build nor refit.
	base.reset()
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	fs := r.LastFrame()
	if fs.BVHRebuilt || fs.BVHRefit {
		t.Errorf("static frame stats %+v, want no build and no refit", fs)
	}

	// Third frame, one nudged transform: refit only.
	base.reset()
	transforms[3] = mgl32.Translate3D(12.5, 0.25, 0)
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	fs = r.LastFrame()
	if fs.BVHRebuilt {
		t.Error("transform nudge triggered a rebuild")
	}
	if !fs.BVHRefit {
		t.Error("transform nudge did not refit")
	}
	root := r.BVH().RootBounds()
	if !root.Contains(mgl32.Vec3{12.5, 0.25, 0}) {
		t.Errorf("refit root bounds %v do not cover moved instance", root)
	}

	// Count change forces a rebuild.
	models2, transforms2 := lineScene(9)
	if err := r.RenderBatch(models2, transforms2, cam); err != nil {
		t.Fatal(err)
	}
	if !r.LastFrame().BVHRebuilt {
		t.Error("instance count change did not rebuild")
	}
}

func TestRenderBatchDegenerateInstanceStable(t *testing.T) {
	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 1
	settings.EnableFrustumCulling = false
	base := &recorder{}
	r := NewAccelerated(base, nil, settings)
	cam := lookingAtOrigin()

	models, transforms := lineScene(6)
	// One model with empty bounds: nothing to draw, nothing to cull.
	models[2] = sdfaccel.FieldFunc{
		Func: func(p mgl32.Vec3) float32 { return 1 },
		BB:   sdfaccel.EmptyAABB(),
	}
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	fs := r.LastFrame()
	if fs.Instances != 5 || fs.Rendered != 5 || fs.Culled != 0 {
		t.Errorf("frame stats %+v, want 5 drawable instances and no culls", fs)
	}

	// A static second frame must not rebuild just because one instance
	// was degenerate.
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	fs = r.LastFrame()
	if fs.BVHRebuilt || fs.BVHRefit {
		t.Errorf("static frame stats %+v, want no build and no refit", fs)
	}
}

func TestRenderBatchRebuildEachFrame(t *testing.T) {
	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 1
	settings.RebuildEachFrame = true
	base := &recorder{}
	r := NewAccelerated(base, nil, settings)
	cam := lookingAtOrigin()
	models, transforms := lineScene(6)
	for frame := 0; frame < 3; frame++ {
		if err := r.RenderBatch(models, transforms, cam); err != nil {
			t.Fatal(err)
		}
		if !r.LastFrame().BVHRebuilt {
			t.Errorf("frame %d did not rebuild", frame)
		}
	}
}

func TestRenderBatchUploadsAndBinds(t *testing.T) {
	dev := gpu.NewNullDevice()
	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 1
	base := &recorder{}
	r := NewAccelerated(base, dev, settings)
	cam := lookingAtOrigin()
	models, transforms := lineScene(8)

	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	if !r.LastFrame().Uploaded {
		t.Error("first frame did not upload")
	}
	if dev.Bound[bvh.NodeBufferSlot] == 0 || dev.Bound[bvh.IndexBufferSlot] == 0 {
		t.Errorf("hierarchy buffers not bound: %v", dev.Bound)
	}

	// Static second frame reuses the upload.
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	if r.LastFrame().Uploaded {
		t.Error("static frame re-uploaded")
	}

	// Refit invalidates the GPU copy, so the next frame uploads again.
	transforms[2] = mgl32.Translate3D(8, 1, 0)
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	if !r.LastFrame().Uploaded {
		t.Error("refit frame did not re-upload")
	}
}

func TestRenderBatchDegradesOnUploadFailure(t *testing.T) {
	dev := gpu.NewNullDevice()
	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 1
	settings.EnableFrustumCulling = false
	base := &recorder{}
	r := NewAccelerated(base, dev, settings)
	cam := lookingAtOrigin()
	models, transforms := lineScene(8)

	dev.FailNext = true
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatalf("upload failure escaped as frame error: %v", err)
	}
	fs := r.LastFrame()
	if !fs.Degraded {
		t.Error("upload failure did not mark the frame degraded")
	}
	if fs.Uploaded {
		t.Error("failed upload reported as uploaded")
	}
	if len(base.transforms) != 8 {
		t.Errorf("degraded frame rendered %d of 8 instances", len(base.transforms))
	}

	// Device recovered: next frame uploads.
	base.reset()
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	if !r.LastFrame().Uploaded {
		t.Error("recovered device did not upload")
	}
}

func TestRenderBatchPropagatesBaseError(t *testing.T) {
	wantErr := errors.New("shader compile failed")
	base := &recorder{err: wantErr}
	r := NewAccelerated(base, nil, DefaultAccelerationSettings())
	models, transforms := lineScene(2)
	if err := r.RenderBatch(models, transforms, lookingAtOrigin()); !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want base renderer error", err)
	}
}

func TestRenderWithOctree(t *testing.T) {
	dev := gpu.NewNullDevice()
	base := &recorder{}
	r := NewAccelerated(base, dev, DefaultAccelerationSettings())
	cam := lookingAtOrigin()

	err := r.RenderWithOctree(testSphere{radius: 1}, cam, mgl32.Ident4())
	if err != nil {
		t.Fatal(err)
	}
	if !r.Octree().IsBuilt() {
		t.Fatal("octree not built lazily")
	}
	if !r.Octree().IsGPUValid() {
		t.Error("octree not uploaded")
	}
	if len(base.transforms) != 1 {
		t.Errorf("delegated %d draws, want 1", len(base.transforms))
	}

	// Second call reuses the voxelization.
	evals := r.Octree().Stats().Evaluations
	if err := r.RenderWithOctree(testSphere{radius: 1}, cam, mgl32.Ident4()); err != nil {
		t.Fatal(err)
	}
	if got := r.Octree().Stats().Evaluations; got != evals {
		t.Errorf("second frame re-voxelized: %d evaluations, had %d", got, evals)
	}

	if err := r.RenderWithOctree(nil, cam, mgl32.Ident4()); err == nil {
		t.Error("nil model did not error")
	}
}

func TestRenderWithBrickMap(t *testing.T) {
	dev := gpu.NewNullDevice()
	base := &recorder{}
	settings := DefaultAccelerationSettings()
	settings.Bricks.WorldVoxelSize = 0.5
	r := NewAccelerated(base, dev, settings)
	cam := lookingAtOrigin()

	err := r.RenderWithBrickMap(testSphere{radius: 2}, cam, mgl32.Ident4())
	if err != nil {
		t.Fatal(err)
	}
	if !r.BrickMap().IsBuilt() {
		t.Fatal("brick map not built lazily")
	}
	if !r.BrickMap().IsGPUValid() {
		t.Error("brick map not uploaded")
	}
	if len(base.transforms) != 1 {
		t.Errorf("delegated %d draws, want 1", len(base.transforms))
	}

	// Dirty region refreshed before the next frame's upload.
	r.BrickMap().MarkRegionDirty(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	if err := r.RenderWithBrickMap(testSphere{radius: 2}, cam, mgl32.Ident4()); err != nil {
		t.Fatal(err)
	}
	if !r.BrickMap().IsGPUValid() {
		t.Error("dirty update left GPU copy stale")
	}
}

func TestInvalidateAcceleration(t *testing.T) {
	base := &recorder{}
	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 1
	r := NewAccelerated(base, gpu.NewNullDevice(), settings)
	cam := lookingAtOrigin()
	models, transforms := lineScene(6)
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	if err := r.RenderWithOctree(testSphere{radius: 1}, cam, mgl32.Ident4()); err != nil {
		t.Fatal(err)
	}
	if r.AccelerationStats() == 0 {
		t.Fatal("no acceleration memory accounted before invalidation")
	}
	r.InvalidateAcceleration()
	if r.BVH().IsBuilt() || r.Octree().IsBuilt() || r.BrickMap().IsBuilt() {
		t.Error("structures survive invalidation")
	}
	if err := r.RenderBatch(models, transforms, cam); err != nil {
		t.Fatal(err)
	}
	if !r.LastFrame().BVHRebuilt {
		t.Error("frame after invalidation did not rebuild")
	}
}

func TestReleaseGPU(t *testing.T) {
	dev := gpu.NewNullDevice()
	settings := DefaultAccelerationSettings()
	settings.MaxInstancesBeforeAcceleration = 1
	r := NewAccelerated(&recorder{}, dev, settings)
	models, transforms := lineScene(6)
	if err := r.RenderBatch(models, transforms, lookingAtOrigin()); err != nil {
		t.Fatal(err)
	}
	if dev.LiveBuffers() == 0 {
		t.Fatal("no buffers live after upload")
	}
	r.ReleaseGPU()
	if n := dev.LiveBuffers(); n != 0 {
		t.Errorf("%d buffers leaked after release", n)
	}
	if !r.BVH().IsBuilt() {
		t.Error("release dropped CPU-side hierarchy")
	}
}

func TestCameraFrustumContainsLookTarget(t *testing.T) {
	cam := NewPerspectiveCamera(
		mgl32.Vec3{5, 3, 8}, mgl32.Vec3{1, 0, 0}, mgl32.Vec3{0, 1, 0},
		mgl32.DegToRad(60), 16.0/9.0, 0.1, 50,
	)
	f := cam.Frustum()
	if !f.ContainsPoint(mgl32.Vec3{1, 0, 0}) {
		t.Error("look target outside frustum")
	}
	behind := cam.Position.Add(cam.Position.Sub(mgl32.Vec3{1, 0, 0}))
	if f.ContainsPoint(behind) {
		t.Error("point behind camera inside frustum")
	}
}
