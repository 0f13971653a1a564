package octree

import (
	"math/bits"
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/gpu"
)

type testSphere struct {
	center mgl32.Vec3
	radius float32
}

func (s testSphere) Evaluate(p mgl32.Vec3) float32 {
	return p.Sub(s.center).Len() - s.radius
}

func (s testSphere) Bounds() sdfaccel.AABB {
	r := mgl32.Vec3{s.radius, s.radius, s.radius}
	return sdfaccel.AABB{Min: s.center.Sub(r), Max: s.center.Add(r)}
}

func testBounds() sdfaccel.AABB {
	return sdfaccel.NewAABB(mgl32.Vec3{-4, -4, -4}, mgl32.Vec3{4, 4, 4})
}

func buildSphereTree(t testing.TB, radius float32, settings Settings) *Tree {
	t.Helper()
	var tree Tree
	tree.Voxelize(testSphere{radius: radius}, testBounds(), settings)
	if !tree.IsBuilt() {
		t.Fatal("voxelize left tree unbuilt")
	}
	return &tree
}

func defaultTestSettings() Settings {
	return Settings{MaxDepth: 5, SamplesPerAxis: 3, SurfaceThickness: 0.05}
}

func TestVoxelizeDegenerate(t *testing.T) {
	var tree Tree
	tree.Voxelize(nil, testBounds(), defaultTestSettings())
	if tree.IsBuilt() {
		t.Error("nil sdf produced a built tree")
	}
	tree.Voxelize(testSphere{radius: 1}, sdfaccel.EmptyAABB(), defaultTestSettings())
	if tree.IsBuilt() {
		t.Error("empty bounds produced a built tree")
	}
	if _, _, ok := tree.DistanceEstimate(mgl32.Vec3{}); ok {
		t.Error("unbuilt tree answered a query")
	}
}

func TestVoxelizePanicsOnBadSamples(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for SamplesPerAxis < 2")
		}
	}()
	var tree Tree
	tree.Voxelize(testSphere{radius: 1}, testBounds(), Settings{MaxDepth: 3, SamplesPerAxis: 1})
}

// checkStructure verifies the packed-children arena: every node is
// reached exactly once and sibling blocks are contiguous.
func checkStructure(t *testing.T, tree *Tree) {
	t.Helper()
	nodes := tree.Nodes()
	visited := make([]bool, len(nodes))
	var walk func(idx int32)
	walk = func(idx int32) {
		if visited[idx] {
			t.Fatalf("node %d reached twice", idx)
		}
		visited[idx] = true
		n := &nodes[idx]
		if n.IsLeaf() {
			return
		}
		count := int32(bits.OnesCount8(n.ChildMask))
		if n.ChildIndex <= idx || int(n.ChildIndex+count) > len(nodes) {
			t.Fatalf("node %d child block [%d,%d) invalid", idx, n.ChildIndex, n.ChildIndex+count)
		}
		for i := int32(0); i < count; i++ {
			walk(n.ChildIndex + i)
		}
	}
	walk(0)
	for i, v := range visited {
		if !v {
			t.Fatalf("node %d unreachable", i)
		}
	}
}

func TestVoxelizeSphere(t *testing.T) {
	tree := buildSphereTree(t, 1, defaultTestSettings())
	checkStructure(t, tree)
	stats := tree.Stats()
	if stats.NodeCount != len(tree.Nodes()) || stats.LeafCount == 0 {
		t.Errorf("implausible stats %+v", stats)
	}
	if stats.MaxDepth != 5 {
		t.Errorf("depth %d, want the full 5 near the surface", stats.MaxDepth)
	}
	// The sparse tree must be far smaller than a dense depth-5 octree.
	if dense := (1<<15 - 1) * 8 / 7; stats.NodeCount >= dense {
		t.Errorf("%d nodes is not sparse (dense would be %d)", stats.NodeCount, dense)
	}
	// Sample cache keeps evaluations below the naive per-node count.
	if stats.Evaluations <= 0 || stats.Evaluations >= stats.NodeCount*27 {
		t.Errorf("cache ineffective: %d evaluations for %d nodes", stats.Evaluations, stats.NodeCount)
	}
	if tree.MemoryUsage() != stats.NodeCount*NodeSize {
		t.Error("memory usage mismatch")
	}
}

func TestDistanceEstimate(t *testing.T) {
	tree := buildSphereTree(t, 1, defaultTestSettings())
	// Deep inside the sphere: the interval reaches below zero.
	min, max, ok := tree.DistanceEstimate(mgl32.Vec3{0.05, 0.05, 0.05})
	if !ok || min >= 0 || min > max {
		t.Errorf("inside: min=%v max=%v ok=%v", min, max, ok)
	}
	// Far corner: the node covering it extends well away from the
	// surface, so its maximum is clearly positive.
	min, max, ok = tree.DistanceEstimate(mgl32.Vec3{3.5, 3.5, 3.5})
	if !ok || max <= 0 || min > max {
		t.Errorf("outside: min=%v max=%v ok=%v", min, max, ok)
	}
	// Outside the root cell.
	if _, _, ok = tree.DistanceEstimate(mgl32.Vec3{10, 0, 0}); ok {
		t.Error("out of bounds query reported ok")
	}
}

func TestDistanceEstimateBracketsField(t *testing.T) {
	tree := buildSphereTree(t, 1.3, defaultTestSettings())
	sdf := testSphere{radius: 1.3}
	// The node interval plus sampling slack must bracket the true
	// distance anywhere in the tree. Slack is bounded by the root cell
	// diagonal over the minimum subdivision actually applied, which the
	// half-diagonal band logic keeps under one coarse cell.
	slack := tree.Bounds().Size().Len() / 2
	for _, p := range []mgl32.Vec3{
		{0, 0, 0}, {1.29, 0, 0}, {-0.9, 0.9, 0}, {2, -2, 2}, {3.9, 0, -3.9},
	} {
		min, max, ok := tree.DistanceEstimate(p)
		if !ok {
			t.Fatalf("query at %v failed", p)
		}
		d := sdf.Evaluate(p)
		if d < min-slack || d > max+slack {
			t.Errorf("at %v: d=%v outside [%v,%v] with slack", p, d, min, max)
		}
	}
}

func TestNextOccupiedVoxel(t *testing.T) {
	tree := buildSphereTree(t, 1, defaultTestSettings())
	pos, travel, ok := tree.NextOccupiedVoxel(mgl32.Vec3{-3.5, 0.1, 0.1}, mgl32.Vec3{1, 0, 0}, 10)
	if !ok {
		t.Fatal("no occupied voxel found toward the sphere")
	}
	// Surface is at x = -1 (give or take the off-axis offset); the walk
	// must stop in a cell bordering it, well before brute-force stepping
	// would have.
	if pos[0] < -1.6 || pos[0] > -0.8 {
		t.Errorf("entry position %v not near the surface", pos)
	}
	if travel < 1.8 || travel > 2.8 {
		t.Errorf("travel %v implausible", travel)
	}

	// Ray missing the sphere entirely exits the tree.
	if _, _, ok = tree.NextOccupiedVoxel(mgl32.Vec3{-3.5, 3, 3}, mgl32.Vec3{1, 0, 0}, 100); ok {
		t.Error("found surface on a miss ray")
	}
	// maxDist too short.
	if _, _, ok = tree.NextOccupiedVoxel(mgl32.Vec3{-3.5, 0.1, 0.1}, mgl32.Vec3{1, 0, 0}, 1); ok {
		t.Error("exceeded maxDist")
	}
	// Origin outside the tree still works.
	if _, _, ok = tree.NextOccupiedVoxel(mgl32.Vec3{-10, 0.1, 0.1}, mgl32.Vec3{1, 0, 0}, 100); !ok {
		t.Error("ray entering from outside found nothing")
	}
}

func TestMarchRay(t *testing.T) {
	tree := buildSphereTree(t, 1, defaultTestSettings())
	sdf := testSphere{radius: 1}
	r := sdfaccel.NewRay(mgl32.Vec3{-3.5, 0.1, 0.1}, mgl32.Vec3{1, 0, 0})

	h := tree.MarchRay(sdf, r, 20, 1e-4)
	if !h.Hit {
		t.Fatal("accelerated march missed the sphere")
	}
	if d := sdf.Evaluate(h.Position); math32.Abs(d) > 1e-3 {
		t.Errorf("hit position off surface by %v", d)
	}
	if h.SkippedRegions == 0 {
		t.Error("no regions skipped crossing 2.5 units of empty space")
	}

	// Reference: plain sphere tracing through an unbuilt tree.
	var plain Tree
	ref := plain.MarchRay(sdf, r, 20, 1e-4)
	if !ref.Hit {
		t.Fatal("reference march missed")
	}
	if math32.Abs(ref.Distance-h.Distance) > 1e-2 {
		t.Errorf("accelerated hit at %v, reference at %v", h.Distance, ref.Distance)
	}
	if h.Steps == 0 || ref.SkippedRegions != 0 {
		t.Errorf("counters wrong: accel steps %d, reference skips %d", h.Steps, ref.SkippedRegions)
	}

	// Miss ray.
	miss := tree.MarchRay(sdf, sdfaccel.NewRay(mgl32.Vec3{-3.5, 3, 3}, mgl32.Vec3{1, 0, 0}), 20, 1e-4)
	if miss.Hit {
		t.Error("miss ray reported a hit")
	}
}

func TestUpdateRegion(t *testing.T) {
	tree := buildSphereTree(t, 1, defaultTestSettings())
	probe := mgl32.Vec3{0.05, 0.05, 0.05}
	minBefore, _, _ := tree.DistanceEstimate(probe)

	// Grow the sphere and re-sample everywhere: interior gets deeper.
	tree.Update(testSphere{radius: 2}, tree.Bounds())
	minAfter, _, _ := tree.DistanceEstimate(probe)
	if minAfter >= minBefore {
		t.Errorf("min %v -> %v, expected deeper interior after growth", minBefore, minAfter)
	}

	// Partial update leaves non-overlapping nodes untouched.
	tree2 := buildSphereTree(t, 1, defaultTestSettings())
	farProbe := mgl32.Vec3{3.5, 3.5, 3.5}
	farBefore, _, _ := tree2.DistanceEstimate(farProbe)
	region := sdfaccel.NewAABB(mgl32.Vec3{-4, -4, -4}, mgl32.Vec3{-0.5, -0.5, -0.5})
	tree2.Update(testSphere{radius: 2}, region)
	farAfter, _, _ := tree2.DistanceEstimate(farProbe)
	if farBefore != farAfter {
		t.Errorf("node outside region changed: %v -> %v", farBefore, farAfter)
	}
}

func TestOctreeGPU(t *testing.T) {
	dev := gpu.NewNullDevice()
	tree := buildSphereTree(t, 1, defaultTestSettings())

	data := EncodeNodes(tree.Nodes())
	if len(data) != len(tree.Nodes())*NodeSize {
		t.Fatalf("encoded %d bytes", len(data))
	}
	if err := tree.UploadToGPU(dev); err != nil {
		t.Fatal(err)
	}
	if !tree.IsGPUValid() {
		t.Error("upload did not validate")
	}
	tree.BindGPU(dev)
	if dev.Bound[NodeBufferSlot] == 0 {
		t.Error("node buffer not bound to slot 3")
	}

	tree.Update(testSphere{radius: 1.5}, tree.Bounds())
	if tree.IsGPUValid() {
		t.Error("update left GPU state valid")
	}
	if err := tree.UploadToGPU(dev); err != nil {
		t.Fatal(err)
	}
	if dev.LiveBuffers() != 1 {
		t.Errorf("re-upload leaked: %d buffers live", dev.LiveBuffers())
	}

	tex, err := tree.UploadDistanceTexture(dev, 8)
	if err != nil {
		t.Fatal(err)
	}
	if tex.Width != 8 || tex.Depth != 8 {
		t.Errorf("texture dims %dx%dx%d", tex.Width, tex.Height, tex.Depth)
	}
	tree.ReleaseGPU(dev)
	if dev.LiveBuffers() != 0 {
		t.Errorf("%d buffers after release", dev.LiveBuffers())
	}

	var unbuilt Tree
	if err := unbuilt.UploadToGPU(dev); err == nil {
		t.Error("unbuilt upload did not error")
	}
}

func BenchmarkVoxelize(b *testing.B) {
	settings := defaultTestSettings()
	for i := 0; i < b.N; i++ {
		var tree Tree
		tree.Voxelize(testSphere{radius: 1.2}, testBounds(), settings)
	}
}

func BenchmarkMarchRay(b *testing.B) {
	var tree Tree
	tree.Voxelize(testSphere{radius: 1}, testBounds(), defaultTestSettings())
	sdf := testSphere{radius: 1}
	r := sdfaccel.NewRay(mgl32.Vec3{-3.5, 0.1, 0.1}, mgl32.Vec3{1, 0, 0})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if h := tree.MarchRay(sdf, r, 20, 1e-4); !h.Hit {
			b.Fatal("miss")
		}
	}
}
