package octree

import (
	"math/bits"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
)

// marchMaxIterations caps traversal loops against degenerate geometry.
const marchMaxIterations = 4096

// DistanceEstimate returns the distance interval of the deepest node
// containing p. ok is false when the tree is unbuilt or p lies outside
// the root cell.
func (t *Tree) DistanceEstimate(p mgl32.Vec3) (min, max float32, ok bool) {
	if !t.built || !t.bounds.Contains(p) {
		return math32.Inf(1), math32.Inf(1), false
	}
	idx, _, _ := t.deepestNode(p)
	n := &t.nodes[idx]
	return n.MinDistance, n.MaxDistance, true
}

// deepestNode descends to the deepest node containing p. When p lies
// in an octant that was culled during voxelization, clear is true, idx
// is the enclosing node and cell is the culled octant: that region is
// known to hold no surface even though the enclosing node may. p must
// be inside the root cell.
func (t *Tree) deepestNode(p mgl32.Vec3) (idx int32, cell sdfaccel.AABB, clear bool) {
	cell = t.bounds
	for {
		n := &t.nodes[idx]
		if n.IsLeaf() {
			return idx, cell, false
		}
		c := cell.Center()
		oct := 0
		if p[0] >= c[0] {
			oct |= 1
		}
		if p[1] >= c[1] {
			oct |= 2
		}
		if p[2] >= c[2] {
			oct |= 4
		}
		if n.ChildMask&(1<<oct) == 0 {
			return idx, octant(cell, oct), true
		}
		rank := bits.OnesCount8(n.ChildMask & (1<<oct - 1))
		idx = n.ChildIndex + int32(rank)
		cell = octant(cell, oct)
	}
}

// occupied reports whether a node's interval may touch the surface
// band, i.e. whether a raymarcher must evaluate the field inside it.
func (t *Tree) occupied(n *Node) bool {
	return n.MinDistance <= t.settings.SurfaceThickness &&
		n.MaxDistance >= -t.settings.SurfaceThickness
}

// NextOccupiedVoxel walks from p along dir until it enters a node that
// may contain surface, skipping over clear cells in whole-cell steps.
// It returns the entry position and the distance traveled. ok is false
// when the ray leaves the tree or exceeds maxDist first.
func (t *Tree) NextOccupiedVoxel(p, dir mgl32.Vec3, maxDist float32) (pos mgl32.Vec3, travel float32, ok bool) {
	if !t.built || maxDist <= 0 {
		return pos, 0, false
	}
	r := sdfaccel.NewRay(p, dir)
	var tcur float32
	if !t.bounds.Contains(p) {
		tn, _, hit := t.bounds.IntersectRay(r)
		if !hit || tn > maxDist {
			return pos, 0, false
		}
		tcur = math32.Max(tn, 0) + t.stepEps(t.bounds)
	}
	for iter := 0; iter < marchMaxIterations; iter++ {
		if tcur > maxDist {
			return pos, 0, false
		}
		q := r.Point(tcur)
		if !t.bounds.Contains(q) {
			return pos, 0, false
		}
		idx, cell, clear := t.deepestNode(q)
		if !clear && t.occupied(&t.nodes[idx]) {
			return q, tcur, true
		}
		_, tExit, hit := cell.IntersectRay(r)
		if !hit || tExit <= tcur {
			// Numerical corner case; nudge forward.
			tExit = tcur
		}
		tcur = tExit + t.stepEps(cell)
	}
	return pos, 0, false
}

// stepEps is the forward nudge used when crossing a cell boundary so
// the next lookup lands inside the neighbor.
func (t *Tree) stepEps(cell sdfaccel.AABB) float32 {
	return 1e-4 * cell.Size().Len()
}

// Hit is the result of MarchRay.
type Hit struct {
	Hit      bool
	Position mgl32.Vec3
	Distance float32
	// Steps counts field evaluations.
	Steps int
	// SkippedRegions counts clear octree cells crossed without
	// evaluating the field.
	SkippedRegions int
}

// MarchRay sphere-traces sdf along r, using the tree to jump across
// clear space. epsilon is the surface hit tolerance; non-positive
// selects 1e-4. The miss result still carries the step counters.
func (t *Tree) MarchRay(sdf sdfaccel.SDF3, r sdfaccel.Ray, maxDist, epsilon float32) Hit {
	var h Hit
	if sdf == nil || maxDist <= 0 {
		return h
	}
	if epsilon <= 0 {
		epsilon = 1e-4
	}
	var tcur float32
	if t.built && !t.bounds.Contains(r.Origin) {
		tn, _, hit := t.bounds.IntersectRay(r)
		if !hit || tn > maxDist {
			return h
		}
		tcur = math32.Max(tn, 0) + t.stepEps(t.bounds)
	}
	for iter := 0; iter < marchMaxIterations; iter++ {
		if tcur > maxDist {
			return h
		}
		p := r.Point(tcur)
		if t.built {
			if !t.bounds.Contains(p) {
				return h
			}
			idx, cell, clear := t.deepestNode(p)
			if clear || !t.occupied(&t.nodes[idx]) {
				_, tExit, hitCell := cell.IntersectRay(r)
				if !hitCell || tExit <= tcur {
					tExit = tcur
				}
				tcur = tExit + t.stepEps(cell)
				h.SkippedRegions++
				continue
			}
		}
		d := sdf.Evaluate(p)
		h.Steps++
		if d < epsilon {
			h.Hit = true
			h.Position = p
			h.Distance = tcur
			return h
		}
		tcur += math32.Max(d, epsilon)
	}
	return h
}

// Update re-samples the distance intervals of every node overlapping
// region against sdf. Topology is unchanged: the tree is not
// re-subdivided, so edits that create surface inside previously clear
// cells need a full Voxelize to regain resolution there.
func (t *Tree) Update(sdf sdfaccel.SDF3, region sdfaccel.AABB) {
	if !t.built || sdf == nil || region.Empty() {
		return
	}
	cache := newSampleCache(t.bounds, t.settings)
	v := &voxelizer{tree: t, sdf: sdf, cache: cache}
	t.updateNode(v, 0, t.bounds, region)
	t.gpuValid = false
}

func (t *Tree) updateNode(v *voxelizer, idx int32, cell sdfaccel.AABB, region sdfaccel.AABB) {
	if !cell.Intersects(region) {
		return
	}
	min, max := v.sampleInterval(cell, 0)
	t.nodes[idx].MinDistance = min
	t.nodes[idx].MaxDistance = max
	n := t.nodes[idx]
	child := n.ChildIndex
	for i := 0; i < 8; i++ {
		if n.ChildMask&(1<<i) == 0 {
			continue
		}
		t.updateNode(v, child, octant(cell, i), region)
		child++
	}
}
