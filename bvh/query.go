package bvh

import (
	"errors"
	"sort"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
)

// QueryFrustum returns the indices of instances whose world bounds
// intersect the frustum. Results are conservative (p-vertex plane
// tests) and in tree order.
func (t *Tree) QueryFrustum(f sdfaccel.Frustum) []int {
	if !t.built {
		return nil
	}
	var out []int
	t.queryFrustumNode(0, f, &out)
	return out
}

func (t *Tree) queryFrustumNode(idx int32, f sdfaccel.Frustum, out *[]int) {
	n := &t.nodes[idx]
	if !f.IntersectsAABB(n.Bounds()) {
		return
	}
	if n.IsLeaf() {
		for i := n.PrimitiveStart; i < n.PrimitiveStart+n.PrimitiveCount; i++ {
			pi := t.primitiveIndices[i]
			if f.IntersectsAABB(t.instances[pi].WorldBounds) {
				*out = append(*out, int(pi))
			}
		}
		return
	}
	t.queryFrustumNode(n.LeftChild, f, out)
	t.queryFrustumNode(n.RightChild, f, out)
}

// QueryAABB returns indices of instances whose world bounds overlap box.
func (t *Tree) QueryAABB(box sdfaccel.AABB) []int {
	if !t.built {
		return nil
	}
	var out []int
	t.queryAABBNode(0, box, &out)
	return out
}

func (t *Tree) queryAABBNode(idx int32, box sdfaccel.AABB, out *[]int) {
	n := &t.nodes[idx]
	if !n.Bounds().Intersects(box) {
		return
	}
	if n.IsLeaf() {
		for i := n.PrimitiveStart; i < n.PrimitiveStart+n.PrimitiveCount; i++ {
			pi := t.primitiveIndices[i]
			if t.instances[pi].WorldBounds.Intersects(box) {
				*out = append(*out, int(pi))
			}
		}
		return
	}
	t.queryAABBNode(n.LeftChild, box, out)
	t.queryAABBNode(n.RightChild, box, out)
}

// QuerySphere returns indices of instances whose world bounds come
// within radius of center. Traversal uses the sphere's enclosing box;
// leaf hits are filtered by exact box-to-center distance.
func (t *Tree) QuerySphere(center mgl32.Vec3, radius float32) []int {
	if !t.built || radius < 0 {
		return nil
	}
	r := mgl32.Vec3{radius, radius, radius}
	box := sdfaccel.AABB{Min: center.Sub(r), Max: center.Add(r)}
	candidates := t.QueryAABB(box)
	out := candidates[:0]
	r2 := radius * radius
	for _, idx := range candidates {
		if t.instances[idx].WorldBounds.SqDistToPoint(center) <= r2 {
			out = append(out, idx)
		}
	}
	return out
}

// RayHit is one instance whose bounds a ray enters, with parametric
// entry and exit distances along the ray.
type RayHit struct {
	Index       int
	TNear, TFar float32
}

// QueryRay returns instances whose world bounds the ray crosses within
// maxDist, sorted by entry distance. A non-positive maxDist means
// unlimited.
func (t *Tree) QueryRay(r sdfaccel.Ray, maxDist float32) []RayHit {
	if !t.built {
		return nil
	}
	unlimited := maxDist <= 0
	var out []RayHit
	stack := make([]int32, 0, 64)
	stack = append(stack, 0)
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[idx]
		tNear, _, hit := n.Bounds().IntersectRay(r)
		if !hit || (!unlimited && tNear > maxDist) {
			continue
		}
		if n.IsLeaf() {
			for i := n.PrimitiveStart; i < n.PrimitiveStart+n.PrimitiveCount; i++ {
				pi := t.primitiveIndices[i]
				tn, tf, ok := t.instances[pi].WorldBounds.IntersectRay(r)
				if !ok || (!unlimited && tn > maxDist) {
					continue
				}
				out = append(out, RayHit{Index: int(pi), TNear: tn, TFar: tf})
			}
			continue
		}
		stack = append(stack, n.LeftChild, n.RightChild)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TNear < out[j].TNear })
	return out
}

// FindClosestInstance returns the instance whose world bounds the ray
// enters first. Children are visited near first so far subtrees can be
// pruned against the best entry distance found so far. ok is false for
// unbuilt trees or when nothing is hit within maxDist.
func (t *Tree) FindClosestInstance(r sdfaccel.Ray, maxDist float32) (index int, dist float32, ok bool) {
	if !t.built {
		return 0, 0, false
	}
	if maxDist <= 0 {
		maxDist = mgl32.InfPos
	}
	best := maxDist
	bestIdx := -1
	var walk func(idx int32)
	walk = func(idx int32) {
		n := &t.nodes[idx]
		tNear, _, hit := n.Bounds().IntersectRay(r)
		if !hit || tNear > best {
			return
		}
		if n.IsLeaf() {
			for i := n.PrimitiveStart; i < n.PrimitiveStart+n.PrimitiveCount; i++ {
				pi := t.primitiveIndices[i]
				tn, _, okHit := t.instances[pi].WorldBounds.IntersectRay(r)
				if okHit && tn < best {
					best = tn
					bestIdx = int(pi)
				}
			}
			return
		}
		lNear, _, lHit := t.nodes[n.LeftChild].Bounds().IntersectRay(r)
		rNear, _, rHit := t.nodes[n.RightChild].Bounds().IntersectRay(r)
		first, second := n.LeftChild, n.RightChild
		if rHit && (!lHit || rNear < lNear) {
			first, second = second, first
		}
		walk(first)
		walk(second)
	}
	walk(0)
	if bestIdx < 0 {
		return 0, 0, false
	}
	return bestIdx, best, true
}

// Refit recomputes node bounds bottom-up from the current instance
// world bounds without changing topology. The flatten order guarantees
// children always follow their parent, so a reverse scan sees both
// children before each interior node.
func (t *Tree) Refit() {
	if !t.built {
		return
	}
	for i := len(t.nodes) - 1; i >= 0; i-- {
		n := &t.nodes[i]
		if n.IsLeaf() {
			bb := sdfaccel.EmptyAABB()
			for j := n.PrimitiveStart; j < n.PrimitiveStart+n.PrimitiveCount; j++ {
				bb = bb.Union(t.instances[t.primitiveIndices[j]].WorldBounds)
			}
			n.AABBMin, n.AABBMax = bb.Min, bb.Max
			continue
		}
		bb := t.nodes[n.LeftChild].Bounds().Union(t.nodes[n.RightChild].Bounds())
		n.AABBMin, n.AABBMax = bb.Min, bb.Max
	}
	t.gpuValid = false
}

// UpdateDynamic replaces the transforms of the given instances and
// rederives their world bounds. It does not refit the hierarchy: node
// boxes may no longer contain the moved instances until the caller runs
// Refit (small motion) or Build (large motion or topology drift).
func (t *Tree) UpdateDynamic(indices []int, transforms []mgl32.Mat4) error {
	if len(indices) != len(transforms) {
		return errors.New("bvh: indices and transforms length mismatch")
	}
	if !t.built {
		return errors.New("bvh: UpdateDynamic on unbuilt tree")
	}
	for _, idx := range indices {
		if idx < 0 || idx >= len(t.instances) {
			return errors.New("bvh: instance index out of range")
		}
	}
	for i, idx := range indices {
		t.instances[idx].SetTransform(transforms[i])
		t.instances[idx].Dynamic = true
	}
	t.gpuValid = false
	return nil
}
