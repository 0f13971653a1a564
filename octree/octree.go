// Package octree implements a sparse voxel octree over a signed
// distance field. Each node stores the conservative minimum and
// maximum distance sampled inside its cell; subdivision follows the
// surface, so empty and solid space terminate early and raymarchers
// can skip it in large steps.
package octree

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/gpu"
)

// Node is one octree cell. Children are packed: ChildIndex points at
// the first existing child in the node arena and bit i of ChildMask
// marks the presence of octant i. A zero mask is a leaf.
type Node struct {
	ChildMask   uint8
	ChildIndex  int32
	MinDistance float32
	MaxDistance float32
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.ChildMask == 0 }

// NodeSize is the byte size of one GPU encoded node: child mask and
// child index widened to uint32 plus the two distances.
const NodeSize = 16

// Settings controls voxelization.
type Settings struct {
	// MaxDepth is the deepest subdivision level. Depth 0 is the root.
	MaxDepth int
	// SamplesPerAxis is the grid resolution used to estimate a node's
	// distance interval. Must be at least 2 (cell corners).
	SamplesPerAxis int
	// SurfaceThickness widens the band considered "near the surface";
	// nodes whose interval clears the band stop subdividing.
	SurfaceThickness float32
}

// DefaultSettings are tuned for scene-scale empty space skipping.
func DefaultSettings() Settings {
	return Settings{
		MaxDepth:         6,
		SamplesPerAxis:   3,
		SurfaceThickness: 0.05,
	}
}

// Stats summarizes the last voxelization.
type Stats struct {
	NodeCount   int
	LeafCount   int
	MaxDepth    int
	Evaluations int
	MemoryBytes int
}

// Tree is a sparse min/max distance octree. The zero value is unbuilt.
type Tree struct {
	nodes    []Node
	bounds   sdfaccel.AABB
	settings Settings
	built    bool
	stats    Stats

	gpuValid  bool
	nodeBuf   gpu.Buffer
	hasGPUBuf bool
}

// IsBuilt reports whether Voxelize has produced a usable tree.
func (t *Tree) IsBuilt() bool { return t.built }

// Bounds returns the root cell, or an empty box when unbuilt.
func (t *Tree) Bounds() sdfaccel.AABB {
	if !t.built {
		return sdfaccel.EmptyAABB()
	}
	return t.bounds
}

// Nodes exposes the node arena for inspection. Must not be mutated.
func (t *Tree) Nodes() []Node { return t.nodes }

// Stats returns statistics from the last voxelization.
func (t *Tree) Stats() Stats { return t.stats }

// Settings returns the settings of the last voxelization.
func (t *Tree) Settings() Settings { return t.settings }

// MemoryUsage returns the CPU footprint in bytes.
func (t *Tree) MemoryUsage() int {
	// ChildMask padding included: the arena element is 16 bytes on
	// 64 bit platforms either way.
	return len(t.nodes) * NodeSize
}

// Clear discards the tree. GPU handles are invalidated, not freed.
func (t *Tree) Clear() {
	t.nodes = nil
	t.built = false
	t.stats = Stats{}
	t.gpuValid = false
}

// Voxelize builds the tree over sdf inside bounds. Panics if
// SamplesPerAxis < 2 (programmer error); degenerate bounds leave the
// tree unbuilt without error.
func (t *Tree) Voxelize(sdf sdfaccel.SDF3, bounds sdfaccel.AABB, settings Settings) {
	if settings.SamplesPerAxis < 2 {
		panic("octree: SamplesPerAxis must be at least 2")
	}
	if settings.MaxDepth < 0 {
		settings.MaxDepth = 0
	}
	t.built = false
	t.gpuValid = false
	t.nodes = t.nodes[:0]
	t.stats = Stats{}
	if sdf == nil || bounds.Empty() || bounds.Volume() == 0 {
		return
	}
	t.bounds = bounds
	t.settings = settings

	cache := newSampleCache(bounds, settings)
	v := &voxelizer{tree: t, sdf: sdf, cache: cache}

	rootMin, rootMax := v.sampleInterval(bounds, 0)
	t.nodes = append(t.nodes, Node{MinDistance: rootMin, MaxDistance: rootMax})
	v.subdivide(0, bounds, 0)

	t.built = true
	t.recomputeStats()
	t.stats.Evaluations = cache.evaluations
}

type voxelizer struct {
	tree  *Tree
	sdf   sdfaccel.SDF3
	cache *sampleCache
}

// sampleInterval estimates the distance interval inside cell by
// sampling a regular grid including the cell corners.
func (v *voxelizer) sampleInterval(cell sdfaccel.AABB, depth int) (min, max float32) {
	n := v.tree.settings.SamplesPerAxis
	size := cell.Size()
	step := size.Mul(1 / float32(n-1))
	min = math32.Inf(1)
	max = math32.Inf(-1)
	for iz := 0; iz < n; iz++ {
		for iy := 0; iy < n; iy++ {
			for ix := 0; ix < n; ix++ {
				p := cell.Min.Add(mgl32.Vec3{
					step[0] * float32(ix),
					step[1] * float32(iy),
					step[2] * float32(iz),
				})
				d := v.cache.evaluate(v.sdf, p)
				if d < min {
					min = d
				}
				if d > max {
					max = d
				}
			}
		}
	}
	return min, max
}

// nearSurface reports whether the sampled interval may touch the
// surface band. slack widens the test by the half diagonal of the
// inter-sample cell, since the surface can pass between samples.
func (t *Tree) nearSurface(min, max float32, cell sdfaccel.AABB) bool {
	n := float32(t.settings.SamplesPerAxis - 1)
	sub := cell.Size().Mul(1 / n)
	slack := 0.5 * sub.Len()
	band := t.settings.SurfaceThickness + slack
	return min <= band && max >= -band
}

// subdivide grows children under nodeIdx. Children of one parent are
// allocated as a contiguous block before recursing so ChildIndex plus
// a popcount of the mask bits below an octant addresses it directly.
func (v *voxelizer) subdivide(nodeIdx int32, cell sdfaccel.AABB, depth int) {
	t := v.tree
	node := t.nodes[nodeIdx]
	if depth >= t.settings.MaxDepth || !t.nearSurface(node.MinDistance, node.MaxDistance, cell) {
		return
	}

	type childInfo struct {
		cell     sdfaccel.AABB
		min, max float32
	}
	var children [8]childInfo
	var mask uint8
	for i := 0; i < 8; i++ {
		cc := octant(cell, i)
		cmin, cmax := v.sampleInterval(cc, depth+1)
		// Octants entirely clear of the surface are represented by the
		// parent interval; only near-surface octants become nodes.
		if !t.nearSurface(cmin, cmax, cc) {
			continue
		}
		mask |= 1 << i
		children[i] = childInfo{cell: cc, min: cmin, max: cmax}
	}
	if mask == 0 {
		return
	}

	first := int32(len(t.nodes))
	t.nodes[nodeIdx].ChildMask = mask
	t.nodes[nodeIdx].ChildIndex = first
	for i := 0; i < 8; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		t.nodes = append(t.nodes, Node{
			MinDistance: children[i].min,
			MaxDistance: children[i].max,
		})
	}
	child := first
	for i := 0; i < 8; i++ {
		if mask&(1<<i) == 0 {
			continue
		}
		v.subdivide(child, children[i].cell, depth+1)
		child++
	}
}

// octant returns the i-th child cell; bit 0 selects +X, bit 1 +Y,
// bit 2 +Z.
func octant(cell sdfaccel.AABB, i int) sdfaccel.AABB {
	c := cell.Center()
	min, max := cell.Min, c
	if i&1 != 0 {
		min[0], max[0] = c[0], cell.Max[0]
	}
	if i&2 != 0 {
		min[1], max[1] = c[1], cell.Max[1]
	}
	if i&4 != 0 {
		min[2], max[2] = c[2], cell.Max[2]
	}
	return sdfaccel.AABB{Min: min, Max: max}
}

func (t *Tree) recomputeStats() {
	s := Stats{NodeCount: len(t.nodes), MemoryBytes: t.MemoryUsage()}
	for i := range t.nodes {
		if t.nodes[i].IsLeaf() {
			s.LeafCount++
		}
	}
	s.MaxDepth = t.depthBelow(0)
	t.stats = s
}

func (t *Tree) depthBelow(idx int32) int {
	n := &t.nodes[idx]
	if n.IsLeaf() {
		return 0
	}
	deepest := 0
	child := n.ChildIndex
	for i := 0; i < 8; i++ {
		if n.ChildMask&(1<<i) == 0 {
			continue
		}
		if d := t.depthBelow(child); d > deepest {
			deepest = d
		}
		child++
	}
	return 1 + deepest
}
