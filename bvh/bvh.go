// Package bvh implements a bounding volume hierarchy over SDF
// instances for frustum culling, ray queries and broad-phase lookups.
// The tree is stored as a flat node array in the exact layout consumed
// by GPU raymarch shaders so it can be uploaded without repacking.
package bvh

import (
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/gpu"
)

// Strategy selects the split heuristic used during Build.
type Strategy int

const (
	// SAH minimizes the surface area heuristic cost with bucketed
	// sweeps. Best query performance, slowest build.
	SAH Strategy = iota
	// Middle splits at the spatial midpoint of the centroid extent.
	Middle
	// EqualCounts splits the primitive set in half along the widest
	// centroid axis.
	EqualCounts
	// HLBVH sorts primitives by Morton code and median-splits the
	// sorted range. Intended for scenes large enough that SAH build
	// time dominates.
	HLBVH
)

func (s Strategy) String() string {
	switch s {
	case SAH:
		return "SAH"
	case Middle:
		return "Middle"
	case EqualCounts:
		return "EqualCounts"
	case HLBVH:
		return "HLBVH"
	}
	return "unknown"
}

// BuildSettings controls tree construction.
type BuildSettings struct {
	Strategy Strategy
	// MaxLeafSize is the primitive count at which subdivision stops.
	MaxLeafSize int
	// MaxDepth bounds recursion; ranges deeper than this become leaves.
	MaxDepth int
	// SAHBuckets is the number of candidate split planes per axis
	// evaluated by the SAH strategy.
	SAHBuckets int
	// ParallelBuild subdivides disjoint primitive ranges on separate
	// goroutines and parallelizes the HLBVH Morton sort.
	ParallelBuild bool
}

// DefaultBuildSettings match the constants the renderer uses when the
// caller does not care.
func DefaultBuildSettings() BuildSettings {
	return BuildSettings{
		Strategy:      SAH,
		MaxLeafSize:   4,
		MaxDepth:      32,
		SAHBuckets:    12,
		ParallelBuild: false,
	}
}

// Node is one flattened tree node. The layout is 48 bytes matching the
// std430 struct the raymarch shader reads: leaves have LeftChild ==
// RightChild == -1 and reference a contiguous run of the primitive
// index array; interior nodes have PrimitiveCount == 0. A node's box
// always contains its subtree.
type Node struct {
	AABBMin        mgl32.Vec3
	_              float32
	AABBMax        mgl32.Vec3
	_              float32
	LeftChild      int32
	RightChild     int32
	PrimitiveStart int32
	PrimitiveCount int32
}

// NodeSize is the byte size of one encoded Node.
const NodeSize = 48

// IsLeaf reports whether the node references primitives directly.
func (n *Node) IsLeaf() bool { return n.LeftChild < 0 }

// Bounds returns the node box as an AABB value.
func (n *Node) Bounds() sdfaccel.AABB {
	return sdfaccel.AABB{Min: n.AABBMin, Max: n.AABBMax}
}

// Stats summarizes the last build.
type Stats struct {
	NodeCount            int
	LeafCount            int
	MaxDepth             int
	AvgPrimitivesPerLeaf float32
	BuildTime            time.Duration
	MemoryBytes          int
}

// Tree is a BVH over scene instances. The zero value is an empty,
// unbuilt tree ready for Build. Tree is not safe for concurrent
// mutation; concurrent queries are fine.
type Tree struct {
	nodes            []Node
	primitiveIndices []int32
	instances        []sdfaccel.Instance
	settings         BuildSettings
	stats            Stats
	built            bool

	gpuValid  bool
	nodeBuf   gpu.Buffer
	indexBuf  gpu.Buffer
	hasGPUBuf bool
}

// IsBuilt reports whether the tree holds a usable hierarchy. Queries
// against an unbuilt tree return empty results.
func (t *Tree) IsBuilt() bool { return t.built }

// Stats returns statistics from the last successful build.
func (t *Tree) Stats() Stats { return t.stats }

// Settings returns the settings of the last build.
func (t *Tree) Settings() BuildSettings { return t.settings }

// Nodes exposes the flattened node array, e.g. for debug visualization.
// The slice must not be mutated.
func (t *Tree) Nodes() []Node { return t.nodes }

// Instances returns the instance set the tree was built over. Indices
// returned by queries index into this slice.
func (t *Tree) Instances() []sdfaccel.Instance { return t.instances }

// RootBounds returns the world bounds of the whole scene, or an empty
// box when unbuilt.
func (t *Tree) RootBounds() sdfaccel.AABB {
	if !t.built {
		return sdfaccel.EmptyAABB()
	}
	return t.nodes[0].Bounds()
}

// Clear discards the hierarchy and instance set. GPU buffers are
// invalidated but not freed; call ReleaseGPU with the owning device
// for that.
func (t *Tree) Clear() {
	t.nodes = nil
	t.primitiveIndices = nil
	t.instances = nil
	t.stats = Stats{}
	t.built = false
	t.gpuValid = false
}

// MemoryUsage returns the CPU-side footprint in bytes.
func (t *Tree) MemoryUsage() int {
	return len(t.nodes)*NodeSize + len(t.primitiveIndices)*4
}

func (t *Tree) recomputeStats(buildTime time.Duration) {
	s := Stats{
		NodeCount:   len(t.nodes),
		BuildTime:   buildTime,
		MemoryBytes: t.MemoryUsage(),
	}
	var leafPrims int
	for i := range t.nodes {
		if t.nodes[i].IsLeaf() {
			s.LeafCount++
			leafPrims += int(t.nodes[i].PrimitiveCount)
		}
	}
	if s.LeafCount > 0 {
		s.AvgPrimitivesPerLeaf = float32(leafPrims) / float32(s.LeafCount)
	}
	s.MaxDepth = t.depthBelow(0)
	t.stats = s
}

func (t *Tree) depthBelow(idx int32) int {
	n := &t.nodes[idx]
	if n.IsLeaf() {
		return 1
	}
	l := t.depthBelow(n.LeftChild)
	r := t.depthBelow(n.RightChild)
	if r > l {
		l = r
	}
	return 1 + l
}
