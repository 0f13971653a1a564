package bvh

import (
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
)

// SAH cost constants relative to a unit primitive intersection.
const (
	sahTraversalCost = 0.125
	// parallelGrain is the minimum range size worth forking a goroutine
	// for during parallel builds.
	parallelGrain = 512
)

type primInfo struct {
	index    int32
	bounds   sdfaccel.AABB
	centroid mgl32.Vec3
	morton   uint32
}

// buildNode is the pointer-form node used during construction before
// flattening. left < 0 marks a leaf.
type buildNode struct {
	bounds       sdfaccel.AABB
	left, right  int32
	start, count int32
}

type builder struct {
	prims    []primInfo
	settings BuildSettings
	nodes    []buildNode
	root     int32
}

// Build constructs the hierarchy over instances. An empty or fully
// degenerate instance set leaves the tree unbuilt and returns nil;
// queries then return empty results. Instances with empty world bounds
// are skipped. The instances slice is copied.
func (t *Tree) Build(instances []sdfaccel.Instance, settings BuildSettings) error {
	start := time.Now()
	t.built = false
	t.gpuValid = false
	t.settings = sanitize(settings)

	kept := make([]sdfaccel.Instance, 0, len(instances))
	for i := range instances {
		if instances[i].WorldBounds.Empty() {
			continue
		}
		kept = append(kept, instances[i])
	}
	if len(kept) == 0 {
		t.nodes = nil
		t.primitiveIndices = nil
		t.instances = nil
		t.stats = Stats{}
		return nil
	}
	t.instances = kept

	prims := make([]primInfo, len(kept))
	for i := range kept {
		prims[i] = primInfo{
			index:    int32(i),
			bounds:   kept[i].WorldBounds,
			centroid: kept[i].WorldBounds.Center(),
		}
	}

	b := &builder{prims: prims, settings: t.settings}
	if t.settings.Strategy == HLBVH {
		b.assignMortonCodes()
		b.sortByMorton()
	}
	root := b.buildRange(0, int32(len(prims)), 0)

	t.primitiveIndices = make([]int32, len(prims))
	for i := range prims {
		t.primitiveIndices[i] = prims[i].index
	}
	t.nodes = make([]Node, len(b.nodes))
	var offset int32
	t.flatten(b.nodes, root, &offset)

	t.built = true
	t.recomputeStats(time.Since(start))
	return nil
}

func sanitize(s BuildSettings) BuildSettings {
	if s.MaxLeafSize < 1 {
		s.MaxLeafSize = 1
	}
	if s.MaxDepth < 1 {
		s.MaxDepth = 32
	}
	if s.SAHBuckets < 2 {
		s.SAHBuckets = 12
	}
	return s
}

func (b *builder) addNode(n buildNode) int32 {
	b.nodes = append(b.nodes, n)
	return int32(len(b.nodes) - 1)
}

func (b *builder) leaf(bounds sdfaccel.AABB, start, count int32) int32 {
	return b.addNode(buildNode{bounds: bounds, left: -1, right: -1, start: start, count: count})
}

// buildRange subdivides prims[start:end) and returns the subtree root
// index within b.nodes.
func (b *builder) buildRange(start, end int32, depth int) int32 {
	count := end - start
	bounds := sdfaccel.EmptyAABB()
	for i := start; i < end; i++ {
		bounds = bounds.Union(b.prims[i].bounds)
	}
	if count == 1 || depth >= b.settings.MaxDepth {
		return b.leaf(bounds, start, count)
	}
	mid, ok := b.split(start, end, bounds)
	if !ok {
		return b.leaf(bounds, start, count)
	}

	var left, right int32
	if b.settings.ParallelBuild && count >= parallelGrain {
		lb := &builder{prims: b.prims, settings: b.settings}
		rb := &builder{prims: b.prims, settings: b.settings}
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			lb.root = lb.buildRange(start, mid, depth+1)
		}()
		go func() {
			defer wg.Done()
			rb.root = rb.buildRange(mid, end, depth+1)
		}()
		wg.Wait()
		left = b.absorb(lb)
		right = b.absorb(rb)
	} else {
		left = b.buildRange(start, mid, depth+1)
		right = b.buildRange(mid, end, depth+1)
	}
	return b.addNode(buildNode{bounds: bounds, left: left, right: right})
}

// absorb appends a child builder's arena, rebasing internal indices.
func (b *builder) absorb(c *builder) int32 {
	off := int32(len(b.nodes))
	for _, n := range c.nodes {
		if n.left >= 0 {
			n.left += off
			n.right += off
		}
		b.nodes = append(b.nodes, n)
	}
	return c.root + off
}

// split partitions prims[start:end) by the configured strategy and
// returns the partition point. ok is false when the range should
// become a leaf instead.
func (b *builder) split(start, end int32, bounds sdfaccel.AABB) (mid int32, ok bool) {
	count := end - start
	centroidBounds := sdfaccel.EmptyAABB()
	for i := start; i < end; i++ {
		centroidBounds = centroidBounds.Include(b.prims[i].centroid)
	}
	axis := centroidBounds.LongestAxis()
	extent := centroidBounds.Size()[axis]
	if extent <= 1e-7 {
		// All centroids coincide. No split can separate anything.
		return 0, false
	}

	switch b.settings.Strategy {
	case Middle:
		if count <= int32(b.settings.MaxLeafSize) {
			return 0, false
		}
		pivot := (centroidBounds.Min[axis] + centroidBounds.Max[axis]) / 2
		mid = start + partition(b.prims[start:end], func(p primInfo) bool {
			return p.centroid[axis] < pivot
		})
		if mid == start || mid == end {
			mid = start + count/2
		}
		return mid, true

	case EqualCounts:
		if count <= int32(b.settings.MaxLeafSize) {
			return 0, false
		}
		seg := b.prims[start:end]
		sort.Slice(seg, func(i, j int) bool {
			return seg[i].centroid[axis] < seg[j].centroid[axis]
		})
		return start + count/2, true

	case HLBVH:
		// Range is already Morton sorted; median split preserves the
		// spatial clustering of the sort order.
		if count <= int32(b.settings.MaxLeafSize) {
			return 0, false
		}
		return start + count/2, true

	default: // SAH
		return b.splitSAH(start, end, bounds, centroidBounds, axis)
	}
}

type sahBucket struct {
	count  int32
	bounds sdfaccel.AABB
}

func (b *builder) splitSAH(start, end int32, bounds, centroidBounds sdfaccel.AABB, axis int) (int32, bool) {
	count := end - start
	if count <= int32(b.settings.MaxLeafSize) {
		return 0, false
	}
	if count == 2 {
		seg := b.prims[start:end]
		if seg[0].centroid[axis] > seg[1].centroid[axis] {
			seg[0], seg[1] = seg[1], seg[0]
		}
		return start + 1, true
	}

	nb := b.settings.SAHBuckets
	buckets := make([]sahBucket, nb)
	for i := range buckets {
		buckets[i].bounds = sdfaccel.EmptyAABB()
	}
	lo := centroidBounds.Min[axis]
	extent := centroidBounds.Size()[axis]
	bucketOf := func(p primInfo) int {
		bi := int(float32(nb) * (p.centroid[axis] - lo) / extent)
		if bi >= nb {
			bi = nb - 1
		}
		return bi
	}
	for i := start; i < end; i++ {
		bi := bucketOf(b.prims[i])
		buckets[bi].count++
		buckets[bi].bounds = buckets[bi].bounds.Union(b.prims[i].bounds)
	}

	// Cost of splitting after bucket i, in units of one primitive
	// intersection.
	bestCost := float32(0)
	bestBucket := -1
	invArea := 1 / bounds.SurfaceArea()
	for i := 0; i < nb-1; i++ {
		lb, rb := sdfaccel.EmptyAABB(), sdfaccel.EmptyAABB()
		var lc, rc int32
		for j := 0; j <= i; j++ {
			lb = lb.Union(buckets[j].bounds)
			lc += buckets[j].count
		}
		for j := i + 1; j < nb; j++ {
			rb = rb.Union(buckets[j].bounds)
			rc += buckets[j].count
		}
		if lc == 0 || rc == 0 {
			continue
		}
		cost := sahTraversalCost + (lb.SurfaceArea()*float32(lc)+rb.SurfaceArea()*float32(rc))*invArea
		if bestBucket < 0 || cost < bestCost {
			bestCost = cost
			bestBucket = i
		}
	}
	if bestBucket < 0 {
		// Every candidate put all primitives on one side.
		return 0, false
	}
	mid := start + partition(b.prims[start:end], func(p primInfo) bool {
		return bucketOf(p) <= bestBucket
	})
	if mid == start || mid == end {
		return 0, false
	}
	return mid, true
}

// partition reorders s so elements satisfying pred come first and
// returns their count.
func partition(s []primInfo, pred func(primInfo) bool) int32 {
	i := 0
	for j := range s {
		if pred(s[j]) {
			s[i], s[j] = s[j], s[i]
			i++
		}
	}
	return int32(i)
}

// flatten emits the subtree rooted at arena[idx] in preorder: a node is
// immediately followed by its whole left subtree, then its whole right
// subtree, so LeftChild is always the emitting offset plus one.
func (t *Tree) flatten(arena []buildNode, idx int32, offset *int32) {
	my := *offset
	*offset++
	bn := arena[idx]
	n := &t.nodes[my]
	n.AABBMin = bn.bounds.Min
	n.AABBMax = bn.bounds.Max
	if bn.left < 0 {
		n.LeftChild = -1
		n.RightChild = -1
		n.PrimitiveStart = bn.start
		n.PrimitiveCount = bn.count
		return
	}
	t.flatten(arena, bn.left, offset)
	n.LeftChild = my + 1
	n.RightChild = *offset
	t.flatten(arena, bn.right, offset)
}
