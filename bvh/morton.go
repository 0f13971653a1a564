package bvh

import (
	"runtime"
	"sort"
	"sync"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/internal/d3f"
)

// mortonBits is the per-axis resolution of the 30 bit Morton grid.
const mortonBits = 10

// expandBits3 spreads the low 10 bits of v so consecutive bits end up 3
// apart, making room to interleave the other two axes.
func expandBits3(v uint32) uint32 {
	v = (v * 0x00010001) & 0xFF0000FF
	v = (v * 0x00000101) & 0x0F00F00F
	v = (v * 0x00000011) & 0xC30C30C3
	v = (v * 0x00000005) & 0x49249249
	return v
}

// mortonEncode maps a point in [0,1)^3 to its 30 bit Morton code.
func mortonEncode(x, y, z float32) uint32 {
	const scale = 1 << mortonBits
	xi := uint32(d3f.Clamp(x*scale, 0, scale-1))
	yi := uint32(d3f.Clamp(y*scale, 0, scale-1))
	zi := uint32(d3f.Clamp(z*scale, 0, scale-1))
	return expandBits3(xi)<<2 | expandBits3(yi)<<1 | expandBits3(zi)
}

// assignMortonCodes computes a code per primitive from its centroid
// normalized to the scene centroid bounds.
func (b *builder) assignMortonCodes() {
	cb := sdfaccel.EmptyAABB()
	for i := range b.prims {
		cb = cb.Include(b.prims[i].centroid)
	}
	size := cb.Size()
	for i := 0; i < 3; i++ {
		if size[i] <= 0 {
			size[i] = 1
		}
	}
	for i := range b.prims {
		rel := d3f.DivElem(b.prims[i].centroid.Sub(cb.Min), size)
		b.prims[i].morton = mortonEncode(rel[0], rel[1], rel[2])
	}
}

// sortByMorton orders primitives by code. Under ParallelBuild the sort
// runs as a chunked merge sort across the available CPUs.
func (b *builder) sortByMorton() {
	less := func(p, q primInfo) bool { return p.morton < q.morton }
	if !b.settings.ParallelBuild || len(b.prims) < parallelGrain {
		sort.Slice(b.prims, func(i, j int) bool { return less(b.prims[i], b.prims[j]) })
		return
	}
	parallelMergeSort(b.prims, runtime.NumCPU(), less)
}

func parallelMergeSort(s []primInfo, workers int, less func(p, q primInfo) bool) {
	if workers <= 1 || len(s) < parallelGrain {
		sort.Slice(s, func(i, j int) bool { return less(s[i], s[j]) })
		return
	}
	mid := len(s) / 2
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		parallelMergeSort(s[:mid], workers/2, less)
	}()
	parallelMergeSort(s[mid:], workers-workers/2, less)
	wg.Wait()
	merge(s, mid, less)
}

// merge combines the two sorted halves s[:mid] and s[mid:] in place
// using a scratch copy of the left half.
func merge(s []primInfo, mid int, less func(p, q primInfo) bool) {
	left := make([]primInfo, mid)
	copy(left, s[:mid])
	i, j, k := 0, mid, 0
	for i < len(left) && j < len(s) {
		if less(s[j], left[i]) {
			s[k] = s[j]
			j++
		} else {
			s[k] = left[i]
			i++
		}
		k++
	}
	for i < len(left) {
		s[k] = left[i]
		i++
		k++
	}
}
