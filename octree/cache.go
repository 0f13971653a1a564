package octree

import (
	"sync"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
)

// sampleCache deduplicates distance evaluations during voxelization.
// Sample positions at every depth land on the lattice of the deepest
// level, so a sample shared by sibling or parent cells is computed
// once. Keys are integer lattice coordinates to avoid float identity
// issues.
type sampleCache struct {
	mu          sync.Mutex
	m           map[[3]int32]float32
	origin      mgl32.Vec3
	invSpacing  mgl32.Vec3
	evaluations int
}

func newSampleCache(bounds sdfaccel.AABB, settings Settings) *sampleCache {
	cells := float32(int32(1) << settings.MaxDepth)
	segs := float32(settings.SamplesPerAxis-1) * cells
	size := bounds.Size()
	var inv mgl32.Vec3
	for i := 0; i < 3; i++ {
		if size[i] > 0 {
			inv[i] = segs / size[i]
		}
	}
	return &sampleCache{
		m:          make(map[[3]int32]float32),
		origin:     bounds.Min,
		invSpacing: inv,
	}
}

func (c *sampleCache) evaluate(sdf sdfaccel.SDF3, p mgl32.Vec3) float32 {
	key := [3]int32{
		int32(math32.Round((p[0] - c.origin[0]) * c.invSpacing[0])),
		int32(math32.Round((p[1] - c.origin[1]) * c.invSpacing[1])),
		int32(math32.Round((p[2] - c.origin[2]) * c.invSpacing[2])),
	}
	c.mu.Lock()
	d, ok := c.m[key]
	c.mu.Unlock()
	if ok {
		return d
	}
	d = sdf.Evaluate(p)
	c.mu.Lock()
	c.m[key] = d
	c.evaluations++
	c.mu.Unlock()
	return d
}
