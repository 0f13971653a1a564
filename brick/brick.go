// Package brick implements a brick-map distance cache: the world is
// divided into a regular grid of 8x8x8 sample bricks holding
// precomputed field values. Identical-within-tolerance bricks share
// storage, dirty regions can be re-evaluated in place, and the map
// uploads to the GPU as a brick atlas plus an index texture.
package brick

import (
	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/internal/d3f"
)

// Size is the sample resolution of a brick per axis.
const Size = 8

// SamplesPerBrick is the flat sample count of one brick.
const SamplesPerBrick = Size * Size * Size

// Index addresses a brick in the map grid.
type Index struct {
	X, Y, Z int
}

// Brick is one grid cell. Samples is nil for deduplicated bricks; the
// canonical data lives in the brick whose ID equals CompressionID.
// Sample order is x fastest, then y, then z, at voxel centers.
type Brick struct {
	Samples       []float32
	Bounds        sdfaccel.AABB
	ID            int32
	CompressionID int32
	dirty         bool
}

// Settings controls map construction and maintenance.
type Settings struct {
	// WorldVoxelSize is the edge length of one sample voxel; a brick
	// covers Size times this.
	WorldVoxelSize float32
	// CompressTolerance is the per-sample difference under which two
	// bricks are considered identical and share storage. Zero demands
	// exact equality.
	CompressTolerance float32
	// UpdateThreshold is the per-sample difference under which a dirty
	// brick's re-evaluation is discarded as unchanged, keeping the GPU
	// copy valid.
	UpdateThreshold float32
}

// DefaultSettings use a quarter-unit voxel and matching tolerances.
func DefaultSettings() Settings {
	return Settings{
		WorldVoxelSize:    0.25,
		CompressTolerance: 1e-3,
		UpdateThreshold:   1e-3,
	}
}

// Stats summarizes the map state.
type Stats struct {
	BrickCount       int
	UniqueBricks     int
	CompressedBricks int
	DirtyBricks      int
	MemoryBytes      int
}

// Map is a brick-map distance cache. The zero value is unbuilt.
type Map struct {
	bricks     []Brick
	nx, ny, nz int
	origin     mgl32.Vec3
	settings   Settings
	built      bool

	gpuValid bool
	gpuRes   gpuResources
}

// IsBuilt reports whether Build has produced a usable map.
func (m *Map) IsBuilt() bool { return m.built }

// Settings returns the settings of the last build.
func (m *Map) Settings() Settings { return m.settings }

// GridSize returns the brick grid dimensions.
func (m *Map) GridSize() Index { return Index{m.nx, m.ny, m.nz} }

// Bounds returns the world region covered by the grid. The grid is
// quantized to whole bricks, so it may extend past the requested
// build bounds.
func (m *Map) Bounds() sdfaccel.AABB {
	if !m.built {
		return sdfaccel.EmptyAABB()
	}
	side := m.brickWorldSize()
	return sdfaccel.AABB{
		Min: m.origin,
		Max: m.origin.Add(mgl32.Vec3{
			float32(m.nx) * side,
			float32(m.ny) * side,
			float32(m.nz) * side,
		}),
	}
}

// Bricks exposes the brick array in grid order (x fastest). Must not
// be mutated.
func (m *Map) Bricks() []Brick { return m.bricks }

// BrickAt returns the brick covering idx, or nil when out of range.
func (m *Map) BrickAt(idx Index) *Brick {
	if !m.built || idx.X < 0 || idx.X >= m.nx ||
		idx.Y < 0 || idx.Y >= m.ny || idx.Z < 0 || idx.Z >= m.nz {
		return nil
	}
	return &m.bricks[m.flat(idx)]
}

func (m *Map) flat(idx Index) int {
	return idx.X + idx.Y*m.nx + idx.Z*m.nx*m.ny
}

func (m *Map) brickWorldSize() float32 {
	return Size * m.settings.WorldVoxelSize
}

// Clear discards the map. GPU handles are invalidated, not freed.
func (m *Map) Clear() {
	m.bricks = nil
	m.built = false
	m.gpuValid = false
}

// Stats returns the current map statistics.
func (m *Map) Stats() Stats {
	s := Stats{BrickCount: len(m.bricks)}
	for i := range m.bricks {
		switch {
		case m.bricks[i].CompressionID != 0:
			s.CompressedBricks++
		default:
			s.UniqueBricks++
			s.MemoryBytes += SamplesPerBrick * 4
		}
		if m.bricks[i].dirty {
			s.DirtyBricks++
		}
	}
	return s
}

// MemoryUsage returns the sample storage footprint in bytes.
func (m *Map) MemoryUsage() int { return m.Stats().MemoryBytes }

// CompressionRatio returns stored bricks over total bricks, 1 meaning
// no sharing.
func (m *Map) CompressionRatio() float32 {
	if len(m.bricks) == 0 {
		return 1
	}
	return float32(m.Stats().UniqueBricks) / float32(len(m.bricks))
}

// Build fills the grid covering [boundsMin, boundsMax] against sdf and
// runs compression. Panics if WorldVoxelSize is not positive
// (programmer error). Degenerate bounds or a nil sdf leave the map
// unbuilt and return nil. Batch-capable fields are evaluated one brick
// per batch; a batch failure aborts the build.
func (m *Map) Build(sdf sdfaccel.SDF3, boundsMin, boundsMax mgl32.Vec3, settings Settings) error {
	if settings.WorldVoxelSize <= 0 {
		panic("brick: WorldVoxelSize must be positive")
	}
	m.built = false
	m.gpuValid = false
	m.bricks = nil
	m.settings = settings
	box := sdfaccel.AABB{Min: boundsMin, Max: boundsMax}
	if sdf == nil || box.Empty() || box.Volume() == 0 {
		return nil
	}

	side := m.brickWorldSize()
	size := box.Size()
	m.nx = gridCells(size[0], side)
	m.ny = gridCells(size[1], side)
	m.nz = gridCells(size[2], side)
	m.origin = boundsMin

	m.bricks = make([]Brick, m.nx*m.ny*m.nz)
	for z := 0; z < m.nz; z++ {
		for y := 0; y < m.ny; y++ {
			for x := 0; x < m.nx; x++ {
				i := m.flat(Index{x, y, z})
				b := &m.bricks[i]
				b.ID = int32(i) + 1
				min := m.origin.Add(mgl32.Vec3{
					float32(x) * side, float32(y) * side, float32(z) * side,
				})
				b.Bounds = sdfaccel.AABB{Min: min, Max: min.Add(d3f.Elem(side))}
				if err := m.fillBrick(sdf, b); err != nil {
					m.bricks = nil
					return err
				}
			}
		}
	}
	m.built = true
	m.Compress()
	return nil
}

func gridCells(extent, side float32) int {
	n := int(math32.Ceil(extent / side))
	if n < 1 {
		n = 1
	}
	return n
}

// fillBrick evaluates the field at every voxel center of b.
func (m *Map) fillBrick(sdf sdfaccel.SDF3, b *Brick) error {
	if b.Samples == nil {
		b.Samples = make([]float32, SamplesPerBrick)
	}
	vox := m.settings.WorldVoxelSize
	if batch, ok := sdf.(sdfaccel.SDF3Batch); ok {
		pos := make([]mgl32.Vec3, SamplesPerBrick)
		i := 0
		for z := 0; z < Size; z++ {
			for y := 0; y < Size; y++ {
				for x := 0; x < Size; x++ {
					pos[i] = b.Bounds.Min.Add(mgl32.Vec3{
						(float32(x) + 0.5) * vox,
						(float32(y) + 0.5) * vox,
						(float32(z) + 0.5) * vox,
					})
					i++
				}
			}
		}
		return batch.EvaluateBatch(pos, b.Samples)
	}
	i := 0
	for z := 0; z < Size; z++ {
		for y := 0; y < Size; y++ {
			for x := 0; x < Size; x++ {
				p := b.Bounds.Min.Add(mgl32.Vec3{
					(float32(x) + 0.5) * vox,
					(float32(y) + 0.5) * vox,
					(float32(z) + 0.5) * vox,
				})
				b.Samples[i] = sdf.Evaluate(p)
				i++
			}
		}
	}
	return nil
}

// samplesOf resolves the sample storage through compression sharing.
func (m *Map) samplesOf(b *Brick) []float32 {
	if b.CompressionID != 0 {
		return m.bricks[b.CompressionID-1].Samples
	}
	return b.Samples
}

// IsCached reports whether p falls inside the cached region.
func (m *Map) IsCached(p mgl32.Vec3) bool {
	return m.built && m.Bounds().Contains(p)
}

// SampleDistance returns the trilinearly interpolated cached distance
// at p. ok is false outside the cached region. Interpolation clamps at
// brick borders, so values within half a voxel of a brick face are
// held rather than blended with the neighbor brick.
func (m *Map) SampleDistance(p mgl32.Vec3) (dist float32, ok bool) {
	if !m.IsCached(p) {
		return 0, false
	}
	side := m.brickWorldSize()
	rel := p.Sub(m.origin).Mul(1 / side)
	idx := Index{
		clampInt(int(rel[0]), m.nx-1),
		clampInt(int(rel[1]), m.ny-1),
		clampInt(int(rel[2]), m.nz-1),
	}
	b := &m.bricks[m.flat(idx)]
	samples := m.samplesOf(b)

	vox := m.settings.WorldVoxelSize
	local := p.Sub(b.Bounds.Min).Mul(1 / vox).Sub(d3f.Elem(0.5))
	var i0 [3]int
	var frac [3]float32
	for a := 0; a < 3; a++ {
		l := d3f.Clamp(local[a], 0, Size-1)
		i := int(l)
		if i > Size-2 {
			i = Size - 2
		}
		i0[a] = i
		frac[a] = l - float32(i)
	}
	var c [8]float32
	for k := 0; k < 8; k++ {
		x := i0[0] + k&1
		y := i0[1] + k>>1&1
		z := i0[2] + k>>2&1
		c[k] = samples[x+y*Size+z*Size*Size]
	}
	return trilinear(c, frac[0], frac[1], frac[2]), true
}

func clampInt(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// trilinear blends the 8 corner samples c ordered x fastest.
func trilinear(c [8]float32, fx, fy, fz float32) float32 {
	c00 := c[0] + (c[1]-c[0])*fx
	c10 := c[2] + (c[3]-c[2])*fx
	c01 := c[4] + (c[5]-c[4])*fx
	c11 := c[6] + (c[7]-c[6])*fx
	c0 := c00 + (c10-c00)*fy
	c1 := c01 + (c11-c01)*fy
	return c0 + (c1-c0)*fz
}

// MarkRegionDirty flags every brick overlapping the region for
// re-evaluation by UpdateDirtyBricks.
func (m *Map) MarkRegionDirty(min, max mgl32.Vec3) {
	if !m.built {
		return
	}
	region := sdfaccel.AABB{Min: min, Max: max}
	for i := range m.bricks {
		if m.bricks[i].Bounds.Intersects(region) {
			m.bricks[i].dirty = true
		}
	}
}

// UpdateDirtyBricks re-evaluates flagged bricks against sdf. Bricks
// whose new samples stay within UpdateThreshold of the old values are
// left untouched. Changed bricks are decoupled from their compression
// group first, then the whole map is re-compressed. The GPU copy is
// invalidated only when something actually changed.
func (m *Map) UpdateDirtyBricks(sdf sdfaccel.SDF3) error {
	if !m.built || sdf == nil {
		return nil
	}
	scratch := make([]float32, SamplesPerBrick)
	changedAny := false
	for i := range m.bricks {
		b := &m.bricks[i]
		if !b.dirty {
			continue
		}
		old := m.samplesOf(b)
		probe := Brick{Bounds: b.Bounds, Samples: scratch}
		if err := m.fillBrick(sdf, &probe); err != nil {
			return err
		}
		if bricksEqualWithin(scratch, old, m.settings.UpdateThreshold) {
			b.dirty = false
			continue
		}
		// Adopt the new samples. If this brick was the canonical copy
		// of a compression group, the group members keep the old data:
		// materialize it for them before overwriting.
		m.materializeDependents(b)
		if b.Samples == nil {
			b.Samples = make([]float32, SamplesPerBrick)
		}
		copy(b.Samples, scratch)
		b.CompressionID = 0
		b.dirty = false
		changedAny = true
	}
	if changedAny {
		m.decompressAll()
		m.Compress()
		m.gpuValid = false
	}
	return nil
}

// materializeDependents copies a canonical brick's samples into every
// brick that shares them.
func (m *Map) materializeDependents(b *Brick) {
	if b.CompressionID != 0 || b.Samples == nil {
		return
	}
	for i := range m.bricks {
		dep := &m.bricks[i]
		if dep.CompressionID != b.ID {
			continue
		}
		dep.Samples = make([]float32, SamplesPerBrick)
		copy(dep.Samples, b.Samples)
		dep.CompressionID = 0
	}
}

// decompressAll restores private storage on every brick so Compress
// can rebuild sharing from scratch.
func (m *Map) decompressAll() {
	for i := range m.bricks {
		b := &m.bricks[i]
		if b.CompressionID == 0 {
			continue
		}
		src := m.bricks[b.CompressionID-1].Samples
		b.Samples = make([]float32, SamplesPerBrick)
		copy(b.Samples, src)
		b.CompressionID = 0
	}
}
