package brick

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/soypat/sdfaccel/gpu"
)

// GPU binding points for the brick map.
const (
	// AtlasTextureUnit holds the R32F brick atlas.
	AtlasTextureUnit = 1
	// IndexTextureUnit holds the R32I grid cell to atlas layer texture.
	IndexTextureUnit = 2
	// SampleBufferSlot is the SSBO of flat canonical samples.
	SampleBufferSlot = 4
	// OffsetBufferSlot is the SSBO mapping grid cells to sample blocks.
	OffsetBufferSlot = 5
)

// FarBrickLayer marks grid cells whose brick never comes near the
// surface; shaders step a whole brick when they see it.
const FarBrickLayer = -1

type gpuResources struct {
	atlas     gpu.Texture
	index     gpu.Texture
	sampleBuf gpu.Buffer
	offsetBuf gpu.Buffer
	allocated bool
}

// farBrick reports whether every sample is at least a brick diagonal
// away from the surface, making the brick useless to shaders.
func (m *Map) farBrick(b *Brick) bool {
	diag := m.brickWorldSize() * 1.7320508
	for _, s := range m.samplesOf(b) {
		if s < diag {
			return false
		}
	}
	return true
}

// atlasLayers assigns an atlas layer to every canonical, non-far brick
// and returns the per-grid-cell layer (FarBrickLayer where omitted).
func (m *Map) atlasLayers() (layers []int32, layerOfBrick map[int32]int32) {
	layers = make([]int32, len(m.bricks))
	layerOfBrick = make(map[int32]int32)
	next := int32(0)
	for i := range m.bricks {
		b := &m.bricks[i]
		if m.farBrick(b) {
			layers[i] = FarBrickLayer
			continue
		}
		cid := b.ID
		if b.CompressionID != 0 {
			cid = b.CompressionID
		}
		layer, ok := layerOfBrick[cid]
		if !ok {
			layer = next
			next++
			layerOfBrick[cid] = layer
		}
		layers[i] = layer
	}
	return layers, layerOfBrick
}

// EncodeAtlas packs the canonical bricks into a Size x Size x
// (Size*layers) volume, one brick per layer along Z, and returns the
// texel bytes with the grid cell layer table.
func (m *Map) EncodeAtlas() (data []byte, layers []int32, layerCount int) {
	cellLayers, layerOfBrick := m.atlasLayers()
	layerCount = len(layerOfBrick)
	data = make([]byte, layerCount*SamplesPerBrick*4)
	for cid, layer := range layerOfBrick {
		samples := m.bricks[cid-1].Samples
		base := int(layer) * SamplesPerBrick * 4
		for i, s := range samples {
			binary.LittleEndian.PutUint32(data[base+i*4:], math.Float32bits(s))
		}
	}
	return data, cellLayers, layerCount
}

// EncodeFlat serializes canonical samples into one flat buffer plus a
// per-grid-cell offset table counting in SamplesPerBrick blocks
// (FarBrickLayer for omitted cells).
func (m *Map) EncodeFlat() (samples, offsets []byte) {
	data, cellLayers, layerCount := m.EncodeAtlas()
	samples = data[:layerCount*SamplesPerBrick*4]
	offsets = make([]byte, len(cellLayers)*4)
	for i, l := range cellLayers {
		binary.LittleEndian.PutUint32(offsets[i*4:], uint32(l))
	}
	return samples, offsets
}

// UploadToGPU pushes all three encodings: the brick atlas, the grid
// index texture and the flat sample/offset buffers. Existing resources
// are replaced; partial failure releases everything.
func (m *Map) UploadToGPU(dev gpu.Device) error {
	if !m.built {
		return errors.New("brick: upload of unbuilt map")
	}
	m.ReleaseGPU(dev)

	data, cellLayers, layerCount := m.EncodeAtlas()
	if layerCount == 0 {
		// Entirely far field. Represent it with a single empty layer so
		// bindings stay valid.
		layerCount = 1
		data = make([]byte, SamplesPerBrick*4)
	}
	var res gpuResources
	var err error
	res.atlas, err = dev.CreateTexture3D(gpu.Texture3DDesc{
		Width: Size, Height: Size, Depth: Size * layerCount,
		Format: gpu.FormatR32F,
	}, data)
	if err != nil {
		return err
	}
	indexData := make([]byte, len(cellLayers)*4)
	for i, l := range cellLayers {
		binary.LittleEndian.PutUint32(indexData[i*4:], uint32(l))
	}
	res.index, err = dev.CreateTexture3D(gpu.Texture3DDesc{
		Width: m.nx, Height: m.ny, Depth: m.nz,
		Format: gpu.FormatR32I,
	}, indexData)
	if err != nil {
		dev.DeleteTexture(res.atlas)
		return err
	}
	flatSamples, offsets := m.EncodeFlat()
	res.sampleBuf, err = dev.CreateBuffer(flatSamples)
	if err == nil {
		res.offsetBuf, err = dev.CreateBuffer(offsets)
	}
	if err != nil {
		dev.DeleteTexture(res.atlas)
		dev.DeleteTexture(res.index)
		dev.DeleteBuffer(res.sampleBuf)
		return err
	}
	res.allocated = true
	m.gpuRes = res
	m.gpuValid = true
	return nil
}

// BindGPU binds the textures and buffers to their units and slots.
func (m *Map) BindGPU(dev gpu.Device) {
	if !m.gpuValid {
		return
	}
	dev.BindTexture3D(AtlasTextureUnit, m.gpuRes.atlas)
	dev.BindTexture3D(IndexTextureUnit, m.gpuRes.index)
	dev.BindBufferBase(SampleBufferSlot, m.gpuRes.sampleBuf)
	dev.BindBufferBase(OffsetBufferSlot, m.gpuRes.offsetBuf)
}

// IsGPUValid reports whether the device copy matches the CPU map.
func (m *Map) IsGPUValid() bool { return m.gpuValid }

// InvalidateGPU marks the device copy stale.
func (m *Map) InvalidateGPU() { m.gpuValid = false }

// ReleaseGPU frees device resources if any were uploaded.
func (m *Map) ReleaseGPU(dev gpu.Device) {
	if !m.gpuRes.allocated {
		return
	}
	dev.DeleteTexture(m.gpuRes.atlas)
	dev.DeleteTexture(m.gpuRes.index)
	dev.DeleteBuffer(m.gpuRes.sampleBuf)
	dev.DeleteBuffer(m.gpuRes.offsetBuf)
	m.gpuRes = gpuResources{}
	m.gpuValid = false
}
