package octree

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/soypat/sdfaccel/gpu"
)

// NodeBufferSlot is the SSBO binding of the packed node array.
const NodeBufferSlot = 3

// EncodeNodes serializes nodes little endian in the 16 byte GPU layout:
// child mask and child index widened to uint32, then the min and max
// distances.
func EncodeNodes(nodes []Node) []byte {
	buf := make([]byte, len(nodes)*NodeSize)
	for i := range nodes {
		b := buf[i*NodeSize:]
		binary.LittleEndian.PutUint32(b[0:], uint32(nodes[i].ChildMask))
		binary.LittleEndian.PutUint32(b[4:], uint32(nodes[i].ChildIndex))
		binary.LittleEndian.PutUint32(b[8:], math.Float32bits(nodes[i].MinDistance))
		binary.LittleEndian.PutUint32(b[12:], math.Float32bits(nodes[i].MaxDistance))
	}
	return buf
}

// UploadToGPU pushes the packed node array to the device, reusing the
// existing buffer when large enough. The node pool ships as an SSBO;
// a Morton-addressed 3D texture encoding of the same 16-byte nodes
// would allow hardware-filtered fetches and can be added alongside
// without changing this layout.
func (t *Tree) UploadToGPU(dev gpu.Device) error {
	if !t.built {
		return errors.New("octree: upload of unbuilt tree")
	}
	data := EncodeNodes(t.nodes)
	if t.hasGPUBuf && len(data) <= t.nodeBuf.Size {
		if err := dev.UpdateBuffer(t.nodeBuf, data); err != nil {
			return err
		}
		t.gpuValid = true
		return nil
	}
	t.ReleaseGPU(dev)
	buf, err := dev.CreateBuffer(data)
	if err != nil {
		return err
	}
	t.nodeBuf = buf
	t.hasGPUBuf = true
	t.gpuValid = true
	return nil
}

// UploadDistanceTexture bakes a dense resolution^3 R32F texture of the
// conservative minimum distance per voxel center, for shaders that
// prefer a texture fetch over tree traversal. Returns an error for
// unbuilt trees or resolution < 1. The caller owns the texture.
func (t *Tree) UploadDistanceTexture(dev gpu.Device, resolution int) (gpu.Texture, error) {
	if !t.built {
		return gpu.Texture{}, errors.New("octree: distance texture of unbuilt tree")
	}
	if resolution < 1 {
		return gpu.Texture{}, errors.New("octree: resolution must be positive")
	}
	size := t.bounds.Size()
	data := make([]byte, resolution*resolution*resolution*4)
	i := 0
	for iz := 0; iz < resolution; iz++ {
		for iy := 0; iy < resolution; iy++ {
			for ix := 0; ix < resolution; ix++ {
				p := t.bounds.Min
				p[0] += size[0] * (float32(ix) + 0.5) / float32(resolution)
				p[1] += size[1] * (float32(iy) + 0.5) / float32(resolution)
				p[2] += size[2] * (float32(iz) + 0.5) / float32(resolution)
				min, _, _ := t.DistanceEstimate(p)
				binary.LittleEndian.PutUint32(data[i:], math.Float32bits(min))
				i += 4
			}
		}
	}
	return dev.CreateTexture3D(gpu.Texture3DDesc{
		Width: resolution, Height: resolution, Depth: resolution,
		Format: gpu.FormatR32F,
	}, data)
}

// BindGPU binds the node buffer to its shader slot.
func (t *Tree) BindGPU(dev gpu.Device) {
	if !t.gpuValid {
		return
	}
	dev.BindBufferBase(NodeBufferSlot, t.nodeBuf)
}

// IsGPUValid reports whether the device copy matches the CPU tree.
func (t *Tree) IsGPUValid() bool { return t.gpuValid }

// InvalidateGPU marks the device copy stale.
func (t *Tree) InvalidateGPU() { t.gpuValid = false }

// ReleaseGPU frees the node buffer if one was uploaded.
func (t *Tree) ReleaseGPU(dev gpu.Device) {
	if !t.hasGPUBuf {
		return
	}
	dev.DeleteBuffer(t.nodeBuf)
	t.nodeBuf = gpu.Buffer{}
	t.hasGPUBuf = false
	t.gpuValid = false
}
