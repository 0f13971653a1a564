package bvh

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/soypat/sdfaccel/gpu"
)

// GPU binding slots the raymarch shader expects.
const (
	// NodeBufferSlot is the SSBO binding of the flattened node array.
	NodeBufferSlot = 1
	// IndexBufferSlot is the SSBO binding of the primitive index array.
	IndexBufferSlot = 2
)

// EncodeNodes serializes nodes little endian in the 48 byte layout.
func EncodeNodes(nodes []Node) []byte {
	buf := make([]byte, len(nodes)*NodeSize)
	for i := range nodes {
		putNode(buf[i*NodeSize:], &nodes[i])
	}
	return buf
}

func putNode(b []byte, n *Node) {
	_ = b[NodeSize-1]
	putF32(b[0:], n.AABBMin[0])
	putF32(b[4:], n.AABBMin[1])
	putF32(b[8:], n.AABBMin[2])
	putF32(b[12:], 0)
	putF32(b[16:], n.AABBMax[0])
	putF32(b[20:], n.AABBMax[1])
	putF32(b[24:], n.AABBMax[2])
	putF32(b[28:], 0)
	binary.LittleEndian.PutUint32(b[32:], uint32(n.LeftChild))
	binary.LittleEndian.PutUint32(b[36:], uint32(n.RightChild))
	binary.LittleEndian.PutUint32(b[40:], uint32(n.PrimitiveStart))
	binary.LittleEndian.PutUint32(b[44:], uint32(n.PrimitiveCount))
}

func putF32(b []byte, f float32) {
	binary.LittleEndian.PutUint32(b, math.Float32bits(f))
}

// EncodeIndices serializes the primitive index array little endian.
func EncodeIndices(indices []int32) []byte {
	buf := make([]byte, len(indices)*4)
	for i, v := range indices {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return buf
}

// UploadToGPU pushes the node and primitive index arrays to the device,
// reusing existing buffers when they are large enough. Upload failures
// are returned to the caller and leave the GPU state invalid.
func (t *Tree) UploadToGPU(dev gpu.Device) error {
	if !t.built {
		return errors.New("bvh: upload of unbuilt tree")
	}
	nodeData := EncodeNodes(t.nodes)
	indexData := EncodeIndices(t.primitiveIndices)

	if t.hasGPUBuf && len(nodeData) <= t.nodeBuf.Size && len(indexData) <= t.indexBuf.Size {
		if err := dev.UpdateBuffer(t.nodeBuf, nodeData); err != nil {
			return err
		}
		if err := dev.UpdateBuffer(t.indexBuf, indexData); err != nil {
			return err
		}
		t.gpuValid = true
		return nil
	}

	t.ReleaseGPU(dev)
	nodeBuf, err := dev.CreateBuffer(nodeData)
	if err != nil {
		return err
	}
	indexBuf, err := dev.CreateBuffer(indexData)
	if err != nil {
		dev.DeleteBuffer(nodeBuf)
		return err
	}
	t.nodeBuf = nodeBuf
	t.indexBuf = indexBuf
	t.hasGPUBuf = true
	t.gpuValid = true
	return nil
}

// BindGPU binds the uploaded buffers to the shader slots.
func (t *Tree) BindGPU(dev gpu.Device) {
	if !t.gpuValid {
		return
	}
	dev.BindBufferBase(NodeBufferSlot, t.nodeBuf)
	dev.BindBufferBase(IndexBufferSlot, t.indexBuf)
}

// IsGPUValid reports whether the device copy matches the CPU tree.
func (t *Tree) IsGPUValid() bool { return t.gpuValid }

// InvalidateGPU marks the device copy stale, forcing the next upload.
func (t *Tree) InvalidateGPU() { t.gpuValid = false }

// ReleaseGPU frees device buffers. Safe to call when nothing was
// uploaded.
func (t *Tree) ReleaseGPU(dev gpu.Device) {
	if !t.hasGPUBuf {
		return
	}
	dev.DeleteBuffer(t.nodeBuf)
	dev.DeleteBuffer(t.indexBuf)
	t.nodeBuf = gpu.Buffer{}
	t.indexBuf = gpu.Buffer{}
	t.hasGPUBuf = false
	t.gpuValid = false
}
