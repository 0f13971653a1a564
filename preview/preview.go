// Package preview writes debug geometry for acceleration structures:
// bounding boxes flattened to triangle meshes, binary STL output and
// shaded PNG snapshots for eyeballing culling and tree quality.
package preview

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/soypat/sdfaccel"
	"github.com/soypat/sdfaccel/bvh"
	"github.com/soypat/sdfaccel/octree"
)

// Triangle is a single mesh triangle with counterclockwise winding
// seen from outside.
type Triangle [3]mgl32.Vec3

// Normal returns the unit normal implied by the winding.
func (t Triangle) Normal() mgl32.Vec3 {
	e1 := t[1].Sub(t[0])
	e2 := t[2].Sub(t[0])
	n := e1.Cross(e2)
	if l := n.Len(); l > 0 {
		return n.Mul(1 / l)
	}
	return mgl32.Vec3{}
}

// BoxTriangles meshes one box as 12 triangles with outward normals.
func BoxTriangles(box sdfaccel.AABB) []Triangle {
	mn, mx := box.Min, box.Max
	v := [8]mgl32.Vec3{
		{mn[0], mn[1], mn[2]},
		{mx[0], mn[1], mn[2]},
		{mx[0], mx[1], mn[2]},
		{mn[0], mx[1], mn[2]},
		{mn[0], mn[1], mx[2]},
		{mx[0], mn[1], mx[2]},
		{mx[0], mx[1], mx[2]},
		{mn[0], mx[1], mx[2]},
	}
	quads := [6][4]int{
		{0, 3, 2, 1}, // -Z
		{4, 5, 6, 7}, // +Z
		{0, 1, 5, 4}, // -Y
		{3, 7, 6, 2}, // +Y
		{0, 4, 7, 3}, // -X
		{1, 2, 6, 5}, // +X
	}
	tris := make([]Triangle, 0, 12)
	for _, q := range quads {
		tris = append(tris,
			Triangle{v[q[0]], v[q[1]], v[q[2]]},
			Triangle{v[q[0]], v[q[2]], v[q[3]]},
		)
	}
	return tris
}

// BoxesTriangles meshes every box in boxes.
func BoxesTriangles(boxes []sdfaccel.AABB) []Triangle {
	tris := make([]Triangle, 0, 12*len(boxes))
	for _, b := range boxes {
		tris = append(tris, BoxTriangles(b)...)
	}
	return tris
}

// BVHLeafBoxes returns the bounds of every leaf node, the boxes a
// traversal actually tests instances against.
func BVHLeafBoxes(t *bvh.Tree) []sdfaccel.AABB {
	var boxes []sdfaccel.AABB
	for _, n := range t.Nodes() {
		if n.IsLeaf() {
			boxes = append(boxes, n.Bounds())
		}
	}
	return boxes
}

// OctreeLeafBoxes walks the octree and returns the cell of every leaf
// that still brackets the surface. Clear space culled during
// voxelization produces no box.
func OctreeLeafBoxes(t *octree.Tree) []sdfaccel.AABB {
	if !t.IsBuilt() {
		return nil
	}
	var boxes []sdfaccel.AABB
	var walk func(idx int32, cell sdfaccel.AABB)
	walk = func(idx int32, cell sdfaccel.AABB) {
		n := t.Nodes()[idx]
		if n.IsLeaf() {
			boxes = append(boxes, cell)
			return
		}
		child := n.ChildIndex
		for i := 0; i < 8; i++ {
			if n.ChildMask&(1<<i) == 0 {
				continue
			}
			walk(child, octant(cell, i))
			child++
		}
	}
	walk(0, t.Bounds())
	return boxes
}

// octant returns child cell i of cell. Bit 0 selects +X, bit 1 +Y and
// bit 2 +Z, matching the voxelizer's child ordering.
func octant(cell sdfaccel.AABB, i int) sdfaccel.AABB {
	c := cell.Center()
	out := sdfaccel.AABB{Min: cell.Min, Max: c}
	if i&1 != 0 {
		out.Min[0], out.Max[0] = c[0], cell.Max[0]
	}
	if i&2 != 0 {
		out.Min[1], out.Max[1] = c[1], cell.Max[1]
	}
	if i&4 != 0 {
		out.Min[2], out.Max[2] = c[2], cell.Max[2]
	}
	return out
}

// stlHeader defines the binary STL file header.
type stlHeader struct {
	_     [80]uint8
	Count uint32
}

const stlTriangleSize = 50

// WriteSTL writes tris to w in binary STL format.
func WriteSTL(w io.Writer, tris []Triangle) error {
	if len(tris) == 0 {
		return errors.New("empty triangle slice")
	}
	header := stlHeader{Count: uint32(len(tris))}
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return err
	}
	var b [stlTriangleSize]byte
	for _, tri := range tris {
		putTriangle(b[:], tri)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	return nil
}

// CreateSTL writes tris to a new binary STL file at path.
func CreateSTL(path string, tris []Triangle) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteSTL(file, tris)
}

func putTriangle(b []byte, t Triangle) {
	if len(b) < stlTriangleSize {
		panic("need length 50 to marshal STL triangle")
	}
	n := t.Normal()
	put3F32(b, [3]float32{n[0], n[1], n[2]})
	put3F32(b[12:], [3]float32{t[0][0], t[0][1], t[0][2]})
	put3F32(b[24:], [3]float32{t[1][0], t[1][1], t[1][2]})
	put3F32(b[36:], [3]float32{t[2][0], t[2][1], t[2][2]})
	binary.LittleEndian.PutUint16(b[48:], 0)
}

func put3F32(b []byte, f [3]float32) {
	_ = b[11] // early bounds check
	binary.LittleEndian.PutUint32(b, math.Float32bits(f[0]))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(f[1]))
	binary.LittleEndian.PutUint32(b[8:], math.Float32bits(f[2]))
}

// ReadSTLCount reads the triangle count from a binary STL stream.
func ReadSTLCount(r io.Reader) (int, error) {
	var header stlHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return 0, err
	}
	return int(header.Count), nil
}
