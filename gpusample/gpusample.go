// Package gpusample evaluates signed distance fields on the GPU with a
// compute shader, exposing the result as a batch-capable oracle.
// Bulk workloads such as brick filling and octree voxelization hand it
// thousands of positions per call, which is where the dispatch
// overhead pays off.
package gpusample

import (
	"errors"
	"io"

	"github.com/go-gl/gl/all-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/soypat/glgl/math/ms3"
	"github.com/soypat/glgl/v4.6-core/glgl"

	"github.com/soypat/sdfaccel"
)

// ComputeSDF3 is a distance field whose Evaluate runs a compute shader.
// It implements sdfaccel.SDF3Batch. Methods must be called from the
// goroutine owning the GL context.
type ComputeSDF3 struct {
	prog glgl.Program
	bb   sdfaccel.AABB
}

var _ sdfaccel.SDF3Batch = (*ComputeSDF3)(nil)

// NewComputeSDF3 compiles source, a combined glgl shader file whose
// compute stage maps an input position image (unit 0, rgba32f) to an
// output distance image (unit 1, r32f). bb must bound the surface the
// shader describes.
func NewComputeSDF3(source io.Reader, bb sdfaccel.AABB) (*ComputeSDF3, error) {
	combined, err := glgl.ParseCombined(source)
	if err != nil {
		return nil, err
	}
	prog, err := glgl.CompileProgram(combined)
	if err != nil {
		return nil, errors.New(string(combined.Compute) + "\n" + err.Error())
	}
	return &ComputeSDF3{prog: prog, bb: bb}, nil
}

// Bounds returns the box given at construction.
func (s *ComputeSDF3) Bounds() sdfaccel.AABB { return s.bb }

// Evaluate runs a single-position batch. Prefer EvaluateBatch; the
// per-dispatch cost dominates single lookups.
func (s *ComputeSDF3) Evaluate(p mgl32.Vec3) float32 {
	pos := [1]mgl32.Vec3{p}
	var dist [1]float32
	if err := s.EvaluateBatch(pos[:], dist[:]); err != nil {
		return 0
	}
	return dist[0]
}

// EvaluateBatch dispatches the compute shader over all positions at
// once. len(dist) must equal len(pos).
func (s *ComputeSDF3) EvaluateBatch(pos []mgl32.Vec3, dist []float32) error {
	if len(pos) != len(dist) {
		return errors.New("gpusample: position and distance length mismatch")
	}
	if len(pos) == 0 {
		return nil
	}
	s.prog.Bind()
	vecs := make([]ms3.Vec, len(pos))
	for i, p := range pos {
		vecs[i] = ms3.Vec{X: p[0], Y: p[1], Z: p[2]}
	}
	posCfg := glgl.TextureImgConfig{
		Type:           glgl.Texture2D,
		Width:          len(vecs),
		Height:         1,
		Access:         glgl.ReadOnly,
		Format:         gl.RGB,
		MinFilter:      gl.NEAREST,
		MagFilter:      gl.NEAREST,
		Xtype:          gl.FLOAT,
		InternalFormat: gl.RGBA32F,
		ImageUnit:      0,
	}
	_, err := glgl.NewTextureFromImage(posCfg, vecs)
	if err != nil {
		return err
	}
	distCfg := glgl.TextureImgConfig{
		Type:           glgl.Texture2D,
		Width:          len(dist),
		Height:         1,
		Access:         glgl.WriteOnly,
		Format:         gl.RED,
		MinFilter:      gl.NEAREST,
		MagFilter:      gl.NEAREST,
		Xtype:          gl.FLOAT,
		InternalFormat: gl.R32F,
		ImageUnit:      1,
	}
	distTex, err := glgl.NewTextureFromImage(distCfg, dist)
	if err != nil {
		return err
	}
	if err := s.prog.RunCompute(len(dist), 1, 1); err != nil {
		return err
	}
	return glgl.GetImage(dist, distTex, distCfg)
}
