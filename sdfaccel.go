// Package sdfaccel provides spatial acceleration structures for
// raymarched signed distance field scenes: a bounding volume hierarchy
// over SDF instances, a sparse voxel octree for empty-space skipping
// and a brick-map distance cache. Models are treated as opaque distance
// oracles through the SDF3 interface.
package sdfaccel

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
)

// SDF3 is the minimum interface of a signed distance field in 3D space.
// Evaluate returns the distance from p to the nearest surface, negative
// inside the model. Bounds returns a box containing the surface.
type SDF3 interface {
	Evaluate(p mgl32.Vec3) float32
	Bounds() AABB
}

// SDF3Batch is implemented by distance fields that can evaluate many
// positions at once, such as GPU backed evaluators. len(dist) must
// equal len(pos).
type SDF3Batch interface {
	SDF3
	EvaluateBatch(pos []mgl32.Vec3, dist []float32) error
}

// FieldFunc adapts a plain distance function to the SDF3 interface.
type FieldFunc struct {
	Func func(p mgl32.Vec3) float32
	BB   AABB
}

func (f FieldFunc) Evaluate(p mgl32.Vec3) float32 { return f.Func(p) }
func (f FieldFunc) Bounds() AABB                  { return f.BB }

// Instance places a model in the scene with a rigid (or affine)
// transform. WorldBounds is the model's bounding box carried through
// Transform. Dynamic marks instances whose transform changes between
// frames so refit passes know what moved.
type Instance struct {
	Model            SDF3
	Transform        mgl32.Mat4
	InverseTransform mgl32.Mat4
	WorldBounds      AABB
	ID               int
	Dynamic          bool
}

// NewInstance derives a complete instance from a model and transform.
func NewInstance(model SDF3, transform mgl32.Mat4, id int) Instance {
	return Instance{
		Model:            model,
		Transform:        transform,
		InverseTransform: transform.Inv(),
		WorldBounds:      model.Bounds().Transform(transform),
		ID:               id,
		Dynamic:          false,
	}
}

// SetTransform replaces the instance transform and rederives the
// inverse and the world bounds.
func (inst *Instance) SetTransform(transform mgl32.Mat4) {
	inst.Transform = transform
	inst.InverseTransform = transform.Inv()
	inst.WorldBounds = inst.Model.Bounds().Transform(transform)
}

// EvaluateWorld evaluates the instance's model at a world-space point
// by carrying the point into model space first.
func (inst *Instance) EvaluateWorld(p mgl32.Vec3) float32 {
	q := mgl32.TransformCoordinate(p, inst.InverseTransform)
	return inst.Model.Evaluate(q)
}

// NewInstances pairs models with transforms. Nil models are skipped.
// Instance IDs are the indices into the models argument so callers can
// map query results back to their inputs.
func NewInstances(models []SDF3, transforms []mgl32.Mat4) ([]Instance, error) {
	if len(models) != len(transforms) {
		return nil, errors.New("models and transforms length mismatch")
	}
	instances := make([]Instance, 0, len(models))
	for i, model := range models {
		if model == nil {
			continue
		}
		instances = append(instances, NewInstance(model, transforms[i], i))
	}
	return instances, nil
}
