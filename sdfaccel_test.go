package sdfaccel

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// sphere is a unit test oracle centered at the origin.
type sphere struct {
	radius float32
}

func (s sphere) Evaluate(p mgl32.Vec3) float32 {
	return p.Len() - s.radius
}

func (s sphere) Bounds() AABB {
	r := mgl32.Vec3{s.radius, s.radius, s.radius}
	return AABB{Min: r.Mul(-1), Max: r}
}

func TestNewInstances(t *testing.T) {
	models := []SDF3{sphere{1}, nil, sphere{2}}
	transforms := []mgl32.Mat4{
		mgl32.Translate3D(5, 0, 0),
		mgl32.Ident4(),
		mgl32.Ident4(),
	}
	instances, err := NewInstances(models, transforms)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("got %d instances, want 2 (nil model skipped)", len(instances))
	}
	if instances[0].ID != 0 || instances[1].ID != 2 {
		t.Errorf("ids %d,%d do not map back to input slots", instances[0].ID, instances[1].ID)
	}
	want := NewAABB(mgl32.Vec3{4, -1, -1}, mgl32.Vec3{6, 1, 1})
	if !instances[0].WorldBounds.Equals(want, 1e-5) {
		t.Errorf("world bounds %v, want %v", instances[0].WorldBounds, want)
	}
}

func TestNewInstancesLengthMismatch(t *testing.T) {
	_, err := NewInstances([]SDF3{sphere{1}}, nil)
	if err == nil {
		t.Fatal("expected error on length mismatch")
	}
}

func TestInstanceEvaluateWorld(t *testing.T) {
	inst := NewInstance(sphere{1}, mgl32.Translate3D(10, 0, 0), 0)
	// World point at the translated center is depth -radius.
	if d := inst.EvaluateWorld(mgl32.Vec3{10, 0, 0}); math32.Abs(d+1) > 1e-5 {
		t.Errorf("center distance %v, want -1", d)
	}
	// On the translated surface.
	if d := inst.EvaluateWorld(mgl32.Vec3{11, 0, 0}); math32.Abs(d) > 1e-5 {
		t.Errorf("surface distance %v, want 0", d)
	}
}

func TestInstanceSetTransform(t *testing.T) {
	inst := NewInstance(sphere{1}, mgl32.Ident4(), 7)
	inst.SetTransform(mgl32.Translate3D(0, 3, 0))
	want := NewAABB(mgl32.Vec3{-1, 2, -1}, mgl32.Vec3{1, 4, 1})
	if !inst.WorldBounds.Equals(want, 1e-5) {
		t.Errorf("world bounds %v after SetTransform, want %v", inst.WorldBounds, want)
	}
	if d := inst.EvaluateWorld(mgl32.Vec3{0, 3, 0}); math32.Abs(d+1) > 1e-5 {
		t.Errorf("inverse not rederived, center distance %v", d)
	}
}

func TestFieldFunc(t *testing.T) {
	bb := NewAABB(mgl32.Vec3{-1, -1, -1}, mgl32.Vec3{1, 1, 1})
	var f SDF3 = FieldFunc{
		Func: func(p mgl32.Vec3) float32 { return p.Len() - 0.5 },
		BB:   bb,
	}
	if d := f.Evaluate(mgl32.Vec3{0.5, 0, 0}); math32.Abs(d) > 1e-6 {
		t.Errorf("got %v want 0", d)
	}
	if !f.Bounds().Equals(bb, 0) {
		t.Error("bounds not passed through")
	}
}
