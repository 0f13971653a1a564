package sdfaccel

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// testFrustum looks down -Z from the origin with a 90 degree vertical
// field of view.
func testFrustum() Frustum {
	proj := mgl32.Perspective(mgl32.DegToRad(90), 1, 0.1, 100)
	view := mgl32.LookAtV(mgl32.Vec3{0, 0, 0}, mgl32.Vec3{0, 0, -1}, mgl32.Vec3{0, 1, 0})
	return NewFrustum(proj.Mul4(view))
}

func TestFrustumContainsPoint(t *testing.T) {
	f := testFrustum()
	inside := []mgl32.Vec3{
		{0, 0, -1},
		{0, 0, -50},
		{0.5, 0.5, -1}, // within 45 degree half angle
		{-40, 40, -50},
	}
	for _, p := range inside {
		if !f.ContainsPoint(p) {
			t.Errorf("point %v should be inside", p)
		}
	}
	outside := []mgl32.Vec3{
		{0, 0, 1},     // behind camera
		{0, 0, -0.05}, // before near plane
		{0, 0, -200},  // beyond far plane
		{5, 0, -1},    // far outside right plane
		{0, -5, -1},   // far outside bottom plane
	}
	for _, p := range outside {
		if f.ContainsPoint(p) {
			t.Errorf("point %v should be outside", p)
		}
	}
}

func TestFrustumIntersectsSphere(t *testing.T) {
	f := testFrustum()
	if !f.IntersectsSphere(mgl32.Vec3{0, 0, -10}, 1) {
		t.Error("centered sphere should intersect")
	}
	// Center outside but radius reaches in.
	if !f.IntersectsSphere(mgl32.Vec3{12, 0, -10}, 5) {
		t.Error("overlapping sphere should intersect")
	}
	if f.IntersectsSphere(mgl32.Vec3{50, 0, -10}, 1) {
		t.Error("distant sphere should not intersect")
	}
	if f.IntersectsSphere(mgl32.Vec3{0, 0, 10}, 1) {
		t.Error("sphere behind camera should not intersect")
	}
}

func TestFrustumIntersectsAABB(t *testing.T) {
	f := testFrustum()
	cases := []struct {
		box  AABB
		want bool
	}{
		{NewAABB(mgl32.Vec3{-1, -1, -11}, mgl32.Vec3{1, 1, -9}), true},
		{NewAABB(mgl32.Vec3{40, 40, -11}, mgl32.Vec3{42, 42, -9}), false},
		{NewAABB(mgl32.Vec3{-1, -1, 9}, mgl32.Vec3{1, 1, 11}), false},  // behind
		{NewAABB(mgl32.Vec3{-1, -1, -300}, mgl32.Vec3{1, 1, 1}), true}, // straddles whole depth range
		{NewAABB(mgl32.Vec3{9, -1, -11}, mgl32.Vec3{12, 1, -9}), true}, // crosses right plane
	}
	for i, c := range cases {
		if got := f.IntersectsAABB(c.box); got != c.want {
			t.Errorf("case %d: got %v want %v", i, got, c.want)
		}
	}
}

func TestFrustumAABBAgreesWithPointSamples(t *testing.T) {
	// Any box containing an inside point must test as intersecting.
	f := testFrustum()
	pts := []mgl32.Vec3{{0, 0, -5}, {3, -3, -8}, {-20, 10, -40}}
	for _, p := range pts {
		if !f.ContainsPoint(p) {
			t.Fatalf("sample %v expected inside", p)
		}
		box := NewAABB(p.Sub(mgl32.Vec3{0.1, 0.1, 0.1}), p.Add(mgl32.Vec3{0.1, 0.1, 0.1}))
		if !f.IntersectsAABB(box) {
			t.Errorf("box around inside point %v reported outside", p)
		}
	}
}
