package geomath

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMat4_MulIdentity(t *testing.T) {
	m := Translation(Vec3{1, 2, 3}).MulMat(Scale(2))
	r := m.MulMat(Identity())
	if r != m {
		t.Fatalf("identity multiplication changed the matrix")
	}
	p := m.MulPoint(Vec3{1, 1, 1})
	want := Vec3{3, 4, 5}
	if !almostEqual(p.X, want.X) || !almostEqual(p.Y, want.Y) || !almostEqual(p.Z, want.Z) {
		t.Fatalf("transform: got %+v want %+v", p, want)
	}
}

func TestMat4_Inverse(t *testing.T) {
	m := Perspective(60, 1.5, 1, 1000).MulMat(LookAt(Vec3{10, 20, 30}, Vec3{}, Vec3{0, 0, 1}))
	inv := m.Inverse()
	r := m.MulMat(inv)
	id := Identity()
	for i := range r {
		if math.Abs(r[i]-id[i]) > 1e-6 {
			t.Fatalf("m * m^-1 not identity at %d: %v", i, r[i])
		}
	}
}

func TestMat4_InverseSingular(t *testing.T) {
	var zero Mat4
	if zero.Inverse() != (Mat4{}) {
		t.Fatalf("singular matrix must invert to zero")
	}
}

func TestLookAt_EyeMapsToOrigin(t *testing.T) {
	eye := Vec3{5, -3, 2}
	v := LookAt(eye, Vec3{0, 0, 0}, Vec3{0, 0, 1})
	p := v.MulPoint(eye)
	if p.Length() > 1e-9 {
		t.Fatalf("eye must map to origin, got %+v", p)
	}
}

func TestFrustum_AABBTest(t *testing.T) {
	view := LookAt(Vec3{0, -10, 0}, Vec3{0, 0, 0}, Vec3{0, 0, 1})
	proj := Perspective(60, 1, 0.1, 100)
	planes := FrustumPlanes(proj.MulMat(view))

	inside := AABB{Min: Vec3{-1, -1, -1}, Max: Vec3{1, 1, 1}}
	if !AABBTest(inside, planes) {
		t.Fatalf("box at look target must be visible")
	}

	behind := AABB{Min: Vec3{-1, -31, -1}, Max: Vec3{1, -29, 1}}
	if AABBTest(behind, planes) {
		t.Fatalf("box behind the camera must be culled")
	}

	if !AABBTest(InfiniteAABB(), planes) {
		t.Fatalf("infinite box must always pass")
	}
}

func TestAABBFromPoints(t *testing.T) {
	pts := []Vec3{{1, 5, -3}, {-2, 0, 4}, {0, 7, 0}}
	b := AABBFromPoints(pts)
	if b.Min != (Vec3{-2, 0, -3}) || b.Max != (Vec3{1, 7, 4}) {
		t.Fatalf("bad box: %+v", b)
	}
	c := b.Center()
	if !almostEqual(c.X, -0.5) || !almostEqual(c.Y, 3.5) || !almostEqual(c.Z, 0.5) {
		t.Fatalf("bad center: %+v", c)
	}
}
