package geomath

// AABB is an axis-aligned box given by its lower and upper corners.
type AABB struct {
	Min Vec3
	Max Vec3
}

// InfiniteAABB passes every frustum test. Shallow tiles use it until a real
// box is computed.
func InfiniteAABB() AABB {
	const inf = 1e300
	return AABB{
		Min: Vec3{-inf, -inf, -inf},
		Max: Vec3{inf, inf, inf},
	}
}

func (b AABB) Center() Vec3 { return b.Min.Add(b.Max).Mul(0.5) }

func (b AABB) Extend(p Vec3) AABB {
	return AABB{Min: Min3(b.Min, p), Max: Max3(b.Max, p)}
}

// AABBFromPoints builds the bounding box of a non-empty point set.
func AABBFromPoints(pts []Vec3) AABB {
	b := AABB{Min: pts[0], Max: pts[0]}
	for _, p := range pts[1:] {
		b = b.Extend(p)
	}
	return b
}

// OBB is an oriented box: an AABB in a local frame plus the world-to-local
// rotation. Large shallow tiles on a curved body get a much tighter fit
// from it than from a world-axis box.
type OBB struct {
	RotInv Mat4
	Box    AABB
}

// FrustumPlanes extracts the six clip planes from a view-projection matrix.
// Plane normals point inside; a plane is (normal, d) packed as Vec4.
func FrustumPlanes(vp Mat4) [6]Vec4 {
	c0 := vp.Row(0)
	c1 := vp.Row(1)
	c2 := vp.Row(2)
	c3 := vp.Row(3)
	return [6]Vec4{
		c3.Add(c0),
		c3.Sub(c0),
		c3.Add(c1),
		c3.Sub(c1),
		c3.Add(c2),
		c3.Sub(c2),
	}
}

// AABBTest reports whether the box intersects the frustum, using the
// positive-vertex selection per plane. Conservative: may pass boxes that
// are actually outside, never rejects a visible one.
func AABBTest(b AABB, planes [6]Vec4) bool {
	for i := 0; i < 6; i++ {
		p := planes[i]
		pv := Vec3{
			pick(p.X > 0, b.Max.X, b.Min.X),
			pick(p.Y > 0, b.Max.Y, b.Min.Y),
			pick(p.Z > 0, b.Max.Z, b.Min.Z),
		}
		if p.Xyz().Dot(pv) < -p.W {
			return false
		}
	}
	return true
}

// OBBTest moves each frustum plane into the box's local frame and runs the
// axis-aligned test there. The plane offset is unchanged because RotInv is
// a pure rotation.
func OBBTest(o OBB, planes [6]Vec4) bool {
	var local [6]Vec4
	for i, p := range planes {
		n := o.RotInv.MulDir(p.Xyz())
		local[i] = Vec4{n.X, n.Y, n.Z, p.W}
	}
	return AABBTest(o.Box, local)
}

func pick(cond bool, a, b float64) float64 {
	if cond {
		return a
	}
	return b
}
