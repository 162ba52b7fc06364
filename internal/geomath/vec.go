package geomath

import "math"

type Vec3 struct {
	X, Y, Z float64
}

type Vec4 struct {
	X, Y, Z, W float64
}

func V3(x, y, z float64) Vec3 { return Vec3{x, y, z} }

func (a Vec3) Add(b Vec3) Vec3     { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3     { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Mul(s float64) Vec3  { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) MulVec(b Vec3) Vec3  { return Vec3{a.X * b.X, a.Y * b.Y, a.Z * b.Z} }
func (a Vec3) Dot(b Vec3) float64  { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Length() float64     { return math.Sqrt(a.Dot(a)) }
func (a Vec3) Dist(b Vec3) float64 { return a.Sub(b).Length() }
func (a Vec3) Neg() Vec3           { return Vec3{-a.X, -a.Y, -a.Z} }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		a.Y*b.Z - a.Z*b.Y,
		a.Z*b.X - a.X*b.Z,
		a.X*b.Y - a.Y*b.X,
	}
}

func (a Vec3) Normalized() Vec3 {
	l := a.Length()
	if l == 0 {
		return a
	}
	return a.Mul(1 / l)
}

func Min3(a, b Vec3) Vec3 {
	return Vec3{math.Min(a.X, b.X), math.Min(a.Y, b.Y), math.Min(a.Z, b.Z)}
}

func Max3(a, b Vec3) Vec3 {
	return Vec3{math.Max(a.X, b.X), math.Max(a.Y, b.Y), math.Max(a.Z, b.Z)}
}

func (a Vec3) ToVec4(w float64) Vec4 { return Vec4{a.X, a.Y, a.Z, w} }

// ToVec3 drops W; with divide set the XYZ components are divided by W first
// (perspective division).
func (a Vec4) ToVec3(divide bool) Vec3 {
	if divide {
		return Vec3{a.X / a.W, a.Y / a.W, a.Z / a.W}
	}
	return Vec3{a.X, a.Y, a.Z}
}

func (a Vec4) Dot(b Vec4) float64 { return a.X*b.X + a.Y*b.Y + a.Z*b.Z + a.W*b.W }

func (a Vec4) Add(b Vec4) Vec4 { return Vec4{a.X + b.X, a.Y + b.Y, a.Z + b.Z, a.W + b.W} }
func (a Vec4) Sub(b Vec4) Vec4 { return Vec4{a.X - b.X, a.Y - b.Y, a.Z - b.Z, a.W - b.W} }

// Xyz is the plane-normal part of a plane encoded as Vec4.
func (a Vec4) Xyz() Vec3 { return Vec3{a.X, a.Y, a.Z} }

// LowerUpperCombine selects per-axis lower or upper bound by the three
// lowest bits of i. Used for enumerating the 8 corners of a box.
func LowerUpperCombine(i uint32) Vec3 {
	return Vec3{
		float64((i >> 0) % 2),
		float64((i >> 1) % 2),
		float64((i >> 2) % 2),
	}
}
