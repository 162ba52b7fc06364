package geomath

import "math"

// Mat4 is a column-major 4x4 matrix: element (row, col) is at [col*4+row].
type Mat4 [16]float64

func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

func (m Mat4) At(row, col int) float64 { return m[col*4+row] }

func (m *Mat4) Set(row, col int, v float64) { m[col*4+row] = v }

// Row returns a full row as Vec4; rows of the view-projection matrix are
// the raw material for frustum planes.
func (m Mat4) Row(row int) Vec4 {
	return Vec4{m.At(row, 0), m.At(row, 1), m.At(row, 2), m.At(row, 3)}
}

func (a Mat4) MulMat(b Mat4) Mat4 {
	var r Mat4
	for c := 0; c < 4; c++ {
		for w := 0; w < 4; w++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += a.At(w, k) * b.At(k, c)
			}
			r.Set(w, c, s)
		}
	}
	return r
}

func (m Mat4) MulVec4(v Vec4) Vec4 {
	return Vec4{
		m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z + m.At(0, 3)*v.W,
		m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z + m.At(1, 3)*v.W,
		m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z + m.At(2, 3)*v.W,
		m.At(3, 0)*v.X + m.At(3, 1)*v.Y + m.At(3, 2)*v.Z + m.At(3, 3)*v.W,
	}
}

// MulPoint transforms a point (w=1) and performs the perspective division.
func (m Mat4) MulPoint(p Vec3) Vec3 {
	return m.MulVec4(p.ToVec4(1)).ToVec3(true)
}

// MulDir transforms a direction (w=0), ignoring translation.
func (m Mat4) MulDir(d Vec3) Vec3 {
	return m.MulVec4(d.ToVec4(0)).Xyz()
}

func Translation(t Vec3) Mat4 {
	m := Identity()
	m.Set(0, 3, t.X)
	m.Set(1, 3, t.Y)
	m.Set(2, 3, t.Z)
	return m
}

func Scale(s float64) Mat4 {
	m := Identity()
	m.Set(0, 0, s)
	m.Set(1, 1, s)
	m.Set(2, 2, s)
	return m
}

// LookAt builds a view matrix for an eye looking at center with the given
// approximate up vector.
func LookAt(eye, center, up Vec3) Mat4 {
	f := center.Sub(eye).Normalized()
	s := f.Cross(up).Normalized()
	u := s.Cross(f)
	var m Mat4
	m.Set(0, 0, s.X)
	m.Set(0, 1, s.Y)
	m.Set(0, 2, s.Z)
	m.Set(1, 0, u.X)
	m.Set(1, 1, u.Y)
	m.Set(1, 2, u.Z)
	m.Set(2, 0, -f.X)
	m.Set(2, 1, -f.Y)
	m.Set(2, 2, -f.Z)
	m.Set(0, 3, -s.Dot(eye))
	m.Set(1, 3, -u.Dot(eye))
	m.Set(2, 3, f.Dot(eye))
	m.Set(3, 3, 1)
	return m
}

// Perspective builds a projection matrix; fovDeg is the vertical field of
// view in degrees.
func Perspective(fovDeg, aspect, near, far float64) Mat4 {
	f := 1 / math.Tan(fovDeg*math.Pi/180/2)
	var m Mat4
	m.Set(0, 0, f/aspect)
	m.Set(1, 1, f)
	m.Set(2, 2, (far+near)/(near-far))
	m.Set(2, 3, 2*far*near/(near-far))
	m.Set(3, 2, -1)
	return m
}

// Inverse computes the general 4x4 inverse via cofactor expansion. The zero
// matrix is returned for singular input.
func (m Mat4) Inverse() Mat4 {
	a := m
	var inv Mat4

	inv[0] = a[5]*a[10]*a[15] - a[5]*a[11]*a[14] - a[9]*a[6]*a[15] +
		a[9]*a[7]*a[14] + a[13]*a[6]*a[11] - a[13]*a[7]*a[10]
	inv[4] = -a[4]*a[10]*a[15] + a[4]*a[11]*a[14] + a[8]*a[6]*a[15] -
		a[8]*a[7]*a[14] - a[12]*a[6]*a[11] + a[12]*a[7]*a[10]
	inv[8] = a[4]*a[9]*a[15] - a[4]*a[11]*a[13] - a[8]*a[5]*a[15] +
		a[8]*a[7]*a[13] + a[12]*a[5]*a[11] - a[12]*a[7]*a[9]
	inv[12] = -a[4]*a[9]*a[14] + a[4]*a[10]*a[13] + a[8]*a[5]*a[14] -
		a[8]*a[6]*a[13] - a[12]*a[5]*a[10] + a[12]*a[6]*a[9]
	inv[1] = -a[1]*a[10]*a[15] + a[1]*a[11]*a[14] + a[9]*a[2]*a[15] -
		a[9]*a[3]*a[14] - a[13]*a[2]*a[11] + a[13]*a[3]*a[10]
	inv[5] = a[0]*a[10]*a[15] - a[0]*a[11]*a[14] - a[8]*a[2]*a[15] +
		a[8]*a[3]*a[14] + a[12]*a[2]*a[11] - a[12]*a[3]*a[10]
	inv[9] = -a[0]*a[9]*a[15] + a[0]*a[11]*a[13] + a[8]*a[1]*a[15] -
		a[8]*a[3]*a[13] - a[12]*a[1]*a[11] + a[12]*a[3]*a[9]
	inv[13] = a[0]*a[9]*a[14] - a[0]*a[10]*a[13] - a[8]*a[1]*a[14] +
		a[8]*a[2]*a[13] + a[12]*a[1]*a[10] - a[12]*a[2]*a[9]
	inv[2] = a[1]*a[6]*a[15] - a[1]*a[7]*a[14] - a[5]*a[2]*a[15] +
		a[5]*a[3]*a[14] + a[13]*a[2]*a[7] - a[13]*a[3]*a[6]
	inv[6] = -a[0]*a[6]*a[15] + a[0]*a[7]*a[14] + a[4]*a[2]*a[15] -
		a[4]*a[3]*a[14] - a[12]*a[2]*a[7] + a[12]*a[3]*a[6]
	inv[10] = a[0]*a[5]*a[15] - a[0]*a[7]*a[13] - a[4]*a[1]*a[15] +
		a[4]*a[3]*a[13] + a[12]*a[1]*a[7] - a[12]*a[3]*a[5]
	inv[14] = -a[0]*a[5]*a[14] + a[0]*a[6]*a[13] + a[4]*a[1]*a[14] -
		a[4]*a[2]*a[13] - a[12]*a[1]*a[6] + a[12]*a[2]*a[5]
	inv[3] = -a[1]*a[6]*a[11] + a[1]*a[7]*a[10] + a[5]*a[2]*a[11] -
		a[5]*a[3]*a[10] - a[9]*a[2]*a[7] + a[9]*a[3]*a[6]
	inv[7] = a[0]*a[6]*a[11] - a[0]*a[7]*a[10] - a[4]*a[2]*a[11] +
		a[4]*a[3]*a[10] + a[8]*a[2]*a[7] - a[8]*a[3]*a[6]
	inv[11] = -a[0]*a[5]*a[11] + a[0]*a[7]*a[9] + a[4]*a[1]*a[11] -
		a[4]*a[3]*a[9] - a[8]*a[1]*a[7] + a[8]*a[3]*a[5]
	inv[15] = a[0]*a[5]*a[10] - a[0]*a[6]*a[9] - a[4]*a[1]*a[10] +
		a[4]*a[2]*a[9] + a[8]*a[1]*a[6] - a[8]*a[2]*a[5]

	det := a[0]*inv[0] + a[1]*inv[4] + a[2]*inv[8] + a[3]*inv[12]
	if det == 0 {
		return Mat4{}
	}
	det = 1 / det
	for i := range inv {
		inv[i] *= det
	}
	return inv
}
