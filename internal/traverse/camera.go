package traverse

import "terrastream.dev/internal/geomath"

// Camera is the per-frame view state the traversal culls and refines
// against. All vectors are in physical SRS coordinates.
type Camera struct {
	View     geomath.Mat4
	Proj     geomath.Mat4
	ViewProj geomath.Mat4
	Planes   [6]geomath.Vec4

	Eye    geomath.Vec3
	Target geomath.Vec3
	// Right is a unit vector perpendicular to the view direction; texel
	// sizes are projected along it to estimate on-screen magnification.
	Right geomath.Vec3

	ViewportWidth  float64
	ViewportHeight float64
}

// NewCamera derives the combined matrix, frustum planes and the right
// vector from view and projection.
func NewCamera(view, proj geomath.Mat4, eye, target, up geomath.Vec3, width, height float64) Camera {
	vp := proj.MulMat(view)
	dir := target.Sub(eye).Normalized()
	return Camera{
		View:           view,
		Proj:           proj,
		ViewProj:       vp,
		Planes:         geomath.FrustumPlanes(vp),
		Eye:            eye,
		Target:         target,
		Right:          dir.Cross(up).Normalized(),
		ViewportWidth:  width,
		ViewportHeight: height,
	}
}
