// Package draws defines the per-frame output of the traversal: flat lists
// of draw tasks a renderer can consume without knowing anything about
// tiles, surfaces or resources.
package draws

import (
	"terrastream.dev/internal/geomath"
	"terrastream.dev/internal/resources"
)

// Task describes one renderable batch. Model places the mesh in physical
// space, UvMat maps mesh UVs into the texture (identity except for bound
// layer windows into lower-lod textures).
type Task struct {
	Mesh    *resources.MeshAggregate
	Submesh int

	Color *resources.Texture
	Mask  *resources.Texture
	Model geomath.Mat4
	UvMat [9]float64
	// Uniform color for untextured or debug geometry, RGBA 0..1.
	FlatColor [4]float64

	ExternalUv bool
}

// Group holds one frame's draw tasks, split by pipeline stage. Opaque
// tasks render front to back, transparent ones back to front after all
// opaque, infographics last with depth test relaxed.
type Group struct {
	Opaque      []Task
	Transparent []Task
	Infographic []Task
}

func (g *Group) Clear() {
	g.Opaque = g.Opaque[:0]
	g.Transparent = g.Transparent[:0]
	g.Infographic = g.Infographic[:0]
}

func (g *Group) Len() int {
	return len(g.Opaque) + len(g.Transparent) + len(g.Infographic)
}

// IdentityUv is the no-op UV transform for internally textured submeshes.
func IdentityUv() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// SubUv maps unit UVs into one quadrant window of an ancestor's texture,
// used when a bound layer serves a coarser tile for a finer one.
func SubUv(depth int, x, y uint32) [9]float64 {
	scale := 1.0
	var ox, oy float64
	for i := 0; i < depth; i++ {
		scale *= 0.5
	}
	// Fractional position of the tile within its depth-th ancestor.
	ox = float64(x) * scale
	oy = float64(y) * scale
	ox -= float64(uint32(ox))
	oy -= float64(uint32(oy))
	return [9]float64{scale, 0, 0, 0, scale, 0, ox, oy, 1}
}
