package traverse

import (
	"terrastream.dev/internal/draws"
	"terrastream.dev/internal/mapconfig"
	"terrastream.dev/internal/resources"
	"terrastream.dev/internal/tiles"
)

// Bound layer metatiles cover an 8x8 block of tiles.
const boundBinaryOrder = 3

// determineDraws assembles the node's draw tasks from its mesh aggregate
// and the bound layers of the active view. Returns false while any needed
// resource is still loading; nothing is published until every submesh can
// be drawn, so a tile never appears half-textured. Resources referenced by
// the published tasks stay pinned until the node is cleared.
func (t *Traverser) determineDraws(n *Node) bool {
	if n.meta == nil || n.meta.surface == nil {
		return false
	}
	if t.drawsUpdates >= t.opts.MaxNodeDrawsUpdatesPerTick {
		return false
	}

	surf := n.meta.surface.Surface
	meshName := mapconfig.ExpandUrl(surf.UrlMesh, mapconfig.Vars(n.info.Id))
	mesh := t.cache.GetMeshAggregate(meshName)
	mesh.UpdatePriority(n.priority)
	switch mesh.Validity() {
	case resources.Indeterminate:
		return false
	case resources.Invalid:
		n.renders = &nodeRenders{}
		return true
	}

	r := &nodeRenders{}
	for si := range mesh.Submeshes {
		if !t.submeshTasks(n, mesh, si, &mesh.Submeshes[si], r) {
			return false
		}
	}

	t.drawsUpdates++
	r.pin(mesh)
	n.renders = r
	return true
}

// submeshTasks appends the draw tasks of one submesh; false while a
// dependency is still indeterminate.
func (t *Traverser) submeshTasks(n *Node, mesh *resources.MeshAggregate, si int,
	part *resources.MeshPart, r *nodeRenders) bool {

	external := 0
	allTransparent := false
	if part.ExternalUv {
		params := t.boundParamsFor(n, part)
		list, done := t.reorderBoundLayers(n, params)
		if !done {
			return false
		}
		allTransparent = len(list) > 0
		for _, b := range list {
			if !b.transparent {
				allTransparent = false
			}
		}
		for _, b := range list {
			task := draws.Task{
				Mesh:       mesh,
				Submesh:    si,
				Color:      b.color,
				Mask:       b.mask,
				Model:      part.NormToPhys,
				UvMat:      b.uvMat(),
				FlatColor:  [4]float64{1, 1, 1, b.alphaValue()},
				ExternalUv: true,
			}
			r.pin(b.color)
			if b.mask != nil {
				r.pin(b.mask)
			}
			if b.transparent {
				r.transparent = append(r.transparent, task)
			} else {
				r.opaque = append(r.opaque, task)
			}
		}
		external = len(list)
	}

	// The surface's own texture backs submeshes with internal UVs: always
	// when no bound layer covers the tile, and underneath the stack when
	// every surviving layer is transparent.
	if part.InternalUv && (external == 0 || allTransparent) {
		surf := n.meta.surface.Surface
		if surf.UrlIntTex == "" {
			return true
		}
		name := mapconfig.ExpandUrl(surf.UrlIntTex,
			mapconfig.VarsSub(n.info.Id, uint32(si)))
		tex := t.cache.GetTexture(name)
		tex.UpdatePriority(n.priority)
		switch tex.Validity() {
		case resources.Indeterminate:
			return false
		case resources.Invalid:
			return true
		}
		r.pin(tex)
		r.opaque = append(r.opaque, draws.Task{
			Mesh:      mesh,
			Submesh:   si,
			Color:     tex,
			Model:     part.NormToPhys,
			UvMat:     draws.IdentityUv(),
			FlatColor: [4]float64{1, 1, 1, 1},
		})
	}
	return true
}

// boundParam is one bound layer candidate for a submesh, resolved to the
// tile (possibly an ancestor) actually holding its texture.
type boundParam struct {
	layer *mapconfig.BoundLayer
	alpha *float64

	orig  tiles.TileId
	id    tiles.TileId
	depth int

	watertight  bool
	transparent bool
	color       *resources.Texture
	mask        *resources.Texture
}

func (b *boundParam) alphaValue() float64 {
	if b.alpha != nil {
		return *b.alpha
	}
	return 1
}

func (b *boundParam) uvMat() [9]float64 {
	if b.depth == 0 {
		return draws.IdentityUv()
	}
	return draws.SubUv(b.depth, b.orig.X, b.orig.Y)
}

// boundParamsFor lists the candidate layers bottom to top: the view's
// configured layers, then a textureLayer baked into the mesh on top.
func (t *Traverser) boundParamsFor(n *Node, part *resources.MeshPart) []*boundParam {
	surf := n.meta.surface.Surface
	var out []*boundParam
	for _, bp := range t.cfg.View.Surfaces[surf.Id] {
		if l := t.cfg.FindBoundLayer(bp.Id); l != nil {
			out = append(out, &boundParam{layer: l, alpha: bp.Alpha})
		}
	}
	if part.TextureLayer != "" {
		if l := t.cfg.FindBoundLayer(part.TextureLayer); l != nil {
			out = append(out, &boundParam{layer: l})
		}
	}
	return out
}

// reorderBoundLayers prepares every candidate, drops the unavailable ones
// and cuts the list below the topmost opaque watertight layer, which fully
// occludes everything under it. Returns done=false while any candidate is
// still indeterminate: draws are deferred rather than composited from a
// partial stack.
func (t *Traverser) reorderBoundLayers(n *Node, params []*boundParam) ([]*boundParam, bool) {
	valid := make([]*boundParam, 0, len(params))
	done := true
	for _, b := range params {
		switch t.prepareBound(n, b) {
		case resources.Valid:
			valid = append(valid, b)
		case resources.Indeterminate:
			done = false
		}
	}
	if !done {
		return nil, false
	}
	for i := len(valid) - 1; i > 0; i-- {
		if !valid[i].transparent && valid[i].watertight {
			valid = valid[i:]
			break
		}
	}
	return valid, true
}

// prepareBound resolves one bound layer at the node's tile, walking up the
// pyramid when the tile is deeper than the layer serves.
func (t *Traverser) prepareBound(n *Node, b *boundParam) resources.Validity {
	l := b.layer
	id := n.info.Id
	b.orig = id
	if id.Lod < l.LodRange[0] {
		return resources.Invalid
	}
	if id.Lod > l.LodRange[1] {
		b.depth = int(id.Lod - l.LodRange[1])
		for i := 0; i < b.depth; i++ {
			id = id.Parent()
		}
	}
	b.id = id

	b.watertight = true
	if l.UrlMeta != "" {
		block := id.Round(boundBinaryOrder)
		bmt := t.cache.GetBoundMetaTile(mapconfig.ExpandUrl(l.UrlMeta, mapconfig.Vars(block)))
		bmt.UpdatePriority(n.priority)
		switch bmt.Validity() {
		case resources.Indeterminate:
			return resources.Indeterminate
		case resources.Invalid:
			return resources.Invalid
		}
		flags := bmt.FlagsFor(id.X-block.X, id.Y-block.Y)
		if flags&resources.BoundAvailable == 0 {
			return resources.Invalid
		}
		b.watertight = flags&resources.BoundWatertight != 0
	}

	b.color = t.cache.GetTexture(mapconfig.ExpandUrl(l.UrlExtTex, mapconfig.Vars(id)))
	if b.color.AvailTest == nil {
		b.color.AvailTest = l.Availability
	}
	b.color.UpdatePriority(n.priority)
	switch b.color.Validity() {
	case resources.Indeterminate:
		return resources.Indeterminate
	case resources.Invalid:
		return resources.Invalid
	}

	if !b.watertight && l.UrlMask != "" {
		mask := t.cache.GetTexture(mapconfig.ExpandUrl(l.UrlMask, mapconfig.Vars(id)))
		mask.UpdatePriority(n.priority)
		switch mask.Validity() {
		case resources.Indeterminate:
			return resources.Indeterminate
		case resources.Valid:
			b.mask = mask
		}
	}

	b.transparent = l.IsTransparent || b.mask != nil ||
		(b.alpha != nil && *b.alpha < 1)
	return resources.Valid
}
