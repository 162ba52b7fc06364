package traverse

import (
	"terrastream.dev/internal/geomath"
	"terrastream.dev/internal/mapconfig"
	"terrastream.dev/internal/resources"
	"terrastream.dev/internal/stats"
)

// determineMeta resolves the tile's metadata from the metatiles of every
// surface in the stack. Returns false while any needed metatile is still
// loading or the per-tick budget is exhausted; the caller retries next
// frame.
func (t *Traverser) determineMeta(n *Node) bool {
	if t.metaUpdates >= t.opts.MaxNodeMetaUpdatesPerTick {
		return false
	}

	binaryOrder := t.cfg.ReferenceFrame.MetaBinaryOrder
	blockId := n.info.Id.Round(binaryOrder)
	ci := n.info.Id.ChildIndex()

	metaNodes := make([]*resources.MetaNode, len(t.stack))
	determined := true
	for i := range t.stack {
		s := &t.stack[i]
		// The parent's metatile already told us whether this surface
		// continues into our quadrant; skip the fetch if it does not.
		if n.parent != nil && n.parent.meta != nil {
			pn := n.parent.meta.metaNodes[i]
			if pn == nil || !pn.Flags.Child(ci) {
				continue
			}
		}

		name := mapconfig.ExpandUrl(s.Surface.UrlMeta, mapconfig.Vars(blockId))
		mt := t.cache.GetMetaTile(name)
		mt.UpdatePriority(n.priority)
		switch mt.Validity() {
		case resources.Invalid:
			continue
		case resources.Indeterminate:
			determined = false
			continue
		}
		if node, ok := mt.Block.Get(n.info.Id); ok {
			metaNodes[i] = node
		}
	}
	if !determined {
		return false
	}

	t.metaUpdates++
	if t.st != nil {
		t.st.MetaNodesTraversedTotal++
		t.st.MetaNodesTraversedPerLod[stats.LodBucket(n.info.Id.Lod)]++
	}

	m := &nodeMeta{metaNodes: metaNodes}

	// The topmost stack item whose node carries geometry is authoritative.
	// Alien stack items only win over nodes marked alien in the metadata
	// and vice versa, so a foreign-frame overlay never hijacks a tile.
	for i := range t.stack {
		node := metaNodes[i]
		if node == nil {
			continue
		}
		for c := uint32(0); c < 4; c++ {
			if node.Flags.Child(c) {
				m.childsAvailable[c] = true
			}
		}
		if m.surface == nil && node.Flags.Geometry() &&
			t.stack[i].Alien == node.Flags.Alien() {
			m.surface = &t.stack[i]
			m.node = node
		}
	}

	if m.node != nil {
		m.flags = m.node.Flags
		m.texelSize = m.node.TexelSize
		m.displaySize = m.node.DisplaySize
		t.computeGeometry(n, m)
		t.collectCredits(m)
	} else {
		m.aabb = geomath.InfiniteAABB()
	}

	n.meta = m
	n.priority = t.computePriority(n)
	return true
}

// computeGeometry derives the physical-space corners and bounding volumes
// of the tile from the navigation extents and elevation range.
func (t *Traverser) computeGeometry(n *Node, m *nodeMeta) {
	rf := &t.cfg.ReferenceFrame
	e := n.info.Extents
	zMin, zMax := m.node.ZMin, m.node.ZMax
	for i := uint32(0); i < 8; i++ {
		f := geomath.LowerUpperCombine(i)
		nav := geomath.Vec3{
			X: e.Lx + f.X*e.Width(),
			Y: e.Ly + f.Y*e.Height(),
			Z: zMin + f.Z*(zMax-zMin),
		}
		m.cornersPhys[i] = t.conv.Convert(nav, rf.NavigationSrs, rf.PhysicalSrs)
	}

	depth := n.info.DistanceFromRoot()
	if depth > 2 {
		m.aabb = geomath.AABBFromPoints(m.cornersPhys[:])
	} else {
		// Shallow tiles wrap around the body; a box from 8 corners would
		// cut through it.
		m.aabb = geomath.InfiniteAABB()
	}
	if depth > 4 {
		m.obb = obbFromCorners(m.cornersPhys)
	}

	if m.node.Surrogate != nil {
		s := *m.node.Surrogate
		if s >= zMin && s <= zMax {
			nav := geomath.Vec3{X: e.CenterX(), Y: e.CenterY(), Z: s}
			phys := t.conv.Convert(nav, rf.NavigationSrs, rf.PhysicalSrs)
			m.surrogatePhys = &phys
		}
	}
}

// obbFromCorners builds an oriented box aligned with the tile's local axes.
func obbFromCorners(c [8]geomath.Vec3) *geomath.OBB {
	u := c[1].Sub(c[0]).Normalized()
	w := u.Cross(c[2].Sub(c[0])).Normalized()
	v := w.Cross(u)
	rot := geomath.Identity()
	rot.Set(0, 0, u.X)
	rot.Set(0, 1, u.Y)
	rot.Set(0, 2, u.Z)
	rot.Set(1, 0, v.X)
	rot.Set(1, 1, v.Y)
	rot.Set(1, 2, v.Z)
	rot.Set(2, 0, w.X)
	rot.Set(2, 1, w.Y)
	rot.Set(2, 2, w.Z)

	local := make([]geomath.Vec3, 8)
	for i, p := range c {
		local[i] = rot.MulPoint(p)
	}
	return &geomath.OBB{RotInv: rot, Box: geomath.AABBFromPoints(local)}
}

func (t *Traverser) collectCredits(m *nodeMeta) {
	seen := map[uint32]struct{}{}
	add := func(id uint32) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			m.credits = append(m.credits, id)
		}
	}
	for _, id := range m.node.CreditIds {
		add(id)
	}
	if m.surface != nil {
		for _, id := range t.cfg.CreditIds(m.surface.Surface.Credits) {
			add(id)
		}
	}
}
