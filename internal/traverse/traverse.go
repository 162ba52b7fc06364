package traverse

import (
	"container/heap"
	"log"
	"math"

	"terrastream.dev/internal/draws"
	"terrastream.dev/internal/geomath"
	"terrastream.dev/internal/mapconfig"
	"terrastream.dev/internal/options"
	"terrastream.dev/internal/resources"
	"terrastream.dev/internal/stats"
)

// Traverser drives the per-frame tile walk for one map configuration. It
// is single-threaded: all methods run on the render thread.
type Traverser struct {
	opts  *options.MapOptions
	cache *resources.Cache
	cfg   *mapconfig.Config
	stack []mapconfig.SurfaceStackItem
	conv  mapconfig.Convertor
	log   *log.Logger

	root *Node
	tick uint64
	cam  Camera

	queue travQueue
	out   *draws.Group

	credits map[uint32]struct{}

	metaUpdates  int
	drawsUpdates int
	st           *stats.Stats
}

func New(opts *options.MapOptions, cache *resources.Cache, cfg *mapconfig.Config,
	stack []mapconfig.SurfaceStackItem, conv mapconfig.Convertor, lg *log.Logger) *Traverser {
	if lg == nil {
		lg = log.Default()
	}
	return &Traverser{
		opts:    opts,
		cache:   cache,
		cfg:     cfg,
		stack:   stack,
		conv:    conv,
		log:     lg,
		root:    newNode(nil, cfg.RootNodeInfo()),
		credits: map[uint32]struct{}{},
	}
}

// Clear drops the whole traversal tree and releases every pinned resource;
// used when the map configuration or the active view changes.
func (t *Traverser) Clear() {
	t.root.clear()
}

// RenderTick traverses the pyramid once, filling out with this frame's
// draw tasks. Returns the ids of all credits attributed to rendered tiles.
func (t *Traverser) RenderTick(tick uint64, cam Camera, out *draws.Group, st *stats.Stats) []uint32 {
	t.tick = tick
	t.cam = cam
	t.out = out
	t.st = st
	t.metaUpdates = 0
	t.drawsUpdates = 0
	for id := range t.credits {
		delete(t.credits, id)
	}
	out.Clear()

	t.queue = t.queue[:0]
	heap.Init(&t.queue)
	t.queue.push(t.root, false)
	for t.queue.Len() > 0 {
		it := t.queue.pop()
		if t.opts.TraverseMode == options.TraverseFlat {
			t.stepFlat(it.node, it.loadOnly)
		} else {
			t.stepHierarchical(it.node, it.loadOnly)
		}
	}

	t.clearing(t.root)

	if st != nil {
		st.CurrentNodeMetaUpdates = uint32(t.metaUpdates)
		st.CurrentNodeDrawsUpdates = uint32(t.drawsUpdates)
	}

	ids := make([]uint32, 0, len(t.credits))
	for id := range t.credits {
		ids = append(ids, id)
	}
	return ids
}

func (t *Traverser) touch(n *Node) {
	n.lastAccess = t.tick
	if n.meta != nil {
		n.priority = t.computePriority(n)
	}
}

// computePriority favors deep tiles close to the focus point. Callers keep
// the parent's priority on nodes whose metadata is still unresolved.
func (t *Traverser) computePriority(n *Node) float64 {
	dist := 1.0
	if n.info.Id.Lod > 2 {
		dist += n.meta.aabb.Center().Dist(t.cam.Target)
	}
	return float64(uint64(1)<<n.info.Id.Lod) / dist
}

// enqueueChild pushes a sub-node, priced from its own metadata when it has
// any and inheriting the parent's priority otherwise.
func (t *Traverser) enqueueChild(n *Node, ci uint32, loadOnly bool) {
	c := n.child(ci)
	if c.meta != nil {
		c.priority = t.computePriority(c)
	} else {
		c.priority = n.priority
	}
	t.queue.push(c, loadOnly)
}

// stepHierarchical refines one node. Too-coarse tiles render themselves as
// a stand-in until all their children can draw, so the screen never holes
// while finer data streams in.
func (t *Traverser) stepHierarchical(n *Node, loadOnly bool) {
	t.touch(n)
	if n.meta == nil && !t.determineMeta(n) {
		return
	}

	// Draws are assembled before the cull: parents poll rendersReady on
	// every child, so an off-screen sibling must still reach readiness or
	// its whole subtree would sit in fallback forever.
	if n.meta.surface != nil && n.renders == nil {
		t.determineDraws(n)
	}
	visible := t.visible(n)

	leaf := !n.meta.anyChild()
	if leaf && n.meta.surface == nil {
		return
	}
	if leaf || t.coarsenessOk(n) {
		if !loadOnly && visible {
			t.renderNode(n)
		}
		return
	}
	if !visible {
		return
	}

	ready := true
	for ci := uint32(0); ci < 4; ci++ {
		if n.meta.childsAvailable[ci] && !n.child(ci).rendersReady() {
			ready = false
		}
	}
	if !ready && !loadOnly {
		// Children still loading: draw this tile meanwhile.
		t.renderNode(n)
	}
	for ci := uint32(0); ci < 4; ci++ {
		if n.meta.childsAvailable[ci] {
			t.enqueueChild(n, ci, loadOnly || !ready)
		}
	}
}

// stepFlat renders only tiles at their final level of detail; nothing is
// drawn while the right tiles load, trading pop-in for exactness.
func (t *Traverser) stepFlat(n *Node, loadOnly bool) {
	t.touch(n)
	if n.meta == nil && !t.determineMeta(n) {
		return
	}
	if !t.visible(n) {
		return
	}

	leaf := !n.meta.anyChild()
	if leaf || t.coarsenessOk(n) {
		if n.meta.surface == nil {
			return
		}
		if n.renders == nil {
			t.determineDraws(n)
		}
		if !loadOnly && n.renders != nil {
			t.renderNode(n)
		}
		return
	}
	for ci := uint32(0); ci < 4; ci++ {
		if n.meta.childsAvailable[ci] {
			t.enqueueChild(n, ci, loadOnly)
		}
	}
}

func (t *Traverser) visible(n *Node) bool {
	if n.meta.obb != nil {
		return geomath.OBBTest(*n.meta.obb, t.cam.Planes)
	}
	return geomath.AABBTest(n.meta.aabb, t.cam.Planes)
}

// coarsenessOk reports whether the tile is already detailed enough for the
// current view, by projecting its texel size to screen pixels at each
// corner.
func (t *Traverser) coarsenessOk(n *Node) bool {
	m := n.meta
	threshold := t.opts.MaxTexelToPixelScale
	switch {
	case m.flags.ApplyTexelSize():
		if m.texelSize <= 0 {
			return true
		}
		offset := t.cam.Right.Mul(m.texelSize)
		worst := 0.0
		for _, c := range m.cornersPhys {
			a := t.cam.ViewProj.MulPoint(c)
			b := t.cam.ViewProj.MulPoint(c.Add(offset))
			dx := (b.X - a.X) * 0.5 * t.cam.ViewportWidth
			dy := (b.Y - a.Y) * 0.5 * t.cam.ViewportHeight
			px := math.Sqrt(dx*dx + dy*dy)
			if px > worst {
				worst = px
			}
		}
		return worst < threshold

	case m.flags.ApplyDisplaySize():
		if m.displaySize == 0 {
			return true
		}
		// Projected box height in pixels vs the declared display size.
		c := m.aabb.Center()
		h := m.aabb.Max.Sub(m.aabb.Min).Length()
		a := t.cam.ViewProj.MulPoint(c)
		b := t.cam.ViewProj.MulPoint(c.Add(t.cam.Right.Mul(h)))
		px := math.Abs(b.X-a.X) * 0.5 * t.cam.ViewportWidth
		return px < float64(m.displaySize)

	default:
		// No resolution hint means the tile only routes traversal; keep
		// descending, leaves are handled by the caller.
		return false
	}
}

// clearing prunes subtrees untouched for a while. Work at lod 3 is spread
// over 64 frames so one frame never pays for the whole pyramid.
func (t *Traverser) clearing(n *Node) {
	id := n.info.Id
	if id.Lod == 3 && (id.Y*8+id.X)%64 != uint32(t.tick%64) {
		return
	}
	unused := uint64(t.opts.NodeUnusedTicks)
	for _, c := range n.children {
		if c == nil {
			continue
		}
		if c.lastAccess+unused < t.tick {
			c.clear()
		} else {
			t.clearing(c)
		}
	}
}

// renderNode emits the node's draw tasks and attributes its credits.
func (t *Traverser) renderNode(n *Node) {
	if n.renders == nil || n.meta == nil {
		return
	}
	t.out.Opaque = append(t.out.Opaque, n.renders.opaque...)
	t.out.Transparent = append(t.out.Transparent, n.renders.transparent...)
	for _, id := range n.meta.credits {
		t.credits[id] = struct{}{}
	}
	if t.st != nil {
		t.st.NodesRenderedTotal++
		t.st.NodesRenderedPerLod[stats.LodBucket(n.info.Id.Lod)]++
	}
	if t.opts.DebugRenderTileBoxes {
		t.emitTileBox(n)
	}
	if t.opts.DebugRenderSurrogates && n.meta.surrogatePhys != nil {
		t.emitSurrogate(n)
	}
}

func (t *Traverser) emitTileBox(n *Node) {
	task := draws.Task{
		Model:     boxModel(n.meta.aabb),
		UvMat:     draws.IdentityUv(),
		FlatColor: [4]float64{n.colorOf().X, n.colorOf().Y, n.colorOf().Z, 1},
	}
	t.out.Infographic = append(t.out.Infographic, task)
}

func (t *Traverser) emitSurrogate(n *Node) {
	s := *n.meta.surrogatePhys
	task := draws.Task{
		Model:     geomath.Translation(s),
		UvMat:     draws.IdentityUv(),
		FlatColor: [4]float64{1, 1, 1, 1},
	}
	t.out.Infographic = append(t.out.Infographic, task)
}

func (n *Node) colorOf() geomath.Vec3 {
	if n.meta != nil && n.meta.surface != nil {
		return n.meta.surface.Color
	}
	return geomath.Vec3{X: 1, Y: 1, Z: 1}
}

// boxModel scales and places a unit cube over an axis-aligned box.
func boxModel(b geomath.AABB) geomath.Mat4 {
	size := b.Max.Sub(b.Min)
	m := geomath.Translation(b.Min)
	s := geomath.Identity()
	s.Set(0, 0, size.X)
	s.Set(1, 1, size.Y)
	s.Set(2, 2, size.Z)
	return m.MulMat(s)
}
