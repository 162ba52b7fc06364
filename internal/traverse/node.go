// Package traverse walks the tile pyramid each frame, resolving per-tile
// metadata and draw tasks from the resource cache and emitting the draw
// lists of everything visible at the right level of detail.
package traverse

import (
	"terrastream.dev/internal/draws"
	"terrastream.dev/internal/geomath"
	"terrastream.dev/internal/mapconfig"
	"terrastream.dev/internal/resources"
	"terrastream.dev/internal/tiles"
)

// Node is one tile of the traversal tree. Nodes are created on demand as
// the traversal descends and cleared again when untouched for a while; all
// heavyweight per-tile data lives behind the meta and renders pointers so
// an undetermined node costs almost nothing.
type Node struct {
	info     tiles.NodeInfo
	parent   *Node
	children [4]*Node

	lastAccess uint64
	priority   float64

	// meta is nil until the tile's metadata is resolved from all surface
	// metatiles; renders is nil until draw tasks are assembled.
	meta    *nodeMeta
	renders *nodeRenders
}

// nodeMeta is the resolved metadata of a tile, merged over the surface
// stack.
type nodeMeta struct {
	// metaNodes is aligned with the surface stack; nil entries mean the
	// surface has no node here. Children consult it for descend pruning.
	metaNodes []*resources.MetaNode

	// surface is the authoritative stack item providing geometry, nil for
	// tiles that only route the traversal further down.
	surface *mapconfig.SurfaceStackItem
	node    *resources.MetaNode

	childsAvailable [4]bool

	cornersPhys   [8]geomath.Vec3
	aabb          geomath.AABB
	obb           *geomath.OBB
	surrogatePhys *geomath.Vec3

	texelSize   float64
	displaySize uint32
	flags       resources.MetaFlags
	credits     []uint32
}

func (m *nodeMeta) anyChild() bool {
	return m.childsAvailable[0] || m.childsAvailable[1] ||
		m.childsAvailable[2] || m.childsAvailable[3]
}

// pinnable is the subset of a resource the render lists hold on to.
type pinnable interface {
	Pin()
	Unpin()
}

// nodeRenders is the assembled draw output of one tile. The resources the
// tasks reference are pinned for the lifetime of the renders so the cache
// cannot evict them out from under the renderer.
type nodeRenders struct {
	opaque      []draws.Task
	transparent []draws.Task
	pins        []pinnable
}

func (r *nodeRenders) empty() bool {
	return len(r.opaque) == 0 && len(r.transparent) == 0
}

func (r *nodeRenders) pin(p pinnable) {
	p.Pin()
	r.pins = append(r.pins, p)
}

func (r *nodeRenders) release() {
	for _, p := range r.pins {
		p.Unpin()
	}
	r.pins = nil
}

func newNode(parent *Node, info tiles.NodeInfo) *Node {
	return &Node{info: info, parent: parent}
}

// child returns the sub-node at the given child index, creating it lazily.
func (n *Node) child(index uint32) *Node {
	if n.children[index] == nil {
		id := n.info.Id.Children()[index]
		n.children[index] = newNode(n, n.info.Child(id))
	}
	return n.children[index]
}

// clear drops the subtree and all resolved data, unpinning every resource
// held by render lists below; the node itself survives so a later
// traversal can rebuild it in place.
func (n *Node) clear() {
	for _, c := range n.children {
		if c != nil {
			c.clear()
		}
	}
	n.children = [4]*Node{}
	n.meta = nil
	if n.renders != nil {
		n.renders.release()
		n.renders = nil
	}
}

// rendersReady reports whether the node can be drawn right now: either its
// draw tasks are assembled or it has nothing to draw.
func (n *Node) rendersReady() bool {
	if n.meta == nil {
		return false
	}
	if n.meta.surface == nil {
		return true
	}
	return n.renders != nil
}
