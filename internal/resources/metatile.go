package resources

import (
	"encoding/json"
	"fmt"

	"terrastream.dev/internal/tiles"
)

// MetaFlags describe one node of a metatile.
type MetaFlags uint32

const (
	FlagGeometryPresent MetaFlags = 1 << iota
	FlagNavtilePresent
	FlagAlien
	FlagApplyTexelSize
	FlagApplyDisplaySize
	// Child availability bits follow in ChildIndex order; keep them last.
	FlagUlChild
	FlagUrChild
	FlagLlChild
	FlagLrChild
)

func (f MetaFlags) Geometry() bool         { return f&FlagGeometryPresent != 0 }
func (f MetaFlags) Navtile() bool          { return f&FlagNavtilePresent != 0 }
func (f MetaFlags) Alien() bool            { return f&FlagAlien != 0 }
func (f MetaFlags) ApplyTexelSize() bool   { return f&FlagApplyTexelSize != 0 }
func (f MetaFlags) ApplyDisplaySize() bool { return f&FlagApplyDisplaySize != 0 }

// Child reports availability of the sub-tile at the given ChildIndex.
func (f MetaFlags) Child(index uint32) bool {
	return f&(FlagUlChild<<index) != 0
}

// MetaNode is decoded metadata of a single tile.
type MetaNode struct {
	Flags           MetaFlags
	ZMin            float64
	ZMax            float64
	Surrogate       *float64 // representative elevation; nil when absent
	TexelSize       float64
	DisplaySize     uint32
	SourceReference uint32
	// Normalized extents within the reference frame division, used for the
	// corner fallback when the node has no geometry extents.
	ExtentsLl  [3]float64
	ExtentsUr  [3]float64
	HasExtents bool
	CreditIds  []uint32
}

// MetaBlock is a decoded metatile: metadata for a 2^binaryOrder square of
// tiles anchored at the block origin.
type MetaBlock struct {
	Origin tiles.TileId
	Size   uint32
	nodes  map[tiles.TileId]*MetaNode
}

// Get looks up the node of one tile within the block.
func (b *MetaBlock) Get(id tiles.TileId) (*MetaNode, bool) {
	n, ok := b.nodes[id]
	return n, ok
}

type metaNodeWire struct {
	X                uint32     `json:"x"`
	Y                uint32     `json:"y"`
	Geometry         bool       `json:"geometry,omitempty"`
	Navtile          bool       `json:"navtile,omitempty"`
	Alien            bool       `json:"alien,omitempty"`
	ApplyTexelSize   bool       `json:"applyTexelSize,omitempty"`
	ApplyDisplaySize bool       `json:"applyDisplaySize,omitempty"`
	Children         [4]bool    `json:"children"`
	ZMin             float64    `json:"zmin"`
	ZMax             float64    `json:"zmax"`
	Surrogate        *float64   `json:"surrogate,omitempty"`
	TexelSize        float64    `json:"texelSize,omitempty"`
	DisplaySize      uint32     `json:"displaySize,omitempty"`
	SourceReference  uint32     `json:"sourceReference,omitempty"`
	Extents          *Extents3W `json:"extents,omitempty"`
	Credits          []uint32   `json:"credits,omitempty"`
}

type Extents3W struct {
	Ll [3]float64 `json:"ll"`
	Ur [3]float64 `json:"ur"`
}

type metaBlockWire struct {
	Lod   uint32         `json:"lod"`
	X     uint32         `json:"x"`
	Y     uint32         `json:"y"`
	Size  uint32         `json:"size"`
	Nodes []metaNodeWire `json:"nodes"`
}

// DecodeMetaBlock decodes the JSON metatile wire format. Node coordinates
// are absolute and must fall inside the block square.
func DecodeMetaBlock(raw []byte) (*MetaBlock, error) {
	var w metaBlockWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("metatile: %w", err)
	}
	if w.Size == 0 {
		return nil, fmt.Errorf("metatile: zero block size")
	}
	b := &MetaBlock{
		Origin: tiles.TileId{Lod: w.Lod, X: w.X, Y: w.Y},
		Size:   w.Size,
		nodes:  make(map[tiles.TileId]*MetaNode, len(w.Nodes)),
	}
	for i, nw := range w.Nodes {
		if nw.X < w.X || nw.X >= w.X+w.Size || nw.Y < w.Y || nw.Y >= w.Y+w.Size {
			return nil, fmt.Errorf("metatile: node %d outside block", i)
		}
		var f MetaFlags
		if nw.Geometry {
			f |= FlagGeometryPresent
		}
		if nw.Navtile {
			f |= FlagNavtilePresent
		}
		if nw.Alien {
			f |= FlagAlien
		}
		if nw.ApplyTexelSize {
			f |= FlagApplyTexelSize
		}
		if nw.ApplyDisplaySize {
			f |= FlagApplyDisplaySize
		}
		for ci := uint32(0); ci < 4; ci++ {
			if nw.Children[ci] {
				f |= FlagUlChild << ci
			}
		}
		n := &MetaNode{
			Flags:           f,
			ZMin:            nw.ZMin,
			ZMax:            nw.ZMax,
			Surrogate:       nw.Surrogate,
			TexelSize:       nw.TexelSize,
			DisplaySize:     nw.DisplaySize,
			SourceReference: nw.SourceReference,
			CreditIds:       nw.Credits,
		}
		if nw.Extents != nil {
			n.ExtentsLl = nw.Extents.Ll
			n.ExtentsUr = nw.Extents.Ur
			n.HasExtents = true
		}
		b.nodes[tiles.TileId{Lod: w.Lod, X: nw.X, Y: nw.Y}] = n
	}
	return b, nil
}
