package tiles

// Extents2 is a 2D range in a spatial reference system.
type Extents2 struct {
	Lx, Ly float64 // lower corner
	Ux, Uy float64 // upper corner
}

func (e Extents2) Width() float64  { return e.Ux - e.Lx }
func (e Extents2) Height() float64 { return e.Uy - e.Ly }

func (e Extents2) CenterX() float64 { return (e.Lx + e.Ux) / 2 }
func (e Extents2) CenterY() float64 { return (e.Ly + e.Uy) / 2 }

// NodeInfo carries the spatial identity of a traversal node: its tile id and
// the extents the tile covers in the navigation SRS of the reference frame.
type NodeInfo struct {
	Id      TileId
	Srs     string
	Extents Extents2
}

// RootNodeInfo spans the whole division extents of the reference frame.
func RootNodeInfo(srs string, extents Extents2) NodeInfo {
	return NodeInfo{Id: TileId{}, Srs: srs, Extents: extents}
}

// Child computes the node info of one sub-tile. Y grows from the upper
// extents edge downward, matching tile row numbering.
func (n NodeInfo) Child(id TileId) NodeInfo {
	w := n.Extents.Width() / 2
	h := n.Extents.Height() / 2
	cx := id.X % 2
	cy := id.Y % 2
	lx := n.Extents.Lx + float64(cx)*w
	uy := n.Extents.Uy - float64(cy)*h
	return NodeInfo{
		Id:  id,
		Srs: n.Srs,
		Extents: Extents2{
			Lx: lx,
			Ly: uy - h,
			Ux: lx + w,
			Uy: uy,
		},
	}
}

// DistanceFromRoot is the subdivision depth of the node.
func (n NodeInfo) DistanceFromRoot() uint32 { return n.Id.Lod }
