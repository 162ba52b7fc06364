package tiles

import "fmt"

// TileId addresses one cell of the tile pyramid.
type TileId struct {
	Lod uint32
	X   uint32
	Y   uint32
}

func (t TileId) String() string {
	return fmt.Sprintf("%d-%d-%d", t.Lod, t.X, t.Y)
}

func (t TileId) Parent() TileId {
	if t.Lod == 0 {
		return t
	}
	return TileId{Lod: t.Lod - 1, X: t.X >> 1, Y: t.Y >> 1}
}

// ChildIndex is the position of this tile under its parent:
// x fastest, then y, range 0..3.
func (t TileId) ChildIndex() uint32 {
	return (t.X % 2) + (t.Y%2)*2
}

// Children lists the four sub-tiles in ChildIndex order.
func (t TileId) Children() [4]TileId {
	l, x, y := t.Lod+1, t.X<<1, t.Y<<1
	return [4]TileId{
		{l, x, y},
		{l, x + 1, y},
		{l, x, y + 1},
		{l, x + 1, y + 1},
	}
}

// Round snaps the tile to the origin of its metatile block. Metatiles bundle
// a 2^binaryOrder square of tiles, so all tiles of a block share one
// metatile resource name.
func (t TileId) Round(binaryOrder uint32) TileId {
	return TileId{
		Lod: t.Lod,
		X:   (t.X >> binaryOrder) << binaryOrder,
		Y:   (t.Y >> binaryOrder) << binaryOrder,
	}
}
