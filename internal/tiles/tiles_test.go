package tiles

import "testing"

func TestTileId_ParentChildRoundtrip(t *testing.T) {
	id := TileId{Lod: 5, X: 13, Y: 22}
	for i, c := range id.Children() {
		if c.Parent() != id {
			t.Fatalf("child %d: parent mismatch: %v", i, c)
		}
		if int(c.ChildIndex()) != i {
			t.Fatalf("child %d: index %d", i, c.ChildIndex())
		}
	}
	if (TileId{}).Parent() != (TileId{}) {
		t.Fatalf("root parent must be root")
	}
}

func TestTileId_Round(t *testing.T) {
	id := TileId{Lod: 7, X: 13, Y: 22}
	r := id.Round(3)
	if r != (TileId{Lod: 7, X: 8, Y: 16}) {
		t.Fatalf("round: got %v", r)
	}
	if id.Round(0) != id {
		t.Fatalf("binary order 0 must keep the id")
	}
}

func TestNodeInfo_ChildExtents(t *testing.T) {
	root := RootNodeInfo("geo", Extents2{Lx: -180, Ly: -90, Ux: 180, Uy: 90})
	kids := root.Id.Children()

	nw := root.Child(kids[0])
	if nw.Extents != (Extents2{Lx: -180, Ly: 0, Ux: 0, Uy: 90}) {
		t.Fatalf("north-west child: %+v", nw.Extents)
	}
	se := root.Child(kids[3])
	if se.Extents != (Extents2{Lx: 0, Ly: -90, Ux: 180, Uy: 0}) {
		t.Fatalf("south-east child: %+v", se.Extents)
	}
	if nw.DistanceFromRoot() != 1 {
		t.Fatalf("depth: %d", nw.DistanceFromRoot())
	}
}
