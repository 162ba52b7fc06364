package mapconfig

import (
	"math"
	"testing"

	"terrastream.dev/internal/geomath"
	"terrastream.dev/internal/tiles"
)

const sampleConfig = `{
  "version": 1,
  "referenceFrame": {
    "id": "sphere-geo",
    "metaBinaryOrder": 1,
    "physicalSrs": "geocentric",
    "navigationSrs": "geographic",
    "bodyRadius": 6378137,
    "navExtents": {"ll": [-180, -90], "ur": [180, 90]},
    "divisionExtents": {"ll": [-7000000, -7000000, -7000000], "ur": [7000000, 7000000, 7000000]}
  },
  "credits": {
    "basemap": {"id": 1, "notice": "basemap data"},
    "aerial": {"id": 2, "notice": "aerial imagery"}
  },
  "surfaces": [
    {
      "id": "terrain",
      "lodRange": [0, 18],
      "urlMeta": "https://tiles.test/terrain/{lod}-{x}-{y}.meta.json",
      "urlMesh": "https://tiles.test/terrain/{lod}-{x}-{y}.mesh.json",
      "urlIntTex": "https://tiles.test/terrain/{lod}-{x}-{y}-{sub}.raw",
      "credits": ["basemap"]
    },
    {
      "id": "overlay",
      "lodRange": [0, 12],
      "urlMeta": "https://tiles.test/overlay/{lod}-{x}-{y}.meta.json",
      "urlMesh": "https://tiles.test/overlay/{lod}-{x}-{y}.mesh.json",
      "alien": true
    }
  ],
  "boundLayers": [
    {
      "id": "aerial",
      "type": "raster",
      "url": "https://tiles.test/aerial/{lod}-{x}-{y}.raw",
      "urlMask": "https://tiles.test/aerial/{lod}-{x}-{y}.mask.raw",
      "lodRange": [0, 19],
      "credits": ["aerial"]
    }
  ],
  "view": {
    "surfaces": {
      "terrain": [{"id": "aerial"}],
      "overlay": []
    },
    "surfaceOrder": ["terrain", "overlay"]
  },
  "position": {
    "point": [14.5, 50.1, 0],
    "orientation": [0, -90, 0],
    "viewExtent": 10000000,
    "fov": 55
  }
}`

func TestParse_Sample(t *testing.T) {
	c, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.ReferenceFrame.MetaBinaryOrder != 1 {
		t.Fatalf("metaBinaryOrder: %d", c.ReferenceFrame.MetaBinaryOrder)
	}
	if s := c.FindSurface("terrain"); s == nil || s.Alien {
		t.Fatalf("terrain surface missing or alien")
	}
	if bl := c.FindBoundLayer("aerial"); bl == nil || bl.IsTransparent {
		t.Fatalf("aerial bound layer missing or transparent")
	}
	ids := c.CreditIds([]string{"basemap", "unknown", "aerial"})
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("credit ids: %v", ids)
	}
}

func TestParse_SchemaViolation(t *testing.T) {
	// fov is required by the schema.
	bad := `{"version":1,"referenceFrame":{"id":"x","physicalSrs":"p","navigationSrs":"n","bodyRadius":1,"navExtents":{"ll":[0,0],"ur":[1,1]},"divisionExtents":{"ll":[0,0,0],"ur":[1,1,1]}},"surfaces":[{"id":"s","lodRange":[0,1],"urlMeta":"m","urlMesh":"g"}],"view":{"surfaces":{}},"position":{"point":[0,0,0],"viewExtent":1}}`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected schema violation")
	}
}

func TestParse_UnknownViewReferences(t *testing.T) {
	bad := `{"version":1,"referenceFrame":{"id":"x","physicalSrs":"p","navigationSrs":"n","bodyRadius":1,"navExtents":{"ll":[0,0],"ur":[1,1]},"divisionExtents":{"ll":[0,0,0],"ur":[1,1,1]}},"surfaces":[{"id":"s","lodRange":[0,1],"urlMeta":"m","urlMesh":"g"}],"view":{"surfaces":{"nope":[]}},"position":{"point":[0,0,0],"viewExtent":1,"fov":55}}`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatalf("expected unknown surface reference error")
	}
}

func TestExpandUrl(t *testing.T) {
	v := VarsSub(tiles.TileId{Lod: 3, X: 5, Y: 6}, 2)
	got := ExpandUrl("https://x/{lod}/{x}/{y}/{sub}?l={loclod}", v)
	want := "https://x/3/5/6/2?l=3"
	if got != want {
		t.Fatalf("expand: got %q want %q", got, want)
	}
	// Unknown placeholders stay verbatim.
	if ExpandUrl("a/{nope}", v) != "a/{nope}" {
		t.Fatalf("unknown placeholder must be preserved")
	}
}

func TestGenerateSurfaceStack_OrderAndAlien(t *testing.T) {
	c, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	stack := GenerateSurfaceStack(c)
	if len(stack) != 2 {
		t.Fatalf("stack size: %d", len(stack))
	}
	if stack[0].Surface.Id != "terrain" || stack[0].Alien {
		t.Fatalf("top of stack: %+v", stack[0])
	}
	if stack[1].Surface.Id != "overlay" || !stack[1].Alien {
		t.Fatalf("bottom of stack: %+v", stack[1])
	}
	if stack[0].Color == stack[1].Color {
		t.Fatalf("stack items must get distinct colors")
	}
}

func TestGenerateSurfaceStack_VirtualSurface(t *testing.T) {
	c, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	c.VirtualSurfaces = []VirtualSurface{{
		Id: []string{"overlay", "terrain"},
		Surface: Surface{
			Id:       "merged",
			LodRange: [2]uint32{0, 18},
			UrlMeta:  "https://tiles.test/merged/{lod}-{x}-{y}.meta.json",
			UrlMesh:  "https://tiles.test/merged/{lod}-{x}-{y}.mesh.json",
		},
	}}
	stack := GenerateSurfaceStack(c)
	if len(stack) != 1 || stack[0].Surface.Id != "merged" {
		t.Fatalf("virtual surface must replace the stack: %+v", stack)
	}
}

func TestSphericalConvertor_Roundtrip(t *testing.T) {
	conv := SphericalConvertor{
		GeographicSrs: "geographic",
		GeocentricSrs: "geocentric",
		Radius:        6378137,
	}
	p := geomath.Vec3{X: 14.5, Y: 50.1, Z: 300}
	phys := conv.Convert(p, "geographic", "geocentric")
	if math.Abs(phys.Length()-(6378137+300)) > 1e-6 {
		t.Fatalf("geocentric radius: %v", phys.Length())
	}
	back := conv.Convert(phys, "geocentric", "geographic")
	if math.Abs(back.X-p.X) > 1e-9 || math.Abs(back.Y-p.Y) > 1e-9 || math.Abs(back.Z-p.Z) > 1e-6 {
		t.Fatalf("roundtrip: %+v", back)
	}
	// Unknown pairs are identity.
	if conv.Convert(p, "a", "b") != p {
		t.Fatalf("identity fallback broken")
	}
}
