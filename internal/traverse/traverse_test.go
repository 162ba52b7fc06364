package traverse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"strings"
	"testing"

	"terrastream.dev/internal/draws"
	"terrastream.dev/internal/geomath"
	"terrastream.dev/internal/mapconfig"
	"terrastream.dev/internal/options"
	"terrastream.dev/internal/resources"
)

// The fixtures use scheme-less resource names so the cache serves them
// from its bundled data set, keeping the whole pipeline in process.

const internalUvConfig = `{
  "version": 1,
  "referenceFrame": {
    "id": "sphere",
    "metaBinaryOrder": 1,
    "physicalSrs": "phys",
    "navigationSrs": "nav",
    "bodyRadius": 6378137,
    "navExtents": {"ll": [-180, -90], "ur": [180, 90]},
    "divisionExtents": {"ll": [-7000000, -7000000, -7000000], "ur": [7000000, 7000000, 7000000]}
  },
  "credits": {"basemap": {"id": 1, "notice": "basemap"}},
  "surfaces": [
    {
      "id": "terrain",
      "lodRange": [0, 1],
      "urlMeta": "terrain/{lod}-{x}-{y}.meta",
      "urlMesh": "terrain/{lod}-{x}-{y}.mesh",
      "urlIntTex": "terrain/{lod}-{x}-{y}-{sub}.tex",
      "credits": ["basemap"]
    }
  ],
  "view": {"surfaces": {"terrain": []}},
  "position": {"point": [0, 0, 0], "viewExtent": 10000000, "fov": 55}
}`

const boundLayersConfig = `{
  "version": 1,
  "referenceFrame": {
    "id": "sphere",
    "metaBinaryOrder": 1,
    "physicalSrs": "phys",
    "navigationSrs": "nav",
    "navExtents": {"ll": [-180, -90], "ur": [180, 90]},
    "divisionExtents": {"ll": [-7000000, -7000000, -7000000], "ur": [7000000, 7000000, 7000000]},
    "bodyRadius": 6378137
  },
  "surfaces": [
    {
      "id": "terrain",
      "lodRange": [0, 1],
      "urlMeta": "terrain/{lod}-{x}-{y}.meta",
      "urlMesh": "terrain/{lod}-{x}-{y}.mesh"
    }
  ],
  "boundLayers": [
    {"id": "A", "type": "raster", "url": "blA/{lod}-{x}-{y}.tex", "lodRange": [0, 19], "isTransparent": true},
    {"id": "B", "type": "raster", "url": "blB/{lod}-{x}-{y}.tex", "lodRange": [0, 19]},
    {"id": "C", "type": "raster", "url": "blC/{lod}-{x}-{y}.tex", "lodRange": [0, 19], "isTransparent": true}
  ],
  "view": {"surfaces": {"terrain": [{"id": "A"}, {"id": "B"}, {"id": "C"}]}},
  "position": {"point": [0, 0, 0], "viewExtent": 10000000, "fov": 55}
}`

func pngTile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

type metaNodeFix struct {
	X, Y      uint32
	Children  [4]bool
	TexelSize float64
	Credits   []uint32
	Alien     bool
}

func metaBlockJson(t *testing.T, lod, ox, oy uint32, nodes ...metaNodeFix) []byte {
	t.Helper()
	type nodeWire struct {
		X              uint32   `json:"x"`
		Y              uint32   `json:"y"`
		Geometry       bool     `json:"geometry"`
		Alien          bool     `json:"alien,omitempty"`
		ApplyTexelSize bool     `json:"applyTexelSize"`
		Children       [4]bool  `json:"children"`
		ZMin           float64  `json:"zmin"`
		ZMax           float64  `json:"zmax"`
		TexelSize      float64  `json:"texelSize"`
		Credits        []uint32 `json:"credits,omitempty"`
	}
	wire := struct {
		Lod   uint32     `json:"lod"`
		X     uint32     `json:"x"`
		Y     uint32     `json:"y"`
		Size  uint32     `json:"size"`
		Nodes []nodeWire `json:"nodes"`
	}{Lod: lod, X: ox, Y: oy, Size: 2}
	for _, n := range nodes {
		wire.Nodes = append(wire.Nodes, nodeWire{
			X: n.X, Y: n.Y,
			Geometry:       true,
			Alien:          n.Alien,
			ApplyTexelSize: true,
			Children:       n.Children,
			ZMin:           0,
			ZMax:           100,
			TexelSize:      n.TexelSize,
			Credits:        n.Credits,
		})
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func meshJson(t *testing.T, internalUv, externalUv bool) []byte {
	return meshJsonLayer(t, internalUv, externalUv, "")
}

func meshJsonLayer(t *testing.T, internalUv, externalUv bool, textureLayer string) []byte {
	t.Helper()
	identity := [16]float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
	sm := map[string]any{
		"positions":  []float64{0, 0, 0, 1, 0, 0, 0, 1, 0},
		"uvs":        []float32{0, 0, 1, 0, 0, 1},
		"faces":      []uint32{0, 1, 2},
		"normToPhys": identity,
		"internalUv": internalUv,
		"externalUv": externalUv,
	}
	if textureLayer != "" {
		sm["textureLayer"] = textureLayer
	}
	raw, err := json.Marshal(map[string]any{"submeshes": []map[string]any{sm}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func testCamera() Camera {
	eye := geomath.V3(2*6378137, 0, 0)
	target := geomath.Vec3{}
	up := geomath.V3(0, 0, 1)
	view := geomath.LookAt(eye, target, up)
	proj := geomath.Perspective(55, 1, 1000, 1e9)
	return NewCamera(view, proj, eye, target, up, 1024, 1024)
}

type fixture struct {
	cache *resources.Cache
	trav  *Traverser
	cam   Camera
	out   draws.Group
}

func newFixture(t *testing.T, configJson string, internal map[string][]byte, mode string) *fixture {
	t.Helper()
	cfg, err := mapconfig.Parse([]byte(configJson))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	opts := options.Defaults()
	opts.TraverseMode = mode
	cache := resources.New(resources.Config{
		Options:  &opts,
		Fetcher:  &fakeFetcher{},
		Decoders: resources.DefaultDecoders(),
		Internal: internal,
		Log:      log.New(io.Discard, "", 0),
	})
	t.Cleanup(func() { cache.Close() })
	conv := mapconfig.SphericalConvertor{
		GeographicSrs: "nav",
		GeocentricSrs: "phys",
		Radius:        cfg.ReferenceFrame.BodyRadius,
	}
	stack := mapconfig.GenerateSurfaceStack(cfg)
	trav := New(&opts, cache, cfg, stack, conv, log.New(io.Discard, "", 0))
	return &fixture{cache: cache, trav: trav, cam: testCamera()}
}

// run interleaves render and data ticks until the draw output stabilizes.
func (f *fixture) run(ticks int) []uint32 {
	var credits []uint32
	for i := 1; i <= ticks; i++ {
		f.cache.RenderTick(uint64(i))
		credits = f.trav.RenderTick(uint64(i), f.cam, &f.out, nil)
		for !f.cache.DataTick() {
		}
	}
	return credits
}

type fakeFetcher struct{ done resources.FetchDone }

func (f *fakeFetcher) Init(done resources.FetchDone) { f.done = done }
func (f *fakeFetcher) Fetch(t *resources.FetchTask)  { f.done(t, 404, "", nil) }
func (f *fakeFetcher) Finalize()                     {}

func TestRendersSingleTile(t *testing.T) {
	internal := map[string][]byte{
		"terrain/0-0-0.meta":  metaBlockJson(t, 0, 0, 0, metaNodeFix{TexelSize: 1e6, Credits: []uint32{7}}),
		"terrain/0-0-0.mesh":  meshJson(t, true, false),
		"terrain/0-0-0-0.tex": pngTile(t),
	}
	f := newFixture(t, internalUvConfig, internal, options.TraverseHierarchical)
	credits := f.run(20)

	if len(f.out.Opaque) != 1 {
		t.Fatalf("opaque tasks = %d, want 1", len(f.out.Opaque))
	}
	task := f.out.Opaque[0]
	if task.Color == nil || task.Color.Name != "terrain/0-0-0-0.tex" {
		t.Fatalf("wrong texture on task: %+v", task.Color)
	}
	if task.ExternalUv {
		t.Fatalf("internal texture marked external")
	}

	want := map[uint32]bool{1: false, 7: false}
	for _, id := range credits {
		if _, ok := want[id]; ok {
			want[id] = true
		}
	}
	for id, seen := range want {
		if !seen {
			t.Fatalf("credit %d not attributed, got %v", id, credits)
		}
	}
}

func descendFixtures(t *testing.T) map[string][]byte {
	return map[string][]byte{
		// Root is too coarse for the view and continues into quadrant 0.
		"terrain/0-0-0.meta": metaBlockJson(t, 0, 0, 0,
			metaNodeFix{TexelSize: 1e6, Children: [4]bool{true, false, false, false}}),
		"terrain/1-0-0.meta":  metaBlockJson(t, 1, 0, 0, metaNodeFix{TexelSize: 1e6}),
		"terrain/0-0-0.mesh":  meshJson(t, true, false),
		"terrain/1-0-0.mesh":  meshJson(t, true, false),
		"terrain/0-0-0-0.tex": pngTile(t),
		"terrain/1-0-0-0.tex": pngTile(t),
	}
}

func TestHierarchicalDescendsToChild(t *testing.T) {
	f := newFixture(t, internalUvConfig, descendFixtures(t), options.TraverseHierarchical)
	f.run(30)

	if len(f.out.Opaque) != 1 {
		t.Fatalf("opaque tasks = %d, want 1", len(f.out.Opaque))
	}
	if got := f.out.Opaque[0].Color.Name; got != "terrain/1-0-0-0.tex" {
		t.Fatalf("rendered %q, want the child tile", got)
	}
}

func TestFlatDescendsToChild(t *testing.T) {
	f := newFixture(t, internalUvConfig, descendFixtures(t), options.TraverseFlat)
	f.run(30)

	if len(f.out.Opaque) != 1 {
		t.Fatalf("opaque tasks = %d, want 1", len(f.out.Opaque))
	}
	if got := f.out.Opaque[0].Color.Name; got != "terrain/1-0-0-0.tex" {
		t.Fatalf("rendered %q, want the child tile", got)
	}
}

func TestBoundLayerReorder(t *testing.T) {
	internal := map[string][]byte{
		"terrain/0-0-0.meta": metaBlockJson(t, 0, 0, 0, metaNodeFix{TexelSize: 1e6}),
		"terrain/0-0-0.mesh": meshJson(t, false, true),
		"blA/0-0-0.tex":      pngTile(t),
		"blB/0-0-0.tex":      pngTile(t),
		"blC/0-0-0.tex":      pngTile(t),
	}
	f := newFixture(t, boundLayersConfig, internal, options.TraverseHierarchical)
	f.run(20)

	// B is opaque and watertight, so the transparent A below it is
	// occluded and dropped; the transparent C above it stays.
	if len(f.out.Opaque) != 1 {
		t.Fatalf("opaque tasks = %d, want 1", len(f.out.Opaque))
	}
	if got := f.out.Opaque[0].Color.Name; got != "blB/0-0-0.tex" {
		t.Fatalf("opaque layer %q, want B", got)
	}
	if len(f.out.Transparent) != 1 {
		t.Fatalf("transparent tasks = %d, want 1", len(f.out.Transparent))
	}
	if got := f.out.Transparent[0].Color.Name; got != "blC/0-0-0.tex" {
		t.Fatalf("transparent layer %q, want C", got)
	}
}

func TestTraverserClearRebuilds(t *testing.T) {
	internal := map[string][]byte{
		"terrain/0-0-0.meta":  metaBlockJson(t, 0, 0, 0, metaNodeFix{TexelSize: 1e6}),
		"terrain/0-0-0.mesh":  meshJson(t, true, false),
		"terrain/0-0-0-0.tex": pngTile(t),
	}
	f := newFixture(t, internalUvConfig, internal, options.TraverseHierarchical)
	f.run(20)
	if len(f.out.Opaque) != 1 {
		t.Fatalf("precondition failed: %d tasks", len(f.out.Opaque))
	}

	f.trav.Clear()
	f.trav.RenderTick(21, f.cam, &f.out, nil)
	if len(f.out.Opaque) != 0 {
		t.Fatalf("tasks survived clear: %d", len(f.out.Opaque))
	}

	// Resources are still cached, so the tree reassembles quickly.
	for i := 22; i <= 26; i++ {
		f.cache.RenderTick(uint64(i))
		f.trav.RenderTick(uint64(i), f.cam, &f.out, nil)
		for !f.cache.DataTick() {
		}
	}
	if len(f.out.Opaque) != 1 {
		t.Fatalf("tree did not rebuild after clear: %d tasks", len(f.out.Opaque))
	}
}

func TestCoarsenessKeepsFineTileShallow(t *testing.T) {
	// A tiny texel size projects well under a pixel, so the root is
	// already detailed enough and its child must not be traversed.
	internal := map[string][]byte{
		"terrain/0-0-0.meta": metaBlockJson(t, 0, 0, 0,
			metaNodeFix{TexelSize: 0.001, Children: [4]bool{true, false, false, false}}),
		"terrain/1-0-0.meta":  metaBlockJson(t, 1, 0, 0, metaNodeFix{TexelSize: 0.001}),
		"terrain/0-0-0.mesh":  meshJson(t, true, false),
		"terrain/1-0-0.mesh":  meshJson(t, true, false),
		"terrain/0-0-0-0.tex": pngTile(t),
		"terrain/1-0-0-0.tex": pngTile(t),
	}
	f := newFixture(t, internalUvConfig, internal, options.TraverseHierarchical)
	f.run(30)

	if len(f.out.Opaque) != 1 {
		t.Fatalf("opaque tasks = %d, want 1", len(f.out.Opaque))
	}
	if got := f.out.Opaque[0].Color.Name; got != "terrain/0-0-0-0.tex" {
		t.Fatalf("rendered %q, want the root tile", got)
	}
}

// transparentLayerConfig views a single transparent bound layer over a
// surface that also carries its own per-tile texture.
const transparentLayerConfig = `{
  "version": 1,
  "referenceFrame": {
    "id": "sphere",
    "metaBinaryOrder": 1,
    "physicalSrs": "phys",
    "navigationSrs": "nav",
    "navExtents": {"ll": [-180, -90], "ur": [180, 90]},
    "divisionExtents": {"ll": [-7000000, -7000000, -7000000], "ur": [7000000, 7000000, 7000000]},
    "bodyRadius": 6378137
  },
  "surfaces": [
    {
      "id": "terrain",
      "lodRange": [0, 1],
      "urlMeta": "terrain/{lod}-{x}-{y}.meta",
      "urlMesh": "terrain/{lod}-{x}-{y}.mesh",
      "urlIntTex": "terrain/{lod}-{x}-{y}-{sub}.tex"
    }
  ],
  "boundLayers": [
    {"id": "A", "type": "raster", "url": "blA/{lod}-{x}-{y}.tex", "lodRange": [0, 19], "isTransparent": true},
    {"id": "C", "type": "raster", "url": "blC/{lod}-{x}-{y}.tex", "lodRange": [0, 19], "isTransparent": true}
  ],
  "view": {"surfaces": {"terrain": [{"id": "A"}]}},
  "position": {"point": [0, 0, 0], "viewExtent": 10000000, "fov": 55}
}`

// twoSurfaceConfig stacks an alien overlay above a base surface; both are
// in the active view, declaration order decides the stack.
const twoSurfaceConfig = `{
  "version": 1,
  "referenceFrame": {
    "id": "sphere",
    "metaBinaryOrder": 1,
    "physicalSrs": "phys",
    "navigationSrs": "nav",
    "navExtents": {"ll": [-180, -90], "ur": [180, 90]},
    "divisionExtents": {"ll": [-7000000, -7000000, -7000000], "ur": [7000000, 7000000, 7000000]},
    "bodyRadius": 6378137
  },
  "surfaces": [
    {
      "id": "ovl",
      "alien": true,
      "lodRange": [0, 1],
      "urlMeta": "ovl/{lod}-{x}-{y}.meta",
      "urlMesh": "ovl/{lod}-{x}-{y}.mesh",
      "urlIntTex": "ovl/{lod}-{x}-{y}-{sub}.tex"
    },
    {
      "id": "base",
      "lodRange": [0, 1],
      "urlMeta": "base/{lod}-{x}-{y}.meta",
      "urlMesh": "base/{lod}-{x}-{y}.mesh",
      "urlIntTex": "base/{lod}-{x}-{y}-{sub}.tex"
    }
  ],
  "view": {"surfaces": {"ovl": [], "base": []}},
  "position": {"point": [0, 0, 0], "viewExtent": 10000000, "fov": 55}
}`

// narrowCamera hovers close over one spot so only a small patch of the
// globe fits the frustum and high-latitude tiles fall outside it.
func narrowCamera() Camera {
	eye := geomath.V3(1.5*6378137, 0, 0)
	target := geomath.V3(6378137, 0, 0)
	up := geomath.V3(0, 0, 1)
	view := geomath.LookAt(eye, target, up)
	proj := geomath.Perspective(20, 1, 1e5, 1e9)
	return NewCamera(view, proj, eye, target, up, 1024, 1024)
}

// pyramidFixtures builds a full four-level pyramid: every tile down to
// lod 3 has metadata, a mesh and a texture, and only lod 3 is fine enough
// to satisfy the coarseness test.
func pyramidFixtures(t *testing.T) map[string][]byte {
	t.Helper()
	tex := pngTile(t)
	internal := map[string][]byte{}
	for lod := uint32(0); lod <= 3; lod++ {
		n := uint32(1) << lod
		for bx := uint32(0); bx < n; bx += 2 {
			for by := uint32(0); by < n; by += 2 {
				var nodes []metaNodeFix
				for y := by; y < by+2 && y < n; y++ {
					for x := bx; x < bx+2 && x < n; x++ {
						fix := metaNodeFix{X: x, Y: y, TexelSize: 1e6}
						if lod == 3 {
							fix.TexelSize = 0.001
						} else {
							fix.Children = [4]bool{true, true, true, true}
						}
						nodes = append(nodes, fix)
					}
				}
				internal[fmt.Sprintf("terrain/%d-%d-%d.meta", lod, bx, by)] =
					metaBlockJson(t, lod, bx, by, nodes...)
			}
		}
		for y := uint32(0); y < n; y++ {
			for x := uint32(0); x < n; x++ {
				internal[fmt.Sprintf("terrain/%d-%d-%d.mesh", lod, x, y)] = meshJson(t, true, false)
				internal[fmt.Sprintf("terrain/%d-%d-%d-0.tex", lod, x, y)] = tex
			}
		}
	}
	return internal
}

func TestHierarchicalConvergesWithCulledSiblings(t *testing.T) {
	// A close-up camera culls the high-latitude lod-3 tiles. Their draws
	// must still be assembled, otherwise their parents never see all four
	// children ready and the whole view stays stuck on coarse fallbacks.
	f := newFixture(t, internalUvConfig, pyramidFixtures(t), options.TraverseHierarchical)
	f.cam = narrowCamera()
	f.run(60)

	if len(f.out.Opaque) == 0 {
		t.Fatalf("nothing rendered")
	}
	for _, task := range f.out.Opaque {
		if !strings.HasPrefix(task.Color.Name, "terrain/3-") {
			t.Fatalf("refinement did not converge, still rendering %q", task.Color.Name)
		}
	}
}

func TestMeshTextureLayerAddsToViewLayers(t *testing.T) {
	// The mesh bakes in bound layer C; the view configures A. Both must
	// render: the baked layer stacks on top of the view's list instead of
	// replacing it.
	internal := map[string][]byte{
		"terrain/0-0-0.meta": metaBlockJson(t, 0, 0, 0, metaNodeFix{TexelSize: 1e6}),
		"terrain/0-0-0.mesh": meshJsonLayer(t, false, true, "C"),
		"blA/0-0-0.tex":      pngTile(t),
		"blC/0-0-0.tex":      pngTile(t),
	}
	f := newFixture(t, transparentLayerConfig, internal, options.TraverseHierarchical)
	f.run(20)

	if len(f.out.Transparent) != 2 {
		t.Fatalf("transparent tasks = %d, want 2", len(f.out.Transparent))
	}
	if got := f.out.Transparent[0].Color.Name; got != "blA/0-0-0.tex" {
		t.Fatalf("bottom layer %q, want the view's A", got)
	}
	if got := f.out.Transparent[1].Color.Name; got != "blC/0-0-0.tex" {
		t.Fatalf("top layer %q, want the baked C", got)
	}
}

func TestAllTransparentLayersKeepInternalBacking(t *testing.T) {
	// A dual-UV submesh whose only bound layer is transparent still needs
	// the surface's own texture underneath, or the tile shows through.
	internal := map[string][]byte{
		"terrain/0-0-0.meta":  metaBlockJson(t, 0, 0, 0, metaNodeFix{TexelSize: 1e6}),
		"terrain/0-0-0.mesh":  meshJson(t, true, true),
		"terrain/0-0-0-0.tex": pngTile(t),
		"blA/0-0-0.tex":       pngTile(t),
	}
	f := newFixture(t, transparentLayerConfig, internal, options.TraverseHierarchical)
	f.run(20)

	if len(f.out.Opaque) != 1 {
		t.Fatalf("opaque tasks = %d, want the internal backing", len(f.out.Opaque))
	}
	if got := f.out.Opaque[0].Color.Name; got != "terrain/0-0-0-0.tex" {
		t.Fatalf("backing texture %q, want the surface's own", got)
	}
	if len(f.out.Transparent) != 1 {
		t.Fatalf("transparent tasks = %d, want 1", len(f.out.Transparent))
	}
	if got := f.out.Transparent[0].Color.Name; got != "blA/0-0-0.tex" {
		t.Fatalf("transparent layer %q, want A", got)
	}
}

func TestAlienSurfaceSelection(t *testing.T) {
	// The alien overlay sits above the base surface in the stack, yet at
	// the root its metatile node is not marked alien, so the base surface
	// stays authoritative. The child quadrants come from both surfaces;
	// quadrant 1 exists only in the overlay, whose node there is alien.
	internal := map[string][]byte{
		"ovl/0-0-0.meta": metaBlockJson(t, 0, 0, 0,
			metaNodeFix{TexelSize: 1e6, Children: [4]bool{false, true, false, false}}),
		"base/0-0-0.meta": metaBlockJson(t, 0, 0, 0,
			metaNodeFix{TexelSize: 1e6, Children: [4]bool{true, false, false, false}}),
		"ovl/1-0-0.meta":  metaBlockJson(t, 1, 0, 0, metaNodeFix{X: 1, Y: 0, TexelSize: 0.001, Alien: true}),
		"base/1-0-0.meta": metaBlockJson(t, 1, 0, 0, metaNodeFix{X: 0, Y: 0, TexelSize: 0.001}),

		"base/0-0-0.mesh":  meshJson(t, true, false),
		"base/0-0-0-0.tex": pngTile(t),
		"base/1-0-0.mesh":  meshJson(t, true, false),
		"base/1-0-0-0.tex": pngTile(t),
		"ovl/1-1-0.mesh":   meshJson(t, true, false),
		"ovl/1-1-0-0.tex":  pngTile(t),
	}
	f := newFixture(t, twoSurfaceConfig, internal, options.TraverseHierarchical)
	f.run(30)

	got := map[string]bool{}
	for _, task := range f.out.Opaque {
		got[task.Color.Name] = true
	}
	if len(got) != 2 || !got["base/1-0-0-0.tex"] || !got["ovl/1-1-0-0.tex"] {
		t.Fatalf("rendered %v, want the base quadrant and the alien overlay quadrant", got)
	}
}
