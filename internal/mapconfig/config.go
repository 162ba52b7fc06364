package mapconfig

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"terrastream.dev/internal/tiles"
)

//go:embed mapconfig.schema.json
var schemaDoc string

var schema = jsonschema.MustCompileString("mapconfig.schema.json", schemaDoc)

// Config is the deserialized map configuration resource. It names every
// surface and bound layer of the map and carries the reference frame the
// tile pyramid lives in.
type Config struct {
	Version         int               `json:"version"`
	ReferenceFrame  ReferenceFrame    `json:"referenceFrame"`
	Credits         map[string]Credit `json:"credits,omitempty"`
	Surfaces        []Surface         `json:"surfaces"`
	BoundLayers     []BoundLayer      `json:"boundLayers,omitempty"`
	VirtualSurfaces []VirtualSurface  `json:"virtualSurfaces,omitempty"`
	View            View              `json:"view"`
	Position        Position          `json:"position"`
}

type ReferenceFrame struct {
	Id              string    `json:"id"`
	MetaBinaryOrder uint32    `json:"metaBinaryOrder"`
	PhysicalSrs     string    `json:"physicalSrs"`
	NavigationSrs   string    `json:"navigationSrs"`
	BodyRadius      float64   `json:"bodyRadius"`
	NavExtents      Extents2J `json:"navExtents"`
	Division        Extents3J `json:"divisionExtents"`
}

type Extents2J struct {
	Ll [2]float64 `json:"ll"`
	Ur [2]float64 `json:"ur"`
}

type Extents3J struct {
	Ll [3]float64 `json:"ll"`
	Ur [3]float64 `json:"ur"`
}

type Credit struct {
	Id     uint32 `json:"id"`
	Notice string `json:"notice"`
}

// Surface is one geometry/imagery source. The url fields are templates,
// see UrlTemplate.
type Surface struct {
	Id        string    `json:"id"`
	LodRange  [2]uint32 `json:"lodRange"`
	UrlMeta   string    `json:"urlMeta"`
	UrlMesh   string    `json:"urlMesh"`
	UrlIntTex string    `json:"urlIntTex,omitempty"`
	UrlNav    string    `json:"urlNav,omitempty"`
	Alien     bool      `json:"alien,omitempty"`
	Credits   []string  `json:"credits,omitempty"`
}

// BoundLayer is an overlay texture source composited onto surface geometry.
type BoundLayer struct {
	Id            string            `json:"id"`
	Type          string            `json:"type"`
	UrlExtTex     string            `json:"url"`
	UrlMask       string            `json:"urlMask,omitempty"`
	UrlMeta       string            `json:"urlMeta,omitempty"`
	LodRange      [2]uint32         `json:"lodRange"`
	IsTransparent bool              `json:"isTransparent,omitempty"`
	Availability  *AvailabilityTest `json:"availability,omitempty"`
	Credits       []string          `json:"credits,omitempty"`
}

// AvailabilityTest classifies nominally successful fetch responses as
// "tile absent". Exactly one of the Type variants applies.
type AvailabilityTest struct {
	Type  string `json:"type"` // negativeCode | negativeType | negativeSize
	Codes []int  `json:"codes,omitempty"`
	Mime  string `json:"mime,omitempty"`
	Size  int    `json:"size,omitempty"`
}

const (
	AvailNegativeCode = "negativeCode"
	AvailNegativeType = "negativeType"
	AvailNegativeSize = "negativeSize"
)

// VirtualSurface aggregates several surfaces into a pre-merged one; it is
// selected when the active view's surfaces match its id set.
type VirtualSurface struct {
	Id      []string `json:"id"`
	Surface Surface  `json:"surface"`
}

// View selects the active surfaces (override-priority order, topmost first)
// and the bound layers composited onto each of them.
type View struct {
	Description  string                        `json:"description,omitempty"`
	Surfaces     map[string][]BoundLayerParams `json:"surfaces"`
	SurfaceOrder []string                      `json:"surfaceOrder,omitempty"`
}

// BoundLayerParams references a bound layer by id with optional alpha.
type BoundLayerParams struct {
	Id    string   `json:"id"`
	Alpha *float64 `json:"alpha,omitempty"`
}

type Position struct {
	Subjective  bool       `json:"subjective,omitempty"`
	Point       [3]float64 `json:"point"`
	Orientation [3]float64 `json:"orientation"` // yaw, pitch, roll in degrees
	ViewExtent  float64    `json:"viewExtent"`
	Fov         float64    `json:"fov"`
}

// Parse validates raw JSON against the embedded schema and decodes it.
func Parse(raw []byte) (*Config, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("map config: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("map config schema: %w", err)
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("map config: %w", err)
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) check() error {
	if c.ReferenceFrame.BodyRadius <= 0 {
		return fmt.Errorf("map config: bodyRadius must be positive")
	}
	for id := range c.View.Surfaces {
		if c.FindSurface(id) == nil && c.findVirtualMember(id) == nil {
			return fmt.Errorf("map config: view references unknown surface %q", id)
		}
	}
	for _, bls := range c.View.Surfaces {
		for _, bp := range bls {
			if c.FindBoundLayer(bp.Id) == nil {
				return fmt.Errorf("map config: view references unknown bound layer %q", bp.Id)
			}
		}
	}
	return nil
}

func (c *Config) FindSurface(id string) *Surface {
	for i := range c.Surfaces {
		if c.Surfaces[i].Id == id {
			return &c.Surfaces[i]
		}
	}
	return nil
}

func (c *Config) findVirtualMember(id string) *VirtualSurface {
	for i := range c.VirtualSurfaces {
		for _, m := range c.VirtualSurfaces[i].Id {
			if m == id {
				return &c.VirtualSurfaces[i]
			}
		}
	}
	return nil
}

func (c *Config) FindBoundLayer(id string) *BoundLayer {
	for i := range c.BoundLayers {
		if c.BoundLayers[i].Id == id {
			return &c.BoundLayers[i]
		}
	}
	return nil
}

// CreditIds resolves credit names to numeric ids, skipping unknown names.
func (c *Config) CreditIds(names []string) []uint32 {
	var out []uint32
	for _, n := range names {
		if cr, ok := c.Credits[n]; ok {
			out = append(out, cr.Id)
		}
	}
	return out
}

// RootNodeInfo spans the reference frame's navigation extents.
func (c *Config) RootNodeInfo() tiles.NodeInfo {
	e := c.ReferenceFrame.NavExtents
	return tiles.RootNodeInfo(c.ReferenceFrame.NavigationSrs, tiles.Extents2{
		Lx: e.Ll[0], Ly: e.Ll[1], Ux: e.Ur[0], Uy: e.Ur[1],
	})
}
