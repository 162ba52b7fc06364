package resources

import (
	"encoding/json"
	"fmt"

	"terrastream.dev/internal/geomath"
	"terrastream.dev/internal/mapconfig"
)

// Texture is a downloadable pixel resource (color or mask).
type Texture struct {
	Resource
	Spec *TextureSpec
}

func (t *Texture) Load(dec *Decoders) error {
	spec, err := dec.Texture(t.content)
	if err != nil {
		return err
	}
	t.Spec = spec
	t.setCosts(0, uint32(len(spec.Data)))
	return nil
}

// MeshSpec is one renderable vertex buffer of a mesh aggregate.
type MeshSpec struct {
	Positions []float64
	Uvs       []float32
	Faces     []uint32
}

func (m *MeshSpec) byteSize() uint32 {
	return uint32(len(m.Positions)*8 + len(m.Uvs)*4 + len(m.Faces)*4)
}

// MeshPart is a submesh with its placement and texturing mode. External UV
// parts composite bound layers; internal UV parts use the surface's own
// per-tile texture.
type MeshPart struct {
	Mesh             *MeshSpec
	NormToPhys       geomath.Mat4
	InternalUv       bool
	ExternalUv       bool
	TextureLayer     string
	SurfaceReference uint32
}

// MeshAggregate bundles all submeshes of one tile.
type MeshAggregate struct {
	Resource
	Submeshes []MeshPart
}

func (m *MeshAggregate) Load(dec *Decoders) error {
	parts, err := dec.Mesh(m.content)
	if err != nil {
		return err
	}
	m.Submeshes = parts
	var gpu uint32
	for i := range parts {
		gpu += parts[i].Mesh.byteSize()
	}
	m.setCosts(uint32(len(parts))*64, gpu)
	return nil
}

// MetaTile is a decoded metatile block resource.
type MetaTile struct {
	Resource
	Block *MetaBlock
}

func (m *MetaTile) Load(dec *Decoders) error {
	block, err := dec.MetaTile(m.content)
	if err != nil {
		return err
	}
	m.Block = block
	m.setCosts(uint32(len(m.content)), 0)
	return nil
}

// BoundMetaTile carries per-tile availability flags of a bound layer for a
// block of tiles.
type BoundMetaTile struct {
	Resource
	Size  uint32
	Flags []uint8
}

// Bound metatile flag bits.
const (
	BoundAvailable  = 1 << 0
	BoundWatertight = 1 << 1
)

type boundMetaWire struct {
	Size  uint32  `json:"size"`
	Flags []uint8 `json:"flags"`
}

func (b *BoundMetaTile) Load(dec *Decoders) error {
	var w boundMetaWire
	if err := json.Unmarshal(b.content, &w); err != nil {
		return fmt.Errorf("bound metatile: %w", err)
	}
	if w.Size == 0 || uint32(len(w.Flags)) != w.Size*w.Size {
		return fmt.Errorf("bound metatile: flags grid mismatch")
	}
	b.Size = w.Size
	b.Flags = w.Flags
	b.setCosts(uint32(len(w.Flags)), 0)
	return nil
}

// FlagsFor returns the flag byte of a tile position within the block.
func (b *BoundMetaTile) FlagsFor(dx, dy uint32) uint8 {
	if dx >= b.Size || dy >= b.Size {
		return 0
	}
	return b.Flags[dy*b.Size+dx]
}

// MapConfigResource is the map configuration fetched as a resource, so a
// config change streams in through the same pipeline as tiles.
type MapConfigResource struct {
	Resource
	Config *mapconfig.Config
}

func (m *MapConfigResource) Load(dec *Decoders) error {
	c, err := mapconfig.Parse(m.content)
	if err != nil {
		return err
	}
	m.Config = c
	m.setCosts(uint32(len(m.content)), 0)
	return nil
}
