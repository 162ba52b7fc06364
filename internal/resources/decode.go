package resources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	"terrastream.dev/internal/geomath"
)

// TextureSpec is a GPU-ready pixel buffer.
type TextureSpec struct {
	Width      int
	Height     int
	Components int
	Data       []byte
}

// Decoders are the decode collaborators converting raw downloaded bytes
// into resource payloads. The defaults understand stdlib image formats and
// the JSON mesh/metatile wire formats; embedders replace them to plug in
// other codecs.
type Decoders struct {
	Texture  func([]byte) (*TextureSpec, error)
	Mesh     func([]byte) ([]MeshPart, error)
	MetaTile func([]byte) (*MetaBlock, error)
}

func DefaultDecoders() Decoders {
	return Decoders{
		Texture:  DecodeTexture,
		Mesh:     DecodeMeshAggregate,
		MetaTile: DecodeMetaBlock,
	}
}

// DecodeTexture decodes any registered stdlib image format into tightly
// packed RGBA.
func DecodeTexture(raw []byte) (*TextureSpec, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("texture: %w", err)
	}
	b := img.Bounds()
	rgba := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return &TextureSpec{
		Width:      b.Dx(),
		Height:     b.Dy(),
		Components: 4,
		Data:       rgba.Pix,
	}, nil
}

type meshPartWire struct {
	Positions        []float64   `json:"positions"`
	Uvs              []float32   `json:"uvs,omitempty"`
	Faces            []uint32    `json:"faces"`
	NormToPhys       [16]float64 `json:"normToPhys"`
	InternalUv       bool        `json:"internalUv,omitempty"`
	ExternalUv       bool        `json:"externalUv,omitempty"`
	TextureLayer     string      `json:"textureLayer,omitempty"`
	SurfaceReference uint32      `json:"surfaceReference,omitempty"`
}

type meshAggregateWire struct {
	Submeshes []meshPartWire `json:"submeshes"`
}

// DecodeMeshAggregate decodes the JSON mesh-aggregate wire format.
func DecodeMeshAggregate(raw []byte) ([]MeshPart, error) {
	var w meshAggregateWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("mesh aggregate: %w", err)
	}
	if len(w.Submeshes) == 0 {
		return nil, fmt.Errorf("mesh aggregate: no submeshes")
	}
	parts := make([]MeshPart, 0, len(w.Submeshes))
	for i, sm := range w.Submeshes {
		if len(sm.Positions)%3 != 0 {
			return nil, fmt.Errorf("mesh aggregate: submesh %d: positions not a multiple of 3", i)
		}
		if len(sm.Faces)%3 != 0 {
			return nil, fmt.Errorf("mesh aggregate: submesh %d: faces not a multiple of 3", i)
		}
		vertexCount := len(sm.Positions) / 3
		for _, f := range sm.Faces {
			if int(f) >= vertexCount {
				return nil, fmt.Errorf("mesh aggregate: submesh %d: face index out of range", i)
			}
		}
		var m geomath.Mat4
		copy(m[:], sm.NormToPhys[:])
		parts = append(parts, MeshPart{
			Mesh: &MeshSpec{
				Positions: sm.Positions,
				Uvs:       sm.Uvs,
				Faces:     sm.Faces,
			},
			NormToPhys:       m,
			InternalUv:       sm.InternalUv,
			ExternalUv:       sm.ExternalUv,
			TextureLayer:     sm.TextureLayer,
			SurfaceReference: sm.SurfaceReference,
		})
	}
	return parts, nil
}
