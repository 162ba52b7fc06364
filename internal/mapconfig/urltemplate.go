package mapconfig

import (
	"strconv"
	"strings"

	"terrastream.dev/internal/tiles"
)

// TemplateVars parameterize a resource URL template. Local coordinates are
// relative to the subtree the surface is rooted in; for a single-root
// reference frame they equal the global ones.
type TemplateVars struct {
	Id    tiles.TileId
	Local tiles.TileId
	Sub   uint32
}

func Vars(id tiles.TileId) TemplateVars {
	return TemplateVars{Id: id, Local: id}
}

func VarsSub(id tiles.TileId, sub uint32) TemplateVars {
	return TemplateVars{Id: id, Local: id, Sub: sub}
}

// ExpandUrl substitutes {lod} {x} {y} {loclod} {locx} {locy} {sub}
// placeholders. Unknown placeholders are left intact so a misconfigured
// template shows up verbatim in logs and error states.
func ExpandUrl(tpl string, v TemplateVars) string {
	r := strings.NewReplacer(
		"{lod}", strconv.FormatUint(uint64(v.Id.Lod), 10),
		"{x}", strconv.FormatUint(uint64(v.Id.X), 10),
		"{y}", strconv.FormatUint(uint64(v.Id.Y), 10),
		"{loclod}", strconv.FormatUint(uint64(v.Local.Lod), 10),
		"{locx}", strconv.FormatUint(uint64(v.Local.X), 10),
		"{locy}", strconv.FormatUint(uint64(v.Local.Y), 10),
		"{sub}", strconv.FormatUint(uint64(v.Sub), 10),
	)
	return r.Replace(tpl)
}
