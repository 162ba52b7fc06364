package mapconfig

import (
	"math"
	"sort"

	"terrastream.dev/internal/geomath"
)

// SurfaceStackItem is one layer of the active surface stack. The stack is
// in override-priority order: the topmost item providing geometry at a tile
// wins. Alien items only contribute overlays from a foreign frame and are
// never authoritative unless the metadata marks the node alien too.
type SurfaceStackItem struct {
	Surface *Surface
	Color   geomath.Vec3
	Alien   bool
}

// GenerateSurfaceStack derives the stack from the active view. When a
// virtual surface covers exactly the viewed surface set, the single
// pre-merged virtual surface replaces the whole stack.
func GenerateSurfaceStack(c *Config) []SurfaceStackItem {
	if vs := matchVirtualSurface(c); vs != nil {
		return []SurfaceStackItem{{
			Surface: &vs.Surface,
			Color:   stackColor(0, 1),
		}}
	}

	ids := viewSurfaceOrder(c)
	stack := make([]SurfaceStackItem, 0, len(ids))
	for i, id := range ids {
		s := c.FindSurface(id)
		if s == nil {
			continue
		}
		stack = append(stack, SurfaceStackItem{
			Surface: s,
			Color:   stackColor(i, len(ids)),
			Alien:   s.Alien,
		})
	}
	return stack
}

// matchVirtualSurface finds a virtual surface whose member set equals the
// set of surfaces in the active view.
func matchVirtualSurface(c *Config) *VirtualSurface {
	viewed := make([]string, 0, len(c.View.Surfaces))
	for id := range c.View.Surfaces {
		viewed = append(viewed, id)
	}
	sort.Strings(viewed)

	for i := range c.VirtualSurfaces {
		members := append([]string(nil), c.VirtualSurfaces[i].Id...)
		if len(members) != len(viewed) {
			continue
		}
		sort.Strings(members)
		match := true
		for j := range members {
			if members[j] != viewed[j] {
				match = false
				break
			}
		}
		if match {
			return &c.VirtualSurfaces[i]
		}
	}
	return nil
}

// viewSurfaceOrder yields the stack order: the explicit surfaceOrder when
// given, otherwise map-config declaration order filtered by the view.
func viewSurfaceOrder(c *Config) []string {
	if len(c.View.SurfaceOrder) > 0 {
		out := make([]string, 0, len(c.View.SurfaceOrder))
		for _, id := range c.View.SurfaceOrder {
			if _, ok := c.View.Surfaces[id]; ok {
				out = append(out, id)
			}
		}
		return out
	}
	out := make([]string, 0, len(c.View.Surfaces))
	for i := range c.Surfaces {
		if _, ok := c.View.Surfaces[c.Surfaces[i].Id]; ok {
			out = append(out, c.Surfaces[i].Id)
		}
	}
	return out
}

// stackColor assigns each stack item a distinct hue for debug rendering.
func stackColor(index, total int) geomath.Vec3 {
	if total < 1 {
		total = 1
	}
	h := float64(index) / float64(total) * 6
	f := h - math.Floor(h)
	switch int(h) % 6 {
	case 0:
		return geomath.Vec3{X: 1, Y: f}
	case 1:
		return geomath.Vec3{X: 1 - f, Y: 1}
	case 2:
		return geomath.Vec3{Y: 1, Z: f}
	case 3:
		return geomath.Vec3{Y: 1 - f, Z: 1}
	case 4:
		return geomath.Vec3{X: f, Z: 1}
	default:
		return geomath.Vec3{X: 1, Z: 1 - f}
	}
}
