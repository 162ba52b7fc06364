// Package viewer assembles the streaming engine: it owns the resource
// cache, resolves the map configuration, derives the camera from the
// navigation position and runs the tile traversal every frame.
package viewer

import (
	"log"
	"math"

	"terrastream.dev/internal/draws"
	"terrastream.dev/internal/geomath"
	"terrastream.dev/internal/mapconfig"
	"terrastream.dev/internal/options"
	"terrastream.dev/internal/resources"
	"terrastream.dev/internal/stats"
	"terrastream.dev/internal/traverse"
)

// Map is one viewing session. Render* methods belong to the render thread,
// DataTick to the data thread; the resource cache is the only shared state
// between them.
type Map struct {
	opts  *options.MapOptions
	cache *resources.Cache
	log   *log.Logger

	configName string
	cfgRes     *resources.MapConfigResource
	cfg        *mapconfig.Config
	conv       mapconfig.Convertor
	trav       *traverse.Traverser

	position mapconfig.Position
	hasPos   bool

	cfgFailLogged bool

	viewportW float64
	viewportH float64

	tick    uint64
	draws   draws.Group
	credits []uint32
	st      stats.Stats
}

func NewMap(opts *options.MapOptions, cache *resources.Cache, configName string, lg *log.Logger) *Map {
	if lg == nil {
		lg = log.Default()
	}
	return &Map{
		opts:       opts,
		cache:      cache,
		log:        lg,
		configName: configName,
		viewportW:  1280,
		viewportH:  720,
	}
}

func (m *Map) SetViewport(w, h float64) {
	if w > 0 && h > 0 {
		m.viewportW, m.viewportH = w, h
	}
}

// SetPosition overrides the navigation position; until called the position
// from the map configuration is used.
func (m *Map) SetPosition(p mapconfig.Position) {
	m.position = p
	m.hasPos = true
}

func (m *Map) Position() mapconfig.Position { return m.position }

// Ready reports whether the map configuration is resolved and traversal
// can produce draws.
func (m *Map) Ready() bool { return m.trav != nil }

// Draws exposes the draw lists assembled by the last RenderTick. Valid
// until the next RenderTick.
func (m *Map) Draws() *draws.Group { return &m.draws }

// Credits lists the credit ids attributed to the last rendered frame.
func (m *Map) Credits() []uint32 { return m.credits }

// RenderTick advances the session one frame: it publishes resource
// touches, sweeps the cache, resolves prerequisites and traverses.
func (m *Map) RenderTick() {
	m.tick++
	m.cache.RenderTick(m.tick)
	m.st.ResetFrame()

	if m.trav == nil {
		m.prerequisitesCheck()
	}
	if m.trav != nil {
		cam := m.camera()
		m.credits = m.trav.RenderTick(m.tick, cam, &m.draws, &m.st)
	}

	m.st.FrameIndex = m.tick
	m.cache.FillStats(&m.st)
}

// DataTick processes up to the configured number of resource state steps.
// Returns true when there was nothing to do, so the data loop can back
// off.
func (m *Map) DataTick() bool {
	idle := true
	for i := 0; i < m.opts.MaxResourceProcessesPerTick; i++ {
		if m.cache.DataTick() {
			break
		}
		idle = false
	}
	return idle
}

// Statistics returns a copy of the session counters.
func (m *Map) Statistics() stats.Stats { return m.st }

// PurgeMapConfig discards the resolved configuration and the whole
// traversal tree; the configuration streams in again through the cache.
func (m *Map) PurgeMapConfig() {
	if m.cfgRes != nil {
		m.cache.Purge(m.cfgRes)
	}
	m.purgeViewCache()
	m.cfg = nil
	m.cfgRes = nil
	m.cfgFailLogged = false
}

// PurgeViewCache rebuilds the traversal from the already resolved
// configuration, e.g. after the active view changed.
func (m *Map) PurgeViewCache() {
	m.purgeViewCache()
}

func (m *Map) purgeViewCache() {
	if m.trav != nil {
		m.trav.Clear()
		m.trav = nil
	}
}

// prerequisitesCheck drives startup: once the map configuration resource
// is ready the surface stack, convertor and traverser are built from it.
func (m *Map) prerequisitesCheck() {
	if m.cfgRes == nil {
		m.cfgRes = m.cache.GetMapConfig(m.configName)
		return
	}
	m.cache.Touch(m.cfgRes)
	switch m.cfgRes.Validity() {
	case resources.Indeterminate:
		return
	case resources.Invalid:
		if !m.cfgFailLogged {
			m.log.Printf("[map] config %q failed to load", m.configName)
			m.cfgFailLogged = true
		}
		return
	}

	m.cfg = m.cfgRes.Config
	rf := &m.cfg.ReferenceFrame
	m.conv = mapconfig.SphericalConvertor{
		GeographicSrs: rf.NavigationSrs,
		GeocentricSrs: rf.PhysicalSrs,
		Radius:        rf.BodyRadius,
	}
	if !m.hasPos {
		m.position = m.cfg.Position
		m.hasPos = true
	}
	stack := mapconfig.GenerateSurfaceStack(m.cfg)
	m.trav = traverse.New(m.opts, m.cache, m.cfg, stack, m.conv, m.log)
	m.log.Printf("[map] config %q resolved, %d surfaces in stack", m.configName, len(stack))
}

// camera derives the physical-space camera from the navigation position:
// the view extent fixes the distance between eye and target, the
// orientation angles spin the eye around it in the local tangent frame.
func (m *Map) camera() traverse.Camera {
	rf := &m.cfg.ReferenceFrame
	p := m.position

	target := m.conv.Convert(
		geomath.Vec3{X: p.Point[0], Y: p.Point[1], Z: p.Point[2]},
		rf.NavigationSrs, rf.PhysicalSrs)

	up := target.Normalized()
	if up.Length() == 0 {
		up = geomath.V3(0, 0, 1)
	}
	east := geomath.V3(0, 0, 1).Cross(up)
	if east.Length() < 1e-9 {
		east = geomath.V3(0, 1, 0)
	}
	east = east.Normalized()
	north := up.Cross(east)

	yaw := p.Orientation[0] * math.Pi / 180
	pitch := p.Orientation[1] * math.Pi / 180

	dir := north.Mul(math.Cos(pitch) * math.Cos(yaw)).
		Add(east.Mul(math.Cos(pitch) * math.Sin(yaw))).
		Add(up.Mul(math.Sin(pitch)))

	fov := p.Fov
	if fov <= 0 || fov >= 179 {
		fov = 55
	}
	distance := p.ViewExtent * 0.5 / math.Tan(fov*math.Pi/360)
	eye := target.Sub(dir.Mul(distance))

	camUp := up
	if math.Abs(dir.Dot(up)) > 0.99 {
		camUp = north
	}

	view := geomath.LookAt(eye, target, camUp)
	aspect := m.viewportW / m.viewportH
	near := math.Max(distance/1000, 1)
	far := distance + 3*rf.BodyRadius
	proj := geomath.Perspective(fov, aspect, near, far)
	return traverse.NewCamera(view, proj, eye, target, camUp, m.viewportW, m.viewportH)
}
