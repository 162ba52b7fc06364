package resources

import (
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"terrastream.dev/internal/mapconfig"
	"terrastream.dev/internal/options"
	"terrastream.dev/internal/stats"
)

// Config wires a Cache with its collaborators.
type Config struct {
	Options  *options.MapOptions
	Fetcher  Fetcher
	Disk     *DiskCache // optional on-disk cache
	Decoders Decoders
	// Internal maps scheme-less names to bundled data, loaded without any
	// network or disk round trip.
	Internal map[string][]byte
	// Observer, when set, receives a record per finished network fetch.
	Observer FetchObserver
	Log      *log.Logger
}

// Cache owns every resource of a session: it constructs them lazily by
// name, advances their state machines a bounded amount per tick, and evicts
// least-recently-used entries once the memory budget is exceeded.
//
// Threading: Get*/Touch/RenderTick run on the traversal thread, DataTick on
// the data thread, and fetched() on fetcher goroutines. The prepare queue
// and the invalid-name set are the only structures crossing sides; both are
// merged under short locks.
type Cache struct {
	cfg Config
	log *log.Logger

	resources map[string]Loadable

	// Frame counter; read by the fetch completion callback for records.
	tick atomic.Uint64

	// Active prepare set, popped round-robin by DataTick.
	muPrepare sync.Mutex
	prepare   []Loadable
	takeIndex int

	// Touched since the last RenderTick; traversal thread only.
	prepareNew map[Loadable]struct{}

	// Known-invalid names. invalid is read by DataTick without a lock;
	// invalidNew collects additions from fetch completions.
	invalid    map[string]struct{}
	muInvalid  sync.Mutex
	invalidNew map[string]struct{}

	downloads atomic.Int32

	created    atomic.Uint32
	downloaded atomic.Uint32
	diskLoaded atomic.Uint32
	loaded     atomic.Uint32
	failed     atomic.Uint32
	ignored    atomic.Uint32
	released   atomic.Uint32

	ramUse uint64
	gpuUse uint64
}

func New(cfg Config) *Cache {
	c := &Cache{
		cfg:        cfg,
		log:        cfg.Log,
		resources:  map[string]Loadable{},
		prepareNew: map[Loadable]struct{}{},
		invalid:    map[string]struct{}{},
		invalidNew: map[string]struct{}{},
	}
	if c.log == nil {
		c.log = log.Default()
	}
	if cfg.Disk != nil && cfg.Options.KeepInvalidUrls {
		c.invalid = cfg.Disk.LoadInvalidUrls()
	}
	cfg.Fetcher.Init(c.fetched)
	return c
}

// Close stops the fetcher and flushes the invalid-name memo.
func (c *Cache) Close() error {
	c.cfg.Fetcher.Finalize()
	if c.cfg.Disk != nil && c.cfg.Options.KeepInvalidUrls {
		c.muInvalid.Lock()
		for n := range c.invalidNew {
			c.invalid[n] = struct{}{}
		}
		c.invalidNew = map[string]struct{}{}
		c.muInvalid.Unlock()
		return c.cfg.Disk.SaveInvalidUrls(c.invalid)
	}
	return nil
}

func (c *Cache) getResource(name string, make func() Loadable) Loadable {
	r, ok := c.resources[name]
	if !ok {
		r = make()
		r.Base().Name = name
		c.resources[name] = r
		c.created.Add(1)
	}
	c.Touch(r)
	return r
}

func (c *Cache) GetTexture(name string) *Texture {
	return c.getResource(name, func() Loadable { return &Texture{} }).(*Texture)
}

func (c *Cache) GetMeshAggregate(name string) *MeshAggregate {
	return c.getResource(name, func() Loadable { return &MeshAggregate{} }).(*MeshAggregate)
}

func (c *Cache) GetMetaTile(name string) *MetaTile {
	return c.getResource(name, func() Loadable { return &MetaTile{} }).(*MetaTile)
}

func (c *Cache) GetBoundMetaTile(name string) *BoundMetaTile {
	return c.getResource(name, func() Loadable { return &BoundMetaTile{} }).(*BoundMetaTile)
}

func (c *Cache) GetMapConfig(name string) *MapConfigResource {
	return c.getResource(name, func() Loadable { return &MapConfigResource{} }).(*MapConfigResource)
}

// Touch refreshes recency and re-enqueues the resource for preparation
// when its state machine has pending work. Revives finalizing resources.
func (c *Cache) Touch(r Loadable) {
	b := r.Base()
	b.lastAccess = c.tick.Load()
	switch b.State() {
	case StateFinalizing:
		b.setState(StateInitializing)
		fallthrough
	case StateInitializing, StateDownloaded:
		c.prepareNew[r] = struct{}{}
	}
}

// Validity classifies a name: Invalid when unknown or failed, Indeterminate
// while in flight, Valid once ready.
func (c *Cache) Validity(name string) Validity {
	r, ok := c.resources[name]
	if !ok {
		return Invalid
	}
	return r.Base().Validity()
}

// ResourceValidity avoids the map lookup when the caller holds the handle.
func (c *Cache) ResourceValidity(r Loadable) Validity {
	return r.Base().Validity()
}

// DataTick advances at most one resource by one state-machine step. The
// return value reports whether there was nothing to do ("sleep"): the data
// loop backs off instead of spinning.
func (c *Cache) DataTick() bool {
	c.mergeInvalid()

	var r Loadable
	c.muPrepare.Lock()
	if len(c.prepare) > 0 {
		i := c.takeIndex % len(c.prepare)
		c.takeIndex++
		r = c.prepare[i]
		c.prepare = append(c.prepare[:i], c.prepare[i+1:]...)
	}
	c.muPrepare.Unlock()
	if r == nil {
		return true
	}

	b := r.Base()
	switch b.State() {
	case StateDownloaded:
		c.loadResource(r)
		return false

	case StateInitializing:
		if _, bad := c.invalid[b.Name]; bad {
			c.ignored.Add(1)
			b.setState(StateErrorLoad)
			return false
		}

		b.setState(StateDownloading)

		switch {
		case !strings.Contains(b.Name, "://"):
			data, ok := c.cfg.Internal[b.Name]
			if !ok {
				c.log.Printf("[cache] no bundled data for %q", b.Name)
				b.setState(StateErrorDownload)
				return false
			}
			b.setContent(append([]byte(nil), data...))
			b.setState(StateDownloaded)
			c.loadResource(r)

		case !strings.Contains(b.Name, ".json") && c.cfg.Disk != nil && c.cfg.Disk.Exists(b.Name):
			data, err := c.cfg.Disk.Read(b.Name)
			if err != nil {
				c.log.Printf("[cache] disk read %q: %v", b.Name, err)
				b.setState(StateErrorDownload)
				return false
			}
			b.setContent(data)
			b.setState(StateDownloaded)
			c.diskLoaded.Add(1)
			c.loadResource(r)

		case int(c.downloads.Load()) < c.cfg.Options.MaxConcurrentDownloads:
			c.downloads.Add(1)
			c.downloaded.Add(1)
			c.cfg.Fetcher.Fetch(&FetchTask{res: r, Url: b.Name})

		default:
			// At download capacity; requeue and retry next tick.
			b.setState(StateInitializing)
			c.muPrepare.Lock()
			c.prepare = append(c.prepare, r)
			c.muPrepare.Unlock()
			return true
		}
		return false
	}

	return true
}

// loadResource decodes downloaded content. Decode failures are terminal
// and local: logged, counted, never propagated.
func (c *Cache) loadResource(r Loadable) {
	b := r.Base()
	if err := r.Load(&c.cfg.Decoders); err != nil {
		c.log.Printf("[cache] load %q: %v", b.Name, err)
		c.failed.Add(1)
		b.setState(StateErrorLoad)
	} else {
		b.setState(StateReady)
		c.loaded.Add(1)
	}
	b.setContent(nil)
}

// fetched is the completion callback, invoked from fetcher goroutines.
func (c *Cache) fetched(t *FetchTask, httpCode int, contentType string, body []byte) {
	b := t.res.Base()
	state := StateDownloading

	if httpCode >= 400 || httpCode == 0 {
		state = StateErrorDownload
	}

	if state == StateDownloading && b.AvailTest != nil {
		switch b.AvailTest.Type {
		case mapconfig.AvailNegativeCode:
			ok := false
			for _, code := range b.AvailTest.Codes {
				if code == httpCode {
					ok = true
					break
				}
			}
			if !ok {
				state = StateErrorDownload
			}
		case mapconfig.AvailNegativeType:
			if b.AvailTest.Mime == contentType {
				state = StateErrorDownload
			}
		case mapconfig.AvailNegativeSize:
			if len(body) <= b.AvailTest.Size {
				state = StateErrorDownload
			}
		}
	}

	if state == StateDownloading {
		switch httpCode {
		case 301, 302, 303, 307, 308:
			t.redirections++
			if t.redirections > c.cfg.Options.MaxFetchRedirections || t.RedirectUrl == "" {
				state = StateErrorDownload
			} else {
				t.Url = t.RedirectUrl
				t.RedirectUrl = ""
				c.cfg.Fetcher.Fetch(t)
				return
			}
		}
	}

	c.downloads.Add(-1)

	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveFetch(FetchRecord{
			Url:      t.Url,
			HttpCode: httpCode,
			Bytes:    len(body),
			Duration: time.Since(t.Started),
			Tick:     c.tick.Load(),
		})
	}

	if state == StateErrorDownload {
		c.muInvalid.Lock()
		c.invalidNew[b.Name] = struct{}{}
		c.muInvalid.Unlock()
		b.setState(StateErrorDownload)
		return
	}

	if c.cfg.Disk != nil {
		if err := c.cfg.Disk.Write(b.Name, body); err != nil {
			c.log.Printf("[cache] disk write %q: %v", b.Name, err)
		}
	}
	b.setContent(body)
	b.setState(StateDownloaded)
}

func (c *Cache) mergeInvalid() {
	c.muInvalid.Lock()
	for n := range c.invalidNew {
		c.invalid[n] = struct{}{}
	}
	if len(c.invalidNew) > 0 {
		c.invalidNew = map[string]struct{}{}
	}
	c.muInvalid.Unlock()
}

// RenderTick publishes the freshly touched resources to the data side and
// runs the eviction sweep. Called once per frame from the traversal thread.
func (c *Cache) RenderTick(tick uint64) {
	c.tick.Store(tick)

	touched := make([]Loadable, 0, len(c.prepareNew))
	for r := range c.prepareNew {
		touched = append(touched, r)
	}
	c.prepareNew = map[Loadable]struct{}{}
	// Highest traversal priority first, so the most impactful resources
	// reach the data thread before per-tick budgets run out.
	sort.Slice(touched, func(i, j int) bool {
		return touched[i].Base().Priority() > touched[j].Base().Priority()
	})

	c.muPrepare.Lock()
	c.prepare = touched
	c.muPrepare.Unlock()

	c.evict(tick)
}

// evict keeps total memory under budget: among releasable resources (old,
// unpinned, not downloading) the least recently used go first, marked
// finalizing on the first pass and erased on a later one so a revived
// resource survives.
func (c *Cache) evict(tick uint64) {
	unusedTicks := uint64(c.cfg.Options.ResourceUnusedTicks)

	var ramUse, gpuUse uint64
	candidates := make([]Loadable, 0, len(c.resources))
	for _, r := range c.resources {
		b := r.Base()
		ramUse += uint64(b.ramCost.Load()) + uint64(b.contentSize.Load())
		gpuUse += uint64(b.gpuCost.Load())
		if b.lastAccess+unusedTicks < tick && !b.pinned() && b.State() != StateDownloading {
			candidates = append(candidates, r)
		}
	}
	c.ramUse = ramUse
	c.gpuUse = gpuUse

	memUse := ramUse + gpuUse
	budget := c.cfg.Options.MaxResourcesMemory()
	if memUse <= budget {
		return
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].Base(), candidates[j].Base()
		if a.lastAccess == b.lastAccess {
			return a.MemCost() > b.MemCost()
		}
		return a.lastAccess < b.lastAccess
	})

	for _, r := range candidates {
		if memUse <= budget {
			break
		}
		b := r.Base()
		memUse -= b.MemCost()
		if b.State() != StateFinalizing {
			b.setState(StateFinalizing)
		} else {
			delete(c.resources, b.Name)
			c.released.Add(1)
		}
	}
}

// Purge marks a single resource finalizing so the next sweep can drop it;
// a touch in between revives it instead.
func (c *Cache) Purge(r Loadable) {
	r.Base().setState(StateFinalizing)
}

// FillStats copies the cache counters into a diagnostics snapshot.
func (c *Cache) FillStats(s *stats.Stats) {
	s.ResourcesCreated = c.created.Load()
	s.ResourcesDownloaded = c.downloaded.Load()
	s.ResourcesDiskLoaded = c.diskLoaded.Load()
	s.ResourcesLoaded = c.loaded.Load()
	s.ResourcesFailed = c.failed.Load()
	s.ResourcesIgnored = c.ignored.Load()
	s.ResourcesReleased = c.released.Load()
	s.CurrentResources = uint32(len(c.resources))
	s.CurrentDownloads = uint32(c.downloads.Load())
	c.muPrepare.Lock()
	s.CurrentResourcePrepares = uint32(len(c.prepare))
	c.muPrepare.Unlock()
	s.CurrentRamMemUse = c.ramUse
	s.CurrentGpuMemUse = c.gpuUse
}
