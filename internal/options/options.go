package options

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MapOptions tunes the streaming engine. Zero values are replaced by
// defaults at load time so a partial file is fine.
type MapOptions struct {
	// Level-of-detail thresholds: worst-case projected texel size in pixels
	// below which a tile counts as detailed enough. Geodata tiles tolerate
	// more magnification than imagery.
	MaxTexelToPixelScale        float64 `yaml:"max_texel_to_pixel_scale"`
	MaxTexelToPixelScaleGeodata float64 `yaml:"max_texel_to_pixel_scale_geodata"`

	MaxResourcesMemoryMB        int `yaml:"max_resources_memory_mb"`
	MaxConcurrentDownloads      int `yaml:"max_concurrent_downloads"`
	MaxResourceProcessesPerTick int `yaml:"max_resource_processes_per_tick"`
	MaxNodeMetaUpdatesPerTick   int `yaml:"max_node_meta_updates_per_tick"`
	MaxNodeDrawsUpdatesPerTick  int `yaml:"max_node_draws_updates_per_tick"`
	MaxFetchRedirections        int `yaml:"max_fetch_redirections"`

	// Download starts per second; zero disables the limiter.
	FetchRatePerSecond int `yaml:"fetch_rate_per_second"`

	// A resource untouched for this many ticks becomes an eviction
	// candidate; a traversal node untouched for this many ticks is cleared.
	ResourceUnusedTicks int `yaml:"resource_unused_ticks"`
	NodeUnusedTicks     int `yaml:"node_unused_ticks"`

	// "hierarchical" (default) or "flat".
	TraverseMode string `yaml:"traverse_mode"`

	KeepInvalidUrls bool `yaml:"keep_invalid_urls"`

	// Debug rendering, emitted as infographic draw tasks.
	DebugRenderTileBoxes  bool `yaml:"debug_render_tile_boxes"`
	DebugRenderSurrogates bool `yaml:"debug_render_surrogates"`
}

const (
	TraverseHierarchical = "hierarchical"
	TraverseFlat         = "flat"
)

func Defaults() MapOptions {
	return MapOptions{
		MaxTexelToPixelScale:        1.2,
		MaxTexelToPixelScaleGeodata: 3.0,
		MaxResourcesMemoryMB:        512,
		MaxConcurrentDownloads:      10,
		MaxResourceProcessesPerTick: 5,
		MaxNodeMetaUpdatesPerTick:   10,
		MaxNodeDrawsUpdatesPerTick:  10,
		MaxFetchRedirections:        5,
		ResourceUnusedTicks:         100,
		NodeUnusedTicks:             5,
		TraverseMode:                TraverseHierarchical,
		KeepInvalidUrls:             true,
	}
}

// Load reads a YAML options file and fills unset fields with defaults.
func Load(path string) (MapOptions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return MapOptions{}, err
	}
	var o MapOptions
	if err := yaml.Unmarshal(raw, &o); err != nil {
		return MapOptions{}, fmt.Errorf("options yaml: %w", err)
	}
	o.applyDefaults()
	if err := o.validate(); err != nil {
		return MapOptions{}, err
	}
	return o, nil
}

func (o *MapOptions) applyDefaults() {
	d := Defaults()
	if o.MaxTexelToPixelScale <= 0 {
		o.MaxTexelToPixelScale = d.MaxTexelToPixelScale
	}
	if o.MaxTexelToPixelScaleGeodata <= 0 {
		o.MaxTexelToPixelScaleGeodata = d.MaxTexelToPixelScaleGeodata
	}
	if o.MaxResourcesMemoryMB <= 0 {
		o.MaxResourcesMemoryMB = d.MaxResourcesMemoryMB
	}
	if o.MaxConcurrentDownloads <= 0 {
		o.MaxConcurrentDownloads = d.MaxConcurrentDownloads
	}
	if o.MaxResourceProcessesPerTick <= 0 {
		o.MaxResourceProcessesPerTick = d.MaxResourceProcessesPerTick
	}
	if o.MaxNodeMetaUpdatesPerTick <= 0 {
		o.MaxNodeMetaUpdatesPerTick = d.MaxNodeMetaUpdatesPerTick
	}
	if o.MaxNodeDrawsUpdatesPerTick <= 0 {
		o.MaxNodeDrawsUpdatesPerTick = d.MaxNodeDrawsUpdatesPerTick
	}
	if o.MaxFetchRedirections <= 0 {
		o.MaxFetchRedirections = d.MaxFetchRedirections
	}
	if o.ResourceUnusedTicks <= 0 {
		o.ResourceUnusedTicks = d.ResourceUnusedTicks
	}
	if o.NodeUnusedTicks <= 0 {
		o.NodeUnusedTicks = d.NodeUnusedTicks
	}
	if o.TraverseMode == "" {
		o.TraverseMode = d.TraverseMode
	}
}

func (o *MapOptions) validate() error {
	switch o.TraverseMode {
	case TraverseHierarchical, TraverseFlat:
	default:
		return fmt.Errorf("unknown traverse_mode %q", o.TraverseMode)
	}
	return nil
}

// MaxResourcesMemory is the byte budget derived from the MB setting.
func (o MapOptions) MaxResourcesMemory() uint64 {
	return uint64(o.MaxResourcesMemoryMB) * 1024 * 1024
}
