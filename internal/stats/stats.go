package stats

// MaxLods bounds the per-level counters; deeper levels are folded into the
// last bucket.
const MaxLods = 22

// Stats is the diagnostics snapshot of one session. Cumulative counters
// only ever grow; Current* fields are recomputed every tick. The struct is
// plain data: the owning session mutates it from its tick goroutines and
// hands copies out through Snapshot.
type Stats struct {
	ResourcesCreated    uint32 `json:"resources_created"`
	ResourcesDownloaded uint32 `json:"resources_downloaded"`
	ResourcesDiskLoaded uint32 `json:"resources_disk_loaded"`
	ResourcesLoaded     uint32 `json:"resources_loaded"`
	ResourcesFailed     uint32 `json:"resources_failed"`
	ResourcesIgnored    uint32 `json:"resources_ignored"`
	ResourcesReleased   uint32 `json:"resources_released"`

	CurrentResources        uint32 `json:"current_resources"`
	CurrentDownloads        uint32 `json:"current_downloads"`
	CurrentResourcePrepares uint32 `json:"current_resource_prepares"`
	CurrentRamMemUse        uint64 `json:"current_ram_mem_use"`
	CurrentGpuMemUse        uint64 `json:"current_gpu_mem_use"`

	FrameIndex uint64 `json:"frame_index"`

	MetaNodesTraversedTotal  uint32          `json:"meta_nodes_traversed_total"`
	MetaNodesTraversedPerLod [MaxLods]uint32 `json:"meta_nodes_traversed_per_lod"`
	NodesRenderedTotal       uint32          `json:"nodes_rendered_total"`
	NodesRenderedPerLod      [MaxLods]uint32 `json:"nodes_rendered_per_lod"`

	CurrentNodeMetaUpdates  uint32 `json:"current_node_meta_updates"`
	CurrentNodeDrawsUpdates uint32 `json:"current_node_draws_updates"`
}

// ResetFrame clears the per-frame counters at the start of a render tick.
func (s *Stats) ResetFrame() {
	s.CurrentNodeMetaUpdates = 0
	s.CurrentNodeDrawsUpdates = 0
	s.MetaNodesTraversedTotal = 0
	s.MetaNodesTraversedPerLod = [MaxLods]uint32{}
	s.NodesRenderedTotal = 0
	s.NodesRenderedPerLod = [MaxLods]uint32{}
}

// LodBucket folds a tile level into the per-LOD counter range.
func LodBucket(lod uint32) int {
	if lod >= MaxLods {
		return MaxLods - 1
	}
	return int(lod)
}
