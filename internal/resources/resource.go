package resources

import (
	"sync/atomic"

	"terrastream.dev/internal/mapconfig"
)

// Resource is the shared core of every cacheable entity. Concrete kinds
// embed it and implement Loadable.
//
// The state field is written by the cache tick and, while downloading, by
// the fetch completion callback; it is atomic so the two sides never tear.
// Everything else is owned by the tick thread, except priority and pins
// which the traversal thread updates.
type Resource struct {
	Name string

	state atomic.Int32

	// Raw downloaded bytes. The slice is handed from the fetch goroutine to
	// the data thread through the state atomic and never read elsewhere;
	// the evictor sees only the mirrored size.
	content     []byte
	contentSize atomic.Uint32

	priority   float64
	lastAccess uint64

	ramCost atomic.Uint32
	gpuCost atomic.Uint32

	// Pins counts holders outside the registry (render tasks, node
	// metadata). Only unpinned resources are evictable.
	pins atomic.Int32

	// AvailTest reclassifies nominally successful responses as absent
	// tiles. Set by the caller that derived the resource name.
	AvailTest *mapconfig.AvailabilityTest
}

// Loadable is implemented by every resource kind: Load decodes the raw
// content buffer into the kind's payload and accounts memory costs.
type Loadable interface {
	Base() *Resource
	Load(dec *Decoders) error
}

func (r *Resource) Base() *Resource { return r }

func (r *Resource) State() State       { return State(r.state.Load()) }
func (r *Resource) setState(s State)   { r.state.Store(int32(s)) }
func (r *Resource) Validity() Validity { return validityOf(r.State()) }

// Pin marks the resource as held outside the registry. Paired with Unpin.
func (r *Resource) Pin()   { r.pins.Add(1) }
func (r *Resource) Unpin() { r.pins.Add(-1) }

func (r *Resource) pinned() bool { return r.pins.Load() > 0 }

// UpdatePriority raises the resource's fetch priority; priorities only grow
// within a frame and reset as part of eviction aging, so the most impactful
// referencing node wins.
func (r *Resource) UpdatePriority(p float64) {
	if p > r.priority {
		r.priority = p
	}
}

func (r *Resource) Priority() float64 { return r.priority }

// setContent replaces the raw buffer and mirrors its size for the evictor,
// which runs on another thread.
func (r *Resource) setContent(data []byte) {
	r.content = data
	r.contentSize.Store(uint32(len(data)))
}

// MemCost is the RAM+GPU estimate used for budget accounting. The content
// buffer counts as RAM until the decode frees it.
func (r *Resource) MemCost() uint64 {
	return uint64(r.ramCost.Load()) + uint64(r.gpuCost.Load()) + uint64(r.contentSize.Load())
}

func (r *Resource) setCosts(ram, gpu uint32) {
	r.ramCost.Store(ram)
	r.gpuCost.Store(gpu)
}
