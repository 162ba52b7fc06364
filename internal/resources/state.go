package resources

// State is the lifecycle phase of a resource. Transitions only move
// forward, with two exceptions: finalizing resources revive back to
// initializing when touched, and any in-flight state may drop into one of
// the terminal error states.
type State int32

const (
	StateInitializing State = iota
	StateDownloading
	StateDownloaded
	StateErrorDownload
	StateErrorLoad
	StateReady
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateDownloading:
		return "downloading"
	case StateDownloaded:
		return "downloaded"
	case StateErrorDownload:
		return "errorDownload"
	case StateErrorLoad:
		return "errorLoad"
	case StateReady:
		return "ready"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Validity is the caller-facing view of a resource's state.
type Validity int

const (
	// Invalid: unknown name or terminal error.
	Invalid Validity = iota
	// Indeterminate: still in flight; ask again next tick.
	Indeterminate
	// Valid: decoded payload available.
	Valid
)

func (v Validity) String() string {
	switch v {
	case Invalid:
		return "invalid"
	case Indeterminate:
		return "indeterminate"
	default:
		return "valid"
	}
}

func validityOf(s State) Validity {
	switch s {
	case StateErrorDownload, StateErrorLoad:
		return Invalid
	case StateReady:
		return Valid
	default:
		return Indeterminate
	}
}
