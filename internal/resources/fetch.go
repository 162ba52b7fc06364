package resources

import "time"

// FetchTask is one in-flight download. The Url starts as the resource name
// and is rewritten while following redirects; the resource identity never
// changes.
type FetchTask struct {
	res Loadable

	Url string

	// RedirectUrl is filled by the fetcher when the response carries a
	// Location header.
	RedirectUrl string

	// Started is stamped by the fetcher when the request goes out; used
	// for fetch-history bookkeeping.
	Started time.Time

	redirections int
}

// Resource returns the entity this task downloads for.
func (t *FetchTask) Resource() Loadable { return t.res }

// FetchDone delivers a completed (or failed) fetch. httpCode 0 means a
// transport-level failure. Called from the fetcher's own goroutines; the
// cache side must not block.
type FetchDone func(t *FetchTask, httpCode int, contentType string, body []byte)

// Fetcher is the asynchronous download collaborator.
type Fetcher interface {
	// Init installs the completion callback; called once before any Fetch.
	Init(done FetchDone)
	// Fetch starts an asynchronous download of t.Url. Fire and forget; the
	// engine observes completion via resource state.
	Fetch(t *FetchTask)
	// Finalize releases the fetcher's workers. No completions are
	// delivered afterwards.
	Finalize()
}

// FetchRecord summarizes one finished network fetch for diagnostics.
type FetchRecord struct {
	Url      string
	HttpCode int
	Bytes    int
	Duration time.Duration
	Tick     uint64
}

// FetchObserver receives fetch records; implementations must be quick and
// non-blocking (they run on the completion callback).
type FetchObserver interface {
	ObserveFetch(FetchRecord)
}
