// Package fetch provides the network fetcher feeding the resource cache.
package fetch

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"terrastream.dev/internal/resources"
)

// Options tunes the HTTP fetcher.
type Options struct {
	// UserAgent sent with every request.
	UserAgent string
	// Timeout per request, end to end.
	Timeout time.Duration
	// RatePerSecond caps download starts; zero disables the limiter.
	RatePerSecond int

	Log *log.Logger
}

// Fetcher downloads resources over HTTP, one goroutine per task.
// Redirects are reported back to the caller rather than followed, so the
// cache can enforce its own hop limit and availability tests per hop.
type Fetcher struct {
	opts    Options
	client  *http.Client
	done    resources.FetchDone
	limiter *rate.Limiter
	log     *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Fetcher{
		opts: opts,
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
	}
	if f.log == nil {
		f.log = log.Default()
	}
	if opts.RatePerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}
	return f
}

func (f *Fetcher) Init(done resources.FetchDone) { f.done = done }

func (f *Fetcher) Fetch(t *resources.FetchTask) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(t)
	}()
}

// Finalize cancels in-flight requests and waits for their callbacks.
func (f *Fetcher) Finalize() {
	f.cancel()
	f.wg.Wait()
}

func (f *Fetcher) run(t *resources.FetchTask) {
	if f.limiter != nil {
		if err := f.limiter.Wait(f.ctx); err != nil {
			f.done(t, 0, "", nil)
			return
		}
	}
	t.Started = time.Now()

	req, err := http.NewRequestWithContext(f.ctx, http.MethodGet, t.Url, nil)
	if err != nil {
		f.log.Printf("[fetch] bad url %q: %v", t.Url, err)
		f.done(t, 0, "", nil)
		return
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Printf("[fetch] %q: %v", t.Url, err)
		f.done(t, 0, "", nil)
		return
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); loc != "" {
		if u, err := resp.Request.URL.Parse(loc); err == nil {
			t.RedirectUrl = u.String()
		}
	}

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			f.log.Printf("[fetch] %q: gzip: %v", t.Url, err)
			f.done(t, 0, "", nil)
			return
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		f.log.Printf("[fetch] %q: read: %v", t.Url, err)
		f.done(t, 0, "", nil)
		return
	}
	f.done(t, resp.StatusCode, resp.Header.Get("Content-Type"), body)
}
