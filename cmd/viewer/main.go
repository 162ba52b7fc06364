package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"terrastream.dev/internal/fetch"
	"terrastream.dev/internal/options"
	"terrastream.dev/internal/persistence/fetchindex"
	"terrastream.dev/internal/resources"
	"terrastream.dev/internal/stats"
	"terrastream.dev/internal/transport/observer"
	"terrastream.dev/internal/viewer"
)

func main() {
	var (
		addr        = flag.String("addr", "127.0.0.1:8086", "observer http listen address (loopback only)")
		configURL   = flag.String("config", "", "map configuration url (required)")
		cacheDir    = flag.String("cache", "./cache", "on-disk resource cache directory")
		optionsPath = flag.String("options", "", "path to options yaml (default: built-in defaults)")
		width       = flag.Int("width", 1280, "viewport width in pixels")
		height      = flag.Int("height", 720, "viewport height in pixels")
		renderHz    = flag.Int("render_hz", 30, "render ticks per second")
		frames      = flag.Uint64("frames", 0, "stop after this many frames (0 = run until signalled)")
		disableDB   = flag.Bool("disable_db", false, "disable the fetch/frame index db")
		dbPath      = flag.String("db", "", "fetch index db path (default: <cache>/index.db)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	if strings.TrimSpace(*configURL) == "" {
		logger.Fatalf("missing -config (map configuration url)")
	}

	opts, err := loadOptions(*optionsPath, logger)
	if err != nil {
		logger.Fatalf("load options: %v", err)
	}

	disk, err := resources.NewDiskCache(*cacheDir)
	if err != nil {
		logger.Fatalf("open disk cache: %v", err)
	}

	// Optional: fetch/frame index (does not affect streaming behaviour).
	var idx *fetchindex.SQLiteIndex
	if !*disableDB {
		p := strings.TrimSpace(*dbPath)
		if p == "" {
			p = filepath.Join(*cacheDir, "index.db")
		}
		idx, err = fetchindex.OpenSQLite(p)
		if err != nil {
			logger.Fatalf("open fetch index: %v", err)
		}
		defer idx.Close()
		logger.Printf("fetch index: %s", p)
	} else {
		logger.Printf("fetch index disabled (-disable_db)")
	}

	fetcher := fetch.New(fetch.Options{
		UserAgent:     "terrastream/1.0",
		Timeout:       30 * time.Second,
		RatePerSecond: opts.FetchRatePerSecond,
		Log:           logger,
	})

	cacheCfg := resources.Config{
		Options:  &opts,
		Fetcher:  fetcher,
		Disk:     disk,
		Decoders: resources.DefaultDecoders(),
		Log:      logger,
	}
	if idx != nil {
		cacheCfg.Observer = idx
	}
	cache := resources.New(cacheCfg)
	defer cache.Close()

	m := viewer.NewMap(&opts, cache, *configURL, logger)
	m.SetViewport(float64(*width), float64(*height))

	ctx, cancel := signalContext()
	defer cancel()

	sessionID := uuid.NewString()
	mirror := &statsMirror{}
	srv := startObserver(*addr, mirror, sessionID, *configURL, logger)
	defer func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	// Data thread: advance resource state machines, back off when idle.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if m.DataTick() {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()

	logger.Printf("session %s, config %s", sessionID, *configURL)

	hz := *renderHz
	if hz <= 0 {
		hz = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		m.RenderTick()
		st := m.Statistics()
		mirror.set(st)

		if idx != nil && st.FrameIndex%uint64(hz) == 0 {
			idx.WriteFrame(st)
		}
		if *frames > 0 && st.FrameIndex >= *frames {
			break loop
		}
	}
	cancel()
	wg.Wait()

	final := m.Statistics()
	if idx != nil {
		idx.WriteFrame(final)
	}
	logger.Printf("stopping after frame %d: %d resources loaded, %d downloaded, %d failed, %d nodes rendered last frame",
		final.FrameIndex, final.ResourcesLoaded, final.ResourcesDownloaded, final.ResourcesFailed, final.NodesRenderedTotal)
}

func loadOptions(path string, logger *log.Logger) (options.MapOptions, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return options.Defaults(), nil
	}
	o, err := options.Load(p)
	if err != nil {
		return options.MapOptions{}, err
	}
	logger.Printf("options loaded from %s", p)
	return o, nil
}

// statsMirror republishes the render thread's frame statistics to the
// observer goroutines.
type statsMirror struct {
	mu sync.RWMutex
	st stats.Stats
}

func (s *statsMirror) set(st stats.Stats) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

func (s *statsMirror) Snapshot() stats.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func startObserver(addr string, src observer.Source, sessionID, configURL string, logger *log.Logger) *http.Server {
	obs := observer.NewServer(src, sessionID, configURL, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/v1/ws", obs.WSHandler())

	if os.Getenv("TS_ENABLE_PPROF_HTTP") != "false" {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		logger.Printf("pprof endpoints disabled (TS_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("observer listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("observer: %v", err)
		}
	}()
	return srv
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
