package fetch

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"terrastream.dev/internal/resources"
)

type result struct {
	task        *resources.FetchTask
	code        int
	contentType string
	body        []byte
}

func newTestFetcher(t *testing.T) (*Fetcher, chan result) {
	t.Helper()
	f := New(Options{Timeout: 5 * time.Second, Log: log.New(io.Discard, "", 0)})
	ch := make(chan result, 4)
	f.Init(func(task *resources.FetchTask, code int, contentType string, body []byte) {
		ch <- result{task, code, contentType, body}
	})
	t.Cleanup(f.Finalize)
	return f, ch
}

func wait(t *testing.T, ch chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("no fetch completion")
		return result{}
	}
}

func TestFetchPlain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("tile-bytes"))
	}))
	defer srv.Close()

	f, ch := newTestFetcher(t)
	f.Fetch(&resources.FetchTask{Url: srv.URL + "/tile"})
	r := wait(t, ch)
	if r.code != 200 || string(r.body) != "tile-bytes" {
		t.Fatalf("got %d %q", r.code, r.body)
	}
	if r.contentType != "application/octet-stream" {
		t.Fatalf("content type %q", r.contentType)
	}
	if r.task.Started.IsZero() {
		t.Fatalf("start time not stamped")
	}
}

func TestFetchGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("compressed-tile"))
		gz.Close()
	}))
	defer srv.Close()

	f, ch := newTestFetcher(t)
	f.Fetch(&resources.FetchTask{Url: srv.URL})
	r := wait(t, ch)
	if r.code != 200 || string(r.body) != "compressed-tile" {
		t.Fatalf("got %d %q", r.code, r.body)
	}
}

func TestFetchReportsRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/moved" {
			http.Redirect(w, r, "/target", http.StatusFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, ch := newTestFetcher(t)
	f.Fetch(&resources.FetchTask{Url: srv.URL + "/moved"})
	r := wait(t, ch)
	if r.code != http.StatusFound {
		t.Fatalf("redirect followed instead of reported: %d", r.code)
	}
	if r.task.RedirectUrl != srv.URL+"/target" {
		t.Fatalf("redirect url %q", r.task.RedirectUrl)
	}
}

func TestFetchErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f, ch := newTestFetcher(t)
	f.Fetch(&resources.FetchTask{Url: srv.URL + "/missing"})
	if r := wait(t, ch); r.code != 404 {
		t.Fatalf("got %d", r.code)
	}
}

func TestFetchUnreachable(t *testing.T) {
	f, ch := newTestFetcher(t)
	f.Fetch(&resources.FetchTask{Url: "http://127.0.0.1:1/none"})
	if r := wait(t, ch); r.code != 0 {
		t.Fatalf("unreachable host code %d", r.code)
	}
}
