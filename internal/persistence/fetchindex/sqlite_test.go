package fetchindex

import (
	"path/filepath"
	"testing"
	"time"

	"terrastream.dev/internal/resources"
	"terrastream.dev/internal/stats"
)

func TestFetchIndexRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "session.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 10; i++ {
		idx.ObserveFetch(resources.FetchRecord{
			Url:      "https://tiles.test/0-0-0.mesh",
			HttpCode: 200,
			Bytes:    1024,
			Duration: 15 * time.Millisecond,
			Tick:     uint64(i),
		})
	}
	idx.WriteFrame(stats.Stats{FrameIndex: 42, ResourcesLoaded: 7})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen to verify everything was flushed to disk.
	idx2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx2.Close()

	n, err := idx2.FetchCount()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 10 {
		t.Fatalf("fetch count = %d, want 10", n)
	}
	st, err := idx2.FrameStats(42)
	if err != nil {
		t.Fatalf("frame stats: %v", err)
	}
	if st.ResourcesLoaded != 7 {
		t.Fatalf("frame stats payload: %+v", st)
	}
}

func TestFetchIndexClosedIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Writes after close must not panic or block.
	idx.ObserveFetch(resources.FetchRecord{Url: "x"})
	idx.WriteFrame(stats.Stats{FrameIndex: 1})
	if err := idx.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	if _, err := OpenSQLite(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
