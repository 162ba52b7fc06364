// Package fetchindex keeps a queryable SQLite index of every network fetch
// and per-frame statistics snapshot of a session. The index is a secondary
// artifact: writes are asynchronous and dropped under pressure rather than
// ever stalling the streaming loops.
package fetchindex

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "modernc.org/sqlite"

	"terrastream.dev/internal/resources"
	"terrastream.dev/internal/stats"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqFetch reqKind = iota + 1
	reqFrame
)

type req struct {
	kind  reqKind
	fetch resources.FetchRecord
	frame stats.Stats
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Large buffer: opening a view fires hundreds of fetches per tick.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits the append-only write pattern; NORMAL durability is enough
	// for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fetches (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			http_code INTEGER NOT NULL,
			bytes INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			tick INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fetches_url ON fetches(url);`,
		`CREATE INDEX IF NOT EXISTS idx_fetches_tick ON fetches(tick);`,
		`CREATE TABLE IF NOT EXISTS frames (
			frame INTEGER PRIMARY KEY,
			raw_json TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// ObserveFetch queues one fetch record; drops it if the writer is behind.
func (s *SQLiteIndex) ObserveFetch(r resources.FetchRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqFetch, fetch: r}:
	default:
	}
}

// WriteFrame queues one statistics snapshot keyed by its frame index.
func (s *SQLiteIndex) WriteFrame(st stats.Stats) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqFrame, frame: st}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	for r := range s.ch {
		switch r.kind {
		case reqFetch:
			_, _ = s.db.Exec(
				`INSERT INTO fetches (url, http_code, bytes, duration_ms, tick) VALUES (?, ?, ?, ?, ?)`,
				r.fetch.Url, r.fetch.HttpCode, r.fetch.Bytes,
				r.fetch.Duration.Milliseconds(), r.fetch.Tick)
		case reqFrame:
			raw, err := json.Marshal(r.frame)
			if err != nil {
				continue
			}
			_, _ = s.db.Exec(
				`INSERT OR REPLACE INTO frames (frame, raw_json) VALUES (?, ?)`,
				r.frame.FrameIndex, string(raw))
		}
	}
}

// FetchCount reports the number of indexed fetches. Queued writes may not
// be flushed yet; close the index first for a consistent read.
func (s *SQLiteIndex) FetchCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM fetches`).Scan(&n)
	return n, err
}

// FrameStats loads one persisted statistics snapshot.
func (s *SQLiteIndex) FrameStats(frame uint64) (*stats.Stats, error) {
	var raw string
	err := s.db.QueryRow(`SELECT raw_json FROM frames WHERE frame = ?`, frame).Scan(&raw)
	if err != nil {
		return nil, err
	}
	var st stats.Stats
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, err
	}
	return &st, nil
}
