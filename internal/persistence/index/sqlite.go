// Package index records every scan, paste and frame run in a local SQLite
// database so past artifacts and their outcomes can be listed later.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"voxelscan/internal/logging"
	"voxelscan/internal/palette"
	"voxelscan/internal/voxel"
)

const (
	KindScan   = "scan"
	KindPaste  = "paste"
	KindFrame  = "frame"
	KindImport = "import"
	KindRetry  = "retry"
)

var ErrClosed = errors.New("index closed")

// Run is one row of the runs table. Counts are interpreted per kind: blocks
// read for a scan, blocks placed for paste and frame.
type Run struct {
	ID            string        `json:"id"`
	Kind          string        `json:"kind"`
	API           string        `json:"api,omitempty"`
	Region        voxel.Box     `json:"region"`
	Dest          *voxel.Box    `json:"dest,omitempty"`
	Artifact      string        `json:"artifact,omitempty"`
	Profile       string        `json:"profile,omitempty"`
	ProfileDigest string        `json:"profile_digest,omitempty"`
	OK            int           `json:"ok"`
	Failed        int           `json:"failed"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Histogram     map[uint8]int `json:"histogram,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}

func NewRunID() string { return uuid.NewString() }

// timeLayout is fixed width so timestamps sort as text. RFC3339Nano drops
// trailing zeros, which puts "...05Z" after "...05.5Z".
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

// parseTime also accepts rows written with RFC3339Nano.
func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

type SQLiteIndex struct {
	db  *sql.DB
	log *zap.Logger

	ch     chan req
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.RWMutex
	closed atomic.Bool
}

type req struct {
	run  *Run
	done chan struct{}
}

func OpenSQLite(path string, logger *zap.Logger) (*SQLiteIndex, error) {
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
		db:  db,
		log: logging.OrNop(logger),
		ch:  make(chan req, 256),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
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
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			name TEXT NOT NULL,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (name, digest)
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			api TEXT,
			region TEXT NOT NULL,
			dest TEXT,
			artifact TEXT,
			profile TEXT,
			profile_digest TEXT,
			ok INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			batches INTEGER NOT NULL,
			failed_batches INTEGER NOT NULL,
			histogram_json TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_kind_started ON runs(kind, started_at);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains pending writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Record queues a run for the writer goroutine. A missing ID is filled in.
func (s *SQLiteIndex) Record(r Run) (string, error) {
	if s == nil {
		return "", nil
	}
	if r.ID == "" {
		r.ID = NewRunID()
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = time.Now().UTC()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.FinishedAt
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return r.ID, ErrClosed
	}
	s.ch <- req{run: &r}
	return r.ID, nil
}

// Sync waits until every run queued before it has been written.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	done := make(chan struct{})
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.ch <- req{done: done}
	s.mu.RUnlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertProfile stores the canonical form of a profile under its digest so
// a run's profile_digest can always be resolved.
func (s *SQLiteIndex) UpsertProfile(ctx context.Context, p *palette.Profile) error {
	if s == nil || p == nil {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO profiles(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		p.Name, p.Digest, string(b), formatTime(time.Now()))
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()
	insert, err := s.db.Prepare(`INSERT OR REPLACE INTO runs(
		id,kind,api,region,dest,artifact,profile,profile_digest,
		ok,failed,batches,failed_batches,histogram_json,started_at,finished_at
	) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		s.log.Error("prepare insert", zap.Error(err))
	} else {
		defer insert.Close()
	}

	for r := range s.ch {
		if r.done != nil {
			close(r.done)
			continue
		}
		if insert == nil {
			continue
		}
		run := r.run
		var dest any
		if run.Dest != nil {
			dest = run.Dest.String()
		}
		var hist any
		if len(run.Histogram) > 0 {
			b, _ := json.Marshal(run.Histogram)
			hist = string(b)
		}
		if _, err := insert.ExecContext(ctx,
			run.ID, run.Kind, run.API, run.Region.String(), dest, run.Artifact,
			run.Profile, run.ProfileDigest,
			run.OK, run.Failed, run.Batches, run.FailedBatches, hist,
			formatTime(run.StartedAt),
			formatTime(run.FinishedAt),
		); err != nil {
			s.log.Warn("index write failed", zap.String("run", run.ID), zap.Error(err))
			continue
		}
		s.log.Debug("run indexed", zap.String("run", run.ID), zap.String("kind", run.Kind))
	}
}

// ListRuns returns the most recent runs first. An empty kind lists all
// kinds; limit <= 0 means no limit.
func (s *SQLiteIndex) ListRuns(ctx context.Context, kind string, limit int) ([]Run, error) {
	if kind == "" {
		return s.queryRuns(ctx, "", nil, limit)
	}
	return s.queryRuns(ctx, "kind = ?", []any{kind}, limit)
}

// Run looks up a single run by id.
func (s *SQLiteIndex) Run(ctx context.Context, id string) (Run, bool, error) {
	runs, err := s.queryRuns(ctx, "id = ?", []any{id}, 1)
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	return runs[0], true, nil
}

func (s *SQLiteIndex) queryRuns(ctx context.Context, where string, args []any, limit int) ([]Run, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT id,kind,api,region,dest,artifact,profile,profile_digest,
		ok,failed,batches,failed_batches,histogram_json,started_at,finished_at FROM runs`)
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	sb.WriteString(` ORDER BY started_at DESC, id`)
	if limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r                              Run
			api, dest, artifact, prof, dig sql.NullString
			hist                           sql.NullString
			region, startedAt, finishedAt  string
		)
		if err := rows.Scan(&r.ID, &r.Kind, &api, &region, &dest, &artifact, &prof, &dig,
			&r.OK, &r.Failed, &r.Batches, &r.FailedBatches, &hist, &startedAt, &finishedAt); err != nil {
			return nil, err
		}
		r.API, r.Artifact, r.Profile, r.ProfileDigest = api.String, artifact.String, prof.String, dig.String
		if b, err := voxel.ParseBox(region); err == nil {
			r.Region = b
		}
		if dest.Valid {
			if b, err := voxel.ParseBox(dest.String); err == nil {
				r.Dest = &b
			}
		}
		if hist.Valid && hist.String != "" {
			_ = json.Unmarshal([]byte(hist.String), &r.Histogram)
		}
		r.StartedAt = parseTime(startedAt)
		r.FinishedAt = parseTime(finishedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
