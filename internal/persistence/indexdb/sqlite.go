package indexdb

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"
	_ "modernc.org/sqlite"

	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable copy of lifecycle events and per-project
// summaries. The JSONL event log stays the source of truth; rows are
// written by one goroutine and dropped when it falls behind.
type SQLiteIndex struct {
	db    *sql.DB
	runID string

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Int64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	event    project.Event
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Step        uint64
	Path        string
	Digest      string
	Projects    int
	Reservables int
}

func OpenSQLite(path, runID string) (*SQLiteIndex, error) {
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
	if _, err := db.Exec(`INSERT OR IGNORE INTO runs(run_id, started_at) VALUES(?, ?)`,
		runID, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:    db,
		runID: runID,
		ch:    make(chan req, 65536),
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
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			step INTEGER NOT NULL,
			kind TEXT NOT NULL,
			project TEXT NOT NULL,
			project_kind TEXT NOT NULL,
			phase TEXT,
			actor INTEGER,
			haul TEXT,
			strategy TEXT,
			target TEXT,
			quantity INTEGER,
			reason TEXT,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_project_step ON events(run_id, project, step);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_step ON events(run_id, kind, step);`,
		`CREATE TABLE IF NOT EXISTS projects (
			run_id TEXT NOT NULL,
			project TEXT NOT NULL,
			kind TEXT NOT NULL,
			phase TEXT NOT NULL,
			created_step INTEGER NOT NULL,
			ended_step INTEGER,
			workers_joined INTEGER NOT NULL DEFAULT 0,
			hauls_started INTEGER NOT NULL DEFAULT 0,
			hauls_delivered INTEGER NOT NULL DEFAULT 0,
			hauls_cancelled INTEGER NOT NULL DEFAULT 0,
			resets INTEGER NOT NULL DEFAULT 0,
			delays INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, project)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			projects INTEGER NOT NULL,
			reservables INTEGER NOT NULL,
			PRIMARY KEY (run_id, step)
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

// Emit queues ev. It never blocks the simulation.
func (s *SQLiteIndex) Emit(ev project.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: ev}:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) Dropped() int64 { return s.dropped.Load() }

func (s *SQLiteIndex) RecordSnapshot(path, digest string, step uint64, projects, reservables int) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{Step: step, Path: path, Digest: digest, Projects: projects, Reservables: reservables}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropped.Add(1)
	}
}

// Sync blocks until everything queued so far is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func digestJSON(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// UpsertCatalogs stores the catalogs and tuning a run was started with.
func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if cats != nil {
		// map keys marshal sorted, so the json is canonical
		if b, err := json.Marshal(cats.Species.Defs); err == nil {
			rows = append(rows, kv{name: "species", digest: cats.Species.Digest, json: b})
		}
		if b, err := json.Marshal(cats.Items.Defs); err == nil {
			rows = append(rows, kv{name: "items", digest: cats.Items.Digest, json: b})
		}
	}
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, kv{name: "tuning", digest: digestJSON(b), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// summaryUpdate maps an event kind to the projects column it bumps.
var summaryUpdate = map[project.EventKind]string{
	project.EventJoined:        "workers_joined",
	project.EventHaulStarted:   "hauls_started",
	project.EventHaulDelivered: "hauls_delivered",
	project.EventHaulCancelled: "hauls_cancelled",
	project.EventReset:         "resets",
	project.EventDelayOn:       "delays",
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var seq int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM events WHERE run_id = ?`, s.runID).Scan(&seq); err != nil {
		seq = 0
	}

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(run_id,seq,step,kind,project,project_kind,phase,actor,haul,strategy,target,quantity,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertProject, _ := s.db.Prepare(`INSERT INTO projects(run_id,project,kind,phase,created_step) VALUES(?,?,?,?,?)
		ON CONFLICT(run_id, project) DO NOTHING`)
	updatePhase, _ := s.db.Prepare(`UPDATE projects SET phase = ? WHERE run_id = ? AND project = ?`)
	endProject, _ := s.db.Prepare(`UPDATE projects SET phase = ?, ended_step = ? WHERE run_id = ? AND project = ?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,step,path,digest,projects,reservables) VALUES(?,?,?,?,?,?)`)
	bump := map[string]*sql.Stmt{}
	for _, col := range summaryUpdate {
		st, _ := s.db.Prepare(`UPDATE projects SET ` + col + ` = ` + col + ` + 1 WHERE run_id = ? AND project = ?`)
		bump[col] = st
	}
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, insertProject, updatePhase, endProject, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
		for _, st := range bump {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			ev := r.event
			seq++
			raw, _ := json.Marshal(ev)
			if !exec(insertEvent, s.runID, seq, int64(ev.Step), string(ev.Kind), ev.Project, ev.ProjectKind,
				ev.Phase, int64(ev.Actor), ev.Haul, ev.Strategy, ev.Target, ev.Quantity, ev.Reason, string(raw)) {
				continue
			}
			switch ev.Kind {
			case project.EventCreated:
				exec(insertProject, s.runID, ev.Project, ev.ProjectKind, project.Recruiting.String(), int64(ev.Step))
			case project.EventPhase:
				exec(updatePhase, ev.Phase, s.runID, ev.Project)
			case project.EventCompleted, project.EventCancelled:
				phase := project.Complete.String()
				if ev.Kind == project.EventCancelled {
					phase = project.Cancelled.String()
				}
				exec(endProject, phase, int64(ev.Step), s.runID, ev.Project)
			default:
				if col, ok := summaryUpdate[ev.Kind]; ok {
					exec(bump[col], s.runID, ev.Project)
				}
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, s.runID, int64(sn.Step), sn.Path, sn.Digest, sn.Projects, sn.Reservables)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

// ProjectSummary is one row of the projects table.
type ProjectSummary struct {
	Project        string
	Kind           string
	Phase          string
	CreatedStep    uint64
	EndedStep      uint64
	Ended          bool
	WorkersJoined  int
	HaulsStarted   int
	HaulsDelivered int
	HaulsCancelled int
	Resets         int
	Delays         int
}

func (s *SQLiteIndex) Projects(ctx context.Context) ([]ProjectSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT project, kind, phase, created_step, ended_step,
		workers_joined, hauls_started, hauls_delivered, hauls_cancelled, resets, delays
		FROM projects WHERE run_id = ? ORDER BY created_step, project`, s.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProjectSummary
	for rows.Next() {
		var p ProjectSummary
		var created int64
		var ended sql.NullInt64
		if err := rows.Scan(&p.Project, &p.Kind, &p.Phase, &created, &ended,
			&p.WorkersJoined, &p.HaulsStarted, &p.HaulsDelivered, &p.HaulsCancelled, &p.Resets, &p.Delays); err != nil {
			return nil, err
		}
		p.CreatedStep = uint64(created)
		if ended.Valid {
			p.Ended = true
			p.EndedStep = uint64(ended.Int64)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// EventCounts returns the number of indexed events per kind.
func (s *SQLiteIndex) EventCounts(ctx context.Context) (map[project.EventKind]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events WHERE run_id = ? GROUP BY kind`, s.runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[project.EventKind]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[project.EventKind(k)] = n
	}
	return out, rows.Err()
}
