package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"nightshift.ai/internal/persistence/snapshot"
	"nightshift.ai/internal/sim/catalogs"
	"nightshift.ai/internal/sim/nightshift"
	"nightshift.ai/internal/sim/tuning"
)

const SchemaVersion = "1"

// SQLiteIndex is a secondary, queryable index of runs, events and
// snapshots. The journal stays the source of truth: writes are queued and
// dropped when the writer falls behind.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEvent    atomic.Uint64
	dropSnapshot atomic.Uint64
	dropDay      atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
	reqDay
)

type req struct {
	kind reqKind

	event    nightshift.Event
	snapshot snapshotRow
	day      dayRow
}

type snapshotRow struct {
	Tick             uint64
	Path             string
	Day              int
	LastProcessedDay int
	RunID            string
	Racks            int
	Displays         int
	Boxes            int
	BackroomUnits    int
	ShelfLogical     int
}

type dayRow struct {
	Day        int
	RunID      string
	Tick       uint64
	Path       string
	RecordedAt string
}

// Stats reports queue pressure for metrics and admin views.
type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropEventTotal    uint64 `json:"drop_event_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	DropDayTotal      uint64 `json:"drop_day_total"`
	WriteErrorTotal   uint64 `json:"write_error_total"`
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
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
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
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			day INTEGER NOT NULL,
			reason TEXT NOT NULL,
			state TEXT NOT NULL,
			scheduled_at TEXT NOT NULL,
			started_at TEXT,
			finished_at TEXT,
			abort_reason TEXT,
			elapsed_ms INTEGER,
			ticks INTEGER,
			transfers INTEGER,
			moved_boxes INTEGER,
			moved_units INTEGER,
			reconcile_adjusted INTEGER,
			stale_purged INTEGER,
			empty_removed INTEGER,
			cap_reason TEXT,
			stats_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_day ON runs(day);`,
		`CREATE TABLE IF NOT EXISTS run_phases (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			PRIMARY KEY (run_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			run_id TEXT,
			day INTEGER NOT NULL,
			reason TEXT,
			detail TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_day ON events(kind, day);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			day INTEGER NOT NULL,
			last_processed_day INTEGER NOT NULL,
			run_id TEXT,
			racks INTEGER NOT NULL,
			displays INTEGER NOT NULL,
			boxes INTEGER NOT NULL,
			backroom_units INTEGER NOT NULL,
			shelf_logical INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS days (
			day INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			snapshot_path TEXT NOT NULL,
			recorded_at TEXT NOT NULL
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

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEventTotal:    s.dropEvent.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		DropDayTotal:      s.dropDay.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

// OnEvent indexes a runtime event.
func (s *SQLiteIndex) OnEvent(e nightshift.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEvent.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.StoreV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:             snap.Header.Tick,
		Path:             path,
		Day:              snap.Header.Day,
		LastProcessedDay: snap.LastProcessedDay,
		RunID:            snap.RunID,
		Racks:            len(snap.Racks),
		Displays:         len(snap.Displays),
	}
	for _, rk := range snap.Racks {
		for _, sl := range rk.Slots {
			r.Boxes += len(sl.Boxes)
			for _, b := range sl.Boxes {
				r.BackroomUnits += b.Units
			}
		}
	}
	for _, d := range snap.Displays {
		r.ShelfLogical += d.Logical
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) RecordDay(day int, runID string, tick uint64, archivedSnapshotPath string) {
	if s == nil || s.closed.Load() {
		return
	}
	if day <= 0 || archivedSnapshotPath == "" {
		return
	}
	r := dayRow{
		Day:        day,
		RunID:      runID,
		Tick:       tick,
		Path:       archivedSnapshotPath,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	select {
	case s.ch <- req{kind: reqDay, day: r}:
	default:
		s.dropDay.Add(1)
	}
}

func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
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
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "products.json")); err == nil {
			rows = append(rows, kv{name: "products", digest: cats.Products.Digest, json: b})
		}
		if b, err := os.ReadFile(filepath.Join(configDir, "layout.json")); err == nil {
			rows = append(rows, kv{name: "layout", digest: cats.Layout.Digest, json: b})
		}
	}
	// Tuning: store the values we actually apply (canonical JSON).
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, SchemaVersion); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func ts(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT INTO events(at,kind,run_id,day,reason,detail,raw_json) VALUES(?,?,?,?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR IGNORE INTO runs(run_id,day,reason,state,scheduled_at) VALUES(?,?,?,?,?)`)
	insertPhase, _ := s.db.Prepare(`INSERT OR REPLACE INTO run_phases(run_id,seq,at,from_state,to_state) VALUES(?,?,?,?,?)`)
	updateState, _ := s.db.Prepare(`UPDATE runs SET state=? WHERE run_id=?`)
	finishRun, _ := s.db.Prepare(`UPDATE runs SET state=?,started_at=?,finished_at=?,abort_reason=?,elapsed_ms=?,ticks=?,transfers=?,moved_boxes=?,moved_units=?,reconcile_adjusted=?,stale_purged=?,empty_removed=?,cap_reason=?,stats_json=? WHERE run_id=?`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,day,last_processed_day,run_id,racks,displays,boxes,backroom_units,shelf_logical) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertDay, _ := s.db.Prepare(`INSERT OR REPLACE INTO days(day,run_id,tick,snapshot_path,recorded_at) VALUES(?,?,?,?,?)`)
	stmts := []*sql.Stmt{insertEvent, insertRun, insertPhase, updateState, finishRun, insertSnapshot, insertDay}
	defer func() {
		for _, st := range stmts {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second

		phaseSeq = map[string]int{}
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
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		s.writeErrors.Add(1)
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
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
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			raw, _ := json.Marshal(e)
			if !exec(insertEvent, ts(e.Time), string(e.Kind), e.RunID, e.Day, e.Reason, e.Detail, string(raw)) {
				continue
			}
			switch e.Kind {
			case nightshift.EventScheduled:
				exec(insertRun, e.RunID, e.Day, e.Reason, nightshift.StateWaitingDelay.String(), ts(e.Time))
			case nightshift.EventPhase:
				if e.From == nil || e.To == nil {
					break
				}
				seq := phaseSeq[e.RunID]
				phaseSeq[e.RunID] = seq + 1
				if exec(insertPhase, e.RunID, seq, ts(e.Time), e.From.String(), e.To.String()) {
					exec(updateState, e.To.String(), e.RunID)
				}
			case nightshift.EventFinished:
				delete(phaseSeq, e.RunID)
				res := e.Result
				if res == nil {
					break
				}
				st := res.Stats
				statsJSON, _ := json.Marshal(st)
				exec(finishRun,
					res.State.String(),
					ts(res.StartedAt),
					ts(res.FinishedAt),
					res.AbortReason,
					res.Elapsed.Milliseconds(),
					res.Ticks,
					st.Transfers,
					st.MovedBoxes,
					st.MovedUnits,
					st.ReconcileAdjusted,
					st.StalePurged,
					st.EmptyBoxesRemoved,
					st.CapReason,
					string(statsJSON),
					res.RunID,
				)
			}

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Day, sn.LastProcessedDay, sn.RunID,
				sn.Racks, sn.Displays, sn.Boxes, sn.BackroomUnits, sn.ShelfLogical)

		case reqDay:
			d := r.day
			exec(insertDay, d.Day, d.RunID, int64(d.Tick), d.Path, d.RecordedAt)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}
