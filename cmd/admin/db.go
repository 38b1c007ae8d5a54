package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type dbQuery struct {
	name  string
	limit int
	runID string
	kind  string
	day   int
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	storeID := fs.String("store", "", "store id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	runID := fs.String("run", "", "run_id filter (phases, events)")
	kind := fs.String("kind", "", "event kind filter (events)")
	day := fs.Int("day", 0, "day filter (runs, events)")
	_ = fs.Parse(args)

	q := dbQuery{name: "runs", limit: *limit, runID: strings.TrimSpace(*runID), kind: strings.ToUpper(strings.TrimSpace(*kind)), day: *day}
	if fs.NArg() > 0 {
		q.name = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*storeID) == "" {
			fmt.Fprintln(os.Stderr, "missing -store or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "stores", *storeID, "index", "store.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(db, q, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data] [-store STORE|-db PATH] [-limit N] [-run ID] [-kind K] [-day D] runs|phases|events|snapshots|days")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func runQuery(db *sql.DB, q dbQuery, out io.Writer) error {
	if q.limit <= 0 {
		q.limit = 20
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	switch q.name {
	case "runs":
		query := `SELECT run_id,day,reason,state,scheduled_at,COALESCE(finished_at,''),COALESCE(abort_reason,''),
			COALESCE(elapsed_ms,0),COALESCE(ticks,0),COALESCE(transfers,0),COALESCE(moved_boxes,0),COALESCE(moved_units,0),
			COALESCE(reconcile_adjusted,0),COALESCE(stale_purged,0),COALESCE(empty_removed,0),COALESCE(cap_reason,'')
			FROM runs`
		args := []any{}
		if q.day > 0 {
			query += ` WHERE day=?`
			args = append(args, q.day)
		}
		query += ` ORDER BY scheduled_at DESC LIMIT ?`
		args = append(args, q.limit)
		return each(db, query, args, func(rows *sql.Rows) error {
			var r struct {
				RunID             string `json:"run_id"`
				Day               int    `json:"day"`
				Reason            string `json:"reason"`
				State             string `json:"state"`
				ScheduledAt       string `json:"scheduled_at"`
				FinishedAt        string `json:"finished_at,omitempty"`
				AbortReason       string `json:"abort_reason,omitempty"`
				ElapsedMS         int64  `json:"elapsed_ms"`
				Ticks             int    `json:"ticks"`
				Transfers         int    `json:"transfers"`
				MovedBoxes        int    `json:"moved_boxes"`
				MovedUnits        int    `json:"moved_units"`
				ReconcileAdjusted int    `json:"reconcile_adjusted"`
				StalePurged       int    `json:"stale_purged"`
				EmptyRemoved      int    `json:"empty_removed"`
				CapReason         string `json:"cap_reason,omitempty"`
			}
			if err := rows.Scan(&r.RunID, &r.Day, &r.Reason, &r.State, &r.ScheduledAt, &r.FinishedAt, &r.AbortReason,
				&r.ElapsedMS, &r.Ticks, &r.Transfers, &r.MovedBoxes, &r.MovedUnits,
				&r.ReconcileAdjusted, &r.StalePurged, &r.EmptyRemoved, &r.CapReason); err != nil {
				return err
			}
			return enc.Encode(r)
		})

	case "phases":
		if q.runID == "" {
			return fmt.Errorf("phases requires -run")
		}
		return each(db, `SELECT seq,at,from_state,to_state FROM run_phases WHERE run_id=? ORDER BY seq`, []any{q.runID}, func(rows *sql.Rows) error {
			var r struct {
				RunID string `json:"run_id"`
				Seq   int    `json:"seq"`
				At    string `json:"at"`
				From  string `json:"from"`
				To    string `json:"to"`
			}
			if err := rows.Scan(&r.Seq, &r.At, &r.From, &r.To); err != nil {
				return err
			}
			r.RunID = q.runID
			return enc.Encode(r)
		})

	case "events":
		var where []string
		var args []any
		if q.runID != "" {
			where = append(where, "run_id=?")
			args = append(args, q.runID)
		}
		if q.kind != "" {
			where = append(where, "kind=?")
			args = append(args, q.kind)
		}
		if q.day > 0 {
			where = append(where, "day=?")
			args = append(args, q.day)
		}
		query := `SELECT raw_json FROM events`
		if len(where) > 0 {
			query += ` WHERE ` + strings.Join(where, " AND ")
		}
		query += ` ORDER BY seq DESC LIMIT ?`
		args = append(args, q.limit)
		return each(db, query, args, func(rows *sql.Rows) error {
			var raw string
			if err := rows.Scan(&raw); err != nil {
				return err
			}
			_, err := fmt.Fprintln(out, raw)
			return err
		})

	case "snapshots":
		return each(db, `SELECT tick,path,day,last_processed_day,COALESCE(run_id,''),racks,displays,boxes,backroom_units,shelf_logical FROM snapshots ORDER BY tick DESC LIMIT ?`, []any{q.limit}, func(rows *sql.Rows) error {
			var r struct {
				Tick             int64  `json:"tick"`
				Path             string `json:"path"`
				Day              int    `json:"day"`
				LastProcessedDay int    `json:"last_processed_day"`
				RunID            string `json:"run_id,omitempty"`
				Racks            int    `json:"racks"`
				Displays         int    `json:"displays"`
				Boxes            int    `json:"boxes"`
				BackroomUnits    int    `json:"backroom_units"`
				ShelfLogical     int    `json:"shelf_logical"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.Day, &r.LastProcessedDay, &r.RunID, &r.Racks, &r.Displays, &r.Boxes, &r.BackroomUnits, &r.ShelfLogical); err != nil {
				return err
			}
			return enc.Encode(r)
		})

	case "days":
		return each(db, `SELECT day,run_id,tick,snapshot_path,recorded_at FROM days ORDER BY day DESC LIMIT ?`, []any{q.limit}, func(rows *sql.Rows) error {
			var r struct {
				Day          int    `json:"day"`
				RunID        string `json:"run_id"`
				Tick         int64  `json:"tick"`
				SnapshotPath string `json:"snapshot_path"`
				RecordedAt   string `json:"recorded_at"`
			}
			if err := rows.Scan(&r.Day, &r.RunID, &r.Tick, &r.SnapshotPath, &r.RecordedAt); err != nil {
				return err
			}
			return enc.Encode(r)
		})

	default:
		return fmt.Errorf("unknown query: %s", q.name)
	}
}

func each(db *sql.DB, query string, args []any, fn func(*sql.Rows) error) error {
	rows, err := db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows: %w", err)
	}
	return nil
}
