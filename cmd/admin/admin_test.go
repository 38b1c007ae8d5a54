package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nightshift.ai/internal/persistence/indexdb"
	"nightshift.ai/internal/persistence/snapshot"
	"nightshift.ai/internal/sim/nightshift"
)

func TestRunQuery_ReadsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	require.NoError(t, err)

	at := time.Date(2026, 3, 3, 23, 0, 0, 0, time.UTC)
	from, to := nightshift.StateWaitingDelay, nightshift.StateInit
	idx.OnEvent(nightshift.Event{Time: at, Kind: nightshift.EventScheduled, RunID: "r3", Day: 3, Reason: nightshift.ReasonDayTransition})
	idx.OnEvent(nightshift.Event{Time: at.Add(time.Second), Kind: nightshift.EventPhase, RunID: "r3", Day: 3, From: &from, To: &to})
	idx.OnEvent(nightshift.Event{Time: at.Add(2 * time.Second), Kind: nightshift.EventFinished, RunID: "r3", Day: 3,
		Result: &nightshift.RunResult{RunID: "r3", Day: 3, State: nightshift.StateDone, Stats: nightshift.Stats{MovedUnits: 12}}})
	idx.RecordDay(3, "r3", 400, "/tmp/day_0003/400.snap.zst")
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var out bytes.Buffer
	require.NoError(t, runQuery(db, dbQuery{name: "runs"}, &out))
	var run struct {
		RunID      string `json:"run_id"`
		State      string `json:"state"`
		MovedUnits int    `json:"moved_units"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &run))
	require.Equal(t, "r3", run.RunID)
	require.Equal(t, "Done", run.State)
	require.Equal(t, 12, run.MovedUnits)

	out.Reset()
	require.NoError(t, runQuery(db, dbQuery{name: "phases", runID: "r3"}, &out))
	require.Contains(t, out.String(), `"to":"Init"`)

	out.Reset()
	require.NoError(t, runQuery(db, dbQuery{name: "events", kind: "FINISHED"}, &out))
	require.Equal(t, 1, strings.Count(out.String(), "\n"))

	out.Reset()
	require.NoError(t, runQuery(db, dbQuery{name: "days"}, &out))
	require.Contains(t, out.String(), `"run_id":"r3"`)

	require.ErrorContains(t, runQuery(db, dbQuery{name: "phases"}, &out), "requires -run")
	require.ErrorContains(t, runQuery(db, dbQuery{name: "agents"}, &out), "unknown query")
}

func TestSummarize(t *testing.T) {
	s := summarize("x.snap.zst", snapshot.StoreV1{
		Header:           snapshot.Header{StoreID: "main", Tick: 10, Day: 4},
		LastProcessedDay: 4,
		RunID:            "r4",
		RunDay:           4,
		Racks: []snapshot.RackV1{{ID: "a", Slots: []snapshot.RackSlotV1{
			{Product: 1, Boxes: []snapshot.BoxV1{{ID: "b1", Units: 5}, {ID: "b2"}}},
			{Product: 2},
		}}},
		Displays: []snapshot.DisplayV1{{ID: "d", Product: 1, Logical: 6, Active: 5, Hidden: 1}},
	})
	require.Equal(t, 2, s.RackSlots)
	require.Equal(t, 2, s.Boxes)
	require.Equal(t, 1, s.EmptyBoxes)
	require.Equal(t, 5, s.BackroomUnits)
	require.Equal(t, 6, s.ShelfLogical)
	require.Equal(t, 1, s.ShelfHidden)
}
