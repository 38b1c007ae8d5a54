package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"nightshift.ai/internal/persistence/archive"
	"nightshift.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "run", "day_end", "reload", "take_snapshot":
			postCmd(os.Args[1], os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	storeID := fs.String("store", "", "store id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "stores")
	if *storeID != "" {
		base = filepath.Join(base, *storeID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

type snapshotSummary struct {
	Path             string `json:"path"`
	StoreID          string `json:"store_id"`
	Tick             uint64 `json:"tick"`
	Day              int    `json:"day"`
	LastProcessedDay int    `json:"last_processed_day"`
	RunID            string `json:"run_id,omitempty"`
	RunDay           int    `json:"run_day,omitempty"`
	Archived         bool   `json:"archived"`

	Racks         int `json:"racks"`
	RackSlots     int `json:"rack_slots"`
	Boxes         int `json:"boxes"`
	EmptyBoxes    int `json:"empty_boxes"`
	BackroomUnits int `json:"backroom_units"`
	Displays      int `json:"displays"`
	ShelfLogical  int `json:"shelf_logical"`
	ShelfActive   int `json:"shelf_active"`
	ShelfHidden   int `json:"shelf_hidden"`
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	storeID := fs.String("store", "main", "store id")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	_ = fs.Parse(args)

	storeDir := filepath.Join(*dataDir, "stores", *storeID)
	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = latestSnapshot(storeDir)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	sum := summarize(path, snap)
	if sum.RunDay > 0 {
		if meta, err := archive.ReadMeta(storeDir, sum.RunDay); err == nil && meta.RunID == sum.RunID {
			sum.Archived = true
		}
	}
	printJSON(sum)
}

func summarize(path string, snap snapshot.StoreV1) snapshotSummary {
	s := snapshotSummary{
		Path:             path,
		StoreID:          snap.Header.StoreID,
		Tick:             snap.Header.Tick,
		Day:              snap.Header.Day,
		LastProcessedDay: snap.LastProcessedDay,
		RunID:            snap.RunID,
		RunDay:           snap.RunDay,
		Racks:            len(snap.Racks),
		Displays:         len(snap.Displays),
	}
	for _, r := range snap.Racks {
		s.RackSlots += len(r.Slots)
		for _, sl := range r.Slots {
			for _, b := range sl.Boxes {
				s.Boxes++
				s.BackroomUnits += b.Units
				if b.Units == 0 {
					s.EmptyBoxes++
				}
			}
		}
	}
	for _, d := range snap.Displays {
		s.ShelfLogical += d.Logical
		s.ShelfActive += d.Active
		s.ShelfHidden += d.Hidden
	}
	return s
}

func latestSnapshot(storeDir string) string {
	dir := filepath.Join(storeDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
