package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	persistlog "nightshift.ai/internal/persistence/log"
	"nightshift.ai/internal/persistence/snapshot"
	"nightshift.ai/internal/sim/nightshift"
)

func main() {
	var (
		dataDir  = flag.String("data", "./data", "runtime data directory")
		storeID  = flag.String("store", "main", "store id")
		storeDir = flag.String("dir", "", "store data dir containing journal/ (overrides -data/-store)")
		snapPath = flag.String("snapshot", "", "snapshot to check against the journal (optional)")
		fromDay  = flag.Int("from_day", 0, "ignore events before this day (optional)")
		toDay    = flag.Int("to_day", 0, "ignore events after this day (optional)")
		quiet    = flag.Bool("quiet", false, "print only violations and the verdict")
	)
	flag.Parse()

	dir := strings.TrimSpace(*storeDir)
	if dir == "" {
		dir = filepath.Join(*dataDir, "stores", *storeID)
	}

	r := newReplayer()
	err := persistlog.ReadEvents(dir, func(e nightshift.Event) error {
		if *fromDay > 0 && e.Day < *fromDay {
			return nil
		}
		if *toDay > 0 && e.Day > *toDay {
			return nil
		}
		r.Apply(e)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	rep := r.Report()

	if !*quiet {
		for _, run := range rep.Runs {
			fmt.Println(run.String())
		}
		fmt.Printf("events=%d runs=%d done=%d aborted=%d open=%d rejected=%d deferred=%d resets=%d days_processed=%d\n",
			rep.Events, len(rep.Runs), rep.Done, rep.Aborted, rep.Open, rep.Rejected, rep.Deferred, rep.Resets, len(rep.DaysProcessed))
	}

	if p := strings.TrimSpace(*snapPath); p != "" {
		snap, err := snapshot.ReadSnapshot(p)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		rep.CheckSnapshot(snap)
		if !*quiet {
			fmt.Printf("snapshot tick=%d day=%d last_processed_day=%d\n", snap.Header.Tick, snap.Header.Day, snap.LastProcessedDay)
		}
	}

	if len(rep.Violations) > 0 {
		for _, v := range rep.Violations {
			fmt.Println("VIOLATION:", v)
		}
		fmt.Printf("replay FAILED: %d violations\n", len(rep.Violations))
		os.Exit(1)
	}
	fmt.Println("replay ok")
}
