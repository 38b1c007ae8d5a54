package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"nightshift.ai/internal/persistence/snapshot"
	"nightshift.ai/internal/sim/nightshift"
)

// runTimeline is one run reconstructed from the journal.
type runTimeline struct {
	RunID       string
	Day         int
	Reason      string
	ScheduledAt time.Time
	Phases      []nightshift.State
	Result      *nightshift.RunResult
}

func (t *runTimeline) String() string {
	states := make([]string, 0, len(t.Phases))
	for _, s := range t.Phases {
		states = append(states, s.String())
	}
	outcome := "open"
	detail := ""
	if res := t.Result; res != nil {
		outcome = res.State.String()
		detail = fmt.Sprintf(" elapsed=%s ticks=%d moved_boxes=%d moved_units=%d reconciled=%d purged=%d empties=%d",
			res.Elapsed, res.Ticks, res.Stats.MovedBoxes, res.Stats.MovedUnits,
			res.Stats.ReconcileAdjusted, res.Stats.StalePurged, res.Stats.EmptyBoxesRemoved)
		if res.AbortReason != "" {
			detail += " abort=" + res.AbortReason
		}
		if res.Stats.Capped {
			detail += " cap=" + res.Stats.CapReason
		}
	}
	return fmt.Sprintf("run=%s day=%d reason=%s outcome=%s phases=%s%s",
		t.RunID, t.Day, t.Reason, outcome, strings.Join(states, ">"), detail)
}

type report struct {
	Events   int
	Runs     []*runTimeline
	Done     int
	Aborted  int
	Open     int
	Rejected int
	Deferred int
	Resets   int
	// DaysProcessed maps a day to the scheduled (non-manual) runs that
	// completed it.
	DaysProcessed map[int][]string
	Violations    []string
}

// CheckSnapshot verifies that the snapshot does not claim a day the journal
// never saw completed.
func (r *report) CheckSnapshot(snap snapshot.StoreV1) {
	lpd := snap.LastProcessedDay
	if lpd <= 0 || len(r.DaysProcessed) == 0 {
		return
	}
	maxDay := 0
	for d := range r.DaysProcessed {
		maxDay = max(maxDay, d)
	}
	if lpd > maxDay {
		r.Violations = append(r.Violations, fmt.Sprintf("snapshot last_processed_day=%d but journal completed up to day %d", lpd, maxDay))
	}
}

type replayer struct {
	rep    report
	byID   map[string]*runTimeline
	active *runTimeline
}

func newReplayer() *replayer {
	return &replayer{
		rep:  report{DaysProcessed: map[int][]string{}},
		byID: map[string]*runTimeline{},
	}
}

func (r *replayer) violate(format string, args ...any) {
	r.rep.Violations = append(r.rep.Violations, fmt.Sprintf(format, args...))
}

func (r *replayer) Apply(e nightshift.Event) {
	r.rep.Events++
	switch e.Kind {
	case nightshift.EventScheduled:
		if r.active != nil {
			r.violate("run %s scheduled at %s while run %s (day %d) is still in flight",
				e.RunID, e.Time.Format(time.RFC3339), r.active.RunID, r.active.Day)
		}
		if _, dup := r.byID[e.RunID]; dup {
			r.violate("run id %s scheduled twice", e.RunID)
			return
		}
		t := &runTimeline{RunID: e.RunID, Day: e.Day, Reason: e.Reason, ScheduledAt: e.Time}
		r.byID[e.RunID] = t
		r.rep.Runs = append(r.rep.Runs, t)
		r.active = t

	case nightshift.EventPhase:
		t := r.lookup(e)
		if t == nil || e.To == nil {
			return
		}
		if n := len(t.Phases); n > 0 && e.From != nil && *e.From != t.Phases[n-1] {
			r.violate("run %s: phase %s>%s does not follow %s", t.RunID, e.From, e.To, t.Phases[n-1])
		}
		if len(t.Phases) == 0 && e.From != nil {
			t.Phases = append(t.Phases, *e.From)
		}
		t.Phases = append(t.Phases, *e.To)

	case nightshift.EventFinished:
		t := r.lookup(e)
		if t == nil {
			return
		}
		if t.Result != nil {
			r.violate("run %s finished twice", t.RunID)
			return
		}
		t.Result = e.Result
		if r.active == t {
			r.active = nil
		}
		if e.Result == nil {
			r.violate("run %s finished without a result", t.RunID)
			return
		}
		switch e.Result.State {
		case nightshift.StateDone:
			r.rep.Done++
			if t.Reason != nightshift.ReasonManual {
				if prev := r.rep.DaysProcessed[t.Day]; len(prev) > 0 {
					r.violate("day %d processed again by run %s (already by %s)", t.Day, t.RunID, strings.Join(prev, ","))
				}
				r.rep.DaysProcessed[t.Day] = append(r.rep.DaysProcessed[t.Day], t.RunID)
			}
		case nightshift.StateAborted:
			r.rep.Aborted++
		}

	case nightshift.EventRejected:
		r.rep.Rejected++
	case nightshift.EventDeferred:
		r.rep.Deferred++
	case nightshift.EventDayReset:
		r.rep.Resets++
	}
}

// lookup finds the run an event belongs to. Journals can start mid-run; such
// events are ignored rather than flagged.
func (r *replayer) lookup(e nightshift.Event) *runTimeline {
	return r.byID[e.RunID]
}

func (r *replayer) Report() report {
	rep := r.rep
	rep.Open = 0
	for _, t := range rep.Runs {
		if t.Result == nil {
			rep.Open++
		}
	}
	sort.SliceStable(rep.Runs, func(i, j int) bool { return rep.Runs[i].ScheduledAt.Before(rep.Runs[j].ScheduledAt) })
	return rep
}
