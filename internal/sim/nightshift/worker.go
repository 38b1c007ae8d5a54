package nightshift

import (
	"fmt"
	"io"
	"log"
	"math/rand"
	"time"
)

// Worker runs one restock pass for one day. It is advanced by Tick and keeps
// every loop cursor in its own fields so a phase can resume on the next tick.
type Worker struct {
	id     string
	day    int
	reason string
	runAt  time.Time

	cfg    Config
	policy RunPolicy
	env    Environment
	stable func() bool
	clock  Clock
	rng    *rand.Rand
	log    *log.Logger
	emit   func(Event)

	state       State
	abortReason string
	scheduledAt time.Time
	startedAt   time.Time
	deadline    time.Time
	finishedAt  time.Time
	ticks       int
	c           Collaborators
	stats       Stats

	// Init snapshot.
	rackSlots map[ProductID][]RackSlot
	products  []ProductID

	// Restock cursor.
	passTransfers int
	productIdx    int
	slots         []DisplaySlot
	slotIdx       int
	slotTarget    int
	slotTransfers int

	// Shared by Reconcile, VisualRepair and VisualRebuild.
	sweep    []DisplaySlot
	sweepIdx int

	// Cleanup cursor.
	racks      []Rack
	rackIdx    int
	rackSlotsC []RackSlot
	rackSlotIx int
}

type workerDeps struct {
	env    Environment
	stable func() bool
	clock  Clock
	rng    *rand.Rand
	log    *log.Logger
	emit   func(Event)
}

func newWorker(id string, day int, reason string, cfg Config, d workerDeps) *Worker {
	now := d.clock.Now()
	p := cfg.policy(reason)
	return &Worker{
		id:          id,
		day:         day,
		reason:      reason,
		runAt:       now.Add(p.Delay),
		cfg:         cfg,
		policy:      p,
		env:         d.env,
		stable:      d.stable,
		clock:       d.clock,
		rng:         d.rng,
		log:         orDiscard(d.log),
		emit:        d.emit,
		state:       StateWaitingDelay,
		scheduledAt: now,
		slotTarget:  -1,
	}
}

func (w *Worker) ID() string          { return w.id }
func (w *Worker) Day() int            { return w.day }
func (w *Worker) Reason() string      { return w.reason }
func (w *Worker) RunAt() time.Time    { return w.runAt }
func (w *Worker) State() State        { return w.state }
func (w *Worker) Stats() Stats        { return w.stats }
func (w *Worker) AbortReason() string { return w.abortReason }

// Tick advances the worker until the ops budget or the per-tick time budget is
// used up, or the run reaches a terminal state.
func (w *Worker) Tick() {
	if w.state.Terminal() {
		return
	}
	w.ticks++
	start := w.clock.Now()

	if w.state == StateWaitingDelay {
		if !w.stable() || start.Before(w.runAt) {
			return
		}
		w.transition(StateInit)
	}
	if !w.stable() {
		w.Abort("environment unstable")
		return
	}
	c, err := w.env.Collaborators()
	if err == nil {
		err = c.Validate()
	}
	if err != nil {
		w.Abort(fmt.Sprintf("collaborators: %v", err))
		return
	}
	w.c = c

	for ops := 0; ops < w.policy.OpsPerTick && !w.state.Terminal(); ops++ {
		now := w.clock.Now()
		if now.Sub(start) >= w.policy.TickBudget {
			return
		}
		if w.state != StateInit && now.After(w.deadline) {
			if w.state == StateCleanup {
				w.Abort("wall-clock cap exceeded during cleanup")
				return
			}
			w.capped("wall_clock")
			w.deadline = now.Add(w.cfg.CleanupWindow)
			w.transition(StateCleanup)
			continue
		}
		w.step()
	}
}

func (w *Worker) step() {
	switch w.state {
	case StateInit:
		w.stepInit()
	case StateRestock:
		w.stepRestock()
	case StateReconcile:
		w.stepReconcile()
	case StateVisualRepair:
		w.stepVisualRepair()
	case StateVisualRebuild:
		w.stepVisualRebuild()
	case StateCleanup:
		w.stepCleanup()
	}
}

func (w *Worker) stepInit() {
	w.startedAt = w.clock.Now()
	w.deadline = w.startedAt.Add(w.cfg.MaxTotal)
	bySlot, err := w.c.Racks.RackSlotsByProduct()
	if err != nil {
		w.Abort(fmt.Sprintf("rack index: %v", err))
		return
	}
	products, err := w.c.Inventory.ProductIDs()
	if err != nil {
		w.Abort(fmt.Sprintf("inventory products: %v", err))
		return
	}
	w.rackSlots = make(map[ProductID][]RackSlot, len(bySlot))
	for pid, rs := range bySlot {
		for _, s := range rs {
			if s == nil {
				continue
			}
			if w.cfg.NonSellable != nil && w.cfg.NonSellable(s.Rack()) {
				w.stats.RackSlotsSkipped++
				continue
			}
			w.rackSlots[pid] = append(w.rackSlots[pid], s)
			w.stats.RackSlotsIndexed++
		}
	}
	w.products = products
	w.stats.ProductsIndexed = len(products)
	w.log.Printf("run %s: init day=%d reason=%s products=%d rackSlots=%d skipped=%d",
		w.short(), w.day, w.reason, len(products), w.stats.RackSlotsIndexed, w.stats.RackSlotsSkipped)
	w.transition(StateRestock)
}

// Abort forces the worker into Aborted. Work already committed stays.
func (w *Worker) Abort(reason string) {
	if w.state.Terminal() {
		return
	}
	w.abortReason = reason
	w.log.Printf("run %s: aborted in %s: %s", w.short(), w.state, reason)
	w.transition(StateAborted)
}

func (w *Worker) capped(reason string) {
	w.stats.Capped = true
	w.stats.CapReason = reason
	w.log.Printf("run %s: %v (%s) in %s", w.short(), ErrCapExceeded, reason, w.state)
}

func (w *Worker) transition(to State) {
	from := w.state
	if from == to {
		return
	}
	w.state = to
	w.sweep = nil
	w.sweepIdx = 0
	if to.Terminal() {
		w.finishedAt = w.clock.Now()
	}
	if w.emit != nil {
		w.emit(Event{
			Kind:   EventPhase,
			RunID:  w.id,
			Day:    w.day,
			Reason: w.reason,
			From:   statePtr(from),
			To:     statePtr(to),
			Detail: w.abortReason,
		})
	}
}

// itemFailed handles a collaborator error on one item. Fatal errors abort
// the run and return true; anything else is counted and skipped.
func (w *Worker) itemFailed(what string, err error) bool {
	if isFatal(err) {
		w.Abort(fmt.Sprintf("%s: %v", what, err))
		return true
	}
	w.stats.ItemFailures++
	w.log.Printf("run %s: %s: %v (skipped)", w.short(), what, err)
	return false
}

func (w *Worker) result() RunResult {
	started := w.startedAt
	if started.IsZero() {
		started = w.scheduledAt
	}
	return RunResult{
		RunID:       w.id,
		Day:         w.day,
		Reason:      w.reason,
		State:       w.state,
		AbortReason: w.abortReason,
		StartedAt:   started,
		FinishedAt:  w.finishedAt,
		Elapsed:     w.finishedAt.Sub(started),
		Ticks:       w.ticks,
		Stats:       w.stats,
	}
}

func (w *Worker) short() string {
	if len(w.id) > 8 {
		return w.id[:8]
	}
	return w.id
}

func orDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return log.New(io.Discard, "", 0)
	}
	return l
}
