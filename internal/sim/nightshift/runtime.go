package nightshift

import (
	"fmt"
	"log"
	"math/rand"
	"time"
)

// Request is a schedule request held back until it can be admitted.
type Request struct {
	Day    int    `json:"day"`
	Reason string `json:"reason"`
}

// Options carries the runtime's optional dependencies.
type Options struct {
	Clock  Clock
	Logger *log.Logger
	Sink   EventSink
	Rand   *rand.Rand
}

// Runtime is the scheduler context: it owns the gate, the day detector and
// the scheduler, and is driven by calling Update once per host tick.
type Runtime struct {
	cfg   Config
	env   Environment
	clock Clock
	log   *log.Logger
	sink  EventSink

	gate     *Gate
	detector *DayDetector
	sched    *Scheduler

	pending       *Request
	wasStable     bool
	nextPoll      time.Time
	nextHeartbeat time.Time
	updates       uint64
}

func NewRuntime(cfg Config, env Environment, opts Options) *Runtime {
	cfg = cfg.withDefaults()
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	r := &Runtime{
		cfg:   cfg,
		env:   env,
		clock: opts.Clock,
		log:   orDiscard(opts.Logger),
		sink:  opts.Sink,
	}
	r.gate = NewGate(r.clock, cfg.SettleWindow, r.log)
	r.detector = NewDayDetector(r.log, r.onDayChanged)
	r.sched = NewScheduler(cfg, env, r.gate.IsStable, r.clock, opts.Rand, r.log, r.sink)
	r.gate.OnUnstable(r.onUnstable)
	now := r.clock.Now()
	r.nextHeartbeat = now.Add(cfg.HeartbeatEvery)
	return r
}

// Update runs one cooperative slice: observe the environment, retry any
// deferred request, tick the worker, and poll the day counter.
func (r *Runtime) Update() {
	r.updates++
	id, err := r.env.Identity()
	r.gate.Observe(id, err)

	stable := r.gate.IsStable()
	if stable != r.wasStable {
		r.wasStable = stable
		if stable {
			r.log.Printf("gate: stable handle=%d loaded=%d", id.Handle, id.Loaded)
			r.emit(Event{Kind: EventStable, Detail: fmt.Sprintf("handle=%d loaded=%d", id.Handle, id.Loaded)})
		}
	}

	now := r.clock.Now()
	if !now.Before(r.nextHeartbeat) {
		r.nextHeartbeat = now.Add(r.cfg.HeartbeatEvery)
		r.heartbeat(stable)
	}

	r.sched.Tick()

	if stable && !now.Before(r.nextPoll) {
		r.nextPoll = now.Add(r.cfg.DayPollInterval)
		r.retryPending()
		day, err := r.env.CurrentDay()
		wasPrimed := r.detector.Primed()
		r.detector.Poll(day, err)
		if !wasPrimed && r.detector.Primed() {
			r.emit(Event{Kind: EventDayPrimed, Day: day})
		}
	}
}

func (r *Runtime) retryPending() {
	if r.pending == nil || r.sched.Active() != nil || r.sched.Busy() {
		return
	}
	p := *r.pending
	r.pending = nil
	r.log.Printf("sched: retrying deferred day=%d reason=%s", p.Day, p.Reason)
	r.schedule(p.Day, p.Reason)
}

func (r *Runtime) onDayChanged(day int, reason string) {
	r.emit(Event{Kind: EventDayChanged, Day: day, Reason: reason})
	r.schedule(day, reason)
}

func (r *Runtime) schedule(day int, reason string) {
	err := r.sched.RequestSchedule(day, reason)
	if err == nil || !deferrable(err) {
		return
	}
	r.deferRequest(day, reason, err)
}

// deferRequest keeps the newest blocked request; an older day never replaces
// a newer one.
func (r *Runtime) deferRequest(day int, reason string, cause error) {
	if r.pending != nil && r.pending.Day > day {
		return
	}
	r.pending = &Request{Day: day, Reason: reason}
	r.log.Printf("sched: deferred day=%d reason=%s: %v", day, reason, cause)
	r.emit(Event{Kind: EventDeferred, Day: day, Reason: reason, Detail: cause.Error(), Code: RejectionCode(cause)})
}

func (r *Runtime) onUnstable(reason string) {
	r.wasStable = false
	r.sched.AbortActive(reason)
	r.emit(Event{Kind: EventUnstable, Detail: reason})
	if r.detector.Primed() {
		day := r.detector.LastDay()
		r.detector.Reset(reason)
		r.emit(Event{Kind: EventDayReset, Day: day, Detail: reason})
	}
}

// RequestManualRun schedules an immediate run for the current day. Manual
// runs are never deferred.
func (r *Runtime) RequestManualRun() error {
	day, err := r.env.CurrentDay()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInGameplay, err)
	}
	return r.sched.RequestSchedule(day, ReasonManual)
}

// NotifyDayEnding schedules the day about to start. When the request cannot
// be admitted yet it is kept and retried once the environment settles.
func (r *Runtime) NotifyDayEnding() error {
	day, err := r.env.CurrentDay()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInGameplay, err)
	}
	target := day + 1
	err = r.sched.RequestSchedule(target, ReasonDayEndHook)
	if err != nil && deferrable(err) {
		r.deferRequest(target, ReasonDayEndHook, err)
	}
	return err
}

// Restore seeds the last processed day, e.g. from a resumed snapshot.
func (r *Runtime) Restore(lastProcessedDay int) {
	r.sched.lastProcessedDay = lastProcessedDay
}

func (r *Runtime) heartbeat(stable bool) {
	state := "Idle"
	if w := r.sched.Active(); w != nil {
		state = w.state.String()
	}
	r.log.Printf("heartbeat: stable=%v busy=%v worker=%s lastDay=%d detectorDay=%d",
		stable, r.sched.Busy(), state, r.sched.LastProcessedDay(), r.detector.LastDay())
	r.emit(Event{Kind: EventHeartbeat, Day: r.detector.LastDay(), Detail: "worker=" + state})
}

func (r *Runtime) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = r.clock.Now()
	}
	r.sink.OnEvent(e)
}

func (r *Runtime) Gate() *Gate            { return r.gate }
func (r *Runtime) Detector() *DayDetector { return r.detector }
func (r *Runtime) Scheduler() *Scheduler  { return r.sched }
func (r *Runtime) Pending() *Request      { return r.pending }

// Status is a point-in-time view for admin endpoints.
type Status struct {
	Stable           bool       `json:"stable"`
	StableAt         time.Time  `json:"stable_at"`
	Identity         Identity   `json:"identity"`
	Busy             bool       `json:"busy"`
	LastProcessedDay int        `json:"last_processed_day"`
	DetectorPrimed   bool       `json:"detector_primed"`
	DetectorDay      int        `json:"detector_day"`
	Worker           *RunStatus `json:"worker,omitempty"`
	Pending          *Request   `json:"pending,omitempty"`
	LastResult       *RunResult `json:"last_result,omitempty"`
	Updates          uint64     `json:"updates"`
}

type RunStatus struct {
	RunID  string    `json:"run_id"`
	Day    int       `json:"day"`
	Reason string    `json:"reason"`
	State  State     `json:"state"`
	RunAt  time.Time `json:"run_at"`
	Stats  Stats     `json:"stats"`
}

func (r *Runtime) Status() Status {
	st := Status{
		Stable:           r.gate.IsStable(),
		StableAt:         r.gate.StableAt(),
		Identity:         r.gate.Identity(),
		Busy:             r.sched.Busy(),
		LastProcessedDay: r.sched.LastProcessedDay(),
		DetectorPrimed:   r.detector.Primed(),
		DetectorDay:      r.detector.LastDay(),
		LastResult:       r.sched.LastResult(),
		Updates:          r.updates,
	}
	if w := r.sched.Active(); w != nil {
		st.Worker = &RunStatus{RunID: w.id, Day: w.day, Reason: w.reason, State: w.state, RunAt: w.runAt, Stats: w.stats}
	}
	if r.pending != nil {
		p := *r.pending
		st.Pending = &p
	}
	return st
}
