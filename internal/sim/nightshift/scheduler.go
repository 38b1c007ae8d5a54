package nightshift

import (
	"fmt"
	"log"
	"math/rand"

	"github.com/google/uuid"
)

// Scheduler admits at most one run at a time and at most one completed run
// per day. It owns the busy flag, the last processed day and the worker.
type Scheduler struct {
	cfg    Config
	env    Environment
	stable func() bool
	clock  Clock
	rng    *rand.Rand
	log    *log.Logger
	sink   EventSink

	busy             bool
	lastProcessedDay int
	worker           *Worker
	last             *RunResult
	newID            func() string
}

func NewScheduler(cfg Config, env Environment, stable func() bool, clock Clock, rng *rand.Rand, logger *log.Logger, sink EventSink) *Scheduler {
	if sink == nil {
		sink = nopSink{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(clock.Now().UnixNano()))
	}
	return &Scheduler{
		cfg:              cfg.withDefaults(),
		env:              env,
		stable:           stable,
		clock:            clock,
		rng:              rng,
		log:              orDiscard(logger),
		sink:             sink,
		lastProcessedDay: NoDay,
		newID:            uuid.NewString,
	}
}

// RequestSchedule installs a new worker for day or returns the reason it
// was refused.
func (s *Scheduler) RequestSchedule(day int, reason string) error {
	err := s.admit(day, reason)
	if err != nil {
		s.log.Printf("sched: rejected day=%d reason=%s: %v", day, reason, err)
		s.publish(Event{Kind: EventRejected, Day: day, Reason: reason, Detail: err.Error(), Code: RejectionCode(err)})
		return err
	}
	w := newWorker(s.newID(), day, reason, s.cfg, workerDeps{
		env:    s.env,
		stable: s.stable,
		clock:  s.clock,
		rng:    s.rng,
		log:    s.log,
		emit:   s.publish,
	})
	s.worker = w
	s.log.Printf("sched: scheduled run %s day=%d reason=%s in %s", w.short(), day, reason, w.policy.Delay)
	s.publish(Event{Kind: EventScheduled, RunID: w.id, Day: day, Reason: reason,
		Detail: fmt.Sprintf("run_at=%s", w.runAt.UTC().Format("15:04:05.000"))})
	return nil
}

func (s *Scheduler) admit(day int, reason string) error {
	if !s.stable() {
		return ErrEnvironmentUnstable
	}
	c, err := s.env.Collaborators()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInGameplay, err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotInGameplay, err)
	}
	if s.busy {
		return ErrBusy
	}
	if day == s.lastProcessedDay && !s.cfg.policy(reason).AllowRepeatDay {
		return ErrAlreadyProcessed
	}
	if s.worker != nil && !s.worker.state.Terminal() {
		return ErrWorkerActive
	}
	return nil
}

// Tick advances the active worker and settles it once it finishes.
func (s *Scheduler) Tick() {
	w := s.worker
	if w == nil || w.state.Terminal() {
		return
	}
	w.Tick()
	if w.state.Terminal() {
		s.settle(w)
		return
	}
	if w.state != StateWaitingDelay {
		s.busy = true
	}
}

// AbortActive forces the active worker into Aborted and clears busy. It is a
// no-op when nothing is running.
func (s *Scheduler) AbortActive(reason string) {
	w := s.worker
	if w == nil || w.state.Terminal() {
		s.busy = false
		return
	}
	w.Abort(reason)
	s.settle(w)
}

func (s *Scheduler) settle(w *Worker) {
	s.busy = false
	if w.state == StateDone {
		s.lastProcessedDay = w.day
	}
	res := w.result()
	s.last = &res
	s.publish(Event{Kind: EventFinished, RunID: w.id, Day: w.day, Reason: w.reason,
		Detail: w.abortReason, Result: &res})
}

func (s *Scheduler) publish(e Event) {
	if e.Time.IsZero() {
		e.Time = s.clock.Now()
	}
	s.sink.OnEvent(e)
}

func (s *Scheduler) Busy() bool             { return s.busy }
func (s *Scheduler) LastProcessedDay() int  { return s.lastProcessedDay }
func (s *Scheduler) LastResult() *RunResult { return s.last }

// Active returns the non-terminal worker, if any.
func (s *Scheduler) Active() *Worker {
	if s.worker == nil || s.worker.state.Terminal() {
		return nil
	}
	return s.worker
}
