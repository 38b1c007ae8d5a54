package nightshift

import "time"

type EventKind string

const (
	EventDayPrimed  EventKind = "DAY_PRIMED"
	EventDayChanged EventKind = "DAY_CHANGED"
	EventDayReset   EventKind = "DAY_RESET"
	EventUnstable   EventKind = "UNSTABLE"
	EventStable     EventKind = "STABLE"
	EventScheduled  EventKind = "SCHEDULED"
	EventRejected   EventKind = "REJECTED"
	EventDeferred   EventKind = "DEFERRED"
	EventPhase      EventKind = "PHASE"
	EventFinished   EventKind = "FINISHED"
	EventHeartbeat  EventKind = "HEARTBEAT"
)

// Event is the journal record for everything the runtime decides.
type Event struct {
	Time   time.Time `json:"time"`
	Kind   EventKind `json:"kind"`
	RunID  string    `json:"run_id,omitempty"`
	Day    int       `json:"day"`
	Reason string    `json:"reason,omitempty"`
	From   *State    `json:"from,omitempty"`
	To     *State    `json:"to,omitempty"`
	Detail string    `json:"detail,omitempty"`
	// Code is the rejection code on REJECTED and DEFERRED events.
	Code   string     `json:"code,omitempty"`
	Result *RunResult `json:"result,omitempty"`
}

type EventSink interface {
	OnEvent(e Event)
}

type EventSinkFunc func(e Event)

func (f EventSinkFunc) OnEvent(e Event) { f(e) }

// MultiSink fans events out in order. Nil entries are skipped.
type MultiSink []EventSink

func (m MultiSink) OnEvent(e Event) {
	for _, s := range m {
		if s != nil {
			s.OnEvent(e)
		}
	}
}

type nopSink struct{}

func (nopSink) OnEvent(Event) {}

func statePtr(s State) *State { return &s }
