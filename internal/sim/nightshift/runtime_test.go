package nightshift

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type runtimeFixture struct {
	st     *fakeStore
	clock  *ManualClock
	events []Event
	r      *Runtime
}

func newRuntimeFixture(mut func(*Config)) *runtimeFixture {
	f := &runtimeFixture{st: newFakeStore(), clock: NewManualClock(testEpoch)}
	f.st.day = 3
	cfg := DefaultConfig()
	if mut != nil {
		mut(&cfg)
	}
	f.r = NewRuntime(cfg, f.st, Options{
		Clock: f.clock,
		Sink:  EventSinkFunc(func(e Event) { f.events = append(f.events, e) }),
		Rand:  rand.New(rand.NewSource(11)),
	})
	return f
}

// run drives Update at 60Hz for d of simulated time.
func (f *runtimeFixture) run(d time.Duration) {
	const frame = 16 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < d; elapsed += frame {
		f.r.Update()
		f.clock.Advance(frame)
	}
}

func (f *runtimeFixture) count(kind EventKind) int {
	n := 0
	for _, e := range f.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (f *runtimeFixture) last(kind EventKind) *Event {
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].Kind == kind {
			return &f.events[i]
		}
	}
	return nil
}

func TestRuntimeDayTransitionRestocksOnce(t *testing.T) {
	f := newRuntimeFixture(nil)
	f.st.targets[1] = 5
	f.st.addSlot(f.st.addRack(1), 1, 3, 4)
	shelf := f.st.addDisplay(1).fill(2)

	f.run(4 * time.Second)
	require.True(t, f.r.Gate().IsStable())
	require.True(t, f.r.Detector().Primed())
	require.Equal(t, 3, f.r.Detector().LastDay())
	require.Zero(t, f.count(EventScheduled))

	f.st.day = 4
	f.run(time.Second)
	require.Equal(t, 1, f.count(EventScheduled))
	require.NotNil(t, f.r.Scheduler().Active())

	f.run(8 * time.Second)
	require.Nil(t, f.r.Scheduler().Active())
	require.Equal(t, 4, f.r.Scheduler().LastProcessedDay())
	require.Equal(t, 5, shelf.liveCount())
	require.Equal(t, 5, shelf.logical)

	res := f.last(EventFinished).Result
	require.Equal(t, StateDone, res.State)
	require.Equal(t, 4, res.Day)
	require.Equal(t, ReasonDayTransition, res.Reason)

	// Same day again never schedules a second run.
	f.run(10 * time.Second)
	require.Equal(t, 1, f.count(EventScheduled))
	require.Equal(t, 1, f.count(EventFinished))
}

func TestRuntimeIdentityChangeAbortsMidRestock(t *testing.T) {
	f := newRuntimeFixture(func(c *Config) { c.OpsPerTick = 1 })
	f.st.targets[1] = 40
	r := f.st.addRack(1)
	for i := 0; i < 6; i++ {
		f.st.addSlot(r, 1, 1, 1, 1, 1, 1, 1, 1, 1)
		f.st.addDisplay(1)
	}

	f.run(4 * time.Second)
	f.st.day = 4
	f.run(7 * time.Second)
	w := f.r.Scheduler().Active()
	require.NotNil(t, w)
	require.Equal(t, StateRestock, w.State())
	require.True(t, f.r.Scheduler().Busy())

	f.st.ident = Identity{Handle: 2, Loaded: 1}
	f.r.Update()

	require.Equal(t, StateAborted, w.State())
	require.False(t, f.r.Scheduler().Busy())
	require.False(t, f.r.Detector().Primed())
	require.False(t, f.r.Gate().IsStable())
	require.Equal(t, NoDay, f.r.Scheduler().LastProcessedDay())
	require.Contains(t, f.last(EventFinished).Result.AbortReason, "environment changed")
	require.Equal(t, 1, f.count(EventDayReset))
	require.Equal(t, 4, f.last(EventDayReset).Day)

	// After settling the detector re-primes on day 4 and does not reschedule.
	f.run(5 * time.Second)
	require.True(t, f.r.Detector().Primed())
	require.Equal(t, 1, f.count(EventScheduled))
}

func TestRuntimeDayEndHookDeferredUntilStable(t *testing.T) {
	f := newRuntimeFixture(nil)
	f.st.targets[1] = 2
	f.st.addSlot(f.st.addRack(1), 1, 5)
	f.st.addDisplay(1)

	f.r.Update()
	err := f.r.NotifyDayEnding()
	require.ErrorIs(t, err, ErrEnvironmentUnstable)
	require.Equal(t, &Request{Day: 4, Reason: ReasonDayEndHook}, f.r.Pending())
	require.Equal(t, 1, f.count(EventDeferred))

	f.run(4 * time.Second)
	require.Nil(t, f.r.Pending())
	w := f.r.Scheduler().Active()
	require.NotNil(t, w)
	require.Equal(t, 4, w.Day())
	require.Equal(t, ReasonDayEndHook, w.Reason())

	f.run(8 * time.Second)
	require.Equal(t, 4, f.r.Scheduler().LastProcessedDay())

	// The real day flip to 4 finds the day already processed.
	f.st.day = 4
	f.run(time.Second)
	require.Equal(t, 1, f.count(EventScheduled))
	require.Equal(t, ErrAlreadyProcessed.Error(), f.last(EventRejected).Detail)
}

func TestRuntimeManualRun(t *testing.T) {
	f := newRuntimeFixture(nil)
	f.st.targets[1] = 3
	f.st.addSlot(f.st.addRack(1), 1, 5)
	shelf := f.st.addDisplay(1)

	require.ErrorIs(t, f.r.RequestManualRun(), ErrEnvironmentUnstable)
	f.run(4 * time.Second)

	require.NoError(t, f.r.RequestManualRun())
	f.run(time.Second)
	require.Nil(t, f.r.Scheduler().Active())
	require.Equal(t, 3, shelf.liveCount())
	res := f.last(EventFinished).Result
	require.Equal(t, ReasonManual, res.Reason)
	require.True(t, res.Stats.RebuildSkipped)

	require.NoError(t, f.r.RequestManualRun())
}

func TestRuntimeHeartbeatAndStatus(t *testing.T) {
	f := newRuntimeFixture(nil)
	f.run(21 * time.Second)
	require.Equal(t, 2, f.count(EventHeartbeat))
	require.Equal(t, 1, f.count(EventStable))
	require.Equal(t, 1, f.count(EventDayPrimed))

	st := f.r.Status()
	require.True(t, st.Stable)
	require.True(t, st.DetectorPrimed)
	require.Equal(t, 3, st.DetectorDay)
	require.Nil(t, st.Worker)
	require.Equal(t, Identity{Handle: 1, Loaded: 1}, st.Identity)
}

func TestRuntimeBlockedTransitionIsRetried(t *testing.T) {
	f := newRuntimeFixture(onePerTick)
	f.st.targets[1] = 3
	r := f.st.addRack(1)
	for i := 0; i < 10; i++ {
		f.st.addSlot(r, 1, 1, 1, 1)
		f.st.addDisplay(1)
	}

	f.run(4 * time.Second)
	require.NoError(t, f.r.RequestManualRun())
	f.run(100 * time.Millisecond)
	require.True(t, f.r.Scheduler().Busy())

	// Day flips while the manual run is still working.
	f.st.day = 4
	f.run(600 * time.Millisecond)
	require.Equal(t, &Request{Day: 4, Reason: ReasonDayTransition}, f.r.Pending())

	f.run(30 * time.Second)
	require.Nil(t, f.r.Pending())
	require.Equal(t, 4, f.r.Scheduler().LastProcessedDay())
	require.Equal(t, 2, f.count(EventFinished))
}
