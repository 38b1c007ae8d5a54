package store

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nightshift.ai/internal/sim/catalogs"
	"nightshift.ai/internal/sim/nightshift"
)

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cat, err := catalogs.Load("../../../configs")
	require.NoError(t, err)
	return cat
}

func findDisplay(s *Store, id string) *Display {
	for _, d := range s.displays {
		if d.id == id {
			return d
		}
	}
	return nil
}

func TestNewStoreStartsFull(t *testing.T) {
	cat := loadCatalogs(t)
	s := New(cat)

	tot := s.Totals()
	require.Equal(t, 1, tot.Day)
	require.True(t, tot.Online)
	require.Equal(t, tot.ShelfTarget, tot.ShelfLogical)
	require.Equal(t, tot.ShelfLogical, tot.ShelfActive)
	require.Zero(t, tot.ShelfStale)
	require.Equal(t, 10, tot.Boxes)

	ids, err := s.ProductIDs()
	require.NoError(t, err)
	require.Equal(t, []nightshift.ProductID{1, 2, 3, 4, 5, 6, 7}, ids)

	byProduct, err := s.RackSlotsByProduct()
	require.NoError(t, err)
	require.Len(t, byProduct[1], 2)
	require.Len(t, byProduct[5], 2)
}

func TestDeliverRoundRobin(t *testing.T) {
	s := New(loadCatalogs(t))
	require.Equal(t, 2, s.AdvanceDay())

	byProduct, err := s.RackSlotsByProduct()
	require.NoError(t, err)
	for _, rs := range byProduct[1] {
		boxes, err := rs.Boxes()
		require.NoError(t, err)
		require.Len(t, boxes, 2, "rack %s", rs.Rack().ID())
	}
	// The single pasta box goes to the first slot in layout order.
	first, err := byProduct[5][0].Boxes()
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "rack-b", byProduct[5][0].Rack().ID())
}

func TestSimulateSalesKeepsCountsCoherent(t *testing.T) {
	s := New(loadCatalogs(t))
	sold := s.SimulateSales(rand.New(rand.NewSource(3)), 30)
	require.Positive(t, sold)

	tot := s.Totals()
	require.Equal(t, tot.ShelfTarget-sold, tot.ShelfLogical)
	require.Equal(t, tot.ShelfLogical, tot.ShelfActive)
}

func TestSpawnReplacesHiddenInstances(t *testing.T) {
	s := New(loadCatalogs(t))
	d := findDisplay(s, "dairy-1")
	d.instances[0].active = false

	require.NoError(t, d.SpawnInstances(1, 1))
	require.False(t, d.instances[0].exists)
	removed, err := d.CompactVisible()
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Len(t, d.instances, 8)

	require.Error(t, d.SpawnInstances(2, 1))
}

func TestOfflineStoreRefusesCollaborators(t *testing.T) {
	s := New(loadCatalogs(t))
	before, err := s.Identity()
	require.NoError(t, err)

	s.BeginReload()
	_, err = s.Collaborators()
	require.ErrorIs(t, err, nightshift.ErrMissingCollaborator)
	_, err = s.CurrentDay()
	require.ErrorIs(t, err, nightshift.ErrMissingCollaborator)
	mid, err := s.Identity()
	require.NoError(t, err)
	require.NotEqual(t, before, mid)

	s.FinishReload()
	after, err := s.Identity()
	require.NoError(t, err)
	require.Equal(t, before.Handle+1, after.Handle)

	tot := s.Totals()
	require.Equal(t, tot.ShelfTarget, tot.ShelfStale)
	require.Equal(t, tot.ShelfLogical, tot.ShelfActive)
}

func TestBoxReleaseTwiceFails(t *testing.T) {
	s := New(loadCatalogs(t))
	b := s.newBox(1, 4)
	require.Error(t, b.ConsumeUnits(5))
	require.NoError(t, b.ConsumeUnits(4))
	require.NoError(t, b.Release())
	require.Error(t, b.Release())

	s.Faults.ConsumeErr = errors.New("jammed")
	require.ErrorContains(t, s.newBox(1, 4).ConsumeUnits(1), "jammed")
}

func TestSnapshotRoundTripDropsStaleEntries(t *testing.T) {
	cat := loadCatalogs(t)
	s := New(cat)
	s.AdvanceDay()
	s.SimulateSales(rand.New(rand.NewSource(5)), 20)
	s.Hide(rand.New(rand.NewSource(6)), 3)

	snap := s.ExportSnapshot(cat)
	restored, err := FromSnapshot(cat, snap)
	require.NoError(t, err)

	again := restored.ExportSnapshot(cat)
	again.NextID = snap.NextID
	require.Equal(t, snap, again)
	require.Equal(t, s.Totals().BackroomUnits, restored.Totals().BackroomUnits)
	require.Equal(t, s.Totals().ShelfHidden, restored.Totals().ShelfHidden)

	bad := snap
	bad.LayoutDigest = "deadbeef"
	_, err = FromSnapshot(cat, bad)
	require.ErrorContains(t, err, "layout digest mismatch")
}

type storeRun struct {
	s      *Store
	clock  *nightshift.ManualClock
	r      *nightshift.Runtime
	events []nightshift.Event
}

func newStoreRun(t *testing.T) *storeRun {
	t.Helper()
	sr := &storeRun{
		s:     New(loadCatalogs(t)),
		clock: nightshift.NewManualClock(time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)),
	}
	sr.r = nightshift.NewRuntime(nightshift.DefaultConfig(), sr.s, nightshift.Options{
		Clock: sr.clock,
		Sink:  nightshift.EventSinkFunc(func(e nightshift.Event) { sr.events = append(sr.events, e) }),
		Rand:  rand.New(rand.NewSource(42)),
	})
	return sr
}

func (sr *storeRun) run(d time.Duration) {
	const frame = 50 * time.Millisecond
	for elapsed := time.Duration(0); elapsed < d; elapsed += frame {
		sr.r.Update()
		sr.clock.Advance(frame)
	}
}

func (sr *storeRun) count(kind nightshift.EventKind) int {
	n := 0
	for _, e := range sr.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestOvernightRestockRefillsShelves(t *testing.T) {
	sr := newStoreRun(t)
	sr.run(4 * time.Second)
	require.True(t, sr.r.Detector().Primed())

	sr.s.SimulateSales(rand.New(rand.NewSource(8)), 60)
	overstock := sr.s.racks[3]
	require.Equal(t, "overstock", overstock.id)
	before := overstock.slots[0].boxes[0].units

	sr.s.AdvanceDay()
	sr.run(20 * time.Second)

	require.Equal(t, 1, sr.count(nightshift.EventScheduled))
	res := sr.r.Scheduler().LastResult()
	require.NotNil(t, res)
	require.Equal(t, nightshift.StateDone, res.State)
	require.Equal(t, 2, res.Day)
	require.Positive(t, res.Stats.Transfers)
	require.Equal(t, 2, res.Stats.RackSlotsSkipped)
	require.Equal(t, 8, res.Stats.RackSlotsIndexed)

	tot := sr.s.Totals()
	require.Equal(t, tot.ShelfTarget, tot.ShelfLogical)
	require.Equal(t, tot.ShelfLogical, tot.ShelfActive)
	require.Zero(t, tot.ShelfStale)
	require.Zero(t, tot.EmptyBoxes)
	require.Equal(t, before, overstock.slots[0].boxes[0].units)

	// Same day again is a no-op.
	sr.run(10 * time.Second)
	require.Equal(t, 1, sr.count(nightshift.EventScheduled))
}

func TestReloadAbortsRunAndManualRunPurgesStale(t *testing.T) {
	sr := newStoreRun(t)
	sr.run(4 * time.Second)
	sr.s.SimulateSales(rand.New(rand.NewSource(9)), 5)
	sr.s.AdvanceDay()
	sr.run(time.Second)
	require.NotNil(t, sr.r.Scheduler().Active())

	sr.s.BeginReload()
	sr.run(time.Second)
	require.Nil(t, sr.r.Scheduler().Active())
	require.Equal(t, nightshift.StateAborted, sr.r.Scheduler().LastResult().State)
	require.False(t, sr.r.Gate().IsStable())

	sr.s.FinishReload()
	sr.run(5 * time.Second)
	require.True(t, sr.r.Gate().IsStable())
	require.Equal(t, 2, sr.r.Detector().LastDay())
	require.Equal(t, 1, sr.count(nightshift.EventScheduled))
	require.Positive(t, sr.s.Totals().ShelfStale)

	require.NoError(t, sr.r.RequestManualRun())
	sr.run(10 * time.Second)
	res := sr.r.Scheduler().LastResult()
	require.Equal(t, nightshift.StateDone, res.State)
	require.Equal(t, nightshift.ReasonManual, res.Reason)
	require.Positive(t, res.Stats.StalePurged)
	require.Zero(t, sr.s.Totals().ShelfStale)
}

func TestManualRunAfterReloadRefillsFromBackroom(t *testing.T) {
	sr := newStoreRun(t)
	sr.run(4 * time.Second)
	sold := sr.s.SimulateSales(rand.New(rand.NewSource(11)), 6)
	require.Positive(t, sold)

	sr.s.BeginReload()
	sr.run(time.Second)
	sr.s.FinishReload()
	sr.run(5 * time.Second)
	require.True(t, sr.r.Gate().IsStable())

	before := sr.s.Totals()
	require.Equal(t, before.ShelfTarget-sold, before.ShelfLogical)
	require.Positive(t, before.ShelfStale)

	require.NoError(t, sr.r.RequestManualRun())
	sr.run(10 * time.Second)
	res := sr.r.Scheduler().LastResult()
	require.Equal(t, nightshift.StateDone, res.State)
	require.Equal(t, sold, res.Stats.MovedUnits)

	after := sr.s.Totals()
	require.Equal(t, after.ShelfTarget, after.ShelfLogical)
	require.Equal(t, after.ShelfLogical, after.ShelfActive)
	require.Zero(t, after.ShelfStale)
	require.Equal(t, before.BackroomUnits-sold, after.BackroomUnits)
}
