package nightshift

import "fmt"

// loadSweep fills the display-slot list shared by the repair phases. It
// reports false when the list was just loaded or the run aborted.
func (w *Worker) loadSweep() bool {
	if w.sweep != nil {
		return true
	}
	slots, err := w.c.Displays.AllDisplaySlots()
	if err != nil {
		w.Abort(fmt.Sprintf("display index: %v", err))
		return false
	}
	if slots == nil {
		slots = []DisplaySlot{}
	}
	w.sweep = slots
	w.sweepIdx = 0
	return false
}

func (w *Worker) nextSweepSlot() (DisplaySlot, bool) {
	for w.sweepIdx < len(w.sweep) {
		s := w.sweep[w.sweepIdx]
		w.sweepIdx++
		if s != nil {
			return s, true
		}
	}
	return nil, false
}

// stepReconcile purges stale entries from one slot and makes its logical
// count match what is really on the shelf.
func (w *Worker) stepReconcile() {
	if !w.loadSweep() {
		return
	}
	slot, ok := w.nextSweepSlot()
	if !ok {
		w.log.Printf("run %s: reconcile scanned=%d adjusted=%d purged=%d",
			w.short(), w.stats.ReconcileScanned, w.stats.ReconcileAdjusted, w.stats.StalePurged)
		w.transition(StateVisualRepair)
		return
	}
	w.stats.ReconcileScanned++
	if err := w.reconcileSlot(slot); err != nil {
		w.itemFailed(fmt.Sprintf("reconcile slot %s", slot.ID()), err)
	}
}

func (w *Worker) reconcileSlot(slot DisplaySlot) error {
	purged, err := slot.CompactVisible()
	if err != nil {
		return err
	}
	w.stats.StalePurged += purged
	visible, err := slot.VisibleInstances()
	if err != nil {
		return err
	}
	logical, err := slot.LogicalCount()
	if err != nil {
		return err
	}
	if logical == len(visible) && purged == 0 {
		return nil
	}
	if err := slot.SetLogicalCount(len(visible)); err != nil {
		return err
	}
	w.stats.ReconcileAdjusted++
	return slot.RefreshLabelAndPrice()
}

// stepVisualRepair respawns instances for a slot whose logical count is
// above the number of active instances.
func (w *Worker) stepVisualRepair() {
	if !w.loadSweep() {
		return
	}
	slot, ok := w.nextSweepSlot()
	if !ok {
		w.log.Printf("run %s: visual repair adjusted=%d respawned=%d",
			w.short(), w.stats.RepairAdjusted, w.stats.RepairRespawned)
		if w.policy.SkipVisualRebuild {
			w.stats.RebuildSkipped = true
			w.log.Printf("run %s: visual rebuild skipped for reason %s", w.short(), w.reason)
			w.transition(StateCleanup)
			return
		}
		w.transition(StateVisualRebuild)
		return
	}
	if err := w.repairSlot(slot); err != nil {
		w.itemFailed(fmt.Sprintf("visual repair slot %s", slot.ID()), err)
	}
}

func (w *Worker) repairSlot(slot DisplaySlot) error {
	logical, err := slot.LogicalCount()
	if err != nil || logical <= 0 {
		return err
	}
	visible, err := slot.VisibleInstances()
	if err != nil {
		return err
	}
	active := 0
	for _, in := range visible {
		if in != nil && in.Active() {
			active++
		}
	}
	if active >= logical {
		return nil
	}
	missing := logical - active
	if err := slot.SetLogicalCount(active); err != nil {
		return err
	}
	if err := slot.SpawnInstances(slot.ProductID(), missing); err != nil {
		// Put the count back so the shelf does not lose stock on paper.
		_ = slot.SetLogicalCount(logical)
		return err
	}
	if err := slot.SetLogicalCount(logical); err != nil {
		return err
	}
	w.stats.RepairAdjusted++
	w.stats.RepairRespawned += missing
	return slot.RefreshLabelAndPrice()
}

// stepVisualRebuild clears one slot and respawns it from scratch.
func (w *Worker) stepVisualRebuild() {
	if !w.loadSweep() {
		return
	}
	slot, ok := w.nextSweepSlot()
	if !ok {
		w.log.Printf("run %s: visual rebuild slots=%d respawned=%d",
			w.short(), w.stats.RebuildSlots, w.stats.RebuildRespawned)
		w.transition(StateCleanup)
		return
	}
	if err := w.rebuildSlot(slot); err != nil {
		w.itemFailed(fmt.Sprintf("visual rebuild slot %s", slot.ID()), err)
	}
}

func (w *Worker) rebuildSlot(slot DisplaySlot) error {
	logical, err := slot.LogicalCount()
	if err != nil || logical <= 0 {
		return err
	}
	pid := slot.ProductID()
	desired := logical
	if target, err := w.c.Catalog.TargetDisplayCount(pid); err == nil && target > 0 {
		desired = target
	}
	if err := slot.Clear(); err != nil {
		return err
	}
	if err := slot.SetLogicalCount(0); err != nil {
		return err
	}
	if err := slot.SpawnInstances(pid, desired); err != nil {
		return err
	}
	got, err := compactedCount(slot)
	if err != nil {
		return err
	}
	if got < desired {
		// One retry for the shortfall.
		if err := slot.SetLogicalCount(got); err != nil {
			return err
		}
		if err := slot.SpawnInstances(pid, desired-got); err != nil {
			return err
		}
		if got, err = compactedCount(slot); err != nil {
			return err
		}
	}
	if err := slot.SetLogicalCount(got); err != nil {
		return err
	}
	w.stats.RebuildSlots++
	w.stats.RebuildRespawned += got
	return slot.RefreshLabelAndPrice()
}

func compactedCount(slot DisplaySlot) (int, error) {
	if _, err := slot.CompactVisible(); err != nil {
		return 0, err
	}
	v, err := slot.VisibleInstances()
	return len(v), err
}
