package nightshift

import "fmt"

// stepCleanup sweeps one rack slot per call, removing boxes that hold no
// units. Over MaxRacksToClean racks the sweep is skipped.
func (w *Worker) stepCleanup() {
	if w.racks == nil {
		racks, err := w.c.Racks.Racks()
		if err != nil {
			w.Abort(fmt.Sprintf("rack list: %v", err))
			return
		}
		if len(racks) > w.cfg.MaxRacksToClean {
			w.stats.CleanupSkipped = true
			w.log.Printf("run %s: cleanup skipped, %d racks over limit %d",
				w.short(), len(racks), w.cfg.MaxRacksToClean)
			w.finish()
			return
		}
		if racks == nil {
			racks = []Rack{}
		}
		w.racks = racks
		w.rackIdx = 0
		w.rackSlotsC = nil
		return
	}

	if w.rackSlotsC == nil || w.rackSlotIx >= len(w.rackSlotsC) {
		if w.rackSlotsC != nil {
			w.rackIdx++
		}
		w.rackSlotsC = nil
		if w.rackIdx >= len(w.racks) {
			w.finish()
			return
		}
		r := w.racks[w.rackIdx]
		w.stats.RacksScanned++
		var slots []RackSlot
		if r != nil {
			s, err := r.Slots()
			if err != nil {
				if w.itemFailed(fmt.Sprintf("rack %s slots", r.ID()), err) {
					return
				}
			}
			slots = s
		}
		if slots == nil {
			slots = []RackSlot{}
		}
		w.rackSlotsC = slots
		w.rackSlotIx = 0
		return
	}

	rs := w.rackSlotsC[w.rackSlotIx]
	w.rackSlotIx++
	if rs == nil {
		return
	}
	if err := w.cleanSlot(rs); err != nil {
		w.itemFailed("cleanup rack slot", err)
	}
}

func (w *Worker) cleanSlot(rs RackSlot) error {
	boxes, err := rs.Boxes()
	if err != nil {
		return err
	}
	removed := 0
	for i := len(boxes) - 1; i >= 0; i-- {
		b := boxes[i]
		if b == nil || b.RemainingUnits() > 0 {
			continue
		}
		if err := rs.RemoveBox(b); err != nil {
			return fmt.Errorf("remove box %s: %w", b.ID(), err)
		}
		if err := w.c.Inventory.RemoveBox(b); err != nil {
			return fmt.Errorf("unregister box %s: %w", b.ID(), err)
		}
		if err := b.Release(); err != nil {
			return fmt.Errorf("release box %s: %w", b.ID(), err)
		}
		removed++
		w.stats.EmptyBoxesRemoved++
	}
	if removed == 0 {
		return nil
	}
	return rs.RefreshLabel()
}

func (w *Worker) finish() {
	s := w.stats
	w.log.Printf("run %s: done day=%d moved boxes=%d units=%d transfers=%d loops=%d reconciled=%d repaired=%d rebuilt=%d emptied=%d capped=%v",
		w.short(), w.day, s.MovedBoxes, s.MovedUnits, s.Transfers, s.OuterLoops,
		s.ReconcileAdjusted, s.RepairAdjusted, s.RebuildSlots, s.EmptyBoxesRemoved, s.Capped)
	w.transition(StateDone)
}
