package nightshift

import (
	"errors"
	"fmt"
)

// stepRestock performs one unit of restock work: load a product's shelves,
// read a slot's target, or move one box's worth of units.
func (w *Worker) stepRestock() {
	if w.productIdx >= len(w.products) {
		w.endPass()
		return
	}
	pid := w.products[w.productIdx]

	if w.slots == nil {
		if len(w.rackSlots[pid]) == 0 {
			w.nextProduct()
			return
		}
		slots, err := w.c.Displays.DisplaySlots(pid)
		if err != nil {
			if !w.itemFailed(fmt.Sprintf("display slots for product %d", pid), err) {
				w.nextProduct()
			}
			return
		}
		if len(slots) == 0 {
			w.nextProduct()
			return
		}
		w.slots = slots
		w.slotIdx = 0
		w.slotTarget = -1
		return
	}
	if w.slotIdx >= len(w.slots) {
		w.nextProduct()
		return
	}
	slot := w.slots[w.slotIdx]

	if w.slotTarget < 0 {
		w.stats.DisplaySlotsScanned++
		target, err := w.c.Catalog.TargetDisplayCount(pid)
		if err != nil {
			if !w.itemFailed(fmt.Sprintf("target for product %d", pid), err) {
				w.nextSlot()
			}
			return
		}
		if target <= 0 {
			w.nextSlot()
			return
		}
		w.slotTarget = target
		w.slotTransfers = 0
		return
	}

	if w.slotTransfers >= w.cfg.MaxTransfersPerSlot {
		w.nextSlot()
		return
	}
	// Destroyed instances do not count toward the target.
	purged, err := slot.CompactVisible()
	if err != nil {
		if !w.itemFailed(fmt.Sprintf("slot %s compact", slot.ID()), err) {
			w.nextSlot()
		}
		return
	}
	w.stats.StalePurged += purged
	visible, err := slot.VisibleInstances()
	if err != nil {
		if !w.itemFailed(fmt.Sprintf("slot %s visible", slot.ID()), err) {
			w.nextSlot()
		}
		return
	}
	need := w.slotTarget - len(visible)
	if need <= 0 {
		w.nextSlot()
		return
	}
	w.slotTransfers++
	if err := w.transfer(pid, slot, need); err != nil {
		if errors.Is(err, errNoStock) {
			w.nextSlot()
			return
		}
		w.stats.TransferFailures++
		if !w.itemFailed(fmt.Sprintf("transfer to slot %s", slot.ID()), err) {
			w.nextSlot()
		}
	}
}

// transfer moves up to need units from one randomly chosen eligible box onto
// the slot. A box drained to zero leaves its rack slot and the inventory.
func (w *Worker) transfer(pid ProductID, slot DisplaySlot, need int) error {
	rs, box, err := w.pickBox(pid)
	if err != nil {
		return err
	}
	units := box.RemainingUnits()
	take := need
	if units < take {
		take = units
	}
	if err := slot.SpawnInstances(pid, take); err != nil {
		return fmt.Errorf("spawn %d: %w", take, err)
	}
	if err := box.ConsumeUnits(take); err != nil {
		return fmt.Errorf("consume box %s: %w", box.ID(), err)
	}
	w.stats.Transfers++
	w.stats.MovedUnits += take
	w.passTransfers++

	if box.RemainingUnits() <= 0 {
		if err := rs.RemoveBox(box); err != nil {
			return fmt.Errorf("remove box %s from rack slot: %w", box.ID(), err)
		}
		if err := w.c.Inventory.RemoveBox(box); err != nil {
			return fmt.Errorf("remove box %s from inventory: %w", box.ID(), err)
		}
		if err := box.Release(); err != nil {
			return fmt.Errorf("release box %s: %w", box.ID(), err)
		}
		w.stats.MovedBoxes++
	}

	purged, err := slot.CompactVisible()
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	w.stats.StalePurged += purged
	visible, err := slot.VisibleInstances()
	if err != nil {
		return err
	}
	if err := slot.SetLogicalCount(len(visible)); err != nil {
		return err
	}
	if err := rs.RefreshLabel(); err != nil {
		return err
	}
	return slot.RefreshLabelAndPrice()
}

// pickBox draws uniformly among the product's rack slots whose top box still
// holds units.
func (w *Worker) pickBox(pid ProductID) (RackSlot, Box, error) {
	type candidate struct {
		rs  RackSlot
		box Box
	}
	var eligible []candidate
	for _, rs := range w.rackSlots[pid] {
		boxes, err := rs.Boxes()
		if err != nil {
			if isFatal(err) {
				return nil, nil, err
			}
			continue
		}
		if len(boxes) == 0 {
			continue
		}
		top := boxes[len(boxes)-1]
		if top == nil || top.RemainingUnits() <= 0 || top.ProductID() != pid {
			continue
		}
		eligible = append(eligible, candidate{rs: rs, box: top})
	}
	if len(eligible) == 0 {
		return nil, nil, errNoStock
	}
	c := eligible[w.rng.Intn(len(eligible))]
	return c.rs, c.box, nil
}

func (w *Worker) nextSlot() {
	w.slotIdx++
	w.slotTarget = -1
	w.slotTransfers = 0
}

func (w *Worker) nextProduct() {
	w.productIdx++
	w.slots = nil
	w.slotIdx = 0
	w.slotTarget = -1
	w.slotTransfers = 0
}

func (w *Worker) endPass() {
	w.stats.OuterLoops++
	moved := w.passTransfers
	w.passTransfers = 0
	w.productIdx = 0
	w.slots = nil
	if moved == 0 {
		w.transition(StateReconcile)
		return
	}
	if w.stats.OuterLoops >= w.cfg.MaxOuterLoops {
		w.capped("outer_loops")
		w.transition(StateCleanup)
	}
}
