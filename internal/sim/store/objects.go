package store

import (
	"errors"
	"fmt"

	"nightshift.ai/internal/sim/nightshift"
)

type Rack struct {
	store  *Store
	id     string
	height float64
	slots  []*RackSlot
}

func (r *Rack) ID() string      { return r.id }
func (r *Rack) Height() float64 { return r.height }

func (r *Rack) Slots() ([]nightshift.RackSlot, error) {
	if !r.store.online {
		return nil, r.store.offline()
	}
	out := make([]nightshift.RackSlot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	return out, nil
}

type RackSlot struct {
	rack    *Rack
	product nightshift.ProductID
	boxes   []*Box
	label   string
}

func (s *RackSlot) Rack() nightshift.Rack { return s.rack }

func (s *RackSlot) Boxes() ([]nightshift.Box, error) {
	if !s.rack.store.online {
		return nil, s.rack.store.offline()
	}
	out := make([]nightshift.Box, 0, len(s.boxes))
	for _, b := range s.boxes {
		out = append(out, b)
	}
	return out, nil
}

func (s *RackSlot) RemoveBox(b nightshift.Box) error {
	for i, x := range s.boxes {
		if x.id == b.ID() {
			s.boxes = append(s.boxes[:i], s.boxes[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("box %s not on rack %s", b.ID(), s.rack.id)
}

func (s *RackSlot) RefreshLabel() error {
	units := 0
	for _, b := range s.boxes {
		units += b.units
	}
	s.label = fmt.Sprintf("#%d boxes=%d units=%d", s.product, len(s.boxes), units)
	return nil
}

func (s *RackSlot) Label() string { return s.label }

func (s *RackSlot) push(b *Box) {
	s.boxes = append(s.boxes, b)
	_ = s.RefreshLabel()
}

type Box struct {
	store    *Store
	id       string
	product  nightshift.ProductID
	units    int
	released bool
}

func (b *Box) ID() string                      { return b.id }
func (b *Box) ProductID() nightshift.ProductID { return b.product }
func (b *Box) RemainingUnits() int             { return b.units }

func (b *Box) ConsumeUnits(n int) error {
	if b.store.Faults.ConsumeErr != nil {
		return b.store.Faults.ConsumeErr
	}
	if n < 0 || n > b.units {
		return fmt.Errorf("box %s: cannot take %d of %d", b.id, n, b.units)
	}
	b.units -= n
	return nil
}

var errReleased = errors.New("box already released")

func (b *Box) Release() error {
	if b.released {
		return errReleased
	}
	b.released = true
	return nil
}

type Instance struct {
	id     uint64
	exists bool
	active bool
}

func (i *Instance) Active() bool { return i.exists && i.active }

type Display struct {
	store     *Store
	id        string
	product   nightshift.ProductID
	instances []*Instance
	logical   int
	label     string
}

func (d *Display) ID() string                      { return d.id }
func (d *Display) ProductID() nightshift.ProductID { return d.product }

func (d *Display) VisibleInstances() ([]nightshift.Instance, error) {
	out := make([]nightshift.Instance, 0, len(d.instances))
	for _, in := range d.instances {
		out = append(out, in)
	}
	return out, nil
}

// CompactVisible drops entries whose instance was destroyed.
func (d *Display) CompactVisible() (int, error) {
	kept := d.instances[:0]
	for _, in := range d.instances {
		if in.exists {
			kept = append(kept, in)
		}
	}
	removed := len(d.instances) - len(kept)
	for i := len(kept); i < len(d.instances); i++ {
		d.instances[i] = nil
	}
	d.instances = kept
	return removed, nil
}

func (d *Display) LogicalCount() (int, error) { return d.logical, nil }

func (d *Display) SetLogicalCount(n int) error {
	if n < 0 {
		return fmt.Errorf("display %s: negative count %d", d.id, n)
	}
	d.logical = n
	return nil
}

// SpawnInstances replaces hidden instances and appends fresh ones; the
// replaced instances are destroyed and linger as stale entries.
func (d *Display) SpawnInstances(pid nightshift.ProductID, n int) error {
	if !d.store.online {
		return d.store.offline()
	}
	if pid != d.product {
		return fmt.Errorf("display %s holds product %d, not %d", d.id, d.product, pid)
	}
	for _, in := range d.instances {
		if in.exists && !in.active {
			in.exists = false
		}
	}
	d.appendFresh(n - d.store.Faults.SpawnShortfall)
	return nil
}

func (d *Display) Clear() error {
	for _, in := range d.instances {
		in.exists = false
	}
	d.instances = nil
	return nil
}

func (d *Display) RefreshLabelAndPrice() error {
	d.refresh()
	return nil
}

func (d *Display) refresh() {
	def := d.store.products.Defs[int(d.product)]
	d.label = fmt.Sprintf("%s x%d $%d.%02d", def.Name, d.logical, def.PriceCents/100, def.PriceCents%100)
}

func (d *Display) Label() string { return d.label }

func (d *Display) appendFresh(n int) {
	for i := 0; i < n; i++ {
		d.instances = append(d.instances, d.store.newInstance())
	}
}

// takeOne sells the topmost live unit.
func (d *Display) takeOne() bool {
	for i := len(d.instances) - 1; i >= 0; i-- {
		in := d.instances[i]
		if !in.exists || !in.active {
			continue
		}
		in.exists = false
		d.instances = append(d.instances[:i], d.instances[i+1:]...)
		if d.logical > 0 {
			d.logical--
		}
		return true
	}
	return false
}
