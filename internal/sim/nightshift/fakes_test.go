package nightshift

import (
	"errors"
	"fmt"
)

type fakeInstance struct {
	alive  bool
	active bool
}

func (i *fakeInstance) Active() bool { return i.active }

type fakeBox struct {
	id         string
	pid        ProductID
	units      int
	released   bool
	consumeErr error
}

func (b *fakeBox) ID() string           { return b.id }
func (b *fakeBox) ProductID() ProductID { return b.pid }
func (b *fakeBox) RemainingUnits() int  { return b.units }
func (b *fakeBox) Release() error       { b.released = true; return nil }

func (b *fakeBox) ConsumeUnits(n int) error {
	if b.consumeErr != nil {
		return b.consumeErr
	}
	if n > b.units {
		return fmt.Errorf("box %s: consume %d of %d", b.id, n, b.units)
	}
	b.units -= n
	return nil
}

type fakeRack struct {
	id     string
	height float64
	slots  []*fakeRackSlot
}

func (r *fakeRack) ID() string      { return r.id }
func (r *fakeRack) Height() float64 { return r.height }

func (r *fakeRack) Slots() ([]RackSlot, error) {
	out := make([]RackSlot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, s)
	}
	return out, nil
}

type fakeRackSlot struct {
	rack      *fakeRack
	pid       ProductID
	boxes     []*fakeBox
	refreshes int
}

func (s *fakeRackSlot) Rack() Rack { return s.rack }

func (s *fakeRackSlot) Boxes() ([]Box, error) {
	out := make([]Box, 0, len(s.boxes))
	for _, b := range s.boxes {
		out = append(out, b)
	}
	return out, nil
}

func (s *fakeRackSlot) RemoveBox(b Box) error {
	for i, x := range s.boxes {
		if Box(x) == b {
			s.boxes = append(s.boxes[:i], s.boxes[i+1:]...)
			return nil
		}
	}
	return errors.New("box not in slot")
}

func (s *fakeRackSlot) RefreshLabel() error { s.refreshes++; return nil }

func (s *fakeRackSlot) units() int {
	n := 0
	for _, b := range s.boxes {
		n += b.units
	}
	return n
}

type fakeDisplay struct {
	id         string
	pid        ProductID
	inst       []*fakeInstance
	logical    int
	spawnShort int
	spawnErr   error
	spawnCalls int
	refreshes  int
}

func (d *fakeDisplay) ID() string           { return d.id }
func (d *fakeDisplay) ProductID() ProductID { return d.pid }

func (d *fakeDisplay) VisibleInstances() ([]Instance, error) {
	out := make([]Instance, 0, len(d.inst))
	for _, in := range d.inst {
		out = append(out, in)
	}
	return out, nil
}

func (d *fakeDisplay) CompactVisible() (int, error) {
	kept := d.inst[:0]
	removed := 0
	for _, in := range d.inst {
		if !in.alive {
			removed++
			continue
		}
		kept = append(kept, in)
	}
	d.inst = kept
	return removed, nil
}

func (d *fakeDisplay) LogicalCount() (int, error) { return d.logical, nil }
func (d *fakeDisplay) SetLogicalCount(n int) error {
	d.logical = n
	return nil
}

func (d *fakeDisplay) SpawnInstances(pid ProductID, n int) error {
	d.spawnCalls++
	if d.spawnErr != nil {
		return d.spawnErr
	}
	n -= d.spawnShort
	for i := 0; i < n; i++ {
		d.inst = append(d.inst, &fakeInstance{alive: true, active: true})
	}
	return nil
}

func (d *fakeDisplay) Clear() error {
	for _, in := range d.inst {
		in.alive = false
	}
	d.inst = nil
	return nil
}

func (d *fakeDisplay) RefreshLabelAndPrice() error { d.refreshes++; return nil }

// fill puts n live instances on the shelf and matches the logical count.
func (d *fakeDisplay) fill(n int) *fakeDisplay {
	for i := 0; i < n; i++ {
		d.inst = append(d.inst, &fakeInstance{alive: true, active: true})
	}
	d.logical = len(d.inst)
	return d
}

func (d *fakeDisplay) liveCount() int {
	n := 0
	for _, in := range d.inst {
		if in.alive {
			n++
		}
	}
	return n
}

// fakeStore implements Environment and every collaborator.
type fakeStore struct {
	day      int
	dayErr   error
	ident    Identity
	identErr error
	offline  bool

	racks     []*fakeRack
	displays  []*fakeDisplay
	inventory map[string]*fakeBox
	targets   map[ProductID]int
	nextBox   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		day:       1,
		ident:     Identity{Handle: 1, Loaded: 1},
		inventory: make(map[string]*fakeBox),
		targets:   make(map[ProductID]int),
	}
}

func (s *fakeStore) CurrentDay() (int, error) { return s.day, s.dayErr }
func (s *fakeStore) Identity() (Identity, error) {
	return s.ident, s.identErr
}

func (s *fakeStore) Collaborators() (Collaborators, error) {
	if s.offline {
		return Collaborators{}, fmt.Errorf("store closed: %w", ErrMissingCollaborator)
	}
	return Collaborators{Racks: s, Displays: s, Inventory: s, Catalog: s}, nil
}

func (s *fakeStore) RackSlotsByProduct() (map[ProductID][]RackSlot, error) {
	out := make(map[ProductID][]RackSlot)
	for _, r := range s.racks {
		for _, rs := range r.slots {
			out[rs.pid] = append(out[rs.pid], rs)
		}
	}
	return out, nil
}

func (s *fakeStore) Racks() ([]Rack, error) {
	out := make([]Rack, 0, len(s.racks))
	for _, r := range s.racks {
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeStore) ProductIDs() ([]ProductID, error) {
	seen := make(map[ProductID]bool)
	var out []ProductID
	for _, r := range s.racks {
		for _, rs := range r.slots {
			if !seen[rs.pid] {
				seen[rs.pid] = true
				out = append(out, rs.pid)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) RemoveBox(b Box) error {
	if _, ok := s.inventory[b.ID()]; !ok {
		return fmt.Errorf("box %s not registered", b.ID())
	}
	delete(s.inventory, b.ID())
	return nil
}

func (s *fakeStore) DisplaySlots(pid ProductID) ([]DisplaySlot, error) {
	var out []DisplaySlot
	for _, d := range s.displays {
		if d.pid == pid {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) AllDisplaySlots() ([]DisplaySlot, error) {
	out := make([]DisplaySlot, 0, len(s.displays))
	for _, d := range s.displays {
		out = append(out, d)
	}
	return out, nil
}

func (s *fakeStore) TargetDisplayCount(pid ProductID) (int, error) {
	return s.targets[pid], nil
}

func (s *fakeStore) addRack(height float64) *fakeRack {
	r := &fakeRack{id: fmt.Sprintf("rack-%d", len(s.racks)+1), height: height}
	s.racks = append(s.racks, r)
	return r
}

// addSlot adds a rack slot holding boxes with the given units, bottom first.
func (s *fakeStore) addSlot(r *fakeRack, pid ProductID, units ...int) *fakeRackSlot {
	rs := &fakeRackSlot{rack: r, pid: pid}
	for _, u := range units {
		s.nextBox++
		b := &fakeBox{id: fmt.Sprintf("box-%d", s.nextBox), pid: pid, units: u}
		rs.boxes = append(rs.boxes, b)
		s.inventory[b.id] = b
	}
	r.slots = append(r.slots, rs)
	return rs
}

func (s *fakeStore) addDisplay(pid ProductID) *fakeDisplay {
	d := &fakeDisplay{id: fmt.Sprintf("shelf-%d", len(s.displays)+1), pid: pid}
	s.displays = append(s.displays, d)
	return d
}
