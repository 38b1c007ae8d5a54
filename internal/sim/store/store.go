package store

import (
	"fmt"
	"math/rand"
	"sort"

	"nightshift.ai/internal/sim/catalogs"
	"nightshift.ai/internal/sim/nightshift"
)

// Store is an in-memory shop: backroom racks, shelves, and the box registry.
// It is not safe for concurrent use; the host loop owns it.
type Store struct {
	products catalogs.ProductCatalog

	day    int
	handle int64
	loaded int
	online bool
	nextID uint64

	racks    []*Rack
	displays []*Display
	boxes    map[string]*Box

	Faults Faults
}

// Faults injects host misbehaviour.
type Faults struct {
	// SpawnShortfall instances are silently dropped from every spawn.
	SpawnShortfall int
	// ConsumeErr is returned by every ConsumeUnits call when set.
	ConsumeErr error
}

// New builds a store from the layout with every shelf full and one box in
// each rack slot.
func New(cat *catalogs.Catalogs) *Store {
	s := &Store{
		products: cat.Products,
		day:      1,
		handle:   1,
		loaded:   1,
		online:   true,
		boxes:    make(map[string]*Box),
	}
	for _, rd := range cat.Layout.Racks {
		r := &Rack{store: s, id: rd.ID, height: rd.Height}
		for _, pid := range rd.Slots {
			rs := &RackSlot{rack: r, product: nightshift.ProductID(pid)}
			r.slots = append(r.slots, rs)
			rs.push(s.newBox(rs.product, cat.Products.Defs[pid].BoxUnits))
		}
		s.racks = append(s.racks, r)
	}
	for _, dd := range cat.Layout.Displays {
		d := &Display{store: s, id: dd.ID, product: nightshift.ProductID(dd.Product)}
		d.appendFresh(cat.Products.DisplayTarget(dd.Product))
		d.logical = len(d.instances)
		d.refresh()
		s.displays = append(s.displays, d)
	}
	return s
}

func (s *Store) newBox(pid nightshift.ProductID, units int) *Box {
	s.nextID++
	b := &Box{store: s, id: fmt.Sprintf("box-%d", s.nextID), product: pid, units: units}
	s.boxes[b.id] = b
	return b
}

func (s *Store) newInstance() *Instance {
	s.nextID++
	return &Instance{id: s.nextID, exists: true, active: true}
}

func (s *Store) offline() error {
	return fmt.Errorf("store scene loading: %w", nightshift.ErrMissingCollaborator)
}

func (s *Store) CurrentDay() (int, error) {
	if !s.online {
		return 0, s.offline()
	}
	return s.day, nil
}

func (s *Store) Identity() (nightshift.Identity, error) {
	return nightshift.Identity{Handle: s.handle, Loaded: s.loaded}, nil
}

func (s *Store) Collaborators() (nightshift.Collaborators, error) {
	if !s.online {
		return nightshift.Collaborators{}, s.offline()
	}
	return nightshift.Collaborators{Racks: s, Displays: s, Inventory: s, Catalog: s}, nil
}

func (s *Store) RackSlotsByProduct() (map[nightshift.ProductID][]nightshift.RackSlot, error) {
	if !s.online {
		return nil, s.offline()
	}
	out := make(map[nightshift.ProductID][]nightshift.RackSlot)
	for _, r := range s.racks {
		for _, rs := range r.slots {
			out[rs.product] = append(out[rs.product], rs)
		}
	}
	return out, nil
}

func (s *Store) Racks() ([]nightshift.Rack, error) {
	if !s.online {
		return nil, s.offline()
	}
	out := make([]nightshift.Rack, 0, len(s.racks))
	for _, r := range s.racks {
		out = append(out, r)
	}
	return out, nil
}

// ProductIDs lists products with at least one registered box, ascending.
func (s *Store) ProductIDs() ([]nightshift.ProductID, error) {
	if !s.online {
		return nil, s.offline()
	}
	seen := make(map[nightshift.ProductID]bool)
	for _, b := range s.boxes {
		seen[b.product] = true
	}
	out := make([]nightshift.ProductID, 0, len(seen))
	for pid := range seen {
		out = append(out, pid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) RemoveBox(b nightshift.Box) error {
	if _, ok := s.boxes[b.ID()]; !ok {
		return fmt.Errorf("box %s not in inventory", b.ID())
	}
	delete(s.boxes, b.ID())
	return nil
}

func (s *Store) DisplaySlots(pid nightshift.ProductID) ([]nightshift.DisplaySlot, error) {
	if !s.online {
		return nil, s.offline()
	}
	var out []nightshift.DisplaySlot
	for _, d := range s.displays {
		if d.product == pid {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) AllDisplaySlots() ([]nightshift.DisplaySlot, error) {
	if !s.online {
		return nil, s.offline()
	}
	out := make([]nightshift.DisplaySlot, 0, len(s.displays))
	for _, d := range s.displays {
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) TargetDisplayCount(pid nightshift.ProductID) (int, error) {
	return s.products.DisplayTarget(int(pid)), nil
}

// AdvanceDay starts the next day and receives its delivery.
func (s *Store) AdvanceDay() int {
	s.day++
	s.Deliver()
	return s.day
}

// Deliver stacks each product's daily boxes onto its rack slots, round robin.
func (s *Store) Deliver() int {
	delivered := 0
	for _, pid := range s.products.IDs {
		def := s.products.Defs[pid]
		var slots []*RackSlot
		for _, r := range s.racks {
			for _, rs := range r.slots {
				if int(rs.product) == pid {
					slots = append(slots, rs)
				}
			}
		}
		if len(slots) == 0 {
			continue
		}
		for i := 0; i < def.DailyBoxes; i++ {
			rs := slots[i%len(slots)]
			rs.push(s.newBox(rs.product, def.BoxUnits))
			delivered++
		}
	}
	return delivered
}

// SimulateSales lets customers take up to n units from random shelves.
func (s *Store) SimulateSales(rng *rand.Rand, n int) int {
	if !s.online || len(s.displays) == 0 {
		return 0
	}
	sold := 0
	for i := 0; i < n; i++ {
		d := s.displays[rng.Intn(len(s.displays))]
		if d.takeOne() {
			sold++
		}
	}
	return sold
}

// Hide deactivates up to n random active instances without touching counts,
// the visual drift VisualRepair exists for.
func (s *Store) Hide(rng *rand.Rand, n int) int {
	hidden := 0
	for i := 0; i < n && len(s.displays) > 0; i++ {
		d := s.displays[rng.Intn(len(s.displays))]
		for _, in := range d.instances {
			if in.exists && in.active {
				in.active = false
				hidden++
				break
			}
		}
	}
	return hidden
}

// BeginReload takes the scene down: collaborators become unavailable and
// every shelf instance is destroyed in place, leaving stale entries.
func (s *Store) BeginReload() {
	if !s.online {
		return
	}
	s.online = false
	s.loaded = 2
	for _, d := range s.displays {
		for _, in := range d.instances {
			in.exists = false
		}
	}
}

// FinishReload brings a new scene up under a new handle. Shelves respawn
// their logical count next to the stale entries of the old scene.
func (s *Store) FinishReload() {
	if s.online {
		return
	}
	s.online = true
	s.loaded = 1
	s.handle++
	for _, d := range s.displays {
		d.appendFresh(d.logical)
	}
}

func (s *Store) Online() bool { return s.online }
func (s *Store) Day() int     { return s.day }

// Totals summarises the store for metrics and admin views.
type Totals struct {
	Day           int   `json:"day"`
	SceneHandle   int64 `json:"scene_handle"`
	Online        bool  `json:"online"`
	ShelfLogical  int   `json:"shelf_logical"`
	ShelfActive   int   `json:"shelf_active"`
	ShelfHidden   int   `json:"shelf_hidden"`
	ShelfStale    int   `json:"shelf_stale"`
	ShelfTarget   int   `json:"shelf_target"`
	BackroomUnits int   `json:"backroom_units"`
	Boxes         int   `json:"boxes"`
	EmptyBoxes    int   `json:"empty_boxes"`
}

func (s *Store) Totals() Totals {
	t := Totals{Day: s.day, SceneHandle: s.handle, Online: s.online, Boxes: len(s.boxes)}
	for _, d := range s.displays {
		t.ShelfLogical += d.logical
		t.ShelfTarget += s.products.DisplayTarget(int(d.product))
		for _, in := range d.instances {
			switch {
			case !in.exists:
				t.ShelfStale++
			case in.active:
				t.ShelfActive++
			default:
				t.ShelfHidden++
			}
		}
	}
	for _, b := range s.boxes {
		t.BackroomUnits += b.units
		if b.units <= 0 {
			t.EmptyBoxes++
		}
	}
	return t
}
