package nightshift

import (
	"fmt"
	"math"
)

// ProductID identifies a product across racks, shelves and the catalog.
type ProductID int

// Identity is the environment's notion of "which scene is loaded": an opaque
// handle of the active context plus the number of loaded contexts.
type Identity struct {
	Handle int64 `json:"handle"`
	Loaded int   `json:"loaded"`
}

// Environment is the host surface polled by the runtime. Implementations return
// an error wrapping ErrMissingCollaborator while the store is not in gameplay.
type Environment interface {
	CurrentDay() (int, error)
	Identity() (Identity, error)
	Collaborators() (Collaborators, error)
}

// Collaborators bundles the inventory-side interfaces a run mutates.
type Collaborators struct {
	Racks     RackIndex
	Displays  DisplayIndex
	Inventory Inventory
	Catalog   Catalog
}

// Validate reports the first missing collaborator.
func (c Collaborators) Validate() error {
	switch {
	case c.Racks == nil:
		return fmt.Errorf("racks: %w", ErrMissingCollaborator)
	case c.Displays == nil:
		return fmt.Errorf("displays: %w", ErrMissingCollaborator)
	case c.Inventory == nil:
		return fmt.Errorf("inventory: %w", ErrMissingCollaborator)
	case c.Catalog == nil:
		return fmt.Errorf("catalog: %w", ErrMissingCollaborator)
	}
	return nil
}

type RackIndex interface {
	// RackSlotsByProduct lists every rack slot holding boxes of a product.
	RackSlotsByProduct() (map[ProductID][]RackSlot, error)
	Racks() ([]Rack, error)
}

type Rack interface {
	ID() string
	Height() float64
	Slots() ([]RackSlot, error)
}

type RackSlot interface {
	Rack() Rack
	// Boxes is ordered bottom to top; the last box is the one picked first.
	Boxes() ([]Box, error)
	RemoveBox(b Box) error
	RefreshLabel() error
}

type Box interface {
	ID() string
	ProductID() ProductID
	RemainingUnits() int
	ConsumeUnits(n int) error
	// Release frees the box's scene instance after it left every container.
	Release() error
}

type Inventory interface {
	ProductIDs() ([]ProductID, error)
	RemoveBox(b Box) error
}

type DisplayIndex interface {
	DisplaySlots(pid ProductID) ([]DisplaySlot, error)
	AllDisplaySlots() ([]DisplaySlot, error)
}

type DisplaySlot interface {
	ID() string
	ProductID() ProductID
	VisibleInstances() ([]Instance, error)
	// CompactVisible drops entries whose instance no longer exists in the
	// active scene graph and returns how many were dropped.
	CompactVisible() (int, error)
	LogicalCount() (int, error)
	SetLogicalCount(n int) error
	SpawnInstances(pid ProductID, n int) error
	Clear() error
	RefreshLabelAndPrice() error
}

type Instance interface {
	Active() bool
}

type Catalog interface {
	// TargetDisplayCount returns 0 for products without a shelf layout.
	TargetDisplayCount(pid ProductID) (int, error)
}

// RackFilter reports racks whose contents must never be moved to shelves.
type RackFilter func(r Rack) bool

// ExcludeHeights flags racks placed at any of the given heights as
// non-sellable storage.
func ExcludeHeights(heights ...float64) RackFilter {
	if len(heights) == 0 {
		return nil
	}
	hs := append([]float64(nil), heights...)
	return func(r Rack) bool {
		if r == nil {
			return false
		}
		h := r.Height()
		for _, x := range hs {
			if math.Abs(h-x) < 0.01 {
				return true
			}
		}
		return false
	}
}
