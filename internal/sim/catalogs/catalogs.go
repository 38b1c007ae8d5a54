package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Products ProductCatalog
	Layout   LayoutCatalog
}

type ProductCatalog struct {
	IDs    []int
	Defs   map[int]ProductDef
	Digest string
}

type ProductDef struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// DisplayTarget is how many units one shelf slot holds when full.
	DisplayTarget int `json:"display_target"`
	BoxUnits      int `json:"box_units"`
	// DailyBoxes are delivered to the backroom at every day start.
	DailyBoxes int   `json:"daily_boxes"`
	PriceCents int64 `json:"price_cents"`
}

type LayoutCatalog struct {
	Racks    []RackDef    `json:"racks"`
	Displays []DisplayDef `json:"displays"`
	Digest   string       `json:"-"`
}

type RackDef struct {
	ID     string  `json:"id"`
	Height float64 `json:"height"`
	// Slots lists the product id bound to each slot, bottom to top.
	Slots []int `json:"slots"`
}

type DisplayDef struct {
	ID      string `json:"id"`
	Product int    `json:"product"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadProducts(filepath.Join(configDir, "products.json"), &c.Products); err != nil {
		return nil, err
	}
	if err := loadLayout(filepath.Join(configDir, "layout.json"), &c.Layout, &c.Products); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadProducts(path string, out *ProductCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ProductDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("products.json: %w", err)
	}
	out.Defs = map[int]ProductDef{}
	for _, d := range defs {
		if d.ID <= 0 {
			return fmt.Errorf("products.json: invalid id %d", d.ID)
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("products.json: duplicate id %d", d.ID)
		}
		if d.BoxUnits <= 0 {
			return fmt.Errorf("products.json: product %d: box_units must be > 0", d.ID)
		}
		if d.DisplayTarget < 0 || d.DailyBoxes < 0 {
			return fmt.Errorf("products.json: product %d: negative count", d.ID)
		}
		out.Defs[d.ID] = d
	}
	ids := make([]int, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out.IDs = ids
	return nil
}

func loadLayout(path string, out *LayoutCatalog, products *ProductCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("layout.json: %w", err)
	}
	seen := map[string]bool{}
	for _, r := range out.Racks {
		if r.ID == "" {
			return fmt.Errorf("layout.json: rack with empty id")
		}
		if seen[r.ID] {
			return fmt.Errorf("layout.json: duplicate id %q", r.ID)
		}
		seen[r.ID] = true
		for _, pid := range r.Slots {
			if _, ok := products.Defs[pid]; !ok {
				return fmt.Errorf("layout.json: rack %s: unknown product %d", r.ID, pid)
			}
		}
	}
	for _, d := range out.Displays {
		if d.ID == "" {
			return fmt.Errorf("layout.json: display with empty id")
		}
		if seen[d.ID] {
			return fmt.Errorf("layout.json: duplicate id %q", d.ID)
		}
		seen[d.ID] = true
		if _, ok := products.Defs[d.Product]; !ok {
			return fmt.Errorf("layout.json: display %s: unknown product %d", d.ID, d.Product)
		}
	}
	return nil
}

// DisplayTarget returns the per-slot target, 0 for unknown products.
func (p ProductCatalog) DisplayTarget(id int) int {
	return p.Defs[id].DisplayTarget
}
