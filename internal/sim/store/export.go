package store

import (
	"fmt"

	"nightshift.ai/internal/persistence/snapshot"
	"nightshift.ai/internal/sim/catalogs"
	"nightshift.ai/internal/sim/nightshift"
)

// ExportSnapshot fills the store-owned part of a snapshot. The caller sets
// the header tick, seed, rates and last processed day.
func (s *Store) ExportSnapshot(cat *catalogs.Catalogs) snapshot.StoreV1 {
	snap := snapshot.StoreV1{
		Header:         snapshot.Header{Version: snapshot.Version, Day: s.day},
		SceneHandle:    s.handle,
		NextID:         s.nextID,
		ProductsDigest: cat.Products.Digest,
		LayoutDigest:   cat.Layout.Digest,
	}
	for _, r := range s.racks {
		rv := snapshot.RackV1{ID: r.id, Height: r.height}
		for _, rs := range r.slots {
			sv := snapshot.RackSlotV1{Product: int(rs.product)}
			for _, b := range rs.boxes {
				sv.Boxes = append(sv.Boxes, snapshot.BoxV1{ID: b.id, Units: b.units})
			}
			rv.Slots = append(rv.Slots, sv)
		}
		snap.Racks = append(snap.Racks, rv)
	}
	for _, d := range s.displays {
		dv := snapshot.DisplayV1{ID: d.id, Product: int(d.product), Logical: d.logical}
		for _, in := range d.instances {
			switch {
			case !in.exists:
			case in.active:
				dv.Active++
			default:
				dv.Hidden++
			}
		}
		snap.Displays = append(snap.Displays, dv)
	}
	return snap
}

// FromSnapshot rebuilds a store. The catalogs must be the ones the snapshot
// was taken with.
func FromSnapshot(cat *catalogs.Catalogs, snap snapshot.StoreV1) (*Store, error) {
	if snap.ProductsDigest != "" && snap.ProductsDigest != cat.Products.Digest {
		return nil, fmt.Errorf("products digest mismatch: snapshot %s, loaded %s", snap.ProductsDigest, cat.Products.Digest)
	}
	if snap.LayoutDigest != "" && snap.LayoutDigest != cat.Layout.Digest {
		return nil, fmt.Errorf("layout digest mismatch: snapshot %s, loaded %s", snap.LayoutDigest, cat.Layout.Digest)
	}
	s := &Store{
		products: cat.Products,
		day:      snap.Header.Day,
		handle:   snap.SceneHandle,
		loaded:   1,
		online:   true,
		boxes:    make(map[string]*Box),
	}
	for _, rv := range snap.Racks {
		r := &Rack{store: s, id: rv.ID, height: rv.Height}
		for _, sv := range rv.Slots {
			if _, ok := cat.Products.Defs[sv.Product]; !ok {
				return nil, fmt.Errorf("rack %s: unknown product %d", rv.ID, sv.Product)
			}
			rs := &RackSlot{rack: r, product: nightshift.ProductID(sv.Product)}
			for _, bv := range sv.Boxes {
				if _, dup := s.boxes[bv.ID]; dup {
					return nil, fmt.Errorf("duplicate box %s", bv.ID)
				}
				b := &Box{store: s, id: bv.ID, product: rs.product, units: bv.Units}
				s.boxes[b.id] = b
				rs.push(b)
			}
			r.slots = append(r.slots, rs)
		}
		s.racks = append(s.racks, r)
	}
	for _, dv := range snap.Displays {
		if _, ok := cat.Products.Defs[dv.Product]; !ok {
			return nil, fmt.Errorf("display %s: unknown product %d", dv.ID, dv.Product)
		}
		d := &Display{store: s, id: dv.ID, product: nightshift.ProductID(dv.Product), logical: dv.Logical}
		s.displays = append(s.displays, d)
	}
	// Instance ids are allocated after the snapshot's counter.
	s.nextID = snap.NextID
	for i, dv := range snap.Displays {
		d := s.displays[i]
		d.appendFresh(dv.Active)
		for j := 0; j < dv.Hidden; j++ {
			in := s.newInstance()
			in.active = false
			d.instances = append(d.instances, in)
		}
		d.refresh()
	}
	return s, nil
}
