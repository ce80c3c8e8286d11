package gridworld

import (
	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/kernel/model"
)

// placeAt puts r on the ground at loc, out of any hands or cargo.
func (w *World) placeAt(r model.Ref, loc model.Vec3i) {
	switch r.Kind {
	case model.RefItem:
		it := w.items[r.Item()]
		if it == nil {
			return
		}
		if !it.Holder.IsZero() {
			w.release(it)
		}
		it.Location = loc
	case model.RefActor:
		id := r.Actor()
		if c, ok := w.carriedBy[id]; ok {
			if ca := w.actors[c]; ca != nil {
				ca.Carrying = model.Ref{}
			}
			delete(w.carriedBy, id)
		}
		if a := w.actors[id]; a != nil {
			a.Location = loc
		}
	}
}

func (w *World) IsCarrying(actor model.ActorID, r model.Ref) bool {
	a := w.actors[actor]
	return a != nil && !r.IsZero() && a.Carrying == r
}

func (w *World) PickUp(actor model.ActorID, r model.Ref, qty int) model.Ref {
	a := w.actors[actor]
	if a == nil || !w.exists(r) || !a.Carrying.IsZero() {
		return model.Ref{}
	}
	delete(w.follow, r)
	if r.IsActor() {
		c := w.actors[r.Actor()]
		c.Path = nil
		w.carriedBy[c.ID] = actor
		a.Carrying = r
		return r
	}
	it := w.items[r.Item()]
	if !it.Holder.IsZero() {
		it.Location = w.Location(r)
		w.release(it)
	}
	part := w.split(it, qty)
	part.Holder = model.ActorRef(actor)
	a.Carrying = model.ItemRef(part.ID)
	return a.Carrying
}

func (w *World) PutDown(actor model.ActorID) model.Ref {
	a := w.actors[actor]
	if a == nil || a.Carrying.IsZero() {
		return model.Ref{}
	}
	r := a.Carrying
	w.placeAt(r, a.Location)
	return r
}

func (w *World) Place(r model.Ref, loc model.Vec3i) { w.placeAt(r, loc) }

func (w *World) IsLeading(leader, follower model.Ref) bool {
	l, ok := w.follow[follower]
	return ok && l == leader
}

func (w *World) IsFollowing(r model.Ref) bool {
	_, ok := w.follow[r]
	return ok
}

func (w *World) Follow(follower, leader model.Ref) {
	if !w.exists(follower) || !w.exists(leader) || follower == leader {
		return
	}
	if follower.IsActor() {
		w.actors[follower.Actor()].Path = nil
	}
	w.follow[follower] = leader
}

func (w *World) Unfollow(follower model.Ref) { delete(w.follow, follower) }

func (w *World) CargoContains(tool model.ItemID, r model.Ref) bool {
	t := w.items[tool]
	if t == nil {
		return false
	}
	for _, c := range t.Cargo {
		if c == r {
			return true
		}
	}
	return false
}

// LoadCargo moves qty of item r into tool, splitting a generic stack.
func (w *World) LoadCargo(tool model.ItemID, r model.Ref, qty int) model.Ref {
	t := w.items[tool]
	if t == nil || !r.IsItem() {
		return model.Ref{}
	}
	it := w.items[r.Item()]
	if it == nil {
		return model.Ref{}
	}
	delete(w.follow, r)
	if !it.Holder.IsZero() {
		it.Location = w.Location(r)
		w.release(it)
	}
	part := w.split(it, qty)
	part.Holder = model.ItemRef(tool)
	ref := model.ItemRef(part.ID)
	t.Cargo = append(t.Cargo, ref)
	return ref
}

func (w *World) UnloadCargo(tool model.ItemID, r model.Ref) model.Ref {
	if !w.CargoContains(tool, r) {
		return model.Ref{}
	}
	w.placeAt(r, w.Location(model.ItemRef(tool)))
	return r
}

func (w *World) IsEquipped(actor model.ActorID, item model.ItemID) bool {
	a := w.actors[actor]
	if a == nil {
		return false
	}
	for _, e := range a.Equipped {
		if e == item {
			return true
		}
	}
	return false
}

func (w *World) Equip(carrier, wearer model.ActorID, item model.ItemID) {
	it, c, wr := w.items[item], w.actors[carrier], w.actors[wearer]
	if it == nil || c == nil || wr == nil || c.Carrying != model.ItemRef(item) {
		return
	}
	w.release(it)
	it.Holder = model.ActorRef(wearer)
	wr.Equipped = append(wr.Equipped, item)
}

// Consume destroys qty of item; a partial amount shrinks the stack.
func (w *World) Consume(item model.ItemID, qty int) {
	it := w.items[item]
	if it == nil {
		return
	}
	if qty >= it.Quantity {
		w.DestroyItem(item)
		return
	}
	w.setQuantity(it, it.Quantity-qty)
}

// Spawn creates qty of typ at loc. Types missing from the catalog spawn as
// a plain generic stack.
func (w *World) Spawn(loc model.Vec3i, typ, material string, qty int) model.ItemID {
	def, ok := w.cats.Items.Defs[typ]
	if !ok {
		def = catalogs.ItemDef{ID: typ, UnitMass: 1, Volume: 1, Generic: true}
	}
	if !def.Generic || qty <= 0 {
		qty = 1
	}
	it := w.newItem(def, material, qty)
	it.Location = loc
	return it.ID
}
