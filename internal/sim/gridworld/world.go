// Package gridworld is a single-plane grid the project engine can run on:
// actors walk one cell per step, carry, lead and equip things, and every
// actor, item and location is backed by a reservable in the shared ledger.
package gridworld

import (
	"fmt"
	"sort"

	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/carry"
	"hearthwork.ai/internal/sim/reserve"
)

type Actor struct {
	ID        model.ActorID
	Species   string
	Faction   model.FactionID
	Location  model.Vec3i
	Mass      int
	CarryMass int
	Speed     int
	Sentient  bool
	Yokeable  bool
	Immobile  bool

	Carrying model.Ref
	Equipped []model.ItemID
	Path     []model.Vec3i

	reservable reserve.ReservableID
}

type Item struct {
	ID             model.ItemID
	Type           string
	Material       string
	Quantity       int
	Generic        bool
	UnitMass       int
	Volume         int
	InternalVolume int
	Locomotion     model.Locomotion
	HaulTool       bool
	Panniers       bool

	Location model.Vec3i
	// Holder is the actor carrying or wearing the item, or the tool it is
	// loaded in. Zero while the item lies on the ground.
	Holder model.Ref
	Cargo  []model.Ref

	reservable reserve.ReservableID
}

type Config struct {
	Width, Depth int
	Carry        carry.Params
}

type World struct {
	cfg    Config
	ledger *reserve.Ledger
	cats   *catalogs.Catalogs

	walls  map[model.Vec3i]bool
	actors map[model.ActorID]*Actor
	items  map[model.ItemID]*Item
	// follow maps a follower to the ref it trails.
	follow map[model.Ref]model.Ref
	// carriedBy maps an actor being carried to its carrier.
	carriedBy map[model.ActorID]model.ActorID
	locations map[model.Vec3i]reserve.ReservableID

	nextActor uint64
	nextItem  uint64
}

func New(cfg Config, ledger *reserve.Ledger, cats *catalogs.Catalogs) *World {
	return &World{
		cfg:       cfg,
		ledger:    ledger,
		cats:      cats,
		walls:     map[model.Vec3i]bool{},
		actors:    map[model.ActorID]*Actor{},
		items:     map[model.ItemID]*Item{},
		follow:    map[model.Ref]model.Ref{},
		carriedBy: map[model.ActorID]model.ActorID{},
		locations: map[model.Vec3i]reserve.ReservableID{},
	}
}

func (w *World) Ledger() *reserve.Ledger { return w.ledger }

func (w *World) InBounds(p model.Vec3i) bool {
	return p.Y == 0 && p.X >= 0 && p.Z >= 0 && p.X < w.cfg.Width && p.Z < w.cfg.Depth
}

func (w *World) Passable(p model.Vec3i) bool { return w.InBounds(p) && !w.walls[p] }

func (w *World) SetWall(p model.Vec3i, wall bool) {
	if wall {
		w.walls[p] = true
	} else {
		delete(w.walls, p)
	}
}

// AddActor places a creature of species at loc.
func (w *World) AddActor(species string, faction model.FactionID, loc model.Vec3i) (model.ActorID, error) {
	def, ok := w.cats.Species.Defs[species]
	if !ok {
		return 0, fmt.Errorf("unknown species %q", species)
	}
	if !w.Passable(loc) {
		return 0, fmt.Errorf("add %s: %s is not passable", species, loc)
	}
	w.nextActor++
	a := &Actor{
		ID:         model.ActorID(w.nextActor),
		Species:    species,
		Faction:    faction,
		Location:   loc,
		Mass:       def.Mass,
		CarryMass:  def.CarryMass,
		Speed:      def.Speed,
		Sentient:   def.Sentient,
		Yokeable:   def.Yokeable,
		Immobile:   def.Immobile,
		reservable: w.ledger.NewReservable(1),
	}
	w.actors[a.ID] = a
	return a.ID, nil
}

// AddItem places qty of typ at loc. Non-generic types always have quantity 1.
func (w *World) AddItem(typ, material string, qty int, loc model.Vec3i) (model.ItemID, error) {
	def, ok := w.cats.Items.Defs[typ]
	if !ok {
		return 0, fmt.Errorf("unknown item %q", typ)
	}
	if !w.InBounds(loc) {
		return 0, fmt.Errorf("add %s: %s out of bounds", typ, loc)
	}
	if !def.Generic || qty <= 0 {
		qty = 1
	}
	it := w.newItem(def, material, qty)
	it.Location = loc
	return it.ID, nil
}

func (w *World) newItem(def catalogs.ItemDef, material string, qty int) *Item {
	w.nextItem++
	it := &Item{
		ID:             model.ItemID(w.nextItem),
		Type:           def.ID,
		Material:       material,
		Quantity:       qty,
		Generic:        def.Generic,
		UnitMass:       def.UnitMass,
		Volume:         def.Volume,
		InternalVolume: def.InternalVolume,
		Locomotion:     def.Moves(),
		HaulTool:       def.HaulTool,
		Panniers:       def.Panniers,
		reservable:     w.ledger.NewReservable(qty),
	}
	w.items[it.ID] = it
	return it
}

// split takes qty off a generic stack as a new item at the same place.
func (w *World) split(it *Item, qty int) *Item {
	if !it.Generic || qty >= it.Quantity {
		return it
	}
	part := w.newItem(defOf(it), it.Material, qty)
	part.Location = it.Location
	w.setQuantity(it, it.Quantity-qty)
	return part
}

func defOf(it *Item) catalogs.ItemDef {
	return catalogs.ItemDef{
		ID:             it.Type,
		UnitMass:       it.UnitMass,
		Volume:         it.Volume,
		InternalVolume: it.InternalVolume,
		Locomotion:     it.Locomotion.String(),
		Generic:        it.Generic,
		HaulTool:       it.HaulTool,
		Panniers:       it.Panniers,
	}
}

func (w *World) setQuantity(it *Item, qty int) {
	it.Quantity = qty
	w.ledger.SetCapacity(it.reservable, qty)
	w.ledger.EnforceCapacity(it.reservable)
}

// DestroyItem removes an item; anything loaded in it drops where it was.
func (w *World) DestroyItem(id model.ItemID) {
	it := w.items[id]
	if it == nil {
		return
	}
	loc := w.Location(model.ItemRef(id))
	for _, c := range append([]model.Ref(nil), it.Cargo...) {
		w.placeAt(c, loc)
	}
	it.Cargo = nil
	w.detach(model.ItemRef(id))
	delete(w.items, id)
	w.ledger.DestroyReservable(it.reservable)
}

// RemoveActor takes an actor out of the world, dropping what it holds.
func (w *World) RemoveActor(id model.ActorID) {
	a := w.actors[id]
	if a == nil {
		return
	}
	loc := w.Location(model.ActorRef(id))
	a.Location = loc
	if !a.Carrying.IsZero() {
		w.PutDown(id)
	}
	for _, item := range append([]model.ItemID(nil), a.Equipped...) {
		w.placeAt(model.ItemRef(item), loc)
	}
	a.Equipped = nil
	w.detach(model.ActorRef(id))
	delete(w.actors, id)
	w.ledger.DestroyReservable(a.reservable)
}

// detach breaks every follow link touching r and takes it out of any holder.
func (w *World) detach(r model.Ref) {
	delete(w.follow, r)
	for f, l := range w.follow {
		if l == r {
			delete(w.follow, f)
		}
	}
	if r.IsActor() {
		if c, ok := w.carriedBy[r.Actor()]; ok {
			if ca := w.actors[c]; ca != nil {
				ca.Carrying = model.Ref{}
			}
			delete(w.carriedBy, r.Actor())
		}
		return
	}
	it := w.items[r.Item()]
	if it == nil || it.Holder.IsZero() {
		return
	}
	w.release(it)
}

// release unhooks an item from its holder without placing it.
func (w *World) release(it *Item) {
	ref := model.ItemRef(it.ID)
	switch h := it.Holder; {
	case h.IsActor():
		if a := w.actors[h.Actor()]; a != nil {
			if a.Carrying == ref {
				a.Carrying = model.Ref{}
			}
			a.Equipped = removeItem(a.Equipped, it.ID)
		}
	case h.IsItem():
		if tool := w.items[h.Item()]; tool != nil {
			tool.Cargo = removeRef(tool.Cargo, ref)
		}
	}
	it.Holder = model.Ref{}
}

func (w *World) Actor(id model.ActorID) (*Actor, bool) {
	a, ok := w.actors[id]
	return a, ok
}

func (w *World) Item(id model.ItemID) (*Item, bool) {
	it, ok := w.items[id]
	return it, ok
}

func (w *World) ActorIDs() []model.ActorID {
	out := make([]model.ActorID, 0, len(w.actors))
	for id := range w.actors {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (w *World) ItemIDs() []model.ItemID {
	out := make([]model.ItemID, 0, len(w.items))
	for id := range w.items {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Location resolves where r is, following holders and carriers.
func (w *World) Location(r model.Ref) model.Vec3i {
	switch r.Kind {
	case model.RefActor:
		id := r.Actor()
		if c, ok := w.carriedBy[id]; ok {
			return w.Location(model.ActorRef(c))
		}
		if a := w.actors[id]; a != nil {
			return a.Location
		}
	case model.RefItem:
		if it := w.items[r.Item()]; it != nil {
			if !it.Holder.IsZero() {
				return w.Location(it.Holder)
			}
			return it.Location
		}
	}
	return model.Vec3i{}
}

func (w *World) exists(r model.Ref) bool {
	switch r.Kind {
	case model.RefActor:
		return w.actors[r.Actor()] != nil
	case model.RefItem:
		return w.items[r.Item()] != nil
	}
	return false
}

func removeItem(s []model.ItemID, id model.ItemID) []model.ItemID {
	for i, v := range s {
		if v == id {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

func removeRef(s []model.Ref, r model.Ref) []model.Ref {
	for i, v := range s {
		if v == r {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
