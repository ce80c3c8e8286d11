package gridworld

import (
	"sort"

	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/carry"
	"hearthwork.ai/internal/sim/logic/movement"
	"hearthwork.ai/internal/sim/reserve"
)

// Everything in this file only reads and may run from concurrent read
// phases.

func (w *World) onGround(r model.Ref) bool {
	if w.IsFollowing(r) {
		return false
	}
	switch r.Kind {
	case model.RefActor:
		_, carried := w.carriedBy[r.Actor()]
		return w.actors[r.Actor()] != nil && !carried
	case model.RefItem:
		it := w.items[r.Item()]
		return it != nil && it.Holder.IsZero()
	}
	return false
}

func (w *World) Info(r model.Ref) (model.Info, bool) {
	switch r.Kind {
	case model.RefActor:
		a := w.actors[r.Actor()]
		if a == nil {
			return model.Info{}, false
		}
		loco := model.LocomotionWalk
		if a.Immobile {
			loco = model.LocomotionNone
		}
		return model.Info{
			Ref:        r,
			Type:       a.Species,
			Faction:    a.Faction,
			Quantity:   1,
			UnitMass:   a.Mass,
			Volume:     a.Mass,
			Locomotion: loco,
			Sentient:   a.Sentient,
			Yokeable:   a.Yokeable,
			Location:   w.Location(r),
			Placed:     w.onGround(r),
		}, true
	case model.RefItem:
		it := w.items[r.Item()]
		if it == nil {
			return model.Info{}, false
		}
		return model.Info{
			Ref:            r,
			Type:           it.Type,
			Material:       it.Material,
			Quantity:       it.Quantity,
			Generic:        it.Generic,
			UnitMass:       it.UnitMass,
			Volume:         it.Volume,
			InternalVolume: it.InternalVolume,
			Locomotion:     it.Locomotion,
			HaulTool:       it.HaulTool,
			Panniers:       it.Panniers,
			Location:       w.Location(r),
			Placed:         w.onGround(r),
		}, true
	}
	return model.Info{}, false
}

func (w *World) massOf(it *Item) int {
	m := it.UnitMass * it.Quantity
	for _, c := range it.Cargo {
		if c.IsItem() {
			if ci := w.items[c.Item()]; ci != nil {
				m += w.massOf(ci)
			}
		}
	}
	return m
}

func (w *World) MoveSpeedForGroup(members []model.Ref, added carry.Load) int {
	ms := make([]carry.Member, 0, len(members))
	for _, r := range members {
		switch r.Kind {
		case model.RefActor:
			a := w.actors[r.Actor()]
			if a == nil {
				continue
			}
			if a.Immobile {
				ms = append(ms, carry.Member{Mass: a.Mass})
				continue
			}
			ms = append(ms, carry.Member{Mobile: true, CarryMass: a.CarryMass, Speed: a.Speed, Mass: a.Mass, Locomotion: model.LocomotionWalk})
		case model.RefItem:
			it := w.items[r.Item()]
			if it == nil {
				continue
			}
			ms = append(ms, carry.Member{Mass: w.massOf(it), Locomotion: it.Locomotion})
		}
	}
	return carry.GroupSpeed(ms, added, w.cfg.Carry)
}

func (w *World) Reservable(r model.Ref) (reserve.ReservableID, bool) {
	switch r.Kind {
	case model.RefActor:
		if a := w.actors[r.Actor()]; a != nil {
			return a.reservable, true
		}
	case model.RefItem:
		if it := w.items[r.Item()]; it != nil {
			return it.reservable, true
		}
	}
	return 0, false
}

// LocationReservable returns the reservable of loc, creating it on first
// use. It mutates and must not be called from a read phase.
func (w *World) LocationReservable(loc model.Vec3i) reserve.ReservableID {
	if rid, ok := w.locations[loc]; ok {
		return rid
	}
	rid := w.ledger.NewReservable(1)
	w.locations[loc] = rid
	return rid
}

func (w *World) IsFullyReserved(r model.Ref, faction model.FactionID) bool {
	rid, ok := w.Reservable(r)
	if !ok {
		return true
	}
	return w.ledger.IsFullyReserved(rid, faction)
}

func (w *World) UnreservedQuantity(r model.Ref, faction model.FactionID) int {
	rid, ok := w.Reservable(r)
	if !ok {
		return 0
	}
	return w.ledger.UnreservedCount(rid, faction)
}

func (w *World) IsLocationReservable(loc model.Vec3i, faction model.FactionID) bool {
	if !w.Passable(loc) {
		return false
	}
	rid, ok := w.locations[loc]
	return !ok || !w.ledger.IsFullyReserved(rid, faction)
}

func (w *World) FreeLiftPoints(target model.Ref, faction model.FactionID) int {
	n := 0
	for _, p := range w.LiftPoints(target) {
		if w.IsLocationReservable(p, faction) {
			n++
		}
	}
	return n
}

func (w *World) CanEquip(actor model.ActorID, item model.ItemID) bool {
	a, it := w.actors[actor], w.items[item]
	if a == nil || it == nil || !a.Yokeable || !it.Panniers {
		return false
	}
	for _, e := range a.Equipped {
		if eq := w.items[e]; eq != nil && eq.Panniers {
			return false
		}
	}
	return true
}

type near struct {
	dist int
	id   uint64
}

func sortNear(ns []near) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].dist != ns[j].dist {
			return ns[i].dist < ns[j].dist
		}
		return ns[i].id < ns[j].id
	})
}

func (w *World) itemsNear(origin model.ActorID, maxRange int, ok func(*Item) bool) []model.ItemID {
	if w.actors[origin] == nil {
		return nil
	}
	dist := movement.Distances(w.Location(model.ActorRef(origin)), maxRange, w.Passable)
	var ns []near
	for id, it := range w.items {
		if !ok(it) || !w.onGround(model.ItemRef(id)) {
			continue
		}
		if d, reach := dist[it.Location]; reach {
			ns = append(ns, near{dist: d, id: uint64(id)})
		}
	}
	sortNear(ns)
	out := make([]model.ItemID, len(ns))
	for i, n := range ns {
		out[i] = model.ItemID(n.id)
	}
	return out
}

// HaulToolsNear lists carts on the ground reachable from origin, nearest first.
func (w *World) HaulToolsNear(origin model.ActorID, maxRange int) []model.ItemID {
	return w.itemsNear(origin, maxRange, func(it *Item) bool { return it.HaulTool })
}

func (w *World) PanniersNear(origin model.ActorID, maxRange int) []model.ItemID {
	return w.itemsNear(origin, maxRange, func(it *Item) bool { return it.Panniers })
}

func (w *World) YokeablesNear(origin model.ActorID, maxRange int) []model.ActorID {
	if w.actors[origin] == nil {
		return nil
	}
	dist := movement.Distances(w.Location(model.ActorRef(origin)), maxRange, w.Passable)
	var ns []near
	for id, a := range w.actors {
		if id == origin || !a.Yokeable || a.Immobile || !w.onGround(model.ActorRef(id)) {
			continue
		}
		if d, reach := dist[a.Location]; reach {
			ns = append(ns, near{dist: d, id: uint64(id)})
		}
	}
	sortNear(ns)
	out := make([]model.ActorID, len(ns))
	for i, n := range ns {
		out[i] = model.ActorID(n.id)
	}
	return out
}

func (w *World) FindReachableAdjacentMatching(origin model.ActorID, pred func(loc model.Vec3i) bool, _ model.FactionID, maxRange int) (model.Vec3i, bool) {
	if w.actors[origin] == nil {
		return model.Vec3i{}, false
	}
	return movement.Walk(w.Location(model.ActorRef(origin)), maxRange, w.Passable, func(p model.Vec3i, _ int) bool {
		return pred(p)
	})
}

// ResourcesAt lists what lies or stands free at loc.
func (w *World) ResourcesAt(loc model.Vec3i) []model.Ref {
	var out []model.Ref
	for id, a := range w.actors {
		if r := model.ActorRef(id); a.Location == loc && w.onGround(r) {
			out = append(out, r)
		}
	}
	for id, it := range w.items {
		if r := model.ItemRef(id); it.Location == loc && w.onGround(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (w *World) Equipment(actor model.ActorID) []model.ItemID {
	a := w.actors[actor]
	if a == nil {
		return nil
	}
	var out []model.ItemID
	if a.Carrying.IsItem() {
		out = append(out, a.Carrying.Item())
	}
	return append(out, a.Equipped...)
}
