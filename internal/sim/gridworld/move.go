package gridworld

import (
	"sort"

	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/movement"
)

func nearOrAt(a, b model.Vec3i) bool { return a == b || model.IsAdjacent(a, b) }

func (w *World) route(actor model.ActorID, goal func(model.Vec3i) bool) {
	a := w.actors[actor]
	if a == nil {
		return
	}
	path, ok := movement.Path(w.Location(model.ActorRef(actor)), goal, 0, w.Passable)
	if !ok {
		path = nil
	}
	a.Path = path
}

func (w *World) SetDestination(actor model.ActorID, loc model.Vec3i) {
	w.route(actor, func(p model.Vec3i) bool { return p == loc })
}

func (w *World) SetDestinationAdjacentTo(actor model.ActorID, target model.Ref) {
	w.SetDestinationAdjacentToLocation(actor, w.Location(target))
}

func (w *World) SetDestinationAdjacentToLocation(actor model.ActorID, loc model.Vec3i) {
	w.route(actor, func(p model.Vec3i) bool { return nearOrAt(p, loc) })
}

func (w *World) ClearPath(actor model.ActorID) {
	if a := w.actors[actor]; a != nil {
		a.Path = nil
	}
}

func (w *World) IsAdjacentTo(actor model.ActorID, target model.Ref) bool {
	if w.actors[actor] == nil || !w.exists(target) {
		return false
	}
	return nearOrAt(w.Location(model.ActorRef(actor)), w.Location(target))
}

func (w *World) IsAdjacentToLocation(actor model.ActorID, loc model.Vec3i) bool {
	if w.actors[actor] == nil {
		return false
	}
	return nearOrAt(w.Location(model.ActorRef(actor)), loc)
}

func (w *World) PathExists(actor model.ActorID, dest model.Vec3i) bool {
	if w.actors[actor] == nil {
		return false
	}
	_, ok := movement.Path(w.Location(model.ActorRef(actor)), func(p model.Vec3i) bool { return nearOrAt(p, dest) }, 0, w.Passable)
	return ok
}

// LiftPoints are the passable cells around target in neighbor order.
func (w *World) LiftPoints(target model.Ref) []model.Vec3i {
	loc := w.Location(target)
	var out []model.Vec3i
	for _, d := range model.Neighbors4 {
		if p := loc.Add(d); w.Passable(p) {
			out = append(out, p)
		}
	}
	return out
}

// IsIdle reports an actor with nowhere to go that is moving on its own.
func (w *World) IsIdle(actor model.ActorID) bool {
	a := w.actors[actor]
	if a == nil || len(a.Path) > 0 {
		return false
	}
	if _, carried := w.carriedBy[actor]; carried {
		return false
	}
	return !w.IsFollowing(model.ActorRef(actor))
}

// Step moves every actor with a path one cell, in id order, and drags
// whatever trails it into the cells left behind.
func (w *World) Step() {
	for _, id := range w.ActorIDs() {
		a := w.actors[id]
		if a == nil || len(a.Path) == 0 || a.Immobile {
			continue
		}
		me := model.ActorRef(id)
		if _, carried := w.carriedBy[id]; carried || w.IsFollowing(me) {
			continue
		}
		next := a.Path[0]
		if !w.Passable(next) {
			a.Path = nil
			continue
		}
		prev := a.Location
		a.Location = next
		a.Path = a.Path[1:]
		w.drag(me, prev, map[model.Ref]bool{me: true})
	}
}

func (w *World) drag(leader model.Ref, vacated model.Vec3i, seen map[model.Ref]bool) {
	for _, f := range w.followersOf(leader) {
		if seen[f] {
			continue
		}
		seen[f] = true
		prev := w.Location(f)
		w.setGround(f, vacated)
		w.drag(f, prev, seen)
	}
}

func (w *World) followersOf(leader model.Ref) []model.Ref {
	var out []model.Ref
	for f, l := range w.follow {
		if l == leader {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (w *World) setGround(r model.Ref, loc model.Vec3i) {
	switch r.Kind {
	case model.RefActor:
		if a := w.actors[r.Actor()]; a != nil {
			a.Location = loc
		}
	case model.RefItem:
		if it := w.items[r.Item()]; it != nil && it.Holder.IsZero() {
			it.Location = loc
		}
	}
}
