package gridworld

import (
	"fmt"
	"sort"

	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/reserve"
)

type ActorState struct {
	ID         model.ActorID        `cbor:"id" json:"id"`
	Species    string               `cbor:"species" json:"species"`
	Faction    model.FactionID      `cbor:"faction,omitempty" json:"faction,omitempty"`
	Location   model.Vec3i          `cbor:"location" json:"location"`
	Carrying   model.Ref            `cbor:"carrying,omitempty" json:"carrying,omitempty"`
	Equipped   []model.ItemID       `cbor:"equipped,omitempty" json:"equipped,omitempty"`
	Path       []model.Vec3i        `cbor:"path,omitempty" json:"path,omitempty"`
	Reservable reserve.ReservableID `cbor:"reservable" json:"reservable"`
}

type ItemState struct {
	ID         model.ItemID         `cbor:"id" json:"id"`
	Type       string               `cbor:"type" json:"type"`
	Material   string               `cbor:"material,omitempty" json:"material,omitempty"`
	Quantity   int                  `cbor:"quantity" json:"quantity"`
	Location   model.Vec3i          `cbor:"location" json:"location"`
	Holder     model.Ref            `cbor:"holder,omitempty" json:"holder,omitempty"`
	Cargo      []model.Ref          `cbor:"cargo,omitempty" json:"cargo,omitempty"`
	Reservable reserve.ReservableID `cbor:"reservable" json:"reservable"`
}

type FollowState struct {
	Follower model.Ref `cbor:"follower" json:"follower"`
	Leader   model.Ref `cbor:"leader" json:"leader"`
}

type LocationState struct {
	Location   model.Vec3i          `cbor:"location" json:"location"`
	Reservable reserve.ReservableID `cbor:"reservable" json:"reservable"`
}

type State struct {
	Width     int             `cbor:"width" json:"width"`
	Depth     int             `cbor:"depth" json:"depth"`
	Walls     []model.Vec3i   `cbor:"walls,omitempty" json:"walls,omitempty"`
	Actors    []ActorState    `cbor:"actors" json:"actors"`
	Items     []ItemState     `cbor:"items" json:"items"`
	Follow    []FollowState   `cbor:"follow,omitempty" json:"follow,omitempty"`
	Locations []LocationState `cbor:"locations,omitempty" json:"locations,omitempty"`
	NextActor uint64          `cbor:"next_actor" json:"next_actor"`
	NextItem  uint64          `cbor:"next_item" json:"next_item"`
}

func lessVec(a, b model.Vec3i) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Z != b.Z {
		return a.Z < b.Z
	}
	return a.Y < b.Y
}

func (w *World) Export() State {
	st := State{Width: w.cfg.Width, Depth: w.cfg.Depth, NextActor: w.nextActor, NextItem: w.nextItem}
	for p := range w.walls {
		st.Walls = append(st.Walls, p)
	}
	sort.Slice(st.Walls, func(i, j int) bool { return lessVec(st.Walls[i], st.Walls[j]) })
	for _, id := range w.ActorIDs() {
		a := w.actors[id]
		st.Actors = append(st.Actors, ActorState{
			ID:         id,
			Species:    a.Species,
			Faction:    a.Faction,
			Location:   a.Location,
			Carrying:   a.Carrying,
			Equipped:   append([]model.ItemID(nil), a.Equipped...),
			Path:       append([]model.Vec3i(nil), a.Path...),
			Reservable: a.reservable,
		})
	}
	for _, id := range w.ItemIDs() {
		it := w.items[id]
		st.Items = append(st.Items, ItemState{
			ID:         id,
			Type:       it.Type,
			Material:   it.Material,
			Quantity:   it.Quantity,
			Location:   it.Location,
			Holder:     it.Holder,
			Cargo:      append([]model.Ref(nil), it.Cargo...),
			Reservable: it.reservable,
		})
	}
	for f, l := range w.follow {
		st.Follow = append(st.Follow, FollowState{Follower: f, Leader: l})
	}
	sort.Slice(st.Follow, func(i, j int) bool { return st.Follow[i].Follower.Less(st.Follow[j].Follower) })
	for loc, rid := range w.locations {
		st.Locations = append(st.Locations, LocationState{Location: loc, Reservable: rid})
	}
	sort.Slice(st.Locations, func(i, j int) bool { return lessVec(st.Locations[i].Location, st.Locations[j].Location) })
	return st
}

// Import rebuilds the world from st. The ledger must already hold every
// reservable st names; species and item types are re-read from the catalogs.
func (w *World) Import(st State) error {
	w.cfg.Width, w.cfg.Depth = st.Width, st.Depth
	w.walls = map[model.Vec3i]bool{}
	w.actors = map[model.ActorID]*Actor{}
	w.items = map[model.ItemID]*Item{}
	w.follow = map[model.Ref]model.Ref{}
	w.carriedBy = map[model.ActorID]model.ActorID{}
	w.locations = map[model.Vec3i]reserve.ReservableID{}
	w.nextActor, w.nextItem = st.NextActor, st.NextItem

	for _, p := range st.Walls {
		w.walls[p] = true
	}
	for _, as := range st.Actors {
		def, ok := w.cats.Species.Defs[as.Species]
		if !ok {
			return fmt.Errorf("import world: actor %d has unknown species %q", as.ID, as.Species)
		}
		if !w.ledger.Exists(as.Reservable) {
			return fmt.Errorf("import world: actor %d reservable %d missing", as.ID, as.Reservable)
		}
		w.actors[as.ID] = &Actor{
			ID:         as.ID,
			Species:    as.Species,
			Faction:    as.Faction,
			Location:   as.Location,
			Mass:       def.Mass,
			CarryMass:  def.CarryMass,
			Speed:      def.Speed,
			Sentient:   def.Sentient,
			Yokeable:   def.Yokeable,
			Immobile:   def.Immobile,
			Carrying:   as.Carrying,
			Equipped:   append([]model.ItemID(nil), as.Equipped...),
			Path:       append([]model.Vec3i(nil), as.Path...),
			reservable: as.Reservable,
		}
	}
	for _, a := range w.actors {
		if a.Carrying.IsActor() {
			w.carriedBy[a.Carrying.Actor()] = a.ID
		}
	}
	for _, is := range st.Items {
		if !w.ledger.Exists(is.Reservable) {
			return fmt.Errorf("import world: item %d reservable %d missing", is.ID, is.Reservable)
		}
		it := &Item{
			ID:         is.ID,
			Type:       is.Type,
			Material:   is.Material,
			Quantity:   is.Quantity,
			UnitMass:   1,
			Volume:     1,
			Generic:    true,
			Location:   is.Location,
			Holder:     is.Holder,
			Cargo:      append([]model.Ref(nil), is.Cargo...),
			reservable: is.Reservable,
		}
		if def, ok := w.cats.Items.Defs[is.Type]; ok {
			it.UnitMass = def.UnitMass
			it.Volume = def.Volume
			it.InternalVolume = def.InternalVolume
			it.Locomotion = def.Moves()
			it.Generic = def.Generic
			it.HaulTool = def.HaulTool
			it.Panniers = def.Panniers
		}
		w.items[is.ID] = it
	}
	for _, f := range st.Follow {
		w.follow[f.Follower] = f.Leader
	}
	for _, l := range st.Locations {
		w.locations[l.Location] = l.Reservable
	}
	return nil
}
