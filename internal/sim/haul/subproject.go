package haul

import (
	"sort"

	"hearthwork.ai/internal/sim/kernel/model"
)

// World is the mutable world a running haul drives. Only called from write
// phases.
type World interface {
	PlanEnv

	Location(r model.Ref) model.Vec3i
	IsAdjacentTo(actor model.ActorID, target model.Ref) bool
	IsAdjacentToLocation(actor model.ActorID, loc model.Vec3i) bool
	SetDestinationAdjacentTo(actor model.ActorID, target model.Ref)
	SetDestinationAdjacentToLocation(actor model.ActorID, loc model.Vec3i)
	SetDestination(actor model.ActorID, loc model.Vec3i)
	ClearPath(actor model.ActorID)
	// LiftPoints lists the enterable locations around target in a fixed order.
	LiftPoints(target model.Ref) []model.Vec3i

	IsCarrying(actor model.ActorID, r model.Ref) bool
	// PickUp returns the ref of what is now carried; a partial pickup of a
	// generic stack splits it.
	PickUp(actor model.ActorID, r model.Ref, qty int) model.Ref
	// PutDown drops whatever actor carries where it stands.
	PutDown(actor model.ActorID) model.Ref
	IsLeading(leader, follower model.Ref) bool
	IsFollowing(r model.Ref) bool
	Follow(follower, leader model.Ref)
	Unfollow(follower model.Ref)
	CargoContains(tool model.ItemID, r model.Ref) bool
	LoadCargo(tool model.ItemID, r model.Ref, qty int) model.Ref
	// UnloadCargo places r where the tool stands.
	UnloadCargo(tool model.ItemID, r model.Ref) model.Ref
	IsEquipped(actor model.ActorID, item model.ItemID) bool
	// Equip moves item from carrier's hands onto wearer.
	Equip(carrier, wearer model.ActorID, item model.ItemID)
	Place(r model.Ref, loc model.Vec3i)
}

// Claims are the reservations the owning project holds on the haul's behalf.
type Claims interface {
	// ReleaseTarget gives up the project's claim on qty of r once it has
	// been picked up or put under way.
	ReleaseTarget(r model.Ref, qty int)
	ReserveLocation(worker model.ActorID, loc model.Vec3i) bool
	ClearWorkerClaims(worker model.ActorID)
}

type Env interface {
	World
	Claims
}

type ID uint64

type Result uint8

const (
	Busy Result = iota
	Delivered
	// Stuck means the choreography cannot continue; the owner cancels.
	Stuck
)

// Subproject moves Quantity of Target to Destination. Which step comes next is
// worked out from who carries, leads or holds what; the only progress kept
// here is the identity of the cargo once it has been picked up.
type Subproject struct {
	ID ID `cbor:"id" json:"id"`
	Params
	Destination model.Vec3i `cbor:"destination" json:"destination"`
	// Requirement indexes the project requirement this haul serves.
	Requirement int `cbor:"requirement" json:"requirement"`

	Leader model.ActorID `cbor:"leader,omitempty" json:"leader,omitempty"`
	Moving bool          `cbor:"moving,omitempty" json:"moving,omitempty"`
	// Cargo is set once the project's claim on Target has been traded for
	// the thing actually being moved.
	Cargo      model.Ref                     `cbor:"cargo,omitempty" json:"cargo,omitempty"`
	LiftPoints map[model.ActorID]model.Vec3i `cbor:"lift_points,omitempty" json:"lift_points,omitempty"`
}

func New(id ID, p Params, dest model.Vec3i, requirement int) *Subproject {
	return &Subproject{ID: id, Params: p, Destination: dest, Requirement: requirement}
}

// Clone returns a copy that shares no slices or maps with s.
func (s *Subproject) Clone() *Subproject {
	c := *s
	c.Workers = append([]model.ActorID(nil), s.Workers...)
	if s.LiftPoints != nil {
		c.LiftPoints = make(map[model.ActorID]model.Vec3i, len(s.LiftPoints))
		for a, loc := range s.LiftPoints {
			c.LiftPoints[a] = loc
		}
	}
	return &c
}

func (s *Subproject) HasWorker(actor model.ActorID) bool {
	for _, w := range s.Workers {
		if w == actor {
			return true
		}
	}
	return false
}

// Command issues actor's next action. Delivered carries the ref of the
// delivered resource.
func (s *Subproject) Command(env Env, actor model.ActorID) (Result, model.Ref) {
	switch s.Strategy {
	case Individual, StrongSentient:
		return s.commandIndividual(env, actor)
	case IndividualCargoIsCart:
		return s.commandSoloPull(env, actor)
	case Team:
		return s.commandTeam(env, actor)
	case Cart:
		return s.commandCart(env, actor)
	case Panniers:
		return s.commandPanniers(env, actor)
	case AnimalCart:
		return s.commandAnimalCart(env, actor)
	case TeamCart:
		return s.commandTeamCart(env, actor)
	}
	return Stuck, model.Ref{}
}

func (s *Subproject) busy(env Env, actor model.ActorID, toward model.Ref) (Result, model.Ref) {
	env.SetDestinationAdjacentTo(actor, toward)
	return Busy, model.Ref{}
}

func (s *Subproject) toSite(env Env, actor model.ActorID) (Result, model.Ref) {
	env.SetDestinationAdjacentToLocation(actor, s.Destination)
	return Busy, model.Ref{}
}

func (s *Subproject) commandIndividual(env Env, actor model.ActorID) (Result, model.Ref) {
	if !s.Cargo.IsZero() {
		if !env.IsCarrying(actor, s.Cargo) {
			return Stuck, model.Ref{}
		}
		if env.IsAdjacentToLocation(actor, s.Destination) {
			return Delivered, env.PutDown(actor)
		}
		return s.toSite(env, actor)
	}
	if env.IsAdjacentTo(actor, s.Target) {
		env.ClearWorkerClaims(actor)
		env.ReleaseTarget(s.Target, s.Quantity)
		s.Cargo = env.PickUp(actor, s.Target, s.Quantity)
		return s.commandIndividual(env, actor)
	}
	return s.busy(env, actor, s.Target)
}

func (s *Subproject) commandSoloPull(env Env, actor model.ActorID) (Result, model.Ref) {
	me := model.ActorRef(actor)
	if env.IsLeading(me, s.Target) {
		if env.IsAdjacentToLocation(actor, s.Destination) {
			env.Unfollow(s.Target)
			return Delivered, s.Target
		}
		return s.toSite(env, actor)
	}
	if !s.Cargo.IsZero() {
		return Stuck, model.Ref{}
	}
	if env.IsAdjacentTo(actor, s.Target) {
		env.ClearWorkerClaims(actor)
		env.ReleaseTarget(s.Target, s.Quantity)
		env.Follow(s.Target, me)
		s.Cargo = s.Target
		return s.commandSoloPull(env, actor)
	}
	return s.busy(env, actor, s.Target)
}

func (s *Subproject) allAdjacentTo(env Env, r model.Ref) bool {
	for _, w := range s.Workers {
		if !env.IsAdjacentTo(w, r) {
			return false
		}
	}
	return true
}

func (s *Subproject) commandTeam(env Env, actor model.ActorID) (Result, model.Ref) {
	if s.Leader == 0 {
		s.Leader = actor
	}
	if s.Moving {
		if actor != s.Leader {
			return Busy, model.Ref{}
		}
		if env.IsAdjacentToLocation(actor, s.Destination) {
			env.Unfollow(s.Target)
			for _, w := range s.Workers {
				if w != s.Leader {
					env.Unfollow(model.ActorRef(w))
				}
			}
			env.Place(s.Target, env.Location(model.ActorRef(actor)))
			return Delivered, s.Target
		}
		return s.toSite(env, actor)
	}
	if lp, ok := s.LiftPoints[actor]; ok {
		if env.Location(model.ActorRef(actor)) != lp {
			env.SetDestination(actor, lp)
			return Busy, model.Ref{}
		}
		if !s.allAtLiftPoints(env) || !s.allAdjacentTo(env, s.Target) {
			return Busy, model.Ref{}
		}
		leader := model.ActorRef(s.Leader)
		env.Follow(s.Target, leader)
		for _, w := range s.Workers {
			if w != s.Leader {
				env.Follow(model.ActorRef(w), s.Target)
			}
			env.ClearWorkerClaims(w)
		}
		env.ReleaseTarget(s.Target, s.Quantity)
		s.Moving = true
		s.Cargo = s.Target
		env.SetDestinationAdjacentToLocation(s.Leader, s.Destination)
		return Busy, model.Ref{}
	}
	for _, loc := range env.LiftPoints(s.Target) {
		if s.liftPointTaken(loc) {
			continue
		}
		if env.ReserveLocation(actor, loc) {
			if s.LiftPoints == nil {
				s.LiftPoints = map[model.ActorID]model.Vec3i{}
			}
			s.LiftPoints[actor] = loc
			env.SetDestination(actor, loc)
			return Busy, model.Ref{}
		}
	}
	return Stuck, model.Ref{}
}

func (s *Subproject) liftPointTaken(loc model.Vec3i) bool {
	for _, p := range s.LiftPoints {
		if p == loc {
			return true
		}
	}
	return false
}

func (s *Subproject) allAtLiftPoints(env Env) bool {
	for _, w := range s.Workers {
		lp, ok := s.LiftPoints[w]
		if !ok || env.Location(model.ActorRef(w)) != lp {
			return false
		}
	}
	return true
}

// cargoStep drives a container that is already under way: load at the
// target, then unload at the site.
func (s *Subproject) cargoStep(env Env, actor model.ActorID, onUnload func()) (Result, model.Ref) {
	if !s.Cargo.IsZero() {
		if !env.CargoContains(s.Tool, s.Cargo) {
			return Stuck, model.Ref{}
		}
		if env.IsAdjacentToLocation(actor, s.Destination) {
			delivered := env.UnloadCargo(s.Tool, s.Cargo)
			onUnload()
			return Delivered, delivered
		}
		return s.toSite(env, actor)
	}
	if env.IsAdjacentTo(actor, s.Target) {
		env.ReleaseTarget(s.Target, s.Quantity)
		s.Cargo = env.LoadCargo(s.Tool, s.Target, s.Quantity)
		env.ClearWorkerClaims(actor)
		return s.toSite(env, actor)
	}
	return s.busy(env, actor, s.Target)
}

func (s *Subproject) commandCart(env Env, actor model.ActorID) (Result, model.Ref) {
	me, tool := model.ActorRef(actor), model.ItemRef(s.Tool)
	if env.IsLeading(me, tool) {
		return s.cargoStep(env, actor, func() { env.Unfollow(tool) })
	}
	if env.IsAdjacentTo(actor, tool) {
		env.Follow(tool, me)
		env.ClearWorkerClaims(actor)
		return s.busy(env, actor, s.Target)
	}
	return s.busy(env, actor, tool)
}

func (s *Subproject) commandPanniers(env Env, actor model.ActorID) (Result, model.Ref) {
	me, tool, beast := model.ActorRef(actor), model.ItemRef(s.Tool), model.ActorRef(s.Beast)
	if env.IsEquipped(s.Beast, s.Tool) {
		if !env.IsLeading(me, beast) {
			if !env.IsAdjacentTo(actor, beast) {
				return s.busy(env, actor, beast)
			}
			env.Follow(beast, me)
		}
		return s.cargoStep(env, actor, func() { env.Unfollow(beast) })
	}
	if env.IsCarrying(actor, tool) {
		if env.IsAdjacentTo(actor, beast) {
			env.Equip(actor, s.Beast, s.Tool)
			env.Follow(beast, me)
			env.ClearWorkerClaims(actor)
			return s.busy(env, actor, s.Target)
		}
		return s.busy(env, actor, beast)
	}
	if env.IsAdjacentTo(actor, tool) {
		env.PickUp(actor, tool, 1)
		env.ClearWorkerClaims(actor)
		return s.busy(env, actor, beast)
	}
	return s.busy(env, actor, tool)
}

func (s *Subproject) commandAnimalCart(env Env, actor model.ActorID) (Result, model.Ref) {
	me, tool, beast := model.ActorRef(actor), model.ItemRef(s.Tool), model.ActorRef(s.Beast)
	if env.IsLeading(beast, tool) {
		return s.cargoStep(env, actor, func() {
			env.Unfollow(tool)
			env.Unfollow(beast)
		})
	}
	if env.IsLeading(me, beast) {
		if env.IsAdjacentTo(actor, tool) {
			env.Follow(tool, beast)
			env.ClearWorkerClaims(actor)
			return s.busy(env, actor, s.Target)
		}
		return s.busy(env, actor, tool)
	}
	if env.IsAdjacentTo(actor, beast) {
		env.Follow(beast, me)
		env.ClearWorkerClaims(actor)
		return s.busy(env, actor, tool)
	}
	return s.busy(env, actor, beast)
}

func (s *Subproject) commandTeamCart(env Env, actor model.ActorID) (Result, model.Ref) {
	if s.Leader == 0 {
		s.Leader = actor
	}
	me, tool := model.ActorRef(actor), model.ItemRef(s.Tool)
	if env.IsLeading(me, tool) {
		return s.cargoStep(env, actor, func() {
			env.Unfollow(tool)
			for _, w := range s.Workers {
				if w != s.Leader {
					env.Unfollow(model.ActorRef(w))
				}
			}
		})
	}
	if env.IsFollowing(me) {
		return Busy, model.Ref{}
	}
	if !env.IsAdjacentTo(actor, tool) {
		return s.busy(env, actor, tool)
	}
	if !s.allAdjacentTo(env, tool) {
		return Busy, model.Ref{}
	}
	leader := model.ActorRef(s.Leader)
	env.Follow(tool, leader)
	for _, w := range s.Workers {
		if w != s.Leader {
			env.Follow(model.ActorRef(w), tool)
		}
		env.ClearWorkerClaims(w)
	}
	env.SetDestinationAdjacentTo(s.Leader, s.Target)
	return Busy, model.Ref{}
}

// Abandon undoes whatever is in flight: cargo is put down, trains are broken
// up, paths and worker claims are cleared. It returns what now stands for the
// hauled quantity and whether the project's claim on it was already given up.
func (s *Subproject) Abandon(env Env) (returned model.Ref, released bool) {
	released = !s.Cargo.IsZero()
	returned = s.Target
	if released {
		returned = s.Cargo
	}
	for _, w := range s.sortedWorkers() {
		me := model.ActorRef(w)
		if released && env.IsCarrying(w, s.Cargo) {
			returned = env.PutDown(w)
		} else if s.Tool != 0 && env.IsCarrying(w, model.ItemRef(s.Tool)) {
			env.PutDown(w)
		}
		if env.IsFollowing(me) {
			env.Unfollow(me)
		}
		env.ClearPath(w)
		env.ClearWorkerClaims(w)
	}
	if s.Tool != 0 {
		tool := model.ItemRef(s.Tool)
		if released && env.CargoContains(s.Tool, s.Cargo) {
			returned = env.UnloadCargo(s.Tool, s.Cargo)
		}
		if env.IsFollowing(tool) {
			env.Unfollow(tool)
		}
	}
	if s.Beast != 0 && env.IsFollowing(model.ActorRef(s.Beast)) {
		env.Unfollow(model.ActorRef(s.Beast))
	}
	if env.IsFollowing(s.Target) {
		env.Unfollow(s.Target)
	}
	return returned, released
}

func (s *Subproject) sortedWorkers() []model.ActorID {
	out := append([]model.ActorID(nil), s.Workers...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
