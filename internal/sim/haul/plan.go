package haul

import (
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/carry"
)

// PlanEnv is the read-only world view the planner needs. It is called from
// read phases and must not mutate anything.
type PlanEnv interface {
	Info(r model.Ref) (model.Info, bool)
	MoveSpeedForGroup(members []model.Ref, added carry.Load) int
	IsFullyReserved(r model.Ref, faction model.FactionID) bool
	// FreeLiftPoints counts enterable, unreserved locations around target.
	FreeLiftPoints(target model.Ref, faction model.FactionID) int
	CanEquip(actor model.ActorID, item model.ItemID) bool

	HaulToolsNear(origin model.ActorID, maxRange int) []model.ItemID
	PanniersNear(origin model.ActorID, maxRange int) []model.ItemID
	YokeablesNear(origin model.ActorID, maxRange int) []model.ActorID
}

type Request struct {
	Faction model.FactionID
	Leader  model.ActorID
	Target  model.Ref
	// Available is the quantity of Target the project still needs picked up.
	Available int
	MinSpeed  int
	// Teammates are idle workers of the same project, leader excluded.
	Teammates   []model.ActorID
	SearchRange int
}

// Plan picks the first strategy whose group can move at MinSpeed or better.
// A None result means the target cannot be hauled right now.
func Plan(env PlanEnv, req Request) Params {
	out := Params{Target: req.Target}
	if req.Available <= 0 || req.MinSpeed <= 0 {
		return out
	}
	target, ok := env.Info(req.Target)
	if !ok {
		return out
	}
	leader := model.ActorRef(req.Leader)
	wanted := req.Available
	if target.Quantity < wanted {
		wanted = target.Quantity
	}
	unit := target.UnitMass

	if target.Locomotion == model.LocomotionRoll && req.Target.IsItem() {
		if env.MoveSpeedForGroup([]model.Ref{leader, req.Target}, carry.Load{}) >= req.MinSpeed {
			return withWorkers(out, IndividualCargoIsCart, 1, req.Leader)
		}
		if mate, ok := teammate(env, req, []model.Ref{leader, req.Target}, carry.Load{}); ok {
			return withWorkers(out, Team, 1, req.Leader, mate)
		}
	}

	// Individual
	n := carry.MaxQuantity(wanted, func(q int) bool {
		return env.MoveSpeedForGroup([]model.Ref{leader}, carry.Load{Dead: q * unit}) >= req.MinSpeed
	})
	if n > 0 {
		return withWorkers(out, Individual, n, req.Leader)
	}

	// Team
	if env.FreeLiftPoints(req.Target, req.Faction) >= 2 {
		if mate, ok := teammate(env, req, []model.Ref{leader}, massOf(target, 1)); ok {
			return withWorkers(out, Team, 1, req.Leader, mate)
		}
	}

	if tool, ok := findTool(env, req, target); ok {
		toolInfo, _ := env.Info(model.ItemRef(tool))
		fits := fitByVolume(wanted, toolInfo.InternalVolume, target.Volume)
		toolRef := model.ItemRef(tool)

		// Cart
		n := carry.MaxQuantity(fits, func(q int) bool {
			return env.MoveSpeedForGroup([]model.Ref{leader, toolRef}, carry.Load{Rolling: q * unit}) >= req.MinSpeed
		})
		if n > 0 {
			p := withWorkers(out, Cart, n, req.Leader)
			p.Tool = tool
			return p
		}

		// AnimalCart
		if beast, ok := findYokeable(env, req, toolRef, unit); ok {
			beastRef := model.ActorRef(beast)
			n := carry.MaxQuantity(fits, func(q int) bool {
				return env.MoveSpeedForGroup([]model.Ref{leader, beastRef, toolRef}, carry.Load{Rolling: q * unit}) >= req.MinSpeed
			})
			if n > 0 {
				p := withWorkers(out, AnimalCart, n, req.Leader)
				p.Tool = tool
				p.Beast = beast
				return p
			}
		}

		// TeamCart
		if mate, ok := teammate(env, req, []model.Ref{leader, toolRef}, carry.Load{Rolling: unit}); ok {
			p := withWorkers(out, TeamCart, 1, req.Leader, mate)
			p.Tool = tool
			return p
		}
	}

	// Panniers
	if bearer, ok := findPannierBearer(env, req, unit); ok {
		if panniers, ok := findPanniers(env, req, bearer, target); ok {
			pInfo, _ := env.Info(model.ItemRef(panniers))
			fits := fitByVolume(wanted, pInfo.InternalVolume, target.Volume)
			bearerRef := model.ActorRef(bearer)
			n := carry.MaxQuantity(fits, func(q int) bool {
				return env.MoveSpeedForGroup([]model.Ref{leader, bearerRef}, carry.Load{Dead: q*unit + pInfo.TotalMass()}) >= req.MinSpeed
			})
			if n > 0 {
				p := withWorkers(out, Panniers, n, req.Leader)
				p.Tool = panniers
				p.Beast = bearer
				return p
			}
		}
	}
	return out
}

func withWorkers(p Params, s Strategy, qty int, workers ...model.ActorID) Params {
	p.Strategy = s
	p.Quantity = qty
	p.Workers = workers
	return p
}

func fitByVolume(wanted, capacity, volume int) int {
	if volume <= 0 {
		return wanted
	}
	if n := capacity / volume; n < wanted {
		return n
	}
	return wanted
}

func massOf(info model.Info, qty int) carry.Load {
	m := info.UnitMass * qty
	switch info.Locomotion {
	case model.LocomotionRoll:
		return carry.Load{Rolling: m}
	case model.LocomotionFloat:
		return carry.Load{Floating: m}
	}
	return carry.Load{Dead: m}
}

// teammate finds one idle sentient worker who, added to group, reaches MinSpeed.
func teammate(env PlanEnv, req Request, group []model.Ref, added carry.Load) (model.ActorID, bool) {
	for _, mate := range req.Teammates {
		if mate == req.Leader {
			continue
		}
		info, ok := env.Info(model.ActorRef(mate))
		if !ok || !info.Sentient {
			continue
		}
		members := append(append([]model.Ref(nil), group...), model.ActorRef(mate))
		if env.MoveSpeedForGroup(members, added) >= req.MinSpeed {
			return mate, true
		}
	}
	return 0, false
}

func findTool(env PlanEnv, req Request, target model.Info) (model.ItemID, bool) {
	for _, id := range env.HaulToolsNear(req.Leader, req.SearchRange) {
		ref := model.ItemRef(id)
		if ref == req.Target {
			continue
		}
		info, ok := env.Info(ref)
		if !ok || !info.HaulTool || info.Locomotion == model.LocomotionNone {
			continue
		}
		if info.InternalVolume < target.Volume || env.IsFullyReserved(ref, req.Faction) {
			continue
		}
		return id, true
	}
	return 0, false
}

func findYokeable(env PlanEnv, req Request, tool model.Ref, unit int) (model.ActorID, bool) {
	for _, id := range env.YokeablesNear(req.Leader, req.SearchRange) {
		ref := model.ActorRef(id)
		if id == req.Leader || env.IsFullyReserved(ref, req.Faction) {
			continue
		}
		if env.MoveSpeedForGroup([]model.Ref{ref, tool}, carry.Load{Rolling: unit}) >= req.MinSpeed {
			return id, true
		}
	}
	return 0, false
}

func findPannierBearer(env PlanEnv, req Request, unit int) (model.ActorID, bool) {
	for _, id := range env.YokeablesNear(req.Leader, req.SearchRange) {
		ref := model.ActorRef(id)
		if id == req.Leader || env.IsFullyReserved(ref, req.Faction) {
			continue
		}
		if env.MoveSpeedForGroup([]model.Ref{ref}, carry.Load{Dead: unit}) >= req.MinSpeed {
			return id, true
		}
	}
	return 0, false
}

func findPanniers(env PlanEnv, req Request, bearer model.ActorID, target model.Info) (model.ItemID, bool) {
	for _, id := range env.PanniersNear(req.Leader, req.SearchRange) {
		ref := model.ItemRef(id)
		info, ok := env.Info(ref)
		if !ok || !info.Panniers || info.InternalVolume < target.Volume {
			continue
		}
		if env.IsFullyReserved(ref, req.Faction) || !env.CanEquip(bearer, id) {
			continue
		}
		return id, true
	}
	return 0, false
}
