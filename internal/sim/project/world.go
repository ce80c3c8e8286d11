package project

import (
	"hearthwork.ai/internal/sim/haul"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/reserve"
)

// World is everything the engine needs from the simulation. Read-only
// methods may be called from read phases concurrently with each other;
// mutating methods are only called from write phases and events.
type World interface {
	haul.World

	// PathExists reports whether actor can reach a cell adjacent to dest.
	PathExists(actor model.ActorID, dest model.Vec3i) bool
	// FindReachableAdjacentMatching walks outward from origin in a fixed
	// order, stopping at the first location for which pred returns true.
	FindReachableAdjacentMatching(origin model.ActorID, pred func(loc model.Vec3i) bool, faction model.FactionID, maxRange int) (model.Vec3i, bool)
	// ResourcesAt lists placed actors and items at loc in ref order.
	ResourcesAt(loc model.Vec3i) []model.Ref
	// Equipment lists what actor carries or wears.
	Equipment(actor model.ActorID) []model.ItemID
	UnreservedQuantity(r model.Ref, faction model.FactionID) int
	IsLocationReservable(loc model.Vec3i, faction model.FactionID) bool

	Reservable(r model.Ref) (reserve.ReservableID, bool)
	LocationReservable(loc model.Vec3i) reserve.ReservableID

	// Consume destroys qty of item.
	Consume(item model.ItemID, qty int)
	Spawn(loc model.Vec3i, typ, material string, qty int) model.ItemID
}

// Objective is the per-worker controller that hands workers to projects.
type Objective interface {
	ProjectComplete(p ID)
	// Reset releases the worker back to choosing work.
	Reset(p ID)
	// CannotReserve means the worker could not join; avoid p for a while.
	CannotReserve(p ID)
	// CannotComplete means p was cancelled under the worker.
	CannotComplete(p ID)
}

// haulEnv hands a subproject the world plus the claims of its project.
type haulEnv struct {
	World
	e *Engine
	p *Project
}

func (h haulEnv) ReleaseTarget(r model.Ref, qty int) {
	rid, ok := h.World.Reservable(r)
	if !ok || !h.e.ledger.Exists(rid) {
		return
	}
	held := h.e.ledger.ReservedBy(rid, h.p.holder)
	switch {
	case held == 0:
	case held > qty:
		h.e.ledger.Release(h.p.holder, rid, qty)
	default:
		h.e.ledger.ReleaseAll(h.p.holder, rid)
	}
}

func (h haulEnv) ReserveLocation(worker model.ActorID, loc model.Vec3i) bool {
	if !h.World.IsLocationReservable(loc, h.p.Faction) {
		return false
	}
	h.e.ledger.Reserve(h.e.workerHolder(worker, h.p.Faction), h.World.LocationReservable(loc), 1, reserve.Callback{})
	return true
}

func (h haulEnv) ClearWorkerClaims(worker model.ActorID) {
	if hid, ok := h.e.workerHolders[worker]; ok {
		h.e.ledger.ReleaseEverything(hid)
	}
}
