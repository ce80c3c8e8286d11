package project

import (
	"context"

	"hearthwork.ai/internal/sim/haul"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/ids"
	"hearthwork.ai/internal/sim/reserve"
)

// dispatchTask plans one haul for the backlog. The plan is made against
// the world as it stood in the read phase and checked again before the
// haul starts.
type dispatchTask struct {
	e     *Engine
	p     *Project
	token uint64

	plan        haul.Params
	requirement int
}

func (e *Engine) ensureDispatch(p *Project) {
	if p.done || p.delayed || len(p.toPickup) == 0 || p.dispatch.Active() || p.nextDispatch.Active() {
		return
	}
	p.dispatch = e.tl.Submit(&dispatchTask{e: e, p: p, token: p.guard.Token()})
}

// scheduleDispatch queues the next attempt after the dispatch interval.
func (e *Engine) scheduleDispatch(p *Project) {
	if p.nextDispatch.Active() {
		return
	}
	e.scheduleNextDispatch(p, e.tuning.Haul.StepsBetweenDispatch)
}

func (t *dispatchTask) Read(ctx context.Context) {
	w, p := t.e.world, t.p
	t.plan, t.requirement = haul.Params{}, 0
	idle := p.idleWorkers()
	for _, leader := range idle {
		if ctx.Err() != nil {
			return
		}
		var target model.Ref
		_, ok := w.FindReachableAdjacentMatching(leader, func(loc model.Vec3i) bool {
			for _, r := range w.ResourcesAt(loc) {
				if _, ok := p.toPickup[r]; ok {
					target = r
					return true
				}
			}
			return false
		}, p.Faction, t.e.tuning.Projects.MaxSearchRange)
		if !ok {
			continue
		}
		mates := make([]model.ActorID, 0, len(idle)-1)
		for _, a := range idle {
			if a != leader {
				mates = append(mates, a)
			}
		}
		pu := p.toPickup[target]
		plan := haul.Plan(w, haul.Request{
			Faction:     p.Faction,
			Leader:      leader,
			Target:      target,
			Available:   pu.quantity,
			MinSpeed:    p.minimumHaulSpeed,
			Teammates:   mates,
			SearchRange: t.e.tuning.Haul.MaxToolSearchRange,
		})
		if plan.Ok() {
			t.plan = plan
			t.requirement = pu.requirement
			return
		}
	}
}

func (t *dispatchTask) Write() {
	e, p := t.e, t.p
	if p.done || !p.guard.Live(t.token) {
		return
	}
	p.dispatch = nil
	if len(p.toPickup) == 0 {
		return
	}
	if !t.plan.Ok() {
		e.noStrategy(p)
		return
	}
	if !e.planStillValid(p, t.plan) {
		e.ensureDispatch(p)
		return
	}
	p.haulRetries = 0
	s := e.startHaul(p, t.plan, t.requirement)
	if len(p.toPickup) > 0 && len(p.idleWorkers()) > 0 {
		e.scheduleDispatch(p)
	}
	for _, a := range s.Workers {
		if p.done || p.hauls[s.ID] == nil {
			return
		}
		e.commandHaul(p, s, a)
	}
}

// noStrategy lowers the speed bar for the next attempt; at the retry
// ceiling the project delays, or is cancelled if it cannot reset.
func (e *Engine) noStrategy(p *Project) {
	pol := e.policy(p)
	p.haulRetries++
	e.emit(p, Event{Kind: EventHaulNoStrategy, Quantity: p.minimumHaulSpeed})
	if p.haulRetries >= pol.HaulRetriesBeforeDelay {
		if pol.CanReset {
			e.delay(p, "nothing can haul the backlog")
		} else {
			e.cancel(p, "nothing can haul the backlog")
		}
		return
	}
	if p.minimumHaulSpeed > 1 {
		p.minimumHaulSpeed--
	}
	e.scheduleDispatch(p)
}

func (e *Engine) planStillValid(p *Project, plan haul.Params) bool {
	pu, ok := p.toPickup[plan.Target]
	if !ok || pu.quantity < plan.Quantity {
		return false
	}
	for _, a := range plan.Workers {
		w := p.workers[a]
		if w == nil || w.haul != 0 || p.making[a] {
			return false
		}
	}
	if plan.Tool != 0 && e.world.IsFullyReserved(model.ItemRef(plan.Tool), p.Faction) {
		return false
	}
	if plan.Beast != 0 && e.world.IsFullyReserved(model.ActorRef(plan.Beast), p.Faction) {
		return false
	}
	return true
}

func (e *Engine) startHaul(p *Project, plan haul.Params, requirement int) *haul.Subproject {
	e.nextHaul++
	s := haul.New(haul.ID(e.nextHaul), plan, p.Location, requirement)
	cb := reserve.Callback{Kind: cbHaul, Target: uint64(s.ID)}
	if plan.Tool != 0 {
		e.reserveOne(p, model.ItemRef(plan.Tool), cb)
	}
	if plan.Beast != 0 {
		e.reserveOne(p, model.ActorRef(plan.Beast), cb)
	}
	pu := p.toPickup[plan.Target]
	pu.quantity -= plan.Quantity
	if pu.quantity <= 0 {
		delete(p.toPickup, plan.Target)
	} else {
		p.toPickup[plan.Target] = pu
	}
	p.hauls[s.ID] = s
	e.haulOwner[s.ID] = p.ID
	for _, a := range plan.Workers {
		p.workers[a].haul = s.ID
	}
	e.emit(p, Event{
		Kind:     EventHaulStarted,
		Haul:     ids.Format(ids.PrefixSubproject, uint64(s.ID)),
		Strategy: plan.Strategy.String(),
		Target:   plan.Target.String(),
		Quantity: plan.Quantity,
		Actor:    uint64(plan.Workers[0]),
	})
	return s
}

func (e *Engine) reserveOne(p *Project, r model.Ref, cb reserve.Callback) {
	if rid, ok := e.world.Reservable(r); ok {
		e.ledger.Reserve(p.holder, rid, 1, cb)
	}
}

func (e *Engine) commandHaul(p *Project, s *haul.Subproject, actor model.ActorID) {
	res, ref := s.Command(e.haulEnv(p), actor)
	switch res {
	case haul.Delivered:
		e.completeHaul(p, s, ref)
	case haul.Stuck:
		e.cancelHaul(p, s, "haul stuck")
	}
}

func (e *Engine) releaseHaulClaims(p *Project, s *haul.Subproject) {
	for _, r := range []model.Ref{model.ItemRef(s.Tool), model.ActorRef(s.Beast)} {
		if r.ID == 0 {
			continue
		}
		if rid, ok := e.world.Reservable(r); ok && e.ledger.Exists(rid) {
			e.ledger.ReleaseAll(p.holder, rid)
		}
	}
	for _, a := range s.Workers {
		if h, ok := e.workerHolders[a]; ok {
			e.ledger.ReleaseEverything(h)
		}
	}
}

func (e *Engine) endHaul(p *Project, s *haul.Subproject) {
	e.releaseHaulClaims(p, s)
	delete(p.hauls, s.ID)
	delete(e.haulOwner, s.ID)
	for _, a := range s.Workers {
		if w := p.workers[a]; w != nil && w.haul == s.ID {
			w.haul = 0
		}
	}
}

func (e *Engine) completeHaul(p *Project, s *haul.Subproject, delivered model.Ref) {
	e.endHaul(p, s)
	req := &p.reqs[s.Requirement]
	req.Delivered += s.Quantity
	if rid, ok := e.world.Reservable(delivered); ok && e.world.UnreservedQuantity(delivered, p.Faction) >= s.Quantity {
		e.ledger.Reserve(p.holder, rid, s.Quantity, reserve.Callback{Kind: cbReset, Target: uint64(p.ID)})
	}
	if req.Consumed && delivered.IsItem() {
		p.toConsume[delivered.Item()] += s.Quantity
	}
	p.delivered = append(p.delivered, delivered)
	p.Hooks.OnDelivered(p, delivered)
	p.deliveriesComplete = p.reqs.DeliveriesComplete()
	e.emit(p, Event{
		Kind:     EventHaulDelivered,
		Haul:     ids.Format(ids.PrefixSubproject, uint64(s.ID)),
		Strategy: s.Strategy.String(),
		Target:   delivered.String(),
		Quantity: s.Quantity,
	})
	e.recommand(p, s)
}

// cancelHaul puts the hauled quantity back in the backlog under the
// project's claim.
func (e *Engine) cancelHaul(p *Project, s *haul.Subproject, reason string) {
	returned, released := s.Abandon(e.haulEnv(p))
	e.endHaul(p, s)
	e.emit(p, Event{
		Kind:     EventHaulCancelled,
		Haul:     ids.Format(ids.PrefixSubproject, uint64(s.ID)),
		Strategy: s.Strategy.String(),
		Target:   returned.String(),
		Quantity: s.Quantity,
		Reason:   reason,
	})
	if released {
		rid, ok := e.world.Reservable(returned)
		if !ok || e.world.UnreservedQuantity(returned, p.Faction) < s.Quantity {
			e.resetOrCancel(p, "hauled resource lost")
			return
		}
		e.ledger.Reserve(p.holder, rid, s.Quantity, reserve.Callback{Kind: cbReset, Target: uint64(p.ID)})
	}
	pu := p.toPickup[returned]
	pu.requirement = s.Requirement
	pu.quantity += s.Quantity
	p.toPickup[returned] = pu
	e.recommand(p, s)
}

func (e *Engine) recommand(p *Project, s *haul.Subproject) {
	for _, a := range s.Workers {
		if p.done {
			return
		}
		if p.workers[a] != nil {
			e.CommandWorker(a)
		}
	}
}
