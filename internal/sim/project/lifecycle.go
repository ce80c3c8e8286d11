package project

import (
	"sort"

	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/mathx"
	"hearthwork.ai/internal/sim/reserve"
)

// CommandWorker gives an attached, idle worker its next action. Call it once
// per step for each such worker; candidates are left waiting.
func (e *Engine) CommandWorker(actor model.ActorID) {
	p, ok := e.ProjectOf(actor)
	if !ok || p.done || p.delayed {
		return
	}
	w := p.workers[actor]
	if w == nil {
		return
	}
	if w.haul != 0 {
		if s := p.hauls[w.haul]; s != nil {
			e.commandHaul(p, s, actor)
			return
		}
		w.haul = 0
	}
	if p.making[actor] || !p.reservationsComplete {
		return
	}
	if len(p.toPickup) > 0 {
		e.ensureDispatch(p)
		return
	}
	if e.policy(p).HaulingOnly && !p.deliveriesComplete && !p.hasKit(actor) {
		e.releaseIdle(p, actor)
		return
	}
	if !e.world.IsAdjacentToLocation(actor, p.Location) {
		e.world.SetDestinationAdjacentToLocation(actor, p.Location)
		return
	}
	e.deliverKits(p, actor)
	if p.deliveriesComplete {
		e.addToMaking(p, actor)
	}
}

// RemoveWorker detaches actor from its project. A haul it was on is
// cancelled; a project left without workers resets or, if it cannot, is
// cancelled.
func (e *Engine) RemoveWorker(actor model.ActorID) {
	p, ok := e.ProjectOf(actor)
	if !ok {
		return
	}
	if p.isCandidate(actor) {
		p.dropCandidate(actor)
		delete(e.assigned, actor)
		return
	}
	w := p.workers[actor]
	if w == nil {
		return
	}
	delete(p.workers, actor)
	delete(e.assigned, actor)
	e.emit(p, Event{Kind: EventLeft, Actor: uint64(actor)})
	if w.haul != 0 {
		if s := p.hauls[w.haul]; s != nil {
			e.cancelHaul(p, s, "worker left")
		}
	}
	e.clearWorker(actor)
	if p.done {
		return
	}
	if p.making[actor] {
		delete(p.making, actor)
		e.rescheduleFinish(p)
	}
	if e.dropKits(p, actor) {
		e.resetOrCancel(p, "worker left with equipment")
		return
	}
	if len(p.workers) == 0 {
		e.resetOrCancel(p, "no workers")
	}
}

func (e *Engine) addWorker(p *Project, actor model.ActorID, obj Objective) {
	p.workers[actor] = &worker{objective: obj}
	e.assigned[actor] = p.ID
	e.workerHolder(actor, p.Faction)
	e.emit(p, Event{Kind: EventJoined, Actor: uint64(actor)})
}

// releaseIdle hands an idle worker back without touching the project.
func (e *Engine) releaseIdle(p *Project, actor model.ActorID) {
	w := p.workers[actor]
	delete(p.workers, actor)
	delete(e.assigned, actor)
	e.clearWorker(actor)
	e.emit(p, Event{Kind: EventLeft, Actor: uint64(actor), Reason: "hauling done"})
	w.objective.Reset(p.ID)
}

func (p *Project) hasKit(actor model.ActorID) bool {
	for _, k := range p.kits {
		if k.worker == actor {
			return true
		}
	}
	return false
}

func (p *Project) kitItems(actor model.ActorID) []model.ItemID {
	var out []model.ItemID
	for item, k := range p.kits {
		if k.worker == actor {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deliverKits counts what actor brought along as delivered.
func (e *Engine) deliverKits(p *Project, actor model.ActorID) {
	for _, item := range p.kitItems(actor) {
		k := p.kits[item]
		delete(p.kits, item)
		req := &p.reqs[k.requirement]
		req.Delivered += k.quantity
		if req.Consumed {
			p.toConsume[item] += k.quantity
		}
		ref := model.ItemRef(item)
		p.delivered = append(p.delivered, ref)
		p.Hooks.OnDelivered(p, ref)
	}
	p.deliveriesComplete = p.reqs.DeliveriesComplete()
}

// dropKits releases the kits of actor and reports whether any were lost.
func (e *Engine) dropKits(p *Project, actor model.ActorID) bool {
	items := p.kitItems(actor)
	for _, item := range items {
		k := p.kits[item]
		delete(p.kits, item)
		if rid, ok := e.world.Reservable(model.ItemRef(item)); ok && e.ledger.Exists(rid) {
			e.ledger.ReleaseAll(p.holder, rid)
		}
		p.reqs[k.requirement].Reserved -= k.quantity
	}
	if len(items) > 0 {
		p.reservationsComplete = false
	}
	return len(items) > 0
}

func (e *Engine) addToMaking(p *Project, actor model.ActorID) {
	if p.making[actor] {
		return
	}
	p.making[actor] = true
	e.world.ClearPath(actor)
	e.emit(p, Event{Kind: EventMaking, Actor: uint64(actor)})
	e.rescheduleFinish(p)
}

// rescheduleFinish banks progress so far and schedules completion for the
// current making crew.
func (e *Engine) rescheduleFinish(p *Project) {
	now := e.tl.Now()
	if p.finish.Active() {
		p.percentDone = p.PercentComplete(now)
		p.finish.Cancel()
	}
	p.finish = nil
	if len(p.making) == 0 {
		return
	}
	e.scheduleFinish(p, mathx.ScaleByInversePercent(p.Duration(len(p.making)), p.percentDone))
}

// The schedule helpers bind an event to p's current generation.

func (e *Engine) scheduleFinish(p *Project, in uint64) {
	tok := p.guard.Token()
	p.finish = e.tl.Schedule(in, func() {
		if !p.done && p.guard.Live(tok) {
			e.complete(p)
		}
	})
}

func (e *Engine) scheduleDelayOff(p *Project, in uint64) {
	tok := p.guard.Token()
	p.delayOff = e.tl.Schedule(in, func() {
		if !p.done && p.guard.Live(tok) {
			e.endDelay(p)
		}
	})
}

func (e *Engine) scheduleRetry(p *Project, in uint64) {
	tok := p.guard.Token()
	p.retry = e.tl.Schedule(in, func() {
		if p.done || !p.guard.Live(tok) {
			return
		}
		p.retry = nil
		e.startAdmission(p)
	})
}

func (e *Engine) scheduleNextDispatch(p *Project, in uint64) {
	tok := p.guard.Token()
	p.nextDispatch = e.tl.Schedule(in, func() {
		if p.done || !p.guard.Live(tok) {
			return
		}
		p.nextDispatch = nil
		e.ensureDispatch(p)
	})
}

type notice struct {
	obj    Objective
	notify func(Objective, ID)
}

func (e *Engine) complete(p *Project) {
	p.Hooks.OnComplete(p)
	var notices []notice
	for _, a := range p.Workers() {
		notices = append(notices, notice{p.workers[a].objective, Objective.ProjectComplete})
	}
	for _, a := range p.candidates {
		notices = append(notices, notice{p.candidateOf[a], Objective.Reset})
	}
	consume := p.toConsume
	e.remove(p, Complete)

	items := make([]model.ItemID, 0, len(consume))
	for item := range consume {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i] < items[j] })
	for _, item := range items {
		e.world.Consume(item, consume[item])
	}
	for _, b := range p.Byproducts {
		e.world.Spawn(p.Location, b.Type, b.Material, b.Quantity)
	}
	e.emit(p, Event{Kind: EventCompleted})
	e.logf("project %d (%s) complete at %s", p.ID, p.Kind, p.Location)
	for _, n := range notices {
		n.notify(n.obj, p.ID)
	}
}

func (e *Engine) cancel(p *Project, reason string) {
	if p.done {
		return
	}
	e.abandonHauls(p)
	p.Hooks.OnCancel(p)
	var objs []Objective
	for _, a := range p.Workers() {
		objs = append(objs, p.workers[a].objective)
	}
	for _, a := range p.candidates {
		objs = append(objs, p.candidateOf[a])
	}
	e.remove(p, Cancelled)
	e.emit(p, Event{Kind: EventCancelled, Reason: reason})
	e.logf("project %d (%s) cancelled: %s", p.ID, p.Kind, reason)
	for _, o := range objs {
		o.CannotComplete(p.ID)
	}
}

// remove forgets p and every claim it or its workers hold.
func (e *Engine) remove(p *Project, end Phase) {
	p.guard.Bump()
	e.stopWork(p)
	for _, a := range p.Workers() {
		e.dropWorkerHolder(a)
		delete(e.assigned, a)
	}
	for _, a := range p.candidates {
		delete(e.assigned, a)
	}
	for id := range p.hauls {
		delete(e.haulOwner, id)
	}
	e.ledger.DestroyHolder(p.holder)
	p.done = true
	p.ended = end
	delete(e.projects, p.ID)
	p.reported = end
	e.emit(p, Event{Kind: EventPhase, Phase: end.String()})
}

func (e *Engine) dropWorkerHolder(actor model.ActorID) {
	if h, ok := e.workerHolders[actor]; ok {
		e.ledger.DestroyHolder(h)
		delete(e.workerHolders, actor)
	}
	e.world.ClearPath(actor)
}

// stopWork cancels every task and event p has outstanding.
func (e *Engine) stopWork(p *Project) {
	p.admission.Cancel()
	p.dispatch.Cancel()
	p.finish.Cancel()
	p.retry.Cancel()
	p.delayOff.Cancel()
	p.nextDispatch.Cancel()
	p.admission, p.dispatch, p.finish, p.retry, p.delayOff, p.nextDispatch = nil, nil, nil, nil, nil, nil
}

func (e *Engine) abandonHauls(p *Project) {
	env := e.haulEnv(p)
	for _, id := range p.haulIDs() {
		s := p.hauls[id]
		s.Abandon(env)
		e.releaseHaulClaims(p, s)
		delete(e.haulOwner, id)
		delete(p.hauls, id)
	}
	for _, w := range p.workers {
		w.haul = 0
	}
}

func (e *Engine) resetOrCancel(p *Project, reason string) {
	if e.policy(p).CanReset {
		e.reset(p, reason, Objective.Reset)
		return
	}
	e.cancel(p, reason)
}

func (e *Engine) reset(p *Project, reason string, notify func(Objective, ID)) {
	if p.done {
		return
	}
	objs := e.clear(p)
	e.emit(p, Event{Kind: EventReset, Reason: reason})
	e.logf("project %d (%s) reset: %s", p.ID, p.Kind, reason)
	for _, o := range objs {
		notify(o, p.ID)
	}
}

// clear returns p to a fresh recruiting state, keeping only the site claim,
// and returns the objectives of everyone it let go.
func (e *Engine) clear(p *Project) []Objective {
	p.guard.Bump()
	e.stopWork(p)
	e.abandonHauls(p)
	for _, rid := range e.ledger.HolderReservables(p.holder) {
		if rid != p.location {
			e.ledger.ReleaseAll(p.holder, rid)
		}
	}
	p.reqs.reset()
	p.toPickup = map[model.Ref]pickup{}
	p.toConsume = map[model.ItemID]int{}
	p.kits = map[model.ItemID]kit{}
	p.delivered = nil
	p.making = map[model.ActorID]bool{}
	p.reservationsComplete = false
	p.deliveriesComplete = false
	p.haulRetries = 0
	p.admissionRetries = 0
	p.minimumHaulSpeed = e.tuning.Haul.MinimumHaulSpeedInitial
	p.percentDone = 0

	var objs []Objective
	for _, a := range p.Workers() {
		objs = append(objs, p.workers[a].objective)
		e.clearWorker(a)
		delete(e.assigned, a)
	}
	for _, a := range p.candidates {
		objs = append(objs, p.candidateOf[a])
		delete(e.assigned, a)
	}
	p.workers = map[model.ActorID]*worker{}
	p.candidates = nil
	p.candidateOf = map[model.ActorID]Objective{}
	return objs
}

// delay resets p and keeps it out of recruiting for the kind's delay.
func (e *Engine) delay(p *Project, reason string) {
	if p.done || p.delayed {
		return
	}
	objs := e.clear(p)
	p.delayed = true
	p.Hooks.OnDelay(p)
	e.scheduleDelayOff(p, e.policy(p).DelaySteps)
	e.emit(p, Event{Kind: EventDelayOn, Reason: reason})
	e.logf("project %d (%s) delayed: %s", p.ID, p.Kind, reason)
	for _, o := range objs {
		o.CannotReserve(p.ID)
	}
}

func (e *Engine) endDelay(p *Project) {
	p.delayed = false
	p.delayOff = nil
	p.Hooks.OffDelay(p)
	e.emit(p, Event{Kind: EventDelayOff})
	if p.locationHeld {
		return
	}
	if !e.world.IsLocationReservable(p.Location, p.Faction) {
		e.delay(p, "site unavailable")
		return
	}
	e.ledger.Reserve(p.holder, p.location, 1, reserve.Callback{Kind: cbSite, Target: uint64(p.ID)})
	p.locationHeld = true
}
