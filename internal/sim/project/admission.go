package project

import (
	"context"

	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/reserve"
)

// claimFound is a resource the read phase counted toward a requirement.
type claimFound struct {
	ref         model.Ref
	requirement int
	quantity    int
	// kitOf is the worker bringing it along, zero for resources in the world.
	kitOf model.ActorID
	// atSite resources count as delivered on commit.
	atSite bool
}

// admissionTask checks candidates and, while the project has no complete
// reservation set, finds resources for it. Read works on a scratch copy of
// the requirement counts; Write re-validates everything before committing,
// so a failed validation leaves no trace.
type admissionTask struct {
	e     *Engine
	p     *Project
	token uint64

	candidates []model.ActorID
	search     bool

	unreachable []model.ActorID
	reachable   []model.ActorID
	found       []claimFound
	satisfied   bool
}

func (e *Engine) startAdmission(p *Project) {
	if p.done || p.delayed || p.admission.Active() || p.retry.Active() || len(p.candidates) == 0 {
		return
	}
	p.admission = e.tl.Submit(&admissionTask{e: e, p: p, token: p.guard.Token()})
}

// Read snapshots the candidates itself: nothing writes while read phases
// run, so everyone offered before this step is considered together.
func (t *admissionTask) Read(ctx context.Context) {
	w, p := t.e.world, t.p
	// A read interrupted by cancellation runs again from scratch.
	t.unreachable, t.reachable, t.found, t.satisfied = nil, nil, nil, false
	t.candidates = append([]model.ActorID(nil), p.candidates...)
	t.search = !p.reservationsComplete
	for _, a := range t.candidates {
		if w.PathExists(a, p.Location) {
			t.reachable = append(t.reachable, a)
		} else {
			t.unreachable = append(t.unreachable, a)
		}
	}
	if !t.search || len(t.reachable) == 0 {
		return
	}

	missing := p.reqs.missing()
	taken := map[model.Ref]int{}
	reqOf := map[model.Ref]int{}
	crew := map[model.Ref]bool{}
	for _, a := range t.candidates {
		crew[model.ActorRef(a)] = true
	}
	for a := range p.workers {
		crew[model.ActorRef(a)] = true
	}
	done := func() bool {
		for _, m := range missing {
			if m > 0 {
				return false
			}
		}
		return true
	}
	// offer counts what is left of r toward the first requirement it fits.
	offer := func(r model.Ref, kitOf model.ActorID, atSite func(model.Info) bool) {
		if crew[r] {
			return
		}
		info, ok := w.Info(r)
		if !ok {
			return
		}
		i, ok := p.reqs.Match(info, missing)
		if prior, seen := reqOf[r]; seen {
			// One ref serves one requirement.
			i, ok = prior, missing[prior] > 0
		}
		if !ok {
			return
		}
		left := w.UnreservedQuantity(r, p.Faction) - taken[r]
		if left <= 0 {
			return
		}
		qty := left
		if missing[i] < qty {
			qty = missing[i]
		}
		missing[i] -= qty
		taken[r] += qty
		reqOf[r] = i
		t.found = append(t.found, claimFound{ref: r, requirement: i, quantity: qty, kitOf: kitOf, atSite: atSite(info)})
	}
	nearSite := func(info model.Info) bool {
		return info.Placed && (info.Location == p.Location || model.IsAdjacent(info.Location, p.Location))
	}
	carried := func(model.Info) bool { return false }

	for _, a := range t.reachable {
		if ctx.Err() != nil {
			return
		}
		for _, item := range w.Equipment(a) {
			offer(model.ItemRef(item), a, carried)
		}
		if done() {
			break
		}
		w.FindReachableAdjacentMatching(a, func(loc model.Vec3i) bool {
			for _, r := range w.ResourcesAt(loc) {
				offer(r, 0, nearSite)
			}
			return done()
		}, p.Faction, t.e.tuning.Projects.MaxSearchRange)
		if done() {
			break
		}
	}
	t.satisfied = done()
}

func (t *admissionTask) Write() {
	e, p := t.e, t.p
	if p.done || !p.guard.Live(t.token) {
		return
	}
	p.admission = nil

	for _, a := range t.unreachable {
		if !p.isCandidate(a) {
			continue
		}
		obj := p.candidateOf[a]
		p.dropCandidate(a)
		delete(e.assigned, a)
		obj.CannotReserve(p.ID)
	}
	if len(t.reachable) == 0 {
		return
	}
	if t.search {
		if !t.satisfied {
			e.admissionFailed(p)
			return
		}
		if !e.validate(p, t.found) {
			e.startAdmission(p)
			return
		}
		e.commit(p, t.found)
	}
	for _, a := range t.reachable {
		if !p.isCandidate(a) {
			continue
		}
		obj := p.candidateOf[a]
		p.dropCandidate(a)
		if len(p.workers) >= p.MaxWorkers {
			delete(e.assigned, a)
			obj.CannotReserve(p.ID)
			continue
		}
		e.addWorker(p, a, obj)
	}
	// Candidates that arrived after this task was submitted.
	e.startAdmission(p)
}

// validate re-checks every claim against the live ledger.
func (e *Engine) validate(p *Project, found []claimFound) bool {
	want := map[model.Ref]int{}
	for _, f := range found {
		want[f.ref] += f.quantity
	}
	for r, qty := range want {
		rid, ok := e.world.Reservable(r)
		if !ok || !e.ledger.Exists(rid) {
			return false
		}
		if e.world.UnreservedQuantity(r, p.Faction) < qty {
			return false
		}
	}
	for _, f := range found {
		if f.kitOf != 0 && !p.isCandidate(f.kitOf) {
			return false
		}
	}
	return true
}

func (e *Engine) commit(p *Project, found []claimFound) {
	cb := reserve.Callback{Kind: cbReset, Target: uint64(p.ID)}
	for _, f := range found {
		rid, _ := e.world.Reservable(f.ref)
		e.ledger.Reserve(p.holder, rid, f.quantity, cb)
		req := &p.reqs[f.requirement]
		req.Reserved += f.quantity
		switch {
		case f.kitOf != 0:
			p.kits[f.ref.Item()] = kit{worker: f.kitOf, requirement: f.requirement, quantity: f.quantity}
		case f.atSite:
			req.Delivered += f.quantity
			if req.Consumed && f.ref.IsItem() {
				p.toConsume[f.ref.Item()] += f.quantity
			}
			p.delivered = append(p.delivered, f.ref)
			p.Hooks.OnDelivered(p, f.ref)
		default:
			pu := p.toPickup[f.ref]
			pu.requirement = f.requirement
			pu.quantity += f.quantity
			p.toPickup[f.ref] = pu
		}
	}
	p.reservationsComplete = true
	p.deliveriesComplete = p.reqs.DeliveriesComplete()
	p.admissionRetries = 0
	if len(p.toPickup) > 0 {
		e.ensureDispatch(p)
	}
}

// admissionFailed retries later, then delays; kinds that cannot reset are
// cancelled straight away.
func (e *Engine) admissionFailed(p *Project) {
	pol := e.policy(p)
	p.admissionRetries++
	e.emit(p, Event{Kind: EventAdmissionFailed, Quantity: p.admissionRetries})
	if !pol.CanReset {
		e.cancel(p, "resources unavailable")
		return
	}
	if p.admissionRetries >= pol.AdmissionRetriesBeforeDelay {
		e.delay(p, "resources unavailable")
		return
	}
	e.scheduleRetry(p, e.tuning.Projects.AdmissionRetrySteps)
}
