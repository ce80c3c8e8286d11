package project

import (
	"fmt"
	"sort"

	"hearthwork.ai/internal/sim/haul"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/reserve"
)

type State struct {
	NextProject   uint64              `cbor:"next_project" json:"next_project"`
	NextHaul      uint64              `cbor:"next_haul" json:"next_haul"`
	WorkerHolders []WorkerHolderState `cbor:"worker_holders" json:"worker_holders"`
	Projects      []ProjectState      `cbor:"projects" json:"projects"`
}

type WorkerHolderState struct {
	Actor  model.ActorID    `cbor:"actor" json:"actor"`
	Holder reserve.HolderID `cbor:"holder" json:"holder"`
}

type PickupState struct {
	Ref         model.Ref `cbor:"ref" json:"ref"`
	Requirement int       `cbor:"requirement" json:"requirement"`
	Quantity    int       `cbor:"quantity" json:"quantity"`
}

type KitState struct {
	Item        model.ItemID  `cbor:"item" json:"item"`
	Worker      model.ActorID `cbor:"worker" json:"worker"`
	Requirement int           `cbor:"requirement" json:"requirement"`
	Quantity    int           `cbor:"quantity" json:"quantity"`
}

type ConsumeState struct {
	Item     model.ItemID `cbor:"item" json:"item"`
	Quantity int          `cbor:"quantity" json:"quantity"`
}

type WorkerState struct {
	Actor model.ActorID `cbor:"actor" json:"actor"`
	Haul  haul.ID       `cbor:"haul,omitempty" json:"haul,omitempty"`
}

// ProjectState is a project between steps. Pending events are stored as the
// steps left until they fire.
type ProjectState struct {
	ID           ID               `cbor:"id" json:"id"`
	Design       Design           `cbor:"design" json:"design"`
	Holder       reserve.HolderID `cbor:"holder" json:"holder"`
	LocationHeld bool             `cbor:"location_held" json:"location_held"`

	Requirements Requirements       `cbor:"requirements" json:"requirements"`
	Pickups      []PickupState      `cbor:"pickups,omitempty" json:"pickups,omitempty"`
	Kits         []KitState         `cbor:"kits,omitempty" json:"kits,omitempty"`
	Consume      []ConsumeState     `cbor:"consume,omitempty" json:"consume,omitempty"`
	Delivered    []model.Ref        `cbor:"delivered,omitempty" json:"delivered,omitempty"`
	Workers      []WorkerState      `cbor:"workers,omitempty" json:"workers,omitempty"`
	Candidates   []model.ActorID    `cbor:"candidates,omitempty" json:"candidates,omitempty"`
	Hauls        []*haul.Subproject `cbor:"hauls,omitempty" json:"hauls,omitempty"`
	Making       []model.ActorID    `cbor:"making,omitempty" json:"making,omitempty"`

	ReservationsComplete bool  `cbor:"reservations_complete" json:"reservations_complete"`
	DeliveriesComplete   bool  `cbor:"deliveries_complete" json:"deliveries_complete"`
	Delayed              bool  `cbor:"delayed" json:"delayed"`
	Reported             Phase `cbor:"reported" json:"reported"`

	HaulRetries      int `cbor:"haul_retries" json:"haul_retries"`
	AdmissionRetries int `cbor:"admission_retries" json:"admission_retries"`
	MinimumHaulSpeed int `cbor:"minimum_haul_speed" json:"minimum_haul_speed"`
	PercentDone      int `cbor:"percent_done" json:"percent_done"`

	FinishIn       uint64 `cbor:"finish_in,omitempty" json:"finish_in,omitempty"`
	DelayOffIn     uint64 `cbor:"delay_off_in,omitempty" json:"delay_off_in,omitempty"`
	RetryIn        uint64 `cbor:"retry_in,omitempty" json:"retry_in,omitempty"`
	NextDispatchIn uint64 `cbor:"next_dispatch_in,omitempty" json:"next_dispatch_in,omitempty"`

	AdmissionPending bool `cbor:"admission_pending,omitempty" json:"admission_pending,omitempty"`
	DispatchPending  bool `cbor:"dispatch_pending,omitempty" json:"dispatch_pending,omitempty"`
}

// Export settles pending intents and captures every project.
func (e *Engine) Export() State {
	e.settle()
	now := e.tl.Now()
	st := State{NextProject: e.nextProject, NextHaul: e.nextHaul}
	for a, h := range e.workerHolders {
		st.WorkerHolders = append(st.WorkerHolders, WorkerHolderState{Actor: a, Holder: h})
	}
	sort.Slice(st.WorkerHolders, func(i, j int) bool { return st.WorkerHolders[i].Actor < st.WorkerHolders[j].Actor })

	for _, p := range e.Projects() {
		ps := ProjectState{
			ID:                   p.ID,
			Design:               p.Design,
			Holder:               p.holder,
			LocationHeld:         p.locationHeld,
			Requirements:         p.Requirements(),
			Delivered:            p.Delivered(),
			Candidates:           p.Candidates(),
			Making:               p.Making(),
			ReservationsComplete: p.reservationsComplete,
			DeliveriesComplete:   p.deliveriesComplete,
			Delayed:              p.delayed,
			Reported:             p.reported,
			HaulRetries:          p.haulRetries,
			AdmissionRetries:     p.admissionRetries,
			MinimumHaulSpeed:     p.minimumHaulSpeed,
			PercentDone:          p.PercentComplete(now),
			AdmissionPending:     p.admission.Active(),
			DispatchPending:      p.dispatch.Active(),
		}
		ps.Design.Hooks = nil
		if p.finish.Active() {
			ps.FinishIn = p.finish.Remaining(now)
		}
		if p.delayOff.Active() {
			ps.DelayOffIn = p.delayOff.Remaining(now)
		}
		if p.retry.Active() {
			ps.RetryIn = p.retry.Remaining(now)
		}
		if p.nextDispatch.Active() {
			ps.NextDispatchIn = p.nextDispatch.Remaining(now)
		}
		for _, r := range p.pickupRefs() {
			pu := p.toPickup[r]
			ps.Pickups = append(ps.Pickups, PickupState{Ref: r, Requirement: pu.requirement, Quantity: pu.quantity})
		}
		for item, k := range p.kits {
			ps.Kits = append(ps.Kits, KitState{Item: item, Worker: k.worker, Requirement: k.requirement, Quantity: k.quantity})
		}
		sort.Slice(ps.Kits, func(i, j int) bool { return ps.Kits[i].Item < ps.Kits[j].Item })
		for item, qty := range p.toConsume {
			ps.Consume = append(ps.Consume, ConsumeState{Item: item, Quantity: qty})
		}
		sort.Slice(ps.Consume, func(i, j int) bool { return ps.Consume[i].Item < ps.Consume[j].Item })
		for _, s := range p.Hauls() {
			ps.Hauls = append(ps.Hauls, s.Clone())
		}
		for _, a := range p.Workers() {
			ps.Workers = append(ps.Workers, WorkerState{Actor: a, Haul: p.workers[a].haul})
		}
		st.Projects = append(st.Projects, ps)
	}
	return st
}

// Import restores st into an engine with no projects. The ledger and the
// timeline clock must already be restored. objectives and hooks give the
// behavior that is not stored: the controller of each worker and the hooks
// of each kind.
func (e *Engine) Import(st State, objectives func(model.ActorID) Objective, hooks func(Kind) Hooks) error {
	if len(e.projects) != 0 {
		return fmt.Errorf("import projects: engine already has %d projects", len(e.projects))
	}
	e.nextProject, e.nextHaul = st.NextProject, st.NextHaul
	for _, wh := range st.WorkerHolders {
		if !e.ledger.HolderExists(wh.Holder) {
			return fmt.Errorf("import projects: worker %d holder %d missing from ledger", wh.Actor, wh.Holder)
		}
		e.workerHolders[wh.Actor] = wh.Holder
	}
	for _, ps := range st.Projects {
		if !e.ledger.HolderExists(ps.Holder) {
			return fmt.Errorf("import projects: project %d holder %d missing from ledger", ps.ID, ps.Holder)
		}
		d := ps.Design
		if hooks != nil {
			d.Hooks = hooks(d.Kind)
		}
		if d.Hooks == nil {
			d.Hooks = NopHooks{}
		}
		p := e.newProject(ps.ID, d)
		p.holder = ps.Holder
		p.locationHeld = ps.LocationHeld
		p.reqs = append(Requirements(nil), ps.Requirements...)
		p.delivered = append([]model.Ref(nil), ps.Delivered...)
		p.reservationsComplete = ps.ReservationsComplete
		p.deliveriesComplete = ps.DeliveriesComplete
		p.delayed = ps.Delayed
		p.reported = ps.Reported
		p.haulRetries = ps.HaulRetries
		p.admissionRetries = ps.AdmissionRetries
		p.minimumHaulSpeed = ps.MinimumHaulSpeed
		p.percentDone = ps.PercentDone
		for _, pu := range ps.Pickups {
			p.toPickup[pu.Ref] = pickup{requirement: pu.Requirement, quantity: pu.Quantity}
		}
		for _, k := range ps.Kits {
			p.kits[k.Item] = kit{worker: k.Worker, requirement: k.Requirement, quantity: k.Quantity}
		}
		for _, c := range ps.Consume {
			p.toConsume[c.Item] = c.Quantity
		}
		for _, w := range ps.Workers {
			p.workers[w.Actor] = &worker{objective: objectives(w.Actor), haul: w.Haul}
			e.assigned[w.Actor] = p.ID
		}
		for _, a := range ps.Candidates {
			p.candidates = append(p.candidates, a)
			p.candidateOf[a] = objectives(a)
			e.assigned[a] = p.ID
		}
		for _, s := range ps.Hauls {
			p.hauls[s.ID] = s.Clone()
			e.haulOwner[s.ID] = p.ID
		}
		for _, a := range ps.Making {
			p.making[a] = true
		}
		e.projects[p.ID] = p
		e.restoreSchedule(p, ps)
	}
	return nil
}

func (e *Engine) restoreSchedule(p *Project, ps ProjectState) {
	if ps.FinishIn > 0 {
		e.scheduleFinish(p, ps.FinishIn)
	}
	if ps.DelayOffIn > 0 {
		e.scheduleDelayOff(p, ps.DelayOffIn)
	}
	if ps.RetryIn > 0 {
		e.scheduleRetry(p, ps.RetryIn)
	}
	if ps.NextDispatchIn > 0 {
		e.scheduleNextDispatch(p, ps.NextDispatchIn)
	}
	if ps.AdmissionPending {
		e.startAdmission(p)
	}
	if ps.DispatchPending {
		e.ensureDispatch(p)
	}
}
