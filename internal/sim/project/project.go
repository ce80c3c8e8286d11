package project

import (
	"sort"

	"hearthwork.ai/internal/sim/haul"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/reserve"
	"hearthwork.ai/internal/sim/timeline"
)

type ID uint64

type Phase uint8

const (
	Recruiting Phase = iota
	Hauling
	Waiting
	Making
	Complete
	Delayed
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Recruiting:
		return "recruiting"
	case Hauling:
		return "hauling"
	case Waiting:
		return "waiting"
	case Making:
		return "making"
	case Complete:
		return "complete"
	case Delayed:
		return "delayed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

type worker struct {
	objective Objective
	haul      haul.ID
}

// pickup is backlog still to be hauled for one requirement.
type pickup struct {
	requirement int
	quantity    int
}

// kit is a reserved item a worker brings along.
type kit struct {
	worker      model.ActorID
	requirement int
	quantity    int
}

// Project is one unit of work at a location. All fields are owned by the
// engine and change only in write phases and events.
type Project struct {
	ID ID
	Design

	holder   reserve.HolderID
	location reserve.ReservableID
	// locationHeld is false when the site could not be reserved.
	locationHeld bool

	reqs        Requirements
	toPickup    map[model.Ref]pickup
	toConsume   map[model.ItemID]int
	kits        map[model.ItemID]kit
	delivered   []model.Ref
	workers     map[model.ActorID]*worker
	candidates  []model.ActorID
	candidateOf map[model.ActorID]Objective
	hauls       map[haul.ID]*haul.Subproject
	making      map[model.ActorID]bool

	reservationsComplete bool
	deliveriesComplete   bool
	delayed              bool
	ended                Phase
	done                 bool

	haulRetries      int
	admissionRetries int
	minimumHaulSpeed int
	// percentDone is making progress banked before the current finish event.
	percentDone int

	guard     timeline.Guard
	admission *timeline.TaskHandle
	dispatch  *timeline.TaskHandle
	finish    *timeline.Event
	retry     *timeline.Event
	delayOff  *timeline.Event
	// nextDispatch spaces dispatch attempts.
	nextDispatch *timeline.Event

	reported Phase
}

func (p *Project) Phase() Phase {
	switch {
	case p.done:
		return p.ended
	case p.delayed:
		return Delayed
	case !p.reservationsComplete:
		return Recruiting
	case p.deliveriesComplete:
		return Making
	case len(p.toPickup) > 0:
		return Hauling
	}
	// Everything is dispatched; deliveries are in flight or carried.
	return Waiting
}

func (p *Project) Requirements() Requirements { return append(Requirements(nil), p.reqs...) }

func (p *Project) Workers() []model.ActorID {
	out := make([]model.ActorID, 0, len(p.workers))
	for a := range p.workers {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Project) Candidates() []model.ActorID { return append([]model.ActorID(nil), p.candidates...) }

func (p *Project) HasWorker(a model.ActorID) bool { return p.workers[a] != nil }

// HaulOf returns the haul actor works on, if any.
func (p *Project) HaulOf(a model.ActorID) (*haul.Subproject, bool) {
	w := p.workers[a]
	if w == nil || w.haul == 0 {
		return nil, false
	}
	s := p.hauls[w.haul]
	return s, s != nil
}

func (p *Project) Hauls() []*haul.Subproject {
	out := make([]*haul.Subproject, 0, len(p.hauls))
	for _, id := range p.haulIDs() {
		out = append(out, p.hauls[id])
	}
	return out
}

// Backlog is the quantity still to be hauled per target.
func (p *Project) Backlog() map[model.Ref]int {
	out := make(map[model.Ref]int, len(p.toPickup))
	for r, pu := range p.toPickup {
		out[r] = pu.quantity
	}
	return out
}

func (p *Project) Delivered() []model.Ref { return append([]model.Ref(nil), p.delivered...) }

func (p *Project) Making() []model.ActorID {
	out := make([]model.ActorID, 0, len(p.making))
	for a := range p.making {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Project) MinimumHaulSpeed() int { return p.minimumHaulSpeed }

func (p *Project) HaulRetries() int { return p.haulRetries }

func (p *Project) AdmissionRetries() int { return p.admissionRetries }

func (p *Project) Holder() reserve.HolderID { return p.holder }

// PercentComplete is making progress at step now.
func (p *Project) PercentComplete(now uint64) int {
	if p.done && p.ended == Complete {
		return 100
	}
	if !p.finish.Active() {
		return p.percentDone
	}
	return p.percentDone + (100-p.percentDone)*p.finish.PercentComplete(now)/100
}

func (p *Project) haulIDs() []haul.ID {
	out := make([]haul.ID, 0, len(p.hauls))
	for id := range p.hauls {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Project) pickupRefs() []model.Ref {
	out := make([]model.Ref, 0, len(p.toPickup))
	for r := range p.toPickup {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (p *Project) isCandidate(a model.ActorID) bool {
	_, ok := p.candidateOf[a]
	return ok
}

func (p *Project) dropCandidate(a model.ActorID) {
	delete(p.candidateOf, a)
	for i, c := range p.candidates {
		if c == a {
			p.candidates = append(p.candidates[:i], p.candidates[i+1:]...)
			return
		}
	}
}

// idleWorkers are workers with no haul who are not making, in id order.
func (p *Project) idleWorkers() []model.ActorID {
	var out []model.ActorID
	for _, a := range p.Workers() {
		if p.workers[a].haul == 0 && !p.making[a] {
			out = append(out, a)
		}
	}
	return out
}
