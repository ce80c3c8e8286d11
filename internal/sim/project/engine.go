// Package project runs multi-worker projects: admission of workers and
// resources, haul dispatch, making and completion, on top of the
// reservation ledger and the step timeline.
package project

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"hearthwork.ai/internal/sim/haul"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/ids"
	"hearthwork.ai/internal/sim/reserve"
	"hearthwork.ai/internal/sim/timeline"
	"hearthwork.ai/internal/sim/tuning"
)

var (
	ErrUnknownProject = errors.New("unknown project")
	ErrAssigned       = errors.New("worker already assigned")
	ErrDelayed        = errors.New("project delayed")
	ErrFull           = errors.New("project full")
)

// Callback kinds carried by the project's reservations.
const (
	cbReset uint8 = iota + 1
	cbSite
	cbHaul
)

// intent is a dishonored reservation waiting to be acted on. Ledger
// callbacks only queue intents; the engine applies them at the next settle
// point so that no bookkeeping runs inside another mutation.
type intent struct {
	kind   uint8
	target uint64
}

type Engine struct {
	world  World
	ledger *reserve.Ledger
	tl     *timeline.Timeline
	tuning tuning.Tuning
	logger *log.Logger
	sink   EventSink

	projects      map[ID]*Project
	assigned      map[model.ActorID]ID
	workerHolders map[model.ActorID]reserve.HolderID
	haulOwner     map[haul.ID]ID

	nextProject uint64
	nextHaul    uint64

	intents  []intent
	settling bool
}

type Option func(*Engine)

func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithSink(s EventSink) Option { return func(e *Engine) { e.sink = s } }

// NewEngine takes over ledger's dispatcher and tl's settle hook.
func NewEngine(w World, ledger *reserve.Ledger, tl *timeline.Timeline, t tuning.Tuning, opts ...Option) *Engine {
	e := &Engine{
		world:         w,
		ledger:        ledger,
		tl:            tl,
		tuning:        t,
		projects:      map[ID]*Project{},
		assigned:      map[model.ActorID]ID{},
		workerHolders: map[model.ActorID]reserve.HolderID{},
		haulOwner:     map[haul.ID]ID{},
	}
	for _, o := range opts {
		o(e)
	}
	ledger.SetDispatcher(e.onDishonor)
	tl.SetSettle(e.settle)
	return e
}

func (e *Engine) Ledger() *reserve.Ledger { return e.ledger }

func (e *Engine) Timeline() *timeline.Timeline { return e.tl }

func (e *Engine) Now() uint64 { return e.tl.Now() }

func (e *Engine) Tuning() tuning.Tuning { return e.tuning }

// Step applies pending intents, then advances the timeline one step.
func (e *Engine) Step(ctx context.Context) error {
	e.settle()
	if err := e.tl.Step(ctx); err != nil {
		return err
	}
	e.settle()
	return nil
}

func (e *Engine) Project(id ID) (*Project, bool) {
	p, ok := e.projects[id]
	return p, ok
}

// Projects returns live projects in id order.
func (e *Engine) Projects() []*Project {
	out := make([]*Project, 0, len(e.projects))
	for _, id := range e.projectIDs() {
		out = append(out, e.projects[id])
	}
	return out
}

// BlockHasProject reports whether a live project is sited at loc.
func (e *Engine) BlockHasProject(loc model.Vec3i) bool {
	for _, p := range e.projects {
		if p.Location == loc {
			return true
		}
	}
	return false
}

// PercentComplete returns how far project id is through making, 0 to 100.
func (e *Engine) PercentComplete(id ID) (int, bool) {
	p := e.projects[id]
	if p == nil {
		return 0, false
	}
	return p.PercentComplete(e.tl.Now()), true
}

// ProjectOf returns the project actor works on or is a candidate for.
func (e *Engine) ProjectOf(actor model.ActorID) (*Project, bool) {
	id, ok := e.assigned[actor]
	if !ok {
		return nil, false
	}
	p := e.projects[id]
	return p, p != nil
}

func (e *Engine) CreateProject(d Design) (ID, error) {
	if _, ok := kindNames[d.Kind]; !ok {
		return 0, fmt.Errorf("create project: unknown kind %d", d.Kind)
	}
	if d.Faction == "" {
		return 0, fmt.Errorf("create project: faction required")
	}
	if d.MaxWorkers <= 0 {
		return 0, fmt.Errorf("create project: max_workers must be > 0")
	}
	for _, n := range append(append([]Need(nil), d.Consumed...), d.Unconsumed...) {
		if n.Quantity <= 0 {
			return 0, fmt.Errorf("create project: need %s has quantity %d", n.Query, n.Quantity)
		}
	}
	if d.Hooks == nil {
		d.Hooks = NopHooks{}
	}
	e.nextProject++
	p := e.newProject(ID(e.nextProject), d)
	p.holder = e.ledger.NewHolder(d.Faction)
	e.projects[p.ID] = p
	e.emit(p, Event{Kind: EventCreated})

	if e.world.IsLocationReservable(d.Location, d.Faction) {
		e.ledger.Reserve(p.holder, p.location, 1, reserve.Callback{Kind: cbSite, Target: uint64(p.ID)})
		p.locationHeld = true
	} else {
		e.delay(p, "site unavailable")
	}
	return p.ID, nil
}

func (e *Engine) newProject(id ID, d Design) *Project {
	return &Project{
		ID:               id,
		Design:           d,
		location:         e.world.LocationReservable(d.Location),
		reqs:             newRequirements(d),
		toPickup:         map[model.Ref]pickup{},
		toConsume:        map[model.ItemID]int{},
		kits:             map[model.ItemID]kit{},
		workers:          map[model.ActorID]*worker{},
		candidateOf:      map[model.ActorID]Objective{},
		hauls:            map[haul.ID]*haul.Subproject{},
		making:           map[model.ActorID]bool{},
		minimumHaulSpeed: e.tuning.Haul.MinimumHaulSpeedInitial,
	}
}

// AddWorkerCandidate offers actor to project id. Admission runs on the next
// step; obj hears the outcome.
func (e *Engine) AddWorkerCandidate(id ID, actor model.ActorID, obj Objective) error {
	p := e.projects[id]
	if p == nil {
		return ErrUnknownProject
	}
	if cur, ok := e.assigned[actor]; ok {
		return fmt.Errorf("%w: %s on %s", ErrAssigned, model.ActorRef(actor), ids.Format(ids.PrefixProject, uint64(cur)))
	}
	if p.delayed {
		return ErrDelayed
	}
	if p.reservationsComplete && len(p.workers)+len(p.candidates) >= p.MaxWorkers {
		return ErrFull
	}
	p.candidates = append(p.candidates, actor)
	p.candidateOf[actor] = obj
	e.assigned[actor] = id
	e.emit(p, Event{Kind: EventCandidate, Actor: uint64(actor)})
	e.startAdmission(p)
	return nil
}

func (e *Engine) RemoveWorkerCandidate(actor model.ActorID) {
	p, ok := e.ProjectOf(actor)
	if !ok || !p.isCandidate(actor) {
		return
	}
	p.dropCandidate(actor)
	delete(e.assigned, actor)
}

// Cancel ends project id without completing it.
func (e *Engine) Cancel(id ID) {
	if p := e.projects[id]; p != nil {
		e.cancel(p, "cancelled")
	}
}

// Reset drops every reservation and worker of project id and returns it to
// recruiting.
func (e *Engine) Reset(id ID) {
	if p := e.projects[id]; p != nil && !p.delayed {
		e.reset(p, "reset", Objective.Reset)
	}
}

func (e *Engine) policy(p *Project) tuning.Policy { return p.Kind.Policy(e.tuning) }

func (e *Engine) workerHolder(actor model.ActorID, faction model.FactionID) reserve.HolderID {
	if h, ok := e.workerHolders[actor]; ok {
		if e.ledger.Faction(h) != faction {
			e.ledger.SetFaction(h, faction)
		}
		return h
	}
	h := e.ledger.NewHolder(faction)
	e.workerHolders[actor] = h
	return h
}

func (e *Engine) clearWorker(actor model.ActorID) {
	if h, ok := e.workerHolders[actor]; ok {
		e.ledger.ReleaseEverything(h)
	}
	e.world.ClearPath(actor)
}

func (e *Engine) onDishonor(_ reserve.HolderID, cb reserve.Callback, _, _ int) {
	it := intent{kind: cb.Kind, target: cb.Target}
	for _, q := range e.intents {
		if q == it {
			return
		}
	}
	e.intents = append(e.intents, it)
}

func (e *Engine) settle() {
	if e.settling {
		return
	}
	e.settling = true
	defer func() { e.settling = false }()
	for len(e.intents) > 0 {
		it := e.intents[0]
		e.intents = e.intents[1:]
		e.apply(it)
	}
	e.reportPhases()
}

func (e *Engine) apply(it intent) {
	switch it.kind {
	case cbReset:
		if p := e.projects[ID(it.target)]; p != nil {
			e.resetOrCancel(p, "reservation lost")
		}
	case cbSite:
		p := e.projects[ID(it.target)]
		if p == nil {
			return
		}
		p.locationHeld = false
		if e.policy(p).CanReset {
			e.delay(p, "site lost")
		} else {
			e.cancel(p, "site lost")
		}
	case cbHaul:
		p := e.projects[e.haulOwner[haul.ID(it.target)]]
		if p == nil {
			return
		}
		if s := p.hauls[haul.ID(it.target)]; s != nil {
			e.cancelHaul(p, s, "tool lost")
		}
	}
}

func (e *Engine) reportPhases() {
	for _, id := range e.projectIDs() {
		p := e.projects[id]
		if ph := p.Phase(); ph != p.reported {
			p.reported = ph
			e.emit(p, Event{Kind: EventPhase, Phase: ph.String()})
		}
	}
}

func (e *Engine) projectIDs() []ID {
	out := make([]ID, 0, len(e.projects))
	for id := range e.projects {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) emit(p *Project, ev Event) {
	if e.sink == nil {
		return
	}
	ev.Step = e.tl.Now()
	ev.Project = ids.Format(ids.PrefixProject, uint64(p.ID))
	ev.ProjectKind = p.Kind.String()
	e.sink.Emit(ev)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func (e *Engine) haulEnv(p *Project) haulEnv { return haulEnv{World: e.world, e: e, p: p} }
