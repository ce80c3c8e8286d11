package worldtest

import (
	"context"
	"testing"

	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/gridworld"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/reserve"
	"hearthwork.ai/internal/sim/timeline"
	"hearthwork.ai/internal/sim/tuning"
)

// Harness drives a grid world and a project engine the way a running
// simulation does:
// - Step() advances the engine, moves actors, then commands every idle worker
// - Offer() hands an actor to a project with a recording objective
// - Events collects everything the engine emitted
//
// It only uses exported APIs so scenarios read like a client of the engine.
type Harness struct {
	T      *testing.T
	Cats   *catalogs.Catalogs
	Tuning tuning.Tuning
	Ledger *reserve.Ledger
	TL     *timeline.Timeline
	W      *gridworld.World
	E      *project.Engine

	Events []project.Event

	objectives map[model.ActorID]*Objective
}

// Config sizes the grid. Zero fields take defaults.
type Config struct {
	Width, Depth int
	Tuning       *tuning.Tuning
}

func LoadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func NewHarness(t *testing.T, cfg Config) *Harness {
	t.Helper()
	if cfg.Width == 0 {
		cfg.Width = 16
	}
	if cfg.Depth == 0 {
		cfg.Depth = 8
	}
	tu := tuning.Defaults()
	if cfg.Tuning != nil {
		tu = *cfg.Tuning
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	cats := LoadCatalogs(t)
	ledger := reserve.NewLedger(nil)
	tl := timeline.New(tu.ReadWorkers)
	w := gridworld.New(gridworld.Config{
		Width: cfg.Width,
		Depth: cfg.Depth,
		Carry: tu.Haul.Carry(),
	}, ledger, cats)
	h := &Harness{
		T:          t,
		Cats:       cats,
		Tuning:     tu,
		Ledger:     ledger,
		TL:         tl,
		W:          w,
		objectives: map[model.ActorID]*Objective{},
	}
	h.E = project.NewEngine(w, ledger, tl, tu, project.WithSink(project.SinkFunc(func(ev project.Event) {
		h.Events = append(h.Events, ev)
	})))
	return h
}

func (h *Harness) Actor(species string, faction model.FactionID, loc model.Vec3i) model.ActorID {
	h.T.Helper()
	id, err := h.W.AddActor(species, faction, loc)
	if err != nil {
		h.T.Fatalf("AddActor: %v", err)
	}
	return id
}

func (h *Harness) Item(typ string, qty int, loc model.Vec3i) model.ItemID {
	h.T.Helper()
	id, err := h.W.AddItem(typ, "", qty, loc)
	if err != nil {
		h.T.Fatalf("AddItem: %v", err)
	}
	return id
}

func (h *Harness) Project(d project.Design) project.ID {
	h.T.Helper()
	id, err := h.E.CreateProject(d)
	if err != nil {
		h.T.Fatalf("CreateProject: %v", err)
	}
	return id
}

// Offer adds actor as a candidate of p and returns its objective.
func (h *Harness) Offer(p project.ID, actor model.ActorID) *Objective {
	h.T.Helper()
	obj := h.objective(actor)
	if err := h.E.AddWorkerCandidate(p, actor, obj); err != nil {
		h.T.Fatalf("AddWorkerCandidate(%d, %d): %v", p, actor, err)
	}
	return obj
}

func (h *Harness) objective(actor model.ActorID) *Objective {
	if o := h.objectives[actor]; o != nil {
		return o
	}
	o := &Objective{Actor: actor, h: h}
	h.objectives[actor] = o
	return o
}

func (h *Harness) ObjectiveOf(actor model.ActorID) *Objective { return h.objective(actor) }

// Resolve is the objective lookup Engine.Import wants.
func (h *Harness) Resolve(actor model.ActorID) project.Objective { return h.objective(actor) }

// Step runs one simulation step.
func (h *Harness) Step() {
	h.T.Helper()
	if err := h.E.Step(context.Background()); err != nil {
		h.T.Fatalf("engine step: %v", err)
	}
	h.W.Step()
	for _, a := range h.W.ActorIDs() {
		if p, ok := h.E.ProjectOf(a); ok && p.HasWorker(a) && h.W.IsIdle(a) {
			h.E.CommandWorker(a)
		}
	}
}

func (h *Harness) StepFor(n int) {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step()
	}
}

// StepUntil steps until cond holds, failing after max steps.
func (h *Harness) StepUntil(max int, what string, cond func() bool) {
	h.T.Helper()
	for i := 0; i < max; i++ {
		if cond() {
			return
		}
		h.Step()
	}
	if !cond() {
		h.T.Fatalf("after %d steps: %s never happened; events=%v", max, what, h.kinds())
	}
}

func (h *Harness) kinds() []string {
	out := make([]string, 0, len(h.Events))
	for _, ev := range h.Events {
		s := string(ev.Kind)
		if ev.Phase != "" {
			s += ":" + ev.Phase
		}
		out = append(out, s)
	}
	return out
}

// Saw reports whether any event of kind was emitted.
func (h *Harness) Saw(kind project.EventKind) bool {
	return h.Find(kind) != nil
}

func (h *Harness) Find(kind project.EventKind) *project.Event {
	for i := range h.Events {
		if h.Events[i].Kind == kind {
			return &h.Events[i]
		}
	}
	return nil
}

// Phases lists the phases a project reported, in order.
func (h *Harness) Phases() []string {
	var out []string
	for _, ev := range h.Events {
		if ev.Kind == project.EventPhase {
			out = append(out, ev.Phase)
		}
	}
	return out
}

func (h *Harness) MustProject(id project.ID) *project.Project {
	h.T.Helper()
	p, ok := h.E.Project(id)
	if !ok {
		h.T.Fatalf("project %d is gone; events=%v", id, h.kinds())
	}
	return p
}

func (h *Harness) Reservable(r model.Ref) reserve.ReservableID {
	h.T.Helper()
	rid, ok := h.W.Reservable(r)
	if !ok {
		h.T.Fatalf("%s has no reservable", r)
	}
	return rid
}

// Notice is one objective callback.
type Notice struct {
	Kind    string
	Project project.ID
	Step    uint64
}

// Objective records what the engine told a worker.
type Objective struct {
	Actor   model.ActorID
	Notices []Notice

	h *Harness
}

func (o *Objective) note(kind string, p project.ID) {
	o.Notices = append(o.Notices, Notice{Kind: kind, Project: p, Step: o.h.TL.Now()})
}

func (o *Objective) ProjectComplete(p project.ID) { o.note("complete", p) }
func (o *Objective) Reset(p project.ID)           { o.note("reset", p) }
func (o *Objective) CannotReserve(p project.ID)   { o.note("cannot_reserve", p) }
func (o *Objective) CannotComplete(p project.ID)  { o.note("cannot_complete", p) }

func (o *Objective) Last() string {
	if len(o.Notices) == 0 {
		return ""
	}
	return o.Notices[len(o.Notices)-1].Kind
}

func (o *Objective) Count(kind string) int {
	n := 0
	for _, nt := range o.Notices {
		if nt.Kind == kind {
			n++
		}
	}
	return n
}
