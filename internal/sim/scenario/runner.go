package scenario

import (
	"context"
	"fmt"
	"log"
	"sort"

	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/gridworld"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/reserve"
	"hearthwork.ai/internal/sim/timeline"
	"hearthwork.ai/internal/sim/tuning"
)

// Runner plays a scenario against a grid world. Each Step starts the
// projects and scripted actions due, advances the engine and the world,
// then commands every idle worker.
type Runner struct {
	cfg    Config
	logger *log.Logger

	Ledger *reserve.Ledger
	TL     *timeline.Timeline
	World  *gridworld.World
	Engine *project.Engine

	actors   map[string]model.ActorID
	items    map[string]model.ItemID
	projects map[string]project.ID

	nextProject int
	nextAction  int

	objectives map[model.ActorID]*Objective
	// wants is the project each named worker was cast for.
	wants map[model.ActorID]string
}

// Build lays out cfg on a fresh world. Entity ids follow file order, so
// building the same scenario twice yields the same ids.
func Build(cfg Config, cats *catalogs.Catalogs, tu tuning.Tuning, logger *log.Logger, opts ...project.Option) (*Runner, error) {
	if err := tu.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:        cfg,
		logger:     logger,
		actors:     map[string]model.ActorID{},
		items:      map[string]model.ItemID{},
		projects:   map[string]project.ID{},
		objectives: map[model.ActorID]*Objective{},
		wants:      map[model.ActorID]string{},
	}
	r.Ledger = reserve.NewLedger(nil)
	r.TL = timeline.New(tu.ReadWorkers)
	r.World = gridworld.New(gridworld.Config{Width: cfg.Width, Depth: cfg.Depth, Carry: tu.Haul.Carry()}, r.Ledger, cats)

	for _, wl := range cfg.Walls {
		r.World.SetWall(at(wl), true)
	}
	for _, a := range cfg.Actors {
		id, err := r.World.AddActor(a.Species, model.FactionID(a.Faction), at(a.At))
		if err != nil {
			return nil, fmt.Errorf("actor %q: %w", a.Name, err)
		}
		r.actors[a.Name] = id
	}
	for _, it := range cfg.Items {
		id, err := r.World.AddItem(it.Type, it.Material, it.Quantity, at(it.At))
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", it.Name, err)
		}
		r.items[it.Name] = id
	}
	for _, p := range cfg.Projects {
		for _, w := range p.Workers {
			r.wants[r.actors[w]] = p.Name
		}
	}
	r.Engine = project.NewEngine(r.World, r.Ledger, r.TL, tu, opts...)
	return r, nil
}

// Adopt swaps in state restored from a snapshot of this scenario taken at
// the start of step now. Projects and actions due before now are taken as
// already applied.
func (r *Runner) Adopt(ledger *reserve.Ledger, tl *timeline.Timeline, w *gridworld.World, e *project.Engine) {
	r.Ledger, r.TL, r.World, r.Engine = ledger, tl, w, e
	now := e.Now()
	r.nextProject = 0
	for r.nextProject < len(r.cfg.Projects) && r.cfg.Projects[r.nextProject].StartStep < now {
		// Ids were handed out in start order.
		r.projects[r.cfg.Projects[r.nextProject].Name] = project.ID(r.nextProject + 1)
		r.nextProject++
	}
	r.nextAction = 0
	for r.nextAction < len(r.cfg.Script) && r.cfg.Script[r.nextAction].Step < now {
		r.nextAction++
	}
	// Without scenario state in the snapshot, unassigned workers offer
	// themselves again on the next step. Import overrides this.
	for actor := range r.wants {
		if _, ok := e.ProjectOf(actor); !ok {
			r.objective(actor).retryAt = now + 1
		}
	}
}

// Resolve is the objective lookup Engine.Import wants.
func (r *Runner) Resolve(actor model.ActorID) project.Objective { return r.objective(actor) }

func (r *Runner) objective(actor model.ActorID) *Objective {
	if o := r.objectives[actor]; o != nil {
		return o
	}
	o := &Objective{r: r}
	r.objectives[actor] = o
	return o
}

func (r *Runner) Actor(name string) (model.ActorID, bool) {
	id, ok := r.actors[name]
	return id, ok
}

func (r *Runner) Item(name string) (model.ItemID, bool) {
	id, ok := r.items[name]
	return id, ok
}

func (r *Runner) Project(name string) (project.ID, bool) {
	id, ok := r.projects[name]
	return id, ok
}

func (r *Runner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

// Done reports whether every project has started and ended.
func (r *Runner) Done() bool {
	return r.nextProject == len(r.cfg.Projects) && len(r.Engine.Projects()) == 0
}

func (r *Runner) Step(ctx context.Context) error {
	now := r.Engine.Now()
	for r.nextProject < len(r.cfg.Projects) && r.cfg.Projects[r.nextProject].StartStep <= now {
		spec := r.cfg.Projects[r.nextProject]
		r.nextProject++
		id, err := r.Engine.CreateProject(spec.Design())
		if err != nil {
			return fmt.Errorf("project %q: %w", spec.Name, err)
		}
		r.projects[spec.Name] = id
		for _, w := range spec.Workers {
			r.offer(r.actors[w])
		}
	}
	for r.nextAction < len(r.cfg.Script) && r.cfg.Script[r.nextAction].Step <= now {
		r.apply(r.cfg.Script[r.nextAction])
		r.nextAction++
	}

	if err := r.Engine.Step(ctx); err != nil {
		return err
	}
	r.World.Step()

	now = r.Engine.Now()
	for _, a := range r.World.ActorIDs() {
		if p, ok := r.Engine.ProjectOf(a); ok {
			if p.HasWorker(a) && r.World.IsIdle(a) {
				r.Engine.CommandWorker(a)
			}
			continue
		}
		if o := r.objectives[a]; o != nil && o.retryAt != 0 && o.retryAt <= now {
			o.retryAt = 0
			r.offer(a)
		}
	}
	return nil
}

// offer puts actor forward for the project it was cast for, if that
// project is still running.
func (r *Runner) offer(actor model.ActorID) {
	name, ok := r.wants[actor]
	if !ok {
		return
	}
	id, ok := r.projects[name]
	if !ok {
		return
	}
	if _, live := r.Engine.Project(id); !live {
		return
	}
	if _, exists := r.World.Actor(actor); !exists {
		return
	}
	o := r.objective(actor)
	if err := r.Engine.AddWorkerCandidate(id, actor, o); err != nil {
		// Delayed or full: try again later.
		o.retryAt = r.Engine.Now() + r.cfg.RetrySteps
		r.logf("offer %s to %s: %v", model.ActorRef(actor), name, err)
	}
}

func (r *Runner) apply(a ActionSpec) {
	r.logf("step %d: %s %s%s", r.Engine.Now(), a.Action, a.Project, a.Target)
	switch a.Action {
	case ActionCancel:
		if id, ok := r.projects[a.Project]; ok {
			r.Engine.Cancel(id)
		}
	case ActionReset:
		if id, ok := r.projects[a.Project]; ok {
			r.Engine.Reset(id)
		}
	case ActionDestroyItem:
		if id, ok := r.items[a.Target]; ok {
			if _, exists := r.World.Item(id); exists {
				r.World.DestroyItem(id)
			}
		}
	case ActionRemoveWorker:
		if id, ok := r.actors[a.Target]; ok {
			r.Engine.RemoveWorker(id)
			delete(r.wants, id)
		}
	case ActionRemoveActor:
		if id, ok := r.actors[a.Target]; ok {
			r.Engine.RemoveWorker(id)
			delete(r.wants, id)
			if _, exists := r.World.Actor(id); exists {
				r.World.RemoveActor(id)
			}
		}
	}
}

// Objective is the worker controller the runner gives each actor. Releases
// that leave the project running schedule another offer.
type Objective struct {
	r       *Runner
	retryAt uint64

	Completed int
	Resets    int
	Refusals  int
	Cancelled int
}

func (o *Objective) ProjectComplete(project.ID) { o.Completed++ }
func (o *Objective) CannotComplete(project.ID)  { o.Cancelled++ }

func (o *Objective) Reset(project.ID) {
	o.Resets++
	o.retryAt = o.r.Engine.Now() + o.r.cfg.RetrySteps
}

func (o *Objective) CannotReserve(project.ID) {
	o.Refusals++
	o.retryAt = o.r.Engine.Now() + o.r.cfg.RetrySteps
}

// Summary counts objective notices across every actor, sorted by actor.
type Summary struct {
	Actor     model.ActorID
	Completed int
	Resets    int
	Refusals  int
	Cancelled int
}

func (r *Runner) Summaries() []Summary {
	out := make([]Summary, 0, len(r.objectives))
	for a, o := range r.objectives {
		out = append(out, Summary{Actor: a, Completed: o.Completed, Resets: o.Resets, Refusals: o.Refusals, Cancelled: o.Cancelled})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Actor < out[j].Actor })
	return out
}
