package scenario

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/project"
)

// Config is a scenario file: a grid, what stands on it, and the projects
// started over the run. Entities are named so projects and scripted
// actions can refer to them.
type Config struct {
	Name  string `yaml:"name"`
	Width int    `yaml:"width"`
	Depth int    `yaml:"depth"`
	Steps int    `yaml:"steps"`

	Walls    [][2]int      `yaml:"walls,omitempty"`
	Actors   []ActorSpec   `yaml:"actors"`
	Items    []ItemSpec    `yaml:"items,omitempty"`
	Projects []ProjectSpec `yaml:"projects"`
	Script   []ActionSpec  `yaml:"script,omitempty"`

	// RetrySteps is how long a released worker waits before it offers
	// itself to a project again.
	RetrySteps uint64 `yaml:"retry_steps"`
}

type ActorSpec struct {
	Name    string `yaml:"name"`
	Species string `yaml:"species"`
	Faction string `yaml:"faction,omitempty"`
	At      [2]int `yaml:"at"`
}

type ItemSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Material string `yaml:"material,omitempty"`
	Quantity int    `yaml:"quantity"`
	At       [2]int `yaml:"at"`
}

type NeedSpec struct {
	Type     string `yaml:"type"`
	Material string `yaml:"material,omitempty"`
	Quantity int    `yaml:"quantity"`
	// Actor makes the need an actor of species Type, e.g. a patient.
	Actor bool `yaml:"actor,omitempty"`
}

type ProjectSpec struct {
	Name       string              `yaml:"name"`
	Kind       string              `yaml:"kind"`
	At         [2]int              `yaml:"at"`
	Faction    string              `yaml:"faction"`
	MaxWorkers int                 `yaml:"max_workers"`
	Duration   uint64              `yaml:"duration"`
	StartStep  uint64              `yaml:"start_step,omitempty"`
	Consumed   []NeedSpec          `yaml:"consumed,omitempty"`
	Unconsumed []NeedSpec          `yaml:"unconsumed,omitempty"`
	Byproducts []project.Byproduct `yaml:"byproducts,omitempty"`
	Workers    []string            `yaml:"workers"`
}

// ActionSpec is a scripted disturbance applied before the engine runs
// step Step.
type ActionSpec struct {
	Step   uint64 `yaml:"step"`
	Action string `yaml:"action"`
	// Project for cancel and reset; Target names an actor or item.
	Project string `yaml:"project,omitempty"`
	Target  string `yaml:"target,omitempty"`
}

const (
	ActionCancel       = "cancel"
	ActionReset        = "reset"
	ActionDestroyItem  = "destroy_item"
	ActionRemoveWorker = "remove_worker"
	ActionRemoveActor  = "remove_actor"
)

func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("empty scenario path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Normalize() {
	if c.Width <= 0 {
		c.Width = 32
	}
	if c.Depth <= 0 {
		c.Depth = 16
	}
	if c.Steps <= 0 {
		c.Steps = 500
	}
	if c.RetrySteps == 0 {
		c.RetrySteps = 10
	}
	for i := range c.Items {
		if c.Items[i].Quantity <= 0 {
			c.Items[i].Quantity = 1
		}
	}
	for i := range c.Projects {
		p := &c.Projects[i]
		if p.MaxWorkers <= 0 {
			p.MaxWorkers = len(p.Workers)
		}
		if p.MaxWorkers <= 0 {
			p.MaxWorkers = 1
		}
	}
	// Stable so projects starting on the same step keep file order.
	sort.SliceStable(c.Projects, func(i, j int) bool { return c.Projects[i].StartStep < c.Projects[j].StartStep })
	sort.SliceStable(c.Script, func(i, j int) bool { return c.Script[i].Step < c.Script[j].Step })
}

func (c Config) Validate() error {
	names := map[string]string{}
	claim := func(kind, name string) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%s without a name", kind)
		}
		if prev, ok := names[name]; ok {
			return fmt.Errorf("%s %q: name already used by a %s", kind, name, prev)
		}
		names[name] = kind
		return nil
	}
	inGrid := func(at [2]int) bool { return at[0] >= 0 && at[1] >= 0 && at[0] < c.Width && at[1] < c.Depth }

	for _, a := range c.Actors {
		if err := claim("actor", a.Name); err != nil {
			return err
		}
		if a.Species == "" {
			return fmt.Errorf("actor %q: species required", a.Name)
		}
		if !inGrid(a.At) {
			return fmt.Errorf("actor %q: %v outside %dx%d", a.Name, a.At, c.Width, c.Depth)
		}
	}
	for _, it := range c.Items {
		if err := claim("item", it.Name); err != nil {
			return err
		}
		if it.Type == "" {
			return fmt.Errorf("item %q: type required", it.Name)
		}
		if !inGrid(it.At) {
			return fmt.Errorf("item %q: %v outside %dx%d", it.Name, it.At, c.Width, c.Depth)
		}
	}
	for _, p := range c.Projects {
		if err := claim("project", p.Name); err != nil {
			return err
		}
		if _, ok := project.ParseKind(p.Kind); !ok {
			return fmt.Errorf("project %q: unknown kind %q", p.Name, p.Kind)
		}
		if !inGrid(p.At) {
			return fmt.Errorf("project %q: %v outside %dx%d", p.Name, p.At, c.Width, c.Depth)
		}
		if p.Faction == "" {
			return fmt.Errorf("project %q: faction required", p.Name)
		}
		for _, n := range append(append([]NeedSpec(nil), p.Consumed...), p.Unconsumed...) {
			if n.Type == "" || n.Quantity <= 0 {
				return fmt.Errorf("project %q: need %+v must name a type and a positive quantity", p.Name, n)
			}
		}
		for _, w := range p.Workers {
			if names[w] != "actor" {
				return fmt.Errorf("project %q: worker %q is not an actor", p.Name, w)
			}
		}
	}
	for _, s := range c.Script {
		switch s.Action {
		case ActionCancel, ActionReset:
			if names[s.Project] != "project" {
				return fmt.Errorf("script step %d: %s needs a project, got %q", s.Step, s.Action, s.Project)
			}
		case ActionDestroyItem:
			if names[s.Target] != "item" {
				return fmt.Errorf("script step %d: %s needs an item, got %q", s.Step, s.Action, s.Target)
			}
		case ActionRemoveWorker, ActionRemoveActor:
			if names[s.Target] != "actor" {
				return fmt.Errorf("script step %d: %s needs an actor, got %q", s.Step, s.Action, s.Target)
			}
		default:
			return fmt.Errorf("script step %d: unknown action %q", s.Step, s.Action)
		}
	}
	return nil
}

func at(p [2]int) model.Vec3i { return model.Vec3i{X: p[0], Z: p[1]} }

func (n NeedSpec) need() project.Need {
	q := model.Query{Kind: model.RefItem, Type: n.Type, Material: n.Material}
	if n.Actor {
		q.Kind = model.RefActor
	}
	return project.Need{Query: q, Quantity: n.Quantity}
}

func needs(specs []NeedSpec) []project.Need {
	if len(specs) == 0 {
		return nil
	}
	out := make([]project.Need, 0, len(specs))
	for _, n := range specs {
		out = append(out, n.need())
	}
	return out
}

// Design converts p to the engine's project design.
func (p ProjectSpec) Design() project.Design {
	kind, _ := project.ParseKind(p.Kind)
	return project.Design{
		Kind:         kind,
		Location:     at(p.At),
		Faction:      model.FactionID(p.Faction),
		MaxWorkers:   p.MaxWorkers,
		Consumed:     needs(p.Consumed),
		Unconsumed:   needs(p.Unconsumed),
		Byproducts:   p.Byproducts,
		BaseDuration: p.Duration,
	}
}
