package scenario

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/tuning"
)

func loadCats(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func oneWall() Config {
	cfg := Config{
		Name:  "one wall",
		Width: 16,
		Depth: 8,
		Actors: []ActorSpec{
			{Name: "urist", Species: "dwarf", Faction: "red", At: [2]int{2, 3}},
		},
		Items: []ItemSpec{
			{Name: "stones", Type: "stone", Quantity: 3, At: [2]int{5, 3}},
		},
		Projects: []ProjectSpec{{
			Name:     "wall",
			Kind:     "construct",
			At:       [2]int{10, 3},
			Faction:  "red",
			Duration: 4,
			Consumed: []NeedSpec{{Type: "stone", Quantity: 3}},
			Workers:  []string{"urist"},
		}},
	}
	cfg.Normalize()
	return cfg
}

func run(t *testing.T, r *Runner, max int) int {
	t.Helper()
	for i := 0; i < max; i++ {
		if r.Done() {
			return i
		}
		if err := r.Step(context.Background()); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if !r.Done() {
		t.Fatalf("scenario not done after %d steps", max)
	}
	return max
}

func TestLoadDemoScenario(t *testing.T) {
	cfg, err := Load("../../../configs/scenarios/quarry.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "quarry" || len(cfg.Projects) != 3 || cfg.RetrySteps != 10 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Projects[2].Name != "sawpit" || cfg.Projects[2].StartStep != 20 {
		t.Fatalf("projects not in start order: %+v", cfg.Projects)
	}
	d := cfg.Projects[2].Design()
	if d.Kind != project.KindWoodcut || d.MaxWorkers != 1 || len(d.Unconsumed) != 1 || len(d.Byproducts) != 1 {
		t.Fatalf("design=%+v", d)
	}
	if _, err := Build(cfg, loadCats(t), tuning.Defaults(), nil); err != nil {
		t.Fatalf("Build: %v", err)
	}
}

func TestValidateRejectsBadReferences(t *testing.T) {
	cases := map[string]func(*Config){
		"worker is not an actor": func(c *Config) { c.Projects[0].Workers = []string{"stones"} },
		"unknown kind":           func(c *Config) { c.Projects[0].Kind = "smelt" },
		"duplicate name":         func(c *Config) { c.Items[0].Name = "urist" },
		"off the grid":           func(c *Config) { c.Actors[0].At = [2]int{99, 0} },
		"bad script target":      func(c *Config) { c.Script = []ActionSpec{{Action: ActionDestroyItem, Target: "urist"}} },
		"unknown action":         func(c *Config) { c.Script = []ActionSpec{{Action: "explode", Target: "stones"}} },
	}
	for name, mutate := range cases {
		cfg := oneWall()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: accepted", name)
		}
	}
	if err := oneWall().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestLoadReportsFileName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("projects: [{name: p, kind: dig, faction: red, workers: [ghost]}]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "broken.yaml") || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("err=%v", err)
	}
}

func TestRunnerCompletesProject(t *testing.T) {
	r, err := Build(oneWall(), loadCats(t), tuning.Defaults(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	run(t, r, 80)
	urist, _ := r.Actor("urist")
	sums := r.Summaries()
	if len(sums) != 1 || sums[0].Actor != urist || sums[0].Completed != 1 {
		t.Fatalf("summaries=%+v", sums)
	}
	stones, _ := r.Item("stones")
	if _, ok := r.World.Item(stones); ok {
		t.Fatalf("stone survived completion")
	}
}

func TestScriptedCancelEndsTheRun(t *testing.T) {
	cfg := oneWall()
	cfg.Script = []ActionSpec{{Step: 3, Action: ActionCancel, Project: "wall"}}
	r, err := Build(cfg, loadCats(t), tuning.Defaults(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	steps := run(t, r, 20)
	if steps > 5 {
		t.Fatalf("cancel at step 3 ended the run after %d steps", steps)
	}
	for _, s := range r.Summaries() {
		if s.Completed != 0 {
			t.Fatalf("cancelled project completed: %+v", s)
		}
	}
}

func TestDelayedStartWaitsForItsStep(t *testing.T) {
	cfg := oneWall()
	cfg.Projects[0].StartStep = 5
	r, err := Build(cfg, loadCats(t), tuning.Defaults(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := r.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
		if _, ok := r.Project("wall"); ok {
			t.Fatalf("project created at step %d", i)
		}
	}
	if err := r.Step(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Project("wall"); !ok {
		t.Fatalf("project not created at its start step")
	}
}

func TestAdoptResumesInLockstep(t *testing.T) {
	cats := loadCats(t)
	a, err := Build(oneWall(), cats, tuning.Defaults(), nil)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 6; i++ {
		if err := a.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	b, err := Build(oneWall(), cats, tuning.Defaults(), nil)
	if err != nil {
		t.Fatal(err)
	}
	projects := a.Engine.Export()
	if err := b.Ledger.Import(a.Ledger.Export()); err != nil {
		t.Fatalf("ledger import: %v", err)
	}
	b.TL.SetNow(a.Engine.Now())
	if err := b.World.Import(a.World.Export()); err != nil {
		t.Fatalf("world import: %v", err)
	}
	if err := b.Engine.Import(projects, b.Resolve, nil); err != nil {
		t.Fatalf("engine import: %v", err)
	}
	b.Adopt(b.Ledger, b.TL, b.World, b.Engine)
	if id, ok := b.Project("wall"); !ok || id != 1 {
		t.Fatalf("adopted project id=%d,%v", id, ok)
	}

	for i := 0; i < 80 && !(a.Done() && b.Done()); i++ {
		if a.Done() != b.Done() {
			t.Fatalf("diverged at step %d", a.Engine.Now())
		}
		if err := a.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
		if err := b.Step(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if !a.Done() || !b.Done() || a.Engine.Now() != b.Engine.Now() {
		t.Fatalf("done a=%v b=%v at %d/%d", a.Done(), b.Done(), a.Engine.Now(), b.Engine.Now())
	}
	if s := b.Summaries(); len(s) != 1 || s[0].Completed != 1 {
		t.Fatalf("restored summaries=%+v", s)
	}
}

func TestExportCarriesPendingOffers(t *testing.T) {
	cats := loadCats(t)
	a, err := Build(oneWall(), cats, tuning.Defaults(), nil)
	if err != nil {
		t.Fatal(err)
	}
	urist, _ := a.Actor("urist")
	o := a.objective(urist)
	o.retryAt, o.Refusals = 42, 2

	b, err := Build(oneWall(), cats, tuning.Defaults(), nil)
	if err != nil {
		t.Fatal(err)
	}
	b.objective(urist).retryAt = 1
	b.Import(a.Export())
	got := b.objectives[urist]
	if got.retryAt != 42 || got.Refusals != 2 {
		t.Fatalf("imported objective=%+v", got)
	}
}
