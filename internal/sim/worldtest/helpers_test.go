package worldtest

import (
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/project"
	"hearthwork.ai/internal/sim/reserve"
	"hearthwork.ai/internal/sim/tuning"
)

var reserveNothing = reserve.Callback{}

func at(x, z int) model.Vec3i { return model.Vec3i{X: x, Z: z} }

func item(typ string, qty int) project.Need {
	return project.Need{Query: model.Query{Kind: model.RefItem, Type: typ}, Quantity: qty}
}

func actorNeed(species string) project.Need {
	return project.Need{Query: model.Query{Kind: model.RefActor, Type: species}, Quantity: 1}
}

func construct(site model.Vec3i, workers int, base uint64, consumed ...project.Need) project.Design {
	return project.Design{
		Kind:         project.KindConstruct,
		Location:     site,
		Faction:      "red",
		MaxWorkers:   workers,
		Consumed:     consumed,
		BaseDuration: base,
	}
}

// quick is Defaults with short waits so scenarios stay a few dozen steps.
func quick() *tuning.Tuning {
	t := tuning.Defaults()
	t.Projects.AdmissionRetrySteps = 2
	pol := t.Projects.Kinds["construct"]
	pol.DelaySteps = 6
	t.Projects.Kinds["construct"] = pol
	return &t
}

func contains(xs []model.ActorID, a model.ActorID) bool {
	for _, x := range xs {
		if x == a {
			return true
		}
	}
	return false
}

func samePhases(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// delayHooks counts delay edges.
type delayHooks struct{ on, off int }

func (d *delayHooks) funcs() project.HookFuncs {
	return project.HookFuncs{
		Delay:    func(*project.Project) { d.on++ },
		DelayOff: func(*project.Project) { d.off++ },
	}
}
