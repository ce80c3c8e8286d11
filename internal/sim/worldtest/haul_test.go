package worldtest

import (
	"testing"

	"hearthwork.ai/internal/sim/haul"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/project"
)

func itemsOfType(h *Harness, typ string) []model.ItemID {
	var out []model.ItemID
	for _, id := range h.W.ItemIDs() {
		if it, _ := h.W.Item(id); it.Type == typ {
			out = append(out, id)
		}
	}
	return out
}

// startedStrategy returns the strategy of the first haul the engine started.
func startedStrategy(h *Harness) string {
	if ev := h.Find(project.EventHaulStarted); ev != nil {
		return ev.Strategy
	}
	return ""
}

func runToCompletion(h *Harness, id project.ID, max int) {
	h.T.Helper()
	h.StepUntil(max, "completion", func() bool {
		_, live := h.E.Project(id)
		return !live
	})
	if !h.Saw(project.EventCompleted) {
		h.T.Fatalf("project ended without completing; events=%v", h.kinds())
	}
}

func TestIndividualHaulCompletesProject(t *testing.T) {
	h := NewHarness(t, Config{})
	site := at(10, 3)
	d := h.Actor("dwarf", "red", at(2, 3))
	h.Item("stone", 3, at(5, 3))
	design := construct(site, 1, 4, item("stone", 3))
	design.Byproducts = []project.Byproduct{{Type: "plank", Quantity: 2}}
	id := h.Project(design)
	obj := h.Offer(id, d)

	runToCompletion(h, id, 60)

	if strat := startedStrategy(h); strat != haul.Individual.String() {
		t.Fatalf("strategy=%q want Individual", strat)
	}
	if ev := h.Find(project.EventHaulStarted); ev.Quantity != 3 {
		t.Fatalf("haul quantity=%d want one trip of 3", ev.Quantity)
	}
	if got := h.Phases(); !samePhases(got, "hauling", "waiting", "making", "complete") {
		t.Fatalf("phases=%v", got)
	}
	if left := itemsOfType(h, "stone"); len(left) != 0 {
		t.Fatalf("stone not consumed: %v", left)
	}
	planks := itemsOfType(h, "plank")
	if len(planks) != 1 {
		t.Fatalf("planks=%v want one stack", planks)
	}
	if p, _ := h.W.Item(planks[0]); p.Quantity != 2 || h.W.Location(model.ItemRef(planks[0])) != site {
		t.Fatalf("byproduct %d at %s", p.Quantity, h.W.Location(model.ItemRef(planks[0])))
	}
	if obj.Last() != "complete" {
		t.Fatalf("objective notices=%v", obj.Notices)
	}
	if _, ok := h.E.ProjectOf(d); ok {
		t.Fatalf("worker still assigned after completion")
	}
}

func TestDispatchedBacklogWaitsForDelivery(t *testing.T) {
	h := NewHarness(t, Config{})
	d := h.Actor("dwarf", "red", at(2, 3))
	h.Item("stone", 1, at(5, 3))
	id := h.Project(construct(at(10, 3), 1, 2, item("stone", 1)))
	h.Offer(id, d)

	h.StepUntil(10, "a haul", func() bool { return h.Saw(project.EventHaulStarted) })
	p := h.MustProject(id)
	if len(p.Backlog()) != 0 || len(p.Hauls()) != 1 {
		t.Fatalf("backlog=%v hauls=%d", p.Backlog(), len(p.Hauls()))
	}
	if p.Phase() != project.Waiting {
		t.Fatalf("phase with the whole backlog in flight=%s", p.Phase())
	}

	h.StepUntil(40, "delivery", func() bool { return h.MustProject(id).Phase() == project.Making })
	if got := h.Phases(); !samePhases(got, "hauling", "waiting", "making") {
		t.Fatalf("phases=%v", got)
	}
}

func TestWheeledTargetIsPulledBySoloWorker(t *testing.T) {
	h := NewHarness(t, Config{})
	site := at(10, 3)
	d := h.Actor("dwarf", "red", at(2, 3))
	cart := h.Item("cart", 1, at(5, 3))
	design := construct(site, 1, 2)
	design.Unconsumed = []project.Need{item("cart", 1)}
	id := h.Project(design)
	h.Offer(id, d)

	runToCompletion(h, id, 60)

	if strat := startedStrategy(h); strat != haul.IndividualCargoIsCart.String() {
		t.Fatalf("strategy=%q want IndividualCargoIsCart", strat)
	}
	if ev := h.Find(project.EventHaulDelivered); ev.Target != model.ItemRef(cart).String() {
		t.Fatalf("delivered %q want the cart", ev.Target)
	}
	if h.W.IsFollowing(model.ItemRef(cart)) {
		t.Fatalf("cart still follows after delivery")
	}
	if _, ok := h.W.Item(cart); !ok {
		t.Fatalf("unconsumed cart was destroyed")
	}
}

func TestHeavyTargetUsesTeamLift(t *testing.T) {
	tu := quick()
	tu.Haul.MinimumHaulSpeedInitial = 2
	h := NewHarness(t, Config{Tuning: tu})
	boulder := h.Item("boulder", 1, at(5, 3))
	d1 := h.Actor("dwarf", "red", at(2, 3))
	d2 := h.Actor("dwarf", "red", at(2, 5))
	id := h.Project(construct(at(10, 3), 2, 2, item("boulder", 1)))
	h.Offer(id, d1)
	h.Offer(id, d2)

	h.StepUntil(20, "a haul", func() bool { return len(h.MustProject(id).Hauls()) > 0 })
	s := h.MustProject(id).Hauls()[0]
	if s.Strategy != haul.Team || len(s.Workers) != 2 {
		t.Fatalf("plan=%+v want a two-worker Team haul", s.Params)
	}
	pts := h.W.LiftPoints(model.ItemRef(boulder))
	if len(pts) < 2 {
		t.Fatalf("lift points=%v", pts)
	}

	h.StepUntil(30, "the lift", func() bool {
		ss := h.MustProject(id).Hauls()
		return len(ss) > 0 && ss[0].Moving
	})
	for _, w := range []model.ActorID{d1, d2} {
		if !h.W.IsAdjacentTo(w, model.ItemRef(boulder)) {
			t.Fatalf("worker %d not beside the boulder when the lift started", w)
		}
	}

	h.StepUntil(40, "delivery", func() bool { return h.Saw(project.EventHaulDelivered) })
	p := h.MustProject(id)
	if r := p.Requirements()[0]; r.Delivered != 1 || r.Required != 1 {
		t.Fatalf("requirement after delivery: %+v", r)
	}
	runToCompletion(h, id, 30)
}

func TestToolLostMidTransitReturnsTargetToBacklog(t *testing.T) {
	h := NewHarness(t, Config{})
	d := h.Actor("dwarf", "red", at(2, 3))
	cart := h.Item("cart", 1, at(3, 5))
	boulder := h.Item("boulder", 1, at(6, 3))
	id := h.Project(construct(at(12, 3), 1, 2, item("boulder", 1)))
	h.Offer(id, d)

	h.StepUntil(30, "loaded cart", func() bool {
		ss := h.MustProject(id).Hauls()
		return len(ss) > 0 && !ss[0].Cargo.IsZero()
	})
	p := h.MustProject(id)
	if s := p.Hauls()[0]; s.Strategy != haul.Cart || s.Tool != cart {
		t.Fatalf("plan=%+v want Cart with %d", s.Params, cart)
	}

	cartRid := h.Reservable(model.ItemRef(cart))
	h.Ledger.Reduce(p.Holder(), cartRid, 0)
	h.Ledger.Reserve(h.Ledger.NewHolder("blue"), cartRid, 1, reserveNothing)
	h.Step()

	if got := h.Ledger.ReservedBy(cartRid, p.Holder()); got != 0 {
		t.Fatalf("project still holds %d of the cart", got)
	}
	if len(p.Hauls()) != 0 {
		t.Fatalf("haul survived losing its tool")
	}
	if p.Backlog()[model.ItemRef(boulder)] != 1 {
		t.Fatalf("backlog=%v want the boulder back", p.Backlog())
	}
	if !p.HasWorker(d) {
		t.Fatalf("worker dropped with the haul")
	}
	if !h.Saw(project.EventHaulCancelled) {
		t.Fatalf("no haul_cancelled; events=%v", h.kinds())
	}
	if h.W.IsFollowing(model.ItemRef(cart)) {
		t.Fatalf("cart still hitched")
	}
	if h.Ledger.TotalReserved(h.Reservable(model.ItemRef(boulder))) != 1 {
		t.Fatalf("boulder claim lost")
	}
	h.StepFor(5)
}

func TestSlowCartFallsBackToAnimalCart(t *testing.T) {
	h := NewHarness(t, Config{})
	g := h.Actor("gnome", "red", at(2, 3))
	donkey := h.Actor("donkey", "", at(2, 5))
	cart := h.Item("cart", 1, at(4, 5))
	h.Item("boulder", 1, at(8, 3))
	id := h.Project(construct(at(13, 3), 1, 2, item("boulder", 1)))
	h.Offer(id, g)

	h.StepUntil(20, "a haul", func() bool { return len(h.MustProject(id).Hauls()) > 0 })
	s := h.MustProject(id).Hauls()[0]
	if s.Strategy != haul.AnimalCart || s.Tool != cart || s.Beast != donkey {
		t.Fatalf("plan=%+v want AnimalCart", s.Params)
	}
	runToCompletion(h, id, 80)
	if h.W.IsFollowing(model.ActorRef(donkey)) || h.W.IsFollowing(model.ItemRef(cart)) {
		t.Fatalf("train not broken up after delivery")
	}
}

func TestPanniersGoOnTheBeast(t *testing.T) {
	h := NewHarness(t, Config{})
	g := h.Actor("gnome", "red", at(2, 3))
	donkey := h.Actor("donkey", "", at(2, 5))
	panniers := h.Item("panniers", 1, at(4, 3))
	h.Item("boulder", 1, at(8, 3))
	id := h.Project(construct(at(13, 3), 1, 2, item("boulder", 1)))
	h.Offer(id, g)

	h.StepUntil(20, "a haul", func() bool { return len(h.MustProject(id).Hauls()) > 0 })
	s := h.MustProject(id).Hauls()[0]
	if s.Strategy != haul.Panniers || s.Tool != panniers || s.Beast != donkey {
		t.Fatalf("plan=%+v want Panniers", s.Params)
	}
	runToCompletion(h, id, 80)
	if !h.W.IsEquipped(donkey, panniers) {
		t.Fatalf("donkey should still wear the panniers")
	}
}

func TestTwoWeakWorkersShareACart(t *testing.T) {
	h := NewHarness(t, Config{})
	g1 := h.Actor("gnome", "red", at(2, 3))
	g2 := h.Actor("gnome", "red", at(2, 5))
	h.Item("cart", 1, at(4, 5))
	h.Item("boulder", 1, at(8, 3))
	id := h.Project(construct(at(13, 3), 2, 2, item("boulder", 1)))
	h.Offer(id, g1)
	h.Offer(id, g2)

	h.StepUntil(20, "a haul", func() bool { return len(h.MustProject(id).Hauls()) > 0 })
	s := h.MustProject(id).Hauls()[0]
	if s.Strategy != haul.TeamCart || len(s.Workers) != 2 {
		t.Fatalf("plan=%+v want TeamCart", s.Params)
	}
	runToCompletion(h, id, 80)
}

func TestNoStrategyLowersTheSpeedBar(t *testing.T) {
	h := NewHarness(t, Config{})
	g := h.Actor("gnome", "red", at(2, 3))
	h.Item("boulder", 1, at(5, 3))
	id := h.Project(construct(at(10, 3), 1, 2, item("boulder", 1)))
	h.Offer(id, g)

	h.StepUntil(10, "a failed dispatch", func() bool { return h.Saw(project.EventHaulNoStrategy) })
	p := h.MustProject(id)
	if p.MinimumHaulSpeed() != h.Tuning.Haul.MinimumHaulSpeedInitial-1 {
		t.Fatalf("minimum haul speed=%d", p.MinimumHaulSpeed())
	}
	if p.HaulRetries() != 1 {
		t.Fatalf("haul retries=%d", p.HaulRetries())
	}
	if p.Phase() != project.Hauling {
		t.Fatalf("phase=%s", p.Phase())
	}
}
