package project

import (
	"testing"

	"hearthwork.ai/internal/sim/haul"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/timeline"
	"hearthwork.ai/internal/sim/tuning"
)

func logInfo(qty int) model.Info {
	return model.Info{Ref: model.ItemRef(7), Type: "log", Material: "oak", Quantity: qty, Generic: true}
}

func TestRequirementsMatchFirstOpenSlot(t *testing.T) {
	d := Design{
		Consumed:   []Need{{Query: model.Query{Kind: model.RefItem, Type: "log", Material: "pine"}, Quantity: 2}},
		Unconsumed: []Need{{Query: model.Query{Kind: model.RefItem, Type: "log"}, Quantity: 1}},
	}
	rs := newRequirements(d)
	if !rs[0].Consumed || rs[1].Consumed {
		t.Fatalf("consumed needs must come first: %+v", rs)
	}
	if i, ok := rs.Match(logInfo(3), rs.missing()); !ok || i != 1 {
		t.Fatalf("oak log matched %d,%v want the unconsumed slot", i, ok)
	}
	pine := logInfo(1)
	pine.Material = "pine"
	if i, ok := rs.Match(pine, rs.missing()); !ok || i != 0 {
		t.Fatalf("pine log matched %d,%v want slot 0", i, ok)
	}
	if i, ok := rs.Match(pine, []int{0, 1}); !ok || i != 1 {
		t.Fatalf("a full slot should be skipped, got %d,%v", i, ok)
	}
	actor := model.Info{Ref: model.ActorRef(1), Type: "log"}
	if _, ok := rs.Match(actor, rs.missing()); ok {
		t.Fatalf("actors never match item queries")
	}
}

func TestRequirementsCompletion(t *testing.T) {
	rs := Requirements{{Required: 2}, {Required: 1}}
	if rs.ReservationsComplete() || rs.DeliveriesComplete() {
		t.Fatalf("fresh requirements reported complete")
	}
	rs[0].Reserved, rs[1].Reserved = 2, 1
	if !rs.ReservationsComplete() || rs.DeliveriesComplete() {
		t.Fatalf("reserved but undelivered")
	}
	if rs[0].Missing() != 0 {
		t.Fatalf("missing=%d", rs[0].Missing())
	}
	rs[0].Delivered, rs[1].Delivered = 2, 1
	if !rs.DeliveriesComplete() {
		t.Fatalf("all delivered")
	}
	rs.reset()
	if rs[0].Reserved != 0 || rs[1].Delivered != 0 || rs[0].Required != 2 {
		t.Fatalf("reset=%+v", rs)
	}
	var none Requirements
	if !none.ReservationsComplete() || !none.DeliveriesComplete() {
		t.Fatalf("a project with no needs is trivially complete")
	}
}

func TestPhase(t *testing.T) {
	p := &Project{toPickup: map[model.Ref]pickup{}, hauls: map[haul.ID]*haul.Subproject{}}
	if p.Phase() != Recruiting {
		t.Fatalf("new project phase=%s", p.Phase())
	}
	p.reservationsComplete = true
	if p.Phase() != Waiting {
		t.Fatalf("reserved with nothing to haul: %s", p.Phase())
	}
	p.toPickup[model.ItemRef(1)] = pickup{quantity: 1}
	if p.Phase() != Hauling {
		t.Fatalf("with backlog: %s", p.Phase())
	}
	delete(p.toPickup, model.ItemRef(1))
	p.hauls[1] = &haul.Subproject{}
	if p.Phase() != Waiting {
		t.Fatalf("backlog dispatched, haul in flight: %s", p.Phase())
	}
	p.toPickup[model.ItemRef(2)] = pickup{quantity: 1}
	if p.Phase() != Hauling {
		t.Fatalf("backlog left beside a haul in flight: %s", p.Phase())
	}
	delete(p.toPickup, model.ItemRef(2))
	p.deliveriesComplete = true
	if p.Phase() != Making {
		t.Fatalf("delivered: %s", p.Phase())
	}
	p.delayed = true
	if p.Phase() != Delayed {
		t.Fatalf("delayed: %s", p.Phase())
	}
	p.done, p.ended = true, Cancelled
	if p.Phase() != Cancelled || p.Phase().String() != "cancelled" {
		t.Fatalf("ended: %s", p.Phase())
	}
}

func TestPercentCompleteBanksProgress(t *testing.T) {
	tl := timeline.New(1)
	p := &Project{percentDone: 40}
	if got := p.PercentComplete(0); got != 40 {
		t.Fatalf("no finish event: %d", got)
	}
	p.finish = tl.Schedule(10, func() {})
	if got := p.PercentComplete(5); got != 70 {
		t.Fatalf("halfway through the rest: %d want 70", got)
	}
	p.done, p.ended = true, Complete
	if got := p.PercentComplete(5); got != 100 {
		t.Fatalf("complete: %d", got)
	}
}

func TestDurationSplitsAcrossWorkers(t *testing.T) {
	d := Design{BaseDuration: 20}
	cases := []struct {
		n    int
		want uint64
	}{{0, 20}, {1, 20}, {2, 10}, {3, 7}, {40, 1}}
	for _, c := range cases {
		if got := d.Duration(c.n); got != c.want {
			t.Fatalf("Duration(%d)=%d want %d", c.n, got, c.want)
		}
	}
	if got := (Design{}).Duration(3); got != 1 {
		t.Fatalf("zero base duration=%d want 1", got)
	}
}

func TestKindNamesAndPolicy(t *testing.T) {
	for k, name := range kindNames {
		back, ok := ParseKind(name)
		if !ok || back != k || k.String() != name {
			t.Fatalf("kind %d round trip via %q gave %d,%v", k, name, back, ok)
		}
	}
	if _, ok := ParseKind("smelt"); ok {
		t.Fatalf("unknown kind parsed")
	}
	tu := tuning.Defaults()
	if pol := KindStockpile.Policy(tu); pol.CanReset || !pol.HaulingOnly {
		t.Fatalf("default stockpile policy=%+v", pol)
	}
	tu.Projects.Kinds["stockpile"] = tuning.Policy{CanReset: true, HaulRetriesBeforeDelay: 1, AdmissionRetriesBeforeDelay: 1, DelaySteps: 1}
	if pol := KindStockpile.Policy(tu); !pol.CanReset || pol.HaulingOnly || pol.DelaySteps != 1 {
		t.Fatalf("tuned stockpile policy=%+v", pol)
	}
	if pol := KindConstruct.Policy(tu); !pol.CanReset || pol.HaulingOnly {
		t.Fatalf("construct policy=%+v", pol)
	}
}
