package gridworld

import (
	"testing"

	"hearthwork.ai/internal/sim/catalogs"
	"hearthwork.ai/internal/sim/kernel/model"
	"hearthwork.ai/internal/sim/logic/carry"
	"hearthwork.ai/internal/sim/reserve"
)

func testCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.FromDefs(
		[]catalogs.SpeciesDef{
			{ID: "dwarf", Mass: 60, CarryMass: 50, Speed: 10, Sentient: true},
			{ID: "donkey", Mass: 200, CarryMass: 150, Speed: 12, Yokeable: true},
		},
		[]catalogs.ItemDef{
			{ID: "log", UnitMass: 10, Volume: 5, Generic: true},
			{ID: "cart", UnitMass: 40, Volume: 30, InternalVolume: 100, Locomotion: "roll", HaulTool: true},
			{ID: "panniers", UnitMass: 5, Volume: 5, InternalVolume: 40, Panniers: true},
		},
	)
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	return cats
}

func newTestWorld(t *testing.T) (*World, *reserve.Ledger) {
	t.Helper()
	ledger := reserve.NewLedger(nil)
	w := New(Config{Width: 10, Depth: 10, Carry: carry.Params{RollingMassModifier: 0.25, FloatingMassModifier: 0.5, MinimumOverloadRatio: 0.6}}, ledger, testCatalogs(t))
	return w, ledger
}

func mustActor(t *testing.T, w *World, species string, loc model.Vec3i) model.ActorID {
	t.Helper()
	id, err := w.AddActor(species, "red", loc)
	if err != nil {
		t.Fatalf("AddActor: %v", err)
	}
	return id
}

func mustItem(t *testing.T, w *World, typ string, qty int, loc model.Vec3i) model.ItemID {
	t.Helper()
	id, err := w.AddItem(typ, "oak", qty, loc)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	return id
}

func TestAddRejectsUnknownAndImpassable(t *testing.T) {
	w, _ := newTestWorld(t)
	if _, err := w.AddActor("troll", "red", model.Vec3i{}); err == nil {
		t.Fatalf("expected unknown species error")
	}
	w.SetWall(model.Vec3i{X: 1}, true)
	if _, err := w.AddActor("dwarf", "red", model.Vec3i{X: 1}); err == nil {
		t.Fatalf("expected impassable error")
	}
	if _, err := w.AddItem("log", "", 1, model.Vec3i{X: 99}); err == nil {
		t.Fatalf("expected out of bounds error")
	}
}

func TestPickUpSplitsGenericStack(t *testing.T) {
	w, ledger := newTestWorld(t)
	d := mustActor(t, w, "dwarf", model.Vec3i{})
	logs := mustItem(t, w, "log", 5, model.Vec3i{X: 1})

	got := w.PickUp(d, model.ItemRef(logs), 2)
	if got.IsZero() || got == model.ItemRef(logs) {
		t.Fatalf("expected a new split stack, got %s", got)
	}
	rest, _ := w.Item(logs)
	part, _ := w.Item(got.Item())
	if rest.Quantity != 3 || part.Quantity != 2 {
		t.Fatalf("quantities rest=%d part=%d", rest.Quantity, part.Quantity)
	}
	if ledger.MaxCapacity(rest.reservable) != 3 || ledger.MaxCapacity(part.reservable) != 2 {
		t.Fatalf("capacities not synced with quantities")
	}
	if !w.IsCarrying(d, got) || w.Location(got) != (model.Vec3i{}) {
		t.Fatalf("carried stack should travel with the carrier")
	}
	if info, _ := w.Info(got); info.Placed {
		t.Fatalf("carried stack reported as placed")
	}
	if w.PickUp(d, model.ItemRef(logs), 1) != (model.Ref{}) {
		t.Fatalf("second pickup while carrying should fail")
	}

	w.SetDestination(d, model.Vec3i{X: 3})
	for i := 0; i < 3; i++ {
		w.Step()
	}
	if put := w.PutDown(d); put != got {
		t.Fatalf("PutDown=%s want %s", put, got)
	}
	if loc := w.Location(got); loc != (model.Vec3i{X: 3}) {
		t.Fatalf("stack put down at %s", loc)
	}
}

func TestFollowersAreDraggedIntoVacatedCells(t *testing.T) {
	w, _ := newTestWorld(t)
	d := mustActor(t, w, "dwarf", model.Vec3i{X: 1})
	cart := mustItem(t, w, "cart", 1, model.Vec3i{})
	donkey := mustActor(t, w, "donkey", model.Vec3i{Z: 1})

	w.Follow(model.ItemRef(cart), model.ActorRef(d))
	w.Follow(model.ActorRef(donkey), model.ItemRef(cart))
	w.SetDestination(d, model.Vec3i{X: 3})
	w.Step()

	if loc := w.Location(model.ActorRef(d)); loc != (model.Vec3i{X: 2}) {
		t.Fatalf("leader at %s", loc)
	}
	if loc := w.Location(model.ItemRef(cart)); loc != (model.Vec3i{X: 1}) {
		t.Fatalf("cart at %s", loc)
	}
	if loc := w.Location(model.ActorRef(donkey)); loc != (model.Vec3i{}) {
		t.Fatalf("donkey at %s", loc)
	}
	if w.IsIdle(donkey) {
		t.Fatalf("following donkey should not be idle")
	}
	w.Unfollow(model.ActorRef(donkey))
	if !w.IsIdle(donkey) {
		t.Fatalf("released donkey should be idle")
	}
}

func TestDestroyItemDropsCargo(t *testing.T) {
	w, ledger := newTestWorld(t)
	cart := mustItem(t, w, "cart", 1, model.Vec3i{X: 4})
	logs := mustItem(t, w, "log", 3, model.Vec3i{X: 4})
	loaded := w.LoadCargo(cart, model.ItemRef(logs), 3)
	if !w.CargoContains(cart, loaded) {
		t.Fatalf("cargo not loaded")
	}
	it, _ := w.Item(cart)
	rid := it.reservable

	w.DestroyItem(cart)
	if ledger.Exists(rid) {
		t.Fatalf("cart reservable survived")
	}
	info, ok := w.Info(loaded)
	if !ok || !info.Placed || info.Location != (model.Vec3i{X: 4}) {
		t.Fatalf("cargo after destroy: %+v ok=%v", info, ok)
	}
}

func TestConsumeShrinksStackAndDishonors(t *testing.T) {
	var fired []int
	ledger := reserve.NewLedger(func(_ reserve.HolderID, _ reserve.Callback, _, newQty int) {
		fired = append(fired, newQty)
	})
	w := New(Config{Width: 5, Depth: 5}, ledger, testCatalogs(t))
	logs := mustItem(t, w, "log", 4, model.Vec3i{})
	it, _ := w.Item(logs)
	h := ledger.NewHolder("red")
	ledger.Reserve(h, it.reservable, 4, reserve.Callback{Kind: 1, Target: 9})

	w.Consume(logs, 3)
	if it.Quantity != 1 {
		t.Fatalf("quantity=%d want 1", it.Quantity)
	}
	if len(fired) != 1 || fired[0] != 1 {
		t.Fatalf("fired=%v want reduction to 1", fired)
	}
	w.Consume(logs, 1)
	if _, ok := w.Item(logs); ok {
		t.Fatalf("stack should be gone")
	}
}

func TestLocationReservableIsCreatedOnce(t *testing.T) {
	w, ledger := newTestWorld(t)
	loc := model.Vec3i{X: 2, Z: 2}
	if !w.IsLocationReservable(loc, "red") {
		t.Fatalf("fresh cell should be reservable")
	}
	rid := w.LocationReservable(loc)
	if again := w.LocationReservable(loc); again != rid {
		t.Fatalf("LocationReservable not stable: %d vs %d", again, rid)
	}
	ledger.Reserve(ledger.NewHolder("red"), rid, 1, reserve.Callback{})
	if w.IsLocationReservable(loc, "blue") {
		t.Fatalf("capacity is shared between factions")
	}
	w.SetWall(model.Vec3i{X: 3}, true)
	if w.IsLocationReservable(model.Vec3i{X: 3}, "red") {
		t.Fatalf("walls are never reservable")
	}
}

func TestToolsNearAreSortedByDistance(t *testing.T) {
	w, _ := newTestWorld(t)
	d := mustActor(t, w, "dwarf", model.Vec3i{})
	far := mustItem(t, w, "cart", 1, model.Vec3i{X: 5})
	nearby := mustItem(t, w, "cart", 1, model.Vec3i{X: 2})
	mustItem(t, w, "panniers", 1, model.Vec3i{X: 1})

	got := w.HaulToolsNear(d, 0)
	if len(got) != 2 || got[0] != nearby || got[1] != far {
		t.Fatalf("HaulToolsNear=%v", got)
	}
	if got := w.HaulToolsNear(d, 3); len(got) != 1 {
		t.Fatalf("range 3 should see one cart, got %v", got)
	}
}

func TestRemoveActorDropsEquipment(t *testing.T) {
	w, _ := newTestWorld(t)
	d := mustActor(t, w, "dwarf", model.Vec3i{})
	donkey := mustActor(t, w, "donkey", model.Vec3i{X: 1})
	p := mustItem(t, w, "panniers", 1, model.Vec3i{})

	if !w.CanEquip(donkey, p) {
		t.Fatalf("donkey should take panniers")
	}
	w.PickUp(d, model.ItemRef(p), 1)
	w.Equip(d, donkey, p)
	if !w.IsEquipped(donkey, p) || w.CanEquip(donkey, p) {
		t.Fatalf("equip state wrong")
	}
	w.RemoveActor(donkey)
	info, ok := w.Info(model.ItemRef(p))
	if !ok || !info.Placed || info.Location != (model.Vec3i{X: 1}) {
		t.Fatalf("panniers after removal: %+v", info)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	w, ledger := newTestWorld(t)
	d := mustActor(t, w, "dwarf", model.Vec3i{})
	cart := mustItem(t, w, "cart", 1, model.Vec3i{X: 1})
	logs := mustItem(t, w, "log", 3, model.Vec3i{X: 1})
	w.LoadCargo(cart, model.ItemRef(logs), 2)
	w.Follow(model.ItemRef(cart), model.ActorRef(d))
	w.SetWall(model.Vec3i{Z: 3}, true)
	w.LocationReservable(model.Vec3i{X: 2})
	w.SetDestination(d, model.Vec3i{X: 4})

	st := w.Export()
	back := New(Config{}, ledger, w.cats)
	if err := back.Import(st); err != nil {
		t.Fatalf("Import: %v", err)
	}
	again := back.Export()
	if len(again.Items) != len(st.Items) || len(again.Actors) != 1 || len(again.Follow) != 1 || len(again.Locations) != 1 {
		t.Fatalf("round trip lost state: %+v", again)
	}
	if !back.IsLeading(model.ActorRef(d), model.ItemRef(cart)) {
		t.Fatalf("follow link lost")
	}
	a, _ := back.Actor(d)
	if len(a.Path) != 4 || a.Speed != 10 {
		t.Fatalf("actor after import: %+v", a)
	}
	if back.Passable(model.Vec3i{Z: 3}) {
		t.Fatalf("wall lost")
	}
	id, _ := back.AddActor("dwarf", "red", model.Vec3i{X: 5})
	if id != d+1 {
		t.Fatalf("id counter not restored: %d", id)
	}
}
