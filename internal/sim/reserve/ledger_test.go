package reserve

import (
	"testing"

	"hearthwork.ai/internal/sim/kernel/model"
)

type firedCallback struct {
	holder   HolderID
	cb       Callback
	old, new int
}

type recorder struct {
	fired []firedCallback
}

func (r *recorder) dispatch(h HolderID, cb Callback, oldQty, newQty int) {
	r.fired = append(r.fired, firedCallback{holder: h, cb: cb, old: oldQty, new: newQty})
}

func newTestLedger() (*Ledger, *recorder) {
	rec := &recorder{}
	return NewLedger(rec.dispatch), rec
}

func assertWithinCapacity(t *testing.T, l *Ledger, r ReservableID) {
	t.Helper()
	sum := 0
	for _, c := range l.Claims(r) {
		sum += c.Quantity
	}
	if sum != l.TotalReserved(r) {
		t.Fatalf("claims sum %d != total %d", sum, l.TotalReserved(r))
	}
	if sum > l.MaxCapacity(r) {
		t.Fatalf("claims %d exceed capacity %d", sum, l.MaxCapacity(r))
	}
}

func TestReserveThenDestroyHolder(t *testing.T) {
	l, rec := newTestLedger()
	r := l.NewReservable(1)
	h := l.NewHolder("red")

	l.Reserve(h, r, 1, Callback{Kind: 1, Target: 7})
	if !l.IsFullyReserved(r, "red") {
		t.Fatalf("expected fully reserved")
	}
	assertWithinCapacity(t, l, r)

	l.DestroyHolder(h)
	if l.IsFullyReserved(r, "red") {
		t.Fatalf("expected not fully reserved after holder destroyed")
	}
	if got := l.UnreservedCount(r, "red"); got != 1 {
		t.Fatalf("UnreservedCount=%d want 1", got)
	}
	if len(rec.fired) != 0 {
		t.Fatalf("destroying a holder fired %d callbacks", len(rec.fired))
	}
}

func TestSetCapacityDoesNotTrim(t *testing.T) {
	l, rec := newTestLedger()
	r := l.NewReservable(2)
	h := l.NewHolder("red")

	l.Reserve(h, r, 1, Callback{})
	if l.IsFullyReserved(r, "red") {
		t.Fatalf("one of two should not be full")
	}
	l.Reserve(h, r, 1, Callback{})
	if !l.IsFullyReserved(r, "red") {
		t.Fatalf("two of two should be full")
	}

	l.SetCapacity(r, 1)
	if got := l.ReservedBy(r, h); got != 2 {
		t.Fatalf("SetCapacity trimmed claim to %d", got)
	}
	if got := l.Overcommitted(r); got != 1 {
		t.Fatalf("Overcommitted=%d want 1", got)
	}

	l.Release(h, r, 1)
	if got := l.ReservedBy(r, h); got != 1 {
		t.Fatalf("claim=%d want 1", got)
	}
	assertWithinCapacity(t, l, r)
	if len(rec.fired) != 0 {
		t.Fatalf("fired %d callbacks", len(rec.fired))
	}
}

func TestHolderCleanupAcrossManyReservables(t *testing.T) {
	l, rec := newTestLedger()
	h := l.NewHolder("red")
	var rs []ReservableID
	for i := 0; i < 5; i++ {
		r := l.NewReservable(3)
		l.Reserve(h, r, 2, Callback{Kind: 1, Target: uint64(i)})
		rs = append(rs, r)
	}
	if got := len(l.HolderReservables(h)); got != 5 {
		t.Fatalf("HolderReservables=%d", got)
	}
	l.DestroyHolder(h)
	for _, r := range rs {
		if l.HasAnyReservation(r) {
			t.Fatalf("reservable %d still reserved", r)
		}
		if got := l.ReservedBy(r, h); got != 0 {
			t.Fatalf("reservable %d still claimed %d", r, got)
		}
	}
	if len(rec.fired) != 0 {
		t.Fatalf("fired %d callbacks", len(rec.fired))
	}
	// Destroying twice is harmless.
	l.DestroyHolder(h)
}

func TestDestroyReservableFiresEachCallbackOnce(t *testing.T) {
	l, rec := newTestLedger()
	r := l.NewReservable(3)
	h1 := l.NewHolder("red")
	h2 := l.NewHolder("blue")
	l.Reserve(h1, r, 1, Callback{Kind: 1, Target: 10})
	l.Reserve(h2, r, 2, Callback{Kind: 2, Target: 20})

	l.DestroyReservable(r)
	if len(rec.fired) != 2 {
		t.Fatalf("fired %d callbacks want 2", len(rec.fired))
	}
	if rec.fired[0].holder != h1 || rec.fired[0].old != 1 || rec.fired[0].new != 0 || rec.fired[0].cb.Target != 10 {
		t.Fatalf("unexpected first callback %+v", rec.fired[0])
	}
	if rec.fired[1].holder != h2 || rec.fired[1].old != 2 || rec.fired[1].new != 0 {
		t.Fatalf("unexpected second callback %+v", rec.fired[1])
	}
	if len(l.HolderReservables(h1)) != 0 || len(l.HolderReservables(h2)) != 0 {
		t.Fatalf("holders still reference destroyed reservable")
	}

	// Holder destruction afterwards fires nothing more.
	l.DestroyHolder(h1)
	l.DestroyHolder(h2)
	l.DestroyReservable(r)
	if len(rec.fired) != 2 {
		t.Fatalf("fired %d callbacks after cleanup", len(rec.fired))
	}
}

func TestCallbackMayReenterLedger(t *testing.T) {
	l := NewLedger(nil)
	r := l.NewReservable(1)
	other := l.NewReservable(1)
	h := l.NewHolder("red")
	l.Reserve(h, other, 1, Callback{})
	l.Reserve(h, r, 1, Callback{Kind: 1})
	l.SetDispatcher(func(holder HolderID, cb Callback, oldQty, newQty int) {
		l.DestroyHolder(holder)
	})
	l.DestroyReservable(r)
	if l.HolderExists(h) {
		t.Fatalf("holder should be destroyed by its callback")
	}
	if l.HasAnyReservation(other) {
		t.Fatalf("holder cleanup inside callback left a claim")
	}
}

func TestMultipleHoldersShareCapacity(t *testing.T) {
	l, _ := newTestLedger()
	r := l.NewReservable(2)
	red := l.NewHolder("red")
	blue := l.NewHolder("blue")

	l.Reserve(red, r, 1, Callback{})
	if got := l.UnreservedCount(r, "blue"); got != 1 {
		t.Fatalf("blue sees %d unreserved want 1", got)
	}
	l.Reserve(blue, r, 1, Callback{})
	if !l.IsFullyReserved(r, "red") || !l.IsFullyReserved(r, "blue") {
		t.Fatalf("expected full for every faction")
	}
	if l.IsFullyReserved(r, "") {
		t.Fatalf("unaffiliated callers never see reservations")
	}
	if got := l.ReservedByFaction(r, "blue"); got != 1 {
		t.Fatalf("ReservedByFaction(blue)=%d", got)
	}
	assertWithinCapacity(t, l, r)
}

func TestReserveMergesAndKeepsCallback(t *testing.T) {
	l, rec := newTestLedger()
	r := l.NewReservable(3)
	h := l.NewHolder("red")
	l.Reserve(h, r, 1, Callback{Kind: 1, Target: 5})
	l.Reserve(h, r, 1, Callback{})
	if got := l.ReservedBy(r, h); got != 2 {
		t.Fatalf("merged claim=%d want 2", got)
	}
	l.Reduce(h, r, 1)
	if len(rec.fired) != 1 || rec.fired[0].cb.Target != 5 || rec.fired[0].old != 2 || rec.fired[0].new != 1 {
		t.Fatalf("unexpected callbacks %+v", rec.fired)
	}
	l.Reserve(h, r, 1, Callback{Kind: 1, Target: 6})
	l.Reduce(h, r, 0)
	if rec.fired[1].cb.Target != 6 {
		t.Fatalf("callback not replaced: %+v", rec.fired[1])
	}
	if l.HasReservationFrom(r, h) {
		t.Fatalf("claim should be erased at zero")
	}
}

func TestReserveBeyondCapacityPanics(t *testing.T) {
	l, _ := newTestLedger()
	r := l.NewReservable(1)
	h := l.NewHolder("red")
	l.Reserve(h, r, 1, Callback{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	l.Reserve(l.NewHolder("blue"), r, 1, Callback{})
}

func TestReleaseMoreThanHeldPanics(t *testing.T) {
	l, _ := newTestLedger()
	r := l.NewReservable(2)
	h := l.NewHolder("red")
	l.Reserve(h, r, 1, Callback{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	l.Release(h, r, 2)
}

func TestUnaffiliatedHolderReservesNothing(t *testing.T) {
	l, _ := newTestLedger()
	r := l.NewReservable(1)
	h := l.NewHolder("")
	l.Reserve(h, r, 1, Callback{})
	if l.HasAnyReservation(r) {
		t.Fatalf("unaffiliated holder reserved")
	}
}

func TestEnforceCapacityIsIdempotent(t *testing.T) {
	l, rec := newTestLedger()
	r := l.NewReservable(3)
	h1 := l.NewHolder("red")
	h2 := l.NewHolder("red")
	l.Reserve(h1, r, 1, Callback{Kind: 1, Target: 1})
	l.Reserve(h2, r, 2, Callback{Kind: 1, Target: 2})

	l.SetCapacity(r, 1)
	l.EnforceCapacity(r)
	assertWithinCapacity(t, l, r)
	// Newest holder reduced first: h2 2->0, then h1 untouched at 1.
	if got := l.ReservedBy(r, h2); got != 0 {
		t.Fatalf("h2 claim=%d", got)
	}
	if got := l.ReservedBy(r, h1); got != 1 {
		t.Fatalf("h1 claim=%d", got)
	}
	if len(rec.fired) != 1 || rec.fired[0].holder != h2 || rec.fired[0].old != 2 || rec.fired[0].new != 0 {
		t.Fatalf("unexpected callbacks %+v", rec.fired)
	}

	for i := 0; i < 3; i++ {
		l.SetCapacity(r, 1)
		l.EnforceCapacity(r)
	}
	if len(rec.fired) != 1 {
		t.Fatalf("repeated capacity fired %d callbacks", len(rec.fired))
	}
}

func TestReleaseAllFromFaction(t *testing.T) {
	l, rec := newTestLedger()
	r := l.NewReservable(4)
	red1 := l.NewHolder("red")
	red2 := l.NewHolder("red")
	blue := l.NewHolder("blue")
	l.Reserve(red1, r, 1, Callback{Kind: 1})
	l.Reserve(red2, r, 1, Callback{Kind: 1})
	l.Reserve(blue, r, 2, Callback{Kind: 1})

	l.ReleaseAllFromFaction(r, "red")
	if got := l.ReservedByFaction(r, "red"); got != 0 {
		t.Fatalf("red still holds %d", got)
	}
	if got := l.ReservedBy(r, blue); got != 2 {
		t.Fatalf("blue claim=%d", got)
	}
	if len(l.HolderReservables(red1)) != 0 {
		t.Fatalf("red1 back reference not cleared")
	}
	if len(rec.fired) != 0 {
		t.Fatalf("bulk release fired callbacks")
	}
}

func TestSetFactionMovesAggregates(t *testing.T) {
	l, _ := newTestLedger()
	r := l.NewReservable(2)
	h := l.NewHolder("red")
	l.Reserve(h, r, 2, Callback{})
	l.SetFaction(h, "blue")
	if l.ReservedByFaction(r, "red") != 0 || l.ReservedByFaction(r, "blue") != 2 {
		t.Fatalf("aggregates not moved")
	}
	if l.Faction(h) != model.FactionID("blue") {
		t.Fatalf("faction=%q", l.Faction(h))
	}
}

func TestSetFactionToNoneDropsClaims(t *testing.T) {
	l, rec := newTestLedger()
	r := l.NewReservable(3)
	h := l.NewHolder("red")
	other := l.NewHolder("blue")
	l.Reserve(h, r, 2, Callback{Kind: 1})
	l.Reserve(other, r, 1, Callback{})
	l.SetFaction(h, "")
	if got := l.ReservedBy(r, h); got != 0 {
		t.Fatalf("unaffiliated holder still holds %d", got)
	}
	if l.TotalReserved(r) != 1 || l.ReservedByFaction(r, "red") != 0 || l.ReservedByFaction(r, "blue") != 1 {
		t.Fatalf("total=%d red=%d blue=%d", l.TotalReserved(r), l.ReservedByFaction(r, "red"), l.ReservedByFaction(r, "blue"))
	}
	if len(rec.fired) != 0 {
		t.Fatalf("callbacks fired: %+v", rec.fired)
	}
	assertWithinCapacity(t, l, r)

	l.Reserve(h, r, 1, Callback{})
	if l.ReservedBy(r, h) != 0 || l.TotalReserved(r) != 1 {
		t.Fatalf("unaffiliated reserve took effect")
	}
	l.SetFaction(h, "red")
	l.Reserve(h, r, 2, Callback{})
	if l.ReservedBy(r, h) != 2 || !l.IsFullyReserved(r, "green") {
		t.Fatalf("rejoined holder claim=%d", l.ReservedBy(r, h))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	l, rec := newTestLedger()
	r1 := l.NewReservable(2)
	r2 := l.NewReservable(1)
	h := l.NewHolder("red")
	l.Reserve(h, r1, 2, Callback{Kind: 3, Target: 9})
	l.Reserve(h, r2, 1, Callback{})

	st := l.Export()
	restored := NewLedger(rec.dispatch)
	if err := restored.Import(st); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if got := restored.ReservedBy(r1, h); got != 2 {
		t.Fatalf("restored claim=%d", got)
	}
	if !restored.IsFullyReserved(r2, "red") {
		t.Fatalf("restored r2 not full")
	}
	if next := restored.NewReservable(1); next != r2+1 {
		t.Fatalf("id counter not restored: %d", next)
	}
	restored.DestroyReservable(r1)
	if len(rec.fired) != 1 || rec.fired[0].cb.Target != 9 {
		t.Fatalf("restored callback not fired: %+v", rec.fired)
	}
}

func TestImportRejectsUnknownHolder(t *testing.T) {
	l, _ := newTestLedger()
	st := State{
		NextReservable: 1,
		NextHolder:     1,
		Reservables:    []ReservableState{{ID: 1, Max: 1, Claims: []Claim{{Holder: 4, Quantity: 1}}}},
		Holders:        []HolderState{{ID: 1, Faction: "red"}},
	}
	if err := l.Import(st); err == nil {
		t.Fatalf("expected error")
	}
}
