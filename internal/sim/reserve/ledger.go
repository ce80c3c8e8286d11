// Package reserve is the claim registry shared by every project, worker and
// haul: capacity-bounded Reservables claimed by Holders.
package reserve

import (
	"fmt"
	"sort"

	"hearthwork.ai/internal/sim/kernel/model"
)

type ReservableID uint64

type HolderID uint64

// Callback names the party to notify when a claim is dishonored. The ledger
// does not interpret it; Kind and Target are owned by the caller and must
// survive a snapshot round trip.
type Callback struct {
	Kind   uint8  `cbor:"k" json:"kind"`
	Target uint64 `cbor:"t" json:"target"`
}

func (c Callback) IsZero() bool { return c.Kind == 0 }

// Dispatcher receives every fired callback, synchronously, after the ledger's
// own bookkeeping for the mutation is finished.
type Dispatcher func(holder HolderID, cb Callback, oldQty, newQty int)

type claim struct {
	qty int
	cb  Callback
}

type reservable struct {
	max       int
	total     int
	claims    map[HolderID]*claim
	byFaction map[model.FactionID]int
}

type holder struct {
	faction model.FactionID
	on      map[ReservableID]struct{}
}

type Ledger struct {
	reservables map[ReservableID]*reservable
	holders     map[HolderID]*holder

	nextReservable uint64
	nextHolder     uint64

	dispatch Dispatcher
}

func NewLedger(dispatch Dispatcher) *Ledger {
	return &Ledger{
		reservables: map[ReservableID]*reservable{},
		holders:     map[HolderID]*holder{},
		dispatch:    dispatch,
	}
}

func (l *Ledger) SetDispatcher(d Dispatcher) { l.dispatch = d }

func (l *Ledger) NewReservable(max int) ReservableID {
	if max < 0 {
		panic(fmt.Sprintf("reserve: negative capacity %d", max))
	}
	l.nextReservable++
	id := ReservableID(l.nextReservable)
	l.reservables[id] = &reservable{
		max:       max,
		claims:    map[HolderID]*claim{},
		byFaction: map[model.FactionID]int{},
	}
	return id
}

func (l *Ledger) NewHolder(faction model.FactionID) HolderID {
	l.nextHolder++
	id := HolderID(l.nextHolder)
	l.holders[id] = &holder{faction: faction, on: map[ReservableID]struct{}{}}
	return id
}

func (l *Ledger) mustReservable(id ReservableID) *reservable {
	r := l.reservables[id]
	if r == nil {
		panic(fmt.Sprintf("reserve: unknown reservable %d", id))
	}
	return r
}

func (l *Ledger) mustHolder(id HolderID) *holder {
	h := l.holders[id]
	if h == nil {
		panic(fmt.Sprintf("reserve: unknown holder %d", id))
	}
	return h
}

func (l *Ledger) Exists(id ReservableID) bool { return l.reservables[id] != nil }

func (l *Ledger) HolderExists(id HolderID) bool { return l.holders[id] != nil }

func (l *Ledger) Faction(h HolderID) model.FactionID { return l.mustHolder(h).faction }

// Reserve claims qty units of r for h. Claiming more than is unreserved is a
// caller bug. A holder without a faction reserves nothing.
func (l *Ledger) Reserve(h HolderID, r ReservableID, qty int, cb Callback) {
	if qty <= 0 {
		panic(fmt.Sprintf("reserve: reserve quantity %d", qty))
	}
	hd := l.mustHolder(h)
	rs := l.mustReservable(r)
	if hd.faction == "" {
		return
	}
	if qty > rs.max-rs.total {
		panic(fmt.Sprintf("reserve: holder %d reserving %d of reservable %d with %d unreserved", h, qty, r, rs.max-rs.total))
	}
	c := rs.claims[h]
	if c == nil {
		c = &claim{}
		rs.claims[h] = c
		hd.on[r] = struct{}{}
	}
	c.qty += qty
	if !cb.IsZero() {
		c.cb = cb
	}
	rs.total += qty
	rs.byFaction[hd.faction] += qty
}

// Release returns qty units of h's claim on r. The claim must cover qty.
func (l *Ledger) Release(h HolderID, r ReservableID, qty int) {
	hd := l.mustHolder(h)
	rs := l.mustReservable(r)
	c := rs.claims[h]
	if c == nil || qty <= 0 || qty > c.qty {
		held := 0
		if c != nil {
			held = c.qty
		}
		panic(fmt.Sprintf("reserve: holder %d releasing %d of reservable %d holding %d", h, qty, r, held))
	}
	l.lower(hd, h, r, rs, c, c.qty-qty)
}

// ReleaseAll drops h's whole claim on r, if any, and returns the released quantity.
func (l *Ledger) ReleaseAll(h HolderID, r ReservableID) int {
	hd := l.mustHolder(h)
	rs := l.reservables[r]
	if rs == nil {
		return 0
	}
	c := rs.claims[h]
	if c == nil {
		return 0
	}
	qty := c.qty
	l.lower(hd, h, r, rs, c, 0)
	return qty
}

// ReleaseEverything drops every claim held by h without firing callbacks.
func (l *Ledger) ReleaseEverything(h HolderID) {
	hd := l.mustHolder(h)
	for _, r := range sortedReservables(hd.on) {
		rs := l.reservables[r]
		l.lower(hd, h, r, rs, rs.claims[h], 0)
	}
}

// ReleaseAllFromFaction drops every claim on r made by holders of faction.
func (l *Ledger) ReleaseAllFromFaction(r ReservableID, faction model.FactionID) {
	rs := l.mustReservable(r)
	for _, h := range sortedHolders(rs.claims) {
		hd := l.holders[h]
		if hd.faction != faction {
			continue
		}
		l.lower(hd, h, r, rs, rs.claims[h], 0)
	}
}

// Reduce lowers h's claim on r to newQty and fires the claim's callback with
// the old and new quantities. This is how a holder learns that what it
// reserved is no longer fully available.
func (l *Ledger) Reduce(h HolderID, r ReservableID, newQty int) {
	hd := l.mustHolder(h)
	rs := l.mustReservable(r)
	c := rs.claims[h]
	if c == nil {
		return
	}
	if newQty < 0 || newQty >= c.qty {
		panic(fmt.Sprintf("reserve: reduce of holder %d on reservable %d from %d to %d", h, r, c.qty, newQty))
	}
	old, cb := c.qty, c.cb
	l.lower(hd, h, r, rs, c, newQty)
	l.fire(h, cb, old, newQty)
}

// SetCapacity changes r's capacity. Claims above the new capacity are left in
// place; EnforceCapacity trims them.
func (l *Ledger) SetCapacity(r ReservableID, max int) {
	if max < 0 {
		panic(fmt.Sprintf("reserve: negative capacity %d", max))
	}
	l.mustReservable(r).max = max
}

// EnforceCapacity reduces claims, newest holder first, until r is within
// capacity. Within capacity it does nothing.
func (l *Ledger) EnforceCapacity(r ReservableID) {
	rs := l.mustReservable(r)
	for rs.total > rs.max {
		holders := sortedHolders(rs.claims)
		h := holders[len(holders)-1]
		c := rs.claims[h]
		excess := rs.total - rs.max
		next := c.qty - excess
		if next < 0 {
			next = 0
		}
		l.Reduce(h, r, next)
	}
}

// DestroyReservable removes r and dishonors every claim on it to zero. Each
// callback fires once, after r is gone from the ledger.
func (l *Ledger) DestroyReservable(r ReservableID) {
	rs := l.reservables[r]
	if rs == nil {
		return
	}
	type fired struct {
		h   HolderID
		cb  Callback
		qty int
	}
	var pending []fired
	for _, h := range sortedHolders(rs.claims) {
		c := rs.claims[h]
		if hd := l.holders[h]; hd != nil {
			delete(hd.on, r)
		}
		pending = append(pending, fired{h: h, cb: c.cb, qty: c.qty})
	}
	delete(l.reservables, r)
	for _, f := range pending {
		l.fire(f.h, f.cb, f.qty, 0)
	}
}

// DestroyHolder releases every claim of h without callbacks and forgets h.
func (l *Ledger) DestroyHolder(h HolderID) {
	if l.holders[h] == nil {
		return
	}
	l.ReleaseEverything(h)
	delete(l.holders, h)
}

// SetFaction moves h, and the aggregates of its claims, to faction. A holder
// left without a faction keeps no claims; they are dropped without callbacks.
func (l *Ledger) SetFaction(h HolderID, faction model.FactionID) {
	hd := l.mustHolder(h)
	if hd.faction == faction {
		return
	}
	if faction == "" {
		l.ReleaseEverything(h)
		hd.faction = faction
		return
	}
	for r := range hd.on {
		rs := l.reservables[r]
		qty := rs.claims[h].qty
		rs.byFaction[hd.faction] -= qty
		if rs.byFaction[hd.faction] == 0 {
			delete(rs.byFaction, hd.faction)
		}
		rs.byFaction[faction] += qty
	}
	hd.faction = faction
}

func (l *Ledger) lower(hd *holder, h HolderID, r ReservableID, rs *reservable, c *claim, newQty int) {
	delta := c.qty - newQty
	c.qty = newQty
	rs.total -= delta
	rs.byFaction[hd.faction] -= delta
	if rs.byFaction[hd.faction] == 0 {
		delete(rs.byFaction, hd.faction)
	}
	if newQty == 0 {
		delete(rs.claims, h)
		delete(hd.on, r)
	}
}

func (l *Ledger) fire(h HolderID, cb Callback, oldQty, newQty int) {
	if cb.IsZero() || l.dispatch == nil {
		return
	}
	l.dispatch(h, cb, oldQty, newQty)
}

func sortedHolders(m map[HolderID]*claim) []HolderID {
	out := make([]HolderID, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedReservables(m map[ReservableID]struct{}) []ReservableID {
	out := make([]ReservableID, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
