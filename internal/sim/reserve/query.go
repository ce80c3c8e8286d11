package reserve

import "hearthwork.ai/internal/sim/kernel/model"

type Claim struct {
	Holder   HolderID `cbor:"h" json:"holder"`
	Quantity int      `cbor:"q" json:"quantity"`
	Callback Callback `cbor:"cb" json:"callback"`
}

func (l *Ledger) MaxCapacity(r ReservableID) int { return l.mustReservable(r).max }

// UnreservedCount is what a faction may still claim. The unaffiliated see
// every unit as free.
func (l *Ledger) UnreservedCount(r ReservableID, faction model.FactionID) int {
	rs := l.mustReservable(r)
	if faction == "" {
		return rs.max
	}
	if rs.total >= rs.max {
		return 0
	}
	return rs.max - rs.total
}

func (l *Ledger) IsFullyReserved(r ReservableID, faction model.FactionID) bool {
	if faction == "" {
		return false
	}
	rs := l.mustReservable(r)
	return rs.total >= rs.max
}

func (l *Ledger) HasAnyReservation(r ReservableID) bool {
	return l.mustReservable(r).total > 0
}

func (l *Ledger) TotalReserved(r ReservableID) int { return l.mustReservable(r).total }

func (l *Ledger) ReservedByFaction(r ReservableID, faction model.FactionID) int {
	return l.mustReservable(r).byFaction[faction]
}

func (l *Ledger) ReservedBy(r ReservableID, h HolderID) int {
	rs := l.reservables[r]
	if rs == nil {
		return 0
	}
	if c := rs.claims[h]; c != nil {
		return c.qty
	}
	return 0
}

func (l *Ledger) HasReservationFrom(r ReservableID, h HolderID) bool {
	return l.ReservedBy(r, h) > 0
}

// Overcommitted reports claims above capacity, left by SetCapacity.
func (l *Ledger) Overcommitted(r ReservableID) int {
	rs := l.mustReservable(r)
	if rs.total <= rs.max {
		return 0
	}
	return rs.total - rs.max
}

// Claims lists the claims on r in holder order.
func (l *Ledger) Claims(r ReservableID) []Claim {
	rs := l.mustReservable(r)
	out := make([]Claim, 0, len(rs.claims))
	for _, h := range sortedHolders(rs.claims) {
		c := rs.claims[h]
		out = append(out, Claim{Holder: h, Quantity: c.qty, Callback: c.cb})
	}
	return out
}

// HolderReservables lists every reservable h claims against, in id order.
func (l *Ledger) HolderReservables(h HolderID) []ReservableID {
	return sortedReservables(l.mustHolder(h).on)
}

func (l *Ledger) Counts() (reservables, holders int) {
	return len(l.reservables), len(l.holders)
}
