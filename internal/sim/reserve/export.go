package reserve

import (
	"fmt"
	"sort"

	"hearthwork.ai/internal/sim/kernel/model"
)

type ReservableState struct {
	ID     ReservableID `cbor:"id" json:"id"`
	Max    int          `cbor:"max" json:"max"`
	Claims []Claim      `cbor:"claims,omitempty" json:"claims,omitempty"`
}

type HolderState struct {
	ID      HolderID        `cbor:"id" json:"id"`
	Faction model.FactionID `cbor:"faction,omitempty" json:"faction,omitempty"`
}

type State struct {
	NextReservable uint64            `cbor:"next_reservable" json:"next_reservable"`
	NextHolder     uint64            `cbor:"next_holder" json:"next_holder"`
	Reservables    []ReservableState `cbor:"reservables" json:"reservables"`
	Holders        []HolderState     `cbor:"holders" json:"holders"`
}

func (l *Ledger) Export() State {
	st := State{NextReservable: l.nextReservable, NextHolder: l.nextHolder}
	rids := make([]ReservableID, 0, len(l.reservables))
	for id := range l.reservables {
		rids = append(rids, id)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	for _, id := range rids {
		st.Reservables = append(st.Reservables, ReservableState{ID: id, Max: l.reservables[id].max, Claims: l.Claims(id)})
	}
	hids := make([]HolderID, 0, len(l.holders))
	for id := range l.holders {
		hids = append(hids, id)
	}
	sort.Slice(hids, func(i, j int) bool { return hids[i] < hids[j] })
	for _, id := range hids {
		st.Holders = append(st.Holders, HolderState{ID: id, Faction: l.holders[id].faction})
	}
	return st
}

// Import replaces the ledger contents with st. The dispatcher is kept.
func (l *Ledger) Import(st State) error {
	holders := make(map[HolderID]*holder, len(st.Holders))
	for _, h := range st.Holders {
		if h.ID == 0 || uint64(h.ID) > st.NextHolder {
			return fmt.Errorf("reserve: holder id %d out of range", h.ID)
		}
		holders[h.ID] = &holder{faction: h.Faction, on: map[ReservableID]struct{}{}}
	}
	reservables := make(map[ReservableID]*reservable, len(st.Reservables))
	for _, r := range st.Reservables {
		if r.ID == 0 || uint64(r.ID) > st.NextReservable {
			return fmt.Errorf("reserve: reservable id %d out of range", r.ID)
		}
		rs := &reservable{max: r.Max, claims: map[HolderID]*claim{}, byFaction: map[model.FactionID]int{}}
		for _, c := range r.Claims {
			hd := holders[c.Holder]
			if hd == nil {
				return fmt.Errorf("reserve: reservable %d claimed by unknown holder %d", r.ID, c.Holder)
			}
			if c.Quantity <= 0 {
				return fmt.Errorf("reserve: reservable %d has claim of %d", r.ID, c.Quantity)
			}
			rs.claims[c.Holder] = &claim{qty: c.Quantity, cb: c.Callback}
			rs.total += c.Quantity
			rs.byFaction[hd.faction] += c.Quantity
			hd.on[r.ID] = struct{}{}
		}
		reservables[r.ID] = rs
	}
	l.reservables = reservables
	l.holders = holders
	l.nextReservable = st.NextReservable
	l.nextHolder = st.NextHolder
	return nil
}
