package project

import "hearthwork.ai/internal/sim/kernel/model"

// Requirement tracks one need of a project through admission and delivery.
type Requirement struct {
	Query    model.Query `cbor:"query" json:"query"`
	Required int         `cbor:"required" json:"required"`
	Consumed bool        `cbor:"consumed,omitempty" json:"consumed,omitempty"`

	Reserved  int `cbor:"reserved" json:"reserved"`
	Delivered int `cbor:"delivered" json:"delivered"`
}

func (r Requirement) Missing() int { return r.Required - r.Reserved }

// Requirements is a project's requirement ledger, in design order: consumed
// needs first.
type Requirements []Requirement

func newRequirements(d Design) Requirements {
	out := make(Requirements, 0, len(d.Consumed)+len(d.Unconsumed))
	for _, n := range d.Consumed {
		out = append(out, Requirement{Query: n.Query, Required: n.Quantity, Consumed: true})
	}
	for _, n := range d.Unconsumed {
		out = append(out, Requirement{Query: n.Query, Required: n.Quantity})
	}
	return out
}

func (rs Requirements) ReservationsComplete() bool {
	for _, r := range rs {
		if r.Reserved < r.Required {
			return false
		}
	}
	return true
}

func (rs Requirements) DeliveriesComplete() bool {
	for _, r := range rs {
		if r.Delivered < r.Required {
			return false
		}
	}
	return true
}

// Match returns the first requirement info fits that still has room in
// missing, which is indexed like rs.
func (rs Requirements) Match(info model.Info, missing []int) (int, bool) {
	for i, r := range rs {
		if missing[i] > 0 && r.Query.Matches(info) {
			return i, true
		}
	}
	return 0, false
}

func (rs Requirements) missing() []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r.Missing()
	}
	return out
}

func (rs Requirements) reset() {
	for i := range rs {
		rs[i].Reserved = 0
		rs[i].Delivered = 0
	}
}
