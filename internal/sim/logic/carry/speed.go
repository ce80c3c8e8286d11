package carry

import (
	"math"

	"hearthwork.ai/internal/sim/kernel/model"
)

type Params struct {
	RollingMassModifier  float64
	FloatingMassModifier float64
	// MinimumOverloadRatio is the carry/total ratio below which a group cannot move.
	MinimumOverloadRatio float64
}

// Member is one participant of a moving group: a mobile actor pulling its
// weight, or passive mass (an item, or an actor that cannot move).
type Member struct {
	Mobile     bool
	CarryMass  int
	Speed      int
	Mass       int
	Locomotion model.Locomotion
}

// Load is mass added on top of the members, e.g. cargo not yet picked up.
type Load struct {
	Rolling  int
	Floating int
	Dead     int
}

// GroupSpeed returns the speed of the slowest mobile member once the group's
// mass is accounted for. Overload shrinks speed with the square of the
// carry/total ratio. A group without a mobile member does not move.
func GroupSpeed(members []Member, added Load, p Params) int {
	rolling := float64(added.Rolling)
	floating := float64(added.Floating)
	dead := float64(added.Dead)
	carry := 0
	lowest := 0
	for _, m := range members {
		if m.Mobile {
			carry += m.CarryMass
			if lowest == 0 || m.Speed < lowest {
				lowest = m.Speed
			}
			continue
		}
		switch m.Locomotion {
		case model.LocomotionRoll:
			rolling += float64(m.Mass)
		case model.LocomotionFloat:
			floating += float64(m.Mass)
		default:
			dead += float64(m.Mass)
		}
	}
	if lowest <= 0 {
		return 0
	}
	total := dead + rolling*p.RollingMassModifier + floating*p.FloatingMassModifier
	if total <= float64(carry) {
		return lowest
	}
	ratio := float64(carry) / total
	if ratio < p.MinimumOverloadRatio {
		return 0
	}
	return int(math.Ceil(float64(lowest) * ratio * ratio))
}

// MaxQuantity returns the largest q in [0, limit] for which ok(q) holds.
// ok must be monotone: true up to some bound and false after it.
func MaxQuantity(limit int, ok func(q int) bool) int {
	lo, hi := 0, limit
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		if ok(mid) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
