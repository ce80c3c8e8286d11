package scenario

import (
	"sort"

	"hearthwork.ai/internal/sim/kernel/model"
)

// State is the runner's own bookkeeping between steps: pending offers and
// the notices each actor has seen. Engine and world state travel separately.
type State struct {
	Objectives []ObjectiveState `cbor:"objectives,omitempty" json:"objectives,omitempty"`
}

type ObjectiveState struct {
	Actor     model.ActorID `cbor:"actor" json:"actor"`
	RetryAt   uint64        `cbor:"retry_at,omitempty" json:"retry_at,omitempty"`
	Completed int           `cbor:"completed,omitempty" json:"completed,omitempty"`
	Resets    int           `cbor:"resets,omitempty" json:"resets,omitempty"`
	Refusals  int           `cbor:"refusals,omitempty" json:"refusals,omitempty"`
	Cancelled int           `cbor:"cancelled,omitempty" json:"cancelled,omitempty"`
}

func (r *Runner) Export() State {
	var st State
	for a, o := range r.objectives {
		st.Objectives = append(st.Objectives, ObjectiveState{
			Actor:     a,
			RetryAt:   o.retryAt,
			Completed: o.Completed,
			Resets:    o.Resets,
			Refusals:  o.Refusals,
			Cancelled: o.Cancelled,
		})
	}
	sort.Slice(st.Objectives, func(i, j int) bool { return st.Objectives[i].Actor < st.Objectives[j].Actor })
	return st
}

// Import restores bookkeeping exported at the step the runner was adopted
// at, replacing the retries Adopt guessed.
func (r *Runner) Import(st State) {
	for _, o := range r.objectives {
		o.retryAt = 0
	}
	for _, s := range st.Objectives {
		o := r.objective(s.Actor)
		o.retryAt = s.RetryAt
		o.Completed, o.Resets, o.Refusals, o.Cancelled = s.Completed, s.Resets, s.Refusals, s.Cancelled
	}
}
