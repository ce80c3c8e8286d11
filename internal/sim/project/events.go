package project

type EventKind string

const (
	EventCreated         EventKind = "project_created"
	EventPhase           EventKind = "phase_changed"
	EventCandidate       EventKind = "worker_candidate"
	EventJoined          EventKind = "worker_joined"
	EventLeft            EventKind = "worker_left"
	EventMaking          EventKind = "worker_making"
	EventAdmissionFailed EventKind = "admission_failed"
	EventHaulStarted     EventKind = "haul_started"
	EventHaulDelivered   EventKind = "haul_delivered"
	EventHaulCancelled   EventKind = "haul_cancelled"
	EventHaulNoStrategy  EventKind = "haul_no_strategy"
	EventDelayOn         EventKind = "delay_on"
	EventDelayOff        EventKind = "delay_off"
	EventReset           EventKind = "reset"
	EventCompleted       EventKind = "completed"
	EventCancelled       EventKind = "cancelled"
)

// Event is one observable engine transition. Its JSON form is what the
// event log, the index and the observer stream carry.
type Event struct {
	Step        uint64    `json:"step" cbor:"step"`
	Kind        EventKind `json:"kind" cbor:"kind"`
	Project     string    `json:"project" cbor:"project"`
	ProjectKind string    `json:"project_kind" cbor:"project_kind"`
	Phase       string    `json:"phase,omitempty" cbor:"phase,omitempty"`
	Actor       uint64    `json:"actor,omitempty" cbor:"actor,omitempty"`
	Haul        string    `json:"haul,omitempty" cbor:"haul,omitempty"`
	Strategy    string    `json:"strategy,omitempty" cbor:"strategy,omitempty"`
	Target      string    `json:"target,omitempty" cbor:"target,omitempty"`
	Quantity    int       `json:"quantity,omitempty" cbor:"quantity,omitempty"`
	Reason      string    `json:"reason,omitempty" cbor:"reason,omitempty"`
}

type EventSink interface {
	Emit(ev Event)
}

type SinkFunc func(ev Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Sinks fans an event out in order.
type Sinks []EventSink

func (s Sinks) Emit(ev Event) {
	for _, sink := range s {
		if sink != nil {
			sink.Emit(ev)
		}
	}
}
