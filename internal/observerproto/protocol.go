package observerproto

import "hearthwork.ai/internal/sim/project"

// Version is the observer stream protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection; may be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Empty means every project / every kind.
	Projects []string `json:"projects,omitempty"`
	Kinds    []string `json:"kinds,omitempty"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string          `json:"protocol_version"`
	RunID           string          `json:"run_id"`
	Step            uint64          `json:"step"`
	Projects        []ProjectStatus `json:"projects"`
}

// ProjectStatus is the last state the stream saw for a live project.
type ProjectStatus struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Phase   string `json:"phase"`
	Workers int    `json:"workers"`
	Hauls   int    `json:"hauls"`
}

// Server -> Client. Sent once after every SUBSCRIBE.
type StatusMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	RunID           string          `json:"run_id"`
	Step            uint64          `json:"step"`
	Projects        []ProjectStatus `json:"projects"`
}

// Server -> Client. One per lifecycle event passing the filter.
type EventMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	RunID           string        `json:"run_id"`
	Event           project.Event `json:"event"`
	// Dropped counts events this session lost to a full buffer since the
	// previous EVENT message.
	Dropped int `json:"dropped,omitempty"`
}
