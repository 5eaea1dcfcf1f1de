package stream

import "fmt"

// Action is an inbound observer control request.
type Action string

const (
	ActionPause  Action = "pause"
	ActionResume Action = "resume"
)

// Pause scopes accepted by PolicyFor.
const (
	ScopeHub        = "hub"
	ScopeConnection = "connection"
)

// ControlPolicy decides which connections an observer control action affects.
type ControlPolicy interface {
	Apply(h *Hub, from Conn, action Action)
	Scope() string
}

// HubWide applies every control action to the whole hub, so any observer can
// pause the feed for all observers.
type HubWide struct{}

func (HubWide) Apply(h *Hub, _ Conn, action Action) {
	if action == ActionPause {
		h.Pause()
		return
	}
	h.Resume()
}

func (HubWide) Scope() string { return ScopeHub }

// PerConnection applies a control action only to the requesting connection.
type PerConnection struct{}

func (PerConnection) Apply(h *Hub, from Conn, action Action) {
	if action == ActionPause {
		h.PauseConn(from.ID())
		return
	}
	h.ResumeConn(from.ID())
}

func (PerConnection) Scope() string { return ScopeConnection }

// PolicyFor returns the policy for a configured scope name.
func PolicyFor(scope string) (ControlPolicy, error) {
	switch scope {
	case "", ScopeHub:
		return HubWide{}, nil
	case ScopeConnection:
		return PerConnection{}, nil
	default:
		return nil, fmt.Errorf("unknown pause scope %q", scope)
	}
}
