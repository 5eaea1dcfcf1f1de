package domain

import "context"

// BroadcastResult reports the outcome of one broadcast pass.
type BroadcastResult struct {
	// Observers is the number of registered connections when the pass started.
	Observers int
	// Delivered is the number of connections that accepted the payload.
	Delivered int
	// Pruned is the number of connections removed after a failed send.
	Pruned int
	// Paused is set when the hub-wide gate suppressed the whole pass.
	Paused bool
}

// HubStatus is a point-in-time view of the broadcast hub.
type HubStatus struct {
	Observers       int  `json:"observers"`
	Paused          bool `json:"paused"`
	PausedObservers int  `json:"paused_observers"`
}

// Broadcaster fans a payload out to live observers. Implementations never
// return per-connection failures to the caller.
type Broadcaster interface {
	Broadcast(ctx context.Context, payload []byte) BroadcastResult
}
