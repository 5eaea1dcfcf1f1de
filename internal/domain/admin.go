package domain

import (
	"errors"
	"time"
)

// Streams of the alert feed an operator may address.
const (
	FeedStream = "feed"
	DLQStream  = "dlq"
)

// ErrUnknownStream is returned for a stream name other than FeedStream or DLQStream.
var ErrUnknownStream = errors.New("unknown alert feed stream")

// FeedOverview is a point-in-time view of the alert feed.
type FeedOverview struct {
	Stream    string        `json:"stream"`
	Length    int64         `json:"length"`
	DLQStream string        `json:"dlq_stream"`
	DLQLength int64         `json:"dlq_length"`
	Groups    []GroupStatus `json:"groups"`
}

// GroupStatus describes one dispatcher group reading the feed. Lag is the
// number of entries not yet delivered to the group.
type GroupStatus struct {
	Name            string `json:"name"`
	Consumers       int64  `json:"consumers"`
	Pending         int64  `json:"pending"`
	Lag             int64  `json:"lag"`
	LastDeliveredID string `json:"last_delivered_id"`
}

// ConsumerStatus describes one dispatcher instance within a group.
type ConsumerStatus struct {
	Name    string `json:"name"`
	Pending int64  `json:"pending"`
	IdleMS  int64  `json:"idle_ms"`
}

// PendingSummary counts alerts delivered to a group but not acknowledged.
type PendingSummary struct {
	Total       int64            `json:"total"`
	OldestID    string           `json:"oldest_id,omitempty"`
	NewestID    string           `json:"newest_id,omitempty"`
	PerConsumer map[string]int64 `json:"per_consumer,omitempty"`
}

// PendingAlert is one unacknowledged delivery.
type PendingAlert struct {
	ID         string `json:"id"`
	Consumer   string `json:"consumer"`
	IdleMS     int64  `json:"idle_ms"`
	Deliveries int64  `json:"deliveries"`
}

// DeadAlert is an alert parked in the dead-letter stream after the dispatcher
// gave up on it.
type DeadAlert struct {
	ID         string       `json:"id"`
	Alert      AlertMessage `json:"alert"`
	OriginalID string       `json:"original_id"`
	FailedAt   time.Time    `json:"failed_at"`
}
