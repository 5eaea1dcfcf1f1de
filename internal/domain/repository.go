package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RecordValidator checks raw agent payloads. Failures are *SchemaError.
type RecordValidator interface {
	Validate(raw []byte) (Record, error)
	ValidateFull(raw []byte) (EnrichedRecord, error)
	ValidateBatch(raws []json.RawMessage) ([]Record, error)
}

// RecordStore is the durable, deduplicating store of enriched records.
// Uniqueness on the natural key is enforced by the storage engine itself.
type RecordStore interface {
	// InsertOne stores a record. A conflicting natural key is reported as
	// Duplicate, not as an error.
	InsertOne(ctx context.Context, record EnrichedRecord) (InsertResult, error)

	// InsertMany stores a batch, continuing past per-record conflicts.
	InsertMany(ctx context.Context, records []EnrichedRecord) (BulkInsertResult, error)

	GetByID(ctx context.Context, id string) (*PersistedRecord, error)
	List(ctx context.Context, filter RecordFilter) ([]PersistedRecord, error)
	Update(ctx context.Context, id string, patch RecordPatch) error
	Delete(ctx context.Context, id string) error
}

// Classifier maps a flattened record to a label.
type Classifier interface {
	Classify(ctx context.Context, text string) (string, error)
}

// EventDescriber maps an event id to a human readable description. Unknown
// ids resolve to a fallback description rather than an error.
type EventDescriber interface {
	Describe(ctx context.Context, eventID int) (string, error)
}

// AlertFeed receives newly persisted alerting records for downstream dispatch.
type AlertFeed interface {
	Publish(ctx context.Context, records ...PersistedRecord) error
}

// AlertFeedReader is the consumer side of the alert feed.
type AlertFeedReader interface {
	// ReadAlertBatch reads a batch of alerts for a consumer of a group.
	ReadAlertBatch(ctx context.Context, group, consumer string, count int) ([]AlertMessage, error)

	// AcknowledgeAlerts marks alerts as processed.
	AcknowledgeAlerts(ctx context.Context, group string, messageIDs ...string) error

	// MoveToDLQ parks alerts that could not be dispatched.
	MoveToDLQ(ctx context.Context, alerts []AlertMessage) error
}

// Notifier delivers alerts to an external system.
type Notifier interface {
	Notify(ctx context.Context, alerts []AlertMessage) error
}

// WALRepository defines the interface for the Write-Ahead Log failover mechanism.
type WALRepository interface {
	// Write appends an alert to the local WAL file.
	Write(ctx context.Context, alert AlertMessage) error

	// Replay reads alerts from the WAL and sends them to a handler function.
	// The handler is responsible for re-publishing the alert (e.g., to Redis).
	Replay(ctx context.Context, handler func(alert AlertMessage) error) error

	// Truncate removes WAL segments that have been successfully replayed.
	Truncate(ctx context.Context) error
}

// APIKeyRepository defines the interface for validating API keys.
type APIKeyRepository interface {
	IsValid(ctx context.Context, key string) (bool, error)
}

// AlertFeedAdmin exposes operational controls over the alert feed and its
// dead-letter stream.
type AlertFeedAdmin interface {
	Overview(ctx context.Context) (FeedOverview, error)
	Consumers(ctx context.Context, group string) ([]ConsumerStatus, error)
	Pending(ctx context.Context, group string) (PendingSummary, error)
	PendingAlerts(ctx context.Context, group, consumer, startID string, count int64) ([]PendingAlert, error)
	Claim(ctx context.Context, group, consumer string, minIdle time.Duration, ids []string) ([]AlertMessage, error)
	Acknowledge(ctx context.Context, group string, ids ...string) (int64, error)
	Trim(ctx context.Context, stream string, maxLen int64) (int64, error)
	DeadAlerts(ctx context.Context, count int64) ([]DeadAlert, error)
	Requeue(ctx context.Context, ids ...string) (int, error)
}
