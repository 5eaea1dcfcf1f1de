package domain

import "time"

// Record is a schema-conformant event record as sent by an agent.
// Once produced by validation it is treated as immutable.
type Record struct {
	ClientID  string    `json:"_id,omitempty"`
	AgentID   string    `json:"agent_id"`
	RecordID  int64     `json:"record_id"`
	Timestamp time.Time `json:"timestamp"`
	Channel   string    `json:"channel"`
	EventID   int       `json:"event_id"`
	Provider  string    `json:"provider"`
	EventHost string    `json:"event_host"`
	UserSID   string    `json:"user_sid,omitempty"`
	Level     string    `json:"level"`
	LevelCode int       `json:"level_code"`
	Message   []string  `json:"message"`
}

// NaturalKey returns the deduplication key of the record.
func (r Record) NaturalKey() NaturalKey {
	return NaturalKey{AgentID: r.AgentID, RecordID: r.RecordID}
}

// NaturalKey is the caller-meaningful uniqueness tuple of a record.
// record_id is monotonic per agent only, so both parts are required.
type NaturalKey struct {
	AgentID  string `json:"agent_id"`
	RecordID int64  `json:"record_id"`
}

// EnrichedRecord is a Record plus the derived enrichment fields.
// Enrichment is additive: the embedded Record is never modified.
type EnrichedRecord struct {
	Record
	Description      string `json:"description"`
	AIClassification string `json:"ai_classification"`
	Alert            bool   `json:"alert"`
	Trigger          bool   `json:"trigger"`
}

// PersistedRecord is an EnrichedRecord with its storage-assigned identity.
type PersistedRecord struct {
	ID string `json:"id"`
	EnrichedRecord
}

// RecordPatch is the narrow operator patch. Nil fields are left untouched.
type RecordPatch struct {
	Level            *string `json:"level,omitempty"`
	Alert            *bool   `json:"alert,omitempty"`
	AIClassification *string `json:"ai_classification,omitempty"`
	Trigger          *bool   `json:"trigger,omitempty"`
}

// IsEmpty reports whether the patch sets no field at all.
func (p RecordPatch) IsEmpty() bool {
	return p.Level == nil && p.Alert == nil && p.AIClassification == nil && p.Trigger == nil
}

// RecordFilter selects persisted records for listing.
type RecordFilter struct {
	AgentID string
	Channel string
	Level   string
	Skip    int
	Limit   int
}

// InsertResult reports the outcome of a single deduplicating insert.
type InsertResult struct {
	ID        string
	Duplicate bool
}

// BulkInsertResult reports the outcome of a bulk insert. Inserted holds the
// newly stored records in input order; duplicates are only counted.
type BulkInsertResult struct {
	Inserted []PersistedRecord
	Skipped  int
}

// InsertedCount returns the number of records actually stored.
func (r BulkInsertResult) InsertedCount() int {
	return len(r.Inserted)
}

// AlertMessage is an entry of the alert feed handed to downstream dispatchers.
type AlertMessage struct {
	StreamMessageID string          `json:"-"`
	Record          PersistedRecord `json:"record"`
	PublishedAt     time.Time       `json:"published_at"`
}
