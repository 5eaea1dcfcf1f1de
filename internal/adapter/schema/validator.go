// Package schema validates agent payloads against the record schemas and
// decodes them into domain records.
package schema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// timestampLayouts are tried in order. Agents emit both zoned RFC 3339 and
// naive ISO 8601 timestamps; naive ones are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Validator checks raw payloads against the embedded record schemas.
// It holds no mutable state and is safe for concurrent use.
type Validator struct {
	record     *gojsonschema.Schema
	fullRecord *gojsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	record, err := loadSchema("schemas/record.json")
	if err != nil {
		return nil, err
	}
	full, err := loadSchema("schemas/full_record.json")
	if err != nil {
		return nil, err
	}
	return &Validator{record: record, fullRecord: full}, nil
}

func loadSchema(name string) (*gojsonschema.Schema, error) {
	data, err := schemasFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return s, nil
}

// wireRecord mirrors the JSON shape with a textual timestamp so that the
// accepted layouts can be parsed explicitly.
type wireRecord struct {
	ClientID         *string  `json:"_id"`
	AgentID          string   `json:"agent_id"`
	RecordID         int64    `json:"record_id"`
	Timestamp        string   `json:"timestamp"`
	Channel          string   `json:"channel"`
	EventID          int      `json:"event_id"`
	Provider         string   `json:"provider"`
	EventHost        string   `json:"event_host"`
	UserSID          *string  `json:"user_sid"`
	Level            *string  `json:"level"`
	LevelCode        int      `json:"level_code"`
	Message          []string `json:"message"`
	Alert            *bool    `json:"alert"`
	AIClassification *string  `json:"ai_classification"`
	Trigger          *bool    `json:"trigger"`
	Description      *string  `json:"description"`
}

// Validate checks an agent payload and returns the validated record.
// Failures are reported as *domain.SchemaError with Index -1.
func (v *Validator) Validate(raw []byte) (domain.Record, error) {
	w, err := v.decode(v.record, raw)
	if err != nil {
		return domain.Record{}, err
	}
	return w.toRecord()
}

// ValidateFull checks a manual-create payload, which may already carry the
// enrichment fields, and returns it as an enriched record.
func (v *Validator) ValidateFull(raw []byte) (domain.EnrichedRecord, error) {
	w, err := v.decode(v.fullRecord, raw)
	if err != nil {
		return domain.EnrichedRecord{}, err
	}
	rec, err := w.toRecord()
	if err != nil {
		return domain.EnrichedRecord{}, err
	}
	return domain.EnrichedRecord{
		Record:           rec,
		Description:      deref(w.Description),
		AIClassification: deref(w.AIClassification),
		Alert:            w.Alert != nil && *w.Alert,
		Trigger:          w.Trigger != nil && *w.Trigger,
	}, nil
}

// ValidateBatch validates every entry of a bulk payload before any of them is
// used. The first failure, in input order, is returned with its index.
func (v *Validator) ValidateBatch(raws []json.RawMessage) ([]domain.Record, error) {
	records := make([]domain.Record, len(raws))
	for i, raw := range raws {
		rec, err := v.Validate(raw)
		if err != nil {
			var se *domain.SchemaError
			if errors.As(err, &se) {
				se.Index = i
			}
			return nil, err
		}
		records[i] = rec
	}
	return records, nil
}

func (v *Validator) decode(s *gojsonschema.Schema, raw []byte) (*wireRecord, error) {
	result, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, &domain.SchemaError{Index: -1, Field: "(root)", Reason: "malformed JSON: " + err.Error()}
	}
	if !result.Valid() {
		return nil, firstSchemaError(result.Errors())
	}

	var w wireRecord
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &domain.SchemaError{Index: -1, Field: "(root)", Reason: err.Error()}
	}
	return &w, nil
}

// firstSchemaError picks a deterministic error out of the validator result,
// since property errors are not reported in a stable order.
func firstSchemaError(errs []gojsonschema.ResultError) *domain.SchemaError {
	fields := make([]*domain.SchemaError, 0, len(errs))
	for _, e := range errs {
		field := e.Field()
		if prop, ok := e.Details()["property"]; ok {
			if name, ok := prop.(string); ok && name != "" {
				field = name
			}
		}
		fields = append(fields, &domain.SchemaError{Index: -1, Field: field, Reason: e.Description()})
	}
	sort.Slice(fields, func(i, j int) bool {
		if fields[i].Field != fields[j].Field {
			return fields[i].Field < fields[j].Field
		}
		return fields[i].Reason < fields[j].Reason
	})
	return fields[0]
}

// checkText rejects NUL bytes, which PostgreSQL text columns cannot hold.
func (w *wireRecord) checkText() error {
	fields := []struct {
		name  string
		value string
	}{
		{"_id", deref(w.ClientID)},
		{"agent_id", w.AgentID},
		{"channel", w.Channel},
		{"provider", w.Provider},
		{"event_host", w.EventHost},
		{"user_sid", deref(w.UserSID)},
		{"level", deref(w.Level)},
		{"ai_classification", deref(w.AIClassification)},
		{"description", deref(w.Description)},
	}
	for _, line := range w.Message {
		fields = append(fields, struct {
			name  string
			value string
		}{"message", line})
	}
	for _, f := range fields {
		if strings.IndexByte(f.value, 0) >= 0 {
			return &domain.SchemaError{Index: -1, Field: f.name, Reason: "must not contain NUL characters"}
		}
	}
	return nil
}

func (w *wireRecord) toRecord() (domain.Record, error) {
	if err := w.checkText(); err != nil {
		return domain.Record{}, err
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return domain.Record{}, &domain.SchemaError{Index: -1, Field: "timestamp", Reason: err.Error()}
	}
	message := w.Message
	if message == nil {
		message = []string{}
	}
	return domain.Record{
		ClientID:  deref(w.ClientID),
		AgentID:   w.AgentID,
		RecordID:  w.RecordID,
		Timestamp: ts,
		Channel:   w.Channel,
		EventID:   w.EventID,
		Provider:  w.Provider,
		EventHost: w.EventHost,
		UserSID:   deref(w.UserSID),
		Level:     deref(w.Level),
		LevelCode: w.LevelCode,
		Message:   message,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
