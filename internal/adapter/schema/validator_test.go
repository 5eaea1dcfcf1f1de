package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

const validRecord = `{
	"agent_id": "a1",
	"record_id": 1,
	"timestamp": "2024-05-01T10:00:00Z",
	"channel": "Security",
	"event_id": 4625,
	"provider": "Microsoft-Windows-Security-Auditing",
	"event_host": "WS-01",
	"user_sid": "S-1-5-18",
	"level": "Information",
	"level_code": 4,
	"message": ["An account failed to log on.", "Logon Type: 3"]
}`

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestValidator_Validate(t *testing.T) {
	v := newValidator(t)

	rec, err := v.Validate([]byte(validRecord))
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.AgentID)
	assert.Equal(t, int64(1), rec.RecordID)
	assert.Equal(t, 4625, rec.EventID)
	assert.Equal(t, "S-1-5-18", rec.UserSID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, []string{"An account failed to log on.", "Logon Type: 3"}, rec.Message)
}

func TestValidator_SchemaErrors(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name      string
		mutate    func(m map[string]any)
		wantField string
	}{
		{"unknown field", func(m map[string]any) { m["computer"] = "WS-01" }, "computer"},
		{"missing required field", func(m map[string]any) { delete(m, "agent_id") }, "agent_id"},
		{"mistyped field", func(m map[string]any) { m["record_id"] = "one" }, "record_id"},
		{"mistyped message", func(m map[string]any) { m["message"] = "single line" }, "message"},
		{"bad timestamp", func(m map[string]any) { m["timestamp"] = "yesterday" }, "timestamp"},
		{"missing level", func(m map[string]any) { delete(m, "level") }, "level"},
		{"event id out of int32 range", func(m map[string]any) { m["event_id"] = 3000000000 }, "event_id"},
		{"negative level code out of range", func(m map[string]any) { m["level_code"] = -3000000000 }, "level_code"},
		{"NUL in message", func(m map[string]any) { m["message"] = []string{"ok", "bad\x00byte"} }, "message"},
		{"NUL in provider", func(m map[string]any) { m["provider"] = "Micro\x00soft" }, "provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m map[string]any
			require.NoError(t, json.Unmarshal([]byte(validRecord), &m))
			tt.mutate(m)
			raw, err := json.Marshal(m)
			require.NoError(t, err)

			_, err = v.Validate(raw)
			var se *domain.SchemaError
			require.True(t, errors.As(err, &se), "expected SchemaError, got %v", err)
			assert.Equal(t, tt.wantField, se.Field)
			assert.Equal(t, -1, se.Index)
		})
	}
}

func TestValidator_MalformedJSON(t *testing.T) {
	v := newValidator(t)

	_, err := v.Validate([]byte(`{"agent_id": "a1"`))
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
	assert.True(t, domain.IsClientError(err))
}

func TestValidator_NaiveTimestamp(t *testing.T) {
	v := newValidator(t)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(validRecord), &m))
	m["timestamp"] = "2024-05-01T10:00:00.123456"
	raw, _ := json.Marshal(m)

	rec, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), rec.Timestamp)
}

func TestValidator_NullUserSID(t *testing.T) {
	v := newValidator(t)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(validRecord), &m))
	m["user_sid"] = nil
	raw, _ := json.Marshal(m)

	rec, err := v.Validate(raw)
	require.NoError(t, err)
	assert.Empty(t, rec.UserSID)
}

func TestValidator_ValidateFull(t *testing.T) {
	v := newValidator(t)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(validRecord), &m))
	delete(m, "level")
	m["alert"] = true
	m["ai_classification"] = "anomaly"
	m["description"] = "An account failed to log on"
	raw, _ := json.Marshal(m)

	rec, err := v.ValidateFull(raw)
	require.NoError(t, err)
	assert.True(t, rec.Alert)
	assert.False(t, rec.Trigger)
	assert.Equal(t, "anomaly", rec.AIClassification)
	assert.Empty(t, rec.Level)

	// Enrichment fields are not accepted from agents.
	_, err = v.Validate(raw)
	assert.Error(t, err)
}

func TestValidator_ValidateBatch(t *testing.T) {
	v := newValidator(t)

	bad := `{"agent_id": "a1"}`
	raws := []json.RawMessage{json.RawMessage(validRecord), json.RawMessage(validRecord), json.RawMessage(bad)}

	_, err := v.ValidateBatch(raws)
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Index)

	records, err := v.ValidateBatch(raws[:2])
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestValidator_RejectsValuesStorageCannotHold(t *testing.T) {
	v := newValidator(t)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(validRecord), &m))
	m["description"] = "Logon\x00failure"
	raw, _ := json.Marshal(m)

	_, err := v.ValidateFull(raw)
	var se *domain.SchemaError
	require.True(t, errors.As(err, &se), "expected SchemaError, got %v", err)
	assert.Equal(t, "description", se.Field)

	// A single out-of-range record fails validation with its index, before
	// the batch reaches storage.
	delete(m, "description")
	m["event_id"] = 1 << 31
	big, _ := json.Marshal(m)
	_, err = v.ValidateBatch([]json.RawMessage{json.RawMessage(validRecord), big})
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 1, se.Index)
	assert.Equal(t, "event_id", se.Field)
}
