package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

func sampleRecord() domain.Record {
	return domain.Record{
		AgentID:   "a1",
		RecordID:  7,
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Channel:   "Security",
		EventID:   4625,
		Provider:  "Microsoft-Windows-Security-Auditing",
		EventHost: "WS-01",
		Level:     "Information",
		LevelCode: 4,
		Message:   []string{"An account failed to log on.", "Reason:\r\nbad password"},
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten(sampleRecord())
	want := `agent_id=a1 record_id=7 timestamp=2024-05-01T10:00:00Z channel=Security event_id=4625 ` +
		`provider=Microsoft-Windows-Security-Auditing event_host=WS-01 level=Information level_code=4 ` +
		`message=An account failed to log on. Reason:\r\nbad password`
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "user_sid=")
	assert.NotContains(t, got, "\n")
}

func TestFlatten_Deterministic(t *testing.T) {
	rec := sampleRecord()
	rec.UserSID = "S-1-5-18"
	rec.ClientID = "client-1"

	first := Flatten(rec)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Flatten(rec))
	}
	assert.True(t, strings.HasPrefix(first, "_id=client-1 agent_id=a1"))
	assert.Contains(t, first, "event_host=WS-01 user_sid=S-1-5-18 level=Information")
}

func TestFlatten_NonUTCTimestamp(t *testing.T) {
	rec := sampleRecord()
	rec.Timestamp = time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	assert.Contains(t, Flatten(rec), "timestamp=2024-05-01T10:00:00Z")
}

func TestTokenModel_Classify(t *testing.T) {
	m, err := LoadTokenModel("")
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name  string
		mod   func(r *domain.Record)
		label string
	}{
		{"failed logon", func(r *domain.Record) {}, LabelAnomaly},
		{"successful logon", func(r *domain.Record) {
			r.EventID = 4624
			r.Message = []string{"An account was successfully logged on."}
		}, LabelNormal},
		{"audit log cleared", func(r *domain.Record) {
			r.EventID = 1102
			r.Message = []string{"The audit log was cleared."}
		}, LabelAnomaly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			tt.mod(&rec)
			label, err := m.Classify(ctx, Flatten(rec))
			require.NoError(t, err)
			assert.Equal(t, tt.label, label)
		})
	}
}

func TestTokenModel_StableLabel(t *testing.T) {
	m, err := LoadTokenModel("")
	require.NoError(t, err)

	text := Flatten(sampleRecord())
	first, err := m.Classify(context.Background(), text)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		label, _ := m.Classify(context.Background(), text)
		assert.Equal(t, first, label)
	}
}

func TestTokenModel_OnlyLeadingTokensScored(t *testing.T) {
	m, err := NewTokenModel(Vocabulary{Weights: map[string]float64{"bad": 10}, Bias: -5})
	require.NoError(t, err)

	padding := strings.Repeat("x ", maxTokens)
	label, err := m.Classify(context.Background(), padding+"bad")
	require.NoError(t, err)
	assert.Equal(t, LabelNormal, label)

	label, err = m.Classify(context.Background(), "bad "+padding)
	require.NoError(t, err)
	assert.Equal(t, LabelAnomaly, label)
}

func TestTokenModel_NormalizesTokens(t *testing.T) {
	m, err := NewTokenModel(Vocabulary{Weights: map[string]float64{"Café": 10}, Bias: -5})
	require.NoError(t, err)

	// Decomposed form with trailing punctuation.
	label, err := m.Classify(context.Background(), "CAFE\u0301!")
	require.NoError(t, err)
	assert.Equal(t, LabelAnomaly, label)
}

func TestLoadTokenModel_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	data, _ := json.Marshal(Vocabulary{Weights: map[string]float64{"event_id=1": 9}, Bias: -1, Threshold: 0.9})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m, err := LoadTokenModel(path)
	require.NoError(t, err)
	label, _ := m.Classify(context.Background(), "event_id=1")
	assert.Equal(t, LabelAnomaly, label)
	label, _ = m.Classify(context.Background(), "event_id=2")
	assert.Equal(t, LabelNormal, label)

	_, err = LoadTokenModel(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestTokenModel_CancelledContext(t *testing.T) {
	m, _ := LoadTokenModel("")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Classify(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPClassifier(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotText = req.Text
		_ = json.NewEncoder(w).Encode(classifyResponse{Label: LabelAnomaly})
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, time.Second, 0)
	label, err := c.Classify(context.Background(), "event_id=4625")
	require.NoError(t, err)
	assert.Equal(t, LabelAnomaly, label)
	assert.Equal(t, "event_id=4625", gotText)
}

func TestHTTPClassifier_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		}},
		{"empty label", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"label": ""}`))
		}},
		{"bad body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := NewHTTPClassifier(srv.URL, time.Second, 100)
			_, err := c.Classify(context.Background(), "x")
			assert.Error(t, err)
		})
	}
}
