package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/adapter/schema"
	"github.com/V4T54L/scanalyzer/internal/domain"
	"github.com/V4T54L/scanalyzer/internal/domain/mocks"
)

func rawRecord(agentID string, recordID int64, eventID, levelCode int) []byte {
	return []byte(fmt.Sprintf(`{
		"agent_id": %q,
		"record_id": %d,
		"timestamp": "2024-05-01T10:00:00Z",
		"channel": "Security",
		"event_id": %d,
		"provider": "Microsoft-Windows-Security-Auditing",
		"event_host": "WS-01",
		"level": "Error",
		"level_code": %d,
		"message": ["line one", "line two"]
	}`, agentID, recordID, eventID, levelCode))
}

type testDeps struct {
	store       *mocks.MockRecordStore
	classifier  *mocks.MockClassifier
	describer   *mocks.MockDescriber
	feed        *mocks.MockAlertFeed
	broadcaster *mocks.MockBroadcaster
}

// flattenedRecordID extracts record_id from classifier input text, or -1.
func flattenedRecordID(text string) int {
	for _, tok := range strings.Fields(text) {
		if v, ok := strings.CutPrefix(tok, "record_id="); ok {
			if id, err := strconv.Atoi(v); err == nil {
				return id
			}
		}
	}
	return -1
}

func newTestIngestUseCase(t *testing.T) (*IngestLogUseCase, *testDeps) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewIngestMetrics(prometheus.NewRegistry())

	validator, err := schema.NewValidator()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	deps := &testDeps{
		store:       mocks.NewMockRecordStore(),
		classifier:  &mocks.MockClassifier{Label: "normal"},
		describer:   &mocks.MockDescriber{Descriptions: map[int]string{4625: "An account failed to log on"}, Fallback: "Unknown event"},
		feed:        &mocks.MockAlertFeed{},
		broadcaster: &mocks.MockBroadcaster{},
	}
	enricher := NewEnrichRecordUseCase(deps.describer, deps.classifier, NewAlertPolicy([]string{"anomaly"}, []int{1, 2}), m, logger)
	uc := NewIngestLogUseCase(validator, enricher, deps.store, deps.feed, deps.broadcaster, m, logger, 4)
	return uc, deps
}

func TestIngestLogUseCase_Ingest(t *testing.T) {
	t.Run("Duplicate Is Reported As Success", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		raw := rawRecord("a1", 1, 4625, 4)

		first, err := uc.Ingest(context.Background(), raw)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if first.Duplicate || first.ID == "" {
			t.Errorf("expected a new record, got %+v", first)
		}

		second, err := uc.Ingest(context.Background(), raw)
		if err != nil {
			t.Fatalf("expected no error on duplicate, got %v", err)
		}
		if !second.Duplicate {
			t.Error("expected second ingest to be reported as duplicate")
		}
		if n := deps.store.CountKey(domain.NaturalKey{AgentID: "a1", RecordID: 1}); n != 1 {
			t.Errorf("expected exactly 1 stored record for (a1,1), got %d", n)
		}
	})

	t.Run("Enriches Before Storing", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.classifier.Label = "anomaly"

		res, err := uc.Ingest(context.Background(), rawRecord("a1", 5, 4625, 2))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		stored, err := deps.store.GetByID(context.Background(), res.ID)
		if err != nil {
			t.Fatalf("expected stored record, got %v", err)
		}
		if stored.Description != "An account failed to log on" {
			t.Errorf("unexpected description %q", stored.Description)
		}
		if stored.AIClassification != "anomaly" || !stored.Alert || !stored.Trigger {
			t.Errorf("unexpected enrichment: %+v", stored.EnrichedRecord)
		}
		if len(stored.Message) != 2 || stored.Level != "Error" {
			t.Errorf("original fields were not preserved: %+v", stored.Record)
		}
	})

	t.Run("Schema Error Has No Side Effects", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)

		_, err := uc.Ingest(context.Background(), []byte(`{"agent_id": "a1", "extra": true}`))
		var se *domain.SchemaError
		if !errors.As(err, &se) {
			t.Fatalf("expected SchemaError, got %v", err)
		}
		if deps.store.Inserts != 0 || len(deps.classifier.Calls) != 0 {
			t.Error("expected no enrichment and no store call on invalid input")
		}
	})

	t.Run("Classification Failure", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.classifier.Err = errors.New("model unavailable")

		_, err := uc.Ingest(context.Background(), rawRecord("a1", 1, 4625, 4))
		var ee *domain.EnrichmentError
		if !errors.As(err, &ee) {
			t.Fatalf("expected EnrichmentError, got %v", err)
		}
		if ee.Stage != domain.StageClassification {
			t.Errorf("expected classification stage, got %q", ee.Stage)
		}
		if deps.store.Count() != 0 {
			t.Error("expected nothing to be stored")
		}
	})

	t.Run("Description Failure", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.describer.Err = errors.New("lookup down")

		_, err := uc.Ingest(context.Background(), rawRecord("a1", 1, 4625, 4))
		var ee *domain.EnrichmentError
		if !errors.As(err, &ee) || ee.Stage != domain.StageDescription {
			t.Fatalf("expected description EnrichmentError, got %v", err)
		}
	})

	t.Run("Storage Failure", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.store.InsertErr = errors.New("connection refused")

		_, err := uc.Ingest(context.Background(), rawRecord("a1", 1, 4625, 4))
		var pe *domain.PersistenceError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PersistenceError, got %v", err)
		}
	})

	t.Run("Publishes New Alerts Only", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.classifier.Label = "anomaly"

		for i := 0; i < 2; i++ {
			if _, err := uc.Ingest(context.Background(), rawRecord("a1", 1, 4625, 1)); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		}
		if len(deps.feed.Published) != 1 {
			t.Errorf("expected 1 published alert, got %d", len(deps.feed.Published))
		}
	})

	t.Run("Alert Feed Failure Does Not Fail Ingest", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.classifier.Label = "anomaly"
		deps.feed.Err = errors.New("redis down")

		if _, err := uc.Ingest(context.Background(), rawRecord("a1", 1, 4625, 1)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if deps.store.Count() != 1 {
			t.Error("expected the record to be stored")
		}
	})
}

func TestIngestLogUseCase_Create(t *testing.T) {
	uc, deps := newTestIngestUseCase(t)

	raw := []byte(`{
		"agent_id": "a1", "record_id": 9, "timestamp": "2024-05-01T10:00:00Z",
		"channel": "System", "event_id": 7045, "provider": "Service Control Manager",
		"event_host": "WS-01", "level_code": 4, "message": [],
		"alert": true, "ai_classification": "anomaly", "description": "manual"
	}`)
	res, err := uc.Create(context.Background(), raw)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(deps.classifier.Calls) != 0 {
		t.Error("manual create must not run enrichment")
	}
	stored, _ := deps.store.GetByID(context.Background(), res.ID)
	if stored.Description != "manual" || !stored.Alert {
		t.Errorf("expected fields to be stored as given, got %+v", stored.EnrichedRecord)
	}

	again, err := uc.Create(context.Background(), raw)
	if err != nil || !again.Duplicate {
		t.Errorf("expected duplicate without error, got %+v, %v", again, err)
	}
}

func TestIngestLogUseCase_IngestBulk(t *testing.T) {
	batch := func(raws ...[]byte) []json.RawMessage {
		out := make([]json.RawMessage, len(raws))
		for i, r := range raws {
			out[i] = r
		}
		return out
	}

	t.Run("Duplicate Within Batch", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		raws := batch(rawRecord("a1", 1, 4625, 4), rawRecord("a1", 1, 4625, 4), rawRecord("a1", 2, 4624, 4))

		res, err := uc.IngestBulk(context.Background(), raws)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.InsertedCount() != 2 {
			t.Errorf("expected inserted count 2, got %d", res.InsertedCount())
		}
		if res.Skipped != 1 {
			t.Errorf("expected 1 skipped, got %d", res.Skipped)
		}

		// Resubmitting the same batch stores nothing new.
		res, err = uc.IngestBulk(context.Background(), raws)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.InsertedCount() != 0 {
			t.Errorf("expected inserted count 0 on resubmission, got %d", res.InsertedCount())
		}
		if deps.store.Count() != 2 {
			t.Errorf("expected 2 stored records, got %d", deps.store.Count())
		}
	})

	t.Run("Preserves Input Order", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		const n = 12
		// Earlier records take longer, so enrichment completes out of order.
		deps.classifier.Delay = func(text string) time.Duration {
			return time.Duration(n-flattenedRecordID(text)) * 5 * time.Millisecond
		}
		raws := make([]json.RawMessage, n)
		for i := range raws {
			raws[i] = rawRecord("a2", int64(i), 4624, 4)
		}

		res, err := uc.IngestBulk(context.Background(), raws)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if first := flattenedRecordID(deps.classifier.Calls[0]); first == 0 {
			t.Fatalf("expected enrichment to complete out of input order")
		}
		if len(res.Inserted) != n {
			t.Fatalf("expected %d inserted records, got %d", n, len(res.Inserted))
		}
		for i, rec := range res.Inserted {
			if rec.RecordID != int64(i) {
				t.Fatalf("record at position %d has record_id %d", i, rec.RecordID)
			}
		}
	})

	t.Run("One Invalid Record Stores Nothing", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		raws := batch(rawRecord("a1", 1, 4625, 4), []byte(`{"agent_id": "a1"}`), rawRecord("a1", 3, 4625, 4))

		_, err := uc.IngestBulk(context.Background(), raws)
		var se *domain.SchemaError
		if !errors.As(err, &se) {
			t.Fatalf("expected SchemaError, got %v", err)
		}
		if se.Index != 1 {
			t.Errorf("expected offending index 1, got %d", se.Index)
		}
		if deps.store.Count() != 0 || deps.store.Inserts != 0 {
			t.Error("expected zero persisted records")
		}
		if len(deps.classifier.Calls) != 0 {
			t.Error("expected no enrichment before validation succeeded")
		}
	})

	t.Run("Empty Batch", func(t *testing.T) {
		uc, _ := newTestIngestUseCase(t)
		_, err := uc.IngestBulk(context.Background(), nil)
		if !errors.Is(err, domain.ErrEmptyBatch) {
			t.Fatalf("expected ErrEmptyBatch, got %v", err)
		}
	})

	t.Run("Enrichment Failure Fails Batch", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.classifier.Err = errors.New("model unavailable")

		_, err := uc.IngestBulk(context.Background(), batch(rawRecord("a1", 1, 4625, 4), rawRecord("a1", 2, 4625, 4)))
		var ee *domain.EnrichmentError
		if !errors.As(err, &ee) {
			t.Fatalf("expected EnrichmentError, got %v", err)
		}
		if deps.store.Count() != 0 {
			t.Error("expected nothing to be stored")
		}
	})

	t.Run("Publishes Inserted Alerts", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.classifier.Label = "anomaly"

		_, err := uc.IngestBulk(context.Background(), batch(rawRecord("a1", 1, 4625, 4), rawRecord("a1", 1, 4625, 4), rawRecord("a1", 2, 4625, 4)))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deps.feed.Published) != 2 {
			t.Errorf("expected 2 published alerts, got %d", len(deps.feed.Published))
		}
	})
}

func TestIngestLogUseCase_IngestStream(t *testing.T) {
	t.Run("Broadcasts Without Storing", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.broadcaster.Result = domain.BroadcastResult{Observers: 2, Delivered: 2}

		res, err := uc.IngestStream(context.Background(), rawRecord("a1", 1, 4625, 4))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if res.Delivered != 2 {
			t.Errorf("expected 2 deliveries, got %d", res.Delivered)
		}
		if deps.store.Inserts != 0 {
			t.Error("stream ingest must not touch storage")
		}
		if len(deps.broadcaster.Payloads) != 1 {
			t.Fatalf("expected 1 broadcast, got %d", len(deps.broadcaster.Payloads))
		}

		var got map[string]any
		if err := json.Unmarshal(deps.broadcaster.Payloads[0], &got); err != nil {
			t.Fatalf("broadcast payload is not JSON: %v", err)
		}
		for _, field := range []string{"agent_id", "description", "ai_classification", "alert", "trigger"} {
			if _, ok := got[field]; !ok {
				t.Errorf("broadcast payload is missing %q", field)
			}
		}
	})

	t.Run("Enrichment Failure Is Not Broadcast", func(t *testing.T) {
		uc, deps := newTestIngestUseCase(t)
		deps.classifier.Err = errors.New("model unavailable")

		if _, err := uc.IngestStream(context.Background(), rawRecord("a1", 1, 4625, 4)); err == nil {
			t.Fatal("expected an error, got nil")
		}
		if len(deps.broadcaster.Payloads) != 0 {
			t.Error("expected no broadcast")
		}
	})
}

func TestIngestLogUseCase_Classify(t *testing.T) {
	uc, deps := newTestIngestUseCase(t)
	deps.classifier.Label = "anomaly"

	label, err := uc.Classify(context.Background(), rawRecord("a1", 1, 4625, 2))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if label != "anomaly" {
		t.Errorf("expected anomaly, got %q", label)
	}
	if deps.store.Inserts != 0 || len(deps.broadcaster.Payloads) != 0 {
		t.Error("classification must not store or broadcast")
	}

	var se *domain.SchemaError
	if _, err := uc.Classify(context.Background(), []byte(`{"agent_id": "a1"}`)); !errors.As(err, &se) {
		t.Errorf("expected SchemaError, got %v", err)
	}
}

func TestEnrichRecordUseCase_Deterministic(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.NewIngestMetrics(prometheus.NewRegistry())
	enricher := NewEnrichRecordUseCase(
		&mocks.MockDescriber{Fallback: "Unknown event"},
		&mocks.MockClassifier{Label: "anomaly"},
		NewAlertPolicy([]string{"anomaly"}, []int{1, 2}), m, logger,
	)
	validator, _ := schema.NewValidator()
	rec, err := validator.Validate(rawRecord("a1", 1, 1, 2))
	if err != nil {
		t.Fatalf("expected valid record, got %v", err)
	}

	first, err := enricher.Enrich(context.Background(), rec)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want, _ := json.Marshal(first)
	for i := 0; i < 5; i++ {
		again, _ := enricher.Enrich(context.Background(), rec)
		got, _ := json.Marshal(again)
		if !bytes.Equal(want, got) {
			t.Fatalf("enrichment is not deterministic:\n%s\n%s", want, got)
		}
	}
	if first.Description != "Unknown event" {
		t.Errorf("expected fallback description, got %q", first.Description)
	}
}

func TestAlertPolicy_Evaluate(t *testing.T) {
	policy := NewAlertPolicy([]string{"anomaly", " Suspicious "}, []int{1, 2})

	tests := []struct {
		label       string
		levelCode   int
		wantAlert   bool
		wantTrigger bool
	}{
		{"anomaly", 1, true, true},
		{"anomaly", 2, true, true},
		{"anomaly", 4, true, false},
		{"Anomaly", 4, true, false},
		{"suspicious", 2, true, true},
		{"normal", 1, false, false},
		{"", 1, false, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.label, tt.levelCode), func(t *testing.T) {
			alert, trigger := policy.Evaluate(tt.label, tt.levelCode)
			if alert != tt.wantAlert || trigger != tt.wantTrigger {
				t.Errorf("got alert=%v trigger=%v, want alert=%v trigger=%v", alert, trigger, tt.wantAlert, tt.wantTrigger)
			}
		})
	}
}
