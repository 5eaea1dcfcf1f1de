package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/V4T54L/scanalyzer/internal/adapter/classifier"
	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/domain"
)

// AlertPolicy derives the alert and trigger flags from a classification.
type AlertPolicy struct {
	labels       map[string]struct{}
	triggerCodes map[int]struct{}
}

// NewAlertPolicy creates a policy that raises an alert for any of labels and
// a trigger for alerts whose level code is one of triggerCodes.
func NewAlertPolicy(labels []string, triggerCodes []int) AlertPolicy {
	p := AlertPolicy{
		labels:       make(map[string]struct{}, len(labels)),
		triggerCodes: make(map[int]struct{}, len(triggerCodes)),
	}
	for _, l := range labels {
		if l = strings.ToLower(strings.TrimSpace(l)); l != "" {
			p.labels[l] = struct{}{}
		}
	}
	for _, c := range triggerCodes {
		p.triggerCodes[c] = struct{}{}
	}
	return p
}

// Evaluate returns the flags for a label and level code.
func (p AlertPolicy) Evaluate(label string, levelCode int) (alert, trigger bool) {
	_, alert = p.labels[strings.ToLower(label)]
	if !alert {
		return false, false
	}
	_, trigger = p.triggerCodes[levelCode]
	return alert, trigger
}

// EnrichRecordUseCase adds the derived fields to a validated record.
// It keeps no state between calls and is safe for concurrent use.
type EnrichRecordUseCase struct {
	describer  domain.EventDescriber
	classifier domain.Classifier
	policy     AlertPolicy
	metrics    *metrics.IngestMetrics
	logger     *slog.Logger
}

// NewEnrichRecordUseCase creates a new EnrichRecordUseCase.
func NewEnrichRecordUseCase(describer domain.EventDescriber, c domain.Classifier, policy AlertPolicy, m *metrics.IngestMetrics, logger *slog.Logger) *EnrichRecordUseCase {
	return &EnrichRecordUseCase{
		describer:  describer,
		classifier: c,
		policy:     policy,
		metrics:    m,
		logger:     logger.With("component", "enricher"),
	}
}

// Enrich returns rec with description, classification and alert flags. The
// input record is copied, never modified. A failing collaborator yields a
// *domain.EnrichmentError naming the stage.
func (uc *EnrichRecordUseCase) Enrich(ctx context.Context, rec domain.Record) (domain.EnrichedRecord, error) {
	start := time.Now()
	defer func() { uc.metrics.EnrichDuration.Observe(time.Since(start).Seconds()) }()

	description, err := uc.describer.Describe(ctx, rec.EventID)
	if err != nil {
		uc.logger.Warn("Description lookup failed", "event_id", rec.EventID, "error", err)
		return domain.EnrichedRecord{}, &domain.EnrichmentError{Stage: domain.StageDescription, Err: err}
	}

	label, err := uc.Classify(ctx, rec)
	if err != nil {
		return domain.EnrichedRecord{}, err
	}

	alert, trigger := uc.policy.Evaluate(label, rec.LevelCode)
	return domain.EnrichedRecord{
		Record:           rec,
		Description:      description,
		AIClassification: label,
		Alert:            alert,
		Trigger:          trigger,
	}, nil
}

// Classify returns the classification label of rec.
func (uc *EnrichRecordUseCase) Classify(ctx context.Context, rec domain.Record) (string, error) {
	label, err := uc.classifier.Classify(ctx, classifier.Flatten(rec))
	if err != nil {
		uc.logger.Warn("Classification failed", "agent_id", rec.AgentID, "record_id", rec.RecordID, "error", err)
		return "", &domain.EnrichmentError{Stage: domain.StageClassification, Err: err}
	}
	uc.metrics.ClassificationsTotal.WithLabelValues(label).Inc()
	return label, nil
}
