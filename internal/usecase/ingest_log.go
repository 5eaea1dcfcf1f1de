package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/domain"
)

// Ingress modes, used as metric labels.
const (
	ModeCreate = "create"
	ModeIngest = "ingest"
	ModeBulk   = "bulk"
	ModeStream = "stream"
)

const defaultBulkConcurrency = 32

// IngestLogUseCase drives a record from its raw payload to storage and/or the
// live broadcast, depending on the ingress mode.
type IngestLogUseCase struct {
	validator       domain.RecordValidator
	enricher        *EnrichRecordUseCase
	store           domain.RecordStore
	feed            domain.AlertFeed
	broadcaster     domain.Broadcaster
	metrics         *metrics.IngestMetrics
	logger          *slog.Logger
	bulkConcurrency int
}

// NewIngestLogUseCase creates a new IngestLogUseCase. bulkConcurrency bounds
// the number of records enriched at once within a bulk request.
func NewIngestLogUseCase(
	validator domain.RecordValidator,
	enricher *EnrichRecordUseCase,
	store domain.RecordStore,
	feed domain.AlertFeed,
	broadcaster domain.Broadcaster,
	m *metrics.IngestMetrics,
	logger *slog.Logger,
	bulkConcurrency int,
) *IngestLogUseCase {
	if bulkConcurrency <= 0 {
		bulkConcurrency = defaultBulkConcurrency
	}
	return &IngestLogUseCase{
		validator:       validator,
		enricher:        enricher,
		store:           store,
		feed:            feed,
		broadcaster:     broadcaster,
		metrics:         m,
		logger:          logger.With("component", "ingest_usecase"),
		bulkConcurrency: bulkConcurrency,
	}
}

// Create stores an operator supplied record as is, without enrichment.
func (uc *IngestLogUseCase) Create(ctx context.Context, raw []byte) (domain.InsertResult, error) {
	rec, err := uc.validator.ValidateFull(raw)
	if err != nil {
		uc.count(ModeCreate, "error_schema", 1)
		return domain.InsertResult{}, err
	}
	return uc.insertOne(ctx, ModeCreate, rec)
}

// Ingest validates, enriches and stores one agent record. A record whose
// natural key is already stored is reported as a duplicate, not an error, so
// the agent can advance its cursor.
func (uc *IngestLogUseCase) Ingest(ctx context.Context, raw []byte) (domain.InsertResult, error) {
	rec, err := uc.validator.Validate(raw)
	if err != nil {
		uc.count(ModeIngest, "error_schema", 1)
		return domain.InsertResult{}, err
	}

	enriched, err := uc.enricher.Enrich(ctx, rec)
	if err != nil {
		uc.count(ModeIngest, "error_enrich", 1)
		return domain.InsertResult{}, err
	}
	return uc.insertOne(ctx, ModeIngest, enriched)
}

func (uc *IngestLogUseCase) insertOne(ctx context.Context, mode string, rec domain.EnrichedRecord) (domain.InsertResult, error) {
	res, err := uc.store.InsertOne(ctx, rec)
	if err != nil {
		uc.count(mode, "error_persist", 1)
		uc.logger.Error("Failed to store record", "mode", mode, "agent_id", rec.AgentID, "record_id", rec.RecordID, "error", err)
		return domain.InsertResult{}, asPersistenceError("insert_one", err)
	}

	if res.Duplicate {
		uc.count(mode, "duplicate", 1)
		uc.logger.Debug("Duplicate record ignored", "agent_id", rec.AgentID, "record_id", rec.RecordID)
		return res, nil
	}

	uc.count(mode, "stored", 1)
	uc.publishAlerts(ctx, domain.PersistedRecord{ID: res.ID, EnrichedRecord: rec})
	return res, nil
}

// IngestBulk validates every record of the batch before doing anything else;
// one invalid record fails the whole request. Valid records are enriched
// concurrently and stored in input order. Records whose natural key already
// exists, in storage or earlier in the same batch, are skipped.
func (uc *IngestLogUseCase) IngestBulk(ctx context.Context, raws []json.RawMessage) (domain.BulkInsertResult, error) {
	if len(raws) == 0 {
		uc.count(ModeBulk, "error_schema", 1)
		return domain.BulkInsertResult{}, domain.ErrEmptyBatch
	}

	records, err := uc.validator.ValidateBatch(raws)
	if err != nil {
		uc.count(ModeBulk, "error_schema", len(raws))
		return domain.BulkInsertResult{}, err
	}
	uc.metrics.BulkBatchSize.Observe(float64(len(records)))

	enriched := make([]domain.EnrichedRecord, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.bulkConcurrency)
	for i, rec := range records {
		g.Go(func() error {
			e, err := uc.enricher.Enrich(gctx, rec)
			if err != nil {
				return fmt.Errorf("record %d: %w", i, err)
			}
			enriched[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		uc.count(ModeBulk, "error_enrich", len(records))
		uc.logger.Error("Failed to enrich bulk batch", "size", len(records), "error", err)
		return domain.BulkInsertResult{}, err
	}

	res, err := uc.store.InsertMany(ctx, enriched)
	if err != nil {
		uc.count(ModeBulk, "error_persist", len(records))
		uc.logger.Error("Failed to store bulk batch", "size", len(records), "error", err)
		return domain.BulkInsertResult{}, asPersistenceError("insert_many", err)
	}

	uc.count(ModeBulk, "stored", res.InsertedCount())
	uc.count(ModeBulk, "duplicate", res.Skipped)
	uc.logger.Info("Stored bulk batch", "size", len(records), "inserted", res.InsertedCount(), "skipped", res.Skipped)
	uc.publishAlerts(ctx, res.Inserted...)
	return res, nil
}

// IngestStream validates and enriches one record and hands it to the live
// broadcast. Nothing is stored and nothing is retried.
func (uc *IngestLogUseCase) IngestStream(ctx context.Context, raw []byte) (domain.BroadcastResult, error) {
	rec, err := uc.validator.Validate(raw)
	if err != nil {
		uc.count(ModeStream, "error_schema", 1)
		return domain.BroadcastResult{}, err
	}

	enriched, err := uc.enricher.Enrich(ctx, rec)
	if err != nil {
		uc.count(ModeStream, "error_enrich", 1)
		return domain.BroadcastResult{}, err
	}

	payload, err := json.Marshal(enriched)
	if err != nil {
		return domain.BroadcastResult{}, fmt.Errorf("failed to marshal enriched record: %w", err)
	}

	res := uc.broadcaster.Broadcast(ctx, payload)
	switch {
	case res.Paused:
		uc.count(ModeStream, "paused", 1)
	case res.Observers == 0:
		uc.count(ModeStream, "no_observers", 1)
	case res.Delivered == 0:
		uc.count(ModeStream, "undelivered", 1)
	default:
		uc.count(ModeStream, "broadcast", 1)
	}
	return res, nil
}

// Classify validates one agent record and returns its classification label
// without enriching or storing it.
func (uc *IngestLogUseCase) Classify(ctx context.Context, raw []byte) (string, error) {
	rec, err := uc.validator.Validate(raw)
	if err != nil {
		return "", err
	}
	return uc.enricher.Classify(ctx, rec)
}

// publishAlerts hands newly stored alerting records to the alert feed. The
// records are already durable, so a feed failure is logged and not returned.
func (uc *IngestLogUseCase) publishAlerts(ctx context.Context, records ...domain.PersistedRecord) {
	alerts := make([]domain.PersistedRecord, 0, len(records))
	for _, r := range records {
		if r.Alert {
			alerts = append(alerts, r)
		}
	}
	if len(alerts) == 0 {
		return
	}

	if err := uc.feed.Publish(context.WithoutCancel(ctx), alerts...); err != nil {
		uc.logger.Warn("Failed to publish alerts", "count", len(alerts), "error", err)
	}
}

func (uc *IngestLogUseCase) count(mode, status string, n int) {
	if n > 0 {
		uc.metrics.RecordsTotal.WithLabelValues(mode, status).Add(float64(n))
	}
}

func asPersistenceError(op string, err error) error {
	var pe *domain.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
