package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/domain"
)

const (
	defaultBatchSize    = 100
	defaultRetryCount   = 3
	defaultRetryBackoff = 1 * time.Second
)

// DispatchAlertsUseCase reads alerts from the alert feed, hands them to a
// notifier and acknowledges them. Batches that keep failing are parked in the
// dead-letter stream so the feed keeps moving.
type DispatchAlertsUseCase struct {
	feed         domain.AlertFeedReader
	notifier     domain.Notifier
	metrics      *metrics.DispatchMetrics
	logger       *slog.Logger
	group        string
	consumer     string
	batchSize    int
	retryCount   int
	retryBackoff time.Duration
}

// NewDispatchAlertsUseCase creates a new use case for dispatching alerts.
func NewDispatchAlertsUseCase(feed domain.AlertFeedReader, notifier domain.Notifier, m *metrics.DispatchMetrics, logger *slog.Logger, group, consumer string, batchSize, retryCount int, retryBackoff time.Duration) *DispatchAlertsUseCase {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if retryCount <= 0 {
		retryCount = defaultRetryCount
	}
	if retryBackoff <= 0 {
		retryBackoff = defaultRetryBackoff
	}
	return &DispatchAlertsUseCase{
		feed:         feed,
		notifier:     notifier,
		metrics:      m,
		logger:       logger.With("component", "alert_dispatcher"),
		group:        group,
		consumer:     consumer,
		batchSize:    batchSize,
		retryCount:   retryCount,
		retryBackoff: retryBackoff,
	}
}

// ProcessBatch reads one batch of alerts and dispatches it. It returns the
// number of alerts delivered to the notifier.
func (uc *DispatchAlertsUseCase) ProcessBatch(ctx context.Context) (int, error) {
	// 1. Read a batch of alerts from the feed (Redis)
	alerts, err := uc.feed.ReadAlertBatch(ctx, uc.group, uc.consumer, uc.batchSize)
	if err != nil {
		uc.logger.Error("failed to read alert batch from feed", "error", err)
		return 0, err
	}

	if len(alerts) == 0 {
		return 0, nil // No new alerts, not an error
	}

	uc.logger.Debug("read batch of alerts from feed", "count", len(alerts))
	start := time.Now()
	defer func() { uc.metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	// 2. Notify with retries; park the batch in the DLQ if it keeps failing
	notifyErr := uc.notifyWithRetry(ctx, alerts)
	if notifyErr != nil {
		uc.logger.Error("failed to notify alert batch after retries, moving to DLQ", "error", notifyErr, "count", len(alerts))
		if err := uc.feed.MoveToDLQ(ctx, alerts); err != nil {
			// Leave the batch pending so it is delivered again later.
			uc.logger.Error("failed to move alerts to DLQ", "error", err)
			return 0, err
		}
		uc.metrics.DLQMessagesTotal.Add(float64(len(alerts)))
		uc.metrics.AlertsTotal.WithLabelValues("dlq").Add(float64(len(alerts)))
	}

	// 3. Acknowledge the alerts in the feed
	messageIDs := make([]string, len(alerts))
	for i, alert := range alerts {
		messageIDs[i] = alert.StreamMessageID
	}

	if err := uc.feed.AcknowledgeAlerts(ctx, uc.group, messageIDs...); err != nil {
		uc.logger.Error("failed to acknowledge alerts in feed", "error", err)
		return 0, err
	}

	if notifyErr != nil {
		return 0, notifyErr
	}

	uc.metrics.AlertsTotal.WithLabelValues("notified").Add(float64(len(alerts)))
	uc.logger.Info("successfully dispatched alert batch", "count", len(alerts))
	return len(alerts), nil
}

func (uc *DispatchAlertsUseCase) notifyWithRetry(ctx context.Context, alerts []domain.AlertMessage) error {
	var lastErr error
	for i := 0; i < uc.retryCount; i++ {
		err := uc.notifier.Notify(ctx, alerts)
		if err == nil {
			return nil
		}
		lastErr = err
		uc.logger.Warn("failed to notify alert batch, retrying...", "attempt", i+1, "error", err)
		select {
		case <-time.After(uc.retryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
