package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// Page bounds for pending and dead-letter listings.
const (
	defaultAdminPage = 100
	maxAdminPage     = 1000
)

// FeedAdminUseCase validates operator requests against the alert feed before
// handing them to the store.
type FeedAdminUseCase struct {
	admin domain.AlertFeedAdmin
}

// NewFeedAdminUseCase creates a new FeedAdminUseCase.
func NewFeedAdminUseCase(admin domain.AlertFeedAdmin) *FeedAdminUseCase {
	return &FeedAdminUseCase{admin: admin}
}

func (uc *FeedAdminUseCase) Overview(ctx context.Context) (domain.FeedOverview, error) {
	return uc.admin.Overview(ctx)
}

func (uc *FeedAdminUseCase) Consumers(ctx context.Context, group string) ([]domain.ConsumerStatus, error) {
	if group == "" {
		return nil, invalid("group", "is required")
	}
	return uc.admin.Consumers(ctx, group)
}

func (uc *FeedAdminUseCase) Pending(ctx context.Context, group string) (domain.PendingSummary, error) {
	if group == "" {
		return domain.PendingSummary{}, invalid("group", "is required")
	}
	return uc.admin.Pending(ctx, group)
}

// PendingAlerts pages through unacknowledged deliveries. An empty startID
// starts at the oldest one.
func (uc *FeedAdminUseCase) PendingAlerts(ctx context.Context, group, consumer, startID string, count int64) ([]domain.PendingAlert, error) {
	if group == "" {
		return nil, invalid("group", "is required")
	}
	if startID == "" {
		startID = "-"
	}
	count, err := pageSize(count)
	if err != nil {
		return nil, err
	}
	return uc.admin.PendingAlerts(ctx, group, consumer, startID, count)
}

// Claim transfers idle pending alerts to consumer, typically away from a
// dispatcher that died.
func (uc *FeedAdminUseCase) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, ids []string) ([]domain.AlertMessage, error) {
	switch {
	case group == "":
		return nil, invalid("group", "is required")
	case consumer == "":
		return nil, invalid("consumer", "is required")
	case len(ids) == 0:
		return nil, invalid("message_ids", "must not be empty")
	case minIdle < 0:
		return nil, invalid("min_idle_time", "must not be negative")
	}
	return uc.admin.Claim(ctx, group, consumer, minIdle, ids)
}

func (uc *FeedAdminUseCase) Acknowledge(ctx context.Context, group string, ids ...string) (int64, error) {
	switch {
	case group == "":
		return 0, invalid("group", "is required")
	case len(ids) == 0:
		return 0, invalid("message_ids", "must not be empty")
	}
	return uc.admin.Acknowledge(ctx, group, ids...)
}

// Trim caps the feed or the dead-letter stream. A zero maxLen empties it.
func (uc *FeedAdminUseCase) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	if maxLen < 0 {
		return 0, invalid("maxlen", "must be greater than or equal to 0")
	}
	n, err := uc.admin.Trim(ctx, stream, maxLen)
	if errors.Is(err, domain.ErrUnknownStream) {
		return 0, invalid("stream", "must be "+domain.FeedStream+" or "+domain.DLQStream)
	}
	return n, err
}

func (uc *FeedAdminUseCase) DeadAlerts(ctx context.Context, count int64) ([]domain.DeadAlert, error) {
	count, err := pageSize(count)
	if err != nil {
		return nil, err
	}
	return uc.admin.DeadAlerts(ctx, count)
}

// Requeue puts dead-lettered alerts back on the feed.
func (uc *FeedAdminUseCase) Requeue(ctx context.Context, ids ...string) (int, error) {
	if len(ids) == 0 {
		return 0, invalid("message_ids", "must not be empty")
	}
	return uc.admin.Requeue(ctx, ids...)
}

func pageSize(count int64) (int64, error) {
	switch {
	case count == 0:
		return defaultAdminPage, nil
	case count < 0 || count > maxAdminPage:
		return 0, invalid("count", "must be between 1 and 1000")
	}
	return count, nil
}

func invalid(field, reason string) error {
	return &domain.SchemaError{Index: -1, Field: field, Reason: reason}
}
