package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// FeedAdminRepository implements domain.AlertFeedAdmin for the alert stream
// and its dead-letter stream. Operators address the two streams by role, so
// no other Redis key is reachable through it.
type FeedAdminRepository struct {
	client       *redis.Client
	logger       *slog.Logger
	streamKey    string
	dlqStreamKey string
}

// NewFeedAdminRepository creates an admin view over streamKey and dlqStreamKey.
func NewFeedAdminRepository(client *redis.Client, streamKey, dlqStreamKey string, logger *slog.Logger) *FeedAdminRepository {
	return &FeedAdminRepository{
		client:       client,
		logger:       logger.With("component", "redis_feed_admin"),
		streamKey:    streamKey,
		dlqStreamKey: dlqStreamKey,
	}
}

func (r *FeedAdminRepository) key(stream string) (string, error) {
	switch stream {
	case domain.FeedStream:
		return r.streamKey, nil
	case domain.DLQStream:
		return r.dlqStreamKey, nil
	default:
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownStream, stream)
	}
}

// Overview reports stream lengths and the dispatcher groups. A stream that
// has never been written reads as empty.
func (r *FeedAdminRepository) Overview(ctx context.Context) (domain.FeedOverview, error) {
	out := domain.FeedOverview{Stream: r.streamKey, DLQStream: r.dlqStreamKey, Groups: []domain.GroupStatus{}}

	pipe := r.client.Pipeline()
	feedLen := pipe.XLen(ctx, r.streamKey)
	dlqLen := pipe.XLen(ctx, r.dlqStreamKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return out, fmt.Errorf("failed to read alert feed lengths: %w", err)
	}
	out.Length, out.DLQLength = feedLen.Val(), dlqLen.Val()

	groups, err := r.client.XInfoGroups(ctx, r.streamKey).Result()
	if err != nil {
		if isNoSuchKey(err) {
			return out, nil
		}
		return out, fmt.Errorf("failed to get groups of %s: %w", r.streamKey, err)
	}
	for _, g := range groups {
		out.Groups = append(out.Groups, domain.GroupStatus{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			Lag:             g.Lag,
			LastDeliveredID: g.LastDeliveredID,
		})
	}
	return out, nil
}

// Consumers lists the dispatcher instances of group.
func (r *FeedAdminRepository) Consumers(ctx context.Context, group string) ([]domain.ConsumerStatus, error) {
	consumers, err := r.client.XInfoConsumers(ctx, r.streamKey, group).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get consumers of group %s: %w", group, err)
	}
	out := make([]domain.ConsumerStatus, len(consumers))
	for i, c := range consumers {
		out[i] = domain.ConsumerStatus{
			Name:    c.Name,
			Pending: c.Pending,
			IdleMS:  time.Duration(c.Idle).Milliseconds(),
		}
	}
	return out, nil
}

// Pending summarizes the unacknowledged deliveries of group.
func (r *FeedAdminRepository) Pending(ctx context.Context, group string) (domain.PendingSummary, error) {
	p, err := r.client.XPending(ctx, r.streamKey, group).Result()
	if err != nil {
		return domain.PendingSummary{}, fmt.Errorf("failed to get pending summary of group %s: %w", group, err)
	}
	return pendingSummary(p), nil
}

func pendingSummary(p *redis.XPending) domain.PendingSummary {
	return domain.PendingSummary{
		Total:       p.Count,
		OldestID:    p.Lower,
		NewestID:    p.Higher,
		PerConsumer: p.Consumers,
	}
}

// PendingAlerts lists unacknowledged deliveries from startID on, optionally
// restricted to one consumer.
func (r *FeedAdminRepository) PendingAlerts(ctx context.Context, group, consumer, startID string, count int64) ([]domain.PendingAlert, error) {
	entries, err := r.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   r.streamKey,
		Group:    group,
		Start:    startID,
		End:      "+",
		Count:    count,
		Consumer: consumer,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending alerts of group %s: %w", group, err)
	}
	out := make([]domain.PendingAlert, len(entries))
	for i, e := range entries {
		out[i] = domain.PendingAlert{
			ID:         e.ID,
			Consumer:   e.Consumer,
			IdleMS:     e.Idle.Milliseconds(),
			Deliveries: e.RetryCount,
		}
	}
	return out, nil
}

// Claim hands idle pending alerts over to consumer.
func (r *FeedAdminRepository) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, ids []string) ([]domain.AlertMessage, error) {
	claimed, err := r.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   r.streamKey,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to claim alerts for %s: %w", consumer, err)
	}
	return decodeMessages(claimed, r.logger), nil
}

// Acknowledge marks alerts as handled by group.
func (r *FeedAdminRepository) Acknowledge(ctx context.Context, group string, ids ...string) (int64, error) {
	n, err := r.client.XAck(ctx, r.streamKey, group, ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to acknowledge alerts for group %s: %w", group, err)
	}
	return n, nil
}

// Trim caps a stream at maxLen entries and returns how many were evicted.
func (r *FeedAdminRepository) Trim(ctx context.Context, stream string, maxLen int64) (int64, error) {
	key, err := r.key(stream)
	if err != nil {
		return 0, err
	}
	n, err := r.client.XTrimMaxLen(ctx, key, maxLen).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to trim %s: %w", key, err)
	}
	r.logger.Info("Trimmed stream", "stream", key, "max_len", maxLen, "evicted", n)
	return n, nil
}

// DeadAlerts returns up to count of the oldest dead-lettered alerts.
func (r *FeedAdminRepository) DeadAlerts(ctx context.Context, count int64) ([]domain.DeadAlert, error) {
	msgs, err := r.client.XRangeN(ctx, r.dlqStreamKey, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.dlqStreamKey, err)
	}
	out := make([]domain.DeadAlert, 0, len(msgs))
	for _, msg := range msgs {
		dead, err := decodeDeadAlert(msg)
		if err != nil {
			r.logger.Warn("Skipping undecodable dead letter", "message_id", msg.ID, "error", err)
			continue
		}
		out = append(out, dead)
	}
	return out, nil
}

// Requeue moves dead-lettered alerts back onto the feed as new entries, so
// dispatchers pick them up again. Unknown ids are skipped. It returns the
// number of alerts moved.
func (r *FeedAdminRepository) Requeue(ctx context.Context, ids ...string) (int, error) {
	moved := 0
	for _, id := range ids {
		msgs, err := r.client.XRange(ctx, r.dlqStreamKey, id, id).Result()
		if err != nil {
			return moved, fmt.Errorf("failed to read dead letter %s: %w", id, err)
		}
		if len(msgs) == 0 {
			continue
		}
		alert, err := decodeMessage(msgs[0])
		if err != nil {
			r.logger.Warn("Leaving undecodable dead letter in place", "message_id", id, "error", err)
			continue
		}
		values, err := encodeAlert(alert)
		if err != nil {
			return moved, err
		}

		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.XAdd(ctx, &redis.XAddArgs{Stream: r.streamKey, Values: values})
			pipe.XDel(ctx, r.dlqStreamKey, id)
			return nil
		})
		if err != nil {
			return moved, fmt.Errorf("failed to requeue dead letter %s: %w", id, err)
		}
		moved++
	}
	r.logger.Info("Requeued dead letters", "requested", len(ids), "moved", moved)
	return moved, nil
}

func decodeDeadAlert(msg redis.XMessage) (domain.DeadAlert, error) {
	alert, err := decodeMessage(msg)
	if err != nil {
		return domain.DeadAlert{}, err
	}
	dead := domain.DeadAlert{ID: msg.ID, Alert: alert}
	dead.OriginalID, _ = msg.Values["original_msg_id"].(string)
	if ts, ok := msg.Values["failed_at"].(string); ok {
		dead.FailedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return dead, nil
}

func isNoSuchKey(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "ERR no such key")
}
