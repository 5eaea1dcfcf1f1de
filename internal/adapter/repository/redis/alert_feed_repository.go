package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/domain"
)

const payloadField = "payload"

// ErrFeedUnavailable is returned when Redis is down and no WAL is configured.
var ErrFeedUnavailable = errors.New("alert feed unavailable and WAL is not configured")

// AlertFeedRepository implements domain.AlertFeed and domain.AlertFeedReader
// on a Redis stream. Writes fall back to a WAL while Redis is unreachable and
// are replayed once it recovers.
type AlertFeedRepository struct {
	client       *redis.Client
	logger       *slog.Logger
	wal          domain.WALRepository
	streamKey    string
	dlqStreamKey string
	metrics      *metrics.IngestMetrics
	isAvailable  atomic.Bool
	now          func() time.Time
}

// AlertFeedOptions configures an AlertFeedRepository.
type AlertFeedOptions struct {
	StreamKey    string
	DLQStreamKey string
	// Group is created on startup when non-empty.
	Group string
	// WAL is optional; consumers run without one.
	WAL     domain.WALRepository
	Metrics *metrics.IngestMetrics
}

// NewAlertFeedRepository creates a Redis-backed alert feed.
func NewAlertFeedRepository(client *redis.Client, logger *slog.Logger, opts AlertFeedOptions) *AlertFeedRepository {
	repo := &AlertFeedRepository{
		client:       client,
		logger:       logger.With("component", "redis_alert_feed"),
		wal:          opts.WAL,
		streamKey:    opts.StreamKey,
		dlqStreamKey: opts.DLQStreamKey,
		metrics:      opts.Metrics,
		now:          time.Now,
	}
	repo.setAvailable(true)

	if opts.Group != "" {
		if err := repo.setupConsumerGroup(context.Background(), opts.Group); err != nil {
			repo.setAvailable(false)
			repo.logger.Error("Failed to setup consumer group, Redis may be unavailable on startup", "error", err)
		}
	}
	return repo
}

// Available reports whether writes currently go to Redis.
func (r *AlertFeedRepository) Available() bool {
	return r.isAvailable.Load()
}

func (r *AlertFeedRepository) setAvailable(v bool) {
	r.isAvailable.Store(v)
	if r.metrics != nil {
		if v {
			r.metrics.WALActive.Set(0)
		} else {
			r.metrics.WALActive.Set(1)
		}
	}
}

// markUnavailable flips to WAL mode, reporting whether this call did so.
func (r *AlertFeedRepository) markUnavailable() bool {
	if !r.isAvailable.CompareAndSwap(true, false) {
		return false
	}
	if r.metrics != nil {
		r.metrics.WALActive.Set(1)
	}
	return true
}

// StartHealthCheck monitors Redis connectivity and replays the WAL on
// recovery. It blocks until ctx is done.
func (r *AlertFeedRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if r.wal == nil {
		r.logger.Info("WAL is not configured, skipping health check/replayer")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Starting Redis health check and WAL replayer", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping Redis health check")
			return
		case <-ticker.C:
			r.checkHealth(ctx)
		}
	}
}

func (r *AlertFeedRepository) checkHealth(ctx context.Context) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		if r.markUnavailable() {
			r.logger.Error("Redis connection lost", "error", err)
		}
		return
	}
	if r.isAvailable.Load() {
		return
	}

	r.logger.Info("Redis connection recovered")
	// Replay before accepting direct writes again so the stream keeps
	// publication order.
	if err := r.ReplayWAL(ctx); err != nil {
		r.logger.Error("Failed to replay WAL after Redis recovery", "error", err)
		return
	}
	r.setAvailable(true)
}

// ReplayWAL re-publishes WAL entries to Redis and truncates the WAL on success.
func (r *AlertFeedRepository) ReplayWAL(ctx context.Context) error {
	r.logger.Info("Attempting to replay WAL to Redis")

	if err := r.wal.Replay(ctx, func(alert domain.AlertMessage) error {
		return r.addToStream(ctx, alert)
	}); err != nil {
		return fmt.Errorf("WAL replay failed: %w", err)
	}
	if err := r.wal.Truncate(ctx); err != nil {
		return fmt.Errorf("failed to truncate WAL after successful replay: %w", err)
	}

	r.logger.Info("WAL replay to Redis completed successfully")
	return nil
}

func (r *AlertFeedRepository) setupConsumerGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, r.streamKey, group, "0").Err()
	if err != nil && !isRedisBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Publish appends each record to the alert stream.
func (r *AlertFeedRepository) Publish(ctx context.Context, records ...domain.PersistedRecord) error {
	publishedAt := r.now().UTC()
	var errs []error
	for _, rec := range records {
		alert := domain.AlertMessage{Record: rec, PublishedAt: publishedAt}
		if err := r.publish(ctx, alert); err != nil {
			r.observe("error")
			errs = append(errs, fmt.Errorf("record %s: %w", rec.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (r *AlertFeedRepository) publish(ctx context.Context, alert domain.AlertMessage) error {
	if !r.isAvailable.Load() {
		return r.writeWAL(ctx, alert)
	}

	err := r.addToStream(ctx, alert)
	if err == nil {
		r.observe("redis")
		return nil
	}
	if !isNetworkError(err) {
		return err
	}
	if r.markUnavailable() {
		r.logger.Error("Redis connection lost during write", "error", err)
	}
	return r.writeWAL(ctx, alert)
}

func (r *AlertFeedRepository) writeWAL(ctx context.Context, alert domain.AlertMessage) error {
	if r.wal == nil {
		return ErrFeedUnavailable
	}
	r.logger.Warn("Redis is unavailable, writing alert to WAL", "record_id", alert.Record.ID)
	if err := r.wal.Write(ctx, alert); err != nil {
		return err
	}
	r.observe("wal")
	return nil
}

func (r *AlertFeedRepository) observe(result string) {
	if r.metrics != nil {
		r.metrics.AlertsPublishedTotal.WithLabelValues(result).Inc()
	}
}

func (r *AlertFeedRepository) addToStream(ctx context.Context, alert domain.AlertMessage) error {
	values, err := encodeAlert(alert)
	if err != nil {
		return err
	}
	if err := r.client.XAdd(ctx, &redis.XAddArgs{Stream: r.streamKey, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

// ReadAlertBatch reads a batch of alerts for a consumer group.
func (r *AlertFeedRepository) ReadAlertBatch(ctx context.Context, group, consumer string, count int) ([]domain.AlertMessage, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{r.streamKey, ">"},
		Count:    int64(count),
		Block:    2 * time.Second,
	}

	streams, err := r.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from redis: %w", err)
	}
	if len(streams) == 0 {
		return nil, nil
	}
	return decodeMessages(streams[0].Messages, r.logger), nil
}

// AcknowledgeAlerts acknowledges processed messages.
func (r *AlertFeedRepository) AcknowledgeAlerts(ctx context.Context, group string, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, r.streamKey, group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK messages in redis: %w", err)
	}
	return nil
}

// MoveToDLQ copies alerts to the dead-letter stream.
func (r *AlertFeedRepository) MoveToDLQ(ctx context.Context, alerts []domain.AlertMessage) error {
	if len(alerts) == 0 {
		return nil
	}

	failedAt := r.now().UTC().Format(time.RFC3339)
	pipe := r.client.Pipeline()
	for _, alert := range alerts {
		values, err := encodeAlert(alert)
		if err != nil {
			r.logger.Error("Failed to marshal alert for DLQ", "record_id", alert.Record.ID, "error", err)
			continue
		}
		values["original_stream"] = r.streamKey
		values["original_msg_id"] = alert.StreamMessageID
		values["failed_at"] = failedAt
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: r.dlqStreamKey, Values: values})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline: %w", err)
	}
	r.logger.Warn("Moved alerts to DLQ", "count", len(alerts))
	return nil
}

func encodeAlert(alert domain.AlertMessage) (map[string]any, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal alert: %w", err)
	}
	return map[string]any{payloadField: payload}, nil
}

func decodeMessages(messages []redis.XMessage, logger *slog.Logger) []domain.AlertMessage {
	alerts := make([]domain.AlertMessage, 0, len(messages))
	for _, msg := range messages {
		alert, err := decodeMessage(msg)
		if err != nil {
			logger.Warn("Skipping undecodable stream message", "message_id", msg.ID, "error", err)
			continue
		}
		alerts = append(alerts, alert)
	}
	return alerts
}

func decodeMessage(msg redis.XMessage) (domain.AlertMessage, error) {
	var alert domain.AlertMessage
	payload, ok := msg.Values[payloadField].(string)
	if !ok {
		return alert, fmt.Errorf("missing %q field", payloadField)
	}
	if err := json.Unmarshal([]byte(payload), &alert); err != nil {
		return alert, err
	}
	alert.StreamMessageID = msg.ID
	return alert, nil
}

func isRedisBusyGroupError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
