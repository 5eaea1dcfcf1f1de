package eventdesc

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultOverridesKey is the Redis hash holding operator supplied descriptions.
const DefaultOverridesKey = "scanalyzer:event_descriptions"

// RedisDescriber looks up descriptions in a Redis hash keyed by event id and
// falls back to the built-in table on a miss or on any Redis failure.
type RedisDescriber struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisDescriber creates a describer reading overrides from the given hash.
func NewRedisDescriber(client *redis.Client, key string, logger *slog.Logger) *RedisDescriber {
	if key == "" {
		key = DefaultOverridesKey
	}
	return &RedisDescriber{
		client: client,
		key:    key,
		logger: logger.With("component", "event_describer"),
	}
}

// Describe never fails; unknown ids resolve to UnknownEvent.
func (d *RedisDescriber) Describe(ctx context.Context, eventID int) (string, error) {
	desc, err := d.client.HGet(ctx, d.key, strconv.Itoa(eventID)).Result()
	switch {
	case err == nil && desc != "":
		return desc, nil
	case err != nil && !errors.Is(err, redis.Nil):
		d.logger.Warn("Description override lookup failed, using built-in table", "event_id", eventID, "error", err)
	}
	return Lookup(eventID), nil
}

// SetOverride stores an operator supplied description for eventID.
func (d *RedisDescriber) SetOverride(ctx context.Context, eventID int, description string) error {
	return d.client.HSet(ctx, d.key, strconv.Itoa(eventID), description).Err()
}
