package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
	"github.com/V4T54L/scanalyzer/internal/adapter/repository/wal"
	"github.com/V4T54L/scanalyzer/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// unreachableClient points at a port nothing listens on.
func unreachableClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func persisted(id string) domain.PersistedRecord {
	return domain.PersistedRecord{
		ID: id,
		EnrichedRecord: domain.EnrichedRecord{
			Record:           domain.Record{AgentID: "a1", RecordID: 9, EventID: 1102},
			AIClassification: "anomaly",
			Alert:            true,
		},
	}
}

func TestAlertFeed_FallsBackToWAL(t *testing.T) {
	w, err := wal.NewWALRepository(t.TempDir(), 1<<20, 1<<24, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	m := metrics.NewIngestMetrics(prometheus.NewRegistry())
	feed := NewAlertFeedRepository(unreachableClient(t), discardLogger(), AlertFeedOptions{
		StreamKey: "alerts",
		Group:     "dispatchers",
		WAL:       w,
		Metrics:   m,
	})
	require.False(t, feed.Available(), "group setup against a dead server should switch to the WAL")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WALActive))

	require.NoError(t, feed.Publish(context.Background(), persisted("r1"), persisted("r2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AlertsPublishedTotal.WithLabelValues("wal")))

	var replayed []string
	require.NoError(t, w.Replay(context.Background(), func(a domain.AlertMessage) error {
		replayed = append(replayed, a.Record.ID)
		return nil
	}))
	assert.Equal(t, []string{"r1", "r2"}, replayed)
}

func TestAlertFeed_NetworkErrorOnWrite(t *testing.T) {
	w, err := wal.NewWALRepository(t.TempDir(), 1<<20, 1<<24, discardLogger())
	require.NoError(t, err)
	defer w.Close()

	// No group, so the repository starts out assuming Redis is up.
	feed := NewAlertFeedRepository(unreachableClient(t), discardLogger(), AlertFeedOptions{StreamKey: "alerts", WAL: w})
	require.True(t, feed.Available())

	require.NoError(t, feed.Publish(context.Background(), persisted("r1")))
	assert.False(t, feed.Available())
	assert.Positive(t, w.Size())
}

func TestAlertFeed_UnavailableWithoutWAL(t *testing.T) {
	feed := NewAlertFeedRepository(unreachableClient(t), discardLogger(), AlertFeedOptions{StreamKey: "alerts", Group: "g"})

	err := feed.Publish(context.Background(), persisted("r1"))
	assert.ErrorIs(t, err, ErrFeedUnavailable)
}

func TestDecodeMessages(t *testing.T) {
	alert := domain.AlertMessage{Record: persisted("r1"), PublishedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	payload, err := json.Marshal(alert)
	require.NoError(t, err)

	msgs := []redis.XMessage{
		{ID: "1-0", Values: map[string]any{payloadField: string(payload)}},
		{ID: "2-0", Values: map[string]any{"data": "x"}},
		{ID: "3-0", Values: map[string]any{payloadField: "{broken"}},
	}
	got := decodeMessages(msgs, discardLogger())
	require.Len(t, got, 1)
	assert.Equal(t, "1-0", got[0].StreamMessageID)
	assert.Equal(t, "r1", got[0].Record.ID)
	assert.True(t, got[0].PublishedAt.Equal(alert.PublishedAt))
}

func TestIsNetworkError(t *testing.T) {
	assert.True(t, isNetworkError(context.DeadlineExceeded))
	assert.True(t, isNetworkError(redis.ErrClosed))
	assert.False(t, isNetworkError(errors.New("WRONGTYPE")))
	assert.False(t, isNetworkError(nil))
}
