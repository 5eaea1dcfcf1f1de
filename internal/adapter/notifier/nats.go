package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// flushTimeout bounds the flush when the caller's context has no deadline.
const flushTimeout = 5 * time.Second

// publisher is the subset of *nats.Conn the notifier needs.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
}

// NATSNotifier publishes JSON-encoded alerts to <prefix>.raised and
// <prefix>.triggered.
type NATSNotifier struct {
	conn   publisher
	prefix string
	logger *slog.Logger
	close  func()
}

// NewNATSNotifier connects to NATS with automatic reconnection.
func NewNATSNotifier(url, prefix string, logger *slog.Logger, opts ...nats.Option) (*NATSNotifier, error) {
	logger = logger.With("component", "nats_notifier")
	defaults := []nats.Option{
		nats.Name("scanalyzer-dispatcher"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSNotifier{conn: nc, prefix: prefix, logger: logger, close: nc.Close}, nil
}

// Notify publishes every alert and waits for the server to acknowledge the
// batch, so a successful return means the broker has the messages.
func (n *NATSNotifier) Notify(ctx context.Context, alerts []domain.AlertMessage) error {
	for _, a := range alerts {
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshaling alert %s: %w", a.Record.ID, err)
		}
		if err := n.conn.Publish(Subject(n.prefix, a), data); err != nil {
			return fmt.Errorf("publishing alert %s: %w", a.Record.ID, err)
		}
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing NATS connection: %w", err)
	}
	n.logger.Debug("Published alerts", "count", len(alerts))
	return nil
}

// Close closes the NATS connection.
func (n *NATSNotifier) Close() error {
	if n.close != nil {
		n.close()
	}
	return nil
}
