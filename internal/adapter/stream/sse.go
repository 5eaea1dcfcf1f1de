package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errSlowObserver = errors.New("observer is not draining its buffer")

const sseKeepAliveInterval = 15 * time.Second

// SSEConn is a receive-only observer served over Server-Sent Events.
// Payloads are queued on a bounded buffer that Serve drains.
type SSEConn struct {
	id          string
	messages    chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration
}

// NewSSEConn creates a connection with the given buffer size. A send waits up
// to sendTimeout for buffer space before the observer is considered dead.
func NewSSEConn(buffer int, sendTimeout time.Duration) *SSEConn {
	return &SSEConn{
		id:          uuid.NewString(),
		messages:    make(chan []byte, buffer),
		done:        make(chan struct{}),
		sendTimeout: sendTimeout,
	}
}

func (c *SSEConn) ID() string { return c.id }

func (c *SSEConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.messages <- payload:
		return nil
	default:
	}

	timer := time.NewTimer(c.sendTimeout)
	defer timer.Stop()
	select {
	case c.messages <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-timer.C:
		return errSlowObserver
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *SSEConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Serve streams queued payloads to w until the client disconnects or the
// connection is closed.
func (c *SSEConn) Serve(w http.ResponseWriter, r *http.Request) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return err
			}
			flusher.Flush()
		case msg := <-c.messages:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// ServeSSE registers an SSE observer with the hub and streams to it until
// the client goes away.
func ServeSSE(hub *Hub, w http.ResponseWriter, r *http.Request, buffer int, sendTimeout time.Duration) error {
	conn := NewSSEConn(buffer, sendTimeout)
	hub.Connect(conn)
	defer func() {
		hub.Disconnect(conn)
		_ = conn.Close()
	}()
	return conn.Serve(w, r)
}
