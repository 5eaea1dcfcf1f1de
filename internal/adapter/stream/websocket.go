package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrConnClosed is returned when sending on a closed connection.
var ErrConnClosed = errors.New("connection closed")

// maxControlFrameSize bounds inbound observer messages.
const maxControlFrameSize = 4096

// controlFrame is the inbound message an observer sends to control the feed.
type controlFrame struct {
	Action string `json:"action"`
}

// WebSocketConn adapts a gorilla websocket connection to Conn.
// gorilla/websocket allows one concurrent writer, so writes are serialized.
type WebSocketConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWebSocketConn wraps an upgraded connection.
func NewWebSocketConn(ws *websocket.Conn, writeTimeout time.Duration) *WebSocketConn {
	return &WebSocketConn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
	}
}

func (c *WebSocketConn) ID() string { return c.id }

// Send writes payload as a single text frame, bounded by the write timeout
// or the context deadline, whichever is earlier.
func (c *WebSocketConn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and closes the socket. Safe to call repeatedly.
func (c *WebSocketConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *WebSocketConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Observe registers conn with the hub and services it until the peer goes
// away or ctx is cancelled. Inbound {"action": ...} frames are forwarded to
// the hub; anything else is ignored. The read deadline is refreshed by pongs,
// so an idle observer that still answers pings stays connected.
func Observe(ctx context.Context, hub *Hub, conn *WebSocketConn, pongWait time.Duration) {
	hub.Connect(conn)
	defer func() {
		hub.Disconnect(conn)
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go conn.keepAlive(ctx, pongWait*9/10)

	ws := conn.ws
	ws.SetReadLimit(maxControlFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !conn.closed.Load() {
				hub.logger.Debug("Observer read failed", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		hub.Control(conn, frame.Action)
	}
}

func (c *WebSocketConn) keepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}
