package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/V4T54L/scanalyzer/internal/adapter/stream"
)

// StreamOptions tunes observer connections.
type StreamOptions struct {
	WriteTimeout  time.Duration
	PongWait      time.Duration
	SSEBufferSize int
}

// StreamHandler attaches observers to the broadcast hub and exposes its
// pause/resume controls.
type StreamHandler struct {
	hub      *stream.Hub
	logger   *slog.Logger
	opts     StreamOptions
	upgrader websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(hub *stream.Hub, logger *slog.Logger, opts StreamOptions) *StreamHandler {
	return &StreamHandler{
		hub:    hub,
		logger: logger.With("component", "stream_handler"),
		opts:   opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Dashboards are served from other origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WebSocket upgrades the request and registers the connection as an observer.
// GET /streamer/logs/stream
func (h *StreamHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := stream.NewWebSocketConn(ws, h.opts.WriteTimeout)
	h.logger.Info("observer connected", "conn_id", conn.ID(), "transport", "websocket", "remote_addr", r.RemoteAddr)
	stream.Observe(r.Context(), h.hub, conn, h.opts.PongWait)
	h.logger.Info("observer disconnected", "conn_id", conn.ID())
}

// SSE registers a receive-only Server-Sent Events observer.
// GET /streamer/logs/sse
func (h *StreamHandler) SSE(w http.ResponseWriter, r *http.Request) {
	if err := stream.ServeSSE(h.hub, w, r, h.opts.SSEBufferSize, h.opts.WriteTimeout); err != nil {
		h.logger.Warn("sse observer ended", "remote_addr", r.RemoteAddr, "error", err)
	}
}

// Pause stops hub-wide delivery.
// POST /streamer/pause
func (h *StreamHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.hub.Pause()
	respondWithJSON(w, h.logger, http.StatusOK, h.hub.Status())
}

// Resume restarts hub-wide delivery.
// POST /streamer/resume
func (h *StreamHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.hub.Resume()
	respondWithJSON(w, h.logger, http.StatusOK, h.hub.Status())
}

// Status reports observer count and pause state.
// GET /streamer/status
func (h *StreamHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, h.hub.Status())
}
