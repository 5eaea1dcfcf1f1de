package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/scanalyzer/internal/adapter/api/handler"
	"github.com/V4T54L/scanalyzer/internal/adapter/api/middleware"
)

// NewAdminRouter creates and configures the HTTP router for admin operations.
// stream may be nil for processes that do not own a broadcast hub.
func NewAdminRouter(adminHandler *handler.AdminHandler, stream *handler.StreamHandler, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Broadcast hub
	if stream != nil {
		mux.HandleFunc("POST /streamer/pause", stream.Pause)
		mux.HandleFunc("POST /streamer/resume", stream.Resume)
		mux.HandleFunc("GET /streamer/status", stream.Status)
	}

	// Enrichment
	mux.HandleFunc("PUT /admin/event-descriptions/{eventID}", adminHandler.SetEventDescription)

	// Alert feed
	mux.HandleFunc("GET /admin/alert-feed", adminHandler.FeedOverview)
	mux.HandleFunc("GET /admin/alert-feed/groups/{group}/consumers", adminHandler.Consumers)
	mux.HandleFunc("GET /admin/alert-feed/groups/{group}/pending", adminHandler.Pending)
	mux.HandleFunc("GET /admin/alert-feed/groups/{group}/pending/alerts", adminHandler.PendingAlerts)
	mux.HandleFunc("POST /admin/alert-feed/groups/{group}/claim", adminHandler.Claim)
	mux.HandleFunc("POST /admin/alert-feed/groups/{group}/ack", adminHandler.Acknowledge)
	mux.HandleFunc("POST /admin/alert-feed/{stream}/trim", adminHandler.Trim)
	mux.HandleFunc("GET /admin/alert-feed/dlq", adminHandler.DeadAlerts)
	mux.HandleFunc("POST /admin/alert-feed/dlq/requeue", adminHandler.Requeue)

	return middleware.Logging(logger)(mux)
}
