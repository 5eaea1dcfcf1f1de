package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/scanalyzer/internal/adapter/api/handler"
	"github.com/V4T54L/scanalyzer/internal/adapter/api/middleware"
	"github.com/V4T54L/scanalyzer/internal/domain"
)

// Handlers groups the handlers served by the ingest router.
type Handlers struct {
	Ingest *handler.IngestHandler
	Logs   *handler.LogsHandler
	Stream *handler.StreamHandler
}

// NewRouter creates and configures the main HTTP router for the ingest
// service. Agent routes require an API key; observer and operator routes are
// left to the network boundary.
func NewRouter(logger *slog.Logger, apiKeyRepo domain.APIKeyRepository, h Handlers) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(apiKeyRepo, logger)

	// Agent routes
	mux.Handle("GET /logs/ping", auth(http.HandlerFunc(h.Ingest.Ping)))
	mux.Handle("POST /logs/ingest", auth(http.HandlerFunc(h.Ingest.Ingest)))
	mux.Handle("POST /logs/ingest/bulk", auth(http.HandlerFunc(h.Ingest.IngestBulk)))
	mux.Handle("GET /streamer/ping", auth(http.HandlerFunc(h.Ingest.StreamPing)))
	mux.Handle("POST /streamer/ingest", auth(http.HandlerFunc(h.Ingest.IngestStream)))

	// Stored records
	mux.HandleFunc("POST /logs", h.Logs.Create)
	mux.HandleFunc("GET /logs", h.Logs.List)
	mux.HandleFunc("GET /logs/{id}", h.Logs.Get)
	mux.HandleFunc("PUT /logs/{id}", h.Logs.Update)
	mux.HandleFunc("DELETE /logs/{id}", h.Logs.Delete)
	mux.HandleFunc("POST /ml/classify", h.Logs.Classify)

	// Observers
	mux.HandleFunc("GET /streamer/logs/stream", h.Stream.WebSocket)
	mux.HandleFunc("GET /streamer/logs/sse", h.Stream.SSE)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return middleware.Logging(logger)(mux)
}
