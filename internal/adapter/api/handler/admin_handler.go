package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/V4T54L/scanalyzer/internal/domain"
	"github.com/V4T54L/scanalyzer/internal/usecase"
)

// DescriptionOverrider stores operator supplied event descriptions.
type DescriptionOverrider interface {
	SetOverride(ctx context.Context, eventID int, description string) error
}

// AdminHandler serves the operator routes of the admin server.
type AdminHandler struct {
	feed         *usecase.FeedAdminUseCase
	descriptions DescriptionOverrider
	logger       *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. descriptions may be nil, in
// which case the override route reports 501.
func NewAdminHandler(feed *usecase.FeedAdminUseCase, descriptions DescriptionOverrider, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{feed: feed, descriptions: descriptions, logger: logger.With("component", "admin_handler")}
}

type idsRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// HealthCheck is a simple health check endpoint.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, statusResponse{Status: "ok"})
}

// SetEventDescription overrides the description of one event id.
// PUT /admin/event-descriptions/{eventID}
func (h *AdminHandler) SetEventDescription(w http.ResponseWriter, r *http.Request) {
	if h.descriptions == nil {
		respondWithJSON(w, h.logger, http.StatusNotImplemented, errorResponse{Error: "description overrides are not configured"})
		return
	}
	eventID, err := strconv.Atoi(r.PathValue("eventID"))
	if err != nil || eventID < 0 {
		respondError(w, h.logger, "invalid event id", invalidField("eventID", "must be a non-negative integer"))
		return
	}

	var payload struct {
		Description string `json:"description"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	if payload.Description == "" {
		respondError(w, h.logger, "invalid description", invalidField("description", "is required"))
		return
	}

	if err := h.descriptions.SetOverride(r.Context(), eventID, payload.Description); err != nil {
		respondError(w, h.logger, "failed to store event description", err)
		return
	}
	h.logger.Info("Event description overridden", "event_id", eventID)
	respondWithJSON(w, h.logger, http.StatusOK, map[string]any{"event_id": eventID, "description": payload.Description})
}

// FeedOverview reports the alert feed, its dead-letter stream and groups.
// GET /admin/alert-feed
func (h *AdminHandler) FeedOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.feed.Overview(r.Context())
	if err != nil {
		respondError(w, h.logger, "failed to read alert feed", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, overview)
}

// Consumers lists the dispatchers of a group.
// GET /admin/alert-feed/groups/{group}/consumers
func (h *AdminHandler) Consumers(w http.ResponseWriter, r *http.Request) {
	consumers, err := h.feed.Consumers(r.Context(), r.PathValue("group"))
	if err != nil {
		respondError(w, h.logger, "failed to list consumers", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, consumers)
}

// Pending summarizes unacknowledged alerts of a group.
// GET /admin/alert-feed/groups/{group}/pending
func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	summary, err := h.feed.Pending(r.Context(), r.PathValue("group"))
	if err != nil {
		respondError(w, h.logger, "failed to get pending summary", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, summary)
}

// PendingAlerts lists unacknowledged alerts of a group.
// GET /admin/alert-feed/groups/{group}/pending/alerts?consumer={name}&start={id}&count={n}
func (h *AdminHandler) PendingAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, ok := h.count(w, q.Get("count"))
	if !ok {
		return
	}
	alerts, err := h.feed.PendingAlerts(r.Context(), r.PathValue("group"), q.Get("consumer"), q.Get("start"), count)
	if err != nil {
		respondError(w, h.logger, "failed to list pending alerts", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, alerts)
}

// Claim hands idle pending alerts to another dispatcher.
// POST /admin/alert-feed/groups/{group}/claim
func (h *AdminHandler) Claim(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Consumer    string   `json:"consumer"`
		MinIdleTime string   `json:"min_idle_time"`
		MessageIDs  []string `json:"message_ids"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	var minIdle time.Duration
	if payload.MinIdleTime != "" {
		var err error
		if minIdle, err = time.ParseDuration(payload.MinIdleTime); err != nil {
			respondError(w, h.logger, "invalid claim", invalidField("min_idle_time", "must be a duration such as 30s"))
			return
		}
	}

	claimed, err := h.feed.Claim(r.Context(), r.PathValue("group"), payload.Consumer, minIdle, payload.MessageIDs)
	if err != nil {
		respondError(w, h.logger, "failed to claim alerts", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, claimed)
}

// Acknowledge marks alerts as handled.
// POST /admin/alert-feed/groups/{group}/ack
func (h *AdminHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var payload idsRequest
	if !h.decode(w, r, &payload) {
		return
	}
	n, err := h.feed.Acknowledge(r.Context(), r.PathValue("group"), payload.MessageIDs...)
	if err != nil {
		respondError(w, h.logger, "failed to acknowledge alerts", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]int64{"acknowledged": n})
}

// Trim caps the feed or the dead-letter stream.
// POST /admin/alert-feed/{stream}/trim
func (h *AdminHandler) Trim(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		MaxLen int64 `json:"maxlen"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	n, err := h.feed.Trim(r.Context(), r.PathValue("stream"), payload.MaxLen)
	if err != nil {
		respondError(w, h.logger, "failed to trim stream", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]int64{"trimmed": n})
}

// DeadAlerts lists dead-lettered alerts, oldest first.
// GET /admin/alert-feed/dlq?count={n}
func (h *AdminHandler) DeadAlerts(w http.ResponseWriter, r *http.Request) {
	count, ok := h.count(w, r.URL.Query().Get("count"))
	if !ok {
		return
	}
	dead, err := h.feed.DeadAlerts(r.Context(), count)
	if err != nil {
		respondError(w, h.logger, "failed to list dead letters", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, dead)
}

// Requeue moves dead-lettered alerts back onto the feed.
// POST /admin/alert-feed/dlq/requeue
func (h *AdminHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	var payload idsRequest
	if !h.decode(w, r, &payload) {
		return
	}
	moved, err := h.feed.Requeue(r.Context(), payload.MessageIDs...)
	if err != nil {
		respondError(w, h.logger, "failed to requeue dead letters", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]int{"requeued": moved})
}

func (h *AdminHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, h.logger, "invalid request body", invalidField("body", err.Error()))
		return false
	}
	return true
}

func (h *AdminHandler) count(w http.ResponseWriter, v string) (int64, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		respondError(w, h.logger, "invalid query", invalidField("count", "must be an integer"))
		return 0, false
	}
	return n, true
}

func invalidField(field, reason string) error {
	return &domain.SchemaError{Index: -1, Field: field, Reason: reason}
}
