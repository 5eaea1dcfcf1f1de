package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// LogService is the read/patch/delete surface over stored records.
type LogService interface {
	Get(ctx context.Context, id string) (*domain.PersistedRecord, error)
	List(ctx context.Context, filter domain.RecordFilter) ([]domain.PersistedRecord, error)
	Update(ctx context.Context, id string, patch domain.RecordPatch) error
	Delete(ctx context.Context, id string) error
}

// LogsHandler serves the operator routes over stored records.
type LogsHandler struct {
	ingest       IngestService
	logs         LogService
	logger       *slog.Logger
	maxEventSize int64
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(ingest IngestService, logs LogService, logger *slog.Logger, maxEventSize int64) *LogsHandler {
	return &LogsHandler{
		ingest:       ingest,
		logs:         logs,
		logger:       logger.With("component", "logs_handler"),
		maxEventSize: maxEventSize,
	}
}

type createResponse struct {
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
}

type classifyResponse struct {
	Label string `json:"label"`
}

// Create stores an operator supplied, already enriched record.
// POST /logs
func (h *LogsHandler) Create(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.read(w, r)
	if !ok {
		return
	}

	res, err := h.ingest.Create(r.Context(), raw)
	if err != nil {
		respondError(w, h.logger, "failed to create record", err)
		return
	}
	if res.Duplicate {
		respondWithJSON(w, h.logger, http.StatusOK, createResponse{Status: statusDuplicate})
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, createResponse{ID: res.ID, Status: statusStored})
}

// Get returns one record.
// GET /logs/{id}
func (h *LogsHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.logs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.logger, "failed to get record", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, rec)
}

// List returns records, newest first.
// GET /logs?agent_id={agent}&channel={channel}&level={level}&skip={n}&limit={n}
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.RecordFilter{
		AgentID: q.Get("agent_id"),
		Channel: q.Get("channel"),
		Level:   q.Get("level"),
	}

	var err error
	if filter.Skip, err = queryInt(q.Get("skip"), "skip"); err != nil {
		respondError(w, h.logger, "invalid query", err)
		return
	}
	if filter.Limit, err = queryInt(q.Get("limit"), "limit"); err != nil {
		respondError(w, h.logger, "invalid query", err)
		return
	}

	records, err := h.logs.List(r.Context(), filter)
	if err != nil {
		respondError(w, h.logger, "failed to list records", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, records)
}

// Update applies a narrow patch.
// PUT /logs/{id}
func (h *LogsHandler) Update(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.read(w, r)
	if !ok {
		return
	}

	var patch domain.RecordPatch
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&patch); err != nil {
		respondError(w, h.logger, "invalid patch", &domain.SchemaError{Index: -1, Field: "body", Reason: err.Error()})
		return
	}

	if err := h.logs.Update(r.Context(), r.PathValue("id"), patch); err != nil {
		respondError(w, h.logger, "failed to update record", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, statusResponse{Status: "updated"})
}

// Delete removes one record.
// DELETE /logs/{id}
func (h *LogsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.logs.Delete(r.Context(), r.PathValue("id")); err != nil {
		respondError(w, h.logger, "failed to delete record", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, statusResponse{Status: "deleted"})
}

// Classify labels one agent record without storing it.
// POST /ml/classify
func (h *LogsHandler) Classify(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.read(w, r)
	if !ok {
		return
	}

	label, err := h.ingest.Classify(r.Context(), raw)
	if err != nil {
		respondError(w, h.logger, "classification failed", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, classifyResponse{Label: label})
}

func (h *LogsHandler) read(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if ct, ok := acceptsContentType(r, contentTypeJSON); !ok {
		unsupportedMediaType(w, h.logger, ct)
		return nil, false
	}
	raw, err := readBody(w, r, h.maxEventSize)
	if err != nil {
		respondError(w, h.logger, "failed to read request body", err)
		return nil, false
	}
	return raw, true
}

func queryInt(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &domain.SchemaError{Index: -1, Field: name, Reason: "must be an integer"}
	}
	return n, nil
}
