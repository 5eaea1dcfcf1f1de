package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"

	statusStored       = "log stored"
	statusDuplicate    = "log stored (duplicate ignored)"
	statusBulkStored   = "bulk stored"
	statusBroadcasted  = "broadcasted"
	statusPaused       = "paused"
	statusNoObservers  = "no observers"
	statusUndelivered  = "not delivered"
	statusStreamerPing = "streamer ready"
)

// IngestService is the ingestion pipeline as seen by the transport.
type IngestService interface {
	Create(ctx context.Context, raw []byte) (domain.InsertResult, error)
	Ingest(ctx context.Context, raw []byte) (domain.InsertResult, error)
	IngestBulk(ctx context.Context, raws []json.RawMessage) (domain.BulkInsertResult, error)
	IngestStream(ctx context.Context, raw []byte) (domain.BroadcastResult, error)
	Classify(ctx context.Context, raw []byte) (string, error)
}

// IngestLimits bounds request bodies.
type IngestLimits struct {
	MaxEventSize   int64
	MaxBulkSize    int64
	MaxBulkRecords int
}

// IngestHandler serves the agent facing ingest routes.
type IngestHandler struct {
	svc    IngestService
	logger *slog.Logger
	limits IngestLimits
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(svc IngestService, logger *slog.Logger, limits IngestLimits) *IngestHandler {
	return &IngestHandler{
		svc:    svc,
		logger: logger.With("component", "ingest_handler"),
		limits: limits,
	}
}

type bulkResponse struct {
	Status   string `json:"status"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
}

type streamResponse struct {
	Status    string `json:"status"`
	Delivered int    `json:"delivered"`
}

// Ping is the agent connectivity check.
// GET /logs/ping
func (h *IngestHandler) Ping(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, statusResponse{Status: "ok"})
}

// StreamPing is the streamer connectivity check.
// GET /streamer/ping
func (h *IngestHandler) StreamPing(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, statusResponse{Status: statusStreamerPing})
}

// Ingest validates, enriches and stores one record.
// POST /logs/ingest
func (h *IngestHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readSingle(w, r)
	if !ok {
		return
	}

	res, err := h.svc.Ingest(r.Context(), raw)
	if err != nil {
		respondError(w, h.logger, "failed to ingest record", err)
		return
	}

	status := statusStored
	if res.Duplicate {
		status = statusDuplicate
	}
	respondWithJSON(w, h.logger, http.StatusAccepted, statusResponse{Status: status})
}

// IngestBulk stores a batch sent as a JSON array or as NDJSON.
// POST /logs/ingest/bulk
func (h *IngestHandler) IngestBulk(w http.ResponseWriter, r *http.Request) {
	ct, ok := acceptsContentType(r, contentTypeJSON, contentTypeNDJSON)
	if !ok {
		unsupportedMediaType(w, h.logger, ct)
		return
	}
	body, err := readBody(w, r, h.limits.MaxBulkSize)
	if err != nil {
		respondError(w, h.logger, "failed to read request body", err)
		return
	}

	var raws []json.RawMessage
	if ct == contentTypeNDJSON {
		raws, err = splitNDJSON(body, h.limits.MaxEventSize)
	} else {
		raws, err = splitJSONArray(body)
	}
	if err != nil {
		respondError(w, h.logger, "failed to parse bulk body", err)
		return
	}
	if h.limits.MaxBulkRecords > 0 && len(raws) > h.limits.MaxBulkRecords {
		respondWithJSON(w, h.logger, http.StatusRequestEntityTooLarge, errorResponse{
			Error: fmt.Sprintf("batch of %d records exceeds the limit of %d", len(raws), h.limits.MaxBulkRecords),
		})
		return
	}

	res, err := h.svc.IngestBulk(r.Context(), raws)
	if err != nil {
		respondError(w, h.logger, "failed to ingest bulk batch", err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, bulkResponse{
		Status:   statusBulkStored,
		Inserted: res.InsertedCount(),
		Skipped:  res.Skipped,
	})
}

// IngestStream enriches one record and broadcasts it without storing it.
// POST /streamer/ingest
func (h *IngestHandler) IngestStream(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.readSingle(w, r)
	if !ok {
		return
	}

	res, err := h.svc.IngestStream(r.Context(), raw)
	if err != nil {
		respondError(w, h.logger, "streaming ingestion failed", err)
		return
	}

	status := statusBroadcasted
	switch {
	case res.Paused:
		status = statusPaused
	case res.Observers == 0:
		status = statusNoObservers
	case res.Delivered == 0:
		status = statusUndelivered
	}
	respondWithJSON(w, h.logger, http.StatusOK, streamResponse{Status: status, Delivered: res.Delivered})
}

func (h *IngestHandler) readSingle(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if ct, ok := acceptsContentType(r, contentTypeJSON); !ok {
		unsupportedMediaType(w, h.logger, ct)
		return nil, false
	}
	raw, err := readBody(w, r, h.limits.MaxEventSize)
	if err != nil {
		respondError(w, h.logger, "failed to read request body", err)
		return nil, false
	}
	return raw, true
}

func splitJSONArray(body []byte) ([]json.RawMessage, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, &domain.SchemaError{Index: -1, Field: "body", Reason: "expected a JSON array of records"}
	}
	return raws, nil
}

func splitNDJSON(body []byte, maxLine int64) ([]json.RawMessage, error) {
	var raws []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), int(maxLine))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		raws = append(raws, json.RawMessage(bytes.Clone(line)))
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.SchemaError{Index: len(raws), Field: "body", Reason: err.Error()}
	}
	return raws, nil
}
