package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
	Index *int   `json:"index,omitempty"`
	Field string `json:"field,omitempty"`
}

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondError maps the domain error taxonomy to an HTTP status. Caller
// errors carry their detail; server errors are logged and reported
// generically.
func respondError(w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	var (
		schemaErr *domain.SchemaError
		maxErr    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &maxErr):
		respondWithJSON(w, logger, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload too large"})
	case errors.As(err, &schemaErr):
		resp := errorResponse{Error: schemaErr.Error(), Field: schemaErr.Field}
		if schemaErr.Index >= 0 {
			idx := schemaErr.Index
			resp.Index = &idx
		}
		respondWithJSON(w, logger, http.StatusBadRequest, resp)
	case domain.IsClientError(err):
		respondWithJSON(w, logger, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		respondWithJSON(w, logger, http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		logger.Error(msg, "error", err)
		respondWithJSON(w, logger, http.StatusInternalServerError, errorResponse{Error: msg})
	}
}

// readBody reads at most limit bytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
}

// acceptsContentType reports whether the request media type is one of want.
// A missing Content-Type is accepted.
func acceptsContentType(r *http.Request, want ...string) (string, bool) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return "", true
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ct, false
	}
	for _, w := range want {
		if mediaType == w {
			return mediaType, true
		}
	}
	return mediaType, false
}

func unsupportedMediaType(w http.ResponseWriter, logger *slog.Logger, ct string) {
	respondWithJSON(w, logger, http.StatusUnsupportedMediaType, errorResponse{Error: "unsupported media type: " + ct})
}
