package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

// APIKeyHeader carries the agent credential.
const APIKeyHeader = "X-API-Key"

// Auth rejects agent requests whose X-API-Key is missing or unknown to repo.
// A failing lookup is a server error, not a rejection.
func Auth(repo domain.APIKeyRepository, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With("component", "auth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				logger.Warn("API key missing from request", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				deny(w, http.StatusUnauthorized, "API key required")
				return
			}

			valid, err := repo.IsValid(r.Context(), key)
			switch {
			case err != nil:
				logger.Error("Failed to validate API key", "error", err)
				deny(w, http.StatusInternalServerError, "could not validate API key")
			case !valid:
				logger.Warn("Invalid API key provided", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				deny(w, http.StatusUnauthorized, "invalid API key")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
