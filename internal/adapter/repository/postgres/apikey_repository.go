package postgres

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/V4T54L/scanalyzer/internal/adapter/metrics"
)

type cacheEntry struct {
	isValid   bool
	expiresAt time.Time
}

// APIKeyRepository implements domain.APIKeyRepository. Statically configured
// keys are accepted without I/O; when a database is attached, other keys are
// looked up in api_keys through an in-memory, time-based cache.
type APIKeyRepository struct {
	static   []string
	db       *sql.DB
	logger   *slog.Logger
	cache    map[string]cacheEntry
	mu       sync.RWMutex
	cacheTTL time.Duration
	metrics  *metrics.IngestMetrics
}

// NewAPIKeyRepository creates an API key repository. db may be nil, in which
// case only the static keys are valid.
func NewAPIKeyRepository(static []string, db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.IngestMetrics) *APIKeyRepository {
	keys := make([]string, 0, len(static))
	for _, k := range static {
		if k != "" {
			keys = append(keys, k)
		}
	}
	return &APIKeyRepository{
		static:   keys,
		db:       db,
		logger:   logger.With("component", "api_key_repository"),
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
		metrics:  m,
	}
}

// IsValid checks if an API key is valid.
func (r *APIKeyRepository) IsValid(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	for _, k := range r.static {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true, nil
		}
	}
	if r.db == nil {
		return false, nil
	}

	r.mu.RLock()
	entry, found := r.cache[key]
	r.mu.RUnlock()

	if found && time.Now().Before(entry.expiresAt) {
		if r.metrics != nil {
			r.metrics.APIKeyCacheHits.Inc()
		}
		return entry.isValid, nil
	}

	if r.metrics != nil {
		r.metrics.APIKeyCacheMisses.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have populated the entry while we waited.
	entry, found = r.cache[key]
	if found && time.Now().Before(entry.expiresAt) {
		return entry.isValid, nil
	}

	// A key is valid if it exists, is active, and has not expired.
	var isValid bool
	query := `SELECT EXISTS(SELECT 1 FROM api_keys WHERE key = $1 AND is_active = true AND (expires_at IS NULL OR expires_at > NOW()))`
	if err := r.db.QueryRowContext(ctx, query, key).Scan(&isValid); err != nil {
		r.logger.Error("failed to validate API key in database", "error", err)
		// Errors are not cached; the next request retries the database.
		return false, err
	}

	r.cache[key] = cacheEntry{
		isValid:   isValid,
		expiresAt: time.Now().Add(r.cacheTTL),
	}
	return isValid, nil
}
