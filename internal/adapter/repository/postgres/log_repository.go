package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/V4T54L/scanalyzer/internal/domain"
)

const (
	logsTableName   = "logs"
	importTableName = "logs_import"
)

// insertColumns is the column order used by every insert path.
var insertColumns = []string{
	"id", "client_id", "agent_id", "record_id", "ts", "channel", "event_id",
	"provider", "event_host", "user_sid", "level", "level_code", "message",
	"description", "ai_classification", "alert", "triggered",
}

var selectColumns = strings.Join(insertColumns, ", ")

// LogRepository implements domain.RecordStore on PostgreSQL. Deduplication
// is left to the logs_natural_key unique constraint, so concurrent inserts of
// the same natural key leave exactly one row.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
	newID  func() string
}

// NewLogRepository creates a new PostgreSQL log repository.
func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{
		db:     db,
		logger: logger.With("component", "postgres_log_repository"),
		newID:  uuid.NewString,
	}
}

// InsertOne stores rec unless its natural key already exists.
func (r *LogRepository) InsertOne(ctx context.Context, rec domain.EnrichedRecord) (domain.InsertResult, error) {
	query := `INSERT INTO ` + logsTableName + ` (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (agent_id, record_id) DO NOTHING
		RETURNING id`

	var id string
	err := r.db.QueryRowContext(ctx, query, insertArgs(r.newID(), rec)...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InsertResult{Duplicate: true}, nil
	}
	if err != nil {
		return domain.InsertResult{}, &domain.PersistenceError{Op: "insert_one", Err: err}
	}
	return domain.InsertResult{ID: id}, nil
}

// InsertMany writes a batch using the COPY protocol into a staging table and
// merges it into logs. Rows whose natural key already exists, or repeats an
// earlier row of the same batch, are skipped. Inserted records are returned
// in input order.
func (r *LogRepository) InsertMany(ctx context.Context, records []domain.EnrichedRecord) (domain.BulkInsertResult, error) {
	if len(records) == 0 {
		return domain.BulkInsertResult{}, nil
	}

	ids := make([]string, len(records))
	index := make(map[string]int, len(records))
	for i := range records {
		ids[i] = r.newID()
		index[ids[i]] = i
	}

	inserted, err := r.copyAndMerge(ctx, records, ids)
	if err != nil {
		return domain.BulkInsertResult{}, &domain.PersistenceError{Op: "insert_many", Err: err}
	}

	positions := make([]int, 0, len(inserted))
	for _, id := range inserted {
		if i, ok := index[id]; ok {
			positions = append(positions, i)
		}
	}
	sort.Ints(positions)

	res := domain.BulkInsertResult{
		Inserted: make([]domain.PersistedRecord, len(positions)),
		Skipped:  len(records) - len(positions),
	}
	for n, i := range positions {
		res.Inserted[n] = domain.PersistedRecord{ID: ids[i], EnrichedRecord: records[i]}
	}
	return res, nil
}

func (r *LogRepository) copyAndMerge(ctx context.Context, records []domain.EnrichedRecord, ids []string) ([]string, error) {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer txn.Rollback() // Rollback is a no-op if Commit() is called

	// Stage the batch with its input position, then merge. DISTINCT ON keeps
	// the first occurrence of a natural key repeated within the batch.
	_, err = txn.ExecContext(ctx, `CREATE TEMP TABLE `+importTableName+` (ord INTEGER NOT NULL, LIKE `+logsTableName+` INCLUDING DEFAULTS) ON COMMIT DROP`)
	if err != nil {
		return nil, fmt.Errorf("create staging table: %w", err)
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn(importTableName, append([]string{"ord"}, insertColumns...)...))
	if err != nil {
		return nil, fmt.Errorf("prepare copy: %w", err)
	}

	for i, rec := range records {
		args := append([]any{i}, insertArgs(ids[i], rec)...)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			// Close the statement to avoid connection issues
			_ = stmt.Close()
			return nil, fmt.Errorf("copy record %d: %w", i, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()
		return nil, fmt.Errorf("flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return nil, fmt.Errorf("close copy: %w", err)
	}

	mergeQuery := `
		INSERT INTO ` + logsTableName + ` (` + selectColumns + `)
		SELECT DISTINCT ON (agent_id, record_id) ` + selectColumns + `
		FROM ` + importTableName + `
		ORDER BY agent_id, record_id, ord
		ON CONFLICT (agent_id, record_id) DO NOTHING
		RETURNING id`
	rows, err := txn.QueryContext(ctx, mergeQuery)
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	defer rows.Close()

	var inserted []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inserted id: %w", err)
		}
		inserted = append(inserted, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("merge rows: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close merge rows: %w", err)
	}

	if err := txn.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// GetByID returns the record with the given identity.
func (r *LogRepository) GetByID(ctx context.Context, id string) (*domain.PersistedRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM `+logsTableName+` WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.PersistenceError{Op: "get", Err: err}
	}
	return rec, nil
}

// List returns records matching filter, newest first.
func (r *LogRepository) List(ctx context.Context, filter domain.RecordFilter) ([]domain.PersistedRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("agent_id", filter.AgentID)
	add("channel", filter.Channel)
	add("level", filter.Level)

	query := `SELECT ` + selectColumns + ` FROM ` + logsTableName
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Skip)
	query += fmt.Sprintf(` ORDER BY ts DESC, id LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	records := make([]domain.PersistedRecord, 0, filter.Limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list", Err: err}
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list", Err: err}
	}
	return records, nil
}

// Update applies patch; nil fields keep their stored value.
func (r *LogRepository) Update(ctx context.Context, id string, patch domain.RecordPatch) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	query := `UPDATE ` + logsTableName + ` SET
		level = COALESCE($2, level),
		alert = COALESCE($3, alert),
		ai_classification = COALESCE($4, ai_classification),
		triggered = COALESCE($5, triggered)
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, patch.Level, patch.Alert, patch.AIClassification, patch.Trigger)
	if err != nil {
		return &domain.PersistenceError{Op: "update", Err: err}
	}
	return expectAffected(res, "update")
}

// Delete removes the record with the given identity.
func (r *LogRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM `+logsTableName+` WHERE id = $1`, id)
	if err != nil {
		return &domain.PersistenceError{Op: "delete", Err: err}
	}
	return expectAffected(res, "delete")
}

func expectAffected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &domain.PersistenceError{Op: op, Err: err}
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func insertArgs(id string, rec domain.EnrichedRecord) []any {
	message := rec.Message
	if message == nil {
		message = []string{}
	}
	return []any{
		id,
		nullString(rec.ClientID),
		rec.AgentID,
		rec.RecordID,
		rec.Timestamp.UTC(),
		rec.Channel,
		rec.EventID,
		rec.Provider,
		rec.EventHost,
		nullString(rec.UserSID),
		nullString(rec.Level),
		rec.LevelCode,
		pq.Array(message),
		rec.Description,
		rec.AIClassification,
		rec.Alert,
		rec.Trigger,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*domain.PersistedRecord, error) {
	var (
		rec                      domain.PersistedRecord
		clientID, userSID, level sql.NullString
		message                  pq.StringArray
	)
	err := s.Scan(
		&rec.ID, &clientID, &rec.AgentID, &rec.RecordID, &rec.Timestamp, &rec.Channel, &rec.EventID,
		&rec.Provider, &rec.EventHost, &userSID, &level, &rec.LevelCode, &message,
		&rec.Description, &rec.AIClassification, &rec.Alert, &rec.Trigger,
	)
	if err != nil {
		return nil, err
	}
	rec.ClientID = clientID.String
	rec.UserSID = userSID.String
	rec.Level = level.String
	rec.Message = []string(message)
	if rec.Message == nil {
		rec.Message = []string{}
	}
	rec.Timestamp = rec.Timestamp.UTC()
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
