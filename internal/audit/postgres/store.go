package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/kpilens/kpilens/internal/audit"
)

const (
	auditTable   = "ask_audit"
	defaultLimit = 50
	maxLimit     = 500
)

var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var auditColumns = []string{
	"id", "trace_id", "operation", "question", "outcome_kind", "reject_kind",
	"attempts", "row_count", "generation_ms", "execution_ms", "duration_ms", "created_at",
}

// Store keeps audit entries in the ask_audit table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Record(ctx context.Context, entry audit.Entry) error {
	query, args, err := psq.Insert(auditTable).
		Columns(auditColumns...).
		Values(
			entry.ID,
			entry.TraceID,
			string(entry.Operation),
			entry.Question,
			entry.OutcomeKind,
			entry.RejectKind,
			entry.Attempts,
			entry.RowCount,
			entry.GenerationMS,
			entry.ExecutionMS,
			entry.DurationMS,
			entry.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	qb := psq.Select(auditColumns...).From(auditTable)
	if filter.OutcomeKind != "" {
		qb = qb.Where(sq.Eq{"outcome_kind": filter.OutcomeKind})
	}
	if filter.Since != nil {
		qb = qb.Where(sq.GtOrEq{"created_at": *filter.Since})
	}
	qb = qb.OrderBy("created_at DESC").Limit(uint64(clampLimit(filter.Limit)))

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]audit.Entry, 0, clampLimit(filter.Limit))
	for rows.Next() {
		var entry audit.Entry
		var operation string
		if err := rows.Scan(
			&entry.ID,
			&entry.TraceID,
			&operation,
			&entry.Question,
			&entry.OutcomeKind,
			&entry.RejectKind,
			&entry.Attempts,
			&entry.RowCount,
			&entry.GenerationMS,
			&entry.ExecutionMS,
			&entry.DurationMS,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entry.Operation = audit.Operation(operation)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit rows: %w", err)
	}
	return entries, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
