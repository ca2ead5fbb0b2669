package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	audit "trustkit/pkg/platform/audit"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Schema creates the audit table. Entries are append-only; retention pruning
// is the only delete path.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id          UUID PRIMARY KEY,
	category    TEXT NOT NULL,
	timestamp   TIMESTAMPTZ NOT NULL,
	operation   TEXT NOT NULL,
	subject     TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	request_id  TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_entries_timestamp_idx ON audit_entries (timestamp DESC);
CREATE INDEX IF NOT EXISTS audit_entries_subject_idx ON audit_entries (subject);
`

// Store implements audit.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

// Append inserts an entry. Duplicate IDs are ignored so replays are idempotent.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	entryID, err := uuid.Parse(entry.ID)
	if err != nil {
		entryID = uuid.New()
	}

	query := `
		INSERT INTO audit_entries (
			id, category, timestamp, operation, subject,
			outcome, reason, request_id, actor
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		entryID,
		string(entry.Category()),
		entry.Timestamp,
		string(entry.Operation),
		entry.Subject,
		string(entry.Outcome),
		entry.Reason,
		entry.RequestID,
		entry.Actor,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query returns matching entries, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	query, args := buildQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteBefore removes entries older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	return int(n), nil
}

func buildQuery(filter audit.Filter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if len(filter.Operations) > 0 {
		ops := make([]string, len(filter.Operations))
		for i, op := range filter.Operations {
			ops[i] = string(op)
		}
		add("operation = ANY($%d)", pq.Array(ops))
	}
	if filter.Subject != "" {
		add("subject = $%d", filter.Subject)
	}
	if filter.Outcome != "" {
		add("outcome = $%d", string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		add("timestamp >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("timestamp < $%d", filter.Until)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, timestamp, operation, subject, outcome, reason, request_id, actor FROM audit_entries`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY timestamp DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry

	for rows.Next() {
		var (
			entry     audit.Entry
			entryID   uuid.UUID
			operation string
			outcome   string
		)
		err := rows.Scan(
			&entryID,
			&entry.Timestamp,
			&operation,
			&entry.Subject,
			&outcome,
			&entry.Reason,
			&entry.RequestID,
			&entry.Actor,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ID = entryID.String()
		entry.Operation = audit.Operation(operation)
		entry.Outcome = audit.Outcome(outcome)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
