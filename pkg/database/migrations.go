package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These enable efficient full-text search over audit log detail payloads
// (§4.3 audit query support). Not expressed as a plain migration because
// the expression index depends on a cast that's easiest to keep alongside
// the code that queries it.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_detail_gin
		ON audit_log USING gin(to_tsvector('english', detail::text))`)
	if err != nil {
		return fmt.Errorf("failed to create audit_log detail GIN index: %w", err)
	}

	return nil
}

// CreatePartialUniqueIndexes creates partial unique indexes that encode
// invariants the application also enforces at the Postgres advisory-lock
// layer (C9). The index is a belt-and-braces backstop, not the primary
// mechanism — leader election is decided by pg_try_advisory_lock.
func CreatePartialUniqueIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_gateway_nodes_single_leader
		ON gateway_nodes (is_leader) WHERE is_leader`)
	if err != nil {
		return fmt.Errorf("failed to create single-leader partial unique index: %w", err)
	}

	return nil
}
