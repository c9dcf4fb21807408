package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuditEntry is one row of the append-only audit log (§4.3 C3 Audit Log).
type AuditEntry struct {
	ID           int64
	OccurredAt   time.Time
	NodeID       string
	AgentName    sql.NullString
	Actor        string
	Action       string
	Resource     sql.NullString
	Decision     string
	RuleName     sql.NullString
	Detail       map[string]any
	DetailMasked bool
}

// AuditLogRepo persists AuditEntry rows. Callers needing the hot-path query
// surface should go through pkg/audit's in-memory ring buffer; this
// repository is the durable backing store it flushes to.
type AuditLogRepo struct {
	db *sql.DB
}

// NewAuditLogRepo creates a repository backed by db.
func NewAuditLogRepo(db *sql.DB) *AuditLogRepo {
	return &AuditLogRepo{db: db}
}

// Append inserts a single audit entry and returns its generated ID.
func (r *AuditLogRepo) Append(ctx context.Context, e *AuditEntry) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	detail, err := marshalMetadata(e.Detail)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal audit detail: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO audit_log (node_id, agent_name, actor, action, resource, decision, rule_name, detail, detail_masked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		e.NodeID, e.AgentName, e.Actor, e.Action, e.Resource, e.Decision, e.RuleName, detail, e.DetailMasked,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return id, nil
}

// AppendBatch inserts multiple audit entries in a single round trip, used by
// the audit ring buffer's periodic flush() (§4.3).
func (r *AuditLogRepo) AppendBatch(ctx context.Context, entries []*AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit batch transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_log (node_id, agent_name, actor, action, resource, decision, rule_name, detail, detail_masked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit batch insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range entries {
		detail, err := marshalMetadata(e.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal audit detail: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, e.NodeID, e.AgentName, e.Actor, e.Action, e.Resource,
			e.Decision, e.RuleName, detail, e.DetailMasked); err != nil {
			return fmt.Errorf("failed to append audit batch entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit batch: %w", err)
	}
	return nil
}

// Query lists audit entries matching the given filter, newest first,
// bounded by limit.
type AuditQuery struct {
	AgentName string
	Decision  string
	Since     time.Time
	Limit     int
}

// Query returns audit entries matching q. Zero-valued fields are treated as
// unfiltered.
func (r *AuditLogRepo) Query(ctx context.Context, q AuditQuery) ([]*AuditEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, occurred_at, node_id, agent_name, actor, action, resource, decision, rule_name, detail, detail_masked
		FROM audit_log
		WHERE ($1 = '' OR agent_name = $1)
		  AND ($2 = '' OR decision = $2)
		  AND ($3::timestamptz IS NULL OR occurred_at >= $3)
		ORDER BY occurred_at DESC
		LIMIT $4`,
		q.AgentName, q.Decision, nullableTime(q.Since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteOlderThan removes audit entries past the retention window
// (pkg/config.RetentionConfig.AuditLogRetentionDays).
func (r *AuditLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM audit_log WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit entries: %w", err)
	}
	return res.RowsAffected()
}

func scanAuditEntry(row rowScanner) (*AuditEntry, error) {
	var e AuditEntry
	var detail []byte
	if err := row.Scan(&e.ID, &e.OccurredAt, &e.NodeID, &e.AgentName, &e.Actor, &e.Action,
		&e.Resource, &e.Decision, &e.RuleName, &detail, &e.DetailMasked); err != nil {
		return nil, err
	}
	m, err := unmarshalMetadata(detail)
	if err != nil {
		return nil, err
	}
	e.Detail = m
	return &e, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
