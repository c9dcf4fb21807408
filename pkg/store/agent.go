package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agentkernel/gateway/pkg/state"
)

// AgentRepo persists agent lifecycle snapshots in the agents table (§6),
// distinct from AgentWorkerRepo's agent_workers rows (one per worker
// process). Implements taskrouter.StatePersister.
type AgentRepo struct {
	db *sql.DB
}

// NewAgentRepo creates a repository backed by db.
func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

// UpsertAgent writes the latest snapshot of one agent, so a new client
// sees consistent initial state after an agent.state.changed broadcast it
// missed (§4.8).
func (r *AgentRepo) UpsertAgent(ctx context.Context, snap state.AgentSnapshot) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metadata, err := marshalMetadata(nil)
	if err != nil {
		return fmt.Errorf("failed to marshal agent metadata: %w", err)
	}

	var terminatedAt sql.NullTime
	if !snap.TerminatedAt.IsZero() {
		terminatedAt = sql.NullTime{Time: snap.TerminatedAt, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, state, created_at, node_id, metadata, total_input_tokens, total_output_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			total_input_tokens = EXCLUDED.total_input_tokens,
			total_output_tokens = EXCLUDED.total_output_tokens`,
		snap.ID, snap.Name, string(snap.Status), snap.CreatedAt, snap.NodeID, metadata,
		snap.TotalInputTokens, snap.TotalOutputTokens)
	if err != nil {
		return fmt.Errorf("failed to upsert agent %s: %w", snap.ID, err)
	}

	if terminatedAt.Valid {
		if _, err := r.db.ExecContext(ctx, `UPDATE agents SET deleted_at = $1 WHERE id = $2 AND state = 'terminated'`,
			terminatedAt.Time, snap.ID); err != nil {
			return fmt.Errorf("failed to mark agent %s deleted: %w", snap.ID, err)
		}
	}
	return nil
}

// Get returns one agent's persisted snapshot.
func (r *AgentRepo) Get(ctx context.Context, id string) (*state.AgentSnapshot, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, state, created_at, node_id, total_input_tokens, total_output_tokens
		FROM agents WHERE id = $1`, id)

	var snap state.AgentSnapshot
	var status string
	if err := row.Scan(&snap.ID, &snap.Name, &status, &snap.CreatedAt, &snap.NodeID,
		&snap.TotalInputTokens, &snap.TotalOutputTokens); err != nil {
		return nil, wrapNotFound(err, "failed to get agent")
	}
	snap.Status = state.AgentStatus(status)
	return &snap, nil
}

// ListActive returns every agent not yet soft-deleted, used to rehydrate
// the in-memory registry after a gateway restart.
func (r *AgentRepo) ListActive(ctx context.Context) ([]*state.AgentSnapshot, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, state, created_at, node_id, total_input_tokens, total_output_tokens
		FROM agents WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active agents: %w", err)
	}
	defer rows.Close()

	var out []*state.AgentSnapshot
	for rows.Next() {
		var snap state.AgentSnapshot
		var status string
		if err := rows.Scan(&snap.ID, &snap.Name, &status, &snap.CreatedAt, &snap.NodeID,
			&snap.TotalInputTokens, &snap.TotalOutputTokens); err != nil {
			return nil, fmt.Errorf("failed to scan agent row: %w", err)
		}
		snap.Status = state.AgentStatus(status)
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// PurgeTerminated permanently removes agent rows soft-deleted more than
// olderThan ago (pkg/config.RetentionConfig.TerminatedAgentTTL).
func (r *AgentRepo) PurgeTerminated(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM agents WHERE deleted_at IS NOT NULL AND deleted_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge terminated agents: %w", err)
	}
	return res.RowsAffected()
}
