package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentkernel/gateway/pkg/apierrors"
	"github.com/google/uuid"
)

// AgentWorker is the persisted record of one worker process backing an
// agent manifest (§4.6 C6 Worker Supervisor).
type AgentWorker struct {
	ID              string
	AgentName       string
	NodeID          string
	TrustLevel      string
	Runtime         string
	Status          string
	PID             sql.NullInt64
	RestartCount    int
	StartedAt       time.Time
	TerminatedAt    sql.NullTime
	LastHeartbeatAt sql.NullTime
	Metadata        map[string]any
}

// AgentWorkerRepo persists AgentWorker rows in the agent_workers table.
type AgentWorkerRepo struct {
	db *sql.DB
}

// NewAgentWorkerRepo creates a repository backed by db.
func NewAgentWorkerRepo(db *sql.DB) *AgentWorkerRepo {
	return &AgentWorkerRepo{db: db}
}

// Create inserts a new worker row and returns its generated ID.
func (r *AgentWorkerRepo) Create(ctx context.Context, w *AgentWorker) (string, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if w.ID == "" {
		w.ID = uuid.New().String()
	}

	metadata, err := marshalMetadata(w.Metadata)
	if err != nil {
		return "", fmt.Errorf("failed to marshal worker metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO agent_workers (id, agent_name, node_id, trust_level, runtime, status, pid, restart_count, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, w.AgentName, w.NodeID, w.TrustLevel, w.Runtime, w.Status, w.PID, w.RestartCount, metadata)
	if err != nil {
		return "", fmt.Errorf("failed to create agent worker: %w", err)
	}

	return w.ID, nil
}

// Get returns a worker by ID, or apierrors.ErrNotFound if no such row exists.
func (r *AgentWorkerRepo) Get(ctx context.Context, id string) (*AgentWorker, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, agent_name, node_id, trust_level, runtime, status, pid, restart_count,
		       started_at, terminated_at, last_heartbeat_at, metadata
		FROM agent_workers WHERE id = $1`, id)

	w, err := scanAgentWorker(row)
	if err != nil {
		return nil, wrapNotFound(err, "failed to get agent worker")
	}
	return w, nil
}

// ListByNode returns all non-terminated workers assigned to a node, used on
// cluster failover to identify orphaned workers (§4.9).
func (r *AgentWorkerRepo) ListByNode(ctx context.Context, nodeID string) ([]*AgentWorker, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, agent_name, node_id, trust_level, runtime, status, pid, restart_count,
		       started_at, terminated_at, last_heartbeat_at, metadata
		FROM agent_workers WHERE node_id = $1 AND status != 'terminated'
		ORDER BY started_at`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent workers for node %s: %w", nodeID, err)
	}
	defer rows.Close()

	var workers []*AgentWorker
	for rows.Next() {
		w, err := scanAgentWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent worker row: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// UpdateStatus transitions a worker's status and, for local runtime workers,
// its OS PID.
func (r *AgentWorkerRepo) UpdateStatus(ctx context.Context, id, status string, pid sql.NullInt64) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE agent_workers SET status = $1, pid = $2 WHERE id = $3`, status, pid, id)
	if err != nil {
		return fmt.Errorf("failed to update agent worker status: %w", err)
	}
	return checkRowsAffected(res)
}

// RecordHeartbeat stamps last_heartbeat_at for liveness tracking.
func (r *AgentWorkerRepo) RecordHeartbeat(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE agent_workers SET last_heartbeat_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to record agent worker heartbeat: %w", err)
	}
	return checkRowsAffected(res)
}

// IncrementRestartCount bumps the restart counter, used by the worker
// supervisor's backoff policy to decide when to give up (§4.6).
func (r *AgentWorkerRepo) IncrementRestartCount(ctx context.Context, id string) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int
	err := r.db.QueryRowContext(ctx,
		`UPDATE agent_workers SET restart_count = restart_count + 1 WHERE id = $1 RETURNING restart_count`,
		id).Scan(&count)
	if err != nil {
		return 0, wrapNotFound(err, "failed to increment agent worker restart count")
	}
	return count, nil
}

// MarkTerminated records terminal status and terminated_at timestamp.
func (r *AgentWorkerRepo) MarkTerminated(ctx context.Context, id, status string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE agent_workers SET status = $1, terminated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to mark agent worker terminated: %w", err)
	}
	return checkRowsAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentWorker(row rowScanner) (*AgentWorker, error) {
	var w AgentWorker
	var metadata []byte
	if err := row.Scan(&w.ID, &w.AgentName, &w.NodeID, &w.TrustLevel, &w.Runtime, &w.Status,
		&w.PID, &w.RestartCount, &w.StartedAt, &w.TerminatedAt, &w.LastHeartbeatAt, &metadata); err != nil {
		return nil, err
	}
	meta, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal worker metadata: %w", err)
	}
	w.Metadata = meta
	return &w, nil
}

func marshalMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return json.Marshal(m)
}

func unmarshalMetadata(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to determine rows affected: %w", err)
	}
	if n == 0 {
		return apierrors.ErrNotFound
	}
	return nil
}
