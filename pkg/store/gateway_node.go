package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GatewayNode is one cluster node's membership row (§4.9 C9 Cluster Coordinator).
// is_leader reflects the last-known outcome of pg_try_advisory_lock; it is a
// diagnostic cache, not the source of truth — the advisory lock itself is.
type GatewayNode struct {
	NodeID          string
	IsLeader        bool
	InternalURL     string
	StartedAt       time.Time
	LastHeartbeatAt time.Time
}

// GatewayNodeRepo persists GatewayNode rows in the gateway_nodes table.
type GatewayNodeRepo struct {
	db *sql.DB
}

// NewGatewayNodeRepo creates a repository backed by db.
func NewGatewayNodeRepo(db *sql.DB) *GatewayNodeRepo {
	return &GatewayNodeRepo{db: db}
}

// Upsert registers a node or refreshes its heartbeat, leader flag, and the
// internal URL peers use to forward cross-node tasks to it (§4.9).
func (r *GatewayNodeRepo) Upsert(ctx context.Context, nodeID string, isLeader bool, internalURL string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	metadata, err := marshalMetadata(map[string]any{"internal_url": internalURL})
	if err != nil {
		return fmt.Errorf("failed to marshal gateway node metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO gateway_nodes (node_id, is_leader, last_heartbeat_at, metadata)
		VALUES ($1, $2, now(), $3)
		ON CONFLICT (node_id) DO UPDATE SET is_leader = $2, last_heartbeat_at = now(), metadata = $3`,
		nodeID, isLeader, metadata)
	if err != nil {
		return fmt.Errorf("failed to upsert gateway node %s: %w", nodeID, err)
	}
	return nil
}

// SetLeader updates only the is_leader flag for a node, called after an
// advisory lock acquisition or release (§4.9).
func (r *GatewayNodeRepo) SetLeader(ctx context.Context, nodeID string, isLeader bool) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx,
		`UPDATE gateway_nodes SET is_leader = $1 WHERE node_id = $2`, isLeader, nodeID)
	if err != nil {
		return fmt.Errorf("failed to set leader flag for node %s: %w", nodeID, err)
	}
	return nil
}

// List returns all known nodes, most recently started first.
func (r *GatewayNodeRepo) List(ctx context.Context) ([]*GatewayNode, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, is_leader, started_at, last_heartbeat_at, metadata
		FROM gateway_nodes ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateway nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*GatewayNode
	for rows.Next() {
		var n GatewayNode
		var metadata []byte
		if err := rows.Scan(&n.NodeID, &n.IsLeader, &n.StartedAt, &n.LastHeartbeatAt, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan gateway node row: %w", err)
		}
		m, err := unmarshalMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal gateway node metadata: %w", err)
		}
		if url, ok := m["internal_url"].(string); ok {
			n.InternalURL = url
		}
		nodes = append(nodes, &n)
	}
	return nodes, rows.Err()
}

// DeleteStale removes nodes whose last heartbeat is older than the given
// threshold, used by the degradation/cleanup path to prune dead peers.
func (r *GatewayNodeRepo) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM gateway_nodes WHERE last_heartbeat_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale gateway nodes: %w", err)
	}
	return res.RowsAffected()
}
