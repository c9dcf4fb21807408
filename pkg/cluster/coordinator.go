// Package cluster implements the Cluster Coordinator (C9, §4.9): Postgres
// advisory-lock leader election across gateway replicas, a node registry kept
// fresh by periodic heartbeats, and a cross-node task forwarder so a client
// connected to one node can still reach an agent spawned on another.
package cluster

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/gateway/pkg/config"
	"github.com/agentkernel/gateway/pkg/store"
	"github.com/agentkernel/gateway/pkg/wire"
)

// lockObjectID is the second key of the two-int32 pg_try_advisory_lock
// form. There is exactly one leadership seat per cluster, so this is fixed;
// AdvisoryLockKey namespaces it so unrelated clusters sharing a database
// don't collide.
const lockObjectID = 1

// NodeRegistry persists cluster membership. Implemented by *store.GatewayNodeRepo.
type NodeRegistry interface {
	Upsert(ctx context.Context, nodeID string, isLeader bool, internalURL string) error
	SetLeader(ctx context.Context, nodeID string, isLeader bool) error
	List(ctx context.Context) ([]*store.GatewayNode, error)
	DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Coordinator holds the dedicated connection an advisory lock is scoped to,
// runs the heartbeat/lease-renewal loop, and forwards tasks to peer nodes.
type Coordinator struct {
	cfg         config.ClusterConfig
	nodeID      string
	internalURL string
	lockKey     int32

	nodes  NodeRegistry
	conn   *sql.Conn
	logger *slog.Logger

	isLeader atomic.Bool
	forwarder *Forwarder
}

// New creates a Coordinator. internalURL is the ws(s):// address peers use
// to reach this node's internal forwarding endpoint (§4.9, §6
// {internal, internalToken}); it is stored in the node registry so other
// nodes can discover it. db must be the same pool store.GatewayNodeRepo was
// built from — New reserves one dedicated connection from it for the
// session-scoped advisory lock.
func New(cfg config.ClusterConfig, db *sql.DB, nodes NodeRegistry, internalURL string, internalToken string, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	conn, err := db.Conn(context.Background())
	if err != nil {
		return nil, fmt.Errorf("cluster: failed to reserve advisory-lock connection: %w", err)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(cfg.AdvisoryLockKey))

	return &Coordinator{
		cfg:         cfg,
		nodeID:      nodeID,
		internalURL: internalURL,
		lockKey:     int32(h.Sum32()),
		nodes:       nodes,
		conn:        conn,
		logger:      logger.With("component", "cluster", "nodeId", nodeID),
		forwarder:   NewForwarder(nodeID, internalToken, nodes, logger),
	}, nil
}

// LocalNodeID implements taskrouter.ClusterForwarder.
func (c *Coordinator) LocalNodeID() string {
	return c.nodeID
}

// Forward implements taskrouter.ClusterForwarder by dialing the owning
// node's internal WebSocket endpoint.
func (c *Coordinator) Forward(ctx context.Context, nodeID string, task wire.TaskPayload) (wire.TaskResult, error) {
	return c.forwarder.Forward(ctx, nodeID, task)
}

// IsLeader reports whether this node currently holds the advisory lock.
func (c *Coordinator) IsLeader() bool {
	return c.isLeader.Load()
}

// Run drives the heartbeat and leader-election loop until ctx is canceled.
// It registers the node immediately so peers see it before the first tick.
func (c *Coordinator) Run(ctx context.Context) {
	if err := c.nodes.Upsert(ctx, c.nodeID, false, c.internalURL); err != nil {
		c.logger.Error("initial node registration failed", "error", err)
	}
	c.tryAcquire(ctx)

	heartbeat := time.NewTicker(c.cfg.HeartbeatInterval)
	lease := time.NewTicker(c.cfg.LeaderLeaseInterval)
	defer heartbeat.Stop()
	defer lease.Stop()

	for {
		select {
		case <-ctx.Done():
			c.release(context.Background())
			return
		case <-heartbeat.C:
			if err := c.nodes.Upsert(ctx, c.nodeID, c.IsLeader(), c.internalURL); err != nil {
				c.logger.Error("heartbeat failed", "error", err)
			}
			if _, err := c.nodes.DeleteStale(ctx, c.cfg.NodeStaleThreshold); err != nil {
				c.logger.Error("stale node sweep failed", "error", err)
			}
		case <-lease.C:
			c.tryAcquire(ctx)
		}
	}
}

// tryAcquire attempts (or, if already held, simply confirms) leadership.
// pg_try_advisory_lock is idempotent for a connection that already holds
// the lock, so re-calling it on every lease tick is a renewal, not a risk
// of self-deadlock.
func (c *Coordinator) tryAcquire(ctx context.Context) {
	var acquired bool
	row := c.conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1, $2)`, c.lockKey, lockObjectID)
	if err := row.Scan(&acquired); err != nil {
		c.logger.Error("advisory lock attempt failed", "error", err)
		return
	}
	was := c.isLeader.Swap(acquired)
	if acquired && !was {
		c.logger.Info("acquired cluster leadership")
	} else if !acquired && was {
		c.logger.Warn("lost cluster leadership")
	}
	if err := c.nodes.SetLeader(ctx, c.nodeID, acquired); err != nil {
		c.logger.Error("failed to persist leader flag", "error", err)
	}
}

func (c *Coordinator) release(ctx context.Context) {
	if !c.isLeader.Load() {
		return
	}
	var released bool
	row := c.conn.QueryRowContext(ctx, `SELECT pg_advisory_unlock($1, $2)`, c.lockKey, lockObjectID)
	if err := row.Scan(&released); err != nil {
		c.logger.Error("advisory unlock failed", "error", err)
	}
	c.isLeader.Store(false)
}

// Close releases the reserved connection. The advisory lock is released
// automatically by Postgres when the session backing conn ends, even if
// Close is called without Run ever observing ctx cancellation.
func (c *Coordinator) Close() error {
	return c.conn.Close()
}
