package cluster

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/agentkernel/gateway/pkg/config"
	"github.com/agentkernel/gateway/pkg/database"
	"github.com/agentkernel/gateway/pkg/store"
)

func newTestClusterDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.RunMigrations(ctx, db, "test"))
	return db
}

func testClusterConfig() config.ClusterConfig {
	return config.ClusterConfig{
		AdvisoryLockKey:     "test-cluster",
		LeaderLeaseInterval: time.Second,
		HeartbeatInterval:   time.Second,
		NodeStaleThreshold:  30 * time.Second,
	}
}

func TestCoordinator_OnlyOneLeaderAcrossTwoNodes(t *testing.T) {
	db := newTestClusterDB(t)
	nodes := store.NewGatewayNodeRepo(db)
	ctx := context.Background()

	cfgA := testClusterConfig()
	cfgA.NodeID = "node-a"
	a, err := New(cfgA, db, nodes, "ws://node-a/internal", "tok", nil)
	require.NoError(t, err)
	defer a.Close()

	cfgB := testClusterConfig()
	cfgB.NodeID = "node-b"
	b, err := New(cfgB, db, nodes, "ws://node-b/internal", "tok", nil)
	require.NoError(t, err)
	defer b.Close()

	a.tryAcquire(ctx)
	b.tryAcquire(ctx)

	assert.NotEqual(t, a.IsLeader(), b.IsLeader(), "exactly one of the two nodes must hold leadership")
	assert.True(t, a.IsLeader() || b.IsLeader())
}

func TestCoordinator_LeadershipHandsOffOnRelease(t *testing.T) {
	db := newTestClusterDB(t)
	nodes := store.NewGatewayNodeRepo(db)
	ctx := context.Background()

	cfgA := testClusterConfig()
	cfgA.NodeID = "node-a"
	a, err := New(cfgA, db, nodes, "ws://node-a/internal", "tok", nil)
	require.NoError(t, err)
	defer a.Close()

	cfgB := testClusterConfig()
	cfgB.NodeID = "node-b"
	b, err := New(cfgB, db, nodes, "ws://node-b/internal", "tok", nil)
	require.NoError(t, err)
	defer b.Close()

	a.tryAcquire(ctx)
	b.tryAcquire(ctx)
	require.True(t, a.IsLeader())
	require.False(t, b.IsLeader())

	a.release(ctx)
	b.tryAcquire(ctx)
	assert.True(t, b.IsLeader(), "node-b should acquire leadership once node-a releases it")
}

func TestCoordinator_LocalNodeIDGeneratedWhenEmpty(t *testing.T) {
	db := newTestClusterDB(t)
	nodes := store.NewGatewayNodeRepo(db)

	c, err := New(config.ClusterConfig{
		AdvisoryLockKey:     "test-cluster",
		LeaderLeaseInterval: time.Second,
		HeartbeatInterval:   time.Second,
		NodeStaleThreshold:  30 * time.Second,
	}, db, nodes, "ws://node/internal", "tok", nil)
	require.NoError(t, err)
	defer c.Close()

	assert.NotEmpty(t, c.LocalNodeID())
}
