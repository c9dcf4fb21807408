package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/agentkernel/gateway/pkg/apierrors"
	"github.com/agentkernel/gateway/pkg/config"
	"github.com/agentkernel/gateway/pkg/database"
	"github.com/agentkernel/gateway/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newTestDB(t *testing.T) *sql.DB {
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
	require.NoError(t, database.CreateGINIndexes(ctx, db))
	require.NoError(t, database.CreatePartialUniqueIndexes(ctx, db))

	return db
}

func TestAgentWorkerRepo_CreateGetUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewAgentWorkerRepo(db)

	id, err := repo.Create(ctx, &AgentWorker{
		AgentName:  "filesystem-agent",
		NodeID:     "node-1",
		TrustLevel: "supervised",
		Runtime:    "local",
		Status:     "starting",
		Metadata:   map[string]any{"image": "none"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "filesystem-agent", got.AgentName)
	assert.Equal(t, "starting", got.Status)

	require.NoError(t, repo.UpdateStatus(ctx, id, "running", sql.NullInt64{Int64: 4242, Valid: true}))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "running", got.Status)
	assert.Equal(t, int64(4242), got.PID.Int64)

	require.NoError(t, repo.RecordHeartbeat(ctx, id))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.LastHeartbeatAt.Valid)

	count, err := repo.IncrementRestartCount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, repo.MarkTerminated(ctx, id, "terminated"))
	got, err = repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "terminated", got.Status)
	assert.True(t, got.TerminatedAt.Valid)

	listed, err := repo.ListByNode(ctx, "node-1")
	require.NoError(t, err)
	assert.Empty(t, listed, "terminated workers are excluded from the active list")
}

func TestAgentWorkerRepo_GetNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewAgentWorkerRepo(db)

	_, err := repo.Get(context.Background(), "missing-id")
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestGatewayNodeRepo_UpsertAndLeaderElection(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGatewayNodeRepo(db)

	require.NoError(t, repo.Upsert(ctx, "node-1", true, "ws://node-1:8080/internal/cluster"))
	require.NoError(t, repo.Upsert(ctx, "node-2", false, "ws://node-2:8080/internal/cluster"))

	nodes, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
	for _, n := range nodes {
		assert.NotEmpty(t, n.InternalURL)
	}

	require.NoError(t, repo.SetLeader(ctx, "node-1", false))
	require.NoError(t, repo.SetLeader(ctx, "node-2", true))

	nodes, err = repo.List(ctx)
	require.NoError(t, err)
	var leaderCount int
	for _, n := range nodes {
		if n.IsLeader {
			leaderCount++
		}
	}
	assert.Equal(t, 1, leaderCount)
}

func TestGatewayNodeRepo_DeleteStale(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewGatewayNodeRepo(db)

	require.NoError(t, repo.Upsert(ctx, "node-1", false, "ws://node-1:8080/internal/cluster"))
	_, err := db.ExecContext(ctx,
		`UPDATE gateway_nodes SET last_heartbeat_at = now() - interval '1 hour' WHERE node_id = $1`, "node-1")
	require.NoError(t, err)

	n, err := repo.DeleteStale(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAuditLogRepo_AppendAndQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewAuditLogRepo(db)

	_, err := repo.Append(ctx, &AuditEntry{
		NodeID:   "node-1",
		Actor:    "filesystem-agent",
		Action:   "tool_call",
		Decision: "allow",
		Detail:   map[string]any{"tool": "read_file"},
	})
	require.NoError(t, err)

	_, err = repo.Append(ctx, &AuditEntry{
		NodeID:   "node-1",
		Actor:    "network-probe-agent",
		Action:   "tool_call",
		Decision: "block",
		Detail:   map[string]any{"tool": "http_get"},
	})
	require.NoError(t, err)

	allowed, err := repo.Query(ctx, AuditQuery{Decision: "allow"})
	require.NoError(t, err)
	assert.Len(t, allowed, 1)
	assert.Equal(t, "filesystem-agent", allowed[0].Actor)

	all, err := repo.Query(ctx, AuditQuery{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAuditLogRepo_AppendBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewAuditLogRepo(db)

	entries := []*AuditEntry{
		{NodeID: "node-1", Actor: "a1", Action: "tool_call", Decision: "allow"},
		{NodeID: "node-1", Actor: "a2", Action: "tool_call", Decision: "allow"},
		{NodeID: "node-1", Actor: "a3", Action: "tool_call", Decision: "block"},
	}
	require.NoError(t, repo.AppendBatch(ctx, entries))

	all, err := repo.Query(ctx, AuditQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAgentRepo_UpsertGetListActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewAgentRepo(db)

	snap := state.AgentSnapshot{
		ID:         "agent-1",
		Name:       "filesystem-agent",
		NodeID:     "node-1",
		TrustLevel: config.TrustLevel("supervised"),
		Status:     state.AgentStatusSpawning,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, repo.UpsertAgent(ctx, snap))

	got, err := repo.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "filesystem-agent", got.Name)
	assert.Equal(t, state.AgentStatusSpawning, got.Status)

	snap.Status = state.AgentStatusReady
	require.NoError(t, repo.UpsertAgent(ctx, snap))

	got, err = repo.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, state.AgentStatusReady, got.Status, "upsert updates state on conflict")

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	snap.Status = state.AgentStatusTerminated
	snap.TerminatedAt = time.Now()
	require.NoError(t, repo.UpsertAgent(ctx, snap))

	active, err = repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active, "terminated agents are excluded once deleted_at is set")
}

func TestAgentRepo_GetNotFound(t *testing.T) {
	db := newTestDB(t)
	repo := NewAgentRepo(db)

	_, err := repo.Get(context.Background(), "missing-agent")
	assert.ErrorIs(t, err, apierrors.ErrNotFound)
}

func TestAuditLogRepo_DeleteOlderThan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repo := NewAuditLogRepo(db)

	_, err := repo.Append(ctx, &AuditEntry{NodeID: "node-1", Actor: "a1", Action: "tool_call", Decision: "allow"})
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE audit_log SET occurred_at = now() - interval '400 days'`)
	require.NoError(t, err)

	n, err := repo.DeleteOlderThan(ctx, time.Now().Add(-365*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
