package database

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
)

// newTestClient starts a PostgreSQL container, applies migrations, and
// returns a ready Client. Isolated from test/database to avoid an import
// cycle (test/database wraps this package for use by other packages' tests).
func newTestClient(t *testing.T) *Client {
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
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	err = RunMigrations(ctx, db, "test")
	require.NoError(t, err)

	err = CreateGINIndexes(ctx, db)
	require.NoError(t, err)

	err = CreatePartialUniqueIndexes(ctx, db)
	require.NoError(t, err)

	client := NewClientFromDB(db)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	err := client.DB().PingContext(ctx)
	require.NoError(t, err)

	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestAuditLogFullTextSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.DB().ExecContext(ctx,
		`INSERT INTO audit_log (node_id, agent_name, actor, action, decision, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		"node-1", "filesystem-agent", "filesystem-agent", "tool_call", "allow",
		`{"summary": "Critical error in production cluster with pod failures"}`,
	)
	require.NoError(t, err)

	_, err = client.DB().ExecContext(ctx,
		`INSERT INTO audit_log (node_id, agent_name, actor, action, decision, detail)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		"node-1", "filesystem-agent", "filesystem-agent", "tool_call", "allow",
		`{"summary": "Warning: high memory usage detected"}`,
	)
	require.NoError(t, err)

	rows, err := client.DB().QueryContext(ctx,
		`SELECT agent_name FROM audit_log
		WHERE to_tsvector('english', detail::text) @@ to_tsquery('english', $1)`,
		"error & production",
	)
	require.NoError(t, err)
	defer rows.Close()

	var results []string
	for rows.Next() {
		var agentName string
		require.NoError(t, rows.Scan(&agentName))
		results = append(results, agentName)
	}
	assert.Len(t, results, 1)

	rows2, err := client.DB().QueryContext(ctx,
		`SELECT agent_name FROM audit_log
		WHERE to_tsvector('english', detail::text) @@ to_tsquery('english', $1)`,
		"memory",
	)
	require.NoError(t, err)
	defer rows2.Close()

	var results2 []string
	for rows2.Next() {
		var agentName string
		require.NoError(t, rows2.Scan(&agentName))
		results2 = append(results2, agentName)
	}
	assert.Len(t, results2, 1)
}

func TestPartialUniqueIndex_SingleLeader(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.DB().ExecContext(ctx,
		`INSERT INTO gateway_nodes (node_id, is_leader) VALUES ($1, true)`, "node-1")
	require.NoError(t, err)

	_, err = client.DB().ExecContext(ctx,
		`INSERT INTO gateway_nodes (node_id, is_leader) VALUES ($1, true)`, "node-2")
	assert.Error(t, err, "a second leader row should violate the partial unique index")

	_, err = client.DB().ExecContext(ctx,
		`INSERT INTO gateway_nodes (node_id, is_leader) VALUES ($1, false)`, "node-3")
	assert.NoError(t, err, "non-leader rows are unaffected by the partial unique index")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				SSLMode:      "disable",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			wantErr: false,
		},
		{
			name: "missing password",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "",
				Database:     "test",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			wantErr: true,
		},
		{
			name: "idle conns exceed max conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 5,
				MaxIdleConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero max open conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 0,
				MaxIdleConns: 0,
			},
			wantErr: true,
		},
		{
			name: "negative idle conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 10,
				MaxIdleConns: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
