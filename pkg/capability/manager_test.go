package capability

import (
	"context"
	"testing"
	"time"

	"github.com/agentkernel/gateway/pkg/apierrors"
	"github.com/agentkernel/gateway/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	return NewManager(config.CapabilityConfig{
		DefaultTokenTTL: time.Hour,
		MaxTokenTTL:     24 * time.Hour,
	}, []byte("test-signing-key"))
}

func TestManager_GrantAndCheck(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	tok, err := m.Grant(ctx, GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "filesystem", Actions: []string{"read"}, Resource: "/tmp/*"}},
	}, "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Signature)
	assert.True(t, tok.ExpiresAt.After(tok.IssuedAt))

	got, err := m.Check(ctx, "agent-1", "filesystem", "read", "/tmp/scratch.txt")
	require.NoError(t, err)
	assert.Equal(t, tok.ID, got.ID)

	_, err = m.Check(ctx, "agent-1", "filesystem", "write", "/tmp/scratch.txt")
	assert.ErrorIs(t, err, apierrors.ErrPermissionDenied)
}

func TestManager_Grant_TTLClampedToMax(t *testing.T) {
	m := testManager()
	tok, err := m.Grant(context.Background(), GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "shell", Actions: []string{"exec"}}},
		TTL:         100 * time.Hour,
	}, "admin")
	require.NoError(t, err)
	assert.WithinDuration(t, tok.IssuedAt.Add(24*time.Hour), tok.ExpiresAt, time.Second)
}

func TestManager_ScopeDerivation(t *testing.T) {
	m := testManager()
	sysTok, err := m.Grant(context.Background(), GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "secrets", Actions: []string{"read"}}},
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, ScopeSystem, sysTok.Scope)

	taskTok, err := m.Grant(context.Background(), GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "memory", Actions: []string{"write"}}},
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, ScopeTask, taskTok.Scope)
}

func TestManager_Delegate(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	parent, err := m.Grant(ctx, GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "filesystem", Actions: []string{"read", "write"}, Resource: "/tmp/*"}},
		Delegatable: true,
	}, "admin")
	require.NoError(t, err)

	child, err := m.Delegate(ctx, parent.ID, "agent-2", []Permission{
		{Category: "filesystem", Actions: []string{"read"}, Resource: "/tmp/x.txt"},
	}, time.Hour)
	require.NoError(t, err)
	assert.False(t, child.Delegatable)
	assert.Equal(t, parent.ID, child.ParentTokenID)
	assert.True(t, !child.ExpiresAt.After(parent.ExpiresAt))

	got, err := m.Check(ctx, "agent-2", "filesystem", "read", "/tmp/x.txt")
	require.NoError(t, err)
	assert.Equal(t, child.ID, got.ID)
}

func TestManager_Delegate_NotDelegatable(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	parent, err := m.Grant(ctx, GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "filesystem", Actions: []string{"read"}}},
	}, "admin")
	require.NoError(t, err)

	_, err = m.Delegate(ctx, parent.ID, "agent-2", nil, time.Hour)
	assert.ErrorIs(t, err, ErrNotDelegatable)
}

func TestManager_Delegate_InsufficientPermissions(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	parent, err := m.Grant(ctx, GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "filesystem", Actions: []string{"read"}, Resource: "/tmp/*"}},
		Delegatable: true,
	}, "admin")
	require.NoError(t, err)

	_, err = m.Delegate(ctx, parent.ID, "agent-2", []Permission{
		{Category: "filesystem", Actions: []string{"write"}, Resource: "/tmp/*"},
	}, time.Hour)
	assert.ErrorIs(t, err, ErrInsufficientPermissions)
}

func TestManager_RevokeAndRevokeAll(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	tok, err := m.Grant(ctx, GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "shell", Actions: []string{"exec"}}},
	}, "admin")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, tok.ID))
	_, err = m.Check(ctx, "agent-1", "shell", "exec", "")
	assert.ErrorIs(t, err, apierrors.ErrPermissionDenied)

	_, err = m.Grant(ctx, GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "shell", Actions: []string{"exec"}}},
	}, "admin")
	require.NoError(t, err)
	require.NoError(t, m.RevokeAll(ctx, "agent-1"))
	_, err = m.Check(ctx, "agent-1", "shell", "exec", "")
	assert.ErrorIs(t, err, apierrors.ErrPermissionDenied)
}

func TestManager_Cleanup_SweepsExpired(t *testing.T) {
	m := testManager()
	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour)
	m.now = func() time.Time { return past }

	_, err := m.Grant(ctx, GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "shell", Actions: []string{"exec"}}},
		TTL:         time.Minute,
	}, "admin")
	require.NoError(t, err)

	m.now = time.Now
	n := m.Cleanup(ctx)
	assert.Equal(t, 1, n)
}

func TestManager_Check_RejectsTamperedSignature(t *testing.T) {
	m := testManager()
	ctx := context.Background()

	tok, err := m.Grant(ctx, GrantRequest{
		AgentID:     "agent-1",
		Permissions: []Permission{{Category: "shell", Actions: []string{"exec"}}},
	}, "admin")
	require.NoError(t, err)

	m.mu.Lock()
	m.tokens[tok.ID].Signature = "0000"
	m.mu.Unlock()

	_, err = m.Check(ctx, "agent-1", "shell", "exec", "")
	assert.ErrorIs(t, err, apierrors.ErrPermissionDenied)
}

func TestCanonicalize_Deterministic(t *testing.T) {
	tok := &Token{
		ID:      "tok-1",
		AgentID: "agent-1",
		Permissions: []Permission{
			{Category: "filesystem", Actions: []string{"write", "read"}, Constraints: map[string]string{"b": "2", "a": "1"}},
		},
		ExpiresAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	a, err := Canonicalize(tok)
	require.NoError(t, err)
	b, err := Canonicalize(tok)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
