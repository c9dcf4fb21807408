package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/gateway/pkg/config"
	"github.com/agentkernel/gateway/pkg/store"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]*store.AuditEntry
	failN   int // number of calls to fail before succeeding
	calls   int
}

func (w *fakeWriter) AppendBatch(_ context.Context, entries []*store.AuditEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.failN {
		return errors.New("simulated write failure")
	}
	w.batches = append(w.batches, entries)
	return nil
}

func testAuditConfig() config.AuditConfig {
	return config.AuditConfig{
		FlushInterval:   time.Hour, // tests drive flush manually
		BufferSize:      100,
		HighWaterMark:   100,
		RingSize:        50,
		MaxFlushRetries: 1,
	}
}

func TestLog_AppendIsVisibleImmediatelyViaRing(t *testing.T) {
	w := &fakeWriter{}
	l := New(testAuditConfig(), "node-1", w)

	l.Append(context.Background(), Entry{Action: "policy.evaluate", Outcome: OutcomeSuccess, AgentName: "agent-a"})

	got := l.Query(Filter{AgentName: "agent-a"})
	require.Len(t, got, 1)
	assert.Equal(t, "policy.evaluate", got[0].Action)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestLog_HighWaterMarkDropsOldestAndRecordsSyntheticDrop(t *testing.T) {
	cfg := testAuditConfig()
	cfg.HighWaterMark = 2
	cfg.BufferSize = 1000 // don't also trigger a size-based flush
	w := &fakeWriter{}
	l := New(cfg, "node-1", w)

	ctx := context.Background()
	l.Append(ctx, Entry{Action: "one"})
	l.Append(ctx, Entry{Action: "two"})
	l.Append(ctx, Entry{Action: "three"})

	l.mu.Lock()
	pendingLen := len(l.pending)
	l.mu.Unlock()
	assert.Equal(t, 2, pendingLen, "oldest pending entry should have been dropped")

	drops := l.Query(Filter{Action: "audit.drop"})
	require.Len(t, drops, 1)
	assert.Equal(t, OutcomeError, drops[0].Outcome)
}

func TestLog_FlushNow_Success(t *testing.T) {
	w := &fakeWriter{}
	l := New(testAuditConfig(), "node-1", w)
	ctx := context.Background()

	l.Append(ctx, Entry{Action: "policy.evaluate"})
	l.Append(ctx, Entry{Action: "capability.grant"})
	l.flushNow(ctx)

	l.mu.Lock()
	pendingLen := len(l.pending)
	l.mu.Unlock()
	assert.Zero(t, pendingLen)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 2)
}

func TestLog_FlushNow_RetriesThenSucceeds(t *testing.T) {
	w := &fakeWriter{failN: 1}
	cfg := testAuditConfig()
	cfg.MaxFlushRetries = 3
	l := New(cfg, "node-1", w)
	ctx := context.Background()

	l.Append(ctx, Entry{Action: "policy.evaluate"})
	l.flushNow(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, 2, w.calls)
	require.Len(t, w.batches, 1)

	drops := l.Query(Filter{Action: "audit.drop"})
	assert.Empty(t, drops, "a retry that eventually succeeds should not record a drop")
}

func TestLog_FlushNow_ExhaustsRetriesAndDrops(t *testing.T) {
	w := &fakeWriter{failN: 100}
	cfg := testAuditConfig()
	cfg.MaxFlushRetries = 1
	l := New(cfg, "node-1", w)
	ctx := context.Background()

	l.Append(ctx, Entry{Action: "policy.evaluate"})
	l.Append(ctx, Entry{Action: "policy.evaluate"})
	l.flushNow(ctx)

	assert.Empty(t, w.batches)

	drops := l.Query(Filter{Action: "audit.drop"})
	assert.Len(t, drops, 2, "one synthetic drop per entry in the abandoned batch")
}

func TestLog_RecordPolicyDecisionMapping(t *testing.T) {
	w := &fakeWriter{}
	l := New(testAuditConfig(), "node-1", w)
	ctx := context.Background()

	req := fakeRequest{surface: "file"}
	l.RecordPolicyDecision(ctx, "agent-a", req, config.DecisionBlock, "deny-secrets")

	got := l.Query(Filter{AgentName: "agent-a"})
	require.Len(t, got, 1)
	assert.Equal(t, OutcomeBlocked, got[0].Outcome)
	assert.Equal(t, "deny-secrets", got[0].RuleName)
	assert.Equal(t, "file", got[0].ResourceType)
}

func TestLog_RecordCapabilityEventMapping(t *testing.T) {
	w := &fakeWriter{}
	l := New(testAuditConfig(), "node-1", w)
	ctx := context.Background()

	l.RecordCapabilityEvent(ctx, "expire", "agent-a", "tok-1", nil)

	got := l.Query(Filter{AgentName: "agent-a"})
	require.Len(t, got, 1)
	assert.Equal(t, OutcomeDenied, got[0].Outcome)
	assert.Equal(t, "capability.expire", got[0].Action)
}

// fakeRequest is a minimal policy.Request stand-in for exercising the
// default branch of describeRequest without importing pkg/policy's concrete
// request types.
type fakeRequest struct{ surface string }

func (f fakeRequest) Surface() string { return f.surface }
