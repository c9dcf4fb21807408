package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_OverwritesOldestBeyondCapacity(t *testing.T) {
	r := newRing(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.Push(Entry{Action: "a", CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	snap := r.snapshot()
	require.Len(t, snap, 3)
	// Newest first: entries 4, 3, 2 survive; 0 and 1 were overwritten.
	assert.Equal(t, base.Add(4*time.Second), snap[0].CreatedAt)
	assert.Equal(t, base.Add(2*time.Second), snap[2].CreatedAt)
}

func TestRing_QueryFiltersAndPages(t *testing.T) {
	r := newRing(10)
	now := time.Now()
	r.Push(Entry{Action: "policy.evaluate", Outcome: OutcomeSuccess, AgentName: "a1", ResourceType: "file", CreatedAt: now})
	r.Push(Entry{Action: "policy.evaluate", Outcome: OutcomeBlocked, AgentName: "a1", ResourceType: "file", CreatedAt: now.Add(time.Second)})
	r.Push(Entry{Action: "capability.grant", Outcome: OutcomeSuccess, AgentName: "a2", ResourceType: "capability_token", CreatedAt: now.Add(2 * time.Second)})

	got := r.Query(Filter{Outcome: OutcomeBlocked})
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].AgentName)

	got = r.Query(Filter{AgentName: "a1"})
	assert.Len(t, got, 2)

	got = r.Query(Filter{AgentName: "a1", Limit: 1})
	assert.Len(t, got, 1)

	got = r.Query(Filter{AgentName: "a1", Offset: 1})
	require.Len(t, got, 1)
	assert.Equal(t, OutcomeSuccess, got[0].Outcome)

	got = r.Query(Filter{Since: now.Add(500 * time.Millisecond)})
	assert.Len(t, got, 2)
}

func TestRing_Stats(t *testing.T) {
	r := newRing(10)
	r.Push(Entry{Action: "policy.evaluate", Outcome: OutcomeSuccess, ResourceType: "file"})
	r.Push(Entry{Action: "policy.evaluate", Outcome: OutcomeBlocked, ResourceType: "file"})
	r.Push(Entry{Action: "capability.grant", Outcome: OutcomeSuccess, ResourceType: "capability_token"})

	stats := r.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.ByOutcome[OutcomeSuccess])
	assert.Equal(t, 1, stats.ByOutcome[OutcomeBlocked])
	assert.Equal(t, 2, stats.ByAction["policy.evaluate"])
	assert.Equal(t, 2, stats.ByResourceType["file"])
}
