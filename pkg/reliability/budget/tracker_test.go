package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_IsUnderBudgetInitially(t *testing.T) {
	tr := New([]Limit{{Period: PeriodDaily, LimitUSD: 10}})
	assert.True(t, tr.IsUnderBudget(PeriodDaily))
}

func TestTracker_RecordAccumulatesSpend(t *testing.T) {
	tr := New([]Limit{{Period: PeriodDaily, LimitUSD: 10}})
	tr.Record(Usage{Provider: "openai", Model: "gpt", InputTokens: 100, OutputTokens: 50, CostUSD: 4})
	tr.Record(Usage{Provider: "openai", Model: "gpt", InputTokens: 100, OutputTokens: 50, CostUSD: 4})
	assert.InDelta(t, 8, tr.Spent(PeriodDaily), 0.001)
	assert.True(t, tr.IsUnderBudget(PeriodDaily))
}

func TestTracker_ExceedsBudgetBlocks(t *testing.T) {
	tr := New([]Limit{{Period: PeriodDaily, LimitUSD: 10}})
	tr.Record(Usage{CostUSD: 11})
	assert.False(t, tr.IsUnderBudget(PeriodDaily))
}

func TestTracker_UnconfiguredPeriodAlwaysUnderBudget(t *testing.T) {
	tr := New([]Limit{{Period: PeriodDaily, LimitUSD: 1}})
	tr.Record(Usage{CostUSD: 1000})
	assert.True(t, tr.IsUnderBudget(PeriodHourly))
}

func TestTracker_WindowRollsOverAtBoundary(t *testing.T) {
	tr := New([]Limit{{Period: PeriodHourly, LimitUSD: 5}})
	base := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }
	tr.windows[PeriodHourly].start = windowStart(PeriodHourly, base)

	tr.Record(Usage{CostUSD: 5, At: base})
	assert.False(t, tr.IsUnderBudget(PeriodHourly))

	tr.now = func() time.Time { return base.Add(time.Hour) }
	assert.True(t, tr.IsUnderBudget(PeriodHourly), "new hour should have rolled the window")
}

func TestWindowStart_WeeklyStartsMonday(t *testing.T) {
	wednesday := time.Date(2026, 2, 4, 15, 0, 0, 0, time.UTC) // a Wednesday
	start := windowStart(PeriodWeekly, wednesday)
	require.Equal(t, time.Monday, start.Weekday())
	assert.True(t, start.Before(wednesday))
}

func TestWindowStart_Monthly(t *testing.T) {
	mid := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	start := windowStart(PeriodMonthly, mid)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), start)
}
