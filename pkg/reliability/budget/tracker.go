// Package budget implements the token/cost tracker of §4.4 C4: it records
// every (provider, model, input, output, cost) usage tuple and answers
// whether a rolling budget window is still under its limit. Config-driven
// service shape modeled after pkg/masking.MaskingService (compiled
// settings held on a struct, constructed once at startup, thread-safe
// read/write via a mutex).
package budget

import (
	"sync"
	"time"
)

// Period is a budget reset cadence (§4.4).
type Period string

const (
	PeriodHourly  Period = "hourly"
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// Limit pairs a period with its spend ceiling.
type Limit struct {
	Period   Period
	LimitUSD float64
}

// Usage is one recorded LLM call's cost (§4.4 "records (provider, model,
// input, output, cost)").
type Usage struct {
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	At           time.Time
}

type window struct {
	limitUSD float64
	start    time.Time
	spentUSD float64
}

// Tracker accumulates spend per configured period and reports whether each
// window is still under budget.
type Tracker struct {
	mu      sync.Mutex
	history []Usage
	windows map[Period]*window
	now     func() time.Time
}

// New creates a Tracker with the given limits, one window per period.
func New(limits []Limit) *Tracker {
	t := &Tracker{
		windows: make(map[Period]*window, len(limits)),
		now:     time.Now,
	}
	now := t.now()
	for _, l := range limits {
		t.windows[l.Period] = &window{limitUSD: l.LimitUSD, start: windowStart(l.Period, now)}
	}
	return t
}

// Record adds a usage entry, applying it to every configured window,
// rolling any window whose period boundary has passed.
func (t *Tracker) Record(u Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if u.At.IsZero() {
		u.At = t.now()
	}
	t.history = append(t.history, u)

	for period, w := range t.windows {
		t.rollLocked(period, w)
		w.spentUSD += u.CostUSD
	}
}

// IsUnderBudget reports whether period's window still has headroom. A
// period with no configured limit is always considered under budget.
func (t *Tracker) IsUnderBudget(period Period) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[period]
	if !ok {
		return true
	}
	t.rollLocked(period, w)
	return w.spentUSD < w.limitUSD
}

// Spent returns the current window's accumulated spend for period.
func (t *Tracker) Spent(period Period) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[period]
	if !ok {
		return 0
	}
	t.rollLocked(period, w)
	return w.spentUSD
}

// rollLocked resets w if its period boundary has passed since w.start.
// Caller must hold t.mu.
func (t *Tracker) rollLocked(period Period, w *window) {
	now := t.now()
	newStart := windowStart(period, now)
	if newStart.After(w.start) {
		w.start = newStart
		w.spentUSD = 0
	}
}

// windowStart truncates now to the start of its current period bucket.
func windowStart(period Period, now time.Time) time.Time {
	switch period {
	case PeriodHourly:
		return now.Truncate(time.Hour)
	case PeriodDaily:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case PeriodWeekly:
		y, m, d := now.Date()
		dayStart := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
		offset := (int(dayStart.Weekday()) + 6) % 7 // week starts Monday
		return dayStart.AddDate(0, 0, -offset)
	case PeriodMonthly:
		y, m, _ := now.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	default:
		return now
	}
}
