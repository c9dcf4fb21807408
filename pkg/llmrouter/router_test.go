package llmrouter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/gateway/pkg/reliability/budget"
	"github.com/agentkernel/gateway/pkg/reliability/circuitbreaker"
	"github.com/agentkernel/gateway/pkg/reliability/ratelimit"
)

type fakeProvider struct {
	id      string
	model   string
	fail    bool
	calls   int
}

func (f *fakeProvider) ID() string       { return f.id }
func (f *fakeProvider) Name() string     { return f.id }
func (f *fakeProvider) Models() []string { return []string{f.model} }
func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }
func (f *fakeProvider) Chat(ctx context.Context, req Request) (Result, error) {
	f.calls++
	if f.fail {
		return Result{}, errors.New("provider error")
	}
	return Result{Content: "ok", Model: req.Model, Usage: Usage{InputTokens: 10, OutputTokens: 5}}, nil
}
func (f *fakeProvider) ChatStream(ctx context.Context, req Request, onChunk func(string)) (Result, bool, error) {
	return Result{}, false, nil
}

func newTestRouter(cfg Config) *Router {
	return New(cfg, circuitbreaker.NewRegistry(circuitbreaker.Config{
		MaxFailures: 1, ResetTimeout: time.Minute, OperationTimeout: time.Second,
	}), nil)
}

func TestRoute_SingleHealthyProvider(t *testing.T) {
	r := newTestRouter(Config{})
	p := &fakeProvider{id: "p1", model: "gpt"}
	r.RegisterProvider(p, 1, ratelimit.Config{RequestsPerMinute: 100, TokensPerMinute: 100000})

	res, err := r.Route(context.Background(), Request{Model: "gpt", EstimatedTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Content)
	assert.Equal(t, "p1", res.ProviderID)
	assert.Equal(t, 0, res.FailoverCount)
}

func TestRoute_AliasResolution(t *testing.T) {
	r := newTestRouter(Config{})
	p := &fakeProvider{id: "p1", model: "claude-sonnet-4-5-20250929"}
	r.RegisterProvider(p, 1, ratelimit.Config{RequestsPerMinute: 100, TokensPerMinute: 100000})
	r.SetAlias("claude", "claude-sonnet-4-5-20250929")

	res, err := r.Route(context.Background(), Request{Model: "claude", EstimatedTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5-20250929", res.Model)
}

func TestRoute_FailoverToLowerPriorityProvider(t *testing.T) {
	r := newTestRouter(Config{})
	bad := &fakeProvider{id: "A", model: "claude-sonnet-4-5-20250929", fail: true}
	good := &fakeProvider{id: "B", model: "claude-sonnet-4-5-20250929"}
	r.RegisterProvider(bad, 1, ratelimit.Config{RequestsPerMinute: 100, TokensPerMinute: 100000})
	r.RegisterProvider(good, 2, ratelimit.Config{RequestsPerMinute: 100, TokensPerMinute: 100000})

	res, err := r.Route(context.Background(), Request{Model: "claude-sonnet-4-5-20250929", EstimatedTokens: 10})
	require.NoError(t, err)
	assert.Equal(t, "B", res.ProviderID)
	assert.Equal(t, 1, bad.calls)
	assert.Equal(t, 1, good.calls)
}

func TestRoute_BudgetExceededRejectsAtEntry(t *testing.T) {
	tracker := budget.New([]budget.Limit{{Period: budget.PeriodDaily, LimitUSD: 0.0001}})
	tracker.Record(budget.Usage{CostUSD: 1})

	r := New(Config{}, circuitbreaker.NewRegistry(circuitbreaker.Config{MaxFailures: 1, ResetTimeout: time.Minute}), tracker)
	p := &fakeProvider{id: "p1", model: "gpt"}
	r.RegisterProvider(p, 1, ratelimit.Config{RequestsPerMinute: 100, TokensPerMinute: 100000})

	_, err := r.Route(context.Background(), Request{Model: "gpt"})
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, 0, p.calls)
}

func TestRoute_NoProviderForModel(t *testing.T) {
	r := newTestRouter(Config{})
	_, err := r.Route(context.Background(), Request{Model: "unknown-model"})
	require.ErrorIs(t, err, ErrNoProvider)
}
