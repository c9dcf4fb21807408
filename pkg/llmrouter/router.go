package llmrouter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentkernel/gateway/pkg/reliability/budget"
	"github.com/agentkernel/gateway/pkg/reliability/circuitbreaker"
	"github.com/agentkernel/gateway/pkg/reliability/ratelimit"
	"github.com/agentkernel/gateway/pkg/reliability/retry"
)

// ErrBudgetExceeded is returned when the budget tracker rejects a request
// at step entry (§4.5 step 5, §6 BUDGET_EXCEEDED).
var ErrBudgetExceeded = errors.New("llmrouter: budget exceeded")

// ErrNoProvider is returned when no provider (including fallback) can serve the model.
var ErrNoProvider = errors.New("llmrouter: no healthy provider for model")

// registeredProvider pairs a Provider with its configured priority and the
// rate limiter it shares across every request routed to it.
type registeredProvider struct {
	provider Provider
	priority int
	limiter  *ratelimit.Limiter
}

// Config bounds router-wide policy.
type Config struct {
	MaxFailoverAttempts int
	FailoverEnabled     bool
	// ModelPreferences lists fallback models to try, in order, when every
	// provider for the originally requested model fails (§4.5 step 4).
	ModelPreferences []string
	HealthCheckInterval time.Duration // 0 disables periodic health probing
	StreamInitTimeout   time.Duration // default 30s
}

// Router implements Route (§4.5 C5).
type Router struct {
	mu        sync.RWMutex
	cfg       Config
	aliases   map[string]string
	providers map[string]*registeredProvider // providerID -> provider
	byModel   map[string][]*registeredProvider

	breakers *circuitbreaker.Registry
	budget   *budget.Tracker

	health   map[string]bool // providerID -> healthy
	healthMu sync.RWMutex

	stopHealth chan struct{}
}

// New creates a Router. breakers and budgetTracker are shared, process-wide
// registries (§9) — callers typically construct one of each at startup and
// pass them to every Router/other consumer that needs them.
func New(cfg Config, breakers *circuitbreaker.Registry, budgetTracker *budget.Tracker) *Router {
	if cfg.MaxFailoverAttempts <= 0 {
		cfg.MaxFailoverAttempts = 3
	}
	if cfg.StreamInitTimeout <= 0 {
		cfg.StreamInitTimeout = 30 * time.Second
	}
	r := &Router{
		cfg:       cfg,
		aliases:   make(map[string]string),
		providers: make(map[string]*registeredProvider),
		byModel:   make(map[string][]*registeredProvider),
		breakers:  breakers,
		budget:    budgetTracker,
		health:    make(map[string]bool),
	}
	return r
}

// SetAlias maps a model alias (e.g. "claude") to a concrete resolved model
// name (e.g. "claude-sonnet-4-5-20250929"). The alias map is mutable at
// runtime (§4.5 step 1).
func (r *Router) SetAlias(alias, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = model
}

// RegisterProvider adds a provider with the given priority/rate-limit config
// and marks it healthy by default until the health loop says otherwise.
func (r *Router) RegisterProvider(p Provider, priority int, limits ratelimit.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rp := &registeredProvider{provider: p, priority: priority, limiter: ratelimit.New(limits)}
	r.providers[p.ID()] = rp
	for _, m := range p.Models() {
		r.byModel[m] = append(r.byModel[m], rp)
		sort.SliceStable(r.byModel[m], func(i, j int) bool {
			return r.byModel[m][i].priority < r.byModel[m][j].priority
		})
	}

	r.healthMu.Lock()
	r.health[p.ID()] = true
	r.healthMu.Unlock()
}

func (r *Router) resolveAlias(model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if resolved, ok := r.aliases[model]; ok {
		return resolved
	}
	return model
}

func (r *Router) providersFor(model string) []*registeredProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*registeredProvider(nil), r.byModel[model]...)
}

func (r *Router) isHealthy(providerID string) bool {
	r.healthMu.RLock()
	defer r.healthMu.RUnlock()
	healthy, ok := r.health[providerID]
	return !ok || healthy
}

func (r *Router) setHealth(providerID string, healthy bool) {
	r.healthMu.Lock()
	r.health[providerID] = healthy
	r.healthMu.Unlock()
}

// Route implements the §4.5 algorithm: resolve alias, enumerate healthy
// providers sorted by priority, try each under a circuit breaker with
// retry, and fail over to a preferred fallback model if all fail.
func (r *Router) Route(ctx context.Context, req Request) (Result, error) {
	if r.budget != nil && !r.budget.IsUnderBudget(budget.PeriodDaily) {
		return Result{}, ErrBudgetExceeded
	}

	model := req.Model
	if req.ProviderOverride == "" {
		model = r.resolveAlias(req.Model)
	}
	req.Model = model
	requestID := uuid.NewString()

	res, failoverCount, err := r.tryModel(ctx, req, requestID, 0)
	if err == nil {
		return res, nil
	}
	if !r.cfg.FailoverEnabled {
		return Result{}, err
	}

	for _, fallback := range r.cfg.ModelPreferences {
		if fallback == model {
			continue
		}
		if len(r.providersFor(fallback)) == 0 {
			continue
		}
		fbReq := req
		fbReq.Model = fallback
		res, _, fbErr := r.tryModel(ctx, fbReq, requestID, failoverCount+1)
		if fbErr == nil {
			return res, nil
		}
		err = fbErr
	}
	return Result{}, fmt.Errorf("%w: %s", ErrNoProvider, model)
}

// tryModel attempts every healthy provider for one resolved model, in
// priority order, up to MaxFailoverAttempts (§4.5 step 2-3).
func (r *Router) tryModel(ctx context.Context, req Request, requestID string, failoverCount int) (Result, int, error) {
	candidates := r.providersFor(req.Model)
	if len(candidates) == 0 {
		return Result{}, failoverCount, fmt.Errorf("%w: %s", ErrNoProvider, req.Model)
	}

	var lastErr error
	attempts := 0
	for _, rp := range candidates {
		if attempts >= r.cfg.MaxFailoverAttempts {
			break
		}
		if !r.isHealthy(rp.provider.ID()) {
			continue
		}
		attempts++

		if !rp.limiter.Acquire(req.EstimatedTokens) {
			lastErr = fmt.Errorf("llmrouter: rate limit exceeded for provider %s", rp.provider.ID())
			continue
		}

		start := time.Now()
		retries := 0
		var result Result
		breaker := r.breakers.Get(rp.provider.ID())
		execErr := breaker.Execute(ctx, func(ctx context.Context) error {
			return retry.Do(ctx, "llmrouter."+rp.provider.ID(), retry.Config{
				MaxRetries:      2,
				InitialInterval: 200 * time.Millisecond,
				MaxInterval:     2 * time.Second,
				Classify:        retry.AlwaysRetryable,
			}, func(ctx context.Context) error {
				var err error
				result, err = r.callProvider(ctx, rp, req)
				if err != nil {
					retries++
				}
				return err
			})
		})

		rp.limiter.ReportUsage(req.EstimatedTokens, result.Usage.InputTokens+result.Usage.OutputTokens)

		if execErr != nil {
			if circuitbreaker.IsOpen(execErr) {
				r.setHealth(rp.provider.ID(), false)
			}
			lastErr = execErr
			continue
		}

		if r.budget != nil {
			r.budget.Record(budget.Usage{
				Provider:     rp.provider.ID(),
				Model:        req.Model,
				InputTokens:  result.Usage.InputTokens,
				OutputTokens: result.Usage.OutputTokens,
			})
		}

		result.RequestID = requestID
		result.ProviderID = rp.provider.ID()
		result.LatencyMs = time.Since(start).Milliseconds()
		result.RetryCount = max(retries-1, 0)
		result.FailoverCount = failoverCount
		return result, failoverCount, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("%w: %s", ErrNoProvider, req.Model)
	}
	return Result{}, failoverCount, lastErr
}

func (r *Router) callProvider(ctx context.Context, rp *registeredProvider, req Request) (Result, error) {
	if req.Stream {
		if res, handled, err := r.callStream(ctx, rp.provider, req); handled {
			return res, err
		}
	}
	return rp.provider.Chat(ctx, req)
}

// callStream initializes a stream with a bounded timeout and accumulates
// chunks into a StreamResult (§4.5 "Streaming").
func (r *Router) callStream(ctx context.Context, p Provider, req Request) (Result, bool, error) {
	initCtx, cancel := context.WithTimeout(ctx, r.cfg.StreamInitTimeout)
	defer cancel()

	var sb strings.Builder
	chunkCount := 0
	start := time.Now()
	var firstChunkAt time.Time

	res, handled, err := p.ChatStream(initCtx, req, func(delta string) {
		if chunkCount == 0 {
			firstChunkAt = time.Now()
		}
		chunkCount++
		sb.WriteString(delta)
	})
	if !handled {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, true, err
	}

	ttfc := int64(0)
	if !firstChunkAt.IsZero() {
		ttfc = firstChunkAt.Sub(start).Milliseconds()
	}
	res.Content = sb.String()
	res.Stream = &StreamResult{
		Content:            sb.String(),
		Model:              req.Model,
		Usage:              res.Usage,
		TimeToFirstChunkMs: ttfc,
		TotalDurationMs:    time.Since(start).Milliseconds(),
		ChunkCount:         chunkCount,
	}
	return res, true, nil
}

// StartHealthChecks launches the periodic provider health probe loop
// (§4.5 "Health checks probe each provider on a configurable interval").
// Returns immediately if HealthCheckInterval is 0.
func (r *Router) StartHealthChecks(ctx context.Context) {
	if r.cfg.HealthCheckInterval <= 0 {
		return
	}
	r.mu.Lock()
	if r.stopHealth != nil {
		r.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	r.stopHealth = stop
	r.mu.Unlock()

	ticker := time.NewTicker(r.cfg.HealthCheckInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				r.probeAll(ctx)
			}
		}
	}()
}

// StopHealthChecks stops the health probe loop started by StartHealthChecks.
func (r *Router) StopHealthChecks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopHealth != nil {
		close(r.stopHealth)
		r.stopHealth = nil
	}
}

func (r *Router) probeAll(ctx context.Context) {
	r.mu.RLock()
	providers := make([]*registeredProvider, 0, len(r.providers))
	for _, rp := range r.providers {
		providers = append(providers, rp)
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, rp := range providers {
		wg.Add(1)
		go func(rp *registeredProvider) {
			defer wg.Done()
			r.setHealth(rp.provider.ID(), rp.provider.IsAvailable(ctx))
		}(rp)
	}
	wg.Wait()
}

// ProviderHealth returns a snapshot of every provider's health gate, used
// by /health (§6) and pkg/degradation.
func (r *Router) ProviderHealth() map[string]bool {
	r.healthMu.RLock()
	defer r.healthMu.RUnlock()
	out := make(map[string]bool, len(r.health))
	for k, v := range r.health {
		out[k] = v
	}
	return out
}
