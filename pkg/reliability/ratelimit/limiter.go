// Package ratelimit implements the dual-dimension per-provider token bucket
// of §4.4 C4 (requests/min and tokens/min), composing
// golang.org/x/time/rate.Limiter twice in the style of cuemby-warren's
// pkg/ingress/middleware.go (one *rate.Limiter per key, created lazily and
// held behind a mutex-guarded map).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config bounds a single provider's request and token throughput.
type Config struct {
	RequestsPerMinute int
	TokensPerMinute   int
	// Burst caps how far a dimension can spike above its steady rate.
	// Zero defaults to the per-minute rate itself (one minute's worth).
	RequestBurst int
	TokenBurst   int
}

// Limiter gates a single provider's traffic across both dimensions.
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	reqBurst := cfg.RequestBurst
	if reqBurst <= 0 {
		reqBurst = max(cfg.RequestsPerMinute, 1)
	}
	tokBurst := cfg.TokenBurst
	if tokBurst <= 0 {
		tokBurst = max(cfg.TokensPerMinute, 1)
	}
	return &Limiter{
		requests: rate.NewLimiter(perMinute(cfg.RequestsPerMinute), reqBurst),
		tokens:   rate.NewLimiter(perMinute(cfg.TokensPerMinute), tokBurst),
	}
}

func perMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / 60.0)
}

// Acquire reserves one request and estimatedTokens tokens. It reports
// whether both reservations succeeded; if either dimension is exhausted,
// any reservation already taken is cancelled so the bucket isn't double
// debited (§4.4 "acquire(estimatedTokens) returns boolean").
func (l *Limiter) Acquire(estimatedTokens int) bool {
	now := time.Now()

	reqRes := l.requests.ReserveN(now, 1)
	if !reqRes.OK() || reqRes.DelayFrom(now) > 0 {
		if reqRes.OK() {
			reqRes.Cancel()
		}
		return false
	}

	tokRes := l.tokens.ReserveN(now, max(estimatedTokens, 0))
	if !tokRes.OK() || tokRes.DelayFrom(now) > 0 {
		reqRes.Cancel()
		if tokRes.OK() {
			tokRes.Cancel()
		}
		return false
	}

	return true
}

// ReportUsage adjusts the token bucket once the actual token count for a
// call is known. If usage exceeded the estimate passed to Acquire, the
// excess is debited from the bucket immediately (going negative is fine —
// rate.Limiter simply delays the next reservation accordingly). If usage
// was lower than estimated, x/time/rate has no refund primitive, so the
// bucket stays debited for the estimate; this trades slight
// under-utilization for never reading the wrong answer twice under
// concurrent callers.
func (l *Limiter) ReportUsage(estimatedTokens, actualTokens int) {
	if actualTokens > estimatedTokens {
		l.tokens.ReserveN(time.Now(), actualTokens-estimatedTokens)
	}
}
