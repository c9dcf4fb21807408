// Package circuitbreaker implements the per-operation circuit breaker of
// §4.4 C4, generalized from pkg/mcp/recovery.go's classify-then-act shape
// (there applied inline to one MCP client; here a standalone named
// primitive any caller can share).
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit breaker states (§4.4).
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Execute while the breaker is open. OpenedAt and
// ResetAt let callers surface when the breaker might recover.
type ErrOpen struct {
	Name     string
	OpenedAt time.Time
	ResetAt  time.Time
}

func (e *ErrOpen) Error() string {
	return fmt.Sprintf("circuit breaker %q is open (opened at %s, resets at %s)", e.Name, e.OpenedAt.Format(time.RFC3339), e.ResetAt.Format(time.RFC3339))
}

// Config controls breaker thresholds.
type Config struct {
	// MaxFailures is the number of consecutive failures that trips the
	// breaker from closed to open.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before allowing a
	// single half-open probe.
	ResetTimeout time.Duration
	// OperationTimeout bounds each call made through Execute; zero disables it.
	OperationTimeout time.Duration
}

// Breaker is a single named circuit breaker.
type Breaker struct {
	name string
	cfg  Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

func newBreaker(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg, state: Closed}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// currentStateLocked promotes Open to HalfOpen once resetTimeout has
// elapsed, without yet recording a probe outcome.
func (b *Breaker) currentStateLocked() State {
	if b.state == Open && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		return HalfOpen
	}
	return b.state
}

// Execute runs op if the breaker allows it, applying OperationTimeout and
// recording the outcome. Returns *ErrOpen without calling op when the
// breaker is open and not yet eligible for a half-open probe.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.currentStateLocked()
	if state == Open {
		err := &ErrOpen{Name: b.name, OpenedAt: b.openedAt, ResetAt: b.openedAt.Add(b.cfg.ResetTimeout)}
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	if b.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.OperationTimeout)
		defer cancel()
	}

	err := op(ctx)
	b.recordResult(state, err)
	return err
}

func (b *Breaker) recordResult(observedState State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		// First success in half-open closes the breaker; a success while
		// closed just resets the failure streak.
		b.state = Closed
		b.consecutiveFailures = 0
		return
	}

	// First failure in half-open reopens immediately.
	if observedState == HalfOpen {
		b.trip()
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.cfg.MaxFailures {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = time.Now()
	b.consecutiveFailures = 0
}

// reset forces the breaker back to closed, used by Registry.ResetAll.
func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.consecutiveFailures = 0
	b.openedAt = time.Time{}
}

// IsOpen reports whether err (as returned by Execute) was an open-breaker
// rejection rather than the wrapped operation's own error.
func IsOpen(err error) bool {
	var openErr *ErrOpen
	return errors.As(err, &openErr)
}
