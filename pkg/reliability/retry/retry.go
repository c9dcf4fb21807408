// Package retry implements the jittered exponential backoff retry of
// §4.4 C4, wrapping github.com/cenkalti/backoff/v4 with a caller-supplied
// error classifier in the shape of pkg/mcp/recovery.go's
// ClassifyError/RecoveryAction pattern, generalized from MCP operations to
// any operation.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// attemptsTotal counts every retry attempt (the initial try excluded),
// labeled by operation name, for the "on retry increments a metric"
// requirement of §4.4.
var attemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_retry_attempts_total",
		Help: "Number of retry attempts made by pkg/reliability/retry, by operation name.",
	},
	[]string{"operation"},
)

func init() {
	prometheus.MustRegister(attemptsTotal)
}

// Classifier decides whether err is worth retrying.
type Classifier func(error) bool

// Config bounds a retry policy.
type Config struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Classify        Classifier
}

// AlwaysRetryable treats every non-nil error as retryable.
func AlwaysRetryable(error) bool { return true }

// Do runs op, retrying on classifier-approved errors with jittered
// exponential backoff up to cfg.MaxRetries. The final error (retryable or
// not) is returned if every attempt fails.
func Do(ctx context.Context, name string, cfg Config, op func(ctx context.Context) error) error {
	classify := cfg.Classify
	if classify == nil {
		classify = AlwaysRetryable
	}

	eb := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		eb.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		eb.MaxInterval = cfg.MaxInterval
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(cfg.MaxRetries)), ctx)

	attempt := 0
	var lastErr error
	err := backoff.Retry(func() error {
		if attempt > 0 {
			attemptsTotal.WithLabelValues(name).Inc()
		}
		attempt++

		opErr := op(ctx)
		if opErr == nil {
			return nil
		}
		lastErr = opErr
		if !classify(opErr) {
			return backoff.Permanent(opErr)
		}
		return opErr
	}, b)

	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Unwrap()
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}
