package degradation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentkernel/gateway/pkg/config"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestManager_NormalWhenAllHealthy(t *testing.T) {
	m := New(5*time.Millisecond, time.Second, nil)
	m.Register("llm-provider", SeverityCritical, func(ctx context.Context) error { return nil }, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return len(m.Status()) == 1 && m.Status()[0].Healthy })
	assert.Equal(t, config.DegradationLevelNormal, m.Level())
}

func TestManager_MinorFailureDegrades(t *testing.T) {
	m := New(5*time.Millisecond, time.Second, nil)
	m.Register("search-memory", SeverityMinor, func(ctx context.Context) error { return errors.New("timeout") }, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.Level() == config.DegradationLevelDegraded })
	assert.False(t, m.IsServiceAvailable("search-memory"))
}

func TestManager_CriticalFailureIsEmergency(t *testing.T) {
	m := New(5*time.Millisecond, time.Second, nil)
	m.Register("llm-provider", SeverityCritical, func(ctx context.Context) error { return errors.New("down") }, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.Level() == config.DegradationLevelEmergency })
}

func TestManager_UnregisteredServiceReportsAvailable(t *testing.T) {
	m := New(time.Second, time.Second, nil)
	assert.True(t, m.IsServiceAvailable("never-registered"))
}

func TestManager_FallbackInvokedWhenRegistered(t *testing.T) {
	m := New(time.Second, time.Second, nil)
	var called atomic.Bool
	m.Register("cache", SeverityMinor, func(ctx context.Context) error { return nil }, func(ctx context.Context) error {
		called.Store(true)
		return nil
	})

	ran, err := m.Fallback(context.Background(), "cache")
	require.NoError(t, err)
	assert.True(t, ran)
	assert.True(t, called.Load())
}

func TestManager_FallbackReturnsFalseWhenNoneRegistered(t *testing.T) {
	m := New(time.Second, time.Second, nil)
	m.Register("no-fallback", SeverityMinor, func(ctx context.Context) error { return nil }, nil)

	ran, err := m.Fallback(context.Background(), "no-fallback")
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestManager_RecoveryReturnsToNormal(t *testing.T) {
	m := New(5*time.Millisecond, time.Second, nil)
	var fail atomic.Bool
	fail.Store(true)
	m.Register("flaky", SeverityMinor, func(ctx context.Context) error {
		if fail.Load() {
			return errors.New("down")
		}
		return nil
	}, nil)
	m.Start(context.Background())
	defer m.Stop()

	waitFor(t, time.Second, func() bool { return m.Level() == config.DegradationLevelDegraded })
	fail.Store(false)
	waitFor(t, time.Second, func() bool { return m.Level() == config.DegradationLevelNormal })
}
