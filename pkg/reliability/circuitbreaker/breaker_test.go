package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{MaxFailures: 2, ResetTimeout: 20 * time.Millisecond}
}

func TestBreaker_TripsAfterMaxFailures(t *testing.T) {
	b := newBreaker("svc", testConfig())
	boom := errors.New("boom")

	assert.Equal(t, Closed, b.State())
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.Equal(t, Closed, b.State(), "one failure shouldn't trip at MaxFailures=2")
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	assert.Equal(t, Open, b.State())
}

func TestBreaker_RejectsWhileOpen(t *testing.T) {
	b := newBreaker("svc", testConfig())
	boom := errors.New("boom")
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, Open, b.State())

	called := false
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	assert.False(t, called)
	require.Error(t, err)
	assert.True(t, IsOpen(err))
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := newBreaker("svc", testConfig())
	boom := errors.New("boom")
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, Open, b.State())

	time.Sleep(25 * time.Millisecond)
	assert.Equal(t, HalfOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := newBreaker("svc", testConfig())
	boom := errors.New("boom")
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	time.Sleep(25 * time.Millisecond)
	require.Equal(t, HalfOpen, b.State())

	err := b.Execute(context.Background(), func(context.Context) error { return boom })
	require.Error(t, err)
	assert.False(t, IsOpen(err), "the wrapped operation's own error should pass through, not ErrOpen")
	assert.Equal(t, Open, b.State())
}

func TestBreaker_OperationTimeout(t *testing.T) {
	b := newBreaker("svc", Config{MaxFailures: 5, ResetTimeout: time.Second, OperationTimeout: 10 * time.Millisecond})
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRegistry_GetCreatesAndReuses(t *testing.T) {
	r := NewRegistry(testConfig())
	a := r.Get("provider-a")
	a2 := r.Get("provider-a")
	assert.Same(t, a, a2)
}

func TestRegistry_ResetAll(t *testing.T) {
	r := NewRegistry(testConfig())
	b := r.Get("provider-a")
	boom := errors.New("boom")
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	_ = b.Execute(context.Background(), func(context.Context) error { return boom })
	require.Equal(t, Open, b.State())

	r.ResetAll()
	assert.Equal(t, Closed, b.State())
}
