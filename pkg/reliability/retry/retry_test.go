package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int, classify Classifier) Config {
	return Config{
		MaxRetries:      maxRetries,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Classify:        classify,
	}
}

func TestDo_SucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op-a", fastConfig(3, AlwaysRetryable), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op-b", fastConfig(3, AlwaysRetryable), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetriesAndReturnsLastError(t *testing.T) {
	boom := errors.New("persistent")
	calls := 0
	err := Do(context.Background(), "op-c", fastConfig(2, AlwaysRetryable), func(context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, boom, err)
	assert.Equal(t, 3, calls, "initial attempt plus 2 retries")
}

func TestDo_NonRetryableErrorStopsImmediately(t *testing.T) {
	boom := errors.New("fatal")
	calls := 0
	classify := func(error) bool { return false }
	err := Do(context.Background(), "op-d", fastConfig(5, classify), func(context.Context) error {
		calls++
		return boom
	})
	require.Error(t, err)
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}
