package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRestartBackoff_FollowsDoublingSequence(t *testing.T) {
	min, max := time.Second, 30*time.Second
	assert.Equal(t, time.Second, restartBackoff(1, min, max))
	assert.Equal(t, 2*time.Second, restartBackoff(2, min, max))
	assert.Equal(t, 4*time.Second, restartBackoff(3, min, max))
	assert.Equal(t, 8*time.Second, restartBackoff(4, min, max))
}

func TestRestartBackoff_CapsAtMax(t *testing.T) {
	assert.Equal(t, 30*time.Second, restartBackoff(10, time.Second, 30*time.Second))
}

func TestWorker_RejectAllPendingOnExit(t *testing.T) {
	w := NewWorker("calc", "local", "", nil, "", nil, nil)

	done := make(chan error, 1)
	w.mu.Lock()
	w.pending["t1"] = &pendingTask{
		resolve: func(_ json.RawMessage) {},
		reject:  func(err error) { done <- err },
		timer:   time.NewTimer(time.Hour),
	}
	w.mu.Unlock()

	w.handleExit(nil)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrWorkerExited)
	case <-time.After(time.Second):
		t.Fatal("pending task was not rejected on worker exit")
	}
}

func TestWorker_NoRestartAfterShutdownRequested(t *testing.T) {
	w := NewWorker("calc", "local", "", nil, "", nil, nil)
	w.RequestShutdown()
	w.handleExit(nil)
	assert.Equal(t, StateTerminated, w.State())
}
