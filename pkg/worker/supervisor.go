package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"syscall"
	"time"

	"github.com/agentkernel/gateway/pkg/config"
)

// ErrWorkerExited is the rejection reason for every pending task when its
// worker process exits (§4.6: "On worker exit, all pending tasks are
// rejected with 'Worker exited'").
var ErrWorkerExited = errors.New("worker exited")

// ErrTaskTimeout is returned to a task's caller when it is not answered
// within its timeout (§4.6: "task timeout aborts the pending entry but
// does not kill the worker").
var ErrTaskTimeout = errors.New("worker task timed out")

// pendingTask is one in-flight task awaiting a result frame, correlated by
// taskID (§4.6 pendingTasks[taskId] -> {resolveFn, rejectFn, timeoutTimer}).
type pendingTask struct {
	resolve func(json.RawMessage)
	reject  func(error)
	timer   *time.Timer
}

// State is a worker's supervised lifecycle state.
type State string

const (
	StateStarting    State = "starting"
	StateReady       State = "ready"
	StateRestarting  State = "restarting"
	StateTerminated  State = "terminated"
	StateError       State = "error"
)

// Worker supervises one agent's child process across restarts.
type Worker struct {
	AgentName string

	cfg       *config.WorkerConfig
	runtime   config.WorkerRuntime
	command   string
	args      []string
	image     string
	logger    *slog.Logger

	mu                sync.Mutex
	transport         Transport
	state             State
	shutdownRequested bool
	attempts          int
	lastHeartbeat     time.Time
	pending           map[string]*pendingTask

	onReady     func()
	onLog       func(level, text string)
	onStateChange func(State)

	heartbeatStop chan struct{}
}

// NewWorker creates a supervised worker for one agent. It does not start
// the process; call Start.
func NewWorker(agentName string, runtime config.WorkerRuntime, command string, args []string, image string, cfg *config.WorkerConfig, logger *slog.Logger) *Worker {
	if cfg == nil {
		cfg = config.DefaultWorkerConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		AgentName: agentName,
		cfg:       cfg,
		runtime:   runtime,
		command:   command,
		args:      args,
		image:     image,
		logger:    logger,
		state:     StateStarting,
		pending:   make(map[string]*pendingTask),
	}
}

// OnReady/OnLog/OnStateChange register observers the supervisor fires
// handlers off of; used by pkg/taskrouter to await "ready" and forward logs.
func (w *Worker) OnReady(f func())                 { w.onReady = f }
func (w *Worker) OnLog(f func(level, text string))  { w.onLog = f }
func (w *Worker) OnStateChange(f func(State))       { w.onStateChange = f }

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	if w.onStateChange != nil {
		w.onStateChange(s)
	}
}

// State returns the worker's current supervised state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start spawns the underlying process and wires message handling.
func (w *Worker) Start(ctx context.Context) error {
	transport, err := NewTransport(w.runtime, w.AgentName, w.command, w.args, w.image, w.cfg, w.logger)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.transport = transport
	w.mu.Unlock()

	transport.OnMessage(w.handleMessage)
	transport.OnExit(w.handleExit)

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("worker: start %s: %w", w.AgentName, err)
	}

	if err := transport.Send(Message{Tag: TagInit, AgentID: w.AgentName, EntryPoint: w.command, Name: w.AgentName}); err != nil {
		return fmt.Errorf("worker: send init: %w", err)
	}

	w.startHeartbeatMonitor()
	return nil
}

func (w *Worker) handleMessage(msg Message) {
	switch msg.Tag {
	case TagReady:
		w.mu.Lock()
		w.lastHeartbeat = time.Now()
		w.mu.Unlock()
		w.setState(StateReady)
		if w.onReady != nil {
			w.onReady()
		}
	case TagHeartbeat:
		w.mu.Lock()
		w.lastHeartbeat = time.Now()
		w.mu.Unlock()
	case TagLog:
		if w.onLog != nil {
			w.onLog(msg.Level, msg.Text)
		}
	case TagResult:
		w.resolveTask(msg)
	}
}

// SendTask dispatches a task to the worker and registers a pending entry
// that resolves on the matching TagResult frame or rejects on timeout.
func (w *Worker) SendTask(taskID string, task json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	resultCh := make(chan json.RawMessage, 1)
	errCh := make(chan error, 1)

	entry := &pendingTask{
		resolve: func(r json.RawMessage) { resultCh <- r },
		reject:  func(err error) { errCh <- err },
	}
	entry.timer = time.AfterFunc(timeout, func() {
		w.timeoutTask(taskID)
	})

	w.mu.Lock()
	w.pending[taskID] = entry
	transport := w.transport
	w.mu.Unlock()

	if transport == nil {
		w.rejectTask(taskID, fmt.Errorf("worker: not started"))
	} else if err := transport.Send(Message{Tag: TagTask, TaskID: taskID, Task: task}); err != nil {
		w.rejectTask(taskID, err)
	}

	select {
	case r := <-resultCh:
		return r, nil
	case err := <-errCh:
		return nil, err
	}
}

func (w *Worker) resolveTask(msg Message) {
	w.mu.Lock()
	entry, ok := w.pending[msg.TaskID]
	if ok {
		delete(w.pending, msg.TaskID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	entry.timer.Stop()
	if msg.Status == ResultError {
		entry.reject(fmt.Errorf("worker: task %s failed: %s", msg.TaskID, msg.Error))
		return
	}
	entry.resolve(msg.Result)
}

func (w *Worker) timeoutTask(taskID string) {
	w.rejectTask(taskID, ErrTaskTimeout)
}

func (w *Worker) rejectTask(taskID string, err error) {
	w.mu.Lock()
	entry, ok := w.pending[taskID]
	if ok {
		delete(w.pending, taskID)
	}
	w.mu.Unlock()
	if ok {
		entry.timer.Stop()
		entry.reject(err)
	}
}

// rejectAllPending rejects every outstanding task with ErrWorkerExited,
// guaranteeing no pending entry outlives the worker (§8 testable property).
func (w *Worker) rejectAllPending(cause error) {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]*pendingTask)
	w.mu.Unlock()
	for _, entry := range pending {
		entry.timer.Stop()
		entry.reject(cause)
	}
}

// RequestShutdown marks the worker so handleExit won't restart it.
func (w *Worker) RequestShutdown() {
	w.mu.Lock()
	w.shutdownRequested = true
	w.mu.Unlock()
}

// Terminate sends TagInit-style terminate via kill, waiting grace then
// force-killing (§4.8 agent.terminate: "send terminate, wait for exit up
// to grace, then SIGKILL").
func (w *Worker) Terminate(ctx context.Context) error {
	w.RequestShutdown()
	w.stopHeartbeatMonitor()

	w.mu.Lock()
	transport := w.transport
	w.mu.Unlock()
	if transport == nil {
		w.setState(StateTerminated)
		return nil
	}

	if err := transport.Kill(syscall.SIGTERM); err != nil {
		w.logger.Warn("worker: SIGTERM failed", "agent", w.AgentName, "error", err)
	}

	select {
	case <-time.After(w.cfg.ShutdownGracePeriod):
		_ = transport.Kill(syscall.SIGKILL)
	case <-ctx.Done():
		_ = transport.Kill(syscall.SIGKILL)
	}
	w.setState(StateTerminated)
	return nil
}

func (w *Worker) handleExit(err error) {
	w.rejectAllPending(ErrWorkerExited)
	w.stopHeartbeatMonitor()

	w.mu.Lock()
	shutdown := w.shutdownRequested
	w.mu.Unlock()

	if shutdown {
		w.setState(StateTerminated)
		return
	}

	w.mu.Lock()
	w.attempts++
	attempts := w.attempts
	w.mu.Unlock()

	if attempts > w.cfg.MaxConsecutiveRestarts {
		w.setState(StateError)
		return
	}

	w.setState(StateRestarting)
	backoff := restartBackoff(attempts, w.cfg.RestartBackoffMin, w.cfg.RestartBackoffMax)
	time.AfterFunc(backoff, func() {
		if startErr := w.Start(context.Background()); startErr != nil {
			w.logger.Error("worker: restart failed", "agent", w.AgentName, "error", startErr)
			w.setState(StateError)
		}
	})
}

// restartBackoff implements §4.6's "backoff = min(30s, 1s * 2^(attempts-1))".
func restartBackoff(attempts int, min, max time.Duration) time.Duration {
	if min <= 0 {
		min = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	d := time.Duration(float64(min) * math.Pow(2, float64(attempts-1)))
	if d > max {
		return max
	}
	if d < min {
		return min
	}
	return d
}

func (w *Worker) startHeartbeatMonitor() {
	stop := make(chan struct{})
	w.mu.Lock()
	w.heartbeatStop = stop
	w.lastHeartbeat = time.Now()
	w.mu.Unlock()

	heartbeatTimeout := 30 * time.Second
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.mu.Lock()
				stale := time.Since(w.lastHeartbeat) > heartbeatTimeout
				transport := w.transport
				w.mu.Unlock()
				if stale && transport != nil {
					w.logger.Warn("worker: missed heartbeat, killing", "agent", w.AgentName)
					_ = transport.Kill(syscall.SIGTERM)
					time.AfterFunc(5*time.Second, func() { _ = transport.Kill(syscall.SIGKILL) })
					return
				}
			}
		}
	}()
}

func (w *Worker) stopHeartbeatMonitor() {
	w.mu.Lock()
	stop := w.heartbeatStop
	w.heartbeatStop = nil
	w.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
