package worker

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/agentkernel/gateway/pkg/config"
)

// Supervisor enforces "at most one worker per agent" (§4.6 invariant) and
// gives pkg/taskrouter/pkg/gateway a single place to look workers up by
// agent name.
type Supervisor struct {
	mu      sync.Mutex
	workers map[string]*Worker
	cfg     *config.WorkerConfig
	logger  *slog.Logger
}

// NewSupervisor creates an empty worker supervisor.
func NewSupervisor(cfg *config.WorkerConfig, logger *slog.Logger) *Supervisor {
	if cfg == nil {
		cfg = config.DefaultWorkerConfig()
	}
	return &Supervisor{workers: make(map[string]*Worker), cfg: cfg, logger: logger}
}

// Spawn creates and starts a worker for agentName, rejecting a second
// concurrent worker for the same agent.
func (s *Supervisor) Spawn(agentName string, runtime config.WorkerRuntime, command string, args []string, image string) (*Worker, error) {
	s.mu.Lock()
	if existing, ok := s.workers[agentName]; ok && existing.State() != StateTerminated && existing.State() != StateError {
		s.mu.Unlock()
		return nil, fmt.Errorf("worker: agent %s already has an active worker", agentName)
	}
	w := NewWorker(agentName, runtime, command, args, image, s.cfg, s.logger)
	s.workers[agentName] = w
	s.mu.Unlock()

	return w, nil
}

// Get returns the worker for agentName, if any.
func (s *Supervisor) Get(agentName string) (*Worker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[agentName]
	return w, ok
}

// Remove drops agentName's worker entry, e.g. after confirmed termination.
func (s *Supervisor) Remove(agentName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, agentName)
}

// All returns every currently tracked worker.
func (s *Supervisor) All() []*Worker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}
