// Package state holds the gateway's in-memory domain records — the "arena
// of agents keyed by id" of spec §9 design notes. Workers, pending tasks,
// and cluster peers reference an Agent by AgentID rather than holding a
// pointer to it, so the object graph (agents ↔ workers ↔ pending tasks)
// stays acyclic the same way pkg/config's registries key everything by
// name instead of embedding parent pointers.
package state

import (
	"sync"
	"time"

	"github.com/agentkernel/gateway/pkg/capability"
	"github.com/agentkernel/gateway/pkg/config"
)

// AgentStatus is the lifecycle state of one spawned agent (§4.6, §4.8).
type AgentStatus string

const (
	AgentStatusSpawning   AgentStatus = "spawning"
	AgentStatusReady      AgentStatus = "ready"
	AgentStatusRunning    AgentStatus = "running"
	AgentStatusTerminated AgentStatus = "terminated"
	AgentStatusError      AgentStatus = "error"
)

// Agent is the runtime record of one spawned agent: its manifest-derived
// identity plus the mutable fields the supervisor/task router update as it
// runs. Transitions are serialized by mu so spawn/ready/task/terminate never
// observe torn state (§5 ordering guarantees).
type Agent struct {
	mu sync.Mutex

	ID          string
	Name        string
	NodeID      string
	TrustLevel  config.TrustLevel
	Permissions []capability.Permission
	Limits      config.LimitsConfig

	Status           AgentStatus
	CreatedAt        time.Time
	TerminatedAt     time.Time
	ShutdownRequested bool

	TotalInputTokens  int64
	TotalOutputTokens int64

	Metadata map[string]any
}

// NewAgent creates an Agent in the spawning state.
func NewAgent(id, name, nodeID string, trustLevel config.TrustLevel, perms []capability.Permission, limits config.LimitsConfig) *Agent {
	return &Agent{
		ID:          id,
		Name:        name,
		NodeID:      nodeID,
		TrustLevel:  trustLevel,
		Permissions: perms,
		Limits:      limits,
		Status:      AgentStatusSpawning,
		CreatedAt:   time.Now(),
		Metadata:    map[string]any{},
	}
}

// Transition moves the agent to status under its own lock, returning the
// previous status so callers can publish an agent.state.changed event with
// both ends of the transition.
func (a *Agent) Transition(status AgentStatus) AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.Status
	a.Status = status
	if status == AgentStatusTerminated || status == AgentStatusError {
		a.TerminatedAt = time.Now()
	}
	return prev
}

// RequestShutdown marks the agent as shutting down so the worker supervisor
// stops restarting it on the next exit (§4.6 "if shutdownRequested is false...").
func (a *Agent) RequestShutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ShutdownRequested = true
}

// IsShutdownRequested reports the shutdown flag (thread-safe read).
func (a *Agent) IsShutdownRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ShutdownRequested
}

// SetMetadata sets a metadata key under the agent's lock.
func (a *Agent) SetMetadata(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Metadata[key] = value
}

// GetMetadata reads a metadata key under the agent's lock.
func (a *Agent) GetMetadata(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.Metadata[key]
	return v, ok
}

// RecordUsage accumulates token usage reported by the LLM router for chat
// tasks this agent issued (used for /health's per-agent reporting and the
// persisted agents.total_input_tokens/total_output_tokens columns).
func (a *Agent) RecordUsage(inputTokens, outputTokens int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.TotalInputTokens += inputTokens
	a.TotalOutputTokens += outputTokens
}

// Snapshot returns a value copy of the agent's observable fields, safe to
// hand to a subscriber or JSON-encode without racing future transitions.
func (a *Agent) Snapshot() AgentSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AgentSnapshot{
		ID:                a.ID,
		Name:              a.Name,
		NodeID:            a.NodeID,
		TrustLevel:        a.TrustLevel,
		Status:            a.Status,
		CreatedAt:         a.CreatedAt,
		TerminatedAt:      a.TerminatedAt,
		TotalInputTokens:  a.TotalInputTokens,
		TotalOutputTokens: a.TotalOutputTokens,
	}
}

// AgentSnapshot is an immutable point-in-time view of an Agent, the shape
// persisted to the agents table and published on agent.state.changed.
type AgentSnapshot struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	NodeID            string            `json:"nodeId"`
	TrustLevel        config.TrustLevel `json:"trustLevel"`
	Status            AgentStatus       `json:"state"`
	CreatedAt         time.Time         `json:"createdAt"`
	TerminatedAt      time.Time         `json:"terminatedAt,omitempty"`
	TotalInputTokens  int64             `json:"totalInputTokens"`
	TotalOutputTokens int64             `json:"totalOutputTokens"`
}

// Registry is the process-wide arena of live agents, keyed by id. It is
// created once at startup and passed by reference (§9 "named, process-wide
// registry... tests use a reset() seam"), mirroring pkg/reliability/circuitbreaker.Registry.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Put registers or replaces the agent keyed by its ID.
func (r *Registry) Put(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
}

// Get returns the agent by id, or (nil, false) if unknown.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// Delete removes an agent from the registry (after its worker has fully exited).
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// All returns a snapshot slice of every live agent, used by /health and list operations.
func (r *Registry) All() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a)
	}
	return out
}

// Reset clears the registry; used by tests (§9 "reset() seam").
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*Agent)
}
