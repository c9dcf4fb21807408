package config

import (
	"fmt"
	"sync"
)

// AgentConfig is an agent manifest as loaded from configuration (§3 AgentManifest,
// §6 agent manifest format). It is the config-layer counterpart of the runtime
// manifest validated and signed by pkg/manifest.
type AgentConfig struct {
	Description string `yaml:"description,omitempty"`

	// TrustLevel drives default policy/approval gating when the manifest
	// doesn't carry explicit permission grants for a request (§4.1, §4.8).
	TrustLevel TrustLevel `yaml:"trust_level,omitempty"`

	// Runtime selects how the supervisor isolates this agent's process.
	Runtime WorkerRuntime `yaml:"runtime,omitempty"`

	// LLMProvider names the default provider alias this agent routes through.
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// MCPServers lists the MCP server IDs this agent is allowed to attach to.
	MCPServers []string `yaml:"mcp_servers,omitempty"`

	// PermissionGrants are explicit, auditable grants layered on top of
	// whatever TrustLevel implies (§3 permissionGrants).
	PermissionGrants []PermissionGrant `yaml:"permission_grants,omitempty"`

	// Limits bounds this agent's token, memory, and cost envelope.
	Limits LimitsConfig `yaml:"limits,omitempty"`

	// Command/Args/Image configure how the worker supervisor starts this
	// agent's process; meaning depends on Runtime.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
	Image   string   `yaml:"image,omitempty"`
}

// AgentRegistry stores agent manifests in memory with thread-safe access.
type AgentRegistry struct {
	agents map[string]*AgentConfig
	mu     sync.RWMutex
}

// NewAgentRegistry creates a new agent registry from a resolved name->config map.
func NewAgentRegistry(agents map[string]*AgentConfig) *AgentRegistry {
	return &AgentRegistry{agents: agents}
}

// Get retrieves an agent manifest by name (thread-safe).
func (r *AgentRegistry) Get(name string) (*AgentConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, exists := r.agents[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return agent, nil
}

// GetAll returns all agent manifests (thread-safe, returns a copy).
func (r *AgentRegistry) GetAll() map[string]*AgentConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentConfig, len(r.agents))
	for k, v := range r.agents {
		result[k] = v
	}
	return result
}

// Has checks if an agent manifest exists in the registry (thread-safe).
func (r *AgentRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.agents[name]
	return exists
}
