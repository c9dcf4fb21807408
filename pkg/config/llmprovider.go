package config

import (
	"fmt"
	"sync"
)

// LLMProviderConfig defines a single upstream LLM provider the router (C5)
// can dispatch requests to (§4.5).
type LLMProviderConfig struct {
	Type LLMProviderType `yaml:"type" validate:"required"`
	Name string          `yaml:"name,omitempty"`

	Model     string `yaml:"model" validate:"required"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// Vertex AI addressing (ignored by other provider types).
	ProjectEnv  string `yaml:"project_env,omitempty"`
	LocationEnv string `yaml:"location_env,omitempty"`

	// MaxToolResultTokens bounds how much of a tool result is forwarded to
	// this provider before truncation/summarization kicks in.
	MaxToolResultTokens int `yaml:"max_tool_result_tokens,omitempty"`

	// Priority orders providers within an alias group; lower runs first (§4.5).
	Priority int `yaml:"priority,omitempty"`

	// Aliases this provider answers to when an agent requests a generic
	// name like "default" or "fast" instead of a concrete provider.
	Aliases []string `yaml:"aliases,omitempty"`
}

// LLMProviderRegistry stores provider configurations in memory with
// thread-safe access.
type LLMProviderRegistry struct {
	providers map[string]*LLMProviderConfig
	mu        sync.RWMutex
}

// NewLLMProviderRegistry creates a new LLM provider registry.
func NewLLMProviderRegistry(providers map[string]*LLMProviderConfig) *LLMProviderRegistry {
	return &LLMProviderRegistry{providers: providers}
}

// Get retrieves a provider configuration by name (thread-safe).
func (r *LLMProviderRegistry) Get(name string) (*LLMProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.providers[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrLLMProviderNotFound, name)
	}
	return provider, nil
}

// GetAll returns all provider configurations (thread-safe, returns a copy).
func (r *LLMProviderRegistry) GetAll() map[string]*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*LLMProviderConfig, len(r.providers))
	for k, v := range r.providers {
		result[k] = v
	}
	return result
}

// ByAlias returns every provider configured to answer the given alias,
// ordered by ascending Priority, for router failover (§4.5).
func (r *LLMProviderRegistry) ByAlias(alias string) []*LLMProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*LLMProviderConfig
	for _, p := range r.providers {
		for _, a := range p.Aliases {
			if a == alias {
				matches = append(matches, p)
				break
			}
		}
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Priority < matches[j-1].Priority; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	return matches
}
