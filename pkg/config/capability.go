package config

import "time"

// CapabilityConfig configures the capability manager (C2): HMAC signing key
// source and default token/delegation lifetimes (§4.2).
type CapabilityConfig struct {
	// SigningKeyEnv names the environment variable holding the HMAC-SHA-256
	// signing key used to mint and verify capability tokens.
	SigningKeyEnv string `yaml:"signing_key_env,omitempty"`

	// DefaultTokenTTL is used when a token request doesn't specify a duration.
	DefaultTokenTTL time.Duration `yaml:"default_token_ttl,omitempty"`

	// MaxTokenTTL bounds how long any single token may be valid for,
	// regardless of what the requester asks for.
	MaxTokenTTL time.Duration `yaml:"max_token_ttl,omitempty"`

	// MaxDelegationDepth bounds how many times a token may be re-delegated
	// before the capability manager refuses to mint a child token (§4.2 edge cases).
	MaxDelegationDepth int `yaml:"max_delegation_depth,omitempty"`
}

// DefaultCapabilityConfig returns built-in capability manager defaults.
func DefaultCapabilityConfig() *CapabilityConfig {
	return &CapabilityConfig{
		SigningKeyEnv:      "AGENTKERNEL_CAPABILITY_SIGNING_KEY",
		DefaultTokenTTL:    1 * time.Hour,
		MaxTokenTTL:        24 * time.Hour,
		MaxDelegationDepth: 4,
	}
}
