package config

import (
	"fmt"
	"os"
)

// Validator validates configuration comprehensively with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast — stops at first error)
func (v *Validator) ValidateAll() error {
	// Validate in dependency order: mcp servers → llm providers → agents →
	// policy → capability → audit → cluster → worker → scheduler → defaults
	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}

	if err := v.validatePolicy(); err != nil {
		return fmt.Errorf("policy validation failed: %w", err)
	}

	if err := v.validateCapability(); err != nil {
		return fmt.Errorf("capability validation failed: %w", err)
	}

	if err := v.validateAudit(); err != nil {
		return fmt.Errorf("audit validation failed: %w", err)
	}

	if err := v.validateCluster(); err != nil {
		return fmt.Errorf("cluster validation failed: %w", err)
	}

	if err := v.validateWorker(); err != nil {
		return fmt.Errorf("worker validation failed: %w", err)
	}

	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}

	if err := v.validateDefaults(); err != nil {
		return fmt.Errorf("defaults validation failed: %w", err)
	}

	return nil
}

func (v *Validator) validateAgents() error {
	for name, agent := range v.cfg.AgentRegistry.GetAll() {
		for _, serverID := range agent.MCPServers {
			if !v.cfg.MCPServerRegistry.Has(serverID) {
				return NewValidationError("agent", name, "mcp_servers", fmt.Errorf("MCP server '%s' not found", serverID))
			}
		}

		if agent.TrustLevel != "" && !agent.TrustLevel.IsValid() {
			return NewValidationError("agent", name, "trust_level", fmt.Errorf("invalid trust level: %s", agent.TrustLevel))
		}

		if !agent.Runtime.IsValid() {
			return NewValidationError("agent", name, "runtime", fmt.Errorf("invalid runtime: %s", agent.Runtime))
		}

		if agent.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(agent.LLMProvider) {
			return NewValidationError("agent", name, "llm_provider", fmt.Errorf("LLM provider '%s' not found", agent.LLMProvider))
		}

		if agent.Runtime == WorkerRuntimeLocal && agent.Command == "" {
			return NewValidationError("agent", name, "command", fmt.Errorf("command required for local runtime"))
		}
		if agent.Runtime == WorkerRuntimeContainer && agent.Image == "" {
			return NewValidationError("agent", name, "image", fmt.Errorf("image required for container runtime"))
		}

		for i, grant := range agent.PermissionGrants {
			if grant.Category == "" {
				return NewValidationError("agent", name, fmt.Sprintf("permission_grants[%d].category", i), fmt.Errorf("category required"))
			}
			if len(grant.Actions) == 0 {
				return NewValidationError("agent", name, fmt.Sprintf("permission_grants[%d].actions", i), fmt.Errorf("at least one action required"))
			}
		}
	}

	return nil
}

func (v *Validator) validateMCPServers() error {
	builtin := GetBuiltinConfig()

	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("invalid transport type: %s", server.Transport.Type))
		}

		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", serverID, "transport.command", fmt.Errorf("command required for stdio transport"))
			}

		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("url required for %s transport", server.Transport.Type))
			}
		}

		if server.DataMasking != nil && server.DataMasking.Enabled {
			for _, groupName := range server.DataMasking.PatternGroups {
				if _, exists := builtin.PatternGroups[groupName]; !exists {
					return NewValidationError("mcp_server", serverID, "data_masking.pattern_groups", fmt.Errorf("pattern group '%s' not found", groupName))
				}
			}

			for _, patternName := range server.DataMasking.Patterns {
				if _, exists := builtin.MaskingPatterns[patternName]; !exists {
					return NewValidationError("mcp_server", serverID, "data_masking.patterns", fmt.Errorf("pattern '%s' not found", patternName))
				}
			}

			for i, pattern := range server.DataMasking.CustomPatterns {
				if pattern.Pattern == "" {
					return NewValidationError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].pattern", i), fmt.Errorf("pattern required"))
				}
				if pattern.Replacement == "" {
					return NewValidationError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].replacement", i), fmt.Errorf("replacement required"))
				}
			}
		}

		if server.Summarization != nil && server.Summarization.Enabled {
			if server.Summarization.SizeThresholdTokens < 100 {
				return NewValidationError("mcp_server", serverID, "summarization.size_threshold_tokens", fmt.Errorf("must be at least 100"))
			}
			if server.Summarization.SummaryMaxTokenLimit > 0 && server.Summarization.SummaryMaxTokenLimit < 50 {
				return NewValidationError("mcp_server", serverID, "summarization.summary_max_token_limit", fmt.Errorf("must be at least 50 if specified"))
			}
		}
	}

	return nil
}

func (v *Validator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid provider type: %s", provider.Type))
		}

		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model required"))
		}

		if provider.APIKeyEnv != "" {
			if value := os.Getenv(provider.APIKeyEnv); value == "" {
				return NewValidationError("llm_provider", name, "api_key_env", fmt.Errorf("environment variable %s is not set", provider.APIKeyEnv))
			}
		}

		if provider.Type == LLMProviderTypeVertexAI {
			if provider.ProjectEnv != "" && os.Getenv(provider.ProjectEnv) == "" {
				return NewValidationError("llm_provider", name, "project_env", fmt.Errorf("environment variable %s is not set", provider.ProjectEnv))
			}
			if provider.LocationEnv != "" && os.Getenv(provider.LocationEnv) == "" {
				return NewValidationError("llm_provider", name, "location_env", fmt.Errorf("environment variable %s is not set", provider.LocationEnv))
			}
		}

		if provider.MaxToolResultTokens < 1000 {
			return NewValidationError("llm_provider", name, "max_tool_result_tokens", fmt.Errorf("must be at least 1000"))
		}
	}

	return nil
}

func (v *Validator) validatePolicy() error {
	p := v.cfg.Policy
	if p == nil {
		return fmt.Errorf("policy configuration is nil")
	}
	if p.RuleSetPath == "" && p.Template == "" {
		return fmt.Errorf("either rule_set_path or template is required")
	}
	if p.RuleSetPath != "" && p.Template != "" {
		return fmt.Errorf("rule_set_path and template are mutually exclusive")
	}
	if p.Template != "" {
		switch p.Template {
		case "strict", "balanced", "permissive":
		default:
			return fmt.Errorf("template must be strict, balanced, or permissive, got %q", p.Template)
		}
	}
	if p.DefaultDecision != "" && !p.DefaultDecision.IsValid() {
		return fmt.Errorf("default_decision must be allow, block, or approve, got %q", p.DefaultDecision)
	}
	return nil
}

func (v *Validator) validateCapability() error {
	c := v.cfg.Capability
	if c == nil {
		return fmt.Errorf("capability configuration is nil")
	}
	if c.SigningKeyEnv == "" {
		return fmt.Errorf("signing_key_env is required")
	}
	if os.Getenv(c.SigningKeyEnv) == "" {
		return fmt.Errorf("environment variable %s is not set", c.SigningKeyEnv)
	}
	if c.DefaultTokenTTL <= 0 {
		return fmt.Errorf("default_token_ttl must be positive, got %v", c.DefaultTokenTTL)
	}
	if c.MaxTokenTTL < c.DefaultTokenTTL {
		return fmt.Errorf("max_token_ttl must be >= default_token_ttl")
	}
	if c.MaxDelegationDepth < 0 {
		return fmt.Errorf("max_delegation_depth must be non-negative")
	}
	return nil
}

func (v *Validator) validateCluster() error {
	c := v.cfg.Cluster
	if c == nil {
		return fmt.Errorf("cluster configuration is nil")
	}
	if c.AdvisoryLockKey == "" {
		return fmt.Errorf("advisory_lock_key is required")
	}
	if c.LeaderLeaseInterval <= 0 {
		return fmt.Errorf("leader_lease_interval must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat_interval must be positive")
	}
	if c.NodeStaleThreshold <= c.HeartbeatInterval {
		return fmt.Errorf("node_stale_threshold must be greater than heartbeat_interval")
	}
	return nil
}

func (v *Validator) validateWorker() error {
	w := v.cfg.Worker
	if w == nil {
		return fmt.Errorf("worker configuration is nil")
	}
	if !w.DefaultRuntime.IsValid() {
		return fmt.Errorf("default_runtime invalid: %s", w.DefaultRuntime)
	}
	if w.StartupTimeout <= 0 {
		return fmt.Errorf("startup_timeout must be positive")
	}
	if w.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown_grace_period must be positive")
	}
	if w.RestartBackoffMin <= 0 || w.RestartBackoffMax < w.RestartBackoffMin {
		return fmt.Errorf("restart_backoff_min must be positive and <= restart_backoff_max")
	}
	if w.MaxConsecutiveRestarts < 1 {
		return fmt.Errorf("max_consecutive_restarts must be at least 1")
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s == nil {
		return fmt.Errorf("scheduler configuration is nil")
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", s.PollInterval)
	}
	if s.PollIntervalJitter < 0 || s.PollIntervalJitter >= s.PollInterval {
		return fmt.Errorf("poll_interval_jitter must be non-negative and less than poll_interval")
	}
	if s.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be positive")
	}

	seen := make(map[string]bool)
	for i, job := range s.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d].name is required", i)
		}
		if seen[job.Name] {
			return fmt.Errorf("jobs[%d]: duplicate job name %q", i, job.Name)
		}
		seen[job.Name] = true
		if job.Interval <= 0 {
			return fmt.Errorf("job %q: interval must be positive", job.Name)
		}
	}
	return nil
}

func (v *Validator) validateAudit() error {
	a := v.cfg.Audit
	if a == nil {
		return fmt.Errorf("audit configuration is nil")
	}
	if a.FlushInterval <= 0 {
		return fmt.Errorf("flush_interval must be positive, got %v", a.FlushInterval)
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be positive, got %d", a.BufferSize)
	}
	if a.HighWaterMark < a.BufferSize {
		return fmt.Errorf("high_water_mark must be >= buffer_size")
	}
	if a.RingSize <= 0 {
		return fmt.Errorf("ring_size must be positive, got %d", a.RingSize)
	}
	return nil
}

func (v *Validator) validateDefaults() error {
	defaults := v.cfg.Defaults
	if defaults == nil {
		return nil
	}

	if defaults.TrustLevel != "" && !defaults.TrustLevel.IsValid() {
		return NewValidationError("defaults", "", "trust_level", fmt.Errorf("invalid trust level: %s", defaults.TrustLevel))
	}

	if defaults.WorkerRuntime != "" && !defaults.WorkerRuntime.IsValid() {
		return NewValidationError("defaults", "", "worker_runtime", fmt.Errorf("invalid worker runtime: %s", defaults.WorkerRuntime))
	}

	if defaults.SecretMasking != nil && defaults.SecretMasking.Enabled {
		builtin := GetBuiltinConfig()
		groupName := defaults.SecretMasking.PatternGroup
		if groupName == "" {
			return NewValidationError("defaults", "", "secret_masking.pattern_group",
				fmt.Errorf("pattern_group is required when secret masking is enabled"))
		}
		if _, exists := builtin.PatternGroups[groupName]; !exists {
			return NewValidationError("defaults", "", "secret_masking.pattern_group",
				fmt.Errorf("pattern group '%s' not found in built-in groups", groupName))
		}
	}

	return nil
}
