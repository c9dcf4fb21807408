package config

// Shared types used across configuration structs

// TransportConfig defines MCP server transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	VerifySSL   *bool  `yaml:"verify_ssl,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// MaskingConfig defines data masking configuration for MCP servers
type MaskingConfig struct {
	Enabled        bool             `yaml:"enabled"`
	PatternGroups  []string         `yaml:"pattern_groups,omitempty"`
	Patterns       []string         `yaml:"patterns,omitempty"`
	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MaskingPattern defines a regex-based masking pattern
type MaskingPattern struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" validate:"required"`
	Description string `yaml:"description,omitempty"`
}

// SummarizationConfig defines when and how to summarize large MCP responses
type SummarizationConfig struct {
	Enabled              bool `yaml:"enabled"`
	SizeThresholdTokens  int  `yaml:"size_threshold_tokens,omitempty" validate:"omitempty,min=100"`
	SummaryMaxTokenLimit int  `yaml:"summary_max_token_limit,omitempty" validate:"omitempty,min=50"`
}

// PermissionGrant is an explicit, auditable permission grant attached to an
// agent manifest (§3 permissionGrants). Grants take precedence over
// trustLevel-implied permissions — see DESIGN.md Open Question #2.
type PermissionGrant struct {
	Category    string            `yaml:"category" validate:"required"`
	Actions     []string          `yaml:"actions" validate:"required"`
	Resource    string            `yaml:"resource,omitempty"`
	Constraints map[string]string `yaml:"constraints,omitempty"`
}

// LimitsConfig bounds an agent's resource and spend envelope (§3 limits).
type LimitsConfig struct {
	MaxTokensPerRequest   int     `yaml:"max_tokens_per_request,omitempty"`
	TokensPerMinute       int     `yaml:"tokens_per_minute,omitempty"`
	MaxMemoryMB           int     `yaml:"max_memory_mb,omitempty"`
	MaxConcurrentRequests int     `yaml:"max_concurrent_requests,omitempty"`
	CostBudgetUSD         float64 `yaml:"cost_budget_usd,omitempty"`
	CPUCores              float64 `yaml:"cpu_cores,omitempty"`
	DiskQuotaMB           int     `yaml:"disk_quota_mb,omitempty"`
}
