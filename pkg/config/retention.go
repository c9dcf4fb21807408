package config

import "time"

// RetentionConfig controls audit log and terminated-agent cleanup behavior.
type RetentionConfig struct {
	// AuditLogRetentionDays is how many days to keep audit log entries
	// before they become eligible for deletion.
	AuditLogRetentionDays int `yaml:"audit_log_retention_days"`

	// TerminatedAgentTTL is the maximum age of a terminated agent record
	// before its supervisor state is purged.
	TerminatedAgentTTL time.Duration `yaml:"terminated_agent_ttl"`

	// CleanupInterval is how often the cleanup loop runs.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		AuditLogRetentionDays: 365,
		TerminatedAgentTTL:    1 * time.Hour,
		CleanupInterval:       12 * time.Hour,
	}
}
