package config

// Config is the umbrella configuration object that encapsulates all
// registries, defaults, and configuration state. This is the primary object
// returned by Initialize() and used throughout the gateway.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults
	Defaults *Defaults

	// Component configuration sections
	Policy     *PolicyConfig
	Cluster    *ClusterConfig
	Worker     *WorkerConfig
	Capability *CapabilityConfig
	Scheduler  *SchedulerConfig
	Retention  *RetentionConfig
	Audit      *AuditConfig
	Gateway    *GatewayConfig

	// Component registries
	AgentRegistry       *AgentRegistry
	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// ConfigStats contains statistics about loaded configuration
type ConfigStats struct {
	Agents       int
	MCPServers   int
	LLMProviders int
	ScheduledJobs int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() ConfigStats {
	jobs := 0
	if c.Scheduler != nil {
		jobs = len(c.Scheduler.Jobs)
	}
	return ConfigStats{
		Agents:        len(c.AgentRegistry.GetAll()),
		MCPServers:    len(c.MCPServerRegistry.GetAll()),
		LLMProviders:  len(c.LLMProviderRegistry.GetAll()),
		ScheduledJobs: jobs,
	}
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetAgent retrieves an agent manifest by name.
// This is a convenience method that wraps AgentRegistry.Get().
func (c *Config) GetAgent(name string) (*AgentConfig, error) {
	return c.AgentRegistry.Get(name)
}

// GetMCPServer retrieves an MCP server configuration by ID.
// This is a convenience method that wraps MCPServerRegistry.Get().
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}
