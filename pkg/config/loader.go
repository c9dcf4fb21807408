package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// DefaultSizeThresholdTokens is applied to an MCP server's summarization
// config when it enables summarization but omits a size threshold.
const DefaultSizeThresholdTokens = 5000

// GatewayYAMLConfig represents the complete gateway.yaml file structure.
type GatewayYAMLConfig struct {
	System     *SystemYAMLConfig          `yaml:"system"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	Agents     map[string]AgentConfig     `yaml:"agents"`
	Defaults   *Defaults                  `yaml:"defaults"`
	Policy     *PolicyConfig              `yaml:"policy"`
	Cluster    *ClusterConfig             `yaml:"cluster"`
	Worker     *WorkerConfig              `yaml:"worker"`
	Capability *CapabilityConfig          `yaml:"capability"`
	Scheduler  *SchedulerConfig           `yaml:"scheduler"`
	Audit      *AuditConfig               `yaml:"audit"`
	Gateway    *GatewayConfig             `yaml:"gateway"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	AllowedWSOrigins []string         `yaml:"allowed_ws_origins"`
	Retention        *RetentionConfig `yaml:"retention"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Apply MCP server defaults (e.g. size_threshold_tokens)
//  6. Build in-memory registries
//  7. Apply default values
//  8. Validate all configuration
//  9. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders,
		"scheduled_jobs", stats.ScheduledJobs)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	gatewayConfig, err := loader.loadGatewayYAML()
	if err != nil {
		return nil, NewLoadError("gateway.yaml", err)
	}

	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	builtin := GetBuiltinConfig()

	agents := mergeAgents(builtin.Agents, gatewayConfig.Agents)
	mcpServers := mergeMCPServers(builtin.MCPServers, gatewayConfig.MCPServers)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)

	for _, server := range mcpServers {
		if server.Summarization != nil && server.Summarization.Enabled && server.Summarization.SizeThresholdTokens == 0 {
			server.Summarization.SizeThresholdTokens = DefaultSizeThresholdTokens
		}
	}

	agentRegistry := NewAgentRegistry(agents)
	mcpServerRegistry := NewMCPServerRegistry(mcpServers)
	llmProviderRegistry := NewLLMProviderRegistry(llmProvidersMerged)

	defaults := gatewayConfig.Defaults
	if defaults == nil {
		defaults = &Defaults{}
	}
	if defaults.TrustLevel == "" {
		defaults.TrustLevel = TrustLevelSupervised
	}
	if defaults.WorkerRuntime == "" {
		defaults.WorkerRuntime = WorkerRuntimeLocal
	}
	if defaults.SecretMasking == nil {
		defaults.SecretMasking = &SecretMaskingDefaults{
			Enabled:      true,
			PatternGroup: "security",
		}
	}

	policyCfg := gatewayConfig.Policy
	if policyCfg == nil {
		policyCfg = &PolicyConfig{RuleSetPath: filepath.Join(configDir, "policy.yaml"), DefaultDecision: DecisionBlock}
	}

	clusterCfg := DefaultClusterConfig()
	if gatewayConfig.Cluster != nil {
		if err := mergo.Merge(clusterCfg, gatewayConfig.Cluster, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge cluster config: %w", err)
		}
	}

	workerCfg := DefaultWorkerConfig()
	if gatewayConfig.Worker != nil {
		if err := mergo.Merge(workerCfg, gatewayConfig.Worker, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge worker config: %w", err)
		}
	}

	capabilityCfg := DefaultCapabilityConfig()
	if gatewayConfig.Capability != nil {
		if err := mergo.Merge(capabilityCfg, gatewayConfig.Capability, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge capability config: %w", err)
		}
	}

	schedulerCfg := DefaultSchedulerConfig()
	if gatewayConfig.Scheduler != nil {
		if err := mergo.Merge(schedulerCfg, gatewayConfig.Scheduler, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}

	retentionCfg := resolveRetentionConfig(gatewayConfig.System)

	auditCfg := DefaultAuditConfig()
	if gatewayConfig.Audit != nil {
		if err := mergo.Merge(auditCfg, gatewayConfig.Audit, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge audit config: %w", err)
		}
	}

	gatewayCfg := DefaultGatewayConfig()
	if gatewayConfig.Gateway != nil {
		if err := mergo.Merge(gatewayCfg, gatewayConfig.Gateway, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge gateway config: %w", err)
		}
	}

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		Policy:              policyCfg,
		Cluster:             clusterCfg,
		Worker:              workerCfg,
		Capability:          capabilityCfg,
		Scheduler:           schedulerCfg,
		Retention:           retentionCfg,
		Audit:               auditCfg,
		Gateway:             gatewayCfg,
		AgentRegistry:       agentRegistry,
		MCPServerRegistry:   mcpServerRegistry,
		LLMProviderRegistry: llmProviderRegistry,
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using ${VAR} / $VAR syntax.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadGatewayYAML() (*GatewayYAMLConfig, error) {
	var config GatewayYAMLConfig

	config.MCPServers = make(map[string]MCPServerConfig)
	config.Agents = make(map[string]AgentConfig)

	if err := l.loadYAML("gateway.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		return nil, err
	}

	return config.LLMProviders, nil
}

// resolveRetentionConfig resolves retention configuration from system YAML, applying defaults.
func resolveRetentionConfig(sys *SystemYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if sys == nil || sys.Retention == nil {
		return cfg
	}

	r := sys.Retention
	if r.AuditLogRetentionDays > 0 {
		cfg.AuditLogRetentionDays = r.AuditLogRetentionDays
	}
	if r.TerminatedAgentTTL > 0 {
		cfg.TerminatedAgentTTL = r.TerminatedAgentTTL
	}
	if r.CleanupInterval > 0 {
		cfg.CleanupInterval = r.CleanupInterval
	}

	return cfg
}
