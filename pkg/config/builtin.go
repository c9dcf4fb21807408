package config

import (
	"sync"
)

// BuiltinConfig holds all built-in configuration data: default agent
// manifests, MCP servers, LLM providers, and secret-masking patterns.
type BuiltinConfig struct {
	Agents          map[string]AgentConfig
	MCPServers      map[string]MCPServerConfig
	LLMProviders    map[string]LLMProviderConfig
	MaskingPatterns map[string]MaskingPattern
	PatternGroups   map[string][]string
	CodeMaskers     []string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Agents:          initBuiltinAgents(),
		MCPServers:      initBuiltinMCPServers(),
		LLMProviders:    initBuiltinLLMProviders(),
		MaskingPatterns: initBuiltinMaskingPatterns(),
		PatternGroups:   initBuiltinPatternGroups(),
		CodeMaskers:     initBuiltinCodeMaskers(),
	}
}

// initBuiltinAgents returns the gateway's built-in agent manifests. Operators
// layer their own agents on top via the user config directory; these exist so
// a fresh gateway has something runnable out of the box.
func initBuiltinAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		"filesystem-agent": {
			Description: "Reads and searches files under an allow-listed root",
			TrustLevel:  TrustLevelSupervised,
			Runtime:     WorkerRuntimeLocal,
			MCPServers:  []string{"fs-tools"},
			PermissionGrants: []PermissionGrant{
				{Category: "file", Actions: []string{"read", "list"}, Resource: "/data/**"},
			},
			Limits: LimitsConfig{
				MaxTokensPerRequest:   32000,
				TokensPerMinute:       60000,
				MaxConcurrentRequests: 2,
			},
		},
		"network-probe-agent": {
			Description: "Issues outbound HTTP probes against allow-listed hosts",
			TrustLevel:  TrustLevelSupervised,
			Runtime:     WorkerRuntimeLocal,
			MCPServers:  []string{"net-tools"},
			PermissionGrants: []PermissionGrant{
				{Category: "network", Actions: []string{"connect"}, Resource: "*.internal.example.com"},
			},
			Limits: LimitsConfig{
				MaxTokensPerRequest:   16000,
				TokensPerMinute:       30000,
				MaxConcurrentRequests: 1,
			},
		},
	}
}

func initBuiltinMCPServers() map[string]MCPServerConfig {
	return map[string]MCPServerConfig{
		"fs-tools": {
			Transport: TransportConfig{
				Type:    TransportTypeStdio,
				Command: "agentkernel-mcp-fs",
				Args:    []string{"--read-only"},
			},
			Instructions: "File tools operate relative to the agent's allow-listed roots. Listing a directory outside the allow-list returns a permission_denied tool error.",
			DataMasking: &MaskingConfig{
				Enabled:       true,
				PatternGroups: []string{"secrets"},
			},
			Summarization: &SummarizationConfig{
				Enabled:              true,
				SizeThresholdTokens:  5000,
				SummaryMaxTokenLimit: 1000,
			},
		},
		"net-tools": {
			Transport: TransportConfig{
				Type:    TransportTypeStdio,
				Command: "agentkernel-mcp-net",
			},
			Instructions: "Network tools only reach hosts present in the calling agent's network permission grants; all other targets are rejected before a connection is attempted.",
			DataMasking: &MaskingConfig{
				Enabled:       true,
				PatternGroups: []string{"security"},
			},
		},
	}
}

func initBuiltinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		"google-default": {
			Type:                LLMProviderTypeGoogle,
			Model:               "gemini-2.5-pro",
			APIKeyEnv:           "GOOGLE_API_KEY",
			MaxToolResultTokens: 950000,
		},
		"openai-default": {
			Type:                LLMProviderTypeOpenAI,
			Model:               "gpt-5",
			APIKeyEnv:           "OPENAI_API_KEY",
			MaxToolResultTokens: 250000,
		},
		"anthropic-default": {
			Type:                LLMProviderTypeAnthropic,
			Model:               "claude-sonnet-4-20250514",
			APIKeyEnv:           "ANTHROPIC_API_KEY",
			MaxToolResultTokens: 150000,
		},
		"xai-default": {
			Type:                LLMProviderTypeXAI,
			Model:               "grok-4",
			APIKeyEnv:           "XAI_API_KEY",
			MaxToolResultTokens: 200000,
		},
		"vertexai-default": {
			Type:                LLMProviderTypeVertexAI,
			Model:               "claude-sonnet-4-5@20250929",
			ProjectEnv:          "GOOGLE_CLOUD_PROJECT",
			LocationEnv:         "GOOGLE_CLOUD_LOCATION",
			MaxToolResultTokens: 150000,
		},
	}
}

func initBuiltinMaskingPatterns() map[string]MaskingPattern {
	return map[string]MaskingPattern{
		"api_key": {
			Pattern:     `(?i)(?:api[_-]?key|apikey|key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-]{20,})["\']?`,
			Replacement: `"api_key": "[MASKED_API_KEY]"`,
			Description: "API keys",
		},
		"password": {
			Pattern:     `(?i)(?:password|pwd|pass)["\']?\s*[:=]\s*["\']?([^"\'\s\n]{6,})["\']?`,
			Replacement: `"password": "[MASKED_PASSWORD]"`,
			Description: "Passwords",
		},
		"certificate": {
			Pattern:     `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`,
			Replacement: `[MASKED_CERTIFICATE]`,
			Description: "SSL/TLS certificates",
		},
		"token": {
			Pattern:     `(?i)(?:token|bearer|jwt)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"token": "[MASKED_TOKEN]"`,
			Description: "Access tokens",
		},
		"email": {
			Pattern:     `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9]+(?:[.-][A-Za-z0-9]+)*\.[A-Za-z]{2,63}\b`,
			Replacement: `[MASKED_EMAIL]`,
			Description: "Email addresses",
		},
		"ssh_key": {
			Pattern:     `ssh-(?:rsa|dss|ed25519|ecdsa)\s+[A-Za-z0-9+/=]+`,
			Replacement: `[MASKED_SSH_KEY]`,
			Description: "SSH public keys",
		},
		"private_key": {
			Pattern:     `(?i)(?:private[_-]?key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"private_key": "[MASKED_PRIVATE_KEY]"`,
			Description: "Private keys",
		},
		"secret_key": {
			Pattern:     `(?i)(?:secret[_-]?key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9_\-\.]{20,})["\']?`,
			Replacement: `"secret_key": "[MASKED_SECRET_KEY]"`,
			Description: "Secret keys",
		},
		"aws_access_key": {
			Pattern:     `(?i)(?:aws[_-]?access[_-]?key[_-]?id)["\']?\s*[:=]\s*["\']?(AKIA[A-Z0-9]{16})["\']?`,
			Replacement: `"aws_access_key_id": "[MASKED_AWS_KEY]"`,
			Description: "AWS access keys",
		},
		"aws_secret_key": {
			Pattern:     `(?i)(?:aws[_-]?secret[_-]?access[_-]?key)["\']?\s*[:=]\s*["\']?([A-Za-z0-9/+=]{40})["\']?`,
			Replacement: `"aws_secret_access_key": "[MASKED_AWS_SECRET]"`,
			Description: "AWS secret keys",
		},
		"github_token": {
			Pattern:     `(?i)(?:github[_-]?token|gh[ps]_[A-Za-z0-9_]{36,255})`,
			Replacement: `[MASKED_GITHUB_TOKEN]`,
			Description: "GitHub tokens",
		},
	}
}

// initBuiltinPatternGroups returns predefined groups of masking patterns.
// Group members can reference either MaskingPatterns (regex) or CodeMaskers
// (structural parsing, e.g. "kubeconfig_secret" in pkg/masking).
func initBuiltinPatternGroups() map[string][]string {
	return map[string][]string{
		"basic":    {"api_key", "password"},
		"secrets":  {"api_key", "password", "token", "private_key", "secret_key"},
		"security": {"api_key", "password", "token", "certificate", "email", "ssh_key"},
		"cloud":    {"aws_access_key", "aws_secret_key", "api_key", "token"},
		"all": {
			"api_key", "password", "certificate", "email", "token", "ssh_key",
			"private_key", "secret_key", "aws_access_key", "aws_secret_key", "github_token",
		},
	}
}

// initBuiltinCodeMaskers returns names of code-based maskers for complex masking
// scenarios requiring structural parsing rather than a single regex. Each name
// must match a Masker registered in pkg/masking/service.go.
func initBuiltinCodeMaskers() []string {
	return []string{
		"kubernetes_secret", // pkg/masking/kubernetes_secret.go
	}
}
