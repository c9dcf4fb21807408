package config

// mergeAgents merges built-in and user-defined agent manifests.
// User-defined agents override built-in agents with the same name.
func mergeAgents(builtinAgents map[string]AgentConfig, userAgents map[string]AgentConfig) map[string]*AgentConfig {
	result := make(map[string]*AgentConfig)

	for name, builtin := range builtinAgents {
		mcpCopy := make([]string, len(builtin.MCPServers))
		copy(mcpCopy, builtin.MCPServers)
		grantsCopy := make([]PermissionGrant, len(builtin.PermissionGrants))
		copy(grantsCopy, builtin.PermissionGrants)
		entry := builtin
		entry.MCPServers = mcpCopy
		entry.PermissionGrants = grantsCopy
		result[name] = &entry
	}

	for name, userAgent := range userAgents {
		agentCopy := userAgent
		result[name] = &agentCopy
	}

	return result
}

// mergeMCPServers merges built-in and user-defined MCP server configurations.
// User-defined servers override built-in servers with the same ID.
func mergeMCPServers(builtinServers map[string]MCPServerConfig, userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig)

	// First, add built-in servers
	for id, server := range builtinServers {
		serverCopy := server
		result[id] = &serverCopy
	}

	// Then, override with user-defined servers (or add new ones)
	for id, userServer := range userServers {
		serverCopy := userServer
		result[id] = &serverCopy
	}

	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	// First, add built-in providers
	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}
