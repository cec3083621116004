package config

// Config is the root configuration object assembled by Initialize.
// Read-only after initialization; every subsystem receives the slice of
// it that it needs at construction time rather than reaching for a
// global.
type Config struct {
	configDir string

	Engine       *EngineConfig
	LLM          *LLMGatewayConfig
	Slack        *SlackConfig
	DashboardURL string

	MCPServerRegistry *MCPServerRegistry
}

// ConfigStats summarizes loaded configuration for the health endpoint.
type ConfigStats struct {
	MCPServers int
}

// Stats returns counts of loaded components.
func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		MCPServers: c.MCPServerRegistry.Len(),
	}
}

// ConfigDir returns the directory this configuration was loaded from,
// so the agent registry and template catalog can scan their own
// subdirectories of the same tree.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetMCPServer retrieves a tool server configuration by ID.
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}
