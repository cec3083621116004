package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// orchestratorYAML is the top-level shape of orchestrator.yaml, the
// single engine-level configuration file. Agent definitions and task
// templates live in their own subdirectories of the config tree
// (agents/, templates/) and are loaded by pkg/registry and
// pkg/lifecycle respectively, not here.
type orchestratorYAML struct {
	System     *systemYAML                `yaml:"system,omitempty"`
	Engine     *engineYAML                `yaml:"engine,omitempty"`
	LLM        *llmYAML                   `yaml:"llm,omitempty"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers,omitempty"`
}

// systemYAML holds deployment-level settings.
type systemYAML struct {
	Slack        *slackYAML `yaml:"slack,omitempty"`
	DashboardURL string     `yaml:"dashboard_url,omitempty"`
}

// slackYAML configures the urgent UI-request notifier.
type slackYAML struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// Initialize loads, merges, and validates the engine configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load orchestrator.yaml from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined tool servers
//  5. Resolve engine/LLM/system settings over built-in defaults
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"mcp_servers", stats.MCPServers,
		"llm_endpoint", cfg.LLM.Endpoint)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	fileCfg, err := loader.loadOrchestratorYAML()
	if err != nil {
		return nil, NewLoadError("orchestrator.yaml", err)
	}

	builtin := GetBuiltinConfig()

	mcpServers := mergeMCPServers(builtin.MCPServers, fileCfg.MCPServers)

	engineCfg := resolveEngineConfig(fileCfg.Engine)
	llmCfg := resolveLLMConfig(fileCfg.LLM)
	slackCfg := resolveSlackConfig(fileCfg.System)
	dashboardURL := resolveDashboardURL(fileCfg.System)

	return &Config{
		configDir:         configDir,
		Engine:            engineCfg,
		LLM:               llmCfg,
		Slack:             slackCfg,
		DashboardURL:      dashboardURL,
		MCPServerRegistry: NewMCPServerRegistry(mcpServers),
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

// loadOrchestratorYAML reads and parses orchestrator.yaml with env
// expansion. A missing file is not an error — built-in defaults cover
// everything — but an unreadable or malformed file is.
func (l *configLoader) loadOrchestratorYAML() (*orchestratorYAML, error) {
	path := filepath.Join(l.configDir, "orchestrator.yaml")

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		slog.Info("No orchestrator.yaml found, using built-in defaults", "path", path)
		return &orchestratorYAML{}, nil
	}
	if err != nil {
		return nil, err
	}

	expanded := ExpandEnv(data)

	var cfg orchestratorYAML
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &cfg, nil
}

// resolveEngineConfig overlays user engine settings on the defaults.
func resolveEngineConfig(y *engineYAML) *EngineConfig {
	cfg := DefaultEngineConfig()
	if y == nil {
		return cfg
	}

	if y.MaxConcurrentTasks > 0 {
		cfg.MaxConcurrentTasks = y.MaxConcurrentTasks
	}
	if y.MaxSubtaskRetries > 0 {
		cfg.MaxSubtaskRetries = y.MaxSubtaskRetries
	}
	overlayDuration(&cfg.SubtaskTimeout, y.SubtaskTimeout, "engine.subtask_timeout")
	overlayDuration(&cfg.UIResponseTimeout, y.UIResponseTimeout, "engine.ui_response_timeout")
	overlayDuration(&cfg.RecoveryWindow, y.RecoveryWindow, "engine.recovery_window")
	overlayDuration(&cfg.GracefulShutdownTimeout, y.GracefulShutdownTimeout, "engine.graceful_shutdown_timeout")
	return cfg
}

// resolveLLMConfig overlays user gateway settings on the defaults.
func resolveLLMConfig(y *llmYAML) *LLMGatewayConfig {
	cfg := DefaultLLMGatewayConfig()
	if y == nil {
		return cfg
	}

	if y.Endpoint != "" {
		cfg.Endpoint = y.Endpoint
	}
	if y.Model != "" {
		cfg.Model = y.Model
	}
	if y.MaxAttempts > 0 {
		cfg.MaxAttempts = y.MaxAttempts
	}
	overlayDuration(&cfg.RequestTimeout, y.RequestTimeout, "llm.request_timeout")
	overlayDuration(&cfg.BackoffMin, y.BackoffMin, "llm.backoff_min")
	overlayDuration(&cfg.BackoffMax, y.BackoffMax, "llm.backoff_max")
	return cfg
}

// overlayDuration parses a "15m"-style string onto dst, keeping the
// default and warning on a malformed value rather than failing startup.
func overlayDuration(dst *time.Duration, value, field string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field,
			"value", value,
			"default", *dst,
			"error", err)
		return
	}
	*dst = d
}

// resolveSlackConfig resolves Slack configuration from system YAML, applying defaults.
func resolveSlackConfig(sys *systemYAML) *SlackConfig {
	cfg := &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if sys == nil || sys.Slack == nil {
		return cfg
	}

	s := sys.Slack
	if s.Enabled != nil {
		cfg.Enabled = *s.Enabled
	}
	if s.TokenEnv != "" {
		cfg.TokenEnv = s.TokenEnv
	}
	if s.Channel != "" {
		cfg.Channel = s.Channel
	}

	return cfg
}

// resolveDashboardURL resolves the dashboard base URL from system YAML, applying defaults.
func resolveDashboardURL(sys *systemYAML) string {
	if sys != nil && sys.DashboardURL != "" {
		return sys.DashboardURL
	}
	return "http://localhost:5173"
}
