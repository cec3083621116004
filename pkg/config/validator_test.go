package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Engine: DefaultEngineConfig(),
		LLM:    DefaultLLMGatewayConfig(),
		Slack:  &SlackConfig{},
		MCPServerRegistry: NewMCPServerRegistry(map[string]*MCPServerConfig{
			"web-fetch": {Transport: TransportConfig{Type: TransportTypeStdio, Command: "uvx"}},
		}),
	}
}

func TestValidateAll_ValidConfig(t *testing.T) {
	assert.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAll_EngineBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.MaxConcurrentTasks = 0
	cfg.Engine.RecoveryWindow = 0

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_tasks")
	assert.Contains(t, err.Error(), "recovery_window")
}

func TestValidateAll_LLMEndpointRequired(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.Endpoint = ""

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestValidateAll_BackoffOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.BackoffMin = cfg.LLM.BackoffMax * 2

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff_min")
}

func TestValidateTransport(t *testing.T) {
	tests := []struct {
		name      string
		transport TransportConfig
		wantErr   string
	}{
		{
			name:      "stdio without command",
			transport: TransportConfig{Type: TransportTypeStdio},
			wantErr:   "transport.command",
		},
		{
			name:      "http without url",
			transport: TransportConfig{Type: TransportTypeHTTP},
			wantErr:   "transport.url",
		},
		{
			name:      "sse without url",
			transport: TransportConfig{Type: TransportTypeSSE},
			wantErr:   "transport.url",
		},
		{
			name:      "unknown type",
			transport: TransportConfig{Type: TransportType("carrier-pigeon")},
			wantErr:   "transport.type",
		},
		{
			name:      "valid stdio",
			transport: TransportConfig{Type: TransportTypeStdio, Command: "uvx"},
		},
		{
			name:      "valid http",
			transport: TransportConfig{Type: TransportTypeHTTP, URL: "http://tools.internal/mcp"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
				"under-test": {Transport: tt.transport},
			})

			err := NewValidator(cfg).ValidateAll()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateMasking(t *testing.T) {
	tests := []struct {
		name    string
		masking *MaskingConfig
		wantErr string
	}{
		{
			name:    "unknown pattern group",
			masking: &MaskingConfig{Enabled: true, PatternGroups: []string{"nonexistent"}},
			wantErr: "pattern_groups",
		},
		{
			name:    "unknown pattern",
			masking: &MaskingConfig{Enabled: true, Patterns: []string{"nonexistent"}},
			wantErr: "data_masking.patterns",
		},
		{
			name:    "code masker referenced as pattern is allowed",
			masking: &MaskingConfig{Enabled: true, Patterns: []string{"kubernetes_secret"}},
		},
		{
			name: "custom pattern must compile",
			masking: &MaskingConfig{Enabled: true, CustomPatterns: []MaskingPattern{
				{Pattern: "([unclosed", Replacement: "[MASKED]"},
			}},
			wantErr: "custom_patterns[0].pattern",
		},
		{
			name: "custom pattern requires replacement",
			masking: &MaskingConfig{Enabled: true, CustomPatterns: []MaskingPattern{
				{Pattern: `\d+`},
			}},
			wantErr: "custom_patterns[0].replacement",
		},
		{
			name:    "disabled masking skips reference checks",
			masking: &MaskingConfig{Enabled: false, PatternGroups: []string{"nonexistent"}},
		},
		{
			name:    "valid groups and patterns",
			masking: &MaskingConfig{Enabled: true, PatternGroups: []string{"basic", "identity"}, Patterns: []string{"token"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.MCPServerRegistry = NewMCPServerRegistry(map[string]*MCPServerConfig{
				"under-test": {
					Transport:   TransportConfig{Type: TransportTypeStdio, Command: "uvx"},
					DataMasking: tt.masking,
				},
			})

			err := NewValidator(cfg).ValidateAll()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
