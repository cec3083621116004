package config

import (
	"errors"
	"fmt"
	"regexp"
)

// Validator performs comprehensive validation on a loaded Config.
// Errors are collected rather than returned on first failure, so one
// startup attempt reports every problem in the tree at once.
type Validator struct {
	cfg  *Config
	errs []error
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every component and returns the aggregate of
// all collected errors, or nil if the configuration is sound.
func (v *Validator) ValidateAll() error {
	v.validateEngine()
	v.validateLLM()
	v.validateMCPServers()

	if len(v.errs) > 0 {
		return errors.Join(v.errs...)
	}
	return nil
}

func (v *Validator) addError(component, id, field string, err error) {
	v.errs = append(v.errs, NewValidationError(component, id, field, err))
}

func (v *Validator) validateEngine() {
	e := v.cfg.Engine
	if e.MaxConcurrentTasks < 1 {
		v.addError("engine", "engine", "max_concurrent_tasks", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if e.MaxSubtaskRetries < 1 {
		v.addError("engine", "engine", "max_subtask_retries", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if e.SubtaskTimeout <= 0 {
		v.addError("engine", "engine", "subtask_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if e.UIResponseTimeout <= 0 {
		v.addError("engine", "engine", "ui_response_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if e.RecoveryWindow <= 0 {
		v.addError("engine", "engine", "recovery_window", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
}

func (v *Validator) validateLLM() {
	l := v.cfg.LLM
	if l.Endpoint == "" {
		v.addError("llm", "gateway", "endpoint", ErrMissingRequiredField)
	}
	if l.MaxAttempts < 1 {
		v.addError("llm", "gateway", "max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if l.BackoffMin > l.BackoffMax {
		v.addError("llm", "gateway", "backoff_min", fmt.Errorf("%w: backoff_min exceeds backoff_max", ErrInvalidValue))
	}
}

func (v *Validator) validateMCPServers() {
	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		v.validateTransport(serverID, server.Transport)
		if server.DataMasking != nil {
			v.validateMasking(serverID, server.DataMasking)
		}
	}
}

func (v *Validator) validateTransport(serverID string, t TransportConfig) {
	if !t.Type.IsValid() {
		v.addError("mcp_server", serverID, "transport.type",
			fmt.Errorf("%w: %q (must be stdio, http, or sse)", ErrInvalidValue, t.Type))
		return
	}

	switch t.Type {
	case TransportTypeStdio:
		if t.Command == "" {
			v.addError("mcp_server", serverID, "transport.command",
				fmt.Errorf("%w: stdio transport requires a command", ErrMissingRequiredField))
		}
	case TransportTypeHTTP, TransportTypeSSE:
		if t.URL == "" {
			v.addError("mcp_server", serverID, "transport.url",
				fmt.Errorf("%w: %s transport requires a url", ErrMissingRequiredField, t.Type))
		}
	}
}

// validateMasking checks that every referenced pattern and group exists
// in the built-in catalog (or, for code maskers, is a registered masker
// name), and that custom patterns actually compile. A typo here must
// fail startup: a masking rule that silently never matches would leak
// the very credentials it was configured to scrub into the immutable
// event log.
func (v *Validator) validateMasking(serverID string, m *MaskingConfig) {
	if !m.Enabled {
		return
	}

	builtin := GetBuiltinConfig()
	codeMaskers := make(map[string]bool, len(builtin.CodeMaskers))
	for _, name := range builtin.CodeMaskers {
		codeMaskers[name] = true
	}

	for _, groupName := range m.PatternGroups {
		if _, exists := builtin.PatternGroups[groupName]; !exists {
			v.addError("mcp_server", serverID, "data_masking.pattern_groups",
				fmt.Errorf("%w: unknown pattern group %q", ErrInvalidReference, groupName))
		}
	}

	for _, patternName := range m.Patterns {
		if _, exists := builtin.MaskingPatterns[patternName]; !exists && !codeMaskers[patternName] {
			v.addError("mcp_server", serverID, "data_masking.patterns",
				fmt.Errorf("%w: unknown masking pattern %q", ErrInvalidReference, patternName))
		}
	}

	for i, custom := range m.CustomPatterns {
		if custom.Pattern == "" {
			v.addError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].pattern", i), ErrMissingRequiredField)
			continue
		}
		if custom.Replacement == "" {
			v.addError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].replacement", i), ErrMissingRequiredField)
		}
		if _, err := regexp.Compile(custom.Pattern); err != nil {
			v.addError("mcp_server", serverID, fmt.Sprintf("data_masking.custom_patterns[%d].pattern", i),
				fmt.Errorf("%w: %v", ErrInvalidValue, err))
		}
	}
}
