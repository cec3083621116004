// Package masking scrubs credentials and personal identifiers out of
// tool results and task payloads before they are merged into task data
// or appended to the event log. Events are immutable once written, so
// masking must happen on the way in — there is no scrubbing a secret
// out of history after the fact.
package masking

import (
	"log/slog"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
)

// Masker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching: parsing YAML/JSON from a tool
// result and masking context-sensitively (e.g., Secret data but not
// ConfigMap data) where a regex over the raw text cannot distinguish.
type Masker interface {
	// Name returns the unique identifier for this masker.
	// Must match the key in config.GetBuiltinConfig().CodeMaskers.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker
	// should process the data. Should be fast (string contains, not parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic and returns the masked result.
	// Must be defensive: return original data on parse/processing errors.
	Mask(data string) string
}

// TaskMaskingConfig holds task payload masking settings: the initial
// data a caller supplies at task creation, and any UI response payload,
// pass through the configured pattern group before persistence.
type TaskMaskingConfig struct {
	Enabled      bool
	PatternGroup string
}

// Service applies data masking to tool results and task payloads.
// Created once at application startup; every ruleset is resolved and
// compiled here, so the per-call path is a map lookup plus the rule
// applications themselves. Thread-safe: all state is immutable after
// construction.
type Service struct {
	serverRules map[string]*ruleset // serverID → resolved rules
	taskRules   *ruleset            // task payload rules
	codeMaskers map[string]Masker   // registered code-based maskers
}

// NewService creates a masking service with every tool server's rules
// and the task payload rules resolved and compiled up front.
func NewService(
	registry *config.MCPServerRegistry,
	taskCfg TaskMaskingConfig,
) *Service {
	catalog := compileCatalog()

	s := &Service{
		serverRules: make(map[string]*ruleset),
		taskRules:   rulesetForTaskData(catalog, taskCfg),
		codeMaskers: make(map[string]Masker),
	}

	for serverID, serverCfg := range registry.GetAll() {
		if rs := rulesetForServer(catalog, serverID, serverCfg.DataMasking); !rs.empty() {
			s.serverRules[serverID] = rs
		}
	}

	s.registerMasker(&KubernetesSecretMasker{})

	slog.Info("Masking service initialized",
		"catalog_patterns", len(catalog),
		"masked_servers", len(s.serverRules),
		"code_maskers", len(s.codeMaskers),
		"task_masking_enabled", taskCfg.Enabled)

	return s
}

// MaskToolResult applies server-specific masking to tool result content.
// Returns masked content. On masking failure, returns a redaction notice (fail-closed).
func (s *Service) MaskToolResult(content string, serverID string) string {
	if content == "" {
		return content
	}

	rules := s.serverRules[serverID]
	if rules.empty() {
		return content // No masking configured for this server
	}

	masked, err := s.applyRules(content, rules)
	if err != nil {
		slog.Error("Masking failed, redacting content (fail-closed)",
			"server", serverID, "error", err)
		return "[REDACTED: data masking failure — tool result could not be safely processed]"
	}

	return masked
}

// MaskTaskData applies masking to a task payload (initial data, UI
// response data) using the configured pattern group. Returns masked
// data. On masking failure, returns original data — a task creation
// must not be rejected because a masking pattern misbehaved, unlike
// tool results where fail-closed is the safe direction.
func (s *Service) MaskTaskData(data string) string {
	if s.taskRules.empty() || data == "" {
		return data
	}

	masked, err := s.applyRules(data, s.taskRules)
	if err != nil {
		slog.Error("Task payload masking failed, continuing with unmasked data (fail-open)",
			"error", err)
		return data
	}

	return masked
}

// applyRules applies code-based maskers then regex patterns to content.
func (s *Service) applyRules(content string, rules *ruleset) (string, error) {
	masked := content

	// Phase 1: Code-based maskers (more specific, structural awareness)
	for _, maskerName := range rules.codeMaskerNames {
		masker, ok := s.codeMaskers[maskerName]
		if !ok {
			continue
		}
		if masker.AppliesTo(masked) {
			masked = masker.Mask(masked)
		}
	}

	// Phase 2: Regex patterns (general sweep)
	for _, pattern := range rules.patterns {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}

	return masked, nil
}

// registerMasker registers a code-based masker by its name.
func (s *Service) registerMasker(m Masker) {
	s.codeMaskers[m.Name()] = m
}
