package masking

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
)

// CompiledPattern is one regex rule ready to apply.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// ruleset is the fully resolved masking rule list for one source of
// content: the code maskers to run first, then the regex patterns.
// Rulesets are built once at service construction — the tool server
// registry and the built-in catalog are both read-only after startup,
// so there is nothing to re-resolve per call.
type ruleset struct {
	codeMaskerNames []string
	patterns        []*CompiledPattern
}

func (rs *ruleset) empty() bool {
	return rs == nil || (len(rs.codeMaskerNames) == 0 && len(rs.patterns) == 0)
}

// compileCatalog compiles the built-in pattern catalog. Invalid
// patterns are logged and skipped; the validator rejects them at
// startup in production, so a miss here only happens in tests that
// bypass Initialize.
func compileCatalog() map[string]*CompiledPattern {
	compiled := make(map[string]*CompiledPattern)
	for name, pattern := range config.GetBuiltinConfig().MaskingPatterns {
		re, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		compiled[name] = &CompiledPattern{
			Name:        name,
			Regex:       re,
			Replacement: pattern.Replacement,
			Description: pattern.Description,
		}
	}
	return compiled
}

// rulesetBuilder accumulates one ruleset, deduplicating by rule name so
// a pattern referenced by both a group and an explicit list applies
// once.
type rulesetBuilder struct {
	catalog map[string]*CompiledPattern
	seen    map[string]bool
	rules   ruleset
}

func newRulesetBuilder(catalog map[string]*CompiledPattern) *rulesetBuilder {
	return &rulesetBuilder{catalog: catalog, seen: map[string]bool{}}
}

// addGroup expands a built-in pattern group into individual rules.
// Unknown group names add nothing — the validator reports them at
// startup; here they just can't mask.
func (b *rulesetBuilder) addGroup(groupName string) {
	for _, name := range config.GetBuiltinConfig().PatternGroups[groupName] {
		b.addRule(name)
	}
}

// addRule adds one named rule, classifying it as a code masker or a
// catalog regex.
func (b *rulesetBuilder) addRule(name string) {
	if b.seen[name] {
		return
	}
	b.seen[name] = true

	if slices.Contains(config.GetBuiltinConfig().CodeMaskers, name) {
		b.rules.codeMaskerNames = append(b.rules.codeMaskerNames, name)
		return
	}
	if cp, ok := b.catalog[name]; ok {
		b.rules.patterns = append(b.rules.patterns, cp)
	}
}

// addCustom compiles and adds one server-declared custom pattern.
// scope disambiguates the rule name in logs ("custom:<server>:<idx>").
func (b *rulesetBuilder) addCustom(scope string, idx int, pattern config.MaskingPattern) {
	name := fmt.Sprintf("custom:%s:%d", scope, idx)
	if b.seen[name] {
		return
	}
	re, err := regexp.Compile(pattern.Pattern)
	if err != nil {
		slog.Error("Failed to compile custom masking pattern, skipping",
			"pattern", name, "error", err)
		return
	}
	b.seen[name] = true
	b.rules.patterns = append(b.rules.patterns, &CompiledPattern{
		Name:        name,
		Regex:       re,
		Replacement: pattern.Replacement,
		Description: pattern.Description,
	})
}

func (b *rulesetBuilder) build() *ruleset {
	rs := b.rules
	return &rs
}

// rulesetForServer resolves one tool server's masking config into a
// ruleset, or nil when the server masks nothing.
func rulesetForServer(catalog map[string]*CompiledPattern, serverID string, cfg *config.MaskingConfig) *ruleset {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	b := newRulesetBuilder(catalog)
	for _, groupName := range cfg.PatternGroups {
		b.addGroup(groupName)
	}
	for _, name := range cfg.Patterns {
		b.addRule(name)
	}
	for i, custom := range cfg.CustomPatterns {
		b.addCustom(serverID, i, custom)
	}
	return b.build()
}

// rulesetForTaskData resolves the task payload masking group.
func rulesetForTaskData(catalog map[string]*CompiledPattern, cfg TaskMaskingConfig) *ruleset {
	if !cfg.Enabled {
		return nil
	}
	b := newRulesetBuilder(catalog)
	b.addGroup(cfg.PatternGroup)
	return b.build()
}
