package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/orchestrator/pkg/config"
)

func TestCompileCatalog_EveryBuiltinPatternCompiles(t *testing.T) {
	catalog := compileCatalog()

	assert.Equal(t, len(config.GetBuiltinConfig().MaskingPatterns), len(catalog),
		"every built-in pattern should compile")
	for name, cp := range catalog {
		assert.NotNil(t, cp.Regex, "pattern %s should have a compiled regex", name)
		assert.NotEmpty(t, cp.Replacement, "pattern %s should have a replacement", name)
	}
}

func TestRulesetForServer_GroupExpansion(t *testing.T) {
	catalog := compileCatalog()

	tests := []struct {
		name           string
		groups         []string
		minPatterns    int
		hasCodeMaskers bool
	}{
		{name: "basic group", groups: []string{"basic"}, minPatterns: 2},
		{name: "secrets group", groups: []string{"secrets"}, minPatterns: 5},
		{name: "security group", groups: []string{"security"}, minPatterns: 7},
		{name: "identity group", groups: []string{"identity"}, minPatterns: 3},
		{
			name:           "kubernetes group includes the code masker",
			groups:         []string{"kubernetes"},
			minPatterns:    3,
			hasCodeMaskers: true,
		},
		{
			name:        "overlapping groups deduplicate",
			groups:      []string{"basic", "secrets"}, // both contain api_key, password
			minPatterns: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := rulesetForServer(catalog, "s1", &config.MaskingConfig{
				Enabled:       true,
				PatternGroups: tt.groups,
			})

			assert.GreaterOrEqual(t, len(rs.patterns), tt.minPatterns)
			if tt.hasCodeMaskers {
				assert.Contains(t, rs.codeMaskerNames, "kubernetes_secret")
			}

			seen := map[string]bool{}
			for _, cp := range rs.patterns {
				assert.False(t, seen[cp.Name], "pattern %s resolved twice", cp.Name)
				seen[cp.Name] = true
			}
		})
	}
}

func TestRulesetForServer_IndividualPatternsAndDedup(t *testing.T) {
	catalog := compileCatalog()

	rs := rulesetForServer(catalog, "s1", &config.MaskingConfig{
		Enabled:       true,
		PatternGroups: []string{"basic"},     // api_key, password
		Patterns:      []string{"api_key", "email"}, // api_key duplicates the group
	})

	names := map[string]int{}
	for _, cp := range rs.patterns {
		names[cp.Name]++
	}
	assert.Equal(t, 1, names["api_key"], "api_key should apply once despite two references")
	assert.Equal(t, 1, names["email"])
	assert.Equal(t, 1, names["password"])
}

func TestRulesetForServer_CustomPatterns(t *testing.T) {
	catalog := compileCatalog()

	rs := rulesetForServer(catalog, "filing-portal", &config.MaskingConfig{
		Enabled: true,
		CustomPatterns: []config.MaskingPattern{
			{Pattern: `CASE-[0-9]{8}`, Replacement: "[MASKED_CASE_NUMBER]"},
			{Pattern: `([unclosed`, Replacement: "[MASKED]"}, // invalid: skipped, not fatal
		},
	})

	require.Len(t, rs.patterns, 1, "the invalid custom pattern is skipped")
	assert.Equal(t, "custom:filing-portal:0", rs.patterns[0].Name)
	assert.True(t, rs.patterns[0].Regex.MatchString("CASE-20260801"))
}

func TestRulesetForServer_DisabledOrMissing(t *testing.T) {
	catalog := compileCatalog()

	assert.True(t, rulesetForServer(catalog, "s1", nil).empty())
	assert.True(t, rulesetForServer(catalog, "s1", &config.MaskingConfig{
		Enabled:       false,
		PatternGroups: []string{"basic"},
	}).empty())
}

func TestRulesetForServer_UnknownReferencesResolveToNothing(t *testing.T) {
	catalog := compileCatalog()

	rs := rulesetForServer(catalog, "s1", &config.MaskingConfig{
		Enabled:       true,
		PatternGroups: []string{"nonexistent_group"},
		Patterns:      []string{"nonexistent_pattern"},
	})
	assert.True(t, rs.empty())
}

func TestRulesetForTaskData(t *testing.T) {
	catalog := compileCatalog()

	t.Run("enabled resolves the group", func(t *testing.T) {
		rs := rulesetForTaskData(catalog, TaskMaskingConfig{Enabled: true, PatternGroup: "security"})
		assert.GreaterOrEqual(t, len(rs.patterns), 7)
	})

	t.Run("disabled resolves nothing", func(t *testing.T) {
		assert.True(t, rulesetForTaskData(catalog, TaskMaskingConfig{PatternGroup: "security"}).empty())
	})

	t.Run("unknown group resolves nothing", func(t *testing.T) {
		assert.True(t, rulesetForTaskData(catalog, TaskMaskingConfig{Enabled: true, PatternGroup: "nonexistent"}).empty())
	})
}
