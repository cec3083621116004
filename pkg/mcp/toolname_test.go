package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeToolName(t *testing.T) {
	tests := []struct{ input, expected string }{
		{"web-fetch__fetch_page", "web-fetch.fetch_page"}, // provider-safe → canonical
		{"web-fetch.fetch_page", "web-fetch.fetch_page"},  // already canonical
		{"fetch_page", "fetch_page"},                      // no separator at all
		{"server.tool__name", "server.tool__name"},        // dot present: __ belongs to the tool
		{"server__tool__extra", "server.tool__extra"},     // only the first __ is the separator
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeToolName(tt.input))
		})
	}
}

func TestSplitToolName(t *testing.T) {
	t.Run("valid names", func(t *testing.T) {
		tests := []struct{ input, wantServer, wantTool string }{
			{"web-fetch.fetch_page", "web-fetch", "fetch_page"},
			{"filing-portal.submit-form", "filing-portal", "submit-form"},
			{"server1.tool2", "server1", "tool2"},
			{"my_server.my_tool", "my_server", "my_tool"},
		}
		for _, tt := range tests {
			server, tool, err := SplitToolName(tt.input)
			require.NoError(t, err, "input %q", tt.input)
			assert.Equal(t, tt.wantServer, server)
			assert.Equal(t, tt.wantTool, tool)
		}
	})

	t.Run("invalid names are rejected whole", func(t *testing.T) {
		invalid := []string{
			"",
			"filing_portal_submit", // no dot
			"server.tool.extra",    // more than one dot
			".tool",
			"server.",
			".",
			"my server.my tool", // spaces
			"-server.tool",      // must start with a word character
		}
		for _, input := range invalid {
			server, tool, err := SplitToolName(input)
			assert.Error(t, err, "input %q", input)
			assert.Empty(t, server)
			assert.Empty(t, tool)
		}
	})
}
