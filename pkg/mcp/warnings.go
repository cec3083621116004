package mcp

import "sync"

// WarningCategoryMCPHealth tags warnings raised by the health monitor, as
// opposed to other subsystems that might share the same sink in a larger
// deployment.
const WarningCategoryMCPHealth = "mcp_health"

// Warning is one system-level warning surfaced for operator visibility.
// Kept local to pkg/mcp — the health monitor only needs somewhere to
// record and clear them; exposing them over HTTP is the entrypoint's
// concern, not this package's.
type Warning struct {
	Category string
	Message  string
	Detail   string
	ServerID string
}

// WarningSink accumulates and clears warnings. The health monitor depends
// on this narrow interface rather than a concrete service so callers that
// don't care about warning visibility can pass a no-op implementation.
type WarningSink interface {
	AddWarning(category, message, detail, serverID string)
	ClearByServerID(category, serverID string)
}

// SystemWarnings is an in-memory WarningSink keyed by (category, serverID)
// so a recurring health-check failure doesn't pile up duplicate entries.
type SystemWarnings struct {
	mu       sync.Mutex
	warnings map[string]Warning
}

// NewSystemWarnings returns an empty warning sink.
func NewSystemWarnings() *SystemWarnings {
	return &SystemWarnings{warnings: map[string]Warning{}}
}

func warningKey(category, serverID string) string { return category + "|" + serverID }

// AddWarning records or replaces the warning for (category, serverID).
func (s *SystemWarnings) AddWarning(category, message, detail, serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings[warningKey(category, serverID)] = Warning{
		Category: category,
		Message:  message,
		Detail:   detail,
		ServerID: serverID,
	}
}

// ClearByServerID removes the warning for (category, serverID), if any.
func (s *SystemWarnings) ClearByServerID(category, serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.warnings, warningKey(category, serverID))
}

// GetWarnings returns every currently-recorded warning, in no particular order.
func (s *SystemWarnings) GetWarnings() []Warning {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Warning, 0, len(s.warnings))
	for _, w := range s.warnings {
		out = append(out, w)
	}
	return out
}

// noopWarnings discards every warning; used when a caller wires no sink.
type noopWarnings struct{}

func (noopWarnings) AddWarning(string, string, string, string) {}
func (noopWarnings) ClearByServerID(string, string)             {}
