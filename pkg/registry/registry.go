// Package registry holds the agent catalog: definitions discovered at
// startup from a configured directory, layered over a built-in default
// set, and indexed by capability for planner/dispatcher lookup.
// Read-only after Load; a configuration reload replaces the whole
// catalog rather than mutating it under readers.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ErrAgentNotFound is returned by Get for an unknown agent_id.
var ErrAgentNotFound = fmt.Errorf("registry: agent not found")

// ErrDuplicateAgent is returned by Load when two sources define the
// same agent_id at the same version.
var ErrDuplicateAgent = fmt.Errorf("registry: duplicate agent definition")

// Definition describes one specialized agent the dispatcher can invoke.
type Definition struct {
	AgentID      string   `yaml:"agent_id"`
	Version      string   `yaml:"version"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	Instruction  string   `yaml:"instruction"`
	MaxIterations int     `yaml:"max_iterations,omitempty"`
}

func (d Definition) clone() Definition {
	c := d
	if len(d.Capabilities) > 0 {
		c.Capabilities = append([]string(nil), d.Capabilities...)
	}
	return c
}

// fileDefinitions is the shape of one agents/*.yaml file.
type fileDefinitions struct {
	Agents []Definition `yaml:"agents"`
}

// Registry is the thread-safe in-memory agent catalog.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string][]Definition // agent_id -> versions, unsorted
}

// New returns a Registry seeded with the built-in agent set.
func New() *Registry {
	r := &Registry{byID: map[string][]Definition{}}
	for _, d := range builtinDefinitions {
		r.byID[d.AgentID] = append(r.byID[d.AgentID], d)
	}
	return r
}

// Load discovers agent definitions from configDir/agents/*.yaml and
// merges them over the built-in set. Per-file parse/validation errors
// are aggregated rather than aborting on the first bad file, so one
// startup attempt reports every broken definition at once.
func (r *Registry) Load(_ context.Context, configDir string) error {
	dir := filepath.Join(configDir, "agents")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read agent config dir: %w", err)
	}

	var errs []error
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		var parsed fileDefinitions
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		for _, def := range parsed.Agents {
			if def.AgentID == "" {
				errs = append(errs, fmt.Errorf("%s: agent definition missing agent_id", path))
				continue
			}
			if err := mergeDefinition(r.byID, def); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", path, err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry: %d error(s) loading %s: %v", len(errs), dir, errs)
	}
	return nil
}

func mergeDefinition(byID map[string][]Definition, def Definition) error {
	versions := byID[def.AgentID]
	for i, existing := range versions {
		if existing.Version == def.Version {
			merged := existing
			if err := mergo.Merge(&merged, def, mergo.WithOverride); err != nil {
				return fmt.Errorf("merge %s@%s: %w", def.AgentID, def.Version, err)
			}
			versions[i] = merged
			byID[def.AgentID] = versions
			return nil
		}
	}
	byID[def.AgentID] = append(versions, def)
	return nil
}

// Get returns the named agent's highest version, or all versions if a
// specific version is requested via "agent_id@version".
func (r *Registry) Get(agentID string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.byID[agentID]
	if len(versions) == 0 {
		return Definition{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return highestVersion(versions).clone(), nil
}

// GetVersion returns a specific agent_id@version, or ErrAgentNotFound.
func (r *Registry) GetVersion(agentID, version string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.byID[agentID] {
		if d.Version == version {
			return d.clone(), nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %s@%s", ErrAgentNotFound, agentID, version)
}

// Has reports whether agentID has at least one registered version.
func (r *Registry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID[agentID]) > 0
}

// Len returns the number of distinct agent_ids registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// FindByCapability returns the highest version of every agent whose
// capability set is a superset of required, sorted by agent_id — the
// lexicographic order the dispatcher's tie-break rule depends on when
// the planner leaves the agent choice ambiguous.
func (r *Registry) FindByCapability(required ...string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Definition
	for _, versions := range r.byID {
		best := highestVersion(versions)
		if hasAllCapabilities(best.Capabilities, required) {
			matches = append(matches, best.clone())
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].AgentID < matches[j].AgentID })
	return matches
}

// All returns the highest version of every registered agent, sorted by
// agent_id, for planner catalog rendering.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.byID))
	for _, versions := range r.byID {
		out = append(out, highestVersion(versions).clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

func hasAllCapabilities(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}

// highestVersion picks the lexicographically greatest Version string.
// Agent versions in this system are simple dotted or plain integers
// compared as strings, matching how the dispatcher tie-break rule
// describes "highest version" without requiring a semver dependency.
func highestVersion(versions []Definition) Definition {
	best := versions[0]
	for _, v := range versions[1:] {
		if v.Version > best.Version {
			best = v
		}
	}
	return best
}
