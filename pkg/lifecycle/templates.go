package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/codeready-toolchain/orchestrator/pkg/taskmodel"
)

// ErrTemplateNotFound is returned by TemplateCatalog.Get for an unknown
// template_id.
var ErrTemplateNotFound = fmt.Errorf("lifecycle: template not found")

// fileTemplates is the shape of one templates/*.yaml file, mirroring
// pkg/registry's fileDefinitions convention of one top-level key
// wrapping a list.
type fileTemplates struct {
	Templates []taskmodel.Template `yaml:"templates"`
}

// TemplateCatalog is the in-memory task-template store, loaded once at
// startup from configDir/templates/*.yaml. Grounded on pkg/registry.Registry's
// directory-scan-and-aggregate-errors Load, generalized from agent
// definitions to task templates since both are declarative YAML catalogs
// read once and then served read-only for the lifetime of the process.
type TemplateCatalog struct {
	mu   sync.RWMutex
	byID map[string]taskmodel.Template
}

// NewTemplateCatalog returns an empty catalog; call Load to populate it.
func NewTemplateCatalog() *TemplateCatalog {
	return &TemplateCatalog{byID: map[string]taskmodel.Template{}}
}

// Load discovers template definitions from configDir/templates/*.yaml.
// Per-file errors are aggregated rather than aborting on the first bad
// file, matching registry.Registry.Load.
func (c *TemplateCatalog) Load(configDir string) error {
	dir := filepath.Join(configDir, "templates")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read template config dir: %w", err)
	}

	var errs []error
	c.mu.Lock()
	defer c.mu.Unlock()

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
		var parsed fileTemplates
		if err := yaml.Unmarshal(raw, &parsed); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		for _, tmpl := range parsed.Templates {
			if tmpl.TemplateID == "" {
				errs = append(errs, fmt.Errorf("%s: template missing template_id", path))
				continue
			}
			c.byID[tmpl.TemplateID] = tmpl
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("lifecycle: %d error(s) loading %s: %v", len(errs), dir, errs)
	}
	return nil
}

// Get returns templateID's current definition, satisfying the Manager's
// TemplateSource dependency.
func (c *TemplateCatalog) Get(templateID string) (taskmodel.Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tmpl, ok := c.byID[templateID]
	if !ok {
		return taskmodel.Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
	}
	return tmpl, nil
}

// Put registers a template directly, for tests and for any caller that
// builds templates in code rather than loading them from YAML.
func (c *TemplateCatalog) Put(tmpl taskmodel.Template) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[tmpl.TemplateID] = tmpl
}
