// Package workflow loads static workflow definitions from disk, resolves
// their variables with layered precedence, and renders instruction templates.
package workflow

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// definitionFileName is the metadata file inside each installed workflow dir.
const definitionFileName = "workflow.yaml"

// ErrWorkflowNotFound is returned for lookups of unknown workflow names.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Variable declares a workflow variable.
type Variable struct {
	Default  string `yaml:"default"`
	Required bool   `yaml:"required"`
}

// Definition is the static metadata of an installed workflow. The installed
// path additionally contains an instructions.md template.
type Definition struct {
	Name          string              `yaml:"name"`
	Description   string              `yaml:"description"`
	Phase         int                 `yaml:"phase"` // 1-4
	Variables     map[string]Variable `yaml:"variables"`
	RequiredTools []string            `yaml:"required_tools"`
	TemplateFiles []string            `yaml:"templates"`
	OutputFile    string              `yaml:"output_file"`
	RequiresScope bool                `yaml:"requires_feature_scope"`

	// InstalledPath is the directory the definition was loaded from.
	InstalledPath string `yaml:"-"`
}

// InstructionsPath returns the location of the workflow's instruction template.
func (d *Definition) InstructionsPath() string {
	return filepath.Join(d.InstalledPath, "instructions.md")
}

// Registry holds all workflow definitions loaded at startup.
type Registry struct {
	defs map[string]*Definition
}

// LoadRegistry scans installDir for <name>/workflow.yaml files and loads every
// definition found. Unreadable definitions are skipped with a warning.
func LoadRegistry(installDir string) (*Registry, error) {
	entries, err := os.ReadDir(installDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow install dir %s: %w", installDir, err)
	}

	reg := &Registry{defs: make(map[string]*Definition)}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(installDir, entry.Name())
		def, err := loadDefinition(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				slog.Warn("Skipping unreadable workflow definition",
					"dir", dir, "error", err)
			}
			continue
		}
		reg.defs[def.Name] = def
	}

	slog.Info("Workflow registry loaded",
		"install_dir", installDir, "workflows", len(reg.defs))
	return reg, nil
}

// NewRegistry builds a registry from in-memory definitions. Used by tests and
// by callers that synthesize workflows.
func NewRegistry(defs ...*Definition) *Registry {
	reg := &Registry{defs: make(map[string]*Definition, len(defs))}
	for _, d := range defs {
		reg.defs[d.Name] = d
	}
	return reg
}

// Get looks a workflow up by name.
func (r *Registry) Get(name string) (*Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, ErrWorkflowNotFound)
	}
	return def, nil
}

// Has reports whether a workflow name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Names returns all registered workflow names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadDefinition(dir string) (*Definition, error) {
	raw, err := os.ReadFile(filepath.Join(dir, definitionFileName))
	if err != nil {
		return nil, err
	}
	var def Definition
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	if def.Name == "" {
		def.Name = filepath.Base(dir)
	}
	def.InstalledPath = dir
	return &def, nil
}
