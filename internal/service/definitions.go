package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/launchflow/helmsman/internal/domain"
	"github.com/launchflow/helmsman/internal/domain/workflow"
)

// DefinitionRegistry holds the validated workflow definitions available for
// execution: the built-in presets plus any loaded from the definitions
// directory.
type DefinitionRegistry struct {
	mu   sync.RWMutex
	defs map[string]*workflow.Definition
}

// NewDefinitionRegistry creates a registry preloaded with the built-in
// definitions.
func NewDefinitionRegistry() *DefinitionRegistry {
	r := &DefinitionRegistry{defs: make(map[string]*workflow.Definition)}
	// Presets are known-valid.
	r.defs[workflow.SoftwareDelivery().Name] = workflow.SoftwareDelivery()
	return r
}

// Register validates and adds a definition. Registering an existing name
// replaces it.
func (r *DefinitionRegistry) Register(def *workflow.Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	return nil
}

// Get returns the named definition.
func (r *DefinitionRegistry) Get(name string) (*workflow.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("workflow definition %q: %w", name, domain.ErrNotFound)
	}
	return def, nil
}

// List returns all definitions sorted by name.
func (r *DefinitionRegistry) List() []*workflow.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*workflow.Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadDir registers every YAML definition file in dir. A missing dir is not
// an error; an invalid definition is.
func (r *DefinitionRegistry) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read definitions dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-provided dir
		if err != nil {
			return fmt.Errorf("read definition %s: %w", path, err)
		}
		var def workflow.Definition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return fmt.Errorf("parse definition %s: %w", path, err)
		}
		if err := r.Register(&def); err != nil {
			return fmt.Errorf("definition %s: %w", path, err)
		}
	}
	return nil
}
