package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is the name to plugin mapping. Routes of registered plugins are
// kept in the table.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	table   *Table
	root    string
	conv    Conventions
}

// NewRegistry creates an empty registry rooted at the plugins directory.
func NewRegistry(table *Table, root string, conv Conventions) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		table:   table,
		root:    root,
		conv:    conv,
	}
}

// Root returns the plugins directory.
func (r *Registry) Root() string { return r.root }

// Register adds p. A second plugin with the same name is an error.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.Name()]; exists {
		return fmt.Errorf("plugin %q already registered", p.Name())
	}
	return r.attachLocked(p)
}

func (r *Registry) attachLocked(p Plugin) error {
	if err := p.Register(r.table); err != nil {
		r.table.RemovePlugin(p.Name())
		return fmt.Errorf("register plugin %s: %w", p.Name(), err)
	}
	r.plugins[p.Name()] = p
	return nil
}

// Load opens the plugin directory and registers it, replacing a previously
// loaded plugin of the same name. When the new handle cannot be attached the
// previous one is put back with its routes.
func (r *Registry) Load(dir string) (Plugin, error) {
	p, err := OpenScript(dir, r.conv)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, replacing := r.plugins[p.Name()]
	if replacing {
		delete(r.plugins, p.Name())
		r.table.RemovePlugin(p.Name())
	}
	if err := r.attachLocked(p); err != nil {
		if replacing {
			if restoreErr := r.attachLocked(prev); restoreErr != nil {
				return nil, errors.Join(err, restoreErr)
			}
			log.Warn().Err(err).Str("plugin", p.Name()).Msg("kept previous plugin")
		}
		return nil, err
	}
	log.Info().Str("plugin", p.Name()).Str("module", p.Module()).Msg("plugin loaded")
	return p, nil
}

// LoadAll loads every subdirectory of the plugins root. Failures are logged
// and joined; the remaining plugins still load.
func (r *Registry) LoadAll() error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read plugins root: %w", err)
	}
	var errs []error
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' || e.Name() == "__pycache__" {
			continue
		}
		if _, err := r.Load(filepath.Join(r.root, e.Name())); err != nil {
			log.Warn().Err(err).Str("plugin", e.Name()).Msg("skip plugin")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// List returns registered plugin names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Unregister drops name and its routes. It reports whether name was known.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; !ok {
		return false
	}
	delete(r.plugins, name)
	r.table.RemovePlugin(name)
	return true
}

// Delete unregisters name and removes its directory from the plugins root.
func (r *Registry) Delete(name string) error {
	if name == "" || !filepath.IsLocal(name) || filepath.Base(name) != name {
		return fmt.Errorf("invalid plugin name %q", name)
	}
	dir := filepath.Join(r.root, name)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("plugin %q not found", name)
		}
		return fmt.Errorf("stat plugin: %w", err)
	}
	r.Unregister(name)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove plugin: %w", err)
	}
	log.Info().Str("plugin", name).Msg("plugin deleted")
	return nil
}
