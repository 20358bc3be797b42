// Package plugin tracks the live plugin set. A plugin is a directory under
// the plugins root whose module defines the registration entry point; the
// registry maps plugin names to loaded handles and fills the routing table.
package plugin

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// Plugin is a loaded unit of functionality.
type Plugin interface {
	Name() string
	// Register adds the plugin's routes to r.
	Register(r Router) error
}

// Route binds one handler of a plugin to the transport.
type Route struct {
	Plugin  string `json:"plugin"`
	Module  string `json:"module"`
	Entry   string `json:"entry"`
	Handler string `json:"handler"`
	Command string `json:"command,omitempty"`
}

// Router receives routes from plugins.
type Router interface {
	Add(route Route) error
}

// ErrCommandTaken is returned when two plugins claim the same command.
var ErrCommandTaken = errors.New("command already routed")

// Table is the in-memory Router read by the transport.
type Table struct {
	mu     sync.RWMutex
	routes []Route
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{}
}

// Add appends route. A command may be owned by one plugin only.
func (t *Table) Add(route Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if route.Command != "" {
		for _, r := range t.routes {
			if r.Command == route.Command && r.Plugin != route.Plugin {
				return fmt.Errorf("/%s owned by %s: %w", route.Command, r.Plugin, ErrCommandTaken)
			}
		}
	}
	t.routes = append(t.routes, route)
	return nil
}

// RemovePlugin drops every route of the named plugin.
func (t *Table) RemovePlugin(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = slices.DeleteFunc(t.routes, func(r Route) bool { return r.Plugin == name })
}

// Routes returns a snapshot ordered by plugin name then registration order.
func (t *Table) Routes() []Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := slices.Clone(t.routes)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Plugin < out[j].Plugin })
	return out
}

// Lookup returns the route bound to command.
func (t *Table) Lookup(command string) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.routes {
		if r.Command == command {
			return r, true
		}
	}
	return Route{}, false
}
