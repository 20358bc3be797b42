package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Conventions name the symbols a plugin module is expected to use.
type Conventions struct {
	EntryPoint       string
	HandlerDecorator string
}

var (
	commandFilter = regexp.MustCompile(`filters\.command\(\s*\[?\s*["']([\w-]+)["']`)
	handlerDef    = regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)`)
)

type handler struct {
	name    string
	command string
}

// ScriptPlugin is the handle of a promoted plugin directory. Its module is
// the first .py file, in name order, that defines the entry point.
type ScriptPlugin struct {
	name     string
	dir      string
	module   string
	entry    string
	handlers []handler
	manifest *Manifest
}

// OpenScript inspects dir and returns its plugin handle.
func OpenScript(dir string, conv Conventions) (*ScriptPlugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plugin dir: %w", err)
	}
	var modules []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".py") {
			modules = append(modules, e.Name())
		}
	}
	sort.Strings(modules)

	entryDef := regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+` + regexp.QuoteMeta(conv.EntryPoint) + `\s*\(`)
	p := &ScriptPlugin{name: filepath.Base(dir), dir: dir, entry: conv.EntryPoint}
	for _, name := range modules {
		src, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read module: %w", err)
		}
		if !entryDef.Match(src) {
			continue
		}
		p.module = name
		p.handlers = scanHandlers(string(src), conv.HandlerDecorator)
		break
	}
	if p.module == "" {
		return nil, fmt.Errorf("plugin %s: no module defines %s()", p.name, conv.EntryPoint)
	}
	m, ok, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	if ok {
		p.manifest = &m
	}
	return p, nil
}

func scanHandlers(src, decorator string) []handler {
	if decorator == "" {
		return nil
	}
	decoratorLine := regexp.MustCompile(`^\s*@.*\b` + regexp.QuoteMeta(decorator) + `\b`)
	lines := strings.Split(src, "\n")
	var out []handler
	for i := 0; i < len(lines); i++ {
		if !decoratorLine.MatchString(lines[i]) {
			continue
		}
		// the decorator may wrap over several lines before its def
		header := lines[i]
		for j := i + 1; j < len(lines); j++ {
			if m := handlerDef.FindStringSubmatch(lines[j]); m != nil {
				h := handler{name: m[1]}
				if c := commandFilter.FindStringSubmatch(header); c != nil {
					h.command = c[1]
				}
				out = append(out, h)
				i = j
				break
			}
			header += lines[j]
		}
	}
	return out
}

// Name returns the plugin directory name.
func (p *ScriptPlugin) Name() string { return p.name }

// Dir returns the plugin directory.
func (p *ScriptPlugin) Dir() string { return p.dir }

// Module returns the file that defines the entry point.
func (p *ScriptPlugin) Module() string { return p.module }

// Manifest returns the integration manifest, if the plugin has one.
func (p *ScriptPlugin) Manifest() (Manifest, bool) {
	if p.manifest == nil {
		return Manifest{}, false
	}
	return *p.manifest, true
}

// Register routes every decorated handler. A module without handlers still
// gets one route for its entry point.
func (p *ScriptPlugin) Register(r Router) error {
	if len(p.handlers) == 0 {
		return r.Add(Route{Plugin: p.name, Module: p.module, Entry: p.entry, Handler: p.entry})
	}
	for _, h := range p.handlers {
		if err := r.Add(Route{
			Plugin:  p.name,
			Module:  p.module,
			Entry:   p.entry,
			Handler: h.name,
			Command: h.command,
		}); err != nil {
			return err
		}
	}
	return nil
}
