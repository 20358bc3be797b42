package quality

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/metalagman/forge/internal/config"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Gate runs the check pipeline. External tools are used only when the
// capability probe found them; a missing tool skips its stage.
type Gate struct {
	policy  config.QualityConfig
	caps    Capabilities
	runner  Runner
	timeout time.Duration
}

// Option customizes a Gate.
type Option func(*Gate)

// WithRunner replaces the process runner used for external tools.
func WithRunner(r Runner) Option {
	return func(g *Gate) { g.runner = r }
}

// NewGate creates a gate with the given policy and probed capabilities.
func NewGate(policy config.QualityConfig, caps Capabilities, opts ...Option) *Gate {
	g := &Gate{
		policy:  policy,
		caps:    caps,
		runner:  execRunner{},
		timeout: time.Duration(policy.ToolTimeout) * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Capabilities returns the tool set fixed at construction.
func (g *Gate) Capabilities() Capabilities {
	return g.caps
}

// Check scores the file at path. It never fails: problems reading or
// parsing the file are reported as errors in the result.
func (g *Gate) Check(ctx context.Context, path string) Result {
	src, err := os.ReadFile(path)
	if err != nil {
		return findings{errors: []string{fmt.Sprintf("File Error: %v", err)}}.result(g.policy)
	}

	var all findings
	parsed := false
	var imports []string

	tree, err := parsePython(ctx, src)
	if err != nil {
		all.errors = append(all.errors, fmt.Sprintf("Syntax Error: %v", err))
	} else {
		if errs := syntaxErrors(tree, src); len(errs) > 0 {
			all.errors = append(all.errors, errs...)
		} else {
			parsed = true
			imports = importsFromTree(tree.RootNode(), src)
		}
		tree.Close()
	}
	if !parsed {
		imports = importsFromText(string(src))
	}

	var pyflakesOut, flake8Out, security findings
	var eg errgroup.Group
	if parsed && g.caps.Pyflakes {
		eg.Go(func() error {
			out, err := g.runTool(ctx, "pyflakes", path)
			if err == nil {
				pyflakesOut = parsePyflakes(out)
			}
			return nil
		})
	}
	if parsed && g.caps.Flake8 {
		eg.Go(func() error {
			out, err := g.runTool(ctx, "flake8", flake8Args(path, g.caps.Pyflakes)...)
			if err == nil {
				flake8Out = parseFlake8(out)
			}
			return nil
		})
	}
	if g.caps.Bandit {
		eg.Go(func() error {
			out, err := g.runTool(ctx, "bandit", "-q", "-f", "json", path)
			if err != nil {
				return nil
			}
			f, err := parseBandit(out)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping security stage")
				return nil
			}
			security = f
			return nil
		})
	}
	_ = eg.Wait()

	all.merge(pyflakesOut)
	all.merge(flake8Out)
	all.merge(security)
	all.merge(checkDependencies(imports, g.policy.RequiredImport))
	all.merge(checkConventions(string(src), g.policy.EntryPoint, g.policy.HandlerDecorator))

	res := all.result(g.policy)
	log.Debug().
		Str("path", path).
		Int("score", res.Score).
		Bool("passed", res.Passed).
		Int("errors", len(res.Errors)).
		Int("warnings", len(res.Warnings)).
		Int("suggestions", len(res.Suggestions)).
		Msg("quality check finished")
	return res
}

// CheckSyntax runs only the syntax stage and returns its errors.
func (g *Gate) CheckSyntax(ctx context.Context, path string) ([]string, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	tree, err := parsePython(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	return syntaxErrors(tree, src), nil
}

// AutoFix sorts imports and reformats path with the available formatters.
// It reports whether any formatter ran.
func (g *Gate) AutoFix(ctx context.Context, path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	ran := false
	if g.caps.Isort {
		if _, err := g.runTool(ctx, "isort", "-q", path); err != nil {
			return ran, fmt.Errorf("run isort: %w", err)
		}
		ran = true
	}
	if g.caps.Black {
		if _, err := g.runTool(ctx, "black", "-q", path); err != nil {
			return ran, fmt.Errorf("run black: %w", err)
		}
		ran = true
	}
	return ran, nil
}

func (g *Gate) runTool(ctx context.Context, name string, args ...string) ([]byte, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	out, err := g.runner.Run(ctx, name, args...)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Msg("quality tool failed")
		return nil, err
	}
	return out, nil
}
