package quality

import (
	"context"
	"errors"
	"os/exec"

	"github.com/rs/zerolog/log"
)

// Capabilities records which external tools were found at startup.
// The gate consults it on every check and never probes again.
type Capabilities struct {
	Pyflakes bool `json:"pyflakes"`
	Flake8   bool `json:"flake8"`
	Bandit   bool `json:"bandit"`
	Black    bool `json:"black"`
	Isort    bool `json:"isort"`
}

// Probe looks each tool up on PATH once.
func Probe() Capabilities {
	return ProbeWith(exec.LookPath)
}

// ProbeWith is Probe with a custom lookup.
func ProbeWith(lookPath func(string) (string, error)) Capabilities {
	has := func(name string) bool {
		_, err := lookPath(name)
		return err == nil
	}
	caps := Capabilities{
		Pyflakes: has("pyflakes"),
		Flake8:   has("flake8"),
		Bandit:   has("bandit"),
		Black:    has("black"),
		Isort:    has("isort"),
	}
	log.Debug().
		Bool("pyflakes", caps.Pyflakes).
		Bool("flake8", caps.Flake8).
		Bool("bandit", caps.Bandit).
		Bool("black", caps.Black).
		Bool("isort", caps.Isort).
		Msg("probed quality tools")
	return caps
}

// Runner runs an external tool and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

// Run treats a non-zero exit as success: linters exit 1 when they report findings.
func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	log.Debug().Str("cmd", name).Strs("args", args).Msg("running quality tool")
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return out, nil
		}
		return out, err
	}
	return out, nil
}
