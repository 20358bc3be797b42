package generation

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/metalagman/forge/internal/config"
)

// DefaultKeyEnv returns the environment variable read for provider's key
// when the config names none.
func DefaultKeyEnv(provider string) string {
	if provider == config.ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "GEMINI_API_KEY"
}

// ResolveBackend fills in the API key from the environment and converts
// the timeout.
func ResolveBackend(cfg config.GenerationConfig) BackendConfig {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		env := strings.TrimSpace(cfg.APIKeyEnv)
		if env == "" {
			env = DefaultKeyEnv(cfg.Provider)
		}
		key = strings.TrimSpace(os.Getenv(env))
	}
	return BackendConfig{
		Model:   cfg.Model,
		APIKey:  key,
		BaseURL: cfg.BaseURL,
		Timeout: time.Duration(cfg.Timeout) * time.Second,
	}
}

// NewCompleter builds the backend selected by cfg.Provider.
func NewCompleter(ctx context.Context, cfg config.GenerationConfig) (Completer, error) {
	bc := ResolveBackend(cfg)
	switch cfg.Provider {
	case config.ProviderOpenAI:
		o, err := NewOpenAI(bc, nil)
		if err != nil {
			return nil, err
		}
		return o, nil
	case config.ProviderGemini, "":
		g, err := NewGemini(ctx, bc, nil)
		if err != nil {
			return nil, err
		}
		return timeoutCompleter{next: g, timeout: bc.Timeout}, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// timeoutCompleter bounds each call; openai-go has its own request timeout.
type timeoutCompleter struct {
	next    Completer
	timeout time.Duration
}

func (t timeoutCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	return t.next.Complete(ctx, req)
}
