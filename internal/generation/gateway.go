package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// activityResponseLimit caps how much of each answer goes to the activity log.
const activityResponseLimit = 500

// Gateway is the single entry point to the model backend.
type Gateway struct {
	completer Completer
	activity  zerolog.Logger
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithActivityLog records every model call to l.
func WithActivityLog(l zerolog.Logger) GatewayOption {
	return func(g *Gateway) { g.activity = l }
}

// NewGateway wraps a backend.
func NewGateway(c Completer, opts ...GatewayOption) *Gateway {
	g := &Gateway{completer: c, activity: zerolog.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate asks for source files. It fails only when the backend call
// fails; a malformed answer is recovered by ParseFiles.
func (g *Gateway) Generate(ctx context.Context, req Request) (Result, error) {
	raw, err := g.call(ctx, string(req.Type), req.Description, codePrompt(req))
	if err != nil {
		return Result{}, fmt.Errorf("generate code: %w", err)
	}
	files, recovered := ParseFiles(raw, req.Feature)
	if recovered {
		log.Warn().Int("files", len(files)).Msg("model answer was not strict JSON, recovered")
	}
	return Result{Files: files, Raw: raw, Recovered: recovered}, nil
}

// Converse answers a chat message with the recent history as context.
func (g *Gateway) Converse(ctx context.Context, text string, history []Turn) (string, error) {
	out, err := g.call(ctx, "CONVERSATION", text, conversationPrompt(text, history))
	if err != nil {
		return "", fmt.Errorf("converse: %w", err)
	}
	return out, nil
}

// Review asks for improvement suggestions on one file.
func (g *Gateway) Review(ctx context.Context, path, code string) (string, error) {
	out, err := g.call(ctx, "REVIEW", path, reviewPrompt(path, code))
	if err != nil {
		return "", fmt.Errorf("review code: %w", err)
	}
	return out, nil
}

// Debug asks for fix steps for an error, with optional code context.
func (g *Gateway) Debug(ctx context.Context, traceback, code string) (string, error) {
	out, err := g.call(ctx, "DEBUG", traceback, debugPrompt(traceback, code))
	if err != nil {
		return "", fmt.Errorf("debug error: %w", err)
	}
	return out, nil
}

func (g *Gateway) call(ctx context.Context, kind, prompt string, req CompletionRequest) (string, error) {
	out, err := g.completer.Complete(ctx, req)
	if err != nil {
		g.activity.Error().Err(err).Str("task_type", kind).Str("prompt", prompt).Msg("ai activity")
		return "", err
	}
	out = strings.TrimSpace(out)
	g.activity.Info().
		Str("task_type", kind).
		Str("prompt", prompt).
		Str("response", truncate(out, activityResponseLimit)).
		Msg("ai activity")
	return out, nil
}
