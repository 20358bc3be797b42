// Package engine is the message path: it gates access, classifies free text
// and dispatches it to generation, promotion or conversation. Slash
// commands give developers direct access to the sandbox operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/metalagman/forge/internal/generation"
	"github.com/metalagman/forge/internal/intent"
	"github.com/metalagman/forge/internal/memory"
	"github.com/metalagman/forge/internal/sandbox"
	"github.com/metalagman/forge/internal/task"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Replies with fixed wording.
const (
	AccessDenied     = "Access denied."
	NoPendingToMerge = "No pending tasks to integrate."
	ClarifyFallback  = "Please clarify your request."
)

// Roles answers who a user is.
type Roles interface {
	IsOwner(userID int64) bool
	IsDev(userID int64) bool
	HasAccess(userID int64) bool
}

// Classifier decides what a message asks for.
type Classifier interface {
	Classify(ctx context.Context, text string, userID int64, isDev bool) (intent.Intent, error)
}

// Generator is the model gateway.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (generation.Result, error)
	Converse(ctx context.Context, text string, history []generation.Turn) (string, error)
	Review(ctx context.Context, path, code string) (string, error)
	Debug(ctx context.Context, traceback, code string) (string, error)
}

// Memory is the per-user conversation log.
type Memory interface {
	Append(ctx context.Context, userID int64, role, content string) error
	Recent(ctx context.Context, userID int64, n int) ([]memory.Message, error)
	Clear(ctx context.Context, userID int64) error
}

// Plugins is the live plugin set.
type Plugins interface {
	List() []string
	Delete(name string) error
}

// Deps are the collaborators of an Engine. Memory and Plugins may be nil.
type Deps struct {
	Roles      Roles
	Classifier Classifier
	Generator  Generator
	Sandbox    *sandbox.Orchestrator
	Memory     Memory
	Plugins    Plugins
}

// Options tune an Engine.
type Options struct {
	// MaxAttempts bounds generation calls per request; each retry carries
	// the previous failure.
	MaxAttempts int
	// MemoryWindow is how many past messages feed a conversation.
	MemoryWindow int
}

// Reply is the answer to one inbound message.
type Reply struct {
	RequestID string      `json:"request_id"`
	Intent    intent.Kind `json:"intent,omitempty"`
	Command   string      `json:"command,omitempty"`
	Text      string      `json:"text"`
	Task      *task.Task  `json:"task,omitempty"`
}

// Engine handles inbound messages.
type Engine struct {
	deps Deps
	opts Options
}

// New creates an engine.
func New(deps Deps, opts Options) *Engine {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MemoryWindow < 0 {
		opts.MemoryWindow = 0
	}
	return &Engine{deps: deps, opts: opts}
}

// Handle answers one message from userID. It never fails: faults are logged
// and reported in the reply text.
func (e *Engine) Handle(ctx context.Context, userID int64, text string) Reply {
	reply := Reply{RequestID: uuid.NewString()}
	logger := log.With().Str("request_id", reply.RequestID).Int64("user_id", userID).Logger()
	ctx = logger.WithContext(ctx)

	if !e.deps.Roles.HasAccess(userID) {
		reply.Text = AccessDenied
		return reply
	}
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "/") {
		return e.command(ctx, reply, userID, text)
	}

	in, err := e.deps.Classifier.Classify(ctx, text, userID, e.deps.Roles.IsDev(userID))
	if err != nil {
		reply.Text = fault(ctx, "classify message", err)
		return reply
	}
	reply.Intent = in.Kind
	logger.Debug().Str("intent", string(in.Kind)).Bool("confident", in.Meta.Confident).Msg("message classified")

	switch in.Kind {
	case intent.Create, intent.Edit, intent.Recode:
		reply.Text, reply.Task = e.generate(ctx, userID, text, task.Kind(in.Kind))
	case intent.Integrate:
		reply.Text, reply.Task = e.integratePending(ctx, in.Meta.PendingTasks)
	case intent.IntegrateNoPending:
		reply.Text = NoPendingToMerge
	case intent.Clarify:
		reply.Text = in.Meta.Question
		if reply.Text == "" {
			reply.Text = ClarifyFallback
		}
	default:
		reply.Text = e.converse(ctx, userID, text)
	}
	return reply
}

func (e *Engine) generate(ctx context.Context, userID int64, text string, kind task.Kind) (string, *task.Task) {
	req := sandbox.StageRequest{
		UserID:      userID,
		Kind:        kind,
		Description: text,
		Feature:     intent.ExtractFeatureName(text),
	}
	var (
		res     generation.Result
		lastErr error
	)
	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		genReq := generation.Request{Description: text, Type: kind, Feature: req.Feature}
		if lastErr != nil {
			genReq.PreviousError = lastErr.Error()
		}
		res, lastErr = e.deps.Generator.Generate(ctx, genReq)
		if lastErr == nil {
			break
		}
		zerolog.Ctx(ctx).Warn().Err(lastErr).Int("attempt", attempt).Msg("generation attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		t, err := e.deps.Sandbox.RecordFailure(ctx, req, lastErr)
		if err != nil {
			return fault(ctx, "record failed generation", err), nil
		}
		return "Error: " + lastErr.Error(), &t
	}

	req.Files = res.Files
	t, err := e.deps.Sandbox.Stage(ctx, req)
	if err != nil {
		return fault(ctx, "stage files", err), nil
	}
	return formatStaged(t), &t
}

func (e *Engine) integratePending(ctx context.Context, pending []task.Task) (string, *task.Task) {
	if len(pending) == 0 {
		return NoPendingToMerge, nil
	}
	return e.integrate(ctx, pending[len(pending)-1].ID, "")
}

func (e *Engine) integrate(ctx context.Context, id int64, name string) (string, *task.Task) {
	res, err := e.deps.Sandbox.Integrate(ctx, id, name)
	if err != nil {
		if !sandbox.IsExpected(err) {
			zerolog.Ctx(ctx).Error().Err(err).Int64("task_id", id).Msg("integrate failed")
		}
		if res.Task.ID != 0 {
			return "Integration failed: " + err.Error(), &res.Task
		}
		return "Integration failed: " + err.Error(), nil
	}
	return formatIntegrated(res), &res.Task
}

func (e *Engine) converse(ctx context.Context, userID int64, text string) string {
	var history []generation.Turn
	if e.deps.Memory != nil && e.opts.MemoryWindow > 0 {
		recent, err := e.deps.Memory.Recent(ctx, userID, e.opts.MemoryWindow)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("read conversation memory")
		}
		for _, m := range recent {
			history = append(history, generation.Turn{Role: m.Role, Content: m.Content})
		}
	}
	answer, err := e.deps.Generator.Converse(ctx, text, history)
	if err != nil {
		return fault(ctx, "converse", err)
	}
	if e.deps.Memory != nil {
		for _, m := range []struct{ role, content string }{
			{memory.RoleUser, text},
			{memory.RoleAssistant, answer},
		} {
			if err := e.deps.Memory.Append(ctx, userID, m.role, m.content); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("write conversation memory")
			}
		}
	}
	return answer
}

// fault logs err and returns the text shown instead of an answer.
func fault(ctx context.Context, op string, err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "Request cancelled."
	}
	zerolog.Ctx(ctx).Error().Err(err).Str("op", op).Msg("request failed")
	return fmt.Sprintf("Something went wrong while trying to %s: %v", op, err)
}
