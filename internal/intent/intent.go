// Package intent maps free text to a request intent using keyword and regex rules.
package intent

import (
	"context"

	"github.com/metalagman/forge/internal/task"
)

// Kind is the classified intent of a message.
type Kind string

const (
	Create             Kind = "CREATE"
	Edit               Kind = "EDIT"
	Recode             Kind = "RECODE"
	Integrate          Kind = "INTEGRATE"
	IntegrateNoPending Kind = "INTEGRATE_NO_PENDING"
	Conversation       Kind = "CONVERSATION"
	Question           Kind = "QUESTION"
	Clarify            Kind = "CLARIFY"
)

// Generates reports whether k asks for code generation.
func (k Kind) Generates() bool {
	return k == Create || k == Edit || k == Recode
}

// ClarifyQuestion is asked when a developer request is ambiguous.
const ClarifyQuestion = "I'm not sure what you'd like me to do. Should I:\n" +
	"1. Create a new plugin\n" +
	"2. Edit or rewrite an existing plugin\n" +
	"3. Just talk it through with you\n" +
	"Reply with the option you want."

// Meta is the metadata attached to a classification.
type Meta struct {
	// Confident is false only for the default fallthrough.
	Confident bool
	// PendingTasks is set for Integrate, in creation order.
	PendingTasks []task.Task
	// Question is set for Clarify.
	Question string
	// Candidates lists the intents a Clarify message could mean.
	Candidates []Kind
	// Keyword is the rule text that decided the intent, when one did.
	Keyword string
}

// Intent is one classification result.
type Intent struct {
	Kind Kind
	Meta Meta
}

// PendingLookup returns a user's sandboxed tasks, most recent last.
type PendingLookup interface {
	Pending(ctx context.Context, userID int64) ([]task.Task, error)
}
