package generation

import (
	"fmt"
	"strings"

	"github.com/metalagman/forge/internal/task"
)

const codeInstructions = `You generate Pyrogram Telegram bot plugin modules.

CRITICAL RULES:
1. Output ONLY valid JSON in this exact format:
{
  "files": {
    "sandbox/module_name/handler.py": "python_code_here",
    "sandbox/module_name/utils.py": "python_code_here_if_needed"
  }
}
2. NO markdown formatting, NO explanations, NO examples.
3. Code must be complete and working Pyrogram handlers.
4. Use a register_handlers(app, bot) function to register commands.
5. Import required modules at the top of each file.
6. Message handlers must be async and handle their own exceptions.`

const conversationInstructions = `You are an assistant inside a Telegram bot that builds its own plugins.
Respond naturally and helpfully. You can answer questions, explain things and chat.
Keep responses concise but informative.`

const reviewInstructions = `Review this Pyrogram bot code and give concise, actionable suggestions.
Focus on code quality, likely bugs, performance, security and Pyrogram-specific practice.`

const debugInstructions = `Analyze the error and give specific steps to fix it.`

func codePrompt(req Request) CompletionRequest {
	kind := req.Type
	if kind == "" {
		kind = task.KindCreate
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nType: %s\n", req.Description, kind)
	switch kind {
	case task.KindEdit:
		b.WriteString("\nThis is an edit request. Modify the existing code accordingly.\n")
	case task.KindRecode:
		b.WriteString("\nThis is a complete recode request. Rewrite from scratch.\n")
	}
	if req.PreviousError != "" {
		fmt.Fprintf(&b, "\nPrevious error to fix: %s\n", req.PreviousError)
	}
	return CompletionRequest{Instructions: codeInstructions, Input: b.String()}
}

// conversationPrompt includes only the user's side of the history.
func conversationPrompt(text string, history []Turn) CompletionRequest {
	var b strings.Builder
	fmt.Fprintf(&b, "User message: %s\n", text)
	var lines []string
	for _, t := range history {
		if t.Role == "user" {
			lines = append(lines, "User: "+t.Content)
		}
	}
	if len(lines) > 0 {
		b.WriteString("\nRecent conversation:\n")
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n")
	}
	return CompletionRequest{Instructions: conversationInstructions, Input: b.String()}
}

func reviewPrompt(path, code string) CompletionRequest {
	return CompletionRequest{
		Instructions: reviewInstructions,
		Input:        fmt.Sprintf("File: %s\nCode:\n%s\n", path, code),
	}
}

func debugPrompt(traceback, code string) CompletionRequest {
	input := fmt.Sprintf("Error:\n%s\n", traceback)
	if code != "" {
		input += fmt.Sprintf("\nCode context:\n%s\n", code)
	}
	return CompletionRequest{Instructions: debugInstructions, Input: input}
}
