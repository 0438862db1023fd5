// Package agent defines the stage agent capability: given a task, the
// outputs of the stages it depends on and a set of tools, produce text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type (
	// Persona describes who the agent plays for a task.
	Persona struct {
		Role      string
		Goal      string
		Backstory string
	}

	// Task is one unit of work handed to an agent.
	Task struct {
		// Name identifies the task, typically the stage name.
		Name string
		// Persona is the role the agent plays.
		Persona Persona
		// Description states what to do.
		Description string
		// ExpectedOutput states the shape of the answer.
		ExpectedOutput string
		// Tools lists the tools the agent may call for this task.
		Tools []Tool
	}

	// Tool is a capability the agent can invoke with a text input.
	Tool struct {
		Name        string
		Description string
		Run         func(ctx context.Context, input string) (string, error)
	}

	// Output is the text produced by an earlier stage.
	Output struct {
		Stage string
		Text  string
	}

	// Agent executes tasks.
	Agent interface {
		Run(ctx context.Context, task Task, inputs []Output) (string, error)
	}

	// Func adapts a function to Agent.
	Func func(ctx context.Context, task Task, inputs []Output) (string, error)

	abortError struct{ cause error }
)

// ErrToolAborted is matched by errors returned through Abort.
var ErrToolAborted = errors.New("tool aborted the task")

// Run calls f.
func (f Func) Run(ctx context.Context, task Task, inputs []Output) (string, error) {
	return f(ctx, task, inputs)
}

// Abort marks a tool error as fatal for the task. Other tool errors are
// reported back to the agent as observations.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{cause: err}
}

func (e *abortError) Error() string        { return e.cause.Error() }
func (e *abortError) Unwrap() error        { return e.cause }
func (e *abortError) Is(target error) bool { return target == ErrToolAborted }

// Tool returns the tool with the given name, matched case-insensitively.
func (t Task) Tool(name string) (Tool, bool) {
	n := strings.TrimSpace(name)
	for _, tool := range t.Tools {
		if strings.EqualFold(tool.Name, n) {
			return tool, true
		}
	}
	return Tool{}, false
}

// Prompt renders the task and its context as the user message.
func (t Task) Prompt(inputs []Output) string {
	var b strings.Builder
	b.WriteString("Current Task: ")
	b.WriteString(strings.TrimSpace(t.Description))
	if len(inputs) > 0 {
		b.WriteString("\n\nThis is the context you're working with:\n")
		for _, c := range inputs {
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", c.Stage, strings.TrimSpace(c.Text))
		}
	}
	if t.ExpectedOutput != "" {
		b.WriteString("\nThis is the expected criteria for your final answer: ")
		b.WriteString(strings.TrimSpace(t.ExpectedOutput))
		b.WriteString("\nYou MUST return the actual complete content as the final answer, not a summary.")
	}
	return b.String()
}
