package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tripcrew/tripcrew/runtime/planner/model"
	"github.com/tripcrew/tripcrew/runtime/planner/telemetry"
)

// DefaultMaxIterations bounds the reasoning loop of a single task.
const DefaultMaxIterations = 15

const (
	finalMarker       = "Final Answer:"
	actionMarker      = "Action:"
	actionInputMarker = "Action Input:"
	observationMarker = "Observation:"
)

type (
	// ReAct is an Agent that drives a text completion model through a
	// Thought / Action / Observation loop until it produces a final answer.
	ReAct struct {
		client      model.Client
		maxIter     int
		temperature float64
		logger      telemetry.Logger
	}

	// ReActOption configures a ReAct agent.
	ReActOption func(*ReAct)

	step struct {
		final  string
		done   bool
		action string
		input  string
	}
)

// WithMaxIterations overrides DefaultMaxIterations.
func WithMaxIterations(n int) ReActOption {
	return func(r *ReAct) {
		if n > 0 {
			r.maxIter = n
		}
	}
}

// WithTemperature sets the sampling temperature of every call.
func WithTemperature(t float64) ReActOption {
	return func(r *ReAct) { r.temperature = t }
}

// WithLogger sets the logger used to trace tool calls.
func WithLogger(l telemetry.Logger) ReActOption {
	return func(r *ReAct) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReAct returns an agent backed by client.
func NewReAct(client model.Client, opts ...ReActOption) *ReAct {
	r := &ReAct{client: client, maxIter: DefaultMaxIterations, logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run implements Agent.
func (r *ReAct) Run(ctx context.Context, task Task, inputs []Output) (string, error) {
	req := model.Request{
		System:      systemPrompt(task),
		Messages:    []model.Message{{Role: model.RoleUser, Content: task.Prompt(inputs) + "\n\nBegin! This is VERY important to you, use the tools available and give your best Final Answer, your job depends on it!\n\nThought:"}},
		Temperature: r.temperature,
		Stop:        []string{"\n" + observationMarker},
	}
	for i := 0; i < r.maxIter; i++ {
		resp, err := r.client.Complete(ctx, req)
		if err != nil {
			return "", fmt.Errorf("%s: model call: %w", task.Name, err)
		}
		text := strings.TrimSpace(resp.Text)
		req.Messages = append(req.Messages, model.Message{Role: model.RoleAssistant, Content: text})

		s := parseStep(text)
		if s.done {
			return s.final, nil
		}
		var observation string
		switch {
		case s.action == "":
			observation = "Invalid Format: I missed the 'Action:' after 'Thought:'. I will do right next, and don't use a tool I have already used.\n" +
				"If I don't need to use any more tools, I must give my best complete final answer using the exact format:\nThought: I now know the final answer\nFinal Answer: my best complete final answer"
		default:
			observation, err = r.invoke(ctx, task, s.action, s.input)
			if err != nil {
				return "", err
			}
		}
		req.Messages = append(req.Messages, model.Message{Role: model.RoleUser, Content: observationMarker + " " + observation})
	}

	// Out of iterations: demand an answer without tools.
	req.Messages = append(req.Messages, model.Message{
		Role:    model.RoleUser,
		Content: "Now it's time you MUST give your absolute best final answer. You'll ignore all previous instructions, stop using any tools, and just return your absolute BEST Final answer.",
	})
	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s: model call: %w", task.Name, err)
	}
	if s := parseStep(resp.Text); s.done {
		return s.final, nil
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", task.Name, model.ErrEmptyResponse)
	}
	return text, nil
}

func (r *ReAct) invoke(ctx context.Context, task Task, name, input string) (string, error) {
	tool, ok := task.Tool(name)
	if !ok {
		return fmt.Sprintf("Action '%s' don't exist, these are the only available Actions:\n%s", name, toolList(task)), nil
	}
	r.logger.Debug(ctx, "tool call", "task", task.Name, "tool", tool.Name)
	out, err := tool.Run(ctx, ToolInput(input))
	if err != nil {
		if errors.Is(err, ErrToolAborted) || ctx.Err() != nil {
			return "", fmt.Errorf("%s: tool %s: %w", task.Name, tool.Name, err)
		}
		r.logger.Warn(ctx, "tool failed", "task", task.Name, "tool", tool.Name, "err", err)
		return fmt.Sprintf("I encountered an error while trying to use the tool. This was the error: %v.\nTool %s accepts these inputs: %s", err, tool.Name, tool.Description), nil
	}
	return out, nil
}

// parseStep reads one model turn. A final answer wins over an action.
func parseStep(text string) step {
	if i := strings.LastIndex(text, finalMarker); i >= 0 {
		return step{done: true, final: strings.TrimSpace(text[i+len(finalMarker):])}
	}
	ai := strings.LastIndex(text, actionMarker)
	if ai < 0 {
		return step{}
	}
	rest := text[ai+len(actionMarker):]
	action, input, _ := strings.Cut(rest, actionInputMarker)
	if j := strings.Index(input, observationMarker); j >= 0 {
		input = input[:j]
	}
	return step{action: strings.TrimSpace(firstLine(action)), input: strings.TrimSpace(input)}
}

// ToolInput unwraps the common ways models quote tool input: a JSON string,
// or a JSON object holding a single value.
func ToolInput(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.TrimPrefix(t, "```json")
	t = strings.Trim(strings.TrimSpace(t), "`")
	t = strings.TrimSpace(t)
	var s string
	if err := json.Unmarshal([]byte(t), &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(t), &obj); err == nil && len(obj) == 1 {
		for _, v := range obj {
			if s, ok := v.(string); ok {
				return s
			}
			b, _ := json.Marshal(v)
			return string(b)
		}
	}
	return t
}

func systemPrompt(task Task) string {
	var b strings.Builder
	p := task.Persona
	fmt.Fprintf(&b, "You are %s. %s\nYour personal goal is: %s\n", p.Role, strings.TrimSpace(p.Backstory), strings.TrimSpace(p.Goal))
	if len(task.Tools) == 0 {
		b.WriteString("\nTo give my best complete final answer to the task respond using the exact following format:\n\n" +
			"Thought: I now can give a great answer\nFinal Answer: Your final answer must be the great and the most complete as possible, it must be outcome described.\n\n" +
			"I MUST use these formats, my job depends on it!")
		return b.String()
	}
	b.WriteString("You ONLY have access to the following tools, and should NEVER make up tools that are not listed here:\n\n")
	b.WriteString(toolList(task))
	names := make([]string, len(task.Tools))
	for i, t := range task.Tools {
		names[i] = t.Name
	}
	fmt.Fprintf(&b, "\n\nIMPORTANT: Use the following format in your response:\n\n"+
		"Thought: you should always think about what to do\n"+
		"Action: the action to take, only one name of [%s], just the name, exactly as it's written.\n"+
		"Action Input: the input to the action, just a simple string or JSON object\n"+
		"Observation: the result of the action\n\n"+
		"Once all necessary information is gathered, return the following format:\n\n"+
		"Thought: I now know the final answer\n"+
		"Final Answer: the final answer to the original input question", strings.Join(names, ", "))
	return b.String()
}

func toolList(task Task) string {
	lines := make([]string, len(task.Tools))
	for i, t := range task.Tools {
		lines[i] = fmt.Sprintf("Tool Name: %s\nTool Description: %s", t.Name, t.Description)
	}
	return strings.Join(lines, "\n")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
