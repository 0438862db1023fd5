package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tripcrew/tripcrew/runtime/planner/model"
)

// scripted replays canned completions and records every request.
type scripted struct {
	replies  []string
	requests []model.Request
}

func (s *scripted) Complete(_ context.Context, req model.Request) (model.Response, error) {
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return model.Response{}, errors.New("script exhausted")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return model.Response{Text: r}, nil
}

func TestReActFinalAnswerDirect(t *testing.T) {
	client := &scripted{replies: []string{"Thought: easy\nFinal Answer: 42"}}
	out, err := NewReAct(client).Run(context.Background(), Task{Name: "t", Description: "answer"}, nil)
	require.NoError(t, err)
	require.Equal(t, "42", out)
	require.Len(t, client.requests, 1)
	require.Equal(t, []string{"\nObservation:"}, client.requests[0].Stop)
}

func TestReActToolLoop(t *testing.T) {
	var gotInput string
	task := Task{
		Name:        "local_data",
		Description: "find the rate",
		Tools: []Tool{{
			Name:        "Currency Converter",
			Description: "converts currencies",
			Run: func(_ context.Context, in string) (string, error) {
				gotInput = in
				return "1 USD = 300 LKR", nil
			},
		}},
	}
	client := &scripted{replies: []string{
		"Thought: need rate\nAction: currency converter\nAction Input: {\"pair\": \"USD to LKR\"}",
		"Thought: I now know the final answer\nFinal Answer: rate is 300",
	}}
	out, err := NewReAct(client).Run(context.Background(), task, []Output{{Stage: "setup", Text: "Kandy"}})
	require.NoError(t, err)
	require.Equal(t, "rate is 300", out)
	require.Equal(t, "USD to LKR", gotInput)

	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	require.Equal(t, model.RoleUser, last.Role)
	require.Equal(t, "Observation: 1 USD = 300 LKR", last.Content)
	require.Contains(t, second.System, "Tool Name: Currency Converter")
	require.Contains(t, second.Messages[0].Content, "--- setup ---\nKandy")
}

func TestReActUnknownToolAndBadFormat(t *testing.T) {
	client := &scripted{replies: []string{
		"Thought: hmm\nAction: Teleporter\nAction Input: mars",
		"I am just rambling",
		"Final Answer: done",
	}}
	out, err := NewReAct(client).Run(context.Background(), Task{Name: "t"}, nil)
	require.NoError(t, err)
	require.Equal(t, "done", out)
	require.Contains(t, client.requests[1].Messages[2].Content, "Action 'Teleporter' don't exist")
	require.Contains(t, client.requests[2].Messages[4].Content, "Invalid Format")
}

func TestReActToolErrorBecomesObservation(t *testing.T) {
	task := Task{Name: "t", Tools: []Tool{{Name: "Weather", Run: func(context.Context, string) (string, error) {
		return "", errors.New("upstream down")
	}}}}
	client := &scripted{replies: []string{"Action: Weather\nAction Input: Kandy", "Final Answer: no weather"}}
	out, err := NewReAct(client).Run(context.Background(), task, nil)
	require.NoError(t, err)
	require.Equal(t, "no weather", out)
	require.Contains(t, client.requests[1].Messages[2].Content, "upstream down")
}

func TestReActAbortingToolFailsTask(t *testing.T) {
	timeout := errors.New("timed out waiting for input")
	task := Task{Name: "setup", Tools: []Tool{{Name: "Ask Human", Run: func(context.Context, string) (string, error) {
		return "", Abort(timeout)
	}}}}
	client := &scripted{replies: []string{"Action: Ask Human\nAction Input: budget?"}}
	_, err := NewReAct(client).Run(context.Background(), task, nil)
	require.ErrorIs(t, err, timeout)
	require.ErrorIs(t, err, ErrToolAborted)
}

func TestReActForcesAnswerAfterMaxIterations(t *testing.T) {
	client := &scripted{replies: []string{
		"Thought: a", "Thought: b",
		"Here is everything I know",
	}}
	out, err := NewReAct(client, WithMaxIterations(2)).Run(context.Background(), Task{Name: "t"}, nil)
	require.NoError(t, err)
	require.Equal(t, "Here is everything I know", out)
	final := client.requests[2].Messages
	require.True(t, strings.HasPrefix(final[len(final)-1].Content, "Now it's time you MUST"))
}

func TestReActModelError(t *testing.T) {
	client := &scripted{}
	_, err := NewReAct(client).Run(context.Background(), Task{Name: "research"}, nil)
	require.ErrorContains(t, err, "research: model call")
}

func TestToolInput(t *testing.T) {
	require.Equal(t, "Kandy", ToolInput(`"Kandy"`))
	require.Equal(t, "Kandy", ToolInput(`{"city": "Kandy"}`))
	require.Equal(t, `{"a":1,"b":2}`, ToolInput(`{"a":1,"b":2}`))
	require.Equal(t, "3", ToolInput(`{"n": 3}`))
	require.Equal(t, "plain text", ToolInput("  plain text \n"))
	require.Equal(t, "Kandy", ToolInput("```json\n\"Kandy\"\n```"))
}

func TestParseStep(t *testing.T) {
	s := parseStep("Thought: x\nAction: Search\nAction Input: hotels in kandy\nObservation: fake")
	require.False(t, s.done)
	require.Equal(t, "Search", s.action)
	require.Equal(t, "hotels in kandy", s.input)

	s = parseStep("Action: Search\nAction Input: q\nFinal Answer: ok")
	require.True(t, s.done)
	require.Equal(t, "ok", s.final)
}
