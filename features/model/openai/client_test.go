package openai_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	openaimodel "github.com/tripcrew/tripcrew/features/model/openai"
	"github.com/tripcrew/tripcrew/runtime/planner/model"
)

type mockChatClient struct {
	request  openai.ChatCompletionNewParams
	response *openai.ChatCompletion
	err      error
}

func (m *mockChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.request = body
	return m.response, m.err
}

func TestClientComplete(t *testing.T) {
	mock := &mockChatClient{response: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{
			FinishReason: "stop",
			Message:      openai.ChatCompletionMessage{Content: "Final Answer: hi there"},
		}},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		System:      "you plan trips",
		Messages:    []model.Message{{Role: model.RoleUser, Content: "ping"}, {Role: model.RoleAssistant, Content: "Thought: x"}},
		Stop:        []string{"\nObservation:"},
		Temperature: 0.3,
		MaxTokens:   256,
	})
	require.NoError(t, err)
	require.Equal(t, "Final Answer: hi there", resp.Text)
	require.Equal(t, "stop", resp.StopReason)
	require.Equal(t, model.Usage{InputTokens: 10, OutputTokens: 5}, resp.Usage)

	require.Equal(t, "gpt-4o", mock.request.Model)
	require.Len(t, mock.request.Messages, 3)
	require.NotNil(t, mock.request.Messages[0].OfSystem)
	require.NotNil(t, mock.request.Messages[2].OfAssistant)
	require.Equal(t, []string{"\nObservation:"}, mock.request.Stop.OfStringArray)
	require.Equal(t, int64(256), mock.request.MaxTokens.Value)
	require.InDelta(t, 0.3, mock.request.Temperature.Value, 1e-9)
}

func TestClientCompleteErrors(t *testing.T) {
	mock := &mockChatClient{response: &openai.ChatCompletion{}}
	client, err := openaimodel.New(openaimodel.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), model.Request{})
	require.Error(t, err)

	_, err = client.Complete(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "x"}}})
	require.ErrorContains(t, err, "no choices")

	mock.err = &openai.Error{StatusCode: http.StatusTooManyRequests, Code: "rate_limit_exceeded", Message: "slow down"}
	_, err = client.Complete(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "x"}}})
	require.True(t, errors.Is(err, model.ErrRateLimited))

	mock.err = &openai.Error{StatusCode: http.StatusUnauthorized, Message: "bad key"}
	_, err = client.Complete(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "x"}}})
	pe, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.False(t, pe.Retryable)
	require.Equal(t, http.StatusUnauthorized, pe.HTTPStatus)
}

func TestNewValidation(t *testing.T) {
	_, err := openaimodel.New(openaimodel.Options{DefaultModel: "gpt-4o"})
	require.Error(t, err)
	_, err = openaimodel.New(openaimodel.Options{Client: &mockChatClient{}})
	require.Error(t, err)
	_, err = openaimodel.NewFromAPIKey("", openaimodel.OpenRouterBaseURL, "gpt-4o")
	require.Error(t, err)
}
