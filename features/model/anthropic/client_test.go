package anthropic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tripcrew/tripcrew/runtime/planner/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{Model: "claude-sonnet-4-5", MaxTokens: 128, Temperature: 0.2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "Thought: done\n"},
			{Type: "text", Text: "Final Answer: world"},
		},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}

	resp, err := cl.Complete(context.Background(), model.Request{
		System: "be brief",
		Messages: []model.Message{
			{Role: model.RoleUser, Content: "hello"},
			{Role: model.RoleAssistant, Content: "Thought: x"},
			{Role: model.RoleUser, Content: "Observation: y"},
		},
		Stop: []string{"\nObservation:"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Thought: done\nFinal Answer: world" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
	if resp.StopReason != string(sdk.StopReasonEndTurn) {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}

	p := stub.lastParams
	if len(p.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(p.Messages))
	}
	if p.Messages[1].Role != sdk.MessageParamRoleAssistant {
		t.Fatalf("expected assistant role, got %q", p.Messages[1].Role)
	}
	if len(p.System) != 1 || p.System[0].Text != "be brief" {
		t.Fatalf("unexpected system %+v", p.System)
	}
	if len(p.StopSequences) != 1 || p.StopSequences[0] != "\nObservation:" {
		t.Fatalf("unexpected stop sequences %v", p.StopSequences)
	}
	if p.MaxTokens != 128 {
		t.Fatalf("unexpected max tokens %d", p.MaxTokens)
	}
}

func TestComplete_RequiresMessages(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{Model: "m"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cl.Complete(context.Background(), model.Request{}); err == nil {
		t.Fatal("expected error for empty request")
	}
}

func TestComplete_RateLimited(t *testing.T) {
	stub := &stubMessagesClient{err: &sdk.Error{
		StatusCode: http.StatusTooManyRequests,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: http.StatusTooManyRequests},
	}}
	cl, err := New(stub, Options{Model: "m"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = cl.Complete(context.Background(), model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	pe, ok := model.AsProviderError(err)
	if !ok || !pe.Retryable || pe.Provider != "anthropic" {
		t.Fatalf("unexpected provider error %+v", pe)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, Options{Model: "m"}); err == nil {
		t.Fatal("expected error for nil client")
	}
	if _, err := New(&stubMessagesClient{}, Options{}); err == nil {
		t.Fatal("expected error for missing model")
	}
	if _, err := NewFromAPIKey("", Options{Model: "m"}); err == nil {
		t.Fatal("expected error for missing key")
	}
}
