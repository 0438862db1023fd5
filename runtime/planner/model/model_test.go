package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderErrorClassification(t *testing.T) {
	cause := errors.New("slow down")
	err := NewProviderError("anthropic", "messages.new", 429, "rate_limit_error", "", cause)
	require.Equal(t, ProviderErrorKindRateLimited, err.Kind)
	require.True(t, err.Retryable)
	require.ErrorIs(t, err, ErrRateLimited)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "anthropic rate_limited 429 (messages.new): rate_limit_error: slow down", err.Error())

	auth := NewProviderError("openai", "", 401, "", "bad key", nil)
	require.Equal(t, ProviderErrorKindAuth, auth.Kind)
	require.False(t, auth.Retryable)
	require.NotErrorIs(t, auth, ErrRateLimited)
	require.Equal(t, "openai auth 401 (request): bad key", auth.Error())

	require.Equal(t, ProviderErrorKindUnavailable, KindForStatus(503))
	require.Equal(t, ProviderErrorKindInvalidRequest, KindForStatus(400))
	require.Equal(t, ProviderErrorKindUnknown, KindForStatus(0))

	wrapped := errors.Join(errors.New("stage failed"), auth)
	pe, ok := AsProviderError(wrapped)
	require.True(t, ok)
	require.Equal(t, "openai", pe.Provider)
}

func TestRequestTranscript(t *testing.T) {
	req := Request{System: "sys", Messages: []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	}}
	require.Equal(t, "user: hello\n\nassistant: hi", req.Transcript())
	require.Equal(t, 10, req.Chars())
}

func TestRateLimiterAdapts(t *testing.T) {
	l := NewRateLimiter(6000, 12000)
	require.InDelta(t, 6000, l.TPM(), 0)

	var fail bool
	client := l.Wrap(ClientFunc(func(context.Context, Request) (Response, error) {
		if fail {
			return Response{}, NewProviderError("bedrock", "converse", 429, "", "", nil)
		}
		return Response{Text: "ok"}, nil
	}))

	resp, err := client.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.InDelta(t, 6300, l.TPM(), 0)

	fail = true
	_, err = client.Complete(context.Background(), Request{})
	require.ErrorIs(t, err, ErrRateLimited)
	require.InDelta(t, 3150, l.TPM(), 0)
}

func TestRateLimiterHonorsContext(t *testing.T) {
	l := NewRateLimiter(600, 600)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := l.Wrap(ClientFunc(func(context.Context, Request) (Response, error) {
		return Response{}, nil
	}))
	_, err := client.Complete(ctx, Request{})
	require.Error(t, err)
}
