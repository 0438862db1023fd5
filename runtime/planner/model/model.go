// Package model defines the provider-neutral text completion contract that
// stage agents drive. Provider adapters live under features/model.
package model

import (
	"context"
	"errors"
	"strings"
)

type (
	// Role is the author of a message.
	Role string

	// Message is one turn of a conversation.
	Message struct {
		Role    Role
		Content string
	}

	// Request is a single completion call.
	Request struct {
		// System is the system prompt.
		System string
		// Messages is the conversation so far, oldest first.
		Messages []Message
		// Temperature overrides the client default when positive.
		Temperature float64
		// MaxTokens overrides the client default when positive.
		MaxTokens int
		// Stop lists sequences that end generation.
		Stop []string
	}

	// Usage reports token consumption when the provider returns it.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// Response is the completion result.
	Response struct {
		Text       string
		StopReason string
		Usage      Usage
	}

	// Client performs text completions.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// ClientFunc adapts a function to Client.
	ClientFunc func(ctx context.Context, req Request) (Response, error)
)

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrRateLimited is matched by provider errors of kind rate_limited.
	ErrRateLimited = errors.New("model provider rate limited")
	// ErrEmptyResponse indicates the provider returned no text.
	ErrEmptyResponse = errors.New("model returned no text")
)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Chars returns the number of characters across the system prompt and all
// messages.
func (r Request) Chars() int {
	n := len(r.System)
	for _, m := range r.Messages {
		n += len(m.Content)
	}
	return n
}

// Transcript renders the conversation as plain text, used by adapters whose
// API only accepts a single prompt.
func (r Request) Transcript() string {
	var b strings.Builder
	for i, m := range r.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
