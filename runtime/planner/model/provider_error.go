package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures.
type ProviderErrorKind string

const (
	ProviderErrorKindAuth           ProviderErrorKind = "auth"
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorKindRateLimited    ProviderErrorKind = "rate_limited"
	ProviderErrorKindUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorKindUnknown        ProviderErrorKind = "unknown"
)

// ProviderError is a classified failure returned by a model provider.
type ProviderError struct {
	Provider   string
	Operation  string
	HTTPStatus int
	Kind       ProviderErrorKind
	Code       string
	Message    string
	Retryable  bool
	Cause      error
}

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) ProviderErrorKind {
	switch {
	case status == 401 || status == 403:
		return ProviderErrorKindAuth
	case status == 429:
		return ProviderErrorKindRateLimited
	case status >= 500:
		return ProviderErrorKindUnavailable
	case status >= 400:
		return ProviderErrorKindInvalidRequest
	default:
		return ProviderErrorKindUnknown
	}
}

// NewProviderError classifies a failed call by HTTP status. A zero status
// yields an unknown, non retryable error.
func NewProviderError(provider, operation string, status int, code, message string, cause error) *ProviderError {
	kind := KindForStatus(status)
	return &ProviderError{
		Provider:   provider,
		Operation:  operation,
		HTTPStatus: status,
		Kind:       kind,
		Code:       code,
		Message:    message,
		Retryable:  kind == ProviderErrorKindRateLimited || kind == ProviderErrorKindUnavailable,
		Cause:      cause,
	}
}

func (e *ProviderError) Error() string {
	op := e.Operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.HTTPStatus > 0 {
		status = fmt.Sprintf("%d ", e.HTTPStatus)
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.Provider, e.Kind, status, op, msg)
}

// Unwrap returns the provider SDK error.
func (e *ProviderError) Unwrap() error { return e.Cause }

// Is matches ErrRateLimited for rate limited errors.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.Kind == ProviderErrorKindRateLimited
}

// AsProviderError returns the first ProviderError in err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
