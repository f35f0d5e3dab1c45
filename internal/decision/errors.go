package decision

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a provider failure for the retry policy.
type ErrorKind string

const (
	// KindRateLimit is an upstream throttle; retried.
	KindRateLimit ErrorKind = "RATE_LIMIT"
	// KindProviderError is a transient upstream or transport failure; retried.
	KindProviderError ErrorKind = "PROVIDER_ERROR"
	// KindTokenLimit means the request exceeds the model's context or output limits; never retried.
	KindTokenLimit ErrorKind = "TOKEN_LIMIT"
	// KindUnsupportedModel means the model is unknown to the provider; never retried.
	KindUnsupportedModel ErrorKind = "UNSUPPORTED_MODEL"
	// KindOther covers everything else; never retried.
	KindOther ErrorKind = "OTHER"
)

// Retryable reports whether a failure of this kind may succeed on a later attempt.
func (k ErrorKind) Retryable() bool {
	return k == KindRateLimit || k == KindProviderError
}

var (
	// ErrUnknownModel is returned when a model tag has no route.
	ErrUnknownModel = errors.New("unknown model")
	// ErrUnknownProvider is returned when a route names an unregistered provider.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrMalformedDecision is returned when a provider reply cannot be parsed as a decision.
	ErrMalformedDecision = errors.New("malformed decision")
)

// ProviderError is a classified failure from a reasoning provider.
type ProviderError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	// Provider is the provider name that produced the failure.
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Provider != "" {
		fmt.Fprintf(&b, " from %s", e.Provider)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Classify maps a status code and message to an ErrorKind.
// Phrase checks run in order: rate limit, token limit, unsupported model.
// A status of 0 means no HTTP response was received.
func Classify(statusCode int, message string) ErrorKind {
	msg := strings.ToLower(message)

	if statusCode == 429 || strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") || strings.Contains(msg, "too many requests") {
		return KindRateLimit
	}
	if strings.Contains(msg, "token") || strings.Contains(msg, "context length") {
		return KindTokenLimit
	}
	if strings.Contains(msg, "model") || strings.Contains(msg, "not found") || strings.Contains(msg, "unsupported") {
		return KindUnsupportedModel
	}
	if statusCode != 0 && (statusCode < 200 || statusCode >= 300) {
		return KindProviderError
	}
	return KindOther
}

// NewProviderError builds a classified error from a status and message.
func NewProviderError(provider string, statusCode int, message string, err error) *ProviderError {
	return &ProviderError{
		Kind:       Classify(statusCode, message),
		StatusCode: statusCode,
		Message:    message,
		Provider:   provider,
		Err:        err,
	}
}

// asProviderError converts any attempt error into a *ProviderError.
// attemptCtx is the per-attempt context; its deadline expiring means the
// attempt timed out, which is treated as a retryable provider error.
func asProviderError(provider string, attemptCtx context.Context, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Provider == "" {
			pe.Provider = provider
		}
		return pe
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return &ProviderError{
			Kind:     KindProviderError,
			Message:  "attempt timed out",
			Provider: provider,
			Err:      err,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ProviderError{
			Kind:     KindProviderError,
			Message:  err.Error(),
			Provider: provider,
			Err:      err,
		}
	}

	return NewProviderError(provider, 0, err.Error(), err)
}

// KindOf returns the ErrorKind carried by err, or KindOther.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindOther
}
