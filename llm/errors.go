package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrMissingAPIKey is returned before any network activity when a request has no credential.
var ErrMissingAPIKey = errors.New("missing api key")

// ProviderError is a non-2xx answer from the completion endpoint.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	retryable  bool
}

func (e *ProviderError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.Provider, e.StatusCode, msg)
}

// Retryable tells a front-end whether offering the user a retry makes sense.
// Nothing in this module retries on its own.
func (e *ProviderError) Retryable() bool {
	return e.retryable
}

// ErrorFromHTTPStatus classifies a failed completion call by its status code.
func ErrorFromHTTPStatus(provider string, statusCode int, message string) *ProviderError {
	e := &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
	}
	switch {
	case statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		e.retryable = true
	}
	return e
}

// IsRetryable reports whether err is worth a user-initiated retry.
// Transport failures count as retryable; cancellations, credential and request errors do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrMissingAPIKey) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	var se *StreamError
	if errors.As(err, &se) {
		return se.Transport
	}
	return true
}

// StreamError is a failure after the response started, keeping how much text had arrived.
type StreamError struct {
	PartialLen int
	Transport  bool
	Err        error
}

func (e *StreamError) Error() string {
	if e.PartialLen > 0 {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", e.PartialLen, e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
