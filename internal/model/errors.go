package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Sentinel errors of the invocation layer. Test with errors.Is.
var (
	ErrValidation     = errors.New("invalid input")
	ErrEmptyResponse  = errors.New("empty response received from model")
	ErrContentBlocked = errors.New("content blocked")
	ErrRateLimited    = errors.New("rate limited")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrTransport      = errors.New("transport error")
	ErrMissingAPIKey  = errors.New("gemini API key not configured: set GEMINI_API_KEY")
)

// ErrorCode is the coarse upstream classification.
type ErrorCode string

const (
	CodeNone           ErrorCode = ""
	CodeQuotaExceeded  ErrorCode = "QUOTA_EXCEEDED"
	CodeContentBlocked ErrorCode = "CONTENT_BLOCKED"
	CodeRateLimited    ErrorCode = "RATE_LIMITED"
)

// Error is an invocation failure carrying a code and an HTTP-like status.
type Error struct {
	Code    ErrorCode
	Status  int
	Message string

	kind  error
	cause error
}

func (e *Error) Error() string {
	if e.Code != CodeNone {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// HTTPStatus lets the retrier classify the error.
func (e *Error) HTTPStatus() int { return e.Status }

func (e *Error) Is(target error) bool { return target == e.kind }

func (e *Error) Unwrap() error { return e.cause }

// validationError reports rejected caller input. It is never retried.
func validationError(msg string) error {
	return &Error{Status: http.StatusBadRequest, Message: msg, kind: ErrValidation}
}

func blockedError(reason string) error {
	return &Error{
		Code:    CodeContentBlocked,
		Status:  http.StatusBadRequest,
		Message: "content blocked: " + reason,
		kind:    ErrContentBlocked,
	}
}

// classify converts an upstream error into an *Error. The upstream error
// taxonomy is not stable, so this matches substrings of the message.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	out := &Error{Message: msg, kind: ErrTransport, cause: err}

	if status, ok := upstreamStatus(err); ok {
		out.Status = status
	}

	switch {
	case strings.Contains(lower, "quota"):
		out.Code, out.Status, out.kind = CodeQuotaExceeded, http.StatusTooManyRequests, ErrQuotaExceeded
	case strings.Contains(lower, "blocked"):
		out.Code, out.Status, out.kind = CodeContentBlocked, http.StatusBadRequest, ErrContentBlocked
	case strings.Contains(lower, "rate limit"):
		out.Code, out.Status, out.kind = CodeRateLimited, http.StatusTooManyRequests, ErrRateLimited
	case out.Status == http.StatusTooManyRequests:
		out.Code, out.kind = CodeRateLimited, ErrRateLimited
	}
	return out
}

func upstreamStatus(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Code != 0
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, apiErrPtr.Code != 0
	}
	return 0, false
}
