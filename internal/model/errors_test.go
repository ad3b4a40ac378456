package model

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"

	"github.com/soochol/promptflow/internal/resilience"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   ErrorCode
		wantStatus int
		wantKind   error
		retryable  bool
	}{
		{"quota", errors.New("You exceeded your current quota"), CodeQuotaExceeded, 429, ErrQuotaExceeded, true},
		{"blocked", errors.New("request blocked by safety filter"), CodeContentBlocked, 400, ErrContentBlocked, false},
		{"rate limit", errors.New("Rate limit reached"), CodeRateLimited, 429, ErrRateLimited, true},
		{"plain network", errors.New("connection reset by peer"), CodeNone, 0, ErrTransport, true},
		{"api 503", fmt.Errorf("gemini: %w", genai.APIError{Code: 503, Message: "unavailable"}), CodeNone, 503, ErrTransport, true},
		{"api 404", fmt.Errorf("gemini: %w", genai.APIError{Code: 404, Message: "model not found"}), CodeNone, 404, ErrTransport, false},
		{"api 429 without phrase", fmt.Errorf("gemini: %w", genai.APIError{Code: 429, Message: "slow down"}), CodeRateLimited, 429, ErrRateLimited, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			var me *Error
			if !errors.As(got, &me) {
				t.Fatalf("expected *Error, got %T", got)
			}
			if me.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", me.Code, tt.wantCode)
			}
			if me.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", me.Status, tt.wantStatus)
			}
			if !errors.Is(got, tt.wantKind) {
				t.Errorf("errors.Is(%v, %v) = false", got, tt.wantKind)
			}
			if resilience.IsRetryable(got) != tt.retryable {
				t.Errorf("retryable = %v, want %v", !tt.retryable, tt.retryable)
			}
		})
	}
}

func TestClassify_KeepsExistingError(t *testing.T) {
	orig := blockedError("SAFETY")
	if got := classify(orig); got != orig {
		t.Errorf("classify re-wrapped an *Error: %v", got)
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestError_Message(t *testing.T) {
	err := blockedError("SAFETY")
	if err.Error() != "CONTENT_BLOCKED: content blocked: SAFETY" {
		t.Errorf("unexpected message %q", err.Error())
	}
}
