// internal/domain/errors_test.go
package domain_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/waabox/devicelink/internal/domain"
)

func TestAuthError_CanBeDetectedWithErrorsIs(t *testing.T) {
	wrapped := fmt.Errorf("polling: %w", domain.NewAuthError(domain.KindRateLimited, nil))
	if !errors.Is(wrapped, domain.ErrRateLimited) {
		t.Error("expected errors.Is to detect ErrRateLimited in wrapped error")
	}
	if errors.Is(wrapped, domain.ErrTimeout) {
		t.Error("rate limit error must not match ErrTimeout")
	}
}

func TestAuthError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := domain.NewAuthError(domain.KindTransportError, cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the wrapped cause")
	}
}

func TestAuthError_MessageIncludesStatusAndBody(t *testing.T) {
	err := &domain.AuthError{Kind: domain.KindProviderUnavailable, Status: 503, Body: "maintenance"}
	msg := err.Error()
	if !strings.Contains(msg, "503") || !strings.Contains(msg, "maintenance") {
		t.Errorf("expected status and body in message, got %q", msg)
	}
}

func TestKindOf(t *testing.T) {
	if got := domain.KindOf(fmt.Errorf("x: %w", domain.NewAuthError(domain.KindTimeout, nil))); got != domain.KindTimeout {
		t.Errorf("expected timeout kind, got %q", got)
	}
	if got := domain.KindOf(errors.New("plain")); got != "" {
		t.Errorf("expected empty kind for plain error, got %q", got)
	}
}

func TestUserMessage_RateLimitedMentionsWaiting(t *testing.T) {
	msg := domain.UserMessage(domain.NewAuthError(domain.KindRateLimited, nil))
	if !strings.Contains(strings.ToLower(msg), "wait") {
		t.Errorf("expected wait hint, got %q", msg)
	}
}
