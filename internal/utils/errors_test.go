package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", E(CodeInvalidArgument, "op", "bad", nil), http.StatusBadRequest},
		{"not found", E(CodeNotFound, "op", "missing", nil), http.StatusNotFound},
		{"rate limited", E(CodeRateLimited, "op", "slow down", nil), http.StatusTooManyRequests},
		{"too large", E(CodeTooLarge, "op", "too big", nil), http.StatusRequestEntityTooLarge},
		{"wrapped app error", fmt.Errorf("outer: %w", E(CodeUnavailable, "op", "down", nil)), http.StatusServiceUnavailable},
		{"sentinel", fmt.Errorf("lookup: %w", ErrNotFound), http.StatusNotFound},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, got)
			}
		})
	}
}

func TestAppErrorFormatting(t *testing.T) {
	err := E(CodeInternal, "Engine.Execute", "provider failed", errors.New("eof"))
	if got := err.Error(); got != "Engine.Execute: provider failed: eof" {
		t.Errorf("Unexpected message %q", got)
	}
	if !IsCode(err, CodeInternal) {
		t.Error("Expected IsCode to match CodeInternal")
	}
	if CodeOf(errors.New("x")) != CodeInternal {
		t.Error("Expected plain errors to map to CodeInternal")
	}
}
