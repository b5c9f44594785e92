package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yoockh/casescribe/internal/providers"
)

// ProviderFailure is the final failure of one provider in a chain.
type ProviderFailure struct {
	Provider providers.ID
	Attempts int
	Class    providers.Class
	Err      error
}

// ExhaustedError is returned when no provider in the chain succeeded.
type ExhaustedError struct {
	Capability      providers.Capability
	Failures        []ProviderFailure
	FallbackAllowed bool
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("all providers exhausted for %s: no providers configured", e.Capability)
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s after %d attempt(s)): %v", f.Provider, f.Class, f.Attempts, f.Err))
	}
	return fmt.Sprintf("all providers exhausted for %s: %s", e.Capability, strings.Join(parts, "; "))
}

func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

var (
	errNotConfigured = errors.New("provider not configured for capability")
	errMalformedJSON = errors.New("response is not valid JSON")
)
