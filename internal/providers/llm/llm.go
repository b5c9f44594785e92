package llm

import (
	"context"
	"strings"

	"github.com/yoockh/casescribe/internal/providers"
)

type Request struct {
	System      string
	User        string
	Model       string // empty: provider default
	JSON        bool
	Temperature float32
	MaxTokens   int
}

type Provider interface {
	ID() providers.ID
	Generate(ctx context.Context, req Request) (string, error)
	Close() error
}

// StripFences removes a surrounding markdown code fence, which some models
// add even in JSON mode.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
