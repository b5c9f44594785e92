package pipeline

import (
	"fmt"
	"time"

	"github.com/yoockh/casescribe/internal/providers"
)

// Chain is the ordered list of providers tried for one request.
type Chain struct {
	Providers     []providers.ID
	AllowFallback bool
}

// Prefer returns a copy of c with id moved to the front. Unknown ids are ignored.
func (c Chain) Prefer(id providers.ID) Chain {
	if id == "" {
		return c
	}
	out := Chain{AllowFallback: c.AllowFallback, Providers: make([]providers.ID, 0, len(c.Providers))}
	found := false
	for _, p := range c.Providers {
		if p == id {
			found = true
			continue
		}
		out.Providers = append(out.Providers, p)
	}
	if !found {
		return c
	}
	out.Providers = append([]providers.ID{id}, out.Providers...)
	return out
}

type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64 // randomization factor in [0,1)
}

// Policy is the retry, escalation and caching contract of one capability.
type Policy struct {
	Chain         []providers.ID
	AllowFallback bool
	MaxAttempts   int
	Backoff       Backoff
	Timeout       time.Duration // per provider call
	TTL           time.Duration // 0 disables response caching
}

func (p Policy) ProviderChain() Chain {
	ids := make([]providers.ID, len(p.Chain))
	copy(ids, p.Chain)
	return Chain{Providers: ids, AllowFallback: p.AllowFallback}
}

func (p Policy) Validate() error {
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive, got %d", p.MaxAttempts)
	}
	if p.Backoff.Base < 0 || p.Backoff.Max < 0 {
		return fmt.Errorf("backoff must not be negative")
	}
	if p.Backoff.Jitter < 0 || p.Backoff.Jitter >= 1 {
		return fmt.Errorf("backoff jitter must be in [0,1), got %f", p.Backoff.Jitter)
	}
	if p.TTL < 0 || p.Timeout < 0 {
		return fmt.Errorf("ttl and timeout must not be negative")
	}
	return nil
}

type Policies map[providers.Capability]Policy

// DefaultPolicies mirrors production defaults: transcription stays with one
// vendor, generation fails over across the full chain.
func DefaultPolicies() Policies {
	bo := Backoff{Base: time.Second, Max: 10 * time.Second, Jitter: 0.3}
	return Policies{
		providers.Transcribe: {
			Chain:         []providers.ID{providers.Groq},
			AllowFallback: false,
			MaxAttempts:   3,
			Backoff:       bo,
			Timeout:       30 * time.Second,
		},
		providers.Generate: {
			Chain:         []providers.ID{providers.Groq, providers.OpenRouter, providers.Gemini, providers.OpenAI},
			AllowFallback: true,
			MaxAttempts:   3,
			Backoff:       bo,
			Timeout:       60 * time.Second,
			TTL:           time.Hour,
		},
		providers.Search: {
			MaxAttempts: 3,
			Backoff:     bo,
			Timeout:     30 * time.Second,
			TTL:         24 * time.Hour,
		},
	}
}

// ModelTable maps a logical model id to a vendor model per provider.
type ModelTable map[providers.ID]map[string]string

// Logical model ids understood by every provider.
const (
	ModelMain = "main"
	ModelFast = "fast"
)

func (t ModelTable) resolve(id providers.ID, model string) string {
	if m, ok := t[id][model]; ok {
		return m
	}
	if model == "" || model == ModelMain || model == ModelFast {
		return ""
	}
	return model
}
