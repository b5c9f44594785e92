package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/yoockh/casescribe/internal/cache"
	"github.com/yoockh/casescribe/internal/metrics"
	"github.com/yoockh/casescribe/internal/providers"
	"github.com/yoockh/casescribe/internal/providers/llm"
	"github.com/yoockh/casescribe/internal/providers/stt"
)

type Options struct {
	Cache        cache.Cache
	Transcribers []stt.Provider
	Generators   []llm.Provider
	Policies     Policies
	Models       ModelTable

	Logger  *logrus.Logger
	Metrics *metrics.Metrics

	// Coalesce shares one in-flight provider call between identical requests.
	Coalesce bool

	// Sleep waits between retries; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Engine executes capability requests against a provider chain with retry,
// escalation and response caching. Safe for concurrent use.
type Engine struct {
	cache        cache.Cache
	transcribers map[providers.ID]stt.Provider
	generators   map[providers.ID]llm.Provider
	policies     Policies
	models       ModelTable

	log     *logrus.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	group   *singleflight.Group
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewEngine(opts Options) (*Engine, error) {
	e := &Engine{
		cache:        opts.Cache,
		transcribers: make(map[providers.ID]stt.Provider),
		generators:   make(map[providers.ID]llm.Provider),
		policies:     DefaultPolicies(),
		models:       opts.Models,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		tracer:       otel.Tracer("github.com/yoockh/casescribe/internal/pipeline"),
		sleep:        opts.Sleep,
	}
	if e.log == nil {
		e.log = logrus.New()
	}
	if e.sleep == nil {
		e.sleep = sleepCtx
	}
	if opts.Coalesce {
		e.group = &singleflight.Group{}
	}
	for c, p := range opts.Policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", c, err)
		}
		e.policies[c] = p
	}
	for _, p := range opts.Transcribers {
		e.transcribers[p.ID()] = p
	}
	for _, p := range opts.Generators {
		e.generators[p.ID()] = p
	}
	return e, nil
}

func (e *Engine) Policy(c providers.Capability) Policy { return e.policies[c] }

// Transcribe runs the transcription policy chain on a WAV payload.
func (e *Engine) Transcribe(ctx context.Context, wav []byte, hint, language string) (*Result, error) {
	req := Request{Capability: providers.Transcribe, Audio: wav, Hint: hint, Language: language}
	return e.Execute(ctx, req, e.policies[providers.Transcribe].ProviderChain())
}

// Complete runs the generation policy chain, honouring p.Prefer.
func (e *Engine) Complete(ctx context.Context, p Prompt) (*Result, error) {
	chain := e.policies[providers.Generate].ProviderChain().Prefer(p.Prefer)
	return e.Execute(ctx, p.request(), chain)
}

func (e *Engine) Execute(ctx context.Context, req Request, chain Chain) (*Result, error) {
	pol := e.policies[req.Capability]
	key := req.CacheKey()

	ctx, span := e.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("capability", string(req.Capability)),
		attribute.String("cache_key", key),
	))
	defer span.End()

	if pol.TTL > 0 && e.cache != nil {
		var cached cachedResponse
		hit, err := e.cache.GetJSON(ctx, key, &cached)
		if err != nil {
			e.log.WithError(err).WithField("cache_key", key).Warn("cache lookup failed")
		}
		e.metrics.CacheLookup(string(req.Capability), hit)
		if hit {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return &Result{Text: cached.Text, Provider: cached.Provider, CacheHit: true, CacheKey: key}, nil
		}
	}

	var (
		res *Result
		err error
	)
	if e.group != nil {
		v, gerr, _ := e.group.Do(key, func() (any, error) {
			r, err := e.run(ctx, req, chain, pol, key)
			return r, err
		})
		if gerr != nil {
			err = gerr
		} else {
			shared := *v.(*Result)
			res = &shared
		}
	} else {
		res, err = e.run(ctx, req, chain, pol, key)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("provider", string(res.Provider)), attribute.Bool("escalated", res.Escalated))
	return res, nil
}

func (e *Engine) run(ctx context.Context, req Request, chain Chain, pol Policy, key string) (*Result, error) {
	ids := chain.Providers
	if !chain.AllowFallback && len(ids) > 1 {
		ids = ids[:1]
	}
	if len(ids) == 0 {
		return nil, &ExhaustedError{Capability: req.Capability, FallbackAllowed: chain.AllowFallback}
	}

	log := e.log.WithFields(logrus.Fields{"capability": req.Capability, "cache_key": key})
	var failures []ProviderFailure
	for i, id := range ids {
		if i > 0 {
			e.metrics.Escalated(string(req.Capability), string(ids[i-1]), string(id))
			log.WithFields(logrus.Fields{"from": ids[i-1], "to": id}).Warn("escalating to next provider")
		}

		text, attempts, err := e.attempt(ctx, req, id, pol)
		if err == nil {
			res := &Result{Text: text, Provider: id, Attempts: attempts, Escalated: i > 0, CacheKey: key}
			if pol.TTL > 0 && e.cache != nil {
				if err := e.cache.SetJSON(ctx, key, cachedResponse{Text: text, Provider: id}, pol.TTL); err != nil {
					log.WithError(err).Warn("cache write failed")
				}
			}
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("Engine.Execute: %w", ctx.Err())
		}
		failures = append(failures, ProviderFailure{
			Provider: id,
			Attempts: attempts,
			Class:    providers.Classify(err),
			Err:      err,
		})
	}

	ee := &ExhaustedError{Capability: req.Capability, Failures: failures, FallbackAllowed: chain.AllowFallback}
	log.WithError(ee).Error("provider chain exhausted")
	return nil, ee
}

// attempt calls one provider up to the attempt budget. Transient and
// rate-limit failures back off and retry; fatal failures return at once.
func (e *Engine) attempt(ctx context.Context, req Request, id providers.ID, pol Policy) (string, int, error) {
	max := pol.MaxAttempts
	if max <= 0 {
		max = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     pol.Backoff.Base,
		RandomizationFactor: pol.Backoff.Jitter,
		Multiplier:          2,
		MaxInterval:         pol.Backoff.Max,
	}
	b.Reset()

	var lastErr error
	for n := 1; n <= max; n++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if pol.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, pol.Timeout)
		}
		spanCtx, span := e.tracer.Start(callCtx, "pipeline.provider_call", trace.WithAttributes(
			attribute.String("provider", string(id)),
			attribute.Int("attempt", n),
		))
		start := time.Now()
		text, err := e.call(spanCtx, req, id)
		elapsed := time.Since(start)
		cancel()

		if err == nil {
			span.End()
			e.metrics.Attempt(string(req.Capability), string(id), "ok", elapsed.Seconds())
			return text, n, nil
		}
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		span.End()

		if ctx.Err() != nil {
			return "", n, ctx.Err()
		}
		var pe *providers.Error
		if !errors.As(err, &pe) {
			err = providers.Transient(id, 0, err)
		}
		class := providers.Classify(err)
		e.metrics.Attempt(string(req.Capability), string(id), class.String(), elapsed.Seconds())
		e.log.WithError(err).WithFields(logrus.Fields{
			"capability": req.Capability,
			"provider":   id,
			"attempt":    n,
			"class":      class.String(),
		}).Warn("provider call failed")

		lastErr = err
		if class == providers.ClassFatal || n == max {
			return "", n, err
		}
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return "", n, err
		}
		if err := e.sleep(ctx, delay); err != nil {
			return "", n, err
		}
	}
	return "", max, lastErr
}

func (e *Engine) call(ctx context.Context, req Request, id providers.ID) (string, error) {
	switch req.Capability {
	case providers.Transcribe:
		p, ok := e.transcribers[id]
		if !ok {
			return "", providers.Fatal(id, 0, errNotConfigured)
		}
		return p.Transcribe(ctx, req.Audio, req.Hint, req.Language)

	case providers.Generate:
		p, ok := e.generators[id]
		if !ok {
			return "", providers.Fatal(id, 0, errNotConfigured)
		}
		text, err := p.Generate(ctx, llm.Request{
			System:      req.System,
			User:        req.User,
			Model:       e.models.resolve(id, req.Model),
			JSON:        req.JSONMode,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		if req.JSONMode {
			text = llm.StripFences(text)
			if !json.Valid([]byte(text)) {
				return "", providers.Fatal(id, 0, errMalformedJSON)
			}
		}
		return text, nil

	default:
		return "", providers.Fatal(id, 0, fmt.Errorf("unsupported capability %q", req.Capability))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
