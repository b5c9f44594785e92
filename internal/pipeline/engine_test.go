package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yoockh/casescribe/internal/cache"
	"github.com/yoockh/casescribe/internal/logger"
	"github.com/yoockh/casescribe/internal/providers"
	"github.com/yoockh/casescribe/internal/providers/llm"
	"github.com/yoockh/casescribe/internal/providers/stt"
)

type step struct {
	text string
	err  error
}

type fakeGenerator struct {
	id    providers.ID
	steps []step
	calls atomic.Int32
	last  llm.Request
	mu    sync.Mutex
	gate  chan struct{}
}

func (f *fakeGenerator) ID() providers.ID { return f.id }
func (f *fakeGenerator) Close() error     { return nil }

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request) (string, error) {
	n := int(f.calls.Add(1)) - 1
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if len(f.steps) == 0 {
		return "ok from " + string(f.id), nil
	}
	if n >= len(f.steps) {
		n = len(f.steps) - 1
	}
	return f.steps[n].text, f.steps[n].err
}

type fakeTranscriber struct {
	id    providers.ID
	err   error
	calls atomic.Int32
	hint  string
	lang  string
}

func (f *fakeTranscriber) ID() providers.ID { return f.id }
func (f *fakeTranscriber) Close() error     { return nil }
func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte, hint, language string) (string, error) {
	f.calls.Add(1)
	f.hint = hint
	f.lang = language
	if f.err != nil {
		return "", f.err
	}
	return "transcript", nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func testPolicies(chain ...providers.ID) Policies {
	p := DefaultPolicies()
	gen := p[providers.Generate]
	gen.Chain = chain
	gen.Backoff = Backoff{Base: 10 * time.Millisecond, Max: time.Second}
	gen.Timeout = time.Second
	p[providers.Generate] = gen

	tr := p[providers.Transcribe]
	tr.Backoff = Backoff{Base: 10 * time.Millisecond, Max: time.Second}
	p[providers.Transcribe] = tr
	return p
}

func newTestEngine(t *testing.T, c cache.Cache, pol Policies, gens ...llm.Provider) (*Engine, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	e, err := NewEngine(Options{
		Cache:      c,
		Generators: gens,
		Policies:   pol,
		Logger:     logger.Discard(),
		Sleep:      rec.sleep,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, rec
}

func rateLimited(id providers.ID) step {
	return step{err: providers.RateLimited(id, 429, errors.New("too many requests"))}
}

func TestRateLimitedProviderEscalatesAndCaches(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemoryCache()
	a := &fakeGenerator{id: providers.Groq, steps: []step{rateLimited(providers.Groq)}}
	b := &fakeGenerator{id: providers.OpenRouter, steps: []step{{text: "answer from b"}}}
	e, rec := newTestEngine(t, mem, testPolicies(providers.Groq, providers.OpenRouter), a, b)

	p := Prompt{System: "sys", User: "case text"}
	res, err := e.Complete(ctx, p)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if res.Provider != providers.OpenRouter || res.Text != "answer from b" {
		t.Errorf("Expected provider B result, got %+v", res)
	}
	if !res.Escalated || res.CacheHit {
		t.Errorf("Expected escalated, non-cached result, got %+v", res)
	}
	if a.calls.Load() != 3 {
		t.Errorf("Expected provider A to use its full budget of 3, got %d", a.calls.Load())
	}
	if len(rec.delays) != 2 {
		t.Fatalf("Expected 2 backoff sleeps on A, got %d", len(rec.delays))
	}
	if rec.delays[1] <= rec.delays[0] {
		t.Errorf("Expected growing backoff, got %v", rec.delays)
	}

	var cached cachedResponse
	hit, _ := mem.GetJSON(ctx, p.request().CacheKey(), &cached)
	if !hit || cached.Provider != providers.OpenRouter {
		t.Fatalf("Expected cache populated with provider B, got hit=%v %+v", hit, cached)
	}

	again, err := e.Complete(ctx, p)
	if err != nil {
		t.Fatalf("Repeat Complete failed: %v", err)
	}
	if !again.CacheHit || again.Provider != providers.OpenRouter || again.Text != "answer from b" {
		t.Errorf("Expected cached provider B value, got %+v", again)
	}
	if a.calls.Load() != 3 || b.calls.Load() != 1 {
		t.Errorf("Expected no provider calls on cache hit, got a=%d b=%d", a.calls.Load(), b.calls.Load())
	}
}

func TestTransientFailureRetriesSameProvider(t *testing.T) {
	a := &fakeGenerator{id: providers.Groq, steps: []step{
		{err: providers.Transient(providers.Groq, 503, errors.New("unavailable"))},
		{text: "recovered"},
	}}
	b := &fakeGenerator{id: providers.OpenAI}
	e, _ := newTestEngine(t, nil, testPolicies(providers.Groq, providers.OpenAI), a, b)

	res, err := e.Complete(context.Background(), Prompt{User: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != providers.Groq || res.Attempts != 2 || res.Escalated {
		t.Errorf("Expected second attempt on A to win, got %+v", res)
	}
	if b.calls.Load() != 0 {
		t.Error("Expected B never to be called")
	}
}

func TestUnclassifiedErrorIsRetriedAsTransient(t *testing.T) {
	a := &fakeGenerator{id: providers.Groq, steps: []step{{err: errors.New("connection reset")}, {text: "fine"}}}
	e, _ := newTestEngine(t, nil, testPolicies(providers.Groq), a)

	res, err := e.Complete(context.Background(), Prompt{User: "x"})
	if err != nil || res.Attempts != 2 {
		t.Fatalf("Expected retry after connection error, got %+v %v", res, err)
	}
}

func TestFatalFailureEscalatesWithoutRetry(t *testing.T) {
	a := &fakeGenerator{id: providers.Groq, steps: []step{{err: providers.Fatal(providers.Groq, 401, errors.New("bad key"))}}}
	b := &fakeGenerator{id: providers.Gemini}
	e, rec := newTestEngine(t, nil, testPolicies(providers.Groq, providers.Gemini), a, b)

	res, err := e.Complete(context.Background(), Prompt{User: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if a.calls.Load() != 1 {
		t.Errorf("Expected single attempt on fatal failure, got %d", a.calls.Load())
	}
	if len(rec.delays) != 0 {
		t.Errorf("Expected no backoff on fatal failure, got %v", rec.delays)
	}
	if res.Provider != providers.Gemini {
		t.Errorf("Expected escalation to gemini, got %s", res.Provider)
	}
}

func TestAllProvidersExhausted(t *testing.T) {
	a := &fakeGenerator{id: providers.Groq, steps: []step{rateLimited(providers.Groq)}}
	b := &fakeGenerator{id: providers.OpenAI, steps: []step{{err: providers.Fatal(providers.OpenAI, 400, errors.New("malformed"))}}}
	e, _ := newTestEngine(t, cache.NewMemoryCache(), testPolicies(providers.Groq, providers.OpenAI), a, b)

	_, err := e.Complete(context.Background(), Prompt{User: "x"})
	var ee *ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}
	if len(ee.Failures) != 2 {
		t.Fatalf("Expected 2 failures, got %d", len(ee.Failures))
	}
	if ee.Failures[0].Class != providers.ClassRateLimit || ee.Failures[0].Attempts != 3 {
		t.Errorf("Unexpected first failure %+v", ee.Failures[0])
	}
	if ee.Failures[1].Class != providers.ClassFatal || ee.Failures[1].Attempts != 1 {
		t.Errorf("Unexpected second failure %+v", ee.Failures[1])
	}
	msg := err.Error()
	if !strings.Contains(msg, "groq") || !strings.Contains(msg, "openai") {
		t.Errorf("Expected aggregate message to name both providers, got %q", msg)
	}
	var pe *providers.Error
	if !errors.As(err, &pe) {
		t.Error("Expected provider errors reachable through ExhaustedError")
	}
}

func TestTranscriptionDoesNotEscalateWhenFallbackDisabled(t *testing.T) {
	primary := &fakeTranscriber{id: providers.Groq, err: providers.Transient(providers.Groq, 502, errors.New("bad gateway"))}
	secondary := &fakeTranscriber{id: providers.OpenAI}

	pol := testPolicies(providers.Groq)
	tr := pol[providers.Transcribe]
	tr.Chain = []providers.ID{providers.Groq, providers.OpenAI}
	tr.AllowFallback = false
	pol[providers.Transcribe] = tr

	e, err := NewEngine(Options{
		Transcribers: []stt.Provider{primary, secondary},
		Policies:     pol,
		Logger:       logger.Discard(),
		Sleep:        (&sleepRecorder{}).sleep,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Transcribe(context.Background(), []byte("RIFF"), "hint", "fa")
	var ee *ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}
	if ee.FallbackAllowed || len(ee.Failures) != 1 {
		t.Errorf("Expected single non-escalating failure, got %+v", ee)
	}
	if primary.calls.Load() != 3 {
		t.Errorf("Expected 3 attempts on the trusted vendor, got %d", primary.calls.Load())
	}
	if secondary.calls.Load() != 0 {
		t.Error("Expected audio never to reach the secondary vendor")
	}
	if primary.hint != "hint" || primary.lang != "fa" {
		t.Errorf("Expected hint and language forwarded, got %q %q", primary.hint, primary.lang)
	}
}

func TestMalformedJSONEscalates(t *testing.T) {
	a := &fakeGenerator{id: providers.Groq, steps: []step{{text: "Sure! Here is the JSON"}}}
	b := &fakeGenerator{id: providers.OpenRouter, steps: []step{{text: "```json\n{\"ok\":true}\n```"}}}
	e, _ := newTestEngine(t, nil, testPolicies(providers.Groq, providers.OpenRouter), a, b)

	res, err := e.Complete(context.Background(), Prompt{User: "x", JSON: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != `{"ok":true}` || res.Provider != providers.OpenRouter {
		t.Errorf("Expected fenced JSON from B, got %+v", res)
	}
	if a.calls.Load() != 1 {
		t.Errorf("Expected malformed JSON not to be retried, got %d calls", a.calls.Load())
	}
}

func TestPreferReordersChainAndResolvesModels(t *testing.T) {
	a := &fakeGenerator{id: providers.Groq}
	b := &fakeGenerator{id: providers.Gemini}
	rec := &sleepRecorder{}
	e, err := NewEngine(Options{
		Generators: []llm.Provider{a, b},
		Policies:   testPolicies(providers.Groq, providers.Gemini),
		Models:     ModelTable{providers.Gemini: {ModelFast: "gemini-1.5-flash"}},
		Logger:     logger.Discard(),
		Sleep:      rec.sleep,
	})
	if err != nil {
		t.Fatal(err)
	}

	res, err := e.Complete(context.Background(), Prompt{User: "x", Model: ModelFast, Prefer: providers.Gemini})
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != providers.Gemini || a.calls.Load() != 0 {
		t.Errorf("Expected preferred gemini to serve the request, got %+v", res)
	}
	if b.last.Model != "gemini-1.5-flash" {
		t.Errorf("Expected fast alias resolved for gemini, got %q", b.last.Model)
	}

	_, _ = e.Complete(context.Background(), Prompt{User: "y", Model: ModelFast})
	if a.last.Model != "" {
		t.Errorf("Expected unmapped alias to fall back to provider default, got %q", a.last.Model)
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeGenerator{id: providers.Groq, steps: []step{rateLimited(providers.Groq)}}
	pol := testPolicies(providers.Groq)

	e, err := NewEngine(Options{
		Generators: []llm.Provider{a},
		Policies:   pol,
		Logger:     logger.Discard(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = e.Complete(ctx, Prompt{User: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if a.calls.Load() != 1 {
		t.Errorf("Expected retries to stop after cancellation, got %d calls", a.calls.Load())
	}
}

func TestCoalesceSharesInflightCall(t *testing.T) {
	gate := make(chan struct{})
	a := &fakeGenerator{id: providers.Groq, gate: gate}
	e, err := NewEngine(Options{
		Generators: []llm.Provider{a},
		Policies:   testPolicies(providers.Groq),
		Logger:     logger.Discard(),
		Coalesce:   true,
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]*Result, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = e.Complete(context.Background(), Prompt{User: "same"})
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	if a.calls.Load() != 1 {
		t.Errorf("Expected one shared provider call, got %d", a.calls.Load())
	}
	for i, r := range results {
		if r == nil || r.Text != "ok from groq" {
			t.Errorf("Result %d: unexpected %+v", i, r)
		}
	}
}

func TestCacheKeyDeterminism(t *testing.T) {
	base := Request{Capability: providers.Generate, Model: "main", System: "s", User: "u"}
	same := base
	if base.CacheKey() != same.CacheKey() {
		t.Error("Expected identical requests to share a key")
	}

	variants := []Request{
		{Capability: providers.Generate, Model: "fast", System: "s", User: "u"},
		{Capability: providers.Generate, Model: "main", System: "s", User: "u", JSONMode: true},
		{Capability: providers.Generate, Model: "main", System: "su", User: ""},
		{Capability: providers.Transcribe, Model: "main", Audio: []byte("u")},
	}
	audio := Request{Capability: providers.Transcribe, Audio: []byte("pcm")}
	persian := audio
	persian.Language = "fa"
	if audio.CacheKey() == persian.CacheKey() {
		t.Error("Expected language to change the transcription key")
	}
	for i, v := range variants {
		if v.CacheKey() == base.CacheKey() {
			t.Errorf("Variant %d collided with base key", i)
		}
	}
}

func TestZeroTTLSkipsCache(t *testing.T) {
	mem := cache.NewMemoryCache()
	pol := testPolicies(providers.Groq)
	gen := pol[providers.Generate]
	gen.TTL = 0
	pol[providers.Generate] = gen

	a := &fakeGenerator{id: providers.Groq}
	e, _ := newTestEngine(t, mem, pol, a)
	_, _ = e.Complete(context.Background(), Prompt{User: "x"})
	_, _ = e.Complete(context.Background(), Prompt{User: "x"})
	if a.calls.Load() != 2 || mem.Len() != 0 {
		t.Errorf("Expected no caching with zero ttl, got calls=%d entries=%d", a.calls.Load(), mem.Len())
	}
}

func TestChainPrefer(t *testing.T) {
	c := Chain{Providers: []providers.ID{providers.Groq, providers.OpenRouter, providers.Gemini}, AllowFallback: true}
	got := c.Prefer(providers.Gemini)
	if got.Providers[0] != providers.Gemini || len(got.Providers) != 3 {
		t.Errorf("Unexpected order %v", got.Providers)
	}
	if c.Providers[0] != providers.Groq {
		t.Error("Expected Prefer not to mutate the receiver")
	}
	if same := c.Prefer(providers.OpenAI); same.Providers[0] != providers.Groq {
		t.Error("Expected unknown preference to leave the chain alone")
	}
}
