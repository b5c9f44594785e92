package config

import (
	"strings"
	"testing"
	"time"

	"github.com/yoockh/casescribe/internal/pipeline"
	"github.com/yoockh/casescribe/internal/providers"
)

func envOf(kv map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	s, err := Load(envOf(nil))
	if err != nil {
		t.Fatal(err)
	}
	if s.Port != "8080" || s.SampleRate != 16000 || s.Window != 4*time.Second || s.Overlap != time.Second {
		t.Errorf("Unexpected defaults %+v", s)
	}
	if s.DrainGrace != 5*time.Second || s.BacklogWarn != 10 || s.GroqRPM != 30 || s.Workers != 4 {
		t.Errorf("Unexpected defaults %+v", s)
	}
	if s.JobQueue != "local" {
		t.Errorf("Expected local queue without redis, got %s", s.JobQueue)
	}
	if s.MaxUploadBytes != 25<<20 {
		t.Errorf("Expected 25MB upload limit, got %d", s.MaxUploadBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	s, err := Load(envOf(map[string]string{
		"REDIS_URL":            "redis://localhost:6379/0",
		"AUDIO_WINDOW":         "5s",
		"VAD_SKIP_SILENT":      "true",
		"VAD_MIN_SPEECH_RATIO": "0.25",
		"GROQ_API_KEY":         "k",
		"MAX_UPLOAD_MB":        "10",

		"WS_ALLOWED_ORIGINS": "https://a.example, ,https://b.example",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if s.RedisAddr != "redis://localhost:6379/0" || s.JobQueue != "redis" {
		t.Errorf("Expected redis queue, got %q %q", s.RedisAddr, s.JobQueue)
	}
	if s.Window != 5*time.Second || !s.SkipSilent || s.MinSpeechRatio != 0.25 || s.MaxUploadBytes != 10<<20 {
		t.Errorf("Unexpected overrides %+v", s)
	}
	if len(s.AllowedOrigins) != 2 || s.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Expected 2 origins, got %v", s.AllowedOrigins)
	}
	if !s.Keys()[providers.Groq] || s.Keys()[providers.OpenAI] {
		t.Errorf("Unexpected keys %v", s.Keys())
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []map[string]string{
		{"AUDIO_WINDOW": "four"},
		{"WORKERS": "x"},
		{"VAD_SKIP_SILENT": "maybe"},
		{"JOB_QUEUE": "kafka"},
		{"JOB_QUEUE": "redis"},
		{"VAD_AGGRESSIVENESS": "5"},
		{"VAD_MIN_SPEECH_RATIO": "1"},
	}
	for _, env := range tests {
		if _, err := Load(envOf(env)); err == nil {
			t.Errorf("Expected error for %v", env)
		}
	}
}

func TestParsePipelineOverlaysDefaults(t *testing.T) {
	doc := `
capabilities:
  generate:
    chain: [openrouter, gemini]
    max_attempts: 2
    cache_ttl: 30m
  transcribe:
    backoff_base: 500ms
models:
  groq:
    main: llama-3.1-70b
`
	policies := pipeline.DefaultPolicies()
	models := DefaultModels("")
	if err := ParsePipeline([]byte(doc), policies, models); err != nil {
		t.Fatal(err)
	}

	gen := policies[providers.Generate]
	if len(gen.Chain) != 2 || gen.Chain[0] != providers.OpenRouter || gen.MaxAttempts != 2 || gen.TTL != 30*time.Minute {
		t.Errorf("Unexpected generate policy %+v", gen)
	}
	if !gen.AllowFallback {
		t.Error("Expected allow_fallback default kept")
	}
	tr := policies[providers.Transcribe]
	if tr.Backoff.Base != 500*time.Millisecond || tr.AllowFallback || len(tr.Chain) != 1 {
		t.Errorf("Unexpected transcribe policy %+v", tr)
	}
	if models[providers.Groq][pipeline.ModelMain] != "llama-3.1-70b" || models[providers.Groq][pipeline.ModelFast] == "" {
		t.Errorf("Unexpected groq models %v", models[providers.Groq])
	}
}

func TestParsePipelineErrors(t *testing.T) {
	tests := []struct {
		doc  string
		want string
	}{
		{"capabilities:\n  summarize: {}\n", "unknown capability"},
		{"capabilities:\n  generate:\n    chain: [acme]\n", "unknown provider"},
		{"capabilities:\n  generate:\n    timeout: soon\n", "invalid duration"},
		{"capabilities:\n  generate:\n    max_attempts: 0\n", "max_attempts"},
		{"models:\n  acme: {main: x}\n", "unknown provider"},
	}
	for _, tt := range tests {
		err := ParsePipeline([]byte(tt.doc), pipeline.DefaultPolicies(), DefaultModels(""))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Expected error containing %q, got %v", tt.want, err)
		}
	}
}
