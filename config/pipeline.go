package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yoockh/casescribe/internal/pipeline"
	"github.com/yoockh/casescribe/internal/providers"
)

// PipelineFile is the YAML layout of PIPELINE_CONFIG. Omitted fields keep
// their defaults.
type PipelineFile struct {
	Capabilities map[string]PolicyFile        `yaml:"capabilities"`
	Models       map[string]map[string]string `yaml:"models"`
}

type PolicyFile struct {
	Chain         []string `yaml:"chain"`
	AllowFallback *bool    `yaml:"allow_fallback"`
	MaxAttempts   *int     `yaml:"max_attempts"`
	BackoffBase   string   `yaml:"backoff_base"`
	BackoffMax    string   `yaml:"backoff_max"`
	Jitter        *float64 `yaml:"jitter"`
	Timeout       string   `yaml:"timeout"`
	CacheTTL      string   `yaml:"cache_ttl"`
}

// DefaultModels maps logical model ids to each vendor's model names.
func DefaultModels(geminiModel string) pipeline.ModelTable {
	if geminiModel == "" {
		geminiModel = "gemini-1.5-pro"
	}
	return pipeline.ModelTable{
		providers.Groq: {
			pipeline.ModelMain: "llama-3.3-70b-versatile",
			pipeline.ModelFast: "llama-3.1-8b-instant",
		},
		providers.OpenRouter: {
			pipeline.ModelMain: "qwen/qwen-2.5-72b-instruct:free",
			pipeline.ModelFast: "qwen/qwen-2.5-72b-instruct:free",
		},
		providers.Gemini: {
			pipeline.ModelMain: geminiModel,
			pipeline.ModelFast: "gemini-2.0-flash",
		},
		providers.OpenAI: {
			pipeline.ModelMain: "gpt-4o",
			pipeline.ModelFast: "gpt-4o-mini",
		},
	}
}

// LoadPipeline returns the default policies and models overlaid with the
// YAML file at path. An empty path returns the defaults.
func LoadPipeline(path, geminiModel string) (pipeline.Policies, pipeline.ModelTable, error) {
	policies := pipeline.DefaultPolicies()
	models := DefaultModels(geminiModel)
	if path == "" {
		return policies, models, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if err := ParsePipeline(b, policies, models); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return policies, models, nil
}

// ParsePipeline applies a YAML document onto policies and models in place.
func ParsePipeline(b []byte, policies pipeline.Policies, models pipeline.ModelTable) error {
	var f PipelineFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return err
	}

	for name, pf := range f.Capabilities {
		c, err := providers.ParseCapability(name)
		if err != nil {
			return err
		}
		p := policies[c]
		if err := pf.apply(&p); err != nil {
			return fmt.Errorf("capability %s: %w", c, err)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("capability %s: %w", c, err)
		}
		policies[c] = p
	}

	for name, table := range f.Models {
		id, err := providers.ParseID(name)
		if err != nil {
			return err
		}
		if models[id] == nil {
			models[id] = map[string]string{}
		}
		for logical, vendor := range table {
			models[id][logical] = vendor
		}
	}
	return nil
}

func (pf PolicyFile) apply(p *pipeline.Policy) error {
	if pf.Chain != nil {
		ids, err := providers.ParseIDs(pf.Chain)
		if err != nil {
			return err
		}
		p.Chain = ids
	}
	if pf.AllowFallback != nil {
		p.AllowFallback = *pf.AllowFallback
	}
	if pf.MaxAttempts != nil {
		p.MaxAttempts = *pf.MaxAttempts
	}
	if pf.Jitter != nil {
		p.Backoff.Jitter = *pf.Jitter
	}
	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{pf.BackoffBase, &p.Backoff.Base},
		{pf.BackoffMax, &p.Backoff.Max},
		{pf.Timeout, &p.Timeout},
		{pf.CacheTTL, &p.TTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return err
		}
		*d.dst = v
	}
	return nil
}
