package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/casescribe/internal/metrics"
	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/providers/llm"
)

// Generation is the raw generator output for one transcript.
type Generation struct {
	Text     string
	Provider string
}

// GenerateFunc populates the record fields for a transcript that passed the
// input, signal and scope checks.
type GenerateFunc func(ctx context.Context, transcript string) (*Generation, error)

type Config struct {
	MinTranscriptLen  int
	MinChiefComplaint int
	MinReasoning      int
	MinDifferential   int
	MaxDifferential   int
}

func DefaultConfig() Config {
	return Config{
		MinTranscriptLen:  50,
		MinChiefComplaint: 10,
		MinReasoning:      50,
		MinDifferential:   2,
		MaxDifferential:   5,
	}
}

type Gate struct {
	cfg     Config
	log     *logrus.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewGate(cfg Config, log *logrus.Logger, m *metrics.Metrics) *Gate {
	def := DefaultConfig()
	if cfg.MinTranscriptLen <= 0 {
		cfg.MinTranscriptLen = def.MinTranscriptLen
	}
	if cfg.MinChiefComplaint <= 0 {
		cfg.MinChiefComplaint = def.MinChiefComplaint
	}
	if cfg.MinReasoning <= 0 {
		cfg.MinReasoning = def.MinReasoning
	}
	if cfg.MinDifferential <= 0 {
		cfg.MinDifferential = def.MinDifferential
	}
	if cfg.MaxDifferential < cfg.MinDifferential {
		cfg.MaxDifferential = def.MaxDifferential
	}
	if log == nil {
		log = logrus.New()
	}
	return &Gate{cfg: cfg, log: log, metrics: m, now: time.Now}
}

// Evaluate runs the checks in order and returns a record in exactly one
// terminal status. It never returns nil and never panics.
func (g *Gate) Evaluate(ctx context.Context, transcript string, generate GenerateFunc) (rec *models.ClinicalRecord) {
	start := g.now()
	rec = &models.ClinicalRecord{
		CreatedAt: start.UTC(),
		Debug: models.DebugInfo{
			TranscriptLength: utf8.RuneCountInString(transcript),
			SignalsFound:     []string{},
		},
	}
	defer func() {
		if r := recover(); r != nil {
			g.log.WithField("panic", r).Error("quality gate recovered from panic")
			g.terminate(rec, models.StatusFailedInternal, fmt.Sprintf("internal error: %v", r))
		}
		rec.Debug.ProcessingMS = g.now().Sub(start).Milliseconds()
		g.metrics.GateOutcome(string(rec.Status))
		g.log.WithFields(logrus.Fields{
			"status":  rec.Status,
			"signals": rec.Debug.SignalsFound,
			"reason":  rec.Debug.FailureReason,
		}).Info("quality gate finished")
	}()

	text := strings.TrimSpace(transcript)
	if n := utf8.RuneCountInString(text); n < g.cfg.MinTranscriptLen {
		g.terminate(rec, models.StatusFailedInput,
			fmt.Sprintf("transcript too short: %d characters (minimum %d)", n, g.cfg.MinTranscriptLen))
		return rec
	}

	rec.Debug.SignalsFound = DetectSignals(text)
	if len(rec.Debug.SignalsFound) == 0 {
		g.terminate(rec, models.StatusFailedNoClinicalData, "no clinical signal detected in transcript")
		return rec
	}

	scope := CheckScope(text)
	rec.Debug.ScopeVerified = scope.Pediatric
	rec.Debug.AgeMentioned = scope.Mention()
	if scope.Adult {
		g.terminate(rec, models.StatusFailedNonPediatric,
			fmt.Sprintf("patient age %q is above %d years", scope.Mention(), MaxPediatricAge))
		return rec
	}

	if generate == nil {
		g.terminate(rec, models.StatusFailedInternal, "no generator configured")
		return rec
	}
	gen, err := generate(ctx, text)
	if err != nil {
		g.terminate(rec, models.StatusFailedInternal, "generation failed: "+err.Error())
		return rec
	}
	if gen == nil {
		g.terminate(rec, models.StatusFailedInternal, "generation returned no output")
		return rec
	}
	rec.Debug.Provider = gen.Provider

	out, err := parseOutput(gen.Text)
	if err != nil {
		g.terminate(rec, models.StatusFailedInternal, "unparseable generation output: "+err.Error())
		return rec
	}
	out.apply(rec)

	if reason := g.check(out); reason != "" {
		g.terminate(rec, models.StatusFailedQuality, reason)
		return rec
	}
	rec.Status = models.StatusCompleted
	return rec
}

func (g *Gate) terminate(rec *models.ClinicalRecord, status models.RecordStatus, reason string) {
	rec.Status = status
	rec.Debug.FailureReason = reason
}

type output struct {
	ChiefComplaint    string             `json:"chief_complaint"`
	Summary           *models.Summary    `json:"summary"`
	Differential      []models.Diagnosis `json:"differential"`
	EvidenceReference string             `json:"evidence_reference"`
	Urgency           string             `json:"urgency"`
	Confidence        *float64           `json:"confidence"`
	Debug             *struct {
		Confidence       *float64 `json:"confidence"`
		DetectedLanguage string   `json:"transcript_language_detected"`
		LanguageMismatch bool     `json:"language_mismatch"`
	} `json:"debug"`
}

func parseOutput(text string) (*output, error) {
	text = llm.StripFences(text)
	if text == "" {
		return nil, fmt.Errorf("empty response")
	}
	var out output
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, err
	}
	if out.ChiefComplaint == "" && out.Summary != nil {
		out.ChiefComplaint = out.Summary.ChiefComplaint
	}
	return &out, nil
}

// apply copies generated fields onto rec. Gate-computed debug fields are
// never overwritten.
func (o *output) apply(rec *models.ClinicalRecord) {
	rec.ChiefComplaint = strings.TrimSpace(o.ChiefComplaint)
	rec.Summary = o.Summary
	rec.Differential = o.Differential
	rec.EvidenceReference = strings.TrimSpace(o.EvidenceReference)
	rec.Urgency = models.Urgency(strings.ToUpper(strings.TrimSpace(o.Urgency)))

	conf := o.Confidence
	if conf == nil && o.Debug != nil {
		conf = o.Debug.Confidence
	}
	if conf != nil {
		rec.Debug.Confidence = clamp01(*conf)
	}
	if o.Debug != nil {
		rec.Debug.DetectedLanguage = strings.TrimSpace(o.Debug.DetectedLanguage)
		rec.Debug.LanguageMismatch = o.Debug.LanguageMismatch
	}
}

func (g *Gate) check(o *output) string {
	if o.Summary == nil {
		return "summary missing"
	}
	fields := []struct{ name, value string }{
		{"history", o.Summary.History},
		{"findings", o.Summary.Findings},
		{"assessment", o.Summary.Assessment},
	}
	for _, f := range fields {
		if isPlaceholder(f.value) {
			return fmt.Sprintf("summary %s is empty or a placeholder", f.name)
		}
	}

	cc := strings.TrimSpace(o.ChiefComplaint)
	if utf8.RuneCountInString(cc) < g.cfg.MinChiefComplaint || strings.Contains(strings.ToLower(cc), "unknown complaint") {
		return fmt.Sprintf("chief complaint too vague: %q", cc)
	}

	if n := len(o.Differential); n < g.cfg.MinDifferential || n > g.cfg.MaxDifferential {
		return fmt.Sprintf("differential count invalid: %d (expected %d-%d)", n, g.cfg.MinDifferential, g.cfg.MaxDifferential)
	}
	for i, d := range o.Differential {
		if strings.TrimSpace(d.Diagnosis) == "" {
			return fmt.Sprintf("differential %d has no diagnosis label", i+1)
		}
		if utf8.RuneCountInString(strings.TrimSpace(d.Reasoning)) < g.cfg.MinReasoning {
			return fmt.Sprintf("reasoning for %q shorter than %d characters", d.Diagnosis, g.cfg.MinReasoning)
		}
	}

	if strings.TrimSpace(o.EvidenceReference) == "" {
		return "evidence reference missing"
	}
	if u := models.Urgency(strings.ToUpper(strings.TrimSpace(o.Urgency))); !u.Valid() {
		return fmt.Sprintf("invalid urgency: %q", o.Urgency)
	}
	return ""
}

var placeholders = []string{"n/a", "na", "unknown", "analysis failed", "tbd", "none", "-"}

func isPlaceholder(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	for _, p := range placeholders {
		if s == p {
			return true
		}
	}
	return strings.Contains(s, "analysis failed")
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
