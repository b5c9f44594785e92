package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/yoockh/casescribe/internal/providers"
)

// LookupFunc reads one environment variable. os.LookupEnv in production.
type LookupFunc func(key string) (string, bool)

// Settings is the process configuration. Empty connection strings disable
// the matching backend.
type Settings struct {
	Env      string
	Port     string
	LogLevel string

	RedisAddr   string
	MongoURI    string
	MongoDB     string
	PostgresURI string
	NATSURL     string
	NATSPrefix  string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	AllowedOrigins []string

	PipelineConfig string
	Coalesce       bool

	GroqAPIKey       string
	GroqBaseURL      string
	GroqRPM          int
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenRouterAPIKey string
	OpenRouterURL    string

	GCPProject            string
	GCPLocation           string
	GeminiModel           string
	GoogleCredentialsFile string
	GoogleSpeech          bool
	SpeechLanguage        string

	PubMedAPIKey string
	PubMedEmail  string
	PubMedTool   string

	SampleRate     int
	Window         time.Duration
	Overlap        time.Duration
	MaxBuffer      time.Duration
	VADLevel       int
	VADEnergy      float64
	SkipSilent     bool
	MinSpeechRatio float64
	DrainGrace     time.Duration
	BacklogWarn    int
	HintChars      int
	Workers        int
	JobQueue       string // redis|local
	JobTTL         time.Duration
	MaxUploadBytes int

	OTLPEndpoint string
	OTLPInsecure bool
	OTelStdout   bool
}

// LoadDotenv reads .env when present; a missing file is not an error.
func LoadDotenv(paths ...string) {
	_ = godotenv.Load(paths...)
}

func FromEnv() (Settings, error) { return Load(os.LookupEnv) }

func Load(lookup LookupFunc) (Settings, error) {
	r := reader{lookup: lookup}
	s := Settings{
		Env:      r.str("GO_ENV", "development"),
		Port:     r.str("PORT", "8080"),
		LogLevel: r.str("LOG_LEVEL", "info"),

		RedisAddr:   r.first("REDIS_ADDR", "REDIS_URI", "REDIS_URL"),
		MongoURI:    r.str("MONGO_URI", ""),
		MongoDB:     r.str("MONGO_DB", "casescribe"),
		PostgresURI: r.str("POSTGRES_URI", ""),
		NATSURL:     r.str("NATS_URL", ""),
		NATSPrefix:  r.str("NATS_SUBJECT_PREFIX", "cases.jobs"),
		JWTSecret:   r.str("JWT_SECRET", ""),
		JWTIssuer:   r.str("JWT_ISSUER", ""),
		JWTAudience: r.str("JWT_AUDIENCE", ""),

		AllowedOrigins: r.list("WS_ALLOWED_ORIGINS"),

		PipelineConfig: r.str("PIPELINE_CONFIG", ""),
		Coalesce:       r.boolean("COALESCE_INFLIGHT", false),

		GroqAPIKey:       r.str("GROQ_API_KEY", ""),
		GroqBaseURL:      r.str("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqRPM:          r.integer("GROQ_RPM", 30),
		OpenAIAPIKey:     r.str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    r.str("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenRouterAPIKey: r.str("OPENROUTER_API_KEY", ""),
		OpenRouterURL:    r.str("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),

		GCPProject:            r.str("GCP_PROJECT_ID", ""),
		GCPLocation:           r.str("GCP_LOCATION", "us-central1"),
		GeminiModel:           r.str("GEMINI_MODEL", "gemini-1.5-pro"),
		GoogleCredentialsFile: r.str("GOOGLE_CREDENTIALS_FILE", ""),
		GoogleSpeech:          r.boolean("GOOGLE_SPEECH_ENABLED", false),
		SpeechLanguage:        r.str("SPEECH_LANGUAGE", "en-US"),

		PubMedAPIKey: r.str("PUBMED_API_KEY", ""),
		PubMedEmail:  r.str("PUBMED_EMAIL", ""),
		PubMedTool:   r.str("PUBMED_TOOL", "casescribe"),

		SampleRate:     r.integer("AUDIO_SAMPLE_RATE", 16000),
		Window:         r.duration("AUDIO_WINDOW", 4*time.Second),
		Overlap:        r.duration("AUDIO_OVERLAP", time.Second),
		MaxBuffer:      r.duration("AUDIO_MAX_BUFFER", 30*time.Second),
		VADLevel:       r.integer("VAD_AGGRESSIVENESS", 2),
		VADEnergy:      r.float("VAD_ENERGY_THRESHOLD", 300),
		SkipSilent:     r.boolean("VAD_SKIP_SILENT", false),
		MinSpeechRatio: r.float("VAD_MIN_SPEECH_RATIO", 0),
		DrainGrace:     r.duration("DRAIN_GRACE", 5*time.Second),
		BacklogWarn:    r.integer("BACKLOG_WARN", 10),
		HintChars:      r.integer("HINT_CHARS", 200),
		Workers:        r.integer("WORKERS", 4),
		JobQueue:       strings.ToLower(r.str("JOB_QUEUE", "")),
		JobTTL:         r.duration("JOB_TTL", 24*time.Hour),
		MaxUploadBytes: r.integer("MAX_UPLOAD_MB", 25) << 20,

		OTLPEndpoint: r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPInsecure: r.boolean("OTEL_EXPORTER_OTLP_INSECURE", false),
		OTelStdout:   r.boolean("OTEL_STDOUT", false),
	}
	if r.err != nil {
		return Settings{}, r.err
	}
	if s.JobQueue == "" {
		s.JobQueue = "local"
		if s.RedisAddr != "" {
			s.JobQueue = "redis"
		}
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	switch s.JobQueue {
	case "local":
	case "redis":
		if s.RedisAddr == "" {
			return fmt.Errorf("JOB_QUEUE=redis requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("JOB_QUEUE must be redis or local, got %q", s.JobQueue)
	}
	if s.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", s.Workers)
	}
	if s.VADLevel < 0 || s.VADLevel > 3 {
		return fmt.Errorf("VAD_AGGRESSIVENESS must be between 0 and 3, got %d", s.VADLevel)
	}
	if s.MinSpeechRatio < 0 || s.MinSpeechRatio >= 1 {
		return fmt.Errorf("VAD_MIN_SPEECH_RATIO must be in [0, 1), got %g", s.MinSpeechRatio)
	}
	return nil
}

// Keys reports which vendors have credentials configured.
func (s Settings) Keys() map[providers.ID]bool {
	return map[providers.ID]bool{
		providers.Groq:         s.GroqAPIKey != "",
		providers.OpenAI:       s.OpenAIAPIKey != "",
		providers.OpenRouter:   s.OpenRouterAPIKey != "",
		providers.Gemini:       s.GCPProject != "",
		providers.GoogleSpeech: s.GoogleSpeech,
	}
}

type reader struct {
	lookup LookupFunc
	err    error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) first(keys ...string) string {
	for _, k := range keys {
		if v, ok := r.raw(k); ok {
			return v
		}
	}
	return ""
}

func (r *reader) fail(key, v string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s=%q: %w", key, v, err)
	}
}

func (r *reader) list(key string) []string {
	v, ok := r.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return f
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}
