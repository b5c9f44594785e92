// Package bootstrap builds the component graph shared by the server and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"google.golang.org/api/option"
	"gorm.io/gorm"

	"github.com/yoockh/casescribe/config"
	"github.com/yoockh/casescribe/internal/audio"
	"github.com/yoockh/casescribe/internal/cache"
	"github.com/yoockh/casescribe/internal/events"
	"github.com/yoockh/casescribe/internal/evidence"
	"github.com/yoockh/casescribe/internal/logger"
	"github.com/yoockh/casescribe/internal/metrics"
	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/pipeline"
	"github.com/yoockh/casescribe/internal/providers"
	"github.com/yoockh/casescribe/internal/providers/llm"
	"github.com/yoockh/casescribe/internal/providers/stt"
	"github.com/yoockh/casescribe/internal/quality"
	"github.com/yoockh/casescribe/internal/repositories/memory"
	mongorepo "github.com/yoockh/casescribe/internal/repositories/mongo"
	pgrepo "github.com/yoockh/casescribe/internal/repositories/postgres"
	"github.com/yoockh/casescribe/internal/services"
	"github.com/yoockh/casescribe/internal/telemetry"
	"github.com/yoockh/casescribe/internal/vad"
	"github.com/yoockh/casescribe/internal/workers"
)

// Options selects which optional backends are dialed. The CLI runs without
// stores or queues.
type Options struct {
	Stores  bool
	Workers bool
	Logger  *logrus.Logger
}

// App holds every long-lived component. Fields for disabled backends are nil.
type App struct {
	Settings config.Settings
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics

	Redis    *redis.Client
	Mongo    *mongo.Client
	Postgres *gorm.DB

	Cache    cache.Cache
	Engine   *pipeline.Engine
	Evidence *evidence.Service
	Gate     *quality.Gate
	VAD      *vad.Gate
	Archive  pgrepo.RecordRepo
	Events   events.Publisher
	Analysis services.AnalysisService
	Sessions *services.SessionRegistry

	queue interface{ Start(context.Context) error }

	closers []func(context.Context) error
}

func New(ctx context.Context, s config.Settings, opts Options) (*App, error) {
	a := &App{Settings: s, Logger: opts.Logger, Sessions: services.NewSessionRegistry()}
	if a.Logger == nil {
		a.Logger = logger.New(s.LogLevel)
	}
	a.Metrics = metrics.New()

	ok := false
	defer func() {
		if !ok {
			a.Close(context.Background())
		}
	}()

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:  "casescribe",
		Environment:  s.Env,
		OTLPEndpoint: s.OTLPEndpoint,
		OTLPInsecure: s.OTLPInsecure,
		Stdout:       s.OTelStdout,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if s.RedisAddr != "" {
		if a.Redis, err = config.NewRedis(ctx, s.RedisAddr); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return a.Redis.Close() })
		a.Logger.Info("redis connected")
	}
	a.Cache = a.buildCache()

	if err := a.buildEngine(ctx); err != nil {
		return nil, err
	}
	a.buildEvidence()
	a.Gate = quality.NewGate(quality.DefaultConfig(), a.Logger, a.Metrics)

	vcfg := vad.DefaultConfig()
	vcfg.SampleRate = s.SampleRate
	vcfg.Aggressiveness = s.VADLevel
	vcfg.EnergyThreshold = s.VADEnergy
	vcfg.Workers = s.Workers
	if a.VAD, err = vad.NewGate(vcfg, nil); err != nil {
		return nil, fmt.Errorf("vad: %w", err)
	}

	deps := services.AnalysisDeps{
		Transcriber: a.Engine,
		Generator:   a.Engine,
		Evidence:    a.Evidence,
		Gate:        a.Gate,
		Logger:      a.Logger,
		Metrics:     a.Metrics,
	}
	if opts.Stores {
		if err := a.buildStores(ctx, &deps); err != nil {
			return nil, err
		}
	}
	a.buildEvents()
	deps.Events = a.Events

	var setHandler func(workers.Handler)
	if opts.Workers {
		setHandler = a.buildQueue(&deps)
	}

	a.Analysis, err = services.NewAnalysisService(services.AnalysisConfig{
		JobTTL:        s.JobTTL,
		MaxAudioBytes: s.MaxUploadBytes,
		SampleRate:    s.SampleRate,
	}, deps)
	if err != nil {
		return nil, err
	}
	if setHandler != nil {
		setHandler(a.Analysis)
	}

	ok = true
	return a, nil
}

func (a *App) buildCache() cache.Cache {
	if a.Redis == nil {
		return cache.NewMemoryCache()
	}
	fc := cache.NewFallbackCache(cache.NewRedisCache(a.Redis, "casescribe:"), a.Logger)
	fc.OnDegraded(a.Metrics.CacheFailure)
	return fc
}

func (a *App) buildEngine(ctx context.Context) error {
	s := a.Settings
	policies, models, err := config.LoadPipeline(s.PipelineConfig, s.GeminiModel)
	if err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	var (
		transcribers []stt.Provider
		generators   []llm.Provider
	)
	if s.GroqAPIKey != "" {
		c := providers.NewHTTPClient(providers.Groq, s.GroqBaseURL, s.GroqAPIKey, policyTimeout(policies, providers.Generate), s.GroqRPM)
		transcribers = append(transcribers, stt.NewWhisper(c, "whisper-large-v3-turbo", "en"))
		generators = append(generators, llm.NewChat(c, models[providers.Groq][pipeline.ModelMain]))
	}
	if s.OpenAIAPIKey != "" {
		c := providers.NewHTTPClient(providers.OpenAI, s.OpenAIBaseURL, s.OpenAIAPIKey, policyTimeout(policies, providers.Generate), 0)
		transcribers = append(transcribers, stt.NewWhisper(c, "whisper-1", "en"))
		generators = append(generators, llm.NewChat(c, models[providers.OpenAI][pipeline.ModelMain]))
	}
	if s.OpenRouterAPIKey != "" {
		c := providers.NewHTTPClient(providers.OpenRouter, s.OpenRouterURL, s.OpenRouterAPIKey, policyTimeout(policies, providers.Generate), 0)
		c.Headers = map[string]string{"X-Title": "casescribe"}
		generators = append(generators, llm.NewChat(c, models[providers.OpenRouter][pipeline.ModelMain]))
	}

	var gopts []option.ClientOption
	if s.GoogleCredentialsFile != "" {
		gopts = append(gopts, option.WithCredentialsFile(s.GoogleCredentialsFile))
	}
	if s.GCPProject != "" {
		g, err := llm.NewVertexGemini(ctx, s.GCPProject, s.GCPLocation, s.GeminiModel, gopts...)
		if err != nil {
			return fmt.Errorf("vertex gemini: %w", err)
		}
		generators = append(generators, g)
		a.closers = append(a.closers, func(context.Context) error { return g.Close() })
	}
	if s.GoogleSpeech {
		g, err := stt.NewGoogleSpeech(ctx, s.SpeechLanguage, gopts...)
		if err != nil {
			return fmt.Errorf("google speech: %w", err)
		}
		transcribers = append(transcribers, g)
		a.closers = append(a.closers, func(context.Context) error { return g.Close() })
	}

	a.Engine, err = pipeline.NewEngine(pipeline.Options{
		Cache:        a.Cache,
		Transcribers: transcribers,
		Generators:   generators,
		Policies:     policies,
		Models:       models,
		Logger:       a.Logger,
		Metrics:      a.Metrics,
		Coalesce:     s.Coalesce,
	})
	if err != nil {
		return err
	}
	a.Logger.WithFields(logrus.Fields{
		"transcribers": len(transcribers),
		"generators":   len(generators),
	}).Info("provider engine ready")
	return nil
}

func policyTimeout(p pipeline.Policies, c providers.Capability) time.Duration {
	if t := p[c].Timeout; t > 0 {
		return t
	}
	return 60 * time.Second
}

func (a *App) buildEvidence() {
	s := a.Settings
	pol := a.Engine.Policy(providers.Search)

	cfg := evidence.DefaultConfig()
	cfg.CacheTTL = pol.TTL
	if pol.MaxAttempts > 0 {
		cfg.MaxTries = uint(pol.MaxAttempts)
	}
	cfg.BackoffBase = pol.Backoff.Base
	cfg.BackoffMax = pol.Backoff.Max

	index := evidence.NewPubMed(evidence.PubMedConfig{
		APIKey:       s.PubMedAPIKey,
		Tool:         s.PubMedTool,
		Email:        s.PubMedEmail,
		RecencyYears: cfg.RecencyYears,
		Timeout:      pol.Timeout,
	})
	a.Evidence = evidence.NewService(cfg, a.Engine, index, a.Cache, a.Logger, a.Metrics)
}

func (a *App) buildStores(ctx context.Context, deps *services.AnalysisDeps) error {
	s := a.Settings
	var err error

	if s.MongoURI != "" {
		if a.Mongo, err = config.ConnectMongo(ctx, s.MongoURI); err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		a.closers = append(a.closers, a.Mongo.Disconnect)
		db := a.Mongo.Database(s.MongoDB)
		if err := config.EnsureMongoIndexes(ctx, db); err != nil {
			return fmt.Errorf("mongo indexes: %w", err)
		}
		deps.Jobs = mongorepo.NewJobRepo(db)
		a.Logger.Info("mongo connected")
	} else {
		deps.Jobs = memory.NewJobRepo()
		a.Logger.Warn("MONGO_URI not set, jobs are kept in memory")
	}

	if s.PostgresURI != "" {
		if a.Postgres, err = config.OpenPostgres(s.PostgresURI); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := pgrepo.Migrate(a.Postgres); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error {
			sqlDB, err := a.Postgres.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		a.Archive = pgrepo.NewRecordRepo(a.Postgres)
		deps.Archive = a.Archive
		a.Logger.Info("postgres connected")
	}
	return nil
}

func (a *App) buildEvents() {
	var pubs events.Multi
	if a.Settings.NATSURL != "" {
		p, err := events.ConnectNATS(a.Settings.NATSURL, "casescribe", a.Settings.NATSPrefix, 5*time.Second, a.Logger)
		if err != nil {
			// job status stays readable over the API
			a.Logger.WithError(err).Warn("nats unavailable, job events disabled")
		} else {
			pubs = append(pubs, p)
		}
	}
	if a.Redis != nil {
		pubs = append(pubs, events.NewRedisPublisher(a.Redis, ""))
	}
	if len(pubs) == 0 {
		a.Events = events.Noop{}
		return
	}
	a.Events = pubs
	a.closers = append(a.closers, func(context.Context) error { pubs.Close(); return nil })
}

func (a *App) buildQueue(deps *services.AnalysisDeps) func(workers.Handler) {
	s := a.Settings
	if s.JobQueue == "redis" && a.Redis != nil {
		p := &workers.StreamPool{Redis: a.Redis, NumWorkers: s.Workers, Logger: a.Logger}
		deps.Queue = p
		a.queue = p
		return func(h workers.Handler) { p.Handler = h }
	}
	p := &workers.LocalPool{NumWorkers: s.Workers, Logger: a.Logger}
	deps.Queue = p
	a.queue = p
	return func(h workers.Handler) { p.Handler = h }
}

// StartWorkers launches the analysis workers; they stop when ctx ends.
func (a *App) StartWorkers(ctx context.Context) error {
	if a.queue == nil {
		return nil
	}
	return a.queue.Start(ctx)
}

func (a *App) StreamConfig() services.StreamConfig {
	s := a.Settings
	cfg := services.DefaultStreamConfig()
	cfg.Audio = audio.Config{
		SampleRate:        s.SampleRate,
		BytesPerSample:    2,
		WindowDuration:    s.Window,
		OverlapDuration:   s.Overlap,
		MaxBufferDuration: s.MaxBuffer,
	}
	cfg.DrainGrace = s.DrainGrace
	cfg.BacklogWarn = s.BacklogWarn
	cfg.HintChars = s.HintChars
	cfg.SkipSilent = s.SkipSilent
	cfg.MinSpeechRatio = s.MinSpeechRatio
	return cfg
}

// NewSession builds and registers a streaming session.
func (a *App) NewSession(id, subject string, lang models.Language, n services.Notifier) (*services.StreamSession, error) {
	cfg := a.StreamConfig()
	cfg.Language = lang
	sess, err := services.NewStreamSession(id, subject, cfg, a.Engine, a.VAD, n, a.Logger, a.Metrics)
	if err != nil {
		return nil, err
	}
	a.Sessions.Add(sess)
	return sess, nil
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.Logger.WithError(err).Warn("shutdown step failed")
		}
	}
	a.closers = nil
}
