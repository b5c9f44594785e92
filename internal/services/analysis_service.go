package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/casescribe/internal/audio"
	"github.com/yoockh/casescribe/internal/events"
	"github.com/yoockh/casescribe/internal/evidence"
	"github.com/yoockh/casescribe/internal/metrics"
	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/pipeline"
	"github.com/yoockh/casescribe/internal/providers"
	"github.com/yoockh/casescribe/internal/quality"
	mongorepo "github.com/yoockh/casescribe/internal/repositories/mongo"
	pgrepo "github.com/yoockh/casescribe/internal/repositories/postgres"
	"github.com/yoockh/casescribe/internal/utils"
)

// Generator is the generation capability of the fallback engine.
type Generator interface {
	Complete(ctx context.Context, p pipeline.Prompt) (*pipeline.Result, error)
}

// EvidenceFinder is the literature retrieval subsystem.
type EvidenceFinder interface {
	Search(ctx context.Context, query string) (*evidence.Result, error)
	ExplainNull(ctx context.Context, res *evidence.Result) *evidence.NullReport
}

// TaskQueue hands accepted jobs to the background workers.
type TaskQueue interface {
	Enqueue(ctx context.Context, task AnalysisTask) error
}

// AnalysisTask carries the audio for one job. Audio is never persisted.
type AnalysisTask struct {
	JobID    string
	Format   string
	Provider string
	Language string
	Audio    []byte
}

type AnalysisInput struct {
	FileName string
	Format   string // wav|pcm; detected from the payload when empty
	Provider string // preferred generation provider
	Language string // en|fa|mixed; empty leaves detection to the STT provider
	Audio    []byte
}

type AnalysisConfig struct {
	JobTTL        time.Duration
	MaxAudioBytes int
	SampleRate    int // for raw PCM uploads
	Timeout       time.Duration
	QueryChars    int
}

func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		JobTTL:        24 * time.Hour,
		MaxAudioBytes: 25 << 20,
		SampleRate:    16000,
		Timeout:       5 * time.Minute,
		QueryChars:    500,
	}
}

type AnalysisService interface {
	Submit(ctx context.Context, in AnalysisInput) (*models.AnalysisJob, error)
	Get(ctx context.Context, jobID string) (*models.AnalysisJob, error)
	List(ctx context.Context, status models.JobStatus, limit int64) ([]models.AnalysisJob, error)
	Process(ctx context.Context, task AnalysisTask) error
	Run(ctx context.Context, in AnalysisInput) (*models.AnalysisResult, error)
}

type AnalysisDeps struct {
	Transcriber Transcriber
	Generator   Generator
	Evidence    EvidenceFinder
	Gate        *quality.Gate
	Jobs        mongorepo.JobRepository
	Archive     pgrepo.RecordRepo // optional
	Events      events.Publisher  // optional
	Queue       TaskQueue
	Logger      *logrus.Logger
	Metrics     *metrics.Metrics
}

type analysisService struct {
	cfg AnalysisConfig
	AnalysisDeps
}

func NewAnalysisService(cfg AnalysisConfig, deps AnalysisDeps) (AnalysisService, error) {
	if deps.Transcriber == nil || deps.Generator == nil || deps.Gate == nil {
		return nil, errors.New("AnalysisService missing dependency: Transcriber/Generator/Gate must be set")
	}
	def := DefaultAnalysisConfig()
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = def.JobTTL
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = def.MaxAudioBytes
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.QueryChars <= 0 {
		cfg.QueryChars = def.QueryChars
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	return &analysisService{cfg: cfg, AnalysisDeps: deps}, nil
}

func (s *analysisService) validate(op string, in *AnalysisInput) error {
	if len(in.Audio) == 0 {
		return utils.E(utils.CodeInvalidArgument, op, "audio is required", nil)
	}
	if len(in.Audio) > s.cfg.MaxAudioBytes {
		return utils.E(utils.CodeTooLarge, op, fmt.Sprintf("audio exceeds %d bytes", s.cfg.MaxAudioBytes), nil)
	}
	switch strings.ToLower(strings.TrimSpace(in.Format)) {
	case "":
		in.Format = "pcm"
		if audio.IsWAV(in.Audio) {
			in.Format = "wav"
		}
	case "wav":
		in.Format = "wav"
	case "pcm", "raw":
		in.Format = "pcm"
	default:
		return utils.E(utils.CodeInvalidArgument, op, "format must be wav or pcm", nil)
	}
	if in.Provider != "" {
		id, err := providers.ParseID(in.Provider)
		if err != nil {
			return utils.E(utils.CodeInvalidArgument, op, "unknown provider", err)
		}
		in.Provider = string(id)
	}
	lang, err := models.ParseLanguage(in.Language)
	if err != nil {
		return utils.E(utils.CodeInvalidArgument, op, "unknown language", err)
	}
	in.Language = string(lang)
	return nil
}

func (s *analysisService) Submit(ctx context.Context, in AnalysisInput) (*models.AnalysisJob, error) {
	const op = "AnalysisService.Submit"

	if s.Jobs == nil || s.Queue == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "job processing is not configured", nil)
	}
	if err := s.validate(op, &in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.AnalysisJob{
		JobID:     uuid.NewString(),
		Status:    models.JobPending,
		FileName:  in.FileName,
		Format:    in.Format,
		Provider:  in.Provider,
		Language:  models.Language(in.Language),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.JobTTL),
	}
	if err := s.Jobs.Create(ctx, job); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to create job", err)
	}

	task := AnalysisTask{JobID: job.JobID, Format: in.Format, Provider: in.Provider, Language: in.Language, Audio: in.Audio}
	if err := s.Queue.Enqueue(ctx, task); err != nil {
		_ = s.Jobs.Finish(ctx, job.JobID, models.JobFailed, nil, "failed to enqueue job", 0)
		return nil, utils.E(utils.CodeUnavailable, op, "failed to enqueue job", err)
	}
	s.publish(ctx, job)
	return job, nil
}

func (s *analysisService) Get(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	const op = "AnalysisService.Get"

	if jobID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "job_id is required", nil)
	}
	if s.Jobs == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "job processing is not configured", nil)
	}
	job, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "job not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get job", err)
	}
	return job, nil
}

func (s *analysisService) List(ctx context.Context, status models.JobStatus, limit int64) ([]models.AnalysisJob, error) {
	const op = "AnalysisService.List"

	if s.Jobs == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "job processing is not configured", nil)
	}
	out, err := s.Jobs.ListRecent(ctx, status, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list jobs", err)
	}
	return out, nil
}

// Process runs one queued job to a terminal job status. A job is failed when
// transcription is exhausted or the record is FAILED_INTERNAL; every other
// record status completes the job with the record attached.
func (s *analysisService) Process(ctx context.Context, task AnalysisTask) error {
	const op = "AnalysisService.Process"

	log := s.Logger.WithFields(logrus.Fields{"op": op, "job_id": task.JobID})
	start := time.Now()

	if err := s.Jobs.SetStatus(ctx, task.JobID, models.JobProcessing); err != nil {
		log.WithError(err).Error("failed to mark job processing")
		return utils.E(utils.CodeInternal, op, "failed to mark job processing", err)
	}
	s.publish(ctx, &models.AnalysisJob{JobID: task.JobID, Status: models.JobProcessing})

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	result, runErr := s.Run(runCtx, AnalysisInput{
		Format: task.Format, Provider: task.Provider, Language: task.Language, Audio: task.Audio,
	})

	status := models.JobCompleted
	errMsg := ""
	switch {
	case runErr != nil:
		status = models.JobFailed
		errMsg = safeMessage(runErr)
		log.WithError(runErr).Warn("analysis failed")
	case result.Record != nil && result.Record.Status == models.StatusFailedInternal:
		status = models.JobFailed
		errMsg = result.Record.Debug.FailureReason
	}

	ms := time.Since(start).Milliseconds()
	// detached from runCtx so a timed-out job is still recorded
	if err := s.Jobs.Finish(context.WithoutCancel(ctx), task.JobID, status, result, errMsg, ms); err != nil {
		log.WithError(err).Error("failed to store job result")
		return utils.E(utils.CodeInternal, op, "failed to store job result", err)
	}
	s.Metrics.Job(string(status))
	s.archive(ctx, task.JobID, result)
	s.publish(ctx, &models.AnalysisJob{JobID: task.JobID, Status: status, Result: result, Error: errMsg})

	log.WithFields(logrus.Fields{"status": status, "processing_ms": ms}).Info("analysis job finished")
	return nil
}

// Run executes the one-shot pipeline synchronously: decode, transcribe,
// retrieve evidence, generate, gate.
func (s *analysisService) Run(ctx context.Context, in AnalysisInput) (*models.AnalysisResult, error) {
	const op = "AnalysisService.Run"

	if err := s.validate(op, &in); err != nil {
		return nil, err
	}
	pcm, rate, err := s.decode(in)
	if err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "unreadable audio", err)
	}
	wav, err := audio.EncodeWAV(pcm, rate, 1)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to encode audio", err)
	}

	lang := models.Language(in.Language)
	tr, err := s.Transcriber.Transcribe(ctx, wav, "", in.Language)
	if err != nil {
		code := utils.CodeUnavailable
		if ctx.Err() != nil {
			code = utils.CodeTimeout
		}
		return nil, utils.E(code, op, "transcription failed", err)
	}
	transcript := strings.TrimSpace(tr.Text)

	result := &models.AnalysisResult{Transcript: transcript, Provider: string(tr.Provider)}
	prefer := providers.ID(in.Provider)

	generate := func(ctx context.Context, text string) (*quality.Generation, error) {
		ev, lines, note := s.findEvidence(ctx, text)
		result.Evidence = ev

		res, err := s.Generator.Complete(ctx, pipeline.Prompt{
			System:      quality.SystemPrompt,
			User:        quality.UserPrompt(text, lines, note, lang),
			Model:       pipeline.ModelMain,
			JSON:        true,
			Temperature: 0.2,
			MaxTokens:   2048,
			Prefer:      prefer,
		})
		if err != nil {
			return nil, err
		}
		return &quality.Generation{Text: res.Text, Provider: string(res.Provider)}, nil
	}

	result.Record = s.Gate.Evaluate(ctx, transcript, generate)
	quality.NoteLanguage(result.Record, lang)
	return result, nil
}

func (s *analysisService) decode(in AnalysisInput) ([]byte, int, error) {
	if in.Format == "wav" {
		return audio.DecodeWAV(bytes.NewReader(in.Audio))
	}
	if len(in.Audio)%2 != 0 {
		return nil, 0, errors.New("pcm16 payload has an odd byte count")
	}
	return in.Audio, s.cfg.SampleRate, nil
}

// findEvidence never fails the pipeline: a search error degrades to a note
// telling the generator that no literature was available.
func (s *analysisService) findEvidence(ctx context.Context, transcript string) (*models.Evidence, []quality.EvidenceLine, string) {
	if s.Evidence == nil {
		return nil, nil, "Literature search is not configured; rely on standard pediatric guidelines."
	}
	res, err := s.Evidence.Search(ctx, head(transcript, s.cfg.QueryChars))
	if err != nil {
		s.Logger.WithError(err).Warn("evidence search failed")
		return nil, nil, "Literature search was unavailable; rely on standard pediatric guidelines."
	}

	ev := &models.Evidence{Expression: res.Expression}
	if res.Null {
		report := s.Evidence.ExplainNull(ctx, res)
		ev.NullReport = &models.NullReport{Methodology: report.Methodology, Rationale: report.Rationale}
		return ev, nil, report.Rationale
	}

	lines := make([]quality.EvidenceLine, 0, len(res.Items))
	for _, it := range res.Items {
		ev.Items = append(ev.Items, models.EvidenceRef{
			ID: it.ID, Title: it.Title, Citation: it.Citation, Year: it.Year, URL: it.URL,
		})
		lines = append(lines, quality.EvidenceLine{Citation: it.Citation, Title: it.Title, Abstract: it.Abstract})
	}
	return ev, lines, ""
}

func (s *analysisService) archive(ctx context.Context, jobID string, result *models.AnalysisResult) {
	if s.Archive == nil || result == nil || result.Record == nil {
		return
	}
	row, err := ArchiveRow(jobID, result.Record)
	if err == nil {
		err = s.Archive.Insert(ctx, row)
	}
	if err != nil {
		s.Logger.WithError(err).WithField("job_id", jobID).Warn("record archive failed")
	}
}

// ArchiveRow converts a terminal record into its archive form.
func ArchiveRow(jobID string, rec *models.ClinicalRecord) (*models.ArchivedRecord, error) {
	full, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	debug, err := json.Marshal(rec.Debug)
	if err != nil {
		return nil, err
	}
	return &models.ArchivedRecord{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Status:    string(rec.Status),
		Reason:    rec.Debug.FailureReason,
		Urgency:   string(rec.Urgency),
		Signals:   pq.StringArray(rec.Debug.SignalsFound),
		Record:    datatypes.JSON(full),
		Debug:     datatypes.JSON(debug),
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (s *analysisService) publish(ctx context.Context, job *models.AnalysisJob) {
	if err := s.Events.Publish(ctx, events.NewJobEvent(job)); err != nil {
		s.Logger.WithError(err).WithField("job_id", job.JobID).Debug("job event publish failed")
	}
}

// head returns the first n runes of s, cut back to a word boundary.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	out := string(r[:n])
	if i := strings.LastIndexByte(out, ' '); i > 0 {
		out = out[:i]
	}
	return out
}

// safeMessage keeps the client-facing message of an AppError and drops
// wrapped provider detail.
func safeMessage(err error) string {
	var ae *utils.AppError
	if errors.As(err, &ae) && ae.Message != "" {
		var ex *pipeline.ExhaustedError
		if errors.As(err, &ex) {
			return ae.Message + ": all providers exhausted for " + string(ex.Capability)
		}
		return ae.Message
	}
	return err.Error()
}
