package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/casescribe/internal/audio"
	"github.com/yoockh/casescribe/internal/metrics"
	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/pipeline"
	"github.com/yoockh/casescribe/internal/providers"
)

// Transcriber is the transcription capability of the fallback engine.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, hint, language string) (*pipeline.Result, error)
}

// SpeechDetector reports the fraction of a window classified as speech.
type SpeechDetector interface {
	SpeechRatio(ctx context.Context, pcm []byte) float64
}

// Notifier delivers JSON messages to the streaming client.
type Notifier interface {
	Send(msg any) error
}

type TranscriptionMessage struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Partial bool   `json:"partial"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type StreamConfig struct {
	Audio             audio.Config
	DrainGrace        time.Duration
	BacklogWarn       int
	SlowTranscription time.Duration
	HintChars         int
	SkipSilent        bool
	MinSpeechRatio    float64 // with SkipSilent, windows at or below this ratio are skipped
	Language          models.Language
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Audio:             audio.DefaultConfig(),
		DrainGrace:        5 * time.Second,
		BacklogWarn:       10,
		SlowTranscription: 2 * time.Second,
		HintChars:         200,
	}
}

// StreamSession runs one realtime transcription session:
// ingest queue -> window buffer -> transcription -> client notification.
// All buffer and hint state is owned by the single consumer goroutine.
type StreamSession struct {
	id      string
	subject string
	cfg     StreamConfig

	engine   Transcriber
	detector SpeechDetector
	notifier Notifier
	log      *logrus.Entry
	metrics  *metrics.Metrics

	queue *IngestQueue
	buf   *audio.WindowBuffer
	hint  string

	windows atomic.Int64
	skipped atomic.Int64
	dropped atomic.Int64

	mu        sync.Mutex
	state     models.SessionState
	startedAt time.Time
	endedAt   *time.Time

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func NewStreamSession(id, subject string, cfg StreamConfig, engine Transcriber, detector SpeechDetector,
	notifier Notifier, log *logrus.Logger, m *metrics.Metrics) (*StreamSession, error) {
	const op = "StreamSession.New"

	if engine == nil || notifier == nil {
		return nil, fmt.Errorf("%s: transcriber and notifier are required", op)
	}
	buf, err := audio.NewWindowBuffer(cfg.Audio)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	def := DefaultStreamConfig()
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = def.DrainGrace
	}
	if cfg.BacklogWarn <= 0 {
		cfg.BacklogWarn = def.BacklogWarn
	}
	if cfg.SlowTranscription <= 0 {
		cfg.SlowTranscription = def.SlowTranscription
	}
	if cfg.HintChars <= 0 {
		cfg.HintChars = def.HintChars
	}
	if log == nil {
		log = logrus.New()
	}

	return &StreamSession{
		id:       id,
		subject:  subject,
		cfg:      cfg,
		engine:   engine,
		detector: detector,
		notifier: notifier,
		log:      log.WithField("session_id", id),
		metrics:  m,
		queue:    NewIngestQueue(),
		buf:      buf,
		state:    models.SessionConnected,
		done:     make(chan struct{}),
	}, nil
}

func (s *StreamSession) ID() string { return s.id }

// Done is closed when the consumer has exited, either after draining or
// because the session hit a fatal provider failure.
func (s *StreamSession) Done() <-chan struct{} { return s.done }

// Start launches the consumer. ctx bounds the whole session.
func (s *StreamSession) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	s.metrics.SessionOpened()
	s.log.Info("stream session connected")
	go s.consume(ctx)
}

// Push hands a chunk to the consumer without waiting for it.
func (s *StreamSession) Push(chunk []byte) bool {
	if len(chunk) == 0 {
		return true
	}
	if !s.queue.Push(chunk) {
		return false
	}
	s.mu.Lock()
	if s.state == models.SessionConnected {
		s.state = models.SessionStreaming
	}
	s.mu.Unlock()
	n := s.queue.Len()
	s.metrics.Backlog(s.id, n)
	if n > s.cfg.BacklogWarn {
		s.log.WithField("backlog", n).Warn("ingest backlog above threshold")
	}
	return true
}

// Close drains queued audio for at most the grace period, then cancels the
// consumer. The session is CLOSED when Close returns.
func (s *StreamSession) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = models.SessionDraining
		cancel := s.cancel
		s.mu.Unlock()
		s.queue.Close()

		if cancel != nil {
			timer := time.NewTimer(s.cfg.DrainGrace)
			select {
			case <-s.done:
				timer.Stop()
			case <-timer.C:
				s.log.WithField("backlog", s.queue.Len()).Warn("drain grace period elapsed, cancelling consumer")
			}
			cancel()
			<-s.done
		}

		now := time.Now().UTC()
		s.mu.Lock()
		s.state = models.SessionClosed
		s.endedAt = &now
		s.mu.Unlock()

		s.metrics.SessionClosed(s.id)
		s.log.WithFields(logrus.Fields{
			"windows": s.windows.Load(),
			"skipped": s.skipped.Load(),
			"dropped": s.dropped.Load(),
		}).Info("stream session closed")
	})
}

func (s *StreamSession) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *StreamSession) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionInfo{
		SessionID: s.id,
		Subject:   s.subject,
		State:     s.state,
		Backlog:   s.queue.Len(),
		Windows:   s.windows.Load(),
		Skipped:   s.skipped.Load(),
		Dropped:   s.dropped.Load(),
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
}

func (s *StreamSession) consume(ctx context.Context) {
	defer func() {
		// nothing reads the queue past this point
		s.queue.Close()
		if n := s.queue.Discard(); n > 0 {
			s.log.WithField("chunks", n).Warn("consumer stopped with audio still queued")
		}
		s.metrics.Backlog(s.id, 0)
		s.mu.Lock()
		if s.state == models.SessionConnected || s.state == models.SessionStreaming {
			s.state = models.SessionDraining
		}
		s.mu.Unlock()
		close(s.done)
	}()

	for {
		chunk, ok, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		if !ok {
			if pcm := s.buf.Flush(); pcm != nil {
				s.process(ctx, pcm)
			}
			return
		}
		s.metrics.Backlog(s.id, s.queue.Len())

		before := s.buf.Dropped()
		window := s.buf.Add(chunk)
		if d := s.buf.Dropped() - before; d > 0 {
			s.dropped.Add(d)
			s.metrics.Dropped(d)
			s.log.WithField("bytes", d).Warn("window buffer overflow, dropped oldest audio")
		}
		for window != nil {
			if !s.process(ctx, window) {
				return
			}
			window = s.buf.Add(nil)
		}
	}
}

// process transcribes one window and reports whether the consumer should
// keep running.
func (s *StreamSession) process(ctx context.Context, pcm []byte) bool {
	if s.cfg.SkipSilent && s.detector != nil && s.detector.SpeechRatio(ctx, pcm) <= s.cfg.MinSpeechRatio {
		s.skipped.Add(1)
		s.metrics.WindowSkipped()
		return true
	}
	s.windows.Add(1)
	s.metrics.WindowEmitted()

	wav, err := audio.EncodeWAV(pcm, s.cfg.Audio.SampleRate, 1)
	if err != nil {
		s.log.WithError(err).Error("wav encode failed")
		return true
	}

	start := time.Now()
	res, err := s.engine.Transcribe(ctx, wav, s.hint, string(s.cfg.Language))
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if status, ok := providers.IsAuthFailure(err); ok {
			s.log.WithError(err).Error("transcription rejected credentials, stopping session")
			s.send(ErrorMessage{Type: "error", Message: fmt.Sprintf("Transcription service unavailable (%d)", status)})
			return false
		}
		s.log.WithError(err).Warn("window transcription failed")
		return true
	}
	if elapsed > s.cfg.SlowTranscription {
		s.log.WithFields(logrus.Fields{
			"latency_ms": elapsed.Milliseconds(),
			"provider":   res.Provider,
		}).Warn("slow transcription")
	}

	text := strings.TrimSpace(res.Text)
	if text == "" {
		return true
	}
	s.hint = tail(text, s.cfg.HintChars)
	s.send(TranscriptionMessage{Type: "transcription", Text: text})
	return true
}

func (s *StreamSession) send(msg any) {
	if err := s.notifier.Send(msg); err != nil {
		s.log.WithError(err).Debug("client notification failed")
	}
}

// tail returns the last n runes of s.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
