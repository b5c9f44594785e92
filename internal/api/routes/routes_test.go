package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yoockh/casescribe/internal/api/handlers"
	"github.com/yoockh/casescribe/internal/audio"
	"github.com/yoockh/casescribe/internal/logger"
	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/pipeline"
	"github.com/yoockh/casescribe/internal/providers"
	"github.com/yoockh/casescribe/internal/services"
	"github.com/yoockh/casescribe/internal/utils"
)

func init() { gin.SetMode(gin.TestMode) }

type stubAnalysis struct {
	mu    sync.Mutex
	input services.AnalysisInput
	jobs  map[string]*models.AnalysisJob
}

func (s *stubAnalysis) Submit(_ context.Context, in services.AnalysisInput) (*models.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.Provider == "acme" {
		return nil, utils.E(utils.CodeInvalidArgument, "stub", "unknown provider", nil)
	}
	s.input = in
	job := &models.AnalysisJob{JobID: "job-1", Status: models.JobPending}
	s.jobs[job.JobID] = job
	return job, nil
}

func (s *stubAnalysis) Get(_ context.Context, id string) (*models.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		return j, nil
	}
	return nil, utils.E(utils.CodeNotFound, "stub", "job not found", nil)
}

func (s *stubAnalysis) List(context.Context, models.JobStatus, int64) ([]models.AnalysisJob, error) {
	return []models.AnalysisJob{}, nil
}

func (s *stubAnalysis) Process(context.Context, services.AnalysisTask) error { return nil }

func (s *stubAnalysis) Run(context.Context, services.AnalysisInput) (*models.AnalysisResult, error) {
	return nil, nil
}

type echoTranscriber struct{}

func (echoTranscriber) Transcribe(_ context.Context, wav []byte, _, _ string) (*pipeline.Result, error) {
	pcm, _, err := audio.DecodeWAV(bytes.NewReader(wav))
	if err != nil {
		return nil, err
	}
	return &pipeline.Result{Text: "window of " + itoa(len(pcm)), Provider: providers.Groq}, nil
}

func itoa(n int) string { b, _ := json.Marshal(n); return string(b) }

type deniedTranscriber struct{}

func (deniedTranscriber) Transcribe(context.Context, []byte, string, string) (*pipeline.Result, error) {
	return nil, &pipeline.ExhaustedError{Capability: providers.Transcribe, Failures: []pipeline.ProviderFailure{{
		Provider: providers.Groq, Class: providers.ClassFatal,
		Err: providers.Fatal(providers.Groq, 401, errors.New("bad key")),
	}}}
}

type sessionFactory struct {
	registry *services.SessionRegistry
	tr       services.Transcriber
	mu       sync.Mutex
	langs    []models.Language
}

func (f *sessionFactory) NewSession(id, subject string, lang models.Language, n services.Notifier) (*services.StreamSession, error) {
	f.mu.Lock()
	f.langs = append(f.langs, lang)
	f.mu.Unlock()
	tr := f.tr
	if tr == nil {
		tr = echoTranscriber{}
	}
	cfg := services.DefaultStreamConfig()
	cfg.Audio = audio.Config{
		SampleRate:        1000,
		BytesPerSample:    2,
		WindowDuration:    2 * time.Second,
		OverlapDuration:   500 * time.Millisecond,
		MaxBufferDuration: 10 * time.Second,
	}
	s, err := services.NewStreamSession(id, subject, cfg, tr, nil, n, logger.Discard(), nil)
	if err != nil {
		return nil, err
	}
	f.registry.Add(s)
	return s, nil
}

func newServer(t *testing.T) (*httptest.Server, *stubAnalysis) {
	t.Helper()
	srv, svc, _ := newServerWith(t, &sessionFactory{})
	return srv, svc
}

func newServerWith(t *testing.T, sessions *sessionFactory) (*httptest.Server, *stubAnalysis, *services.SessionRegistry) {
	t.Helper()
	svc := &stubAnalysis{jobs: map[string]*models.AnalysisJob{}}
	registry := services.NewSessionRegistry()
	sessions.registry = registry

	r := gin.New()
	RegisterRoutes(r, Deps{
		Analysis: handlers.NewAnalysisHandler(svc, 1024),
		Admin:    handlers.NewAdminHandler(svc, registry, nil),
		WS:       handlers.NewWSHandler(sessions, registry, logger.Discard(), nil),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc, registry
}

func upload(t *testing.T, url string, fields map[string]string, file []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "case.wav")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write(file)
	}
	_ = mw.Close()

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAnalyzeAndGetJob(t *testing.T) {
	srv, svc := newServer(t)

	resp := upload(t, srv.URL+"/api/v1/analyze", map[string]string{"format": "pcm", "provider": "gemini"}, []byte{1, 2, 3, 4})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	var out handlers.AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.JobID != "job-1" || out.Status != models.JobPending {
		t.Errorf("Unexpected response %+v", out)
	}
	if svc.input.Format != "pcm" || svc.input.Provider != "gemini" || svc.input.FileName != "case.wav" || len(svc.input.Audio) != 4 {
		t.Errorf("Unexpected input %+v", svc.input)
	}

	get, err := http.Get(srv.URL + "/api/v1/jobs/job-1")
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", get.StatusCode)
	}

	missing, err := http.Get(srv.URL + "/api/v1/jobs/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", missing.StatusCode)
	}
}

func TestAnalyzeRejections(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name   string
		fields map[string]string
		file   []byte
		code   int
	}{
		{"no file", nil, nil, http.StatusBadRequest},
		{"too large", nil, make([]byte, 2048), http.StatusRequestEntityTooLarge},
		{"bad provider", map[string]string{"provider": "acme"}, []byte{1, 2}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp := upload(t, srv.URL+"/api/v1/analyze", tt.fields, tt.file)
		if resp.StatusCode != tt.code {
			t.Errorf("%s: expected %d, got %d", tt.name, tt.code, resp.StatusCode)
		}
	}
}

func TestAdminRoutesNeedAdmin(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/api/v1/admin/jobs")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("Expected 403 for anonymous caller, got %d", resp.StatusCode)
	}
}

func TestRealtimeStreamsTranscripts(t *testing.T) {
	srv, _ := newServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]string
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello["type"] != "session" || hello["session_id"] == "" {
		t.Fatalf("Unexpected greeting %v", hello)
	}

	// 4 seconds of audio: two 4000-byte windows (hop 3000) leave 1000 bytes for the flush
	for i := 0; i < 4; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2000)); err != nil {
			t.Fatal(err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"stop"}`)); err != nil {
		t.Fatal(err)
	}

	var texts []string
	for len(texts) < 3 {
		var msg services.TranscriptionMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Expected transcription messages, got %v after %v", err, texts)
		}
		if msg.Type == "transcription" {
			texts = append(texts, msg.Text)
		}
	}
	// the flush carries the 1000-byte overlap plus the 1000 unsent bytes
	want := []string{"window of 4000", "window of 4000", "window of 2000"}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, texts)
			break
		}
	}
}

func TestRealtimeLanguageParameter(t *testing.T) {
	sessions := &sessionFactory{}
	srv, _, _ := newServerWith(t, sessions)
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/realtime"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?language=de", nil)
	if err == nil {
		t.Fatal("Expected unknown language to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"?language=mixed", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello map[string]string
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	sessions.mu.Lock()
	defer sessions.mu.Unlock()
	if len(sessions.langs) != 1 || sessions.langs[0] != models.LanguageMixed {
		t.Errorf("Expected one mixed session, got %v", sessions.langs)
	}
}

func TestRealtimeAuthFailureEndsSession(t *testing.T) {
	srv, _, registry := newServerWith(t, &sessionFactory{tr: deniedTranscriber{}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/realtime"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]string
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 2000)); err != nil {
			t.Fatal(err)
		}
	}
	var em services.ErrorMessage
	if err := conn.ReadJSON(&em); err != nil {
		t.Fatal(err)
	}
	if em.Type != "error" || em.Message != "Transcription service unavailable (401)" {
		t.Errorf("Unexpected message %+v", em)
	}

	// the client never answers the close frame; the server must still let go
	deadline := time.Now().Add(3 * time.Second)
	for registry.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Expected session removed after auth failure")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
