package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/yoockh/casescribe/internal/providers"
)

// Whisper talks to any OpenAI-compatible /audio/transcriptions endpoint
// (Groq, OpenAI).
type Whisper struct {
	client   *providers.HTTPClient
	Model    string
	Language string
}

func NewWhisper(client *providers.HTTPClient, model, language string) *Whisper {
	if language == "" {
		language = "en"
	}
	return &Whisper{client: client, Model: model, Language: language}
}

func (w *Whisper) ID() providers.ID { return w.client.ID }

func (w *Whisper) Close() error {
	w.client.HTTP.CloseIdleConnections()
	return nil
}

type whisperResponse struct {
	Text string `json:"text"`
}

// mixedPrompt primes the model for code-switched dictation; the language
// field is left out so it detects per segment.
const mixedPrompt = "The audio contains medical terms in Persian (Farsi) and English. Accurately transcribe mixed-language speech."

func (w *Whisper) Transcribe(ctx context.Context, wav []byte, hint, language string) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)

	fw, err := mw.CreateFormFile("file", "window.wav")
	if err != nil {
		return "", providers.Fatal(w.ID(), 0, err)
	}
	if _, err := fw.Write(wav); err != nil {
		return "", providers.Fatal(w.ID(), 0, err)
	}
	fields := map[string]string{
		"model":           w.Model,
		"response_format": "json",
		"temperature":     "0",
	}
	hint = strings.TrimSpace(hint)
	switch language {
	case "":
		fields["language"] = w.Language
	case "mixed":
		hint = strings.TrimSpace(mixedPrompt + " " + hint)
	default:
		fields["language"] = language
	}
	if hint != "" {
		fields["prompt"] = hint
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return "", providers.Fatal(w.ID(), 0, err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", providers.Fatal(w.ID(), 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.client.URL("audio/transcriptions"), body)
	if err != nil {
		return "", providers.Fatal(w.ID(), 0, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := w.client.Do(ctx, req)
	if err != nil {
		return "", err
	}
	var out whisperResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", providers.Transient(w.ID(), http.StatusOK, fmt.Errorf("decode transcription: %w", err))
	}
	return strings.TrimSpace(out.Text), nil
}
