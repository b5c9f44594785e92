package stt

import (
	"context"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/yoockh/casescribe/internal/providers"
)

// Speech contexts reject phrases longer than this.
const maxPhraseLen = 100

type GoogleSpeech struct {
	c *speech.Client

	Language string
	Model    string // e.g. "medical_conversation"; empty uses the API default
}

func NewGoogleSpeech(ctx context.Context, language string, opts ...option.ClientOption) (*GoogleSpeech, error) {
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if language == "" {
		language = "en-US"
	}
	return &GoogleSpeech{c: c, Language: language}, nil
}

func (g *GoogleSpeech) ID() providers.ID { return providers.GoogleSpeech }

func (g *GoogleSpeech) Close() error { return g.c.Close() }

// Transcribe sends a WAV payload; encoding and rate are read from its header.
func (g *GoogleSpeech) Transcribe(ctx context.Context, wav []byte, hint, language string) (string, error) {
	cfg := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		LanguageCode:               g.Language,
		EnableAutomaticPunctuation: true,
		Model:                      g.Model,
	}
	switch language {
	case "en":
		cfg.LanguageCode = "en-US"
	case "fa":
		cfg.LanguageCode = "fa-IR"
	case "mixed":
		cfg.LanguageCode = "fa-IR"
		cfg.AlternativeLanguageCodes = []string{"en-US"}
	}
	if phrase := hintPhrase(hint); phrase != "" {
		cfg.SpeechContexts = []*speechpb.SpeechContext{{Phrases: []string{phrase}}}
	}

	resp, err := g.c.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: cfg,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: wav},
		},
	})
	if err != nil {
		return "", providers.FromGRPC(providers.GoogleSpeech, err)
	}

	var parts []string
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

func hintPhrase(hint string) string {
	hint = strings.TrimSpace(hint)
	if len(hint) <= maxPhraseLen {
		return hint
	}
	cut := hint[len(hint)-maxPhraseLen:]
	if i := strings.IndexByte(cut, ' '); i >= 0 && i < len(cut)-1 {
		cut = cut[i+1:]
	}
	return cut
}
