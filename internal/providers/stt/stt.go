package stt

import (
	"context"

	"github.com/yoockh/casescribe/internal/providers"
)

// Provider transcribes one WAV-wrapped PCM window. hint is the tail of the
// previous transcript and may be empty. language is en, fa or mixed; empty
// keeps the provider's configured default.
type Provider interface {
	ID() providers.ID
	Transcribe(ctx context.Context, wav []byte, hint, language string) (string, error)
	Close() error
}
