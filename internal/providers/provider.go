package providers

import (
	"fmt"
	"strings"
)

// ID names one external vendor. The set is closed; unknown names are a
// configuration error.
type ID string

const (
	Groq         ID = "groq"
	OpenAI       ID = "openai"
	OpenRouter   ID = "openrouter"
	Gemini       ID = "gemini"
	GoogleSpeech ID = "google_speech"
	PubMed       ID = "pubmed"
)

var known = map[ID]struct{}{
	Groq: {}, OpenAI: {}, OpenRouter: {}, Gemini: {}, GoogleSpeech: {}, PubMed: {},
}

func ParseID(s string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := known[id]; !ok {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return id, nil
}

func ParseIDs(names []string) ([]ID, error) {
	out := make([]ID, 0, len(names))
	for _, n := range names {
		id, err := ParseID(n)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Capability is an abstract operation any of several vendors can implement.
type Capability string

const (
	Transcribe Capability = "transcribe"
	Generate   Capability = "generate"
	Search     Capability = "search"
)

func ParseCapability(s string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(s))); c {
	case Transcribe, Generate, Search:
		return c, nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}
