package pipeline

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/yoockh/casescribe/internal/providers"
)

// Request is one call to a capability. It lives for a single Execute.
type Request struct {
	Capability providers.Capability
	Model      string // logical model id, resolved per provider

	// Generate payload
	System      string
	User        string
	Temperature float32
	MaxTokens   int

	// Transcribe payload
	Audio    []byte
	Hint     string
	Language string // en|fa|mixed; empty uses the provider default

	JSONMode bool
}

// CacheKey is a deterministic hash of capability, model, payload and JSON mode.
func (r Request) CacheKey() string {
	h, _ := blake2b.New256(nil)
	field := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}

	field([]byte(r.Capability))
	field([]byte(r.Model))
	switch r.Capability {
	case providers.Transcribe:
		field(r.Audio)
		field([]byte(r.Hint))
		field([]byte(r.Language))
	default:
		field([]byte(r.System))
		field([]byte(r.User))
		var t [4]byte
		binary.BigEndian.PutUint32(t[:], math.Float32bits(r.Temperature))
		field(t[:])
		var m [8]byte
		binary.BigEndian.PutUint64(m[:], uint64(r.MaxTokens))
		field(m[:])
	}
	if r.JSONMode {
		field([]byte{1})
	} else {
		field([]byte{0})
	}
	return "pipeline:" + string(r.Capability) + ":" + hex.EncodeToString(h.Sum(nil))
}

// Prompt is the generation input used by higher layers.
type Prompt struct {
	System      string
	User        string
	Model       string
	JSON        bool
	Temperature float32
	MaxTokens   int

	// Prefer moves this provider to the front of the chain when present.
	Prefer providers.ID
}

func (p Prompt) request() Request {
	return Request{
		Capability:  providers.Generate,
		Model:       p.Model,
		System:      p.System,
		User:        p.User,
		Temperature: p.Temperature,
		MaxTokens:   p.MaxTokens,
		JSONMode:    p.JSON,
	}
}

// Result is the outcome of a successful Execute.
type Result struct {
	Text      string       `json:"text"`
	Provider  providers.ID `json:"provider"`
	Attempts  int          `json:"attempts"`
	CacheHit  bool         `json:"cache_hit"`
	Escalated bool         `json:"escalated"`
	CacheKey  string       `json:"-"`
}

type cachedResponse struct {
	Text     string       `json:"text"`
	Provider providers.ID `json:"provider"`
}
