package vad

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sync/semaphore"
)

type Config struct {
	SampleRate      int
	Aggressiveness  int
	EnergyThreshold float64 // RMS below this is rejected without classifying
	Workers         int     // concurrent classifier calls across all sessions
}

func DefaultConfig() Config {
	return Config{SampleRate: 16000, Aggressiveness: 2, EnergyThreshold: 300, Workers: 4}
}

// Stats is a snapshot of gate decisions.
type Stats struct {
	Frames       uint64
	FastRejected uint64
	Classified   uint64
	FailedOpen   uint64
}

// Gate decides whether a single 10, 20 or 30 ms PCM16 frame contains speech.
// Malformed frames are reported as speech so audio is never lost to a bad
// frame boundary.
type Gate struct {
	cfg        Config
	classifier Classifier
	sem        *semaphore.Weighted
	frameSizes map[int]struct{}
	counters   counters
}

func NewGate(cfg Config, c Classifier) (*Gate, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("aggressiveness must be between 0 and 3, got %d", cfg.Aggressiveness)
	}
	if cfg.EnergyThreshold < 0 {
		return nil, fmt.Errorf("energy threshold must not be negative, got %f", cfg.EnergyThreshold)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if c == nil {
		var err error
		if c, err = newDefaultClassifier(cfg); err != nil {
			return nil, fmt.Errorf("speech classifier: %w", err)
		}
	}

	sizes := map[int]struct{}{}
	for _, ms := range []int{10, 20, 30} {
		sizes[FrameBytes(cfg.SampleRate, ms)] = struct{}{}
	}
	return &Gate{
		cfg:        cfg,
		classifier: c,
		sem:        semaphore.NewWeighted(int64(cfg.Workers)),
		frameSizes: sizes,
	}, nil
}

// FrameBytes is the PCM16 mono byte length of a frame of ms milliseconds.
func FrameBytes(sampleRate, ms int) int {
	return sampleRate * ms / 1000 * 2
}

func (g *Gate) IsSpeech(ctx context.Context, frame []byte) bool {
	g.counters.frames.Add(1)
	if _, ok := g.frameSizes[len(frame)]; !ok {
		g.counters.failedOpen.Add(1)
		return true
	}

	samples := toSamples(frame)
	if rms(samples) < g.cfg.EnergyThreshold {
		g.counters.fastRejected.Add(1)
		return false
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		g.counters.failedOpen.Add(1)
		return true
	}
	defer g.sem.Release(1)

	g.counters.classified.Add(1)
	speech, err := g.classifier.IsSpeech(frame, g.cfg.SampleRate)
	if err != nil {
		g.counters.failedOpen.Add(1)
		return true
	}
	return speech
}

// SpeechRatio splits pcm into 30 ms frames and returns the fraction classified
// as speech. A trailing partial frame is ignored, and pcm shorter than one
// frame counts as all speech. Cancellation stops early and returns 1.
func (g *Gate) SpeechRatio(ctx context.Context, pcm []byte) float64 {
	size := FrameBytes(g.cfg.SampleRate, 30)
	total, speech := 0, 0
	for off := 0; off+size <= len(pcm); off += size {
		if ctx.Err() != nil {
			return 1
		}
		total++
		if g.IsSpeech(ctx, pcm[off:off+size]) {
			speech++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(speech) / float64(total)
}

func (g *Gate) Stats() Stats {
	return Stats{
		Frames:       g.counters.frames.Load(),
		FastRejected: g.counters.fastRejected.Load(),
		Classified:   g.counters.classified.Load(),
		FailedOpen:   g.counters.failedOpen.Load(),
	}
}

func toSamples(frame []byte) []int16 {
	out := make([]int16, len(frame)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(frame[i*2:]))
	}
	return out
}
