//go:build cgo

package vad

import (
	"context"
	"testing"
)

func TestNewWebRTCClassifierValidation(t *testing.T) {
	if _, err := NewWebRTCClassifier(4, 1); err == nil {
		t.Error("Expected aggressiveness error")
	}
}

func TestWebRTCClassifierSilence(t *testing.T) {
	c, err := NewWebRTCClassifier(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	for _, ms := range []int{10, 20, 30} {
		speech, err := c.IsSpeech(make([]byte, FrameBytes(16000, ms)), 16000)
		if err != nil {
			t.Fatalf("Expected %dms frame to be accepted, got %v", ms, err)
		}
		if speech {
			t.Errorf("Expected %dms of silence not to be speech", ms)
		}
	}
}

func TestDefaultGateUsesWebRTC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnergyThreshold = 0
	g, err := NewGate(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.classifier.(*WebRTCClassifier); !ok {
		t.Fatalf("Expected WebRTC classifier, got %T", g.classifier)
	}
	if g.IsSpeech(context.Background(), make([]byte, FrameBytes(16000, 20))) {
		t.Error("Expected silence to be classified as non-speech")
	}
	if g.Stats().Classified != 1 {
		t.Errorf("Expected 1 classified frame, got %d", g.Stats().Classified)
	}
}
