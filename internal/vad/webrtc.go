//go:build cgo

package vad

import (
	"fmt"

	"github.com/visvasity/webrtcvad"
)

// WebRTCClassifier runs the WebRTC voice activity detector. A detector
// instance is not safe for concurrent use, so calls borrow one from a pool.
type WebRTCClassifier struct {
	pool chan *webrtcvad.VAD
}

// NewWebRTCClassifier builds a pool of detectors at the given mode, 0 (quality)
// to 3 (aggressive).
func NewWebRTCClassifier(aggressiveness, instances int) (*WebRTCClassifier, error) {
	if aggressiveness < 0 || aggressiveness > 3 {
		return nil, fmt.Errorf("aggressiveness must be between 0 and 3, got %d", aggressiveness)
	}
	if instances <= 0 {
		instances = 1
	}
	c := &WebRTCClassifier{pool: make(chan *webrtcvad.VAD, instances)}
	for i := 0; i < instances; i++ {
		v, err := webrtcvad.New()
		if err != nil {
			return nil, err
		}
		if err := v.SetMode(aggressiveness); err != nil {
			return nil, err
		}
		c.pool <- v
	}
	return c, nil
}

func (c *WebRTCClassifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	v := <-c.pool
	defer func() { c.pool <- v }()
	return v.Process(sampleRate, frame)
}

func newDefaultClassifier(cfg Config) (Classifier, error) {
	return NewWebRTCClassifier(cfg.Aggressiveness, cfg.Workers)
}
