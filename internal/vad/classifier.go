package vad

import "math"

// Classifier makes the frame-level speech decision after the energy check.
// frame is PCM16LE mono of exactly 10, 20 or 30 ms.
type Classifier interface {
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
