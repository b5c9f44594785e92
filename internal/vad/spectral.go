//go:build !cgo

package vad

// energyThresholds and zcrCeilings are indexed by aggressiveness 0..3.
// Higher aggressiveness demands louder frames and a lower crossing rate.
var (
	energyThresholds = [4]float64{400, 600, 900, 1400}
	zcrCeilings      = [4]float64{0.50, 0.40, 0.33, 0.25}
)

// SpectralClassifier combines frame loudness with zero-crossing rate. It
// stands in for the WebRTC detector in builds without cgo.
type SpectralClassifier struct {
	Aggressiveness int
}

func (c SpectralClassifier) level() int {
	switch {
	case c.Aggressiveness < 0:
		return 0
	case c.Aggressiveness > 3:
		return 3
	default:
		return c.Aggressiveness
	}
}

func (c SpectralClassifier) IsSpeech(frame []byte, _ int) (bool, error) {
	samples := toSamples(frame)
	if len(samples) == 0 {
		return false, nil
	}
	lvl := c.level()
	if rms(samples) < energyThresholds[lvl] {
		return false, nil
	}
	return zeroCrossingRate(samples) <= zcrCeilings[lvl], nil
}

func zeroCrossingRate(samples []int16) float64 {
	if len(samples) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(samples)-1)
}

func newDefaultClassifier(cfg Config) (Classifier, error) {
	return SpectralClassifier{Aggressiveness: cfg.Aggressiveness}, nil
}
