package audio

import (
	"errors"
	"fmt"
	"time"
)

// Config describes the PCM layout and windowing parameters of a WindowBuffer.
type Config struct {
	SampleRate        int
	BytesPerSample    int
	WindowDuration    time.Duration
	OverlapDuration   time.Duration
	MaxBufferDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:        16000,
		BytesPerSample:    2,
		WindowDuration:    4 * time.Second,
		OverlapDuration:   1 * time.Second,
		MaxBufferDuration: 30 * time.Second,
	}
}

// BytesFor converts a duration to a byte count aligned to whole samples.
func (c Config) BytesFor(d time.Duration) int {
	samples := int(d.Seconds() * float64(c.SampleRate))
	return samples * c.BytesPerSample
}

// DurationOf converts a byte count back to playback time.
func (c Config) DurationOf(n int) time.Duration {
	if c.SampleRate <= 0 || c.BytesPerSample <= 0 {
		return 0
	}
	samples := n / c.BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("sample rate must be positive")
	case c.BytesPerSample <= 0:
		return errors.New("bytes per sample must be positive")
	case c.WindowDuration <= 0:
		return errors.New("window duration must be positive")
	case c.OverlapDuration < 0:
		return errors.New("overlap duration must not be negative")
	case c.OverlapDuration >= c.WindowDuration:
		return fmt.Errorf("overlap %v must be shorter than window %v", c.OverlapDuration, c.WindowDuration)
	case c.MaxBufferDuration <= 0:
		return errors.New("max buffer duration must be positive")
	case c.MaxBufferDuration < c.WindowDuration:
		return fmt.Errorf("max buffer %v must hold at least one window %v", c.MaxBufferDuration, c.WindowDuration)
	}
	return nil
}

// WindowBuffer turns an unbounded PCM byte stream into fixed-size windows.
// Each window after the first starts with the trailing overlap of the one
// before it. Not safe for concurrent use; a session owns exactly one.
type WindowBuffer struct {
	windowSize  int
	overlapSize int
	hopSize     int
	maxBytes    int
	align       int

	buf     []byte
	overlap []byte
	dropped int64
}

func NewWindowBuffer(cfg Config) (*WindowBuffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w := cfg.BytesFor(cfg.WindowDuration)
	o := cfg.BytesFor(cfg.OverlapDuration)
	m := cfg.BytesFor(cfg.MaxBufferDuration)
	if w <= 0 || w <= o {
		return nil, fmt.Errorf("window of %d bytes too small for overlap of %d bytes", w, o)
	}
	return &WindowBuffer{
		windowSize:  w,
		overlapSize: o,
		hopSize:     w - o,
		maxBytes:    m,
		align:       cfg.BytesPerSample,
		buf:         make([]byte, 0, w),
	}, nil
}

func (b *WindowBuffer) WindowSize() int  { return b.windowSize }
func (b *WindowBuffer) OverlapSize() int { return b.overlapSize }
func (b *WindowBuffer) HopSize() int     { return b.hopSize }

// Len is the number of accumulated bytes not yet emitted in any window.
func (b *WindowBuffer) Len() int { return len(b.buf) }

// Dropped is the total number of bytes discarded by the overflow policy.
func (b *WindowBuffer) Dropped() int64 { return b.dropped }

// Add appends chunk and returns a window once enough audio has accumulated,
// otherwise nil. The returned slice is owned by the caller.
func (b *WindowBuffer) Add(chunk []byte) []byte {
	if len(chunk) > 0 {
		b.admit(chunk)
	}

	need := b.windowSize - len(b.overlap)
	if len(b.buf) < need {
		return nil
	}

	window := make([]byte, 0, b.windowSize)
	window = append(window, b.overlap...)
	window = append(window, b.buf[:need]...)

	remaining := copy(b.buf, b.buf[need:])
	b.buf = b.buf[:remaining]

	if b.overlapSize > 0 {
		b.overlap = append(b.overlap[:0], window[len(window)-b.overlapSize:]...)
	}
	return window
}

// admit appends chunk, first dropping the oldest bytes that would push the
// buffer past its maximum.
func (b *WindowBuffer) admit(chunk []byte) {
	if len(chunk) >= b.maxBytes {
		b.dropped += int64(len(b.buf) + len(chunk) - b.maxBytes)
		b.buf = append(b.buf[:0], chunk[len(chunk)-b.maxBytes:]...)
		return
	}
	if excess := len(b.buf) + len(chunk) - b.maxBytes; excess > 0 {
		if r := excess % b.align; r != 0 {
			excess += b.align - r
		}
		if excess > len(b.buf) {
			excess = len(b.buf)
		}
		n := copy(b.buf, b.buf[excess:])
		b.buf = b.buf[:n]
		b.dropped += int64(excess)
	}
	b.buf = append(b.buf, chunk...)
}

// Flush returns the overlap followed by whatever is left in the buffer and
// resets all state. Returns nil when no new audio is pending.
func (b *WindowBuffer) Flush() []byte {
	if len(b.buf) == 0 {
		b.overlap = b.overlap[:0]
		return nil
	}
	out := make([]byte, 0, len(b.overlap)+len(b.buf))
	out = append(out, b.overlap...)
	out = append(out, b.buf...)
	b.buf = b.buf[:0]
	b.overlap = b.overlap[:0]
	return out
}
