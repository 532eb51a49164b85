// Package energy provides a pure-Go [vad.Classifier] that labels frames by
// their RMS level.
//
// It is the dependency-free default: no model files, no cgo. The threshold is
// picked from the configured [vad.Sensitivity] and may be overridden.
package energy

import (
	"fmt"

	"github.com/MrWong99/voxdesk/pkg/audio"
	"github.com/MrWong99/voxdesk/pkg/provider/vad"
)

// thresholds maps each sensitivity level to an RMS floor in 16-bit sample
// units. Level 0 is the most permissive.
var thresholds = [...]float64{300, 450, 650, 900}

// Compile-time assertion that Classifier implements vad.Classifier.
var _ vad.Classifier = (*Classifier)(nil)

// Classifier is an RMS energy voice-activity classifier. It is immutable
// after construction and safe for concurrent use.
type Classifier struct {
	sampleRate int
	threshold  float64
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithThreshold overrides the RMS threshold chosen by sensitivity.
func WithThreshold(rms float64) Option {
	return func(c *Classifier) { c.threshold = rms }
}

// New returns a Classifier for cfg.
func New(cfg vad.Config, opts ...Option) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Classifier{
		sampleRate: cfg.SampleRate,
		threshold:  thresholds[cfg.Sensitivity],
	}
	for _, o := range opts {
		o(c)
	}
	if c.threshold <= 0 {
		return nil, fmt.Errorf("energy: threshold must be positive, got %v", c.threshold)
	}
	return c, nil
}

// IsVoiced reports whether the frame's RMS level reaches the threshold.
func (c *Classifier) IsVoiced(frame []byte) (bool, error) {
	if !vad.ValidFrameLen(len(frame), c.sampleRate) {
		return false, fmt.Errorf("%w: %d bytes at %d Hz", vad.ErrInvalidFrame, len(frame), c.sampleRate)
	}
	return audio.RMS16(frame) >= c.threshold, nil
}

// Threshold returns the RMS level frames must reach to count as voiced.
func (c *Classifier) Threshold() float64 { return c.threshold }
