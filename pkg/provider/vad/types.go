package vad

import (
	"fmt"
	"time"
)

// Sensitivity trades recall for precision, mirroring the aggressiveness
// modes of the WebRTC VAD: 0 accepts the most frames as speech, 3 the fewest.
type Sensitivity int

// Sensitivity bounds.
const (
	SensitivityMin Sensitivity = 0
	SensitivityMax Sensitivity = 3
)

// Valid reports whether s is within [SensitivityMin, SensitivityMax].
func (s Sensitivity) Valid() bool {
	return s >= SensitivityMin && s <= SensitivityMax
}

// Config holds the static parameters of a Classifier.
type Config struct {
	// SampleRate of the frames in Hz. Supported: 8000, 16000, 32000, 48000.
	SampleRate int

	// Sensitivity selects the detection threshold.
	Sensitivity Sensitivity
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	switch c.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return fmt.Errorf("vad: unsupported sample rate %d", c.SampleRate)
	}
	if !c.Sensitivity.Valid() {
		return fmt.Errorf("vad: sensitivity %d out of range [%d, %d]", c.Sensitivity, SensitivityMin, SensitivityMax)
	}
	return nil
}

// FrameDurations lists the frame lengths classifiers accept.
var FrameDurations = []time.Duration{
	10 * time.Millisecond,
	20 * time.Millisecond,
	30 * time.Millisecond,
}

// ValidFrameLen reports whether n bytes of 16-bit mono PCM at sampleRate
// make up exactly one of the [FrameDurations].
func ValidFrameLen(n, sampleRate int) bool {
	for _, d := range FrameDurations {
		if n == int(int64(sampleRate)*int64(d)/int64(time.Second))*2 {
			return true
		}
	}
	return false
}
