package audio

import "time"

// DefaultFrameDuration is the frame length used for voice-activity
// classification.
const DefaultFrameDuration = 30 * time.Millisecond

// Frame is a fixed-duration slice of a PCM buffer.
type Frame struct {
	// Data is a sub-slice of the buffer passed to [SplitFrames]. Callers that
	// retain it beyond the buffer's lifetime must copy it.
	Data []byte

	// Offset is the position of the first sample on the stream clock.
	Offset time.Duration

	// Duration is the playback length of Data.
	Duration time.Duration
}

// End returns the stream-clock position just past the last sample.
func (f Frame) End() time.Duration {
	return f.Offset + f.Duration
}

// SplitFrames slices pcm into consecutive frames of length d. The first frame
// starts at start on the stream clock. A trailing remainder shorter than a
// full frame is dropped rather than padded, because classifiers reject
// undersized input.
//
// SplitFrames keeps no state between calls and does not copy pcm.
func SplitFrames(pcm []byte, f Format, d, start time.Duration) []Frame {
	size := f.BytesFor(d)
	if size <= 0 || len(pcm) < size {
		return nil
	}
	frames := make([]Frame, 0, len(pcm)/size)
	for off := 0; off+size <= len(pcm); off += size {
		frames = append(frames, Frame{
			Data:     pcm[off : off+size : off+size],
			Offset:   start + f.Duration(off),
			Duration: d,
		})
	}
	return frames
}
