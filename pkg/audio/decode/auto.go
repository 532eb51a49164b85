package decode

import (
	"context"
	"fmt"

	"github.com/MrWong99/voxdesk/pkg/audio"
)

// Compile-time assertion that Auto satisfies Decoder.
var _ Decoder = (*Auto)(nil)

// Auto routes each block to a backend chosen from its magic bytes: Ogg to a
// per-stream [Opus] decoder, RIFF/WAVE is parsed in-process, everything else
// goes to ffmpeg. Blocks without recognisable magic (continuation blocks of
// a timesliced recording) reuse the container of the previous block.
type Auto struct {
	ffmpeg *FFmpeg
	opus   *Opus
	last   Container
}

// NewAuto returns an Auto decoder that uses ff for non-Ogg containers.
func NewAuto(ff *FFmpeg) *Auto {
	return &Auto{ffmpeg: ff, opus: NewOpus()}
}

// Decode dispatches block to the matching backend.
func (a *Auto) Decode(ctx context.Context, block []byte) ([]byte, error) {
	c := Sniff(block)
	if c == ContainerUnknown {
		c = a.last
	} else {
		a.last = c
	}
	switch c {
	case ContainerOgg:
		return a.opus.Decode(ctx, block)
	case ContainerWAV:
		f, pcm, err := audio.ParseWAV(block)
		if err != nil {
			return nil, fmt.Errorf("decode: wav: %w", err)
		}
		if f.SampleWidth != 2 {
			return nil, fmt.Errorf("decode: wav: unsupported sample width %d", f.SampleWidth)
		}
		out := audio.Convert(pcm, f, audio.Pipeline)
		if len(out) == 0 {
			return nil, ErrNoAudio
		}
		return out, nil
	}
	return a.ffmpeg.Decode(ctx, block)
}

// NewFactory returns a [Factory] for the named decoder kind: "auto" (default),
// "ffmpeg" or "opus". ffmpegBin may be empty to use "ffmpeg" from PATH.
func NewFactory(kind, ffmpegBin string) (Factory, error) {
	var opts []FFmpegOption
	if ffmpegBin != "" {
		opts = append(opts, WithBinary(ffmpegBin))
	}
	switch kind {
	case "", "auto":
		return func() (Decoder, error) { return NewAuto(NewFFmpeg(opts...)), nil }, nil
	case "ffmpeg":
		ff := NewFFmpeg(opts...)
		return func() (Decoder, error) { return ff, nil }, nil
	case "opus", "ogg":
		return func() (Decoder, error) { return NewOpus(), nil }, nil
	}
	return nil, fmt.Errorf("decode: unknown decoder %q", kind)
}
