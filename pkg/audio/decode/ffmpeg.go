package decode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/MrWong99/voxdesk/pkg/audio"
)

// Compile-time assertion that FFmpeg satisfies Decoder.
var _ Decoder = (*FFmpeg)(nil)

// FFmpeg decodes blocks by piping them through an ffmpeg subprocess:
//
//	ffmpeg -hide_banner -loglevel error -i pipe:0 -ar 16000 -ac 1 -f s16le pipe:1
//
// It is stateless and therefore safe for concurrent use.
type FFmpeg struct {
	bin    string
	format audio.Format
}

// FFmpegOption configures an [FFmpeg] decoder.
type FFmpegOption func(*FFmpeg)

// WithBinary overrides the ffmpeg executable. Defaults to "ffmpeg" on PATH.
func WithBinary(path string) FFmpegOption {
	return func(f *FFmpeg) { f.bin = path }
}

// NewFFmpeg returns an ffmpeg-backed decoder producing [audio.Pipeline] PCM.
func NewFFmpeg(opts ...FFmpegOption) *FFmpeg {
	f := &FFmpeg{bin: "ffmpeg", format: audio.Pipeline}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Decode runs ffmpeg over block and returns raw PCM from its stdout.
func (f *FFmpeg) Decode(ctx context.Context, block []byte) ([]byte, error) {
	if len(block) == 0 {
		return nil, ErrNoAudio
	}
	cmd := exec.CommandContext(ctx, f.bin,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-ar", strconv.Itoa(f.format.SampleRate),
		"-ac", strconv.Itoa(f.format.Channels),
		"-f", "s16le",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(block)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("decode: ffmpeg: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("decode: ffmpeg: %w", err)
	}
	pcm := stdout.Bytes()
	pcm = pcm[:len(pcm)-len(pcm)%f.format.BlockAlign()]
	if len(pcm) == 0 {
		return nil, ErrNoAudio
	}
	return pcm, nil
}
