// Package decode turns accumulated blocks of compressed client audio into
// 16 kHz mono 16-bit PCM (see [audio.Pipeline]).
//
// Two backends are provided: [FFmpeg] shells out to an ffmpeg binary and
// handles any container ffmpeg understands (WebM/Matroska from browser
// MediaRecorder in practice), and [Opus] demuxes Ogg/Opus natively with
// libopus via gopus. [Auto] picks between them by sniffing the block's magic
// bytes.
//
// Decoders may carry per-stream state (an Opus decoder, a partially received
// Ogg page) and must not be shared between sessions. Use a [Factory] to give
// every session its own.
package decode

import (
	"bytes"
	"context"
	"errors"
)

// ErrNoAudio is returned when a block decoded successfully but produced no
// samples.
var ErrNoAudio = errors.New("decode: no audio in block")

// Decoder converts one self-contained block of compressed audio to PCM in
// [audio.Pipeline] format.
type Decoder interface {
	// Decode converts block. Implementations must honour ctx cancellation.
	Decode(ctx context.Context, block []byte) ([]byte, error)
}

// Factory creates a fresh Decoder for one stream.
type Factory func() (Decoder, error)

// Container identifies the compressed container of a block.
type Container int

const (
	// ContainerUnknown means the magic bytes did not match a known container.
	ContainerUnknown Container = iota

	// ContainerOgg is an Ogg bitstream ("OggS").
	ContainerOgg

	// ContainerWebM is an EBML (WebM/Matroska) stream.
	ContainerWebM

	// ContainerWAV is a RIFF/WAVE file.
	ContainerWAV
)

var (
	magicOgg  = []byte("OggS")
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicRIFF = []byte("RIFF")
)

// Sniff reports the container of block by its leading magic bytes.
func Sniff(block []byte) Container {
	switch {
	case bytes.HasPrefix(block, magicOgg):
		return ContainerOgg
	case bytes.HasPrefix(block, magicEBML):
		return ContainerWebM
	case bytes.HasPrefix(block, magicRIFF):
		return ContainerWAV
	}
	return ContainerUnknown
}

// String returns a short name for c.
func (c Container) String() string {
	switch c {
	case ContainerOgg:
		return "ogg"
	case ContainerWebM:
		return "webm"
	case ContainerWAV:
		return "wav"
	}
	return "unknown"
}
