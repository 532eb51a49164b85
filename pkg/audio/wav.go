package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
)

// wavHeaderSize is the size of the canonical PCM RIFF header written by
// [EncodeWAV].
const wavHeaderSize = 44

// ErrNotWAV is returned by [ParseWAV] when the input is not a RIFF/WAVE
// container holding a data chunk.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE container")

// ErrUnsupportedWAV is returned by [ParseWAV] for WAV files whose samples are
// not integer PCM, such as IEEE float or A-law.
var ErrUnsupportedWAV = errors.New("audio: unsupported WAV encoding")

// WAV format tags.
const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	buf := make([]byte, wavHeaderSize+len(pcm))
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1) // PCM
	le.PutUint16(buf[22:24], uint16(f.Channels))
	le.PutUint32(buf[24:28], uint32(f.SampleRate))
	le.PutUint32(buf[28:32], uint32(f.BytesPerSecond()))
	le.PutUint16(buf[32:34], uint16(f.BlockAlign()))
	le.PutUint16(buf[34:36], uint16(f.SampleWidth*8))

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}

// ParseWAV walks the RIFF chunks of wav and returns the stream format from
// the "fmt " chunk and the PCM payload of the "data" chunk. The returned PCM
// aliases wav. A data chunk whose declared size overruns the input (common
// for streamed WAVs with a placeholder size) is truncated to what is present.
func ParseWAV(wav []byte) (Format, []byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return Format{}, nil, ErrNotWAV
	}
	var (
		f      Format
		gotFmt bool
	)
	for off := 12; off+8 <= len(wav); {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(wav) {
				return Format{}, nil, fmt.Errorf("audio: short fmt chunk (%d bytes)", size)
			}
			if tag := wavFormatTag(wav[body:], size); tag != wavFormatPCM {
				return Format{}, nil, fmt.Errorf("%w: format tag 0x%04x", ErrUnsupportedWAV, tag)
			}
			f.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
			f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			f.SampleWidth = int(binary.LittleEndian.Uint16(wav[body+14:])) / 8
			gotFmt = true
		case "data":
			if !gotFmt {
				return Format{}, nil, fmt.Errorf("audio: data chunk before fmt chunk")
			}
			end := body + size
			if end > len(wav) || size < 0 {
				end = len(wav)
			}
			return f, wav[body:end], nil
		}

		off = body + size
		if size%2 != 0 {
			off++
		}
	}
	return Format{}, nil, ErrNotWAV
}

// wavFormatTag returns the sample encoding of a fmt chunk body, resolving
// WAVE_FORMAT_EXTENSIBLE to its sub-format.
func wavFormatTag(fmtBody []byte, size int) uint16 {
	tag := binary.LittleEndian.Uint16(fmtBody)
	if tag != wavFormatExtensible {
		return tag
	}
	// cbSize, valid bits and channel mask precede the sub-format GUID.
	if size < 40 || len(fmtBody) < 26 {
		return tag
	}
	return binary.LittleEndian.Uint16(fmtBody[24:])
}

// ReadWAVFile loads and parses the WAV file at path.
func ReadWAVFile(path string) (Format, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Format{}, nil, fmt.Errorf("audio: read %q: %w", path, err)
	}
	f, pcm, err := ParseWAV(data)
	if err != nil {
		return Format{}, nil, fmt.Errorf("audio: parse %q: %w", path, err)
	}
	return f, pcm, nil
}

// WriteWAVFile writes pcm to path as a canonical WAV file.
func WriteWAVFile(path string, pcm []byte, f Format) error {
	if err := os.WriteFile(path, EncodeWAV(pcm, f), 0o644); err != nil {
		return fmt.Errorf("audio: write %q: %w", path, err)
	}
	return nil
}
