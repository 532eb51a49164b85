package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"layeh.com/gopus"

	"github.com/MrWong99/voxdesk/pkg/audio"
)

// Opus runs at 48 kHz internally regardless of the encoder's input rate.
const (
	opusRate = 48000

	// opusMaxFrame is the largest Opus frame (120 ms) in samples per channel.
	opusMaxFrame = opusRate * 120 / 1000
)

const (
	oggHeaderLen    = 27
	oggFlagContinue = 0x01
)

var (
	opusHeadMagic = []byte("OpusHead")
	opusTagsMagic = []byte("OpusTags")

	errShortPage = errors.New("decode: incomplete ogg page")
)

// Compile-time assertion that Opus satisfies Decoder.
var _ Decoder = (*Opus)(nil)

// Opus demuxes an Ogg/Opus stream and decodes it with libopus.
//
// A browser recording with a timeslice produces one logical stream split
// across many blocks, and only the first block carries the OpusHead header.
// Opus therefore remembers the stream parameters, carries an incomplete
// trailing page over to the next block and keeps packets that span page
// boundaries. Create one per session.
type Opus struct {
	mu       sync.Mutex
	dec      *gopus.Decoder
	channels int
	preSkip  int // samples per channel still to discard at stream start
	pending  []byte
	partial  []byte
}

// NewOpus returns an Ogg/Opus decoder. The libopus decoder is created once
// the OpusHead packet announces the channel count; streams joined without a
// header are assumed to be mono.
func NewOpus() *Opus {
	return &Opus{}
}

// Decode demuxes every complete page in block, decodes the audio packets and
// returns the PCM converted to [audio.Pipeline].
func (o *Opus) Decode(ctx context.Context, block []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	data := append(o.pending, block...)
	o.pending = nil

	var samples []int16
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("decode: opus: %w", err)
		}
		page, n, err := readPage(data)
		if errors.Is(err, errShortPage) {
			o.pending = bytes.Clone(data)
			break
		}
		if err != nil {
			// Resynchronise on the next capture pattern.
			next := bytes.Index(data[1:], magicOgg)
			if next < 0 {
				return nil, fmt.Errorf("decode: opus: %w", err)
			}
			data = data[next+1:]
			continue
		}
		data = data[n:]

		pcm, err := o.decodePage(page)
		if err != nil {
			return nil, err
		}
		samples = append(samples, pcm...)
	}

	if len(samples) == 0 {
		return nil, ErrNoAudio
	}
	src := audio.Format{SampleRate: opusRate, Channels: o.channels, SampleWidth: 2}
	return audio.Convert(audio.Int16ToPCM16(samples), src, audio.Pipeline), nil
}

func (o *Opus) decodePage(p oggPage) ([]int16, error) {
	var out []int16
	body := p.body
	// A continued page whose start we never saw: drop segments up to the end
	// of that packet.
	orphan := p.flags&oggFlagContinue != 0 && o.partial == nil
	if p.flags&oggFlagContinue == 0 {
		o.partial = nil
	}
	for _, lace := range p.lacing {
		seg := body[:lace]
		body = body[lace:]
		if orphan {
			orphan = lace == 255
			continue
		}
		o.partial = append(o.partial, seg...)
		if lace == 255 {
			continue
		}
		pkt := o.partial
		o.partial = nil

		pcm, err := o.decodePacket(pkt)
		if err != nil {
			return nil, err
		}
		out = append(out, pcm...)
	}
	return out, nil
}

func (o *Opus) decodePacket(pkt []byte) ([]int16, error) {
	switch {
	case bytes.HasPrefix(pkt, opusHeadMagic):
		if len(pkt) < 19 {
			return nil, fmt.Errorf("decode: opus: short OpusHead (%d bytes)", len(pkt))
		}
		channels := int(pkt[9])
		if channels < 1 || channels > 2 {
			return nil, fmt.Errorf("decode: opus: unsupported channel count %d", channels)
		}
		o.preSkip = int(binary.LittleEndian.Uint16(pkt[10:12]))
		if o.dec == nil || o.channels != channels {
			if err := o.init(channels); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case bytes.HasPrefix(pkt, opusTagsMagic), len(pkt) == 0:
		return nil, nil
	}

	if o.dec == nil {
		if err := o.init(1); err != nil {
			return nil, err
		}
	}
	pcm, err := o.dec.Decode(pkt, opusMaxFrame, false)
	if err != nil {
		return nil, fmt.Errorf("decode: opus packet: %w", err)
	}
	if o.preSkip > 0 {
		skip := min(o.preSkip, len(pcm)/o.channels)
		o.preSkip -= skip
		pcm = pcm[skip*o.channels:]
	}
	return pcm, nil
}

func (o *Opus) init(channels int) error {
	dec, err := gopus.NewDecoder(opusRate, channels)
	if err != nil {
		return fmt.Errorf("decode: create opus decoder: %w", err)
	}
	o.dec = dec
	o.channels = channels
	return nil
}

// ─── Ogg page framing ────────────────────────────────────────────────────────

type oggPage struct {
	flags  byte
	lacing []byte
	body   []byte
}

// readPage parses the page at the start of data and returns it with its
// total length. errShortPage means data ends inside the page.
func readPage(data []byte) (oggPage, int, error) {
	if len(data) < oggHeaderLen {
		if bytes.HasPrefix(magicOgg, data) || bytes.HasPrefix(data, magicOgg) {
			return oggPage{}, 0, errShortPage
		}
		return oggPage{}, 0, errors.New("missing capture pattern")
	}
	if !bytes.Equal(data[:4], magicOgg) {
		return oggPage{}, 0, errors.New("missing capture pattern")
	}
	if data[4] != 0 {
		return oggPage{}, 0, fmt.Errorf("unsupported ogg version %d", data[4])
	}
	nseg := int(data[26])
	if len(data) < oggHeaderLen+nseg {
		return oggPage{}, 0, errShortPage
	}
	lacing := data[oggHeaderLen : oggHeaderLen+nseg]
	size := 0
	for _, l := range lacing {
		size += int(l)
	}
	total := oggHeaderLen + nseg + size
	if len(data) < total {
		return oggPage{}, 0, errShortPage
	}

	want := binary.LittleEndian.Uint32(data[22:26])
	if got := pageCRC(data[:total]); got != want {
		return oggPage{}, 0, fmt.Errorf("ogg page checksum mismatch: %08x != %08x", got, want)
	}
	return oggPage{
		flags:  data[5],
		lacing: lacing,
		body:   data[oggHeaderLen+nseg : total],
	}, total, nil
}

// crcTable is the lookup table for the Ogg CRC-32 (polynomial 0x04c11db7,
// no reflection, zero initial value).
var crcTable = func() [256]uint32 {
	var t [256]uint32
	for i := range t {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		t[i] = r
	}
	return t
}()

// pageCRC computes the checksum of page with its checksum field treated as
// zero.
func pageCRC(page []byte) uint32 {
	var crc uint32
	for i, b := range page {
		if i >= 22 && i < 26 {
			b = 0
		}
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
