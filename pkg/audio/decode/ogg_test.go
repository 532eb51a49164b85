package decode

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"layeh.com/gopus"
)

// buildPage assembles one Ogg page holding packets, with a valid checksum.
func buildPage(flags byte, seq uint32, packets ...[]byte) []byte {
	var lacing, body []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
		body = append(body, p...)
	}
	page := make([]byte, oggHeaderLen, oggHeaderLen+len(lacing)+len(body))
	copy(page, "OggS")
	page[5] = flags
	binary.LittleEndian.PutUint32(page[14:], 0x5eed)
	binary.LittleEndian.PutUint32(page[18:], seq)
	page[26] = byte(len(lacing))
	page = append(page, lacing...)
	page = append(page, body...)
	binary.LittleEndian.PutUint32(page[22:], pageCRC(page))
	return page
}

func opusHead(channels int) []byte {
	h := make([]byte, 19)
	copy(h, "OpusHead")
	h[8] = 1
	h[9] = byte(channels)
	binary.LittleEndian.PutUint32(h[12:], 48000)
	return h
}

// encodeTone returns n 20 ms Opus packets of a 440 Hz mono tone.
func encodeTone(t *testing.T, n int) [][]byte {
	t.Helper()
	enc, err := gopus.NewEncoder(opusRate, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("NewEncoder: %v", err)
	}
	const frame = 960
	pkts := make([][]byte, 0, n)
	for i := range n {
		pcm := make([]int16, frame)
		for j := range pcm {
			pos := float64(i*frame + j)
			pcm[j] = int16(8000 * math.Sin(2*math.Pi*440*pos/opusRate))
		}
		p, err := enc.Encode(pcm, frame, 4000)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		pkts = append(pkts, p)
	}
	return pkts
}

func oggStream(t *testing.T, packets int) []byte {
	t.Helper()
	var s []byte
	s = append(s, buildPage(0x02, 0, opusHead(1))...)
	s = append(s, buildPage(0, 1, append([]byte("OpusTags"), 0, 0, 0, 0, 0, 0, 0, 0))...)
	for i, p := range encodeTone(t, packets) {
		s = append(s, buildPage(0, uint32(i+2), p)...)
	}
	return s
}

func TestOpus_DecodeStream(t *testing.T) {
	t.Parallel()
	pcm, err := NewOpus().Decode(context.Background(), oggStream(t, 10))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// 10 × 960 samples at 48 kHz → 3200 samples at 16 kHz.
	if len(pcm) != 6400 {
		t.Errorf("got %d bytes, want 6400", len(pcm))
	}
}

// TestOpus_SplitBlocks verifies that a stream cut at arbitrary byte offsets
// (including mid-page) decodes to the same amount of audio.
func TestOpus_SplitBlocks(t *testing.T) {
	t.Parallel()
	stream := oggStream(t, 10)
	cuts := []int{len(stream) / 3, len(stream)/3 + 7, len(stream) - 5}

	d := NewOpus()
	var total int
	prev := 0
	for _, c := range append(cuts, len(stream)) {
		pcm, err := d.Decode(context.Background(), stream[prev:c])
		if err != nil && !errors.Is(err, ErrNoAudio) {
			t.Fatalf("Decode block [%d:%d]: %v", prev, c, err)
		}
		total += len(pcm)
		prev = c
	}
	if total != 6400 {
		t.Errorf("got %d bytes total, want 6400", total)
	}
}

// rawPage assembles a page from explicit lacing values.
func rawPage(flags byte, seq uint32, lacing, body []byte) []byte {
	page := make([]byte, oggHeaderLen)
	copy(page, "OggS")
	page[5] = flags
	binary.LittleEndian.PutUint32(page[18:], seq)
	page[26] = byte(len(lacing))
	page = append(page, lacing...)
	page = append(page, body...)
	binary.LittleEndian.PutUint32(page[22:], pageCRC(page))
	return page
}

// TestOpus_PacketSpanningPages verifies that a packet continued on the next
// page is reassembled before it is interpreted.
func TestOpus_PacketSpanningPages(t *testing.T) {
	t.Parallel()
	tags := make([]byte, 600)
	copy(tags, "OpusTags")
	pkt := encodeTone(t, 1)[0]

	var s []byte
	s = append(s, buildPage(0x02, 0, opusHead(1))...)
	s = append(s, rawPage(0, 1, []byte{255, 255}, tags[:510])...)
	s = append(s, rawPage(oggFlagContinue, 2, []byte{90, byte(len(pkt))}, append(tags[510:], pkt...))...)

	pcm, err := NewOpus().Decode(context.Background(), s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != 640 {
		t.Errorf("got %d bytes, want 640", len(pcm))
	}
}

// TestOpus_OrphanContinuation verifies that a continued page whose first
// half was never received is skipped up to the next packet boundary.
func TestOpus_OrphanContinuation(t *testing.T) {
	t.Parallel()
	pkt := encodeTone(t, 1)[0]
	orphan := make([]byte, 40)

	var s []byte
	s = append(s, buildPage(0x02, 0, opusHead(1))...)
	s = append(s, rawPage(oggFlagContinue, 5, []byte{40, byte(len(pkt))}, append(orphan, pkt...))...)

	pcm, err := NewOpus().Decode(context.Background(), s)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != 640 {
		t.Errorf("got %d bytes, want 640", len(pcm))
	}
}

func TestOpus_CorruptPageResync(t *testing.T) {
	t.Parallel()
	stream := oggStream(t, 4)
	// Corrupt the OpusTags page; its checksum fails and the decoder skips to
	// the next page.
	head := len(buildPage(0x02, 0, opusHead(1)))
	stream[head+oggHeaderLen+5] ^= 0xff

	pcm, err := NewOpus().Decode(context.Background(), stream)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(pcm) != 4*640 {
		t.Errorf("got %d bytes, want %d", len(pcm), 4*640)
	}
}

func TestOpus_HeadersOnly(t *testing.T) {
	t.Parallel()
	_, err := NewOpus().Decode(context.Background(), buildPage(0x02, 0, opusHead(1)))
	if !errors.Is(err, ErrNoAudio) {
		t.Errorf("error = %v, want ErrNoAudio", err)
	}
}

func TestSniff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   []byte
		want Container
	}{
		{[]byte("OggS\x00"), ContainerOgg},
		{[]byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, ContainerWebM},
		{[]byte("RIFF....WAVE"), ContainerWAV},
		{[]byte{0x00, 0x01}, ContainerUnknown},
		{nil, ContainerUnknown},
	}
	for _, tc := range tests {
		if got := Sniff(tc.in); got != tc.want {
			t.Errorf("Sniff(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
