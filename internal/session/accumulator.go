package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voxdesk/pkg/audio/decode"
)

// DefaultChunkThreshold is the number of compressed bytes buffered before a
// decode is attempted. Browser recorders emit small timesliced blobs that
// only decode reliably in larger groups.
const DefaultChunkThreshold = 50000

// ErrConversionFailed is returned when an accumulated block cannot be decoded.
var ErrConversionFailed = errors.New("session: audio conversion failed")

// Accumulator groups compressed chunks into blocks and decodes each block as
// one unit into [audio.Pipeline] PCM.
//
// An Accumulator is owned by the ingestion goroutine of one session and is
// not safe for concurrent use.
type Accumulator struct {
	dec       decode.Decoder
	threshold int
	buf       []byte
}

// NewAccumulator returns an Accumulator that decodes with dec once threshold
// bytes are buffered. A non-positive threshold selects
// [DefaultChunkThreshold].
func NewAccumulator(dec decode.Decoder, threshold int) *Accumulator {
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}
	return &Accumulator{dec: dec, threshold: threshold}
}

// Accumulate appends chunk. Below the threshold it returns nil, nil. At or
// above it the whole buffer is decoded, the buffer is cleared and the PCM is
// returned. A decode failure also clears the buffer and returns an error
// wrapping [ErrConversionFailed].
func (a *Accumulator) Accumulate(ctx context.Context, chunk []byte) ([]byte, error) {
	a.buf = append(a.buf, chunk...)
	if len(a.buf) < a.threshold {
		return nil, nil
	}
	return a.decode(ctx)
}

// Flush decodes whatever is buffered regardless of the threshold.
func (a *Accumulator) Flush(ctx context.Context) ([]byte, error) {
	if len(a.buf) == 0 {
		return nil, nil
	}
	return a.decode(ctx)
}

// Len returns the number of buffered compressed bytes.
func (a *Accumulator) Len() int { return len(a.buf) }

func (a *Accumulator) decode(ctx context.Context) ([]byte, error) {
	block := a.buf
	a.buf = nil

	pcm, err := a.dec.Decode(ctx, block)
	switch {
	case errors.Is(err, decode.ErrNoAudio):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %d bytes: %w", ErrConversionFailed, len(block), err)
	}
	return pcm, nil
}
