// Package mock provides a test double for the decode.Decoder interface.
//
// Example:
//
//	d := &mock.Decoder{PCM: make([]byte, 32000)}
//	acc := session.NewAccumulator(d, 100)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxdesk/pkg/audio/decode"
)

// Decoder is a mock implementation of decode.Decoder.
type Decoder struct {
	mu sync.Mutex

	// PCM is returned by every successful Decode call. When nil, the block
	// itself is returned so tests can feed raw PCM straight through.
	PCM []byte

	// Err, if non-nil, is returned by Decode.
	Err error

	// Calls records a copy of every block passed to Decode.
	Calls [][]byte
}

// Decode records the call and returns PCM (or the block) and Err.
func (d *Decoder) Decode(_ context.Context, block []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, append([]byte(nil), block...))
	if d.Err != nil {
		return nil, d.Err
	}
	if d.PCM != nil {
		return d.PCM, nil
	}
	return append([]byte(nil), block...), nil
}

// CallCount returns the number of Decode calls. Thread-safe.
func (d *Decoder) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}

var _ decode.Decoder = (*Decoder)(nil)
