// Package mock provides a test double for the vad.Classifier interface.
//
// Classify decides per frame; when nil, frames are voiced if their first byte
// is non-zero, which lets tests build speech and silence from plain byte
// patterns.
//
// Example:
//
//	c := &mock.Classifier{}
//	voiced, _ := c.IsVoiced(bytes.Repeat([]byte{1}, 960))
package mock

import (
	"sync"

	"github.com/MrWong99/voxdesk/pkg/provider/vad"
)

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Classify, if set, decides every frame.
	Classify func(frame []byte) (bool, error)

	// Calls is the number of IsVoiced invocations.
	Calls int
}

// IsVoiced records the call and classifies frame.
func (c *Classifier) IsVoiced(frame []byte) (bool, error) {
	c.mu.Lock()
	c.Calls++
	fn := c.Classify
	c.mu.Unlock()
	if fn != nil {
		return fn(frame)
	}
	return len(frame) > 0 && frame[0] != 0, nil
}

// CallCount returns the number of IsVoiced calls. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Calls
}

var _ vad.Classifier = (*Classifier)(nil)
