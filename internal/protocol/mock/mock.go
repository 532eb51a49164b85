// Package mock provides an in-memory [protocol.Conn] that records every
// outbound message in order.
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/MrWong99/voxdesk/internal/protocol"
)

var _ protocol.Conn = (*Conn)(nil)

// Binary is the Type recorded for binary messages.
const Binary = "binary"

// Event is one recorded outbound message.
type Event struct {
	// Type is the JSON "type" field, or [Binary].
	Type string

	// JSON is the encoded message for JSON events.
	JSON []byte

	// Data is the payload of binary events.
	Data []byte
}

// Conn is a mock [protocol.Conn]. It is safe for concurrent use.
type Conn struct {
	mu     sync.Mutex
	closed bool
	events []Event

	// SendErr, if non-nil, is returned by every send.
	SendErr error

	// OnSend, if set, is called before an event is recorded. Returning an
	// error fails that send.
	OnSend func(e Event) error
}

// SendJSON implements [protocol.Conn].
func (c *Conn) SendJSON(_ context.Context, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(b, &head)
	return c.record(Event{Type: head.Type, JSON: b})
}

// SendBinary implements [protocol.Conn].
func (c *Conn) SendBinary(_ context.Context, p []byte) error {
	return c.record(Event{Type: Binary, Data: append([]byte(nil), p...)})
}

func (c *Conn) record(e Event) error {
	c.mu.Lock()
	closed, sendErr, hook := c.closed, c.SendErr, c.OnSend
	c.mu.Unlock()

	if closed {
		return protocol.ErrClosed
	}
	if sendErr != nil {
		return sendErr
	}
	if hook != nil {
		if err := hook(e); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return protocol.ErrClosed
	}
	c.events = append(c.events, e)
	return nil
}

// Closed implements [protocol.Conn].
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close marks the connection as gone. Later sends return ErrClosed.
func (c *Conn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (c *Conn) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Types returns the Type of every recorded event in order.
func (c *Conn) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, len(c.events))
	for i, e := range c.events {
		types[i] = e.Type
	}
	return types
}

// Decode unmarshals every JSON event of type typ into a new T.
func Decode[T any](c *Conn, typ string) []T {
	var out []T
	for _, e := range c.Events() {
		if e.Type != typ || e.JSON == nil {
			continue
		}
		var v T
		if err := json.Unmarshal(e.JSON, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}
