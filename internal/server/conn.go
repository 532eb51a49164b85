package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxdesk/internal/protocol"
	"github.com/MrWong99/voxdesk/internal/session"
)

// TypeEndOfStream is the client text message announcing that no more audio
// follows. Buffered audio is still processed and answered.
const TypeEndOfStream = "end_of_stream"

var (
	_ protocol.Conn  = (*Conn)(nil)
	_ session.Source = (*Conn)(nil)
)

// Conn adapts a websocket connection to [protocol.Conn] for output and
// [session.Source] for input. Binary messages carry audio chunks; text
// messages are control messages.
//
// Sends are safe for concurrent use. Receive must only be called from one
// goroutine.
type Conn struct {
	ws     *websocket.Conn
	closed atomic.Bool
	ended  bool
}

// NewConn wraps ws.
func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// SendJSON implements [protocol.Conn].
func (c *Conn) SendJSON(ctx context.Context, v any) error {
	if c.closed.Load() {
		return protocol.ErrClosed
	}
	if err := wsjson.Write(ctx, c.ws, v); err != nil {
		return c.fail("send json", err)
	}
	return nil
}

// SendBinary implements [protocol.Conn].
func (c *Conn) SendBinary(ctx context.Context, p []byte) error {
	if c.closed.Load() {
		return protocol.ErrClosed
	}
	if err := c.ws.Write(ctx, websocket.MessageBinary, p); err != nil {
		return c.fail("send binary", err)
	}
	return nil
}

// Closed implements [protocol.Conn].
func (c *Conn) Closed() bool { return c.closed.Load() }

// Receive implements [session.Source]. It returns the next binary message,
// [io.EOF] once the client sent an end_of_stream message, and an error
// wrapping [protocol.ErrClosed] when the connection is gone.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.ended {
		return nil, io.EOF
	}
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.closed.Store(true)
				return nil, ctx.Err()
			}
			return nil, c.fail("receive", err)
		}
		if typ == websocket.MessageBinary {
			return data, nil
		}
		if isEndOfStream(data) {
			c.ended = true
			return nil, io.EOF
		}
		slog.Debug("server: ignoring text message", "len", len(data))
	}
}

// Close closes the websocket with code and reason.
func (c *Conn) Close(code websocket.StatusCode, reason string) error {
	c.closed.Store(true)
	return c.ws.Close(code, reason)
}

// fail marks the connection gone. Every transport error is terminal: the
// websocket library closes the connection on write errors and on expired
// contexts.
func (c *Conn) fail(op string, err error) error {
	c.closed.Store(true)
	return fmt.Errorf("server: %s: %w: %w", op, protocol.ErrClosed, err)
}

func isEndOfStream(data []byte) bool {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	return msg.Type == TypeEndOfStream
}

// closeStatus picks the websocket close code for a finished session.
func closeStatus(ctx context.Context, err error) (websocket.StatusCode, string) {
	switch {
	case ctx.Err() != nil:
		return websocket.StatusGoingAway, "server shutting down"
	case err != nil && !errors.Is(err, protocol.ErrClosed):
		return websocket.StatusInternalError, "internal error"
	}
	return websocket.StatusNormalClosure, ""
}
