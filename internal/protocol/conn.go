package protocol

import (
	"context"
	"errors"
)

// ErrClosed is returned by a [Conn] send after the client has gone away.
// Callers treat it as "discard output", not as a failure.
var ErrClosed = errors.New("protocol: connection closed")

// Conn is the outbound half of a client connection.
//
// Implementations must be safe for concurrent use, report [ErrClosed] (or an
// error wrapping it) once the connection is gone, and never block past ctx.
type Conn interface {
	// SendJSON writes v as one JSON text message.
	SendJSON(ctx context.Context, v any) error

	// SendBinary writes p as one binary message.
	SendBinary(ctx context.Context, p []byte) error

	// Closed reports whether the connection is known to be gone.
	Closed() bool
}
