// Package avatar defines the Renderer interface for talking-head video
// backends. A renderer animates a portrait image with a speech audio file and
// produces one video per reply. Rendering is slow (tens of seconds to
// minutes), so callers run it off the reply path and treat every failure as
// non-fatal.
package avatar

import (
	"context"
	"errors"
)

// ErrNoVideo is returned when the renderer finished without producing a video.
var ErrNoVideo = errors.New("avatar: no video produced")

// Request describes one render job.
type Request struct {
	// Portrait is the path of the source image.
	Portrait string

	// Audio is the path of the driving speech audio (WAV).
	Audio string

	// Name is the base name, without extension, of the resulting video file.
	Name string
}

// Renderer is the abstraction over a talking-head video backend.
type Renderer interface {
	// Render produces a video for req and returns its path. Implementations
	// must stop promptly when ctx is done.
	Render(ctx context.Context, req Request) (string, error)
}
