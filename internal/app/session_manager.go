package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/voxdesk/internal/engine/cascade"
	"github.com/MrWong99/voxdesk/internal/observe"
	"github.com/MrWong99/voxdesk/internal/protocol"
	"github.com/MrWong99/voxdesk/internal/server"
	"github.com/MrWong99/voxdesk/internal/session"
	"github.com/MrWong99/voxdesk/pkg/audio/decode"
	"github.com/MrWong99/voxdesk/pkg/provider/vad"
)

// StreamConn is both halves of a client connection.
type StreamConn interface {
	protocol.Conn
	session.Source
}

// SessionInfo holds metadata about an active session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// StartedAt is when the connection was accepted.
	StartedAt time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	// Decoder creates one decoder per connection.
	Decoder decode.Factory

	// Classifier is shared by every session.
	Classifier vad.Classifier

	// Runner executes the turns of every session.
	Runner *cascade.Runner

	// Session holds the ingestion parameters.
	Session session.Config

	// Streamer options apply to every connection's output.
	Streamer []protocol.StreamerOption

	Metrics *observe.Metrics
}

// SessionManager creates a [session.Session] for every accepted connection
// and tracks the active ones. All exported methods are safe for concurrent
// use.
type SessionManager struct {
	cfg SessionManagerConfig

	mu     sync.Mutex
	active map[string]SessionInfo
}

var _ server.SessionHandler = (*SessionManager)(nil)

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{cfg: cfg, active: make(map[string]SessionInfo)}
}

// ServeSession implements [server.SessionHandler].
func (sm *SessionManager) ServeSession(ctx context.Context, conn *server.Conn) error {
	return sm.Serve(ctx, conn)
}

// Serve runs one session on conn until the connection ends and every turn
// it started has finished. After an end of stream it also waits for pending
// avatar renders so their video_url is sent before the connection closes; a
// disconnect cancels them.
func (sm *SessionManager) Serve(ctx context.Context, conn StreamConn) error {
	dec, err := sm.cfg.Decoder()
	if err != nil {
		return fmt.Errorf("app: create decoder: %w", err)
	}
	out := protocol.NewStreamer(conn, sm.cfg.Streamer...)

	var opts []session.Option
	if sm.cfg.Metrics != nil {
		opts = append(opts, session.WithMetrics(sm.cfg.Metrics))
	}
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	conv := sm.cfg.Runner.Conversation(connCtx, out)
	s := session.New(dec, sm.cfg.Classifier, out, conv.Handle, sm.cfg.Session, opts...)

	sm.register(SessionInfo{SessionID: s.ID, StartedAt: time.Now().UTC()})
	defer sm.unregister(s.ID)

	err = s.Run(ctx, conn)
	if err != nil || out.Closed() {
		cancel()
	}
	conv.Wait()
	slog.Info("session finished",
		"session_id", s.ID,
		"dropped", s.Dispatcher().Dropped(),
		"active_sessions", sm.Count(),
	)
	return err
}

// Active returns the active sessions ordered by start time.
func (sm *SessionManager) Active() []SessionInfo {
	sm.mu.Lock()
	out := make([]SessionInfo, 0, len(sm.active))
	for _, info := range sm.active {
		out = append(out, info)
	}
	sm.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Count returns the number of active sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.active)
}

func (sm *SessionManager) register(info SessionInfo) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.active[info.SessionID] = info
}

func (sm *SessionManager) unregister(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.active, id)
}
