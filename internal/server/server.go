// Package server exposes the voice pipeline over HTTP: the streaming
// websocket endpoint, health probes, Prometheus metrics and the media
// directory that rendered videos are served from.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxdesk/internal/health"
	"github.com/MrWong99/voxdesk/internal/observe"
)

// Defaults for [Config].
const (
	DefaultWSPath          = "/ws/stream"
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMediaPrefix     = "/media/"
)

// SessionHandler serves one accepted streaming connection. ServeSession
// returns when the connection is finished; ctx is cancelled on server
// shutdown.
type SessionHandler interface {
	ServeSession(ctx context.Context, conn *Conn) error
}

// SessionHandlerFunc adapts a function to [SessionHandler].
type SessionHandlerFunc func(ctx context.Context, conn *Conn) error

// ServeSession implements [SessionHandler].
func (f SessionHandlerFunc) ServeSession(ctx context.Context, conn *Conn) error { return f(ctx, conn) }

// Config configures a [Server].
type Config struct {
	// ListenAddr is the TCP address to listen on.
	ListenAddr string

	// WSPath is the websocket endpoint.
	WSPath string

	// AllowedOrigins are host patterns accepted for cross-origin upgrades.
	AllowedOrigins []string

	// ReadLimit caps one inbound message. Zero keeps the library default.
	ReadLimit int64

	// MediaDir is served below /media/ when non-empty.
	MediaDir string

	// ShutdownTimeout bounds [Server.Run]'s graceful shutdown.
	ShutdownTimeout time.Duration

	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

// Server owns the HTTP listener and every websocket session it accepted.
type Server struct {
	cfg      Config
	sessions SessionHandler
	health   *health.Handler
	metrics  *observe.Metrics
	http     *http.Server

	// base is the parent context of all sessions; cancelled on shutdown.
	base       context.Context
	cancelBase context.CancelFunc

	routes []route

	wg     sync.WaitGroup
	active atomic.Int64
}

type route struct {
	pattern string
	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithHealth serves h on /healthz and /readyz. Without it both probes answer
// with no checks registered.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics records HTTP request durations to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRoute serves h on pattern (a [http.ServeMux] pattern such as
// "POST /api/dialogue") next to the built-in routes.
func WithRoute(pattern string, h http.Handler) Option {
	return func(s *Server) { s.routes = append(s.routes, route{pattern: pattern, handler: h}) }
}

// New creates a Server that hands every accepted connection to sessions.
func New(cfg Config, sessions SessionHandler, opts ...Option) *Server {
	if cfg.WSPath == "" {
		cfg.WSPath = DefaultWSPath
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	s := &Server{cfg: cfg, sessions: sessions}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.base, s.cancelBase = context.WithCancel(context.Background())
	s.http = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.cfg.WSPath, s.serveWS)
	s.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	for _, rt := range s.routes {
		mux.Handle(rt.pattern, rt.handler)
	}
	if s.cfg.MediaDir != "" {
		mux.Handle("GET "+DefaultMediaPrefix, http.StripPrefix(strings.TrimSuffix(DefaultMediaPrefix, "/"), http.FileServer(http.Dir(s.cfg.MediaDir))))
	}
	return observe.Middleware(s.metrics)(mux)
}

// Active returns the number of open websocket sessions.
func (s *Server) Active() int { return int(s.active.Load()) }

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down: readiness starts failing, the listener closes, open
// sessions are cancelled and awaited up to the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %q: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is [Server.Run] on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("server: listening", "addr", ln.Addr().String(), "ws_path", s.cfg.WSPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if s.cfg.CertFile != "" && s.cfg.KeyFile != "" {
			err = s.http.ServeTLS(ln, s.cfg.CertFile, s.cfg.KeyFile)
		} else {
			err = s.http.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})
	return g.Wait()
}

func (s *Server) shutdown() error {
	s.health.SetDraining(true)
	slog.Info("server: shutting down", "active_sessions", s.Active())

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown does not track hijacked websocket connections.
	err := s.http.Shutdown(ctx)
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("server: sessions still running after shutdown timeout", "active_sessions", s.Active())
		err = errors.Join(err, ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.base.Err() != nil {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		// Accept already wrote the HTTP error response.
		slog.Warn("server: websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	if s.cfg.ReadLimit > 0 {
		ws.SetReadLimit(s.cfg.ReadLimit)
	}

	s.wg.Add(1)
	defer s.wg.Done()
	s.active.Add(1)
	defer s.active.Add(-1)

	// Keep the request's trace values but live as long as the server, not
	// the hijacked request.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	conn := NewConn(ws)
	err = s.sessions.ServeSession(ctx, conn)
	if err != nil && ctx.Err() == nil {
		observe.Logger(ctx).Warn("server: session ended with error", "remote", r.RemoteAddr, "err", err)
	}
	code, reason := closeStatus(ctx, err)
	_ = conn.Close(code, reason)
}
