// Package server implements the TCP listener that hands each accepted
// connection to its own session.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/justapithecus/llmer/adapter"
	"github.com/justapithecus/llmer/backend"
	"github.com/justapithecus/llmer/iox"
	"github.com/justapithecus/llmer/lode"
	"github.com/justapithecus/llmer/log"
	"github.com/justapithecus/llmer/metrics"
	"github.com/justapithecus/llmer/runtime"
	"github.com/justapithecus/llmer/tokens"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8085"

// DefaultMaxConnections bounds concurrent sessions when unset.
const DefaultMaxConnections = 64

// acceptBackoff is the pause after a transient accept failure.
const acceptBackoff = 50 * time.Millisecond

// Config configures the listener.
type Config struct {
	// Addr is the TCP listen address (default :8085).
	Addr string
	// MaxConnections bounds concurrently served sessions.
	MaxConnections int64
	// RejectWhenFull closes connections beyond MaxConnections immediately
	// instead of leaving them in the accept backlog.
	RejectWhenFull bool
	// Session is applied to every session.
	Session runtime.Config
}

// Deps are shared by all sessions. Every dependency must be safe for
// concurrent use.
type Deps struct {
	Backend   backend.Client
	Tokens    tokens.Counter
	Recorders lode.RecorderFactory
	Images    lode.ImageStore
	Publisher adapter.Adapter
	Collector *metrics.Collector
	Logger    *log.Logger
}

// Server accepts connections and runs one session per connection.
type Server struct {
	cfg  Config
	deps Deps
	sem  *semaphore.Weighted

	mu sync.Mutex
	ln net.Listener
}

// New creates a server. Call ListenAndServe or Serve to start it.
func New(cfg Config, deps Deps) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if deps.Recorders == nil {
		deps.Recorders = lode.NopRecorderFactory{}
	}
	if deps.Logger == nil {
		deps.Logger = log.Nop()
	}
	return &Server{
		cfg:  cfg,
		deps: deps,
		sem:  semaphore.NewWeighted(cfg.MaxConnections),
	}
}

// Addr returns the listener address, or nil before Serve starts.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ListenAndServe listens on the configured address and serves until ctx is
// canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled or the listener
// fails. On return the listener is closed and every session has ended.
// Returns nil when stopped by ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	stop := iox.CloseOnCancel(ctx, ln)
	defer stop()
	defer iox.DiscardClose(ln)

	s.deps.Logger.Info("listening", map[string]any{
		"addr":            ln.Addr().String(),
		"max_connections": s.cfg.MaxConnections,
	})

	var sessions errgroup.Group
	serveErr := s.acceptLoop(ctx, ln, &sessions)

	// Sessions observe ctx; wait for all of them before returning.
	_ = sessions.Wait()

	if ctx.Err() != nil {
		s.deps.Logger.Info("listener stopped", nil)
		return nil
	}
	return serveErr
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, sessions *errgroup.Group) error {
	for {
		if !s.cfg.RejectWhenFull {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if !s.cfg.RejectWhenFull {
				s.sem.Release(1)
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.deps.Logger.Warn("accept failed, retrying", map[string]any{"error": err.Error()})
				time.Sleep(acceptBackoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}

		if s.cfg.RejectWhenFull && !s.sem.TryAcquire(1) {
			s.deps.Collector.IncConnectionRejected()
			s.deps.Logger.Warn("connection limit reached, rejecting", map[string]any{
				"remote_addr": conn.RemoteAddr().String(),
			})
			iox.DiscardClose(conn)
			continue
		}

		sessions.Go(func() error {
			defer s.sem.Release(1)
			s.serveConn(ctx, conn)
			return nil
		})
	}
}

// serveConn runs one session. Its error is logged by the session and never
// stops the listener.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	id := uuid.NewString()
	recorder, err := s.deps.Recorders.ForSession(id, time.Now())
	if err != nil {
		s.deps.Logger.Warn("stats recorder unavailable for session", map[string]any{
			"session_id": id,
			"error":      err.Error(),
		})
		recorder = lode.NopRecorder{}
	}

	sess := runtime.NewSession(id, conn, s.cfg.Session, runtime.Deps{
		Backend:   s.deps.Backend,
		Tokens:    s.deps.Tokens,
		Recorder:  recorder,
		Images:    s.deps.Images,
		Publisher: s.deps.Publisher,
		Collector: s.deps.Collector,
		Logger:    s.deps.Logger,
	})
	_ = sess.Run(ctx)
}
