// Package runtime implements the per-connection session orchestrator.
//
// A session reads inbound frames in order, accumulates conversation context,
// and on each user text runs one generation cycle: submit the context to the
// backend, stream the reply back as classified sentence frames, write the
// terminal frame, record statistics, and reset the context.
//
// Sessions share nothing but the injected dependencies, which must be safe
// for concurrent use.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/justapithecus/llmer/adapter"
	"github.com/justapithecus/llmer/backend"
	"github.com/justapithecus/llmer/conversation"
	"github.com/justapithecus/llmer/iox"
	"github.com/justapithecus/llmer/ipc"
	"github.com/justapithecus/llmer/lode"
	"github.com/justapithecus/llmer/log"
	"github.com/justapithecus/llmer/metrics"
	"github.com/justapithecus/llmer/tokens"
	"github.com/justapithecus/llmer/types"
)

// Config holds per-session timing.
type Config struct {
	// IdleTimeout bounds the wait for each inbound frame. Zero disables it.
	IdleTimeout time.Duration
	// WriteTimeout bounds each outbound frame write. Zero disables it.
	WriteTimeout time.Duration
	// StreamStallTimeout cancels a backend stream that produces no delta for
	// this long. Zero disables it.
	StreamStallTimeout time.Duration
	// Model is recorded with each cycle. Defaults to the backend's model.
	Model string
}

// Deps are the collaborators injected into every session.
// Only Backend is required.
type Deps struct {
	Backend   backend.Client
	Tokens    tokens.Counter
	Recorder  lode.Recorder
	Images    lode.ImageStore
	Publisher adapter.Adapter
	// Collector may be nil; all Collector methods are nil-safe.
	Collector *metrics.Collector
	Logger    *log.Logger
	// Now overrides the clock used for latency accounting.
	Now func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Tokens == nil {
		d.Tokens = tokens.NewCounter(nil, "")
	}
	if d.Recorder == nil {
		d.Recorder = lode.NopRecorder{}
	}
	if d.Publisher == nil {
		d.Publisher = adapter.Nop{}
	}
	if d.Logger == nil {
		d.Logger = log.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Session serves one client connection.
type Session struct {
	id     string
	conn   net.Conn
	cfg    Config
	deps   Deps
	logger *log.Logger

	decoder *ipc.FrameDecoder
	encoder *ipc.FrameEncoder
	conv    *conversation.State

	state    atomic.Int32
	cycles   int
	imageSeq int
}

// NewSession creates a session over conn. Run must be called exactly once.
func NewSession(id string, conn net.Conn, cfg Config, deps Deps) *Session {
	deps = deps.withDefaults()
	if cfg.Model == "" && deps.Backend != nil {
		cfg.Model = deps.Backend.Model()
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Session{
		id:      id,
		conn:    conn,
		cfg:     cfg,
		deps:    deps,
		logger:  deps.Logger.WithSession(id, remote),
		decoder: ipc.NewFrameDecoder(conn),
		encoder: ipc.NewFrameEncoder(&deadlineWriter{conn: conn, timeout: cfg.WriteTimeout}),
		conv:    conversation.New(conversation.WithClock(deps.Now)),
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state. Safe to call from any
// goroutine.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Cycles returns the number of completed generation cycles.
func (s *Session) Cycles() int {
	return s.cycles
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Run serves the connection until the peer disconnects, an error ends the
// session, or ctx is canceled. The connection is always closed on return.
//
// Returns:
//   - nil: peer closed the stream, sent an empty message, or went idle
//   - *SessionError with Kind=SessionErrorProtocol: malformed or truncated frame
//   - *SessionError with Kind=SessionErrorUnknownRole: role digit outside 0..4
//   - *SessionError with Kind=SessionErrorBackend: backend failure (an error
//     frame was sent first)
//   - *SessionError with Kind=SessionErrorTransportWrite: outbound write failed
//   - *SessionError with Kind=SessionErrorCanceled: ctx canceled
func (s *Session) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := iox.CloseOnCancel(ctx, s.conn)
	defer stop()

	s.deps.Collector.IncSessionStarted()
	s.logger.Info("session opened", nil)

	defer func() {
		s.setState(StateClosed)
		_ = s.conn.Close()
		if cerr := s.deps.Recorder.Close(); cerr != nil {
			s.logger.Warn("failed to close recorder", map[string]any{"error": cerr.Error()})
		}

		if err != nil {
			s.deps.Collector.IncSessionFailed()
			kind, _ := sessionErrorKind(err)
			s.logger.Warn("session failed", map[string]any{
				"kind":   kind.String(),
				"error":  err.Error(),
				"cycles": s.cycles,
			})
			return
		}
		s.deps.Collector.IncSessionClosed()
		s.logger.Info("session closed", map[string]any{"cycles": s.cycles})
	}()

	if s.deps.Backend == nil {
		return &SessionError{Kind: SessionErrorBackend, Err: errors.New("no backend configured")}
	}

	for {
		s.setState(StateReceiving)

		frame, err := s.readFrame()
		if err != nil {
			return s.classifyReadError(ctx, err)
		}
		s.deps.Collector.IncFramesReceived()

		if len(frame.Payload) == 0 {
			s.logger.Info("empty message, closing session", map[string]any{"role": frame.Code})
			return nil
		}

		role := types.RoleCode(frame.Code)
		s.logger.Debug("frame received", map[string]any{
			"role":  role.String(),
			"bytes": len(frame.Payload),
		})

		switch {
		case role.TriggersGeneration():
			if err := s.generate(ctx, decodeText(frame.Payload)); err != nil {
				return err
			}
		case role == types.RoleImageUpload:
			s.acceptImage(ctx, frame.Payload)
		case role.IsKnown():
			s.setState(StateAccumulate)
			if err := s.conv.AppendTurn(role, decodeText(frame.Payload)); err != nil {
				return &SessionError{Kind: SessionErrorProtocol, Err: err}
			}
		default:
			s.deps.Collector.IncProtocolErrors()
			return &SessionError{
				Kind: SessionErrorUnknownRole,
				Err:  fmt.Errorf("unknown role digit %d", frame.Code),
			}
		}
	}
}

func (s *Session) readFrame() (*ipc.Frame, error) {
	if s.cfg.IdleTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	}
	return s.decoder.ReadFrame()
}

// classifyReadError maps a read failure to the session result.
func (s *Session) classifyReadError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &SessionError{Kind: SessionErrorCanceled, Err: ctx.Err()}
	}
	if errors.Is(err, io.EOF) {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.logger.Info("idle timeout, closing session", map[string]any{
			"idle_timeout": s.cfg.IdleTimeout.String(),
		})
		return nil
	}

	s.deps.Collector.IncProtocolErrors()
	return &SessionError{Kind: SessionErrorProtocol, Err: err}
}

// acceptImage stores an upload and buffers it for the next user turn.
// A storage failure is logged and the image is still forwarded to the
// backend from memory.
func (s *Session) acceptImage(ctx context.Context, data []byte) {
	s.setState(StateAccumulate)
	s.imageSeq++
	s.deps.Collector.IncImagesReceived()

	img := types.Image{ContentType: lode.SniffImageType(data), Data: data}
	if s.deps.Images != nil {
		stored, err := s.deps.Images.PutImage(ctx, s.id, s.imageSeq, data)
		if err != nil {
			s.logger.Warn("failed to store image", storageFields(err))
		} else {
			img = stored
		}
	}

	if s.conv.HasPendingImage() {
		s.logger.Debug("replacing pending image", nil)
	}
	s.conv.AttachPendingImage(img)
}

// writeFrame writes one outbound frame and counts it.
func (s *Session) writeFrame(code uint8, payload string) error {
	if err := s.encoder.WriteFrame(code, []byte(payload)); err != nil {
		s.deps.Collector.IncWriteErrors()
		return &SessionError{Kind: SessionErrorTransportWrite, Err: err}
	}
	s.deps.Collector.IncFramesSent()
	return nil
}

// decodeText interprets a payload as UTF-8, replacing invalid sequences.
func decodeText(payload []byte) string {
	return strings.ToValidUTF8(string(payload), "�")
}

func storageFields(err error) map[string]any {
	fields := map[string]any{"error": err.Error()}
	var se *lode.StorageError
	if errors.As(err, &se) {
		fields["storage_kind"] = se.Kind.Error()
		fields["storage_op"] = se.Op
	}
	return fields
}

// deadlineWriter arms the connection's write deadline before each write.
type deadlineWriter struct {
	conn    net.Conn
	timeout time.Duration
}

func (w *deadlineWriter) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	}
	return w.conn.Write(p)
}
