package runtime

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/llmer/adapter"
	"github.com/justapithecus/llmer/backend"
	"github.com/justapithecus/llmer/segment"
	"github.com/justapithecus/llmer/types"
)

// errStreamStalled is the cancel cause set by the stall watchdog.
var errStreamStalled = errors.New("backend stream stalled")

// cycle holds the per-generation accumulators.
type cycle struct {
	start    time.Time
	turns    []types.Turn
	commands []string
	response strings.Builder
}

// generate runs one generation cycle for a user text.
func (s *Session) generate(ctx context.Context, text string) error {
	s.setState(StateGenerate)

	c := &cycle{start: s.deps.Now()}
	s.conv.AppendUserTurn(text)
	c.turns = s.conv.ConsumeGenerationContext()

	streamCtx, cancelStream := context.WithCancelCause(ctx)
	defer cancelStream(nil)

	stream, err := s.deps.Backend.Submit(streamCtx, c.turns)
	if err != nil {
		return s.failBackend(ctx, err)
	}
	defer func() { _ = stream.Close() }()

	wd := startWatchdog(s.cfg.StreamStallTimeout, func() { cancelStream(errStreamStalled) })
	defer wd.stop()

	seg := segment.New()
	emit := func(sn segment.Sentence) error {
		if err := s.writeFrame(sn.Type.Code(), sn.Text); err != nil {
			return err
		}
		s.deps.Collector.IncSentence(sn.Type.Code())
		if sn.Type == types.OutgoingTerminal {
			// The end-of-response marker is not part of the command log.
			if sn.Text == "" {
				return nil
			}
			if segment.IsUnrecognized(sn.Text) {
				s.logger.Warn("unrecognized structured object", map[string]any{"sentence": sn.Text})
			}
		}
		if sn.Type == types.OutgoingCommand {
			if sn.CommandErr != nil {
				s.deps.Collector.IncCommandParseErrors()
				s.logger.Warn("command sentence without a name", map[string]any{
					"sentence": sn.Text,
					"error":    sn.CommandErr.Error(),
				})
			} else {
				c.commands = append(c.commands, sn.Command)
			}
		}
		c.commands = append(c.commands, strconv.Itoa(int(sn.Type.Code())))
		return nil
	}

	done := false
	for !done && stream.Next() {
		wd.kick()
		if err := ctx.Err(); err != nil {
			return &SessionError{Kind: SessionErrorCanceled, Err: err}
		}

		d := stream.Current()
		if d.Content != "" {
			c.response.WriteString(d.Content)
			if err := seg.Push(d.Content, emit); err != nil {
				return err
			}
		}
		done = d.Done
	}

	if !done {
		if err := ctx.Err(); err != nil {
			return &SessionError{Kind: SessionErrorCanceled, Err: err}
		}
		if cause := context.Cause(streamCtx); errors.Is(cause, errStreamStalled) {
			return s.failBackend(ctx, &backend.BackendError{
				Op:   "stream",
				Kind: backend.BackendErrorTransport,
				Err:  cause,
			})
		}
		if err := stream.Err(); err != nil {
			return s.failBackend(ctx, err)
		}
		s.logger.Debug("stream ended without completion marker", nil)
	}

	if err := seg.Finish(emit); err != nil {
		return err
	}
	if dropped, reason := seg.Dropped(); dropped != "" {
		s.logger.Debug("withheld text dropped at completion", map[string]any{
			"text":   dropped,
			"reason": reason.String(),
		})
	}

	s.completeCycle(ctx, c)
	return nil
}

// completeCycle records statistics, publishes the cycle event and resets the
// conversation. Recording and publishing failures are logged only.
func (s *Session) completeCycle(ctx context.Context, c *cycle) {
	end := s.deps.Now()
	promptStart := s.conv.PromptStart()
	if promptStart.IsZero() {
		promptStart = c.start
	}

	s.cycles++
	response := c.response.String()
	in := s.deps.Tokens.CountInputTokens(c.turns)
	out := s.deps.Tokens.CountOutputTokens(response)

	rec := &types.CycleRecord{
		SessionID:      s.id,
		Cycle:          s.cycles,
		Model:          s.cfg.Model,
		TotalTokens:    in + out,
		InputTokens:    in,
		OutputTokens:   out,
		LatencySeconds: roundMillis(end.Sub(promptStart)),
		Commands:       c.commands,
		CompletedAt:    end,
		Turns:          c.turns,
		Response:       response,
	}

	if err := s.deps.Recorder.RecordCycle(ctx, rec); err != nil {
		s.logger.Warn("failed to record cycle", storageFields(err))
	}
	if err := s.deps.Publisher.Publish(ctx, adapter.NewCycleCompletedEvent(rec)); err != nil {
		s.logger.Warn("failed to publish cycle event", map[string]any{"error": err.Error()})
	}

	s.deps.Collector.IncCyclesCompleted()
	s.logger.Info("cycle completed", map[string]any{
		"cycle":         rec.Cycle,
		"input_tokens":  in,
		"output_tokens": out,
		"latency_s":     rec.LatencySeconds,
		"commands":      strings.Join(rec.Commands, " "),
	})

	s.conv.Reset()
}

// failBackend sends the error frame and returns the backend session error.
func (s *Session) failBackend(ctx context.Context, err error) error {
	s.deps.Collector.IncBackendErrors()

	fields := map[string]any{"error": err.Error()}
	var be *backend.BackendError
	if errors.As(err, &be) {
		fields["backend_kind"] = be.Kind.String()
		if be.StatusCode != 0 {
			fields["status"] = be.StatusCode
		}
	}
	s.logger.Error("backend failure", fields)

	if ctx.Err() == nil {
		if werr := s.writeFrame(types.OutgoingError.Code(), err.Error()); werr != nil {
			s.logger.Warn("failed to send error frame", map[string]any{"error": werr.Error()})
		}
	}
	return &SessionError{Kind: SessionErrorBackend, Err: err}
}

// roundMillis converts d to seconds rounded to three decimals.
func roundMillis(d time.Duration) float64 {
	return math.Round(d.Seconds()*1000) / 1000
}

// watchdog fires once if it is not kicked within its timeout.
type watchdog struct {
	timeout time.Duration
	timer   *time.Timer
}

func startWatchdog(timeout time.Duration, fire func()) *watchdog {
	w := &watchdog{timeout: timeout}
	if timeout > 0 {
		w.timer = time.AfterFunc(timeout, fire)
	}
	return w
}

func (w *watchdog) kick() {
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
