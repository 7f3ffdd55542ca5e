package backend

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/llmer/types"
)

// ScriptedReply is one canned reply.
type ScriptedReply struct {
	// Deltas are streamed in order, followed by a completion marker.
	Deltas []string
	// SubmitErr fails Submit itself.
	SubmitErr error
	// StreamErr ends the stream with an error after all deltas.
	StreamErr error
	// OmitDone ends the stream cleanly without a completion marker.
	OmitDone bool
	// Delay is waited before each delta. Cancelling the submit context
	// interrupts the wait.
	Delay time.Duration
}

// ScriptedClient replays canned replies in order, repeating the last one
// once the script is exhausted. It records every submitted conversation.
// Used for tests and offline runs.
type ScriptedClient struct {
	model string

	mu        sync.Mutex
	replies   []ScriptedReply
	next      int
	submitted [][]types.Turn
}

// NewScriptedClient creates a scripted client.
func NewScriptedClient(model string, replies ...ScriptedReply) *ScriptedClient {
	if model == "" {
		model = "scripted"
	}
	return &ScriptedClient{model: model, replies: replies}
}

// Model returns the configured model name.
func (c *ScriptedClient) Model() string {
	return c.model
}

// Submit returns a stream over the next scripted reply.
func (c *ScriptedClient) Submit(ctx context.Context, turns []types.Turn) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.submitted = append(c.submitted, append([]types.Turn(nil), turns...))

	var reply ScriptedReply
	if len(c.replies) > 0 {
		idx := min(c.next, len(c.replies)-1)
		reply = c.replies[idx]
		c.next++
	}

	if reply.SubmitErr != nil {
		return nil, &BackendError{Op: "submit", Kind: BackendErrorTransport, Err: reply.SubmitErr}
	}
	return &scriptedStream{ctx: ctx, reply: reply, pos: -1}, nil
}

// Submitted returns a copy of every conversation submitted so far.
func (c *ScriptedClient) Submitted() [][]types.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]types.Turn, len(c.submitted))
	copy(out, c.submitted)
	return out
}

type scriptedStream struct {
	ctx   context.Context
	reply ScriptedReply
	pos   int
	cur   Delta
	err   error
}

func (s *scriptedStream) Next() bool {
	if s.err != nil {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.err = err
		return false
	}
	if s.reply.Delay > 0 {
		t := time.NewTimer(s.reply.Delay)
		select {
		case <-s.ctx.Done():
			t.Stop()
			s.err = s.ctx.Err()
			return false
		case <-t.C:
		}
	}

	s.pos++
	switch {
	case s.pos < len(s.reply.Deltas):
		s.cur = Delta{Content: s.reply.Deltas[s.pos]}
		return true
	case s.pos == len(s.reply.Deltas):
		if s.reply.StreamErr != nil {
			s.err = &BackendError{Op: "stream", Kind: BackendErrorTransport, Err: s.reply.StreamErr}
			return false
		}
		if s.reply.OmitDone {
			return false
		}
		s.cur = Delta{Done: true, FinishReason: "stop"}
		return true
	default:
		return false
	}
}

func (s *scriptedStream) Current() Delta {
	return s.cur
}

func (s *scriptedStream) Err() error {
	return s.err
}

func (s *scriptedStream) Close() error {
	return nil
}
