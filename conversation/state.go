// Package conversation holds the ordered turn history of one session.
//
// The relay is stateless across generation cycles: the session resets the
// history after every user-triggered cycle, so the client resends system,
// example and assistant context before each new user turn.
package conversation

import (
	"fmt"
	"time"

	"github.com/justapithecus/llmer/types"
)

// State is the conversation state of one session.
// Not safe for concurrent use; owned by the session goroutine.
type State struct {
	turns        []types.Turn
	pendingImage *types.Image
	promptStart  time.Time
	now          func() time.Time
}

// Option configures a State.
type Option func(*State)

// WithClock overrides the time source used for the prompt-start mark.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
	}
}

// New creates an empty conversation state.
func New(opts ...Option) *State {
	s := &State{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendTurn appends a context turn for an accumulate-only role.
// A system prompt also marks the prompt start used for latency accounting.
func (s *State) AppendTurn(role types.RoleCode, text string) error {
	var turn types.Turn
	switch role {
	case types.RoleAssistantEcho:
		turn = types.Turn{Speaker: types.SpeakerAssistant, Text: text}
	case types.RoleSystemPrompt:
		turn = types.Turn{Speaker: types.SpeakerSystem, Text: text}
		s.promptStart = s.now()
	case types.RoleExampleUser:
		turn = types.Turn{Speaker: types.SpeakerUser, Text: text, Name: types.NameExampleUser}
	default:
		return fmt.Errorf("role %s cannot be appended as a context turn", role)
	}
	s.turns = append(s.turns, turn)
	return nil
}

// AttachPendingImage buffers an image for the next user turn.
// A later upload replaces an earlier one within the same cycle.
func (s *State) AttachPendingImage(img types.Image) {
	s.pendingImage = &img
}

// HasPendingImage returns true if an image waits for the next user turn.
func (s *State) HasPendingImage() bool {
	return s.pendingImage != nil
}

// PendingImage returns the buffered image, or nil.
func (s *State) PendingImage() *types.Image {
	return s.pendingImage
}

// AppendUserTurn appends the user turn that triggers generation.
// If an image is pending the turn is multimodal and the image is consumed.
func (s *State) AppendUserTurn(text string) types.Turn {
	turn := types.Turn{
		Speaker: types.SpeakerUser,
		Text:    text,
		Name:    types.NameRealUser,
	}
	if s.pendingImage != nil {
		turn.Image = s.pendingImage
		s.pendingImage = nil
	}
	s.turns = append(s.turns, turn)
	return turn
}

// ConsumeGenerationContext returns a copy of the ordered turn sequence.
// It clears nothing; the session calls Reset once the cycle completes.
func (s *State) ConsumeGenerationContext() []types.Turn {
	out := make([]types.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// PromptStart returns when the last system prompt of this cycle arrived,
// or the zero time if none did.
func (s *State) PromptStart() time.Time {
	return s.promptStart
}

// Len returns the number of turns.
func (s *State) Len() int {
	return len(s.turns)
}

// Reset empties the history and clears the pending image and prompt mark.
func (s *State) Reset() {
	s.turns = nil
	s.pendingImage = nil
	s.promptStart = time.Time{}
}
