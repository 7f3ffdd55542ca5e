// Package segment turns a streamed backend reply into classified sentences.
//
// The Segmenter consumes text deltas of arbitrary size and emits a sentence
// each time the buffered text ends on a boundary rune and passes the
// suppression rules. Output depends only on the concatenated deltas, never
// on how they were chunked: readiness is evaluated after every appended
// boundary rune, not at delta ends.
package segment

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/justapithecus/llmer/types"
)

// State is the segmenter state.
type State int

const (
	// StateAccumulating means the buffer is collecting runes.
	StateAccumulating State = iota
	// StateSuppressed means the last readiness check was withheld by a rule.
	// The buffer is kept and the next rune returns to StateAccumulating.
	StateSuppressed
	// StateReadyToEmit is held while a sentence is handed to the emit callback.
	StateReadyToEmit
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateSuppressed:
		return "suppressed"
	case StateReadyToEmit:
		return "ready_to_emit"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SuppressReason names the rule that withheld a ready buffer.
type SuppressReason int

const (
	// SuppressNone means no rule applied.
	SuppressNone SuppressReason = iota
	// SuppressJSONArtifact means the letters spelled exactly "json".
	SuppressJSONArtifact
	// SuppressNoLetters means the buffer held no letters.
	SuppressNoLetters
	// SuppressDecimal means a digit precedes the boundary rune.
	SuppressDecimal
	// SuppressUnbalanced means more brackets were opened than closed.
	SuppressUnbalanced
)

func (r SuppressReason) String() string {
	switch r {
	case SuppressNone:
		return "none"
	case SuppressJSONArtifact:
		return "json_artifact"
	case SuppressNoLetters:
		return "no_letters"
	case SuppressDecimal:
		return "decimal"
	case SuppressUnbalanced:
		return "unbalanced"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Sentence is one classified emission.
type Sentence struct {
	Type types.OutgoingType
	// Text is the trimmed sentence; empty for the terminal record.
	Text string
	// Command is the extracted command name for command sentences.
	Command string
	// CommandErr is set when a command sentence had no extractable name.
	CommandErr error
}

// EmitFunc receives each sentence as soon as it is ready.
// A returned error aborts the current Push or Finish.
type EmitFunc func(Sentence) error

// Segmenter buffers streamed text and emits sentences.
// One Segmenter serves one generation cycle. Not safe for concurrent use.
type Segmenter struct {
	buf    strings.Builder
	opens  int
	closes int
	state  State
	reason SuppressReason

	dropped       string
	droppedReason SuppressReason
}

// New creates an empty segmenter.
func New() *Segmenter {
	return &Segmenter{}
}

// State returns the current state.
func (s *Segmenter) State() State {
	return s.state
}

// Reason returns the rule that withheld the buffer while suppressed.
func (s *Segmenter) Reason() SuppressReason {
	return s.reason
}

// Buffered returns the text not yet emitted.
func (s *Segmenter) Buffered() string {
	return s.buf.String()
}

// Dropped returns the text discarded at completion because a suppression
// rule still held, and the rule. Empty if nothing was dropped.
func (s *Segmenter) Dropped() (string, SuppressReason) {
	return s.dropped, s.droppedReason
}

// Push appends a delta and emits every sentence that becomes ready.
func (s *Segmenter) Push(delta string, emit EmitFunc) error {
	for _, r := range delta {
		s.buf.WriteRune(r)
		switch r {
		case '(', '{':
			s.opens++
		case ')', '}':
			s.closes++
		}
		if s.state == StateSuppressed {
			s.state = StateAccumulating
			s.reason = SuppressNone
		}
		if !isBoundary(r) {
			continue
		}
		if err := s.evaluate(emit); err != nil {
			return err
		}
	}
	return nil
}

// Finish flushes the remaining buffer and then emits exactly one terminal
// sentence with empty text.
//
// The flush ignores the trailing-rune requirement but applies every
// suppression rule, the decimal guard included. Withheld text is dropped
// and reported by Dropped.
func (s *Segmenter) Finish(emit EmitFunc) error {
	if strings.TrimSpace(s.buf.String()) != "" {
		if err := s.evaluate(emit); err != nil {
			return err
		}
		if s.state == StateSuppressed {
			s.dropped = strings.TrimSpace(s.buf.String())
			s.droppedReason = s.reason
		}
	}
	s.reset()
	s.state = StateAccumulating
	s.reason = SuppressNone
	return emit(Sentence{Type: types.OutgoingTerminal})
}

func (s *Segmenter) evaluate(emit EmitFunc) error {
	text := strings.TrimSpace(s.buf.String())
	if reason := s.suppress(text); reason != SuppressNone {
		s.state = StateSuppressed
		s.reason = reason
		return nil
	}

	s.state = StateReadyToEmit
	sentence := Sentence{Type: Classify(text), Text: text}
	if sentence.Type == types.OutgoingCommand {
		sentence.Command, sentence.CommandErr = ExtractCommand(text)
	}
	s.reset()
	err := emit(sentence)
	s.state = StateAccumulating
	return err
}

func (s *Segmenter) suppress(text string) SuppressReason {
	letters := lettersOf(text)
	if letters == "json" {
		return SuppressJSONArtifact
	}
	if letters == "" {
		return SuppressNoLetters
	}
	if secondToLastIsDigit(text) {
		return SuppressDecimal
	}
	if s.opens > s.closes {
		return SuppressUnbalanced
	}
	return SuppressNone
}

func (s *Segmenter) reset() {
	s.buf.Reset()
	s.opens = 0
	s.closes = 0
}

func isBoundary(r rune) bool {
	switch r {
	case '\n', '.', '!', '?', ';':
		return true
	}
	return false
}

func lettersOf(text string) string {
	var b strings.Builder
	for _, r := range text {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// secondToLastIsDigit inspects exactly one rune; multi-digit or grouped
// numerals are not handled beyond that.
func secondToLastIsDigit(text string) bool {
	runes := []rune(text)
	if len(runes) < 2 {
		return false
	}
	return unicode.IsDigit(runes[len(runes)-2])
}
