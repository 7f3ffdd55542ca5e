package segment

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/llmer/types"
)

// record is the (type, text) pair the wire sees.
type record struct {
	Type types.OutgoingType
	Text string
}

func collect(t *testing.T, deltas []string) []record {
	t.Helper()

	var out []record
	emit := func(s Sentence) error {
		out = append(out, record{Type: s.Type, Text: s.Text})
		return nil
	}

	seg := New()
	for _, d := range deltas {
		require.NoError(t, seg.Push(d, emit))
	}
	require.NoError(t, seg.Finish(emit))
	return out
}

func terminal() record {
	return record{Type: types.OutgoingTerminal}
}

func TestSegmenter_SingleSentence(t *testing.T) {
	got := collect(t, []string{"Hello there."})

	assert.Equal(t, []record{
		{types.OutgoingText, "Hello there."},
		terminal(),
	}, got)
}

func TestSegmenter_MultipleSentencesInOneDelta(t *testing.T) {
	got := collect(t, []string{"Hello. How are you? Fine!\nNext; done."})

	assert.Equal(t, []record{
		{types.OutgoingText, "Hello."},
		{types.OutgoingText, "How are you?"},
		{types.OutgoingText, "Fine!"},
		{types.OutgoingText, "Next;"},
		{types.OutgoingText, "done."},
		terminal(),
	}, got)
}

func TestSegmenter_FlushOnFinish(t *testing.T) {
	got := collect(t, []string{"Hi. ", "Goodbye"})

	assert.Equal(t, []record{
		{types.OutgoingText, "Hi."},
		{types.OutgoingText, "Goodbye"},
		terminal(),
	}, got)
}

func TestSegmenter_TerminalOnly(t *testing.T) {
	assert.Equal(t, []record{terminal()}, collect(t, nil))
	assert.Equal(t, []record{terminal()}, collect(t, []string{"", "   "}))
}

func TestSegmenter_DecimalGuard(t *testing.T) {
	seg := New()
	var out []record
	emit := func(s Sentence) error {
		out = append(out, record{s.Type, s.Text})
		return nil
	}

	require.NoError(t, seg.Push("It costs $1", emit))
	require.NoError(t, seg.Push(".", emit))
	assert.Empty(t, out, "must not split after the digit")
	assert.Equal(t, StateSuppressed, seg.State())
	assert.Equal(t, SuppressDecimal, seg.Reason())
	assert.Equal(t, "It costs $1.", seg.Buffered())

	require.NoError(t, seg.Push("0 each.", emit))
	assert.Equal(t, []record{{types.OutgoingText, "It costs $1.0 each."}}, out)
	assert.Equal(t, StateAccumulating, seg.State())
}

func TestSegmenter_DecimalGuardHoldsAtCompletion(t *testing.T) {
	tests := []struct {
		name   string
		deltas []string
		want   string
	}{
		{"digit before final period", []string{"It costs $", "1", ".", "0", "."}, "It costs $1.0."},
		{"trailing number without boundary", []string{"The answer is 42"}, "The answer is 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seg := New()
			var out []record
			emit := func(s Sentence) error {
				out = append(out, record{s.Type, s.Text})
				return nil
			}
			for _, d := range tt.deltas {
				require.NoError(t, seg.Push(d, emit))
			}
			require.NoError(t, seg.Finish(emit))

			assert.Equal(t, []record{terminal()}, out)
			dropped, reason := seg.Dropped()
			assert.Equal(t, tt.want, dropped)
			assert.Equal(t, SuppressDecimal, reason)
		})
	}
}

func TestSegmenter_DecimalResolvedBeforeCompletion(t *testing.T) {
	got := collect(t, []string{"It costs $1.5 today."})

	assert.Equal(t, []record{
		{types.OutgoingText, "It costs $1.5 today."},
		terminal(),
	}, got)
}

func TestSegmenter_BracketBalance(t *testing.T) {
	seg := New()
	var out []record
	emit := func(s Sentence) error {
		out = append(out, record{s.Type, s.Text})
		return nil
	}

	require.NoError(t, seg.Push(`{"prefab": "chair.`, emit))
	assert.Empty(t, out)
	assert.Equal(t, StateSuppressed, seg.State())
	assert.Equal(t, SuppressUnbalanced, seg.Reason())

	require.NoError(t, seg.Push(`glb", "color": "red"`, emit))
	assert.Empty(t, out)
	assert.Equal(t, StateAccumulating, seg.State())

	require.NoError(t, seg.Push("}\n", emit))
	assert.Equal(t, []record{
		{types.OutgoingStructuredObject, `{"prefab": "chair.glb", "color": "red"}`},
	}, out)
}

func TestSegmenter_UnbalancedWithoutBoundaryWaitsForClose(t *testing.T) {
	got := collect(t, []string{`{"prefab": "chair"`, `}`})

	assert.Equal(t, []record{
		{types.OutgoingStructuredObject, `{"prefab": "chair"}`},
		terminal(),
	}, got)
}

func TestSegmenter_SuppressedBufferNotReset(t *testing.T) {
	seg := New()
	var out []record
	emit := func(s Sentence) error {
		out = append(out, record{s.Type, s.Text})
		return nil
	}

	require.NoError(t, seg.Push("```json\n", emit))
	assert.Empty(t, out)
	assert.Equal(t, StateSuppressed, seg.State())
	assert.Equal(t, SuppressJSONArtifact, seg.Reason())
	assert.Equal(t, "```json\n", seg.Buffered())

	require.NoError(t, seg.Push("{", emit))
	assert.Equal(t, StateAccumulating, seg.State(), "next rune leaves the suppressed state")
	assert.Equal(t, SuppressNone, seg.Reason())
	assert.Equal(t, "```json\n{", seg.Buffered())

	require.NoError(t, seg.Push(`"action": "wave"}`+"\n", emit))
	assert.Equal(t, []record{
		{types.OutgoingAction, "```json\n{\"action\": \"wave\"}"},
	}, out)
	assert.Empty(t, seg.Buffered())
}

func TestSegmenter_NoLettersWithheld(t *testing.T) {
	seg := New()
	var out []record
	emit := func(s Sentence) error {
		out = append(out, record{s.Type, s.Text})
		return nil
	}

	require.NoError(t, seg.Push("...\n", emit))
	assert.Empty(t, out)
	assert.Equal(t, SuppressNoLetters, seg.Reason())

	require.NoError(t, seg.Push("Ok.", emit))
	assert.Equal(t, []record{{types.OutgoingText, "...\nOk."}}, out)
}

func TestSegmenter_DropsSuppressedAtFinish(t *testing.T) {
	seg := New()
	var out []record
	emit := func(s Sentence) error {
		out = append(out, record{s.Type, s.Text})
		return nil
	}

	require.NoError(t, seg.Push("Look (here.", emit))
	require.NoError(t, seg.Finish(emit))

	assert.Equal(t, []record{terminal()}, out)
	dropped, reason := seg.Dropped()
	assert.Equal(t, "Look (here.", dropped)
	assert.Equal(t, SuppressUnbalanced, reason)
	assert.Empty(t, seg.Buffered())
}

func TestSegmenter_TerminalIsLast(t *testing.T) {
	got := collect(t, []string{`{"commandType": "move", "to": "door"}` + "\n", "Walking now"})

	require.Len(t, got, 3)
	assert.Equal(t, types.OutgoingCommand, got[0].Type)
	assert.Equal(t, record{types.OutgoingText, "Walking now"}, got[1])
	assert.Equal(t, terminal(), got[2])
}

func TestSegmenter_CommandExtraction(t *testing.T) {
	var sentences []Sentence
	emit := func(s Sentence) error {
		sentences = append(sentences, s)
		return nil
	}

	seg := New()
	require.NoError(t, seg.Push("commandType: move, target: npc.", emit))
	require.NoError(t, seg.Push("commandType.", emit))
	require.NoError(t, seg.Finish(emit))

	require.Len(t, sentences, 3)
	assert.Equal(t, types.OutgoingCommand, sentences[0].Type)
	assert.Equal(t, "move", sentences[0].Command)
	require.NoError(t, sentences[0].CommandErr)

	assert.Equal(t, types.OutgoingCommand, sentences[1].Type)
	assert.Empty(t, sentences[1].Command)
	assert.ErrorIs(t, sentences[1].CommandErr, ErrNoCommandName)
}

func TestSegmenter_EmitErrorAborts(t *testing.T) {
	boom := errors.New("broken pipe")
	calls := 0
	emit := func(Sentence) error {
		calls++
		return boom
	}

	seg := New()
	err := seg.Push("One. Two. Three.", emit)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)

	err = New().Finish(emit)
	assert.ErrorIs(t, err, boom)
}

var invarianceCorpus = []string{
	"Hello there. How are you today? I am fine!",
	"It costs $1.0 each. Version 2.5.1 is out; upgrade now.\n",
	"```json\n{\"prefab\": \"chair.glb\", \"color\": \"red\"}\n```\nDone.",
	"commandType: move, target: npc1. {\"action\": \"wave\"}; ok",
	"Look (at this. And that). {\"x\": {\"y\": \"z\"}}. Trailing",
	"Ça coûte 3 €. Très bien! 日本語の文。終わり.",
	"...\n!!\n? Finally text",
	"It costs $1.0.",
	"Unclosed (paren. Never closes",
}

// splits returns several chunkings of text: whole, per rune, every two-way
// split, and seeded random splits.
func splits(text string, rng *rand.Rand) [][]string {
	runes := []rune(text)
	out := [][]string{{text}}

	perRune := make([]string, len(runes))
	for i, r := range runes {
		perRune[i] = string(r)
	}
	out = append(out, perRune)

	for i := 1; i < len(runes); i++ {
		out = append(out, []string{string(runes[:i]), string(runes[i:])})
	}

	for range 20 {
		var chunks []string
		rest := runes
		for len(rest) > 0 {
			n := 1 + rng.IntN(min(len(rest), 8))
			chunks = append(chunks, string(rest[:n]))
			rest = rest[n:]
		}
		out = append(out, chunks)
	}
	return out
}

func TestSegmenter_ChunkingInvariance(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))

	for _, text := range invarianceCorpus {
		t.Run(text, func(t *testing.T) {
			want := collect(t, []string{text})
			require.NotEmpty(t, want)
			assert.Equal(t, terminal(), want[len(want)-1])

			for _, deltas := range splits(text, rng) {
				got := collect(t, deltas)
				require.Equal(t, want, got, "deltas %q", deltas)
			}
		})
	}
}
