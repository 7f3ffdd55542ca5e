package tokens

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/justapithecus/llmer/types"
)

// wordEncoder yields one token per whitespace-separated word.
type wordEncoder struct{}

func (wordEncoder) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func TestCountInputTokens(t *testing.T) {
	c := NewCounter(wordEncoder{}, DefaultModel)

	turns := []types.Turn{
		{Speaker: types.SpeakerSystem, Text: "be brief"},
		{Speaker: types.SpeakerUser, Text: "place a chair", Name: types.NameRealUser},
	}

	// system: 3 + role(1) + text(2) = 6
	// user:   3 + role(1) + text(3) + name(1) + 1 = 9
	// priming 3
	assert.Equal(t, 18, c.CountInputTokens(turns))
}

func TestCountInputTokens_Empty(t *testing.T) {
	c := NewCounter(wordEncoder{}, DefaultModel)
	assert.Equal(t, 3, c.CountInputTokens(nil))
}

func TestCountInputTokens_ImageNotCounted(t *testing.T) {
	c := NewCounter(wordEncoder{}, DefaultModel)

	plain := []types.Turn{{Speaker: types.SpeakerUser, Text: "look here"}}
	withImage := []types.Turn{{Speaker: types.SpeakerUser, Text: "look here", Image: &types.Image{Data: []byte("xxxx")}}}

	assert.Equal(t, c.CountInputTokens(plain), c.CountInputTokens(withImage))
}

func TestCountInputTokens_LegacyOverhead(t *testing.T) {
	c := NewCounter(wordEncoder{}, "gpt-3.5-turbo-0301")

	turns := []types.Turn{{Speaker: types.SpeakerUser, Text: "hi", Name: "ExampleUser"}}

	// 4 + role(1) + text(1) + name(1) - 1 + priming 3
	assert.Equal(t, 9, c.CountInputTokens(turns))
}

func TestCountOutputTokens(t *testing.T) {
	c := NewCounter(wordEncoder{}, DefaultModel)

	assert.Equal(t, 0, c.CountOutputTokens(""))
	assert.Equal(t, 4, c.CountOutputTokens("Hello there. Goodbye now."))
}

func TestEstimationWithoutEncoder(t *testing.T) {
	c := NewCounter(nil, DefaultModel)

	assert.True(t, c.Approximate())
	assert.Equal(t, 1, c.CountOutputTokens("abcd"))
	assert.Equal(t, 2, c.CountOutputTokens("abcde"))
	assert.Equal(t, 1, c.CountOutputTokens("日本"))
}

func stubLoaders(t *testing.T, model, fallback func(string) (Encoder, error)) {
	t.Helper()
	origModel, origFallback := loadModelEncoding, loadEncoding
	loadModelEncoding, loadEncoding = model, fallback
	t.Cleanup(func() {
		loadModelEncoding, loadEncoding = origModel, origFallback
	})
}

func TestNewTiktokenCounter_EncodingSelection(t *testing.T) {
	unknown := func(string) (Encoder, error) { return nil, errors.New("no encoding for model") }
	word := func(string) (Encoder, error) { return wordEncoder{}, nil }

	tests := []struct {
		name       string
		model      func(string) (Encoder, error)
		fallback   func(string) (Encoder, error)
		wantApprox bool
	}{
		{"model encoding", word, unknown, false},
		{"fallback encoding is exact", unknown, word, false},
		{"no encoding estimates", unknown, unknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubLoaders(t, tt.model, tt.fallback)

			c := NewTiktokenCounter("some-future-model")
			assert.Equal(t, tt.wantApprox, c.Approximate())
			if !tt.wantApprox {
				assert.Equal(t, 2, c.CountOutputTokens("hello world"))
			}
		})
	}
}
