// Package tokens counts prompt and response tokens for cycle statistics.
package tokens

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/justapithecus/llmer/types"
)

// DefaultModel is the model whose encoding is used for counting.
const DefaultModel = "gpt-3.5-turbo-0613"

// fallbackEncoding is used when the model has no known encoding.
const fallbackEncoding = "cl100k_base"

// replyPriming accounts for every reply being primed with
// <|start|>assistant<|message|>.
const replyPriming = 3

// Counter counts tokens. Implementations are pure and safe for concurrent use.
type Counter interface {
	CountInputTokens(turns []types.Turn) int
	CountOutputTokens(text string) int
}

// Encoder turns text into token ids. *tiktoken.Tiktoken satisfies it.
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// TiktokenCounter counts with a BPE encoder, falling back to a rune-based
// estimate when no encoder could be loaded.
type TiktokenCounter struct {
	enc           Encoder
	approx        bool
	tokensPerTurn int
	tokensPerName int
}

var _ Counter = (*TiktokenCounter)(nil)

// NewTiktokenCounter loads the encoding for model, falling back to
// cl100k_base and then to estimation.
func NewTiktokenCounter(model string) *TiktokenCounter {
	if model == "" {
		model = DefaultModel
	}
	return NewCounter(encodingForModel(model), model)
}

// NewCounter creates a counter over an explicit encoder. A nil encoder
// selects estimation.
func NewCounter(enc Encoder, model string) *TiktokenCounter {
	perTurn, perName := overheadFor(model)
	return &TiktokenCounter{
		enc:           enc,
		approx:        enc == nil,
		tokensPerTurn: perTurn,
		tokensPerName: perName,
	}
}

// Approximate returns true if counts are estimates.
func (c *TiktokenCounter) Approximate() bool {
	return c.approx
}

// CountInputTokens counts the prompt: per turn a fixed overhead plus the
// role, the text and the optional name, then the reply priming.
// Image parts are not counted.
func (c *TiktokenCounter) CountInputTokens(turns []types.Turn) int {
	total := 0
	for _, t := range turns {
		total += c.tokensPerTurn
		total += c.count(string(t.Speaker))
		total += c.count(t.Text)
		if t.Name != "" {
			total += c.count(t.Name) + c.tokensPerName
		}
	}
	return total + replyPriming
}

// CountOutputTokens counts the response text.
func (c *TiktokenCounter) CountOutputTokens(text string) int {
	return c.count(text)
}

func (c *TiktokenCounter) count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}

	// Rough heuristic: 1 token ≈ 4 characters
	runes := utf8.RuneCountInString(text)
	return (runes + 3) / 4
}

// overheadFor returns per-turn and per-name overhead for a model family.
func overheadFor(model string) (perTurn, perName int) {
	if model == "gpt-3.5-turbo-0301" {
		// Name replaces the role.
		return 4, -1
	}
	return 3, 1
}

// Encoder loaders, swapped in tests to avoid fetching BPE ranks.
var (
	loadModelEncoding = func(model string) (Encoder, error) {
		enc, err := tiktoken.EncodingForModel(model)
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
	loadEncoding = func(name string) (Encoder, error) {
		enc, err := tiktoken.GetEncoding(name)
		if err != nil {
			return nil, err
		}
		return enc, nil
	}
)

// encodingForModel returns the model's encoding, or cl100k_base for models
// tiktoken does not know. Both are exact BPE counts; only a nil encoder
// means counts will be estimated.
func encodingForModel(model string) Encoder {
	if enc, err := loadModelEncoding(model); err == nil {
		return enc
	}
	if enc, err := loadEncoding(fallbackEncoding); err == nil {
		return enc
	}
	return nil
}
