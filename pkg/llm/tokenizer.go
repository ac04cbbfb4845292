package llm

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts the tokens of a text the way the model bills them.
type Tokenizer interface {
	Count(text string) int
}

// NewTokenizer returns the BPE tokenizer of model, or cl100k_base for a
// model tiktoken does not know. When no encoding can be loaded (the BPE
// ranks are fetched on first use) it falls back to Estimator.
func NewTokenizer(model string) Tokenizer {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		slog.Warn("tokenizer unavailable, estimating token counts", "model", model, "error", err)
		return Estimator{}
	}
	return &bpeTokenizer{enc: enc}
}

type bpeTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (b *bpeTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(b.enc.Encode(text, nil, nil))
}

// Estimator approximates one token per four characters.
type Estimator struct{}

// Count returns ceil(runes/4).
func (Estimator) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
