package mdtree

import (
	"strings"
	"sync"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the cl100k_base encoding. Loading the
// encoding needs a network fetch on first use, so offline environments fall
// back to a character-ratio estimate calibrated for mixed CJK/Latin text.
type TokenCounter struct {
	once     sync.Once
	encoding *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (t *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			t.encoding = enc
		}
	})
	if t.encoding != nil {
		return len(t.encoding.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// estimateTokens approximates cl100k_base: CJK characters run roughly 0.7
// tokens each, other non-space characters roughly 0.3.
func estimateTokens(text string) int {
	var cjk, other int
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			cjk++
		default:
			other++
		}
	}
	n := int(float64(cjk)*0.7 + float64(other)*0.3)
	if n == 0 && strings.TrimSpace(text) != "" {
		return 1
	}
	return n
}
