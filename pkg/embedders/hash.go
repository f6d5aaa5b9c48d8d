package embedders

import (
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is the local sparse provider: tokens hash into a fixed number
// of buckets and weights are L2-normalized term frequencies. It needs no
// vocabulary, so any two deployments score the same text identically.
type HashEmbedder struct {
	dimension int
}

func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 30000
	}
	return &HashEmbedder{dimension: dimension}
}

func (h *HashEmbedder) Embed(text string) map[uint32]float32 {
	counts := make(map[uint32]float32)
	for _, tok := range tokenize(text) {
		hasher := fnv.New32a()
		hasher.Write([]byte(tok))
		counts[hasher.Sum32()%uint32(h.dimension)]++
	}
	if len(counts) == 0 {
		return nil
	}

	var sum float64
	for _, c := range counts {
		sum += float64(c) * float64(c)
	}
	inv := float32(1 / math.Sqrt(sum))
	for k := range counts {
		counts[k] *= inv
	}
	return counts
}

// tokenize lowercases and splits on non-alphanumeric runes, emitting CJK
// characters as single tokens since they carry word-level meaning alone.
func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
