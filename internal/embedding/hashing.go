package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "all": {}, "are": {}, "by": {}, "for": {}, "from": {}, "give": {},
	"how": {}, "i": {}, "in": {}, "is": {}, "list": {}, "many": {}, "me": {}, "of": {}, "on": {},
	"or": {}, "show": {}, "the": {}, "to": {}, "what": {}, "which": {}, "who": {}, "with": {},
}

// Hashing is an offline model: word features hashed into a fixed number
// of signed buckets, then L2-normalised. It needs no network and is stable
// across processes.
type Hashing struct {
	dims int
}

func NewHashing(dims int) (*Hashing, error) {
	if dims < 1 {
		return nil, fmt.Errorf("dimensions must be at least 1")
	}
	return &Hashing{dims: dims}, nil
}

func (h *Hashing) Model() string {
	return fmt.Sprintf("hashing-v1/%d", h.dims)
}

func (h *Hashing) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, h.dims)
	for _, feature := range features(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(feature))
		sum := hasher.Sum64()
		idx := int(sum % uint64(h.dims))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, h.dims)
	if norm == 0 {
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// features yields each word, its crude singular, and the parts of
// snake_case identifiers.
func features(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	var out []string
	add := func(word string) {
		if word == "" {
			return
		}
		if _, stop := stopWords[word]; stop {
			return
		}
		out = append(out, word)
		if stem := singular(word); stem != word {
			out = append(out, stem)
		}
	}
	for _, word := range words {
		add(word)
		if strings.Contains(word, "_") {
			for _, part := range strings.Split(word, "_") {
				add(part)
			}
		}
	}
	return out
}

func singular(word string) string {
	switch {
	case len(word) > 4 && strings.HasSuffix(word, "ies"):
		return word[:len(word)-3] + "y"
	case len(word) > 3 && strings.HasSuffix(word, "s") && !strings.HasSuffix(word, "ss"):
		return word[:len(word)-1]
	default:
		return word
	}
}
