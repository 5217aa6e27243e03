package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	wordWeight    = 1.0
	trigramWeight = 0.5
)

// Embedder maps text to a fixed-dimension vector by feature hashing of word
// tokens and their character trigrams. It needs no corpus preparation and no
// network, and equal inputs always give equal vectors.
type Embedder struct {
	dimension int
}

// NewEmbedder creates a hashing embedder producing vectors of the given dimension.
func NewEmbedder(dimension int) (*Embedder, error) {
	if dimension <= 0 {
		return nil, errors.Errorf("invalid dimension %d", dimension)
	}
	return &Embedder{dimension: dimension}, nil
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "hashing" }

// Dimension returns the dimensionality of the produced embedding vectors.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed computes the hashed embedding for the given text. Text without any
// content token yields the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// EmbedBatch embeds each text independently.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *Embedder) vector(text string) []float32 {
	acc := make([]float64, e.dimension)
	for _, tok := range Tokenize(text) {
		acc[e.bucket("w:"+tok)] += wordWeight
		runes := []rune(tok)
		for i := 0; i+3 <= len(runes); i++ {
			acc[e.bucket("g:"+string(runes[i:i+3]))] += trigramWeight
		}
	}
	// L2 normalize
	norm := 0.0
	for _, v := range acc {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	vec := make([]float32, e.dimension)
	if norm == 0 {
		return vec
	}
	for i, v := range acc {
		vec[i] = float32(v / norm)
	}
	return vec
}

func (e *Embedder) bucket(feature string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(feature))
	return int(h.Sum32() % uint32(e.dimension))
}

var (
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’]\p{L}+)*`)
	stopwords    = defaultStopwords()
)

// Tokenize returns the lower-cased content words of text in order, with
// stopwords removed. The extractive answer generator scores sentences with
// the same tokens the embedder hashes.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, isStop := stopwords[t]; isStop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"how", "what", "which", "who", "whom", "whose", "when", "where", "why", "do", "does", "did", "much", "many", "i", "me", "my", "you", "your", "we", "our", "tell", "has", "have", "had",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
