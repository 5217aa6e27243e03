// Package summarizer answers from retrieved context by picking the sentences
// that best cover the query, without calling a language model.
package summarizer

import (
	"context"
	"math"
	"sort"
	"strings"
	"unicode"

	"finrag/internal/answer"
	"finrag/internal/embedding/hashing"
)

// Extractive ranks context sentences by query overlap, with token frequency
// across the context as a tie breaker.
type Extractive struct {
	maxSentences int
}

// NewExtractive creates a generator that returns at most maxSentences sentences.
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Extractive{maxSentences: maxSentences}
}

// Generate returns the best sentences in context order, or
// answer.InsufficientContext when no sentence shares a content word with the query.
func (s *Extractive) Generate(_ context.Context, p answer.Prompt) (string, error) {
	query := s.contentTokens(p.Query)
	if len(query) == 0 {
		return answer.InsufficientContext, nil
	}
	var sentences []string
	for _, c := range p.Contexts {
		sentences = append(sentences, Sentences(c)...)
	}
	if len(sentences) == 0 {
		return answer.InsufficientContext, nil
	}

	// Compute word frequencies
	freq := map[string]float64{}
	tokens := make([][]string, len(sentences))
	for i, sent := range sentences {
		tokens[i] = s.tokens(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type pair struct {
		idx     int
		overlap int
		score   float64
	}
	scores := make([]pair, 0, len(sentences))
	for i := range sentences {
		seen := map[string]struct{}{}
		var fs float64
		for _, tok := range tokens[i] {
			if _, ok := query[tok]; ok {
				seen[tok] = struct{}{}
			}
			fs += freq[tok] / maxF
		}
		if len(seen) == 0 {
			continue
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(tokens[i])); l > 0 {
			fs /= math.Sqrt(l)
		}
		scores = append(scores, pair{i, len(seen), fs})
	}
	if len(scores) == 0 {
		return answer.InsufficientContext, nil
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].overlap != scores[j].overlap {
			return scores[i].overlap > scores[j].overlap
		}
		return scores[i].score > scores[j].score
	})
	n := min(s.maxSentences, len(scores))

	// Keep original order among selected
	selected := make([]int, n)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}

// Overlap counts the distinct content words of query that occur in text.
func (s *Extractive) Overlap(query, text string) int {
	q := s.contentTokens(query)
	n := 0
	for tok := range s.contentTokens(text) {
		if _, ok := q[tok]; ok {
			n++
		}
	}
	return n
}

// tokens returns the lower-cased content words of text, stopwords removed.
func (s *Extractive) tokens(text string) []string { return hashing.Tokenize(text) }

func (s *Extractive) contentTokens(text string) map[string]struct{} {
	toks := s.tokens(text)
	set := make(map[string]struct{}, len(toks))
	for _, t := range toks {
		set[t] = struct{}{}
	}
	return set
}

// Sentences splits text after '.', '!' or '?' when the mark is followed by
// whitespace or ends the text, so decimals like 12.5 stay intact. Trailing
// text without a terminator is kept as the last sentence.
func Sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if sent := strings.TrimSpace(string(runes[start : i+1])); sent != "" {
			out = append(out, sent)
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		out = append(out, tail)
	}
	return out
}
