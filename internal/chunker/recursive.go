package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators prefers paragraph, then line, sentence and word
// boundaries before cutting between characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Recursive splits text into windows of at most size characters that overlap
// by up to overlap characters. Sizes are counted in runes.
type Recursive struct {
	size       int
	overlap    int
	separators []string
}

func NewRecursive(size, overlap int, separators ...string) *Recursive {
	if size <= 0 {
		size = 512
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	if len(separators) == 0 {
		separators = DefaultSeparators
	}
	return &Recursive{size: size, overlap: overlap, separators: separators}
}

// Split returns the trimmed, non-empty windows of text in order.
func (c *Recursive) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.split(text, c.separators)
}

func (c *Recursive) split(text string, separators []string) []string {
	// the first separator present in text wins; the rest are for oversized pieces
	sep := separators[len(separators)-1]
	var rest []string
	for i, s := range separators {
		if s == "" {
			sep, rest = "", nil
			break
		}
		if strings.Contains(text, s) {
			sep, rest = s, separators[i+1:]
			break
		}
	}

	var out, fits []string
	for _, piece := range splitKeep(text, sep) {
		if utf8.RuneCountInString(piece) < c.size {
			fits = append(fits, piece)
			continue
		}
		if len(fits) > 0 {
			out = append(out, c.merge(fits)...)
			fits = nil
		}
		if len(rest) == 0 {
			if p := strings.TrimSpace(piece); p != "" {
				out = append(out, p)
			}
			continue
		}
		out = append(out, c.split(piece, rest)...)
	}
	if len(fits) > 0 {
		out = append(out, c.merge(fits)...)
	}
	return out
}

// merge packs consecutive pieces into windows, carrying a tail of at most
// overlap characters from one window into the next.
func (c *Recursive) merge(pieces []string) []string {
	var (
		windows []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > c.size && len(current) > 0 {
			if w := strings.TrimSpace(strings.Join(current, "")); w != "" {
				windows = append(windows, w)
			}
			for total > c.overlap || (total+n > c.size && total > 0) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if w := strings.TrimSpace(strings.Join(current, "")); w != "" {
		windows = append(windows, w)
	}
	return windows
}

// splitKeep splits after each separator so the separator stays with the
// preceding piece. An empty separator yields single characters.
func splitKeep(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	for _, p := range strings.SplitAfter(text, sep) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}
