// Package loader walks a corpus directory and extracts normalized text per file.
package loader

import (
	"context"
	"io/fs"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"finrag/internal/domain"
)

// ReadFunc extracts raw text from one file.
type ReadFunc func(path string) (string, error)

// Stats counts what happened to the files of one walk.
type Stats struct {
	Loaded  int
	Skipped int
	Failed  int
}

// Loader maps file extensions to readers.
type Loader struct {
	baseURL string
	readers map[string]ReadFunc
	log     zerolog.Logger
}

// Option customizes a Loader.
type Option func(*Loader)

// WithBaseURL makes each document URL the base joined with its path relative to the corpus root.
func WithBaseURL(base string) Option {
	return func(l *Loader) { l.baseURL = base }
}

// WithReader registers (or replaces) the reader for an extension such as ".html".
func WithReader(ext string, fn ReadFunc) Option {
	return func(l *Loader) { l.readers[strings.ToLower(ext)] = fn }
}

func New(log zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		log: log,
		readers: map[string]ReadFunc{
			".txt": readText,
			".md":  readText,
			".pdf": readPDF,
			".csv": readDelimited(','),
			".tsv": readDelimited('\t'),
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Supports reports whether a reader is registered for the file's extension.
func (l *Loader) Supports(path string) bool {
	_, ok := l.readers[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Walk visits every regular file under dir in lexical order and calls fn with
// each non-empty normalized document. Unsupported and unreadable files are
// logged and counted, never returned as errors. An error from fn stops the walk.
func (l *Loader) Walk(ctx context.Context, dir string, fn func(domain.Document) error) (Stats, error) {
	var stats Stats
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			l.log.Warn().Err(err).Str("path", path).Msg("cannot access path, skipping")
			stats.Failed++
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		doc, err := l.Load(dir, path)
		switch {
		case errors.Is(err, domain.ErrUnsupportedFormat):
			l.log.Debug().Str("path", path).Msg("unsupported extension, skipping")
			stats.Skipped++
			return nil
		case err != nil:
			l.log.Warn().Err(err).Str("path", path).Msg("failed to read document, skipping")
			stats.Failed++
			return nil
		case doc.Content == "":
			l.log.Debug().Str("path", path).Msg("document has no text, skipping")
			stats.Skipped++
			return nil
		}
		stats.Loaded++
		return fn(doc)
	})
	if err != nil {
		return stats, errors.Wrapf(err, "walk corpus %s", dir)
	}
	return stats, nil
}

// Load extracts and normalizes a single file located under root.
func (l *Loader) Load(root, path string) (domain.Document, error) {
	read, ok := l.readers[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return domain.Document{}, errors.Wrap(domain.ErrUnsupportedFormat, filepath.Ext(path))
	}
	raw, err := safeRead(read, path)
	if err != nil {
		return domain.Document{}, err
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	return domain.Document{
		Source:  rel,
		URL:     l.documentURL(rel),
		Content: Normalize(raw),
	}, nil
}

func (l *Loader) documentURL(rel string) string {
	if l.baseURL == "" {
		return ""
	}
	u, err := url.JoinPath(l.baseURL, rel)
	if err != nil {
		return strings.TrimRight(l.baseURL, "/") + "/" + rel
	}
	return u
}

// safeRead turns a reader panic (third-party parsers on corrupt input) into an error.
func safeRead(read ReadFunc, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("reader panicked on %s: %v", path, r)
		}
	}()
	return read(path)
}

var (
	blankLineRe  = regexp.MustCompile(`\n[ \t\r\f\v]*\n`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize splits text into paragraphs on blank lines, collapses every
// whitespace run inside a paragraph to one space, and joins the non-empty
// paragraphs with a blank line.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := blankLineRe.Split(text, -1)
	paragraphs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(whitespaceRe.ReplaceAllString(p, " "))
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}
