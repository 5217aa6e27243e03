package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finrag/internal/domain"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "Revenue   grew\t12%", "Revenue grew 12%"},
		{"joins wrapped lines", "first line\nsecond line", "first line second line"},
		{"keeps paragraphs", "para one\n\n\n  para   two  ", "para one\n\npara two"},
		{"blank line with spaces", "a\n   \nb", "a\n\nb"},
		{"crlf", "a\r\n\r\nb", "a\n\nb"},
		{"whitespace only", " \n\t\n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWalk_SkipsAndContinues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "Alpha   text.\n\nSecond paragraph.")
	writeFile(t, dir, "b.docx", "binary")
	writeFile(t, dir, "c.pdf", "this is not a pdf")
	writeFile(t, dir, "d.txt", "   \n  ")
	writeFile(t, dir, "sub/e.csv", "company,symbol\nApple Inc.,AAPL\nMicrosoft,MSFT\n")

	l := New(zerolog.Nop(), WithBaseURL("https://docs.example.com/corpus"))
	var docs []domain.Document
	stats, err := l.Walk(context.Background(), dir, func(d domain.Document) error {
		docs = append(docs, d)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, Stats{Loaded: 2, Skipped: 2, Failed: 1}, stats)
	require.Len(t, docs, 2)

	assert.Equal(t, "a.txt", docs[0].Source)
	assert.Equal(t, "https://docs.example.com/corpus/a.txt", docs[0].URL)
	assert.Equal(t, "Alpha text.\n\nSecond paragraph.", docs[0].Content)

	assert.Equal(t, "sub/e.csv", docs[1].Source)
	assert.Equal(t, "company: Apple Inc. symbol: AAPL\n\ncompany: Microsoft symbol: MSFT", docs[1].Content)
}

func TestWalk_CallbackErrorStops(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "one")
	writeFile(t, dir, "b.txt", "two")

	stop := errors.New("stop")
	calls := 0
	_, err := New(zerolog.Nop()).Walk(context.Background(), dir, func(domain.Document) error {
		calls++
		return stop
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestWalk_MissingDir(t *testing.T) {
	_, err := New(zerolog.Nop()).Walk(context.Background(), filepath.Join(t.TempDir(), "nope"), func(domain.Document) error { return nil })
	assert.Error(t, err)
}

func TestLoad_Unsupported(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.bin", "data")
	_, err := New(zerolog.Nop()).Load(dir, filepath.Join(dir, "x.bin"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestWithReader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "page.html", "<p>ignored</p>")

	l := New(zerolog.Nop(), WithReader(".HTML", func(string) (string, error) { return "custom  text", nil }))
	assert.True(t, l.Supports("x.html"))

	doc, err := l.Load(dir, filepath.Join(dir, "page.html"))
	require.NoError(t, err)
	assert.Equal(t, "custom text", doc.Content)
	assert.Empty(t, doc.URL)
}

func TestSafeRead_RecoversPanic(t *testing.T) {
	_, err := safeRead(func(string) (string, error) { panic("corrupt xref") }, "bad.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt xref")
}

func TestLoad_PDFPagesBecomeParagraphs(t *testing.T) {
	l := New(zerolog.Nop(), WithBaseURL("https://docs.example.com"))
	doc, err := l.Load("testdata", filepath.Join("testdata", "report.pdf"))
	require.NoError(t, err)

	assert.Equal(t, "report.pdf", doc.Source)
	assert.Equal(t, "https://docs.example.com/report.pdf", doc.URL)
	assert.Equal(t, "Revenue grew twelve percent in the third quarter.\n\n"+
		"The board approved a new share buyback program.", doc.Content)
}
