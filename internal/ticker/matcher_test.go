package ticker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finrag/internal/domain"
	"finrag/internal/embedding/hashing"
)

// countingEmbedder wraps the hashing embedder and counts texts embedded.
type countingEmbedder struct {
	*hashing.Embedder
	name  string
	texts atomic.Int32
}

func newCounting(t *testing.T, dim int) *countingEmbedder {
	t.Helper()
	h, err := hashing.NewEmbedder(dim)
	require.NoError(t, err)
	return &countingEmbedder{Embedder: h, name: "hashing"}
}

func (c *countingEmbedder) Name() string { return c.name }

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts.Add(int32(len(texts)))
	return c.Embedder.EmbedBatch(ctx, texts)
}

func writeRoster(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const appleRoster = `{"Apple Inc.": "AAPL", "Apple Hospitality REIT": "APLE"}`

func TestMatch_AppleScenario(t *testing.T) {
	dir := t.TempDir()
	roster := filepath.Join(dir, "companies.json")
	writeRoster(t, roster, appleRoster)

	m := NewMatcher(newCounting(t, 768))
	require.NoError(t, m.Init(context.Background(), roster, filepath.Join(dir, "cache")))

	matches, err := m.Match(context.Background(), "Apple Inc", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "AAPL", matches[0].Symbol)
	assert.Equal(t, "APLE", matches[1].Symbol)
	assert.Greater(t, matches[0].Score, matches[1].Score)
	for _, mt := range matches {
		assert.GreaterOrEqual(t, mt.Score, -1.0)
		assert.LessOrEqual(t, mt.Score, 1.0)
	}
}

func TestMatch_TopNTruncatesAndDefaults(t *testing.T) {
	dir := t.TempDir()
	roster := filepath.Join(dir, "companies.json")
	writeRoster(t, roster, `{"Microsoft Corporation": "MSFT", "Apple Inc.": "AAPL", "Tesla, Inc.": "TSLA", "Amazon.com, Inc.": "AMZN"}`)

	m := NewMatcher(newCounting(t, 768), WithDefaultTopN(2))
	require.NoError(t, m.Init(context.Background(), roster, dir))
	ctx := context.Background()

	matches, err := m.Match(ctx, "Microsoft", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "MSFT", matches[0].Symbol)

	matches, err = m.Match(ctx, "Microsoft", 100)
	require.NoError(t, err)
	assert.Len(t, matches, 4)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Score, matches[i].Score)
	}
}

func TestMatch_EmptyQueryIsPermissiveByDefault(t *testing.T) {
	dir := t.TempDir()
	roster := filepath.Join(dir, "companies.json")
	writeRoster(t, roster, appleRoster)

	m := NewMatcher(newCounting(t, 64))
	require.NoError(t, m.Init(context.Background(), roster, dir))

	matches, err := m.Match(context.Background(), "", 5)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	// zero query vector scores 0 everywhere, so roster order decides
	assert.Equal(t, "AAPL", matches[0].Symbol)
	assert.Equal(t, 0.0, matches[0].Score)
}

func TestMatch_MinQueryLength(t *testing.T) {
	dir := t.TempDir()
	roster := filepath.Join(dir, "companies.json")
	writeRoster(t, roster, appleRoster)

	m := NewMatcher(newCounting(t, 64), WithMinQueryLength(2))
	require.NoError(t, m.Init(context.Background(), roster, dir))

	_, err := m.Match(context.Background(), "  A ", 5)
	assert.ErrorIs(t, err, domain.ErrQueryTooShort)

	_, err = m.Match(context.Background(), "Ap", 5)
	assert.NoError(t, err)
}

func TestMatch_NotInitialized(t *testing.T) {
	m := NewMatcher(newCounting(t, 8))
	assert.False(t, m.Ready())
	_, err := m.Match(context.Background(), "Apple", 1)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

func TestInit_UsesCacheWhenValid(t *testing.T) {
	dir := t.TempDir()
	roster := filepath.Join(dir, "companies.json")
	cacheDir := filepath.Join(dir, "cache")
	writeRoster(t, roster, appleRoster)
	ctx := context.Background()

	first := newCounting(t, 64)
	require.NoError(t, NewMatcher(first).Init(ctx, roster, cacheDir))
	assert.Equal(t, int32(2), first.texts.Load())
	assert.FileExists(t, filepath.Join(cacheDir, matrixFile))
	assert.FileExists(t, filepath.Join(cacheDir, rosterFile))

	second := newCounting(t, 64)
	m := NewMatcher(second)
	require.NoError(t, m.Init(ctx, roster, cacheDir))
	assert.Equal(t, int32(0), second.texts.Load(), "valid cache must not re-embed")
	assert.Equal(t, 2, m.Size())
}

func TestInit_RebuildsOnRosterChange(t *testing.T) {
	dir := t.TempDir()
	roster := filepath.Join(dir, "companies.json")
	cacheDir := filepath.Join(dir, "cache")
	writeRoster(t, roster, appleRoster)
	ctx := context.Background()
	require.NoError(t, NewMatcher(newCounting(t, 64)).Init(ctx, roster, cacheDir))

	writeRoster(t, roster, `{"Apple Inc.": "AAPL", "Apple Hospitality REIT": "APLE", "Microsoft": "MSFT"}`)
	emb := newCounting(t, 64)
	m := NewMatcher(emb)
	require.NoError(t, m.Init(ctx, roster, cacheDir))
	assert.Equal(t, int32(3), emb.texts.Load())
	assert.Equal(t, 3, m.Size())

	var cached rosterFormat
	data, err := os.ReadFile(filepath.Join(cacheDir, rosterFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &cached))
	assert.Equal(t, []string{"AAPL", "APLE", "MSFT"}, cached.Symbols)
}

func TestInit_RebuildsOnModelChange(t *testing.T) {
	dir := t.TempDir()
	roster := filepath.Join(dir, "companies.json")
	writeRoster(t, roster, appleRoster)
	ctx := context.Background()
	require.NoError(t, NewMatcher(newCounting(t, 64)).Init(ctx, roster, dir))

	other := newCounting(t, 64)
	other.name = "other-model"
	require.NoError(t, NewMatcher(other).Init(ctx, roster, dir))
	assert.Equal(t, int32(2), other.texts.Load())
}

func TestInit_RebuildsOnCorruptCache(t *testing.T) {
	dir := t.TempDir()
	roster := filepath.Join(dir, "companies.json")
	cacheDir := filepath.Join(dir, "cache")
	writeRoster(t, roster, appleRoster)
	ctx := context.Background()
	require.NoError(t, NewMatcher(newCounting(t, 64)).Init(ctx, roster, cacheDir))

	// a roster file listing fewer names than the matrix has rows
	bad := rosterFormat{Names: []string{"Apple Inc."}, Symbols: []string{"AAPL"}, SourceHash: "x", Model: "hashing", Dimension: 64}
	data, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(cacheDir, rosterFile), data, 0o644))

	_, err = readCache(cacheDir)
	assert.ErrorIs(t, err, domain.ErrIntegrity)

	emb := newCounting(t, 64)
	m := NewMatcher(emb)
	require.NoError(t, m.Init(ctx, roster, cacheDir))
	assert.Equal(t, int32(2), emb.texts.Load())

	_, err = readCache(cacheDir)
	assert.NoError(t, err)
}

func TestLoadRoster(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "companies.json")
	writeRoster(t, path, `{"Zeta Corp": "ZETA", " Alpha Inc ": " ALP ", "": "NONE"}`)

	records, hash, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.CompanyRecord{{Name: "Zeta Corp", Symbol: "ZETA"}, {Name: "Alpha Inc", Symbol: "ALP"}}, records)
	assert.Equal(t, RosterHash(records), hash)

	writeRoster(t, path, "{\n  \"Zeta Corp\": \"ZETA\",\n  \"Alpha Inc\": \"ALP\"\n}")
	_, same, err := LoadRoster(path)
	require.NoError(t, err)
	assert.Equal(t, hash, same, "formatting changes keep the hash")

	writeRoster(t, path, `{}`)
	_, _, err = LoadRoster(path)
	assert.Error(t, err)

	writeRoster(t, path, `["not", "an", "object"]`)
	_, _, err = LoadRoster(path)
	assert.Error(t, err)
}
