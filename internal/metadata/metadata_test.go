package metadata

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finrag/internal/domain"
)

func TestWriteLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vindex", "chunks.jsonl")
	chunks := []domain.Chunk{
		{ID: 0, Text: "Revenue grew 12% year over year", Source: "q3.txt", URL: "https://ir.example.com/q3.txt"},
		{ID: 1, Text: "line one\n\nline <two> & \"three\"", Source: "notes.md"},
	}
	require.NoError(t, Write(path, chunks))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"content":"Revenue grew 12% year over year","metadata":{"source":"q3.txt","url":"https://ir.example.com/q3.txt"}}`, lines[0])

	store, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	got, ok := store.Chunk(1)
	require.True(t, ok)
	assert.Equal(t, chunks[1], got)
}

func TestChunk_OutOfRange(t *testing.T) {
	store, err := NewStore([]domain.Chunk{{ID: 0, Text: "x"}})
	require.NoError(t, err)

	_, ok := store.Chunk(-1)
	assert.False(t, ok)
	_, ok = store.Chunk(1)
	assert.False(t, ok)
}

func TestNewStore_RejectsMisalignedIDs(t *testing.T) {
	_, err := NewStore([]domain.Chunk{{ID: 0}, {ID: 2}})
	assert.ErrorIs(t, err, domain.ErrIntegrity)

	err = Write(filepath.Join(t.TempDir(), "m.jsonl"), []domain.Chunk{{ID: 1}})
	assert.ErrorIs(t, err, domain.ErrIntegrity)
}

func TestLoad_CorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"content\":\"ok\",\"metadata\":{}}\n{broken\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrIntegrity)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoad_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.jsonl")
	require.NoError(t, Write(path, nil))

	store, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}
