package service

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finrag/internal/domain"
	"finrag/internal/embedding/hashing"
	"finrag/internal/metadata"
	"finrag/internal/metrics"
	"finrag/internal/vectorstore"
	"finrag/internal/vectorstore/flat"
)

var corpus = []string{
	"The weather in Paris is mild in spring.",
	"Revenue grew 12% year over year",
	"The board approved a new share buyback program.",
	"Inventory turnover improved across all warehouses.",
	"Employees received updated travel guidelines.",
}

func buildRetriever(t *testing.T, texts []string, opts ...Option) (*Retriever, *hashing.Embedder) {
	t.Helper()
	emb, err := hashing.NewEmbedder(768)
	require.NoError(t, err)

	vecs, err := emb.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	idx, err := flat.Build(emb.Dimension(), vecs)
	require.NoError(t, err)

	chunks := make([]domain.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = domain.Chunk{ID: i, Text: text, Source: "doc.txt"}
	}
	meta, err := metadata.NewStore(chunks)
	require.NoError(t, err)

	r := NewRetriever(emb, opts...)
	require.NoError(t, r.Install(idx, meta))
	return r, emb
}

func TestRetrieveContext_RoundTrip(t *testing.T) {
	r, _ := buildRetriever(t, corpus)

	results, err := r.RetrieveContext(context.Background(), "How much did revenue grow?", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Revenue grew 12% year over year", results[0].Chunk.Text)
	assert.Equal(t, 1, results[0].Rank)
}

func TestRetrieveContext_ExactChunkRanksFirst(t *testing.T) {
	r, _ := buildRetriever(t, corpus)

	results, err := r.RetrieveContext(context.Background(), corpus[3], 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, 3, results[0].Chunk.ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	for i, res := range results {
		assert.Equal(t, i+1, res.Rank)
		if i > 0 {
			assert.LessOrEqual(t, results[i-1].Distance, res.Distance)
		}
	}
}

func TestRetrieveContext_TopKBounds(t *testing.T) {
	r, _ := buildRetriever(t, corpus, WithDefaultTopK(2))
	ctx := context.Background()

	results, err := r.RetrieveContext(ctx, "buyback", 50)
	require.NoError(t, err)
	assert.Len(t, results, len(corpus))

	results, err = r.RetrieveContext(ctx, "buyback", 0)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveContext_EmptyIndex(t *testing.T) {
	r, _ := buildRetriever(t, nil)

	results, err := r.RetrieveContext(context.Background(), "anything", 4)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.False(t, Sufficient(results))
}

func TestRetrieveContext_NotInitialized(t *testing.T) {
	emb, err := hashing.NewEmbedder(8)
	require.NoError(t, err)
	r := NewRetriever(emb)

	assert.False(t, r.Ready())
	_, err = r.RetrieveContext(context.Background(), "q", 1)
	assert.ErrorIs(t, err, domain.ErrNotInitialized)
}

// brokenIndex returns one id past the end of the metadata.
type brokenIndex struct{ count int }

func (b brokenIndex) Count() int     { return b.count }
func (b brokenIndex) Dimension() int { return 8 }
func (b brokenIndex) Search(context.Context, []float32, int) ([]vectorstore.Neighbor, error) {
	return []vectorstore.Neighbor{{ID: 0, Distance: 0.1}, {ID: b.count, Distance: 0.2}, {ID: -1, Distance: 0.3}, {ID: 1, Distance: 0.4}}, nil
}

func TestRetrieveContext_SkipsOutOfRangeIDs(t *testing.T) {
	emb, err := hashing.NewEmbedder(8)
	require.NoError(t, err)
	meta, err := metadata.NewStore([]domain.Chunk{{ID: 0, Text: "a"}, {ID: 1, Text: "b"}})
	require.NoError(t, err)

	m := metrics.New()
	r := NewRetriever(emb, WithMetrics(m))
	require.NoError(t, r.Install(brokenIndex{count: 2}, meta))

	results, err := r.RetrieveContext(context.Background(), "q", 4)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Chunk.Text)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "b", results[1].Chunk.Text)
	assert.Equal(t, 2, results[1].Rank)
}

type failingEmbedder struct {
	calls atomic.Int32
}

func (f *failingEmbedder) Name() string   { return "failing" }
func (f *failingEmbedder) Dimension() int { return 8 }
func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	return nil, errors.New("connection refused")
}
func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("connection refused")
}

func TestRetrieveContext_ProviderFailureIsError(t *testing.T) {
	emb := &failingEmbedder{}
	idx, err := flat.Build(8, [][]float32{make([]float32, 8)})
	require.NoError(t, err)
	meta, err := metadata.NewStore([]domain.Chunk{{ID: 0, Text: "x"}})
	require.NoError(t, err)

	r := NewRetriever(emb)
	require.NoError(t, r.Install(idx, meta))

	results, err := r.RetrieveContext(context.Background(), "q", 1)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, int32(1), emb.calls.Load(), "no internal retries")
}

func TestInstall_IntegrityChecks(t *testing.T) {
	emb, err := hashing.NewEmbedder(4)
	require.NoError(t, err)
	r := NewRetriever(emb)

	idx, err := flat.Build(4, [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}})
	require.NoError(t, err)
	one, err := metadata.NewStore([]domain.Chunk{{ID: 0, Text: "a"}})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Install(idx, one), domain.ErrIntegrity)

	wide, err := flat.Build(5, [][]float32{{1, 0, 0, 0, 0}})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Install(wide, one), domain.ErrDimensionMismatch)
	assert.False(t, r.Ready())
}

func TestLoadFiles(t *testing.T) {
	dir := t.TempDir()
	emb, err := hashing.NewEmbedder(64)
	require.NoError(t, err)
	ctx := context.Background()

	vecs, err := emb.EmbedBatch(ctx, corpus)
	require.NoError(t, err)
	idx, err := flat.Build(64, vecs)
	require.NoError(t, err)
	chunks := make([]domain.Chunk, len(corpus))
	for i, text := range corpus {
		chunks[i] = domain.Chunk{ID: i, Text: text, Source: "doc.txt"}
	}
	indexPath := filepath.Join(dir, "combined.index")
	metaPath := filepath.Join(dir, "chunks.jsonl")
	require.NoError(t, idx.Save(indexPath))
	require.NoError(t, metadata.Write(metaPath, chunks))

	r := NewRetriever(emb)
	require.NoError(t, r.LoadFiles(indexPath, metaPath))
	results, err := r.RetrieveContext(ctx, corpus[2], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Chunk.ID)

	require.NoError(t, metadata.Write(metaPath, chunks[:4]))
	assert.ErrorIs(t, r.LoadFiles(indexPath, metaPath), domain.ErrIntegrity)
	// the previous snapshot stays live
	results, err = r.RetrieveContext(ctx, corpus[2], 1)
	require.NoError(t, err)
	assert.Equal(t, 2, results[0].Chunk.ID)
}

func TestInstall_ConcurrentReadsDuringSwap(t *testing.T) {
	r, emb := buildRetriever(t, corpus)
	ctx := context.Background()

	vecs, err := emb.EmbedBatch(ctx, corpus[:2])
	require.NoError(t, err)
	small, err := flat.Build(emb.Dimension(), vecs)
	require.NoError(t, err)
	smallMeta, err := metadata.NewStore([]domain.Chunk{{ID: 0, Text: corpus[0]}, {ID: 1, Text: corpus[1]}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				results, err := r.RetrieveContext(ctx, "revenue", 10)
				assert.NoError(t, err)
				assert.True(t, len(results) == 2 || len(results) == len(corpus))
			}
		}()
	}
	require.NoError(t, r.Install(small, smallMeta))
	wg.Wait()
}

func TestSufficient(t *testing.T) {
	tests := []struct {
		name  string
		texts []string
		want  bool
	}{
		{"empty", nil, false},
		{"whitespace only", []string{"  ", "\n\t", ""}, false},
		{"one usable", []string{" ", "Revenue grew"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var results []domain.RetrievalResult
			for i, text := range tt.texts {
				results = append(results, domain.RetrievalResult{Rank: i + 1, Chunk: domain.Chunk{ID: i, Text: text}})
			}
			assert.Equal(t, tt.want, Sufficient(results))
		})
	}
}
