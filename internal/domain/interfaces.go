package domain

import "context"

// Document is the normalized text of one source file.
type Document struct {
	Source  string
	URL     string
	Content string
}

// Chunk is a bounded span of document text. ID is its position in the index.
type Chunk struct {
	ID     int
	Text   string
	Source string
	URL    string
}

// Link returns the URL of the chunk, or its source path when no URL is known.
func (c Chunk) Link() string {
	if c.URL != "" {
		return c.URL
	}
	return c.Source
}

// RetrievalResult pairs a chunk with its squared L2 distance to the query.
// Rank is 1-based and contiguous within one result list.
type RetrievalResult struct {
	Rank     int
	Distance float32
	Chunk    Chunk
}

// CompanyRecord is one entry of the ticker roster.
type CompanyRecord struct {
	Name   string
	Symbol string
}

// TickerMatch is a roster entry scored by cosine similarity to a query.
type TickerMatch struct {
	Name   string
	Symbol string
	Score  float64
}

// Embedder converts free text into a fixed-dimension dense vector.
// Implementations must be deterministic for a fixed configuration.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Chunker splits normalized text into overlapping windows.
type Chunker interface {
	Split(text string) []string
}
