package vectorstore

import "context"

// Neighbor is one search hit. Distance is the squared L2 distance to the query.
type Neighbor struct {
	ID       int
	Distance float32
}

// Index searches chunk embeddings by squared L2 distance. Results are sorted
// by non-decreasing distance and never longer than min(k, Count()).
type Index interface {
	Count() int
	Dimension() int
	Search(ctx context.Context, query []float32, k int) ([]Neighbor, error)
}
