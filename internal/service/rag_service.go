package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"finrag/internal/domain"
	"finrag/internal/metadata"
	"finrag/internal/metrics"
	"finrag/internal/vectorstore"
	"finrag/internal/vectorstore/flat"
)

// snapshot is one consistent pair of index and metadata. It is never mutated
// after Install, so readers share it without locks.
type snapshot struct {
	index vectorstore.Index
	meta  *metadata.Store
}

// Retriever answers context queries against the installed index.
type Retriever struct {
	embedder domain.Embedder
	topK     int
	log      zerolog.Logger
	metrics  *metrics.Metrics

	current atomic.Pointer[snapshot]
}

type Option func(*Retriever)

// WithDefaultTopK sets the k used when a caller passes k <= 0.
func WithDefaultTopK(k int) Option { return func(r *Retriever) { r.topK = k } }

func WithLogger(log zerolog.Logger) Option { return func(r *Retriever) { r.log = log } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Retriever) { r.metrics = m } }

// NewRetriever creates a retriever with nothing installed; every query
// fails with domain.ErrNotInitialized until Install or LoadFiles succeeds.
func NewRetriever(embedder domain.Embedder, opts ...Option) *Retriever {
	r := &Retriever{embedder: embedder, topK: 4, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Install checks that index and metadata agree with each other and with the
// embedder, then atomically replaces the live pair.
func (r *Retriever) Install(index vectorstore.Index, meta *metadata.Store) error {
	if index.Count() != meta.Len() {
		return errors.Wrapf(domain.ErrIntegrity, "index holds %d vectors but metadata has %d chunks", index.Count(), meta.Len())
	}
	if index.Dimension() != r.embedder.Dimension() {
		return errors.Wrapf(domain.ErrDimensionMismatch, "index dimension %d, embedder %s produces %d", index.Dimension(), r.embedder.Name(), r.embedder.Dimension())
	}
	r.current.Store(&snapshot{index: index, meta: meta})
	r.metrics.SetIndexSize("documents", index.Count())
	r.log.Info().Int("chunks", index.Count()).Int("dimension", index.Dimension()).Msg("document index installed")
	return nil
}

// LoadFiles loads a flat index and its metadata from disk and installs them.
func (r *Retriever) LoadFiles(indexPath, metadataPath string) error {
	index, err := flat.Load(indexPath)
	if err != nil {
		return errors.Wrapf(err, "load index %s", indexPath)
	}
	meta, err := metadata.Load(metadataPath)
	if err != nil {
		return errors.Wrapf(err, "load metadata %s", metadataPath)
	}
	return r.Install(index, meta)
}

// LoadMetadata installs a remote index together with a metadata file.
func (r *Retriever) LoadMetadata(index vectorstore.Index, metadataPath string) error {
	meta, err := metadata.Load(metadataPath)
	if err != nil {
		return errors.Wrapf(err, "load metadata %s", metadataPath)
	}
	return r.Install(index, meta)
}

// Ready reports whether an index is installed.
func (r *Retriever) Ready() bool { return r.current.Load() != nil }

// RetrieveContext embeds query, searches the index for topK neighbors and
// pairs them with their chunks. Results are ordered by non-decreasing
// distance with contiguous 1-based ranks. Ids outside the metadata range are
// dropped and logged. An empty index yields an empty list, not an error.
func (r *Retriever) RetrieveContext(ctx context.Context, query string, topK int) ([]domain.RetrievalResult, error) {
	snap := r.current.Load()
	if snap == nil {
		return nil, domain.ErrNotInitialized
	}
	if topK <= 0 {
		topK = r.topK
	}
	start := time.Now()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.metrics.ObserveRetrieval(metrics.OutcomeError, time.Since(start))
		return nil, errors.Wrap(err, "embed query")
	}
	hits, err := snap.index.Search(ctx, vec, topK)
	if err != nil {
		r.metrics.ObserveRetrieval(metrics.OutcomeError, time.Since(start))
		return nil, errors.Wrap(err, "search index")
	}

	results := make([]domain.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		chunk, ok := snap.meta.Chunk(h.ID)
		if !ok {
			r.metrics.OutOfRange()
			r.log.Warn().Int("id", h.ID).Int("count", snap.meta.Len()).Msg("index returned out-of-range id, skipping")
			continue
		}
		results = append(results, domain.RetrievalResult{
			Rank:     len(results) + 1,
			Distance: h.Distance,
			Chunk:    chunk,
		})
	}

	outcome := metrics.OutcomeOK
	if !Sufficient(results) {
		outcome = metrics.OutcomeEmpty
	}
	r.metrics.ObserveRetrieval(outcome, time.Since(start))
	return results, nil
}

// Sufficient reports whether at least one result carries non-blank text.
// A false result means the caller should take its fallback path.
func Sufficient(results []domain.RetrievalResult) bool {
	for _, res := range results {
		if strings.TrimSpace(res.Chunk.Text) != "" {
			return true
		}
	}
	return false
}
