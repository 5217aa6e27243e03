// Package embedding holds provider-independent helpers around domain.Embedder.
package embedding

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"finrag/internal/domain"
	"finrag/internal/metrics"
)

// Validate checks that vec has exactly the dimension the embedder promises.
func Validate(e domain.Embedder, vec []float32) error {
	if len(vec) != e.Dimension() {
		return errors.Wrapf(domain.ErrDimensionMismatch, "%s produced %d values, expected %d", e.Name(), len(vec), e.Dimension())
	}
	return nil
}

// ValidateAll checks count and dimension of a batch result.
func ValidateAll(e domain.Embedder, texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return errors.Errorf("%s returned %d vectors for %d texts", e.Name(), len(vecs), len(texts))
	}
	for i, v := range vecs {
		if err := Validate(e, v); err != nil {
			return errors.Wrapf(err, "vector %d", i)
		}
	}
	return nil
}

// Options controls batch embedding.
type Options struct {
	BatchSize   int
	Concurrency int
	Log         zerolog.Logger
	Metrics     *metrics.Metrics
}

// EmbedAll embeds texts in batches using up to Concurrency parallel calls.
// A batch's vectors are stored only after the whole batch succeeded and
// validated; the first failing batch cancels the rest and is returned.
func EmbedAll(ctx context.Context, e domain.Embedder, texts []string, opts Options) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	size := opts.BatchSize
	if size <= 0 {
		size = 32
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}

	out := make([][]float32, len(texts))
	batches := (len(texts) + size - 1) / size
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for b := 0; b < batches; b++ {
		lo := b * size
		hi := min(lo+size, len(texts))
		g.Go(func() error {
			vecs, err := e.EmbedBatch(gctx, texts[lo:hi])
			if err == nil {
				err = ValidateAll(e, texts[lo:hi], vecs)
			}
			opts.Metrics.ObserveEmbedBatch(err)
			if err != nil {
				return errors.Wrapf(err, "embed batch %d [%d:%d]", b, lo, hi)
			}
			copy(out[lo:hi], vecs)
			opts.Log.Debug().Int("batch", b).Int("of", batches).Int("size", hi-lo).Msg("embedded batch")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
