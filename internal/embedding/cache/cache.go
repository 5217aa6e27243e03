// Package cache persists embeddings in BadgerDB so re-indexing an unchanged
// corpus does not call the provider again.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"finrag/internal/domain"
)

// Embedder wraps another embedder with a persistent cache keyed by model name and text hash.
type Embedder struct {
	inner domain.Embedder
	db    *badger.DB
	log   zerolog.Logger
}

// Open opens (or creates) the cache at path. An empty path keeps the cache in memory.
func Open(path string, inner domain.Embedder, log zerolog.Logger) (*Embedder, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "open embedding cache %s", path)
	}
	return &Embedder{inner: inner, db: db, log: log}, nil
}

func (e *Embedder) Close() error { return e.db.Close() }

func (e *Embedder) Name() string   { return e.inner.Name() }
func (e *Embedder) Dimension() int { return e.inner.Dimension() }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch serves hits from the cache and embeds all misses in a single
// call to the wrapped embedder. Entries of the wrong length count as misses.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([][]byte, len(texts))
	for i, t := range texts {
		keys[i] = e.key(t)
	}

	err := e.db.View(func(txn *badger.Txn) error {
		for i, k := range keys {
			item, err := txn.Get(k)
			if err == badger.ErrKeyNotFound {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				out[i] = decode(val, e.inner.Dimension())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "read embedding cache")
	}

	var missIdx []int
	var missTexts []string
	for i, v := range out {
		if v == nil {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, texts[i])
		}
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	fresh, err := e.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, errors.Errorf("%s returned %d vectors for %d texts", e.inner.Name(), len(fresh), len(missTexts))
	}

	wb := e.db.NewWriteBatch()
	for j, i := range missIdx {
		out[i] = fresh[j]
		if len(fresh[j]) != e.inner.Dimension() {
			// leave validation to the caller and do not cache a bad vector
			continue
		}
		if err := wb.Set(keys[i], encode(fresh[j])); err != nil {
			wb.Cancel()
			return nil, errors.Wrap(err, "write embedding cache")
		}
	}
	if err := wb.Flush(); err != nil {
		return nil, errors.Wrap(err, "flush embedding cache")
	}
	e.log.Debug().Int("hits", len(texts)-len(missTexts)).Int("misses", len(missTexts)).Msg("embedding cache batch")
	return out, nil
}

func (e *Embedder) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte("emb/" + e.inner.Name() + "/" + hex.EncodeToString(sum[:]))
}

func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// decode returns nil when val does not hold exactly dim values.
func decode(val []byte, dim int) []float32 {
	if len(val) != 4*dim {
		return nil
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(val[4*i:]))
	}
	return vec
}
