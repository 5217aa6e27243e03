// Package indexer turns a corpus directory into a persisted vector index and
// its aligned chunk metadata.
package indexer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"finrag/internal/domain"
	"finrag/internal/embedding"
	"finrag/internal/loader"
	"finrag/internal/metadata"
	"finrag/internal/metrics"
	"finrag/internal/vectorstore/flat"
	"finrag/internal/vectorstore/qdrant"
)

// Config locates the output files and controls embedding fan-out.
type Config struct {
	IndexPath    string
	MetadataPath string
	BatchSize    int
	Concurrency  int
}

// Stats summarises one indexing run.
type Stats struct {
	Documents int
	Skipped   int
	Failed    int
	Chunks    int
	Dimension int
	Duration  time.Duration
}

// Result is the outcome of Run. Index and Metadata are the artifacts that were written.
type Result struct {
	Stats    Stats
	Index    *flat.Index
	Metadata *metadata.Store
}

// Indexer wires loader, chunker and embedder into one offline build.
type Indexer struct {
	loader   *loader.Loader
	chunker  domain.Chunker
	embedder domain.Embedder
	cfg      Config
	remote   *qdrant.Storage
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Indexer)

// WithQdrant also publishes the vectors to a Qdrant collection, replacing its contents.
func WithQdrant(s *qdrant.Storage) Option { return func(ix *Indexer) { ix.remote = s } }

func WithLogger(log zerolog.Logger) Option { return func(ix *Indexer) { ix.log = log } }

func WithMetrics(m *metrics.Metrics) Option { return func(ix *Indexer) { ix.metrics = m } }

func New(l *loader.Loader, c domain.Chunker, e domain.Embedder, cfg Config, opts ...Option) *Indexer {
	ix := &Indexer{loader: l, chunker: c, embedder: e, cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Run loads every supported file under corpusDir, splits it into chunks with
// sequential ids, embeds them and writes index and metadata. No file is
// touched unless every chunk was embedded.
func (ix *Indexer) Run(ctx context.Context, corpusDir string) (*Result, error) {
	start := time.Now()

	var chunks []domain.Chunk
	walk, err := ix.loader.Walk(ctx, corpusDir, func(doc domain.Document) error {
		for _, text := range ix.chunker.Split(doc.Content) {
			chunks = append(chunks, domain.Chunk{
				ID:     len(chunks),
				Text:   text,
				Source: doc.Source,
				URL:    doc.URL,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ix.log.Info().
		Int("loaded", walk.Loaded).
		Int("skipped", walk.Skipped).
		Int("failed", walk.Failed).
		Int("chunks", len(chunks)).
		Msg("corpus loaded")
	if len(chunks) == 0 {
		return nil, errors.Wrapf(domain.ErrEmptyCorpus, "%s", corpusDir)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := embedding.EmbedAll(ctx, ix.embedder, texts, embedding.Options{
		BatchSize:   ix.cfg.BatchSize,
		Concurrency: ix.cfg.Concurrency,
		Log:         ix.log,
		Metrics:     ix.metrics,
	})
	if err != nil {
		return nil, errors.Wrap(err, "embed chunks")
	}

	index, err := flat.Build(ix.embedder.Dimension(), vecs)
	if err != nil {
		return nil, errors.Wrap(err, "build index")
	}
	meta, err := metadata.NewStore(chunks)
	if err != nil {
		return nil, err
	}

	if ix.remote != nil {
		if err := ix.publish(ctx, chunks, vecs); err != nil {
			return nil, err
		}
	}
	if err := ix.persist(index, chunks); err != nil {
		return nil, err
	}

	stats := Stats{
		Documents: walk.Loaded,
		Skipped:   walk.Skipped,
		Failed:    walk.Failed,
		Chunks:    len(chunks),
		Dimension: index.Dimension(),
		Duration:  time.Since(start),
	}
	ix.log.Info().
		Int("chunks", stats.Chunks).
		Int("dimension", stats.Dimension).
		Str("embedder", ix.embedder.Name()).
		Dur("took", stats.Duration).
		Msg("index built")
	return &Result{Stats: stats, Index: index, Metadata: meta}, nil
}

func (ix *Indexer) persist(index *flat.Index, chunks []domain.Chunk) error {
	// both files are staged before either replaces its previous version
	indexTmp, err := stage(ix.cfg.IndexPath, index.Encode)
	if err != nil {
		return errors.Wrap(err, "save index")
	}
	metaTmp, err := stage(ix.cfg.MetadataPath, func(w io.Writer) error {
		return metadata.Encode(w, chunks)
	})
	if err != nil {
		_ = os.Remove(indexTmp)
		return errors.Wrap(err, "write metadata")
	}
	if err := os.Rename(indexTmp, ix.cfg.IndexPath); err != nil {
		_ = os.Remove(indexTmp)
		_ = os.Remove(metaTmp)
		return errors.Wrap(err, "replace index file")
	}
	return errors.Wrap(os.Rename(metaTmp, ix.cfg.MetadataPath), "replace metadata file")
}

// stage writes path+".tmp" with encode and returns its name.
func stage(path string, encode func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrap(err, "create dir")
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", errors.Wrap(err, "create file")
	}
	err = encode(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func (ix *Indexer) publish(ctx context.Context, chunks []domain.Chunk, vecs [][]float32) error {
	if err := ix.remote.Recreate(ctx, ix.embedder.Dimension()); err != nil {
		return errors.Wrap(err, "recreate qdrant collection")
	}
	points := make([]qdrant.Point, len(chunks))
	for i, c := range chunks {
		points[i] = qdrant.Point{Chunk: c, Vector: vecs[i]}
	}
	if err := ix.remote.Upsert(ctx, points); err != nil {
		return err
	}
	ix.log.Info().Int("points", len(points)).Msg("qdrant collection replaced")
	return nil
}
