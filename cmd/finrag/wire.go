package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"finrag/internal/answer"
	"finrag/internal/chunker"
	"finrag/internal/config"
	"finrag/internal/domain"
	"finrag/internal/embedding/cache"
	"finrag/internal/embedding/hashing"
	"finrag/internal/embedding/ollama"
	"finrag/internal/embedding/openai"
	"finrag/internal/indexer"
	"finrag/internal/loader"
	"finrag/internal/metrics"
	"finrag/internal/service"
	"finrag/internal/summarizer"
	"finrag/internal/ticker"
	"finrag/internal/vectorstore/qdrant"
)

// app carries what every command needs and assembles components on demand.
type app struct {
	cfgPath string
	cfg     *config.AppConfig
	log     zerolog.Logger
	metrics *metrics.Metrics

	emb     domain.Embedder
	closers []func() error
}

func (a *app) close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// embedder builds the configured embedder once, wrapped in the badger cache when enabled.
func (a *app) embedder() (domain.Embedder, error) {
	if a.emb != nil {
		return a.emb, nil
	}
	ec := a.cfg.Embedder
	var emb domain.Embedder
	switch ec.Type {
	case "hashing":
		h, err := hashing.NewEmbedder(ec.Dimensions)
		if err != nil {
			return nil, err
		}
		emb = h
	case "openai":
		client, err := openai.NewClient(openai.Config{
			BaseURL:           ec.OpenAI.BaseURL,
			APIKeyEnv:         ec.OpenAI.APIKeyEnv,
			Model:             ec.OpenAI.Model,
			Timeout:           secs(ec.OpenAI.TimeoutSecs),
			Dimension:         ec.Dimensions,
			RequestDimensions: strings.HasPrefix(ec.OpenAI.Model, "text-embedding-3"),
			RequestsPerSecond: ec.OpenAI.RequestsPerSecond,
		})
		if err != nil {
			return nil, errors.Wrap(err, "openai embedder init failed")
		}
		emb = client
	case "ollama":
		client, err := ollama.NewClient(ollama.Config{
			BaseURL:   ec.Ollama.BaseURL,
			Model:     ec.Ollama.Model,
			Dimension: ec.Dimensions,
			Timeout:   secs(ec.Ollama.TimeoutSecs),
		})
		if err != nil {
			return nil, errors.Wrap(err, "ollama embedder init failed")
		}
		emb = client
	default:
		return nil, errors.Errorf("unknown embedder: %s", ec.Type)
	}

	// hashing is cheaper to recompute than to look up
	if ec.Cache.Enabled && ec.Type != "hashing" {
		c, err := cache.Open(ec.Cache.Path, emb, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		emb = c
	}
	a.log.Debug().Str("embedder", emb.Name()).Int("dimension", emb.Dimension()).Msg("embedder ready")
	a.emb = emb
	return emb, nil
}

func (a *app) qdrant() *qdrant.Storage {
	q := a.cfg.VectorStore.Qdrant
	return qdrant.NewStorage(qdrant.Config{
		URL:        q.URL,
		APIKey:     os.Getenv(q.APIKeyEnv),
		Collection: q.Collection,
		Timeout:    secs(q.TimeoutSecs),
	})
}

func (a *app) indexer() (*indexer.Indexer, error) {
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	l := loader.New(a.log, loader.WithBaseURL(a.cfg.Corpus.BaseURL))
	ch := chunker.NewRecursive(a.cfg.Chunker.ChunkSize, a.cfg.Chunker.ChunkOverlap)
	opts := []indexer.Option{indexer.WithLogger(a.log), indexer.WithMetrics(a.metrics)}
	switch a.cfg.VectorStore.Type {
	case "flat":
	case "qdrant":
		opts = append(opts, indexer.WithQdrant(a.qdrant()))
	default:
		return nil, errors.Errorf("unknown vector store: %s", a.cfg.VectorStore.Type)
	}
	return indexer.New(l, ch, emb, indexer.Config{
		IndexPath:    a.cfg.Index.Path,
		MetadataPath: a.cfg.Index.MetadataPath,
		BatchSize:    a.cfg.Embedder.BatchSize,
		Concurrency:  a.cfg.Embedder.Concurrency,
	}, opts...), nil
}

// retriever returns an empty retriever; loadIndex installs the index.
func (a *app) retriever() (*service.Retriever, error) {
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	return service.NewRetriever(emb,
		service.WithDefaultTopK(a.cfg.Retrieval.TopK),
		service.WithLogger(a.log),
		service.WithMetrics(a.metrics),
	), nil
}

// loadIndex (re)installs the persisted index into r. The previous index keeps
// serving when loading fails.
func (a *app) loadIndex(ctx context.Context, r *service.Retriever) error {
	switch a.cfg.VectorStore.Type {
	case "flat":
		return r.LoadFiles(a.cfg.Index.Path, a.cfg.Index.MetadataPath)
	case "qdrant":
		store := a.qdrant()
		if err := store.Open(ctx); err != nil {
			return errors.Wrap(err, "open qdrant collection")
		}
		return r.LoadMetadata(store, a.cfg.Index.MetadataPath)
	default:
		return errors.Errorf("unknown vector store: %s", a.cfg.VectorStore.Type)
	}
}

func (a *app) matcher() (*ticker.Matcher, error) {
	emb, err := a.embedder()
	if err != nil {
		return nil, err
	}
	return ticker.NewMatcher(emb,
		ticker.WithDefaultTopN(a.cfg.Ticker.TopN),
		ticker.WithMinQueryLength(a.cfg.Ticker.MinQueryLength),
		ticker.WithBatchSize(a.cfg.Embedder.BatchSize),
		ticker.WithLogger(a.log),
		ticker.WithMetrics(a.metrics),
	), nil
}

func (a *app) initMatcher(ctx context.Context, m *ticker.Matcher) error {
	return m.Init(ctx, a.cfg.Ticker.RosterPath, a.cfg.Ticker.CacheDir)
}

func (a *app) policy(r answer.Retriever) (*answer.Policy, error) {
	ac := a.cfg.Answer
	opts := []answer.Option{answer.WithTopK(a.cfg.Retrieval.TopK), answer.WithLogger(a.log)}
	var gen answer.Generator
	switch ac.Generator {
	case "extractive":
		gen = summarizer.NewExtractive(ac.MaxSentences)
	case "openai":
		chat, err := answer.NewChatGenerator(answer.ChatConfig{
			BaseURL:           ac.OpenAI.BaseURL,
			APIKeyEnv:         ac.OpenAI.APIKeyEnv,
			Model:             ac.OpenAI.Model,
			Timeout:           secs(ac.OpenAI.TimeoutSecs),
			Temperature:       ac.OpenAI.Temperature,
			RequestsPerSecond: ac.OpenAI.RequestsPerSecond,
		})
		if err != nil {
			return nil, errors.Wrap(err, "chat generator init failed")
		}
		gen = chat
		opts = append(opts, answer.WithFallback(chat))
	default:
		return nil, errors.Errorf("unknown answer generator: %s", ac.Generator)
	}
	return answer.NewPolicy(r, gen, ac.FallbackMessage, opts...), nil
}
