// Package ollama embeds text with a model served by a local Ollama runtime.
package ollama

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkg/errors"
)

type Config struct {
	// BaseURL of the runtime; empty uses OLLAMA_HOST or the default localhost address.
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// Client implements domain.Embedder over the Ollama embed API.
type Client struct {
	client    *api.Client
	model     string
	dimension int
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("ollama model is required")
	}
	if cfg.Dimension <= 0 {
		return nil, errors.Errorf("invalid dimension %d", cfg.Dimension)
	}
	var (
		client *api.Client
		err    error
	)
	if cfg.BaseURL == "" {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, errors.Wrap(err, "ollama client from environment")
		}
	} else {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, errors.Wrapf(err, "parse ollama url %q", cfg.BaseURL)
		}
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		client = api.NewClient(u, &http.Client{Timeout: timeout})
	}
	return &Client{client: client, model: cfg.Model, dimension: cfg.Dimension}, nil
}

func (c *Client) Name() string   { return "ollama:" + c.model }
func (c *Client) Dimension() int { return c.dimension }

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided for embedding")
	}
	resp, err := c.client.Embed(ctx, &api.EmbedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, errors.Wrapf(err, "ollama embed with %s", c.model)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, errors.Errorf("ollama returned %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}
