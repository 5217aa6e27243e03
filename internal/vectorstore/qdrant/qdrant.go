package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	"github.com/pkg/errors"

	"finrag/internal/domain"
	"finrag/internal/vectorstore"
)

const upsertBatch = 256

// Storage is a minimal REST client to Qdrant serving as a vectorstore.Index.
// The collection uses Euclid distance and point ids equal chunk ids.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	dimension int
	count     int
}

var _ vectorstore.Index = (*Storage)(nil)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Point is one vector with its chunk provenance.
type Point struct {
	Chunk  domain.Chunk
	Vector []float32
}

// Recreate drops the collection if present and creates it empty.
func (s *Storage) Recreate(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.Errorf("invalid dimension %d", dimension)
	}
	if err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil, http.StatusNotFound); err != nil {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Euclid",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return err
	}
	s.dimension = dimension
	s.count = 0
	return nil
}

// Upsert writes points in batches and waits for each batch to be applied.
func (s *Storage) Upsert(ctx context.Context, points []Point) error {
	for lo := 0; lo < len(points); lo += upsertBatch {
		hi := min(lo+upsertBatch, len(points))
		batch := make([]map[string]any, 0, hi-lo)
		for _, p := range points[lo:hi] {
			if len(p.Vector) != s.dimension {
				return errors.Wrapf(domain.ErrDimensionMismatch, "point %d has %d values, collection expects %d", p.Chunk.ID, len(p.Vector), s.dimension)
			}
			batch = append(batch, map[string]any{
				"id":     p.Chunk.ID,
				"vector": p.Vector,
				"payload": map[string]any{
					"source": p.Chunk.Source,
					"url":    p.Chunk.URL,
				},
			})
		}
		body := map[string]any{"points": batch}
		if err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil); err != nil {
			return errors.Wrapf(err, "upsert points [%d:%d]", lo, hi)
		}
		s.count += hi - lo
	}
	return nil
}

// Open reads the collection shape so Count and Dimension can be served locally.
func (s *Storage) Open(ctx context.Context) error {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, &resp); err != nil {
		return err
	}
	v := resp.Result.Config.Params.Vectors
	if v.Distance != "Euclid" {
		return errors.Wrapf(domain.ErrIntegrity, "collection %s uses %s distance, want Euclid", s.collection, v.Distance)
	}
	s.dimension = v.Size
	s.count = resp.Result.PointsCount
	return nil
}

func (s *Storage) Count() int     { return s.count }
func (s *Storage) Dimension() int { return s.dimension }

// Search returns up to k points by ascending squared L2 distance.
func (s *Storage) Search(ctx context.Context, query []float32, k int) ([]vectorstore.Neighbor, error) {
	if len(query) != s.dimension {
		return nil, errors.Wrapf(domain.ErrDimensionMismatch, "query has %d values, collection expects %d", len(query), s.dimension)
	}
	if k <= 0 || s.count == 0 {
		return nil, nil
	}
	req := map[string]any{
		"vector":       query,
		"limit":        min(k, s.count),
		"with_payload": false,
	}
	var resp struct {
		Result []struct {
			ID    int     `json:"id"`
			Score float64 `json:"score"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]vectorstore.Neighbor, 0, len(resp.Result))
	for _, r := range resp.Result {
		// Euclid score is the plain distance
		hits = append(hits, vectorstore.Neighbor{ID: r.ID, Distance: float32(r.Score * r.Score)})
	}
	slices.SortStableFunc(hits, func(a, b vectorstore.Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return a.ID - b.ID
	})
	return hits, nil
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

// do sends body as JSON and decodes the response into out when non-nil.
// Statuses listed in allow are treated as success.
func (s *Storage) do(ctx context.Context, method, url string, body, out any, allow ...int) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode qdrant request")
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return errors.Wrap(err, "build qdrant request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "qdrant %s %s", method, url)
	}
	defer resp.Body.Close()
	if slices.Contains(allow, resp.StatusCode) {
		return nil
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.Errorf("qdrant %s %s failed: %s %s", method, url, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode qdrant response")
	}
	return nil
}
