package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		out := make([][]float32, len(req.Input))
		for i := range req.Input {
			out[i] = []float32{float32(i), 1}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": out})
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 2})
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"x", "y", "z"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vecs)
	assert.Equal(t, "ollama:nomic-embed-text", c.Name())
}

func TestEmbed_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 2})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{Dimension: 2})
	assert.Error(t, err)
	_, err = NewClient(Config{Model: "m"})
	assert.Error(t, err)
}
