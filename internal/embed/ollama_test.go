package embed

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/clementine-kb/clementine/internal/errors"
)

// newOllamaServer returns a test server implementing /api/tags and
// /api/embed with the given models and a fixed 4-dim embedding per input.
func newOllamaServer(t *testing.T, models []string, requests *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			type model struct {
				Name string `json:"name"`
			}
			var list []model
			for _, m := range models {
				list = append(list, model{Name: m})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"models": list})

		case "/api/embed":
			if requests != nil {
				requests.Add(1)
			}
			var req ollamaEmbedRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			count := 1
			if arr, ok := req.Input.([]any); ok {
				count = len(arr)
			}
			embeddings := make([][]float64, count)
			for i := range embeddings {
				embeddings[i] = []float64{1, 2, 3, 4}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})

		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOllamaEmbedder_DetectsDimensionsAndModel(t *testing.T) {
	srv := newOllamaServer(t, []string{"nomic-embed-text:latest"}, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(t.Context(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.Equal(t, 4, e.Dimensions())
	assert.True(t, e.Available(t.Context()))
}

func TestOllamaEmbedder_FallbackModel(t *testing.T) {
	srv := newOllamaServer(t, []string{"mxbai-embed-large:latest"}, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(t.Context(), OllamaConfig{
		Host:           srv.URL,
		Model:          "nomic-embed-text",
		FallbackModels: []string{"mxbai-embed-large"},
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "mxbai-embed-large:latest", e.ModelName())
}

func TestOllamaEmbedder_NoModelAvailable(t *testing.T) {
	srv := newOllamaServer(t, []string{"llama3:8b"}, nil)
	defer srv.Close()

	_, err := NewOllamaEmbedder(t.Context(), OllamaConfig{
		Host:           srv.URL,
		Model:          "nomic-embed-text",
		FallbackModels: []string{"mxbai-embed-large"},
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeEmbeddingUnavailable, apperrors.GetCode(err))
}

func TestOllamaEmbedder_EmbedNormalizes(t *testing.T) {
	srv := newOllamaServer(t, []string{"nomic-embed-text"}, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(t.Context(), OllamaConfig{Host: srv.URL})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(t.Context(), "some passage text")
	require.NoError(t, err)
	require.Len(t, vec, 4)

	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestOllamaEmbedder_EmptyTextSkipsNetwork(t *testing.T) {
	var requests atomic.Int64
	srv := newOllamaServer(t, []string{"nomic-embed-text"}, &requests)
	defer srv.Close()

	e, err := NewOllamaEmbedder(t.Context(), OllamaConfig{Host: srv.URL, Dimensions: 4})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	requests.Store(0)

	vec, err := e.Embed(t.Context(), "   ")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Zero(t, requests.Load())
}

func TestOllamaEmbedder_RejectionNotRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/embed" {
			requests.Add(1)
			http.Error(w, "input too long", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{{"name": "nomic-embed-text"}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(t.Context(), OllamaConfig{
		Host:            srv.URL,
		SkipHealthCheck: true,
		Dimensions:      4,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	_, err = e.Embed(t.Context(), "rejected content")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeEmbeddingRejected, apperrors.GetCode(err))
	assert.Equal(t, int64(1), requests.Load(), "rejections must not retry")
}

func TestOllamaEmbedder_ServerErrorRetried(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []map[string]string{}})
			return
		}
		if requests.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float64{{1, 0, 0, 0}}})
	}))
	defer srv.Close()

	e, err := NewOllamaEmbedder(t.Context(), OllamaConfig{
		Host:            srv.URL,
		SkipHealthCheck: true,
		Dimensions:      4,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()
	e.retryCfg.InitialDelay = time.Millisecond
	e.retryCfg.MaxDelay = 2 * time.Millisecond

	vec, err := e.Embed(t.Context(), "eventually works")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int64(3), requests.Load())
}

func TestOllamaEmbedder_BatchSplitsRequests(t *testing.T) {
	var requests atomic.Int64
	srv := newOllamaServer(t, []string{"nomic-embed-text"}, &requests)
	defer srv.Close()

	e, err := NewOllamaEmbedder(t.Context(), OllamaConfig{
		Host:            srv.URL,
		SkipHealthCheck: true,
		Dimensions:      4,
		BatchSize:       2,
	})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	texts := []string{"one", "two", "three", "four", "five"}
	vecs, err := e.EmbedBatch(t.Context(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	assert.Equal(t, int64(3), requests.Load(), "5 texts at batch size 2 need 3 requests")
	for _, v := range vecs {
		assert.Len(t, v, 4)
	}
}

func TestOllamaEmbedder_ClosedRejectsCalls(t *testing.T) {
	srv := newOllamaServer(t, []string{"nomic-embed-text"}, nil)
	defer srv.Close()

	e, err := NewOllamaEmbedder(t.Context(), OllamaConfig{Host: srv.URL, SkipHealthCheck: true, Dimensions: 4})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(t.Context(), "text")
	assert.Error(t, err)
}
