package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upb/context-engine/config"
	"github.com/upb/context-engine/internal/observability"
	"github.com/upb/context-engine/services"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func writeEmbedding(w http.ResponseWriter, vec []float64) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data": []map[string]interface{}{{"embedding": vec}},
	})
}

func testConfig(baseURL string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		BaseURL:    baseURL,
		APIKey:     "sk-test",
		Model:      "test-model",
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	}
}

func TestClient_Embed(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "test-model", body.Model)
		assert.Equal(t, "what is on my calendar", body.Input)

		writeEmbedding(w, []float64{0.1, 0.2, 0.3})
	})

	c := NewClient(testConfig(srv.URL))
	vec, err := c.Embed(context.Background(), "what is on my calendar")

	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "test-model", c.Model())
}

func TestClient_EmbedErrors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCalls int32
		check     func(*testing.T, error)
	}{
		{
			name: "client error is not retried",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":"bad model"}`, http.StatusBadRequest)
			},
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrEmbeddingFailed)
				assert.Equal(t, http.StatusBadRequest, services.GetErrorDetails(err)["status"])
			},
		},
		{
			name: "server error is retried then fails",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantCalls: 3,
			check: func(t *testing.T, err error) {
				assert.True(t, services.IsExternalError(err))
				assert.Equal(t, http.StatusBadGateway, services.GetErrorDetails(err)["status"])
			},
		},
		{
			name: "empty data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"data":[]}`))
			},
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrEmbeddingFailed)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, services.ErrEmbeddingFailed)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := newTestServer(t, tt.handler)
			c := NewClient(testConfig(srv.URL), WithBackoff(time.Millisecond))

			vec, err := c.Embed(context.Background(), "hello")

			require.Error(t, err)
			assert.Nil(t, vec)
			assert.Equal(t, tt.wantCalls, calls.Load())
			tt.check(t, err)
		})
	}
}

func TestClient_EmbedRetriesUntilSuccess(t *testing.T) {
	var n atomic.Int32
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeEmbedding(w, []float64{1})
	})

	c := NewClient(testConfig(srv.URL), WithBackoff(time.Millisecond))
	vec, err := c.Embed(context.Background(), "hello")

	require.NoError(t, err)
	assert.Equal(t, []float64{1}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_EmbedTimeout(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	c := NewClient(cfg)

	start := time.Now()
	_, err := c.Embed(context.Background(), "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrEmbeddingTimeout)
	assert.True(t, services.IsTimeoutError(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_EmbedCanceledByCaller(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	metrics := observability.NewPrometheusMetrics()
	c := NewClient(testConfig(srv.URL), WithMetrics(metrics))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := c.Embed(ctx, "hello")

	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrEmbeddingCanceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, services.IsExternalError(err))
	assert.False(t, services.IsTimeoutError(err))

	failures, err := testutil.GatherAndCount(metrics.Registry(), "context_engine_embedding_errors_total")
	require.NoError(t, err)
	assert.Zero(t, failures)
}

func TestClient_Cache(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEmbedding(w, []float64{0.5, 0.5})
	})

	metrics := observability.NewPrometheusMetrics()
	cfg := testConfig(srv.URL)
	cfg.CacheSize = 8
	c := NewClient(cfg, WithMetrics(metrics))

	for i := 0; i < 3; i++ {
		vec, err := c.Embed(context.Background(), "same text")
		require.NoError(t, err)
		assert.Equal(t, []float64{0.5, 0.5}, vec)
	}
	_, err := c.Embed(context.Background(), "other text")
	require.NoError(t, err)

	assert.Equal(t, int32(2), calls.Load())
	expected := `
# HELP context_engine_embedding_cache_hits_total Total number of embedding cache hits
# TYPE context_engine_embedding_cache_hits_total counter
context_engine_embedding_cache_hits_total 2
# HELP context_engine_embedding_cache_misses_total Total number of embedding cache misses
# TYPE context_engine_embedding_cache_misses_total counter
context_engine_embedding_cache_misses_total 2
`
	assert.NoError(t, testutil.GatherAndCompare(metrics.Registry(), strings.NewReader(expected),
		"context_engine_embedding_cache_hits_total", "context_engine_embedding_cache_misses_total"))
}

func TestClient_CacheKeyIncludesModel(t *testing.T) {
	a := NewClient(config.EmbeddingConfig{Model: "a"})
	b := NewClient(config.EmbeddingConfig{Model: "b"})

	assert.NotEqual(t, a.cacheKey("text"), b.cacheKey("text"))
	assert.Equal(t, a.cacheKey("text"), a.cacheKey("text"))
}

func TestClient_RateLimit(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEmbedding(w, []float64{1})
	})

	cfg := testConfig(srv.URL)
	cfg.RateLimit = 1000
	c := NewClient(cfg)
	require.NotNil(t, c.limiter)

	for i := 0; i < 5; i++ {
		_, err := c.Embed(context.Background(), "hello")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestClient_EmbedAsync(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEmbedding(w, []float64{0.25})
	})

	c := NewClient(testConfig(srv.URL))
	ch := c.EmbedAsync(context.Background(), "hello")

	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Equal(t, []float64{0.25}, res.Embedding)
	case <-time.After(2 * time.Second):
		t.Fatal("EmbedAsync did not deliver a result")
	}
}

func TestClient_EmbedAsyncError(t *testing.T) {
	srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := NewClient(testConfig(srv.URL))
	res := <-c.EmbedAsync(context.Background(), "hello")

	assert.ErrorIs(t, res.Err, services.ErrEmbeddingFailed)
	assert.Nil(t, res.Embedding)
}
