package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"resumecast-search/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		BaseURL:    baseURL,
		Model:      "nomic-embed-text",
		Dimensions: 3,
		Timeout:    2 * time.Second,
	}
}

func TestEmbed_Success(t *testing.T) {
	var got embedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3],"dimensions":3,"model":"nomic-embed-text"}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), ClassIndexing)
	res, err := c.Embed(context.Background(), "Python developer")
	require.NoError(t, err)

	assert.Equal(t, "Python developer", got.Text)
	assert.Equal(t, "nomic-embed-text", got.Model)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, res.Vector)
	assert.Equal(t, 3, res.Dimensions)
	assert.Equal(t, "nomic-embed-text", res.Model)
}

func TestEmbed_UpstreamErrorCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"ollama backend is down"}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), ClassQuery).Embed(context.Background(), "query")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, http.StatusBadGateway, svcErr.StatusCode)
	assert.Equal(t, "ollama backend is down", svcErr.Message)
}

func TestEmbed_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	_, err := NewClient(cfg, ClassIndexing).Embed(context.Background(), "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbed_EmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[],"dimensions":0,"model":"m"}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), ClassIndexing).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbed_DimensionDeclarationMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[1,2],"dimensions":3,"model":"m"}`))
	}))
	defer srv.Close()

	_, err := NewClient(testConfig(srv.URL), ClassIndexing).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestEmbed_RateLimiterHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[1],"dimensions":1,"model":"m"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RateLimits.Query = config.RateLimitConfig{RPS: 0.001, Burst: 1}
	c := NewClient(cfg, ClassQuery)

	_, err := c.Embed(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Embed(ctx, "second")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUpstreamMessage(t *testing.T) {
	assert.Equal(t, "boom", upstreamMessage([]byte(`{"error":{"message":"boom"}}`)))
	assert.Equal(t, "bad", upstreamMessage([]byte(`{"error":"bad"}`)))
	assert.Equal(t, "plain text", upstreamMessage([]byte("plain text\n")))
	assert.Equal(t, "", upstreamMessage(nil))
}

func TestEmbed_ReportsServedModel(t *testing.T) {
	for body, want := range map[string]string{
		`{"embedding":[1,0],"dimensions":2,"model":"nomic-embed-text:latest"}`: "nomic-embed-text:latest",
		`{"embedding":[1,0],"dimensions":2}`:                                   "nomic-embed-text",
	} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(body))
		}))
		res, err := NewClient(testConfig(srv.URL), ClassIndexing).Embed(context.Background(), "x")
		srv.Close()
		require.NoError(t, err)
		assert.Equal(t, want, res.Model)
	}
}
