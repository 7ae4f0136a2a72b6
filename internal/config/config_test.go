package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, BackendPostgres, cfg.VectorStore.Backend)
	assert.Equal(t, "cosine", cfg.VectorStore.Distance)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, 6000, cfg.Embedding.MaxInputChars)
	assert.InDelta(t, 0.7, cfg.Embedding.ContentWeight, 1e-9)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Queue.BackoffBase)
	assert.Equal(t, 100, cfg.Queue.KeepCompleted)
	assert.Equal(t, 500, cfg.Queue.KeepFailed)
	assert.Equal(t, 10, cfg.Search.DefaultLimit)
	assert.Equal(t, 100, cfg.Search.MaxLimit)
	assert.True(t, cfg.Search.RejectModelMismatch)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
embedding:
  model: "bge-small"
  dimensions: 384
  timeout: 5s
queue:
  backoff_base: 500ms
kafka:
  brokers: "k1:9092, k2:9092"
`), 0o600))

	t.Setenv("RESUMECAST_EMBEDDING_MODEL", "from-env")
	t.Setenv("RESUMECAST_SEARCH_MAX_LIMIT", "50")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Embedding.Model)
	assert.Equal(t, 384, cfg.Embedding.Dimensions)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.BackoffBase)
	assert.Equal(t, 50, cfg.Search.MaxLimit)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.BrokerList())
}

func TestLoad_RepoConfigFile(t *testing.T) {
	cfg, err := Load("../../configs/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "resume-embeddings", cfg.Kafka.Topic)
	assert.Equal(t, 2, cfg.Worker.Concurrency)
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load("")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"weight above one":     func(c *Config) { c.Embedding.ContentWeight = 1.5 },
		"negative weight":      func(c *Config) { c.Embedding.ContentWeight = -0.1 },
		"unknown backend":      func(c *Config) { c.VectorStore.Backend = "faiss" },
		"unknown metric":       func(c *Config) { c.VectorStore.Distance = "manhattan" },
		"es without cosine":    func(c *Config) { c.VectorStore.Backend = BackendElasticsearch; c.VectorStore.Distance = "l2" },
		"zero dimensions":      func(c *Config) { c.Embedding.Dimensions = 0 },
		"zero attempts":        func(c *Config) { c.Queue.MaxAttempts = 0 },
		"zero backoff":         func(c *Config) { c.Queue.BackoffBase = 0 },
		"default above max":    func(c *Config) { c.Search.DefaultLimit = 200 },
		"similarity above one": func(c *Config) { c.Search.DefaultMinSimilarity = 2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig(t)
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_ClampsConcurrency(t *testing.T) {
	cfg := validConfig(t)
	cfg.Worker.Concurrency = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 1, cfg.Worker.Concurrency)
}

func TestBrokerList_SkipsBlanks(t *testing.T) {
	assert.Empty(t, KafkaConfig{Brokers: " , "}.BrokerList())
}
