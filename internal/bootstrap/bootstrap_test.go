package bootstrap

import (
	"testing"

	"resumecast-search/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVectorStore_Postgres(t *testing.T) {
	cfg := &config.Config{VectorStore: config.VectorStoreConfig{Backend: config.BackendPostgres}}
	store, err := newVectorStore(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, store)
}

func TestNewVectorStore_Unknown(t *testing.T) {
	cfg := &config.Config{VectorStore: config.VectorStoreConfig{Backend: "faiss"}}
	_, err := newVectorStore(cfg, nil)
	assert.Error(t, err)
}
