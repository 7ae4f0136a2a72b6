package es

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexMapping(t *testing.T) {
	var m map[string]map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(IndexMapping(384)), &m))

	props := m["mappings"]["properties"]
	for _, field := range []string{"content_embedding", "llm_context_embedding", "combined_embedding"} {
		assert.Equal(t, "dense_vector", props[field]["type"], field)
		assert.Equal(t, float64(384), props[field]["dims"], field)
		assert.Equal(t, "cosine", props[field]["similarity"], field)
	}
	assert.Equal(t, "keyword", props["owner_id"]["type"])
	assert.Equal(t, "boolean", props["is_published"]["type"])
}
