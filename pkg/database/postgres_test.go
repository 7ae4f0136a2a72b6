package database

import (
	"strings"
	"testing"

	"resumecast-search/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaStatements(t *testing.T) {
	stmts := SchemaStatements(768, model.MetricCosine)
	require.Len(t, stmts, 4)

	assert.Contains(t, stmts[0], "vector")
	table := stmts[2]
	assert.Equal(t, 3, strings.Count(table, "vector(768)"))
	assert.Contains(t, table, "resume_id uuid NOT NULL UNIQUE")
	assert.Contains(t, stmts[3], "vector_cosine_ops")

	l2 := SchemaStatements(384, model.MetricL2)
	assert.Contains(t, l2[2], "vector(384)")
	assert.Contains(t, l2[3], "vector_l2_ops")
}
