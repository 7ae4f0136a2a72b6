package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobType(t *testing.T) {
	cases := map[string]JobType{
		"create":  JobTypeCreate,
		"UPDATE":  JobTypeUpdate,
		" manual": JobTypeManual,
		"":        JobTypeManual,
	}
	for in, want := range cases {
		got, err := ParseJobType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseJobType("delete")
	assert.Error(t, err)
}

func TestEmbeddingTask_Validate(t *testing.T) {
	ok := EmbeddingTask{JobID: "j1", ResumeID: "r1", Type: JobTypeCreate, Attempt: 1}
	assert.NoError(t, ok.Validate())

	missing := EmbeddingTask{Type: JobTypeCreate}
	assert.ErrorContains(t, missing.Validate(), "resume_id")

	badType := EmbeddingTask{ResumeID: "r1", Type: "bogus"}
	assert.ErrorContains(t, badType.Validate(), "bogus")
}
