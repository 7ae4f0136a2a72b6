package model

import (
	"time"

	"github.com/pgvector/pgvector-go"
)

// ResumeEmbedding 对应于 resume_embeddings 表，每份简历一行，由 embedding worker 独占写入。
// CombinedEmbedding 始终存在，由 ContentEmbedding 与 LLMContextEmbedding 确定性地计算得到。
type ResumeEmbedding struct {
	ID                  string           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ResumeID            string           `gorm:"type:uuid;not null;uniqueIndex;column:resume_id" json:"resumeId"`
	ContentEmbedding    pgvector.Vector  `gorm:"type:vector;not null;column:content_embedding" json:"-"`
	LLMContextEmbedding *pgvector.Vector `gorm:"type:vector;column:llm_context_embedding" json:"-"`
	CombinedEmbedding   pgvector.Vector  `gorm:"type:vector;not null;column:combined_embedding" json:"-"`
	EmbeddingModel      string           `gorm:"type:varchar(100);not null;column:embedding_model" json:"embeddingModel"`
	ContentHash         string           `gorm:"type:varchar(32);not null;column:content_hash" json:"contentHash"`
	LLMContextHash      *string          `gorm:"type:varchar(32);column:llm_context_hash" json:"llmContextHash"`
	CreatedAt           time.Time        `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time        `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ResumeEmbedding) TableName() string {
	return "resume_embeddings"
}

// ResumeVisibility 是简历的归属与可见性，Elasticsearch 后端需要冗余存储它们用于过滤。
type ResumeVisibility struct {
	OwnerID     string
	IsPublic    bool
	IsPublished bool
}
