package repository

import (
	"context"
	"errors"

	"resumecast-search/internal/model"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmbeddingRepository 定义了向量存储的操作，每份简历一条记录。
type EmbeddingRepository interface {
	// Upsert 原子地插入或整体覆盖某份简历的向量记录。
	// vis 是写入时简历的可见性，只有需要冗余过滤字段的后端才会使用。
	Upsert(ctx context.Context, rec *model.ResumeEmbedding, vis model.ResumeVisibility) error
	FindByResumeID(ctx context.Context, resumeID string) (*model.ResumeEmbedding, error)
	// Nearest 按距离升序返回 [Offset, Offset+Limit) 区间内的候选。
	Nearest(ctx context.Context, q model.NearestQuery) ([]model.Candidate, error)
}

// upsertColumns 是冲突时整体覆盖的列，created_at 保持首次写入的值。
var upsertColumns = []string{
	"content_embedding",
	"llm_context_embedding",
	"combined_embedding",
	"embedding_model",
	"content_hash",
	"llm_context_hash",
	"updated_at",
}

// pgEmbeddingRepository 是基于 PostgreSQL + pgvector 的实现。
type pgEmbeddingRepository struct {
	db *gorm.DB
}

// NewEmbeddingRepository 创建一个新的 pgvector EmbeddingRepository 实例。
func NewEmbeddingRepository(db *gorm.DB) EmbeddingRepository {
	return &pgEmbeddingRepository{db: db}
}

// Upsert 使用单条 INSERT ... ON CONFLICT (resume_id) DO UPDATE 语句。
func (r *pgEmbeddingRepository) Upsert(ctx context.Context, rec *model.ResumeEmbedding, _ model.ResumeVisibility) error {
	return r.db.WithContext(ctx).Clauses(upsertClause()).Create(rec).Error
}

func upsertClause() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "resume_id"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}
}

// FindByResumeID 根据简历 ID 查找向量记录，不存在时返回 ErrNotFound。
func (r *pgEmbeddingRepository) FindByResumeID(ctx context.Context, resumeID string) (*model.ResumeEmbedding, error) {
	var rec model.ResumeEmbedding
	err := r.db.WithContext(ctx).Where("resume_id = ?", resumeID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type nearestRow struct {
	ResumeID       string
	EmbeddingModel string
	Distance       float64
}

// Nearest 执行带过滤条件的最近邻查询。
func (r *pgEmbeddingRepository) Nearest(ctx context.Context, q model.NearestQuery) ([]model.Candidate, error) {
	var rows []nearestRow
	if err := nearestQuery(r.db.WithContext(ctx), q).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.Candidate{
			ResumeID:  row.ResumeID,
			ModelName: row.EmbeddingModel,
			Distance:  row.Distance,
		})
	}
	return out, nil
}

func nearestQuery(db *gorm.DB, q model.NearestQuery) *gorm.DB {
	vec := pgvector.NewVector(q.Vector)
	tx := db.Table("resume_embeddings re").
		Select("re.resume_id, re.embedding_model, re.combined_embedding "+q.Metric.Operator()+" ? AS distance", vec).
		Joins("JOIN resumes r ON r.id = re.resume_id").
		Where("re.combined_embedding IS NOT NULL")
	tx = applyCandidateFilter(tx, q.Filter)
	return tx.Order("distance ASC").Limit(q.Limit).Offset(q.Offset)
}

func applyCandidateFilter(tx *gorm.DB, f model.CandidateFilter) *gorm.DB {
	if f.PublicOnly {
		if f.OrOwnedBy != "" {
			tx = tx.Where("((r.is_public = ? AND r.is_published = ?) OR r.user_id = ?)", true, true, f.OrOwnedBy)
		} else {
			tx = tx.Where("r.is_public = ? AND r.is_published = ?", true, true)
		}
	}
	if f.OwnerID != "" {
		tx = tx.Where("r.user_id = ?", f.OwnerID)
	}
	return tx
}
