// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"

	"resumecast-search/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound 表示请求的记录不存在。
var ErrNotFound = errors.New("record not found")

// ResumeRepository 接口定义了对 resumes 表的只读操作。
type ResumeRepository interface {
	FindByID(ctx context.Context, id string) (*model.Resume, error)
	// FindSummariesByIDs 批量读取搜索结果需要的简历与所有者信息，不存在的 ID 会被忽略。
	FindSummariesByIDs(ctx context.Context, ids []string) ([]model.ResumeSummary, error)
	ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
}

// resumeRepository 是 ResumeRepository 接口的 GORM 实现。
type resumeRepository struct {
	db *gorm.DB
}

// NewResumeRepository 创建一个新的 ResumeRepository 实例。
func NewResumeRepository(db *gorm.DB) ResumeRepository {
	return &resumeRepository{db: db}
}

// FindByID 根据简历 ID 查找简历，不存在时返回 ErrNotFound。
func (r *resumeRepository) FindByID(ctx context.Context, id string) (*model.Resume, error) {
	var resume model.Resume
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&resume).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &resume, nil
}

const summaryColumns = "r.id, r.slug, r.title, r.content, r.user_id, r.is_public, r.is_published, " +
	"COALESCE(u.first_name, '') AS owner_first_name, COALESCE(u.last_name, '') AS owner_last_name"

// FindSummariesByIDs finds résumé summaries by a slice of IDs, joined with their owners.
// The current visibility flags are included so callers can re-check them against the vector store's copy.
func (r *resumeRepository) FindSummariesByIDs(ctx context.Context, ids []string) ([]model.ResumeSummary, error) {
	var rows []model.ResumeSummary
	if len(ids) == 0 {
		return rows, nil
	}
	err := r.db.WithContext(ctx).
		Table("resumes r").
		Select(summaryColumns).
		Joins("LEFT JOIN users u ON u.id = r.user_id").
		Where("r.id IN ?", ids).
		Find(&rows).Error
	return rows, err
}

// ListIDsByOwner 返回指定用户的所有简历 ID。
func (r *resumeRepository) ListIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&model.Resume{}).
		Where("user_id = ?", ownerID).
		Order("created_at asc").
		Pluck("id", &ids).Error
	return ids, err
}
