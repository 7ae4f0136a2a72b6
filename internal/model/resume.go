// Package model 包含了应用的数据模型定义。
package model

import "time"

// Resume 对应于 CRUD 服务维护的 resumes 表，本服务只读。
type Resume struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      string    `gorm:"type:uuid;not null;index;column:user_id" json:"userId"`
	Slug        string    `gorm:"type:varchar(255);column:slug" json:"slug"`
	Title       string    `gorm:"type:varchar(255);column:title" json:"title"`
	Content     string    `gorm:"type:text;column:content" json:"content"`
	LLMContext  *string   `gorm:"type:text;column:llm_context" json:"-"` // 辅助上下文，仅供机器使用
	IsPublic    bool      `gorm:"not null;default:false;column:is_public" json:"isPublic"`
	IsPublished bool      `gorm:"not null;default:false;column:is_published" json:"isPublished"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Resume) TableName() string {
	return "resumes"
}

// HasLLMContext 判断是否存在非空的辅助上下文。
func (r *Resume) HasLLMContext() bool {
	return r.LLMContext != nil && *r.LLMContext != ""
}

// Visibility 返回写入向量存储时需要冗余的可见性字段。
func (r *Resume) Visibility() ResumeVisibility {
	return ResumeVisibility{OwnerID: r.UserID, IsPublic: r.IsPublic, IsPublished: r.IsPublished}
}

// ResumeSummary 是搜索结果组装时从 resumes/users 联表读取的行。
type ResumeSummary struct {
	ID             string
	Slug           string
	Title          string
	Content        string
	UserID         string
	IsPublic       bool
	IsPublished    bool
	OwnerFirstName string
	OwnerLastName  string
}

// OwnerName 返回所有者全名，缺少任一部分时返回空字符串。
func (s ResumeSummary) OwnerName() string {
	if s.OwnerFirstName == "" || s.OwnerLastName == "" {
		return ""
	}
	return s.OwnerFirstName + " " + s.OwnerLastName
}
