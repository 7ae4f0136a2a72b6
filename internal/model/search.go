package model

import (
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SearchRequest 定义了语义搜索 API 的请求体结构。
// 可选字段使用指针以区分"未提供"与零值。
type SearchRequest struct {
	Query         string   `json:"query" validate:"required,min=3"`
	PublicOnly    *bool    `json:"publicOnly,omitempty"`
	OwnerID       string   `json:"ownerId,omitempty" validate:"omitempty,max=64"`
	Limit         *int     `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
	Offset        *int     `json:"offset,omitempty" validate:"omitempty,min=0"`
	MinSimilarity *float64 `json:"minSimilarity,omitempty" validate:"omitempty,min=0,max=1"`
}

var validate = validator.New()

// Normalize 去除查询首尾空白。
func (r *SearchRequest) Normalize() {
	r.Query = strings.TrimSpace(r.Query)
	r.OwnerID = strings.TrimSpace(r.OwnerID)
}

// Validate validates the SearchRequest using the validator.
func (r *SearchRequest) Validate() error {
	return validate.Struct(r)
}

// Caller 是发起请求的身份，匿名调用者 UserID 为空。
type Caller struct {
	UserID string
	Role   string
}

// RoleAdmin 是管理员角色名。
const RoleAdmin = "ADMIN"

func (c Caller) Authenticated() bool { return c.UserID != "" }

func (c Caller) IsAdmin() bool { return c.Authenticated() && c.Role == RoleAdmin }

// CandidateFilter 是向量检索时施加在候选集上的过滤条件。
type CandidateFilter struct {
	// PublicOnly 要求 is_public 与 is_published 同时为 true。
	PublicOnly bool
	// OwnerID 非空时只保留该用户的简历。
	OwnerID string
	// OrOwnedBy 仅在 PublicOnly 时生效：额外放行该用户自己的简历。
	OrOwnedBy string
}

// Allows 判断一份简历当前的归属与可见性是否满足过滤条件，与向量存储中的过滤语义一致。
func (f CandidateFilter) Allows(ownerID string, isPublic, isPublished bool) bool {
	if f.OwnerID != "" && ownerID != f.OwnerID {
		return false
	}
	if f.PublicOnly && !(isPublic && isPublished) {
		return f.OrOwnedBy != "" && ownerID == f.OrOwnedBy
	}
	return true
}

// NearestQuery 是一次最近邻检索。
type NearestQuery struct {
	Vector []float32
	Filter CandidateFilter
	Metric DistanceMetric
	Limit  int
	Offset int
}

// Candidate 是向量存储按距离升序返回的一行。
type Candidate struct {
	ResumeID  string
	ModelName string
	Distance  float64
}

// SearchResult 是返回给调用方的单条结果。
type SearchResult struct {
	ID             string  `json:"id"`
	Slug           string  `json:"slug"`
	Title          string  `json:"title"`
	ContentPreview string  `json:"contentPreview"`
	OwnerID        string  `json:"ownerId"`
	OwnerName      string  `json:"ownerName,omitempty"`
	Similarity     float64 `json:"similarity"`
	Rank           int     `json:"rank"`
}

// SearchResponse 是语义搜索的响应。
// TotalApprox 是估算值而非精确计数；Total 与之相同，保留给旧调用方。
type SearchResponse struct {
	Query           string         `json:"query"`
	Results         []SearchResult `json:"results"`
	TotalApprox     int            `json:"totalApprox"`
	Total           int            `json:"total"`
	Limit           int            `json:"limit"`
	Offset          int            `json:"offset"`
	ExecutionTimeMs int64          `json:"executionTimeMs"`
}

// DistanceMetric 是向量存储使用的距离度量。
type DistanceMetric string

const (
	MetricCosine       DistanceMetric = "cosine"
	MetricL2           DistanceMetric = "l2"
	MetricInnerProduct DistanceMetric = "inner_product"
)

// Operator 返回 pgvector 对应的距离运算符。
func (m DistanceMetric) Operator() string {
	switch m {
	case MetricL2:
		return "<->"
	case MetricInnerProduct:
		return "<#>"
	default:
		return "<=>"
	}
}

// OpsClass 返回 HNSW 索引使用的 operator class。
func (m DistanceMetric) OpsClass() string {
	switch m {
	case MetricL2:
		return "vector_l2_ops"
	case MetricInnerProduct:
		return "vector_ip_ops"
	default:
		return "vector_cosine_ops"
	}
}

// Similarity 把距离换算到 [0,1]，1 表示完全相同。
// cosine 距离取值 [0,2]；l2 与 inner product 假设向量已归一化。
// pgvector 的 <#> 返回负内积。
func (m DistanceMetric) Similarity(distance float64) float64 {
	var s float64
	switch m {
	case MetricInnerProduct:
		s = (1 - distance) / 2
	default:
		s = 1 - distance/2
	}
	return math.Min(1, math.Max(0, s))
}

// Round4 保留 4 位小数。
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
