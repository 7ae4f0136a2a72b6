package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"resumecast-search/internal/config"
	"resumecast-search/internal/model"
	"resumecast-search/internal/repository"
	"resumecast-search/pkg/embedding"
	"resumecast-search/pkg/log"
	"resumecast-search/pkg/metrics"
)

// SearchService 接口定义了语义搜索操作。
type SearchService interface {
	Search(ctx context.Context, req model.SearchRequest, caller model.Caller) (*model.SearchResponse, error)
}

type searchService struct {
	cfg             config.SearchConfig
	metric          model.DistanceMetric
	embeddingClient embedding.Client
	store           repository.EmbeddingRepository
	resumeRepo      repository.ResumeRepository
	now             func() time.Time
}

// NewSearchService 创建一个新的 SearchService 实例。
// embeddingClient 应使用 query 流量类型，与 worker 的限流分开。
func NewSearchService(
	cfg config.SearchConfig,
	metric model.DistanceMetric,
	embeddingClient embedding.Client,
	store repository.EmbeddingRepository,
	resumeRepo repository.ResumeRepository,
) SearchService {
	return &searchService{
		cfg:             cfg,
		metric:          metric,
		embeddingClient: embeddingClient,
		store:           store,
		resumeRepo:      resumeRepo,
		now:             time.Now,
	}
}

// BuildCandidateFilter 根据调用者身份决定实际生效的可见性过滤条件。
// 未授权的 ownerId 过滤会被忽略，并强制只看公开且已发布的简历。
func BuildCandidateFilter(caller model.Caller, publicOnly bool, ownerID string) model.CandidateFilter {
	switch {
	case caller.IsAdmin():
		return model.CandidateFilter{PublicOnly: publicOnly, OwnerID: ownerID}
	case caller.Authenticated() && ownerID == caller.UserID:
		return model.CandidateFilter{PublicOnly: publicOnly, OwnerID: ownerID}
	case caller.Authenticated() && !publicOnly && ownerID == "":
		return model.CandidateFilter{PublicOnly: true, OrOwnedBy: caller.UserID}
	default:
		return model.CandidateFilter{PublicOnly: true}
	}
}

// Search 执行语义搜索。
func (s *searchService) Search(ctx context.Context, req model.SearchRequest, caller model.Caller) (*model.SearchResponse, error) {
	start := s.now()
	m := metrics.Get()
	defer func() { m.SearchDuration.Observe(s.now().Sub(start).Seconds()) }()

	// 1. 校验请求，任何网络调用之前
	req.Normalize()
	if err := req.Validate(); err != nil {
		m.SearchRequests.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidSearch, err)
	}
	limit := s.cfg.DefaultLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	offset := 0
	if req.Offset != nil {
		offset = *req.Offset
	}
	minSimilarity := s.cfg.DefaultMinSimilarity
	if req.MinSimilarity != nil {
		minSimilarity = *req.MinSimilarity
	}
	publicOnly := true
	if req.PublicOnly != nil {
		publicOnly = *req.PublicOnly
	}
	filter := BuildCandidateFilter(caller, publicOnly, req.OwnerID)
	log.Infof("[SearchService] 开始搜索, query: '%s', limit: %d, offset: %d, minSimilarity: %.2f, filter: %+v",
		req.Query, limit, offset, minSimilarity, filter)

	// 2. 向量化查询
	queryVec, err := s.embeddingClient.Embed(ctx, req.Query)
	if err != nil {
		m.SearchRequests.WithLabelValues("unavailable").Inc()
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}

	// 3. 最近邻检索
	candidates, err := s.store.Nearest(ctx, model.NearestQuery{
		Vector: queryVec.Vector,
		Filter: filter,
		Metric: s.metric,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		m.SearchRequests.WithLabelValues("unavailable").Inc()
		log.Errorf("[SearchService] 向量检索失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}

	// 4. 批量读取简历摘要
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.ResumeID)
	}
	summaries, err := s.resumeRepo.FindSummariesByIDs(ctx, ids)
	if err != nil {
		m.SearchRequests.WithLabelValues("unavailable").Inc()
		log.Errorf("[SearchService] 批量查询简历信息失败: %v", err)
		return nil, fmt.Errorf("%w: %w", ErrSearchUnavailable, err)
	}
	byID := make(map[string]model.ResumeSummary, len(summaries))
	for _, sm := range summaries {
		byID[sm.ID] = sm
	}

	// 5. 组装结果：排序之后再按相似度阈值过滤
	results := make([]model.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.ModelName != queryVec.Model {
			m.ModelMismatch.Inc()
			log.Warnf("[SearchService] 候选向量模型与查询模型不一致, ResumeID: %s, stored: %s, query: %s",
				c.ResumeID, c.ModelName, queryVec.Model)
			if s.cfg.RejectModelMismatch {
				continue
			}
		}
		sm, ok := byID[c.ResumeID]
		if !ok {
			log.Debugf("[SearchService] 候选简历已不存在, ResumeID: %s", c.ResumeID)
			continue
		}
		// 向量存储中冗余的可见性可能已过期，以 resumes 表的当前值为准
		if !filter.Allows(sm.UserID, sm.IsPublic, sm.IsPublished) {
			log.Warnf("[SearchService] 候选简历的可见性已变化, 跳过, ResumeID: %s", c.ResumeID)
			continue
		}
		similarity := model.Round4(s.metric.Similarity(c.Distance))
		if similarity < minSimilarity {
			continue
		}
		results = append(results, model.SearchResult{
			ID:             sm.ID,
			Slug:           sm.Slug,
			Title:          sm.Title,
			ContentPreview: Preview(sm.Content, s.cfg.PreviewLength),
			OwnerID:        sm.UserID,
			OwnerName:      sm.OwnerName(),
			Similarity:     similarity,
			Rank:           offset + len(results) + 1,
		})
	}

	totalApprox := offset + len(results)
	if len(results) >= limit {
		totalApprox = offset + limit + 1
	}
	elapsed := s.now().Sub(start).Milliseconds()
	m.SearchRequests.WithLabelValues("ok").Inc()
	log.Infof("[SearchService] 搜索完成: '%s' → %d 条结果, 耗时 %dms", req.Query, len(results), elapsed)

	return &model.SearchResponse{
		Query:           req.Query,
		Results:         results,
		TotalApprox:     totalApprox,
		Total:           totalApprox,
		Limit:           limit,
		Offset:          offset,
		ExecutionTimeMs: elapsed,
	}, nil
}

// Preview 截断到 n 个字符并追加省略号。
func Preview(content string, n int) string {
	if n <= 0 || utf8.RuneCountInString(content) <= n {
		return content
	}
	return string([]rune(content)[:n]) + "..."
}
