package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"resumecast-search/internal/model"
	"resumecast-search/pkg/es"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/pgvector/pgvector-go"
	"github.com/tidwall/gjson"
)

// esResumeDocument 是 Elasticsearch 中每份简历的一个文档，_id 即简历 ID。
// 所有者与可见性字段冗余存储，用于 kNN 的 filter。
type esResumeDocument struct {
	ResumeID            string    `json:"resume_id"`
	ContentEmbedding    []float32 `json:"content_embedding"`
	LLMContextEmbedding []float32 `json:"llm_context_embedding,omitempty"`
	CombinedEmbedding   []float32 `json:"combined_embedding"`
	EmbeddingModel      string    `json:"embedding_model"`
	ContentHash         string    `json:"content_hash"`
	LLMContextHash      *string   `json:"llm_context_hash,omitempty"`
	OwnerID             string    `json:"owner_id"`
	IsPublic            bool      `json:"is_public"`
	IsPublished         bool      `json:"is_published"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// esEmbeddingRepository 是基于 Elasticsearch dense_vector 的实现，只支持 cosine。
type esEmbeddingRepository struct {
	client    *elasticsearch.Client
	indexName string
	now       func() time.Time
}

// NewESEmbeddingRepository 创建一个新的 Elasticsearch EmbeddingRepository 实例。
func NewESEmbeddingRepository(client *elasticsearch.Client, indexName string) EmbeddingRepository {
	return &esEmbeddingRepository{client: client, indexName: indexName, now: time.Now}
}

func (r *esEmbeddingRepository) Upsert(ctx context.Context, rec *model.ResumeEmbedding, vis model.ResumeVisibility) error {
	now := r.now()
	createdAt := now
	var existing esResumeDocument
	switch err := es.GetDocument(ctx, r.client, r.indexName, rec.ResumeID, &existing); {
	case err == nil:
		createdAt = existing.CreatedAt
	case !errors.Is(err, es.ErrNotFound):
		return err
	}

	doc := toESDocument(rec, vis)
	doc.CreatedAt = createdAt
	doc.UpdatedAt = now
	if err := es.IndexDocument(ctx, r.client, r.indexName, rec.ResumeID, doc); err != nil {
		return err
	}
	rec.CreatedAt, rec.UpdatedAt = createdAt, now
	return nil
}

func (r *esEmbeddingRepository) FindByResumeID(ctx context.Context, resumeID string) (*model.ResumeEmbedding, error) {
	var doc esResumeDocument
	err := es.GetDocument(ctx, r.client, r.indexName, resumeID, &doc)
	if errors.Is(err, es.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromESDocument(doc), nil
}

func (r *esEmbeddingRepository) Nearest(ctx context.Context, q model.NearestQuery) ([]model.Candidate, error) {
	if q.Metric != model.MetricCosine {
		return nil, fmt.Errorf("elasticsearch backend does not support %q distance", q.Metric)
	}
	raw, err := es.Search(ctx, r.client, r.indexName, buildKNNQuery(q))
	if err != nil {
		return nil, err
	}
	return parseKNNHits(raw, q.Offset), nil
}

// buildKNNQuery 构建 kNN 查询。kNN 没有 offset，因此取前 offset+limit 个再在本地截取。
func buildKNNQuery(q model.NearestQuery) map[string]any {
	k := q.Offset + q.Limit
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	if numCandidates > 10000 {
		numCandidates = 10000
	}
	knn := map[string]any{
		"field":          "combined_embedding",
		"query_vector":   q.Vector,
		"k":              k,
		"num_candidates": numCandidates,
	}
	if filter := buildKNNFilter(q.Filter); filter != nil {
		knn["filter"] = filter
	}
	return map[string]any{
		"knn":     knn,
		"size":    k,
		"_source": []string{"resume_id", "embedding_model"},
	}
}

func buildKNNFilter(f model.CandidateFilter) map[string]any {
	var must []map[string]any
	if f.PublicOnly {
		public := map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"is_public": true}},
					{"term": map[string]any{"is_published": true}},
				},
			},
		}
		if f.OrOwnedBy != "" {
			must = append(must, map[string]any{
				"bool": map[string]any{
					"should": []map[string]any{
						public,
						{"term": map[string]any{"owner_id": f.OrOwnedBy}},
					},
					"minimum_should_match": 1,
				},
			})
		} else {
			must = append(must, public)
		}
	}
	if f.OwnerID != "" {
		must = append(must, map[string]any{"term": map[string]any{"owner_id": f.OwnerID}})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"bool": map[string]any{"filter": must}}
}

// parseKNNHits 把 cosine 的 _score = (1+cos)/2 换算回 pgvector 语义的距离 1-cos。
func parseKNNHits(raw []byte, offset int) []model.Candidate {
	hits := gjson.GetBytes(raw, "hits.hits").Array()
	if offset >= len(hits) {
		return []model.Candidate{}
	}
	out := make([]model.Candidate, 0, len(hits)-offset)
	for _, hit := range hits[offset:] {
		score := hit.Get("_score").Float()
		out = append(out, model.Candidate{
			ResumeID:  hit.Get("_source.resume_id").String(),
			ModelName: hit.Get("_source.embedding_model").String(),
			Distance:  2 * (1 - score),
		})
	}
	return out
}

func toESDocument(rec *model.ResumeEmbedding, vis model.ResumeVisibility) esResumeDocument {
	doc := esResumeDocument{
		ResumeID:          rec.ResumeID,
		ContentEmbedding:  rec.ContentEmbedding.Slice(),
		CombinedEmbedding: rec.CombinedEmbedding.Slice(),
		EmbeddingModel:    rec.EmbeddingModel,
		ContentHash:       rec.ContentHash,
		LLMContextHash:    rec.LLMContextHash,
		OwnerID:           vis.OwnerID,
		IsPublic:          vis.IsPublic,
		IsPublished:       vis.IsPublished,
	}
	if rec.LLMContextEmbedding != nil {
		doc.LLMContextEmbedding = rec.LLMContextEmbedding.Slice()
	}
	return doc
}

func fromESDocument(doc esResumeDocument) *model.ResumeEmbedding {
	rec := &model.ResumeEmbedding{
		ID:                doc.ResumeID,
		ResumeID:          doc.ResumeID,
		ContentEmbedding:  pgvector.NewVector(doc.ContentEmbedding),
		CombinedEmbedding: pgvector.NewVector(doc.CombinedEmbedding),
		EmbeddingModel:    doc.EmbeddingModel,
		ContentHash:       doc.ContentHash,
		LLMContextHash:    doc.LLMContextHash,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if len(doc.LLMContextEmbedding) > 0 {
		v := pgvector.NewVector(doc.LLMContextEmbedding)
		rec.LLMContextEmbedding = &v
	}
	return rec
}
