// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"resumecast-search/internal/config"
	"resumecast-search/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// NewClient 创建 Elasticsearch 客户端，并确保简历向量索引存在。
func NewClient(esCfg config.ElasticsearchConfig, dims int) (*elasticsearch.Client, error) {
	var addrs []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	cfg := elasticsearch.Config{
		Addresses: addrs,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if err := EnsureIndex(context.Background(), client, esCfg.IndexName, dims); err != nil {
		return nil, err
	}
	return client, nil
}

// IndexMapping 返回简历向量索引的 mapping，三个向量字段都使用 cosine 相似度。
func IndexMapping(dims int) string {
	vector := fmt.Sprintf(`{ "type": "dense_vector", "dims": %d, "index": true, "similarity": "cosine" }`, dims)
	return `{
		"mappings": {
			"properties": {
				"resume_id": { "type": "keyword" },
				"content_embedding": ` + vector + `,
				"llm_context_embedding": ` + vector + `,
				"combined_embedding": ` + vector + `,
				"embedding_model": { "type": "keyword" },
				"content_hash": { "type": "keyword" },
				"llm_context_hash": { "type": "keyword" },
				"owner_id": { "type": "keyword" },
				"is_public": { "type": "boolean" },
				"is_published": { "type": "boolean" },
				"created_at": { "type": "date" },
				"updated_at": { "type": "date" }
			}
		}
	}`
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string, dims int) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	created, err := client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(IndexMapping(dims))),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer created.Body.Close()
	if created.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, created.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功, 维度: %d", indexName, dims)
	return nil
}

// IndexDocument 以 id 为文档 ID 写入（覆盖）单个文档。
// 整个文档一次性替换，读者不会看到部分更新的字段。
func IndexDocument(ctx context.Context, client *elasticsearch.Client, indexName, id string, doc any) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: id,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}
	return nil
}

// ErrNotFound 表示文档不存在。
var ErrNotFound = errors.New("document not found")

// GetDocument 按 ID 读取文档的 _source 并解码到 out。
func GetDocument(ctx context.Context, client *elasticsearch.Client, indexName, id string, out any) error {
	res, err := client.Get(indexName, id, client.Get.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if res.IsError() {
		return fmt.Errorf("elasticsearch get failed: %s", res.String())
	}
	var envelope struct {
		Source json.RawMessage `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode es document: %w", err)
	}
	return json.Unmarshal(envelope.Source, out)
}

// Search 执行查询并返回原始响应体。
func Search(ctx context.Context, client *elasticsearch.Client, indexName string, body any) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}
	res, err := client.Search(
		client.Search.WithContext(ctx),
		client.Search.WithIndex(indexName),
		client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if res.IsError() {
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(raw))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}
	return raw, nil
}
