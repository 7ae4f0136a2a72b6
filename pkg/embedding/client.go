// Package embedding provides a client for the external text-embedding inference service.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resumecast-search/internal/config"
	"resumecast-search/pkg/log"
	"resumecast-search/pkg/metrics"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// ErrUnavailable is the root of every failure to obtain an embedding from the service:
// transport errors, timeouts, non-2xx responses and malformed payloads.
var ErrUnavailable = errors.New("embedding service unavailable")

// ServiceError carries the upstream status and message of a failed embedding call.
// StatusCode is 0 when no HTTP response was received.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("embedding service error: %s", e.Message)
	}
	return fmt.Sprintf("embedding service error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ServiceError) Unwrap() error { return ErrUnavailable }

// TrafficClass separates indexing traffic (worker) from query traffic (search)
// so each gets its own limiter on the shared inference endpoint.
type TrafficClass string

const (
	ClassIndexing TrafficClass = "indexing"
	ClassQuery    TrafficClass = "query"
)

// Result is one embedding returned by the service.
type Result struct {
	Vector     []float32
	Dimensions int
	Model      string
}

// Client defines the interface for an embedding client.
type Client interface {
	// Embed returns the vector for text. Result.Model is the name the service reports,
	// falling back to the configured model when the response omits it.
	Embed(ctx context.Context, text string) (*Result, error)
}

type httpClient struct {
	cfg     config.EmbeddingConfig
	class   TrafficClass
	rest    *resty.Client
	limiter *rate.Limiter
}

// NewClient creates an embedding client for one traffic class.
func NewClient(cfg config.EmbeddingConfig, class TrafficClass) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.Timeout = timeout

	var limit config.RateLimitConfig
	switch class {
	case ClassQuery:
		limit = cfg.RateLimits.Query
	default:
		limit = cfg.RateLimits.Indexing
	}

	return &httpClient{
		cfg:   cfg,
		class: class,
		rest: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
		limiter: newLimiter(limit),
	}
}

func newLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RPS <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RPS), burst)
}

type embedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type embedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
}

// Embed calls POST /api/embed and returns the vector for text.
func (c *httpClient) Embed(ctx context.Context, text string) (*Result, error) {
	m := metrics.Get()
	start := time.Now()
	defer func() {
		m.EmbedDuration.WithLabelValues(string(c.class)).Observe(time.Since(start).Seconds())
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			m.EmbedRequests.WithLabelValues(string(c.class), "rate_limited").Inc()
			return nil, &ServiceError{Message: fmt.Sprintf("rate limiter: %v", err)}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	log.Debugf("[EmbeddingClient] 调用 Embedding API, class: %s, model: %s, input_len: %d", c.class, c.cfg.Model, len(text))

	var out embedResponse
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(embedRequest{Text: text, Model: c.cfg.Model}).
		SetResult(&out).
		Post("/api/embed")
	if err != nil {
		m.EmbedRequests.WithLabelValues(string(c.class), "transport_error").Inc()
		log.Errorf("[EmbeddingClient] 调用 Embedding API 失败, class: %s, error: %v", c.class, err)
		return nil, &ServiceError{Message: err.Error()}
	}

	if resp.IsError() {
		m.EmbedRequests.WithLabelValues(string(c.class), "http_error").Inc()
		msg := upstreamMessage(resp.Body())
		if msg == "" {
			msg = resp.Status()
		}
		log.Errorf("[EmbeddingClient] Embedding API 返回错误状态码: %d, message: %s", resp.StatusCode(), msg)
		return nil, &ServiceError{StatusCode: resp.StatusCode(), Message: msg}
	}

	if len(out.Embedding) == 0 {
		m.EmbedRequests.WithLabelValues(string(c.class), "empty").Inc()
		log.Warnf("[EmbeddingClient] Embedding API 返回了空的向量数据")
		return nil, &ServiceError{StatusCode: resp.StatusCode(), Message: "received empty embedding"}
	}

	dims := out.Dimensions
	if dims == 0 {
		dims = len(out.Embedding)
	}
	if dims != len(out.Embedding) {
		m.EmbedRequests.WithLabelValues(string(c.class), "malformed").Inc()
		return nil, &ServiceError{
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("declared %d dimensions but returned %d values", dims, len(out.Embedding)),
		}
	}
	model := out.Model
	if model == "" {
		model = c.cfg.Model
	}

	m.EmbedRequests.WithLabelValues(string(c.class), "ok").Inc()
	return &Result{Vector: out.Embedding, Dimensions: dims, Model: model}, nil
}

// upstreamMessage extracts the error message the service put in its body,
// accepting both {"error": "..."} and {"error": {"message": "..."}} shapes.
func upstreamMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}
