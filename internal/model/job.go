package model

import (
	"time"

	"resumecast-search/pkg/tasks"
)

// JobState 是 embedding 任务的生命周期状态。
type JobState string

const (
	JobWaiting   JobState = "waiting"
	JobActive    JobState = "active"
	JobDelayed   JobState = "delayed"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Terminal 表示任务不会再被处理。
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// EmbeddingJob 是存储在 Redis 中的任务记录。
type EmbeddingJob struct {
	ID           string              `json:"id"`
	Task         tasks.EmbeddingTask `json:"data"`
	State        JobState            `json:"state"`
	Progress     int                 `json:"progress"`
	AttemptsMade int                 `json:"attemptsMade"`
	MaxAttempts  int                 `json:"maxAttempts"`
	Result       *EmbeddingResult    `json:"returnValue,omitempty"`
	FailedReason string              `json:"failedReason,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	ProcessedOn  *time.Time          `json:"processedOn,omitempty"`
	FinishedOn   *time.Time          `json:"finishedOn,omitempty"`
	// RetryAt 仅在 delayed 状态下有意义。
	RetryAt *time.Time `json:"retryAt,omitempty"`
}

// EmbeddingResult 是一次成功任务的返回值。
type EmbeddingResult struct {
	ResumeID            string        `json:"resumeId"`
	Type                tasks.JobType `json:"type"`
	ModelName           string        `json:"model"`
	Dimensions          int           `json:"dimensions"`
	HadAuxiliaryContext bool          `json:"hasLlmContext"`
	// Unchanged 表示指纹未变化，沿用了已有向量而没有重新调用 embedding 服务。
	Unchanged bool `json:"unchanged,omitempty"`
}

// QueueStats 是各状态下的任务数量。
type QueueStats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Total     int64 `json:"total"`
}
