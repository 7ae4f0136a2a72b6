// Package tasks defines the closed payload of embedding jobs carried over Kafka.
package tasks

import (
	"errors"
	"fmt"
	"strings"
)

// JobType 标识触发 embedding 计算的原因。
type JobType string

const (
	JobTypeCreate JobType = "create"
	JobTypeUpdate JobType = "update"
	JobTypeManual JobType = "manual"
)

// ParseJobType 解析任务类型，空字符串视为 manual。
func ParseJobType(s string) (JobType, error) {
	switch JobType(strings.ToLower(strings.TrimSpace(s))) {
	case JobTypeCreate:
		return JobTypeCreate, nil
	case JobTypeUpdate:
		return JobTypeUpdate, nil
	case JobTypeManual, "":
		return JobTypeManual, nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	return t == JobTypeCreate || t == JobTypeUpdate || t == JobTypeManual
}

// EmbeddingTask represents the message for one embedding job attempt.
type EmbeddingTask struct {
	JobID       string  `json:"job_id"`
	ResumeID    string  `json:"resume_id"`
	Type        JobType `json:"type"`
	RequesterID string  `json:"requester_id,omitempty"`
	Attempt     int     `json:"attempt"`
}

// Validate 在队列边界校验任务负载，消费者不再重复校验。
func (t EmbeddingTask) Validate() error {
	var errs []error
	if strings.TrimSpace(t.ResumeID) == "" {
		errs = append(errs, errors.New("resume_id is required"))
	}
	if !t.Type.Valid() {
		errs = append(errs, fmt.Errorf("unknown job type %q", t.Type))
	}
	if t.Attempt < 0 {
		errs = append(errs, fmt.Errorf("attempt must be >= 0, got %d", t.Attempt))
	}
	return errors.Join(errs...)
}
