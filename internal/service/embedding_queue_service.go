package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"resumecast-search/internal/config"
	"resumecast-search/internal/model"
	"resumecast-search/internal/pipeline"
	"resumecast-search/internal/repository"
	"resumecast-search/pkg/log"
	"resumecast-search/pkg/metrics"
	"resumecast-search/pkg/tasks"

	"github.com/google/uuid"
)

// TaskPublisher 把任务投递到消息队列。
type TaskPublisher interface {
	Publish(ctx context.Context, task tasks.EmbeddingTask) error
}

// JobProcessor 执行一次任务尝试。
type JobProcessor interface {
	Process(ctx context.Context, task tasks.EmbeddingTask, progress pipeline.ProgressFunc) (*model.EmbeddingResult, error)
}

// EmbeddingQueueService 接口定义了 embedding 任务队列的全部操作。
type EmbeddingQueueService interface {
	Enqueue(ctx context.Context, resumeID string, jobType tasks.JobType, requesterID string) (string, error)
	// RequestGeneration 为调用者有权访问的简历手动入队。
	RequestGeneration(ctx context.Context, caller model.Caller, resumeID string) (string, error)
	// RequestBulkGeneration 为调用者名下的所有简历入队，返回简历总数与任务 ID。
	RequestBulkGeneration(ctx context.Context, caller model.Caller) (int, []string, error)
	GetStatus(ctx context.Context, jobID string) (*model.EmbeddingJob, error)
	GetStats(ctx context.Context) (model.QueueStats, error)
	PurgeFailed(ctx context.Context) (int, error)

	// Handle 是 Kafka 消费者的回调，只有任务状态无法持久化或 ctx 在处理中被取消时才返回错误。
	Handle(ctx context.Context, task tasks.EmbeddingTask) error
	// PromoteDue 把到期的延迟任务重新放回 waiting 并投递，返回投递数量。
	PromoteDue(ctx context.Context) (int, error)
	// RunScheduler 按 poll_interval 循环调用 PromoteDue，直到 ctx 取消。
	RunScheduler(ctx context.Context)
}

type embeddingQueueService struct {
	cfg        config.QueueConfig
	jobRepo    repository.JobRepository
	resumeRepo repository.ResumeRepository
	publisher  TaskPublisher
	processor  JobProcessor
	now        func() time.Time
}

// NewEmbeddingQueueService 创建一个新的 EmbeddingQueueService 实例。
// processor 为 nil 时该实例只能入队和查询（例如 API 进程不运行 worker）。
func NewEmbeddingQueueService(
	cfg config.QueueConfig,
	jobRepo repository.JobRepository,
	resumeRepo repository.ResumeRepository,
	publisher TaskPublisher,
	processor JobProcessor,
) EmbeddingQueueService {
	return &embeddingQueueService{
		cfg:        cfg,
		jobRepo:    jobRepo,
		resumeRepo: resumeRepo,
		publisher:  publisher,
		processor:  processor,
		now:        time.Now,
	}
}

// Backoff 返回第 attempt 次失败后的重试延迟：base * 2^(attempt-1)。
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func (s *embeddingQueueService) Enqueue(ctx context.Context, resumeID string, jobType tasks.JobType, requesterID string) (string, error) {
	task := tasks.EmbeddingTask{
		JobID:       uuid.NewString(),
		ResumeID:    strings.TrimSpace(resumeID),
		Type:        jobType,
		RequesterID: requesterID,
	}
	if err := task.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	job := &model.EmbeddingJob{
		ID:          task.JobID,
		Task:        task,
		State:       model.JobWaiting,
		MaxAttempts: s.cfg.MaxAttempts,
		CreatedAt:   s.now(),
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		log.Errorf("[JobQueue] 保存任务失败, ResumeID: %s, Error: %v", task.ResumeID, err)
		return "", err
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Errorf("[JobQueue] 投递任务失败, JobID: %s, ResumeID: %s, Error: %v", job.ID, task.ResumeID, err)
		if delErr := s.jobRepo.Delete(context.WithoutCancel(ctx), job.ID); delErr != nil {
			log.Errorf("[JobQueue] 回滚任务记录失败, JobID: %s, Error: %v", job.ID, delErr)
		}
		return "", fmt.Errorf("投递任务失败: %w", err)
	}

	metrics.Get().JobsEnqueued.WithLabelValues(string(task.Type)).Inc()
	log.Infof("[JobQueue] 任务已入队, JobID: %s, ResumeID: %s, Type: %s", job.ID, task.ResumeID, task.Type)
	return job.ID, nil
}

func (s *embeddingQueueService) RequestGeneration(ctx context.Context, caller model.Caller, resumeID string) (string, error) {
	resume, err := s.resumeRepo.FindByID(ctx, resumeID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", ErrResumeNotFound
	}
	if err != nil {
		return "", err
	}
	if !caller.IsAdmin() && resume.UserID != caller.UserID {
		return "", ErrForbidden
	}
	return s.Enqueue(ctx, resume.ID, tasks.JobTypeManual, caller.UserID)
}

func (s *embeddingQueueService) RequestBulkGeneration(ctx context.Context, caller model.Caller) (int, []string, error) {
	ids, err := s.resumeRepo.ListIDsByOwner(ctx, caller.UserID)
	if err != nil {
		return 0, nil, err
	}
	jobIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		jobID, err := s.Enqueue(ctx, id, tasks.JobTypeManual, caller.UserID)
		if err != nil {
			return len(ids), jobIDs, err
		}
		jobIDs = append(jobIDs, jobID)
	}
	log.Infof("[JobQueue] 批量入队完成, UserID: %s, 简历数: %d", caller.UserID, len(ids))
	return len(ids), jobIDs, nil
}

func (s *embeddingQueueService) GetStatus(ctx context.Context, jobID string) (*model.EmbeddingJob, error) {
	job, err := s.jobRepo.Get(ctx, jobID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *embeddingQueueService) GetStats(ctx context.Context) (model.QueueStats, error) {
	return s.jobRepo.Stats(ctx)
}

func (s *embeddingQueueService) PurgeFailed(ctx context.Context) (int, error) {
	n, err := s.jobRepo.PurgeFailed(ctx)
	if err != nil {
		return 0, err
	}
	metrics.Get().JobsPurged.Add(float64(n))
	log.Infof("[JobQueue] 已清理 %d 个失败任务", n)
	return n, nil
}

func (s *embeddingQueueService) Handle(ctx context.Context, task tasks.EmbeddingTask) error {
	job, err := s.jobRepo.Get(ctx, task.JobID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Warnf("[JobQueue] 任务记录不存在, 跳过消息, JobID: %s, ResumeID: %s", task.JobID, task.ResumeID)
		return nil
	}
	if err != nil {
		return err
	}
	if job.State.Terminal() || job.State == model.JobDelayed {
		log.Infof("[JobQueue] 重复投递的消息, 跳过, JobID: %s, State: %s", job.ID, job.State)
		return nil
	}

	// 状态写入不随消费者 ctx 取消，避免任务停留在 active
	persistCtx := context.WithoutCancel(ctx)
	m := metrics.Get()

	started := s.now()
	job.AttemptsMade++
	job.ProcessedOn = &started
	job.Progress = 0
	job.FailedReason = ""
	job.RetryAt = nil
	if err := s.jobRepo.MarkActive(persistCtx, job); err != nil {
		return err
	}
	log.Infof("[JobQueue] 开始第 %d/%d 次尝试, JobID: %s, ResumeID: %s", job.AttemptsMade, job.MaxAttempts, job.ID, job.Task.ResumeID)

	result, procErr := s.processor.Process(ctx, job.Task, func(progress int) {
		job.Progress = progress
		if err := s.jobRepo.Save(persistCtx, job); err != nil {
			log.Warnf("[JobQueue] 更新任务进度失败, JobID: %s, Error: %v", job.ID, err)
		}
	})
	finished := s.now()
	m.JobDuration.Observe(finished.Sub(started).Seconds())

	// 消费者停机打断了处理：放回 waiting，不计入尝试次数，返回错误使 offset 不被提交
	if procErr != nil && ctx.Err() != nil {
		job.AttemptsMade--
		job.Progress = 0
		if err := s.jobRepo.Requeue(persistCtx, job); err != nil {
			return err
		}
		log.Warnf("[JobQueue] 处理被中断, 任务已放回 waiting, JobID: %s, ResumeID: %s, Error: %v", job.ID, job.Task.ResumeID, procErr)
		return ctx.Err()
	}

	if procErr == nil {
		job.Progress = 100
		job.Result = result
		job.FinishedOn = &finished
		if err := s.jobRepo.MarkCompleted(persistCtx, job, s.cfg.KeepCompleted); err != nil {
			return err
		}
		m.JobsFinished.WithLabelValues("completed").Inc()
		log.Infof("[JobQueue] 任务完成, JobID: %s, ResumeID: %s", job.ID, job.Task.ResumeID)
		return nil
	}

	job.FailedReason = procErr.Error()
	if pipeline.IsPermanent(procErr) || job.AttemptsMade >= job.MaxAttempts {
		job.FinishedOn = &finished
		if err := s.jobRepo.MarkFailed(persistCtx, job, s.cfg.KeepFailed); err != nil {
			return err
		}
		m.JobsFinished.WithLabelValues("failed").Inc()
		log.Errorf("[JobQueue] 任务失败, 不再重试, JobID: %s, ResumeID: %s, Attempts: %d, Reason: %s",
			job.ID, job.Task.ResumeID, job.AttemptsMade, job.FailedReason)
		return nil
	}

	retryAt := finished.Add(Backoff(s.cfg.BackoffBase, job.AttemptsMade))
	job.RetryAt = &retryAt
	if err := s.jobRepo.MarkDelayed(persistCtx, job); err != nil {
		return err
	}
	m.JobsFinished.WithLabelValues("retried").Inc()
	log.Warnf("[JobQueue] 任务失败, 将于 %s 重试, JobID: %s, ResumeID: %s, Attempt: %d, Reason: %s",
		retryAt.Format(time.RFC3339), job.ID, job.Task.ResumeID, job.AttemptsMade, job.FailedReason)
	return nil
}

func (s *embeddingQueueService) PromoteDue(ctx context.Context) (int, error) {
	ids, err := s.jobRepo.DueDelayed(ctx, s.now(), 100)
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		claimed, err := s.jobRepo.ClaimDelayed(ctx, id)
		if err != nil {
			return promoted, err
		}
		if !claimed {
			continue
		}
		job, err := s.jobRepo.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return promoted, err
		}

		job.Task.Attempt = job.AttemptsMade
		if err := s.jobRepo.Requeue(ctx, job); err != nil {
			return promoted, err
		}
		if err := s.publisher.Publish(ctx, job.Task); err != nil {
			log.Errorf("[JobQueue] 重新投递延迟任务失败, JobID: %s, Error: %v", job.ID, err)
			if err := s.jobRepo.ReturnToDelayed(ctx, job, s.now().Add(s.cfg.PollInterval)); err != nil {
				return promoted, err
			}
			continue
		}
		promoted++
		metrics.Get().JobsPromoted.Inc()
		log.Infof("[JobQueue] 延迟任务已重新投递, JobID: %s, ResumeID: %s, Attempt: %d", job.ID, job.Task.ResumeID, job.Task.Attempt)
	}
	return promoted, nil
}

func (s *embeddingQueueService) RunScheduler(ctx context.Context) {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Infof("[JobQueue] 延迟任务调度器已启动, 轮询间隔: %s", interval)

	for {
		select {
		case <-ctx.Done():
			log.Info("[JobQueue] 延迟任务调度器已停止")
			return
		case <-ticker.C:
			if _, err := s.PromoteDue(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("[JobQueue] 调度延迟任务失败: %v", err)
			}
		}
	}
}
