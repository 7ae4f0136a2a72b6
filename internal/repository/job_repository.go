package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"resumecast-search/internal/model"

	"github.com/go-redis/redis/v8"
)

// JobRepository 定义了 embedding 任务在 Redis 中的持久化操作。
//
// 键布局（prefix 来自配置）：
//
//	<prefix>:job:<id>   任务 JSON
//	<prefix>:waiting    set
//	<prefix>:active     set
//	<prefix>:delayed    zset，score 为到期时间（unix 毫秒）
//	<prefix>:completed  list，最新的在前
//	<prefix>:failed     list，最新的在前
type JobRepository interface {
	// Create 保存新任务并放入 waiting。
	Create(ctx context.Context, job *model.EmbeddingJob) error
	Get(ctx context.Context, id string) (*model.EmbeddingJob, error)
	// Delete 删除任务记录及其 waiting 索引，用于入队发布失败时回滚。
	Delete(ctx context.Context, id string) error
	// Save 只覆盖任务记录，不改变状态索引（例如进度更新）。
	Save(ctx context.Context, job *model.EmbeddingJob) error

	MarkActive(ctx context.Context, job *model.EmbeddingJob) error
	MarkCompleted(ctx context.Context, job *model.EmbeddingJob, keep int) error
	MarkFailed(ctx context.Context, job *model.EmbeddingJob, keep int) error
	MarkDelayed(ctx context.Context, job *model.EmbeddingJob) error

	// DueDelayed 返回到期时间不晚于 now 的延迟任务 ID，按到期时间升序。
	DueDelayed(ctx context.Context, now time.Time, limit int64) ([]string, error)
	// ClaimDelayed 从 delayed 中移除任务，只有一个调用者会得到 true。
	ClaimDelayed(ctx context.Context, id string) (bool, error)
	// Requeue 把已认领的延迟任务或被中断的 active 任务改为 waiting。
	Requeue(ctx context.Context, job *model.EmbeddingJob) error
	// ReturnToDelayed 在重新发布失败时把任务放回 delayed。
	ReturnToDelayed(ctx context.Context, job *model.EmbeddingJob, due time.Time) error

	Stats(ctx context.Context) (model.QueueStats, error)
	// PurgeFailed 删除所有 failed 任务并返回删除数量。
	PurgeFailed(ctx context.Context) (int, error)
}

type redisJobRepository struct {
	redisClient *redis.Client
	prefix      string
}

// NewJobRepository 创建一个新的 Redis JobRepository 实例。
func NewJobRepository(redisClient *redis.Client, prefix string) JobRepository {
	return &redisJobRepository{redisClient: redisClient, prefix: prefix}
}

func (r *redisJobRepository) jobKey(id string) string { return r.prefix + ":job:" + id }

func (r *redisJobRepository) stateKey(state model.JobState) string {
	return r.prefix + ":" + string(state)
}

func (r *redisJobRepository) Create(ctx context.Context, job *model.EmbeddingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(job.ID), data, 0)
		pipe.SAdd(ctx, r.stateKey(model.JobWaiting), job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *redisJobRepository) Get(ctx context.Context, id string) (*model.EmbeddingJob, error) {
	data, err := r.redisClient.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	var job model.EmbeddingJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (r *redisJobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.jobKey(id))
		pipe.SRem(ctx, r.stateKey(model.JobWaiting), id)
		return nil
	})
	return err
}

func (r *redisJobRepository) Save(ctx context.Context, job *model.EmbeddingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return r.redisClient.Set(ctx, r.jobKey(job.ID), data, 0).Err()
}

// transition 在一个 MULTI/EXEC 中写入任务并移动状态索引。
func (r *redisJobRepository) transition(ctx context.Context, job *model.EmbeddingJob, from []model.JobState, index func(pipe redis.Pipeliner)) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(job.ID), data, 0)
		for _, s := range from {
			if s == model.JobDelayed {
				pipe.ZRem(ctx, r.stateKey(s), job.ID)
				continue
			}
			pipe.SRem(ctx, r.stateKey(s), job.ID)
		}
		index(pipe)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to move job %s to %s: %w", job.ID, job.State, err)
	}
	return nil
}

func (r *redisJobRepository) MarkActive(ctx context.Context, job *model.EmbeddingJob) error {
	job.State = model.JobActive
	return r.transition(ctx, job, []model.JobState{model.JobWaiting}, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, r.stateKey(model.JobActive), job.ID)
	})
}

func (r *redisJobRepository) MarkCompleted(ctx context.Context, job *model.EmbeddingJob, keep int) error {
	job.State = model.JobCompleted
	err := r.transition(ctx, job, []model.JobState{model.JobActive}, func(pipe redis.Pipeliner) {
		pipe.LPush(ctx, r.stateKey(model.JobCompleted), job.ID)
	})
	if err != nil {
		return err
	}
	return r.trim(ctx, model.JobCompleted, keep)
}

func (r *redisJobRepository) MarkFailed(ctx context.Context, job *model.EmbeddingJob, keep int) error {
	job.State = model.JobFailed
	err := r.transition(ctx, job, []model.JobState{model.JobActive, model.JobWaiting}, func(pipe redis.Pipeliner) {
		pipe.LPush(ctx, r.stateKey(model.JobFailed), job.ID)
	})
	if err != nil {
		return err
	}
	return r.trim(ctx, model.JobFailed, keep)
}

func (r *redisJobRepository) MarkDelayed(ctx context.Context, job *model.EmbeddingJob) error {
	if job.RetryAt == nil {
		return fmt.Errorf("delayed job %s has no retry time", job.ID)
	}
	job.State = model.JobDelayed
	due := *job.RetryAt
	return r.transition(ctx, job, []model.JobState{model.JobActive}, func(pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, r.stateKey(model.JobDelayed), &redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	})
}

// trim 只保留最新的 keep 个任务，超出部分的任务记录一并删除。
func (r *redisJobRepository) trim(ctx context.Context, state model.JobState, keep int) error {
	if keep < 0 {
		return nil
	}
	key := r.stateKey(state)
	overflow, err := r.redisClient.LRange(ctx, key, int64(keep), -1).Result()
	if err != nil {
		return fmt.Errorf("failed to read %s list: %w", state, err)
	}
	if len(overflow) == 0 {
		return nil
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LTrim(ctx, key, 0, int64(keep)-1)
		for _, id := range overflow {
			pipe.Del(ctx, r.jobKey(id))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to trim %s list: %w", state, err)
	}
	return nil
}

func (r *redisJobRepository) DueDelayed(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return r.redisClient.ZRangeByScore(ctx, r.stateKey(model.JobDelayed), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: limit,
	}).Result()
}

func (r *redisJobRepository) ClaimDelayed(ctx context.Context, id string) (bool, error) {
	n, err := r.redisClient.ZRem(ctx, r.stateKey(model.JobDelayed), id).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *redisJobRepository) Requeue(ctx context.Context, job *model.EmbeddingJob) error {
	job.State = model.JobWaiting
	job.RetryAt = nil
	return r.transition(ctx, job, []model.JobState{model.JobActive}, func(pipe redis.Pipeliner) {
		pipe.SAdd(ctx, r.stateKey(model.JobWaiting), job.ID)
	})
}

func (r *redisJobRepository) ReturnToDelayed(ctx context.Context, job *model.EmbeddingJob, due time.Time) error {
	job.State = model.JobDelayed
	job.RetryAt = &due
	return r.transition(ctx, job, []model.JobState{model.JobWaiting}, func(pipe redis.Pipeliner) {
		pipe.ZAdd(ctx, r.stateKey(model.JobDelayed), &redis.Z{Score: float64(due.UnixMilli()), Member: job.ID})
	})
}

func (r *redisJobRepository) Stats(ctx context.Context) (model.QueueStats, error) {
	var waiting, active, completed, failed, delayed *redis.IntCmd
	_, err := r.redisClient.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.SCard(ctx, r.stateKey(model.JobWaiting))
		active = pipe.SCard(ctx, r.stateKey(model.JobActive))
		completed = pipe.LLen(ctx, r.stateKey(model.JobCompleted))
		failed = pipe.LLen(ctx, r.stateKey(model.JobFailed))
		delayed = pipe.ZCard(ctx, r.stateKey(model.JobDelayed))
		return nil
	})
	if err != nil {
		return model.QueueStats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	stats := model.QueueStats{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
	}
	stats.Total = stats.Waiting + stats.Active + stats.Completed + stats.Failed + stats.Delayed
	return stats, nil
}

func (r *redisJobRepository) PurgeFailed(ctx context.Context) (int, error) {
	key := r.stateKey(model.JobFailed)
	ids, err := r.redisClient.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, r.jobKey(id))
		}
		// 只移除读取到的这些 ID，期间新失败的任务保留
		for _, id := range ids {
			pipe.LRem(ctx, key, 1, id)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge failed jobs: %w", err)
	}
	return len(ids), nil
}
