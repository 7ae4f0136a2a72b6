package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"resumecast-search/internal/config"
	"resumecast-search/internal/model"
	"resumecast-search/internal/pipeline"
	"resumecast-search/internal/repository"
	"resumecast-search/pkg/tasks"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []tasks.EmbeddingTask
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, task tasks.EmbeddingTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, task)
	return nil
}

// scriptedProcessor 依次返回预设的错误，用完后成功。
type scriptedProcessor struct {
	errs     []error
	calls    int
	progress []int
}

func (p *scriptedProcessor) Process(_ context.Context, task tasks.EmbeddingTask, progress pipeline.ProgressFunc) (*model.EmbeddingResult, error) {
	p.calls++
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	for _, pct := range []int{20, 60, 70, 80, 100} {
		progress(pct)
		p.progress = append(p.progress, pct)
	}
	return &model.EmbeddingResult{ResumeID: task.ResumeID, Type: task.Type, ModelName: "m", Dimensions: 3}, nil
}

type stubResumes struct {
	resumes map[string]*model.Resume
}

func (s *stubResumes) FindByID(_ context.Context, id string) (*model.Resume, error) {
	if r, ok := s.resumes[id]; ok {
		return r, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubResumes) FindSummariesByIDs(_ context.Context, ids []string) ([]model.ResumeSummary, error) {
	var out []model.ResumeSummary
	for _, id := range ids {
		if r, ok := s.resumes[id]; ok {
			out = append(out, model.ResumeSummary{
				ID: r.ID, Slug: r.Slug, Title: r.Title, Content: r.Content, UserID: r.UserID,
				IsPublic: r.IsPublic, IsPublished: r.IsPublished,
			})
		}
	}
	return out, nil
}

func (s *stubResumes) ListIDsByOwner(_ context.Context, ownerID string) ([]string, error) {
	var ids []string
	for _, r := range s.resumes {
		if r.UserID == ownerID {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

type queueFixture struct {
	svc       *embeddingQueueService
	repo      repository.JobRepository
	publisher *fakePublisher
	processor *scriptedProcessor
	clock     time.Time
}

func (f *queueFixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newQueueFixture(t *testing.T, errs ...error) *queueFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	f := &queueFixture{
		repo:      repository.NewJobRepository(rdb, "embeddings"),
		publisher: &fakePublisher{},
		processor: &scriptedProcessor{errs: errs},
		clock:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := config.QueueConfig{
		KeyPrefix:     "embeddings",
		MaxAttempts:   3,
		BackoffBase:   2 * time.Second,
		KeepCompleted: 100,
		KeepFailed:    500,
		PollInterval:  time.Second,
	}
	resumes := &stubResumes{resumes: map[string]*model.Resume{
		"r1": {ID: "r1", UserID: "owner"},
		"r2": {ID: "r2", UserID: "owner"},
		"r3": {ID: "r3", UserID: "someone-else"},
	}}
	svc := NewEmbeddingQueueService(cfg, f.repo, resumes, f.publisher, f.processor).(*embeddingQueueService)
	svc.now = func() time.Time { return f.clock }
	f.svc = svc
	return f
}

// deliver 把最近一次投递的消息交给 Handle。
func (f *queueFixture) deliverLast(t *testing.T) {
	t.Helper()
	require.NotEmpty(t, f.publisher.published)
	require.NoError(t, f.svc.Handle(context.Background(), f.publisher.published[len(f.publisher.published)-1]))
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, Backoff(2*time.Second, 1))
	assert.Equal(t, 4*time.Second, Backoff(2*time.Second, 2))
	assert.Equal(t, 8*time.Second, Backoff(2*time.Second, 3))
	assert.Equal(t, 2*time.Second, Backoff(2*time.Second, 0))
}

func TestEnqueue_CreatesWaitingJobAndPublishes(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	id, err := f.svc.Enqueue(ctx, " r1 ", tasks.JobTypeCreate, "u1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := f.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobWaiting, job.State)
	assert.Equal(t, "r1", job.Task.ResumeID)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, f.clock, job.CreatedAt)

	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, id, f.publisher.published[0].JobID)

	stats, err := f.svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.QueueStats{Waiting: 1, Total: 1}, stats)
}

func TestEnqueue_RejectsEmptyResumeID(t *testing.T) {
	f := newQueueFixture(t)
	_, err := f.svc.Enqueue(context.Background(), "  ", tasks.JobTypeManual, "")
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.Empty(t, f.publisher.published)
}

func TestEnqueue_PublishFailureRollsBack(t *testing.T) {
	f := newQueueFixture(t)
	f.publisher.err = errors.New("broker down")

	_, err := f.svc.Enqueue(context.Background(), "r1", tasks.JobTypeManual, "")
	require.Error(t, err)

	stats, err := f.svc.GetStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestGetStatus_NotFound(t *testing.T) {
	f := newQueueFixture(t)
	_, err := f.svc.GetStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestHandle_Success(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()
	id, err := f.svc.Enqueue(ctx, "r1", tasks.JobTypeUpdate, "")
	require.NoError(t, err)

	f.advance(3 * time.Second)
	f.deliverLast(t)

	job, err := f.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.State)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, 1, job.AttemptsMade)
	require.NotNil(t, job.Result)
	assert.Equal(t, "r1", job.Result.ResumeID)
	require.NotNil(t, job.ProcessedOn)
	require.NotNil(t, job.FinishedOn)
	assert.Equal(t, []int{20, 60, 70, 80, 100}, f.processor.progress)

	// 重复投递被确认并跳过
	f.deliverLast(t)
	assert.Equal(t, 1, f.processor.calls)

	stats, _ := f.svc.GetStats(ctx)
	assert.Equal(t, model.QueueStats{Completed: 1, Total: 1}, stats)
}

func TestHandle_RetryThenSucceed(t *testing.T) {
	f := newQueueFixture(t, errors.New("embedding service unavailable"))
	ctx := context.Background()
	id, err := f.svc.Enqueue(ctx, "r1", tasks.JobTypeManual, "")
	require.NoError(t, err)

	f.deliverLast(t)
	job, _ := f.svc.GetStatus(ctx, id)
	assert.Equal(t, model.JobDelayed, job.State)
	require.NotNil(t, job.RetryAt)
	assert.Equal(t, f.clock.Add(2*time.Second), *job.RetryAt)

	// 未到期不提升
	n, err := f.svc.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.advance(2 * time.Second)
	n, err = f.svc.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.publisher.published, 2)
	assert.Equal(t, 1, f.publisher.published[1].Attempt)

	f.deliverLast(t)
	job, _ = f.svc.GetStatus(ctx, id)
	assert.Equal(t, model.JobCompleted, job.State)
	assert.Equal(t, 2, job.AttemptsMade)
	assert.Empty(t, job.FailedReason)
}

func TestHandle_RetryExhaustion(t *testing.T) {
	boom := errors.New("embedding service error (status 503): busy")
	f := newQueueFixture(t, boom, boom, boom)
	ctx := context.Background()
	id, err := f.svc.Enqueue(ctx, "r1", tasks.JobTypeManual, "")
	require.NoError(t, err)

	var delays []time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		f.deliverLast(t)
		job, err := f.svc.GetStatus(ctx, id)
		require.NoError(t, err)
		if attempt < 3 {
			require.Equal(t, model.JobDelayed, job.State)
			delay := job.RetryAt.Sub(f.clock)
			delays = append(delays, delay)
			f.advance(delay)
			n, err := f.svc.PromoteDue(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, n)
		}
	}

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, delays)
	job, err := f.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.State)
	assert.Equal(t, 3, job.AttemptsMade)
	assert.NotEmpty(t, job.FailedReason)
	assert.Equal(t, 3, f.processor.calls)

	stats, _ := f.svc.GetStats(ctx)
	assert.Equal(t, model.QueueStats{Failed: 1, Total: 1}, stats)
}

func TestHandle_PermanentFailureSkipsRetries(t *testing.T) {
	f := newQueueFixture(t, fmt.Errorf("%w: r1", pipeline.ErrResumeNotFound))
	ctx := context.Background()
	id, err := f.svc.Enqueue(ctx, "r1", tasks.JobTypeManual, "")
	require.NoError(t, err)

	f.deliverLast(t)
	job, _ := f.svc.GetStatus(ctx, id)
	assert.Equal(t, model.JobFailed, job.State)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Contains(t, job.FailedReason, "resume not found")
}

func TestHandle_UnknownJobIsAcknowledged(t *testing.T) {
	f := newQueueFixture(t)
	err := f.svc.Handle(context.Background(), tasks.EmbeddingTask{JobID: "ghost", ResumeID: "r1", Type: tasks.JobTypeManual})
	assert.NoError(t, err)
	assert.Zero(t, f.processor.calls)
}

func TestPromoteDue_PublishFailureReturnsJobToDelayed(t *testing.T) {
	f := newQueueFixture(t, errors.New("transient"))
	ctx := context.Background()
	id, err := f.svc.Enqueue(ctx, "r1", tasks.JobTypeManual, "")
	require.NoError(t, err)
	f.deliverLast(t)

	f.advance(2 * time.Second)
	f.publisher.err = errors.New("broker down")
	n, err := f.svc.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	job, _ := f.svc.GetStatus(ctx, id)
	assert.Equal(t, model.JobDelayed, job.State)
	stats, _ := f.svc.GetStats(ctx)
	assert.Equal(t, int64(1), stats.Delayed)

	f.publisher.err = nil
	f.advance(time.Second)
	n, err = f.svc.PromoteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPurgeFailed(t *testing.T) {
	boom := errors.New("boom")
	f := newQueueFixture(t, fmt.Errorf("%w", pipeline.ErrPermanent), boom)
	ctx := context.Background()
	for _, r := range []string{"r1", "r2"} {
		_, err := f.svc.Enqueue(ctx, r, tasks.JobTypeManual, "")
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.Handle(ctx, f.publisher.published[0]))
	require.NoError(t, f.svc.Handle(ctx, f.publisher.published[1]))

	stats, _ := f.svc.GetStats(ctx)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Delayed)

	n, err := f.svc.PurgeFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	stats, _ = f.svc.GetStats(ctx)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, int64(1), stats.Delayed)
}

func TestRequestGeneration_Authorization(t *testing.T) {
	f := newQueueFixture(t)
	ctx := context.Background()

	_, err := f.svc.RequestGeneration(ctx, model.Caller{UserID: "owner"}, "missing")
	assert.ErrorIs(t, err, ErrResumeNotFound)

	_, err = f.svc.RequestGeneration(ctx, model.Caller{UserID: "owner"}, "r3")
	assert.ErrorIs(t, err, ErrForbidden)

	id, err := f.svc.RequestGeneration(ctx, model.Caller{UserID: "admin", Role: model.RoleAdmin}, "r3")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = f.svc.RequestGeneration(ctx, model.Caller{UserID: "owner"}, "r1")
	require.NoError(t, err)
	last := f.publisher.published[len(f.publisher.published)-1]
	assert.Equal(t, tasks.JobTypeManual, last.Type)
	assert.Equal(t, "owner", last.RequesterID)
}

func TestRequestBulkGeneration(t *testing.T) {
	f := newQueueFixture(t)
	total, ids, err := f.svc.RequestBulkGeneration(context.Background(), model.Caller{UserID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, ids, 2)
	assert.Len(t, f.publisher.published, 2)
}

// interruptedProcessor 模拟处理过程中消费者被停机。
type interruptedProcessor struct {
	cancel context.CancelFunc
}

func (p *interruptedProcessor) Process(ctx context.Context, _ tasks.EmbeddingTask, _ pipeline.ProgressFunc) (*model.EmbeddingResult, error) {
	p.cancel()
	<-ctx.Done()
	return nil, fmt.Errorf("content 向量化失败: %w", ctx.Err())
}

func TestHandle_ShutdownDoesNotConsumeAttempt(t *testing.T) {
	f := newQueueFixture(t)
	id, err := f.svc.Enqueue(context.Background(), "r1", tasks.JobTypeManual, "")
	require.NoError(t, err)
	task := f.publisher.published[0]

	ctx, cancel := context.WithCancel(context.Background())
	f.svc.processor = &interruptedProcessor{cancel: cancel}
	err = f.svc.Handle(ctx, task)
	assert.ErrorIs(t, err, context.Canceled)

	job, err := f.svc.GetStatus(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.JobWaiting, job.State)
	assert.Zero(t, job.AttemptsMade)
	stats, _ := f.svc.GetStats(context.Background())
	assert.Equal(t, model.QueueStats{Waiting: 1, Total: 1}, stats)

	// 重启后重新投递的同一条消息正常处理
	f.svc.processor = f.processor
	require.NoError(t, f.svc.Handle(context.Background(), task))
	job, _ = f.svc.GetStatus(context.Background(), id)
	assert.Equal(t, model.JobCompleted, job.State)
	assert.Equal(t, 1, job.AttemptsMade)
}
