// Package pipeline 定义了简历向量化的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"resumecast-search/internal/config"
	"resumecast-search/internal/model"
	"resumecast-search/internal/repository"
	"resumecast-search/pkg/embedding"
	"resumecast-search/pkg/fingerprint"
	"resumecast-search/pkg/log"
	"resumecast-search/pkg/metrics"
	"resumecast-search/pkg/tasks"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"
)

// 进度里程碑
const (
	ProgressLoaded      = 20
	ProgressEmbedded    = 60
	ProgressCombined    = 70
	ProgressFingerprint = 80
	ProgressDone        = 100
)

// ProgressFunc 接收 0-100 的进度，仅用于观测。
type ProgressFunc func(progress int)

// Processor 封装了简历向量化的所有依赖和逻辑。
type Processor struct {
	embeddingClient embedding.Client
	embeddingCfg    config.EmbeddingConfig
	resumeRepo      repository.ResumeRepository
	embeddingRepo   repository.EmbeddingRepository
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	embeddingClient embedding.Client,
	embeddingCfg config.EmbeddingConfig,
	resumeRepo repository.ResumeRepository,
	embeddingRepo repository.EmbeddingRepository,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		embeddingCfg:    embeddingCfg,
		resumeRepo:      resumeRepo,
		embeddingRepo:   embeddingRepo,
	}
}

// Process 是简历向量化的主函数：读取简历、并发计算向量、合并、计算指纹并原子地写入。
func (p *Processor) Process(ctx context.Context, task tasks.EmbeddingTask, progress ProgressFunc) (*model.EmbeddingResult, error) {
	if progress == nil {
		progress = func(int) {}
	}
	log.Infof("[EmbeddingWorker] 开始处理任务, JobID: %s, ResumeID: %s, Type: %s", task.JobID, task.ResumeID, task.Type)

	// 1. 读取简历
	resume, err := p.resumeRepo.FindByID(ctx, task.ResumeID)
	if errors.Is(err, repository.ErrNotFound) {
		log.Errorf("[EmbeddingWorker] 简历不存在, JobID: %s, ResumeID: %s", task.JobID, task.ResumeID)
		return nil, fmt.Errorf("%w: %s", ErrResumeNotFound, task.ResumeID)
	}
	if err != nil {
		return nil, fmt.Errorf("读取简历失败: %w", err)
	}
	progress(ProgressLoaded)

	// 更新事件只在文本指纹变化时重新计算向量
	if task.Type == tasks.JobTypeUpdate {
		result, err := p.reuseUnchanged(ctx, task, resume)
		if err != nil || result != nil {
			if result != nil {
				progress(ProgressDone)
			}
			return result, err
		}
	}

	// 2. 截断后并发请求向量
	content := p.truncate(resume.Content, "content", task)
	var contextText string
	hasContext := resume.HasLLMContext()
	if hasContext {
		contextText = p.truncate(*resume.LLMContext, "llm_context", task)
	}

	var contentVec, contextVec []float32
	var modelName string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := p.embeddingClient.Embed(gctx, content)
		if err != nil {
			return fmt.Errorf("content 向量化失败: %w", err)
		}
		contentVec = res.Vector
		// 记录服务实际返回的模型名，搜索时与查询向量的模型名比较
		modelName = res.Model
		return nil
	})
	if hasContext {
		g.Go(func() error {
			res, err := p.embeddingClient.Embed(gctx, contextText)
			if err != nil {
				return fmt.Errorf("llm_context 向量化失败: %w", err)
			}
			contextVec = res.Vector
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Errorf("[EmbeddingWorker] 向量化失败, JobID: %s, ResumeID: %s, Error: %v", task.JobID, task.ResumeID, err)
		return nil, err
	}
	if len(contentVec) != p.embeddingCfg.Dimensions {
		return nil, fmt.Errorf("%w: expected %d dimensions, got %d", ErrDimensionMismatch, p.embeddingCfg.Dimensions, len(contentVec))
	}
	progress(ProgressEmbedded)

	// 3. 合并向量
	combined, err := Combine(contentVec, contextVec, p.embeddingCfg.ContentWeight)
	if err != nil {
		log.Errorf("[EmbeddingWorker] 合并向量失败, JobID: %s, ResumeID: %s, Error: %v", task.JobID, task.ResumeID, err)
		return nil, err
	}
	progress(ProgressCombined)

	// 4. 指纹基于未截断的原文
	rec := &model.ResumeEmbedding{
		ResumeID:          resume.ID,
		ContentEmbedding:  pgvector.NewVector(contentVec),
		CombinedEmbedding: pgvector.NewVector(combined),
		EmbeddingModel:    modelName,
		ContentHash:       fingerprint.Of(resume.Content),
	}
	if hasContext {
		v := pgvector.NewVector(contextVec)
		rec.LLMContextEmbedding = &v
		rec.LLMContextHash = fingerprint.OfOptional(resume.LLMContext)
	}
	progress(ProgressFingerprint)

	// 5. 原子写入
	if err := p.embeddingRepo.Upsert(ctx, rec, resume.Visibility()); err != nil {
		log.Errorf("[EmbeddingWorker] 写入向量记录失败, JobID: %s, ResumeID: %s, Error: %v", task.JobID, task.ResumeID, err)
		return nil, fmt.Errorf("写入向量记录失败: %w", err)
	}
	progress(ProgressDone)

	log.Infof("[EmbeddingWorker] 任务处理成功, JobID: %s, ResumeID: %s, Dimensions: %d, HasLLMContext: %t",
		task.JobID, task.ResumeID, len(combined), hasContext)
	return &model.EmbeddingResult{
		ResumeID:            resume.ID,
		Type:                task.Type,
		ModelName:           rec.EmbeddingModel,
		Dimensions:          len(combined),
		HadAuxiliaryContext: hasContext,
	}, nil
}

// reuseUnchanged 在内容与上下文指纹都未变化时沿用已有向量，返回 nil 表示需要重新计算。
// 已有记录会带着最新的可见性重新写入一次，使 Elasticsearch 中冗余的过滤字段保持同步。
func (p *Processor) reuseUnchanged(ctx context.Context, task tasks.EmbeddingTask, resume *model.Resume) (*model.EmbeddingResult, error) {
	existing, err := p.embeddingRepo.FindByResumeID(ctx, resume.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取已有向量记录失败: %w", err)
	}

	hasContext := resume.HasLLMContext()
	if fingerprint.Changed(resume.Content, &existing.ContentHash) {
		return nil, nil
	}
	if hasContext && fingerprint.Changed(*resume.LLMContext, existing.LLMContextHash) {
		return nil, nil
	}
	if !hasContext && existing.LLMContextHash != nil {
		return nil, nil
	}

	if err := p.embeddingRepo.Upsert(ctx, existing, resume.Visibility()); err != nil {
		return nil, fmt.Errorf("写入向量记录失败: %w", err)
	}
	log.Infof("[EmbeddingWorker] 指纹未变化, 沿用已有向量, JobID: %s, ResumeID: %s", task.JobID, task.ResumeID)
	return &model.EmbeddingResult{
		ResumeID:            resume.ID,
		Type:                task.Type,
		ModelName:           existing.EmbeddingModel,
		Dimensions:          len(existing.CombinedEmbedding.Slice()),
		HadAuxiliaryContext: hasContext,
		Unchanged:           true,
	}, nil
}

// truncate 按字符（rune）截断到 MaxInputChars。
func (p *Processor) truncate(text, field string, task tasks.EmbeddingTask) string {
	out, truncated := Truncate(text, p.embeddingCfg.MaxInputChars)
	if truncated {
		metrics.Get().Truncations.WithLabelValues(field).Inc()
		log.Warnf("[EmbeddingWorker] %s 超出长度限制被截断, JobID: %s, ResumeID: %s, 原始长度: %d, 截断后: %d",
			field, task.JobID, task.ResumeID, utf8.RuneCountInString(text), p.embeddingCfg.MaxInputChars)
	}
	return out
}

// Truncate 返回 text 的前 limit 个字符，以及是否发生了截断。
func Truncate(text string, limit int) (string, bool) {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	return string([]rune(text)[:limit]), true
}

// Combine 计算 content*w + aux*(1-w)。aux 为空时原样返回 content 的副本。
func Combine(content, aux []float32, w float64) ([]float32, error) {
	out := make([]float32, len(content))
	if len(aux) == 0 {
		copy(out, content)
		return out, nil
	}
	if len(aux) != len(content) {
		return nil, fmt.Errorf("%w: content has %d dimensions, llm_context has %d", ErrDimensionMismatch, len(content), len(aux))
	}
	for i := range content {
		out[i] = float32(float64(content[i])*w + float64(aux[i])*(1-w))
	}
	return out, nil
}
