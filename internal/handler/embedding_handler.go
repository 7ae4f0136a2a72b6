package handler

import (
	"net/http"

	"resumecast-search/internal/middleware"
	"resumecast-search/internal/service"
	"resumecast-search/pkg/log"

	"github.com/gin-gonic/gin"
)

// EmbeddingHandler 处理 embedding 任务的触发与查询。
type EmbeddingHandler struct {
	queueService service.EmbeddingQueueService
}

// NewEmbeddingHandler 创建一个新的 EmbeddingHandler 实例。
func NewEmbeddingHandler(queueService service.EmbeddingQueueService) *EmbeddingHandler {
	return &EmbeddingHandler{queueService: queueService}
}

// Generate 为单份简历手动触发 embedding 生成。
func (h *EmbeddingHandler) Generate(c *gin.Context) {
	resumeID := c.Param("resumeId")
	caller := middleware.CallerFrom(c)

	jobID, err := h.queueService.RequestGeneration(c.Request.Context(), caller, resumeID)
	if err != nil {
		log.Errorf("[EmbeddingHandler] 触发 embedding 生成失败, ResumeID: %s, UserID: %s, Error: %v", resumeID, caller.UserID, err)
		respondError(c, err, "触发 embedding 生成失败")
		return
	}

	respond(c, http.StatusAccepted, "Embedding generation queued", gin.H{
		"message":  "Embedding generation queued",
		"jobId":    jobID,
		"resumeId": resumeID,
	})
}

// GenerateBulk 为调用者名下的全部简历触发 embedding 生成。
func (h *EmbeddingHandler) GenerateBulk(c *gin.Context) {
	caller := middleware.CallerFrom(c)

	total, jobIDs, err := h.queueService.RequestBulkGeneration(c.Request.Context(), caller)
	if err != nil {
		log.Errorf("[EmbeddingHandler] 批量触发失败, UserID: %s, 已入队: %d, Error: %v", caller.UserID, len(jobIDs), err)
		respondError(c, err, "批量触发 embedding 生成失败")
		return
	}

	respond(c, http.StatusAccepted, "Bulk embedding generation queued", gin.H{
		"totalResumes": total,
		"jobIds":       jobIDs,
	})
}

// JobStatus 返回单个任务的状态。
func (h *EmbeddingHandler) JobStatus(c *gin.Context) {
	jobID := c.Param("jobId")
	job, err := h.queueService.GetStatus(c.Request.Context(), jobID)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			log.Errorf("[EmbeddingHandler] 查询任务状态失败, JobID: %s, Error: %v", jobID, err)
		}
		respondError(c, err, "查询任务状态失败")
		return
	}
	respond(c, http.StatusOK, "success", job)
}

// QueueStats 返回各状态下的任务数量。
func (h *EmbeddingHandler) QueueStats(c *gin.Context) {
	stats, err := h.queueService.GetStats(c.Request.Context())
	if err != nil {
		log.Errorf("[EmbeddingHandler] 获取队列统计失败: %v", err)
		respondError(c, err, "获取队列统计失败")
		return
	}
	respond(c, http.StatusOK, "success", stats)
}

// ClearFailed 删除所有失败任务，仅管理员可用。
func (h *EmbeddingHandler) ClearFailed(c *gin.Context) {
	n, err := h.queueService.PurgeFailed(c.Request.Context())
	if err != nil {
		log.Errorf("[EmbeddingHandler] 清理失败任务出错: %v", err)
		respondError(c, err, "清理失败任务出错")
		return
	}
	respond(c, http.StatusOK, "success", gin.H{
		"message": "Failed jobs cleared",
		"cleared": n,
	})
}
