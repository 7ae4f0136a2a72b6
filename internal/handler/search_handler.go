package handler

import (
	"fmt"
	"net/http"

	"resumecast-search/internal/middleware"
	"resumecast-search/internal/model"
	"resumecast-search/internal/service"
	"resumecast-search/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了搜索相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
	}
}

// Search 处理语义搜索请求，调用者身份可选。
func (h *SearchHandler) Search(c *gin.Context) {
	var req model.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("[SearchHandler] 搜索请求体解析失败: %v", err)
		respondError(c, fmt.Errorf("%w: %v", service.ErrInvalidSearch, err), "")
		return
	}

	caller := middleware.CallerFrom(c)
	log.Infof("[SearchHandler] 收到语义搜索请求, query: %q, caller: %s", req.Query, caller.UserID)

	resp, err := h.searchService.Search(c.Request.Context(), req, caller)
	if err != nil {
		log.Errorf("[SearchHandler] 搜索服务返回错误, error: %v", err)
		respondError(c, err, "搜索失败")
		return
	}

	log.Infof("[SearchHandler] 语义搜索成功, query: %q, 返回 %d 条结果, 耗时 %dms", resp.Query, len(resp.Results), resp.ExecutionTimeMs)
	respond(c, http.StatusOK, "success", resp)
}
