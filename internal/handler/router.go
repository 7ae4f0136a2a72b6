package handler

import (
	"net/http"

	"resumecast-search/internal/middleware"
	"resumecast-search/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes 注册 /api/v1/embeddings 下的全部路由以及健康检查和指标端点。
func RegisterRoutes(r *gin.Engine, jwtManager *token.JWTManager, embeddingHandler *EmbeddingHandler, searchHandler *SearchHandler) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1/embeddings")
	{
		api.POST("/search", middleware.OptionalAuth(jwtManager), searchHandler.Search)

		authed := api.Group("")
		authed.Use(middleware.RequireAuth(jwtManager))
		{
			authed.POST("/generate/:resumeId", embeddingHandler.Generate)
			authed.POST("/generate-bulk", embeddingHandler.GenerateBulk)
			authed.GET("/job/:jobId", embeddingHandler.JobStatus)
			authed.GET("/queue/stats", embeddingHandler.QueueStats)
			authed.DELETE("/queue/failed", middleware.RequireAdmin(), embeddingHandler.ClearFailed)
		}
	}
}
