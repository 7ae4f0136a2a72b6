// Package handler 包含 HTTP 请求处理器。
package handler

import (
	"errors"
	"net/http"

	"resumecast-search/internal/service"

	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// statusFor 将业务层错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidSearch), errors.Is(err, service.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrResumeNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrSearchUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	msg := fallback
	if status != http.StatusInternalServerError {
		msg = err.Error()
	}
	respond(c, status, msg, nil)
}
