// Package service 包含了应用的业务逻辑层。
package service

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidJob        = errors.New("invalid job")
	ErrResumeNotFound    = errors.New("resume not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidSearch     = errors.New("invalid search request")
	ErrSearchUnavailable = errors.New("search unavailable")
)
