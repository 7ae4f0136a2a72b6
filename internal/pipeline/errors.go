package pipeline

import (
	"errors"
	"fmt"
)

// ErrPermanent 标记重试也不会成功的失败，队列收到后直接将任务置为 failed。
var ErrPermanent = errors.New("permanent failure")

var (
	ErrResumeNotFound    = fmt.Errorf("%w: resume not found", ErrPermanent)
	ErrDimensionMismatch = fmt.Errorf("%w: embedding dimension mismatch", ErrPermanent)
)

// IsPermanent 判断 err 是否为不可重试的失败。
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
