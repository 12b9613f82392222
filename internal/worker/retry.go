package worker

import (
	"context"

	"github.com/hibiken/asynq"
)

// isFinalAsynqAttempt 判断当前是否为最后一次重试；不在 asynq 上下文中时返回 false。
func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
