package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hibiken/asynq"

	"mockview/internal/interview"
)

// Enqueuer 是 asynq.Client 中用到的部分，便于测试替换。
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqScoringQueue 把评分任务投递到 asynq，由 worker 进程消费。
type AsynqScoringQueue struct {
	client   Enqueuer
	maxRetry int
}

// NewAsynqScoringQueue 构造 AsynqScoringQueue。
func NewAsynqScoringQueue(client Enqueuer, maxRetry int) *AsynqScoringQueue {
	return &AsynqScoringQueue{client: client, maxRetry: maxRetry}
}

// EnqueueScoring 实现 interview.ScoringQueue。同一题目重复投递视为成功。
func (q *AsynqScoringQueue) EnqueueScoring(ctx context.Context, job interview.ScoringJob) error {
	task, err := NewScoreAnswerTask(ScoreAnswerPayload{
		UserID:        job.UserID,
		InterviewID:   job.InterviewID,
		QuestionID:    job.QuestionID,
		CorrelationID: job.CorrelationID,
	}, q.maxRetry)
	if err != nil {
		return fmt.Errorf("build score task: %w", err)
	}
	if _, err := q.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue score task: %w", err)
	}
	return nil
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
