package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"mockview/internal/errcode"
	"mockview/internal/interview"
	"mockview/internal/tasks"
)

// ScoreTaskHandler 消费单题评分任务。
type ScoreTaskHandler struct {
	scorer *interview.Scorer
	logger *slog.Logger
}

// NewScoreTaskHandler 创建评分任务处理器。
func NewScoreTaskHandler(scorer *interview.Scorer, logger *slog.Logger) *ScoreTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoreTaskHandler{scorer: scorer, logger: logger}
}

// ProcessTask 实现 asynq.Handler。最后一次重试仍失败时写入失败标记，完成流程据此不再等待。
func (h *ScoreTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ScoreAnswerPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("decode score payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("interview_id", uint64(payload.InterviewID)),
		slog.Uint64("question_id", uint64(payload.QuestionID)),
	)

	job := interview.ScoringJob{
		UserID:        payload.UserID,
		InterviewID:   payload.InterviewID,
		QuestionID:    payload.QuestionID,
		CorrelationID: payload.CorrelationID,
	}

	err := h.scorer.Score(ctx, job)
	if err == nil {
		return nil
	}
	if errcode.Is(err, errcode.KindNotFound) {
		log.Warn("question not found, skipping task")
		return nil
	}

	log.Error("score answer failed", slog.Any("error", err))
	if isFinalAsynqAttempt(ctx) {
		h.scorer.Fail(context.WithoutCancel(ctx), job, err)
	}
	return err
}
