package interview

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"mockview/internal/database"
	"mockview/internal/errcode"
	"mockview/internal/metrics"
)

// ScoringQueue 接收后台评分任务。实现可以是 asynq 队列，也可以是进程内协程池。
// EnqueueScoring 只负责投递，不等待评分完成。
type ScoringQueue interface {
	EnqueueScoring(ctx context.Context, job ScoringJob) error
}

// Recorder 同步记录作答，并把非空作答交给后台评分。
type Recorder struct {
	store          *Store
	locks          *KeyedMutex
	queue          ScoringQueue
	maxAnswerRunes int
	logger         *slog.Logger
	now            func() time.Time
}

// NewRecorder 构造 Recorder。
func NewRecorder(store *Store, locks *KeyedMutex, queue ScoringQueue, maxAnswerRunes int, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:          store,
		locks:          locks,
		queue:          queue,
		maxAnswerRunes: maxAnswerRunes,
		logger:         logger,
		now:            time.Now,
	}
}

// Submit 记录作答并立即返回进度，评分在后台进行。
func (r *Recorder) Submit(ctx context.Context, userID, interviewID uint, in AnswerInput) (Progress, error) {
	if in.QuestionID == 0 {
		return Progress{}, errcode.Validation("questionId is required")
	}
	if r.maxAnswerRunes > 0 && utf8.RuneCountInString(in.AnswerText) > r.maxAnswerRunes {
		return Progress{}, errcode.Validation(fmt.Sprintf("answer exceeds %d characters", r.maxAnswerRunes))
	}

	iv, err := r.store.GetOwnedInterview(ctx, userID, interviewID)
	if err != nil {
		return Progress{}, err
	}
	if iv.Status != database.InterviewStatusActive {
		return Progress{}, errcode.InvalidState("interview is not active")
	}

	answer := strings.TrimSpace(in.AnswerText)
	answered, err := r.record(ctx, interviewID, in.QuestionID, answer)
	if err != nil {
		return Progress{}, err
	}

	job := ScoringJob{
		UserID:        userID,
		InterviewID:   interviewID,
		QuestionID:    in.QuestionID,
		CorrelationID: in.CorrelationID,
	}
	if answer == "" {
		metrics.ObserveScoring(database.ScoringStatusSkipped)
	} else {
		r.schedule(ctx, job)
	}

	return Progress{Current: answered, Total: iv.QuestionCount}, nil
}

// record 在面试锁内完成"检查未作答并写入"，返回写入后的已作答数。
func (r *Recorder) record(ctx context.Context, interviewID, questionID uint, answer string) (int, error) {
	unlock, err := r.locks.Lock(ctx, interviewID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	q, err := r.store.GetInterviewQuestion(ctx, interviewID, questionID)
	if err != nil {
		return 0, err
	}
	if q.AnsweredAt != nil {
		return 0, errcode.InvalidState("question already answered")
	}

	status := database.ScoringStatusPending
	if answer == "" {
		status = database.ScoringStatusSkipped
	}
	ok, err := r.store.MarkAnswered(ctx, questionID, answer, r.now(), status)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errcode.InvalidState("question already answered")
	}

	return r.store.AnsweredCount(ctx, interviewID)
}

// schedule 投递评分任务；投递失败只记录失败标记，不影响作答结果。
func (r *Recorder) schedule(ctx context.Context, job ScoringJob) {
	ctx = context.WithoutCancel(ctx)
	if err := r.queue.EnqueueScoring(ctx, job); err != nil {
		r.logger.Error("enqueue scoring job failed",
			slog.Uint64("interview_id", uint64(job.InterviewID)),
			slog.Uint64("question_id", uint64(job.QuestionID)),
			slog.String("correlation_id", job.CorrelationID),
			slog.Any("error", err),
		)
		metrics.ObserveScoring(database.ScoringStatusFailed)
		if markErr := r.store.MarkScoringFailed(ctx, job.QuestionID, "enqueue failed: "+err.Error()); markErr != nil {
			r.logger.Error("mark scoring failed", slog.Uint64("question_id", uint64(job.QuestionID)), slog.Any("error", markErr))
		}
	}
}
