package interview

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"mockview/internal/database"
	"mockview/internal/errcode"
	"mockview/internal/llm"
	"mockview/internal/metrics"
	"mockview/internal/notify"
	"mockview/internal/prompts"
	"mockview/internal/resume"
)

// resumeSummaryLimit 是评分与报告使用的简历摘要长度。
const resumeSummaryLimit = 1500

// scoreResult 是评分模型必须输出的结构。
type scoreResult struct {
	Scores       DimensionScores `json:"scores"`
	Overall      int             `json:"overall" validate:"min=0,max=10"`
	Strengths    []string        `json:"strengths"`
	Improvements []string        `json:"improvements"`
	Advice       string          `json:"advice"`
	DeepDive     DeepDive        `json:"deepDive"`
}

// Scorer 对单题作答评分，评分结果与失败标记都会发布到评分频道。
type Scorer struct {
	store    *Store
	model    llm.Client
	bus      notify.Bus
	validate *validator.Validate
	logger   *slog.Logger
}

// NewScorer 构造 Scorer。
func NewScorer(store *Store, model llm.Client, bus notify.Bus, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		store:    store,
		model:    model,
		bus:      bus,
		validate: validator.New(),
		logger:   logger,
	}
}

// Score 执行一次评分。返回错误时调用方可以重试；已评分的题目直接返回 nil。
func (s *Scorer) Score(ctx context.Context, job ScoringJob) error {
	q, err := s.store.GetQuestion(ctx, job.QuestionID)
	if err != nil {
		return err
	}
	if q.ScoringStatus == database.ScoringStatusScored {
		return nil
	}
	if q.AnswerText == nil || strings.TrimSpace(*q.AnswerText) == "" {
		return nil
	}

	iv, err := s.store.GetInterview(ctx, q.InterviewID)
	if err != nil {
		return err
	}

	var out scoreResult
	input := prompts.ScoreInput{
		Session:       promptSession(iv),
		ResumeSummary: loadResumeSummary(ctx, s.store, iv.ResumeID, s.logger),
		QuestionType:  q.QuestionType,
		Topic:         q.Topic,
		Question:      q.QuestionText,
		Answer:        *q.AnswerText,
	}
	if err := s.model.CompleteJSON(ctx, prompts.ScoreMessages(input), &out); err != nil {
		return modelError(err, "score answer")
	}
	if err := s.validate.Struct(out); err != nil {
		return errcode.Wrap(errcode.KindUpstream, "model returned an invalid score", err)
	}

	row := database.QuestionScore{
		Understanding: out.Scores.Understanding,
		Expression:    out.Scores.Expression,
		Logic:         out.Scores.Logic,
		Depth:         out.Scores.Depth,
		Authenticity:  out.Scores.Authenticity,
		Reflection:    out.Scores.Reflection,
		Overall:       out.Overall,
	}
	feedback := Feedback{
		Strengths:    out.Strengths,
		Improvements: out.Improvements,
		Advice:       out.Advice,
		DeepDive:     out.DeepDive,
	}
	if err := s.store.SaveScore(ctx, q.ID, row, feedback); err != nil {
		return err
	}

	metrics.ObserveScoring(database.ScoringStatusScored)
	s.logger.Info("answer scored",
		slog.Uint64("interview_id", uint64(q.InterviewID)),
		slog.Uint64("question_id", uint64(q.ID)),
		slog.Int("overall", out.Overall),
		slog.String("correlation_id", job.CorrelationID),
	)
	s.publish(ctx, job, notify.ScoreStatusScored, errcode.OK, "")
	return nil
}

// Fail 在重试耗尽后记录失败标记，让完成流程不必等到超时。
func (s *Scorer) Fail(ctx context.Context, job ScoringJob, cause error) {
	reason := "scoring failed"
	if cause != nil {
		reason = cause.Error()
	}
	if err := s.store.MarkScoringFailed(ctx, job.QuestionID, reason); err != nil {
		s.logger.Error("mark scoring failed",
			slog.Uint64("question_id", uint64(job.QuestionID)),
			slog.Any("error", err),
		)
	}
	metrics.ObserveScoring(database.ScoringStatusFailed)
	s.logger.Warn("answer scoring gave up",
		slog.Uint64("interview_id", uint64(job.InterviewID)),
		slog.Uint64("question_id", uint64(job.QuestionID)),
		slog.String("correlation_id", job.CorrelationID),
		slog.Any("error", cause),
	)
	s.publish(ctx, job, notify.ScoreStatusFailed, errcode.SystemError, errcode.MessageOf(cause))
}

func (s *Scorer) publish(ctx context.Context, job ScoringJob, status string, code int, message string) {
	event := notify.ScoreEvent{InterviewID: job.InterviewID, QuestionID: job.QuestionID, Status: status}
	if err := notify.PublishScore(ctx, s.bus, event); err != nil {
		s.logger.Warn("publish score event failed", slog.Any("error", err))
	}

	msg := notify.UserMessage{
		Type:          notify.TypeScoreReady,
		Status:        status,
		InterviewID:   job.InterviewID,
		QuestionID:    job.QuestionID,
		CorrelationID: job.CorrelationID,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
	if err := notify.PublishUser(ctx, s.bus, job.UserID, msg); err != nil {
		s.logger.Warn("publish user notification failed", slog.Any("error", err))
	}
}

// loadResumeSummary 读取简历摘要，读取失败时退化为空上下文。
func loadResumeSummary(ctx context.Context, store *Store, resumeID uint, logger *slog.Logger) string {
	r, err := store.GetResume(ctx, resumeID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("load resume failed", slog.Uint64("resume_id", uint64(resumeID)), slog.Any("error", err))
		}
		return ""
	}
	content, err := resume.Parse(r.Content)
	if err != nil {
		logger.Warn("parse resume content failed", slog.Uint64("resume_id", uint64(resumeID)), slog.Any("error", err))
	}
	return resume.Summary(content, r.RawText, resumeSummaryLimit)
}
