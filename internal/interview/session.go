package interview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"mockview/internal/database"
	"mockview/internal/errcode"
)

// defaultListLimit 是会话列表的默认条数。
const defaultListLimit = 50

// SessionService 提供面试创建与只读投影，供前端轮询。
type SessionService struct {
	store        *Store
	orchestrator *Orchestrator
	validate     *validator.Validate
	maxQuestions int
	now          func() time.Time
}

// NewSessionService 构造 SessionService。orchestrator 用于把进行中的完成流程展示为 completing。
func NewSessionService(store *Store, orchestrator *Orchestrator, maxQuestions int) *SessionService {
	return &SessionService{
		store:        store,
		orchestrator: orchestrator,
		validate:     validator.New(),
		maxQuestions: maxQuestions,
		now:          time.Now,
	}
}

// Create 基于用户自己的简历创建面试。
func (s *SessionService) Create(ctx context.Context, userID uint, in CreateInput) (*SessionView, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, errcode.Wrap(errcode.KindValidation, "invalid interview parameters", err)
	}
	if s.maxQuestions > 0 && in.QuestionCount > s.maxQuestions {
		return nil, errcode.Validation(fmt.Sprintf("questionCount must be between 1 and %d", s.maxQuestions))
	}
	if _, err := s.store.GetOwnedResume(ctx, userID, in.ResumeID); err != nil {
		return nil, err
	}

	language := in.Language
	if language == "" {
		language = "en"
	}
	iv := &database.Interview{
		UserID:        userID,
		ResumeID:      in.ResumeID,
		Level:         in.Level,
		Type:          in.Type,
		Language:      language,
		QuestionCount: in.QuestionCount,
		Persona:       in.Persona,
		Status:        database.InterviewStatusActive,
		StartedAt:     s.now().UTC(),
	}
	if err := s.store.CreateInterview(ctx, iv); err != nil {
		return nil, err
	}
	return s.view(iv, 0), nil
}

// Get 返回会话投影。
func (s *SessionService) Get(ctx context.Context, userID, interviewID uint) (*SessionView, error) {
	iv, err := s.store.GetOwnedInterview(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	answered, err := s.store.AnsweredCount(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	return s.view(iv, answered), nil
}

// List 返回用户最近的面试。
func (s *SessionService) List(ctx context.Context, userID uint) ([]SessionView, error) {
	items, err := s.store.ListInterviews(ctx, userID, defaultListLimit)
	if err != nil {
		return nil, err
	}
	out := make([]SessionView, 0, len(items))
	for i := range items {
		answered, err := s.store.AnsweredCount(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *s.view(&items[i], answered))
	}
	return out, nil
}

// Current 返回当前题目与进度，没有未答题目时 Question 为空。
func (s *SessionService) Current(ctx context.Context, userID, interviewID uint) (*CurrentView, error) {
	iv, err := s.store.GetOwnedInterview(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	answered, err := s.store.AnsweredCount(ctx, interviewID)
	if err != nil {
		return nil, err
	}

	out := &CurrentView{Progress: Progress{Current: answered, Total: iv.QuestionCount}}
	q, err := s.store.CurrentQuestion(ctx, interviewID)
	switch {
	case err == nil:
		v := questionView(*q, nil)
		out.Question = &v
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("query current question: %w", err)
	}
	return out, nil
}

// ListQuestions 返回全部题目及其评分。
func (s *SessionService) ListQuestions(ctx context.Context, userID, interviewID uint) ([]QuestionView, error) {
	if _, err := s.store.GetOwnedInterview(ctx, userID, interviewID); err != nil {
		return nil, err
	}
	questions, err := s.store.ListQuestions(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	scores, err := s.store.ScoresFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]QuestionView, 0, len(questions))
	for _, q := range questions {
		var score *database.QuestionScore
		if sc, ok := scores[q.ID]; ok {
			score = &sc
		}
		out = append(out, questionView(q, score))
	}
	return out, nil
}

// GetQuestion 返回单题详情。
func (s *SessionService) GetQuestion(ctx context.Context, userID, interviewID, questionID uint) (*QuestionView, error) {
	if _, err := s.store.GetOwnedInterview(ctx, userID, interviewID); err != nil {
		return nil, err
	}
	q, err := s.store.GetInterviewQuestion(ctx, interviewID, questionID)
	if err != nil {
		return nil, err
	}
	scores, err := s.store.ScoresFor(ctx, []uint{q.ID})
	if err != nil {
		return nil, err
	}
	var score *database.QuestionScore
	if sc, ok := scores[q.ID]; ok {
		score = &sc
	}
	v := questionView(*q, score)
	return &v, nil
}

func (s *SessionService) view(iv *database.Interview, answered int) *SessionView {
	status := iv.Status
	if status == database.InterviewStatusActive && s.orchestrator != nil && s.orchestrator.InFlight(iv.ID) {
		status = StatusCompleting
	}
	return &SessionView{
		ID:            iv.ID,
		ResumeID:      iv.ResumeID,
		Status:        status,
		Level:         iv.Level,
		Type:          iv.Type,
		Language:      iv.Language,
		Persona:       iv.Persona,
		QuestionCount: iv.QuestionCount,
		Answered:      answered,
		OverallScore:  iv.OverallScore,
		Degraded:      iv.Degraded,
		StartedAt:     iv.StartedAt,
		CompletedAt:   iv.CompletedAt,
	}
}

func questionView(q database.InterviewQuestion, score *database.QuestionScore) QuestionView {
	v := QuestionView{
		ID:            q.ID,
		QuestionIndex: q.QuestionIndex,
		QuestionType:  q.QuestionType,
		Topic:         q.Topic,
		Question:      q.QuestionText,
		Tip:           q.Tip,
		Answer:        q.AnswerText,
		AnsweredAt:    q.AnsweredAt,
		ScoringStatus: q.ScoringStatus,
	}
	if len(q.FeedbackJSON) > 0 && string(q.FeedbackJSON) != "null" {
		v.Feedback = []byte(q.FeedbackJSON)
	}
	if score != nil {
		sv := scoreView(*score)
		v.Score = &sv
	}
	return v
}
