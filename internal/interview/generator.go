package interview

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"mockview/internal/database"
	"mockview/internal/errcode"
	"mockview/internal/llm"
	"mockview/internal/metrics"
	"mockview/internal/prompts"
)

// recentContext 是出题时带上的最近问答数量。
const recentContext = 3

// generatedQuestion 是出题模型必须输出的结构。
type generatedQuestion struct {
	Question     string `json:"question" validate:"required,max=4000"`
	Topic        string `json:"topic" validate:"required,max=255"`
	Tip          string `json:"tip" validate:"required,max=4000"`
	QuestionType string `json:"questionType" validate:"required,max=32"`
}

// questionFields 是流式过程中对外展示的三个字段。
type questionFields struct {
	Question string
	Topic    string
	Tip      string
}

// Generator 负责产出当前题目：已有未答题目时重放，否则调用模型流式生成。
type Generator struct {
	store           *Store
	model           llm.Client
	locks           *KeyedMutex
	validate        *validator.Validate
	logger          *slog.Logger
	resumeTextLimit int
}

// NewGenerator 构造 Generator。locks 必须与 Recorder 共用同一个实例。
func NewGenerator(store *Store, model llm.Client, locks *KeyedMutex, resumeTextLimit int, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		store:           store,
		model:           model,
		locks:           locks,
		validate:        validator.New(),
		logger:          logger,
		resumeTextLimit: resumeTextLimit,
	}
}

// Next 产出下一题并通过 emit 逐条推送。
// 终止消息（done）由 Next 发出；返回的错误由调用方转成 error 消息或 HTTP 状态。
func (g *Generator) Next(ctx context.Context, userID, interviewID uint, emit func(Chunk) error) error {
	iv, err := g.store.GetOwnedInterview(ctx, userID, interviewID)
	if err != nil {
		return err
	}
	if iv.Status != database.InterviewStatusActive {
		return errcode.InvalidState("interview is not active")
	}

	unlock, err := g.locks.Lock(ctx, interviewID)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := g.store.CurrentQuestion(ctx, interviewID)
	switch {
	case err == nil:
		return emit(doneChunk(current))
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("query current question: %w", err)
	}

	answered, err := g.store.AnsweredCount(ctx, interviewID)
	if err != nil {
		return err
	}
	if answered >= iv.QuestionCount {
		return emit(Chunk{Type: ChunkDone, Done: true})
	}

	maxIndex, err := g.store.MaxQuestionIndex(ctx, interviewID)
	if err != nil {
		return err
	}
	nextIndex := maxIndex + 1

	input, err := g.buildInput(ctx, iv, nextIndex)
	if err != nil {
		return err
	}

	q, err := g.generate(ctx, input, nextIndex, emit)
	if err != nil {
		if ctx.Err() == nil {
			metrics.ObserveGenerationFailure(errcode.KindOf(err).String())
		}
		return err
	}
	// 客户端在模型输出结束后才断开时同样不落库。
	if err := ctx.Err(); err != nil {
		return err
	}

	row := &database.InterviewQuestion{
		InterviewID:   interviewID,
		QuestionIndex: nextIndex,
		QuestionType:  q.QuestionType,
		Topic:         q.Topic,
		QuestionText:  q.Question,
		Tip:           q.Tip,
		ScoringStatus: database.ScoringStatusNone,
	}
	if err := g.store.InsertQuestion(ctx, row); err != nil {
		return err
	}
	metrics.ObserveQuestionGenerated()
	g.logger.Info("question generated",
		slog.Uint64("interview_id", uint64(interviewID)),
		slog.Uint64("question_id", uint64(row.ID)),
		slog.Int("question_index", nextIndex),
	)

	return emit(doneChunk(row))
}

func (g *Generator) buildInput(ctx context.Context, iv *database.Interview, nextIndex int) (prompts.QuestionInput, error) {
	input := prompts.QuestionInput{
		Session:   promptSession(iv),
		NextIndex: nextIndex,
	}

	resume, err := g.store.GetResume(ctx, iv.ResumeID)
	switch {
	case err == nil:
		if len(resume.Content) > 0 && string(resume.Content) != "null" {
			input.ResumeJSON = string(resume.Content)
		}
		input.ResumeText = prompts.Truncate(resume.RawText, g.resumeTextLimit)
	case errors.Is(err, gorm.ErrRecordNotFound):
		g.logger.Warn("resume missing for interview, generating without resume context",
			slog.Uint64("interview_id", uint64(iv.ID)),
			slog.Uint64("resume_id", uint64(iv.ResumeID)),
		)
	default:
		return input, fmt.Errorf("query resume: %w", err)
	}

	recent, err := g.store.RecentAnswered(ctx, iv.ID, recentContext)
	if err != nil {
		return input, err
	}
	for _, q := range recent {
		qa := prompts.QA{Index: q.QuestionIndex, Topic: q.Topic, Question: q.QuestionText}
		if q.AnswerText != nil {
			qa.Answer = *q.AnswerText
		}
		input.RecentAnswers = append(input.RecentAnswers, qa)
	}
	return input, nil
}

// generate 调用模型并推送有变化的中间结果，返回通过校验的最终题目。
func (g *Generator) generate(ctx context.Context, input prompts.QuestionInput, index int, emit func(Chunk) error) (*generatedQuestion, error) {
	stream, err := g.model.StreamJSON(ctx, prompts.QuestionMessages(input))
	if err != nil {
		return nil, modelError(err, "start question generation")
	}
	defer stream.Close()

	var (
		buf  strings.Builder
		last questionFields
	)
	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, modelError(err, "receive question stream")
		}
		if delta == "" {
			continue
		}
		buf.WriteString(delta)

		fields := partialFields(buf.String())
		next := questionFields{
			Question: fields["question"],
			Topic:    fields["topic"],
			Tip:      fields["tip"],
		}
		if next == last || next == (questionFields{}) {
			continue
		}
		last = next
		if err := emit(questionChunk(index, next)); err != nil {
			return nil, err
		}
	}

	q, err := g.finalize(buf.String())
	if err != nil {
		return nil, err
	}
	final := questionFields{Question: q.Question, Topic: q.Topic, Tip: q.Tip}
	if final != last {
		if err := emit(questionChunk(index, final)); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (g *Generator) finalize(text string) (*generatedQuestion, error) {
	raw, err := extractObject(text)
	if err != nil {
		return nil, errcode.Wrap(errcode.KindUpstream, "model returned no question", err)
	}
	var q generatedQuestion
	if err := decodeStrict(raw, &q); err != nil {
		return nil, errcode.Wrap(errcode.KindUpstream, "model returned a malformed question", err)
	}
	q.Question = strings.TrimSpace(q.Question)
	q.Topic = strings.TrimSpace(q.Topic)
	q.Tip = strings.TrimSpace(q.Tip)
	q.QuestionType = strings.TrimSpace(q.QuestionType)
	if err := g.validate.Struct(q); err != nil {
		return nil, errcode.Wrap(errcode.KindUpstream, "model returned an incomplete question", err)
	}
	return &q, nil
}

func questionChunk(index int, f questionFields) Chunk {
	return Chunk{
		Type:          ChunkQuestion,
		QuestionIndex: index,
		Question:      f.Question,
		Topic:         f.Topic,
		Tip:           f.Tip,
	}
}

func doneChunk(q *database.InterviewQuestion) Chunk {
	return Chunk{
		Type:          ChunkDone,
		ID:            q.ID,
		QuestionIndex: q.QuestionIndex,
		Question:      q.QuestionText,
		Topic:         q.Topic,
		Tip:           q.Tip,
	}
}

func promptSession(iv *database.Interview) prompts.Session {
	return prompts.Session{
		Level:         iv.Level,
		Type:          iv.Type,
		Language:      iv.Language,
		Persona:       iv.Persona,
		QuestionCount: iv.QuestionCount,
	}
}

// modelError 把模型层的结构化错误映射到业务错误分类，ctx 取消原样返回。
func modelError(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch llm.KindOf(err) {
	case llm.ErrRateLimited:
		return errcode.Wrap(errcode.KindRateLimited, "model is rate limited, retry later", err)
	case llm.ErrNoOutput:
		return errcode.Wrap(errcode.KindUpstream, "model returned no usable output", err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
