package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"mockview/internal/api/middleware"
	"mockview/internal/errcode"
	"mockview/internal/interview"
)

// InterviewHandler 暴露面试会话、出题流、作答与完成接口。
type InterviewHandler struct {
	sessions     *interview.SessionService
	generator    *interview.Generator
	recorder     *interview.Recorder
	orchestrator *interview.Orchestrator
	limiter      RateLimiter
}

// NewInterviewHandler 构造 InterviewHandler；limiter 可以为 nil。
func NewInterviewHandler(
	sessions *interview.SessionService,
	generator *interview.Generator,
	recorder *interview.Recorder,
	orchestrator *interview.Orchestrator,
	limiter RateLimiter,
) *InterviewHandler {
	return &InterviewHandler{
		sessions:     sessions,
		generator:    generator,
		recorder:     recorder,
		orchestrator: orchestrator,
		limiter:      limiter,
	}
}

type createInterviewRequest struct {
	ResumeID      uint   `json:"resumeId" binding:"required"`
	Level         string `json:"level" binding:"required"`
	Type          string `json:"type" binding:"required"`
	Language      string `json:"language"`
	QuestionCount int    `json:"questionCount" binding:"required"`
	Persona       string `json:"persona"`
}

type submitAnswerRequest struct {
	QuestionID uint   `json:"questionId" binding:"required"`
	AnswerText string `json:"answerText"`
}

// CreateInterview 基于简历创建面试。
func (h *InterviewHandler) CreateInterview(c *gin.Context) {
	var req createInterviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	view, err := h.sessions.Create(c.Request.Context(), userID, interview.CreateInput{
		ResumeID:      req.ResumeID,
		Level:         req.Level,
		Type:          req.Type,
		Language:      req.Language,
		QuestionCount: req.QuestionCount,
		Persona:       req.Persona,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// ListInterviews 列出用户的面试。
func (h *InterviewHandler) ListInterviews(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	items, err := h.sessions.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetInterview 返回会话投影。
func (h *InterviewHandler) GetInterview(c *gin.Context) {
	userID, id, ok := h.principalAndID(c)
	if !ok {
		return
	}
	view, err := h.sessions.Get(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CurrentQuestion 返回当前未答题目与进度。
func (h *InterviewHandler) CurrentQuestion(c *gin.Context) {
	userID, id, ok := h.principalAndID(c)
	if !ok {
		return
	}
	view, err := h.sessions.Current(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListQuestions 返回全部题目。
func (h *InterviewHandler) ListQuestions(c *gin.Context) {
	userID, id, ok := h.principalAndID(c)
	if !ok {
		return
	}
	items, err := h.sessions.ListQuestions(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// GetQuestion 返回单题详情。
func (h *InterviewHandler) GetQuestion(c *gin.Context) {
	userID, id, ok := h.principalAndID(c)
	if !ok {
		return
	}
	qid, ok := parseIDParam(c, "qid")
	if !ok {
		return
	}
	view, err := h.sessions.GetQuestion(c.Request.Context(), userID, id, qid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// NextQuestion 以 NDJSON 流式返回下一题。
// 第一行输出之前的错误按普通 JSON 错误返回；开始输出后以一条 error 消息结束。
func (h *InterviewHandler) NextQuestion(c *gin.Context) {
	userID, id, ok := h.principalAndID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c).With(slog.Uint64("interview_id", uint64(id)))

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, userID)
		if err != nil {
			log.Warn("generation rate check failed", slog.Any("error", err))
		} else if !allowed {
			respondError(c, errcode.New(errcode.KindRateLimited, "too many questions requested, retry later"))
			return
		}
	}

	started := false
	enc := json.NewEncoder(c.Writer)
	emit := func(chunk interview.Chunk) error {
		if !started {
			c.Header("Content-Type", "application/x-ndjson")
			c.Header("Cache-Control", "no-cache")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			started = true
		}
		if err := enc.Encode(chunk); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	}

	err := h.generator.Next(ctx, userID, id, emit)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		log.Info("question stream aborted by client", slog.Any("error", err))
		return
	}
	if !started && !streamsAsLine(err) {
		respondError(c, err)
		return
	}

	log.Warn("question stream failed", slog.Any("error", err))
	if emitErr := emit(interview.Chunk{
		Type:    interview.ChunkError,
		Message: errcode.MessageOf(err),
		Code:    streamErrorCode(err),
	}); emitErr != nil {
		log.Info("write stream error failed", slog.Any("error", emitErr))
	}
}

// streamsAsLine 判断尚未开始输出时的错误是否仍以 NDJSON error 行返回。
// 模型限流与无有效输出走 error 行，其余错误按普通 HTTP 错误返回。
func streamsAsLine(err error) bool {
	switch errcode.KindOf(err) {
	case errcode.KindRateLimited, errcode.KindUpstream:
		return true
	default:
		return false
	}
}

// streamErrorCode 返回流式 error 消息的 code 字段。
func streamErrorCode(err error) string {
	switch errcode.KindOf(err) {
	case errcode.KindRateLimited, errcode.KindUpstream, errcode.KindInvalidState:
		return errcode.KindOf(err).String()
	default:
		return errcode.KindInternal.String()
	}
}

// SubmitAnswer 记录作答并返回进度，评分在后台进行。
func (h *InterviewHandler) SubmitAnswer(c *gin.Context) {
	userID, id, ok := h.principalAndID(c)
	if !ok {
		return
	}
	var req submitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	progress, err := h.recorder.Submit(c.Request.Context(), userID, id, interview.AnswerInput{
		QuestionID:    req.QuestionID,
		AnswerText:    req.AnswerText,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": progress})
}

// CompleteInterview 完成面试并返回报告；并发调用共享同一次编译。
func (h *InterviewHandler) CompleteInterview(c *gin.Context) {
	userID, id, ok := h.principalAndID(c)
	if !ok {
		return
	}
	outcome, err := h.orchestrator.Complete(c.Request.Context(), userID, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

func (h *InterviewHandler) principalAndID(c *gin.Context) (uint, uint, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return 0, 0, false
	}
	id, ok := parseIDParam(c, "id")
	if !ok {
		return 0, 0, false
	}
	return userID, id, true
}
