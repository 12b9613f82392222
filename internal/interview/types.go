package interview

import (
	"encoding/json"
	"time"
)

// 流式出题协议的消息类型。
const (
	ChunkQuestion = "question"
	ChunkDone     = "done"
	ChunkError    = "error"
)

// 对外展示的会话状态，completing 表示完成流程正在进行。
const (
	StatusActive     = "active"
	StatusCompleting = "completing"
	StatusCompleted  = "completed"
)

// Chunk 是 NDJSON 流中的一行。
type Chunk struct {
	Type          string `json:"type"`
	ID            uint   `json:"id,omitempty"`
	QuestionIndex int    `json:"questionIndex,omitempty"`
	Question      string `json:"question,omitempty"`
	Topic         string `json:"topic,omitempty"`
	Tip           string `json:"tip,omitempty"`
	Done          bool   `json:"done,omitempty"`
	Message       string `json:"message,omitempty"`
	Code          string `json:"code,omitempty"`
}

// Progress 是作答进度。
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// DimensionScores 是六个评分维度，单题与汇总报告共用。
type DimensionScores struct {
	Understanding int `json:"understanding" validate:"min=0,max=10"`
	Expression    int `json:"expression" validate:"min=0,max=10"`
	Logic         int `json:"logic" validate:"min=0,max=10"`
	Depth         int `json:"depth" validate:"min=0,max=10"`
	Authenticity  int `json:"authenticity" validate:"min=0,max=10"`
	Reflection    int `json:"reflection" validate:"min=0,max=10"`
}

// DeepDive 是题目的延伸学习内容。
type DeepDive struct {
	CoreConcepts []string `json:"coreConcepts"`
	Pitfalls     []string `json:"pitfalls"`
	ModelAnswer  string   `json:"modelAnswer"`
}

// Feedback 存储在 interview_questions.feedback_json。
type Feedback struct {
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Advice       string   `json:"advice"`
	DeepDive     DeepDive `json:"deepDive"`
}

// ScoreView 是单题评分的只读投影。
type ScoreView struct {
	DimensionScores
	Overall int `json:"overall"`
}

// ReportQuestion 是报告中的单题条目；Score 为空表示跳过或评分缺失。
type ReportQuestion struct {
	QuestionID    uint       `json:"questionId"`
	QuestionIndex int        `json:"questionIndex"`
	QuestionType  string     `json:"questionType"`
	Topic         string     `json:"topic"`
	Question      string     `json:"question"`
	Skipped       bool       `json:"skipped"`
	Score         *ScoreView `json:"score,omitempty"`
}

// ReportMeta 记录报告生成方式，degraded 表示有评分缺失。
type ReportMeta struct {
	Degraded            bool      `json:"degraded"`
	UnscoredQuestionIDs []uint    `json:"unscoredQuestionIds,omitempty"`
	GeneratedAt         time.Time `json:"generatedAt"`
}

// Report 是最终报告，序列化后存储在 interviews.report_json。
type Report struct {
	OverallScore  int              `json:"overallScore"`
	Dimensions    DimensionScores  `json:"dimensions"`
	TopStrengths  []string         `json:"topStrengths"`
	CriticalFocus []string         `json:"criticalFocus"`
	Summary       string           `json:"summary"`
	NextSteps     []string         `json:"nextSteps"`
	Questions     []ReportQuestion `json:"questions"`
	Meta          ReportMeta       `json:"meta"`
}

// Outcome 是完成流程的结果，所有并发调用方拿到同一份。
type Outcome struct {
	InterviewID  uint      `json:"interviewId"`
	Status       string    `json:"status"`
	OverallScore int       `json:"overallScore"`
	CompletedAt  time.Time `json:"completedAt"`
	Report       *Report   `json:"report"`
}

// SessionView 是会话的只读投影，供前端轮询。
type SessionView struct {
	ID            uint       `json:"id"`
	ResumeID      uint       `json:"resumeId"`
	Status        string     `json:"status"`
	Level         string     `json:"level"`
	Type          string     `json:"type"`
	Language      string     `json:"language"`
	Persona       string     `json:"persona"`
	QuestionCount int        `json:"questionCount"`
	Answered      int        `json:"answered"`
	OverallScore  *int       `json:"overallScore"`
	Degraded      bool       `json:"degraded"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt"`
}

// QuestionView 是单题的只读投影。
type QuestionView struct {
	ID            uint            `json:"id"`
	QuestionIndex int             `json:"questionIndex"`
	QuestionType  string          `json:"questionType"`
	Topic         string          `json:"topic"`
	Question      string          `json:"question"`
	Tip           string          `json:"tip"`
	Answer        *string         `json:"answer"`
	AnsweredAt    *time.Time      `json:"answeredAt"`
	ScoringStatus string          `json:"scoringStatus,omitempty"`
	Score         *ScoreView      `json:"score,omitempty"`
	Feedback      json.RawMessage `json:"feedback,omitempty"`
}

// CurrentView 是当前题目加进度。
type CurrentView struct {
	Question *QuestionView `json:"question"`
	Progress Progress      `json:"progress"`
}

// CreateInput 是新建面试的参数。
type CreateInput struct {
	ResumeID      uint   `validate:"required"`
	Level         string `validate:"required,max=32"`
	Type          string `validate:"required,max=32"`
	Language      string `validate:"omitempty,max=16"`
	QuestionCount int    `validate:"min=1"`
	Persona       string `validate:"omitempty,max=64"`
}

// AnswerInput 是提交作答的参数。
type AnswerInput struct {
	QuestionID    uint
	AnswerText    string
	CorrelationID string
}

// ScoringJob 描述一次后台评分。
type ScoringJob struct {
	UserID        uint   `json:"user_id"`
	InterviewID   uint   `json:"interview_id"`
	QuestionID    uint   `json:"question_id"`
	CorrelationID string `json:"correlation_id"`
}
