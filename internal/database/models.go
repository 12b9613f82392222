package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 面试状态。completing 仅在内存中出现（见 interview.Orchestrator），不落库。
const (
	InterviewStatusActive    = "active"
	InterviewStatusCompleted = "completed"
)

// 单题评分任务状态。
const (
	ScoringStatusNone    = ""
	ScoringStatusPending = "pending"
	ScoringStatusScored  = "scored"
	ScoringStatusFailed  = "failed"
	ScoringStatusSkipped = "skipped"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username string `gorm:"uniqueIndex;size:64"`
}

// Resume 是外部简历解析流程落库后的结果，面试只读取它。
type Resume struct {
	gorm.Model
	Title   string         `gorm:"size:255"`
	Content datatypes.JSON `gorm:"type:jsonb"` // 结构化简历
	RawText string         `gorm:"type:text"`  // 抽取出的原文
	UserID  uint           `gorm:"index"`
	User    User           `gorm:"constraint:OnDelete:CASCADE"`
}

// Interview 表示一次完整的模拟面试。
type Interview struct {
	gorm.Model
	UserID        uint   `gorm:"index"`
	ResumeID      uint   `gorm:"index"`
	Level         string `gorm:"size:32"`
	Type          string `gorm:"size:32"`
	Language      string `gorm:"size:16"`
	QuestionCount int
	Persona       string         `gorm:"size:64"`
	Status        string         `gorm:"size:16;index"`
	OverallScore  *int           // 0-100
	ReportJSON    datatypes.JSON `gorm:"type:jsonb"`
	Degraded      bool           `gorm:"default:false"`
	ReportPDFKey  string         `gorm:"size:512"`
	StartedAt     time.Time
	CompletedAt   *time.Time
	Questions     []InterviewQuestion `gorm:"constraint:OnDelete:CASCADE"`
}

// InterviewQuestion 是面试中的一道题及其作答。
// (interview_id, question_index) 唯一，index 只增不复用。
type InterviewQuestion struct {
	gorm.Model
	InterviewID   uint           `gorm:"uniqueIndex:idx_interview_question_index"`
	QuestionIndex int            `gorm:"uniqueIndex:idx_interview_question_index"`
	QuestionType  string         `gorm:"size:32"`
	Topic         string         `gorm:"size:255"`
	QuestionText  string         `gorm:"type:text"`
	Tip           string         `gorm:"type:text"`
	AnswerText    *string        `gorm:"type:text"`
	AnsweredAt    *time.Time     `gorm:"index"`
	FeedbackJSON  datatypes.JSON `gorm:"type:jsonb"`
	ScoringStatus string         `gorm:"size:16;index"`
	ScoringError  string         `gorm:"size:512"`
}

// QuestionScore 是单题的六维评分，写入后不可变。
type QuestionScore struct {
	gorm.Model
	QuestionID    uint `gorm:"uniqueIndex"`
	Understanding int
	Expression    int
	Logic         int
	Depth         int
	Authenticity  int
	Reflection    int
	Overall       int
}

// ShareRecord 记录报告的分享状态。撤销只打墓碑，不删除。
type ShareRecord struct {
	gorm.Model
	InterviewID uint   `gorm:"uniqueIndex"`
	Nonce       string `gorm:"size:128"`
	ExpiresAt   time.Time
	RevokedAt   *time.Time
}

// AllModels 返回需要迁移的全部模型。
func AllModels() []any {
	return []any{
		&User{},
		&Resume{},
		&Interview{},
		&InterviewQuestion{},
		&QuestionScore{},
		&ShareRecord{},
	}
}
