package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeScoreAnswer  = "interview:score_answer"
	TypeReportExport = "report:export_pdf"
)

// 队列名称。评分优先于导出。
const (
	QueueScoring = "scoring"
	QueueExport  = "export"
)

// ScoreAnswerPayload 描述一次单题评分。
type ScoreAnswerPayload struct {
	UserID        uint   `json:"user_id"`
	InterviewID   uint   `json:"interview_id"`
	QuestionID    uint   `json:"question_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewScoreAnswerTask 构造评分任务。TaskID 按题目固定，重复投递会被 asynq 拒绝。
func NewScoreAnswerTask(p ScoreAnswerPayload, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeScoreAnswer, payload,
		asynq.Queue(QueueScoring),
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(2*time.Minute),
		asynq.TaskID(ScoreTaskID(p.QuestionID)),
		asynq.Retention(24*time.Hour),
	), nil
}

// ScoreTaskID 返回题目对应的评分任务 ID。
func ScoreTaskID(questionID uint) string {
	return "score-answer-" + uintString(questionID)
}

// ReportExportPayload 描述导出报告 PDF 所需的最小信息。
type ReportExportPayload struct {
	UserID        uint   `json:"user_id"`
	InterviewID   uint   `json:"interview_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewReportExportTask 构造报告导出任务。
func NewReportExportTask(p ReportExportPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeReportExport, payload,
		asynq.Queue(QueueExport),
		asynq.MaxRetry(2),
		asynq.Timeout(3*time.Minute),
	), nil
}
