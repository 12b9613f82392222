package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Bus 是最小的发布/订阅抽象。投递语义为至多一次，订阅方需自行兜底。
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe 在返回前必须已完成订阅，之后发布的消息才保证可见。
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription 表示一个活跃订阅。
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// 评分事件状态。
const (
	ScoreStatusScored = "scored"
	ScoreStatusFailed = "failed"
)

// ScoreEvent 在单题评分落定（成功或最终失败）后发布。
type ScoreEvent struct {
	InterviewID uint   `json:"interview_id"`
	QuestionID  uint   `json:"question_id"`
	Status      string `json:"status"`
}

// 推送给前端的消息类型。
const (
	TypeScoreReady   = "score_ready"
	TypeReportReady  = "report_ready"
	TypeReportExport = "report_export"
)

// UserMessage 是通过 WebSocket 转发给前端的统一消息协议。
// 注意：这里的字段名与前端解析保持一致。
type UserMessage struct {
	Type          string `json:"type"`
	Status        string `json:"status"`
	InterviewID   uint   `json:"interview_id"`
	QuestionID    uint   `json:"question_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// ScoreChannel 返回某场面试的评分事件频道。
func ScoreChannel(interviewID uint) string {
	return fmt.Sprintf("interview_scores:%d", interviewID)
}

// UserChannel 返回某个用户的通知频道。
func UserChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}

// PublishScore 发布评分事件。
func PublishScore(ctx context.Context, bus Bus, event ScoreEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal score event: %w", err)
	}
	channel := ScoreChannel(event.InterviewID)
	if err := bus.Publish(ctx, channel, data); err != nil {
		return fmt.Errorf("publish score event to %q: %w", channel, err)
	}
	return nil
}

// PublishUser 向用户频道推送一条消息。
func PublishUser(ctx context.Context, bus Bus, userID uint, msg UserMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := UserChannel(userID)
	if err := bus.Publish(ctx, channel, data); err != nil {
		return fmt.Errorf("publish notification to %q: %w", channel, err)
	}
	return nil
}

// DecodeScoreEvent 解析评分事件负载。
func DecodeScoreEvent(payload []byte) (ScoreEvent, error) {
	var event ScoreEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ScoreEvent{}, fmt.Errorf("decode score event: %w", err)
	}
	return event, nil
}
