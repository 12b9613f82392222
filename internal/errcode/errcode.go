package errcode

import (
	"errors"
	"fmt"
)

// 错误码约定（用于推送给前端的通知消息）：
// - 0：无错误
// - 4xxx：业务可恢复/告警类错误（例如评分缺失但报告仍然生成）
// - 5xxx：系统错误（需要中断流程）
const (
	OK           = 0
	ScoreMissing = 4004
	SystemError  = 5000
)

// Kind 是业务错误分类，决定对外的 HTTP 状态与流式错误码。
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthorized
	KindNotFound
	KindInvalidState
	KindValidation
	KindRateLimited
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindValidation:
		return "validation_error"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "generation_failed"
	default:
		return "internal"
	}
}

// Error 携带分类、对外消息与内部原因。
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New 创建不带原因的业务错误。
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap 创建带原因的业务错误。
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }
func InvalidState(message string) *Error { return New(KindInvalidState, message) }
func Validation(message string) *Error   { return New(KindValidation, message) }

// KindOf 返回错误链上第一个 *Error 的分类，未分类错误视为 Internal。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf 返回可以安全展示给调用方的消息。
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Message
	}
	return "internal error"
}

// Is 判断错误是否属于给定分类。
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
