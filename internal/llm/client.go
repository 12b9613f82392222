package llm

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Stream 逐段返回模型输出的原始增量，输出结束时 Recv 返回 io.EOF。
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Client 是调用生成模型的边界。模型侧失败必须以 *Error 返回，调用方不解析错误文本。
type Client interface {
	StreamJSON(ctx context.Context, messages []Message) (Stream, error)
	CompleteJSON(ctx context.Context, messages []Message, out any) error
}

// ErrorKind 是模型失败的分类。
type ErrorKind int

const (
	ErrOther ErrorKind = iota
	ErrRateLimited
	ErrNoOutput
)

func (k ErrorKind) String() string {
	switch k {
	case ErrRateLimited:
		return "rate_limited"
	case ErrNoOutput:
		return "no_output"
	default:
		return "other"
	}
}

// Error 是模型层返回的带分类错误。
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf 返回错误链中 *Error 的分类，不存在时为 ErrOther。
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrOther
}

func noOutput(format string, args ...any) *Error {
	return &Error{Kind: ErrNoOutput, Err: fmt.Errorf(format, args...)}
}
