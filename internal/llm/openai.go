package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// OpenAIClient 对接任意兼容 OpenAI 的 chat completion 接口。
type OpenAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
}

// NewOpenAI 构造客户端，baseURL 可指向 OpenRouter 或自建网关。
// 通过 WithModel 派生的客户端共用同一个限流器。
func NewOpenAI(apiKey, baseURL, model string, rps float64, burst int) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if burst <= 0 {
		burst = 1
	}
	return &OpenAIClient{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// WithModel 返回绑定到另一模型的客户端，连接与限流器共用。
func (c *OpenAIClient) WithModel(model string) *OpenAIClient {
	clone := *c
	clone.model = model
	return &clone
}

func (c *OpenAIClient) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	oaMsgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		oaMsgs = append(oaMsgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: oaMsgs,
		Stream:   stream,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
}

// StreamJSON 发起流式补全，取消 ctx 会中断 HTTP 流。
func (c *OpenAIClient) StreamJSON(ctx context.Context, messages []Message) (Stream, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, true))
	if err != nil {
		return nil, classify(err)
	}
	return &openAIStream{stream: stream}, nil
}

// CompleteJSON 发起阻塞补全，并把输出的 JSON 对象解码到 out。
func (c *OpenAIClient) CompleteJSON(ctx context.Context, messages []Message, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages, false))
	if err != nil {
		return classify(err)
	}
	if len(resp.Choices) == 0 {
		return noOutput("model %s returned no choices", c.model)
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return noOutput("model %s returned empty content", c.model)
	}
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return noOutput("decode model output: %v", err)
	}
	return nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", err
			}
			return "", classify(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

var rateLimitCodes = map[string]bool{
	"rate_limit_exceeded": true,
	"insufficient_quota":  true,
	"quota_exceeded":      true,
}

// classify 把 go-openai 错误映射为带分类的 Error。context 错误原样返回，
// 调用方据此区分客户端中断与模型失败。
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || rateLimitCodes[code] || rateLimitCodes[apiErr.Type] {
			return &Error{Kind: ErrRateLimited, Err: err}
		}
		return &Error{Kind: ErrOther, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return &Error{Kind: ErrRateLimited, Err: err}
		}
		return &Error{Kind: ErrOther, Err: err}
	}

	return &Error{Kind: ErrOther, Err: fmt.Errorf("chat completion: %w", err)}
}
