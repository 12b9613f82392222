package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/sashabaranov/go-openai"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"api 429", &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}, ErrRateLimited},
		{"quota code", &openai.APIError{HTTPStatusCode: http.StatusForbidden, Code: "insufficient_quota"}, ErrRateLimited},
		{"wrapped request 429", fmt.Errorf("call: %w", &openai.RequestError{HTTPStatusCode: http.StatusTooManyRequests, Err: errors.New("x")}), ErrRateLimited},
		{"api 500", &openai.APIError{HTTPStatusCode: http.StatusInternalServerError}, ErrOther},
		{"plain", errors.New("boom"), ErrOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if KindOf(got) != tc.want {
				t.Fatalf("expected %s got %s (%v)", tc.want, KindOf(got), got)
			}
		})
	}
}

func TestClassifyKeepsContextErrors(t *testing.T) {
	err := classify(fmt.Errorf("stream: %w", context.Canceled))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		t.Fatalf("context error must not be tagged: %v", err)
	}
}

func TestNoOutputKind(t *testing.T) {
	err := noOutput("empty %s", "content")
	if KindOf(err) != ErrNoOutput {
		t.Fatalf("expected no_output, got %s", KindOf(err))
	}
}
