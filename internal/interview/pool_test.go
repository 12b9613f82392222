package interview

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"mockview/internal/database"
)

func TestScoringPoolRejectsWhenBacklogFull(t *testing.T) {
	env := newTestEnv(t)
	env.model.score = testScoreJSON
	iv := env.createInterview(t, 1)
	q := env.addQuestion(t, iv.ID, 1, strPtr("I led a migration project"), database.ScoringStatusPending)

	pool := NewScoringPool(NewScorer(env.store, env.model, env.bus, nil), 1, 0, nil)
	defer pool.Close()
	pool.backlog = semaphore.NewWeighted(1)
	if !pool.backlog.TryAcquire(1) {
		t.Fatal("expected to occupy the only backlog slot")
	}

	job := ScoringJob{UserID: env.user.ID, InterviewID: iv.ID, QuestionID: q.ID}
	if err := pool.EnqueueScoring(context.Background(), job); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull while backlog is occupied, got %v", err)
	}

	pool.backlog.Release(1)
	if err := pool.EnqueueScoring(context.Background(), job); err != nil {
		t.Fatalf("enqueue after backlog freed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := env.store.GetQuestion(context.Background(), q.ID)
		if err != nil {
			t.Fatalf("reload question: %v", err)
		}
		if got.ScoringStatus == database.ScoringStatusScored {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("question not scored in time, status %q", got.ScoringStatus)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestScoringPoolClosedRejects(t *testing.T) {
	env := newTestEnv(t)
	pool := NewScoringPool(NewScorer(env.store, env.model, env.bus, nil), 1, 0, nil)
	pool.Close()
	if err := pool.EnqueueScoring(context.Background(), ScoringJob{QuestionID: 1}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestMarkScoringFailedKeepsReasonValidUTF8(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 1)
	q := env.addQuestion(t, iv.ID, 1, strPtr("answer"), database.ScoringStatusPending)

	// 499 个 ASCII 字节后接一个三字节汉字，按字节截断会落在字符中间。
	reason := strings.Repeat("x", 499) + strings.Repeat("评", 10)
	if err := env.store.MarkScoringFailed(context.Background(), q.ID, reason); err != nil {
		t.Fatalf("MarkScoringFailed returned error: %v", err)
	}

	got, err := env.store.GetQuestion(context.Background(), q.ID)
	if err != nil {
		t.Fatalf("reload question: %v", err)
	}
	if got.ScoringStatus != database.ScoringStatusFailed {
		t.Fatalf("expected failed status, got %q", got.ScoringStatus)
	}
	if !utf8.ValidString(got.ScoringError) {
		t.Fatalf("stored reason is not valid UTF-8: %q", got.ScoringError[490:])
	}
	if len(got.ScoringError) != 499 {
		t.Fatalf("expected reason cut back to the rune boundary (499 bytes), got %d", len(got.ScoringError))
	}
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc"},
		{"ab评", 3, "ab"},
		{"ab评", 5, "ab评"},
		{"评评", 4, "评"},
	}
	for _, tt := range tests {
		if got := truncateUTF8(tt.in, tt.limit); got != tt.want {
			t.Errorf("truncateUTF8(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
