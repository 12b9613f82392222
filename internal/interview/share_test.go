package interview

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"mockview/internal/database"
	"mockview/internal/errcode"
)

const testShareSecret = "0123456789abcdef0123456789abcdef"

// completedInterview 写入一场带报告的已完成面试。
func completedInterview(t *testing.T, env *testEnv) *database.Interview {
	t.Helper()
	iv := env.createInterview(t, 1)
	env.addQuestion(t, iv.ID, 1, strPtr("my secret answer"), database.ScoringStatusScored)

	report := Report{
		OverallScore: 70,
		Summary:      "solid",
		Questions: []ReportQuestion{{
			QuestionID:    1,
			QuestionIndex: 1,
			Topic:         "topic-1",
			Question:      "question 1?",
			Score:         &ScoreView{Overall: 7},
		}},
	}
	data, _ := json.Marshal(report)
	completedAt := time.Now().UTC()
	if _, err := env.store.FinalizeInterview(context.Background(), iv.ID, data, 70, false, completedAt); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	return iv
}

func tokenFromURL(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse share url: %v", err)
	}
	return u.Query().Get("token")
}

func TestShareRoundTripAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	iv := completedInterview(t, env)
	svc := NewShareService(env.store, testShareSecret, "https://mockview.example/", nil)
	ctx := context.Background()

	link, err := svc.Issue(ctx, env.user.ID, iv.ID, 24)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if !strings.HasPrefix(link.URL, "https://mockview.example/share/") {
		t.Fatalf("unexpected share url %q", link.URL)
	}
	token := tokenFromURL(t, link.URL)

	ok, err := svc.VerifyToken(ctx, iv.ID, token)
	if err != nil || !ok {
		t.Fatalf("fresh token must verify, ok=%v err=%v", ok, err)
	}
	nonce, _, _ := strings.Cut(token, ".")
	if ok, _ := svc.Verify(ctx, iv.ID, nonce, token); !ok {
		t.Fatal("Verify with explicit nonce must succeed")
	}
	if ok, _ := svc.VerifyToken(ctx, iv.ID+1, token); ok {
		t.Fatal("token must not verify for another interview")
	}
	if ok, _ := svc.VerifyToken(ctx, iv.ID, token+"x"); ok {
		t.Fatal("tampered token must not verify")
	}

	state, err := svc.Status(ctx, env.user.ID, iv.ID)
	if err != nil || state.Status != ShareActive || state.URL != link.URL {
		t.Fatalf("unexpected active status %+v (err=%v)", state, err)
	}

	if err := svc.Revoke(ctx, env.user.ID, iv.ID); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if ok, _ := svc.VerifyToken(ctx, iv.ID, token); ok {
		t.Fatal("revoked token must not verify")
	}
	state, _ = svc.Status(ctx, env.user.ID, iv.ID)
	if state.Status != ShareRevoked || state.URL != "" {
		t.Fatalf("expected revoked status without url, got %+v", state)
	}
	if err := svc.Revoke(ctx, env.user.ID, iv.ID); err != nil {
		t.Fatalf("revoking twice should be a no-op, got %v", err)
	}

	// 重新签发会轮换 nonce，旧 token 不再有效。
	relink, err := svc.Issue(ctx, env.user.ID, iv.ID, 72)
	if err != nil {
		t.Fatalf("re-issue: %v", err)
	}
	if ok, _ := svc.VerifyToken(ctx, iv.ID, token); ok {
		t.Fatal("old token must not verify after re-issue")
	}
	if ok, _ := svc.VerifyToken(ctx, iv.ID, tokenFromURL(t, relink.URL)); !ok {
		t.Fatal("re-issued token must verify")
	}
}

func TestShareExpires(t *testing.T) {
	env := newTestEnv(t)
	iv := completedInterview(t, env)
	svc := NewShareService(env.store, testShareSecret, "https://mockview.example", nil)
	ctx := context.Background()

	link, err := svc.Issue(ctx, env.user.ID, iv.ID, 24)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	token := tokenFromURL(t, link.URL)

	svc.now = func() time.Time { return link.ExpiresAt.Add(time.Second) }
	if ok, _ := svc.VerifyToken(ctx, iv.ID, token); ok {
		t.Fatal("expired token must not verify")
	}
	state, _ := svc.Status(ctx, env.user.ID, iv.ID)
	if state.Status != ShareExpired {
		t.Fatalf("expected expired status, got %+v", state)
	}
	if _, err := svc.PublicReport(ctx, iv.ID, token); !errcode.Is(err, errcode.KindUnauthorized) {
		t.Fatalf("expected Unauthorized for expired link, got %v", err)
	}
}

func TestShareIssuePreconditions(t *testing.T) {
	env := newTestEnv(t)
	active := env.createInterview(t, 1)
	done := completedInterview(t, env)
	svc := NewShareService(env.store, testShareSecret, "https://mockview.example", nil)
	ctx := context.Background()

	if _, err := svc.Issue(ctx, env.user.ID, active.ID, 24); !errcode.Is(err, errcode.KindInvalidState) {
		t.Fatalf("sharing without a report must be InvalidState, got %v", err)
	}
	if _, err := svc.Issue(ctx, env.user.ID, done.ID, 48); !errcode.Is(err, errcode.KindValidation) {
		t.Fatalf("unsupported expiry must be ValidationError, got %v", err)
	}
	if _, err := svc.Issue(ctx, env.user.ID+1, done.ID, 24); !errcode.Is(err, errcode.KindNotFound) {
		t.Fatalf("foreign interview must be NotFound, got %v", err)
	}
	if err := svc.Revoke(ctx, env.user.ID, done.ID); !errcode.Is(err, errcode.KindNotFound) {
		t.Fatalf("revoking a never-shared report must be NotFound, got %v", err)
	}
	state, err := svc.Status(ctx, env.user.ID, done.ID)
	if err != nil || state.Status != ShareNone {
		t.Fatalf("expected none status, got %+v (err=%v)", state, err)
	}
}

func TestPublicReportIsRedacted(t *testing.T) {
	env := newTestEnv(t)
	iv := completedInterview(t, env)
	svc := NewShareService(env.store, testShareSecret, "https://mockview.example", nil)
	ctx := context.Background()

	link, err := svc.Issue(ctx, env.user.ID, iv.ID, 168)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	public, err := svc.PublicReport(ctx, iv.ID, tokenFromURL(t, link.URL))
	if err != nil {
		t.Fatalf("PublicReport returned error: %v", err)
	}
	if public.OverallScore != 70 || len(public.Questions) != 1 || public.Report.Questions != nil {
		t.Fatalf("unexpected public report %+v", public)
	}

	data, _ := json.Marshal(public)
	for _, forbidden := range []string{"my secret answer", "be specific", "userId", "resumeId"} {
		if strings.Contains(string(data), forbidden) {
			t.Fatalf("public report leaks %q: %s", forbidden, data)
		}
	}

	if _, err := svc.PublicReport(ctx, iv.ID, "garbage"); !errcode.Is(err, errcode.KindUnauthorized) {
		t.Fatalf("expected Unauthorized for malformed token, got %v", err)
	}
}
