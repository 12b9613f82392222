package interview

import (
	"context"
	"sync"
	"testing"
	"time"

	"mockview/internal/database"
	"mockview/internal/errcode"
	"mockview/internal/notify"
)

func TestInterviewScenarioScoresOnlyAnsweredQuestions(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 3)
	env.model.score = testScoreJSON
	env.model.report = testReportJSON
	env.model.streams = [][]string{
		splitEvery(questionJSON("Tell me about a project you led.", "Leadership", "Use STAR", "behavioral"), 9),
		splitEvery(questionJSON("How do you handle conflict?", "Conflict", "Be concrete", "behavioral"), 9),
		splitEvery(questionJSON("What would you do differently?", "Reflection", "Be honest", "behavioral"), 9),
	}

	scorer := NewScorer(env.store, env.model, env.bus, nil)
	pool := NewScoringPool(scorer, 2, 0, nil)
	defer pool.Close()
	gen := NewGenerator(env.store, env.model, env.locks, 6000, nil)
	rec := NewRecorder(env.store, env.locks, pool, 8000, nil)
	orch := NewOrchestrator(env.store, env.model, env.bus, 5*time.Second, 50*time.Millisecond, nil)
	ctx := context.Background()

	answers := []string{"I led a migration project", "", "I would plan rollback earlier"}
	questionIDs := make([]uint, 0, len(answers))
	for i, answer := range answers {
		var chunks []Chunk
		if err := gen.Next(ctx, env.user.ID, iv.ID, collect(&chunks)); err != nil {
			t.Fatalf("generate question %d: %v", i+1, err)
		}
		done := chunks[len(chunks)-1]
		questionIDs = append(questionIDs, done.ID)

		progress, err := rec.Submit(ctx, env.user.ID, iv.ID, AnswerInput{QuestionID: done.ID, AnswerText: answer})
		if err != nil {
			t.Fatalf("submit answer %d: %v", i+1, err)
		}
		if progress != (Progress{Current: i + 1, Total: 3}) {
			t.Fatalf("unexpected progress after answer %d: %+v", i+1, progress)
		}
	}

	outcome, err := orch.Complete(ctx, env.user.ID, iv.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if outcome.Status != StatusCompleted || outcome.OverallScore != 72 {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Report.Meta.Degraded {
		t.Fatalf("all non-empty answers were scored, report must not be degraded: %+v", outcome.Report.Meta)
	}

	if len(outcome.Report.Questions) != 3 {
		t.Fatalf("expected 3 report questions, got %d", len(outcome.Report.Questions))
	}
	for i, entry := range outcome.Report.Questions {
		scored := entry.Score != nil
		if wantScored := i != 1; scored != wantScored {
			t.Fatalf("question %d scored=%v, want %v", i+1, scored, wantScored)
		}
	}
	if !outcome.Report.Questions[1].Skipped {
		t.Fatalf("question 2 should be reported as skipped")
	}

	count, err := env.store.CountScores(ctx, questionIDs[1])
	if err != nil {
		t.Fatalf("count scores: %v", err)
	}
	if count != 0 {
		t.Fatalf("skipped question must not have a score row, got %d", count)
	}

	stored, err := env.store.GetInterview(ctx, iv.ID)
	if err != nil {
		t.Fatalf("load interview: %v", err)
	}
	if stored.Status != database.InterviewStatusCompleted || stored.CompletedAt == nil || stored.OverallScore == nil {
		t.Fatalf("interview not finalized: %+v", stored)
	}
}

func TestConcurrentCompleteCompilesOnce(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 2)
	q1 := env.addQuestion(t, iv.ID, 1, strPtr("answer one"), database.ScoringStatusPending)
	q2 := env.addQuestion(t, iv.ID, 2, strPtr("answer two"), database.ScoringStatusPending)
	for _, q := range []*database.InterviewQuestion{q1, q2} {
		if err := env.store.SaveScore(context.Background(), q.ID, database.QuestionScore{Overall: 6}, Feedback{}); err != nil {
			t.Fatalf("seed score: %v", err)
		}
	}
	env.model.report = testReportJSON
	env.model.reportDelay = 50 * time.Millisecond
	orch := NewOrchestrator(env.store, env.model, env.bus, time.Second, 50*time.Millisecond, nil)

	const callers = 8
	var (
		wg       sync.WaitGroup
		outcomes = make([]*Outcome, callers)
		errs     = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = orch.Complete(context.Background(), env.user.ID, iv.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d failed: %v", i, err)
		}
	}
	for i := 1; i < callers; i++ {
		if outcomes[i].OverallScore != outcomes[0].OverallScore || !outcomes[i].CompletedAt.Equal(outcomes[0].CompletedAt) {
			t.Fatalf("caller %d got %+v, caller 0 got %+v", i, outcomes[i], outcomes[0])
		}
	}
	if _, _, report := env.model.calls(); report != 1 {
		t.Fatalf("expected exactly one report compilation, got %d", report)
	}

	// 已完成后再次调用直接返回存储的报告。
	again, err := orch.Complete(context.Background(), env.user.ID, iv.ID)
	if err != nil {
		t.Fatalf("repeat Complete: %v", err)
	}
	if !again.CompletedAt.Equal(outcomes[0].CompletedAt) || again.OverallScore != outcomes[0].OverallScore {
		t.Fatalf("repeat call returned a different outcome: %+v vs %+v", again, outcomes[0])
	}
	if _, _, report := env.model.calls(); report != 1 {
		t.Fatalf("completed interview must not be recompiled, got %d calls", report)
	}
}

func TestCompleteDegradesWhenScoreNeverArrives(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 2)
	scored := env.addQuestion(t, iv.ID, 1, strPtr("scored answer"), database.ScoringStatusPending)
	lost := env.addQuestion(t, iv.ID, 2, strPtr("lost answer"), database.ScoringStatusPending)
	if err := env.store.SaveScore(context.Background(), scored.ID, database.QuestionScore{Overall: 8}, Feedback{}); err != nil {
		t.Fatalf("seed score: %v", err)
	}
	env.model.report = testReportJSON
	orch := NewOrchestrator(env.store, env.model, env.bus, 150*time.Millisecond, 20*time.Millisecond, nil)

	outcome, err := orch.Complete(context.Background(), env.user.ID, iv.ID)
	if err != nil {
		t.Fatalf("degraded completion must still succeed: %v", err)
	}
	meta := outcome.Report.Meta
	if !meta.Degraded || len(meta.UnscoredQuestionIDs) != 1 || meta.UnscoredQuestionIDs[0] != lost.ID {
		t.Fatalf("unexpected report meta %+v", meta)
	}
	if outcome.Report.Questions[0].Score == nil || outcome.Report.Questions[1].Score != nil {
		t.Fatalf("only the lost question should lack a score: %+v", outcome.Report.Questions)
	}

	stored, _ := env.store.GetInterview(context.Background(), iv.ID)
	if !stored.Degraded {
		t.Fatalf("expected interview to be flagged degraded")
	}
}

func TestCompleteWakesOnScoreEvent(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 1)
	q := env.addQuestion(t, iv.ID, 1, strPtr("answer"), database.ScoringStatusPending)
	env.model.report = testReportJSON
	// 兜底轮询间隔远大于测试时长，完成只能由事件唤醒。
	orch := NewOrchestrator(env.store, env.model, env.bus, 10*time.Second, time.Hour, nil)

	go func() {
		time.Sleep(100 * time.Millisecond)
		ctx := context.Background()
		if err := env.store.SaveScore(ctx, q.ID, database.QuestionScore{Overall: 9}, Feedback{}); err != nil {
			t.Errorf("save score: %v", err)
			return
		}
		_ = notify.PublishScore(ctx, env.bus, notify.ScoreEvent{InterviewID: iv.ID, QuestionID: q.ID, Status: notify.ScoreStatusScored})
	}()

	start := time.Now()
	outcome, err := orch.Complete(context.Background(), env.user.ID, iv.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("completion did not wake on score event, took %v", elapsed)
	}
	if outcome.Report.Meta.Degraded {
		t.Fatalf("score arrived in time, report must not be degraded")
	}
}

func TestCompleteFailedScoreDoesNotWait(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 1)
	env.addQuestion(t, iv.ID, 1, strPtr("answer"), database.ScoringStatusFailed)
	env.model.report = testReportJSON
	orch := NewOrchestrator(env.store, env.model, env.bus, 10*time.Second, time.Hour, nil)

	start := time.Now()
	outcome, err := orch.Complete(context.Background(), env.user.ID, iv.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("failed scoring marker should settle reconciliation immediately")
	}
	if !outcome.Report.Meta.Degraded {
		t.Fatalf("question with failed scoring should make the report degraded")
	}
}

func TestCompleteRequiresAllAnswers(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 3)
	env.addQuestion(t, iv.ID, 1, strPtr("answer"), database.ScoringStatusPending)
	orch := NewOrchestrator(env.store, env.model, env.bus, time.Second, 50*time.Millisecond, nil)

	_, err := orch.Complete(context.Background(), env.user.ID, iv.ID)
	if !errcode.Is(err, errcode.KindInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	if _, _, report := env.model.calls(); report != 0 {
		t.Fatalf("ineligible interview must not call the report model")
	}
}

func TestCompleteReportFailureLeavesInterviewActive(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 1)
	env.addQuestion(t, iv.ID, 1, strPtr(""), database.ScoringStatusSkipped)
	env.model.report = `{"overallScore":150,"summary":"x"}`
	orch := NewOrchestrator(env.store, env.model, env.bus, time.Second, 50*time.Millisecond, nil)

	_, err := orch.Complete(context.Background(), env.user.ID, iv.ID)
	if !errcode.Is(err, errcode.KindUpstream) {
		t.Fatalf("expected upstream failure for out-of-range score, got %v", err)
	}
	stored, _ := env.store.GetInterview(context.Background(), iv.ID)
	if stored.Status != database.InterviewStatusActive {
		t.Fatalf("failed compilation must leave the interview active, got %q", stored.Status)
	}
}

func TestSweepEligibleCompletesReadyInterviews(t *testing.T) {
	env := newTestEnv(t)
	ready := env.createInterview(t, 1)
	env.addQuestion(t, ready.ID, 1, strPtr(""), database.ScoringStatusSkipped)
	notReady := env.createInterview(t, 2)
	env.addQuestion(t, notReady.ID, 1, strPtr(""), database.ScoringStatusSkipped)
	env.model.report = testReportJSON
	orch := NewOrchestrator(env.store, env.model, env.bus, time.Second, 50*time.Millisecond, nil)

	n, err := orch.SweepEligible(context.Background())
	if err != nil {
		t.Fatalf("SweepEligible returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one completed interview, got %d", n)
	}
	stored, _ := env.store.GetInterview(context.Background(), notReady.ID)
	if stored.Status != database.InterviewStatusActive {
		t.Fatalf("interview with missing answers must stay active")
	}
}

func TestSessionViewReportsCompleting(t *testing.T) {
	env := newTestEnv(t)
	iv := env.createInterview(t, 1)
	env.addQuestion(t, iv.ID, 1, strPtr(""), database.ScoringStatusSkipped)
	env.model.report = testReportJSON
	env.model.reportDelay = 300 * time.Millisecond
	orch := NewOrchestrator(env.store, env.model, env.bus, time.Second, 50*time.Millisecond, nil)
	sessions := NewSessionService(env.store, orch, 20)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = orch.Complete(context.Background(), env.user.ID, iv.ID)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !orch.InFlight(iv.ID) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	view, err := sessions.Get(context.Background(), env.user.ID, iv.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if view.Status != StatusCompleting {
		t.Fatalf("expected completing status while compilation runs, got %q", view.Status)
	}
	<-done

	view, _ = sessions.Get(context.Background(), env.user.ID, iv.ID)
	if view.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %q", view.Status)
	}
}
