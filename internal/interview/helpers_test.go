package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mockview/internal/database"
	"mockview/internal/llm"
	"mockview/internal/notify"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	// sqlite 内存库只允许一个写连接，串行化避免 "database table is locked"。
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testEnv struct {
	db     *gorm.DB
	store  *Store
	locks  *KeyedMutex
	model  *fakeModel
	bus    *notify.MemoryBus
	user   database.User
	resume database.Resume
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := newTestDB(t)
	env := &testEnv{
		db:    db,
		store: NewStore(db),
		locks: NewKeyedMutex(),
		model: &fakeModel{},
		bus:   notify.NewMemoryBus(),
		user:  database.User{Username: "candidate"},
	}
	if err := db.Create(&env.user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	env.resume = database.Resume{
		Title:   "Backend resume",
		Content: []byte(`{"name":"Li Wei","items":[{"type":"experience","title":"Acme","content":"Led a billing migration"}]}`),
		RawText: "Li Wei. Backend engineer. Led a billing migration at Acme.",
		UserID:  env.user.ID,
	}
	if err := db.Create(&env.resume).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	return env
}

func (e *testEnv) createInterview(t *testing.T, questionCount int) *database.Interview {
	t.Helper()
	iv := &database.Interview{
		UserID:        e.user.ID,
		ResumeID:      e.resume.ID,
		Level:         "senior",
		Type:          "behavioral",
		Language:      "en",
		QuestionCount: questionCount,
		Status:        database.InterviewStatusActive,
		StartedAt:     time.Now().UTC(),
	}
	if err := e.store.CreateInterview(context.Background(), iv); err != nil {
		t.Fatalf("create interview: %v", err)
	}
	return iv
}

// addQuestion 直接写入一道题；answer 为 nil 表示未作答。
func (e *testEnv) addQuestion(t *testing.T, interviewID uint, index int, answer *string, status string) *database.InterviewQuestion {
	t.Helper()
	q := &database.InterviewQuestion{
		InterviewID:   interviewID,
		QuestionIndex: index,
		QuestionType:  "behavioral",
		Topic:         fmt.Sprintf("topic-%d", index),
		QuestionText:  fmt.Sprintf("question %d?", index),
		Tip:           "be specific",
		AnswerText:    answer,
		ScoringStatus: status,
	}
	if answer != nil {
		now := time.Now().UTC()
		q.AnsweredAt = &now
	}
	if err := e.store.InsertQuestion(context.Background(), q); err != nil {
		t.Fatalf("insert question: %v", err)
	}
	return q
}

func strPtr(s string) *string { return &s }

func questionJSON(question, topic, tip, questionType string) string {
	data, _ := json.Marshal(map[string]string{
		"question":     question,
		"topic":        topic,
		"tip":          tip,
		"questionType": questionType,
	})
	return string(data)
}

// splitEvery 把文本切成固定长度的增量，模拟流式输出。
func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

const (
	testScoreJSON = `{"scores":{"understanding":7,"expression":6,"logic":8,"depth":5,"authenticity":9,"reflection":6},` +
		`"overall":7,"strengths":["clear structure"],"improvements":["quantify impact"],"advice":"add numbers",` +
		`"deepDive":{"coreConcepts":["migration planning"],"pitfalls":["no rollback"],"modelAnswer":"..."}}`
	testReportJSON = `{"overallScore":72,"dimensions":{"understanding":7,"expression":6,"logic":8,"depth":5,"authenticity":9,"reflection":6},` +
		`"topStrengths":["ownership"],"criticalFocus":["depth"],"summary":"solid","nextSteps":["practice system design"]}`
)

// fakeModel 按脚本返回流式出题结果与 JSON 补全结果，并记录调用次数。
type fakeModel struct {
	mu sync.Mutex

	streams     [][]string
	streamErr   error
	streamCalls int
	onRecv      func(i int)

	score       string
	scoreErr    error
	scoreCalls  int
	report      string
	reportErr   error
	reportDelay time.Duration
	reportCalls int
}

func (m *fakeModel) StreamJSON(ctx context.Context, _ []llm.Message) (llm.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamCalls++
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	if len(m.streams) == 0 {
		return nil, &llm.Error{Kind: llm.ErrNoOutput, Err: errors.New("no scripted stream")}
	}
	deltas := m.streams[0]
	m.streams = m.streams[1:]
	return &fakeStream{ctx: ctx, deltas: deltas, onRecv: m.onRecv}, nil
}

func (m *fakeModel) CompleteJSON(ctx context.Context, messages []llm.Message, out any) error {
	isReport := len(messages) > 0 && strings.Contains(messages[0].Content, "final evaluation")

	m.mu.Lock()
	var (
		resp  string
		err   error
		delay time.Duration
	)
	if isReport {
		m.reportCalls++
		resp, err, delay = m.report, m.reportErr, m.reportDelay
	} else {
		m.scoreCalls++
		resp, err = m.score, m.scoreErr
	}
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(resp), out)
}

func (m *fakeModel) calls() (stream, score, report int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls, m.scoreCalls, m.reportCalls
}

type fakeStream struct {
	ctx    context.Context
	deltas []string
	i      int
	onRecv func(i int)
}

func (s *fakeStream) Recv() (string, error) {
	if s.onRecv != nil {
		s.onRecv(s.i)
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.i >= len(s.deltas) {
		return "", io.EOF
	}
	d := s.deltas[s.i]
	s.i++
	return d, nil
}

func (s *fakeStream) Close() error { return nil }

// fakeQueue 记录投递的评分任务。
type fakeQueue struct {
	mu   sync.Mutex
	jobs []ScoringJob
	err  error
}

func (q *fakeQueue) EnqueueScoring(_ context.Context, job ScoringJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// collect 返回一个记录所有消息的 emit。
func collect(chunks *[]Chunk) func(Chunk) error {
	var mu sync.Mutex
	return func(c Chunk) error {
		mu.Lock()
		defer mu.Unlock()
		*chunks = append(*chunks, c)
		return nil
	}
}
