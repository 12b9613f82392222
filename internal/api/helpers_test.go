package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mockview/internal/auth"
	"mockview/internal/database"
	"mockview/internal/interview"
	"mockview/internal/llm"
	"mockview/internal/notify"
)

const (
	testQuestionJSON = `{"question":"Tell me about a migration you led.","topic":"ownership","tip":"Use STAR.","questionType":"behavioral"}`
	testScoreJSON    = `{"scores":{"understanding":7,"expression":7,"logic":7,"depth":7,"authenticity":7,"reflection":7},` +
		`"overall":7,"strengths":["clear"],"improvements":["numbers"],"advice":"quantify","deepDive":{"coreConcepts":[],"pitfalls":[],"modelAnswer":""}}`
	testReportJSON = `{"overallScore":72,"dimensions":{"understanding":7,"expression":7,"logic":7,"depth":7,"authenticity":7,"reflection":7},` +
		`"topStrengths":["ownership"],"criticalFocus":["depth"],"summary":"solid","nextSteps":["practice"]}`
	testShareSecret = "0123456789abcdef0123456789abcdef"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:api_%s?mode=memory&cache=shared", name)),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// scriptedModel 每次出题都返回同一段分片输出，评分与报告返回固定 JSON。
type scriptedModel struct {
	mu        sync.Mutex
	deltas    []string
	failNext  bool
	streamErr error
}

func (m *scriptedModel) StreamJSON(ctx context.Context, _ []llm.Message) (llm.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.streamErr != nil {
		return nil, m.streamErr
	}
	if m.failNext {
		m.failNext = false
		return &sliceStream{ctx: ctx, deltas: []string{`{"question":"Half a`, ` question`}}, nil
	}
	deltas := m.deltas
	if deltas == nil {
		deltas = []string{testQuestionJSON[:30], testQuestionJSON[30:70], testQuestionJSON[70:]}
	}
	return &sliceStream{ctx: ctx, deltas: deltas}, nil
}

func (m *scriptedModel) CompleteJSON(_ context.Context, messages []llm.Message, out any) error {
	if len(messages) > 0 && strings.Contains(messages[0].Content, "final evaluation") {
		return json.Unmarshal([]byte(testReportJSON), out)
	}
	return json.Unmarshal([]byte(testScoreJSON), out)
}

type sliceStream struct {
	ctx    context.Context
	deltas []string
	i      int
}

func (s *sliceStream) Recv() (string, error) {
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

func (s *sliceStream) Close() error { return nil }

// fakeValidator 接受 "user-<id>" 形式的令牌。
type fakeValidator struct{}

func (fakeValidator) ValidateAccessToken(token string) (*auth.TokenClaims, error) {
	var id uint
	if _, err := fmt.Sscanf(token, "user-%d", &id); err != nil || id == 0 {
		return nil, errors.New("bad token")
	}
	return &auth.TokenClaims{UserID: id, TokenType: auth.TokenTypeAccess}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, uint) (bool, error) { return false, nil }

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (e *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{ID: fmt.Sprintf("task-%d", len(e.tasks)), Type: task.Type()}, nil
}

// fakePresigner 认为除 missing 之外的对象都存在。
type fakePresigner struct {
	missing map[string]bool
}

func (p fakePresigner) ObjectExists(_ context.Context, key string) (bool, error) {
	return !p.missing[key], nil
}

func (fakePresigner) PresignedDownloadURL(_ context.Context, key, filename string, _ time.Duration) (string, error) {
	return "https://files.example.invalid/" + key + "?filename=" + filename, nil
}

type testServer struct {
	db       *gorm.DB
	store    *interview.Store
	model    *scriptedModel
	enqueuer *fakeEnqueuer
	objects  fakePresigner
	router   *gin.Engine
	user     database.User
	resume   database.Resume
}

type serverOption func(*InterviewHandler)

func withLimiter(l RateLimiter) serverOption {
	return func(h *InterviewHandler) { h.limiter = l }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	store := interview.NewStore(db)
	model := &scriptedModel{}
	bus := notify.NewMemoryBus()
	locks := interview.NewKeyedMutex()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	scorer := interview.NewScorer(store, model, bus, log)
	pool := interview.NewScoringPool(scorer, 2, 0, log)
	t.Cleanup(pool.Close)

	orchestrator := interview.NewOrchestrator(store, model, bus, 2*time.Second, 50*time.Millisecond, log)
	sessions := interview.NewSessionService(store, orchestrator, 20)
	generator := interview.NewGenerator(store, model, locks, 4000, log)
	recorder := interview.NewRecorder(store, locks, pool, 8000, log)
	shares := interview.NewShareService(store, testShareSecret, "https://mockview.example", log)
	enqueuer := &fakeEnqueuer{}
	objects := fakePresigner{missing: map[string]bool{}}

	interviewHandler := NewInterviewHandler(sessions, generator, recorder, orchestrator, nil)
	for _, opt := range opts {
		opt(interviewHandler)
	}

	router := NewRouter(log)
	RegisterRoutes(router, Handlers{
		Auth:      NewAuthHandler(db, nil, nil),
		Resumes:   NewResumeHandler(db, 5),
		Interview: interviewHandler,
		Shares:    NewShareHandler(shares),
		Exports:   NewExportHandler(store, enqueuer, objects, time.Minute),
		Ws:        NewWsHandler(bus, fakeValidator{}, log, nil),
	}, fakeValidator{})

	s := &testServer{db: db, store: store, model: model, enqueuer: enqueuer, objects: objects, router: router}
	s.user = database.User{Username: "candidate"}
	if err := db.Create(&s.user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	s.resume = database.Resume{
		Title:   "Backend",
		Content: []byte(`{"name":"Li Wei","items":[{"type":"experience","title":"Acme","content":"Led a billing migration"}]}`),
		RawText: "Li Wei, backend engineer.",
		UserID:  s.user.ID,
	}
	if err := db.Create(&s.resume).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}
	return s
}

func (s *testServer) token() string { return fmt.Sprintf("user-%d", s.user.ID) }

func (s *testServer) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) createInterview(t *testing.T, questionCount int) uint {
	t.Helper()
	w := s.do(t, http.MethodPost, "/v1/interviews", gin.H{
		"resumeId":      s.resume.ID,
		"level":         "senior",
		"type":          "behavioral",
		"questionCount": questionCount,
	}, s.token())
	if w.Code != http.StatusCreated {
		t.Fatalf("create interview: expected 201 got %d body=%s", w.Code, w.Body.String())
	}
	var view interview.SessionView
	decode(t, w, &view)
	return view.ID
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func readChunks(t *testing.T, body []byte) []interview.Chunk {
	t.Helper()
	var chunks []interview.Chunk
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var ch interview.Chunk
		if err := json.Unmarshal(scanner.Bytes(), &ch); err != nil {
			t.Fatalf("decode ndjson line %q: %v", scanner.Text(), err)
		}
		chunks = append(chunks, ch)
	}
	return chunks
}
