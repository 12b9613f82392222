package interview

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"mockview/internal/database"
	"mockview/internal/errcode"
	"mockview/internal/llm"
	"mockview/internal/metrics"
	"mockview/internal/notify"
	"mockview/internal/prompts"
)

// reportBudget 是生成汇总报告的模型调用时限，不计入等待评分的时间。
const reportBudget = 2 * time.Minute

// sweepBatch 是自动完成每轮最多处理的面试数。
const sweepBatch = 50

// compiledReport 是报告模型必须输出的结构。
type compiledReport struct {
	OverallScore  int             `json:"overallScore" validate:"min=0,max=100"`
	Dimensions    DimensionScores `json:"dimensions"`
	TopStrengths  []string        `json:"topStrengths"`
	CriticalFocus []string        `json:"criticalFocus"`
	Summary       string          `json:"summary" validate:"required"`
	NextSteps     []string        `json:"nextSteps"`
}

// Orchestrator 负责完成面试：等待评分落定，生成报告，写入最终状态。
// 同一场面试的并发调用合并为一次执行，所有调用方拿到同一个结果。
type Orchestrator struct {
	store    *Store
	model    llm.Client
	bus      notify.Bus
	validate *validator.Validate
	logger   *slog.Logger

	waitBudget time.Duration
	recheck    time.Duration
	now        func() time.Time

	group    singleflight.Group
	mu       sync.Mutex
	inFlight map[uint]struct{}
}

// NewOrchestrator 构造 Orchestrator。waitBudget 是等待评分的总时长，recheck 是兜底轮询间隔。
func NewOrchestrator(store *Store, model llm.Client, bus notify.Bus, waitBudget, recheck time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      store,
		model:      model,
		bus:        bus,
		validate:   validator.New(),
		logger:     logger,
		waitBudget: waitBudget,
		recheck:    recheck,
		now:        time.Now,
		inFlight:   make(map[uint]struct{}),
	}
}

// Complete 完成面试并返回报告。已完成时直接返回已存储的报告。
func (o *Orchestrator) Complete(ctx context.Context, userID, interviewID uint) (*Outcome, error) {
	iv, err := o.store.GetOwnedInterview(ctx, userID, interviewID)
	if err != nil {
		return nil, err
	}
	if iv.Status == database.InterviewStatusCompleted {
		return StoredOutcome(iv)
	}

	answered, err := o.store.AnsweredCount(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if answered < iv.QuestionCount {
		return nil, errcode.InvalidState(fmt.Sprintf("interview has %d of %d answers", answered, iv.QuestionCount))
	}

	return o.complete(ctx, iv.UserID, interviewID)
}

// InFlight 报告某场面试是否正在完成中。
func (o *Orchestrator) InFlight(interviewID uint) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inFlight[interviewID]
	return ok
}

// SweepEligible 完成所有作答已满但仍为 active 的面试，返回成功完成的数量。
func (o *Orchestrator) SweepEligible(ctx context.Context) (int, error) {
	items, err := o.store.EligibleInterviews(ctx, sweepBatch)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, iv := range items {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := o.complete(ctx, iv.UserID, iv.ID); err != nil {
			o.logger.Error("auto completion failed",
				slog.Uint64("interview_id", uint64(iv.ID)),
				slog.Any("error", err),
			)
			continue
		}
		done++
	}
	return done, nil
}

// complete 合并并发调用。实际执行使用独立的 context，调用方断开不会中断其他等待者。
func (o *Orchestrator) complete(ctx context.Context, userID, interviewID uint) (*Outcome, error) {
	key := strconv.FormatUint(uint64(interviewID), 10)
	ch := o.group.DoChan(key, func() (any, error) {
		o.setInFlight(interviewID, true)
		defer o.setInFlight(interviewID, false)

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.waitBudget+reportBudget)
		defer cancel()
		return o.run(runCtx, userID, interviewID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Outcome), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) setInFlight(interviewID uint, on bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if on {
		o.inFlight[interviewID] = struct{}{}
	} else {
		delete(o.inFlight, interviewID)
	}
}

func (o *Orchestrator) run(ctx context.Context, userID, interviewID uint) (*Outcome, error) {
	start := time.Now()

	iv, err := o.store.GetInterview(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	if iv.Status == database.InterviewStatusCompleted {
		return StoredOutcome(iv)
	}

	if err := o.reconcile(ctx, interviewID); err != nil {
		return nil, err
	}

	questions, err := o.store.ListQuestions(ctx, interviewID)
	if err != nil {
		return nil, err
	}
	var scoredIDs []uint
	for _, q := range questions {
		if hasAnswer(q) {
			scoredIDs = append(scoredIDs, q.ID)
		}
	}
	scores, err := o.store.ScoresFor(ctx, scoredIDs)
	if err != nil {
		return nil, err
	}

	items, entries, unscored := assemble(questions, scores)
	degraded := len(unscored) > 0
	if degraded {
		o.logger.Warn("completing interview with missing scores",
			slog.Uint64("interview_id", uint64(interviewID)),
			slog.Any("unscored_question_ids", unscored),
		)
	}

	compiled, err := o.compile(ctx, iv, items)
	if err != nil {
		return nil, err
	}

	completedAt := o.now().UTC().Truncate(time.Microsecond)
	report := &Report{
		OverallScore:  compiled.OverallScore,
		Dimensions:    compiled.Dimensions,
		TopStrengths:  compiled.TopStrengths,
		CriticalFocus: compiled.CriticalFocus,
		Summary:       compiled.Summary,
		NextSteps:     compiled.NextSteps,
		Questions:     entries,
		Meta: ReportMeta{
			Degraded:            degraded,
			UnscoredQuestionIDs: unscored,
			GeneratedAt:         completedAt,
		},
	}
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	applied, err := o.store.FinalizeInterview(ctx, interviewID, data, report.OverallScore, degraded, completedAt)
	if err != nil {
		return nil, err
	}
	if !applied {
		// 其他实例已经写入最终状态，以库中的报告为准。
		stored, err := o.store.GetInterview(ctx, interviewID)
		if err != nil {
			return nil, err
		}
		return StoredOutcome(stored)
	}

	metrics.ObserveCompletion(degraded, time.Since(start).Seconds())
	o.logger.Info("interview completed",
		slog.Uint64("interview_id", uint64(interviewID)),
		slog.Int("overall_score", report.OverallScore),
		slog.Bool("degraded", degraded),
	)

	msg := notify.UserMessage{
		Type:        notify.TypeReportReady,
		Status:      StatusCompleted,
		InterviewID: interviewID,
		ErrorCode:   errcode.OK,
	}
	if degraded {
		msg.ErrorCode = errcode.ScoreMissing
		msg.ErrorMessage = "some answers could not be scored"
	}
	if err := notify.PublishUser(ctx, o.bus, userID, msg); err != nil {
		o.logger.Warn("publish report notification failed", slog.Any("error", err))
	}

	return &Outcome{
		InterviewID:  interviewID,
		Status:       StatusCompleted,
		OverallScore: report.OverallScore,
		CompletedAt:  completedAt,
		Report:       report,
	}, nil
}

// reconcile 等待所有待评分题目落定：收到评分事件、兜底轮询或总时限到达时重新检查。
// 时限到达时返回 nil，由调用方按缺失评分降级处理。
func (o *Orchestrator) reconcile(ctx context.Context, interviewID uint) error {
	var events <-chan []byte
	sub, err := o.bus.Subscribe(ctx, notify.ScoreChannel(interviewID))
	if err != nil {
		o.logger.Warn("subscribe score events failed, falling back to polling",
			slog.Uint64("interview_id", uint64(interviewID)),
			slog.Any("error", err),
		)
	} else {
		defer sub.Close()
		events = sub.Messages()
	}

	deadline := time.NewTimer(o.waitBudget)
	defer deadline.Stop()
	ticker := time.NewTicker(o.recheck)
	defer ticker.Stop()

	for {
		pending, err := o.store.PendingScoring(ctx, interviewID)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		select {
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case <-ticker.C:
		case <-deadline.C:
			o.logger.Warn("score reconciliation timed out",
				slog.Uint64("interview_id", uint64(interviewID)),
				slog.Any("pending_question_ids", pending),
			)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) compile(ctx context.Context, iv *database.Interview, items []prompts.ReportItem) (*compiledReport, error) {
	input := prompts.ReportInput{
		Session:       promptSession(iv),
		ResumeSummary: loadResumeSummary(ctx, o.store, iv.ResumeID, o.logger),
		Items:         items,
	}
	var out compiledReport
	if err := o.model.CompleteJSON(ctx, prompts.ReportMessages(input), &out); err != nil {
		return nil, modelError(err, "compile report")
	}
	if err := o.validate.Struct(out); err != nil {
		return nil, errcode.Wrap(errcode.KindUpstream, "model returned an invalid report", err)
	}
	return &out, nil
}

// assemble 组装报告输入与报告中的单题条目，并返回缺失评分的题目。
func assemble(questions []database.InterviewQuestion, scores map[uint]database.QuestionScore) ([]prompts.ReportItem, []ReportQuestion, []uint) {
	var (
		items    []prompts.ReportItem
		entries  []ReportQuestion
		unscored []uint
	)
	for _, q := range questions {
		if q.AnsweredAt == nil {
			continue
		}
		item := prompts.ReportItem{
			Index:    q.QuestionIndex,
			Topic:    q.Topic,
			Question: q.QuestionText,
		}
		entry := ReportQuestion{
			QuestionID:    q.ID,
			QuestionIndex: q.QuestionIndex,
			QuestionType:  q.QuestionType,
			Topic:         q.Topic,
			Question:      q.QuestionText,
			Skipped:       !hasAnswer(q),
		}
		if hasAnswer(q) {
			item.Answer = *q.AnswerText
			if sc, ok := scores[q.ID]; ok {
				view := scoreView(sc)
				entry.Score = &view
				overall := sc.Overall
				item.Overall = &overall
				item.Scores = map[string]int{
					"understanding": sc.Understanding,
					"expression":    sc.Expression,
					"logic":         sc.Logic,
					"depth":         sc.Depth,
					"authenticity":  sc.Authenticity,
					"reflection":    sc.Reflection,
				}
			} else {
				unscored = append(unscored, q.ID)
			}
		}
		items = append(items, item)
		entries = append(entries, entry)
	}
	return items, entries, unscored
}

func hasAnswer(q database.InterviewQuestion) bool {
	return q.AnsweredAt != nil && q.AnswerText != nil && *q.AnswerText != ""
}

func scoreView(sc database.QuestionScore) ScoreView {
	return ScoreView{
		DimensionScores: DimensionScores{
			Understanding: sc.Understanding,
			Expression:    sc.Expression,
			Logic:         sc.Logic,
			Depth:         sc.Depth,
			Authenticity:  sc.Authenticity,
			Reflection:    sc.Reflection,
		},
		Overall: sc.Overall,
	}
}

// StoredOutcome 从已完成的面试记录还原结果，供报告导出等只读场景使用。
func StoredOutcome(iv *database.Interview) (*Outcome, error) {
	out := &Outcome{InterviewID: iv.ID, Status: StatusCompleted}
	if iv.OverallScore != nil {
		out.OverallScore = *iv.OverallScore
	}
	if iv.CompletedAt != nil {
		out.CompletedAt = iv.CompletedAt.UTC()
	}
	if len(iv.ReportJSON) > 0 {
		var report Report
		if err := json.Unmarshal(iv.ReportJSON, &report); err != nil {
			return nil, fmt.Errorf("decode stored report: %w", err)
		}
		out.Report = &report
	}
	return out, nil
}
