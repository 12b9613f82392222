package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// backlogPerWorker 决定每个并发槽位允许排队的任务数。
const backlogPerWorker = 64

var (
	// ErrPoolClosed 表示协程池已关闭，不再接收任务。
	ErrPoolClosed = errors.New("scoring pool closed")
	// ErrPoolFull 表示排队任务已达上限，调用方应把该题记为评分失败。
	ErrPoolFull = errors.New("scoring pool backlog full")
)

// ScoringPool 是进程内的有界评分执行器，适用于单进程部署与测试。
// 并发数与排队数都有上限；每个任务使用独立的 context，不受提交请求断开的影响。
type ScoringPool struct {
	scorer   *Scorer
	sem      *semaphore.Weighted
	backlog  *semaphore.Weighted
	ctx      context.Context
	cancel   context.CancelFunc
	maxRetry int
	backoff  time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewScoringPool 构造 ScoringPool，size 为最大并发评分数。
func NewScoringPool(scorer *Scorer, size, maxRetry int, logger *slog.Logger) *ScoringPool {
	if size <= 0 {
		size = 1
	}
	if maxRetry < 0 {
		maxRetry = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ScoringPool{
		scorer:   scorer,
		sem:      semaphore.NewWeighted(int64(size)),
		backlog:  semaphore.NewWeighted(int64(size * backlogPerWorker)),
		ctx:      ctx,
		cancel:   cancel,
		maxRetry: maxRetry,
		backoff:  time.Second,
		timeout:  2 * time.Minute,
		logger:   logger,
	}
}

// EnqueueScoring 实现 ScoringQueue。排队已满时立即返回 ErrPoolFull，不阻塞提交请求。
func (p *ScoringPool) EnqueueScoring(_ context.Context, job ScoringJob) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	if !p.backlog.TryAcquire(1) {
		return ErrPoolFull
	}
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.backlog.Release(1)
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			p.scorer.Fail(ctx, job, fmt.Errorf("wait for scoring slot: %w", err))
			return
		}
		defer p.sem.Release(1)
		p.run(job)
	}()
	return nil
}

// Close 停止接收新任务并等待已提交的任务结束。
func (p *ScoringPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

func (p *ScoringPool) run(job ScoringJob) {
	var err error
	for attempt := 0; attempt <= p.maxRetry; attempt++ {
		if attempt > 0 {
			time.Sleep(p.backoff * time.Duration(attempt))
		}
		err = p.attempt(job)
		if err == nil {
			return
		}
		p.logger.Warn("scoring attempt failed",
			slog.Uint64("question_id", uint64(job.QuestionID)),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.scorer.Fail(ctx, job, err)
}

func (p *ScoringPool) attempt(job ScoringJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scoring panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	return p.scorer.Score(ctx, job)
}
