package interview

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Watcher 定期扫描作答已满但尚未完成的面试，交给 Orchestrator 自动完成。
type Watcher struct {
	cron         *cron.Cron
	orchestrator *Orchestrator
	logger       *slog.Logger
	timeout      time.Duration
}

// NewWatcher 构造 Watcher，spec 为 cron 表达式，例如 "@every 30s"。
func NewWatcher(orchestrator *Orchestrator, spec string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	w := &Watcher{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		orchestrator: orchestrator,
		logger:       logger,
		timeout:      5 * time.Minute,
	}
	if _, err := w.cron.AddFunc(spec, w.sweep); err != nil {
		return nil, fmt.Errorf("schedule completion watcher %q: %w", spec, err)
	}
	return w, nil
}

// Start 启动调度。
func (w *Watcher) Start() {
	w.cron.Start()
	w.logger.Info("completion watcher started")
}

// Stop 停止调度并等待正在执行的扫描结束，或 ctx 到期。
func (w *Watcher) Stop(ctx context.Context) {
	done := w.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		w.logger.Warn("completion watcher stop timed out")
	}
}

func (w *Watcher) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	n, err := w.orchestrator.SweepEligible(ctx)
	if err != nil {
		w.logger.Error("completion sweep failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		w.logger.Info("completion sweep finished", slog.Int("completed", n))
	}
}

// cronLogger 把 cron 的日志接到 slog。
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
