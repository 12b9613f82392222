package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	taskProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mockview",
			Subsystem: "asynq",
			Name:      "tasks_processed_total",
			Help:      "任务处理总数，按结果区分。",
		},
		[]string{"queue", "task_type", "result"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mockview",
			Subsystem: "asynq",
			Name:      "task_duration_seconds",
			Help:      "任务处理耗时分布（秒）。",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120, 180},
		},
		[]string{"queue", "task_type"},
	)

	taskInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mockview",
			Subsystem: "asynq",
			Name:      "tasks_in_progress",
			Help:      "当前正在处理的任务数量。",
		},
		[]string{"queue", "task_type"},
	)
)

// AsynqMetricsMiddleware 记录 Asynq 任务处理指标。SkipRetry 单独计为 skipped。
func AsynqMetricsMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			queue, _ := asynq.GetQueueName(ctx)
			taskType := task.Type()
			taskInProgress.WithLabelValues(queue, taskType).Inc()
			defer taskInProgress.WithLabelValues(queue, taskType).Dec()

			start := time.Now()
			err := next.ProcessTask(ctx, task)
			taskDuration.WithLabelValues(queue, taskType).Observe(time.Since(start).Seconds())

			result := "ok"
			switch {
			case errors.Is(err, asynq.SkipRetry):
				result = "skipped"
			case err != nil:
				result = "failed"
			}
			taskProcessedTotal.WithLabelValues(queue, taskType, result).Inc()

			return err
		})
	}
}
