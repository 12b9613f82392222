package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	questionsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mockview",
			Subsystem: "interview",
			Name:      "questions_generated_total",
			Help:      "新生成并落库的题目数量。",
		},
	)

	generationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mockview",
			Subsystem: "interview",
			Name:      "generation_failures_total",
			Help:      "出题失败次数，按错误分类统计。",
		},
		[]string{"kind"},
	)

	scoringOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mockview",
			Subsystem: "interview",
			Name:      "scoring_outcomes_total",
			Help:      "单题评分结果统计（scored/failed/skipped）。",
		},
		[]string{"outcome"},
	)

	completionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mockview",
			Subsystem: "completion",
			Name:      "total",
			Help:      "面试完成次数，mode 为 full 或 degraded。",
		},
		[]string{"mode"},
	)

	completionDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mockview",
			Subsystem: "completion",
			Name:      "degraded_total",
			Help:      "评分缺失情况下生成报告的次数。",
		},
	)

	completionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mockview",
			Subsystem: "completion",
			Name:      "duration_seconds",
			Help:      "完成流程耗时分布（秒），包含等待评分。",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
	)
)

// ObserveQuestionGenerated 记录一道新题落库。
func ObserveQuestionGenerated() {
	questionsGenerated.Inc()
}

// ObserveGenerationFailure 记录一次出题失败。
func ObserveGenerationFailure(kind string) {
	generationFailures.WithLabelValues(kind).Inc()
}

// ObserveScoring 记录单题评分结果。
func ObserveScoring(outcome string) {
	scoringOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveCompletion 记录一次完成流程。
func ObserveCompletion(degraded bool, seconds float64) {
	mode := "full"
	if degraded {
		mode = "degraded"
		completionDegraded.Inc()
	}
	completionsTotal.WithLabelValues(mode).Inc()
	completionDuration.Observe(seconds)
}
