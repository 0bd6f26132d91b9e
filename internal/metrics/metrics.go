// Package metrics holds the Prometheus collectors for traversals.
package metrics

import (
	"time"

	"quizrunner/pkg/model"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace 所有指标的前缀
const Namespace = "quizrunner"

// Metrics 遍历相关指标，nil 接收者上的方法均为空操作
type Metrics struct {
	TraversalsStarted  prometheus.Counter
	TraversalsFinished *prometheus.CounterVec
	TraversalDuration  prometheus.Histogram
	TraversalsActive   prometheus.Gauge
	PagesVisited       prometheus.Counter
	Extractions        *prometheus.CounterVec
	Submissions        *prometheus.CounterVec
}

// New 创建并注册指标，reg 为空时使用默认注册表
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TraversalsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "traversals_started_total",
			Help:      "Total number of traversals started",
		}),
		TraversalsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "traversals_finished_total",
			Help:      "Total number of traversals finished, by termination reason",
		}, []string{"reason"}),
		TraversalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "traversal_duration_seconds",
			Help:      "Wall-clock duration of traversals in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
		}),
		TraversalsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "traversals_active",
			Help:      "Number of traversals currently running",
		}),
		PagesVisited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pages_visited_total",
			Help:      "Total number of quiz pages loaded",
		}),
		Extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "extractions_total",
			Help:      "Extraction attempts, by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		Submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "submissions_total",
			Help:      "Answer submissions, by result",
		}, []string{"result"}),
	}
}

// Started 遍历开始
func (m *Metrics) Started() {
	if m == nil {
		return
	}
	m.TraversalsStarted.Inc()
	m.TraversalsActive.Inc()
}

// Finished 遍历结束
func (m *Metrics) Finished(reason model.TerminationReason, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.TraversalsActive.Dec()
	m.TraversalsFinished.WithLabelValues(string(reason)).Inc()
	m.TraversalDuration.Observe(elapsed.Seconds())
}

// PageVisited 页面加载成功
func (m *Metrics) PageVisited() {
	if m == nil {
		return
	}
	m.PagesVisited.Inc()
}

// Extraction 记录一次策略评估
func (m *Metrics) Extraction(strategy, outcome string) {
	if m == nil {
		return
	}
	m.Extractions.WithLabelValues(strategy, outcome).Inc()
}

// Submitted 记录提交结果：correct、incorrect、unknown 或 error
func (m *Metrics) Submitted(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

// SubmissionResult 把响应里的 correct 字段映射为标签值
func SubmissionResult(res *model.SubmissionResponse, err error) string {
	switch {
	case err != nil:
		return "error"
	case res == nil || res.Correct == nil:
		return "unknown"
	case *res.Correct:
		return "correct"
	default:
		return "incorrect"
	}
}
