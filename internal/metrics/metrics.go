// Package metrics 定义排班系统的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shift_allocator"

// Metrics 的所有方法都允许在 nil 上调用，此时不记录任何数据
type Metrics struct {
	runs                 *prometheus.CounterVec
	runDuration          *prometheus.HistogramVec
	assignments          *prometheus.CounterVec
	skippedShifts        *prometheus.CounterVec
	coalescedTriggers    prometheus.Counter
	issues               *prometheus.CounterVec
	releasedShifts       prometheus.Counter
	notificationsDropped prometheus.Counter
	notificationsSent    *prometheus.CounterVec
}

// New 创建并注册所有指标，reg 为 nil 时使用 prometheus.DefaultRegisterer
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "排班次数，按触发来源和结果（success,failure,noop,cancelled）统计",
		}, []string{"source", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "run_duration_seconds",
			Help:      "一次排班（包括预处理任务）的耗时",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"source"}),
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "assignments_total",
			Help:      "成功提交的分配数量，按偏好层统计",
		}, []string{"tier"}),
		skippedShifts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "skipped_shifts_total",
			Help:      "排班中未能分配的班次数量，按原因统计",
		}, []string{"reason"}),
		coalescedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "coalesced_triggers_total",
			Help:      "合并到已排队任务中的触发次数",
		}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "issues_total",
			Help:      "创建的问题数量，按类型统计",
		}, []string{"type"}),
		releasedShifts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "released_shifts_total",
			Help:      "因员工不可用而被强制释放的班次数量",
		}),
		notificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "因缓冲区已满而被丢弃的通知数量",
		}),
		notificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "published_total",
			Help:      "发布到消息队列的通知数量，按结果统计",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.runs,
		m.runDuration,
		m.assignments,
		m.skippedShifts,
		m.coalescedTriggers,
		m.issues,
		m.releasedShifts,
		m.notificationsDropped,
		m.notificationsSent,
	)

	return m
}

func (m *Metrics) ObserveRun(source, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(source, result).Inc()
	m.runDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) IncAssignment(tier string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncSkippedShift(reason string) {
	if m == nil {
		return
	}
	m.skippedShifts.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncCoalescedTrigger() {
	if m == nil {
		return
	}
	m.coalescedTriggers.Inc()
}

func (m *Metrics) IncIssue(issueType string) {
	if m == nil {
		return
	}
	m.issues.WithLabelValues(issueType).Inc()
}

func (m *Metrics) AddReleasedShifts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.releasedShifts.Add(float64(n))
}

func (m *Metrics) IncNotificationDropped() {
	if m == nil {
		return
	}
	m.notificationsDropped.Inc()
}

func (m *Metrics) IncNotificationPublished(result string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(result).Inc()
}
