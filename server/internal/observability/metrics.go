package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics collects per-stage counters for pipeline operations.
type Metrics struct {
	mu sync.Mutex

	requestTotal  atomic.Int64
	requestFailed atomic.Int64

	stageMetrics map[string]*StageMetrics
}

// StageMetrics holds the counters of one pipeline stage.
type StageMetrics struct {
	executionCount atomic.Int64
	totalDuration  atomic.Int64 // milliseconds
	errorCount     atomic.Int64
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		stageMetrics: make(map[string]*StageMetrics),
	}
}

var globalMetrics = NewMetrics()

// GlobalMetrics returns the global metrics instance.
func GlobalMetrics() *Metrics {
	return globalMetrics
}

// Record records one execution of stage. A non-nil err counts as a failure.
func (m *Metrics) Record(stage string, duration time.Duration, err error) {
	sm := m.stage(stage)
	m.requestTotal.Add(1)
	sm.executionCount.Add(1)
	sm.totalDuration.Add(duration.Milliseconds())
	if err != nil {
		m.requestFailed.Add(1)
		sm.errorCount.Add(1)
	}
}

func (m *Metrics) stage(stage string) *StageMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	sm, ok := m.stageMetrics[stage]
	if !ok {
		sm = &StageMetrics{}
		m.stageMetrics[stage] = sm
	}
	return sm
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.requestTotal.Store(0)
	m.requestFailed.Store(0)

	m.mu.Lock()
	m.stageMetrics = make(map[string]*StageMetrics)
	m.mu.Unlock()
}

// Snapshot returns a snapshot of current metrics.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	stages := make(map[string]*StageMetricsSnapshot, len(m.stageMetrics))
	for name, sm := range m.stageMetrics {
		count := sm.executionCount.Load()
		snap := &StageMetricsSnapshot{
			ExecutionCount: count,
			TotalDuration:  sm.totalDuration.Load(),
			ErrorCount:     sm.errorCount.Load(),
		}
		if count > 0 {
			snap.AverageDuration = snap.TotalDuration / count
		}
		stages[name] = snap
	}

	return &MetricsSnapshot{
		RequestTotal:  m.requestTotal.Load(),
		RequestFailed: m.requestFailed.Load(),
		Stages:        stages,
	}
}

// MetricsSnapshot represents a point-in-time snapshot of metrics.
type MetricsSnapshot struct {
	RequestTotal  int64                            `json:"request_total"`
	RequestFailed int64                            `json:"request_failed"`
	Stages        map[string]*StageMetricsSnapshot `json:"stages"`
}

// StageMetricsSnapshot represents metrics for a specific stage.
type StageMetricsSnapshot struct {
	ExecutionCount  int64 `json:"execution_count"`
	TotalDuration   int64 `json:"total_duration_ms"`
	ErrorCount      int64 `json:"error_count"`
	AverageDuration int64 `json:"average_duration_ms"`
}

// SuccessRate returns the success rate as a percentage (0-100).
func (s *MetricsSnapshot) SuccessRate() float64 {
	if s.RequestTotal == 0 {
		return 100.0
	}
	return float64(s.RequestTotal-s.RequestFailed) / float64(s.RequestTotal) * 100.0
}
