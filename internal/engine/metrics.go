package engine

import (
	"time"

	"leanflow/internal/config"
	"leanflow/internal/domain"
)

// trendRing keeps the most recent samples of a metric, dropping the
// oldest once full.
type trendRing struct {
	cap     int
	samples []float64
}

func newTrendRing(cap int) *trendRing {
	return &trendRing{cap: cap}
}

func (r *trendRing) Push(v float64) {
	if len(r.samples) == r.cap {
		r.samples = append(r.samples[:0], r.samples[1:]...)
	}
	r.samples = append(r.samples, v)
}

func (r *trendRing) Samples() []float64 {
	out := make([]float64, len(r.samples))
	copy(out, r.samples)
	return out
}

// MetricsAggregator derives lean-flow statistics from item history. It is
// refreshed on every transition into done.
type MetricsAggregator struct {
	throughputDays int

	last       domain.LeanFlowMetrics
	cycleTrend *trendRing
	flowTrend  *trendRing
}

func NewMetricsAggregator(cfg *config.Config) *MetricsAggregator {
	return &MetricsAggregator{
		throughputDays: cfg.Metrics.ThroughputDays,
		cycleTrend:     newTrendRing(cfg.Metrics.TrendWindow),
		flowTrend:      newTrendRing(cfg.Metrics.TrendWindow),
	}
}

// Refresh recomputes all statistics over the current item set and pushes
// the completed item's samples onto the trend rings.
func (m *MetricsAggregator) Refresh(items []*domain.WorkItem, completed *domain.WorkItem, now time.Time) domain.LeanFlowMetrics {
	var (
		cycleSum   time.Duration
		doneCount  int
		effSum     float64
		effCount   int
		wip        int
		throughput int
	)
	cutoff := now.Add(-time.Duration(m.throughputDays) * 24 * time.Hour)
	for _, item := range items {
		switch item.State {
		case domain.StateInProgress, domain.StateReview:
			wip++
		case domain.StateDone:
			doneCount++
			cycleSum += item.CycleTime
			if denom := item.TotalActiveTime + item.TotalBlockedTime; denom > 0 {
				effSum += float64(item.TotalActiveTime) / float64(denom)
				effCount++
			}
			if item.CompletedAt != nil && !item.CompletedAt.Before(cutoff) {
				throughput++
			}
		}
	}
	metrics := domain.LeanFlowMetrics{
		CurrentWIP:     wip,
		CompletedCount: doneCount,
		ComputedAt:     now,
	}
	if doneCount > 0 {
		metrics.AvgCycleTime = cycleSum / time.Duration(doneCount)
	}
	if effCount > 0 {
		metrics.FlowEfficiency = effSum / float64(effCount)
	}
	metrics.ThroughputPerDay = float64(throughput) / float64(m.throughputDays)

	if completed != nil {
		m.cycleTrend.Push(completed.CycleTime.Hours())
		if denom := completed.TotalActiveTime + completed.TotalBlockedTime; denom > 0 {
			m.flowTrend.Push(float64(completed.TotalActiveTime) / float64(denom))
		}
	}
	m.last = metrics
	return metrics
}

// Last returns the most recently computed snapshot.
func (m *MetricsAggregator) Last() domain.LeanFlowMetrics { return m.last }

// CycleTimeTrend returns the recent per-item cycle times in hours.
func (m *MetricsAggregator) CycleTimeTrend() []float64 { return m.cycleTrend.Samples() }

// FlowEfficiencyTrend returns the recent per-item flow efficiencies.
func (m *MetricsAggregator) FlowEfficiencyTrend() []float64 { return m.flowTrend.Samples() }
