package engine

import (
	"testing"
	"time"

	"leanflow/internal/config"
	"leanflow/internal/domain"
)

func doneItem(completed time.Time, cycle, active, blocked time.Duration) *domain.WorkItem {
	return &domain.WorkItem{
		State:            domain.StateDone,
		CompletedAt:      &completed,
		CycleTime:        cycle,
		TotalActiveTime:  active,
		TotalBlockedTime: blocked,
	}
}

func TestRefreshComputesAverages(t *testing.T) {
	m := NewMetricsAggregator(config.Default())
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	items := []*domain.WorkItem{
		doneItem(now.Add(-time.Hour), 2*time.Hour, 90*time.Minute, 30*time.Minute),
		doneItem(now.Add(-2*time.Hour), 4*time.Hour, 3*time.Hour, time.Hour),
		{State: domain.StateInProgress},
		{State: domain.StateReview},
		{State: domain.StateBacklog},
	}
	got := m.Refresh(items, nil, now)

	if got.AvgCycleTime != 3*time.Hour {
		t.Fatalf("avg cycle = %v, want 3h", got.AvgCycleTime)
	}
	if got.CurrentWIP != 2 {
		t.Fatalf("wip = %d, want 2", got.CurrentWIP)
	}
	if got.CompletedCount != 2 {
		t.Fatalf("completed = %d, want 2", got.CompletedCount)
	}
	if got.FlowEfficiency != 0.75 {
		t.Fatalf("flow efficiency = %v, want 0.75", got.FlowEfficiency)
	}
	if got.ThroughputPerDay != 2.0/7.0 {
		t.Fatalf("throughput = %v, want %v", got.ThroughputPerDay, 2.0/7.0)
	}
}

func TestFlowEfficiencyBounds(t *testing.T) {
	m := NewMetricsAggregator(config.Default())
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	items := []*domain.WorkItem{
		doneItem(now, time.Hour, time.Hour, 0),
		doneItem(now, time.Hour, 0, time.Hour),
		doneItem(now, time.Hour, 0, 0), // zero denominator, skipped
	}
	got := m.Refresh(items, nil, now)
	if got.FlowEfficiency < 0 || got.FlowEfficiency > 1 {
		t.Fatalf("flow efficiency %v out of [0,1]", got.FlowEfficiency)
	}
	if got.FlowEfficiency != 0.5 {
		t.Fatalf("flow efficiency = %v, want 0.5", got.FlowEfficiency)
	}
	if got.ThroughputPerDay < 0 {
		t.Fatalf("throughput %v negative", got.ThroughputPerDay)
	}
}

func TestThroughputWindow(t *testing.T) {
	m := NewMetricsAggregator(config.Default())
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	items := []*domain.WorkItem{
		doneItem(now.Add(-24*time.Hour), time.Hour, time.Hour, 0),
		doneItem(now.Add(-10*24*time.Hour), time.Hour, time.Hour, 0), // outside window
	}
	got := m.Refresh(items, nil, now)
	if got.ThroughputPerDay != 1.0/7.0 {
		t.Fatalf("throughput = %v, want %v", got.ThroughputPerDay, 1.0/7.0)
	}
}

func TestTrendRingDropsOldest(t *testing.T) {
	r := newTrendRing(3)
	for i := 1; i <= 5; i++ {
		r.Push(float64(i))
	}
	got := r.Samples()
	if len(got) != 3 || got[0] != 3 || got[2] != 5 {
		t.Fatalf("samples = %v, want [3 4 5]", got)
	}
}

func TestTrendSamplesOnCompletion(t *testing.T) {
	m := NewMetricsAggregator(config.Default())
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	completed := doneItem(now, 2*time.Hour, 90*time.Minute, 30*time.Minute)
	m.Refresh([]*domain.WorkItem{completed}, completed, now)

	if trend := m.CycleTimeTrend(); len(trend) != 1 || trend[0] != 2 {
		t.Fatalf("cycle trend = %v, want [2]", trend)
	}
	if trend := m.FlowEfficiencyTrend(); len(trend) != 1 || trend[0] != 0.75 {
		t.Fatalf("flow trend = %v, want [0.75]", trend)
	}
}
