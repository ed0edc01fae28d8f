package engine

import (
	"testing"
	"time"

	"leanflow/internal/config"
	"leanflow/internal/domain"
)

func TestScoreStaysBounded(t *testing.T) {
	s := NewScorer(config.Default())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		item domain.WorkItem
	}{
		{"zero", domain.WorkItem{CreatedAt: now}},
		{"ancient", domain.WorkItem{CreatedAt: now.Add(-1000 * 24 * time.Hour)}},
		{"future created", domain.WorkItem{CreatedAt: now.Add(time.Hour)}},
		{"overdue", domain.WorkItem{CreatedAt: now, Deadline: timePtr(now.Add(-30 * 24 * time.Hour))}},
		{"far deadline", domain.WorkItem{CreatedAt: now, Deadline: timePtr(now.Add(365 * 24 * time.Hour))}},
		{"tagged", domain.WorkItem{CreatedAt: now, Tags: []string{"complex", "architecture", "migration", "security"}}},
	}
	for _, tc := range cases {
		for _, blockers := range []int{0, 100} {
			f := s.FactorsFor(&tc.item, blockers, now)
			score := s.Score(f)
			if score < 0 || score > 1 {
				t.Fatalf("%s (blockers=%d): score %v out of [0,1]", tc.name, blockers, score)
			}
		}
	}
}

func TestFactorNormalization(t *testing.T) {
	s := NewScorer(config.Default())
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	item := domain.WorkItem{CreatedAt: now.Add(-14 * 24 * time.Hour)}
	f := s.FactorsFor(&item, 0, now)
	if f.Age != 1 {
		t.Fatalf("age = %v, want capped at 1", f.Age)
	}
	if f.Expertise != 0.5 {
		t.Fatalf("expertise default = %v, want 0.5", f.Expertise)
	}

	item = domain.WorkItem{CreatedAt: now}
	f = s.FactorsFor(&item, 0, now)
	if f.Deadline != 0 {
		t.Fatalf("deadline without deadline = %v, want 0", f.Deadline)
	}

	item.Deadline = timePtr(now)
	f = s.FactorsFor(&item, 0, now)
	if f.Deadline != 1 {
		t.Fatalf("due-now deadline = %v, want 1", f.Deadline)
	}
}

func TestWeightsAdaptTowardSuccess(t *testing.T) {
	cfg := config.Default()
	s := NewScorer(cfg)
	before := s.Weights()["deadline"]

	// high deadline pressure correlates with success
	for i := 0; i < 5; i++ {
		s.Record(Factors{Deadline: 0.9, Expertise: 0.5}, true)
	}
	for i := 0; i < 5; i++ {
		s.Record(Factors{Deadline: 0.1, Expertise: 0.5}, false)
	}
	after := s.Weights()["deadline"]
	if after <= before {
		t.Fatalf("deadline weight %v -> %v, want increase", before, after)
	}
	if len(s.outcomes) != 0 {
		t.Fatalf("outcomes should reset after adaptation")
	}
}

func TestWeightsStayClamped(t *testing.T) {
	cfg := config.Default()
	s := NewScorer(cfg)
	for round := 0; round < 50; round++ {
		for i := 0; i < 5; i++ {
			s.Record(Factors{Age: 0.9}, false)
		}
		for i := 0; i < 5; i++ {
			s.Record(Factors{Age: 0.1}, true)
		}
	}
	for name, w := range s.Weights() {
		if w < cfg.Scoring.MinWeight || w > cfg.Scoring.MaxWeight {
			t.Fatalf("weight %s = %v outside [%v,%v]", name, w, cfg.Scoring.MinWeight, cfg.Scoring.MaxWeight)
		}
	}
}

func TestCorrelationDegenerateSeries(t *testing.T) {
	if c := correlation([]float64{1, 1, 1}, []float64{0, 1, 0}); c != 0 {
		t.Fatalf("constant series correlation = %v, want 0", c)
	}
	if c := correlation(nil, nil); c != 0 {
		t.Fatalf("empty series correlation = %v, want 0", c)
	}
}

func timePtr(t time.Time) *time.Time { return &t }
