package engine

import (
	"math"
	"sort"
	"time"

	"leanflow/internal/config"
	"leanflow/internal/domain"
)

// Factors are the normalized inputs to a priority score, each in [0,1].
type Factors struct {
	Age        float64
	Blockers   float64
	Complexity float64
	Deadline   float64
	Expertise  float64
}

type outcome struct {
	factors Factors
	success bool
}

// Scorer computes priority scores from weighted factors and nudges the
// weights from recorded outcomes.
type Scorer struct {
	weights        map[string]float64
	learningRate   float64
	minWeight      float64
	maxWeight      float64
	adaptAfter     int
	minSamples     int
	complexityTags map[string]bool

	outcomes []outcome
}

func NewScorer(cfg *config.Config) *Scorer {
	weights := make(map[string]float64, len(cfg.Scoring.Weights))
	for name, w := range cfg.Scoring.Weights {
		weights[name] = w
	}
	tags := make(map[string]bool, len(cfg.Workflow.ComplexityTags))
	for _, t := range cfg.Workflow.ComplexityTags {
		tags[t] = true
	}
	return &Scorer{
		weights:        weights,
		learningRate:   cfg.Scoring.LearningRate,
		minWeight:      cfg.Scoring.MinWeight,
		maxWeight:      cfg.Scoring.MaxWeight,
		adaptAfter:     cfg.Scoring.AdaptAfter,
		minSamples:     cfg.Scoring.MinSamples,
		complexityTags: tags,
	}
}

const (
	ageCapDays  = 7.0
	blockerCap  = 5.0
	tagCap      = 3.0
	deadlineCap = 7 * 24 * time.Hour
)

// FactorsFor derives the score factors of an item. blockers is how many
// other items list it as a dependency.
func (s *Scorer) FactorsFor(item *domain.WorkItem, blockers int, now time.Time) Factors {
	f := Factors{Expertise: 0.5}

	ageDays := now.Sub(item.CreatedAt).Hours() / 24
	f.Age = clamp01(ageDays / ageCapDays)

	f.Blockers = clamp01(float64(blockers) / blockerCap)

	complex := 0
	for _, t := range item.Tags {
		if s.complexityTags[t] {
			complex++
		}
	}
	f.Complexity = clamp01(float64(complex) / tagCap)

	if item.Deadline != nil {
		remaining := item.Deadline.Sub(now)
		f.Deadline = clamp01(1 - remaining.Seconds()/deadlineCap.Seconds())
	}

	if item.ExpertiseMatch != nil {
		f.Expertise = clamp01(*item.ExpertiseMatch)
	}
	return f
}

// Score is the weighted sum of factors, clamped to [0,1].
func (s *Scorer) Score(f Factors) float64 {
	sum := f.Age*s.weights["age"] +
		f.Blockers*s.weights["blockers"] +
		f.Complexity*s.weights["complexity"] +
		f.Deadline*s.weights["deadline"] +
		f.Expertise*s.weights["expertise"]
	return clamp01(sum)
}

// Record stores a (factors, success) pair and adapts the weights once
// enough pairs have accumulated.
func (s *Scorer) Record(f Factors, success bool) {
	s.outcomes = append(s.outcomes, outcome{factors: f, success: success})
	if len(s.outcomes) >= s.adaptAfter {
		s.adapt()
	}
}

// Weights returns a copy of the current weight table.
func (s *Scorer) Weights() map[string]float64 {
	out := make(map[string]float64, len(s.weights))
	for name, w := range s.weights {
		out[name] = w
	}
	return out
}

func (s *Scorer) adapt() {
	for _, name := range factorNames() {
		values := make([]float64, 0, len(s.outcomes))
		successes := make([]float64, 0, len(s.outcomes))
		for _, o := range s.outcomes {
			values = append(values, factorValue(o.factors, name))
			if o.success {
				successes = append(successes, 1)
			} else {
				successes = append(successes, 0)
			}
		}
		if len(values) < s.minSamples {
			continue
		}
		corr := correlation(values, successes)
		w := s.weights[name] + corr*s.learningRate
		if w < s.minWeight {
			w = s.minWeight
		}
		if w > s.maxWeight {
			w = s.maxWeight
		}
		s.weights[name] = w
	}
	s.outcomes = s.outcomes[:0]
}

func factorNames() []string {
	names := []string{"age", "blockers", "complexity", "deadline", "expertise"}
	sort.Strings(names)
	return names
}

func factorValue(f Factors, name string) float64 {
	switch name {
	case "age":
		return f.Age
	case "blockers":
		return f.Blockers
	case "complexity":
		return f.Complexity
	case "deadline":
		return f.Deadline
	case "expertise":
		return f.Expertise
	}
	return 0
}

// correlation is the Pearson coefficient of two equal-length series, 0
// when either series has no variance.
func correlation(xs, ys []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return 0
	}
	var meanX, meanY float64
	for i := range xs {
		meanX += xs[i]
		meanY += ys[i]
	}
	meanX /= n
	meanY /= n
	var cov, varX, varY float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		cov += dx * dy
		varX += dx * dx
		varY += dy * dy
	}
	if varX == 0 || varY == 0 {
		return 0
	}
	return cov / math.Sqrt(varX*varY)
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
