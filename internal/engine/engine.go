package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"leanflow/internal/config"
	"leanflow/internal/domain"
	"leanflow/internal/events"
	"leanflow/internal/mutlog"
)

// ErrNotFound is returned for unknown item ids.
var ErrNotFound = errors.New("not found")

// Engine owns the work-item store, the mutation log and the derived
// metrics. One instance per workspace; collaborators receive it by
// reference, there is no ambient global.
type Engine struct {
	Config *config.Config
	Events *events.Log
	Log    *mutlog.Log
	Now    func() time.Time

	mu      sync.Mutex
	items   map[string]*domain.WorkItem
	order   []string
	scorer  *Scorer
	metrics *MetricsAggregator
	flight  singleflight.Group
}

func New(cfg *config.Config) *Engine {
	e := &Engine{
		Config:  cfg,
		Events:  events.NewLog(),
		Log:     mutlog.New(cfg.Log.Branch, cfg.Log.Author),
		Now:     time.Now,
		items:   make(map[string]*domain.WorkItem),
		scorer:  NewScorer(cfg),
		metrics: NewMetricsAggregator(cfg),
	}
	e.Log.Now = e.now
	e.Events.Now = e.now
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ItemCreateOptions are parameters for creating a work item.
type ItemCreateOptions struct {
	Title              string
	Description        string
	Priority           float64
	Assignee           string
	Tags               []string
	CompletionCriteria []bool
	Dependencies       []string
	Deadline           *time.Time
	StateTimeoutHours  float64
	Metadata           map[string]any
	ActorID            string
}

func (e *Engine) CreateItem(opts ItemCreateOptions) (domain.WorkItem, error) {
	if opts.Title == "" {
		return domain.WorkItem{}, errors.New("title is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, depID := range opts.Dependencies {
		if _, ok := e.items[depID]; !ok {
			return domain.WorkItem{}, fmt.Errorf("dependency %s: %w", depID, ErrNotFound)
		}
	}
	now := e.now()
	priority := opts.Priority
	if priority == 0 {
		priority = 1.0
	}
	item := &domain.WorkItem{
		ID:                 uuid.NewString(),
		Title:              opts.Title,
		Description:        opts.Description,
		State:              domain.StateBacklog,
		Priority:           priority,
		Assignee:           opts.Assignee,
		Tags:               opts.Tags,
		CompletionCriteria: opts.CompletionCriteria,
		Dependencies:       opts.Dependencies,
		Deadline:           opts.Deadline,
		StateTimeoutHours:  opts.StateTimeoutHours,
		Metadata:           opts.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
		StateEnteredAt:     now,
		TimeInState:        make(map[domain.WorkState]time.Duration),
	}
	e.items[item.ID] = item
	e.order = append(e.order, item.ID)
	e.Events.Append("item.created", "item", item.ID, opts.ActorID, events.Payload{
		"title": item.Title,
		"state": string(item.State),
	})
	return *item, nil
}

// ItemUpdateOptions encapsulates allowed updates. Pointer fields are
// applied only when set.
type ItemUpdateOptions struct {
	ID                 string
	Title              *string
	Description        *string
	Priority           *float64
	Assignee           *string
	Tags               []string
	CompletionCriteria []bool
	Approved           *bool
	AddDeps            []string
	Deadline           *time.Time
	ClearDeadline      bool
	Blocked            *bool
	ClearProblem       bool
	Resolve            []domain.ProblemState
	ExpertiseMatch     *float64
	Metadata           map[string]any
	ActorID            string
}

func (e *Engine) UpdateItem(opts ItemUpdateOptions) (domain.WorkItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[opts.ID]
	if !ok {
		return domain.WorkItem{}, fmt.Errorf("item %s: %w", opts.ID, ErrNotFound)
	}
	if item.State.Terminal() {
		return *item, errors.New("item is done and can no longer change")
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return *item, errors.New("title is required")
		}
		item.Title = *opts.Title
	}
	if opts.Description != nil {
		item.Description = *opts.Description
	}
	if opts.Priority != nil {
		item.Priority = *opts.Priority
	}
	if opts.Assignee != nil {
		item.Assignee = *opts.Assignee
	}
	if opts.Tags != nil {
		item.Tags = opts.Tags
	}
	if opts.CompletionCriteria != nil {
		item.CompletionCriteria = opts.CompletionCriteria
	}
	if opts.Approved != nil {
		item.Approved = *opts.Approved
	}
	for _, depID := range opts.AddDeps {
		if depID == item.ID {
			return *item, errors.New("item cannot depend on itself")
		}
		if _, ok := e.items[depID]; !ok {
			return *item, fmt.Errorf("dependency %s: %w", depID, ErrNotFound)
		}
		if !contains(item.Dependencies, depID) {
			item.Dependencies = append(item.Dependencies, depID)
		}
	}
	if opts.Deadline != nil {
		item.Deadline = opts.Deadline
	}
	if opts.ClearDeadline {
		item.Deadline = nil
	}
	if opts.Blocked != nil {
		item.Blocked = *opts.Blocked
	}
	if opts.ClearProblem {
		item.Problem = domain.ProblemNone
	}
	for _, p := range opts.Resolve {
		if !p.Valid() || p == domain.ProblemNone {
			return *item, fmt.Errorf("unknown problem state %q", p)
		}
		if item.Resolutions == nil {
			item.Resolutions = make(map[domain.ProblemState]bool)
		}
		item.Resolutions[p] = true
	}
	if opts.ExpertiseMatch != nil {
		item.ExpertiseMatch = opts.ExpertiseMatch
	}
	for k, v := range opts.Metadata {
		if item.Metadata == nil {
			item.Metadata = make(map[string]any)
		}
		item.Metadata[k] = v
	}
	item.UpdatedAt = e.now()
	e.Events.Append("item.updated", "item", item.ID, opts.ActorID, events.Payload{
		"state": string(item.State),
	})
	return *item, nil
}

// TransitionItem attempts to move an item to target. It returns false
// with a nil error when no transition matches or its guards fail, and an
// error only for unknown ids or malformed requests.
func (e *Engine) TransitionItem(id string, target domain.WorkState, problem domain.ProblemState, actorID string) (bool, error) {
	if !target.Valid() {
		return false, fmt.Errorf("unknown state %q", target)
	}
	if !problem.Valid() {
		return false, fmt.Errorf("unknown problem state %q", problem)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	item, ok := e.items[id]
	if !ok {
		return false, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	if item.State == target {
		return false, nil
	}
	now := e.now()
	for _, tr := range transitions {
		if tr.From != item.State || tr.To != target {
			continue
		}
		guardsPass := true
		for _, g := range tr.Guards {
			if !e.checkGuard(g, item, now) {
				guardsPass = false
				break
			}
		}
		if !guardsPass {
			continue
		}
		from := item.State
		e.accumulateDwell(item, now)
		for _, a := range tr.Actions {
			e.applyAction(a, item, now)
		}
		item.State = target
		item.StateEnteredAt = now
		item.UpdatedAt = now
		if tr.Boost {
			item.Priority += e.Config.Workflow.BlockedEntryBoost
		}
		if target == domain.StateBlocked && problem != domain.ProblemNone {
			item.Problem = problem
		}
		switch target {
		case domain.StateDone:
			e.scorer.Record(e.factorsLocked(item, now), true)
			e.metrics.Refresh(e.itemsLocked(), item, now)
		case domain.StateBlocked:
			e.scorer.Record(e.factorsLocked(item, now), false)
		}
		e.Events.Append("item.transitioned", "item", item.ID, actorID, events.Payload{
			"from":    string(from),
			"to":      string(target),
			"problem": string(item.Problem),
		})
		return true, nil
	}
	return false, nil
}

// accumulateDwell folds the dwell in the current state into the item's
// time accounting. Dwell is measured from arrival at the state.
func (e *Engine) accumulateDwell(item *domain.WorkItem, now time.Time) {
	dwell := now.Sub(item.StateEnteredAt)
	if dwell < 0 {
		dwell = 0
	}
	if item.TimeInState == nil {
		item.TimeInState = make(map[domain.WorkState]time.Duration)
	}
	item.TimeInState[item.State] += dwell
	switch item.State {
	case domain.StateInProgress, domain.StateReview:
		item.TotalActiveTime += dwell
	case domain.StateBlocked:
		item.TotalBlockedTime += dwell
	}
}

func (e *Engine) GetItem(id string) (domain.WorkItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.items[id]
	if !ok {
		return domain.WorkItem{}, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return *item, nil
}

// ListItems returns items in creation order, optionally filtered by state.
func (e *Engine) ListItems(state domain.WorkState) []domain.WorkItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.WorkItem, 0, len(e.order))
	for _, id := range e.order {
		item := e.items[id]
		if state != "" && item.State != state {
			continue
		}
		out = append(out, *item)
	}
	return out
}

// ScoredItem pairs an item with its computed priority score.
type ScoredItem struct {
	domain.WorkItem
	Score float64 `json:"score"`
}

// GetPrioritizedItems returns up to limit items in the given state,
// highest score first, ties broken by creation order.
func (e *Engine) GetPrioritizedItems(state domain.WorkState, limit int) []ScoredItem {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var scored []ScoredItem
	for _, id := range e.order {
		item := e.items[id]
		if state != "" && item.State != state {
			continue
		}
		scored = append(scored, ScoredItem{
			WorkItem: *item,
			Score:    e.scorer.Score(e.factorsLocked(item, now)),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// factorsLocked derives score factors; the caller holds the mutex.
func (e *Engine) factorsLocked(item *domain.WorkItem, now time.Time) Factors {
	blockers := 0
	for _, other := range e.items {
		if other.ID != item.ID && contains(other.Dependencies, item.ID) {
			blockers++
		}
	}
	return e.scorer.FactorsFor(item, blockers, now)
}

// ScorerWeights exposes the current factor weight table.
func (e *Engine) ScorerWeights() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scorer.Weights()
}

// WorkflowMetrics recomputes the flow statistics. Concurrent callers
// share one computation.
func (e *Engine) WorkflowMetrics() domain.LeanFlowMetrics {
	v, _, _ := e.flight.Do("metrics", func() (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.metrics.Refresh(e.itemsLocked(), nil, e.now()), nil
	})
	return v.(domain.LeanFlowMetrics)
}

// CycleTimeTrend returns recent per-item cycle times in hours.
func (e *Engine) CycleTimeTrend() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics.CycleTimeTrend()
}

// FlowEfficiencyTrend returns recent per-item flow efficiencies.
func (e *Engine) FlowEfficiencyTrend() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics.FlowEfficiencyTrend()
}

// BlockageAnalysis summarizes why work is currently stuck. Blockage rate
// is blocked items over all non-done items.
func (e *Engine) BlockageAnalysis() domain.BlockageAnalysis {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[domain.ProblemState]int)
	blocked := 0
	open := 0
	for _, item := range e.items {
		if item.State.Terminal() {
			continue
		}
		open++
		if item.State == domain.StateBlocked {
			blocked++
			if item.Problem != domain.ProblemNone {
				counts[item.Problem]++
			}
		}
	}
	analysis := domain.BlockageAnalysis{BlockedCount: blocked}
	if open > 0 {
		analysis.BlockageRate = float64(blocked) / float64(open)
	}
	for _, p := range domain.ProblemStates() {
		if counts[p] > 0 {
			analysis.TopProblems = append(analysis.TopProblems, domain.ProblemCount{Problem: p, Count: counts[p]})
		}
	}
	sort.SliceStable(analysis.TopProblems, func(i, j int) bool {
		return analysis.TopProblems[i].Count > analysis.TopProblems[j].Count
	})
	return analysis
}

func (e *Engine) itemsLocked() []*domain.WorkItem {
	out := make([]*domain.WorkItem, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.items[id])
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
