package engine_test

import (
	"errors"
	"testing"
	"time"

	"leanflow/internal/config"
	"leanflow/internal/domain"
	"leanflow/internal/engine"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestEngine(t *testing.T) (*engine.Engine, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(config.Default())
	eng.Now = clock.Now
	return eng, clock
}

func mustCreate(t *testing.T, eng *engine.Engine, opts engine.ItemCreateOptions) domain.WorkItem {
	t.Helper()
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	item, err := eng.CreateItem(opts)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	return item
}

func mustTransition(t *testing.T, eng *engine.Engine, id string, target domain.WorkState) {
	t.Helper()
	ok, err := eng.TransitionItem(id, target, domain.ProblemNone, "tester")
	if err != nil {
		t.Fatalf("transition to %s: %v", target, err)
	}
	if !ok {
		t.Fatalf("transition to %s refused", target)
	}
}

func TestFullLifecycle(t *testing.T) {
	eng, clock := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{
		Title:              "Fix bug",
		CompletionCriteria: []bool{true},
	})

	mustTransition(t, eng, item.ID, domain.StateReady)
	clock.Advance(time.Hour)
	mustTransition(t, eng, item.ID, domain.StateInProgress)
	clock.Advance(2 * time.Hour)
	mustTransition(t, eng, item.ID, domain.StateReview)

	wipBefore := eng.WorkflowMetrics().CurrentWIP
	if wipBefore != 1 {
		t.Fatalf("wip = %d, want 1", wipBefore)
	}

	approved := true
	if _, err := eng.UpdateItem(engine.ItemUpdateOptions{ID: item.ID, Approved: &approved, ActorID: "tester"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	clock.Advance(time.Hour)
	mustTransition(t, eng, item.ID, domain.StateApproved)
	mustTransition(t, eng, item.ID, domain.StateIntegrated)
	mustTransition(t, eng, item.ID, domain.StateDone)

	got, err := eng.GetItem(item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CycleTime <= 0 {
		t.Fatalf("cycle_time = %v, want > 0", got.CycleTime)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("expected started_at and completed_at stamped")
	}
	if want := got.CompletedAt.Sub(*got.StartedAt); got.CycleTime != want {
		t.Fatalf("cycle_time = %v, want %v", got.CycleTime, want)
	}

	metrics := eng.WorkflowMetrics()
	if metrics.CurrentWIP != wipBefore-1 {
		t.Fatalf("wip = %d, want %d", metrics.CurrentWIP, wipBefore-1)
	}
	if metrics.CompletedCount != 1 {
		t.Fatalf("completed = %d, want 1", metrics.CompletedCount)
	}
	if metrics.ThroughputPerDay <= 0 {
		t.Fatalf("throughput = %v, want > 0", metrics.ThroughputPerDay)
	}
}

func TestUnlistedTransitionReturnsFalse(t *testing.T) {
	eng, _ := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "jump"})

	for _, target := range []domain.WorkState{
		domain.StateInProgress, domain.StateReview, domain.StateApproved,
		domain.StateIntegrated, domain.StateDone, domain.StateBlocked,
	} {
		ok, err := eng.TransitionItem(item.ID, target, domain.ProblemNone, "tester")
		if err != nil {
			t.Fatalf("to %s: %v", target, err)
		}
		if ok {
			t.Fatalf("backlog -> %s should refuse", target)
		}
		got, _ := eng.GetItem(item.ID)
		if got.State != domain.StateBacklog {
			t.Fatalf("state changed to %s", got.State)
		}
	}
}

func TestSameStateIsNoOp(t *testing.T) {
	eng, _ := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "still"})
	ok, err := eng.TransitionItem(item.ID, domain.StateBacklog, domain.ProblemNone, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("transition to current state should return false")
	}
}

func TestUnknownItem(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.TransitionItem("nope", domain.StateReady, domain.ProblemNone, "tester")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	_, err = eng.GetItem("nope")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDependencyGatesReady(t *testing.T) {
	eng, clock := newTestEngine(t)
	dep := mustCreate(t, eng, engine.ItemCreateOptions{Title: "dep"})
	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "main", Dependencies: []string{dep.ID}})

	ok, err := eng.TransitionItem(item.ID, domain.StateReady, domain.ProblemNone, "tester")
	if err != nil || ok {
		t.Fatalf("ready with open dependency: ok=%v err=%v", ok, err)
	}

	mustTransition(t, eng, dep.ID, domain.StateReady)
	mustTransition(t, eng, dep.ID, domain.StateInProgress)
	clock.Advance(time.Hour)
	mustTransition(t, eng, dep.ID, domain.StateReview)
	approved := true
	_, _ = eng.UpdateItem(engine.ItemUpdateOptions{ID: dep.ID, Approved: &approved, ActorID: "tester"})
	mustTransition(t, eng, dep.ID, domain.StateApproved)
	mustTransition(t, eng, dep.ID, domain.StateIntegrated)
	mustTransition(t, eng, dep.ID, domain.StateDone)

	mustTransition(t, eng, item.ID, domain.StateReady)
}

func TestCompletionCriteriaGateReview(t *testing.T) {
	eng, _ := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{
		Title:              "checks",
		CompletionCriteria: []bool{true, false},
	})
	mustTransition(t, eng, item.ID, domain.StateReady)
	mustTransition(t, eng, item.ID, domain.StateInProgress)

	ok, err := eng.TransitionItem(item.ID, domain.StateReview, domain.ProblemNone, "tester")
	if err != nil || ok {
		t.Fatalf("review with open criteria: ok=%v err=%v", ok, err)
	}

	_, _ = eng.UpdateItem(engine.ItemUpdateOptions{ID: item.ID, CompletionCriteria: []bool{true, true}, ActorID: "tester"})
	mustTransition(t, eng, item.ID, domain.StateReview)
}

func TestBlockedReentryBoostsPriority(t *testing.T) {
	eng, clock := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "stuck"})
	mustTransition(t, eng, item.ID, domain.StateReady)
	mustTransition(t, eng, item.ID, domain.StateInProgress)

	blocked := true
	_, _ = eng.UpdateItem(engine.ItemUpdateOptions{ID: item.ID, Blocked: &blocked, ActorID: "tester"})
	ok, err := eng.TransitionItem(item.ID, domain.StateBlocked, domain.ProblemTechnicalUncertainty, "tester")
	if err != nil || !ok {
		t.Fatalf("block: ok=%v err=%v", ok, err)
	}
	clock.Advance(3 * time.Hour)

	got, _ := eng.GetItem(item.ID)
	if got.Problem != domain.ProblemTechnicalUncertainty {
		t.Fatalf("problem = %q", got.Problem)
	}
	before := got.Priority

	// problem still set: back to ready must refuse
	ok, err = eng.TransitionItem(item.ID, domain.StateReady, domain.ProblemNone, "tester")
	if err != nil || ok {
		t.Fatalf("ready with open problem: ok=%v err=%v", ok, err)
	}

	_, _ = eng.UpdateItem(engine.ItemUpdateOptions{ID: item.ID, ClearProblem: true, ActorID: "tester"})
	mustTransition(t, eng, item.ID, domain.StateReady)

	got, _ = eng.GetItem(item.ID)
	if got.Priority != before+0.2 {
		t.Fatalf("priority = %v, want %v", got.Priority, before+0.2)
	}
	if got.Blocked {
		t.Fatalf("blocked flag should clear on exit")
	}
	if got.TotalBlockedTime != 3*time.Hour {
		t.Fatalf("blocked time = %v, want 3h", got.TotalBlockedTime)
	}
}

func TestBlockedReentryBoostIsConfigurable(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.BlockedEntryBoost = 0.5
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := engine.New(cfg)
	eng.Now = clock.Now

	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "stuck"})
	mustTransition(t, eng, item.ID, domain.StateReady)
	mustTransition(t, eng, item.ID, domain.StateInProgress)

	blocked := true
	_, _ = eng.UpdateItem(engine.ItemUpdateOptions{ID: item.ID, Blocked: &blocked, ActorID: "tester"})
	mustTransition(t, eng, item.ID, domain.StateBlocked)

	got, _ := eng.GetItem(item.ID)
	before := got.Priority
	mustTransition(t, eng, item.ID, domain.StateReady)

	got, _ = eng.GetItem(item.ID)
	if got.Priority != before+0.5 {
		t.Fatalf("priority = %v, want %v", got.Priority, before+0.5)
	}
}

func TestBlockedResolutionResumesInProgress(t *testing.T) {
	eng, _ := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "failing tests"})
	mustTransition(t, eng, item.ID, domain.StateReady)
	mustTransition(t, eng, item.ID, domain.StateInProgress)

	blocked := true
	_, _ = eng.UpdateItem(engine.ItemUpdateOptions{ID: item.ID, Blocked: &blocked, ActorID: "tester"})
	ok, err := eng.TransitionItem(item.ID, domain.StateBlocked, domain.ProblemTestFailure, "tester")
	if err != nil || !ok {
		t.Fatalf("block: ok=%v err=%v", ok, err)
	}

	// unresolved: stays blocked
	ok, err = eng.TransitionItem(item.ID, domain.StateInProgress, domain.ProblemNone, "tester")
	if err != nil || ok {
		t.Fatalf("resume without resolution: ok=%v err=%v", ok, err)
	}

	_, _ = eng.UpdateItem(engine.ItemUpdateOptions{ID: item.ID, Resolve: []domain.ProblemState{domain.ProblemTestFailure}, ActorID: "tester"})
	mustTransition(t, eng, item.ID, domain.StateInProgress)

	got, _ := eng.GetItem(item.ID)
	if got.Problem != domain.ProblemNone || got.Blocked {
		t.Fatalf("problem/blocked should clear, got %q %v", got.Problem, got.Blocked)
	}
}

func TestStateTimeoutAllowsBlocking(t *testing.T) {
	eng, clock := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "stale"})
	mustTransition(t, eng, item.ID, domain.StateReady)

	ok, err := eng.TransitionItem(item.ID, domain.StateBlocked, domain.ProblemNone, "tester")
	if err != nil || ok {
		t.Fatalf("block before timeout: ok=%v err=%v", ok, err)
	}

	clock.Advance(25 * time.Hour)
	mustTransition(t, eng, item.ID, domain.StateBlocked)
}

func TestBlockageAnalysis(t *testing.T) {
	eng, _ := newTestEngine(t)
	blocked := true
	for i, problem := range []domain.ProblemState{
		domain.ProblemTestFailure, domain.ProblemTestFailure, domain.ProblemReviewFailure,
	} {
		item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "blocked item", Metadata: map[string]any{"n": i}})
		mustTransition(t, eng, item.ID, domain.StateReady)
		_, _ = eng.UpdateItem(engine.ItemUpdateOptions{ID: item.ID, Blocked: &blocked, ActorID: "tester"})
		if ok, err := eng.TransitionItem(item.ID, domain.StateBlocked, problem, "tester"); err != nil || !ok {
			t.Fatalf("block %d: ok=%v err=%v", i, ok, err)
		}
	}
	mustCreate(t, eng, engine.ItemCreateOptions{Title: "healthy"})

	analysis := eng.BlockageAnalysis()
	if analysis.BlockedCount != 3 {
		t.Fatalf("blocked = %d, want 3", analysis.BlockedCount)
	}
	if analysis.BlockageRate != 0.75 {
		t.Fatalf("rate = %v, want 0.75", analysis.BlockageRate)
	}
	if len(analysis.TopProblems) != 2 || analysis.TopProblems[0].Problem != domain.ProblemTestFailure || analysis.TopProblems[0].Count != 2 {
		t.Fatalf("top problems = %+v", analysis.TopProblems)
	}
}

func TestPrioritizedOrderIsStable(t *testing.T) {
	eng, _ := newTestEngine(t)
	deadline := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	urgent := mustCreate(t, eng, engine.ItemCreateOptions{Title: "urgent", Deadline: &deadline})
	first := mustCreate(t, eng, engine.ItemCreateOptions{Title: "first"})
	second := mustCreate(t, eng, engine.ItemCreateOptions{Title: "second"})

	items := eng.GetPrioritizedItems(domain.StateBacklog, 0)
	if len(items) != 3 {
		t.Fatalf("len = %d, want 3", len(items))
	}
	if items[0].ID != urgent.ID {
		t.Fatalf("deadline item should rank first")
	}
	// equal scores keep creation order
	if items[1].ID != first.ID || items[2].ID != second.ID {
		t.Fatalf("ties broken out of creation order: %s, %s", items[1].Title, items[2].Title)
	}

	limited := eng.GetPrioritizedItems(domain.StateBacklog, 1)
	if len(limited) != 1 || limited[0].ID != urgent.ID {
		t.Fatalf("limit not applied")
	}
}

func TestTransitionEventsLogged(t *testing.T) {
	eng, _ := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "evented"})
	mustTransition(t, eng, item.ID, domain.StateReady)
	mustTransition(t, eng, item.ID, domain.StateInProgress)

	entries := eng.Events.All()
	kinds := map[string]int{}
	for _, e := range entries {
		kinds[e.Type]++
	}
	if kinds["item.created"] != 1 {
		t.Fatalf("created events = %d", kinds["item.created"])
	}
	if kinds["item.transitioned"] != 2 {
		t.Fatalf("transition events = %d", kinds["item.transitioned"])
	}
}

func TestEngineSnapshotRoundTrip(t *testing.T) {
	eng, clock := newTestEngine(t)
	item := mustCreate(t, eng, engine.ItemCreateOptions{Title: "persist me"})
	mustTransition(t, eng, item.ID, domain.StateReady)
	opID, err := eng.CreateOperation([]domain.FileChange{
		{Type: domain.ChangeCreate, Path: "a.txt", Content: []byte("a")},
	}, nil, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := eng.ExecuteOperation(opID, "tester"); err != nil || !ok {
		t.Fatalf("execute: ok=%v err=%v", ok, err)
	}

	restored, err := engine.Restore(config.Default(), eng.State())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored.Now = clock.Now

	got, err := restored.GetItem(item.ID)
	if err != nil {
		t.Fatalf("restored item: %v", err)
	}
	if got.State != domain.StateReady {
		t.Fatalf("state = %s, want ready", got.State)
	}
	content, found, err := restored.FileContent("a.txt", "")
	if err != nil || !found {
		t.Fatalf("restored file: found=%v err=%v", found, err)
	}
	if string(content) != "a" {
		t.Fatalf("content = %q, want a", content)
	}
	op, err := restored.Operation(opID)
	if err != nil || op.Status != domain.OpCommitted {
		t.Fatalf("restored op: %+v err=%v", op, err)
	}
	if len(restored.Events.All()) != len(eng.Events.All()) {
		t.Fatalf("events lost in restore")
	}
}
