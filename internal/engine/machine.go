package engine

import (
	"time"

	"leanflow/internal/domain"
)

// guardKind enumerates the guard predicates a transition may carry.
type guardKind int

const (
	guardDependenciesDone guardKind = iota
	guardCriteriaMet
	guardApproved
	guardBlockedOrTimedOut
	guardProblemCleared
	guardProblemResolved
)

// actionKind enumerates the side effects a transition may apply.
type actionKind int

const (
	actionStampStarted actionKind = iota
	actionCompleteItem
	actionEnterBlocked
	actionExitBlocked
)

type transition struct {
	From    domain.WorkState
	To      domain.WorkState
	Guards  []guardKind
	Actions []actionKind
	// Boost applies the configured blocked re-entry priority boost.
	Boost bool
}

// transitions is evaluated in declaration order; the first entry whose
// guards all pass wins for a given (from, to) request.
var transitions = []transition{
	{From: domain.StateBacklog, To: domain.StateReady, Guards: []guardKind{guardDependenciesDone}},
	{From: domain.StateReady, To: domain.StateInProgress, Actions: []actionKind{actionStampStarted}},
	{From: domain.StateInProgress, To: domain.StateReview, Guards: []guardKind{guardCriteriaMet}},
	{From: domain.StateReview, To: domain.StateApproved, Guards: []guardKind{guardApproved}},
	{From: domain.StateApproved, To: domain.StateIntegrated},
	{From: domain.StateIntegrated, To: domain.StateDone, Actions: []actionKind{actionCompleteItem}},
	{From: domain.StateReady, To: domain.StateBlocked, Guards: []guardKind{guardBlockedOrTimedOut}, Actions: []actionKind{actionEnterBlocked}},
	{From: domain.StateInProgress, To: domain.StateBlocked, Guards: []guardKind{guardBlockedOrTimedOut}, Actions: []actionKind{actionEnterBlocked}},
	{From: domain.StateReview, To: domain.StateBlocked, Guards: []guardKind{guardBlockedOrTimedOut}, Actions: []actionKind{actionEnterBlocked}},
	{From: domain.StateBlocked, To: domain.StateReady, Guards: []guardKind{guardProblemCleared}, Actions: []actionKind{actionExitBlocked}, Boost: true},
	{From: domain.StateBlocked, To: domain.StateInProgress, Guards: []guardKind{guardProblemResolved}, Actions: []actionKind{actionExitBlocked}},
}

func (e *Engine) checkGuard(g guardKind, item *domain.WorkItem, now time.Time) bool {
	switch g {
	case guardDependenciesDone:
		for _, depID := range item.Dependencies {
			dep, ok := e.items[depID]
			if !ok || dep.State != domain.StateDone {
				return false
			}
		}
		return true
	case guardCriteriaMet:
		for _, done := range item.CompletionCriteria {
			if !done {
				return false
			}
		}
		return true
	case guardApproved:
		return item.Approved
	case guardBlockedOrTimedOut:
		if item.Blocked {
			return true
		}
		timeout := item.StateTimeoutHours
		if timeout <= 0 {
			timeout = e.Config.Workflow.StateTimeoutHours
		}
		return now.Sub(item.StateEnteredAt) > time.Duration(timeout*float64(time.Hour))
	case guardProblemCleared:
		return item.Problem == domain.ProblemNone
	case guardProblemResolved:
		return item.Problem != domain.ProblemNone && item.Resolutions[item.Problem]
	}
	return false
}

func (e *Engine) applyAction(a actionKind, item *domain.WorkItem, now time.Time) {
	switch a {
	case actionStampStarted:
		if item.StartedAt == nil {
			ts := now
			item.StartedAt = &ts
		}
	case actionCompleteItem:
		ts := now
		item.CompletedAt = &ts
		start := item.CreatedAt
		if item.StartedAt != nil && item.StartedAt.After(start) {
			start = *item.StartedAt
		}
		item.CycleTime = ts.Sub(start)
	case actionEnterBlocked:
		item.Blocked = true
	case actionExitBlocked:
		item.Blocked = false
		item.Problem = domain.ProblemNone
		item.Resolutions = nil
	}
}
