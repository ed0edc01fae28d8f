package domain

import "time"

// WorkState is a lifecycle state of a work item.
type WorkState string

const (
	StateBacklog    WorkState = "backlog"
	StateReady      WorkState = "ready"
	StateInProgress WorkState = "in_progress"
	StateReview     WorkState = "review"
	StateApproved   WorkState = "approved"
	StateIntegrated WorkState = "integrated"
	StateDone       WorkState = "done"
	StateBlocked    WorkState = "blocked"
)

// States lists every lifecycle state in workflow order.
func States() []WorkState {
	return []WorkState{
		StateBacklog, StateReady, StateInProgress, StateReview,
		StateApproved, StateIntegrated, StateDone, StateBlocked,
	}
}

// Valid reports whether s is a known lifecycle state.
func (s WorkState) Valid() bool {
	switch s {
	case StateBacklog, StateReady, StateInProgress, StateReview,
		StateApproved, StateIntegrated, StateDone, StateBlocked:
		return true
	}
	return false
}

// Terminal reports whether s ends the lifecycle.
func (s WorkState) Terminal() bool { return s == StateDone }

// ProblemState tags why an item is blocked.
type ProblemState string

const (
	ProblemNone                 ProblemState = ""
	ProblemMissingDependencies  ProblemState = "missing_dependencies"
	ProblemTechnicalUncertainty ProblemState = "technical_uncertainty"
	ProblemReviewFailure        ProblemState = "review_failure"
	ProblemTestFailure          ProblemState = "test_failure"
)

// ProblemStates lists the known problem kinds.
func ProblemStates() []ProblemState {
	return []ProblemState{
		ProblemMissingDependencies, ProblemTechnicalUncertainty,
		ProblemReviewFailure, ProblemTestFailure,
	}
}

// Valid reports whether p is a known problem kind (empty means no problem).
func (p ProblemState) Valid() bool {
	switch p {
	case ProblemNone, ProblemMissingDependencies, ProblemTechnicalUncertainty,
		ProblemReviewFailure, ProblemTestFailure:
		return true
	}
	return false
}

// WorkItem is a unit of work tracked through the lifecycle state machine.
// The well-known extension fields (completion criteria, approval, deps,
// deadline, blocked flag, timeout, resolution flags) are first-class; the
// Metadata map remains open for anything else.
type WorkItem struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	State       WorkState    `json:"state" enum:"backlog,ready,in_progress,review,approved,integrated,done,blocked"`
	Problem     ProblemState `json:"problem_state,omitempty"`
	Priority    float64      `json:"priority"`
	Assignee    string       `json:"assignee,omitempty"`
	Tags        []string     `json:"tags,omitempty"`

	CompletionCriteria []bool                `json:"completion_criteria,omitempty"`
	Approved           bool                  `json:"approved"`
	Dependencies       []string              `json:"dependencies,omitempty"`
	Deadline           *time.Time            `json:"deadline,omitempty"`
	Blocked            bool                  `json:"blocked"`
	StateTimeoutHours  float64               `json:"state_timeout_hours,omitempty"`
	Resolutions        map[ProblemState]bool `json:"resolutions,omitempty"`
	ExpertiseMatch     *float64              `json:"expertise_match,omitempty"`
	Metadata           map[string]any        `json:"metadata,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	StateEnteredAt time.Time  `json:"state_entered_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	TimeInState      map[WorkState]time.Duration `json:"time_in_state,omitempty"`
	TotalBlockedTime time.Duration               `json:"total_blocked_time"`
	TotalActiveTime  time.Duration               `json:"total_active_time"`
	// CycleTime is set exactly once, when the item reaches done.
	CycleTime time.Duration `json:"cycle_time,omitempty"`
}

// HasTag reports whether the item carries the tag.
func (w *WorkItem) HasTag(tag string) bool {
	for _, t := range w.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ChangeType is the kind of a file-level intent inside an atomic operation.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// Valid reports whether t is a known change type.
func (t ChangeType) Valid() bool {
	return t == ChangeCreate || t == ChangeUpdate || t == ChangeDelete
}

// FileChange is one file-level intent: create/update carry content,
// delete does not.
type FileChange struct {
	Type    ChangeType `json:"type" enum:"create,update,delete"`
	Path    string     `json:"path"`
	Content []byte     `json:"content,omitempty"`
}

// OpStatus is the execution status of an atomic operation. It only ever
// advances pending -> executing -> committed|failed.
type OpStatus string

const (
	OpPending   OpStatus = "pending"
	OpExecuting OpStatus = "executing"
	OpCommitted OpStatus = "committed"
	OpFailed    OpStatus = "failed"
)

// AtomicOperation is a batch of file-level intents committed as one unit
// or not at all.
type AtomicOperation struct {
	ID           string       `json:"id"`
	Changes      []FileChange `json:"changes"`
	Dependencies []string     `json:"dependencies,omitempty"`
	Status       OpStatus     `json:"status" enum:"pending,executing,committed,failed"`
	CreatedAt    time.Time    `json:"created_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CommitID     string       `json:"commit_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// Paths returns the paths the operation touches, in change order, without
// duplicates.
func (op *AtomicOperation) Paths() []string {
	seen := make(map[string]bool, len(op.Changes))
	var paths []string
	for _, c := range op.Changes {
		if !seen[c.Path] {
			seen[c.Path] = true
			paths = append(paths, c.Path)
		}
	}
	return paths
}

// Commit is an immutable snapshot node in the mutation log. Changes maps
// path to a content hash; a nil hash records a deletion. ParentIDs is empty
// only for the root commit.
type Commit struct {
	ID        string             `json:"id"`
	ParentIDs []string           `json:"parent_ids,omitempty"`
	Author    string             `json:"author"`
	Timestamp time.Time          `json:"timestamp"`
	Message   string             `json:"message"`
	Changes   map[string]*string `json:"changes,omitempty"`
}

// Branch is a named mutable pointer to the latest commit.
type Branch struct {
	Name         string `json:"name"`
	HeadCommitID string `json:"head_commit_id"`
}

// LeanFlowMetrics is a snapshot of the derived flow statistics.
type LeanFlowMetrics struct {
	AvgCycleTime     time.Duration `json:"avg_cycle_time"`
	FlowEfficiency   float64       `json:"flow_efficiency"`
	ThroughputPerDay float64       `json:"throughput_per_day"`
	CurrentWIP       int           `json:"current_wip"`
	CompletedCount   int           `json:"completed_count"`
	ComputedAt       time.Time     `json:"computed_at"`
}

// ProblemCount pairs a problem kind with how many blocked items carry it.
type ProblemCount struct {
	Problem ProblemState `json:"problem_state"`
	Count   int          `json:"count"`
}

// BlockageAnalysis summarizes why work is stuck.
type BlockageAnalysis struct {
	TopProblems  []ProblemCount `json:"top_problems,omitempty"`
	BlockedCount int            `json:"blocked_count"`
	BlockageRate float64        `json:"blockage_rate"`
}
