package server

import (
	"time"

	"leanflow/internal/domain"
)

type CreateItemRequest struct {
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Priority           float64        `json:"priority,omitempty"`
	Assignee           string         `json:"assignee,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	CompletionCriteria []bool         `json:"completion_criteria,omitempty"`
	Dependencies       []string       `json:"dependencies,omitempty"`
	Deadline           *time.Time     `json:"deadline,omitempty"`
	StateTimeoutHours  float64        `json:"state_timeout_hours,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

type UpdateItemRequest struct {
	Title              *string               `json:"title,omitempty"`
	Description        *string               `json:"description,omitempty"`
	Priority           *float64              `json:"priority,omitempty"`
	Assignee           *string               `json:"assignee,omitempty"`
	Tags               []string              `json:"tags,omitempty"`
	CompletionCriteria []bool                `json:"completion_criteria,omitempty"`
	Approved           *bool                 `json:"approved,omitempty"`
	AddDependencies    []string              `json:"add_dependencies,omitempty"`
	Deadline           *time.Time            `json:"deadline,omitempty"`
	ClearDeadline      bool                  `json:"clear_deadline,omitempty"`
	Blocked            *bool                 `json:"blocked,omitempty"`
	ClearProblem       bool                  `json:"clear_problem,omitempty"`
	Resolve            []domain.ProblemState `json:"resolve,omitempty"`
	ExpertiseMatch     *float64              `json:"expertise_match,omitempty"`
	Metadata           map[string]any        `json:"metadata,omitempty"`
}

type TransitionRequest struct {
	Target  domain.WorkState    `json:"target" enum:"backlog,ready,in_progress,review,approved,integrated,done,blocked"`
	Problem domain.ProblemState `json:"problem_state,omitempty" enum:",missing_dependencies,technical_uncertainty,review_failure,test_failure"`
}

type TransitionResponse struct {
	Transitioned bool            `json:"transitioned"`
	Item         domain.WorkItem `json:"item"`
}

type StatusResponse struct {
	Branch     string         `json:"branch"`
	HeadCommit string         `json:"head_commit"`
	ItemCounts map[string]int `json:"item_counts"`
	Operations int            `json:"operations"`
}

type TrendsResponse struct {
	CycleTimeHours []float64 `json:"cycle_time_hours"`
	FlowEfficiency []float64 `json:"flow_efficiency"`
}

type CreateOperationRequest struct {
	Changes      []domain.FileChange `json:"changes"`
	Dependencies []string            `json:"dependencies,omitempty"`
}

type ExecuteResponse struct {
	Committed bool                   `json:"committed"`
	Operation domain.AtomicOperation `json:"operation"`
}

type ConflictsResponse struct {
	OpID      string   `json:"op_id"`
	Conflicts []string `json:"conflicts"`
}

type BatchRequest struct {
	IDs []string `json:"ids"`
}

type BatchResponse struct {
	Results map[string]bool `json:"results"`
}

type FilesResponse struct {
	CommitID string   `json:"commit_id,omitempty"`
	Files    []string `json:"files"`
}

type FileContentResponse struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}
