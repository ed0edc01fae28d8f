package leanflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal LeanFlow HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Timeout:    10 * time.Second,
	}
}

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	State        string   `json:"state"`
	ProblemState string   `json:"problem_state,omitempty"`
	Priority     float64  `json:"priority"`
	Score        float64  `json:"score,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
	CycleTime    int64    `json:"cycle_time,omitempty"`
}

// TransitionResult reports whether a transition fired.
type TransitionResult struct {
	Transitioned bool     `json:"transitioned"`
	Item         WorkItem `json:"item"`
}

// Metrics is a lean-flow statistics snapshot.
type Metrics struct {
	AvgCycleTime     int64   `json:"avg_cycle_time"`
	FlowEfficiency   float64 `json:"flow_efficiency"`
	ThroughputPerDay float64 `json:"throughput_per_day"`
	CurrentWIP       int     `json:"current_wip"`
	CompletedCount   int     `json:"completed_count"`
}

// Blockage summarizes blocked work.
type Blockage struct {
	TopProblems []struct {
		Problem string `json:"problem_state"`
		Count   int    `json:"count"`
	} `json:"top_problems,omitempty"`
	BlockedCount int     `json:"blocked_count"`
	BlockageRate float64 `json:"blockage_rate"`
}

// FileChange is one file-level intent inside an operation.
type FileChange struct {
	Type    string `json:"type"`
	Path    string `json:"path"`
	Content []byte `json:"content,omitempty"`
}

// Operation represents an atomic operation.
type Operation struct {
	ID           string       `json:"id"`
	Changes      []FileChange `json:"changes"`
	Dependencies []string     `json:"dependencies,omitempty"`
	Status       string       `json:"status"`
	CommitID     string       `json:"commit_id,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// ExecuteResult reports whether an operation committed.
type ExecuteResult struct {
	Committed bool      `json:"committed"`
	Operation Operation `json:"operation"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateItem creates a work item.
func (c *Client) CreateItem(ctx context.Context, title string, opts map[string]any) (WorkItem, error) {
	body := map[string]any{"title": title}
	for k, v := range opts {
		body[k] = v
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, "v0/items", body, &resp)
	return resp, err
}

// GetItem fetches a work item by id.
func (c *Client) GetItem(ctx context.Context, id string) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodGet, "v0/items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListItems lists items, optionally filtered by state.
func (c *Client) ListItems(ctx context.Context, state string) ([]WorkItem, error) {
	endpoint := "v0/items"
	if state != "" {
		endpoint += "?state=" + url.QueryEscape(state)
	}
	var resp []WorkItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// PrioritizedItems lists items in a state ordered by priority score.
func (c *Client) PrioritizedItems(ctx context.Context, state string, limit int) ([]WorkItem, error) {
	endpoint := "v0/items/prioritized"
	params := url.Values{}
	if state != "" {
		params.Set("state", state)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []WorkItem
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateItem patches a work item.
func (c *Client) UpdateItem(ctx context.Context, id string, fields map[string]any) (WorkItem, error) {
	var resp WorkItem
	err := c.do(ctx, http.MethodPatch, "v0/items/"+url.PathEscape(id), fields, &resp)
	return resp, err
}

// TransitionItem requests a state change. A false result with a nil
// error means the transition was refused.
func (c *Client) TransitionItem(ctx context.Context, id, target, problem string) (TransitionResult, error) {
	body := map[string]any{"target": target}
	if problem != "" {
		body["problem_state"] = problem
	}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, "v0/items/"+url.PathEscape(id)+"/transition", body, &resp)
	return resp, err
}

// Metrics returns the current workflow metrics.
func (c *Client) Metrics(ctx context.Context) (Metrics, error) {
	var resp Metrics
	err := c.do(ctx, http.MethodGet, "v0/metrics", nil, &resp)
	return resp, err
}

// Blockage returns the blockage analysis.
func (c *Client) Blockage(ctx context.Context) (Blockage, error) {
	var resp Blockage
	err := c.do(ctx, http.MethodGet, "v0/blockage", nil, &resp)
	return resp, err
}

// CreateOperation registers a pending atomic operation.
func (c *Client) CreateOperation(ctx context.Context, changes []FileChange, deps []string) (Operation, error) {
	body := map[string]any{"changes": changes}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	var resp Operation
	err := c.do(ctx, http.MethodPost, "v0/operations", body, &resp)
	return resp, err
}

// ExecuteOperation drives one operation to commit.
func (c *Client) ExecuteOperation(ctx context.Context, id string) (ExecuteResult, error) {
	var resp ExecuteResult
	err := c.do(ctx, http.MethodPost, "v0/operations/"+url.PathEscape(id)+"/execute", nil, &resp)
	return resp, err
}

// DetectConflicts reports operations overlapping with id.
func (c *Client) DetectConflicts(ctx context.Context, id string) ([]string, error) {
	var resp struct {
		Conflicts []string `json:"conflicts"`
	}
	err := c.do(ctx, http.MethodGet, "v0/operations/"+url.PathEscape(id)+"/conflicts", nil, &resp)
	return resp.Conflicts, err
}

// BatchExecute executes operations in dependency order.
func (c *Client) BatchExecute(ctx context.Context, ids []string) (map[string]bool, error) {
	var resp struct {
		Results map[string]bool `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "v0/operations/batch", map[string]any{"ids": ids}, &resp)
	return resp.Results, err
}

// ListFiles lists the files visible at a commit (head when empty).
func (c *Client) ListFiles(ctx context.Context, commitID string) ([]string, error) {
	endpoint := "v0/files"
	if commitID != "" {
		endpoint += "?commit_id=" + url.QueryEscape(commitID)
	}
	var resp struct {
		Files []string `json:"files"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Files, err
}

// FileContent reads a file at a commit (head when empty).
func (c *Client) FileContent(ctx context.Context, path, commitID string) ([]byte, error) {
	params := url.Values{"path": {path}}
	if commitID != "" {
		params.Set("commit_id", commitID)
	}
	var resp struct {
		Content []byte `json:"content"`
	}
	err := c.do(ctx, http.MethodGet, "v0/files/content?"+params.Encode(), nil, &resp)
	return resp.Content, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
