package sprintlinesdk

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

// Client is a minimal Sprintline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Sprint represents the API sprint model (partial).
type Sprint struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	Name            string `json:"name"`
	Status          string `json:"status"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	ScopeLocked     bool   `json:"scope_locked"`
	CommittedPoints int    `json:"committed_points"`
	CompletedPoints int    `json:"completed_points"`
	Velocity        *int   `json:"velocity,omitempty"`
}

// Task represents the API task model (partial).
type Task struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	StoryPoints *int   `json:"story_points,omitempty"`
}

// Dashboard represents the cross-sprint dashboard payload (partial).
type Dashboard struct {
	SprintsByStatus      map[string]int `json:"sprints_by_status"`
	ActiveCommittedPts   int            `json:"active_committed_points"`
	ActiveCompletedPts   int            `json:"active_completed_points"`
	AverageVelocity      float64        `json:"average_velocity"`
	AtRiskSprints        int            `json:"at_risk_sprints"`
	AverageCycleTimeDays float64        `json:"average_cycle_time_days"`
}

// BulkResult reports the outcome of a bulk backlog operation.
type BulkResult struct {
	Applied int      `json:"applied"`
	Skipped []string `json:"skipped,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateSprint creates a sprint in planning.
func (c *Client) CreateSprint(ctx context.Context, name, startDate, endDate string) (Sprint, error) {
	body := map[string]any{
		"name":       name,
		"start_date": startDate,
		"end_date":   endDate,
	}
	var resp Sprint
	err := c.do(ctx, http.MethodPost, c.projectPath("sprints"), body, &resp)
	return resp, err
}

// ListSprints lists the project's sprints, optionally filtered by status.
func (c *Client) ListSprints(ctx context.Context, status string) ([]Sprint, error) {
	endpoint := c.projectPath("sprints")
	if status != "" {
		endpoint = fmt.Sprintf("%s?status=%s", endpoint, url.QueryEscape(status))
	}
	var resp struct {
		Sprints []Sprint `json:"sprints"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Sprints, err
}

// Transition applies a lifecycle action (start, pause, resume, extend,
// lock_scope, unlock_scope, complete, cancel) to a sprint.
func (c *Client) Transition(ctx context.Context, sprintID, action, reason, extendedTo string) (Sprint, error) {
	body := map[string]any{"action": action}
	if reason != "" {
		body["reason"] = reason
	}
	if extendedTo != "" {
		body["extended_to"] = extendedTo
	}
	var resp Sprint
	endpoint := c.projectPath(fmt.Sprintf("sprints/%s/transition", url.PathEscape(sprintID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// AddTasks assigns backlog tasks to a sprint.
func (c *Client) AddTasks(ctx context.Context, sprintID string, taskIDs []string) (Sprint, error) {
	body := map[string]any{"task_ids": taskIDs}
	var resp Sprint
	endpoint := c.projectPath(fmt.Sprintf("sprints/%s/tasks", url.PathEscape(sprintID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RemoveTasks returns sprint tasks to the backlog.
func (c *Client) RemoveTasks(ctx context.Context, sprintID string, taskIDs []string) (Sprint, error) {
	body := map[string]any{"task_ids": taskIDs}
	var resp Sprint
	endpoint := c.projectPath(fmt.Sprintf("sprints/%s/tasks/remove", url.PathEscape(sprintID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// CreateBacklogTask adds a task to the backlog.
func (c *Client) CreateBacklogTask(ctx context.Context, title, priority string, storyPoints *int) (Task, error) {
	body := map[string]any{
		"title":    title,
		"priority": priority,
	}
	if storyPoints != nil {
		body["story_points"] = *storyPoints
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("backlog"), body, &resp)
	return resp, err
}

// Backlog lists unassigned, unfinished tasks.
func (c *Client) Backlog(ctx context.Context, sort string) ([]Task, error) {
	endpoint := c.projectPath("backlog")
	if sort != "" {
		endpoint = fmt.Sprintf("%s?sort=%s", endpoint, url.QueryEscape(sort))
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Tasks, err
}

// BulkBacklog applies one action to many backlog tasks.
func (c *Client) BulkBacklog(ctx context.Context, action string, taskIDs []string, params map[string]any) (BulkResult, error) {
	body := map[string]any{
		"action":   action,
		"task_ids": taskIDs,
	}
	if params != nil {
		body["params"] = params
	}
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, c.projectPath("backlog/bulk"), body, &resp)
	return resp, err
}

// GetDashboard fetches the project dashboard.
func (c *Client) GetDashboard(ctx context.Context) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, c.projectPath("dashboard"), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
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

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v1/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
