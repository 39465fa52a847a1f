package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sprintline/internal/domain"
	"sprintline/internal/repo"
)

// BacklogView is one page of the product backlog plus whole-set summary
// counts.
type BacklogView struct {
	Tasks   []domain.Task       `json:"tasks"`
	Summary repo.BacklogSummary `json:"summary"`
}

func (e Engine) ListBacklog(ctx context.Context, f repo.BacklogFilters) (BacklogView, error) {
	tasks, summary, err := e.Repo.ListBacklog(ctx, f)
	if err != nil {
		return BacklogView{}, err
	}
	return BacklogView{Tasks: tasks, Summary: summary}, nil
}

// ReorderItem pins one task to an explicit backlog position.
type ReorderItem struct {
	ID           string `json:"id"`
	BacklogOrder int    `json:"backlog_order"`
}

// ReorderBacklog rewrites backlog_order for each listed task. A missing
// id is an error, not a silent skip; writes applied before the failure
// persist (same best-effort contract as bulk ops).
func (e Engine) ReorderBacklog(ctx context.Context, items []ReorderItem) error {
	if len(items) == 0 {
		return validationErr("items", "required")
	}
	now := e.nowStr()
	for _, item := range items {
		if err := e.Repo.SetBacklogOrder(ctx, item.ID, item.BacklogOrder, now); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("reorder backlog: task %s: %w", item.ID, err)
			}
			return err
		}
	}
	return nil
}

// BulkParams carry the per-action payload for BulkOperation.
type BulkParams struct {
	SprintID    string
	Priority    string
	AssigneeID  *string
	StoryPoints *int
}

// BulkResult reports which tasks a bulk operation touched.
type BulkResult struct {
	Applied int      `json:"applied"`
	Skipped []string `json:"skipped,omitempty"`
}

func validPriority(p string) bool {
	switch p {
	case domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
		return true
	}
	return false
}

// BulkOperation applies one action to a list of backlog tasks,
// task-by-task with no rollback: a failure partway through leaves
// earlier writes in place and callers re-query state.
func (e Engine) BulkOperation(ctx context.Context, action string, taskIDs []string, params BulkParams, actorID string) (BulkResult, error) {
	if len(taskIDs) == 0 {
		return BulkResult{}, validationErr("task_ids", "required")
	}
	switch action {
	case "assign_to_sprint":
		if params.SprintID == "" {
			return BulkResult{}, validationErr("sprint_id", "required for assign_to_sprint")
		}
		_, res, err := e.attachTasks(ctx, params.SprintID, taskIDs, actorID)
		return res, err
	case "set_priority":
		if !validPriority(params.Priority) {
			return BulkResult{}, validationErr("priority", fmt.Sprintf("unknown priority %q", params.Priority))
		}
		return e.bulkEach(ctx, taskIDs, func(id, now string) error {
			return e.Repo.SetTaskPriority(ctx, id, params.Priority, now)
		})
	case "assign_to_user":
		return e.bulkEach(ctx, taskIDs, func(id, now string) error {
			return e.Repo.SetTaskAssignee(ctx, id, params.AssigneeID, now)
		})
	case "set_story_points":
		return e.bulkEach(ctx, taskIDs, func(id, now string) error {
			return e.Repo.SetTaskStoryPoints(ctx, id, params.StoryPoints, now)
		})
	case "delete":
		return e.bulkEach(ctx, taskIDs, func(id, now string) error {
			return e.Repo.SoftDeleteTask(ctx, id, now)
		})
	default:
		return BulkResult{}, validationErr("action", fmt.Sprintf("unknown bulk action %q", action))
	}
}

// bulkEach runs one write per task. Missing ids are tolerated and
// reported; any other store error stops the loop with prior writes kept.
func (e Engine) bulkEach(ctx context.Context, taskIDs []string, apply func(id, now string) error) (BulkResult, error) {
	now := e.nowStr()
	var res BulkResult
	for _, id := range taskIDs {
		err := apply(id, now)
		if errors.Is(err, repo.ErrNotFound) {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err != nil {
			return res, err
		}
		res.Applied++
	}
	return res, nil
}

// TaskCreateOptions is the intake surface for new backlog tasks.
type TaskCreateOptions struct {
	ID             string
	ProjectID      string
	Title          string
	Priority       string
	Type           string
	StoryPoints    *int
	EstimatedHours *float64
	AssigneeID     *string
	BacklogOrder   int
}

// CreateTask adds a task to the product backlog. Tasks enter unassigned
// in todo status; sprint attachment goes through AddTasks.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, validationErr("title", "required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, validationErr("project_id", "required")
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !validPriority(opts.Priority) {
		return domain.Task{}, validationErr("priority", fmt.Sprintf("unknown priority %q", opts.Priority))
	}
	if opts.Type == "" {
		opts.Type = "task"
	}
	if opts.ID == "" {
		opts.ID = uuid.New().String()
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	now := e.nowStr()
	t := domain.Task{
		ID:             opts.ID,
		ProjectID:      opts.ProjectID,
		Title:          opts.Title,
		Status:         domain.TaskTodo,
		Priority:       opts.Priority,
		Type:           opts.Type,
		StoryPoints:    opts.StoryPoints,
		EstimatedHours: opts.EstimatedHours,
		AssigneeID:     opts.AssigneeID,
		BacklogOrder:   opts.BacklogOrder,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertTask(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}
