package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sprintline/internal/activity"
	"sprintline/internal/domain"
	"sprintline/internal/repo"
)

func validTaskStatus(s string) bool {
	switch s {
	case domain.TaskTodo, domain.TaskInProgress, domain.TaskInReview, domain.TaskDone:
		return true
	}
	return false
}

// guardMembership rejects membership mutations on terminal or
// scope-locked sprints before anything is written.
func guardMembership(s domain.Sprint) error {
	if domain.TerminalSprint(s.Status) {
		return InvalidTransitionError{SprintID: s.ID, From: s.Status, Action: "change membership of"}
	}
	if s.ScopeLocked {
		return ScopeLockedError{SprintID: s.ID, Reason: deref(s.ScopeLockReason)}
	}
	return nil
}

// AddTasks attaches tasks to a sprint. Unknown or soft-deleted ids are
// skipped (stale client tolerance); a task already in another sprint is
// implicitly vacated from it. The per-task loop and the committed-totals
// recompute are one transaction.
func (e Engine) AddTasks(ctx context.Context, sprintID string, taskIDs []string, actorID string) (domain.Sprint, error) {
	s, _, err := e.attachTasks(ctx, sprintID, taskIDs, actorID)
	return s, err
}

// attachTasks is AddTasks plus per-task accounting: res.Applied counts
// actual attachments, res.Skipped lists unknown or soft-deleted ids.
// Ids already attached to this sprint count as neither.
func (e Engine) attachTasks(ctx context.Context, sprintID string, taskIDs []string, actorID string) (domain.Sprint, BulkResult, error) {
	var res BulkResult
	if len(taskIDs) == 0 {
		return domain.Sprint{}, res, validationErr("task_ids", "required")
	}
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return s, res, err
	}
	if err := guardMembership(s); err != nil {
		return s, res, err
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, res, err
	}
	defer tx.Rollback()

	next, err := e.Repo.NextOrderIndex(ctx, tx, sprintID)
	if err != nil {
		return s, res, err
	}
	for _, id := range taskIDs {
		t, err := e.Repo.GetTaskTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err != nil {
			return s, res, err
		}
		if t.SprintID != nil && *t.SprintID == sprintID {
			continue
		}
		if err := e.Repo.AttachTask(ctx, tx, t.ID, sprintID, next, now); err != nil {
			return s, res, err
		}
		next++
		res.Applied++
		if err := e.logEntry(ctx, tx, activity.Entry{
			SprintID:    sprintID,
			ActorID:     actorID,
			Action:      "task_added",
			EntityType:  "task",
			EntityID:    t.ID,
			Description: fmt.Sprintf("Task %q added to sprint %q", t.Title, s.Name),
		}); err != nil {
			return s, res, err
		}
	}
	if err := e.recomputeTotals(ctx, tx, &s); err != nil {
		return s, res, err
	}
	if err := tx.Commit(); err != nil {
		return s, res, err
	}
	return s, res, nil
}

// RemoveTasks returns listed tasks to the backlog (backlog_order
// untouched). Removing a task that is not attached is a harmless no-op,
// which makes the call idempotent.
func (e Engine) RemoveTasks(ctx context.Context, sprintID string, taskIDs []string, actorID string) (domain.Sprint, error) {
	if len(taskIDs) == 0 {
		return domain.Sprint{}, validationErr("task_ids", "required")
	}
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return s, err
	}
	if err := guardMembership(s); err != nil {
		return s, err
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()

	for _, id := range taskIDs {
		t, err := e.Repo.GetTaskTx(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return s, err
		}
		if t.SprintID == nil || *t.SprintID != sprintID {
			continue
		}
		if err := e.Repo.DetachTask(ctx, tx, t.ID, now); err != nil {
			return s, err
		}
		if err := e.logEntry(ctx, tx, activity.Entry{
			SprintID:    sprintID,
			ActorID:     actorID,
			Action:      "task_removed",
			EntityType:  "task",
			EntityID:    t.ID,
			Description: fmt.Sprintf("Task %q removed from sprint %q", t.Title, s.Name),
		}); err != nil {
			return s, err
		}
	}
	if err := e.recomputeTotals(ctx, tx, &s); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// TaskPositionOptions update a member task's board position and/or
// status.
type TaskPositionOptions struct {
	Order   *int
	Status  *string
	ActorID string
}

// SetTaskPosition updates order_index and/or status on a current member.
// A task that does not belong to this sprint is a no-op, not an error, so
// read-modify races cannot corrupt other sprints.
func (e Engine) SetTaskPosition(ctx context.Context, sprintID, taskID string, opts TaskPositionOptions) (domain.Sprint, error) {
	if opts.Order == nil && opts.Status == nil {
		return domain.Sprint{}, validationErr("", "order or status required")
	}
	if opts.Status != nil && !validTaskStatus(*opts.Status) {
		return domain.Sprint{}, validationErr("status", fmt.Sprintf("unknown status %q", *opts.Status))
	}
	s, err := e.Repo.GetSprint(ctx, sprintID)
	if err != nil {
		return s, err
	}
	if domain.TerminalSprint(s.Status) {
		return s, InvalidTransitionError{SprintID: s.ID, From: s.Status, Action: "move tasks in"}
	}
	t, err := e.Repo.GetTask(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if t.SprintID == nil || *t.SprintID != sprintID {
		return s, nil
	}
	now := e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTaskPosition(ctx, tx, taskID, opts.Order, opts.Status, now); err != nil {
		return s, err
	}
	if opts.Status != nil {
		// Completed totals follow done-status flips.
		if err := e.recomputeTotals(ctx, tx, &s); err != nil {
			return s, err
		}
	}
	if err := e.logEntry(ctx, tx, activity.Entry{
		SprintID:    sprintID,
		ActorID:     opts.ActorID,
		Action:      "task_moved",
		EntityType:  "task",
		EntityID:    taskID,
		Description: describeMove(t.Title, opts),
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

func describeMove(title string, opts TaskPositionOptions) string {
	switch {
	case opts.Status != nil && opts.Order != nil:
		return fmt.Sprintf("Task %q moved to position %d, status %s", title, *opts.Order, *opts.Status)
	case opts.Status != nil:
		return fmt.Sprintf("Task %q status set to %s", title, *opts.Status)
	default:
		return fmt.Sprintf("Task %q moved to position %d", title, *opts.Order)
	}
}

// recomputeTotals re-derives committed/completed sums inside the current
// transaction and refreshes the caller's sprint snapshot. Always a full
// SUM re-derivation, never an increment, so interleaved writers converge
// on the correct end state.
func (e Engine) recomputeTotals(ctx context.Context, tx *sql.Tx, s *domain.Sprint) error {
	totals, err := e.Repo.ComputeTotals(ctx, tx, s.ID)
	if err != nil {
		return err
	}
	s.CommittedPoints = totals.CommittedPoints
	s.CommittedHours = totals.CommittedHours
	s.CompletedPoints = totals.CompletedPoints
	s.CompletedHours = totals.CompletedHours
	s.UpdatedAt = e.nowStr()
	return e.Repo.ApplyTotals(ctx, tx, s.ID, totals, s.UpdatedAt)
}

// MemberSummary is a one-pass aggregate over a sprint's member set.
type MemberSummary struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByPriority      map[string]int `json:"by_priority"`
	TotalPoints     int            `json:"total_points"`
	CompletedPoints int            `json:"completed_points"`
	BlockedCount    int            `json:"blocked_count"`
}

func summarizeMembers(tasks []domain.Task) MemberSummary {
	s := MemberSummary{
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
	}
	for _, t := range tasks {
		s.Total++
		s.ByStatus[t.Status]++
		s.ByPriority[t.Priority]++
		if t.StoryPoints != nil {
			s.TotalPoints += *t.StoryPoints
			if t.Status == domain.TaskDone {
				s.CompletedPoints += *t.StoryPoints
			}
		}
		if t.BlockedReason != nil {
			s.BlockedCount++
		}
	}
	return s
}

// MembersView is the query surface over a sprint's member tasks.
type MembersView struct {
	Tasks   []domain.Task            `json:"tasks"`
	Summary MemberSummary            `json:"summary"`
	Groups  map[string][]domain.Task `json:"groups,omitempty"`
}

// ListMembers returns member tasks with their summary; group_by buckets
// the same list without requerying.
func (e Engine) ListMembers(ctx context.Context, sprintID, status, groupBy string) (MembersView, error) {
	if _, err := e.Repo.GetSprint(ctx, sprintID); err != nil {
		return MembersView{}, err
	}
	tasks, err := e.Repo.ListMembers(ctx, sprintID, status)
	if err != nil {
		return MembersView{}, err
	}
	view := MembersView{Tasks: tasks, Summary: summarizeMembers(tasks)}
	if groupBy != "" {
		groups, err := groupTasks(tasks, groupBy)
		if err != nil {
			return MembersView{}, err
		}
		view.Groups = groups
	}
	return view, nil
}

func groupTasks(tasks []domain.Task, by string) (map[string][]domain.Task, error) {
	key := func(t domain.Task) string { return "" }
	switch by {
	case "status":
		key = func(t domain.Task) string { return t.Status }
	case "priority":
		key = func(t domain.Task) string { return t.Priority }
	case "type":
		key = func(t domain.Task) string { return t.Type }
	case "assignee":
		key = func(t domain.Task) string { return deref(t.AssigneeID) }
	default:
		return nil, validationErr("group_by", fmt.Sprintf("unknown grouping %q", by))
	}
	groups := map[string][]domain.Task{}
	for _, t := range tasks {
		k := key(t)
		if k == "" {
			k = "unassigned"
		}
		groups[k] = append(groups[k], t)
	}
	return groups, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
