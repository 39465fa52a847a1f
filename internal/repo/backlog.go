package repo

import (
	"context"
	"strings"

	"sprintline/internal/domain"
)

// BacklogFilters narrow the pool of unassigned, unfinished tasks.
type BacklogFilters struct {
	ProjectID  string
	Priority   string
	Type       string
	AssigneeID string
	Search     string
	Sort       string // backlog_order|priority|created_at|story_points
	Page       int
	PerPage    int
}

// BacklogSummary aggregates the filtered backlog in one pass.
type BacklogSummary struct {
	Total       int `json:"total"`
	Critical    int `json:"critical"`
	High        int `json:"high"`
	Medium      int `json:"medium"`
	Low         int `json:"low"`
	Unestimated int `json:"unestimated"`
	Unassigned  int `json:"unassigned"`
	TotalPoints int `json:"total_story_points"`
}

const backlogWhere = `sprint_id IS NULL AND status != 'done' AND deleted_at IS NULL`

func backlogClauses(f BacklogFilters) (string, []any) {
	clauses := []string{backlogWhere}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.Search != "" {
		clauses = append(clauses, "title LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	return strings.Join(clauses, " AND "), args
}

func backlogOrder(sort string) string {
	// Priority is a fixed rank, not alphabetical; ties always fall back to
	// backlog_order ascending.
	switch sort {
	case "priority":
		return `ORDER BY CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 WHEN 'low' THEN 3 ELSE 4 END, backlog_order ASC, id ASC`
	case "created_at":
		return `ORDER BY created_at DESC, backlog_order ASC, id ASC`
	case "story_points":
		return `ORDER BY story_points IS NULL, story_points DESC, backlog_order ASC, id ASC`
	default:
		return `ORDER BY backlog_order ASC, id ASC`
	}
}

// ListBacklog returns one page of backlog items plus summary counts over
// the whole filtered set (not just the page).
func (r Repo) ListBacklog(ctx context.Context, f BacklogFilters) ([]domain.Task, BacklogSummary, error) {
	where, args := backlogClauses(f)

	var summary BacklogSummary
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*),
COALESCE(SUM(CASE WHEN priority='critical' THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN priority='high' THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN priority='medium' THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN priority='low' THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN story_points IS NULL THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN assignee_id IS NULL THEN 1 ELSE 0 END),0),
COALESCE(SUM(story_points),0)
FROM tasks WHERE `+where, args...).
		Scan(&summary.Total, &summary.Critical, &summary.High, &summary.Medium, &summary.Low,
			&summary.Unestimated, &summary.Unassigned, &summary.TotalPoints)
	if err != nil {
		return nil, summary, err
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 50
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + where + ` ` + backlogOrder(f.Sort) + ` LIMIT ? OFFSET ?`
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, summary, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, summary, err
		}
		res = append(res, t)
	}
	return res, summary, rows.Err()
}
