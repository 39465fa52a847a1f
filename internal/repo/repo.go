package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"sprintline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier abstracts *sql.DB and *sql.Tx so reads work inside and outside
// a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,code,name,created_at) VALUES (?,?,?,?)`,
		p.ID, p.Code, p.Name, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,code,name,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,code,name,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SingleProject resolves the project when the caller did not name one and
// exactly one exists.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	items, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(items) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.Project{}, errors.New("multiple projects exist; specify --project")
	}
	return items[0], nil
}

// --- sprints ---

const sprintColumns = `id,project_id,name,COALESCE(goal,''),start_date,end_date,capacity_points,capacity_hours,COALESCE(definition_of_done,''),
status,actual_start_date,actual_end_date,paused_at,pause_reason,extended_to,extend_reason,scope_locked,scope_lock_reason,
committed_points,completed_points,committed_hours,completed_hours,velocity,
COALESCE(retrospective_notes,''),COALESCE(review_notes,''),COALESCE(what_went_well,''),COALESCE(what_to_improve,''),COALESCE(action_items,''),COALESCE(announcements,''),
created_at,updated_at`

func scanSprint(scan func(dest ...any) error) (domain.Sprint, error) {
	var s domain.Sprint
	var capPoints sql.NullInt64
	var capHours sql.NullFloat64
	var actualStart, actualEnd, pausedAt, pauseReason, extendedTo, extendReason, lockReason sql.NullString
	var scopeLocked int
	var velocity sql.NullInt64
	err := scan(
		&s.ID, &s.ProjectID, &s.Name, &s.Goal, &s.StartDate, &s.EndDate, &capPoints, &capHours, &s.DefinitionOfDone,
		&s.Status, &actualStart, &actualEnd, &pausedAt, &pauseReason, &extendedTo, &extendReason, &scopeLocked, &lockReason,
		&s.CommittedPoints, &s.CompletedPoints, &s.CommittedHours, &s.CompletedHours, &velocity,
		&s.RetrospectiveNotes, &s.ReviewNotes, &s.WhatWentWell, &s.WhatToImprove, &s.ActionItems, &s.Announcements,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if capPoints.Valid {
		v := int(capPoints.Int64)
		s.CapacityPoints = &v
	}
	if capHours.Valid {
		v := capHours.Float64
		s.CapacityHours = &v
	}
	s.ActualStartDate = strPtr(actualStart)
	s.ActualEndDate = strPtr(actualEnd)
	s.PausedAt = strPtr(pausedAt)
	s.PauseReason = strPtr(pauseReason)
	s.ExtendedTo = strPtr(extendedTo)
	s.ExtendReason = strPtr(extendReason)
	s.ScopeLocked = scopeLocked != 0
	s.ScopeLockReason = strPtr(lockReason)
	if velocity.Valid {
		v := int(velocity.Int64)
		s.Velocity = &v
	}
	return s, nil
}

func (r Repo) InsertSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO sprints(id,project_id,name,goal,start_date,end_date,capacity_points,capacity_hours,definition_of_done,
status,scope_locked,committed_points,completed_points,committed_hours,completed_hours,
retrospective_notes,review_notes,what_went_well,what_to_improve,action_items,announcements,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Name, nullable(s.Goal), s.StartDate, s.EndDate, nullableIntPtr(s.CapacityPoints), nullableFloatPtr(s.CapacityHours), nullable(s.DefinitionOfDone),
		s.Status, boolInt(s.ScopeLocked), s.CommittedPoints, s.CompletedPoints, s.CommittedHours, s.CompletedHours,
		nullable(s.RetrospectiveNotes), nullable(s.ReviewNotes), nullable(s.WhatWentWell), nullable(s.WhatToImprove), nullable(s.ActionItems), nullable(s.Announcements),
		s.CreatedAt, s.UpdatedAt)
	return err
}

func (r Repo) getSprint(ctx context.Context, q querier, id string) (domain.Sprint, error) {
	row := q.QueryRowContext(ctx, `SELECT `+sprintColumns+` FROM sprints WHERE id=?`, id)
	return scanSprint(row.Scan)
}

func (r Repo) GetSprint(ctx context.Context, id string) (domain.Sprint, error) {
	return r.getSprint(ctx, r.DB, id)
}

func (r Repo) GetSprintTx(ctx context.Context, tx *sql.Tx, id string) (domain.Sprint, error) {
	return r.getSprint(ctx, tx, id)
}

type SprintFilters struct {
	ProjectID string
	Status    string
}

func (r Repo) ListSprints(ctx context.Context, f SprintFilters) ([]domain.Sprint, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+sprintColumns+` FROM sprints `+where+` ORDER BY start_date DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Sprint
	for rows.Next() {
		s, err := scanSprint(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateSprint rewrites every mutable sprint column from the struct.
func (r Repo) UpdateSprint(ctx context.Context, tx *sql.Tx, s domain.Sprint) error {
	_, err := tx.ExecContext(ctx, `UPDATE sprints SET name=?, goal=?, start_date=?, end_date=?, capacity_points=?, capacity_hours=?, definition_of_done=?,
status=?, actual_start_date=?, actual_end_date=?, paused_at=?, pause_reason=?, extended_to=?, extend_reason=?, scope_locked=?, scope_lock_reason=?,
committed_points=?, completed_points=?, committed_hours=?, completed_hours=?, velocity=?,
retrospective_notes=?, review_notes=?, what_went_well=?, what_to_improve=?, action_items=?, announcements=?, updated_at=?
WHERE id=?`,
		s.Name, nullable(s.Goal), s.StartDate, s.EndDate, nullableIntPtr(s.CapacityPoints), nullableFloatPtr(s.CapacityHours), nullable(s.DefinitionOfDone),
		s.Status, nullableStringPtr(s.ActualStartDate), nullableStringPtr(s.ActualEndDate), nullableStringPtr(s.PausedAt), nullableStringPtr(s.PauseReason),
		nullableStringPtr(s.ExtendedTo), nullableStringPtr(s.ExtendReason), boolInt(s.ScopeLocked), nullableStringPtr(s.ScopeLockReason),
		s.CommittedPoints, s.CompletedPoints, s.CommittedHours, s.CompletedHours, nullableIntPtr(s.Velocity),
		nullable(s.RetrospectiveNotes), nullable(s.ReviewNotes), nullable(s.WhatWentWell), nullable(s.WhatToImprove), nullable(s.ActionItems), nullable(s.Announcements),
		s.UpdatedAt, s.ID)
	return err
}

func (r Repo) DeleteSprint(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM sprints WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- tasks ---

const taskColumns = `id,project_id,sprint_id,title,status,priority,type,story_points,estimated_hours,actual_hours,order_index,backlog_order,blocked_reason,assignee_id,created_at,updated_at,deleted_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var sprintID, blockedReason, assigneeID, deletedAt sql.NullString
	var storyPoints sql.NullInt64
	var estimatedHours sql.NullFloat64
	err := scan(&t.ID, &t.ProjectID, &sprintID, &t.Title, &t.Status, &t.Priority, &t.Type,
		&storyPoints, &estimatedHours, &t.ActualHours, &t.OrderIndex, &t.BacklogOrder,
		&blockedReason, &assigneeID, &t.CreatedAt, &t.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.SprintID = strPtr(sprintID)
	t.BlockedReason = strPtr(blockedReason)
	t.AssigneeID = strPtr(assigneeID)
	t.DeletedAt = strPtr(deletedAt)
	if storyPoints.Valid {
		v := int(storyPoints.Int64)
		t.StoryPoints = &v
	}
	if estimatedHours.Valid {
		v := estimatedHours.Float64
		t.EstimatedHours = &v
	}
	return t, nil
}

func (r Repo) getTask(ctx context.Context, q querier, id string) (domain.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=? AND deleted_at IS NULL`, id)
	return scanTask(row.Scan)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, r.DB, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks(id,project_id,sprint_id,title,status,priority,type,story_points,estimated_hours,actual_hours,order_index,backlog_order,blocked_reason,assignee_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, nullableStringPtr(t.SprintID), t.Title, t.Status, t.Priority, t.Type,
		nullableIntPtr(t.StoryPoints), nullableFloatPtr(t.EstimatedHours), t.ActualHours, t.OrderIndex, t.BacklogOrder,
		nullableStringPtr(t.BlockedReason), nullableStringPtr(t.AssigneeID), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) listMembers(ctx context.Context, q querier, sprintID, status string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE sprint_id=? AND deleted_at IS NULL`
	args := []any{sprintID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY order_index ASC, id ASC`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ListMembers returns the non-deleted tasks attached to a sprint in board
// order, optionally filtered by status.
func (r Repo) ListMembers(ctx context.Context, sprintID, status string) ([]domain.Task, error) {
	return r.listMembers(ctx, r.DB, sprintID, status)
}

func (r Repo) ListMembersTx(ctx context.Context, tx *sql.Tx, sprintID string) ([]domain.Task, error) {
	return r.listMembers(ctx, tx, sprintID, "")
}

// NextOrderIndex returns max(order_index)+1 over the sprint's members.
// Indexes grow monotonically and are never reused.
func (r Repo) NextOrderIndex(ctx context.Context, tx *sql.Tx, sprintID string) (int, error) {
	var next int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(order_index),0)+1 FROM tasks WHERE sprint_id=? AND deleted_at IS NULL`, sprintID).Scan(&next)
	return next, err
}

// AttachTask assigns a task to a sprint with the given order index.
func (r Repo) AttachTask(ctx context.Context, tx *sql.Tx, taskID, sprintID string, orderIndex int, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET sprint_id=?, order_index=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		sprintID, orderIndex, now, taskID)
	return err
}

// DetachTask returns a task to the backlog; backlog_order is untouched.
func (r Repo) DetachTask(ctx context.Context, tx *sql.Tx, taskID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET sprint_id=NULL, updated_at=? WHERE id=? AND deleted_at IS NULL`, now, taskID)
	return err
}

// DetachAllTasks vacates every member of a sprint in one statement, used
// by cancel and delete.
func (r Repo) DetachAllTasks(ctx context.Context, tx *sql.Tx, sprintID, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET sprint_id=NULL, updated_at=? WHERE sprint_id=? AND deleted_at IS NULL`, now, sprintID)
	return err
}

func (r Repo) UpdateTaskPosition(ctx context.Context, tx *sql.Tx, taskID string, orderIndex *int, status *string, now string) error {
	var fields []string
	var args []any
	if orderIndex != nil {
		fields = append(fields, "order_index=?")
		args = append(args, *orderIndex)
	}
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, now, taskID)
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(fields, ", ")+` WHERE id=? AND deleted_at IS NULL`, args...)
	return err
}

// SprintTotals holds the derived point/hour sums for a sprint.
type SprintTotals struct {
	CommittedPoints int
	CommittedHours  float64
	CompletedPoints int
	CompletedHours  float64
}

// ComputeTotals re-derives committed and completed sums from the attached,
// non-deleted tasks. Always a full SUM, never an increment.
func (r Repo) ComputeTotals(ctx context.Context, tx *sql.Tx, sprintID string) (SprintTotals, error) {
	var t SprintTotals
	err := tx.QueryRowContext(ctx, `SELECT
COALESCE(SUM(story_points),0),
COALESCE(SUM(estimated_hours),0),
COALESCE(SUM(CASE WHEN status='done' THEN story_points END),0),
COALESCE(SUM(CASE WHEN status='done' THEN estimated_hours END),0)
FROM tasks WHERE sprint_id=? AND deleted_at IS NULL`, sprintID).
		Scan(&t.CommittedPoints, &t.CommittedHours, &t.CompletedPoints, &t.CompletedHours)
	return t, err
}

// ApplyTotals writes re-derived sums onto the sprint row.
func (r Repo) ApplyTotals(ctx context.Context, tx *sql.Tx, sprintID string, t SprintTotals, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE sprints SET committed_points=?, committed_hours=?, completed_points=?, completed_hours=?, updated_at=? WHERE id=?`,
		t.CommittedPoints, t.CommittedHours, t.CompletedPoints, t.CompletedHours, now, sprintID)
	return err
}

// CountBlocked counts attached tasks with a blocked_reason set.
func (r Repo) CountBlocked(ctx context.Context, sprintID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE sprint_id=? AND deleted_at IS NULL AND blocked_reason IS NOT NULL`, sprintID).Scan(&n)
	return n, err
}

// MemberCounts returns total and done counts for completion-rate math.
func (r Repo) MemberCounts(ctx context.Context, sprintID string) (total, done, notDone int, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT COUNT(*),
COALESCE(SUM(CASE WHEN status='done' THEN 1 ELSE 0 END),0),
COALESCE(SUM(CASE WHEN status!='done' THEN 1 ELSE 0 END),0)
FROM tasks WHERE sprint_id=? AND deleted_at IS NULL`, sprintID).Scan(&total, &done, &notDone)
	return
}

// --- bulk task mutations (backlog ops; each call is one independent write) ---

func (r Repo) SetTaskPriority(ctx context.Context, taskID, priority, now string) error {
	return r.execOne(ctx, `UPDATE tasks SET priority=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, priority, now, taskID)
}

func (r Repo) SetTaskAssignee(ctx context.Context, taskID string, assigneeID *string, now string) error {
	return r.execOne(ctx, `UPDATE tasks SET assignee_id=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, nullableStringPtr(assigneeID), now, taskID)
}

func (r Repo) SetTaskStoryPoints(ctx context.Context, taskID string, points *int, now string) error {
	return r.execOne(ctx, `UPDATE tasks SET story_points=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, nullableIntPtr(points), now, taskID)
}

func (r Repo) SetBacklogOrder(ctx context.Context, taskID string, order int, now string) error {
	return r.execOne(ctx, `UPDATE tasks SET backlog_order=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, order, now, taskID)
}

// SoftDeleteTask stamps deleted_at; the row stays for history but drops
// out of every membership and aggregate query.
func (r Repo) SoftDeleteTask(ctx context.Context, taskID, now string) error {
	return r.execOne(ctx, `UPDATE tasks SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, now, now, taskID)
}

func (r Repo) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- activity ---

func (r Repo) ListActivity(ctx context.Context, sprintID string, limit int) ([]domain.ActivityEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,sprint_id,actor_id,action,entity_type,COALESCE(entity_id,''),description,COALESCE(reason,''),created_at
FROM sprint_activity_log WHERE sprint_id=? ORDER BY id DESC LIMIT ?`, sprintID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		if err := rows.Scan(&e.ID, &e.SprintID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &e.Description, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountScopeChanges counts task_added/task_removed log rows for a sprint.
func (r Repo) CountScopeChanges(ctx context.Context, sprintID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sprint_activity_log WHERE sprint_id=? AND action IN ('task_added','task_removed')`, sprintID).Scan(&n)
	return n, err
}

// DoneTaskSpans returns (created_at, updated_at) pairs of done tasks for
// cycle-time math. An empty projectID spans all projects.
func (r Repo) DoneTaskSpans(ctx context.Context, projectID string) ([][2]string, error) {
	q := `SELECT created_at, updated_at FROM tasks WHERE status='done' AND deleted_at IS NULL`
	var args []any
	if projectID != "" {
		q += ` AND project_id=?`
		args = append(args, projectID)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res [][2]string
	for rows.Next() {
		var c, u string
		if err := rows.Scan(&c, &u); err != nil {
			return nil, err
		}
		res = append(res, [2]string{c, u})
	}
	return res, rows.Err()
}

// --- helpers ---

func strPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
