package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sprintline/internal/activity"
	"sprintline/internal/config"
	"sprintline/internal/domain"
	"sprintline/internal/engine/auth"
	"sprintline/internal/repo"
)

// dateLayout is the wire format for calendar dates (start/end/extended).
const dateLayout = "2006-01-02"

// Engine owns the sprint lifecycle, task membership and backlog
// allocation logic. Every mutation runs inside one transaction and
// appends activity-log rows before committing.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Activity activity.Writer
	Auth     auth.Service
	Config   *config.Config
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Activity: activity.Writer{DB: db},
		Auth:     auth.Service{DB: db},
		Config:   cfg,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) today() string {
	return e.now().UTC().Format(dateLayout)
}

// logEntry appends an activity row stamped by the engine clock, so
// audit timestamps and mutation timestamps come from the same source.
func (e Engine) logEntry(ctx context.Context, tx *sql.Tx, entry activity.Entry) error {
	w := e.Activity
	w.Now = e.Now
	return w.Append(ctx, tx, entry)
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, validationErr(field, fmt.Sprintf("invalid date %q, want YYYY-MM-DD", value))
	}
	return t, nil
}

// CreateProject registers a project and seeds the RBAC footprint for the
// acting user from the configured role definitions.
func (e Engine) CreateProject(ctx context.Context, id, code, name, actorID string) (domain.Project, error) {
	if code == "" {
		return domain.Project{}, validationErr("code", "required")
	}
	if name == "" {
		name = code
	}
	if id == "" {
		id = uuid.New().String()
	}
	p := domain.Project{
		ID:        id,
		Code:      code,
		Name:      name,
		CreatedAt: e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.seedRBAC(ctx, tx, p.ID, actorID); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) seedRBAC(ctx context.Context, tx *sql.Tx, projectID, actorID string) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	for _, perm := range config.AllPermissions {
		if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
			return err
		}
	}
	for roleID, role := range e.Config.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	if actorID != "" {
		if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
			return err
		}
		if err := e.Repo.AssignRole(ctx, tx, projectID, actorID, "owner"); err != nil {
			return err
		}
	}
	return nil
}

// SprintCreateOptions are parameters for creating a sprint.
type SprintCreateOptions struct {
	ProjectID        string
	Name             string
	Goal             string
	StartDate        string
	EndDate          string
	CapacityPoints   *int
	CapacityHours    *float64
	DefinitionOfDone string
	ActorID          string
}

func (e Engine) CreateSprint(ctx context.Context, opts SprintCreateOptions) (domain.Sprint, error) {
	if opts.ProjectID == "" {
		return domain.Sprint{}, validationErr("project_id", "required")
	}
	if opts.Name == "" {
		return domain.Sprint{}, validationErr("name", "required")
	}
	if opts.StartDate == "" {
		return domain.Sprint{}, validationErr("start_date", "required")
	}
	if opts.EndDate == "" {
		return domain.Sprint{}, validationErr("end_date", "required")
	}
	start, err := parseDate("start_date", opts.StartDate)
	if err != nil {
		return domain.Sprint{}, err
	}
	end, err := parseDate("end_date", opts.EndDate)
	if err != nil {
		return domain.Sprint{}, err
	}
	if end.Before(start) {
		return domain.Sprint{}, validationErr("end_date", "must not precede start_date")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Sprint{}, err
	}
	now := e.nowStr()
	s := domain.Sprint{
		ID:               uuid.New().String(),
		ProjectID:        opts.ProjectID,
		Name:             opts.Name,
		Goal:             opts.Goal,
		StartDate:        opts.StartDate,
		EndDate:          opts.EndDate,
		CapacityPoints:   opts.CapacityPoints,
		CapacityHours:    opts.CapacityHours,
		DefinitionOfDone: opts.DefinitionOfDone,
		Status:           domain.SprintPlanning,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Sprint{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSprint(ctx, tx, s); err != nil {
		return domain.Sprint{}, fmt.Errorf("insert sprint: %w", err)
	}
	if err := e.logEntry(ctx, tx, activity.Entry{
		SprintID:    s.ID,
		ActorID:     opts.ActorID,
		Action:      "created",
		EntityType:  "sprint",
		EntityID:    s.ID,
		Description: fmt.Sprintf("Sprint %q created (%s to %s)", s.Name, s.StartDate, s.EndDate),
	}); err != nil {
		return domain.Sprint{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Sprint{}, err
	}
	return s, nil
}

// SprintUpdateOptions carries the regular (non-transition) field edits.
// Any subset may be set at any time regardless of state; nil means leave
// unchanged.
type SprintUpdateOptions struct {
	ID                 string
	Name               *string
	Goal               *string
	StartDate          *string
	EndDate            *string
	CapacityPoints     *int
	CapacityHours      *float64
	DefinitionOfDone   *string
	Announcements      *string
	RetrospectiveNotes *string
	ReviewNotes        *string
	WhatWentWell       *string
	WhatToImprove      *string
	ActionItems        *string
	ActorID            string
}

func (e Engine) UpdateSprint(ctx context.Context, opts SprintUpdateOptions) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, opts.ID)
	if err != nil {
		return s, err
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return s, validationErr("name", "must not be empty")
		}
		s.Name = *opts.Name
	}
	if opts.Goal != nil {
		s.Goal = *opts.Goal
	}
	if opts.StartDate != nil {
		if _, err := parseDate("start_date", *opts.StartDate); err != nil {
			return s, err
		}
		s.StartDate = *opts.StartDate
	}
	if opts.EndDate != nil {
		if _, err := parseDate("end_date", *opts.EndDate); err != nil {
			return s, err
		}
		s.EndDate = *opts.EndDate
	}
	start, err := parseDate("start_date", s.StartDate)
	if err != nil {
		return s, err
	}
	end, err := parseDate("end_date", s.EndDate)
	if err != nil {
		return s, err
	}
	if end.Before(start) {
		return s, validationErr("end_date", "must not precede start_date")
	}
	if opts.CapacityPoints != nil {
		s.CapacityPoints = opts.CapacityPoints
	}
	if opts.CapacityHours != nil {
		s.CapacityHours = opts.CapacityHours
	}
	if opts.DefinitionOfDone != nil {
		s.DefinitionOfDone = *opts.DefinitionOfDone
	}
	if opts.Announcements != nil {
		s.Announcements = *opts.Announcements
	}
	if opts.RetrospectiveNotes != nil {
		s.RetrospectiveNotes = *opts.RetrospectiveNotes
	}
	if opts.ReviewNotes != nil {
		s.ReviewNotes = *opts.ReviewNotes
	}
	if opts.WhatWentWell != nil {
		s.WhatWentWell = *opts.WhatWentWell
	}
	if opts.WhatToImprove != nil {
		s.WhatToImprove = *opts.WhatToImprove
	}
	if opts.ActionItems != nil {
		s.ActionItems = *opts.ActionItems
	}
	s.UpdatedAt = e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSprint(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.logEntry(ctx, tx, activity.Entry{
		SprintID:    s.ID,
		ActorID:     opts.ActorID,
		Action:      "updated",
		EntityType:  "sprint",
		EntityID:    s.ID,
		Description: fmt.Sprintf("Sprint %q updated", s.Name),
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// DeleteSprint removes a sprint after returning every member task to the
// backlog. Activity rows go with the sprint (cascade).
func (e Engine) DeleteSprint(ctx context.Context, id, actorID string) error {
	if _, err := e.Repo.GetSprint(ctx, id); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DetachAllTasks(ctx, tx, id, e.nowStr()); err != nil {
		return err
	}
	if err := e.Repo.DeleteSprint(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

// SprintDetail is the full read model for one sprint.
type SprintDetail struct {
	Sprint   domain.Sprint          `json:"sprint"`
	Members  []domain.Task          `json:"members"`
	Summary  MemberSummary          `json:"summary"`
	Activity []domain.ActivityEntry `json:"activity"`
	Metrics  SprintMetrics          `json:"metrics"`
}

func (e Engine) GetSprint(ctx context.Context, id string) (SprintDetail, error) {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return SprintDetail{}, err
	}
	members, err := e.Repo.ListMembers(ctx, id, "")
	if err != nil {
		return SprintDetail{}, err
	}
	pageSize := 20
	if e.Config != nil && e.Config.Activity.PageSize > 0 {
		pageSize = e.Config.Activity.PageSize
	}
	entries, err := e.Repo.ListActivity(ctx, id, pageSize)
	if err != nil {
		return SprintDetail{}, err
	}
	blocked := 0
	for _, t := range members {
		if t.BlockedReason != nil {
			blocked++
		}
	}
	return SprintDetail{
		Sprint:   s,
		Members:  members,
		Summary:  summarizeMembers(members),
		Activity: entries,
		Metrics:  e.sprintMetrics(s, blocked),
	}, nil
}

func (e Engine) ListSprints(ctx context.Context, projectID, status string) ([]domain.Sprint, error) {
	return e.Repo.ListSprints(ctx, repo.SprintFilters{ProjectID: projectID, Status: status})
}

func (e Engine) ListActivity(ctx context.Context, sprintID string, limit int) ([]domain.ActivityEntry, error) {
	if _, err := e.Repo.GetSprint(ctx, sprintID); err != nil {
		return nil, err
	}
	return e.Repo.ListActivity(ctx, sprintID, limit)
}
