package server

import (
	"sprintline/internal/domain"
	"sprintline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID   string `json:"id,omitempty"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

type CreateSprintRequest struct {
	Name             string   `json:"name"`
	Goal             string   `json:"goal,omitempty"`
	StartDate        string   `json:"start_date" format:"date"`
	EndDate          string   `json:"end_date" format:"date"`
	CapacityPoints   *int     `json:"capacity_points,omitempty"`
	CapacityHours    *float64 `json:"capacity_hours,omitempty"`
	DefinitionOfDone string   `json:"definition_of_done,omitempty"`
}

type UpdateSprintRequest struct {
	Name               *string  `json:"name,omitempty"`
	Goal               *string  `json:"goal,omitempty"`
	StartDate          *string  `json:"start_date,omitempty" format:"date"`
	EndDate            *string  `json:"end_date,omitempty" format:"date"`
	CapacityPoints     *int     `json:"capacity_points,omitempty"`
	CapacityHours      *float64 `json:"capacity_hours,omitempty"`
	DefinitionOfDone   *string  `json:"definition_of_done,omitempty"`
	Announcements      *string  `json:"announcements,omitempty"`
	RetrospectiveNotes *string  `json:"retrospective_notes,omitempty"`
	ReviewNotes        *string  `json:"review_notes,omitempty"`
	WhatWentWell       *string  `json:"what_went_well,omitempty"`
	WhatToImprove      *string  `json:"what_to_improve,omitempty"`
	ActionItems        *string  `json:"action_items,omitempty"`
}

type TransitionRequest struct {
	Action     string `json:"action" enum:"start,pause,resume,extend,lock_scope,unlock_scope,complete,cancel"`
	Reason     string `json:"reason,omitempty"`
	ExtendedTo string `json:"extended_to,omitempty" format:"date"`
}

type SprintTasksRequest struct {
	TaskIDs []string `json:"task_ids"`
}

type TaskPositionRequest struct {
	Order  *int    `json:"order,omitempty"`
	Status *string `json:"status,omitempty" enum:"todo,in_progress,in_review,done"`
}

type CreateBacklogTaskRequest struct {
	ID             string   `json:"id,omitempty"`
	Title          string   `json:"title"`
	Priority       string   `json:"priority,omitempty" enum:"critical,high,medium,low"`
	Type           string   `json:"type,omitempty"`
	StoryPoints    *int     `json:"story_points,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	BacklogOrder   int      `json:"backlog_order,omitempty"`
}

type ReorderBacklogRequest struct {
	Items []engine.ReorderItem `json:"items"`
}

type BulkBacklogRequest struct {
	Action  string   `json:"action" enum:"assign_to_sprint,set_priority,assign_to_user,set_story_points,delete"`
	TaskIDs []string `json:"task_ids"`
	Params  struct {
		SprintID    string  `json:"sprint_id,omitempty"`
		Priority    string  `json:"priority,omitempty"`
		AssigneeID  *string `json:"assignee_id,omitempty"`
		StoryPoints *int    `json:"story_points,omitempty"`
	} `json:"params,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads. Sprint/Task/ActivityEntry go out as the domain
// structs carry them; only composites need wrapping.

type SprintListResponse struct {
	Sprints []domain.Sprint `json:"sprints"`
}

type ActivityResponse struct {
	Entries []domain.ActivityEntry `json:"entries"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func nonNilTasks(in []domain.Task) []domain.Task {
	return nonNilSlice(in)
}
