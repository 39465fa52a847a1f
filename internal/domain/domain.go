package domain

// Sprint lifecycle statuses.
const (
	SprintPlanning  = "planning"
	SprintActive    = "active"
	SprintCompleted = "completed"
	SprintCancelled = "cancelled"
)

// Task statuses as far as the engine cares. TaskDone is the only one with
// engine semantics (completed-points accounting); the rest pass through.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskInReview   = "in_review"
	TaskDone       = "done"
)

// Task priorities, ranked critical > high > medium > low.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Health categories derived from schedule, blockage and completion ratio.
const (
	HealthHealthy  = "healthy"
	HealthAtRisk   = "at_risk"
	HealthCritical = "critical"
)

// PriorityRank orders priorities for backlog sorting; lower sorts first.
func PriorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// TerminalSprint reports whether a sprint status permits no further
// lifecycle or membership mutation.
func TerminalSprint(status string) bool {
	return status == SprintCompleted || status == SprintCancelled
}

type Project struct {
	ID        string `json:"id"`
	Code      string `json:"code"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Sprint struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`

	Name             string   `json:"name"`
	Goal             string   `json:"goal,omitempty"`
	StartDate        string   `json:"start_date" format:"date"`
	EndDate          string   `json:"end_date" format:"date"`
	CapacityPoints   *int     `json:"capacity_points,omitempty"`
	CapacityHours    *float64 `json:"capacity_hours,omitempty"`
	DefinitionOfDone string   `json:"definition_of_done,omitempty"`

	Status          string  `json:"status" enum:"planning,active,completed,cancelled"`
	ActualStartDate *string `json:"actual_start_date,omitempty" format:"date"`
	ActualEndDate   *string `json:"actual_end_date,omitempty" format:"date"`
	PausedAt        *string `json:"paused_at,omitempty" format:"date-time"`
	PauseReason     *string `json:"pause_reason,omitempty"`
	ExtendedTo      *string `json:"extended_to,omitempty" format:"date"`
	ExtendReason    *string `json:"extend_reason,omitempty"`
	ScopeLocked     bool    `json:"scope_locked"`
	ScopeLockReason *string `json:"scope_lock_reason,omitempty"`

	// Derived accounting, recomputed on every membership change and
	// snapshotted at completion. Never hand-edited.
	CommittedPoints int     `json:"committed_points"`
	CompletedPoints int     `json:"completed_points"`
	CommittedHours  float64 `json:"committed_hours"`
	CompletedHours  float64 `json:"completed_hours"`
	Velocity        *int    `json:"velocity,omitempty"`

	RetrospectiveNotes string `json:"retrospective_notes,omitempty"`
	ReviewNotes        string `json:"review_notes,omitempty"`
	WhatWentWell       string `json:"what_went_well,omitempty"`
	WhatToImprove      string `json:"what_to_improve,omitempty"`
	ActionItems        string `json:"action_items,omitempty"`
	Announcements      string `json:"announcements,omitempty"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	SprintID       *string  `json:"sprint_id,omitempty"`
	Title          string   `json:"title"`
	Status         string   `json:"status" enum:"todo,in_progress,in_review,done"`
	Priority       string   `json:"priority" enum:"critical,high,medium,low"`
	Type           string   `json:"type"`
	StoryPoints    *int     `json:"story_points,omitempty"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty"`
	ActualHours    float64  `json:"actual_hours"`
	OrderIndex     int      `json:"order_index"`
	BacklogOrder   int      `json:"backlog_order"`
	BlockedReason  *string  `json:"blocked_reason,omitempty"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
	DeletedAt      *string  `json:"deleted_at,omitempty" format:"date-time"`
}

// ActivityEntry is one append-only audit row. The engine writes entries,
// it never mutates or deletes them.
type ActivityEntry struct {
	ID          int64  `json:"id"`
	SprintID    string `json:"sprint_id"`
	ActorID     string `json:"actor_id"`
	Action      string `json:"action"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id,omitempty"`
	Description string `json:"description"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
