package engine

import (
	"context"
	"fmt"

	"sprintline/internal/activity"
	"sprintline/internal/domain"
)

// Action is a closed set of sprint lifecycle transitions. Dispatch goes
// through an explicit table plus an exhaustive switch, never free-form
// string branching.
type Action string

const (
	ActionStart       Action = "start"
	ActionPause       Action = "pause"
	ActionResume      Action = "resume"
	ActionExtend      Action = "extend"
	ActionLockScope   Action = "lock_scope"
	ActionUnlockScope Action = "unlock_scope"
	ActionComplete    Action = "complete"
	ActionCancel      Action = "cancel"
)

// ParseAction validates an action string coming off the wire.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := allowedFrom[a]; !ok {
		return "", validationErr("action", fmt.Sprintf("unknown action %q", s))
	}
	return a, nil
}

// allowedFrom is the transition table: which statuses each action may
// fire from. Terminal sprints appear in no row, so every action on them
// fails the guard.
var allowedFrom = map[Action][]string{
	ActionStart:       {domain.SprintPlanning},
	ActionPause:       {domain.SprintActive},
	ActionResume:      {domain.SprintPlanning, domain.SprintActive},
	ActionExtend:      {domain.SprintPlanning, domain.SprintActive},
	ActionLockScope:   {domain.SprintPlanning, domain.SprintActive},
	ActionUnlockScope: {domain.SprintPlanning, domain.SprintActive},
	ActionComplete:    {domain.SprintActive},
	ActionCancel:      {domain.SprintPlanning, domain.SprintActive},
}

// logAction maps an action to the past-tense name recorded in the
// activity log.
var logAction = map[Action]string{
	ActionStart:       "started",
	ActionPause:       "paused",
	ActionResume:      "resumed",
	ActionExtend:      "extended",
	ActionLockScope:   "scope_locked",
	ActionUnlockScope: "scope_unlocked",
	ActionComplete:    "completed",
	ActionCancel:      "cancelled",
}

func ensureSprintTransition(s domain.Sprint, action Action) error {
	for _, from := range allowedFrom[action] {
		if s.Status == from {
			return nil
		}
	}
	return InvalidTransitionError{SprintID: s.ID, From: s.Status, Action: string(action)}
}

// TransitionOptions carry the optional inputs some actions take.
type TransitionOptions struct {
	Reason     string
	ExtendedTo string // extend only
	ActorID    string
}

// TransitionSprint runs one lifecycle action. The guard is checked before
// any mutation; an illegal transition changes nothing. Exactly one
// activity entry is appended per transition.
func (e Engine) TransitionSprint(ctx context.Context, id string, action Action, opts TransitionOptions) (domain.Sprint, error) {
	s, err := e.Repo.GetSprint(ctx, id)
	if err != nil {
		return s, err
	}
	if err := ensureSprintTransition(s, action); err != nil {
		return s, err
	}

	now := e.nowStr()
	today := e.today()
	description := ""

	switch action {
	case ActionStart:
		s.Status = domain.SprintActive
		s.ActualStartDate = &today
		description = fmt.Sprintf("Sprint %q started", s.Name)
	case ActionPause:
		s.PausedAt = &now
		s.PauseReason = optional(opts.Reason)
		description = fmt.Sprintf("Sprint %q paused", s.Name)
	case ActionResume:
		// No-op when not paused; still recorded.
		s.PausedAt = nil
		s.PauseReason = nil
		description = fmt.Sprintf("Sprint %q resumed", s.Name)
	case ActionExtend:
		if opts.ExtendedTo == "" {
			return s, validationErr("extended_to", "required for extend")
		}
		newEnd, err := parseDate("extended_to", opts.ExtendedTo)
		if err != nil {
			return s, err
		}
		end, err := parseDate("end_date", s.EndDate)
		if err == nil && newEnd.Before(end) {
			return s, validationErr("extended_to", "must not precede end_date")
		}
		s.ExtendedTo = &opts.ExtendedTo
		s.ExtendReason = optional(opts.Reason)
		description = fmt.Sprintf("Sprint %q extended to %s", s.Name, opts.ExtendedTo)
	case ActionLockScope:
		s.ScopeLocked = true
		s.ScopeLockReason = optional(opts.Reason)
		description = fmt.Sprintf("Sprint %q scope locked", s.Name)
	case ActionUnlockScope:
		s.ScopeLocked = false
		s.ScopeLockReason = nil
		description = fmt.Sprintf("Sprint %q scope unlocked", s.Name)
	case ActionComplete:
		s.Status = domain.SprintCompleted
		s.ActualEndDate = &today
		description = fmt.Sprintf("Sprint %q completed", s.Name)
	case ActionCancel:
		s.Status = domain.SprintCancelled
		s.ActualEndDate = &today
		description = fmt.Sprintf("Sprint %q cancelled, tasks returned to backlog", s.Name)
	default:
		return s, validationErr("action", fmt.Sprintf("unknown action %q", action))
	}
	s.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()

	switch action {
	case ActionComplete:
		// Fix completed/committed totals and velocity at completion time.
		totals, err := e.Repo.ComputeTotals(ctx, tx, s.ID)
		if err != nil {
			return s, err
		}
		s.CommittedPoints = totals.CommittedPoints
		s.CommittedHours = totals.CommittedHours
		s.CompletedPoints = totals.CompletedPoints
		s.CompletedHours = totals.CompletedHours
		v := totals.CompletedPoints
		s.Velocity = &v
	case ActionCancel:
		if err := e.Repo.DetachAllTasks(ctx, tx, s.ID, now); err != nil {
			return s, err
		}
		// Nothing is attached anymore, so the derived sums drop to zero.
		totals, err := e.Repo.ComputeTotals(ctx, tx, s.ID)
		if err != nil {
			return s, err
		}
		s.CommittedPoints = totals.CommittedPoints
		s.CommittedHours = totals.CommittedHours
		s.CompletedPoints = totals.CompletedPoints
		s.CompletedHours = totals.CompletedHours
	}

	if err := e.Repo.UpdateSprint(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.logEntry(ctx, tx, activity.Entry{
		SprintID:    s.ID,
		ActorID:     opts.ActorID,
		Action:      logAction[action],
		EntityType:  "sprint",
		EntityID:    s.ID,
		Description: description,
		Reason:      opts.Reason,
	}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
