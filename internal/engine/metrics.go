package engine

import (
	"context"
	"math"
	"time"

	"sprintline/internal/domain"
	"sprintline/internal/repo"
)

// SprintMetrics is the derived, read-only view attached to a sprint read.
type SprintMetrics struct {
	DaysRemaining   int     `json:"days_remaining"`
	BlockedCount    int     `json:"blocked_count"`
	CompletionRatio float64 `json:"completion_ratio"`
	RemainingPoints int     `json:"remaining_points"`
	Health          string  `json:"health" enum:"healthy,at_risk,critical"`
}

// HealthCategory classifies a sprint snapshot. Pure function of its four
// inputs so callers can evaluate it on hypothetical state.
func HealthCategory(daysRemaining, blockedCount, completedPoints, committedPoints int) string {
	if blockedCount > 3 || daysRemaining < 0 {
		return domain.HealthCritical
	}
	behind := float64(completedPoints) < 0.7*float64(committedPoints)
	if blockedCount > 1 || (daysRemaining <= 2 && behind) {
		return domain.HealthAtRisk
	}
	return domain.HealthHealthy
}

// daysRemaining counts calendar days from today until the effective end
// date (extended_to wins over end_date). Unparseable dates yield zero.
func (e Engine) daysRemaining(s domain.Sprint) int {
	endStr := s.EndDate
	if s.ExtendedTo != nil && *s.ExtendedTo != "" {
		endStr = *s.ExtendedTo
	}
	end, err := time.Parse(dateLayout, endStr)
	if err != nil {
		return 0
	}
	today, err := time.Parse(dateLayout, e.today())
	if err != nil {
		return 0
	}
	return int(end.Sub(today).Hours() / 24)
}

func (e Engine) sprintMetrics(s domain.Sprint, blocked int) SprintMetrics {
	days := e.daysRemaining(s)
	ratio := 0.0
	if s.CommittedPoints > 0 {
		ratio = float64(s.CompletedPoints) / float64(s.CommittedPoints)
	}
	return SprintMetrics{
		DaysRemaining:   days,
		BlockedCount:    blocked,
		CompletionRatio: ratio,
		RemainingPoints: s.CommittedPoints - s.CompletedPoints,
		Health:          HealthCategory(days, blocked, s.CompletedPoints, s.CommittedPoints),
	}
}

// VelocityPoint is one sample in the velocity trend, ordered oldest-first
// for charting.
type VelocityPoint struct {
	SprintID string `json:"sprint_id"`
	Name     string `json:"name"`
	EndDate  string `json:"end_date" format:"date"`
	Velocity int    `json:"velocity"`
}

// VelocityTrend returns the velocities of the most recent completed
// sprints, capped by the configured window, oldest first.
func (e Engine) VelocityTrend(ctx context.Context, projectID string) ([]VelocityPoint, error) {
	sprints, err := e.Repo.ListSprints(ctx, repo.SprintFilters{ProjectID: projectID, Status: domain.SprintCompleted})
	if err != nil {
		return nil, err
	}
	window := e.Config.Metrics.VelocityWindow
	if len(sprints) > window {
		sprints = sprints[:window]
	}
	// ListSprints is newest-first; the chart wants oldest-first.
	points := make([]VelocityPoint, 0, len(sprints))
	for i := len(sprints) - 1; i >= 0; i-- {
		s := sprints[i]
		v := 0
		if s.Velocity != nil {
			v = *s.Velocity
		}
		points = append(points, VelocityPoint{SprintID: s.ID, Name: s.Name, EndDate: s.EndDate, Velocity: v})
	}
	return points, nil
}

// CompletionSample is one completed sprint's task completion rate,
// expressed as a percentage with one decimal.
type CompletionSample struct {
	SprintID       string  `json:"sprint_id"`
	Name           string  `json:"name"`
	CompletionRate float64 `json:"completion_rate"`
}

// ScopeChangeSample counts membership churn (task_added/task_removed log
// entries) for one sprint.
type ScopeChangeSample struct {
	SprintID     string `json:"sprint_id"`
	Name         string `json:"name"`
	ScopeChanges int    `json:"scope_changes"`
}

// Dashboard aggregates sprint health across a project (or all projects
// when projectID is empty).
type Dashboard struct {
	SprintsByStatus      map[string]int      `json:"sprints_by_status"`
	ActiveCommittedPts   int                 `json:"active_committed_points"`
	ActiveCompletedPts   int                 `json:"active_completed_points"`
	AverageVelocity      float64             `json:"average_velocity"`
	AtRiskSprints        int                 `json:"at_risk_sprints"`
	CompletionTrend      []CompletionSample  `json:"completion_trend"`
	ScopeChanges         []ScopeChangeSample `json:"scope_changes"`
	AverageCarryOver     float64             `json:"average_carry_over"`
	AverageCycleTimeDays float64             `json:"average_cycle_time_days"`
	VelocityTrend        []VelocityPoint     `json:"velocity_trend"`
}

// GetDashboard walks every sprint once. Per-row derivations that fail
// (bad dates, missing counts) skip the row rather than failing the whole
// aggregate.
func (e Engine) GetDashboard(ctx context.Context, projectID string) (Dashboard, error) {
	sprints, err := e.Repo.ListSprints(ctx, repo.SprintFilters{ProjectID: projectID})
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{
		SprintsByStatus: map[string]int{},
		CompletionTrend: []CompletionSample{},
		ScopeChanges:    []ScopeChangeSample{},
	}
	velocitySum, velocityN := 0, 0
	carrySum, carryN := 0, 0
	for _, s := range sprints {
		d.SprintsByStatus[s.Status]++
		switch s.Status {
		case domain.SprintActive:
			d.ActiveCommittedPts += s.CommittedPoints
			d.ActiveCompletedPts += s.CompletedPoints
			blocked, err := e.Repo.CountBlocked(ctx, s.ID)
			if err != nil {
				continue
			}
			h := HealthCategory(e.daysRemaining(s), blocked, s.CompletedPoints, s.CommittedPoints)
			if h == domain.HealthAtRisk || h == domain.HealthCritical {
				d.AtRiskSprints++
			}
		case domain.SprintCompleted:
			if s.Velocity != nil {
				velocitySum += *s.Velocity
				velocityN++
			}
			total, done, notDone, err := e.Repo.MemberCounts(ctx, s.ID)
			if err != nil {
				continue
			}
			if total > 0 {
				rate := roundPercent(float64(done) / float64(total))
				d.CompletionTrend = append(d.CompletionTrend, CompletionSample{SprintID: s.ID, Name: s.Name, CompletionRate: rate})
			}
			carrySum += notDone
			carryN++
		}
		changes, err := e.Repo.CountScopeChanges(ctx, s.ID)
		if err == nil && changes > 0 {
			d.ScopeChanges = append(d.ScopeChanges, ScopeChangeSample{SprintID: s.ID, Name: s.Name, ScopeChanges: changes})
		}
	}
	if velocityN > 0 {
		d.AverageVelocity = float64(velocitySum) / float64(velocityN)
	}
	if carryN > 0 {
		d.AverageCarryOver = float64(carrySum) / float64(carryN)
	}
	cycle, err := e.averageCycleTime(ctx, projectID)
	if err == nil {
		d.AverageCycleTimeDays = cycle
	}
	trend, err := e.VelocityTrend(ctx, projectID)
	if err == nil {
		d.VelocityTrend = trend
	}
	return d, nil
}

// averageCycleTime is the mean created→updated span over done tasks, in
// days. Rows with malformed timestamps are skipped.
func (e Engine) averageCycleTime(ctx context.Context, projectID string) (float64, error) {
	spans, err := e.Repo.DoneTaskSpans(ctx, projectID)
	if err != nil {
		return 0, err
	}
	sum, n := 0.0, 0
	for _, span := range spans {
		created, err := time.Parse(time.RFC3339, span[0])
		if err != nil {
			continue
		}
		updated, err := time.Parse(time.RFC3339, span[1])
		if err != nil {
			continue
		}
		if updated.Before(created) {
			continue
		}
		sum += updated.Sub(created).Hours() / 24
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n), nil
}

// roundPercent converts a ratio to a percentage with one decimal.
func roundPercent(ratio float64) float64 {
	return math.Round(ratio*1000) / 10
}
