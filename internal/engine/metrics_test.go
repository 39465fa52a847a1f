package engine_test

import (
	"testing"
	"time"

	"sprintline/internal/domain"
	"sprintline/internal/engine"
)

func TestHealthCategory(t *testing.T) {
	cases := []struct {
		name                 string
		days, blocked        int
		completed, committed int
		want                 string
	}{
		{"on track", 10, 0, 9, 10, domain.HealthHealthy},
		{"behind near the end", 1, 0, 5, 10, domain.HealthAtRisk},
		{"behind but time left", 8, 0, 2, 10, domain.HealthHealthy},
		{"two blocked", 10, 2, 10, 10, domain.HealthAtRisk},
		{"many blocked", 10, 4, 10, 10, domain.HealthCritical},
		{"overdue", -1, 0, 10, 10, domain.HealthCritical},
		{"nothing committed", 5, 0, 0, 0, domain.HealthHealthy},
	}
	for _, tc := range cases {
		if got := engine.HealthCategory(tc.days, tc.blocked, tc.completed, tc.committed); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestSprintMetricsUseExtendedDate(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1") // ends 2026-03-14, today is 2026-03-01
	detail, err := env.Engine.GetSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if detail.Metrics.DaysRemaining != 13 {
		t.Fatalf("days remaining = %d, want 13", detail.Metrics.DaysRemaining)
	}
	if _, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionExtend, engine.TransitionOptions{ExtendedTo: "2026-03-21", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	detail, err = env.Engine.GetSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if detail.Metrics.DaysRemaining != 20 {
		t.Fatalf("days remaining after extend = %d, want 20", detail.Metrics.DaysRemaining)
	}
}

// completeSprintWithPoints sets up a sprint whose member tasks are all
// done, then completes it, leaving a velocity snapshot behind. Sprints
// list newest-first by start date, so callers pick distinct dates.
func completeSprintWithPoints(t *testing.T, env testEnv, name, start, end string, points ...int) domain.Sprint {
	t.Helper()
	s, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{
		ProjectID: "proj-1",
		Name:      name,
		StartDate: start,
		EndDate:   end,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	var ids []string
	for _, p := range points {
		ids = append(ids, mustTask(t, env, name+"-task", p).ID)
	}
	if len(ids) > 0 {
		if _, err := env.Engine.AddTasks(env.Ctx, s.ID, ids, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	transition(t, env, s.ID, engine.ActionStart)
	done := domain.TaskDone
	for _, id := range ids {
		if _, err := env.Engine.SetTaskPosition(env.Ctx, s.ID, id, engine.TaskPositionOptions{Status: &done, ActorID: "tester"}); err != nil {
			t.Fatal(err)
		}
	}
	return transition(t, env, s.ID, engine.ActionComplete)
}

func TestVelocityTrendOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	first := completeSprintWithPoints(t, env, "Sprint 1", "2026-01-05", "2026-01-18", 5)
	second := completeSprintWithPoints(t, env, "Sprint 2", "2026-01-19", "2026-02-01", 8)
	third := completeSprintWithPoints(t, env, "Sprint 3", "2026-02-02", "2026-02-15", 3)

	points, err := env.Engine.VelocityTrend(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 3 {
		t.Fatalf("points = %d, want 3", len(points))
	}
	wantIDs := []string{first.ID, second.ID, third.ID}
	wantVel := []int{5, 8, 3}
	for i := range points {
		if points[i].SprintID != wantIDs[i] || points[i].Velocity != wantVel[i] {
			t.Fatalf("point %d = %+v", i, points[i])
		}
	}
}

func TestVelocityTrendWindowCap(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Metrics.VelocityWindow = 2
	completeSprintWithPoints(t, env, "Sprint 1", "2026-01-05", "2026-01-18", 5)
	completeSprintWithPoints(t, env, "Sprint 2", "2026-01-19", "2026-02-01", 8)
	completeSprintWithPoints(t, env, "Sprint 3", "2026-02-02", "2026-02-15", 3)

	points, err := env.Engine.VelocityTrend(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 2 {
		t.Fatalf("points = %d, want window of 2", len(points))
	}
	// the two most recent, still oldest-first
	if points[0].Velocity != 8 || points[1].Velocity != 3 {
		t.Fatalf("windowed trend: %+v", points)
	}
}

func TestDashboardAggregates(t *testing.T) {
	env := newTestEnv(t)
	completeSprintWithPoints(t, env, "Done 1", "2026-01-05", "2026-01-18", 5, 3) // velocity 8
	completeSprintWithPoints(t, env, "Done 2", "2026-01-19", "2026-02-01", 2)    // velocity 2

	active := mustSprint(t, env, "Active")
	a := mustTask(t, env, "a", 4)
	b := mustTask(t, env, "b", 6)
	if _, err := env.Engine.AddTasks(env.Ctx, active.ID, []string{a.ID, b.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	transition(t, env, active.ID, engine.ActionStart)
	done := domain.TaskDone
	if _, err := env.Engine.SetTaskPosition(env.Ctx, active.ID, a.ID, engine.TaskPositionOptions{Status: &done, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	d, err := env.Engine.GetDashboard(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.SprintsByStatus[domain.SprintCompleted] != 2 || d.SprintsByStatus[domain.SprintActive] != 1 {
		t.Fatalf("by status: %v", d.SprintsByStatus)
	}
	if d.ActiveCommittedPts != 10 || d.ActiveCompletedPts != 4 {
		t.Fatalf("active points: committed=%d completed=%d", d.ActiveCommittedPts, d.ActiveCompletedPts)
	}
	if d.AverageVelocity != 5 {
		t.Fatalf("average velocity = %v, want 5", d.AverageVelocity)
	}
	if len(d.CompletionTrend) != 2 {
		t.Fatalf("completion trend: %+v", d.CompletionTrend)
	}
	for _, sample := range d.CompletionTrend {
		if sample.CompletionRate != 100 {
			t.Fatalf("completion rate = %v, want 100", sample.CompletionRate)
		}
	}
	if len(d.VelocityTrend) != 2 {
		t.Fatalf("velocity trend: %+v", d.VelocityTrend)
	}
	// every sprint gained members, so each shows scope churn
	if len(d.ScopeChanges) != 3 {
		t.Fatalf("scope changes: %+v", d.ScopeChanges)
	}
}

func TestDashboardCountsAtRiskSprints(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 5)
	b := mustTask(t, env, "b", 5)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID, b.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	transition(t, env, s.ID, engine.ActionStart)
	// two blocked tasks push the sprint to at_risk
	for _, id := range []string{a.ID, b.ID} {
		if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE tasks SET blocked_reason='waiting' WHERE id=?`, id); err != nil {
			t.Fatal(err)
		}
	}
	d, err := env.Engine.GetDashboard(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.AtRiskSprints != 1 {
		t.Fatalf("at risk = %d, want 1", d.AtRiskSprints)
	}
}

func TestDashboardEmptyProject(t *testing.T) {
	env := newTestEnv(t)
	d, err := env.Engine.GetDashboard(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.SprintsByStatus) != 0 || d.AverageVelocity != 0 || d.AtRiskSprints != 0 {
		t.Fatalf("empty dashboard: %+v", d)
	}
}

func TestCycleTimeCoversAllProjectsWhenUnfiltered(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	transition(t, env, s.ID, engine.ActionStart)

	// finish the task two days after it was created
	env.Engine.Now = func() time.Time { return time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC) }
	done := domain.TaskDone
	if _, err := env.Engine.SetTaskPosition(env.Ctx, s.ID, a.ID, engine.TaskPositionOptions{Status: &done, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	per, err := env.Engine.GetDashboard(env.Ctx, "proj-1")
	if err != nil {
		t.Fatal(err)
	}
	if per.AverageCycleTimeDays != 2 {
		t.Fatalf("project cycle time = %v, want 2", per.AverageCycleTimeDays)
	}
	all, err := env.Engine.GetDashboard(env.Ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if all.AverageCycleTimeDays != per.AverageCycleTimeDays {
		t.Fatalf("unfiltered cycle time = %v, want %v", all.AverageCycleTimeDays, per.AverageCycleTimeDays)
	}
}
