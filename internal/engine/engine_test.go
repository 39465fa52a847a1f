package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sprintline/internal/config"
	"sprintline/internal/db"
	"sprintline/internal/domain"
	"sprintline/internal/engine"
	"sprintline/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateProject(ctx, "proj-1", "PROJ", "Project One", "tester"); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mustSprint(t *testing.T, env testEnv, name string) domain.Sprint {
	t.Helper()
	s, err := env.Engine.CreateSprint(env.Ctx, engine.SprintCreateOptions{
		ProjectID: "proj-1",
		Name:      name,
		StartDate: "2026-03-01",
		EndDate:   "2026-03-14",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create sprint: %v", err)
	}
	return s
}

func mustTask(t *testing.T, env testEnv, title string, points int) domain.Task {
	t.Helper()
	tk, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:   "proj-1",
		Title:       title,
		StoryPoints: &points,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return tk
}

func transition(t *testing.T, env testEnv, id string, action engine.Action) domain.Sprint {
	t.Helper()
	s, err := env.Engine.TransitionSprint(env.Ctx, id, action, engine.TransitionOptions{ActorID: "tester"})
	if err != nil {
		t.Fatalf("%s: %v", action, err)
	}
	return s
}

func TestSprintLifecycleHappyPath(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	if s.Status != domain.SprintPlanning {
		t.Fatalf("new sprint status = %s", s.Status)
	}
	s = transition(t, env, s.ID, engine.ActionStart)
	if s.Status != domain.SprintActive || s.ActualStartDate == nil {
		t.Fatalf("after start: status=%s actual_start=%v", s.Status, s.ActualStartDate)
	}
	s = transition(t, env, s.ID, engine.ActionComplete)
	if s.Status != domain.SprintCompleted || s.ActualEndDate == nil {
		t.Fatalf("after complete: status=%s actual_end=%v", s.Status, s.ActualEndDate)
	}
	if s.Velocity == nil {
		t.Fatalf("velocity not snapshotted at completion")
	}
}

func TestInvalidTransitionsChangeNothing(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")

	// complete requires active
	_, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionComplete, engine.TransitionOptions{ActorID: "tester"})
	var ite engine.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	// pause requires active
	if _, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionPause, engine.TransitionOptions{ActorID: "tester"}); err == nil {
		t.Fatalf("expected pause from planning to fail")
	}
	got, err := env.Engine.Repo.GetSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.SprintPlanning || got.ActualEndDate != nil {
		t.Fatalf("failed transition mutated state: %+v", got)
	}

	// terminal sprints accept no action at all
	transition(t, env, s.ID, engine.ActionStart)
	transition(t, env, s.ID, engine.ActionComplete)
	for _, a := range []engine.Action{engine.ActionStart, engine.ActionPause, engine.ActionResume, engine.ActionExtend, engine.ActionLockScope, engine.ActionComplete, engine.ActionCancel} {
		if _, err := env.Engine.TransitionSprint(env.Ctx, s.ID, a, engine.TransitionOptions{ExtendedTo: "2026-03-20", ActorID: "tester"}); err == nil {
			t.Fatalf("action %s allowed on completed sprint", a)
		}
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	transition(t, env, s.ID, engine.ActionStart)
	s, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionPause, engine.TransitionOptions{Reason: "holiday", ActorID: "tester"})
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if s.PausedAt == nil || s.PauseReason == nil || *s.PauseReason != "holiday" {
		t.Fatalf("pause not recorded: %+v", s)
	}
	if s.Status != domain.SprintActive {
		t.Fatalf("pause must not change status, got %s", s.Status)
	}
	s = transition(t, env, s.ID, engine.ActionResume)
	if s.PausedAt != nil || s.PauseReason != nil {
		t.Fatalf("resume did not clear pause: %+v", s)
	}
}

func TestExtendValidation(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	if _, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionExtend, engine.TransitionOptions{ActorID: "tester"}); err == nil {
		t.Fatalf("extend without date should fail")
	}
	if _, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionExtend, engine.TransitionOptions{ExtendedTo: "2026-03-10", ActorID: "tester"}); err == nil {
		t.Fatalf("extend before end_date should fail")
	}
	s, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionExtend, engine.TransitionOptions{ExtendedTo: "2026-03-21", Reason: "spillover", ActorID: "tester"})
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if s.ExtendedTo == nil || *s.ExtendedTo != "2026-03-21" {
		t.Fatalf("extended_to not set: %+v", s)
	}
}

func TestCommittedPointsFollowMembership(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	b := mustTask(t, env, "b", 5)
	c := mustTask(t, env, "c", 2)

	s, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID, b.ID, c.ID}, "tester")
	if err != nil {
		t.Fatalf("add tasks: %v", err)
	}
	if s.CommittedPoints != 10 {
		t.Fatalf("committed = %d, want 10", s.CommittedPoints)
	}
	s, err = env.Engine.RemoveTasks(env.Ctx, s.ID, []string{c.ID}, "tester")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if s.CommittedPoints != 8 {
		t.Fatalf("committed after remove = %d, want 8", s.CommittedPoints)
	}
	// removing again is a no-op
	s, err = env.Engine.RemoveTasks(env.Ctx, s.ID, []string{c.ID}, "tester")
	if err != nil || s.CommittedPoints != 8 {
		t.Fatalf("idempotent remove: committed=%d err=%v", s.CommittedPoints, err)
	}
	// unknown ids are skipped, known ones applied
	s, err = env.Engine.AddTasks(env.Ctx, s.ID, []string{"nope", c.ID}, "tester")
	if err != nil {
		t.Fatalf("add with unknown id: %v", err)
	}
	if s.CommittedPoints != 10 {
		t.Fatalf("committed after re-add = %d, want 10", s.CommittedPoints)
	}
}

func TestDoneStatusDrivesCompletedPoints(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	b := mustTask(t, env, "b", 5)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID, b.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	transition(t, env, s.ID, engine.ActionStart)

	done := domain.TaskDone
	s, err := env.Engine.SetTaskPosition(env.Ctx, s.ID, a.ID, engine.TaskPositionOptions{Status: &done, ActorID: "tester"})
	if err != nil {
		t.Fatalf("move to done: %v", err)
	}
	if s.CompletedPoints != 3 {
		t.Fatalf("completed = %d, want 3", s.CompletedPoints)
	}
	// back to todo drops the points again
	todo := domain.TaskTodo
	s, err = env.Engine.SetTaskPosition(env.Ctx, s.ID, a.ID, engine.TaskPositionOptions{Status: &todo, ActorID: "tester"})
	if err != nil {
		t.Fatalf("move to todo: %v", err)
	}
	if s.CompletedPoints != 0 {
		t.Fatalf("completed after revert = %d, want 0", s.CompletedPoints)
	}
}

func TestScopeLockRejectsMembershipChanges(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionLockScope, engine.TransitionOptions{Reason: "mid-sprint", ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}

	b := mustTask(t, env, "b", 5)
	_, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{b.ID}, "tester")
	var sle engine.ScopeLockedError
	if !errors.As(err, &sle) {
		t.Fatalf("expected scope lock error, got %v", err)
	}
	if _, err := env.Engine.RemoveTasks(env.Ctx, s.ID, []string{a.ID}, "tester"); !errors.As(err, &sle) {
		t.Fatalf("remove under lock: %v", err)
	}
	got, err := env.Engine.Repo.GetSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CommittedPoints != 3 {
		t.Fatalf("membership changed under lock: committed=%d", got.CommittedPoints)
	}

	// unlock restores mutation
	transition(t, env, s.ID, engine.ActionUnlockScope)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{b.ID}, "tester"); err != nil {
		t.Fatalf("add after unlock: %v", err)
	}
}

func TestCancelReturnsTasksToBacklog(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	b := mustTask(t, env, "b", 5)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID, b.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	s, err := env.Engine.TransitionSprint(env.Ctx, s.ID, engine.ActionCancel, engine.TransitionOptions{Reason: "replanned", ActorID: "tester"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if s.Status != domain.SprintCancelled || s.CommittedPoints != 0 {
		t.Fatalf("after cancel: status=%s committed=%d", s.Status, s.CommittedPoints)
	}
	view, err := env.Engine.ListBacklog(env.Ctx, backlogFilters("proj-1"))
	if err != nil {
		t.Fatal(err)
	}
	if view.Summary.Total != 2 {
		t.Fatalf("backlog total = %d, want 2", view.Summary.Total)
	}
}

func TestCompleteSnapshotsVelocityAndFreezesSprint(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	capacity := 20
	if _, err := env.Engine.UpdateSprint(env.Ctx, engine.SprintUpdateOptions{ID: s.ID, CapacityPoints: &capacity, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	a := mustTask(t, env, "a", 3)
	b := mustTask(t, env, "b", 5)
	c := mustTask(t, env, "c", 2)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID, b.ID, c.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	transition(t, env, s.ID, engine.ActionStart)
	done := domain.TaskDone
	for _, id := range []string{a.ID, b.ID} {
		if _, err := env.Engine.SetTaskPosition(env.Ctx, s.ID, id, engine.TaskPositionOptions{Status: &done, ActorID: "tester"}); err != nil {
			t.Fatal(err)
		}
	}
	s = transition(t, env, s.ID, engine.ActionComplete)
	if s.CommittedPoints != 10 || s.CompletedPoints != 8 {
		t.Fatalf("totals at completion: committed=%d completed=%d", s.CommittedPoints, s.CompletedPoints)
	}
	if s.Velocity == nil || *s.Velocity != 8 {
		t.Fatalf("velocity = %v, want 8", s.Velocity)
	}
	// frozen: membership mutations now fail
	d := mustTask(t, env, "d", 1)
	var ite engine.InvalidTransitionError
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{d.ID}, "tester"); !errors.As(err, &ite) {
		t.Fatalf("expected frozen sprint, got %v", err)
	}
}

func TestSoftDeletedTasksLeaveTotals(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	b := mustTask(t, env, "b", 5)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID, b.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.BulkOperation(env.Ctx, "delete", []string{b.ID}, engine.BulkParams{}, "tester"); err != nil {
		t.Fatal(err)
	}
	// totals are re-derived on the next membership write
	c := mustTask(t, env, "c", 1)
	s, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{c.ID}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if s.CommittedPoints != 4 {
		t.Fatalf("committed = %d, want 4 (deleted task excluded)", s.CommittedPoints)
	}
	detail, err := env.Engine.GetSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(detail.Members))
	}
}

func TestMoveNonMemberIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	loose := mustTask(t, env, "loose", 5)
	done := domain.TaskDone
	got, err := env.Engine.SetTaskPosition(env.Ctx, s.ID, loose.ID, engine.TaskPositionOptions{Status: &done, ActorID: "tester"})
	if err != nil {
		t.Fatalf("move non-member: %v", err)
	}
	if got.CompletedPoints != 0 {
		t.Fatalf("non-member move mutated totals: %+v", got)
	}
	tk, err := env.Engine.Repo.GetTask(env.Ctx, loose.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tk.Status != domain.TaskTodo {
		t.Fatalf("non-member task status changed to %s", tk.Status)
	}
}

func TestActivityLogRecordsEveryMutation(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	transition(t, env, s.ID, engine.ActionStart)
	entries, err := env.Engine.ListActivity(env.Ctx, s.ID, 50)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"created": false, "task_added": false, "started": false}
	for _, e := range entries {
		if _, ok := want[e.Action]; ok {
			want[e.Action] = true
		}
	}
	for action, seen := range want {
		if !seen {
			t.Fatalf("missing %q activity entry", action)
		}
	}
}

func TestSprintDetailSummary(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	b := mustTask(t, env, "b", 5)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID, b.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	done := domain.TaskDone
	if _, err := env.Engine.SetTaskPosition(env.Ctx, s.ID, a.ID, engine.TaskPositionOptions{Status: &done, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	detail, err := env.Engine.GetSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if detail.Summary.Total != 2 || detail.Summary.TotalPoints != 8 || detail.Summary.CompletedPoints != 3 {
		t.Fatalf("summary: %+v", detail.Summary)
	}
	if detail.Summary.ByStatus[domain.TaskDone] != 1 || detail.Summary.ByStatus[domain.TaskTodo] != 1 {
		t.Fatalf("by_status: %v", detail.Summary.ByStatus)
	}
}

func TestDeleteSprintReturnsTasks(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteSprint(env.Ctx, s.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	tk, err := env.Engine.Repo.GetTask(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tk.SprintID != nil {
		t.Fatalf("task still attached after sprint delete")
	}
	if _, err := env.Engine.GetSprint(env.Ctx, s.ID); err == nil {
		t.Fatalf("sprint still readable after delete")
	}
}

func TestActivityTimestampsUseEngineClock(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustTask(t, env, "a", 3)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{a.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	entries, err := env.Engine.ListActivity(env.Ctx, s.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 {
		t.Fatal("no activity entries")
	}
	for _, entry := range entries {
		if entry.CreatedAt != "2026-03-01T00:00:00Z" {
			t.Fatalf("%s created_at = %q, want the fixed clock", entry.Action, entry.CreatedAt)
		}
	}
}
