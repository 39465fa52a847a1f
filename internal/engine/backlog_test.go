package engine_test

import (
	"errors"
	"testing"

	"sprintline/internal/domain"
	"sprintline/internal/engine"
	"sprintline/internal/repo"
)

func backlogFilters(projectID string) repo.BacklogFilters {
	return repo.BacklogFilters{ProjectID: projectID}
}

func mustBacklogTask(t *testing.T, env testEnv, title, priority string, points *int, order int) domain.Task {
	t.Helper()
	tk, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:    "proj-1",
		Title:        title,
		Priority:     priority,
		StoryPoints:  points,
		BacklogOrder: order,
	})
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return tk
}

func intp(v int) *int { return &v }

func TestBacklogPrioritySort(t *testing.T) {
	env := newTestEnv(t)
	// equal backlog_order, priorities deliberately out of rank order
	low := mustBacklogTask(t, env, "low", domain.PriorityLow, intp(1), 0)
	crit := mustBacklogTask(t, env, "crit", domain.PriorityCritical, intp(2), 0)
	med := mustBacklogTask(t, env, "med", domain.PriorityMedium, intp(3), 0)

	view, err := env.Engine.ListBacklog(env.Ctx, repo.BacklogFilters{ProjectID: "proj-1", Sort: "priority"})
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(view.Tasks))
	}
	want := []string{crit.ID, med.ID, low.ID}
	for i, id := range want {
		if view.Tasks[i].ID != id {
			t.Fatalf("position %d = %s, want %s", i, view.Tasks[i].Title, id)
		}
	}
}

func TestBacklogExcludesAssignedAndDone(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	assigned := mustBacklogTask(t, env, "assigned", domain.PriorityHigh, intp(5), 0)
	free := mustBacklogTask(t, env, "free", domain.PriorityHigh, nil, 1)
	if _, err := env.Engine.AddTasks(env.Ctx, s.ID, []string{assigned.ID}, "tester"); err != nil {
		t.Fatal(err)
	}
	view, err := env.Engine.ListBacklog(env.Ctx, backlogFilters("proj-1"))
	if err != nil {
		t.Fatal(err)
	}
	if view.Summary.Total != 1 || view.Tasks[0].ID != free.ID {
		t.Fatalf("backlog = %+v", view.Summary)
	}
	if view.Summary.Unestimated != 1 || view.Summary.Unassigned != 1 {
		t.Fatalf("summary counts: %+v", view.Summary)
	}
}

func TestBacklogFiltersAndSearch(t *testing.T) {
	env := newTestEnv(t)
	mustBacklogTask(t, env, "fix login flow", domain.PriorityHigh, intp(3), 0)
	mustBacklogTask(t, env, "fix logout flow", domain.PriorityLow, intp(2), 1)
	mustBacklogTask(t, env, "write docs", domain.PriorityHigh, nil, 2)

	view, err := env.Engine.ListBacklog(env.Ctx, repo.BacklogFilters{ProjectID: "proj-1", Priority: domain.PriorityHigh})
	if err != nil {
		t.Fatal(err)
	}
	if view.Summary.Total != 2 {
		t.Fatalf("priority filter total = %d, want 2", view.Summary.Total)
	}
	view, err = env.Engine.ListBacklog(env.Ctx, repo.BacklogFilters{ProjectID: "proj-1", Search: "fix log"})
	if err != nil {
		t.Fatal(err)
	}
	if view.Summary.Total != 2 || view.Summary.TotalPoints != 5 {
		t.Fatalf("search summary: %+v", view.Summary)
	}
	view, err = env.Engine.ListBacklog(env.Ctx, repo.BacklogFilters{ProjectID: "proj-1", Priority: domain.PriorityHigh, Search: "docs"})
	if err != nil {
		t.Fatal(err)
	}
	if view.Summary.Total != 1 || view.Tasks[0].Title != "write docs" {
		t.Fatalf("combined filters: %+v", view.Summary)
	}
}

func TestBacklogSummaryCoversWholeSetNotPage(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		mustBacklogTask(t, env, "t", domain.PriorityMedium, intp(2), i)
	}
	view, err := env.Engine.ListBacklog(env.Ctx, repo.BacklogFilters{ProjectID: "proj-1", Page: 1, PerPage: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Tasks) != 2 {
		t.Fatalf("page size = %d, want 2", len(view.Tasks))
	}
	if view.Summary.Total != 5 || view.Summary.TotalPoints != 10 {
		t.Fatalf("summary over whole set: %+v", view.Summary)
	}
}

func TestReorderUnknownIDFails(t *testing.T) {
	env := newTestEnv(t)
	a := mustBacklogTask(t, env, "a", domain.PriorityMedium, nil, 0)
	err := env.Engine.ReorderBacklog(env.Ctx, []engine.ReorderItem{
		{ID: a.ID, BacklogOrder: 7},
		{ID: "missing", BacklogOrder: 8},
	})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
	// the write before the failure persists
	tk, err := env.Engine.Repo.GetTask(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tk.BacklogOrder != 7 {
		t.Fatalf("backlog_order = %d, want 7", tk.BacklogOrder)
	}
}

func TestBulkSetPriority(t *testing.T) {
	env := newTestEnv(t)
	a := mustBacklogTask(t, env, "a", domain.PriorityLow, nil, 0)
	b := mustBacklogTask(t, env, "b", domain.PriorityLow, nil, 1)
	res, err := env.Engine.BulkOperation(env.Ctx, "set_priority", []string{a.ID, "ghost", b.ID}, engine.BulkParams{Priority: domain.PriorityCritical}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 2 || len(res.Skipped) != 1 || res.Skipped[0] != "ghost" {
		t.Fatalf("result: %+v", res)
	}
	tk, _ := env.Engine.Repo.GetTask(env.Ctx, a.ID)
	if tk.Priority != domain.PriorityCritical {
		t.Fatalf("priority = %s", tk.Priority)
	}
}

func TestBulkAssignToSprint(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustBacklogTask(t, env, "a", domain.PriorityMedium, intp(3), 0)
	b := mustBacklogTask(t, env, "b", domain.PriorityMedium, intp(5), 1)
	res, err := env.Engine.BulkOperation(env.Ctx, "assign_to_sprint", []string{a.ID, b.ID}, engine.BulkParams{SprintID: s.ID}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 2 {
		t.Fatalf("applied = %d", res.Applied)
	}
	got, err := env.Engine.Repo.GetSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CommittedPoints != 8 {
		t.Fatalf("committed = %d, want 8", got.CommittedPoints)
	}
}

func TestBulkUnknownActionRejected(t *testing.T) {
	env := newTestEnv(t)
	a := mustBacklogTask(t, env, "a", domain.PriorityMedium, nil, 0)
	_, err := env.Engine.BulkOperation(env.Ctx, "explode", []string{a.ID}, engine.BulkParams{}, "tester")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	tk, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Title: "bare"})
	if err != nil {
		t.Fatal(err)
	}
	if tk.Priority != domain.PriorityMedium || tk.Type != "task" || tk.Status != domain.TaskTodo {
		t.Fatalf("defaults: %+v", tk)
	}
	if tk.ID == "" {
		t.Fatalf("id not generated")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1"}); err == nil {
		t.Fatalf("empty title accepted")
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "nope", Title: "x"}); err == nil {
		t.Fatalf("unknown project accepted")
	}
}

func TestBulkAssignReportsActualAttachments(t *testing.T) {
	env := newTestEnv(t)
	s := mustSprint(t, env, "Sprint 1")
	a := mustBacklogTask(t, env, "a", domain.PriorityMedium, intp(3), 0)
	b := mustBacklogTask(t, env, "b", domain.PriorityMedium, intp(5), 1)
	res, err := env.Engine.BulkOperation(env.Ctx, "assign_to_sprint", []string{a.ID, "ghost", b.ID}, engine.BulkParams{SprintID: s.ID}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 2 {
		t.Fatalf("applied = %d, want 2", res.Applied)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "ghost" {
		t.Fatalf("skipped = %v, want [ghost]", res.Skipped)
	}
	got, err := env.Engine.Repo.GetSprint(env.Ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.CommittedPoints != 8 {
		t.Fatalf("committed = %d, want 8", got.CommittedPoints)
	}
}
