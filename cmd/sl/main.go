package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sprintline/internal/app"
	"sprintline/internal/config"
	"sprintline/internal/db"
	"sprintline/internal/domain"
	"sprintline/internal/engine"
	"sprintline/internal/migrate"
	"sprintline/internal/repo"
	"sprintline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Sprintline CLI",
	Long: `Sprintline manages sprint planning, backlog allocation and delivery metrics.
- Workspace: your .sprintline directory with the database and sprintline.yml.
- Project: owns sprints, the backlog, and RBAC role assignments.
- Sprint: a time-boxed unit of work; planning -> active -> completed/cancelled,
  with pause and scope-lock layered on top.
- Backlog: unassigned, unfinished tasks ranked by priority and backlog order.
- Activity log: the audit trail of every sprint change, 'sl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SPRINTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(backlogCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var code, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if code == "" {
				return fmt.Errorf("--code required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, "", code, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "project code")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Name", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Code, p.Name, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func sprintCmd() *cobra.Command {
	sprint := &cobra.Command{Use: "sprint", Short: "Manage sprints"}
	sprint.AddCommand(sprintCreateCmd())
	sprint.AddCommand(sprintListCmd())
	sprint.AddCommand(sprintShowCmd())
	sprint.AddCommand(sprintUpdateCmd())
	sprint.AddCommand(sprintDeleteCmd())
	sprint.AddCommand(transitionCmd("start", engine.ActionStart, "Start a sprint"))
	sprint.AddCommand(transitionCmd("pause", engine.ActionPause, "Pause an active sprint"))
	sprint.AddCommand(transitionCmd("resume", engine.ActionResume, "Resume a paused sprint"))
	sprint.AddCommand(sprintExtendCmd())
	sprint.AddCommand(transitionCmd("lock", engine.ActionLockScope, "Lock sprint scope"))
	sprint.AddCommand(transitionCmd("unlock", engine.ActionUnlockScope, "Unlock sprint scope"))
	sprint.AddCommand(transitionCmd("complete", engine.ActionComplete, "Complete a sprint"))
	sprint.AddCommand(transitionCmd("cancel", engine.ActionCancel, "Cancel a sprint"))
	sprint.AddCommand(sprintTasksCmd())
	return sprint
}

func sprintCreateCmd() *cobra.Command {
	var name, goal, start, end, dod string
	var capacityPoints int
	var capacityHours float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create sprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				opts := engine.SprintCreateOptions{
					ProjectID:        projectID,
					Name:             name,
					Goal:             goal,
					StartDate:        start,
					EndDate:          end,
					DefinitionOfDone: dod,
					ActorID:          viper.GetString("actor-id"),
				}
				if cmd.Flags().Changed("capacity-points") {
					opts.CapacityPoints = &capacityPoints
				}
				if cmd.Flags().Changed("capacity-hours") {
					opts.CapacityHours = &capacityHours
				}
				s, err := e.CreateSprint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "sprint name")
	cmd.Flags().StringVar(&goal, "goal", "", "sprint goal")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dod, "definition-of-done", "", "definition of done")
	cmd.Flags().IntVar(&capacityPoints, "capacity-points", 0, "capacity in story points")
	cmd.Flags().Float64Var(&capacityHours, "capacity-hours", 0, "capacity in hours")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func sprintListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				items, err := e.ListSprints(ctx, projectID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Start", "End", "Committed", "Completed"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, sprintStatusLabel(s), s.StartDate, s.EndDate, s.CommittedPoints, s.CompletedPoints})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (planning|active|completed|cancelled)")
	return cmd
}

func sprintStatusLabel(s domain.Sprint) string {
	label := s.Status
	if s.PausedAt != nil {
		label += " (paused)"
	}
	if s.ScopeLocked {
		label += " (locked)"
	}
	return label
}

func sprintShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <sprint-id>",
		Short: "Show sprint detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				detail, err := e.GetSprint(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(detail)
			})
		},
	}
}

func sprintUpdateCmd() *cobra.Command {
	var name, goal, start, end, dod, announcements, retro, review, well, improve, actions string
	var capacityPoints int
	var capacityHours float64
	cmd := &cobra.Command{
		Use:   "update <sprint-id>",
		Short: "Update sprint fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.SprintUpdateOptions{ID: args[0], ActorID: viper.GetString("actor-id")}
				set := func(flag string, dst **string, v *string) {
					if cmd.Flags().Changed(flag) {
						*dst = v
					}
				}
				set("name", &opts.Name, &name)
				set("goal", &opts.Goal, &goal)
				set("start", &opts.StartDate, &start)
				set("end", &opts.EndDate, &end)
				set("definition-of-done", &opts.DefinitionOfDone, &dod)
				set("announcements", &opts.Announcements, &announcements)
				set("retrospective-notes", &opts.RetrospectiveNotes, &retro)
				set("review-notes", &opts.ReviewNotes, &review)
				set("what-went-well", &opts.WhatWentWell, &well)
				set("what-to-improve", &opts.WhatToImprove, &improve)
				set("action-items", &opts.ActionItems, &actions)
				if cmd.Flags().Changed("capacity-points") {
					opts.CapacityPoints = &capacityPoints
				}
				if cmd.Flags().Changed("capacity-hours") {
					opts.CapacityHours = &capacityHours
				}
				s, err := e.UpdateSprint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "sprint name")
	cmd.Flags().StringVar(&goal, "goal", "", "sprint goal")
	cmd.Flags().StringVar(&start, "start", "", "start date")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	cmd.Flags().StringVar(&dod, "definition-of-done", "", "definition of done")
	cmd.Flags().StringVar(&announcements, "announcements", "", "announcements")
	cmd.Flags().StringVar(&retro, "retrospective-notes", "", "retrospective notes")
	cmd.Flags().StringVar(&review, "review-notes", "", "review notes")
	cmd.Flags().StringVar(&well, "what-went-well", "", "retrospective: what went well")
	cmd.Flags().StringVar(&improve, "what-to-improve", "", "retrospective: what to improve")
	cmd.Flags().StringVar(&actions, "action-items", "", "retrospective action items")
	cmd.Flags().IntVar(&capacityPoints, "capacity-points", 0, "capacity in story points")
	cmd.Flags().Float64Var(&capacityHours, "capacity-hours", 0, "capacity in hours")
	return cmd
}

func sprintDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <sprint-id>",
		Short: "Delete sprint (tasks return to backlog)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteSprint(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func transitionCmd(use string, action engine.Action, short string) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <sprint-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.TransitionSprint(ctx, args[0], action, engine.TransitionOptions{
					Reason:  reason,
					ActorID: viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the action")
	return cmd
}

func sprintExtendCmd() *cobra.Command {
	var to, reason string
	cmd := &cobra.Command{
		Use:   "extend <sprint-id>",
		Short: "Extend a sprint's end date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.TransitionSprint(ctx, args[0], engine.ActionExtend, engine.TransitionOptions{
					Reason:     reason,
					ExtendedTo: to,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "new end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason for the extension")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func sprintTasksCmd() *cobra.Command {
	tasks := &cobra.Command{Use: "tasks", Short: "Manage sprint task membership"}
	tasks.AddCommand(sprintTasksAddCmd())
	tasks.AddCommand(sprintTasksRemoveCmd())
	tasks.AddCommand(sprintTasksMoveCmd())
	tasks.AddCommand(sprintTasksListCmd())
	return tasks
}

func sprintTasksAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <sprint-id> <task-id>...",
		Short: "Add tasks to a sprint",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddTasks(ctx, args[0], args[1:], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func sprintTasksRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <sprint-id> <task-id>...",
		Short: "Return tasks to the backlog",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RemoveTasks(ctx, args[0], args[1:], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
}

func sprintTasksMoveCmd() *cobra.Command {
	var order int
	var status string
	cmd := &cobra.Command{
		Use:   "move <sprint-id> <task-id>",
		Short: "Move a sprint task (order and/or status)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.TaskPositionOptions{ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("order") {
					opts.Order = &order
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				s, err := e.SetTaskPosition(ctx, args[0], args[1], opts)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}
	cmd.Flags().IntVar(&order, "order", 0, "new order index")
	cmd.Flags().StringVar(&status, "status", "", "new status (todo|in_progress|in_review|done)")
	return cmd
}

func sprintTasksListCmd() *cobra.Command {
	var status, groupBy string
	cmd := &cobra.Command{
		Use:   "list <sprint-id>",
		Short: "List sprint tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.ListMembers(ctx, args[0], status, groupBy)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Points", "Assignee"})
				for _, t := range view.Tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, intOrDash(t.StoryPoints), strOrDash(t.AssigneeID)})
				}
				tw.Render()
				fmt.Printf("total=%d points=%d completed=%d blocked=%d\n",
					view.Summary.Total, view.Summary.TotalPoints, view.Summary.CompletedPoints, view.Summary.BlockedCount)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&groupBy, "group-by", "", "group by status|priority|type|assignee")
	return cmd
}

func backlogCmd() *cobra.Command {
	backlog := &cobra.Command{Use: "backlog", Short: "Manage the product backlog"}
	backlog.AddCommand(backlogListCmd())
	backlog.AddCommand(backlogAddCmd())
	backlog.AddCommand(backlogReorderCmd())
	backlog.AddCommand(backlogBulkCmd())
	return backlog
}

func backlogListCmd() *cobra.Command {
	var f repo.BacklogFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backlog items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				f.ProjectID = projectID
				view, err := e.ListBacklog(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Points", "Assignee"})
				for _, t := range view.Tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Priority, intOrDash(t.StoryPoints), strOrDash(t.AssigneeID)})
				}
				tw.Render()
				s := view.Summary
				fmt.Printf("total=%d critical=%d high=%d medium=%d low=%d unestimated=%d unassigned=%d points=%d\n",
					s.Total, s.Critical, s.High, s.Medium, s.Low, s.Unestimated, s.Unassigned, s.TotalPoints)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().StringVar(&f.Search, "search", "", "title search")
	cmd.Flags().StringVar(&f.Sort, "sort", "backlog_order", "sort: backlog_order|priority|created_at|story_points")
	cmd.Flags().IntVar(&f.Page, "page", 1, "page")
	cmd.Flags().IntVar(&f.PerPage, "per-page", 50, "page size")
	return cmd
}

func backlogAddCmd() *cobra.Command {
	var title, priority, taskType, assignee string
	var points int
	var hours float64
	var order int
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to the backlog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				opts := engine.TaskCreateOptions{
					ProjectID:    projectID,
					Title:        title,
					Priority:     priority,
					Type:         taskType,
					BacklogOrder: order,
				}
				if cmd.Flags().Changed("points") {
					opts.StoryPoints = &points
				}
				if cmd.Flags().Changed("hours") {
					opts.EstimatedHours = &hours
				}
				if assignee != "" {
					opts.AssigneeID = &assignee
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&priority, "priority", "", "critical|high|medium|low")
	cmd.Flags().StringVar(&taskType, "type", "", "task type")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "assignee")
	cmd.Flags().IntVar(&points, "points", 0, "story points")
	cmd.Flags().Float64Var(&hours, "hours", 0, "estimated hours")
	cmd.Flags().IntVar(&order, "order", 0, "backlog order")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func backlogReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <task-id=order>...",
		Short: "Rewrite backlog order for the listed tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items := make([]engine.ReorderItem, 0, len(args))
			for _, arg := range args {
				parts := strings.SplitN(arg, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid %q, want task-id=order", arg)
				}
				var order int
				if _, err := fmt.Sscanf(parts[1], "%d", &order); err != nil {
					return fmt.Errorf("invalid order in %q", arg)
				}
				items = append(items, engine.ReorderItem{ID: parts[0], BacklogOrder: order})
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.ReorderBacklog(ctx, items)
			})
		},
	}
}

func backlogBulkCmd() *cobra.Command {
	var action, sprintID, priority, assignee string
	var points int
	cmd := &cobra.Command{
		Use:   "bulk <task-id>...",
		Short: "Apply one action to many backlog tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				params := engine.BulkParams{SprintID: sprintID, Priority: priority}
				if assignee != "" {
					params.AssigneeID = &assignee
				}
				if cmd.Flags().Changed("points") {
					params.StoryPoints = &points
				}
				res, err := e.BulkOperation(ctx, action, args, params, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "assign_to_sprint|set_priority|assign_to_user|set_story_points|delete")
	cmd.Flags().StringVar(&sprintID, "sprint", "", "target sprint (assign_to_sprint)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (set_priority)")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "assignee (assign_to_user)")
	cmd.Flags().IntVar(&points, "points", 0, "story points (set_story_points)")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Cross-sprint dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				d, err := e.GetDashboard(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Sprint activity log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail <sprint-id>",
		Short: "Tail a sprint's activity entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.ListActivity(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Actor", "Action", "Description"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.CreatedAt, entry.ActorID, entry.Action, entry.Description})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "RBAC management"}
	cmd.AddCommand(rbacWhoamiCmd())
	cmd.AddCommand(rbacGrantCmd())
	cmd.AddCommand(rbacRevokeCmd())
	return cmd
}

func rbacWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show current actor roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				actorID := viper.GetString("actor-id")
				roles, err := e.Auth.ActorRoles(ctx, tx, projectID, actorID)
				if err != nil {
					return err
				}
				perms, err := e.Auth.ActorPermissions(ctx, tx, projectID, actorID)
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"actor_id": actorID, "roles": roles, "permissions": perms})
			})
		},
	}
}

func rbacGrantCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "grant-role",
		Short: "Grant role to actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Auth.EnsureActor(ctx, tx, target); err != nil {
					return err
				}
				if err := e.Repo.AssignRole(ctx, tx, projectID, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func rbacRevokeCmd() *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   "revoke-role",
		Short: "Revoke role from actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.RevokeRole(ctx, tx, projectID, target, role); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API key management"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			raw := make([]byte, 24)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			key := "slk_" + hex.EncodeToString(raw)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Auth.EnsureActor(ctx, tx, actor); err != nil {
					return err
				}
				rec := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				}
				if err := e.Repo.InsertAPIKey(ctx, tx, rec); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				return printJSON(map[string]string{"id": rec.ID, "actor_id": actor, "key": key})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSON(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			out, err := c.ToYAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			out, err := config.Default().ToYAML()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, out, 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			secret := os.Getenv("SPRINTLINE_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("SPRINTLINE_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:              secret,
					TokenTTL:               time.Duration(cfg.Auth.TokenTTLMinutes) * time.Minute,
					AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
					DevLoginEnabled:        cfg.Auth.DevLoginEnabled,
				},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Sprintline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withProject(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		projectID, err := app.ResolveProject(ctx, e, viper.GetString("project"), viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, projectID)
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func strOrDash(v *string) string {
	if v == nil || *v == "" {
		return "-"
	}
	return *v
}
