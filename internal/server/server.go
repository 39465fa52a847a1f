package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"sprintline/internal/domain"
	"sprintline/internal/engine"
	"sprintline/internal/engine/auth"
	"sprintline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"scope_locked"`
	Message string         `json:"message" example:"sprint scope is locked"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Sprintline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope above.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Sprintline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerSprints(group, cfg.Engine)
	registerMembership(group, cfg.Engine)
	registerBacklog(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerRBAC(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.DevLoginEnabled {
		registerDevAuth(group, cfg.Auth)
	}
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	var ite engine.InvalidTransitionError
	if errors.As(err, &ite) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"sprint_id": ite.SprintID,
			"from":      ite.From,
			"action":    ite.Action,
		})
	}
	var sle engine.ScopeLockedError
	if errors.As(err, &sle) {
		return newAPIError(http.StatusConflict, "scope_locked", "sprint scope is locked, unlock the sprint scope first", map[string]any{
			"sprint_id": sle.SprintID,
			"reason":    sle.Reason,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusBadRequest, "validation", err.Error(), details)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

func requirePermission(ctx context.Context, e engine.Engine, projectID, perm string) error {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return authErr
	}
	if hasPermission(principal.Permissions, perm) {
		return nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ok, err := e.Auth.ActorHasPermission(ctx, tx, projectID, principal.ActorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ForbiddenError{Permission: perm}
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Sprintline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, input.Body.ID, input.Body.Code, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "project.read"); err != nil {
			return nil, handleError(err)
		}
		p, err := e.Repo.GetProject(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerSprints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-sprint",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/sprints",
		Summary:       "Create sprint",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		Body      CreateSprintRequest `json:"body"`
	}) (*struct {
		Body domain.Sprint `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.create"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateSprint(ctx, engine.SprintCreateOptions{
			ProjectID:        input.ProjectID,
			Name:             input.Body.Name,
			Goal:             input.Body.Goal,
			StartDate:        input.Body.StartDate,
			EndDate:          input.Body.EndDate,
			CapacityPoints:   input.Body.CapacityPoints,
			CapacityHours:    input.Body.CapacityHours,
			DefinitionOfDone: input.Body.DefinitionOfDone,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Sprint `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sprints",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sprints",
		Summary:     "List sprints",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Status    string `query:"status" enum:"planning,active,completed,cancelled"`
	}) (*struct {
		Body SprintListResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.read"); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListSprints(ctx, input.ProjectID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SprintListResponse `json:"body"`
		}{Body: SprintListResponse{Sprints: nonNilSlice(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sprint",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sprints/{sprint_id}",
		Summary:     "Get sprint detail",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		SprintID  string `path:"sprint_id"`
	}) (*struct {
		Body engine.SprintDetail `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.read"); err != nil {
			return nil, handleError(err)
		}
		detail, err := e.GetSprint(ctx, input.SprintID)
		if err != nil {
			return nil, handleError(err)
		}
		detail.Members = nonNilTasks(detail.Members)
		detail.Activity = nonNilSlice(detail.Activity)
		return &struct {
			Body engine.SprintDetail `json:"body"`
		}{Body: detail}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-sprint",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/sprints/{sprint_id}",
		Summary:     "Update sprint fields",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		SprintID  string              `path:"sprint_id"`
		Body      UpdateSprintRequest `json:"body"`
	}) (*struct {
		Body domain.Sprint `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.edit"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.UpdateSprint(ctx, engine.SprintUpdateOptions{
			ID:                 input.SprintID,
			Name:               input.Body.Name,
			Goal:               input.Body.Goal,
			StartDate:          input.Body.StartDate,
			EndDate:            input.Body.EndDate,
			CapacityPoints:     input.Body.CapacityPoints,
			CapacityHours:      input.Body.CapacityHours,
			DefinitionOfDone:   input.Body.DefinitionOfDone,
			Announcements:      input.Body.Announcements,
			RetrospectiveNotes: input.Body.RetrospectiveNotes,
			ReviewNotes:        input.Body.ReviewNotes,
			WhatWentWell:       input.Body.WhatWentWell,
			WhatToImprove:      input.Body.WhatToImprove,
			ActionItems:        input.Body.ActionItems,
			ActorID:            actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Sprint `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-sprint",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/sprints/{sprint_id}",
		Summary:     "Delete sprint",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		SprintID  string `path:"sprint_id"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.delete"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteSprint(ctx, input.SprintID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-sprint",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/transition",
		Summary:     "Run a lifecycle action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		SprintID  string            `path:"sprint_id"`
		Body      TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Sprint `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.edit"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		action, err := engine.ParseAction(input.Body.Action)
		if err != nil {
			return nil, handleError(err)
		}
		s, err := e.TransitionSprint(ctx, input.SprintID, action, engine.TransitionOptions{
			Reason:     input.Body.Reason,
			ExtendedTo: input.Body.ExtendedTo,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Sprint `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sprint-activity",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/activity",
		Summary:     "Sprint activity log",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		SprintID  string `path:"sprint_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.read"); err != nil {
			return nil, handleError(err)
		}
		limit := input.Limit
		if limit <= 0 || limit > 500 {
			limit = 50
		}
		entries, err := e.ListActivity(ctx, input.SprintID, limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: ActivityResponse{Entries: nonNilSlice(entries)}}, nil
	})
}

func registerMembership(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "add-sprint-tasks",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/tasks",
		Summary:     "Add tasks to sprint",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		SprintID  string             `path:"sprint_id"`
		Body      SprintTasksRequest `json:"body"`
	}) (*struct {
		Body domain.Sprint `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.edit"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.AddTasks(ctx, input.SprintID, input.Body.TaskIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Sprint `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-sprint-tasks",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/tasks/remove",
		Summary:     "Remove tasks from sprint",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		SprintID  string             `path:"sprint_id"`
		Body      SprintTasksRequest `json:"body"`
	}) (*struct {
		Body domain.Sprint `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.edit"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.RemoveTasks(ctx, input.SprintID, input.Body.TaskIDs, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Sprint `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sprint-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/tasks",
		Summary:     "List sprint tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		SprintID  string `path:"sprint_id"`
		Status    string `query:"status" enum:"todo,in_progress,in_review,done"`
		GroupBy   string `query:"group_by" enum:"status,priority,type,assignee"`
	}) (*struct {
		Body engine.MembersView `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.read"); err != nil {
			return nil, handleError(err)
		}
		view, err := e.ListMembers(ctx, input.SprintID, input.Status, input.GroupBy)
		if err != nil {
			return nil, handleError(err)
		}
		view.Tasks = nonNilTasks(view.Tasks)
		return &struct {
			Body engine.MembersView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-position",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/sprints/{sprint_id}/tasks/{task_id}",
		Summary:     "Move a sprint task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string              `path:"project_id"`
		SprintID  string              `path:"sprint_id"`
		TaskID    string              `path:"task_id"`
		Body      TaskPositionRequest `json:"body"`
	}) (*struct {
		Body domain.Sprint `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "sprints.edit"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.SetTaskPosition(ctx, input.SprintID, input.TaskID, engine.TaskPositionOptions{
			Order:   input.Body.Order,
			Status:  input.Body.Status,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Sprint `json:"body"`
		}{Body: s}, nil
	})
}

func registerBacklog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-backlog",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/backlog",
		Summary:     "List backlog",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Priority   string `query:"priority" enum:"critical,high,medium,low"`
		Type       string `query:"type"`
		AssigneeID string `query:"assignee_id"`
		Search     string `query:"search"`
		Sort       string `query:"sort" enum:"backlog_order,priority,created_at,story_points"`
		Page       int    `query:"page" default:"1"`
		PerPage    int    `query:"per_page" default:"50"`
	}) (*struct {
		Body engine.BacklogView `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "backlog.read"); err != nil {
			return nil, handleError(err)
		}
		view, err := e.ListBacklog(ctx, repo.BacklogFilters{
			ProjectID:  input.ProjectID,
			Priority:   input.Priority,
			Type:       input.Type,
			AssigneeID: input.AssigneeID,
			Search:     input.Search,
			Sort:       input.Sort,
			Page:       input.Page,
			PerPage:    input.PerPage,
		})
		if err != nil {
			return nil, handleError(err)
		}
		view.Tasks = nonNilTasks(view.Tasks)
		return &struct {
			Body engine.BacklogView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-backlog-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/backlog",
		Summary:       "Create backlog task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      CreateBacklogTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "backlog.edit"); err != nil {
			return nil, handleError(err)
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:             input.Body.ID,
			ProjectID:      input.ProjectID,
			Title:          input.Body.Title,
			Priority:       input.Body.Priority,
			Type:           input.Body.Type,
			StoryPoints:    input.Body.StoryPoints,
			EstimatedHours: input.Body.EstimatedHours,
			AssigneeID:     input.Body.AssigneeID,
			BacklogOrder:   input.Body.BacklogOrder,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-backlog",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/backlog/reorder",
		Summary:     "Reorder backlog",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      ReorderBacklogRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "backlog.edit"); err != nil {
			return nil, handleError(err)
		}
		if err := e.ReorderBacklog(ctx, input.Body.Items); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bulk-backlog",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/backlog/bulk",
		Summary:     "Bulk backlog operation",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string             `path:"project_id"`
		Body      BulkBacklogRequest `json:"body"`
	}) (*struct {
		Body engine.BulkResult `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "backlog.edit"); err != nil {
			return nil, handleError(err)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.BulkOperation(ctx, input.Body.Action, input.Body.TaskIDs, engine.BulkParams{
			SprintID:    input.Body.Params.SprintID,
			Priority:    input.Body.Params.Priority,
			AssigneeID:  input.Body.Params.AssigneeID,
			StoryPoints: input.Body.Params.StoryPoints,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.BulkResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	handler := func(ctx context.Context, projectID string) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, projectID, "dashboard.read"); err != nil {
			return nil, handleError(err)
		}
		d, err := e.GetDashboard(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Dashboard `json:"body"`
		}{Body: d}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "project-dashboard",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/dashboard",
		Summary:     "Project dashboard",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		return handler(ctx, input.ProjectID)
	})

	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Cross-project dashboard",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.Dashboard `json:"body"`
	}, error) {
		return handler(ctx, "")
	})
}

func registerRBAC(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "grant-role",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/rbac/roles/grant",
		Summary:     "Grant role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "project.create"); err != nil {
			return nil, handleError(err)
		}
		if err := grantRole(ctx, e, input.ProjectID, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "revoke-role",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/rbac/roles/revoke",
		Summary:     "Revoke role",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, "project.create"); err != nil {
			return nil, handleError(err)
		}
		if err := revokeRole(ctx, e, input.ProjectID, input.Body.ActorID, input.Body.RoleID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func grantRole(ctx context.Context, e engine.Engine, projectID, actorID, roleID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Auth.EnsureActor(ctx, tx, actorID); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func revokeRole(ctx context.Context, e engine.Engine, projectID, actorID, roleID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	return tx.Commit()
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "whoami",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/me/permissions",
		Summary:     "Current actor permissions",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		roles, err := e.Auth.ActorRoles(ctx, tx, input.ProjectID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		perms, err := e.Auth.ActorPermissions(ctx, tx, input.ProjectID, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     principal.ActorID,
			Roles:       nonNilSlice(roles),
			Permissions: nonNilSlice(perms),
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.Permissions, authCfg.TokenTTL)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}
