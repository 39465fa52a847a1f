package app

import (
	"context"
	"errors"
	"fmt"

	"sprintline/internal/engine"
	"sprintline/internal/repo"
)

// ResolveProject picks the active project for a CLI invocation. It
// prefers the --project override, then the single project in the DB. A
// project named by the override that does not exist yet is created on
// the fly with the RBAC footprint seeded for the acting user.
func ResolveProject(ctx context.Context, e engine.Engine, projectOverride, actorID string) (string, error) {
	projectID := projectOverride
	if projectID == "" {
		p, err := e.Repo.SingleProject(ctx)
		if err != nil {
			return "", fmt.Errorf("project not specified; use --project")
		}
		return p.ID, nil
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", err
		}
		if actorID == "" {
			actorID = "local-user"
		}
		if _, err := e.CreateProject(ctx, projectID, projectID, projectID, actorID); err != nil {
			return "", fmt.Errorf("create project: %w", err)
		}
	}
	return projectID, nil
}
