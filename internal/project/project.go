// Package project manages the projects bugs are filed under.
package project

import (
	"context"
	"errors"
	"strings"

	"github.com/joescharf/bugsage/internal/apperr"
	"github.com/joescharf/bugsage/internal/auth"
	"github.com/joescharf/bugsage/internal/models"
	"github.com/joescharf/bugsage/internal/store"
)

// Service creates, edits and looks up projects.
type Service struct {
	store store.Store
}

// NewService returns a project Service.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Create adds a project. Only admins may create projects.
func (s *Service) Create(ctx context.Context, actor models.Identity, name, description string) (*models.Project, error) {
	if err := auth.RequireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("project name is required")
	}
	p := &models.Project{Name: name, Description: strings.TrimSpace(description)}
	if err := s.store.CreateProject(ctx, p); err != nil {
		return nil, apperr.Persistence("create project", err)
	}
	return p, nil
}

// Update renames a project or changes its description. Nil fields are left
// as they are. Only admins may edit projects.
func (s *Service) Update(ctx context.Context, actor models.Identity, ref string, name, description *string) (*models.Project, error) {
	if err := auth.RequireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	p, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return nil, apperr.Validation("project name is required")
		}
		p.Name = n
	}
	if description != nil {
		p.Description = strings.TrimSpace(*description)
	}
	if err := s.store.UpdateProject(ctx, p); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("project %q not found", ref)
		}
		return nil, apperr.Persistence("update project", err)
	}
	return p, nil
}

// Delete removes a project. Its bugs are kept and no longer belong to any
// project. Only admins may delete projects.
func (s *Service) Delete(ctx context.Context, actor models.Identity, ref string) (*models.Project, error) {
	if err := auth.RequireRole(actor, models.RoleAdmin); err != nil {
		return nil, err
	}
	p, err := s.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteProject(ctx, p.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("project %q not found", ref)
		}
		return nil, apperr.Persistence("delete project", err)
	}
	return p, nil
}

// List returns every project with its bug count, ordered by name.
func (s *Service) List(ctx context.Context) ([]*models.Project, error) {
	projects, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, apperr.Persistence("list projects", err)
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	return projects, nil
}

// Resolve finds a project by ID, falling back to an exact name match.
func (s *Service) Resolve(ctx context.Context, ref string) (*models.Project, error) {
	ref = strings.TrimSpace(ref)
	p, err := s.store.GetProject(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Persistence("get project", err)
	}
	p, err = s.store.GetProjectByName(ctx, ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("project %q not found", ref)
		}
		return nil, apperr.Persistence("get project", err)
	}
	return p, nil
}
