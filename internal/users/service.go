package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/flockadmin/console/internal/rbac"
)

// Directory defines data access methods for users.
type Directory interface {
	rbac.UserDirectory
	ListUsers(ctx context.Context) ([]User, error)
	GetUser(ctx context.Context, id string) (User, error)
	AssignRole(ctx context.Context, id string, role rbac.RoleID) error
}

var (
	_ Directory = (*Repository)(nil)
	_ Directory = (*MemoryDirectory)(nil)
)

// Service handles user management on top of the permission engine.
type Service struct {
	dir      Directory
	perms    *rbac.Service
	resolver *rbac.Resolver
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(dir Directory, perms *rbac.Service, resolver *rbac.Resolver, logger *slog.Logger) *Service {
	return &Service{dir: dir, perms: perms, resolver: resolver, logger: logger}
}

// ListUsers returns all users.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.dir.ListUsers(ctx)
}

// GetUser returns one user.
func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.dir.GetUser(ctx, id)
}

// AssignRole moves a user to another existing role. Resolution reads the
// role at check time, so no cache entry needs dropping.
func (s *Service) AssignRole(ctx context.Context, id string, role rbac.RoleID) error {
	err := s.perms.Registry().AssignRole(ctx, role, func(ctx context.Context) error {
		return s.dir.AssignRole(ctx, id, role)
	})
	if err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("user role assigned", slog.String("user_id", id), slog.String("role_id", string(role)))
	}
	return nil
}

// EffectivePermissions returns the resolved matrix of a user.
func (s *Service) EffectivePermissions(ctx context.Context, id string) (User, rbac.EffectivePermissions, error) {
	user, err := s.dir.GetUser(ctx, id)
	if err != nil {
		return User{}, nil, err
	}
	eff, err := s.resolver.EffectivePermissions(ctx, user.ID, user.RoleID)
	if err != nil {
		return User{}, nil, fmt.Errorf("users: resolve %s: %w", id, err)
	}
	return user, eff, nil
}

// Overrides returns the stored overrides of an existing user.
func (s *Service) Overrides(ctx context.Context, id string) (rbac.UserOverrides, error) {
	if _, err := s.dir.GetUser(ctx, id); err != nil {
		return rbac.UserOverrides{}, err
	}
	return s.perms.UserOverrides(ctx, id)
}

// SaveOverrides replaces the overrides of an existing user.
func (s *Service) SaveOverrides(ctx context.Context, id string, entries []rbac.Override, expectedRevision string) (rbac.UserOverrides, error) {
	if _, err := s.dir.GetUser(ctx, id); err != nil {
		return rbac.UserOverrides{}, err
	}
	return s.perms.SaveUserOverrides(ctx, id, entries, expectedRevision)
}

// RoleName returns the display label of a role.
func (s *Service) RoleName(ctx context.Context, role rbac.RoleID) string {
	return s.perms.DisplayName(ctx, role)
}
