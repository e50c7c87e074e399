package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Service is the administration surface of the permission engine. Every
// mutation writes first, invalidates caches second and returns last; a
// failed write leaves caches untouched.
type Service struct {
	roles      RoleStore
	overrides  OverrideStore
	registry   *Registry
	invalidate Invalidator
	logger     *slog.Logger
}

// NewService constructs a Service.
func NewService(roles RoleStore, overrides OverrideStore, registry *Registry, invalidate Invalidator, logger *slog.Logger) *Service {
	if invalidate == nil {
		invalidate = Invalidators{}
	}
	return &Service{roles: roles, overrides: overrides, registry: registry, invalidate: invalidate, logger: logger}
}

// Registry exposes the role catalogue.
func (s *Service) Registry() *Registry {
	return s.registry
}

// ListRoles returns role identifiers in catalogue order.
func (s *Service) ListRoles(ctx context.Context) ([]RoleID, error) {
	return s.registry.ListRoles(ctx)
}

// Roles returns catalogue entries in catalogue order.
func (s *Service) Roles(ctx context.Context) ([]RoleDescriptor, error) {
	return s.registry.Roles(ctx)
}

// DisplayName returns the human label of a role.
func (s *Service) DisplayName(ctx context.Context, id RoleID) string {
	return s.registry.DisplayName(ctx, id)
}

// RolePermissions returns the current matrix of an existing role, read from
// the store rather than the cache.
func (s *Service) RolePermissions(ctx context.Context, id RoleID) (RolePermissionSet, error) {
	if err := s.requireRole(ctx, id); err != nil {
		return nil, err
	}
	set, err := s.registry.RolePermissions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("rbac: load permissions of %s: %w", id, err)
	}
	return set.Clone(), nil
}

// SaveRolePermissions replaces the matrix of an existing role.
func (s *Service) SaveRolePermissions(ctx context.Context, id RoleID, set RolePermissionSet) error {
	if err := set.Validate(); err != nil {
		return err
	}
	if err := s.requireRole(ctx, id); err != nil {
		return err
	}
	if err := s.roles.SaveRolePermissions(ctx, id, set.Clone()); err != nil {
		return fmt.Errorf("rbac: save permissions of %s: %w", id, err)
	}
	s.invalidate.Invalidate(ctx, RoleInvalidation(id))
	s.logInfo("rbac role permissions saved", slog.String("role_id", string(id)), slog.Int("modules", len(set)))
	return nil
}

// ResetRoleToDefault restores the shipped matrix of a built-in role.
func (s *Service) ResetRoleToDefault(ctx context.Context, id RoleID) error {
	defaults, ok := DefaultPermissions(id)
	if !ok {
		exists, err := s.registry.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("rbac: load role %s: %w", id, err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrNoDefaultForCustomRole, id)
		}
		return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if err := s.roles.SaveRolePermissions(ctx, id, defaults); err != nil {
		return fmt.Errorf("rbac: reset permissions of %s: %w", id, err)
	}
	s.invalidate.Invalidate(ctx, RoleInvalidation(id))
	s.logInfo("rbac role reset to defaults", slog.String("role_id", string(id)))
	return nil
}

// CreateCustomRole registers a custom role with its initial permissions.
func (s *Service) CreateCustomRole(ctx context.Context, displayName, description string, initial RolePermissionSet) (RoleID, error) {
	id, err := s.registry.CreateCustomRole(ctx, displayName, description, initial)
	if err != nil {
		return "", err
	}
	s.logInfo("rbac custom role created", slog.String("role_id", string(id)))
	return id, nil
}

// UpdateCustomRole patches a custom role.
func (s *Service) UpdateCustomRole(ctx context.Context, id RoleID, patch CustomRolePatch) error {
	return s.registry.UpdateCustomRole(ctx, id, patch)
}

// DeleteCustomRole removes an unassigned custom role.
func (s *Service) DeleteCustomRole(ctx context.Context, id RoleID) error {
	if err := s.registry.DeleteCustomRole(ctx, id); err != nil {
		return err
	}
	s.logInfo("rbac custom role deleted", slog.String("role_id", string(id)))
	return nil
}

// UserOverrides returns the stored overrides of a user, including the
// revision to pass back on save.
func (s *Service) UserOverrides(ctx context.Context, userID string) (UserOverrides, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserOverrides{}, fmt.Errorf("%w: user id required", ErrInvalidPermission)
	}
	ov, err := s.overrides.LoadOverrides(ctx, userID)
	if err != nil {
		return UserOverrides{}, fmt.Errorf("rbac: load overrides of %s: %w", userID, err)
	}
	return ov, nil
}

// SaveUserOverrides replaces the full override list of a user. A non-empty
// expectedRevision turns on optimistic concurrency.
func (s *Service) SaveUserOverrides(ctx context.Context, userID string, entries []Override, expectedRevision string) (UserOverrides, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserOverrides{}, fmt.Errorf("%w: user id required", ErrInvalidPermission)
	}
	normalized, err := ValidateOverrides(entries)
	if err != nil {
		return UserOverrides{}, err
	}
	saved, err := s.overrides.SaveOverrides(ctx, userID, normalized, expectedRevision)
	if err != nil {
		return UserOverrides{}, fmt.Errorf("rbac: save overrides of %s: %w", userID, err)
	}
	s.invalidate.Invalidate(ctx, UserInvalidation(userID))
	s.logInfo("rbac user overrides saved", slog.String("user_id", userID), slog.Int("entries", len(normalized)))
	return saved, nil
}

// SeedDefaults stores the shipped matrix of every built-in role that has no
// stored matrix yet and returns the seeded roles.
func (s *Service) SeedDefaults(ctx context.Context) ([]RoleID, error) {
	var seeded []RoleID
	for _, d := range BuiltinRoles() {
		_, err := s.roles.LoadRolePermissions(ctx, d.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return seeded, fmt.Errorf("rbac: seed %s: %w", d.ID, err)
		}
		defaults, _ := DefaultPermissions(d.ID)
		if err := s.roles.SaveRolePermissions(ctx, d.ID, defaults); err != nil {
			return seeded, fmt.Errorf("rbac: seed %s: %w", d.ID, err)
		}
		seeded = append(seeded, d.ID)
	}
	if len(seeded) > 0 {
		s.invalidate.Invalidate(ctx, AllInvalidation())
	}
	return seeded, nil
}

// InvalidateAll drops every cached entry, locally and on peers.
func (s *Service) InvalidateAll(ctx context.Context) {
	s.invalidate.Invalidate(ctx, AllInvalidation())
}

// ValidateOverrides checks modules and actions and rejects repeated pairs.
func ValidateOverrides(entries []Override) ([]Override, error) {
	seen := make(map[Pair]struct{}, len(entries))
	out := make([]Override, 0, len(entries))
	for _, e := range entries {
		if !e.Module.Valid() {
			return nil, fmt.Errorf("%w: malformed module %q", ErrInvalidPermission, e.Module)
		}
		action, err := ParseAction(string(e.Action))
		if err != nil {
			return nil, err
		}
		p := Pair{Module: e.Module, Action: action}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOverrideEntry, p)
		}
		seen[p] = struct{}{}
		out = append(out, Override{Module: e.Module, Action: action, Granted: e.Granted})
	}
	return out, nil
}

func (s *Service) requireRole(ctx context.Context, id RoleID) error {
	exists, err := s.registry.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("rbac: load role %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	return nil
}

func (s *Service) logInfo(msg string, attrs ...any) {
	if s.logger != nil {
		s.logger.Info(msg, attrs...)
	}
}

// Role returns the catalogue entry of a role.
func (s *Service) Role(ctx context.Context, id RoleID) (RoleDescriptor, error) {
	return s.registry.Describe(ctx, id)
}
