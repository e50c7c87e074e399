package rbac

import (
	"context"
	"errors"
)

// RoleStore persists role permission matrices and custom role metadata.
//
// Implementations return ErrNotFound for missing records and wrap every
// other failure in ErrStorageUnavailable.
type RoleStore interface {
	// LoadRolePermissions returns the stored matrix of a role, or ErrNotFound
	// when none has been saved yet.
	LoadRolePermissions(ctx context.Context, id RoleID) (RolePermissionSet, error)
	// SaveRolePermissions replaces the stored matrix of a role.
	SaveRolePermissions(ctx context.Context, id RoleID, set RolePermissionSet) error

	GetCustomRole(ctx context.Context, id RoleID) (CustomRole, error)
	// ListCustomRoles returns custom roles ordered by creation time.
	ListCustomRoles(ctx context.Context) ([]CustomRole, error)
	// CreateCustomRole stores the role and its initial matrix together. It
	// returns ErrDuplicateRole when the identifier is taken.
	CreateCustomRole(ctx context.Context, role CustomRole, set RolePermissionSet) error
	// UpdateCustomRole rewrites role metadata and, when set is non-nil, its
	// matrix in one write.
	UpdateCustomRole(ctx context.Context, role CustomRole, set *RolePermissionSet) error
	// DeleteCustomRole removes the role and its matrix. Stores that can see
	// user assignments return ErrRoleInUse instead of deleting an assigned
	// role.
	DeleteCustomRole(ctx context.Context, id RoleID) error
}

// OverrideStore persists per-user permission overrides.
type OverrideStore interface {
	// LoadOverrides returns the user's overrides; users without overrides get
	// an empty list, not an error.
	LoadOverrides(ctx context.Context, userID string) (UserOverrides, error)
	// SaveOverrides atomically replaces the full override list. A non-empty
	// expectedRevision must match the stored revision or ErrOverridesConflict
	// is returned and nothing is written.
	SaveOverrides(ctx context.Context, userID string, entries []Override, expectedRevision string) (UserOverrides, error)
}

// UserDirectory is the slice of user management the registry consults.
type UserDirectory interface {
	CountUsersWithRole(ctx context.Context, id RoleID) (int, error)
}

// RoleSource loads the effective matrix of a role for the cache.
type RoleSource interface {
	RolePermissions(ctx context.Context, id RoleID) (RolePermissionSet, error)
}

// StoreRoleSource resolves matrices straight from a RoleStore. Stored
// matrices win; built-in roles without one resolve to the shipped defaults
// and everything else to the empty set.
type StoreRoleSource struct {
	Store RoleStore
}

// RolePermissions implements RoleSource.
func (s StoreRoleSource) RolePermissions(ctx context.Context, id RoleID) (RolePermissionSet, error) {
	set, err := s.Store.LoadRolePermissions(ctx, id)
	if err == nil {
		return set, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if defaults, ok := DefaultPermissions(id); ok {
		return defaults, nil
	}
	return RolePermissionSet{}, nil
}
