package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxRoleIDLength = 64

// Registry owns the catalogue of built-in and custom roles.
type Registry struct {
	store      RoleStore
	users      UserDirectory
	invalidate Invalidator
	logger     *slog.Logger

	// assignMu is held shared by role assignments and exclusively by
	// deletes, so the in-use check and the delete see the same users.
	assignMu sync.RWMutex
}

// NewRegistry constructs a Registry. invalidate is called after every
// successful mutation.
func NewRegistry(store RoleStore, users UserDirectory, invalidate Invalidator, logger *slog.Logger) *Registry {
	if invalidate == nil {
		invalidate = Invalidators{}
	}
	return &Registry{store: store, users: users, invalidate: invalidate, logger: logger}
}

// ListRoles returns built-in roles in their fixed order followed by custom
// roles ordered by creation time.
func (r *Registry) ListRoles(ctx context.Context) ([]RoleID, error) {
	descs, err := r.Roles(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]RoleID, len(descs))
	for i, d := range descs {
		ids[i] = d.ID
	}
	return ids, nil
}

// Roles is ListRoles with display metadata.
func (r *Registry) Roles(ctx context.Context) ([]RoleDescriptor, error) {
	custom, err := r.store.ListCustomRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: list custom roles: %w", err)
	}
	out := BuiltinRoles()
	for _, c := range custom {
		out = append(out, c.Descriptor())
	}
	return out, nil
}

// DisplayName returns a human label for id, falling back to the raw
// identifier when the role is unknown or the store cannot be reached.
func (r *Registry) DisplayName(ctx context.Context, id RoleID) string {
	if d, ok := builtinDescriptor(id); ok {
		return d.DisplayName
	}
	role, err := r.store.GetCustomRole(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && r.logger != nil {
			r.logger.Warn("rbac display name fallback", slog.String("role_id", string(id)), slog.Any("error", err))
		}
		return string(id)
	}
	if role.DisplayName == "" {
		return string(id)
	}
	return role.DisplayName
}

// Exists reports whether id names a built-in or stored custom role.
func (r *Registry) Exists(ctx context.Context, id RoleID) (bool, error) {
	if IsBuiltin(id) {
		return true, nil
	}
	if _, err := r.store.GetCustomRole(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// AssignRole runs assign while id is known to exist and cannot be deleted.
// It returns ErrRoleNotFound without calling assign for unknown roles.
func (r *Registry) AssignRole(ctx context.Context, id RoleID, assign func(context.Context) error) error {
	r.assignMu.RLock()
	defer r.assignMu.RUnlock()
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("rbac: load role %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	return assign(ctx)
}

// RolePermissions returns the effective matrix of a role.
func (r *Registry) RolePermissions(ctx context.Context, id RoleID) (RolePermissionSet, error) {
	return StoreRoleSource{Store: r.store}.RolePermissions(ctx, id)
}

// Describe returns the catalogue entry of a role.
func (r *Registry) Describe(ctx context.Context, id RoleID) (RoleDescriptor, error) {
	if d, ok := builtinDescriptor(id); ok {
		return d, nil
	}
	role, err := r.store.GetCustomRole(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return RoleDescriptor{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if err != nil {
		return RoleDescriptor{}, fmt.Errorf("rbac: load role %s: %w", id, err)
	}
	return role.Descriptor(), nil
}

// CreateCustomRole registers a new role whose identifier is derived from
// displayName and stores its initial permissions.
func (r *Registry) CreateCustomRole(ctx context.Context, displayName, description string, initial RolePermissionSet) (RoleID, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return "", ErrInvalidName
	}
	id := DeriveRoleID(displayName)
	if id == "" {
		return "", fmt.Errorf("%w: %q has no usable characters", ErrInvalidName, displayName)
	}
	if IsBuiltin(id) {
		return "", fmt.Errorf("%w: %s", ErrDuplicateRole, id)
	}
	if err := initial.Validate(); err != nil {
		return "", err
	}
	role := CustomRole{ID: id, DisplayName: displayName, Description: strings.TrimSpace(description)}
	if err := r.store.CreateCustomRole(ctx, role, initial.Clone()); err != nil {
		if errors.Is(err, ErrDuplicateRole) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateRole, id)
		}
		return "", fmt.Errorf("rbac: create role %s: %w", id, err)
	}
	r.invalidate.Invalidate(ctx, RoleInvalidation(id))
	return id, nil
}

// UpdateCustomRole applies patch to a custom role. Built-in roles are
// immutable and reported as ErrRoleNotFound.
func (r *Registry) UpdateCustomRole(ctx context.Context, id RoleID, patch CustomRolePatch) error {
	if IsBuiltin(id) {
		return fmt.Errorf("%w: %s is built in", ErrRoleNotFound, id)
	}
	role, err := r.store.GetCustomRole(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
		}
		return fmt.Errorf("rbac: load role %s: %w", id, err)
	}
	if patch.DisplayName != nil {
		name := strings.TrimSpace(*patch.DisplayName)
		if name == "" {
			return ErrInvalidName
		}
		role.DisplayName = name
	}
	if patch.Description != nil {
		role.Description = strings.TrimSpace(*patch.Description)
	}
	var set *RolePermissionSet
	if patch.Permissions != nil {
		if err := patch.Permissions.Validate(); err != nil {
			return err
		}
		clone := patch.Permissions.Clone()
		set = &clone
	}
	if err := r.store.UpdateCustomRole(ctx, role, set); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
		}
		return fmt.Errorf("rbac: update role %s: %w", id, err)
	}
	r.invalidate.Invalidate(ctx, RoleInvalidation(id))
	return nil
}

// DeleteCustomRole removes a custom role that no user is assigned to.
func (r *Registry) DeleteCustomRole(ctx context.Context, id RoleID) error {
	if IsBuiltin(id) {
		return fmt.Errorf("%w: %s", ErrCannotDeleteBuiltin, id)
	}
	r.assignMu.Lock()
	defer r.assignMu.Unlock()
	if _, err := r.store.GetCustomRole(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
		}
		return fmt.Errorf("rbac: load role %s: %w", id, err)
	}
	if r.users != nil {
		n, err := r.users.CountUsersWithRole(ctx, id)
		if err != nil {
			return fmt.Errorf("rbac: count users of %s: %w", id, wrapUnavailable(err))
		}
		if n > 0 {
			return fmt.Errorf("%w: %s has %d users", ErrRoleInUse, id, n)
		}
	}
	if err := r.store.DeleteCustomRole(ctx, id); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
		case errors.Is(err, ErrRoleInUse):
			return fmt.Errorf("%w: %s", ErrRoleInUse, id)
		}
		return fmt.Errorf("rbac: delete role %s: %w", id, err)
	}
	r.invalidate.Invalidate(ctx, RoleInvalidation(id))
	return nil
}

// DeriveRoleID turns a display name into a role identifier: accents are
// stripped, letters lower-cased and other runs collapsed to underscores.
func DeriveRoleID(displayName string) RoleID {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, displayName)
	if err != nil {
		folded = displayName
	}
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}
	id := b.String()
	if len(id) > maxRoleIDLength {
		id = strings.TrimRight(id[:maxRoleIDLength], "_")
	}
	// Identifiers must start with a letter to double as module-style keys.
	if id != "" && (id[0] < 'a' || id[0] > 'z') {
		id = "role_" + id
		if len(id) > maxRoleIDLength {
			id = strings.TrimRight(id[:maxRoleIDLength], "_")
		}
	}
	return RoleID(id)
}
