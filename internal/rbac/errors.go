package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrRoleNotFound is returned for unknown roles or attempts to edit built-in ones.
	ErrRoleNotFound = errors.New("rbac: role not found")
	// ErrDuplicateRole is returned when a derived role identifier is taken.
	ErrDuplicateRole = errors.New("rbac: duplicate role")
	// ErrInvalidName is returned for empty or unusable role display names.
	ErrInvalidName = errors.New("rbac: invalid role name")
	// ErrCannotDeleteBuiltin is returned when deleting a built-in role.
	ErrCannotDeleteBuiltin = errors.New("rbac: built-in roles cannot be deleted")
	// ErrRoleInUse is returned when deleting a role that is still assigned.
	ErrRoleInUse = errors.New("rbac: role is assigned to users")
	// ErrNoDefaultForCustomRole is returned when resetting a custom role.
	ErrNoDefaultForCustomRole = errors.New("rbac: custom roles have no default permissions")
	// ErrStorageUnavailable wraps every I/O failure of the backing store.
	ErrStorageUnavailable = errors.New("rbac: storage unavailable")
	// ErrDuplicateOverrideEntry is returned when an override list repeats a pair.
	ErrDuplicateOverrideEntry = errors.New("rbac: duplicate override entry")
	// ErrInvalidPermission is returned for malformed modules or actions.
	ErrInvalidPermission = errors.New("rbac: invalid permission")
	// ErrOverridesConflict is returned when the expected override revision is stale.
	ErrOverridesConflict = errors.New("rbac: overrides changed since last read")
)

func wrapUnavailable(err error) error {
	if err == nil || errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
