package rbac

import "fmt"

// RolePermissionSet maps modules to the actions one role may perform.
// A missing module means no permissions on it.
type RolePermissionSet map[Module]ActionSet

// Get returns the actions granted on module.
func (s RolePermissionSet) Get(module Module) ActionSet {
	if s == nil {
		return 0
	}
	return s[module]
}

// Set replaces the actions granted on module. An empty set removes the entry.
// A nil set is allocated on first grant.
func (s *RolePermissionSet) Set(module Module, actions ActionSet) {
	if actions.Empty() {
		delete(*s, module)
		return
	}
	if *s == nil {
		*s = RolePermissionSet{}
	}
	(*s)[module] = actions
}

// HasAction applies the manage implication.
func (s RolePermissionSet) HasAction(module Module, action Action) bool {
	return s.Get(module).Allows(action)
}

// Clone returns an independent copy.
func (s RolePermissionSet) Clone() RolePermissionSet {
	out := make(RolePermissionSet, len(s))
	for m, a := range s {
		if !a.Empty() {
			out[m] = a
		}
	}
	return out
}

// Equal reports whether both sets grant exactly the same actions.
func (s RolePermissionSet) Equal(other RolePermissionSet) bool {
	a, b := s.Clone(), other.Clone()
	if len(a) != len(b) {
		return false
	}
	for m, acts := range a {
		if b[m] != acts {
			return false
		}
	}
	return true
}

// Validate rejects malformed module names.
func (s RolePermissionSet) Validate() error {
	for m := range s {
		if !m.Valid() {
			return fmt.Errorf("%w: malformed module %q", ErrInvalidPermission, m)
		}
	}
	return nil
}

// Matrix holds the permission sets of several roles. It is plain data and
// not safe for concurrent mutation.
type Matrix map[RoleID]RolePermissionSet

// Get returns the actions role may perform on module; unknown roles and
// modules yield the empty set.
func (m Matrix) Get(role RoleID, module Module) ActionSet {
	return m[role].Get(module)
}

// Set replaces the actions of role on module. An empty set removes the entry.
func (m Matrix) Set(role RoleID, module Module, actions ActionSet) {
	set, ok := m[role]
	if !ok {
		if actions.Empty() {
			return
		}
		set = RolePermissionSet{}
		m[role] = set
	}
	set.Set(module, actions)
}

// HasAction reports whether role may perform action on module.
func (m Matrix) HasAction(role RoleID, module Module, action Action) bool {
	return m.Get(role, module).Allows(action)
}

// Role returns a copy of the permission set of role.
func (m Matrix) Role(role RoleID) RolePermissionSet {
	return m[role].Clone()
}
