package rbac

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps roles and overrides in process memory. It backs tests
// and single-node development setups.
type MemoryStore struct {
	mu          sync.RWMutex
	matrices    map[RoleID]RolePermissionSet
	customRoles map[RoleID]CustomRole
	overrides   map[string]UserOverrides
	now         func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		matrices:    make(map[RoleID]RolePermissionSet),
		customRoles: make(map[RoleID]CustomRole),
		overrides:   make(map[string]UserOverrides),
		now:         time.Now,
	}
}

// LoadRolePermissions implements RoleStore.
func (s *MemoryStore) LoadRolePermissions(ctx context.Context, id RoleID) (RolePermissionSet, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.matrices[id]
	if !ok {
		return nil, ErrNotFound
	}
	return set.Clone(), nil
}

// SaveRolePermissions implements RoleStore.
func (s *MemoryStore) SaveRolePermissions(ctx context.Context, id RoleID, set RolePermissionSet) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matrices[id] = set.Clone()
	return nil
}

// GetCustomRole implements RoleStore.
func (s *MemoryStore) GetCustomRole(ctx context.Context, id RoleID) (CustomRole, error) {
	if err := ctxErr(ctx); err != nil {
		return CustomRole{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.customRoles[id]
	if !ok {
		return CustomRole{}, ErrNotFound
	}
	return role, nil
}

// ListCustomRoles implements RoleStore.
func (s *MemoryStore) ListCustomRoles(ctx context.Context) ([]CustomRole, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	roles := make([]CustomRole, 0, len(s.customRoles))
	for _, r := range s.customRoles {
		roles = append(roles, r)
	}
	s.mu.RUnlock()
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].CreatedAt.Equal(roles[j].CreatedAt) {
			return roles[i].ID < roles[j].ID
		}
		return roles[i].CreatedAt.Before(roles[j].CreatedAt)
	})
	return roles, nil
}

// CreateCustomRole implements RoleStore.
func (s *MemoryStore) CreateCustomRole(ctx context.Context, role CustomRole, set RolePermissionSet) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customRoles[role.ID]; ok {
		return ErrDuplicateRole
	}
	now := s.now()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	s.customRoles[role.ID] = role
	s.matrices[role.ID] = set.Clone()
	return nil
}

// UpdateCustomRole implements RoleStore.
func (s *MemoryStore) UpdateCustomRole(ctx context.Context, role CustomRole, set *RolePermissionSet) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.customRoles[role.ID]
	if !ok {
		return ErrNotFound
	}
	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = s.now()
	s.customRoles[role.ID] = role
	if set != nil {
		s.matrices[role.ID] = set.Clone()
	}
	return nil
}

// DeleteCustomRole implements RoleStore.
func (s *MemoryStore) DeleteCustomRole(ctx context.Context, id RoleID) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.customRoles[id]; !ok {
		return ErrNotFound
	}
	delete(s.customRoles, id)
	delete(s.matrices, id)
	return nil
}

// LoadOverrides implements OverrideStore.
func (s *MemoryStore) LoadOverrides(ctx context.Context, userID string) (UserOverrides, error) {
	if err := ctxErr(ctx); err != nil {
		return UserOverrides{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.overrides[userID]
	if !ok {
		return UserOverrides{UserID: userID, Entries: []Override{}}, nil
	}
	return copyOverrides(stored), nil
}

// SaveOverrides implements OverrideStore.
func (s *MemoryStore) SaveOverrides(ctx context.Context, userID string, entries []Override, expectedRevision string) (UserOverrides, error) {
	if err := ctxErr(ctx); err != nil {
		return UserOverrides{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if expectedRevision != "" && s.overrides[userID].Revision != expectedRevision {
		return UserOverrides{}, ErrOverridesConflict
	}
	next := UserOverrides{
		UserID:    userID,
		Entries:   append([]Override(nil), entries...),
		Revision:  uuid.NewString(),
		UpdatedAt: s.now(),
	}
	if next.Entries == nil {
		next.Entries = []Override{}
	}
	s.overrides[userID] = next
	return copyOverrides(next), nil
}

func copyOverrides(in UserOverrides) UserOverrides {
	out := in
	out.Entries = append([]Override{}, in.Entries...)
	return out
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}
