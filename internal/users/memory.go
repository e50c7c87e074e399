package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flockadmin/console/internal/rbac"
)

// MemoryDirectory is an in-process Directory for tests and local runs.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryDirectory returns a directory seeded with users.
func NewMemoryDirectory(users ...User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]User, len(users))}
	for _, u := range users {
		d.users[u.ID] = u
	}
	return d
}

// Put inserts or replaces a user.
func (d *MemoryDirectory) Put(u User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

// ListUsers returns users ordered by email.
func (d *MemoryDirectory) ListUsers(context.Context) ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// GetUser returns a user by id.
func (d *MemoryDirectory) GetUser(_ context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

// AssignRole changes the role of a user.
func (d *MemoryDirectory) AssignRole(_ context.Context, id string, role rbac.RoleID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.RoleID = role
	u.UpdatedAt = time.Now()
	d.users[id] = u
	return nil
}

// CountUsersWithRole implements rbac.UserDirectory.
func (d *MemoryDirectory) CountUsersWithRole(_ context.Context, role rbac.RoleID) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := 0
	for _, u := range d.users {
		if u.RoleID == role {
			n++
		}
	}
	return n, nil
}
