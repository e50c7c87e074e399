package users

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flockadmin/console/internal/rbac"
)

// hookedDirectory runs callbacks inside directory calls to interleave
// assignments with role deletes.
type hookedDirectory struct {
	*MemoryDirectory
	afterCount   func()
	beforeAssign func()
}

func (d *hookedDirectory) CountUsersWithRole(ctx context.Context, role rbac.RoleID) (int, error) {
	n, err := d.MemoryDirectory.CountUsersWithRole(ctx, role)
	if d.afterCount != nil {
		d.afterCount()
	}
	return n, err
}

func (d *hookedDirectory) AssignRole(ctx context.Context, id string, role rbac.RoleID) error {
	if d.beforeAssign != nil {
		d.beforeAssign()
	}
	return d.MemoryDirectory.AssignRole(ctx, id, role)
}

func newServiceOver(t *testing.T, dir Directory) (*Service, *rbac.Service) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := rbac.NewMemoryStore()
	cache, err := rbac.NewCache(rbac.StoreRoleSource{Store: store}, store, rbac.CacheConfig{})
	require.NoError(t, err)
	registry := rbac.NewRegistry(store, dir, cache, logger)
	perms := rbac.NewService(store, store, registry, cache, logger)
	return NewService(dir, perms, rbac.NewResolver(cache, nil, logger), logger), perms
}

func TestAssignRoleDuringDeleteCannotKeepDeletedRole(t *testing.T) {
	ctx := context.Background()
	dir := &hookedDirectory{MemoryDirectory: NewMemoryDirectory(
		User{ID: "u2", Email: "u2@example.org", RoleID: rbac.RoleMember, IsActive: true},
	)}
	svc, perms := newServiceOver(t, dir)

	id, err := perms.CreateCustomRole(ctx, "Treasurer", "", nil)
	require.NoError(t, err)

	assigned := make(chan error, 1)
	dir.afterCount = func() {
		dir.afterCount = nil
		go func() { assigned <- svc.AssignRole(ctx, "u2", id) }()
		// Give the assignment every chance to land between count and delete.
		time.Sleep(20 * time.Millisecond)
	}

	require.NoError(t, perms.DeleteCustomRole(ctx, id))

	select {
	case err := <-assigned:
		require.ErrorIs(t, err, rbac.ErrRoleNotFound)
	case <-time.After(time.Second):
		t.Fatal("assignment did not finish")
	}
	u, err := dir.GetUser(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleMember, u.RoleID)
}

func TestDeleteWaitsForInFlightAssignment(t *testing.T) {
	ctx := context.Background()
	dir := &hookedDirectory{MemoryDirectory: NewMemoryDirectory(
		User{ID: "u2", Email: "u2@example.org", RoleID: rbac.RoleMember, IsActive: true},
	)}
	svc, perms := newServiceOver(t, dir)

	id, err := perms.CreateCustomRole(ctx, "Treasurer", "", nil)
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	dir.beforeAssign = func() {
		close(entered)
		<-release
	}
	assigned := make(chan error, 1)
	go func() { assigned <- svc.AssignRole(ctx, "u2", id) }()
	<-entered

	deleted := make(chan error, 1)
	go func() { deleted <- perms.DeleteCustomRole(ctx, id) }()
	assert.Never(t, func() bool { return len(deleted) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	close(release)
	require.NoError(t, <-assigned)
	require.ErrorIs(t, <-deleted, rbac.ErrRoleInUse)

	exists, err := perms.Registry().Exists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
}
