package rbac

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/flockadmin/console/internal/platform/db"
	"github.com/flockadmin/console/migrations"
)

// newTestRepository connects to TEST_PG_DSN, applies the schema and wipes
// the RBAC tables. Tests are skipped when no database is configured.
func newTestRepository(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := migrations.FS.ReadFile("0001_console_rbac.up.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `TRUNCATE users, rbac_custom_roles, rbac_role_permissions, rbac_user_overrides`)
	require.NoError(t, err)
	return NewRepository(pool), pool
}

func TestRepositoryRoleLifecycle(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.LoadRolePermissions(ctx, RoleMember)
	require.ErrorIs(t, err, ErrNotFound)

	set := RolePermissionSet{ModuleBlog: NewActionSet(ActionManage), ModuleEvents: NewActionSet(ActionView)}
	require.NoError(t, repo.SaveRolePermissions(ctx, RoleMember, set))
	got, err := repo.LoadRolePermissions(ctx, RoleMember)
	require.NoError(t, err)
	require.True(t, got.Equal(set))

	role := CustomRole{ID: "treasurer", DisplayName: "Treasurer"}
	require.NoError(t, repo.CreateCustomRole(ctx, role, RolePermissionSet{ModuleFinance: NewActionSet(ActionView)}))
	require.ErrorIs(t, repo.CreateCustomRole(ctx, role, nil), ErrDuplicateRole)

	role.Description = "Counts the offering"
	updated := RolePermissionSet{ModuleFinance: NewActionSet(ActionView, ActionUpdate)}
	require.NoError(t, repo.UpdateCustomRole(ctx, role, &updated))

	stored, err := repo.GetCustomRole(ctx, "treasurer")
	require.NoError(t, err)
	require.Equal(t, "Counts the offering", stored.Description)

	roles, err := repo.ListCustomRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)

	require.NoError(t, repo.DeleteCustomRole(ctx, "treasurer"))
	require.ErrorIs(t, repo.DeleteCustomRole(ctx, "treasurer"), ErrNotFound)
	_, err = repo.LoadRolePermissions(ctx, "treasurer")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRepositoryDeleteRefusesAssignedRole(t *testing.T) {
	repo, pool := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.CreateCustomRole(ctx, CustomRole{ID: "treasurer", DisplayName: "Treasurer"}, nil))
	_, err := pool.Exec(ctx, `INSERT INTO users (id, email, name, role_id) VALUES ('u2', 'u2@example.org', 'U2', 'treasurer')`)
	require.NoError(t, err)

	require.ErrorIs(t, repo.DeleteCustomRole(ctx, "treasurer"), ErrRoleInUse)
	_, err = repo.GetCustomRole(ctx, "treasurer")
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `UPDATE users SET role_id = 'member' WHERE id = 'u2'`)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteCustomRole(ctx, "treasurer"))
}

func TestRepositoryOverrides(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	empty, err := repo.LoadOverrides(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, empty.Entries)

	first, err := repo.SaveOverrides(ctx, "u1", []Override{{Module: ModuleBlog, Action: ActionDelete}}, "")
	require.NoError(t, err)

	loaded, err := repo.LoadOverrides(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, first.Revision, loaded.Revision)
	require.Equal(t, first.Entries, loaded.Entries)

	_, err = repo.SaveOverrides(ctx, "u1", nil, "stale")
	require.ErrorIs(t, err, ErrOverridesConflict)

	second, err := repo.SaveOverrides(ctx, "u1", nil, first.Revision)
	require.NoError(t, err)
	require.NotEqual(t, first.Revision, second.Revision)
}
