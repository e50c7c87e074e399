package rbac

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveRoleID(t *testing.T) {
	cases := map[string]RoleID{
		"Treasurer":          "treasurer",
		"  Worship   Team  ": "worship_team",
		"Équipe Média":       "equipe_media",
		"Youth & Kids!":      "youth_kids",
		"2nd Service":        "role_2nd_service",
		"!!!":                "",
		"日本":                 "",
	}
	for in, want := range cases {
		assert.Equal(t, want, DeriveRoleID(in), "%q", in)
	}
	long := DeriveRoleID(strings.Repeat("ab ", 40))
	assert.LessOrEqual(t, len(long), 64)
	assert.False(t, strings.HasSuffix(string(long), "_"))
}

func TestCreateCustomRole(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()

	id, err := e.registry.CreateCustomRole(ctx, " Treasurer ", "Counts the offering", RolePermissionSet{
		ModuleFinance: NewActionSet(ActionView, ActionUpdate),
	})
	require.NoError(t, err)
	require.Equal(t, RoleID("treasurer"), id)
	require.Equal(t, "Treasurer", e.registry.DisplayName(ctx, id))

	ids, err := e.registry.ListRoles(ctx)
	require.NoError(t, err)
	require.Equal(t, []RoleID{RoleAdmin, RoleSecretary, RoleProfessional, RoleLeader, RoleMember, "treasurer"}, ids)

	set, err := e.registry.RolePermissions(ctx, id)
	require.NoError(t, err)
	require.True(t, set.HasAction(ModuleFinance, ActionUpdate))
	require.Contains(t, e.recorder.all(), RoleInvalidation(id))
}

func TestCreateCustomRoleRejections(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()

	_, err := e.registry.CreateCustomRole(ctx, "   ", "", nil)
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = e.registry.CreateCustomRole(ctx, "***", "", nil)
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = e.registry.CreateCustomRole(ctx, "Admin", "", nil)
	require.ErrorIs(t, err, ErrDuplicateRole)

	_, err = e.registry.CreateCustomRole(ctx, "Treasurer", "", nil)
	require.NoError(t, err)
	_, err = e.registry.CreateCustomRole(ctx, "treasurer!", "", nil)
	require.ErrorIs(t, err, ErrDuplicateRole)

	_, err = e.registry.CreateCustomRole(ctx, "Auditor", "", RolePermissionSet{"Not Valid": NewActionSet(ActionView)})
	require.ErrorIs(t, err, ErrInvalidPermission)
	exists, err := e.registry.Exists(ctx, "auditor")
	require.NoError(t, err)
	require.False(t, exists, "rejected role must not be stored")
}

func TestUpdateCustomRole(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()
	id, err := e.registry.CreateCustomRole(ctx, "Treasurer", "", RolePermissionSet{ModuleFinance: NewActionSet(ActionView)})
	require.NoError(t, err)

	name := "Head Treasurer"
	perms := RolePermissionSet{ModuleFinance: NewActionSet(ActionManage)}
	require.NoError(t, e.registry.UpdateCustomRole(ctx, id, CustomRolePatch{DisplayName: &name, Permissions: &perms}))
	require.Equal(t, "Head Treasurer", e.registry.DisplayName(ctx, id), "id stays stable on rename")

	set, err := e.registry.RolePermissions(ctx, id)
	require.NoError(t, err)
	require.True(t, set.HasAction(ModuleFinance, ActionDelete))

	empty := "  "
	require.ErrorIs(t, e.registry.UpdateCustomRole(ctx, id, CustomRolePatch{DisplayName: &empty}), ErrInvalidName)
	require.ErrorIs(t, e.registry.UpdateCustomRole(ctx, RoleAdmin, CustomRolePatch{DisplayName: &name}), ErrRoleNotFound)
	require.ErrorIs(t, e.registry.UpdateCustomRole(ctx, "ghost", CustomRolePatch{}), ErrRoleNotFound)
}

func TestDeleteCustomRole(t *testing.T) {
	dir := fakeDirectory{counts: map[RoleID]int{"treasurer": 2}}
	e := newEngine(t, dir)
	ctx := context.Background()
	perms := RolePermissionSet{ModuleFinance: NewActionSet(ActionView)}
	_, err := e.registry.CreateCustomRole(ctx, "Treasurer", "", perms)
	require.NoError(t, err)
	_, err = e.registry.CreateCustomRole(ctx, "Greeter", "", nil)
	require.NoError(t, err)

	require.ErrorIs(t, e.registry.DeleteCustomRole(ctx, RoleMember), ErrCannotDeleteBuiltin)
	require.ErrorIs(t, e.registry.DeleteCustomRole(ctx, "ghost"), ErrRoleNotFound)

	require.ErrorIs(t, e.registry.DeleteCustomRole(ctx, "treasurer"), ErrRoleInUse)
	set, err := e.registry.RolePermissions(ctx, "treasurer")
	require.NoError(t, err)
	require.True(t, set.Equal(perms), "in-use role keeps its matrix")

	require.NoError(t, e.registry.DeleteCustomRole(ctx, "greeter"))
	exists, err := e.registry.Exists(ctx, "greeter")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestDeleteCustomRoleDirectoryFailure(t *testing.T) {
	e := newEngine(t, fakeDirectory{err: errStoreDown})
	ctx := context.Background()
	_, err := e.registry.CreateCustomRole(ctx, "Greeter", "", nil)
	require.NoError(t, err)

	require.ErrorIs(t, e.registry.DeleteCustomRole(ctx, "greeter"), ErrStorageUnavailable)
	exists, _ := e.registry.Exists(ctx, "greeter")
	require.True(t, exists)
}

func TestDisplayNameFallsBackToID(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	require.Equal(t, "Secretary", e.registry.DisplayName(context.Background(), RoleSecretary))
	require.Equal(t, "vanished_role", e.registry.DisplayName(context.Background(), "vanished_role"))
}

func TestRolePermissionsFallsBackToDefaults(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()

	set, err := e.registry.RolePermissions(ctx, RoleMember)
	require.NoError(t, err)
	defaults, _ := DefaultPermissions(RoleMember)
	require.True(t, set.Equal(defaults))

	set, err = e.registry.RolePermissions(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, set)

	e.store.setFailRoles(errStoreDown)
	_, err = e.registry.RolePermissions(ctx, RoleMember)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}

func TestDescribe(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()
	d, err := e.registry.Describe(ctx, RoleLeader)
	require.NoError(t, err)
	require.True(t, d.BuiltIn)

	_, err = e.registry.Describe(ctx, "nobody")
	require.ErrorIs(t, err, ErrRoleNotFound)
}
