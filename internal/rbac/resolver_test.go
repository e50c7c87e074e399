package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManageImpliesDeleteWithoutOverride(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()

	d := e.resolver.Check(ctx, "u1", RoleSecretary, ModuleBlog, ActionDelete)
	require.True(t, d.Allowed)
	require.Equal(t, SourceManage, d.Rule.Source)
	require.Equal(t, RoleSecretary, d.Rule.RoleID)
}

func TestDenyOverrideBeatsManage(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()

	_, err := e.service.SaveUserOverrides(ctx, "u1", []Override{{Module: ModuleBlog, Action: ActionDelete, Granted: false}}, "")
	require.NoError(t, err)

	d := e.resolver.Check(ctx, "u1", RoleSecretary, ModuleBlog, ActionDelete)
	require.False(t, d.Allowed)
	require.Equal(t, SourceOverride, d.Rule.Source)
	require.True(t, e.resolver.HasPermission(ctx, "u1", RoleSecretary, ModuleBlog, ActionUpdate))
}

func TestCustomRoleGrantsOnlyListedActions(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()

	id, err := e.service.CreateCustomRole(ctx, "Treasurer", "Counts the offering", RolePermissionSet{
		ModuleFinance: NewActionSet(ActionView, ActionUpdate),
	})
	require.NoError(t, err)

	require.False(t, e.resolver.HasPermission(ctx, "u2", id, ModuleFinance, ActionDelete))
	require.True(t, e.resolver.HasPermission(ctx, "u2", id, ModuleFinance, ActionView))
	require.False(t, e.resolver.HasPermission(ctx, "u2", id, ModuleMembers, ActionView))
}

func TestStrippedRoleDeniesEverything(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()
	require.True(t, e.resolver.HasPermission(ctx, "u3", RoleMember, ModuleEvents, ActionView))

	require.NoError(t, e.service.SaveRolePermissions(ctx, RoleMember, RolePermissionSet{}))

	for _, m := range KnownModules() {
		for _, a := range AllActions() {
			d := e.resolver.Check(ctx, "u3", RoleMember, m, a)
			require.False(t, d.Allowed, "%s:%s", m, a)
			require.Equal(t, SourceDefaultDeny, d.Rule.Source)
		}
	}
}

func TestGrantOverrideBeatsDefaultDeny(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()
	require.False(t, e.resolver.HasPermission(ctx, "u4", RoleMember, ModuleFinance, ActionView))

	_, err := e.service.SaveUserOverrides(ctx, "u4", []Override{{Module: ModuleFinance, Action: ActionView, Granted: true}}, "")
	require.NoError(t, err)

	require.True(t, e.resolver.HasPermission(ctx, "u4", RoleMember, ModuleFinance, ActionView))
	require.False(t, e.resolver.HasPermission(ctx, "u4", RoleMember, ModuleFinance, ActionUpdate), "overrides are exact pairs")
}

func TestOverrideOnManageIsExactPair(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()
	_, err := e.service.SaveUserOverrides(ctx, "u5", []Override{{Module: ModuleFinance, Action: ActionManage, Granted: true}}, "")
	require.NoError(t, err)

	require.True(t, e.resolver.HasPermission(ctx, "u5", RoleMember, ModuleFinance, ActionManage))
	require.False(t, e.resolver.HasPermission(ctx, "u5", RoleMember, ModuleFinance, ActionDelete))
}

func TestLastOverrideEntryWins(t *testing.T) {
	ov := UserOverrides{Entries: []Override{
		{Module: ModuleBlog, Action: ActionView, Granted: true},
		{Module: ModuleBlog, Action: ActionView, Granted: false},
	}}
	o, ok := ov.Lookup(ModuleBlog, ActionView)
	require.True(t, ok)
	require.False(t, o.Granted)
}

func TestResolutionFailsClosed(t *testing.T) {
	t.Run("role store down", func(t *testing.T) {
		e := newEngine(t, fakeDirectory{})
		e.store.setFailRoles(errStoreDown)

		d := e.resolver.Check(context.Background(), "u1", RoleAdmin, ModuleSettings, ActionView)
		require.False(t, d.Allowed)
		require.Equal(t, SourceError, d.Rule.Source)
		require.Equal(t, 1, e.hook.failureCount())
	})
	t.Run("override store down", func(t *testing.T) {
		e := newEngine(t, fakeDirectory{})
		e.store.setFailUsers(errStoreDown)

		require.False(t, e.resolver.HasPermission(context.Background(), "u1", RoleAdmin, ModuleSettings, ActionView))
		require.Equal(t, []Pair{{Module: ModuleSettings, Action: ActionView}}, e.hook.failures)
		require.Equal(t, 0, e.store.roleLoadCount(RoleAdmin), "role matrix is not consulted after an override failure")
	})
	t.Run("recovers after outage", func(t *testing.T) {
		e := newEngine(t, fakeDirectory{})
		e.store.setFailRoles(errStoreDown)
		require.False(t, e.resolver.HasPermission(context.Background(), "u1", RoleAdmin, ModuleSettings, ActionView))
		e.store.setFailRoles(nil)
		require.True(t, e.resolver.HasPermission(context.Background(), "u1", RoleAdmin, ModuleSettings, ActionView))
	})
}

func TestHasAnyAndAll(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()
	view := Pair{Module: ModuleEvents, Action: ActionView}
	create := Pair{Module: ModuleEvents, Action: ActionCreate}
	finance := Pair{Module: ModuleFinance, Action: ActionView}

	assert.True(t, e.resolver.HasAnyPermission(ctx, "u1", RoleMember, finance, view))
	assert.False(t, e.resolver.HasAnyPermission(ctx, "u1", RoleMember, finance, create))
	assert.False(t, e.resolver.HasAnyPermission(ctx, "u1", RoleMember))

	assert.True(t, e.resolver.HasAllPermissions(ctx, "u1", RoleLeader, view, create))
	assert.False(t, e.resolver.HasAllPermissions(ctx, "u1", RoleMember, view, create))
	assert.True(t, e.resolver.HasAllPermissions(ctx, "u1", RoleMember))
}

func TestHasAnyStopsAtFirstAllowed(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()
	allowed := Pair{Module: ModuleEvents, Action: ActionView}
	denied := Pair{Module: ModuleFinance, Action: ActionView}

	require.True(t, e.resolver.HasAnyPermission(ctx, "u1", RoleMember, allowed, denied))
	// One override lookup and one role lookup, both misses; nothing further.
	require.Equal(t, 1, e.hook.misses[CacheUsers]+e.hook.hits[CacheUsers])

	require.False(t, e.resolver.HasAllPermissions(ctx, "u1", RoleMember, denied, allowed))
	require.Equal(t, 2, e.hook.misses[CacheUsers]+e.hook.hits[CacheUsers])
}

func TestEffectivePermissionsMatchesChecks(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	ctx := context.Background()
	_, err := e.service.SaveUserOverrides(ctx, "u1", []Override{
		{Module: ModuleBlog, Action: ActionDelete, Granted: false},
		{Module: ModuleFinance, Action: ActionView, Granted: true},
		{Module: ModuleReports, Action: ActionView, Granted: false},
	}, "")
	require.NoError(t, err)

	eff, err := e.resolver.EffectivePermissions(ctx, "u1", RoleSecretary)
	require.NoError(t, err)

	require.Equal(t, NewActionSet(ActionView, ActionCreate, ActionUpdate, ActionManage), eff[ModuleBlog])
	require.Equal(t, NewActionSet(ActionView), eff[ModuleFinance])
	_, hasReports := eff[ModuleReports]
	require.False(t, hasReports, "fully denied modules are omitted")

	for _, m := range KnownModules() {
		for _, a := range AllActions() {
			require.Equal(t, e.resolver.HasPermission(ctx, "u1", RoleSecretary, m, a), eff.Allows(m, a), "%s:%s", m, a)
		}
	}
}

func TestEffectivePermissionsReportsStorageErrors(t *testing.T) {
	e := newEngine(t, fakeDirectory{})
	e.store.setFailRoles(errStoreDown)

	_, err := e.resolver.EffectivePermissions(context.Background(), "u1", RoleMember)
	require.ErrorIs(t, err, ErrStorageUnavailable)
}
