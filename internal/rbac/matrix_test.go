package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatrixGetSetHasAction(t *testing.T) {
	m := Matrix{}
	require.True(t, m.Get(RoleSecretary, ModuleBlog).Empty(), "unknown role yields empty set")

	m.Set(RoleSecretary, ModuleBlog, NewActionSet(ActionManage))
	require.True(t, m.HasAction(RoleSecretary, ModuleBlog, ActionDelete))
	require.False(t, m.HasAction(RoleSecretary, ModuleFinance, ActionView))

	m.Set(RoleSecretary, ModuleBlog, 0)
	require.NotContains(t, m[RoleSecretary], ModuleBlog, "empty set removes the entry")

	m.Set("ghost", ModuleBlog, 0)
	require.NotContains(t, m, RoleID("ghost"))
}

func TestMatrixRoleReturnsCopy(t *testing.T) {
	m := Matrix{}
	m.Set(RoleLeader, ModuleGroups, NewActionSet(ActionView))
	set := m.Role(RoleLeader)
	set.Set(ModuleGroups, NewActionSet(ActionManage))
	require.Equal(t, NewActionSet(ActionView), m.Get(RoleLeader, ModuleGroups))
}

func TestRolePermissionSetSetOnNil(t *testing.T) {
	var set RolePermissionSet
	require.NotPanics(t, func() { set.Set(ModuleBlog, 0) })
	require.Nil(t, set)

	set.Set(ModuleBlog, NewActionSet(ActionView))
	require.True(t, set.HasAction(ModuleBlog, ActionView))
}

func TestRolePermissionSetEqualIgnoresEmptyEntries(t *testing.T) {
	a := RolePermissionSet{ModuleBlog: NewActionSet(ActionView), ModuleEvents: 0}
	b := RolePermissionSet{ModuleBlog: NewActionSet(ActionView)}
	require.True(t, a.Equal(b))
	b[ModuleBlog] = NewActionSet(ActionManage)
	require.False(t, a.Equal(b))
}

func TestRolePermissionSetValidate(t *testing.T) {
	require.NoError(t, RolePermissionSet{ModuleFinance: NewActionSet(ActionView)}.Validate())
	require.ErrorIs(t, RolePermissionSet{"Bad Module": NewActionSet(ActionView)}.Validate(), ErrInvalidPermission)

	var nilSet RolePermissionSet
	require.False(t, nilSet.HasAction(ModuleFinance, ActionView))
}
