package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRoleName(t *testing.T) {
	cases := map[string]RoleName{
		"Administrator": RoleAdministrator,
		" ADMIN ":       RoleAdministrator,
		"SuperAdmin":    RoleSuperAdmin,
		"super-admin":   RoleSuperAdmin,
		"Game Master":   RoleGameMaster,
		"gm":            RoleGameMaster,
		"GameMaster":    RoleGameMaster,
		"member":        RoleMember,
		"quartermaster": RoleName("quartermaster"),
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeRoleName(raw), raw)
	}
}

func TestRoleHierarchy(t *testing.T) {
	assert.Greater(t, RoleSuperAdmin.Level(), RoleAdministrator.Level())
	assert.Greater(t, RoleAdministrator.Level(), RoleInstructor.Level())
	assert.Greater(t, RoleInstructor.Level(), RoleGameMaster.Level())
	assert.Greater(t, RoleGameMaster.Level(), RoleMember.Level())
	assert.Zero(t, RoleName("admin").Level())
	assert.False(t, RoleName("admin").Valid())
}

func TestHighestRole(t *testing.T) {
	best, level := HighestRole([]RoleName{RoleMember, RoleInstructor, RoleGameMaster})
	assert.Equal(t, RoleInstructor, best)
	assert.Equal(t, 3, level)

	best, level = HighestRole(nil)
	assert.Empty(t, best)
	assert.Zero(t, level)

	best, level = HighestRole([]RoleName{"wizard"})
	assert.Empty(t, best)
	assert.Zero(t, level)
}

func TestDefaultRolesCoverHierarchy(t *testing.T) {
	roles := DefaultRoles()
	assert.Len(t, roles, len(roleHierarchy))
	for _, r := range roles {
		assert.True(t, r.RoleName.Valid(), r.RoleName)
		assert.NotEmpty(t, r.DisplayName)
	}
}
