package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/pkg/cache"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

func newRoleAssignmentFixture(records ...*models.Personnel) (*authzFixture, *RoleAssignmentService, *fakeAudit, *fakeInvalidator) {
	f := newAuthzFixture(records...)
	audit := &fakeAudit{}
	inv := &fakeInvalidator{}
	svc := NewRoleAssignmentService(f.authz, f.personnel, f.catalog, f.roles, audit, inv, nil)
	return f, svc, audit, inv
}

func TestUpdateUserRolesNormalisesAndDeduplicates(t *testing.T) {
	f, svc, audit, inv := newRoleAssignmentFixture(member("p-admin", "Atlas"), rosterOnly("p-target", "Bravo"))
	f.roles.grant("p-admin", models.RoleAdministrator)

	roles, err := svc.UpdateUserRoles(context.Background(), "p-admin", "p-target",
		[]string{"Member", "gm", "  Instructor ", "member", "quartermaster", ""})
	require.NoError(t, err)
	assert.Equal(t, []models.RoleName{models.RoleInstructor, models.RoleGameMaster, models.RoleMember}, roles)
	assert.ElementsMatch(t,
		[]string{roleID(models.RoleMember), roleID(models.RoleGameMaster), roleID(models.RoleInstructor)},
		f.roles.assignments["p-target"])
	assert.Equal(t, []string{models.AuditActionRolesReplace}, audit.actions())
	assert.Equal(t, []string{cache.Key("personnel", "*")}, inv.patterns)
}

func TestUpdateUserRolesIsFullReplace(t *testing.T) {
	f, svc, _, _ := newRoleAssignmentFixture(member("p-admin", "Atlas"), member("p-target", "Bravo"))
	f.roles.grant("p-admin", models.RoleAdministrator)
	f.roles.grant("p-target", models.RoleInstructor, models.RoleGameMaster)

	roles, err := svc.UpdateUserRoles(context.Background(), "p-admin", "p-target", []string{"member"})
	require.NoError(t, err)
	assert.Equal(t, []models.RoleName{models.RoleMember}, roles)
	assert.Equal(t, []string{roleID(models.RoleMember)}, f.roles.assignments["p-target"])

	roles, err = svc.UpdateUserRoles(context.Background(), "p-admin", "p-target", nil)
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Empty(t, f.roles.assignments["p-target"])
}

func TestUpdateUserRolesRequiresAdministrator(t *testing.T) {
	f, svc, _, _ := newRoleAssignmentFixture(member("p-inst", "Hawk"), rosterOnly("p-target", "Bravo"))
	f.roles.grant("p-inst", models.RoleInstructor)

	_, err := svc.UpdateUserRoles(context.Background(), "p-inst", "p-target", []string{"member"})
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err))
	assert.Empty(t, f.roles.assignments["p-target"])
}

func TestUpdateUserRolesUnknownTarget(t *testing.T) {
	f, svc, _, _ := newRoleAssignmentFixture(member("p-admin", "Atlas"))
	f.roles.grant("p-admin", models.RoleAdministrator)

	_, err := svc.UpdateUserRoles(context.Background(), "p-admin", "p-missing", []string{"member"})
	assert.Equal(t, appErrors.ErrPersonnelNotFound.Code, appErrors.CodeOf(err))
}

func TestUpdateUserRolesSuperAdminGuard(t *testing.T) {
	f, svc, _, _ := newRoleAssignmentFixture(
		member("p-admin", "Atlas"),
		member("p-super", "Zeus"),
		member("p-target", "Bravo"),
		member("p-other-super", "Hera"),
	)
	f.roles.grant("p-admin", models.RoleAdministrator)
	f.roles.grant("p-super", models.RoleSuperAdmin)
	f.roles.grant("p-other-super", models.RoleSuperAdmin)
	ctx := context.Background()

	_, err := svc.UpdateUserRoles(ctx, "p-admin", "p-target", []string{"superadmin"})
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err), "administrators cannot grant super_admin")

	_, err = svc.UpdateUserRoles(ctx, "p-admin", "p-other-super", []string{"member"})
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err), "administrators cannot demote a super_admin")
	assert.Equal(t, []string{roleID(models.RoleSuperAdmin)}, f.roles.assignments["p-other-super"])

	roles, err := svc.UpdateUserRoles(ctx, "p-super", "p-target", []string{"super_admin"})
	require.NoError(t, err)
	assert.Equal(t, []models.RoleName{models.RoleSuperAdmin}, roles)
}

func TestUpdateUserRolesLedgerFailure(t *testing.T) {
	f, svc, audit, _ := newRoleAssignmentFixture(member("p-admin", "Atlas"), rosterOnly("p-target", "Bravo"))
	f.roles.grant("p-admin", models.RoleAdministrator)
	f.roles.replaceErr = errors.New("deadlock detected")

	_, err := svc.UpdateUserRoles(context.Background(), "p-admin", "p-target", []string{"member"})
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.CodeOf(err))
	assert.Empty(t, audit.actions())
}

func TestListUserRoles(t *testing.T) {
	f, svc, _, _ := newRoleAssignmentFixture(member("p-admin", "Atlas"), member("p-target", "Bravo"))
	f.roles.grant("p-admin", models.RoleAdministrator)
	f.roles.grant("p-target", models.RoleMember, models.RoleInstructor)

	roles, err := svc.ListUserRoles(context.Background(), "p-admin", "p-target")
	require.NoError(t, err)
	require.Len(t, roles, 2)
	assert.Equal(t, models.RoleInstructor, roles[0].RoleName)
	assert.Equal(t, models.RoleMember, roles[1].RoleName)

	_, err = svc.ListUserRoles(context.Background(), "p-target", "p-admin")
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err))
}
