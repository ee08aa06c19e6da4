package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anzac2cdo/roster-api/internal/models"
	appErrors "github.com/anzac2cdo/roster-api/pkg/errors"
)

func TestRequireAuthOutcomes(t *testing.T) {
	inactive := member("p-inactive", "Ghost")
	inactive.IsActive = boolPtr(false)
	nilFlag := member("p-nilflag", "Ember")
	nilFlag.IsActive = nil

	f := newAuthzFixture(member("p-active", "Viper"), rosterOnly("p-roster", "Kestrel"), inactive, nilFlag)
	ctx := context.Background()

	cases := []struct {
		name string
		ref  string
		code string
	}{
		{"empty", "", appErrors.ErrNotAuthenticated.Code},
		{"whitespace", "   ", appErrors.ErrNotAuthenticated.Code},
		{"unknown", "p-missing", appErrors.ErrIdentityNotFound.Code},
		{"malformed", "p active", appErrors.ErrIdentityNotFound.Code},
		{"too long", strings.Repeat("x", 200), appErrors.ErrIdentityNotFound.Code},
		{"roster only", "p-roster", appErrors.ErrNoSystemAccess.Code},
		{"login disabled", "p-inactive", appErrors.ErrInactiveAccount.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.authz.RequireAuth(ctx, tc.ref)
			require.Error(t, err)
			assert.Equal(t, tc.code, appErrors.CodeOf(err))
		})
	}

	p, err := f.authz.RequireAuth(ctx, "p-active")
	require.NoError(t, err)
	assert.Equal(t, "Viper", p.CallSign)

	_, err = f.authz.RequireAuth(ctx, "p-nilflag")
	assert.NoError(t, err, "a missing isActive flag is not a denial")
}

func TestRequireAuthPropagatesInfrastructureErrors(t *testing.T) {
	f := newAuthzFixture(member("p-1", "Viper"))
	f.personnel.findErr = errors.New("connection reset")

	_, err := f.authz.RequireAuth(context.Background(), "p-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.CodeOf(err))
}

func TestRequireRoleHierarchy(t *testing.T) {
	f := newAuthzFixture(member("p-admin", "Atlas"), member("p-member", "Bravo"), member("p-none", "Cobra"))
	f.roles.grant("p-admin", models.RoleAdministrator)
	f.roles.grant("p-member", models.RoleMember)
	ctx := context.Background()

	_, err := f.authz.RequireRole(ctx, "p-admin", models.RoleInstructor)
	assert.NoError(t, err)
	_, err = f.authz.RequireRole(ctx, "p-admin", models.RoleAdministrator)
	assert.NoError(t, err)

	_, err = f.authz.RequireRole(ctx, "p-member", models.RoleAdministrator)
	require.Error(t, err)
	var appErr *appErrors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErr.Code)
	assert.Equal(t, "requires administrator role or higher", appErr.Message)
	assert.Equal(t, "administrator", appErr.Details["requiredRole"])

	_, err = f.authz.RequireRole(ctx, "p-none", models.RoleMember)
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err), "zero assignments fail even for member")
}

func TestResolveRolesSkipsDanglingAndSortsByLevel(t *testing.T) {
	f := newAuthzFixture(member("p-1", "Viper"))
	f.roles.grant("p-1", models.RoleMember, models.RoleInstructor, models.RoleMember)
	f.roles.assignments["p-1"] = append(f.roles.assignments["p-1"], "role-deleted")

	roles, err := f.authz.ResolveRoles(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, []models.RoleName{models.RoleInstructor, models.RoleMember}, roles)
}

func TestRequireRoleIgnoresDanglingAssignments(t *testing.T) {
	f := newAuthzFixture(member("p-admin", "Atlas"), member("p-ghost", "Shade"))
	f.roles.grant("p-admin", models.RoleAdministrator)
	f.roles.assignments["p-admin"] = append(f.roles.assignments["p-admin"], "role-deleted")
	f.roles.assignments["p-ghost"] = []string{"role-deleted"}
	ctx := context.Background()

	p, err := f.authz.RequireRole(ctx, "p-admin", models.RoleAdministrator)
	require.NoError(t, err)
	assert.Equal(t, "p-admin", p.ID)

	_, err = f.authz.RequireRole(ctx, "p-ghost", models.RoleMember)
	assert.Equal(t, appErrors.ErrInsufficientRole.Code, appErrors.CodeOf(err), "only dangling rows grant nothing")
}

func TestCanAwardQualificationDecisionTree(t *testing.T) {
	disabled := member("p-disabled", "Dusk")
	disabled.IsActive = boolPtr(false)
	f := newAuthzFixture(
		member("p-super", "Zeus"),
		member("p-admin", "Atlas"),
		member("p-inst", "Hawk"),
		member("p-gm", "Loki"),
		member("p-member", "Bravo"),
		rosterOnly("p-roster", "Kestrel"),
		disabled,
	)
	f.roles.grant("p-super", models.RoleSuperAdmin)
	f.roles.grant("p-admin", models.RoleAdministrator)
	f.roles.grant("p-inst", models.RoleInstructor, models.RoleMember)
	f.roles.grant("p-gm", models.RoleGameMaster)
	f.roles.grant("p-member", models.RoleMember)
	f.roles.grant("p-roster", models.RoleAdministrator)
	f.roles.grant("p-disabled", models.RoleAdministrator)
	f.schools.scopes[scopeKey("p-inst", "sch-air")] = true
	ctx := context.Background()

	cases := []struct {
		name    string
		ref     string
		qual    string
		allowed bool
	}{
		{"super admin", "p-super", "q-medic", true},
		{"administrator", "p-admin", "q-medic", true},
		{"instructor own school", "p-inst", "q-para", true},
		{"instructor other school", "p-inst", "q-medic", false},
		{"instructor unknown qualification", "p-inst", "q-missing", false},
		{"game master", "p-gm", "q-para", false},
		{"member", "p-member", "q-para", false},
		{"roster only", "p-roster", "q-para", false},
		{"login disabled", "p-disabled", "q-para", false},
		{"unknown identity", "p-missing", "q-para", false},
		{"malformed identity", "bad ref", "q-para", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := f.authz.CanAwardQualification(ctx, tc.ref, tc.qual)
			require.NoError(t, err)
			assert.Equal(t, tc.allowed, ok)
		})
	}

	_, err := f.authz.CanAwardQualification(ctx, "", "q-para")
	assert.Equal(t, appErrors.ErrNotAuthenticated.Code, appErrors.CodeOf(err), "no bypass for an empty ref")
}

func TestCanManageSchoolScopesInstructors(t *testing.T) {
	f := newAuthzFixture(member("p-inst", "Hawk"), member("p-admin", "Atlas"))
	f.roles.grant("p-inst", models.RoleInstructor)
	f.roles.grant("p-admin", models.RoleAdministrator)
	f.schools.scopes[scopeKey("p-inst", "sch-med")] = true
	ctx := context.Background()

	ok, err := f.authz.CanManageSchool(ctx, "p-inst", "sch-med")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.authz.CanManageSchool(ctx, "p-inst", "sch-air")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.authz.CanManageSchool(ctx, "p-admin", "sch-air")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCapabilityDoesNotFoldInfrastructureErrors(t *testing.T) {
	f := newAuthzFixture(member("p-1", "Viper"))
	f.personnel.findErr = errors.New("timeout")

	ok, err := f.authz.CanManageSchool(context.Background(), "p-1", "sch-air")
	assert.False(t, ok)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.CodeOf(err))
}

func TestAuthorizationDecisionsAreCounted(t *testing.T) {
	f := newAuthzFixture(member("p-admin", "Atlas"))
	f.roles.grant("p-admin", models.RoleAdministrator)
	ctx := context.Background()

	_, _ = f.authz.RequireRole(ctx, "p-admin", models.RoleMember)
	_, _ = f.authz.RequireRole(ctx, "p-admin", models.RoleSuperAdmin)
	_, _ = f.authz.RequireAuth(ctx, "")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.authzDecisions.WithLabelValues("require_role", "allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.authzDecisions.WithLabelValues("require_role", "insufficient_role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.authzDecisions.WithLabelValues("require_auth", "not_authenticated")))
}

func TestRoleCatalogCachesAndInvalidates(t *testing.T) {
	f := newAuthzFixture()
	ctx := context.Background()

	_, err := f.catalog.GetRoleByName(ctx, models.RoleMember)
	require.NoError(t, err)
	_, err = f.catalog.GetRoleByID(ctx, roleID(models.RoleInstructor))
	require.NoError(t, err)
	assert.Equal(t, 1, f.roles.listCalls)

	_, err = f.catalog.GetRoleByName(ctx, models.RoleName("quartermaster"))
	assert.True(t, errors.Is(err, appErrors.ErrRoleNotFound))

	f.catalog.Invalidate()
	roles, err := f.catalog.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 5)
	assert.Equal(t, 2, f.roles.listCalls)
}

func TestRoleCatalogSeedDefaultsInvalidatesWhenInserting(t *testing.T) {
	f := newAuthzFixture()
	f.roles.roles = f.roles.roles[:2]
	ctx := context.Background()

	roles, err := f.catalog.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 2)

	inserted, err := f.catalog.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, inserted)

	roles, err = f.catalog.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 5)

	inserted, err = f.catalog.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Zero(t, inserted)
}
